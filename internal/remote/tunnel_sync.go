package remote

import (
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// nativeSyncTunnel accepts and proxies exactly one local connection at a
// time, closing the remote leg before accepting the next. It is the last
// resort in the fallback chain, used only when neither the
// OpenSSH binary nor the async native proxy could be established —
// acceptable because the Viewer's own HTTP client reuses a small,
// sequential set of connections rather than opening many concurrently.
type nativeSyncTunnel struct {
	listener net.Listener
	client   *ssh.Client
	remote   string
	log      *zap.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newNativeSyncTunnel(client *ssh.Client, remotePort int, log *zap.Logger) (*nativeSyncTunnel, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("remote: listen for sync tunnel: %w", err)
	}
	t := &nativeSyncTunnel{
		listener: listener,
		client:   client,
		remote:   fmt.Sprintf("127.0.0.1:%d", remotePort),
		log:      log.Named("remote.tunnel.sync"),
		done:     make(chan struct{}),
	}
	go t.serveLoop()
	return t, nil
}

func (t *nativeSyncTunnel) serveLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				t.log.Debug("sync tunnel accept failed", zap.Error(err))
				return
			}
		}
		t.serveOne(conn)
	}
}

func (t *nativeSyncTunnel) serveOne(local net.Conn) {
	defer local.Close()
	remote, err := t.client.Dial("tcp", t.remote)
	if err != nil {
		t.log.Debug("sync tunnel dial remote failed", zap.Error(err))
		return
	}
	defer remote.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, _ = io.Copy(remote, local) }()
	go func() { defer wg.Done(); _, _ = io.Copy(local, remote) }()
	wg.Wait()
}

func (t *nativeSyncTunnel) LocalPort() int {
	return t.listener.Addr().(*net.TCPAddr).Port
}

func (t *nativeSyncTunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return t.listener.Close()
}
