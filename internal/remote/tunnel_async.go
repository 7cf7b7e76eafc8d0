package remote

import (
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// nativeAsyncTunnel proxies an arbitrary number of concurrent local
// connections to the remote port, each on its own goroutine pair, using
// the pooled *ssh.Client directly instead of an external binary. This is
// the fallback when the OpenSSH client isn't available on the host
// running Runicorn.
type nativeAsyncTunnel struct {
	listener net.Listener
	client   *ssh.Client
	remote   string
	log      *zap.Logger

	wg     sync.WaitGroup
	closed chan struct{}
}

func newNativeAsyncTunnel(client *ssh.Client, remotePort int, log *zap.Logger) (*nativeAsyncTunnel, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("remote: listen for native tunnel: %w", err)
	}

	t := &nativeAsyncTunnel{
		listener: listener,
		client:   client,
		remote:   fmt.Sprintf("127.0.0.1:%d", remotePort),
		log:      log.Named("remote.tunnel.async"),
		closed:   make(chan struct{}),
	}
	t.wg.Add(1)
	go t.acceptLoop()
	return t, nil
}

func (t *nativeAsyncTunnel) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
				t.log.Debug("tunnel accept failed", zap.Error(err))
				return
			}
		}
		t.wg.Add(1)
		go t.proxy(conn)
	}
}

func (t *nativeAsyncTunnel) proxy(local net.Conn) {
	defer t.wg.Done()
	defer local.Close()

	remote, err := t.client.Dial("tcp", t.remote)
	if err != nil {
		t.log.Debug("tunnel dial remote failed", zap.Error(err))
		return
	}
	defer remote.Close()

	var once sync.WaitGroup
	once.Add(2)
	go func() { defer once.Done(); _, _ = io.Copy(remote, local) }()
	go func() { defer once.Done(); _, _ = io.Copy(local, remote) }()
	once.Wait()
}

func (t *nativeAsyncTunnel) LocalPort() int {
	return t.listener.Addr().(*net.TCPAddr).Port
}

func (t *nativeAsyncTunnel) Close() error {
	close(t.closed)
	err := t.listener.Close()
	t.wg.Wait()
	return err
}
