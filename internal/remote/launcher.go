package remote

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// LaunchOptions describes the remote Viewer process to start.
type LaunchOptions struct {
	Connect     ConnectOptions
	StorageRoot string
	RemotePort  int // 0 selects an ephemeral port in the configured range
	PortRangeLo int
	PortRangeHi int
}

// LaunchResult is everything a caller needs to start talking to the
// freshly launched remote Viewer through its local tunnel.
type LaunchResult struct {
	RemotePort int
	RemotePID  int
	Tunnel     Tunnel
	Backend    TunnelBackend
}

// Launch starts a `runicorn viewer` process on the remote host over
// client, selects a port from the configured range if none was given,
// polls the remote process's health endpoint until it responds, and then
// establishes a local tunnel to it, trying each backend in // fallback order until one succeeds.
func Launch(ctx context.Context, client *ssh.Client, opts LaunchOptions, log *zap.Logger) (*LaunchResult, error) {
	log = log.Named("remote.launcher")

	port := opts.RemotePort
	if port == 0 {
		var err error
		port, err = selectRemotePort(client, opts.PortRangeLo, opts.PortRangeHi)
		if err != nil {
			return nil, err
		}
	}

	pid, err := startRemoteProcess(client, opts.StorageRoot, port)
	if err != nil {
		return nil, fmt.Errorf("remote: start remote viewer: %w", err)
	}

	if err := pollRemoteHealth(client, port, 30*time.Second); err != nil {
		return nil, fmt.Errorf("remote: remote viewer did not become healthy: %w", err)
	}

	tunnel, backend, err := openTunnel(ctx, client, opts.Connect, port, log)
	if err != nil {
		return nil, err
	}

	return &LaunchResult{RemotePort: port, RemotePID: pid, Tunnel: tunnel, Backend: backend}, nil
}

// selectRemotePort asks the remote host to try up to 50 random ports in
// [lo, hi), binding each on 127.0.0.1, and reports the first one that
// could be bound. The probe socket is closed again before the Viewer
// starts, so the port is not reserved against another process.
func selectRemotePort(client *ssh.Client, lo, hi int) (int, error) {
	if lo <= 0 || hi <= 0 || hi < lo {
		lo, hi = 49152, 65000
	}
	cmd := fmt.Sprintf(
		`python3 -c "import socket,random` + "\n" +
			`lo,hi=%d,%d` + "\n" +
			`for p in random.sample(range(lo,hi), min(50,hi-lo)):` + "\n" +
			` s=socket.socket()` + "\n" +
			` try:` + "\n" +
			`  s.bind(('127.0.0.1', p)); print(p); s.close(); break` + "\n" +
			` except OSError: continue` + "\n" +
			`"`,
		lo, hi,
	)
	out, err := runQuiet(client, cmd)
	if err != nil {
		return 0, fmt.Errorf("remote: select port: %w", err)
	}
	var port int
	if _, scanErr := fmt.Sscanf(strings.TrimSpace(out), "%d", &port); scanErr != nil || port == 0 {
		return 0, fmt.Errorf("remote: could not parse selected port from %q", out)
	}
	return port, nil
}

// startRemoteProcess launches the remote Viewer detached from the SSH
// session (nohup plus a background &) so it keeps running after this exec session
// closes, redirecting its own stdout/stderr to a log file under the
// remote storage root.
func startRemoteProcess(client *ssh.Client, storageRoot string, port int) (int, error) {
	sess, err := client.NewSession()
	if err != nil {
		return 0, err
	}
	defer sess.Close()

	logPath := strings.TrimSuffix(storageRoot, "/") + "/.runicorn-remote.log"
	cmd := fmt.Sprintf(
		`nohup runicorn viewer --storage %s --port %d --host 127.0.0.1 >%s 2>&1 & echo $!`,
		shellQuote(storageRoot), port, shellQuote(logPath),
	)

	var stdout bytes.Buffer
	sess.Stdout = &stdout
	if err := sess.Run(cmd); err != nil {
		return 0, err
	}

	var pid int
	if _, err := fmt.Sscanf(strings.TrimSpace(stdout.String()), "%d", &pid); err != nil {
		return 0, fmt.Errorf("remote: could not parse remote pid from %q: %w", stdout.String(), err)
	}
	return pid, nil
}

// pollRemoteHealth opens a short-lived tunnel purely to poll the remote
// /api/health endpoint, backing off between attempts, until it responds
// or timeout elapses.
func pollRemoteHealth(client *ssh.Client, remotePort int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	backoff := 250 * time.Millisecond
	const maxBackoff = 3 * time.Second

	for time.Now().Before(deadline) {
		conn, err := client.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", remotePort))
		if err == nil {
			req, _ := http.NewRequest(http.MethodGet, "http://127.0.0.1/api/health", nil)
			if werr := req.Write(conn); werr == nil {
				resp, rerr := http.ReadResponse(bufio.NewReader(conn), req)
				if rerr == nil {
					resp.Body.Close()
					conn.Close()
					if resp.StatusCode == http.StatusOK {
						return nil
					}
				}
			}
			conn.Close()
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return fmt.Errorf("remote: health check timed out after %s", timeout)
}

// openTunnel tries each backend in priority order, returning the first
// one that succeeds.
func openTunnel(ctx context.Context, client *ssh.Client, connOpts ConnectOptions, remotePort int, log *zap.Logger) (Tunnel, TunnelBackend, error) {
	if t, err := newOpenSSHTunnel(ctx, connOpts, remotePort, log); err == nil {
		return t, BackendOpenSSH, nil
	} else {
		log.Debug("openssh tunnel backend unavailable, falling back", zap.Error(err))
	}

	if t, err := newNativeAsyncTunnel(client, remotePort, log); err == nil {
		return t, BackendNativeAsync, nil
	} else {
		log.Debug("native async tunnel backend failed, falling back", zap.Error(err))
	}

	t, err := newNativeSyncTunnel(client, remotePort, log)
	if err != nil {
		return nil, 0, &ErrAllBackendsFailed{Last: err}
	}
	return t, BackendNativeSync, nil
}
