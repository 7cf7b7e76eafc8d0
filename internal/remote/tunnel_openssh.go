package remote

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// opensshTunnel shells out to the system's OpenSSH client with -N -L,
// the most compatible way to forward a port since it inherits whatever
// ciphers, proxy jumps, and server quirks a hand-configured `ssh` on the
// host already knows how to handle. It is tried first in the fallback
// chain.
type opensshTunnel struct {
	cmd       *exec.Cmd
	localPort int
}

// newOpenSSHTunnel starts `ssh -N -L localPort:127.0.0.1:remotePort
// user@host` with BatchMode=yes so a missing credential fails fast
// instead of blocking on an interactive prompt. No StrictHostKeyChecking
// or UserKnownHostsFile option is passed, so ssh checks the host key
// under its default policy against the invoking user's own known_hosts
// files; Runicorn's KnownHosts store is not consulted by this backend.
func newOpenSSHTunnel(ctx context.Context, opts ConnectOptions, remotePort int, log *zap.Logger) (*opensshTunnel, error) {
	if _, err := exec.LookPath("ssh"); err != nil {
		return nil, fmt.Errorf("remote: openssh binary not found: %w", err)
	}

	localPort, err := freePort()
	if err != nil {
		return nil, err
	}

	args := []string{
		"-N",
		"-L", fmt.Sprintf("127.0.0.1:%d:127.0.0.1:%d", localPort, remotePort),
		"-o", "BatchMode=yes",
		"-o", "ExitOnForwardFailure=yes",
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(opts.Timeout.Seconds())),
		"-p", portString(opts.Port),
	}
	if opts.AuthMethod == "key" && opts.PrivateKeyPath != "" {
		args = append(args, "-i", opts.PrivateKeyPath)
	}
	args = append(args, fmt.Sprintf("%s@%s", opts.User, opts.Host))

	cmd := exec.CommandContext(ctx, "ssh", args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("remote: start openssh tunnel: %w", err)
	}

	t := &opensshTunnel{cmd: cmd, localPort: localPort}
	if err := waitForListener(localPort, opts.Timeout); err != nil {
		_ = t.Close()
		return nil, err
	}
	log.Debug("openssh tunnel established", zap.Int("local_port", localPort), zap.Int("remote_port", remotePort))
	return t, nil
}

func (t *opensshTunnel) LocalPort() int { return t.localPort }

func (t *opensshTunnel) Close() error {
	if t.cmd.Process == nil {
		return nil
	}
	return t.cmd.Process.Kill()
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func waitForListener(port int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("remote: tunnel on %s did not come up within %s", addr, timeout)
}
