package remote

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// ConnectOptions describes the peer to dial and how to authenticate to it.
// AuthMethod selects which of the three fields is used; the others are
// ignored — a connection is never retried with a second credential.
type ConnectOptions struct {
	Host    string
	Port    int
	User    string
	Timeout time.Duration

	AuthMethod     string // "agent" | "key" | "password"
	PrivateKeyPath string
	Passphrase     string
	Password       string
}

// Connect dials host:port over SSH, verifying the server's host key
// against hk. A *HostKeyError is returned unwrapped (callers should use
// errors.As) when the key is unknown or has changed; the connection is
// never established in that case.
func Connect(opts ConnectOptions, hk *KnownHosts) (*ssh.Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	auth, err := authMethod(opts)
	if err != nil {
		return nil, err
	}

	callback, err := hk.Callback(opts.Host, opts.Port)
	if err != nil {
		return nil, fmt.Errorf("remote: build host key callback: %w", err)
	}

	cfg := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: callback,
		Timeout:         opts.Timeout,
	}

	addr := net.JoinHostPort(opts.Host, portString(opts.Port))
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		var hkErr *HostKeyError
		if errors.As(err, &hkErr) {
			return nil, hkErr
		}
		return nil, fmt.Errorf("remote: dial %s: %w", addr, err)
	}
	return client, nil
}

func authMethod(opts ConnectOptions) (ssh.AuthMethod, error) {
	switch opts.AuthMethod {
	case "agent":
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return nil, fmt.Errorf("remote: SSH_AUTH_SOCK not set, cannot use agent auth")
		}
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return nil, fmt.Errorf("remote: dial ssh-agent: %w", err)
		}
		return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil

	case "key":
		raw, err := os.ReadFile(opts.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("remote: read private key: %w", err)
		}
		var signer ssh.Signer
		if opts.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(raw, []byte(opts.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(raw)
		}
		if err != nil {
			return nil, fmt.Errorf("remote: parse private key: %w", err)
		}
		return ssh.PublicKeys(signer), nil

	case "password":
		if opts.Password == "" {
			return nil, fmt.Errorf("remote: password auth requested but no password supplied")
		}
		return ssh.Password(opts.Password), nil

	default:
		return nil, fmt.Errorf("remote: unknown auth method %q", opts.AuthMethod)
	}
}

func portString(port int) string {
	if port <= 0 {
		port = 22
	}
	return fmt.Sprintf("%d", port)
}
