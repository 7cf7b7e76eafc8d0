package remote

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// KnownHosts is Runicorn's private OpenSSH-format host-key database,
// consulted instead of the OS user's ~/.ssh/known_hosts so strict
// host-key checking cannot be silently satisfied by an operator's
// unrelated SSH config.
type KnownHosts struct {
	mu   sync.Mutex
	path string
}

// NewKnownHosts opens (creating an empty file if necessary) the
// known_hosts store at path.
func NewKnownHosts(path string) (*KnownHosts, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("remote: mkdir known_hosts parent: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, nil, 0o600); err != nil {
			return nil, fmt.Errorf("remote: create known_hosts: %w", err)
		}
	}
	return &KnownHosts{path: path}, nil
}

// Callback builds an ssh.HostKeyCallback that verifies against the store
// and returns a *HostKeyError (never a bare knownhosts error) describing
// exactly what the client needs to render a confirmation prompt and POST
// to /api/remote/accept-host-key.
func (k *KnownHosts) Callback(host string, port int) (ssh.HostKeyCallback, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	inner, err := knownhosts.New(k.path)
	if err != nil {
		return nil, fmt.Errorf("remote: parse known_hosts: %w", err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		err := inner(addr, remote, key)
		if err == nil {
			return nil
		}

		hkErr := &HostKeyError{
			Host:              host,
			Port:              port,
			KeyType:           key.Type(),
			FingerprintSHA256: sha256Fingerprint(key),
			PublicKey:         base64.StdEncoding.EncodeToString(key.Marshal()),
			Reason:            "unknown",
		}

		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) > 0 {
			hkErr.Reason = "changed"
			want := keyErr.Want[0].Key
			hkErr.ExpectedFingerprintSHA256 = sha256Fingerprint(want)
			hkErr.ExpectedPublicKey = base64.StdEncoding.EncodeToString(want.Marshal())
		}
		return hkErr
	}, nil
}

// Accept appends a confirmed host key to the store, keyed on the exact
// (host, port) address the client confirmed. Which of several entries
// for one host wins a lookup is not guaranteed by the upstream format,
// so Accept first rewrites the file with any prior entries for this
// address stripped, then appends the new one.
func (k *KnownHosts) Accept(host string, port int, keyType, publicKeyB64 string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	raw, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return fmt.Errorf("remote: decode public key: %w", err)
	}
	pubKey, err := ssh.ParsePublicKey(raw)
	if err != nil {
		return fmt.Errorf("remote: parse public key: %w", err)
	}

	addr := knownhosts.Normalize(net.JoinHostPort(host, strconv.Itoa(port)))
	line := knownhosts.Line([]string{addr}, pubKey)

	existing, err := os.ReadFile(k.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remote: read known_hosts: %w", err)
	}

	kept := filterOutAddress(existing, addr)
	kept = append(kept, []byte(line+"\n")...)

	tmp := k.path + ".tmp"
	if err := os.WriteFile(tmp, kept, 0o600); err != nil {
		return fmt.Errorf("remote: write known_hosts: %w", err)
	}
	if err := os.Rename(tmp, k.path); err != nil {
		return fmt.Errorf("remote: rename known_hosts into place: %w", err)
	}
	return nil
}

func filterOutAddress(data []byte, addr string) []byte {
	var kept []byte
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		fields := splitFields(string(line))
		if len(fields) > 0 && fields[0] == addr {
			continue
		}
		kept = append(kept, line...)
		kept = append(kept, '\n')
	}
	return kept
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

func splitFields(s string) []string {
	var fields []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\t' {
			if start >= 0 {
				fields = append(fields, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, s[start:])
	}
	return fields
}

func sha256Fingerprint(key ssh.PublicKey) string {
	sum := sha256.Sum256(key.Marshal())
	return "SHA256:" + base64.RawStdEncoding.EncodeToString(sum[:])
}
