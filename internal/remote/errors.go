// Package remote implements the SSH-backed supervisor: connecting to a
// peer host, verifying its key against Runicorn's own known_hosts
// store, launching a remote Viewer process, and proxying
// to it through a local TCP tunnel.
package remote

import "fmt"

// HostKeyError is returned by Connect when the remote host's key is
// unknown or has changed since it was last recorded. The HTTP layer
// renders this as 409 HOST_KEY_CONFIRMATION_REQUIRED.
type HostKeyError struct {
	Host                      string `json:"host"`
	Port                      int    `json:"port"`
	KeyType                   string `json:"key_type"`
	FingerprintSHA256         string `json:"fingerprint_sha256"`
	PublicKey                 string `json:"public_key"`
	Reason                    string `json:"reason"` // "unknown" | "changed"
	ExpectedFingerprintSHA256 string `json:"expected_fingerprint_sha256,omitempty"`
	ExpectedPublicKey         string `json:"expected_public_key,omitempty"`
}

func (e *HostKeyError) Error() string {
	return fmt.Sprintf("remote: host key confirmation required for %s:%d (%s)", e.Host, e.Port, e.Reason)
}

// ErrSessionNotFound is returned when a session ID does not name a known
// RemoteSession.
var ErrSessionNotFound = fmt.Errorf("remote: session not found")

// ErrAlreadyRunning is returned by Registry.Register when a (connection_id,
// remote_port) pair already has a session, enforcing "at
// most one remote Viewer per (connection_id, remote_port)" invariant.
var ErrAlreadyRunning = fmt.Errorf("remote: a viewer is already running on that connection and port")
