package remote

import "fmt"

// Tunnel forwards a local TCP port to a port on the remote host for the
// lifetime of a RemoteSession. Implementations differ in how they move
// bytes (shelling out to the OpenSSH client, or proxying natively over
// the pooled ssh.Client), but all three present the same shape so
// launcher.go can fall back from one to the next without special-casing
// the caller.
type Tunnel interface {
	// LocalPort is the local TCP port traffic should be sent to.
	LocalPort() int
	// Close tears the tunnel down, releasing the local port.
	Close() error
}

// TunnelBackend names the fallback charequires: the real
// OpenSSH client first (most compatible with exotic server
// configurations), then a native async proxy, then a native
// single-connection proxy as a last resort.
type TunnelBackend int

const (
	BackendOpenSSH TunnelBackend = iota
	BackendNativeAsync
	BackendNativeSync
)

func (b TunnelBackend) String() string {
	switch b {
	case BackendOpenSSH:
		return "openssh"
	case BackendNativeAsync:
		return "native-async"
	case BackendNativeSync:
		return "native-sync"
	default:
		return "unknown"
	}
}

// ErrAllBackendsFailed wraps the last backend's error once every entry in
// the fallback chain has been tried.
type ErrAllBackendsFailed struct {
	Last error
}

func (e *ErrAllBackendsFailed) Error() string {
	return fmt.Sprintf("remote: all tunnel backends failed, last error: %v", e.Last)
}

func (e *ErrAllBackendsFailed) Unwrap() error { return e.Last }
