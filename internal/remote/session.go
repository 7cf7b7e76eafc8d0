package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/runicorn/runicorn/internal/telemetry"
)

// healthInterval and maxHealthFailures implement : a session
// is polled on this cadence, and three consecutive failures mark it
// errored rather than silently retrying forever.
const (
	healthInterval    = 30 * time.Second
	maxHealthFailures = 3
)

// SessionStatus is the lifecycle state of a RemoteSession, mirrored in
// GET /api/remote/viewer/sessions.
type SessionStatus string

const (
	StatusStarting SessionStatus = "starting"
	StatusRunning  SessionStatus = "running"
	StatusError    SessionStatus = "error"
	StatusStopped  SessionStatus = "stopped"
)

// RemoteSession is one supervised remote Viewer process plus its tunnel,
// tracked for the lifetime of the local Runicorn process.
type RemoteSession struct {
	ID           string
	ConnectionID string
	Host         string
	Port         int
	RemotePort   int
	RemotePID    int
	LocalPort    int
	Backend      TunnelBackend

	mu              sync.Mutex
	status          SessionStatus
	lastError       string
	consecutiveFail int

	client  *ssh.Client
	tunnel  Tunnel
	release func()

	cancel context.CancelFunc
	done   chan struct{}
	log    *zap.Logger
}

// NewSession builds a RemoteSession around a freshly launched remote
// Viewer and its tunnel. The caller still has to pass it to a Registry's
// Register to start its health loop and make it visible to List/Get.
func NewSession(connectionID, host string, port, remotePort, remotePID, localPort int, backend TunnelBackend, client *ssh.Client, tunnel Tunnel, release func()) *RemoteSession {
	return &RemoteSession{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		Host:         host,
		Port:         port,
		RemotePort:   remotePort,
		RemotePID:    remotePID,
		LocalPort:    localPort,
		Backend:      backend,
		status:       StatusStarting,
		client:       client,
		tunnel:       tunnel,
		release:      release,
	}
}

// Status returns a snapshot of the session's current lifecycle state.
func (s *RemoteSession) Status() (SessionStatus, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.lastError
}

func (s *RemoteSession) setStatus(status SessionStatus, errMsg string) {
	s.mu.Lock()
	prev := s.status
	s.status = status
	s.lastError = errMsg
	s.mu.Unlock()

	if prev != "" {
		telemetry.RemoteSessions.WithLabelValues(string(prev)).Dec()
	}
	telemetry.RemoteSessions.WithLabelValues(string(status)).Inc()
}

// healthLoop probes the local end of the tunnel with a TCP dial
// (checkLocalHealth) every healthInterval, marking the session errored after
// maxHealthFailures consecutive misses. It never stops the
// remote process on its own — that is an explicit Stop() call only.
func (s *RemoteSession) healthLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := checkLocalHealth(s.LocalPort); err != nil {
				s.mu.Lock()
				s.consecutiveFail++
				fails := s.consecutiveFail
				s.mu.Unlock()

				s.log.Warn("remote session health check failed", zap.Int("consecutive_failures", fails), zap.Error(err))
				if fails >= maxHealthFailures {
					s.setStatus(StatusError, err.Error())
					return
				}
				continue
			}
			s.mu.Lock()
			s.consecutiveFail = 0
			s.mu.Unlock()
			s.setStatus(StatusRunning, "")
		}
	}
}

func checkLocalHealth(localPort int) error {
	// A plain TCP check is intentionally used instead of an HTTP round
	// trip: the tunnel itself dying is the failure mode this loop exists
	// to catch, and a TCP-level probe surfaces that immediately without
	// depending on the remote process's HTTP stack staying responsive
	// under load.
	return dialProbe(localPort, 3*time.Second)
}

// Stop ends the supervised session: it signals the health loop to exit,
// closes the local tunnel, and — unless the caller only wants the tunnel
// torn down — sends SIGTERM to the remote process, waiting up to 10s
// before escalating to SIGKILL. The remote storage root and
// any in-flight writes are never touched; Stop only ever affects the
// Viewer process itself.
func (s *RemoteSession) Stop(killRemote bool) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}

	if s.tunnel != nil {
		_ = s.tunnel.Close()
	}
	if s.release != nil {
		s.release()
	}

	if !killRemote || s.client == nil || s.RemotePID == 0 {
		s.setStatus(StatusStopped, "")
		return nil
	}

	if err := signalRemote(s.client, s.RemotePID, "TERM"); err != nil {
		s.log.Warn("failed to send SIGTERM to remote viewer", zap.Error(err))
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if !remoteProcessAlive(s.client, s.RemotePID) {
			s.setStatus(StatusStopped, "")
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}

	if err := signalRemote(s.client, s.RemotePID, "KILL"); err != nil {
		s.setStatus(StatusError, err.Error())
		return fmt.Errorf("remote: failed to kill remote viewer pid %d: %w", s.RemotePID, err)
	}
	s.setStatus(StatusStopped, "")
	return nil
}

func signalRemote(client *ssh.Client, pid int, signal string) error {
	_, err := runQuiet(client, fmt.Sprintf("kill -%s %d", signal, pid))
	return err
}

func remoteProcessAlive(client *ssh.Client, pid int) bool {
	_, err := runQuiet(client, fmt.Sprintf("kill -0 %d", pid))
	return err == nil
}

// Registry tracks every RemoteSession for the local process's lifetime,
// enforcing "at most one session per (connection_id,
// remote_port)" invariant.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*RemoteSession
	byTarget map[string]string // connectionID:remotePort -> session ID
	log      *zap.Logger
}

// NewRegistry builds an empty session registry.
func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*RemoteSession),
		byTarget: make(map[string]string),
		log:      log.Named("remote.registry"),
	}
}

func targetKey(connectionID string, remotePort int) string {
	return fmt.Sprintf("%s:%d", connectionID, remotePort)
}

// Register adds a newly launched session, starting its health loop, and
// returns ErrAlreadyRunning if the (connection, remote port) pair is
// already occupied.
func (reg *Registry) Register(id string, s *RemoteSession) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	key := targetKey(s.ConnectionID, s.RemotePort)
	if _, exists := reg.byTarget[key]; exists {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.log = reg.log.With(zap.String("session_id", id))
	s.status = StatusRunning
	telemetry.RemoteSessions.WithLabelValues(string(StatusRunning)).Inc()

	reg.sessions[id] = s
	reg.byTarget[key] = id
	go s.healthLoop(ctx)
	return nil
}

// Get returns the session for id, or ErrSessionNotFound.
func (reg *Registry) Get(id string) (*RemoteSession, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	s, ok := reg.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns every tracked session.
func (reg *Registry) List() []*RemoteSession {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]*RemoteSession, 0, len(reg.sessions))
	for _, s := range reg.sessions {
		out = append(out, s)
	}
	return out
}

// Remove stops and forgets a session.
func (reg *Registry) Remove(id string, killRemote bool) error {
	reg.mu.Lock()
	s, ok := reg.sessions[id]
	if !ok {
		reg.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(reg.sessions, id)
	delete(reg.byTarget, targetKey(s.ConnectionID, s.RemotePort))
	reg.mu.Unlock()

	return s.Stop(killRemote)
}
