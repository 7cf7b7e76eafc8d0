package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/remote"
)

type remoteConnectRequest struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	User           string `json:"user"`
	AuthMethod     string `json:"auth_method"`
	PrivateKeyPath string `json:"private_key_path,omitempty"`
	Passphrase     string `json:"passphrase,omitempty"`
	Password       string `json:"password,omitempty"`
}

func (req remoteConnectRequest) connectOptions() remote.ConnectOptions {
	return remote.ConnectOptions{
		Host:           req.Host,
		Port:           req.Port,
		User:           req.User,
		Timeout:        10 * time.Second,
		AuthMethod:     req.AuthMethod,
		PrivateKeyPath: req.PrivateKeyPath,
		Passphrase:     req.Passphrase,
		Password:       req.Password,
	}
}

// writeHostKeyError renders a *remote.HostKeyError as 409
// HOST_KEY_CONFIRMATION_REQUIRED with the key details the client needs to
// show the user a confirmation prompt.
func writeHostKeyError(w http.ResponseWriter, hkErr *remote.HostKeyError) {
	errJSON(w, http.StatusConflict, hkErr.Error(), "HOST_KEY_CONFIRMATION_REQUIRED", hkErr)
}

// ConnectRemote answers POST /api/remote/connect: dials the peer over
// SSH, verifying its host key against Runicorn's own known_hosts store,
// and registers the confirmed connection for reuse by connection_id.
func (s *Server) ConnectRemote(w http.ResponseWriter, r *http.Request) {
	var req remoteConnectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Host == "" || req.User == "" {
		ErrBadRequest(w, "host and user are required")
		return
	}

	opts := req.connectOptions()
	client, release, err := s.Pool.Acquire(opts, s.KnownHosts)
	if err != nil {
		var hkErr *remote.HostKeyError
		if errors.As(err, &hkErr) {
			writeHostKeyError(w, hkErr)
			return
		}
		s.Log.Warn("remote connect failed", zap.String("host", req.Host), zap.Error(err))
		ErrBadRequest(w, "connection failed: "+err.Error())
		return
	}
	_ = client
	release()

	conn := s.Connections.Add(opts)
	Created(w, map[string]any{"connection_id": conn.ID, "host": opts.Host, "port": opts.Port, "user": opts.User})
}

type acceptHostKeyRequest struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	KeyType   string `json:"key_type"`
	PublicKey string `json:"public_key"`
}

// AcceptHostKey answers POST /api/remote/accept-host-key: records the
// presented key in Runicorn's known_hosts store so a retried connect
// succeeds.
func (s *Server) AcceptHostKey(w http.ResponseWriter, r *http.Request) {
	var req acceptHostKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Host == "" || req.KeyType == "" || req.PublicKey == "" {
		ErrBadRequest(w, "host, key_type and public_key are required")
		return
	}
	if err := s.KnownHosts.Accept(req.Host, req.Port, req.KeyType, req.PublicKey); err != nil {
		s.Log.Error("accept host key failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, map[string]any{"accepted": true})
}

func (s *Server) connectionOrNotFound(w http.ResponseWriter, r *http.Request) (*remote.Connection, bool) {
	id := r.URL.Query().Get("connection_id")
	if id == "" {
		id = chi.URLParam(r, "connection_id")
	}
	if id == "" {
		ErrBadRequest(w, "connection_id is required")
		return nil, false
	}
	conn, err := s.Connections.Get(id)
	if err != nil {
		ErrNotFound(w, "connection not found")
		return nil, false
	}
	return conn, true
}

// CondaEnvs answers GET /api/remote/conda-envs?connection_id=: the
// remote Python toolchain discovered by probing over the pooled SSH
// connection.
func (s *Server) CondaEnvs(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.connectionOrNotFound(w, r)
	if !ok {
		return
	}

	client, release, err := s.Pool.Acquire(conn.Opts, s.KnownHosts)
	if err != nil {
		s.Log.Warn("conda-envs: acquire failed", zap.Error(err))
		ErrBadRequest(w, "connection failed: "+err.Error())
		return
	}
	defer release()

	probe, err := remote.Probe(client)
	if err != nil {
		s.Log.Error("probe failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, probe)
}

// RemoteConfig answers GET /api/remote/config?connection_id=: echoes back
// the connection's target (host, port, user), used by the client to
// pre-fill the viewer-start form. It does not probe the remote
// environment; CondaEnvs does that.
func (s *Server) RemoteConfig(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.connectionOrNotFound(w, r)
	if !ok {
		return
	}
	Ok(w, map[string]any{
		"host": conn.Opts.Host,
		"port": conn.Opts.Port,
		"user": conn.Opts.User,
	})
}

type viewerStartRequest struct {
	ConnectionID string `json:"connection_id"`
	StorageRoot  string `json:"storage_root"`
	RemotePort   int    `json:"remote_port,omitempty"`
	PortRangeLo  int    `json:"port_range_lo,omitempty"`
	PortRangeHi  int    `json:"port_range_hi,omitempty"`
}

// StartRemoteViewer answers POST /api/remote/viewer/start: launches a
// `runicorn viewer` process on the remote host and opens a local tunnel
// to it, registering the result as a supervised RemoteSession.
func (s *Server) StartRemoteViewer(w http.ResponseWriter, r *http.Request) {
	var req viewerStartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ConnectionID == "" || req.StorageRoot == "" {
		ErrBadRequest(w, "connection_id and storage_root are required")
		return
	}

	conn, err := s.Connections.Get(req.ConnectionID)
	if err != nil {
		ErrNotFound(w, "connection not found")
		return
	}

	client, release, err := s.Pool.Acquire(conn.Opts, s.KnownHosts)
	if err != nil {
		s.Log.Warn("viewer start: acquire failed", zap.Error(err))
		ErrBadRequest(w, "connection failed: "+err.Error())
		return
	}

	loRange, hiRange := req.PortRangeLo, req.PortRangeHi
	if loRange == 0 && hiRange == 0 {
		loRange, hiRange = 20000, 21000
	}
	result, err := remote.Launch(r.Context(), client, remote.LaunchOptions{
		Connect:     conn.Opts,
		StorageRoot: req.StorageRoot,
		RemotePort:  req.RemotePort,
		PortRangeLo: loRange,
		PortRangeHi: hiRange,
	}, s.Log)
	if err != nil {
		release()
		s.Log.Error("viewer launch failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	session := remote.NewSession(
		req.ConnectionID,
		conn.Opts.Host,
		conn.Opts.Port,
		result.RemotePort,
		result.RemotePID,
		result.Tunnel.LocalPort(),
		result.Backend,
		client,
		result.Tunnel,
		release,
	)

	if err := s.Sessions.Register(session.ID, session); err != nil {
		_ = session.Stop(true)
		if errors.Is(err, remote.ErrAlreadyRunning) {
			errJSON(w, http.StatusConflict, "a viewer is already running on that connection and port", "ALREADY_RUNNING", nil)
			return
		}
		s.Log.Error("session register failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	Created(w, map[string]any{
		"session_id":  session.ID,
		"local_port":  session.LocalPort,
		"remote_port": session.RemotePort,
		"remote_pid":  session.RemotePID,
		"backend":     session.Backend.String(),
	})
}

type viewerStopRequest struct {
	SessionID   string `json:"session_id"`
	KillRemote  bool   `json:"kill_remote"`
}

// StopRemoteViewer answers POST /api/remote/viewer/stop: tears down the
// tunnel and, if requested, signals the remote process to exit.
func (s *Server) StopRemoteViewer(w http.ResponseWriter, r *http.Request) {
	var req viewerStopRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		ErrBadRequest(w, "session_id is required")
		return
	}
	if err := s.Sessions.Remove(req.SessionID, req.KillRemote); err != nil {
		if errors.Is(err, remote.ErrSessionNotFound) {
			ErrNotFound(w, "session not found")
			return
		}
		s.Log.Warn("stop viewer failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, map[string]any{"stopped": req.SessionID})
}

type sessionView struct {
	ID          string `json:"id"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	RemotePort  int    `json:"remote_port"`
	RemotePID   int    `json:"remote_pid"`
	LocalPort   int    `json:"local_port"`
	Backend     string `json:"backend"`
	Status      string `json:"status"`
	LastError   string `json:"last_error,omitempty"`
}

func toSessionView(sess *remote.RemoteSession) sessionView {
	status, lastErr := sess.Status()
	return sessionView{
		ID:         sess.ID,
		Host:       sess.Host,
		Port:       sess.Port,
		RemotePort: sess.RemotePort,
		RemotePID:  sess.RemotePID,
		LocalPort:  sess.LocalPort,
		Backend:    sess.Backend.String(),
		Status:     string(status),
		LastError:  lastErr,
	}
}

// ListRemoteSessions answers GET /api/remote/viewer/sessions.
func (s *Server) ListRemoteSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.Sessions.List()
	out := make([]sessionView, len(sessions))
	for i, sess := range sessions {
		out[i] = toSessionView(sess)
	}
	Ok(w, map[string]any{"sessions": out})
}

// RemoteSessionStatus answers GET /api/remote/viewer/status/{session_id}.
func (s *Server) RemoteSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	sess, err := s.Sessions.Get(id)
	if err != nil {
		ErrNotFound(w, "session not found")
		return
	}
	Ok(w, toSessionView(sess))
}
