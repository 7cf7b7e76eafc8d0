package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/runicorn/runicorn/internal/telemetry"
)

// RouterConfig wires a Server into a fully configured chi router. Keeping
// this as a one-field struct (rather than passing *Server directly to
// NewRouter) leaves room for router-only concerns — CORS origins, a
// read-only mode flag — without growing Server itself.
type RouterConfig struct {
	Server *Server
}

// NewRouter builds the chi router health, run
// listing/detail, metrics, path-hierarchy views, recycle bin, remote
// supervisor endpoints, the debug events endpoint, and the log-tail
// websocket. Rate limiting is installed as middleware ahead of every
// route so a rejected request never reaches a handler.
func NewRouter(cfg RouterConfig) http.Handler {
	s := cfg.Server
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(s.Log))
	r.Use(middleware.Recoverer)
	if s.RateLimiter != nil {
		r.Use(s.RateLimiter.Middleware)
	}

	r.Get("/api/health", s.Health)
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/api/runs", func(r chi.Router) {
		r.Get("/", s.ListRuns)
		r.Post("/soft-delete", s.SoftDeleteRuns)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetRun)
			r.Get("/metrics", s.GetMetrics)
			r.Get("/metrics_step", s.GetMetricsByStep)
			r.Get("/events", s.GetEvents)
			r.Get("/files/*", s.DownloadFile)
			r.Get("/logs/ws", s.StreamLogs)
			r.Route("/tags", func(r chi.Router) {
				r.Get("/", s.ListTags)
				r.Post("/", s.AddTag)
				r.Delete("/{tag}", s.RemoveTag)
			})
		})
	})

	r.Get("/api/metrics/cache/stats", s.MetricsCacheStats)

	r.Route("/api/recycle-bin", func(r chi.Router) {
		r.Get("/", s.ListRecycleBin)
		r.Post("/restore", s.RestoreFromRecycleBin)
		r.Post("/empty", s.EmptyRecycleBin)
	})

	r.Route("/api/paths", func(r chi.Router) {
		r.Get("/", s.ListPaths)
		r.Get("/tree", s.PathTree)
		r.Get("/runs", s.PathRuns)
		r.Post("/soft-delete", s.PathSoftDelete)
		r.Get("/export", s.PathExport)
	})

	r.Route("/api/remote", func(r chi.Router) {
		r.Post("/connect", s.ConnectRemote)
		r.Post("/accept-host-key", s.AcceptHostKey)
		r.Get("/conda-envs", s.CondaEnvs)
		r.Get("/config", s.RemoteConfig)
		r.Route("/viewer", func(r chi.Router) {
			r.Post("/start", s.StartRemoteViewer)
			r.Post("/stop", s.StopRemoteViewer)
			r.Get("/sessions", s.ListRemoteSessions)
			r.Get("/status/{session_id}", s.RemoteSessionStatus)
		})
	})

	return r
}
