package api

import (
	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/blobstore"
	"github.com/runicorn/runicorn/internal/config"
	"github.com/runicorn/runicorn/internal/metrics"
	"github.com/runicorn/runicorn/internal/ratelimit"
	"github.com/runicorn/runicorn/internal/remote"
	"github.com/runicorn/runicorn/internal/runfs"
	"github.com/runicorn/runicorn/internal/store"
	"github.com/runicorn/runicorn/internal/watcher"
)

// Server holds every dependency the HTTP handlers need. It carries no
// package-level state of its own — "no implicit module-level
// state" rule applies to the API layer exactly as it does to the engine
// and the SQLite pool, so every handler reads from this explicit struct
// instead of a global.
type Server struct {
	Experiments store.ExperimentRepository
	MetricRows  store.MetricRepository
	Tags        store.TagRepository
	Engine      *metrics.Engine
	Blobs       *blobstore.Store
	RecycleBin  *watcher.RecycleBin
	Root        runfs.StorageRoot

	KnownHosts  *remote.KnownHosts
	Pool        *remote.Pool
	Sessions    *remote.Registry
	Connections *remote.ConnectionRegistry

	Config      *config.Config
	RateLimiter *ratelimit.Limiter

	Log *zap.Logger
}

// NewServer wires a Server from its dependencies.
func NewServer(
	experiments store.ExperimentRepository,
	metricRows store.MetricRepository,
	tags store.TagRepository,
	engine *metrics.Engine,
	blobs *blobstore.Store,
	recycleBin *watcher.RecycleBin,
	root runfs.StorageRoot,
	knownHosts *remote.KnownHosts,
	pool *remote.Pool,
	sessions *remote.Registry,
	connections *remote.ConnectionRegistry,
	cfg *config.Config,
	rateLimiter *ratelimit.Limiter,
	log *zap.Logger,
) *Server {
	return &Server{
		Experiments: experiments,
		MetricRows:  metricRows,
		Tags:        tags,
		Engine:      engine,
		Blobs:       blobs,
		RecycleBin:  recycleBin,
		Root:        root,
		KnownHosts:  knownHosts,
		Pool:        pool,
		Sessions:    sessions,
		Connections: connections,
		Config:      cfg,
		RateLimiter: rateLimiter,
		Log:         log.Named("api"),
	}
}

// runLayout resolves a run's Layout given its Experiment row.
func (s *Server) runLayout(exp *store.Experiment) runfs.Layout {
	return runfs.New(exp.RunDir)
}
