package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/runfs"
)

// RequestLogger returns a chi-compatible middleware that logs each
// request using the provided zap logger: method, path, status, and
// latency. chi's middleware.RequestID is expected to run before this
// middleware so the request ID is available in the context.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// validRunID reports whether id matches run_id charset.
func validRunID(id string) bool {
	return runfs.RunIDPattern.MatchString(id)
}

// validPath reports whether p matches the path/project/name charset
// shared by Run.Path and path-hierarchy query parameters, is within the
// length limit, and is not rooted (a leading "/" would otherwise read as
// an absolute filesystem path once joined onto the storage root).
func validPath(p string) bool {
	if p == "" {
		return true
	}
	if len(p) > 200 {
		return false
	}
	if strings.HasPrefix(p, "/") {
		return false
	}
	return runfs.PathPattern.MatchString(p)
}
