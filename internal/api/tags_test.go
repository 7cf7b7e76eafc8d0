package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/store"
)

type fakeTagRepo struct {
	byRun map[string][]string
}

func (f *fakeTagRepo) Add(ctx context.Context, runID, tag string) error {
	for _, t := range f.byRun[runID] {
		if t == tag {
			return nil
		}
	}
	f.byRun[runID] = append(f.byRun[runID], tag)
	return nil
}

func (f *fakeTagRepo) Remove(ctx context.Context, runID, tag string) error {
	tags := f.byRun[runID]
	for i, t := range tags {
		if t == tag {
			f.byRun[runID] = append(tags[:i], tags[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeTagRepo) ListForRun(ctx context.Context, runID string) ([]string, error) {
	return f.byRun[runID], nil
}

func newTagTestServer(t *testing.T, runID string) (*Server, *fakeTagRepo) {
	t.Helper()
	expRepo := &fakeExperimentRepo{byID: map[string]*store.Experiment{
		runID: {RunID: runID},
	}}
	tagRepo := &fakeTagRepo{byRun: map[string][]string{}}
	return &Server{Experiments: expRepo, Tags: tagRepo, Log: zap.NewNop()}, tagRepo
}

func tagRouter(s *Server) chi.Router {
	r := chi.NewRouter()
	r.Route("/api/runs/{id}/tags", func(r chi.Router) {
		r.Get("/", s.ListTags)
		r.Post("/", s.AddTag)
		r.Delete("/{tag}", s.RemoveTag)
	})
	return r
}

func TestAddListRemoveTag(t *testing.T) {
	runID := "20260101_000000_abcdef"
	s, _ := newTagTestServer(t, runID)
	r := tagRouter(s)

	addReq := httptest.NewRequest(http.MethodPost, "/api/runs/"+runID+"/tags/", bytes.NewBufferString(`{"tag":"baseline"}`))
	addRR := httptest.NewRecorder()
	r.ServeHTTP(addRR, addReq)
	if addRR.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body = %s", addRR.Code, addRR.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/runs/"+runID+"/tags/", nil)
	listRR := httptest.NewRecorder()
	r.ServeHTTP(listRR, listReq)
	if listRR.Code != http.StatusOK {
		t.Fatalf("list status = %d, body = %s", listRR.Code, listRR.Body.String())
	}
	if !bytes.Contains(listRR.Body.Bytes(), []byte("baseline")) {
		t.Fatalf("list body missing tag: %s", listRR.Body.String())
	}

	delReq := httptest.NewRequest(http.MethodDelete, "/api/runs/"+runID+"/tags/baseline", nil)
	delRR := httptest.NewRecorder()
	r.ServeHTTP(delRR, delReq)
	if delRR.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, body = %s", delRR.Code, delRR.Body.String())
	}
}

func TestAddTagRejectsUnknownRun(t *testing.T) {
	s, _ := newTagTestServer(t, "20260101_000000_abcdef")
	r := tagRouter(s)

	req := httptest.NewRequest(http.MethodPost, "/api/runs/20260102_000000_abcdef/tags/", bytes.NewBufferString(`{"tag":"x"}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestAddTagRejectsOversizedTag(t *testing.T) {
	s, _ := newTagTestServer(t, "20260101_000000_abcdef")
	r := tagRouter(s)

	huge := bytes.Repeat([]byte("a"), 201)
	req := httptest.NewRequest(http.MethodPost, "/api/runs/20260101_000000_abcdef/tags/", bytes.NewBufferString(`{"tag":"`+string(huge)+`"}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}
