package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/trybotster/botster-core/internal/coreerrors"
	"github.com/trybotster/botster-core/internal/controller"
	"github.com/trybotster/botster-core/internal/task"
)

// adminServer exposes a running System's administrative surface (spec
// §6's CLI surface: list sessions, dump a snapshot, inspect the task
// queue, force-reset a circuit breaker) over loopback HTTP, so a separate
// hubctl invocation can reach an already-running daemon.
type adminServer struct {
	system *controller.System
}

func newAdminMux(system *controller.System) http.Handler {
	s := &adminServer{system: system}
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/sessions/", s.handleSessionSnapshot)
	mux.HandleFunc("/worktrees/", s.handleBreakerReset)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "internal"
	var ce *coreerrors.Error
	if asCoreError(err, &ce) {
		kind = string(ce.Kind)
		switch ce.Kind {
		case coreerrors.NotFound:
			status = http.StatusNotFound
		case coreerrors.Unavailable, coreerrors.CircuitOpen, coreerrors.Timeout:
			status = http.StatusConflict
		}
	}
	writeJSON(w, status, errorBody{Kind: kind, Message: err.Error()})
}

func asCoreError(err error, target **coreerrors.Error) bool {
	for err != nil {
		if ce, ok := err.(*coreerrors.Error); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (s *adminServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.system.ListSessions())
}

func (s *adminServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.system.Queue().ListTasks(task.Filter{SortBy: task.SortByPriority})
	writeJSON(w, http.StatusOK, tasks)
}

// handleSessionSnapshot serves POST /sessions/{id}/snapshot.
func (s *adminServer) handleSessionSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathSuffix(r.URL.Path, "/sessions/", "/snapshot")
	if !ok {
		http.NotFound(w, r)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	data, err := s.system.DumpSnapshot(ctx, id, 5*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleBreakerReset serves POST /worktrees/{id}/breaker/reset.
func (s *adminServer) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathSuffix(r.URL.Path, "/worktrees/", "/breaker/reset")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if err := s.system.ResetWorktreeBreaker(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathSuffix(path, prefix, suffix string) (string, bool) {
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if id == "" {
		return "", false
	}
	return id, true
}
