// Copyright 2026 The Aether Frame Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the assistant over HTTP: synchronous task
// execution, live SSE streams, and the interaction back-channel for
// tool approvals.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/aetherframe/aether/pkg/assistant"
	"github.com/aetherframe/aether/pkg/config"
	"github.com/aetherframe/aether/pkg/contracts"
	"github.com/aetherframe/aether/pkg/observability"
	"github.com/aetherframe/aether/pkg/stream"
)

// Server is the HTTP surface of the assistant.
type Server struct {
	cfg       config.ServerConfig
	assistant *assistant.Assistant
	obs       *observability.Manager

	httpServer *http.Server

	mu   sync.Mutex
	live map[string]stream.Communicator
}

// New creates a server. The observability manager may be nil; metrics
// then degrade to no-ops.
func New(cfg config.ServerConfig, a *assistant.Assistant, obs *observability.Manager) *Server {
	if obs == nil {
		obs = observability.NewManager(observability.Config{})
	}
	return &Server{
		cfg:       cfg,
		assistant: a,
		obs:       obs,
		live:      make(map[string]stream.Communicator),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.Middleware(s.obs.Metrics()))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.obs.Metrics().Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/tasks", s.handleTask)
		r.Post("/tasks/live", s.handleLiveTask)
		r.Post("/tasks/{taskID}/interactions", s.handleInteraction)
		r.Post("/tasks/{taskID}/messages", s.handleUserMessage)
	})
	return r
}

// Start runs the server until the context is cancelled or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      s.Routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.cfg.Address())
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.assistant.HealthCheck(r.Context()))
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTask(w, r)
	if !ok {
		return
	}

	result, err := s.assistant.ProcessRequest(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleLiveTask streams chunks as server-sent events. The stream stays
// open until the final chunk or client disconnect; tool approvals
// arrive through the interactions endpoint.
func (s *Server) handleLiveTask(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTask(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sess, comm, err := s.assistant.StartLiveSession(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.registerLive(req.TaskID, comm)
	defer s.unregisterLive(req.TaskID)
	defer sess.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case chunk, open := <-sess.Chunks():
			if !open {
				return
			}
			s.obs.Metrics().RecordStreamChunk(string(chunk.ChunkType))
			data, err := json.Marshal(chunk)
			if err != nil {
				slog.Warn("Chunk marshal failed", "task_id", req.TaskID, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: chunk\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	comm, ok := s.liveSession(taskID)
	if !ok {
		writeError(w, http.StatusNotFound, "no live session for task "+taskID)
		return
	}

	var resp contracts.InteractionResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		writeError(w, http.StatusBadRequest, "invalid interaction response: "+err.Error())
		return
	}
	if err := comm.SendUserResponse(&resp); err != nil {
		status := http.StatusConflict
		if errors.Is(err, stream.ErrInteractionNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleUserMessage(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	comm, ok := s.liveSession(taskID)
	if !ok {
		writeError(w, http.StatusNotFound, "no live session for task "+taskID)
		return
	}

	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
		writeError(w, http.StatusBadRequest, "message text is required")
		return
	}
	if err := comm.SendUserMessage(body.Text); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) registerLive(taskID string, comm stream.Communicator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[taskID] = comm
}

func (s *Server) unregisterLive(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, taskID)
}

func (s *Server) liveSession(taskID string) (stream.Communicator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	comm, ok := s.live[taskID]
	return comm, ok
}

func decodeTask(w http.ResponseWriter, r *http.Request) (*contracts.TaskRequest, bool) {
	var req contracts.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid task request: "+err.Error())
		return nil, false
	}
	if req.TaskID == "" {
		req.TaskID = "task_" + uuid.NewString()
	}
	if req.TaskType == "" {
		req.TaskType = "chat"
	}
	if req.Description == "" && len(req.Messages) > 0 {
		req.Description = req.Messages[len(req.Messages)-1].Text()
	}
	return &req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
