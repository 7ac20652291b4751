package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/rickgao/wstool/internal/connection"
	"github.com/rickgao/wstool/internal/model"
	"github.com/rickgao/wstool/internal/version"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

type testRequest struct {
	URL         string          `json:"ws_url"`
	Headers     json.RawMessage `json:"headers"`
	AuthToken   string          `json:"auth_token"`
	TestMessage string          `json:"test_message"`
}

type testResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Received  string `json:"received,omitempty"`
}

type sendRequest struct {
	ConfigID string `json:"config_id"`
	Message  string `json:"message"`
}

type subscribeRequest struct {
	ConfigID string `json:"config_id"`
}

type healthResponse struct {
	Status      string       `json:"status"`
	Version     version.Info `json:"version"`
	Connections int          `json:"connections"`
	Database    string       `json:"database,omitempty"`
}

type messagePage struct {
	Items []model.Message `json:"items"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
	Total int64           `json:"total"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := healthResponse{
		Status:      "healthy",
		Version:     version.Current(),
		Connections: s.registry.Len(),
	}

	status := http.StatusOK
	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Database = "disconnected: " + err.Error()
			status = http.StatusServiceUnavailable
		} else {
			health.Database = "connected"
		}
	}

	writeJSON(w, status, envelope{Success: status == http.StatusOK, Data: health})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.URL == "" {
		fail(w, http.StatusBadRequest, "ws_url is required")
		return
	}

	headers, err := model.HeadersFromJSON(req.Headers)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	res := s.prober.Test(r.Context(), connection.ProbeRequest{
		URL:       req.URL,
		Headers:   headers,
		AuthToken: req.AuthToken,
		Message:   req.TestMessage,
	})

	ok(w, testResponse{
		Success:   res.Success,
		Message:   res.Message,
		ElapsedMS: res.ElapsedMillis(),
		Received:  res.Received,
	}, res.Message)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ConfigID == "" {
		fail(w, http.StatusBadRequest, "config_id is required")
		return
	}

	ctx := r.Context()
	cfg, err := s.store.Get(ctx, req.ConfigID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if cfg.Kind != model.KindSender {
		fail(w, http.StatusBadRequest, fmt.Sprintf("config %s is a %s connection", cfg.ID, cfg.Kind))
		return
	}
	if req.Message == "" && cfg.MessageTemplate == "" {
		fail(w, http.StatusBadRequest, "message is required")
		return
	}

	if info, found := s.registry.Status(cfg.ID); !found || !info.IsConnected() {
		if err := s.registry.Connect(ctx, cfg); err != nil {
			s.recordFailedSend(cfg, req.Message, err)
			s.setStatus(ctx, cfg.ID, model.StatusError)
			s.writeError(w, r, err)
			return
		}
		s.setStatus(ctx, cfg.ID, model.StatusActive)
	}

	if err := s.registry.Send(ctx, cfg.ID, req.Message); err != nil {
		s.recordFailedSend(cfg, req.Message, err)
		s.writeError(w, r, err)
		return
	}

	ok(w, nil, "Message queued")
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ConfigID == "" {
		fail(w, http.StatusBadRequest, "config_id is required")
		return
	}

	cfg, err := s.store.Get(r.Context(), req.ConfigID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if cfg.Kind != model.KindSubscriber {
		fail(w, http.StatusBadRequest, fmt.Sprintf("config %s is a %s connection", cfg.ID, cfg.Kind))
		return
	}

	s.connect(w, r, cfg, "Subscribed")
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.connect(w, r, cfg, "Connection started")
}

// connect opens cfg and records the outcome as the config's status.
func (s *Server) connect(w http.ResponseWriter, r *http.Request, cfg model.ConnectionConfig, message string) {
	ctx := r.Context()
	if err := s.registry.Connect(ctx, cfg); err != nil {
		s.setStatus(ctx, cfg.ID, model.StatusError)
		s.writeError(w, r, err)
		return
	}
	s.setStatus(ctx, cfg.ID, model.StatusActive)

	info, _ := s.registry.Status(cfg.ID)
	ok(w, info, message)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx := r.Context()

	if _, err := s.store.Get(ctx, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.registry.Disconnect(ctx, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.setStatus(ctx, id, model.StatusInactive)

	ok(w, nil, "Connection stopped")
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, err := s.store.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.registry.Reconnect(ctx, cfg); err != nil {
		s.setStatus(ctx, cfg.ID, model.StatusError)
		s.writeError(w, r, err)
		return
	}
	s.setStatus(ctx, cfg.ID, model.StatusActive)

	info, _ := s.registry.Status(cfg.ID)
	ok(w, info, "Reconnected")
}

func (s *Server) handleAllStatus(w http.ResponseWriter, r *http.Request) {
	ok(w, s.registry.AllStatus(), "")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	info, found := s.registry.Status(id)
	if !found {
		fail(w, http.StatusNotFound, "no connection for "+id)
		return
	}
	ok(w, info, "")
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	q := r.URL.Query()

	page, err := intParam(q.Get("page"), 1)
	if err != nil || page < 1 {
		fail(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	limit, err := intParam(q.Get("limit"), defaultPageLimit)
	if err != nil || limit < 1 {
		fail(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	limit = min(limit, maxPageLimit)

	ctx := r.Context()
	items, err := s.store.Messages(ctx, id, limit, (page-1)*limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	total, err := s.store.CountMessages(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []model.Message{}
	}

	ok(w, messagePage{Items: items, Page: page, Limit: limit, Total: total}, "")
}

// recordFailedSend reports a send that never reached a connection.
func (s *Server) recordFailedSend(cfg model.ConnectionConfig, message string, err error) {
	if message == "" {
		message = cfg.MessageTemplate
	}
	s.sink.Record(model.Message{
		ConnectionID: cfg.ID,
		Direction:    model.DirectionSent,
		Content:      message,
		Timestamp:    s.now(),
		Status:       model.MessageFailed,
		Error:        err.Error(),
	})
}

// setStatus persists the config status, logging failures.
func (s *Server) setStatus(ctx context.Context, id string, status model.ConfigStatus) {
	if err := s.store.SetStatus(ctx, id, status); err != nil {
		s.logger.Warn("failed to update config status", "conn_id", id, "status", status, "error", err)
	}
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("not an integer")
	}
	return n, nil
}
