// Package api binds the order actions to HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"order-automation-go/internal/automation"
	"order-automation-go/internal/condition"
	"order-automation-go/internal/config"
	"order-automation-go/internal/order"
)

const maxBodyBytes = 1 << 20

// Server provides an HTTP interface for the order engine.
type Server struct {
	server    *http.Server
	router    *mux.Router
	actions   *automation.Actions
	logger    *zap.Logger
	startTime time.Time
}

// NewServer creates a Server listening on cfg.Port.
func NewServer(cfg config.Server, actions *automation.Actions, logger *zap.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		actions:   actions,
		logger:    logger.Named("api-server"),
		startTime: time.Now(),
	}
	s.setupRoutes()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           c.Handler(s.router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Owner actions
	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.handleDeleteOrder).Methods(http.MethodDelete)
	api.HandleFunc("/orders/{id}/activate", s.handleActivate).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/pause", s.handlePause).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	// Flow runtime callbacks
	api.HandleFunc("/orders/{id}/status", s.handleUpdateStatus).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/snapshot", s.handlePrepareSnapshot).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/evaluate", s.handleEvaluate).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/executions", s.handleRecordExecution).Methods(http.MethodPost)

	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the CORS-wrapped router.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

type createRequest struct {
	Type   order.Type      `json:"type"`
	Params json.RawMessage `json:"params"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !s.decode(w, r, &req) {
		return
	}
	res := s.actions.Create(r.Context(), req.Type, req.Params)
	if res.Success {
		s.respond(w, http.StatusCreated, res)
		return
	}
	s.respondResult(w, res)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		s.respond(w, http.StatusBadRequest, automation.Result{Error: err.Error()})
		return
	}
	s.respondResult(w, s.actions.List(r.Context(), f))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	s.respondResult(w, s.actions.Get(r.Context(), mux.Vars(r)["id"]))
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	s.respondResult(w, s.actions.Delete(r.Context(), mux.Vars(r)["id"]))
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	s.respondResult(w, s.actions.Activate(r.Context(), mux.Vars(r)["id"]))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.respondResult(w, s.actions.Pause(r.Context(), mux.Vars(r)["id"]))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.respondResult(w, s.actions.Cancel(r.Context(), mux.Vars(r)["id"]))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondResult(w, s.actions.Stats(r.Context()))
}

type statusRequest struct {
	Status order.Status `json:"status"`
	Error  string       `json:"error"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respondResult(w, s.actions.UpdateStatus(r.Context(), mux.Vars(r)["id"], req.Status, req.Error))
}

type snapshotRequest struct {
	NodeID   string             `json:"nodeId"`
	Snapshot condition.Snapshot `json:"snapshot"`
}

func (s *Server) handlePrepareSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respondResult(w, s.actions.PrepareSnapshot(r.Context(), mux.Vars(r)["id"], req.Snapshot))
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respondResult(w, s.actions.Evaluate(r.Context(), mux.Vars(r)["id"], req.NodeID, req.Snapshot))
}

func (s *Server) handleRecordExecution(w http.ResponseWriter, r *http.Request) {
	s.respondResult(w, s.actions.RecordExecution(r.Context(), mux.Vars(r)["id"]))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := struct {
		StartTime string `json:"start_time"`
		Uptime    string `json:"uptime"`
	}{
		StartTime: s.startTime.Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
	}
	s.respond(w, http.StatusOK, automation.Result{Success: true, Data: status})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// parseFilter reads status, type and token (repeated or comma separated)
// plus offset and limit from the query string.
func parseFilter(r *http.Request) (automation.Filter, error) {
	q := r.URL.Query()
	var f automation.Filter
	for _, s := range splitValues(q["status"]) {
		st := order.Status(s)
		if !st.Valid() {
			return f, fmt.Errorf("unknown status %q", s)
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, s := range splitValues(q["type"]) {
		t := order.Type(s)
		if !t.Valid() {
			return f, fmt.Errorf("unknown order type %q", s)
		}
		f.Types = append(f.Types, t)
	}
	f.Tokens = splitValues(q["token"])

	var err error
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		return f, fmt.Errorf("invalid offset: %w", err)
	}
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		return f, fmt.Errorf("invalid limit: %w", err)
	}
	return f, nil
}

func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return n, nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respond(w, http.StatusBadRequest, automation.Result{Error: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

func (s *Server) respondResult(w http.ResponseWriter, res automation.Result) {
	status := http.StatusOK
	switch res.Kind {
	case automation.KindInvalid:
		status = http.StatusBadRequest
	case automation.KindNotFound:
		status = http.StatusNotFound
	case automation.KindConflict:
		status = http.StatusConflict
	case automation.KindInternal:
		status = http.StatusInternalServerError
	}
	s.respond(w, status, res)
}

func (s *Server) respond(w http.ResponseWriter, status int, res automation.Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}
