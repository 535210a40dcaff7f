package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"bridgesync/internal/bridgesync"
	"bridgesync/internal/config"
	"bridgesync/internal/domain"
	"bridgesync/internal/models"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// SyncController is the part of the scheduler facade the API drives.
type SyncController interface {
	Running() bool
	Idle() bool
	States() map[string]models.SyncState
	State(accountID string) models.SyncState
	Queued() []models.SyncTask
	MinimumPriority() int
	Dispatch(ctx context.Context, action bridgesync.Action) bool
}

// ReportWriter renders the sync status spreadsheet.
type ReportWriter interface {
	Write(ctx context.Context, w io.Writer) error
}

// HTTPServer exposes sync status and scheduling controls over HTTP.
type HTTPServer struct {
	cfg      config.APIConfig
	ctrl     SyncController
	accounts domain.AccountSource
	report   ReportWriter
	server   *http.Server
	auth     *HTTPAuth
	logger   zerolog.Logger
}

// NewHTTPServer wires the routes. report may be nil.
func NewHTTPServer(
	cfg config.APIConfig,
	ctrl SyncController,
	accounts domain.AccountSource,
	report ReportWriter,
	metricsEnabled bool,
	logger *zerolog.Logger,
) *HTTPServer {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "http").Logger()
	}
	srv := &HTTPServer{
		cfg:      cfg,
		ctrl:     ctrl,
		accounts: accounts,
		report:   report,
		auth:     NewHTTPAuth(cfg),
		logger:   l,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("GET /api/v1/sync/states", srv.handleStates)
	mux.HandleFunc("GET /api/v1/sync/states/{id}", srv.handleState)
	mux.HandleFunc("GET /api/v1/sync/queue", srv.handleQueue)
	mux.HandleFunc("GET /api/v1/sync/report.xlsx", srv.handleReport)
	mux.HandleFunc("POST /api/v1/sync/all", srv.handleSyncAll)
	mux.HandleFunc("POST /api/v1/sync/accounts", srv.handleSyncSome)
	mux.HandleFunc("POST /api/v1/sync/accounts/{id}", srv.handleSyncOne)
	mux.HandleFunc("POST /api/v1/sync/min-priority", srv.handleMinPriority)
	if metricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

type priorityRequest struct {
	Priority int `json:"priority"`
}

type accountsRequest struct {
	AccountIDs []string `json:"account_ids"`
	Priority   int      `json:"priority"`
}

type queueResponse struct {
	Idle            bool              `json:"idle"`
	Running         bool              `json:"running"`
	MinimumPriority int               `json:"minimum_priority"`
	Queued          []models.SyncTask `json:"queued"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": s.ctrl.Running(),
	})
}

func (s *HTTPServer) handleStates(w http.ResponseWriter, _ *http.Request) {
	states := s.ctrl.States()
	views := make(map[string]models.SyncStateView, len(states))
	for id, st := range states {
		views[id] = st.View()
	}
	writeJSON(w, http.StatusOK, map[string]any{"states": views})
}

func (s *HTTPServer) handleState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.accountExists(w, r, id) {
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.State(id).View())
}

func (s *HTTPServer) handleQueue(w http.ResponseWriter, _ *http.Request) {
	queued := s.ctrl.Queued()
	if queued == nil {
		queued = []models.SyncTask{}
	}
	writeJSON(w, http.StatusOK, queueResponse{
		Idle:            s.ctrl.Idle(),
		Running:         s.ctrl.Running(),
		MinimumPriority: s.ctrl.MinimumPriority(),
		Queued:          queued,
	})
}

func (s *HTTPServer) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.report == nil {
		writeError(w, http.StatusNotFound, "report export is disabled")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="sync_status.xlsx"`)
	if err := s.report.Write(r.Context(), w); err != nil {
		s.logger.Error().Err(err).Msg("failed to render report")
		writeError(w, http.StatusInternalServerError, "failed to render report")
	}
}

func (s *HTTPServer) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	var req priorityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.dispatch(w, r, bridgesync.SyncAllAccounts{Priority: req.Priority})
}

func (s *HTTPServer) handleSyncSome(w http.ResponseWriter, r *http.Request) {
	var req accountsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.AccountIDs) == 0 {
		writeError(w, http.StatusBadRequest, "account_ids is required")
		return
	}
	s.dispatch(w, r, bridgesync.SyncSomeAccounts{AccountIDs: req.AccountIDs, Priority: req.Priority})
}

func (s *HTTPServer) handleSyncOne(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req priorityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.accountExists(w, r, id) {
		return
	}
	s.dispatch(w, r, bridgesync.SyncOneAccount{AccountID: id, Priority: req.Priority})
}

func (s *HTTPServer) handleMinPriority(w http.ResponseWriter, r *http.Request) {
	var req priorityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.dispatch(w, r, bridgesync.SetSkipUnderPriority{Priority: req.Priority})
}

func (s *HTTPServer) dispatch(w http.ResponseWriter, r *http.Request, action bridgesync.Action) {
	if !s.ctrl.Dispatch(r.Context(), action) {
		writeError(w, http.StatusBadRequest, "unsupported action")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "action": action.Type()})
}

func (s *HTTPServer) accountExists(w http.ResponseWriter, r *http.Request, id string) bool {
	_, err := s.accounts.GetAccount(r.Context(), id)
	switch {
	case err == nil:
		return true
	case errors.Is(err, models.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	default:
		s.logger.Error().Err(err).Str("account_id", id).Msg("account lookup failed")
		writeError(w, http.StatusInternalServerError, "account lookup failed")
	}
	return false
}

// decodeBody accepts an empty body as the zero request.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
