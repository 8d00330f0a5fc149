package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/punchamoorthee/reportledger/internal/domain"
	"github.com/punchamoorthee/reportledger/internal/service"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reportledger_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// ReportService is the billing flow as seen by the HTTP layer.
type ReportService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*service.SubmitResult, error)
	Report(ctx context.Context, id string) (*domain.ReportRequest, error)
	FailReport(ctx context.Context, requestID, reason string) (*service.FailResult, error)

	OpenAccount(ctx context.Context, identity string, initialCredits int64) (*domain.Account, error)
	Account(ctx context.Context, identity string) (*domain.Account, error)
	Transactions(ctx context.Context, identity string, limit int) ([]domain.Transaction, error)
	GrantCredits(ctx context.Context, identity string, g service.Grant) (*domain.Transaction, int64, error)
}

type CostSetter interface {
	SetCost(ctx context.Context, kind string, cost int64) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	svc   ReportService
	costs CostSetter
	db    Pinger
	log   zerolog.Logger
}

func NewHandler(svc ReportService, costs CostSetter, db Pinger, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, costs: costs, db: db, log: log}
}

// Router wires every endpoint onto a mux router.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestID, h.accessLog, instrument)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.Health).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/reports", h.SubmitReport).Methods("POST")
	v1.HandleFunc("/reports/{id}", h.GetReport).Methods("GET")
	v1.HandleFunc("/reports/{id}/fail", h.FailReport).Methods("POST")

	v1.HandleFunc("/accounts", h.CreateAccount).Methods("POST")
	v1.HandleFunc("/accounts/{identity}", h.GetAccount).Methods("GET")
	v1.HandleFunc("/accounts/{identity}/transactions", h.ListTransactions).Methods("GET")
	v1.HandleFunc("/accounts/{identity}/credits", h.GrantCredits).Methods("POST")

	v1.HandleFunc("/settings/costs/{kind}", h.SetCost).Methods("PUT")
	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}

// respondErr maps domain errors onto status codes.
func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := http.StatusInternalServerError, "internal error"

	switch {
	case domain.IsNotFound(err):
		code, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrIdempotencyMismatch):
		code, msg = http.StatusUnprocessableEntity, "Key reuse mismatch"
	case errors.Is(err, domain.ErrIdempotencyConflict):
		code, msg = http.StatusConflict, "Request in progress"
	case errors.Is(err, domain.ErrAccountExists),
		errors.Is(err, domain.ErrAlreadyCompleted),
		errors.Is(err, domain.ErrInvalidTransition):
		code, msg = http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidKind),
		errors.Is(err, domain.ErrInsufficientCredits):
		code, msg = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrQueueFull):
		code, msg = http.StatusTooManyRequests, "Generation queue full, credit refunded"
	case errors.Is(err, domain.ErrStorage):
		code, msg = http.StatusServiceUnavailable, "Storage unavailable"
	}

	if domain.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	if code >= 500 {
		h.log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
	}
	respondError(w, code, msg)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}
