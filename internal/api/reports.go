package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/reportledger/internal/domain"
	"github.com/punchamoorthee/reportledger/internal/service"
)

const maxBodyBytes = 64 << 10

type submitReportRequest struct {
	AccountIdentity string              `json:"account_identity"`
	Idea            domain.BusinessIdea `json:"idea"`
}

type submitReportResponse struct {
	RequestID  string              `json:"request_id"`
	ReportType domain.ReportType   `json:"report_type"`
	Status     domain.ReportStatus `json:"status"`
}

// SubmitReport reserves a credit and queues generation. Replays of an
// Idempotency-Key answer 200 with the stored request.
func (h *Handler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Stream read error")
		return
	}
	hash := sha256.Sum256(body)
	reqHash := hex.EncodeToString(hash[:])

	var req submitReportRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	res, err := h.svc.Submit(r.Context(), service.SubmitRequest{
		AccountIdentity: req.AccountIdentity,
		Idea:            req.Idea,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
		RequestHash:     reqHash,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	code := http.StatusAccepted
	if res.Replayed {
		code = http.StatusOK
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/reports/%s", res.Report.ID))
	respondJSON(w, code, submitReportResponse{
		RequestID:  res.Report.ID,
		ReportType: res.Reservation.ReportType,
		Status:     res.Report.Status,
	})
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Report(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

type failReportRequest struct {
	Reason string `json:"reason"`
}

// FailReport is the cleanup endpoint for requests whose background job was
// lost. It goes through the same finalizer guard as the worker.
func (h *Handler) FailReport(w http.ResponseWriter, r *http.Request) {
	var req failReportRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	res, err := h.svc.FailReport(r.Context(), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "database_unreachable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
