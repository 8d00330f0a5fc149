package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/reportledger/internal/domain"
	"github.com/punchamoorthee/reportledger/internal/service"
)

type createAccountRequest struct {
	Identity       string `json:"identity"`
	InitialCredits int64  `json:"initial_credits"`
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	acc, err := h.svc.OpenAccount(r.Context(), req.Identity, req.InitialCredits)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/accounts/"+acc.Identity)
	respondJSON(w, http.StatusCreated, acc)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.svc.Account(r.Context(), mux.Vars(r)["identity"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, acc)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.svc.Transactions(r.Context(), mux.Vars(r)["identity"], queryInt(r, "limit"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"transactions": txns})
}

type grantRequest struct {
	Kind        domain.TransactionKind `json:"kind"`
	Amount      int64                  `json:"amount"`
	Reference   string                 `json:"reference"`
	Description string                 `json:"description"`
}

type grantResponse struct {
	Transaction *domain.Transaction `json:"transaction"`
	Balance     int64               `json:"balance"`
}

func (h *Handler) GrantCredits(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	txn, balance, err := h.svc.GrantCredits(r.Context(), mux.Vars(r)["identity"], service.Grant{
		Kind:        req.Kind,
		Amount:      req.Amount,
		Reference:   req.Reference,
		Description: req.Description,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, grantResponse{Transaction: txn, Balance: balance})
}

type setCostRequest struct {
	Cost int64 `json:"cost"`
}

func (h *Handler) SetCost(w http.ResponseWriter, r *http.Request) {
	var req setCostRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	kind := mux.Vars(r)["kind"]
	if err := h.costs.SetCost(r.Context(), kind, req.Cost); err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"kind": kind, "cost": req.Cost})
}
