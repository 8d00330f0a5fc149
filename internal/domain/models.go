package domain

import (
	"encoding/json"
	"time"
)

// Account is a user's credit wallet. Balance is a whole number of credits.
type Account struct {
	Identity  string    `json:"identity"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BusinessIdea is the user input a feasibility report is generated from.
type BusinessIdea struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Industry    string `json:"industry,omitempty"`
	Region      string `json:"region,omitempty"`
	Budget      string `json:"budget,omitempty"`
	Audience    string `json:"target_audience,omitempty"`
}

// ReportRequest is the unit of work being paid for.
type ReportRequest struct {
	ID                    string          `json:"id"`
	AccountIdentity       string          `json:"account_identity"`
	Status                ReportStatus    `json:"status"`
	ReportType            ReportType      `json:"report_type,omitempty"`
	PendingTransactionRef *string         `json:"pending_transaction_ref,omitempty"`
	Input                 BusinessIdea    `json:"input"`
	ResultPayload         json.RawMessage `json:"result_payload,omitempty"`
	Degraded              bool            `json:"degraded"`
	LastError             *string         `json:"last_error,omitempty"`
	IdempotencyKey        *string         `json:"-"`
	RequestHash           string          `json:"-"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
	FinishedAt            *time.Time      `json:"finished_at,omitempty"`
}

// Reserved reports whether the billing decision has been taken.
func (r *ReportRequest) Reserved() bool {
	return r.ReportType != ""
}

// Transaction is one entry of the ledger history.
// Once Status leaves TxPending it never changes again.
type Transaction struct {
	ID              string            `json:"id"`
	AccountIdentity string            `json:"account_identity"`
	Kind            TransactionKind   `json:"kind"`
	CreditDelta     int64             `json:"credit_delta"`
	Status          TransactionStatus `json:"status"`
	Reference       string            `json:"reference"`
	Description     string            `json:"description,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// ChargedAmount is the number of credits a usage transaction took from the account.
func (t *Transaction) ChargedAmount() int64 {
	if t.CreditDelta < 0 {
		return -t.CreditDelta
	}
	return 0
}

// AuditEntry is an append-only record of a notable event.
type AuditEntry struct {
	ID              int64           `json:"id"`
	AccountIdentity string          `json:"account_identity"`
	Event           string          `json:"event"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
