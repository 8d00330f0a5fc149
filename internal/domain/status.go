package domain

// ReportStatus is the lifecycle state of a ReportRequest.
type ReportStatus string

const (
	ReportPending    ReportStatus = "pending"
	ReportProcessing ReportStatus = "processing"
	ReportCompleted  ReportStatus = "completed"
	ReportFailed     ReportStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s ReportStatus) Terminal() bool {
	return s == ReportCompleted || s == ReportFailed
}

// CanTransition reports whether s -> to is a legal move.
// pending -> failed exists only for cleanup of requests that never ran.
func (s ReportStatus) CanTransition(to ReportStatus) bool {
	switch s {
	case ReportPending:
		return to == ReportProcessing || to == ReportFailed
	case ReportProcessing:
		return to == ReportCompleted || to == ReportFailed
	default:
		return false
	}
}

// ReportType is the billing variant decided at reservation time.
type ReportType string

const (
	ReportPremium ReportType = "premium"
	ReportFree    ReportType = "free"
)

// TransactionKind classifies ledger entries.
type TransactionKind string

const (
	KindUsage      TransactionKind = "usage"
	KindRefund     TransactionKind = "refund"
	KindPurchase   TransactionKind = "purchase"
	KindAdjustment TransactionKind = "adjustment"
	KindBonus      TransactionKind = "bonus"
)

// Grantable reports whether the kind can be issued through a credit grant.
func (k TransactionKind) Grantable() bool {
	return k == KindPurchase || k == KindAdjustment || k == KindBonus
}

// TransactionStatus tracks the single pending -> terminal move of a Transaction.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxRefunded  TransactionStatus = "refunded"
)

// CostKindPremiumReport is the settings key for the price of one premium report.
const CostKindPremiumReport = "premium_report"
