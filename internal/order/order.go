// Package order owns the Order and StatusHistoryEntry data model, the
// durable Postgres-backed Store, and the advisory Redis-backed Cache,
// generalized from the teacher's Wallet/Transaction repository shape
// in internal/web3 to the single Order aggregate this system drives
// through its state machine.
package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is one of the six states an order passes through.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRouting   Status = "routing"
	StatusBuilding  Status = "building"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Order is the durable record of one swap request, mutated only by the
// submission endpoint (initial insert) and the pipeline worker
// (status transitions thereafter).
type Order struct {
	ID          string
	TokenIn     string
	TokenOut    string
	Amount      decimal.Decimal
	Slippage    decimal.Decimal
	Status      Status
	Venue       *string
	TxID        *string
	ExecPrice   *decimal.Decimal
	InAmount    *decimal.Decimal
	OutAmount   *decimal.Decimal
	FailReason  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
}

// StatusHistoryEntry is one append-only row in an order's audit trail.
type StatusHistoryEntry struct {
	OrderID   string
	Status    Status
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// Patch carries the subset of fields a status transition may update.
// Only non-nil fields are applied; the zero Patch applied alongside a
// status change alone is a plain status update.
type Patch struct {
	Venue      *string
	TxID       *string
	ExecPrice  *decimal.Decimal
	InAmount   *decimal.Decimal
	OutAmount  *decimal.Decimal
	FailReason *string
	Metadata   map[string]interface{}
}

// NewFields is the caller-supplied subset of Order used at creation.
type NewFields struct {
	TokenIn  string
	TokenOut string
	Amount   decimal.Decimal
	Slippage decimal.Decimal
}
