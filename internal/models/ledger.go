package models

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryDeposit    EntryType = "deposit"
	EntryWithdrawal EntryType = "withdrawal"
	EntryTransfer   EntryType = "transfer"
	EntryPayment    EntryType = "payment"
	EntryFee        EntryType = "fee"
)

type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
	EntryCancelled EntryStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s EntryStatus) Terminal() bool {
	return s == EntryCompleted || s == EntryFailed || s == EntryCancelled
}

const (
	CategoryTransfer    = "Transfer"
	CategoryFee         = "Fee"
	CategoryReversal    = "Reversal"
	CategoryInterest    = "Interest"
	CategoryBillPayment = "Bill Payment"
	CategoryGeneral     = "General"
)

// LedgerEntry is one immutable movement of value into or out of an account.
// Amount is signed and in minor units (cents).
type LedgerEntry struct {
	ID               string      `json:"id" db:"id"`
	Seq              uint64      `json:"seq" db:"seq"`
	AccountID        string      `json:"account_id" db:"account_id"`
	ClientID         string      `json:"client_id" db:"client_id"`
	Type             EntryType   `json:"type" db:"type"`
	Amount           int64       `json:"amount" db:"amount"`
	Description      string      `json:"description" db:"description"`
	Category         string      `json:"category" db:"category"`
	Status           EntryStatus `json:"status" db:"status"`
	Reference        string      `json:"reference,omitempty" db:"reference"`
	CounterpartID    string      `json:"counterpart_id,omitempty" db:"counterpart_id"`
	CounterAccountID string      `json:"counter_account_id,omitempty" db:"counter_account_id"`
	ParentID         string      `json:"parent_id,omitempty" db:"parent_id"`
	FailureReason    string      `json:"failure_reason,omitempty" db:"failure_reason"`
	Metadata         Metadata    `json:"metadata,omitempty" db:"metadata"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
}

// Clone returns a copy that shares no mutable state with the receiver.
func (e LedgerEntry) Clone() LedgerEntry {
	e.Metadata = e.Metadata.Clone()
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		e.CompletedAt = &t
	}
	return e
}

// EffectiveAt is the time the entry affected the balance: completion time for
// completed entries, creation time otherwise.
func (e LedgerEntry) EffectiveAt() time.Time {
	if e.Status == EntryCompleted && e.CompletedAt != nil {
		return *e.CompletedAt
	}
	return e.CreatedAt
}

// IsDebit reports whether the entry moves value out of the account.
func (e LedgerEntry) IsDebit() bool {
	return e.Amount < 0
}

// EntryExportHeader documents the column order of EntryExportRow.
var EntryExportHeader = []string{
	"timestamp", "entry_id", "account_id", "client_id", "type", "category", "status", "amount", "reference",
}

// ExportRow renders the entry for reporting tools. Amount is in major units.
func (e LedgerEntry) ExportRow() []string {
	return []string{
		e.EffectiveAt().UTC().Format(time.RFC3339),
		e.ID,
		e.AccountID,
		e.ClientID,
		string(e.Type),
		e.Category,
		string(e.Status),
		MajorUnits(e.Amount).StringFixed(2),
		e.Reference,
	}
}

// MaxAmount bounds a single movement, in cents.
const MaxAmount int64 = 100_000_000_000_000

// AddCents adds two amounts and reports false on int64 overflow.
func AddCents(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

// MajorUnits converts cents to a decimal amount.
func MajorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// FormatCents renders cents as a plain integer string.
func FormatCents(cents int64) string {
	return strconv.FormatInt(cents, 10)
}
