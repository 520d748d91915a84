package models

import "time"

type BillStatus string

const (
	BillPending   BillStatus = "pending"
	BillPaid      BillStatus = "paid"
	BillOverdue   BillStatus = "overdue"
	BillCancelled BillStatus = "cancelled"
)

type Bill struct {
	ID            string     `json:"id" db:"id"`
	ClientID      string     `json:"client_id" db:"client_id"`
	Title         string     `json:"title" db:"title"`
	Company       string     `json:"company" db:"company"`
	Amount        int64      `json:"amount" db:"amount"` // in cents
	DueDate       time.Time  `json:"due_date" db:"due_date"`
	Status        BillStatus `json:"status" db:"status"`
	Category      string     `json:"category" db:"category"`
	AccountID     string     `json:"account_id,omitempty" db:"account_id"`
	EntryID       string     `json:"entry_id,omitempty" db:"entry_id"`
	Autopay       bool       `json:"autopay" db:"autopay"`
	RecurringType string     `json:"recurring_type,omitempty" db:"recurring_type"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	PaidAt        *time.Time `json:"paid_at,omitempty" db:"paid_at"`
}

// EffectiveStatus derives overdue from a pending bill whose due date has passed.
// Overdue is never stored.
func (b Bill) EffectiveStatus(now time.Time) BillStatus {
	if b.Status == BillPending && now.After(b.DueDate) {
		return BillOverdue
	}
	return b.Status
}
