package models

import "time"

const (
	TableAccounts = "accounts"
	TableBills    = "bills"
)

// Tombstone preserves a soft-deleted record so it can be restored once.
type Tombstone struct {
	ID         string     `json:"id" db:"id"`
	TableName  string     `json:"table_name" db:"table_name"`
	RecordID   string     `json:"record_id" db:"record_id"`
	DeletedBy  string     `json:"deleted_by" db:"deleted_by"`
	DeletedAt  time.Time  `json:"deleted_at" db:"deleted_at"`
	Reason     string     `json:"reason" db:"reason"`
	Snapshot   Metadata   `json:"snapshot" db:"snapshot"`
	CanRestore bool       `json:"can_restore" db:"can_restore"`
	RestoredBy string     `json:"restored_by,omitempty" db:"restored_by"`
	RestoredAt *time.Time `json:"restored_at,omitempty" db:"restored_at"`
}
