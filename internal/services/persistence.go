package services

import (
	"context"

	"github.com/ruralpay/ledgercore/internal/models"
)

// EntryPersister writes ledger entries and the balance deltas they cause in
// one database transaction.
type EntryPersister interface {
	SaveEntries(ctx context.Context, entries []models.LedgerEntry, deltas map[string]int64) error
}

type AccountPersister interface {
	SaveAccount(ctx context.Context, account models.Account) error
	DeleteAccount(ctx context.Context, id string) error
}

type BillPersister interface {
	SaveBill(ctx context.Context, bill models.Bill) error
	DeleteBill(ctx context.Context, id string) error
}

type TombstonePersister interface {
	SaveTombstone(ctx context.Context, tombstone models.Tombstone) error
}
