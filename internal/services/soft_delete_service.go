package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/ledgercore/internal/models"
	"go.uber.org/zap"
)

// RecordOwner is a store whose records can be soft-deleted and restored.
type RecordOwner interface {
	Table() string
	Snapshot(recordID string) (models.Metadata, error)
	Remove(ctx context.Context, recordID string) error
	Restore(ctx context.Context, snapshot models.Metadata) error
}

// SoftDeleteService moves records into tombstones and back. A tombstone can
// be restored exactly once.
type SoftDeleteService struct {
	mu         sync.Mutex
	tombstones map[string]*models.Tombstone
	owners     map[string]RecordOwner
	audit      *AuditService
	persister  TombstonePersister
	logger     *zap.Logger
	now        func() time.Time
}

func NewSoftDeleteService(audit *AuditService, persister TombstonePersister, logger *zap.Logger, owners ...RecordOwner) *SoftDeleteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SoftDeleteService{
		tombstones: make(map[string]*models.Tombstone),
		owners:     make(map[string]RecordOwner),
		audit:      audit,
		persister:  persister,
		logger:     logger.With(zap.String("component", "SoftDelete")),
		now:        time.Now,
	}
	for _, o := range owners {
		s.owners[o.Table()] = o
	}
	return s
}

func (s *SoftDeleteService) owner(table string) (RecordOwner, error) {
	o, ok := s.owners[table]
	if !ok {
		return nil, fmt.Errorf("unknown table %q: %w", table, ErrInvalidRequest)
	}
	return o, nil
}

// Delete snapshots the record, removes it from its store and keeps a
// restorable tombstone.
func (s *SoftDeleteService) Delete(ctx context.Context, id models.Identity, table, recordID, reason string) (models.Tombstone, error) {
	if !id.IsAdmin() {
		return models.Tombstone{}, ErrForbidden
	}
	o, err := s.owner(table)
	if err != nil {
		return models.Tombstone{}, err
	}
	snapshot, err := o.Snapshot(recordID)
	if err != nil {
		return models.Tombstone{}, err
	}
	if err := o.Remove(ctx, recordID); err != nil {
		return models.Tombstone{}, err
	}

	ts := models.Tombstone{
		ID:         uuid.New().String(),
		TableName:  table,
		RecordID:   recordID,
		DeletedBy:  id.UserID,
		DeletedAt:  s.now().UTC(),
		Reason:     reason,
		Snapshot:   snapshot,
		CanRestore: true,
	}
	if s.persister != nil {
		if err := s.persister.SaveTombstone(ctx, ts); err != nil {
			if rerr := o.Restore(ctx, snapshot); rerr != nil {
				s.logger.Error("Failed to put record back after tombstone write failed",
					zap.String("table", table), zap.String("record_id", recordID), zap.Error(rerr))
			}
			return models.Tombstone{}, fmt.Errorf("failed to save tombstone: %w", err)
		}
	}

	s.mu.Lock()
	t := ts
	s.tombstones[ts.ID] = &t
	s.mu.Unlock()

	s.audit.RecordAction(id, deleteAction(table), table, recordID, models.OutcomeSuccess,
		models.Metadata{"tombstone_id": ts.ID, "reason": reason})
	return ts, nil
}

func deleteAction(table string) string {
	switch table {
	case models.TableAccounts:
		return "account_deleted"
	case models.TableBills:
		return "bill_deleted"
	}
	return "record_deleted"
}

// Restore re-inserts the snapshot. A tombstone already restored returns
// ErrNotRestorable and nothing changes.
func (s *SoftDeleteService) Restore(ctx context.Context, id models.Identity, tombstoneID string) (models.Tombstone, error) {
	if !id.IsAdmin() {
		return models.Tombstone{}, ErrForbidden
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tombstones[tombstoneID]
	if !ok {
		return models.Tombstone{}, fmt.Errorf("tombstone %s: %w", tombstoneID, ErrRecordNotFound)
	}
	if !t.CanRestore {
		return models.Tombstone{}, fmt.Errorf("tombstone %s: %w", tombstoneID, ErrNotRestorable)
	}
	o, err := s.owner(t.TableName)
	if err != nil {
		return models.Tombstone{}, err
	}

	updated := *t
	now := s.now().UTC()
	updated.CanRestore = false
	updated.RestoredBy = id.UserID
	updated.RestoredAt = &now
	if s.persister != nil {
		if err := s.persister.SaveTombstone(ctx, updated); err != nil {
			return models.Tombstone{}, fmt.Errorf("failed to save tombstone: %w", err)
		}
	}
	if err := o.Restore(ctx, t.Snapshot); err != nil {
		if s.persister != nil {
			if perr := s.persister.SaveTombstone(ctx, *t); perr != nil {
				s.logger.Error("Failed to roll back tombstone", zap.String("tombstone_id", t.ID), zap.Error(perr))
			}
		}
		return models.Tombstone{}, err
	}
	*t = updated

	s.audit.RecordAction(id, "record_restored", t.TableName, t.RecordID, models.OutcomeSuccess,
		models.Metadata{"tombstone_id": t.ID})
	return updated, nil
}

func (s *SoftDeleteService) Get(id models.Identity, tombstoneID string) (models.Tombstone, error) {
	if !id.IsAdmin() {
		return models.Tombstone{}, ErrForbidden
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tombstones[tombstoneID]
	if !ok {
		return models.Tombstone{}, fmt.Errorf("tombstone %s: %w", tombstoneID, ErrRecordNotFound)
	}
	return *t, nil
}

// ListDeleted returns tombstones for table (all tables when empty), newest first.
func (s *SoftDeleteService) ListDeleted(id models.Identity, table string) ([]models.Tombstone, error) {
	if !id.IsAdmin() {
		return nil, ErrForbidden
	}
	s.mu.Lock()
	out := make([]models.Tombstone, 0, len(s.tombstones))
	for _, t := range s.tombstones {
		if table == "" || t.TableName == table {
			out = append(out, *t)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DeletedAt.Equal(out[j].DeletedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].DeletedAt.After(out[j].DeletedAt)
	})
	return out, nil
}

// Load replaces the tombstones with hydrated records.
func (s *SoftDeleteService) Load(tombstones []models.Tombstone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tombstones = make(map[string]*models.Tombstone, len(tombstones))
	for i := range tombstones {
		t := tombstones[i]
		s.tombstones[t.ID] = &t
	}
}

// AccountRecords adapts the account store for soft deletion. Only closed
// accounts with a zero balance may be removed.
type AccountRecords struct {
	store  *AccountStore
	locker *AccountLocker
}

func NewAccountRecords(store *AccountStore, locker *AccountLocker) *AccountRecords {
	return &AccountRecords{store: store, locker: locker}
}

func (a *AccountRecords) Table() string { return models.TableAccounts }

func (a *AccountRecords) Snapshot(recordID string) (models.Metadata, error) {
	acct, err := a.store.Get(recordID)
	if err != nil {
		return nil, err
	}
	return models.ToMetadata(acct)
}

func (a *AccountRecords) Remove(ctx context.Context, recordID string) error {
	unlock := a.locker.Lock(recordID)
	defer unlock()

	acct, err := a.store.Get(recordID)
	if err != nil {
		return err
	}
	if acct.Status != models.AccountClosed || acct.Balance != 0 {
		return fmt.Errorf("account %s must be closed with zero balance: %w", recordID, ErrInvalidState)
	}
	_, err = a.store.Remove(ctx, recordID)
	return err
}

func (a *AccountRecords) Restore(ctx context.Context, snapshot models.Metadata) error {
	var acct models.Account
	if err := snapshot.Decode(&acct); err != nil {
		return fmt.Errorf("failed to decode account snapshot: %w", err)
	}
	unlock := a.locker.Lock(acct.ID)
	defer unlock()
	return a.store.Insert(ctx, acct)
}
