package repository

import (
	"context"
	"fmt"

	"github.com/ruralpay/ledgercore/internal/models"
	"go.uber.org/zap"
)

// Snapshot is everything needed to rebuild the in-memory services.
type Snapshot struct {
	Accounts   []models.Account
	Entries    []models.LedgerEntry
	Bills      []models.Bill
	Tombstones []models.Tombstone
	Audit      []models.AuditEvent
}

// LoadAll reads every table the services hydrate from.
func (p *Postgres) LoadAll(ctx context.Context) (*Snapshot, error) {
	var (
		snap Snapshot
		err  error
	)
	if snap.Accounts, err = p.LoadAccounts(ctx); err != nil {
		return nil, err
	}
	if snap.Entries, err = p.LoadEntries(ctx); err != nil {
		return nil, err
	}
	if snap.Bills, err = p.LoadBills(ctx); err != nil {
		return nil, err
	}
	if snap.Tombstones, err = p.LoadTombstones(ctx); err != nil {
		return nil, err
	}
	if snap.Audit, err = p.LoadAuditEvents(ctx); err != nil {
		return nil, err
	}
	p.logger.Info("Hydrated ledger state",
		zap.Int("accounts", len(snap.Accounts)),
		zap.Int("entries", len(snap.Entries)),
		zap.Int("bills", len(snap.Bills)),
		zap.Int("tombstones", len(snap.Tombstones)),
		zap.Int("audit_events", len(snap.Audit)),
	)
	return &snap, nil
}

func (p *Postgres) LoadAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, owner_id, name, account_number, type, currency, balance, status,
			minimum_balance, interest_rate, version, last_accrued_at, created_at, updated_at
		FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Name, &a.AccountNumber, &a.Type, &a.Currency, &a.Balance, &a.Status,
			&a.MinimumBalance, &a.InterestRate, &a.Version, &a.LastAccruedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) LoadEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, seq, account_id, client_id, type, amount, description, category, status,
			reference, counterpart_id, counter_account_id, parent_id, failure_reason, metadata, created_at, completed_at
		FROM ledger_entries ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var seq int64
		if err := rows.Scan(&e.ID, &seq, &e.AccountID, &e.ClientID, &e.Type, &e.Amount, &e.Description, &e.Category, &e.Status,
			&e.Reference, &e.CounterpartID, &e.CounterAccountID, &e.ParentID, &e.FailureReason, &e.Metadata, &e.CreatedAt, &e.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Seq = uint64(seq)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) LoadBills(ctx context.Context) ([]models.Bill, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, client_id, title, company, amount, due_date, status, category,
			account_id, entry_id, autopay, recurring_type, created_at, paid_at
		FROM bills ORDER BY due_date, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	defer rows.Close()

	var out []models.Bill
	for rows.Next() {
		var b models.Bill
		if err := rows.Scan(&b.ID, &b.ClientID, &b.Title, &b.Company, &b.Amount, &b.DueDate, &b.Status, &b.Category,
			&b.AccountID, &b.EntryID, &b.Autopay, &b.RecurringType, &b.CreatedAt, &b.PaidAt); err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *Postgres) LoadTombstones(ctx context.Context) ([]models.Tombstone, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, table_name, record_id, deleted_by, deleted_at, reason,
			snapshot, can_restore, restored_by, restored_at
		FROM soft_delete_tombstones ORDER BY deleted_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tombstones: %w", err)
	}
	defer rows.Close()

	var out []models.Tombstone
	for rows.Next() {
		var t models.Tombstone
		if err := rows.Scan(&t.ID, &t.TableName, &t.RecordID, &t.DeletedBy, &t.DeletedAt, &t.Reason,
			&t.Snapshot, &t.CanRestore, &t.RestoredBy, &t.RestoredAt); err != nil {
			return nil, fmt.Errorf("failed to scan tombstone: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) LoadAuditEvents(ctx context.Context) ([]models.AuditEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, seq, timestamp, actor_id, actor_role, action, resource, resource_id,
			outcome, severity, details, ip_address, user_agent, session_id
		FROM audit_events ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEvent
	for rows.Next() {
		var ev models.AuditEvent
		var seq int64
		if err := rows.Scan(&ev.ID, &seq, &ev.Timestamp, &ev.ActorID, &ev.ActorRole, &ev.Action, &ev.Resource, &ev.ResourceID,
			&ev.Outcome, &ev.Severity, &ev.Details, &ev.IPAddress, &ev.UserAgent, &ev.SessionID); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		ev.Seq = uint64(seq)
		out = append(out, ev)
	}
	return out, rows.Err()
}
