package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
	"github.com/ruralpay/ledgercore/internal/models"
	"go.uber.org/zap"
)

var (
	ErrAccountNotFound = errors.New("account not found in database")
	ErrDuplicateRecord = errors.New("duplicate record")
)

// Postgres persists the in-memory ledger state and hydrates it on start.
type Postgres struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewPostgres(db *sql.DB, logger *zap.Logger) *Postgres {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{
		db:     db,
		logger: logger.With(zap.String("component", "PostgresRepository")),
		now:    time.Now,
	}
}

func wrapWriteErr(what string, err error) error {
	var pgErr *pq.Error
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", what, ErrDuplicateRecord)
	}
	return fmt.Errorf("failed to %s: %w", what, err)
}

const upsertEntry = `
	INSERT INTO ledger_entries (id, seq, account_id, client_id, type, amount, description, category, status,
		reference, counterpart_id, counter_account_id, parent_id, failure_reason, metadata, created_at, completed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		failure_reason = EXCLUDED.failure_reason,
		metadata = EXCLUDED.metadata,
		completed_at = EXCLUDED.completed_at`

const applyDelta = `
	UPDATE accounts
	SET balance = balance + $1, version = version + 1, updated_at = $2
	WHERE id = $3`

// SaveEntries writes entries and applies the balance deltas in one
// transaction. Deltas are applied in account id order.
func (p *Postgres) SaveEntries(ctx context.Context, entries []models.LedgerEntry, deltas map[string]int64) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		_, err := tx.ExecContext(ctx, upsertEntry,
			e.ID, int64(e.Seq), e.AccountID, e.ClientID, string(e.Type), e.Amount, e.Description, e.Category, string(e.Status),
			e.Reference, e.CounterpartID, e.CounterAccountID, e.ParentID, e.FailureReason, e.Metadata, e.CreatedAt, e.CompletedAt,
		)
		if err != nil {
			return wrapWriteErr("save ledger entry "+e.ID, err)
		}
	}

	ids := make([]string, 0, len(deltas))
	for id, d := range deltas {
		if d != 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	now := p.now()
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, applyDelta, deltas[id], now, id)
		if err != nil {
			return fmt.Errorf("failed to update account balance for %s: %w", id, err)
		}
		rowsAffected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("account %s: %w", id, ErrAccountNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger transaction: %w", err)
	}
	return nil
}

// SaveAccount upserts the account's descriptive fields. Balance and version
// are only ever moved by SaveEntries once the row exists.
func (p *Postgres) SaveAccount(ctx context.Context, a models.Account) error {
	query := `
		INSERT INTO accounts (id, owner_id, name, account_number, type, currency, balance, status,
			minimum_balance, interest_rate, version, last_accrued_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			minimum_balance = EXCLUDED.minimum_balance,
			interest_rate = EXCLUDED.interest_rate,
			last_accrued_at = EXCLUDED.last_accrued_at,
			updated_at = EXCLUDED.updated_at`
	_, err := p.db.ExecContext(ctx, query,
		a.ID, a.OwnerID, a.Name, a.AccountNumber, string(a.Type), a.Currency, a.Balance, string(a.Status),
		a.MinimumBalance, a.InterestRate, a.Version, a.LastAccruedAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return wrapWriteErr("save account "+a.ID, err)
	}
	return nil
}

func (p *Postgres) DeleteAccount(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete account %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) SaveBill(ctx context.Context, b models.Bill) error {
	query := `
		INSERT INTO bills (id, client_id, title, company, amount, due_date, status, category,
			account_id, entry_id, autopay, recurring_type, created_at, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			account_id = EXCLUDED.account_id,
			entry_id = EXCLUDED.entry_id,
			paid_at = EXCLUDED.paid_at`
	_, err := p.db.ExecContext(ctx, query,
		b.ID, b.ClientID, b.Title, b.Company, b.Amount, b.DueDate, string(b.Status), b.Category,
		b.AccountID, b.EntryID, b.Autopay, b.RecurringType, b.CreatedAt, b.PaidAt,
	)
	if err != nil {
		return wrapWriteErr("save bill "+b.ID, err)
	}
	return nil
}

func (p *Postgres) DeleteBill(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM bills WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete bill %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) SaveTombstone(ctx context.Context, t models.Tombstone) error {
	query := `
		INSERT INTO soft_delete_tombstones (id, table_name, record_id, deleted_by, deleted_at, reason,
			snapshot, can_restore, restored_by, restored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			can_restore = EXCLUDED.can_restore,
			restored_by = EXCLUDED.restored_by,
			restored_at = EXCLUDED.restored_at`
	_, err := p.db.ExecContext(ctx, query,
		t.ID, t.TableName, t.RecordID, t.DeletedBy, t.DeletedAt, t.Reason,
		t.Snapshot, t.CanRestore, t.RestoredBy, t.RestoredAt,
	)
	if err != nil {
		return wrapWriteErr("save tombstone "+t.ID, err)
	}
	return nil
}

// Name and Publish let the repository act as an audit sink.
func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Publish(ctx context.Context, ev models.AuditEvent) error {
	query := `
		INSERT INTO audit_events (id, seq, timestamp, actor_id, actor_role, action, resource, resource_id,
			outcome, severity, details, ip_address, user_agent, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`
	_, err := p.db.ExecContext(ctx, query,
		ev.ID, int64(ev.Seq), ev.Timestamp, ev.ActorID, string(ev.ActorRole), ev.Action, ev.Resource, ev.ResourceID,
		string(ev.Outcome), string(ev.Severity), ev.Details, ev.IPAddress, ev.UserAgent, ev.SessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event %s: %w", ev.ID, err)
	}
	return nil
}
