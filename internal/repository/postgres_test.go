package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/ruralpay/ledgercore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewPostgres(db, nil)
	repo.now = func() time.Time { return fixedNow }
	return repo, mock
}

func anyArgs(n int) []driver.Value {
	args := make([]driver.Value, n)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	return args
}

func TestPostgres_SaveEntries(t *testing.T) {
	ctx := context.Background()
	completed := fixedNow
	entries := []models.LedgerEntry{
		{ID: "e-1", Seq: 1, AccountID: "acct-b", ClientID: "alice", Type: models.EntryTransfer, Amount: -500, Status: models.EntryCompleted, CompletedAt: &completed},
		{ID: "e-2", Seq: 2, AccountID: "acct-a", ClientID: "bob", Type: models.EntryTransfer, Amount: 500, Status: models.EntryCompleted, CompletedAt: &completed},
	}
	deltas := map[string]int64{"acct-b": -500, "acct-a": 500, "acct-c": 0}

	t.Run("writes entries and deltas in one transaction", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO ledger_entries").WithArgs(anyArgs(17)...).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").WithArgs(anyArgs(17)...).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE accounts").WithArgs(int64(500), fixedNow, "acct-a").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE accounts").WithArgs(int64(-500), fixedNow, "acct-b").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.SaveEntries(ctx, entries, deltas))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("status-only transition skips balances", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO ledger_entries").WithArgs(anyArgs(17)...).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.SaveEntries(ctx, entries[:1], nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing account rolls back", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO ledger_entries").WithArgs(anyArgs(17)...).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE accounts").WithArgs(int64(-500), fixedNow, "acct-b").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := repo.SaveEntries(ctx, entries[:1], map[string]int64{"acct-b": -500})
		assert.ErrorIs(t, err, ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate entry", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO ledger_entries").WithArgs(anyArgs(17)...).WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		err := repo.SaveEntries(ctx, entries[:1], nil)
		assert.ErrorIs(t, err, ErrDuplicateRecord)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgres_Records(t *testing.T) {
	ctx := context.Background()
	repo, mock := newTestRepo(t)

	acct := models.Account{ID: "acct-a", OwnerID: "alice", Name: "Everyday", AccountNumber: "1000000001",
		Type: models.AccountChecking, Currency: "USD", Status: models.AccountActive, CreatedAt: fixedNow, UpdatedAt: fixedNow}
	mock.ExpectExec("INSERT INTO accounts").WithArgs(anyArgs(14)...).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SaveAccount(ctx, acct))

	mock.ExpectExec("DELETE FROM accounts WHERE id = \\$1").WithArgs("acct-a").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.DeleteAccount(ctx, "acct-a"))

	bill := models.Bill{ID: "bill-1", ClientID: "alice", Title: "Power", Company: "GridCo", Amount: 9000, DueDate: fixedNow, Status: models.BillPending}
	mock.ExpectExec("INSERT INTO bills").WithArgs(anyArgs(14)...).WillReturnError(errors.New("connection reset"))
	err := repo.SaveBill(ctx, bill)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save bill bill-1")

	mock.ExpectExec("DELETE FROM bills WHERE id = \\$1").WithArgs("bill-1").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.DeleteBill(ctx, "bill-1"))

	ts := models.Tombstone{ID: "ts-1", TableName: models.TableBills, RecordID: "bill-1", DeletedBy: "admin-1",
		DeletedAt: fixedNow, Snapshot: models.Metadata{"id": "bill-1"}, CanRestore: true}
	mock.ExpectExec("INSERT INTO soft_delete_tombstones").WithArgs(anyArgs(10)...).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SaveTombstone(ctx, ts))

	assert.Equal(t, "postgres", repo.Name())
	ev := models.AuditEvent{ID: "evt-1", Seq: 3, Timestamp: fixedNow, ActorID: "alice", Action: "account_created",
		Outcome: models.OutcomeSuccess, Severity: models.SeverityInfo}
	mock.ExpectExec("INSERT INTO audit_events").WithArgs(anyArgs(14)...).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Publish(ctx, ev))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LoadAll(t *testing.T) {
	ctx := context.Background()
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM accounts").WillReturnRows(sqlmock.NewRows([]string{
		"id", "owner_id", "name", "account_number", "type", "currency", "balance", "status",
		"minimum_balance", "interest_rate", "version", "last_accrued_at", "created_at", "updated_at",
	}).AddRow("acct-a", "alice", "Everyday", "1000000001", "checking", "USD", int64(4500), "active",
		int64(0), float64(0), 3, nil, fixedNow, fixedNow))

	mock.ExpectQuery("SELECT (.+) FROM ledger_entries").WillReturnRows(sqlmock.NewRows([]string{
		"id", "seq", "account_id", "client_id", "type", "amount", "description", "category", "status",
		"reference", "counterpart_id", "counter_account_id", "parent_id", "failure_reason", "metadata", "created_at", "completed_at",
	}).AddRow("e-1", int64(1), "acct-a", "alice", "deposit", int64(4500), "cash", "General", "completed",
		"ref-1", "", "", "", "", []byte(`{"channel":"branch"}`), fixedNow, fixedNow).
		AddRow("e-2", int64(2), "acct-a", "alice", "withdrawal", int64(-100), "atm", "General", "pending",
			"ref-2", "", "", "", "", nil, fixedNow, nil))

	mock.ExpectQuery("SELECT (.+) FROM bills").WillReturnRows(sqlmock.NewRows([]string{
		"id", "client_id", "title", "company", "amount", "due_date", "status", "category",
		"account_id", "entry_id", "autopay", "recurring_type", "created_at", "paid_at",
	}).AddRow("bill-1", "alice", "Power", "GridCo", int64(9000), fixedNow, "pending", "General",
		"", "", false, "monthly", fixedNow, nil))

	mock.ExpectQuery("SELECT (.+) FROM soft_delete_tombstones").WillReturnRows(sqlmock.NewRows([]string{
		"id", "table_name", "record_id", "deleted_by", "deleted_at", "reason",
		"snapshot", "can_restore", "restored_by", "restored_at",
	}))

	mock.ExpectQuery("SELECT (.+) FROM audit_events").WillReturnRows(sqlmock.NewRows([]string{
		"id", "seq", "timestamp", "actor_id", "actor_role", "action", "resource", "resource_id",
		"outcome", "severity", "details", "ip_address", "user_agent", "session_id",
	}).AddRow("evt-1", int64(9), fixedNow, "alice", "client", "deposit_submitted", "ledger_entry", "e-1",
		"success", "info", []byte(`{"amount":4500}`), "10.0.0.1", "curl", "sess-1"))

	snap, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, snap.Accounts, 1)
	assert.Equal(t, models.AccountChecking, snap.Accounts[0].Type)
	assert.Equal(t, int64(4500), snap.Accounts[0].Balance)
	assert.Nil(t, snap.Accounts[0].LastAccruedAt)

	require.Len(t, snap.Entries, 2)
	assert.Equal(t, uint64(1), snap.Entries[0].Seq)
	assert.Equal(t, "branch", snap.Entries[0].Metadata["channel"])
	require.NotNil(t, snap.Entries[0].CompletedAt)
	assert.Nil(t, snap.Entries[1].CompletedAt)
	assert.Nil(t, snap.Entries[1].Metadata)

	require.Len(t, snap.Bills, 1)
	assert.Equal(t, "monthly", snap.Bills[0].RecurringType)
	assert.Empty(t, snap.Tombstones)

	require.Len(t, snap.Audit, 1)
	assert.Equal(t, uint64(9), snap.Audit[0].Seq)
	assert.Equal(t, models.RoleClient, snap.Audit[0].ActorRole)
}

func TestPostgres_LoadFailure(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectQuery("SELECT (.+) FROM accounts").WillReturnError(errors.New("relation does not exist"))

	_, err := repo.LoadAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query accounts")
	assert.NoError(t, mock.ExpectationsWereMet())
}
