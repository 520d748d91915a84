package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ruralpay/ledgercore/internal/config"
	"github.com/ruralpay/ledgercore/internal/models"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockEntryPersister struct {
	mock.Mock
}

func (m *MockEntryPersister) SaveEntries(ctx context.Context, entries []models.LedgerEntry, deltas map[string]int64) error {
	args := m.Called(ctx, entries, deltas)
	return args.Error(0)
}

type MockAccountPersister struct {
	mock.Mock
}

func (m *MockAccountPersister) SaveAccount(ctx context.Context, account models.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountPersister) DeleteAccount(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockTombstonePersister struct {
	mock.Mock
}

func (m *MockTombstonePersister) SaveTombstone(ctx context.Context, tombstone models.Tombstone) error {
	args := m.Called(ctx, tombstone)
	return args.Error(0)
}

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Name() string {
	return "mock"
}

func (m *MockSink) Publish(ctx context.Context, event models.AuditEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// testClock is a settable clock shared by every service under test.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{t: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var (
	adminID = models.Identity{UserID: "admin-1", Role: models.RoleAdmin}
	aliceID = models.Identity{UserID: "alice", Role: models.RoleClient}
	bobID   = models.Identity{UserID: "bob", Role: models.RoleClient}
)

type testEnv struct {
	clock    *testClock
	store    *AccountStore
	ledger   *LedgerService
	audit    *AuditService
	locker   *AccountLocker
	txs      *TransactionService
	accounts *AccountService
	policy   config.LedgerConfig
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, nil)
}

func newTestEnvWith(t *testing.T, persister EntryPersister) *testEnv {
	t.Helper()
	clock := newTestClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	policy := config.DefaultLedgerConfig()

	store := NewAccountStore(nil, nil)
	store.now = clock.Now
	ledger := NewLedgerService(store, persister, nil)
	ledger.now = clock.Now
	audit := NewAuditService(config.DefaultAuditConfig(), nil)
	audit.now = clock.Now
	locker := NewAccountLocker()

	txs := NewTransactionService(store, ledger, audit, locker, policy, nil)
	txs.now = clock.Now
	accounts := NewAccountService(store, ledger, audit, locker, policy, nil)
	accounts.now = clock.Now

	return &testEnv{
		clock:    clock,
		store:    store,
		ledger:   ledger,
		audit:    audit,
		locker:   locker,
		txs:      txs,
		accounts: accounts,
		policy:   policy,
	}
}

func (e *testEnv) openAccount(t *testing.T, owner string, typ models.AccountType) models.Account {
	t.Helper()
	acct, err := e.store.Create(context.Background(), CreateAccountRequest{
		OwnerID: owner,
		Name:    owner + " " + string(typ),
		Type:    typ,
	}, e.policy.Currency)
	require.NoError(t, err)
	return acct
}

// fund credits the account through the ledger without going through the
// transaction policy.
func (e *testEnv) fund(t *testing.T, accountID string, amount int64) {
	t.Helper()
	entry, err := e.ledger.Append(context.Background(), models.LedgerEntry{
		AccountID:   accountID,
		Type:        models.EntryDeposit,
		Amount:      amount,
		Description: "opening deposit",
	})
	require.NoError(t, err)
	_, err = e.ledger.Complete(context.Background(), entry.ID)
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, accountID string) int64 {
	t.Helper()
	acct, err := e.store.Get(accountID)
	require.NoError(t, err)
	return acct.Balance
}

// injectDrift moves the cached balance without a ledger entry, leaving
// something for reconciliation to repair.
func (e *testEnv) injectDrift(t *testing.T, accountID string, delta int64) {
	t.Helper()
	require.NoError(t, e.store.ApplyDeltas(map[string]int64{accountID: delta}, nil))
}
