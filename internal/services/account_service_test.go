package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ruralpay/ledgercore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAccountService_CreateAccount(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	t.Run("clients open accounts for themselves", func(t *testing.T) {
		acct, err := env.accounts.CreateAccount(ctx, aliceID, CreateAccountRequest{
			OwnerID: "bob",
			Name:    "Everyday",
			Type:    models.AccountChecking,
		})
		require.NoError(t, err)
		assert.Equal(t, "alice", acct.OwnerID)
		assert.Equal(t, "USD", acct.Currency)
		assert.Equal(t, models.AccountActive, acct.Status)
		assert.Equal(t, int64(0), acct.Balance)
		assert.Len(t, acct.AccountNumber, 10)
		assert.Len(t, env.audit.Query(AuditFilter{Action: "account_created"}, 0), 1)
	})

	t.Run("admins open accounts for anyone", func(t *testing.T) {
		acct, err := env.accounts.CreateAccount(ctx, adminID, CreateAccountRequest{
			OwnerID:      "bob",
			Name:         "Rainy day",
			Type:         models.AccountSavings,
			Currency:     "eur",
			InterestRate: 2.5,
		})
		require.NoError(t, err)
		assert.Equal(t, "bob", acct.OwnerID)
		assert.Equal(t, "EUR", acct.Currency)
		assert.True(t, acct.AcceptsInterest())
	})

	t.Run("validation", func(t *testing.T) {
		_, err := env.accounts.CreateAccount(ctx, aliceID, CreateAccountRequest{Name: "x", Type: models.AccountChecking})
		assert.ErrorIs(t, err, ErrInvalidRequest)

		_, err = env.accounts.CreateAccount(ctx, aliceID, CreateAccountRequest{Name: "Brokerage", Type: "crypto"})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("listing is scoped to the caller", func(t *testing.T) {
		assert.Len(t, env.accounts.ListAccounts(aliceID, "bob"), 1)
		assert.Len(t, env.accounts.ListAccounts(adminID, "bob"), 1)
		assert.Len(t, env.accounts.ListAccounts(adminID, ""), 2)
	})

	t.Run("get", func(t *testing.T) {
		mine := env.accounts.ListAccounts(aliceID, "")[0]
		got, err := env.accounts.GetAccount(aliceID, mine.ID)
		require.NoError(t, err)
		assert.Equal(t, mine.ID, got.ID)

		_, err = env.accounts.GetAccount(bobID, mine.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestAccountService_CreateAccountPersistenceFailure(t *testing.T) {
	persister := new(MockAccountPersister)
	persister.On("SaveAccount", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	env := newTestEnv(t)
	env.store.persister = persister

	_, err := env.accounts.CreateAccount(context.Background(), aliceID, CreateAccountRequest{Name: "Everyday", Type: models.AccountChecking})
	require.Error(t, err)
	assert.Empty(t, env.store.List(""))
	persister.AssertExpectations(t)
}

func TestAccountService_SetStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	acct := env.openAccount(t, "alice", models.AccountChecking)

	_, err := env.accounts.SetStatus(ctx, aliceID, acct.ID, models.AccountSuspended, "")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.accounts.SetStatus(ctx, adminID, acct.ID, "frozen", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	got, err := env.accounts.SetStatus(ctx, adminID, acct.ID, models.AccountSuspended, "kyc review")
	require.NoError(t, err)
	assert.Equal(t, models.AccountSuspended, got.Status)
	events := env.audit.Query(AuditFilter{Action: "account_suspended"}, 0)
	require.Len(t, events, 1)
	assert.Equal(t, models.SeverityWarning, events[0].Severity)

	_, err = env.accounts.SetStatus(ctx, adminID, acct.ID, models.AccountActive, "cleared")
	require.NoError(t, err)

	_, err = env.accounts.SetStatus(ctx, adminID, acct.ID, models.AccountClosed, "customer request")
	require.NoError(t, err)

	_, err = env.accounts.SetStatus(ctx, adminID, acct.ID, models.AccountActive, "")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAccountService_Reconcile(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.openAccount(t, "alice", models.AccountChecking)
	b := env.openAccount(t, "bob", models.AccountChecking)
	env.fund(t, a.ID, 1000)
	env.fund(t, b.ID, 2000)

	_, err := env.accounts.Reconcile(ctx, aliceID, a.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	env.injectDrift(t, b.ID, -300)

	drifted, err := env.accounts.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, drifted)
	assert.Equal(t, int64(2000), env.balance(t, b.ID))

	events := env.audit.Query(AuditFilter{Action: "balance_reconciled"}, 0)
	require.Len(t, events, 1)
	assert.Equal(t, int64(-300), events[0].Details["drift"])
}

func TestInterestFor(t *testing.T) {
	tests := []struct {
		name     string
		balance  int64
		rate     float64
		days     int
		expected int64
	}{
		{"one day at five percent", 100000, 5, 1, 14},
		{"thirty days", 100000, 5, 30, 411},
		{"rounds half to even down", 18250, 1, 1, 0},
		{"rounds half to even up", 54750, 1, 1, 2},
		{"negative balance earns nothing", -100000, 5, 1, 0},
		{"zero days", 100000, 5, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, InterestFor(tt.balance, tt.rate, tt.days))
		})
	}
}

func TestAccountService_AccrueInterest(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	savings, err := env.store.Create(ctx, CreateAccountRequest{
		OwnerID: "alice", Name: "alice savings", Type: models.AccountSavings, InterestRate: 5,
	}, "USD")
	require.NoError(t, err)
	checking := env.openAccount(t, "alice", models.AccountChecking)
	env.fund(t, savings.ID, 100000)
	env.fund(t, checking.ID, 100000)

	now := env.clock.Now().Add(25 * time.Hour)
	n, err := env.accounts.AccrueInterest(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(100014), env.balance(t, savings.ID))
	assert.Equal(t, int64(100000), env.balance(t, checking.ID))

	acct, err := env.store.Get(savings.ID)
	require.NoError(t, err)
	require.NotNil(t, acct.LastAccruedAt)
	assert.Equal(t, savings.CreatedAt.Add(24*time.Hour), *acct.LastAccruedAt)

	interest := env.ledger.Query(EntryFilter{AccountID: savings.ID, Category: models.CategoryInterest})
	require.Len(t, interest, 1)
	assert.Equal(t, models.EntryCompleted, interest[0].Status)

	n, err = env.accounts.AccrueInterest(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(100014), env.balance(t, savings.ID))
}
