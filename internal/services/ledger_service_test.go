package services

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ruralpay/ledgercore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerService_AppendBatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	acct := env.openAccount(t, "alice", models.AccountChecking)

	t.Run("assigns ids sequence and owner", func(t *testing.T) {
		out, err := env.ledger.AppendBatch(ctx, []models.LedgerEntry{
			{AccountID: acct.ID, Type: models.EntryDeposit, Amount: 100},
			{AccountID: acct.ID, Type: models.EntryFee, Amount: -5},
		})
		require.NoError(t, err)
		require.Len(t, out, 2)

		assert.NotEmpty(t, out[0].ID)
		assert.Equal(t, out[0].Seq+1, out[1].Seq)
		assert.Equal(t, "alice", out[0].ClientID)
		assert.Equal(t, models.EntryPending, out[0].Status)
		assert.Equal(t, models.CategoryGeneral, out[0].Category)
		assert.Equal(t, models.CategoryFee, out[1].Category)
		assert.Equal(t, int64(0), env.balance(t, acct.ID))
	})

	t.Run("rejects the whole batch on a bad entry", func(t *testing.T) {
		before := env.ledger.Seq()
		_, err := env.ledger.AppendBatch(ctx, []models.LedgerEntry{
			{AccountID: acct.ID, Type: models.EntryDeposit, Amount: 100},
			{AccountID: acct.ID, Type: models.EntryDeposit, Amount: 0},
		})
		assert.ErrorIs(t, err, ErrInvalidRequest)

		_, err = env.ledger.AppendBatch(ctx, []models.LedgerEntry{
			{AccountID: "missing", Type: models.EntryDeposit, Amount: 100},
		})
		assert.ErrorIs(t, err, ErrRecordNotFound)

		_, err = env.ledger.AppendBatch(ctx, nil)
		assert.ErrorIs(t, err, ErrInvalidRequest)
		assert.Equal(t, before, env.ledger.Seq())
	})

	t.Run("duplicate id conflicts", func(t *testing.T) {
		e, err := env.ledger.Append(ctx, models.LedgerEntry{ID: "fixed", AccountID: acct.ID, Type: models.EntryDeposit, Amount: 1})
		require.NoError(t, err)
		_, err = env.ledger.Append(ctx, models.LedgerEntry{ID: e.ID, AccountID: acct.ID, Type: models.EntryDeposit, Amount: 1})
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestLedgerService_Transitions(t *testing.T) {
	ctx := context.Background()

	t.Run("completing one leg completes the pair", func(t *testing.T) {
		env := newTestEnv(t)
		a := env.openAccount(t, "alice", models.AccountChecking)
		b := env.openAccount(t, "bob", models.AccountChecking)
		env.fund(t, a.ID, 1000)

		debit, credit, err := env.ledger.AppendTransferPair(ctx, a.ID, b.ID, 400, "split")
		require.NoError(t, err)
		assert.Equal(t, debit.Reference, credit.Reference)

		done, err := env.ledger.CompleteAll(ctx, []string{credit.ID}, nil)
		require.NoError(t, err)
		assert.Len(t, done, 2)
		assert.Equal(t, int64(600), env.balance(t, a.ID))
		assert.Equal(t, int64(400), env.balance(t, b.ID))

		_, err = env.ledger.Complete(ctx, debit.ID)
		assert.ErrorIs(t, err, ErrInvalidState)
		_, err = env.ledger.Fail(ctx, debit.ID, "late")
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("guard failure fails every entry", func(t *testing.T) {
		env := newTestEnv(t)
		acct := env.openAccount(t, "alice", models.AccountChecking)
		out, err := env.ledger.AppendBatch(ctx, []models.LedgerEntry{
			{AccountID: acct.ID, Type: models.EntryDeposit, Amount: 100},
			{AccountID: acct.ID, Type: models.EntryDeposit, Amount: 200},
		})
		require.NoError(t, err)

		veto := errors.New("veto")
		_, err = env.ledger.CompleteAll(ctx, []string{out[0].ID, out[1].ID}, func(models.Account) error { return veto })
		require.ErrorIs(t, err, veto)

		for _, e := range out {
			got, err := env.ledger.Get(e.ID)
			require.NoError(t, err)
			assert.Equal(t, models.EntryFailed, got.Status)
			assert.Equal(t, "veto", got.FailureReason)
		}
		assert.Equal(t, int64(0), env.balance(t, acct.ID))
	})

	t.Run("fail and cancel never move balances", func(t *testing.T) {
		env := newTestEnv(t)
		acct := env.openAccount(t, "alice", models.AccountChecking)
		e1, err := env.ledger.Append(ctx, models.LedgerEntry{AccountID: acct.ID, Type: models.EntryDeposit, Amount: 100})
		require.NoError(t, err)
		e2, err := env.ledger.Append(ctx, models.LedgerEntry{AccountID: acct.ID, Type: models.EntryDeposit, Amount: 100})
		require.NoError(t, err)

		failed, err := env.ledger.Fail(ctx, e1.ID, "declined")
		require.NoError(t, err)
		assert.Equal(t, models.EntryFailed, failed.Status)

		cancelled, err := env.ledger.Cancel(ctx, e2.ID, "withdrawn")
		require.NoError(t, err)
		assert.Equal(t, models.EntryCancelled, cancelled.Status)
		assert.True(t, cancelled.Status.Terminal())
		assert.Nil(t, cancelled.CompletedAt)
		assert.Equal(t, int64(0), env.balance(t, acct.ID))
	})

	t.Run("unbalanced pair is rejected", func(t *testing.T) {
		env := newTestEnv(t)
		a := env.openAccount(t, "alice", models.AccountChecking)
		b := env.openAccount(t, "bob", models.AccountChecking)
		_, _, err := env.ledger.AppendPair(ctx,
			models.LedgerEntry{AccountID: a.ID, Type: models.EntryTransfer, Amount: -100},
			models.LedgerEntry{AccountID: b.ID, Type: models.EntryTransfer, Amount: 90},
		)
		assert.ErrorIs(t, err, ErrInvalidRequest)

		_, _, err = env.ledger.AppendTransferPair(ctx, a.ID, a.ID, 100, "self")
		assert.ErrorIs(t, err, ErrInvalidDestination)
	})
}

func TestLedgerService_Reads(t *testing.T) {
	env := newTestEnv(t)
	acct := env.openAccount(t, "alice", models.AccountChecking)
	for i := 0; i < 5; i++ {
		env.fund(t, acct.ID, int64(100*(i+1)))
		env.clock.Advance(time.Hour)
	}

	t.Run("scan pages in append order", func(t *testing.T) {
		page1, cursor := env.ledger.Scan(acct.ID, 0, 2)
		require.Len(t, page1, 2)
		assert.Equal(t, int64(100), page1[0].Amount)

		page2, cursor := env.ledger.Scan(acct.ID, cursor, 2)
		require.Len(t, page2, 2)
		assert.Equal(t, int64(300), page2[0].Amount)

		page3, _ := env.ledger.Scan(acct.ID, cursor, 2)
		require.Len(t, page3, 1)
		assert.Equal(t, int64(500), page3[0].Amount)
	})

	t.Run("query is newest first", func(t *testing.T) {
		got := env.ledger.Query(EntryFilter{AccountID: acct.ID, Limit: 2})
		require.Len(t, got, 2)
		assert.Equal(t, int64(500), got[0].Amount)
		assert.Equal(t, int64(400), got[1].Amount)
	})

	t.Run("entries within a window", func(t *testing.T) {
		start := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
		got := env.ledger.EntriesFor(acct.ID, start, start.Add(time.Hour))
		require.Len(t, got, 2)
		assert.Equal(t, int64(200), got[0].Amount)
	})

	t.Run("view agrees with balance", func(t *testing.T) {
		view, err := env.ledger.View(acct.ID)
		require.NoError(t, err)
		var sum int64
		for _, e := range view.Entries {
			sum += e.Amount
		}
		assert.Equal(t, view.Account.Balance, sum)
		assert.Equal(t, int64(1500), env.ledger.Balance(acct.ID))
		assert.Equal(t, env.ledger.Seq(), view.Seq)
	})

	t.Run("returned entries are copies", func(t *testing.T) {
		got := env.ledger.Query(EntryFilter{AccountID: acct.ID, Limit: 1})
		got[0].Amount = 1
		again, err := env.ledger.Get(got[0].ID)
		require.NoError(t, err)
		assert.Equal(t, int64(500), again.Amount)
	})

	t.Run("load rebuilds the indexes", func(t *testing.T) {
		entries := env.ledger.Query(EntryFilter{})
		fresh := NewLedgerService(env.store, nil, nil)
		fresh.Load(entries)
		assert.Equal(t, int64(1500), fresh.Balance(acct.ID))
		assert.NotZero(t, fresh.Seq())
		assert.LessOrEqual(t, fresh.Seq(), env.ledger.Seq())
		page, _ := fresh.Scan(acct.ID, 0, 0)
		assert.Len(t, page, 5)
	})
}

func TestLedgerService_DailyOutflow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	acct := env.openAccount(t, "alice", models.AccountChecking)
	env.fund(t, acct.ID, 100000)

	_, err := env.ledger.AppendBatch(ctx, []models.LedgerEntry{
		{AccountID: acct.ID, Type: models.EntryWithdrawal, Amount: -1000},
		{AccountID: acct.ID, Type: models.EntryPayment, Amount: -2000},
		{AccountID: acct.ID, Type: models.EntryWithdrawal, Amount: 500, Category: models.CategoryReversal},
	})
	require.NoError(t, err)
	failed, err := env.ledger.Append(ctx, models.LedgerEntry{AccountID: acct.ID, Type: models.EntryWithdrawal, Amount: -4000})
	require.NoError(t, err)
	_, err = env.ledger.Fail(ctx, failed.ID, "declined")
	require.NoError(t, err)

	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(1000), env.ledger.DailyOutflow(acct.ID, from, from.AddDate(0, 0, 1)))
	assert.Equal(t, int64(0), env.ledger.DailyOutflow(acct.ID, from.AddDate(0, 0, 1), from.AddDate(0, 0, 2)))
}

func TestLedgerService_Reconcile(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	acct := env.openAccount(t, "alice", models.AccountChecking)
	env.fund(t, acct.ID, 1000)

	drift, err := env.ledger.Reconcile(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), drift)

	env.injectDrift(t, acct.ID, 250)

	drift, err = env.ledger.Reconcile(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), drift)
	assert.Equal(t, int64(1000), env.balance(t, acct.ID))
}

func TestLedgerService_AmountBounds(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	acct := env.openAccount(t, "alice", models.AccountChecking)

	for _, amount := range []int64{math.MinInt64, math.MaxInt64, models.MaxAmount + 1, -models.MaxAmount - 1} {
		_, err := env.ledger.Append(ctx, models.LedgerEntry{AccountID: acct.ID, Type: models.EntryDeposit, Amount: amount})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}

	t.Run("completion that would overflow the balance fails", func(t *testing.T) {
		loaded, err := env.store.Get(acct.ID)
		require.NoError(t, err)
		loaded.Balance = math.MaxInt64 - 10
		env.store.Load([]models.Account{loaded})

		e, err := env.ledger.Append(ctx, models.LedgerEntry{AccountID: acct.ID, Type: models.EntryDeposit, Amount: 100})
		require.NoError(t, err)
		_, err = env.ledger.Complete(ctx, e.ID)
		assert.ErrorIs(t, err, ErrInvalidRequest)

		got, err := env.ledger.Get(e.ID)
		require.NoError(t, err)
		assert.Equal(t, models.EntryFailed, got.Status)
		assert.Equal(t, int64(math.MaxInt64-10), env.balance(t, acct.ID))
	})
}

// gatedPersister holds every write touching one account until released.
type gatedPersister struct {
	account string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *gatedPersister) SaveEntries(ctx context.Context, entries []models.LedgerEntry, deltas map[string]int64) error {
	for _, e := range entries {
		if e.AccountID == p.account {
			p.once.Do(func() { close(p.entered) })
			<-p.release
			return nil
		}
	}
	return nil
}

func TestLedgerService_SlowWriteDoesNotStallOtherAccounts(t *testing.T) {
	persister := &gatedPersister{entered: make(chan struct{}), release: make(chan struct{})}
	env := newTestEnvWith(t, persister)
	a := env.openAccount(t, "alice", models.AccountChecking)
	b := env.openAccount(t, "bob", models.AccountChecking)
	persister.account = a.ID

	slow := make(chan error, 1)
	go func() {
		_, err := env.txs.Submit(context.Background(), aliceID, TransactionRequest{Type: models.EntryDeposit, AccountID: a.ID, Amount: 500})
		slow <- err
	}()
	<-persister.entered

	fast := make(chan error, 1)
	go func() {
		_, err := env.txs.Submit(context.Background(), bobID, TransactionRequest{Type: models.EntryDeposit, AccountID: b.ID, Amount: 700})
		if err == nil {
			_, err = env.ledger.View(b.ID)
		}
		env.ledger.Query(EntryFilter{})
		fast <- err
	}()

	select {
	case err := <-fast:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(persister.release)
		t.Fatal("account b waited on account a's write")
	}
	assert.Equal(t, int64(700), env.balance(t, b.ID))
	assert.Equal(t, int64(0), env.balance(t, a.ID))

	close(persister.release)
	require.NoError(t, <-slow)
	assert.Equal(t, int64(500), env.balance(t, a.ID))
	assert.Equal(t, int64(500), env.ledger.Balance(a.ID))
}
