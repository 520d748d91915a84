package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ruralpay/ledgercore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAccountStore_ApplyDeltas(t *testing.T) {
	env := newTestEnv(t)
	a := env.openAccount(t, "alice", models.AccountChecking)
	b := env.openAccount(t, "bob", models.AccountChecking)

	t.Run("all or nothing", func(t *testing.T) {
		err := env.store.ApplyDeltas(map[string]int64{a.ID: 100, "missing": 5}, nil)
		assert.ErrorIs(t, err, ErrRecordNotFound)
		assert.Equal(t, int64(0), env.balance(t, a.ID))

		veto := errors.New("veto")
		err = env.store.ApplyDeltas(map[string]int64{a.ID: 100, b.ID: -100}, func(acct models.Account) error {
			if acct.ID == b.ID {
				return veto
			}
			return nil
		})
		assert.ErrorIs(t, err, veto)
		assert.Equal(t, int64(0), env.balance(t, a.ID))
		assert.Equal(t, int64(0), env.balance(t, b.ID))
	})

	t.Run("apply and undo", func(t *testing.T) {
		require.NoError(t, env.store.ApplyDeltas(map[string]int64{a.ID: 700, b.ID: -700}, nil))
		assert.Equal(t, int64(700), env.balance(t, a.ID))

		acct, err := env.store.Get(a.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, acct.Version)

		require.NoError(t, env.store.ApplyDeltas(map[string]int64{a.ID: -700, b.ID: 700}, nil))
		assert.Equal(t, int64(0), env.balance(t, a.ID))
		assert.Equal(t, int64(0), env.balance(t, b.ID))
	})

	t.Run("balance overflow is rejected whole", func(t *testing.T) {
		require.NoError(t, env.store.ApplyDeltas(map[string]int64{a.ID: 100}, nil))

		err := env.store.ApplyDeltas(map[string]int64{a.ID: math.MaxInt64, b.ID: 5}, nil)
		assert.ErrorIs(t, err, ErrInvalidRequest)
		assert.ErrorIs(t, env.store.CheckDeltas(map[string]int64{a.ID: math.MaxInt64}, nil), ErrInvalidRequest)
		assert.Equal(t, int64(100), env.balance(t, a.ID))
		assert.Equal(t, int64(0), env.balance(t, b.ID))
	})
}

func TestAccountStore_SetStatusPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	acct := env.openAccount(t, "alice", models.AccountChecking)

	persister := new(MockAccountPersister)
	persister.On("SaveAccount", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	env.store.persister = persister
	env.clock.Advance(time.Hour)

	_, err := env.store.SetStatus(ctx, acct.ID, models.AccountSuspended)
	require.Error(t, err)

	got, err := env.store.Get(acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AccountActive, got.Status)
	assert.Equal(t, acct.Version, got.Version)
	assert.Equal(t, acct.UpdatedAt, got.UpdatedAt)

	err = env.store.MarkAccrued(ctx, acct.ID, env.clock.Now())
	require.Error(t, err)
	got, err = env.store.Get(acct.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastAccruedAt)
	persister.AssertExpectations(t)
}

func TestAccountStore_Lookup(t *testing.T) {
	env := newTestEnv(t)
	a := env.openAccount(t, "alice", models.AccountChecking)

	got, err := env.store.GetByNumber(a.AccountNumber)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.NotEqual(t, byte('0'), a.AccountNumber[0])

	_, err = env.store.GetByNumber("0000000000")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	assert.Len(t, env.store.List("alice"), 1)
	assert.Empty(t, env.store.List("bob"))
}

func TestAccountStore_InsertRemove(t *testing.T) {
	ctx := context.Background()
	persister := new(MockAccountPersister)
	persister.On("SaveAccount", mock.Anything, mock.Anything).Return(nil)
	persister.On("DeleteAccount", mock.Anything, "acc-fail").Return(errors.New("locked"))
	persister.On("DeleteAccount", mock.Anything, mock.Anything).Return(nil)

	store := NewAccountStore(persister, nil)
	acct := models.Account{ID: "acc-1", OwnerID: "alice", AccountNumber: "1234567890", Status: models.AccountClosed}
	require.NoError(t, store.Insert(ctx, acct))

	assert.ErrorIs(t, store.Insert(ctx, acct), ErrConflict)
	dup := acct
	dup.ID = "acc-2"
	assert.ErrorIs(t, store.Insert(ctx, dup), ErrConflict)

	removed, err := store.Remove(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "1234567890", removed.AccountNumber)
	_, err = store.GetByNumber("1234567890")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	failing := models.Account{ID: "acc-fail", OwnerID: "alice", AccountNumber: "2234567890"}
	require.NoError(t, store.Insert(ctx, failing))
	_, err = store.Remove(ctx, "acc-fail")
	require.Error(t, err)
	_, err = store.Get("acc-fail")
	assert.NoError(t, err)
}
