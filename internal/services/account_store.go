package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/ledgercore/internal/models"
	"go.uber.org/zap"
)

// AccountGuard vetoes a balance change on an account.
type AccountGuard func(models.Account) error

// AccountStore holds account records and their cached balances. Balances
// change only through the ledger so they stay a projection of completed
// entries.
type AccountStore struct {
	mu        sync.RWMutex
	accounts  map[string]*models.Account
	byNumber  map[string]string
	persister AccountPersister
	logger    *zap.Logger
	now       func() time.Time
}

func NewAccountStore(persister AccountPersister, logger *zap.Logger) *AccountStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountStore{
		accounts:  make(map[string]*models.Account),
		byNumber:  make(map[string]string),
		persister: persister,
		logger:    logger.With(zap.String("component", "AccountStore")),
		now:       time.Now,
	}
}

// CreateAccountRequest opens an account. The opening balance is always zero.
type CreateAccountRequest struct {
	OwnerID        string             `json:"owner_id" validate:"required,max=64"`
	Name           string             `json:"name" validate:"required,min=2,max=100"`
	Type           models.AccountType `json:"type" validate:"required,oneof=checking savings investment credit"`
	Currency       string             `json:"currency" validate:"omitempty,len=3"`
	MinimumBalance int64              `json:"minimum_balance" validate:"gte=-100000000000000,lte=100000000000000"`
	InterestRate   float64            `json:"interest_rate" validate:"gte=0,lte=100"`
}

func (s *AccountStore) Create(ctx context.Context, req CreateAccountRequest, currency string) (models.Account, error) {
	if req.Currency != "" {
		currency = strings.ToUpper(req.Currency)
	}
	now := s.now().UTC()

	s.mu.Lock()
	acct := &models.Account{
		ID:             uuid.New().String(),
		OwnerID:        req.OwnerID,
		Name:           req.Name,
		AccountNumber:  s.nextNumberLocked(),
		Type:           req.Type,
		Currency:       currency,
		Status:         models.AccountActive,
		MinimumBalance: req.MinimumBalance,
		InterestRate:   req.InterestRate,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.accounts[acct.ID] = acct
	s.byNumber[acct.AccountNumber] = acct.ID
	out := *acct
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.SaveAccount(ctx, out); err != nil {
			s.mu.Lock()
			delete(s.accounts, out.ID)
			delete(s.byNumber, out.AccountNumber)
			s.mu.Unlock()
			return models.Account{}, fmt.Errorf("failed to save account: %w", err)
		}
	}

	s.logger.Info("Account created",
		zap.String("account_id", out.ID),
		zap.String("owner_id", out.OwnerID),
		zap.String("type", string(out.Type)),
	)
	return out, nil
}

func (s *AccountStore) nextNumberLocked() string {
	for {
		n := fmt.Sprintf("%010d", rand.Int64N(10_000_000_000))
		if _, taken := s.byNumber[n]; !taken && n[0] != '0' {
			return n
		}
	}
}

func (s *AccountStore) Get(id string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	if !ok {
		return models.Account{}, fmt.Errorf("account %s: %w", id, ErrRecordNotFound)
	}
	return *acct, nil
}

func (s *AccountStore) GetByNumber(number string) (models.Account, error) {
	s.mu.RLock()
	id, ok := s.byNumber[number]
	s.mu.RUnlock()
	if !ok {
		return models.Account{}, fmt.Errorf("account number %s: %w", number, ErrRecordNotFound)
	}
	return s.Get(id)
}

// List returns the owner's accounts, or every account when ownerID is empty,
// oldest first.
func (s *AccountStore) List(ownerID string) []models.Account {
	s.mu.RLock()
	out := make([]models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if ownerID == "" || a.OwnerID == ownerID {
			out = append(out, *a)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// CheckDeltas reports whether ApplyDeltas would accept the deltas right now.
func (s *AccountStore) CheckDeltas(deltas map[string]int64, guard AccountGuard) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkLocked(deltas, guard)
}

// ApplyDeltas applies every delta or none. The guard runs against each
// touched account before anything changes.
func (s *AccountStore) ApplyDeltas(deltas map[string]int64, guard AccountGuard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(deltas, guard); err != nil {
		return err
	}

	now := s.now().UTC()
	for id, delta := range deltas {
		if delta == 0 {
			continue
		}
		acct := s.accounts[id]
		acct.Balance += delta
		acct.Version++
		acct.UpdatedAt = now
	}
	return nil
}

func (s *AccountStore) checkLocked(deltas map[string]int64, guard AccountGuard) error {
	for id, delta := range deltas {
		acct, ok := s.accounts[id]
		if !ok {
			return fmt.Errorf("account %s: %w", id, ErrRecordNotFound)
		}
		if guard != nil {
			if err := guard(*acct); err != nil {
				return err
			}
		}
		if _, ok := models.AddCents(acct.Balance, delta); !ok {
			return fmt.Errorf("balance of account %s out of range: %w", id, ErrInvalidRequest)
		}
	}
	return nil
}

func (s *AccountStore) SetStatus(ctx context.Context, id string, status models.AccountStatus) (models.Account, error) {
	s.mu.Lock()
	acct, ok := s.accounts[id]
	if !ok {
		s.mu.Unlock()
		return models.Account{}, fmt.Errorf("account %s: %w", id, ErrRecordNotFound)
	}
	prev := *acct
	acct.Status = status
	acct.Version++
	acct.UpdatedAt = s.now().UTC()
	out := *acct
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.SaveAccount(ctx, out); err != nil {
			s.mu.Lock()
			if cur, ok := s.accounts[id]; ok {
				cur.Status = prev.Status
				if cur.Version == out.Version {
					cur.Version, cur.UpdatedAt = prev.Version, prev.UpdatedAt
				}
			}
			s.mu.Unlock()
			return models.Account{}, fmt.Errorf("failed to save account status: %w", err)
		}
	}
	return out, nil
}

// MarkAccrued records the instant interest was last accrued up to.
func (s *AccountStore) MarkAccrued(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	acct, ok := s.accounts[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("account %s: %w", id, ErrRecordNotFound)
	}
	prev := acct.LastAccruedAt
	t := at.UTC()
	acct.LastAccruedAt = &t
	out := *acct
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.SaveAccount(ctx, out); err != nil {
			s.mu.Lock()
			if cur, ok := s.accounts[id]; ok {
				cur.LastAccruedAt = prev
			}
			s.mu.Unlock()
			return fmt.Errorf("failed to save accrual mark: %w", err)
		}
	}
	return nil
}

// Insert adds an existing account record, e.g. when restoring a tombstone.
func (s *AccountStore) Insert(ctx context.Context, acct models.Account) error {
	s.mu.Lock()
	if _, exists := s.accounts[acct.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("account %s: %w", acct.ID, ErrConflict)
	}
	if _, taken := s.byNumber[acct.AccountNumber]; taken {
		s.mu.Unlock()
		return fmt.Errorf("account number %s: %w", acct.AccountNumber, ErrConflict)
	}
	a := acct
	s.accounts[a.ID] = &a
	s.byNumber[a.AccountNumber] = a.ID
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.SaveAccount(ctx, acct); err != nil {
			s.mu.Lock()
			delete(s.accounts, acct.ID)
			delete(s.byNumber, acct.AccountNumber)
			s.mu.Unlock()
			return fmt.Errorf("failed to save account: %w", err)
		}
	}
	return nil
}

// Remove drops the account from the store and returns the removed record.
func (s *AccountStore) Remove(ctx context.Context, id string) (models.Account, error) {
	s.mu.Lock()
	acct, ok := s.accounts[id]
	if !ok {
		s.mu.Unlock()
		return models.Account{}, fmt.Errorf("account %s: %w", id, ErrRecordNotFound)
	}
	out := *acct
	delete(s.accounts, id)
	delete(s.byNumber, out.AccountNumber)
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.DeleteAccount(ctx, id); err != nil {
			s.mu.Lock()
			s.accounts[id] = &out
			s.byNumber[out.AccountNumber] = id
			s.mu.Unlock()
			return models.Account{}, fmt.Errorf("failed to delete account: %w", err)
		}
	}
	return out, nil
}

// Load replaces the store contents with hydrated records.
func (s *AccountStore) Load(accounts []models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = make(map[string]*models.Account, len(accounts))
	s.byNumber = make(map[string]string, len(accounts))
	for i := range accounts {
		a := accounts[i]
		s.accounts[a.ID] = &a
		s.byNumber[a.AccountNumber] = a.ID
	}
}
