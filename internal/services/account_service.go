package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ruralpay/ledgercore/internal/config"
	"github.com/ruralpay/ledgercore/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AccountService covers account lifecycle: opening, status changes,
// reconciliation and interest accrual.
type AccountService struct {
	store     *AccountStore
	ledger    *LedgerService
	audit     *AuditService
	locker    *AccountLocker
	validator *ValidationHelper
	policy    config.LedgerConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewAccountService(store *AccountStore, ledger *LedgerService, audit *AuditService, locker *AccountLocker, policy config.LedgerConfig, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{
		store:     store,
		ledger:    ledger,
		audit:     audit,
		locker:    locker,
		validator: NewValidationHelper(),
		policy:    policy,
		logger:    logger.With(zap.String("component", "AccountService")),
		now:       time.Now,
	}
}

// CreateAccount opens an account. Clients always open accounts for themselves.
func (s *AccountService) CreateAccount(ctx context.Context, id models.Identity, req CreateAccountRequest) (models.Account, error) {
	if !id.IsAdmin() {
		req.OwnerID = id.UserID
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		return models.Account{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	acct, err := s.store.Create(ctx, req, s.policy.Currency)
	if err != nil {
		return models.Account{}, err
	}
	s.audit.RecordAction(id, "account_created", "account", acct.ID, models.OutcomeSuccess,
		models.Metadata{"owner_id": acct.OwnerID, "type": string(acct.Type)})
	return acct, nil
}

func (s *AccountService) GetAccount(id models.Identity, accountID string) (models.Account, error) {
	acct, err := s.store.Get(accountID)
	if err != nil {
		return models.Account{}, err
	}
	if !id.CanAccess(acct.OwnerID) {
		return models.Account{}, ErrForbidden
	}
	return acct, nil
}

// ListAccounts lists ownerID's accounts; clients only ever see their own.
func (s *AccountService) ListAccounts(id models.Identity, ownerID string) []models.Account {
	if !id.IsAdmin() {
		ownerID = id.UserID
	}
	return s.store.List(ownerID)
}

// SetStatus suspends, closes or reactivates an account.
func (s *AccountService) SetStatus(ctx context.Context, id models.Identity, accountID string, status models.AccountStatus, reason string) (models.Account, error) {
	if !id.IsAdmin() {
		return models.Account{}, ErrForbidden
	}
	switch status {
	case models.AccountActive, models.AccountSuspended, models.AccountClosed:
	default:
		return models.Account{}, fmt.Errorf("unknown status %q: %w", status, ErrInvalidRequest)
	}

	unlock := s.locker.Lock(accountID)
	defer unlock()

	current, err := s.store.Get(accountID)
	if err != nil {
		return models.Account{}, err
	}
	if current.Status == models.AccountClosed && status != models.AccountClosed {
		return models.Account{}, fmt.Errorf("account %s is closed: %w", accountID, ErrInvalidState)
	}
	acct, err := s.store.SetStatus(ctx, accountID, status)
	if err != nil {
		return models.Account{}, err
	}

	action := "account_" + statusVerb(status)
	s.audit.RecordAction(id, action, "account", accountID, models.OutcomeSuccess,
		models.Metadata{"from": string(current.Status), "to": string(status), "reason": reason})
	return acct, nil
}

func statusVerb(s models.AccountStatus) string {
	switch s {
	case models.AccountSuspended:
		return "suspended"
	case models.AccountClosed:
		return "closed"
	}
	return "activated"
}

// Reconcile repairs drift between the cached balance and the ledger.
func (s *AccountService) Reconcile(ctx context.Context, id models.Identity, accountID string) (int64, error) {
	if !id.IsAdmin() {
		return 0, ErrForbidden
	}
	unlock := s.locker.Lock(accountID)
	defer unlock()

	drift, err := s.ledger.Reconcile(ctx, accountID)
	if err != nil {
		return drift, err
	}
	if drift != 0 {
		s.audit.RecordAction(id, "balance_reconciled", "account", accountID, models.OutcomeSuccess,
			models.Metadata{"drift": drift})
	}
	return drift, nil
}

// ReconcileAll reconciles every account and returns how many had drifted.
func (s *AccountService) ReconcileAll(ctx context.Context) (int, error) {
	drifted := 0
	var errs []error
	for _, a := range s.store.List("") {
		drift, err := s.Reconcile(ctx, models.SystemIdentity, a.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if drift != 0 {
			drifted++
		}
	}
	return drifted, errors.Join(errs...)
}

// InterestFor computes simple interest on balance at an annual rate (percent)
// for the given number of days, rounded half-even to the minor unit.
func InterestFor(balance int64, annualRate float64, days int) int64 {
	if balance <= 0 || annualRate <= 0 || days <= 0 {
		return 0
	}
	v := decimal.NewFromInt(balance).
		Mul(decimal.NewFromFloat(annualRate)).
		Mul(decimal.NewFromInt(int64(days))).
		Div(decimal.NewFromInt(36500)).
		RoundBank(0)
	return v.IntPart()
}

// AccrueInterest credits interest for whole days elapsed since each eligible
// account last accrued.
func (s *AccountService) AccrueInterest(ctx context.Context, now time.Time) (int, error) {
	credited := 0
	var errs []error
	for _, a := range s.store.List("") {
		if !a.AcceptsInterest() || a.Status != models.AccountActive {
			continue
		}
		ok, err := s.accrueOne(ctx, a.ID, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			credited++
		}
	}
	return credited, errors.Join(errs...)
}

func (s *AccountService) accrueOne(ctx context.Context, accountID string, now time.Time) (bool, error) {
	unlock := s.locker.Lock(accountID)
	defer unlock()

	acct, err := s.store.Get(accountID)
	if err != nil {
		return false, err
	}
	since := acct.CreatedAt
	if acct.LastAccruedAt != nil {
		since = *acct.LastAccruedAt
	}
	days := int(now.Sub(since) / (24 * time.Hour))
	if days < 1 {
		return false, nil
	}
	accruedTo := since.Add(time.Duration(days) * 24 * time.Hour)

	interest := InterestFor(acct.Balance, acct.InterestRate, days)
	if interest > 0 {
		entry, err := s.ledger.Append(ctx, models.LedgerEntry{
			AccountID:   acct.ID,
			Type:        models.EntryDeposit,
			Amount:      interest,
			Description: fmt.Sprintf("Interest for %d day(s) at %.2f%%", days, acct.InterestRate),
			Category:    models.CategoryInterest,
			Metadata:    models.Metadata{"days": days, "rate": acct.InterestRate},
		})
		if err != nil {
			return false, err
		}
		if _, err := s.ledger.CompleteAll(ctx, []string{entry.ID}, activeGuard("interest", "")); err != nil {
			return false, err
		}
		s.audit.RecordAction(models.SystemIdentity, "interest_accrued", "account", acct.ID, models.OutcomeSuccess,
			models.Metadata{"amount": interest, "days": days, "entry_id": entry.ID})
	}
	if err := s.store.MarkAccrued(ctx, acct.ID, accruedTo); err != nil {
		return interest > 0, err
	}
	return interest > 0, nil
}
