package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/ledgercore/internal/config"
	"github.com/ruralpay/ledgercore/internal/models"
	"go.uber.org/zap"
)

const (
	metaHold       = "hold"
	metaHoldUntil  = "hold_until"
	metaHoldReason = "hold_reason"
)

// TransactionService validates and applies money movements. Every mutation of
// an account happens while its lock from the shared AccountLocker is held.
type TransactionService struct {
	store     *AccountStore
	ledger    *LedgerService
	audit     *AuditService
	locker    *AccountLocker
	validator *ValidationHelper
	policy    config.LedgerConfig
	risk      RiskScorer
	logger    *zap.Logger
	now       func() time.Time
}

func NewTransactionService(store *AccountStore, ledger *LedgerService, audit *AuditService, locker *AccountLocker, policy config.LedgerConfig, logger *zap.Logger) *TransactionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransactionService{
		store:     store,
		ledger:    ledger,
		audit:     audit,
		locker:    locker,
		validator: NewValidationHelper(),
		policy:    policy,
		risk:      NewThresholdRiskScorer(policy.LargeDepositThreshold, policy.Location()),
		logger:    logger.With(zap.String("component", "TransactionProcessor")),
		now:       time.Now,
	}
}

// SetRiskScorer swaps the advisory scoring strategy.
func (ts *TransactionService) SetRiskScorer(r RiskScorer) {
	ts.risk = r
}

type TransactionRequest struct {
	Type        models.EntryType `json:"type" validate:"required,oneof=deposit withdrawal transfer payment fee"`
	AccountID   string           `json:"account_id" validate:"required"`
	ToAccountID string           `json:"to_account_id,omitempty"`
	Amount      int64            `json:"amount" validate:"required,gt=0,lte=100000000000000"`
	Description string           `json:"description" validate:"max=255"`
	Category    string           `json:"category,omitempty" validate:"max=64"`
	Metadata    models.Metadata  `json:"metadata,omitempty"`
}

type TransactionResult struct {
	Entry       models.LedgerEntry  `json:"entry"`
	Counterpart *models.LedgerEntry `json:"counterpart,omitempty"`
	Fee         *models.LedgerEntry `json:"fee,omitempty"`
	Held        bool                `json:"held"`
	Risk        RiskAssessment      `json:"risk"`
}

func isDebit(t models.EntryType) bool {
	return t == models.EntryWithdrawal || t == models.EntryTransfer || t == models.EntryPayment || t == models.EntryFee
}

func countsTowardDailyLimit(t models.EntryType) bool {
	return t == models.EntryWithdrawal || t == models.EntryTransfer
}

// FeeFor returns the fee the request would incur under the current policy.
func (ts *TransactionService) FeeFor(req TransactionRequest) int64 {
	switch req.Type {
	case models.EntryWithdrawal:
		if req.Amount > ts.policy.WithdrawalFeeThreshold {
			return ts.policy.WithdrawalFee
		}
	case models.EntryPayment:
		if req.Amount > ts.policy.PaymentFeeThreshold {
			return ts.policy.PaymentFee
		}
	}
	return 0
}

func (ts *TransactionService) dayBounds(at time.Time) (time.Time, time.Time) {
	loc := ts.policy.Location()
	t := at.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// Submit validates the request in order (account, funds, daily limit,
// destination) and applies it. Exactly one audit event is recorded whatever
// the outcome.
func (ts *TransactionService) Submit(ctx context.Context, id models.Identity, req TransactionRequest) (res *TransactionResult, err error) {
	// Once accepted, a submission runs to a terminal state even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	at := ts.now()
	risk := ts.risk(req, at)
	reference := uuid.New().String()

	defer func() {
		ts.auditSubmission(id, req, reference, risk, res, err)
	}()

	if verr := ts.validator.ValidateStruct(&req); verr != nil {
		return nil, txError("submit", req.AccountID, ErrInvalidRequest, "%v", verr)
	}
	if req.Type == models.EntryFee && !id.IsAdmin() {
		return nil, txError("fee", req.AccountID, ErrForbidden, "fee entries are administrative")
	}

	var destKey string
	if req.Type == models.EntryTransfer {
		destKey = req.ToAccountID
	}
	unlock := ts.locker.Lock(req.AccountID, destKey)
	defer unlock()

	op := string(req.Type)
	acct, err := ts.store.Get(req.AccountID)
	if err != nil {
		return nil, txError(op, req.AccountID, ErrRecordNotFound, "")
	}
	if !id.CanAccess(acct.OwnerID) {
		return nil, txError(op, acct.ID, ErrForbidden, "")
	}
	if acct.Status != models.AccountActive {
		return nil, txError(op, acct.ID, ErrAccountUnavailable, "account is %s", acct.Status)
	}

	fee := ts.FeeFor(req)
	required, ok := models.AddCents(req.Amount, fee)
	if !ok {
		return nil, txError(op, acct.ID, ErrInvalidRequest, "amount out of range")
	}
	if isDebit(req.Type) && acct.Available() < required {
		return nil, txError(op, acct.ID, ErrInsufficientFunds, "available %d, required %d", acct.Available(), required)
	}

	if countsTowardDailyLimit(req.Type) {
		from, to := ts.dayBounds(at)
		used := ts.ledger.DailyOutflow(acct.ID, from, to)
		if total, ok := models.AddCents(used, req.Amount); !ok || total > ts.policy.DailyLimit {
			return nil, txError(op, acct.ID, ErrDailyLimitExceeded, "used %d of %d", used, ts.policy.DailyLimit)
		}
	}

	if req.Type == models.EntryTransfer {
		if req.ToAccountID == "" || req.ToAccountID == acct.ID {
			return nil, txError(op, acct.ID, ErrInvalidDestination, "destination must differ from source")
		}
		dest, derr := ts.store.Get(req.ToAccountID)
		if derr != nil {
			return nil, txError(op, acct.ID, ErrInvalidDestination, "destination %s not found", req.ToAccountID)
		}
		if dest.Status != models.AccountActive {
			return nil, txError(op, acct.ID, ErrInvalidDestination, "destination is %s", dest.Status)
		}
	}

	switch req.Type {
	case models.EntryDeposit:
		res, err = ts.deposit(ctx, req, reference, at)
	case models.EntryTransfer:
		res, err = ts.transfer(ctx, req, reference)
	default:
		res, err = ts.debit(ctx, req, reference, fee)
	}
	if err != nil {
		return nil, err
	}
	res.Risk = risk
	return res, nil
}

func activeGuard(op, destination string) AccountGuard {
	return func(a models.Account) error {
		if a.Status == models.AccountActive {
			return nil
		}
		if destination != "" && a.ID == destination {
			return txError(op, a.ID, ErrInvalidDestination, "destination became %s", a.Status)
		}
		return txError(op, a.ID, ErrAccountUnavailable, "account became %s", a.Status)
	}
}

func (ts *TransactionService) deposit(ctx context.Context, req TransactionRequest, reference string, at time.Time) (*TransactionResult, error) {
	entry := models.LedgerEntry{
		AccountID:   req.AccountID,
		Type:        models.EntryDeposit,
		Amount:      req.Amount,
		Description: req.Description,
		Category:    req.Category,
		Reference:   reference,
		Metadata:    req.Metadata.Clone(),
	}

	held := req.Amount > ts.policy.LargeDepositThreshold
	if held {
		if entry.Metadata == nil {
			entry.Metadata = models.Metadata{}
		}
		entry.Metadata[metaHold] = true
		entry.Metadata[metaHoldUntil] = at.Add(ts.policy.DepositHoldPeriod).UTC().Format(time.RFC3339)
		entry.Metadata[metaHoldReason] = "large_deposit"
	}

	appended, err := ts.ledger.Append(ctx, entry)
	if err != nil {
		return nil, err
	}
	if held {
		ts.logger.Info("Deposit held for review",
			zap.String("entry_id", appended.ID),
			zap.String("account_id", appended.AccountID),
			zap.Int64("amount", appended.Amount),
		)
		return &TransactionResult{Entry: appended, Held: true}, nil
	}

	done, err := ts.ledger.CompleteAll(ctx, []string{appended.ID}, activeGuard("deposit", ""))
	if err != nil {
		return nil, err
	}
	return &TransactionResult{Entry: pick(done, appended.ID)}, nil
}

func (ts *TransactionService) debit(ctx context.Context, req TransactionRequest, reference string, fee int64) (*TransactionResult, error) {
	main := models.LedgerEntry{
		ID:          uuid.New().String(),
		AccountID:   req.AccountID,
		Type:        req.Type,
		Amount:      -req.Amount,
		Description: req.Description,
		Category:    req.Category,
		Reference:   reference,
		Metadata:    req.Metadata.Clone(),
	}
	if main.Category == "" && req.Type == models.EntryFee {
		main.Category = models.CategoryFee
	}
	batch := []models.LedgerEntry{main}
	if fee > 0 {
		batch = append(batch, models.LedgerEntry{
			ID:          uuid.New().String(),
			AccountID:   req.AccountID,
			Type:        models.EntryFee,
			Amount:      -fee,
			Description: fmt.Sprintf("%s fee", req.Type),
			Category:    models.CategoryFee,
			Reference:   reference,
			ParentID:    main.ID,
		})
	}

	appended, err := ts.ledger.AppendBatch(ctx, batch)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(appended))
	for i, e := range appended {
		ids[i] = e.ID
	}
	done, err := ts.ledger.CompleteAll(ctx, ids, activeGuard(string(req.Type), ""))
	if err != nil {
		return nil, err
	}

	res := &TransactionResult{Entry: pick(done, main.ID)}
	if fee > 0 {
		f := pick(done, batch[1].ID)
		res.Fee = &f
	}
	return res, nil
}

func (ts *TransactionService) transfer(ctx context.Context, req TransactionRequest, reference string) (*TransactionResult, error) {
	opts := []EntryOption{WithReference(reference), WithMetadata(req.Metadata)}
	if req.Category != "" {
		opts = append(opts, WithCategory(req.Category))
	}
	debit, credit, err := ts.ledger.AppendTransferPair(ctx, req.AccountID, req.ToAccountID, req.Amount, req.Description, opts...)
	if err != nil {
		return nil, err
	}
	done, err := ts.ledger.CompleteAll(ctx, []string{debit.ID}, activeGuard("transfer", req.ToAccountID))
	if err != nil {
		return nil, err
	}
	cp := pick(done, credit.ID)
	return &TransactionResult{Entry: pick(done, debit.ID), Counterpart: &cp}, nil
}

func (ts *TransactionService) auditSubmission(id models.Identity, req TransactionRequest, reference string, risk RiskAssessment, res *TransactionResult, err error) {
	details := models.Metadata{
		"type":            string(req.Type),
		"account_id":      req.AccountID,
		"amount":          req.Amount,
		"reference":       reference,
		"risk_score":      risk.Score,
		"risk_level":      string(risk.Level),
		"requires_review": risk.RequiresReview,
	}
	if len(risk.Factors) > 0 {
		details["risk_factors"] = risk.Factors
	}
	if req.ToAccountID != "" {
		details["to_account_id"] = req.ToAccountID
	}

	if err != nil {
		details["error"] = err.Error()
		details["code"] = ErrorCode(err)
		ts.audit.RecordAction(id, "transaction_failed", "transaction", req.AccountID, models.OutcomeFailure, details)
		ts.logger.Info("Transaction rejected",
			zap.String("type", string(req.Type)),
			zap.String("account_id", req.AccountID),
			zap.String("code", ErrorCode(err)),
		)
		return
	}

	details["status"] = string(res.Entry.Status)
	details["held"] = res.Held
	if res.Fee != nil {
		details["fee"] = -res.Fee.Amount
	}
	ts.audit.RecordAction(id, "transaction_"+string(req.Type), "transaction", res.Entry.ID, models.OutcomeSuccess, details)
}

func isHeld(e models.LedgerEntry) bool {
	held, _ := e.Metadata[metaHold].(bool)
	return e.Type == models.EntryDeposit && e.Status == models.EntryPending && held
}

// ReleaseHold completes a held deposit.
func (ts *TransactionService) ReleaseHold(ctx context.Context, id models.Identity, entryID string) (models.LedgerEntry, error) {
	ctx = context.WithoutCancel(ctx)
	if !id.IsAdmin() {
		return models.LedgerEntry{}, ErrForbidden
	}
	entry, err := ts.ledger.Get(entryID)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	if !isHeld(entry) {
		return models.LedgerEntry{}, txError("release_hold", entry.AccountID, ErrInvalidState, "entry %s is not a held deposit", entryID)
	}

	unlock := ts.locker.Lock(entry.AccountID)
	defer unlock()

	notClosed := func(a models.Account) error {
		if a.Status == models.AccountClosed {
			return txError("release_hold", a.ID, ErrAccountUnavailable, "account is closed")
		}
		return nil
	}
	done, err := ts.ledger.CompleteAll(ctx, []string{entryID}, notClosed)
	if err != nil {
		ts.audit.RecordAction(id, "deposit_hold_release_failed", "transaction", entryID, models.OutcomeFailure,
			models.Metadata{"account_id": entry.AccountID, "amount": entry.Amount, "error": err.Error()})
		return models.LedgerEntry{}, err
	}
	released := pick(done, entryID)
	ts.audit.RecordAction(id, "deposit_hold_released", "transaction", entryID, models.OutcomeSuccess,
		models.Metadata{"account_id": entry.AccountID, "amount": entry.Amount})
	return released, nil
}

// RejectHold cancels a held deposit; no balance moves.
func (ts *TransactionService) RejectHold(ctx context.Context, id models.Identity, entryID, reason string) (models.LedgerEntry, error) {
	ctx = context.WithoutCancel(ctx)
	if !id.IsAdmin() {
		return models.LedgerEntry{}, ErrForbidden
	}
	entry, err := ts.ledger.Get(entryID)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	if !isHeld(entry) {
		return models.LedgerEntry{}, txError("reject_hold", entry.AccountID, ErrInvalidState, "entry %s is not a held deposit", entryID)
	}

	unlock := ts.locker.Lock(entry.AccountID)
	defer unlock()

	cancelled, err := ts.ledger.Cancel(ctx, entryID, reason)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	ts.audit.RecordAction(id, "deposit_hold_rejected", "transaction", entryID, models.OutcomeSuccess,
		models.Metadata{"account_id": entry.AccountID, "amount": entry.Amount, "reason": reason})
	return cancelled, nil
}

// ReleaseMaturedHolds releases every held deposit whose hold expired by now.
func (ts *TransactionService) ReleaseMaturedHolds(ctx context.Context, now time.Time) (int, error) {
	pending := ts.ledger.Query(EntryFilter{Type: models.EntryDeposit, Status: models.EntryPending})
	released := 0
	var errs []error
	for _, e := range pending {
		if !isHeld(e) {
			continue
		}
		until, err := time.Parse(time.RFC3339, fmt.Sprint(e.Metadata[metaHoldUntil]))
		if err != nil || until.After(now) {
			continue
		}
		if _, err := ts.ReleaseHold(ctx, models.SystemIdentity, e.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		released++
	}
	return released, errors.Join(errs...)
}

// Reverse appends compensating entries for a completed entry. Transfers are
// reversed as a new pair. Account status and funds are not checked.
func (ts *TransactionService) Reverse(ctx context.Context, id models.Identity, entryID, reason string) (*TransactionResult, error) {
	ctx = context.WithoutCancel(ctx)
	if !id.IsAdmin() {
		return nil, ErrForbidden
	}
	original, err := ts.ledger.Get(entryID)
	if err != nil {
		return nil, err
	}

	var counterpart models.LedgerEntry
	if original.CounterpartID != "" {
		if counterpart, err = ts.ledger.Get(original.CounterpartID); err != nil {
			return nil, err
		}
	}

	unlock := ts.locker.Lock(original.AccountID, counterpart.AccountID)
	defer unlock()

	if original, err = ts.ledger.Get(entryID); err != nil {
		return nil, err
	}
	if original.Status != models.EntryCompleted {
		return nil, txError("reverse", original.AccountID, ErrInvalidState, "entry is %s", original.Status)
	}
	if original.Category == models.CategoryReversal {
		return nil, txError("reverse", original.AccountID, ErrInvalidState, "entry is itself a reversal")
	}
	if len(ts.ledger.Query(EntryFilter{ParentID: original.ID, Category: models.CategoryReversal, Limit: 1})) > 0 {
		return nil, txError("reverse", original.AccountID, ErrInvalidState, "entry already reversed")
	}

	meta := models.Metadata{"reason": reason, "reversed_by": id.UserID}
	var res *TransactionResult
	if original.CounterpartID == "" {
		res, err = ts.reverseSingle(ctx, original, meta)
	} else {
		res, err = ts.reversePair(ctx, original, counterpart, meta)
	}

	details := models.Metadata{"original_entry": entryID, "account_id": original.AccountID, "amount": -original.Amount, "reason": reason}
	if err != nil {
		details["error"] = err.Error()
		ts.audit.RecordAction(id, "transaction_reversal_failed", "transaction", entryID, models.OutcomeFailure, details)
		return nil, err
	}
	ts.audit.RecordAction(id, "transaction_reversed", "transaction", res.Entry.ID, models.OutcomeSuccess, details)
	return res, nil
}

func (ts *TransactionService) reverseSingle(ctx context.Context, original models.LedgerEntry, meta models.Metadata) (*TransactionResult, error) {
	appended, err := ts.ledger.Append(ctx, models.LedgerEntry{
		AccountID:   original.AccountID,
		Type:        original.Type,
		Amount:      -original.Amount,
		Description: "Reversal of " + original.ID,
		Category:    models.CategoryReversal,
		Reference:   original.Reference,
		ParentID:    original.ID,
		Metadata:    meta,
	})
	if err != nil {
		return nil, err
	}
	done, err := ts.ledger.CompleteAll(ctx, []string{appended.ID}, nil)
	if err != nil {
		return nil, err
	}
	return &TransactionResult{Entry: pick(done, appended.ID)}, nil
}

func (ts *TransactionService) reversePair(ctx context.Context, original, counterpart models.LedgerEntry, meta models.Metadata) (*TransactionResult, error) {
	if counterpart.Status != models.EntryCompleted {
		return nil, txError("reverse", counterpart.AccountID, ErrInvalidState, "counterpart is %s", counterpart.Status)
	}
	oDebit, oCredit := original, counterpart
	if oDebit.Amount > 0 {
		oDebit, oCredit = counterpart, original
	}

	debit := models.LedgerEntry{
		AccountID:   oCredit.AccountID,
		Type:        models.EntryTransfer,
		Amount:      -oCredit.Amount,
		Description: "Reversal of " + oCredit.ID,
		Category:    models.CategoryReversal,
		ParentID:    oCredit.ID,
		Metadata:    meta,
	}
	credit := models.LedgerEntry{
		AccountID:   oDebit.AccountID,
		Type:        models.EntryTransfer,
		Amount:      -oDebit.Amount,
		Description: "Reversal of " + oDebit.ID,
		Category:    models.CategoryReversal,
		ParentID:    oDebit.ID,
		Metadata:    meta,
	}
	d, c, err := ts.ledger.AppendPair(ctx, debit, credit)
	if err != nil {
		return nil, err
	}
	done, err := ts.ledger.CompleteAll(ctx, []string{d.ID}, nil)
	if err != nil {
		return nil, err
	}
	cp := pick(done, c.ID)
	return &TransactionResult{Entry: pick(done, d.ID), Counterpart: &cp}, nil
}

// GetEntry is the status query callers use after a timeout.
func (ts *TransactionService) GetEntry(id models.Identity, entryID string) (models.LedgerEntry, error) {
	e, err := ts.ledger.Get(entryID)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	if !id.CanAccess(e.ClientID) {
		return models.LedgerEntry{}, ErrForbidden
	}
	return e, nil
}

// EntriesByReference returns every entry of one submission the caller may see.
func (ts *TransactionService) EntriesByReference(id models.Identity, ref string) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	for _, e := range ts.ledger.EntriesByReference(ref) {
		if id.CanAccess(e.ClientID) {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("reference %s: %w", ref, ErrRecordNotFound)
	}
	return out, nil
}

// ListEntries lists an account's entries newest first.
func (ts *TransactionService) ListEntries(id models.Identity, f EntryFilter) ([]models.LedgerEntry, error) {
	if f.AccountID != "" {
		acct, err := ts.store.Get(f.AccountID)
		if err != nil {
			return nil, err
		}
		if !id.CanAccess(acct.OwnerID) {
			return nil, ErrForbidden
		}
	} else if !id.IsAdmin() {
		f.ClientID = id.UserID
	}
	return ts.ledger.Query(f), nil
}
