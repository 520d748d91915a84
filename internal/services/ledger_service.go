package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/ledgercore/internal/models"
	"go.uber.org/zap"
)

// LedgerService is the append-only log of entries and the only writer of
// account balances. Transfer legs are linked through CounterpartID and every
// status transition applies to both legs under one write lock.
//
// Writes are persisted before they are applied in memory, and the write lock
// is never held across a persister call. Entries being written are marked in
// flight so no second transition can claim them meanwhile.
type LedgerService struct {
	mu           sync.RWMutex
	seq          uint64
	inflight     map[string]bool
	entries      map[string]*models.LedgerEntry
	order        []*models.LedgerEntry
	byAccount    map[string][]*models.LedgerEntry
	byReference  map[string][]*models.LedgerEntry
	completedSum map[string]int64

	store     *AccountStore
	persister EntryPersister
	logger    *zap.Logger
	now       func() time.Time
}

func NewLedgerService(store *AccountStore, persister EntryPersister, logger *zap.Logger) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{
		inflight:     make(map[string]bool),
		entries:      make(map[string]*models.LedgerEntry),
		byAccount:    make(map[string][]*models.LedgerEntry),
		byReference:  make(map[string][]*models.LedgerEntry),
		completedSum: make(map[string]int64),
		store:        store,
		persister:    persister,
		logger:       logger.With(zap.String("component", "Ledger")),
		now:          time.Now,
	}
}

// EntryOption adjusts an entry before it is appended.
type EntryOption func(*models.LedgerEntry)

func WithMetadata(m models.Metadata) EntryOption {
	return func(e *models.LedgerEntry) {
		if len(m) == 0 {
			return
		}
		if e.Metadata == nil {
			e.Metadata = models.Metadata{}
		}
		for k, v := range m {
			e.Metadata[k] = v
		}
	}
}

func WithCategory(category string) EntryOption {
	return func(e *models.LedgerEntry) { e.Category = category }
}

func WithReference(ref string) EntryOption {
	return func(e *models.LedgerEntry) { e.Reference = ref }
}

// Append records a single pending entry.
func (l *LedgerService) Append(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error) {
	out, err := l.AppendBatch(ctx, []models.LedgerEntry{entry})
	if err != nil {
		return models.LedgerEntry{}, err
	}
	return out[0], nil
}

// AppendBatch records several pending entries at once; either all are
// appended or none.
func (l *LedgerService) AppendBatch(ctx context.Context, batch []models.LedgerEntry) ([]models.LedgerEntry, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("empty batch: %w", ErrInvalidRequest)
	}
	ctx = context.WithoutCancel(ctx)

	now := l.now().UTC()
	prepared := make([]models.LedgerEntry, len(batch))
	for i, e := range batch {
		if e.Amount == 0 {
			return nil, fmt.Errorf("entry amount must be non-zero: %w", ErrInvalidRequest)
		}
		if e.Amount > models.MaxAmount || e.Amount < -models.MaxAmount {
			return nil, fmt.Errorf("entry amount %d out of range: %w", e.Amount, ErrInvalidRequest)
		}
		if !validEntryType(e.Type) {
			return nil, fmt.Errorf("unknown entry type %q: %w", e.Type, ErrInvalidRequest)
		}
		acct, err := l.store.Get(e.AccountID)
		if err != nil {
			return nil, err
		}
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.ClientID == "" {
			e.ClientID = acct.OwnerID
		}
		if e.Category == "" {
			e.Category = defaultCategory(e.Type)
		}
		e.Metadata = e.Metadata.Clone()
		e.Status = models.EntryPending
		e.CreatedAt = now
		e.CompletedAt = nil
		e.FailureReason = ""
		prepared[i] = e
	}

	l.mu.Lock()
	for _, e := range prepared {
		if _, exists := l.entries[e.ID]; exists || l.inflight[e.ID] {
			l.mu.Unlock()
			return nil, fmt.Errorf("entry %s: %w", e.ID, ErrConflict)
		}
	}
	for i := range prepared {
		l.seq++
		prepared[i].Seq = l.seq
		l.inflight[prepared[i].ID] = true
	}
	l.mu.Unlock()

	if l.persister != nil {
		if err := l.persister.SaveEntries(ctx, prepared, nil); err != nil {
			l.mu.Lock()
			l.releaseLocked(prepared)
			l.mu.Unlock()
			return nil, fmt.Errorf("failed to persist entries: %w", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked(prepared)
	out := make([]models.LedgerEntry, len(prepared))
	for i := range prepared {
		e := prepared[i]
		l.insertLocked(&e)
		out[i] = e.Clone()
	}
	return out, nil
}

func (l *LedgerService) releaseLocked(entries []models.LedgerEntry) {
	for _, e := range entries {
		delete(l.inflight, e.ID)
	}
}

// AppendPair links a debit and a credit leg as one transfer pair.
func (l *LedgerService) AppendPair(ctx context.Context, debit, credit models.LedgerEntry) (models.LedgerEntry, models.LedgerEntry, error) {
	if debit.Amount >= 0 || credit.Amount <= 0 || -debit.Amount != credit.Amount {
		return models.LedgerEntry{}, models.LedgerEntry{}, fmt.Errorf("transfer legs must balance: %w", ErrInvalidRequest)
	}
	if debit.AccountID == credit.AccountID {
		return models.LedgerEntry{}, models.LedgerEntry{}, fmt.Errorf("transfer legs share account %s: %w", debit.AccountID, ErrInvalidDestination)
	}

	if debit.ID == "" {
		debit.ID = uuid.New().String()
	}
	if credit.ID == "" {
		credit.ID = uuid.New().String()
	}
	ref := debit.Reference
	if ref == "" {
		ref = credit.Reference
	}
	if ref == "" {
		ref = uuid.New().String()
	}
	debit.Reference, credit.Reference = ref, ref
	debit.CounterpartID, credit.CounterpartID = credit.ID, debit.ID
	debit.CounterAccountID, credit.CounterAccountID = credit.AccountID, debit.AccountID

	out, err := l.AppendBatch(ctx, []models.LedgerEntry{debit, credit})
	if err != nil {
		return models.LedgerEntry{}, models.LedgerEntry{}, err
	}
	return out[0], out[1], nil
}

// AppendTransferPair appends a pending debit on from and credit on to.
func (l *LedgerService) AppendTransferPair(ctx context.Context, from, to string, amount int64, description string, opts ...EntryOption) (models.LedgerEntry, models.LedgerEntry, error) {
	if amount <= 0 {
		return models.LedgerEntry{}, models.LedgerEntry{}, fmt.Errorf("transfer amount must be positive: %w", ErrInvalidRequest)
	}
	debit := models.LedgerEntry{
		AccountID:   from,
		Type:        models.EntryTransfer,
		Amount:      -amount,
		Description: description,
		Category:    models.CategoryTransfer,
	}
	credit := models.LedgerEntry{
		AccountID:   to,
		Type:        models.EntryTransfer,
		Amount:      amount,
		Description: description,
		Category:    models.CategoryTransfer,
	}
	for _, opt := range opts {
		opt(&debit)
		opt(&credit)
	}
	return l.AppendPair(ctx, debit, credit)
}

func (l *LedgerService) Complete(ctx context.Context, id string) (models.LedgerEntry, error) {
	out, err := l.CompleteAll(ctx, []string{id}, nil)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	return pick(out, id), nil
}

// CompleteAll completes the entries and any linked transfer legs in one
// commit. If the guard rejects an account or persistence fails, every entry
// in the set is failed instead and no balance moves.
func (l *LedgerService) CompleteAll(ctx context.Context, ids []string, guard AccountGuard) ([]models.LedgerEntry, error) {
	return l.transition(ctx, ids, models.EntryCompleted, "", guard)
}

func (l *LedgerService) Fail(ctx context.Context, id, reason string) (models.LedgerEntry, error) {
	out, err := l.transition(ctx, []string{id}, models.EntryFailed, reason, nil)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	return pick(out, id), nil
}

func (l *LedgerService) FailAll(ctx context.Context, ids []string, reason string) ([]models.LedgerEntry, error) {
	return l.transition(ctx, ids, models.EntryFailed, reason, nil)
}

func (l *LedgerService) Cancel(ctx context.Context, id, reason string) (models.LedgerEntry, error) {
	out, err := l.transition(ctx, []string{id}, models.EntryCancelled, reason, nil)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	return pick(out, id), nil
}

func (l *LedgerService) transition(ctx context.Context, ids []string, target models.EntryStatus, reason string, guard AccountGuard) ([]models.LedgerEntry, error) {
	ctx = context.WithoutCancel(ctx)
	now := l.now().UTC()

	l.mu.Lock()
	set, err := l.expandLocked(ids)
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}

	var deltas map[string]int64
	if target == models.EntryCompleted {
		deltas, err = sumDeltas(set)
		if err == nil {
			err = l.store.CheckDeltas(deltas, guard)
		}
		if err != nil {
			failed := l.failLocked(set, err.Error())
			l.mu.Unlock()
			l.persistFailed(ctx, failed, err.Error(), now)
			return nil, err
		}
	}

	updated := make([]models.LedgerEntry, len(set))
	for i, e := range set {
		u := e.Clone()
		u.Status = target
		switch target {
		case models.EntryCompleted:
			t := now
			u.CompletedAt = &t
		default:
			u.FailureReason = reason
		}
		updated[i] = u
	}
	for _, u := range updated {
		l.inflight[u.ID] = true
	}
	l.mu.Unlock()

	if l.persister != nil {
		if err := l.persister.SaveEntries(ctx, updated, deltas); err != nil {
			l.mu.Lock()
			l.releaseLocked(updated)
			var failed []models.LedgerEntry
			if deltas != nil {
				failed = l.failLocked(set, "persistence failure")
			}
			l.mu.Unlock()
			l.persistFailed(ctx, failed, "persistence failure", now)
			return nil, fmt.Errorf("failed to persist entries: %w", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked(updated)
	if deltas != nil {
		if err := l.store.ApplyDeltas(deltas, nil); err != nil {
			l.logger.Error("Persisted balance change could not be applied in memory",
				zap.Error(err),
				zap.Int("entries", len(set)),
			)
			return nil, err
		}
	}
	for i, e := range set {
		*e = updated[i].Clone()
		if target == models.EntryCompleted {
			l.completedSum[e.AccountID] += e.Amount
		}
	}
	l.seq++

	out := make([]models.LedgerEntry, len(set))
	for i, e := range set {
		out[i] = e.Clone()
	}
	return out, nil
}

func sumDeltas(set []*models.LedgerEntry) (map[string]int64, error) {
	deltas := make(map[string]int64)
	for _, e := range set {
		sum, ok := models.AddCents(deltas[e.AccountID], e.Amount)
		if !ok {
			return nil, fmt.Errorf("net change on account %s out of range: %w", e.AccountID, ErrInvalidRequest)
		}
		deltas[e.AccountID] = sum
	}
	return deltas, nil
}

// expandLocked resolves ids plus their transfer counterparts and checks that
// all of them are still pending and not claimed by another write.
func (l *LedgerService) expandLocked(ids []string) ([]*models.LedgerEntry, error) {
	seen := make(map[string]bool)
	var set []*models.LedgerEntry
	add := func(id string) error {
		if seen[id] {
			return nil
		}
		e, ok := l.entries[id]
		if !ok {
			return fmt.Errorf("entry %s: %w", id, ErrRecordNotFound)
		}
		if e.Status != models.EntryPending {
			return fmt.Errorf("entry %s is %s: %w", id, e.Status, ErrInvalidState)
		}
		if l.inflight[id] {
			return fmt.Errorf("entry %s is being written: %w", id, ErrConflict)
		}
		seen[id] = true
		set = append(set, e)
		return nil
	}
	for _, id := range ids {
		if err := add(id); err != nil {
			return nil, err
		}
		if cp := l.entries[id].CounterpartID; cp != "" {
			if err := add(cp); err != nil {
				return nil, err
			}
		}
	}
	return set, nil
}

// failLocked marks the still-pending entries of set failed in memory and
// returns copies for persistFailed.
func (l *LedgerService) failLocked(set []*models.LedgerEntry, reason string) []models.LedgerEntry {
	failed := make([]models.LedgerEntry, 0, len(set))
	for _, e := range set {
		if e.Status != models.EntryPending {
			continue
		}
		e.Status = models.EntryFailed
		e.FailureReason = reason
		failed = append(failed, e.Clone())
	}
	l.seq++
	return failed
}

func (l *LedgerService) persistFailed(ctx context.Context, failed []models.LedgerEntry, reason string, now time.Time) {
	if len(failed) == 0 {
		return
	}
	if l.persister != nil {
		if err := l.persister.SaveEntries(ctx, failed, nil); err != nil {
			l.logger.Error("Failed to persist failed entries", zap.Error(err), zap.Int("count", len(failed)))
		}
	}
	l.logger.Warn("Entries failed",
		zap.String("reason", reason),
		zap.Int("count", len(failed)),
		zap.Time("at", now),
	)
}

// insertLocked indexes e in sequence order. Sequence numbers are reserved
// before persisting, so concurrent appends may land out of order.
func (l *LedgerService) insertLocked(e *models.LedgerEntry) {
	l.entries[e.ID] = e
	l.order = insertBySeq(l.order, e)
	l.byAccount[e.AccountID] = insertBySeq(l.byAccount[e.AccountID], e)
	if e.Reference != "" {
		l.byReference[e.Reference] = insertBySeq(l.byReference[e.Reference], e)
	}
}

func insertBySeq(list []*models.LedgerEntry, e *models.LedgerEntry) []*models.LedgerEntry {
	i := sort.Search(len(list), func(i int) bool { return list[i].Seq > e.Seq })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = e
	return list
}

func (l *LedgerService) Get(id string) (models.LedgerEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[id]
	if !ok {
		return models.LedgerEntry{}, fmt.Errorf("entry %s: %w", id, ErrRecordNotFound)
	}
	return e.Clone(), nil
}

// EntriesFor returns the account's entries created in [since, until], in
// append order. Zero bounds are open.
func (l *LedgerService) EntriesFor(accountID string, since, until time.Time) []models.LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.LedgerEntry
	for _, e := range l.byAccount[accountID] {
		if !since.IsZero() && e.CreatedAt.Before(since) {
			continue
		}
		if !until.IsZero() && e.CreatedAt.After(until) {
			continue
		}
		out = append(out, e.Clone())
	}
	return out
}

// Scan pages through an account's entries in append order. Pass the returned
// cursor back to resume after the last entry seen.
func (l *LedgerService) Scan(accountID string, afterSeq uint64, limit int) ([]models.LedgerEntry, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := l.byAccount[accountID]
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Seq > afterSeq })
	var out []models.LedgerEntry
	cursor := afterSeq
	for ; i < len(entries); i++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, entries[i].Clone())
		cursor = entries[i].Seq
	}
	return out, cursor
}

func (l *LedgerService) EntriesByReference(ref string) []models.LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.LedgerEntry, 0, len(l.byReference[ref]))
	for _, e := range l.byReference[ref] {
		out = append(out, e.Clone())
	}
	return out
}

// EntryFilter narrows Query. Zero values match everything.
type EntryFilter struct {
	AccountID string
	ClientID  string
	Type      models.EntryType
	Status    models.EntryStatus
	Category  string
	ParentID  string
	Since     time.Time
	Until     time.Time
	Limit     int
}

func (f EntryFilter) match(e *models.LedgerEntry) bool {
	switch {
	case f.AccountID != "" && e.AccountID != f.AccountID:
		return false
	case f.ClientID != "" && e.ClientID != f.ClientID:
		return false
	case f.Type != "" && e.Type != f.Type:
		return false
	case f.Status != "" && e.Status != f.Status:
		return false
	case f.Category != "" && e.Category != f.Category:
		return false
	case f.ParentID != "" && e.ParentID != f.ParentID:
		return false
	case !f.Since.IsZero() && e.CreatedAt.Before(f.Since):
		return false
	case !f.Until.IsZero() && e.CreatedAt.After(f.Until):
		return false
	}
	return true
}

// Query returns matching entries newest first.
func (l *LedgerService) Query(f EntryFilter) []models.LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	source := l.order
	if f.AccountID != "" {
		source = l.byAccount[f.AccountID]
	}
	var out []models.LedgerEntry
	for i := len(source) - 1; i >= 0; i-- {
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
		if f.match(source[i]) {
			out = append(out, source[i].Clone())
		}
	}
	return out
}

// Balance is the signed sum of the account's completed entries.
func (l *LedgerService) Balance(accountID string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.completedSum[accountID]
}

func (l *LedgerService) Seq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// AccountView is a consistent read of one account and its entries.
type AccountView struct {
	Account models.Account
	Entries []models.LedgerEntry
	Seq     uint64
}

// View copies the account and its entries under one read lock, so the
// balance and the entries agree with each other.
func (l *LedgerService) View(accountID string) (AccountView, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, err := l.store.Get(accountID)
	if err != nil {
		return AccountView{}, err
	}
	entries := make([]models.LedgerEntry, 0, len(l.byAccount[accountID]))
	for _, e := range l.byAccount[accountID] {
		entries = append(entries, e.Clone())
	}
	return AccountView{Account: acct, Entries: entries, Seq: l.seq}, nil
}

// DailyOutflow sums pending and completed withdrawal and transfer debits on
// the account created in [from, to).
func (l *LedgerService) DailyOutflow(accountID string, from, to time.Time) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total int64
	for _, e := range l.byAccount[accountID] {
		if e.Amount >= 0 || e.Category == models.CategoryReversal {
			continue
		}
		if e.Type != models.EntryWithdrawal && e.Type != models.EntryTransfer {
			continue
		}
		if e.Status != models.EntryPending && e.Status != models.EntryCompleted {
			continue
		}
		if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		sum, ok := models.AddCents(total, -e.Amount)
		if !ok {
			return math.MaxInt64
		}
		total = sum
	}
	return total
}

// Reconcile recomputes the balance from completed entries and repairs the
// cached balance. It returns cached minus ledger before the repair.
func (l *LedgerService) Reconcile(ctx context.Context, accountID string) (int64, error) {
	ctx = context.WithoutCancel(ctx)

	l.mu.RLock()
	acct, err := l.store.Get(accountID)
	if err != nil {
		l.mu.RUnlock()
		return 0, err
	}
	sum := l.completedLocked(accountID)
	l.mu.RUnlock()

	drift := acct.Balance - sum
	if drift == 0 {
		return 0, nil
	}
	repair := map[string]int64{accountID: -drift}
	if l.persister != nil {
		if err := l.persister.SaveEntries(ctx, nil, repair); err != nil {
			return drift, fmt.Errorf("failed to persist reconciled balance: %w", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.ApplyDeltas(repair, nil); err != nil {
		return drift, err
	}
	l.completedSum[accountID] = l.completedLocked(accountID)
	l.seq++
	l.logger.Warn("Balance drift repaired",
		zap.String("account_id", accountID),
		zap.Int64("cached", acct.Balance),
		zap.Int64("ledger", sum),
	)
	return drift, nil
}

func (l *LedgerService) completedLocked(accountID string) int64 {
	var sum int64
	for _, e := range l.byAccount[accountID] {
		if e.Status == models.EntryCompleted {
			sum += e.Amount
		}
	}
	return sum
}

// Load replaces the ledger contents with hydrated entries.
func (l *LedgerService) Load(entries []models.LedgerEntry) {
	sorted := make([]models.LedgerEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*models.LedgerEntry, len(sorted))
	l.inflight = make(map[string]bool)
	l.order = nil
	l.byAccount = make(map[string][]*models.LedgerEntry)
	l.byReference = make(map[string][]*models.LedgerEntry)
	l.completedSum = make(map[string]int64)
	l.seq = 0
	for i := range sorted {
		e := sorted[i]
		l.insertLocked(&e)
		if e.Status == models.EntryCompleted {
			l.completedSum[e.AccountID] += e.Amount
		}
		if e.Seq > l.seq {
			l.seq = e.Seq
		}
	}
}

func validEntryType(t models.EntryType) bool {
	switch t {
	case models.EntryDeposit, models.EntryWithdrawal, models.EntryTransfer, models.EntryPayment, models.EntryFee:
		return true
	}
	return false
}

func defaultCategory(t models.EntryType) string {
	switch t {
	case models.EntryTransfer:
		return models.CategoryTransfer
	case models.EntryFee:
		return models.CategoryFee
	}
	return models.CategoryGeneral
}

func pick(entries []models.LedgerEntry, id string) models.LedgerEntry {
	for _, e := range entries {
		if e.ID == id {
			return e
		}
	}
	return models.LedgerEntry{}
}
