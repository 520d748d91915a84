package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/ledgercore/internal/models"
	"go.uber.org/zap"
)

type CreateBillRequest struct {
	ClientID      string    `json:"client_id,omitempty" validate:"required,max=64"`
	Title         string    `json:"title" validate:"required,max=100"`
	Company       string    `json:"company" validate:"required,max=100"`
	Amount        int64     `json:"amount" validate:"required,gt=0,lte=100000000000000"`
	DueDate       time.Time `json:"due_date" validate:"required"`
	Category      string    `json:"category" validate:"max=64"`
	Autopay       bool      `json:"autopay"`
	RecurringType string    `json:"recurring_type,omitempty" validate:"omitempty,oneof=monthly quarterly yearly"`
}

// BillService owns bills. A bill becomes paid only through a successful
// payment submitted to the TransactionService.
type BillService struct {
	mu        sync.RWMutex
	bills     map[string]*models.Bill
	txs       *TransactionService
	locker    *AccountLocker
	audit     *AuditService
	persister BillPersister
	validator *ValidationHelper
	logger    *zap.Logger
	now       func() time.Time
}

func NewBillService(txs *TransactionService, locker *AccountLocker, audit *AuditService, persister BillPersister, logger *zap.Logger) *BillService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BillService{
		bills:     make(map[string]*models.Bill),
		txs:       txs,
		locker:    locker,
		audit:     audit,
		persister: persister,
		validator: NewValidationHelper(),
		logger:    logger.With(zap.String("component", "BillService")),
		now:       time.Now,
	}
}

func billLockKey(id string) string {
	return "bill:" + id
}

func (s *BillService) CreateBill(ctx context.Context, id models.Identity, req CreateBillRequest) (models.Bill, error) {
	if !id.IsAdmin() || req.ClientID == "" {
		req.ClientID = id.UserID
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		return models.Bill{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	category := req.Category
	if category == "" {
		category = models.CategoryGeneral
	}

	bill := models.Bill{
		ID:            uuid.New().String(),
		ClientID:      req.ClientID,
		Title:         req.Title,
		Company:       req.Company,
		Amount:        req.Amount,
		DueDate:       req.DueDate.UTC(),
		Status:        models.BillPending,
		Category:      category,
		Autopay:       req.Autopay,
		RecurringType: req.RecurringType,
		CreatedAt:     s.now().UTC(),
	}
	if s.persister != nil {
		if err := s.persister.SaveBill(ctx, bill); err != nil {
			return models.Bill{}, fmt.Errorf("failed to save bill: %w", err)
		}
	}

	s.mu.Lock()
	b := bill
	s.bills[bill.ID] = &b
	s.mu.Unlock()

	s.audit.RecordAction(id, "bill_created", "bill", bill.ID, models.OutcomeSuccess,
		models.Metadata{"amount": bill.Amount, "client_id": bill.ClientID})
	return s.view(bill), nil
}

// view returns the bill with the derived overdue status applied.
func (s *BillService) view(b models.Bill) models.Bill {
	b.Status = b.EffectiveStatus(s.now())
	return b
}

func (s *BillService) get(billID string) (models.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bills[billID]
	if !ok {
		return models.Bill{}, fmt.Errorf("bill %s: %w", billID, ErrRecordNotFound)
	}
	return *b, nil
}

func (s *BillService) GetBill(id models.Identity, billID string) (models.Bill, error) {
	b, err := s.get(billID)
	if err != nil {
		return models.Bill{}, err
	}
	if !id.CanAccess(b.ClientID) {
		return models.Bill{}, ErrForbidden
	}
	return s.view(b), nil
}

// ListBills returns the client's bills ordered by due date.
func (s *BillService) ListBills(id models.Identity, clientID string) []models.Bill {
	if !id.IsAdmin() {
		clientID = id.UserID
	}
	s.mu.RLock()
	out := make([]models.Bill, 0, len(s.bills))
	for _, b := range s.bills {
		if clientID == "" || b.ClientID == clientID {
			out = append(out, s.view(*b))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out
}

// PayBill pays the bill from accountID. A paid bill returns ErrAlreadyPaid
// without touching the ledger.
func (s *BillService) PayBill(ctx context.Context, id models.Identity, billID, accountID string) (models.Bill, *TransactionResult, error) {
	ctx = context.WithoutCancel(ctx)
	unlock := s.locker.Lock(billLockKey(billID))
	defer unlock()

	bill, err := s.get(billID)
	if err != nil {
		return models.Bill{}, nil, err
	}
	if !id.CanAccess(bill.ClientID) {
		return models.Bill{}, nil, ErrForbidden
	}
	switch bill.Status {
	case models.BillPaid:
		s.audit.RecordAction(id, "bill_payment_rejected", "bill", billID, models.OutcomeFailure,
			models.Metadata{"code": ErrorCode(ErrAlreadyPaid)})
		return models.Bill{}, nil, fmt.Errorf("bill %s: %w", billID, ErrAlreadyPaid)
	case models.BillCancelled:
		return models.Bill{}, nil, fmt.Errorf("bill %s: %w", billID, ErrBillCancelled)
	}

	res, err := s.txs.Submit(ctx, id, TransactionRequest{
		Type:        models.EntryPayment,
		AccountID:   accountID,
		Amount:      bill.Amount,
		Description: fmt.Sprintf("%s - %s", bill.Company, bill.Title),
		Category:    models.CategoryBillPayment,
		Metadata:    models.Metadata{"bill_id": bill.ID},
	})
	if err != nil {
		return models.Bill{}, nil, err
	}

	paidAt := res.Entry.EffectiveAt()
	bill.Status = models.BillPaid
	bill.AccountID = accountID
	bill.EntryID = res.Entry.ID
	bill.PaidAt = &paidAt

	s.mu.Lock()
	if cur, ok := s.bills[billID]; ok {
		*cur = bill
	}
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.SaveBill(ctx, bill); err != nil {
			s.logger.Error("Failed to persist paid bill",
				zap.String("bill_id", billID),
				zap.String("entry_id", res.Entry.ID),
				zap.Error(err),
			)
		}
	}

	s.audit.RecordAction(id, "bill_paid", "bill", billID, models.OutcomeSuccess,
		models.Metadata{"amount": bill.Amount, "entry_id": res.Entry.ID, "account_id": accountID})
	return bill, res, nil
}

func (s *BillService) CancelBill(ctx context.Context, id models.Identity, billID string) (models.Bill, error) {
	unlock := s.locker.Lock(billLockKey(billID))
	defer unlock()

	bill, err := s.get(billID)
	if err != nil {
		return models.Bill{}, err
	}
	if !id.CanAccess(bill.ClientID) {
		return models.Bill{}, ErrForbidden
	}
	switch bill.Status {
	case models.BillPaid:
		return models.Bill{}, fmt.Errorf("bill %s: %w", billID, ErrAlreadyPaid)
	case models.BillCancelled:
		return models.Bill{}, fmt.Errorf("bill %s: %w", billID, ErrBillCancelled)
	}

	bill.Status = models.BillCancelled
	if s.persister != nil {
		if err := s.persister.SaveBill(ctx, bill); err != nil {
			return models.Bill{}, fmt.Errorf("failed to save bill: %w", err)
		}
	}
	s.mu.Lock()
	if cur, ok := s.bills[billID]; ok {
		*cur = bill
	}
	s.mu.Unlock()

	s.audit.RecordAction(id, "bill_cancelled", "bill", billID, models.OutcomeSuccess, nil)
	return bill, nil
}

// Table implements RecordOwner.
func (s *BillService) Table() string { return models.TableBills }

// Snapshot implements RecordOwner.
func (s *BillService) Snapshot(recordID string) (models.Metadata, error) {
	b, err := s.get(recordID)
	if err != nil {
		return nil, err
	}
	return models.ToMetadata(b)
}

// Remove implements RecordOwner.
func (s *BillService) Remove(ctx context.Context, recordID string) error {
	unlock := s.locker.Lock(billLockKey(recordID))
	defer unlock()

	if _, err := s.get(recordID); err != nil {
		return err
	}
	if s.persister != nil {
		if err := s.persister.DeleteBill(ctx, recordID); err != nil {
			return fmt.Errorf("failed to delete bill: %w", err)
		}
	}
	s.mu.Lock()
	delete(s.bills, recordID)
	s.mu.Unlock()
	return nil
}

// Restore implements RecordOwner.
func (s *BillService) Restore(ctx context.Context, snapshot models.Metadata) error {
	var b models.Bill
	if err := snapshot.Decode(&b); err != nil {
		return fmt.Errorf("failed to decode bill snapshot: %w", err)
	}
	unlock := s.locker.Lock(billLockKey(b.ID))
	defer unlock()

	s.mu.RLock()
	_, exists := s.bills[b.ID]
	s.mu.RUnlock()
	if exists {
		return fmt.Errorf("bill %s: %w", b.ID, ErrConflict)
	}
	if s.persister != nil {
		if err := s.persister.SaveBill(ctx, b); err != nil {
			return fmt.Errorf("failed to save bill: %w", err)
		}
	}
	s.mu.Lock()
	s.bills[b.ID] = &b
	s.mu.Unlock()
	return nil
}

// Load replaces the bills with hydrated records.
func (s *BillService) Load(bills []models.Bill) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bills = make(map[string]*models.Bill, len(bills))
	for i := range bills {
		b := bills[i]
		s.bills[b.ID] = &b
	}
}
