package services

import (
	"fmt"
	"sort"
	"time"

	"github.com/ruralpay/ledgercore/internal/models"
)

// StatementService derives read-only statements from a ledger snapshot.
type StatementService struct {
	ledger *LedgerService
	now    func() time.Time
}

func NewStatementService(ledger *LedgerService) *StatementService {
	return &StatementService{ledger: ledger, now: time.Now}
}

// Build reports completed activity in [start, end]. The closing balance is
// the balance as of end, which is the current balance whenever end is not in
// the past; the opening balance is closing minus the net of the range.
func (s *StatementService) Build(id models.Identity, accountID string, start, end time.Time) (*models.Statement, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("statement end precedes start: %w", ErrInvalidRequest)
	}
	view, err := s.ledger.View(accountID)
	if err != nil {
		return nil, err
	}
	if !id.CanAccess(view.Account.OwnerID) {
		return nil, ErrForbidden
	}

	var inRange []models.LedgerEntry
	var pending []models.LedgerEntry
	var after int64
	for _, e := range view.Entries {
		switch e.Status {
		case models.EntryCompleted:
			at := e.EffectiveAt()
			if at.After(end) {
				after += e.Amount
			} else if !at.Before(start) {
				inRange = append(inRange, e)
			}
		case models.EntryPending:
			if !e.CreatedAt.After(end) {
				pending = append(pending, e)
			}
		}
	}

	sort.Slice(inRange, func(i, j int) bool {
		ai, aj := inRange[i].EffectiveAt(), inRange[j].EffectiveAt()
		if ai.Equal(aj) {
			return inRange[i].ID < inRange[j].ID
		}
		return ai.Before(aj)
	})

	var summary models.StatementSummary
	var net int64
	for _, e := range inRange {
		net += e.Amount
		summarize(&summary, e)
	}

	closing := view.Account.Balance - after
	opening := closing - net

	lines := make([]models.StatementLine, len(inRange))
	running := opening
	for i, e := range inRange {
		running += e.Amount
		lines[i] = models.StatementLine{Entry: e, RunningBalance: running}
	}

	return &models.Statement{
		AccountID:      view.Account.ID,
		AccountNumber:  view.Account.MaskedNumber(),
		AccountName:    view.Account.Name,
		Currency:       view.Account.Currency,
		Start:          start,
		End:            end,
		OpeningBalance: opening,
		ClosingBalance: closing,
		Transactions:   lines,
		Pending:        pending,
		Summary:        summary,
		AsOfSeq:        view.Seq,
		GeneratedAt:    s.now().UTC(),
	}, nil
}

func summarize(sum *models.StatementSummary, e models.LedgerEntry) {
	sum.Count++
	if e.Category == models.CategoryReversal {
		sum.NetReversals += e.Amount
		return
	}
	switch e.Type {
	case models.EntryDeposit:
		sum.TotalDeposits += e.Amount
	case models.EntryWithdrawal:
		sum.TotalWithdrawals += -e.Amount
	case models.EntryPayment:
		sum.TotalPayments += -e.Amount
	case models.EntryFee:
		sum.TotalFees += -e.Amount
	case models.EntryTransfer:
		if e.Amount > 0 {
			sum.TotalTransfersIn += e.Amount
		} else {
			sum.TotalTransfersOut += -e.Amount
		}
	}
}

// ExportStatementRows renders the statement lines for reporting tools, header first.
func ExportStatementRows(st *models.Statement) [][]string {
	rows := make([][]string, 0, len(st.Transactions)+1)
	header := append(append([]string{}, models.EntryExportHeader...), "running_balance")
	rows = append(rows, header)
	for _, line := range st.Transactions {
		row := append(line.Entry.ExportRow(), models.MajorUnits(line.RunningBalance).StringFixed(2))
		rows = append(rows, row)
	}
	return rows
}
