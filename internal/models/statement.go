package models

import "time"

type StatementLine struct {
	Entry          LedgerEntry `json:"entry"`
	RunningBalance int64       `json:"running_balance"`
}

type StatementSummary struct {
	TotalDeposits     int64 `json:"total_deposits"`
	TotalWithdrawals  int64 `json:"total_withdrawals"`
	TotalTransfersIn  int64 `json:"total_transfers_in"`
	TotalTransfersOut int64 `json:"total_transfers_out"`
	TotalPayments     int64 `json:"total_payments"`
	TotalFees         int64 `json:"total_fees"`
	NetReversals      int64 `json:"net_reversals"`
	Count             int   `json:"count"`
}

// Statement is a read-only report of an account's completed activity in
// [Start, End]. Pending entries are listed separately and do not affect
// either balance.
type Statement struct {
	AccountID      string           `json:"account_id"`
	AccountNumber  string           `json:"account_number"`
	AccountName    string           `json:"account_name"`
	Currency       string           `json:"currency"`
	Start          time.Time        `json:"start"`
	End            time.Time        `json:"end"`
	OpeningBalance int64            `json:"opening_balance"`
	ClosingBalance int64            `json:"closing_balance"`
	Transactions   []StatementLine  `json:"transactions"`
	Pending        []LedgerEntry    `json:"pending"`
	Summary        StatementSummary `json:"summary"`
	AsOfSeq        uint64           `json:"as_of_seq"`
	GeneratedAt    time.Time        `json:"generated_at"`
}
