package models

import (
	"math"
	"strings"
	"time"
)

type AccountType string

const (
	AccountChecking   AccountType = "checking"
	AccountSavings    AccountType = "savings"
	AccountInvestment AccountType = "investment"
	AccountCredit     AccountType = "credit"
)

type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
	AccountClosed    AccountStatus = "closed"
)

type Account struct {
	ID             string        `json:"id" db:"id"`
	OwnerID        string        `json:"owner_id" db:"owner_id"`
	Name           string        `json:"name" db:"name"`
	AccountNumber  string        `json:"account_number" db:"account_number"`
	Type           AccountType   `json:"type" db:"type"`
	Currency       string        `json:"currency" db:"currency"`
	Balance        int64         `json:"balance" db:"balance"` // in cents
	Status         AccountStatus `json:"status" db:"status"`
	MinimumBalance int64         `json:"minimum_balance" db:"minimum_balance"`
	InterestRate   float64       `json:"interest_rate" db:"interest_rate"` // annual, percent
	Version        int           `json:"version" db:"version"`
	LastAccruedAt  *time.Time    `json:"last_accrued_at,omitempty" db:"last_accrued_at"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// Available is the balance that may be spent without breaching the minimum.
func (a Account) Available() int64 {
	if v, ok := AddCents(a.Balance, -a.MinimumBalance); ok {
		return v
	}
	if a.MinimumBalance < 0 {
		return math.MaxInt64
	}
	return math.MinInt64
}

// AcceptsInterest reports whether the account type earns interest.
func (a Account) AcceptsInterest() bool {
	return (a.Type == AccountSavings || a.Type == AccountInvestment) && a.InterestRate > 0
}

// MaskedNumber hides all but the last four digits of the account number.
func (a Account) MaskedNumber() string {
	n := a.AccountNumber
	if len(n) <= 4 {
		return n
	}
	return strings.Repeat("*", len(n)-4) + n[len(n)-4:]
}
