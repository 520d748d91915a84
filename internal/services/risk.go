package services

import (
	"strings"
	"time"

	"github.com/ruralpay/ledgercore/internal/models"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskAssessment is advisory. It is attached to audit details and never
// decides whether a transaction is admitted.
type RiskAssessment struct {
	Score          int       `json:"score"`
	Level          RiskLevel `json:"level"`
	Factors        []string  `json:"factors,omitempty"`
	RequiresReview bool      `json:"requires_review"`
}

// RiskScorer scores a transaction request at the given instant.
type RiskScorer func(req TransactionRequest, at time.Time) RiskAssessment

// NewThresholdRiskScorer flags amounts above largeAmount and activity
// before 06:00 or after 22:00 in loc.
func NewThresholdRiskScorer(largeAmount int64, loc *time.Location) RiskScorer {
	if loc == nil {
		loc = time.UTC
	}
	return func(req TransactionRequest, at time.Time) RiskAssessment {
		var a RiskAssessment
		if req.Amount > largeAmount {
			a.Score += 30
			a.Factors = append(a.Factors, "large_amount")
		}
		hour := at.In(loc).Hour()
		if hour < 6 || hour > 22 {
			a.Score += 20
			a.Factors = append(a.Factors, "unusual_time")
		}
		switch {
		case a.Score < 25:
			a.Level = RiskLow
		case a.Score < 50:
			a.Level = RiskMedium
		default:
			a.Level = RiskHigh
		}
		a.RequiresReview = a.Level == RiskHigh
		return a
	}
}

// SecurityRiskScore scores a security finding; attempts only matters for
// failed logins.
func SecurityRiskScore(t models.SecurityEventType, attempts int) int {
	switch t {
	case models.SecurityFailedLogin:
		return min(attempts*20, 100)
	case models.SecuritySuspiciousActivity:
		return 60
	case models.SecurityAccountLocked:
		return 90
	}
	return 30
}

var (
	criticalActions = []string{"account_deleted", "admin_created", "security_settings_changed"}
	warningActions  = []string{"login_failed", "transaction_failed", "account_suspended"}
)

// ClassifySeverity derives an audit severity from the action name and outcome.
func ClassifySeverity(action string, outcome models.Outcome) models.Severity {
	a := strings.ToLower(action)
	for _, k := range criticalActions {
		if strings.Contains(a, k) {
			return models.SeverityCritical
		}
	}
	for _, k := range warningActions {
		if strings.Contains(a, k) {
			return models.SeverityWarning
		}
	}
	if outcome == models.OutcomeFailure {
		return models.SeverityWarning
	}
	return models.SeverityInfo
}
