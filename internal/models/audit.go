package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// AuditEvent is never updated or deleted once recorded.
type AuditEvent struct {
	ID         string    `json:"id" db:"id"`
	Seq        uint64    `json:"seq" db:"seq"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
	ActorID    string    `json:"actor_id" db:"actor_id"`
	ActorRole  Role      `json:"actor_role" db:"actor_role"`
	Action     string    `json:"action" db:"action"`
	Resource   string    `json:"resource" db:"resource"`
	ResourceID string    `json:"resource_id,omitempty" db:"resource_id"`
	Outcome    Outcome   `json:"outcome" db:"outcome"`
	Severity   Severity  `json:"severity" db:"severity"`
	Details    Metadata  `json:"details,omitempty" db:"details"`
	IPAddress  string    `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  string    `json:"user_agent,omitempty" db:"user_agent"`
	SessionID  string    `json:"session_id,omitempty" db:"session_id"`
}

// AuditExportHeader documents the column order of AuditEvent.ExportRow.
var AuditExportHeader = []string{
	"timestamp", "actor", "action", "resource", "severity", "status", "amount", "resource_id", "ip_address", "details",
}

// ExportRow renders the event for reporting tools. The amount column is empty
// when the event carries no amount.
func (e AuditEvent) ExportRow() []string {
	amount := ""
	if v, ok := e.Details["amount"]; ok {
		if cents, ok := toInt64(v); ok {
			amount = MajorUnits(cents).StringFixed(2)
		}
	}
	details := ""
	if len(e.Details) > 0 {
		b, _ := json.Marshal(e.Details)
		details = string(b)
	}
	return []string{
		e.Timestamp.UTC().Format(time.RFC3339),
		e.ActorID,
		e.Action,
		e.Resource,
		string(e.Severity),
		string(e.Outcome),
		amount,
		e.ResourceID,
		e.IPAddress,
		details,
	}
}

type SecurityEventType string

const (
	SecurityLoginAttempt       SecurityEventType = "login_attempt"
	SecurityFailedLogin        SecurityEventType = "failed_login"
	SecuritySuspiciousActivity SecurityEventType = "suspicious_activity"
	SecurityAccountLocked      SecurityEventType = "account_locked"
	SecurityPasswordChange     SecurityEventType = "password_change"
)

// SecurityEvent is an advisory finding for a human to triage.
type SecurityEvent struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Type        SecurityEventType `json:"type"`
	UserID      string            `json:"user_id,omitempty"`
	IPAddress   string            `json:"ip_address,omitempty"`
	Details     Metadata          `json:"details,omitempty"`
	RiskScore   int               `json:"risk_score"`
	Resolved    bool              `json:"resolved"`
	ResolvedBy  string            `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
	SourceEvent string            `json:"source_event,omitempty"`
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		var i int64
		_, err := fmt.Sscan(n, &i)
		return i, err == nil
	}
	return 0, false
}
