package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/ledgercore/internal/config"
	"github.com/ruralpay/ledgercore/internal/models"
	"go.uber.org/zap"
)

// AuditSink receives every recorded event out of band.
type AuditSink interface {
	Name() string
	Publish(ctx context.Context, event models.AuditEvent) error
}

// SecurityRule inspects the chronological history (ending with event) and
// returns advisory findings.
type SecurityRule func(history []models.AuditEvent, event models.AuditEvent) []models.SecurityEvent

// AuditService is the append-only audit log. Record never blocks and never
// fails; sink delivery happens on a background worker with retries.
type AuditService struct {
	mu       sync.RWMutex
	seq      uint64
	events   []models.AuditEvent
	security []*models.SecurityEvent
	closed   bool

	rules   []SecurityRule
	sinks   []AuditSink
	queue   chan models.AuditEvent
	cfg     config.AuditConfig
	logger  *zap.Logger
	now     func() time.Time
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

func NewAuditService(cfg config.AuditConfig, logger *zap.Logger, sinks ...AuditSink) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = config.DefaultAuditConfig().QueueSize
	}
	s := &AuditService{
		sinks:  sinks,
		queue:  make(chan models.AuditEvent, cfg.QueueSize),
		cfg:    cfg,
		logger: logger.With(zap.String("component", "AuditRecorder")),
		now:    time.Now,
	}
	s.rules = []SecurityRule{
		FailedLoginRule(cfg.FailedLoginThreshold, cfg.FailedLoginWindow),
		LargeTransactionRule(cfg.LargeTransactionThreshold),
		MultipleIPRule(cfg.MaxDistinctIPs, time.Hour),
	}
	return s
}

// SetRules replaces the advisory rule set.
func (s *AuditService) SetRules(rules ...SecurityRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rules
}

// Start launches the sink worker. Close drains it.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for ev := range s.queue {
			s.publish(ctx, ev)
		}
	}()
}

// Close stops accepting sink deliveries and waits for queued ones.
func (s *AuditService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *AuditService) publish(ctx context.Context, ev models.AuditEvent) {
	for _, sink := range s.sinks {
		var err error
		for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					s.logger.Warn("Audit delivery abandoned", zap.String("sink", sink.Name()), zap.String("event_id", ev.ID))
					return
				case <-time.After(s.cfg.RetryBackoff * time.Duration(attempt)):
				}
			}
			if err = sink.Publish(ctx, ev); err == nil {
				break
			}
		}
		if err != nil {
			s.logger.Error("Failed to deliver audit event",
				zap.String("sink", sink.Name()),
				zap.String("event_id", ev.ID),
				zap.String("action", ev.Action),
				zap.Error(err),
			)
		}
	}
}

// Record appends the event, evaluates the security rules and queues the
// event for the sinks. The stored copy is returned.
func (s *AuditService) Record(ev models.AuditEvent) models.AuditEvent {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}
	if ev.Outcome == "" {
		ev.Outcome = models.OutcomeSuccess
	}
	if ev.Severity == "" {
		ev.Severity = ClassifySeverity(ev.Action, ev.Outcome)
	}
	ev.Details = ev.Details.Clone()

	s.mu.Lock()
	s.seq++
	ev.Seq = s.seq
	s.events = append(s.events, ev)
	findings := s.evaluateLocked(ev)
	if !s.closed {
		select {
		case s.queue <- ev:
		default:
			s.dropped.Add(1)
			s.logger.Warn("Audit queue full, event not delivered to sinks",
				zap.String("event_id", ev.ID),
				zap.String("action", ev.Action),
			)
		}
	}
	s.mu.Unlock()

	for _, f := range findings {
		s.logger.Warn("Security event raised",
			zap.String("type", string(f.Type)),
			zap.String("user_id", f.UserID),
			zap.Int("risk_score", f.RiskScore),
		)
	}
	return ev
}

func (s *AuditService) evaluateLocked(ev models.AuditEvent) []models.SecurityEvent {
	var raised []models.SecurityEvent
	for _, rule := range s.rules {
		for _, f := range rule(s.events, ev) {
			if f.ID == "" {
				f.ID = uuid.New().String()
			}
			if f.Timestamp.IsZero() {
				f.Timestamp = ev.Timestamp
			}
			f.SourceEvent = ev.ID
			attempts := detailInt(f.Details, "attempts")
			if f.RiskScore == 0 {
				f.RiskScore = SecurityRiskScore(f.Type, attempts)
			}
			raised = append(raised, f)

			if f.RiskScore > 80 && attempts >= 5 {
				raised = append(raised, models.SecurityEvent{
					ID:          uuid.New().String(),
					Timestamp:   ev.Timestamp,
					Type:        models.SecurityAccountLocked,
					UserID:      f.UserID,
					IPAddress:   f.IPAddress,
					Details:     models.Metadata{"attempts": attempts, "trigger": string(f.Type)},
					RiskScore:   SecurityRiskScore(models.SecurityAccountLocked, attempts),
					SourceEvent: ev.ID,
				})
			}
		}
	}
	for i := range raised {
		f := raised[i]
		s.security = append(s.security, &f)
	}
	return raised
}

// RecordAction is a convenience wrapper building the event from an identity.
func (s *AuditService) RecordAction(id models.Identity, action, resource, resourceID string, outcome models.Outcome, details models.Metadata) models.AuditEvent {
	return s.Record(models.AuditEvent{
		ActorID:    id.UserID,
		ActorRole:  id.Role,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Outcome:    outcome,
		Details:    details,
		IPAddress:  id.IPAddress,
		UserAgent:  id.UserAgent,
		SessionID:  id.SessionID,
	})
}

// RecordLoginAttempt records a login reported by the identity provider.
func (s *AuditService) RecordLoginAttempt(reporter models.Identity, userID, ip, userAgent string, success bool) models.AuditEvent {
	action, outcome := "login_success", models.OutcomeSuccess
	if !success {
		action, outcome = "login_failed", models.OutcomeFailure
	}
	return s.Record(models.AuditEvent{
		ActorID:    userID,
		ActorRole:  models.RoleClient,
		Action:     action,
		Resource:   "session",
		ResourceID: userID,
		Outcome:    outcome,
		IPAddress:  ip,
		UserAgent:  userAgent,
		Details:    models.Metadata{"reported_by": reporter.UserID},
	})
}

type AuditFilter struct {
	ActorID    string
	Action     string
	Resource   string
	ResourceID string
	Severity   models.Severity
	Outcome    models.Outcome
	Since      time.Time
	Until      time.Time
}

func (f AuditFilter) match(e models.AuditEvent) bool {
	switch {
	case f.ActorID != "" && e.ActorID != f.ActorID:
		return false
	case f.Action != "" && e.Action != f.Action:
		return false
	case f.Resource != "" && e.Resource != f.Resource:
		return false
	case f.ResourceID != "" && e.ResourceID != f.ResourceID:
		return false
	case f.Severity != "" && e.Severity != f.Severity:
		return false
	case f.Outcome != "" && e.Outcome != f.Outcome:
		return false
	case !f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	case !f.Until.IsZero() && e.Timestamp.After(f.Until):
		return false
	}
	return true
}

// Query returns matching events newest first. limit <= 0 means no limit.
func (s *AuditService) Query(f AuditFilter, limit int) []models.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AuditEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if f.match(s.events[i]) {
			e := s.events[i]
			e.Details = e.Details.Clone()
			out = append(out, e)
		}
	}
	return out
}

// ExportRows renders Query results for reporting tools, header first.
func (s *AuditService) ExportRows(f AuditFilter, limit int) [][]string {
	events := s.Query(f, limit)
	rows := make([][]string, 0, len(events)+1)
	rows = append(rows, models.AuditExportHeader)
	for _, e := range events {
		rows = append(rows, e.ExportRow())
	}
	return rows
}

type SecurityFilter struct {
	Type     models.SecurityEventType
	UserID   string
	Resolved *bool
}

// SecurityEvents returns matching findings newest first.
func (s *AuditService) SecurityEvents(f SecurityFilter, limit int) []models.SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SecurityEvent
	for i := len(s.security) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		e := s.security[i]
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.Resolved != nil && e.Resolved != *f.Resolved {
			continue
		}
		c := *e
		c.Details = c.Details.Clone()
		out = append(out, c)
	}
	return out
}

// ResolveSecurityEvent marks a finding as triaged.
func (s *AuditService) ResolveSecurityEvent(id models.Identity, eventID string) (models.SecurityEvent, error) {
	if !id.IsAdmin() {
		return models.SecurityEvent{}, ErrForbidden
	}
	s.mu.Lock()
	var target *models.SecurityEvent
	for _, e := range s.security {
		if e.ID == eventID {
			target = e
			break
		}
	}
	if target == nil {
		s.mu.Unlock()
		return models.SecurityEvent{}, fmt.Errorf("security event %s: %w", eventID, ErrRecordNotFound)
	}
	if target.Resolved {
		s.mu.Unlock()
		return models.SecurityEvent{}, fmt.Errorf("security event %s already resolved: %w", eventID, ErrInvalidState)
	}
	now := s.now().UTC()
	target.Resolved = true
	target.ResolvedBy = id.UserID
	target.ResolvedAt = &now
	out := *target
	s.mu.Unlock()

	s.RecordAction(id, "security_event_resolved", "security_event", eventID, models.OutcomeSuccess,
		models.Metadata{"type": string(out.Type)})
	return out, nil
}

// Load replaces the log with hydrated events.
func (s *AuditService) Load(events []models.AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append([]models.AuditEvent(nil), events...)
	s.seq = 0
	for _, e := range s.events {
		if e.Seq > s.seq {
			s.seq = e.Seq
		}
	}
}

// Dropped counts events that never reached the sinks because the queue was full.
func (s *AuditService) Dropped() uint64 {
	return s.dropped.Load()
}

// FailedLoginRule flags threshold or more failed logins for one user within window.
func FailedLoginRule(threshold int, window time.Duration) SecurityRule {
	return func(history []models.AuditEvent, ev models.AuditEvent) []models.SecurityEvent {
		if ev.Action != "login_failed" || threshold <= 0 {
			return nil
		}
		cutoff := ev.Timestamp.Add(-window)
		count := 0
		for i := len(history) - 1; i >= 0; i-- {
			h := history[i]
			if h.Timestamp.Before(cutoff) {
				break
			}
			if h.Action == "login_failed" && h.ResourceID == ev.ResourceID {
				count++
			}
		}
		if count < threshold {
			return nil
		}
		return []models.SecurityEvent{{
			Type:      models.SecurityFailedLogin,
			UserID:    ev.ResourceID,
			IPAddress: ev.IPAddress,
			Details:   models.Metadata{"attempts": count, "window": window.String()},
		}}
	}
}

// LargeTransactionRule flags successful transactions above threshold.
func LargeTransactionRule(threshold int64) SecurityRule {
	return func(_ []models.AuditEvent, ev models.AuditEvent) []models.SecurityEvent {
		if ev.Resource != "transaction" || ev.Outcome != models.OutcomeSuccess || threshold <= 0 {
			return nil
		}
		amount := int64(detailInt(ev.Details, "amount"))
		if amount <= threshold {
			return nil
		}
		return []models.SecurityEvent{{
			Type:      models.SecuritySuspiciousActivity,
			UserID:    ev.ActorID,
			IPAddress: ev.IPAddress,
			Details:   models.Metadata{"reason": "large_transaction", "amount": amount, "threshold": threshold},
		}}
	}
}

// MultipleIPRule flags an actor seen from more than maxIPs addresses within
// window. It fires when a new address pushes the count over the limit.
func MultipleIPRule(maxIPs int, window time.Duration) SecurityRule {
	return func(history []models.AuditEvent, ev models.AuditEvent) []models.SecurityEvent {
		if ev.IPAddress == "" || ev.ActorID == "" || maxIPs <= 0 {
			return nil
		}
		cutoff := ev.Timestamp.Add(-window)
		ips := make(map[string]bool)
		seenBefore := false
		for i := len(history) - 1; i >= 0; i-- {
			h := history[i]
			if h.Timestamp.Before(cutoff) {
				break
			}
			if h.ActorID != ev.ActorID || h.IPAddress == "" {
				continue
			}
			if h.ID != ev.ID && h.IPAddress == ev.IPAddress {
				seenBefore = true
			}
			ips[h.IPAddress] = true
		}
		if seenBefore || len(ips) <= maxIPs {
			return nil
		}
		return []models.SecurityEvent{{
			Type:      models.SecuritySuspiciousActivity,
			UserID:    ev.ActorID,
			IPAddress: ev.IPAddress,
			Details:   models.Metadata{"reason": "multiple_ips", "distinct_ips": len(ips)},
		}}
	}
}

func detailInt(m models.Metadata, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
