package sinks

import (
	"context"

	"github.com/ruralpay/ledgercore/internal/models"
	"go.uber.org/zap"
)

// LogSink writes every audit event as one structured AUDIT log line.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(_ context.Context, ev models.AuditEvent) error {
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.Uint64("seq", ev.Seq),
		zap.Time("timestamp", ev.Timestamp),
		zap.String("actor_id", ev.ActorID),
		zap.String("actor_role", string(ev.ActorRole)),
		zap.String("action", ev.Action),
		zap.String("resource", ev.Resource),
		zap.String("resource_id", ev.ResourceID),
		zap.String("outcome", string(ev.Outcome)),
		zap.String("severity", string(ev.Severity)),
	}
	if ev.IPAddress != "" {
		fields = append(fields, zap.String("ip_address", ev.IPAddress))
	}
	if len(ev.Details) > 0 {
		fields = append(fields, zap.Any("details", ev.Details))
	}

	switch ev.Severity {
	case models.SeverityCritical:
		s.logger.Error("AUDIT", fields...)
	case models.SeverityWarning:
		s.logger.Warn("AUDIT", fields...)
	default:
		s.logger.Info("AUDIT", fields...)
	}
	return nil
}
