package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-edge/internal/events"
)

// LogSink writes one structured log line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wraps logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.logger.Info("render event",
			zap.String("request_id", evt.RequestID),
			zap.String("mode", string(evt.Mode)),
			zap.String("outcome", evt.Outcome),
			zap.String("host", evt.Host),
			zap.String("tenant_id", evt.TenantID),
			zap.Bool("bot", evt.Bot),
			zap.Int("origin_status", evt.OriginStatus),
			zap.Duration("dur", evt.Dur),
			zap.Int64("original_bytes", evt.OriginalBytes),
			zap.Int64("rendered_bytes", evt.RenderedBytes),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}
