package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/tech-intel-harvester/internal/progress"
)

// LogSink writes each progress event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs every event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.Int64("items", evt.Items),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Stage == progress.StageAccountDone {
			fields = append(fields,
				zap.String("handle", evt.Handle),
				zap.String("outcome", evt.Outcome),
				zap.Int("attempts", evt.Attempts),
				zap.Int("rate_limited", evt.RateLimited),
				zap.Bool("cache_hit", evt.CacheHit),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
