package enrichment

import (
	"context"

	"github.com/rs/zerolog"
)

// logSink writes snapshots to the structured log.
type logSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink that only logs.
func NewLogSink(logger zerolog.Logger) Sink {
	return &logSink{logger: logger.With().Str("component", "log-snapshot-sink").Logger()}
}

func (s *logSink) Process(_ context.Context, snapshot Snapshot) error {
	s.logger.Info().
		Int64("order_id", snapshot.Order.ID).
		Str("summary", snapshot.Summary).
		Msg("order summary")
	return nil
}

// fallbackSink tries the primary sink, then the fallback.
type fallbackSink struct {
	primary  Sink
	fallback Sink
	logger   zerolog.Logger
}

// NewFallbackSink creates a sink that uses fallback when primary fails.
func NewFallbackSink(primary, fallback Sink, logger zerolog.Logger) Sink {
	return &fallbackSink{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With().Str("component", "fallback-sink").Logger(),
	}
}

func (s *fallbackSink) Process(ctx context.Context, snapshot Snapshot) error {
	err := s.primary.Process(ctx, snapshot)
	if err == nil {
		return nil
	}

	s.logger.Warn().
		Err(err).
		Int64("order_id", snapshot.Order.ID).
		Msg("primary sink failed, falling back")
	return s.fallback.Process(ctx, snapshot)
}
