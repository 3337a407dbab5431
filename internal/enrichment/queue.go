package enrichment

import (
	"context"
	"sync"
	"time"

	"orderhub/internal/config"

	"github.com/rs/zerolog"
)

// Queue is a bounded worker pool. Enqueue never blocks; a full queue drops the job.
type Queue struct {
	jobs    chan int64
	loader  OrderLoader
	sink    Sink
	workers int
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueue creates a queue. Call Start to launch the workers.
func NewQueue(cfg config.EnrichmentConfig, loader OrderLoader, sink Sink, logger zerolog.Logger) *Queue {
	return &Queue{
		jobs:    make(chan int64, cfg.QueueSize),
		loader:  loader,
		sink:    sink,
		workers: cfg.Workers,
		timeout: cfg.JobTimeout,
		logger:  logger.With().Str("component", "enrichment").Logger(),
	}
}

// Start launches the workers. They run until Close drains the queue.
func (q *Queue) Start(ctx context.Context) {
	q.logger.Info().
		Int("workers", q.workers).
		Int("queue_size", cap(q.jobs)).
		Msg("starting enrichment workers")

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for orderID := range q.jobs {
				q.process(ctx, orderID)
			}
		}()
	}
}

// Enqueue schedules enrichment for an order. It reports false when the job was dropped.
func (q *Queue) Enqueue(orderID int64) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn().Int64("order_id", orderID).Msg("enrichment queue closed, dropping job")
		return false
	}

	select {
	case q.jobs <- orderID:
		return true
	default:
		q.logger.Warn().Int64("order_id", orderID).Msg("enrichment queue full, dropping job")
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info().Msg("enrichment workers stopped")
}

func (q *Queue) process(ctx context.Context, orderID int64) {
	defer func() {
		if rec := recover(); rec != nil {
			q.logger.Error().Interface("panic", rec).Int64("order_id", orderID).Msg("enrichment job panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	order, err := q.loader.GetByID(ctx, orderID)
	if err != nil {
		q.logger.Error().Err(err).Int64("order_id", orderID).Msg("failed to load order for enrichment")
		return
	}
	if order == nil {
		q.logger.Warn().Int64("order_id", orderID).Msg("order vanished before enrichment")
		return
	}

	if err := q.sink.Process(ctx, NewSnapshot(order, time.Now())); err != nil {
		q.logger.Error().Err(err).Int64("order_id", orderID).Msg("enrichment job failed")
		return
	}

	q.logger.Debug().Int64("order_id", orderID).Msg("order enriched")
}
