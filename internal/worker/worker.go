// Package worker scores batches submitted asynchronously through the event bus.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/batch"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
)

// BatchRunner scores and persists a batch. batch.Processor implements it.
type BatchRunner interface {
	Run(ctx context.Context, batchID string, txs []domain.Transaction) (*batch.Result, error)
}

// Worker consumes harrier.batch.submitted, runs each batch and publishes
// harrier.batch.completed plus one harrier.alert per FRAUD result.
type Worker struct {
	bus    domain.EventBus
	runner BatchRunner
	logger *slog.Logger

	subscriptions []domain.Subscription
	mu            sync.Mutex
	stopping      bool
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, runner BatchRunner, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    eventBus,
		runner: runner,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to submitted batches.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicBatchSubmitted, w.handleSubmission)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicBatchSubmitted, err)
	}
	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	w.logger.Info("worker started",
		"topic", domain.TopicBatchSubmitted,
	)
	return nil
}

func (w *Worker) handleSubmission(_ context.Context, msg *domain.Message) error {
	var sub domain.BatchSubmission
	if err := bus.Decode(msg, &sub); err != nil {
		w.logger.Error("failed to parse batch submission",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		w.logger.Warn("worker stopping, dropping batch submission",
			"batch_id", sub.BatchID,
		)
		return nil
	}
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	return w.Process(w.ctx, sub)
}

// Process runs one submitted batch and publishes its outcome.
func (w *Worker) Process(ctx context.Context, sub domain.BatchSubmission) error {
	start := time.Now()

	res, err := w.runner.Run(ctx, sub.BatchID, sub.Transactions)
	if err != nil {
		completion := domain.BatchCompletion{
			BatchSummary: domain.BatchSummary{
				BatchID:    sub.BatchID,
				Count:      len(sub.Transactions),
				DurationMs: time.Since(start).Milliseconds(),
			},
			Error: err.Error(),
		}
		if pubErr := bus.PublishJSON(ctx, w.bus, domain.TopicBatchCompleted, completion); pubErr != nil {
			w.logger.Error("failed to publish batch failure",
				"batch_id", sub.BatchID,
				"error", pubErr,
			)
		}
		return fmt.Errorf("batch %s: %w", sub.BatchID, err)
	}

	var errs []error
	for i := range res.Results {
		if !res.Results[i].IsFraud() {
			continue
		}
		alert := domain.Alert{BatchID: res.Summary.BatchID, Result: res.Results[i]}
		if err := bus.PublishJSON(ctx, w.bus, domain.TopicAlert, alert); err != nil {
			w.logger.Error("failed to publish alert",
				"batch_id", res.Summary.BatchID,
				"tx_id", res.Results[i].TxID,
				"error", err,
			)
			errs = append(errs, err)
		}
	}

	if err := bus.PublishJSON(ctx, w.bus, domain.TopicBatchCompleted, domain.BatchCompletion{BatchSummary: res.Summary}); err != nil {
		w.logger.Error("failed to publish batch completion",
			"batch_id", res.Summary.BatchID,
			"error", err,
		)
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Stop unsubscribes, runs the submissions already queued for this worker and
// waits for in-flight batches. When ctx expires first, remaining batches are cancelled.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, sub := range subs {
			if err := sub.Unsubscribe(); err != nil {
				w.logger.Error("failed to unsubscribe",
					"topic", sub.Topic(),
					"error", err,
				)
			}
		}

		w.mu.Lock()
		w.stopping = true
		w.mu.Unlock()

		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancel()
	case <-ctx.Done():
		w.cancel()
		<-done
		return ctx.Err()
	}

	w.logger.Info("worker stopped")
	return nil
}

// Stats is the worker state reported on /health.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Stopping          bool     `json:"stopping"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Stopping:          w.stopping,
	}
}
