package outbox

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/flowsmith/bpmn-backend/internal/platform/logger"
)

// Handler performs the side effect for one event type. Handlers may be
// invoked more than once for the same event after a crash or failed attempt,
// so they must be idempotent.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) error

func (f HandlerFunc) Handle(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Chain runs handlers in order and fails on the first error. Because a retry
// re-runs the whole chain, chained handlers must be idempotent individually.
func Chain(hs ...Handler) Handler {
	return HandlerFunc(func(ctx context.Context, evt Event) error {
		for _, h := range hs {
			if err := h.Handle(ctx, evt); err != nil {
				return err
			}
		}
		return nil
	})
}

// Ledger is the claim/ack surface the dispatcher drives.
type Ledger interface {
	ClaimBatch(ctx context.Context, claimedBy string, limit int) ([]Event, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, handlerErr string) error
}

// Dispatcher drains the outbox: it claims bounded batches, invokes the
// registered handler per event type, and marks rows processed only after the
// handler returns success. Handler failures never propagate anywhere near the
// original save; the save committed long before dispatch runs.
type Dispatcher struct {
	ledger       Ledger
	handlers     map[string]Handler
	log          *logger.Logger
	limiter      *rate.Limiter
	pollInterval time.Duration
	batchSize    int
	instanceID   string
}

func NewDispatcher(ledger Ledger, log *logger.Logger, pollInterval time.Duration, batchSize int, handlerPerSec float64) *Dispatcher {
	host, _ := os.Hostname()
	return &Dispatcher{
		ledger:       ledger,
		handlers:     make(map[string]Handler),
		log:          log.With("component", "outbox-dispatcher"),
		limiter:      rate.NewLimiter(rate.Limit(handlerPerSec), 1),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		instanceID:   fmt.Sprintf("%s-%s", host, uuid.New().String()[:8]),
	}
}

// Register binds a handler to an event type tag.
func (d *Dispatcher) Register(eventType string, h Handler) {
	d.handlers[eventType] = h
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info("dispatcher started", "instance", d.instanceID, "poll_interval", d.pollInterval.String())

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopped", "instance", d.instanceID)
			return
		case <-ticker.C:
			if n, err := d.DrainOnce(ctx); err != nil {
				d.log.Error("drain failed", "error", err)
			} else if n > 0 {
				d.log.Debug("drained batch", "events", n)
			}
		}
	}
}

// DrainOnce claims and processes a single batch. It returns the number of
// events handled successfully.
func (d *Dispatcher) DrainOnce(ctx context.Context) (int, error) {
	events, err := d.ledger.ClaimBatch(ctx, d.instanceID, d.batchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, evt := range events {
		if err := d.limiter.Wait(ctx); err != nil {
			return processed, err
		}

		h, ok := d.handlers[evt.Type]
		if !ok {
			// Leave the row unprocessed: a later deploy may register the type.
			d.log.Warn("no handler for event type", "event_id", evt.ID.String(), "event_type", evt.Type)
			if err := d.ledger.MarkFailed(ctx, evt.ID, "no handler registered"); err != nil {
				d.log.Error("mark failed errored", "event_id", evt.ID.String(), "error", err)
			}
			continue
		}

		if err := h.Handle(ctx, evt); err != nil {
			d.log.Warn("handler failed", "event_id", evt.ID.String(), "event_type", evt.Type, "attempt", evt.Attempts+1, "error", err)
			if err := d.ledger.MarkFailed(ctx, evt.ID, err.Error()); err != nil {
				d.log.Error("mark failed errored", "event_id", evt.ID.String(), "error", err)
			}
			continue
		}

		if err := d.ledger.MarkProcessed(ctx, evt.ID); err != nil {
			// The side effect ran but the ack was lost; the event will be
			// retried, which is why handlers are idempotent.
			d.log.Error("mark processed errored", "event_id", evt.ID.String(), "error", err)
			continue
		}
		processed++
	}

	return processed, nil
}
