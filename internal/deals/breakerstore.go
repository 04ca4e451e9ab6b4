package deals

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the store circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// BreakerStore fails fast with ErrTransport while the inner store is failing.
// Only transport failures trip the breaker; domain outcomes such as not found
// or conflicts count as successes.
type BreakerStore struct {
	inner   Store
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps inner with a circuit breaker.
func NewBreakerStore(inner Store, cfg BreakerConfig, logger *slog.Logger) *BreakerStore {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	settings := gobreaker.Settings{
		Name:        "deal-store",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrTransport)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("deal store breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}
	return &BreakerStore{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// State exposes the breaker state for health reporting.
func (b *BreakerStore) State() gobreaker.State {
	return b.breaker.State()
}

func (b *BreakerStore) run(op string, fn func() (*Deal, error)) (*Deal, error) {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &TransportError{Op: op, Err: err}
		}
		return nil, err
	}
	d, _ := out.(*Deal)
	return d, nil
}

func (b *BreakerStore) exec(op string, fn func() error) error {
	_, err := b.run(op, func() (*Deal, error) { return nil, fn() })
	return err
}

// FetchDeal delegates through the breaker.
func (b *BreakerStore) FetchDeal(ctx context.Context, id uuid.UUID) (*Deal, error) {
	return b.run("fetch deal", func() (*Deal, error) { return b.inner.FetchDeal(ctx, id) })
}

// UpdateDeal delegates through the breaker.
func (b *BreakerStore) UpdateDeal(ctx context.Context, id uuid.UUID, patch DealPatch) (*Deal, error) {
	return b.run("update deal", func() (*Deal, error) { return b.inner.UpdateDeal(ctx, id, patch) })
}

// ProgressStage delegates through the breaker.
func (b *BreakerStore) ProgressStage(ctx context.Context, id uuid.UUID, req StageRequest) (*Deal, error) {
	return b.run("progress stage", func() (*Deal, error) { return b.inner.ProgressStage(ctx, id, req) })
}

// RecordPayment delegates through the breaker.
func (b *BreakerStore) RecordPayment(ctx context.Context, id uuid.UUID, req PaymentRequest) (*Deal, error) {
	return b.run("record payment", func() (*Deal, error) { return b.inner.RecordPayment(ctx, id, req) })
}

// CreatePaymentSchedule delegates through the breaker.
func (b *BreakerStore) CreatePaymentSchedule(ctx context.Context, id uuid.UUID, req ScheduleRequest) error {
	return b.exec("create payment schedule", func() error { return b.inner.CreatePaymentSchedule(ctx, id, req) })
}

// CreateNote delegates through the breaker.
func (b *BreakerStore) CreateNote(ctx context.Context, id uuid.UUID, req NoteRequest) error {
	return b.exec("create note", func() error { return b.inner.CreateNote(ctx, id, req) })
}

// CreateDocument delegates through the breaker.
func (b *BreakerStore) CreateDocument(ctx context.Context, id uuid.UUID, req DocumentRequest) error {
	return b.exec("create document", func() error { return b.inner.CreateDocument(ctx, id, req) })
}

// CompleteDeal delegates through the breaker.
func (b *BreakerStore) CompleteDeal(ctx context.Context, id uuid.UUID, req CompleteRequest) error {
	return b.exec("complete deal", func() error { return b.inner.CompleteDeal(ctx, id, req) })
}

// CancelDeal delegates through the breaker.
func (b *BreakerStore) CancelDeal(ctx context.Context, id uuid.UUID, req CancelRequest) error {
	return b.exec("cancel deal", func() error { return b.inner.CancelDeal(ctx, id, req) })
}
