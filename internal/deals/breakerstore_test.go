package deals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensOnTransportFailures(t *testing.T) {
	d := newTestDeal()
	inner := newMemStore(d)
	inner.failWith = &TransportError{Op: "fetch deal", Err: errors.New("dial tcp: refused")}
	breaker := NewBreakerStore(inner, BreakerConfig{ConsecutiveFailures: 2, Timeout: time.Minute}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := breaker.FetchDeal(ctx, d.ID)
		assert.ErrorIs(t, err, ErrTransport)
	}
	assert.Equal(t, gobreaker.StateOpen, breaker.State())

	_, err := breaker.FetchDeal(ctx, d.ID)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, inner.count("FetchDeal"), "open breaker must not reach the store")

	err = breaker.CreateNote(ctx, d.ID, NoteRequest{Content: "x"})
	assert.ErrorIs(t, err, ErrTransport)
	assert.True(t, Retryable(err))
}

func TestBreakerIgnoresDomainErrors(t *testing.T) {
	d := newTestDeal()
	inner := newMemStore(d)
	breaker := NewBreakerStore(inner, BreakerConfig{ConsecutiveFailures: 1}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := breaker.FetchDeal(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = breaker.UpdateDeal(ctx, d.ID, DealPatch{Mutation: Mutation{ExpectedVersion: 99}})
		assert.ErrorIs(t, err, ErrStaleOrConflicting)
	}
	assert.Equal(t, gobreaker.StateClosed, breaker.State())

	got, err := breaker.FetchDeal(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
}

func TestBreakerPassesThroughWrites(t *testing.T) {
	d := newTestDeal()
	inner := newMemStore(d)
	breaker := NewBreakerStore(inner, BreakerConfig{}, nil)

	err := breaker.CancelDeal(context.Background(), d.ID, CancelRequest{
		Mutation: Mutation{ActorID: primaryAgentID, At: fixtureTime, ExpectedVersion: 1},
		Reason:   "duplicate",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, inner.get(d.ID).Lifecycle.Status)
}
