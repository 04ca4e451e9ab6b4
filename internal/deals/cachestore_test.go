package deals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCachedFixture(t *testing.T) (*CachedStore, *memStore, *miniredis.Miniredis, *Deal) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	d := newTestDeal()
	inner := newMemStore(d)
	return NewCachedStore(inner, client, time.Minute, nil), inner, mr, d
}

func TestCachedStoreServesRepeatReadsFromRedis(t *testing.T) {
	cached, inner, mr, d := newCachedFixture(t)
	ctx := context.Background()

	first, err := cached.FetchDeal(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, mr.Exists(cacheKey(d.ID)))
	assert.Equal(t, time.Minute, mr.TTL(cacheKey(d.ID)))

	second, err := cached.FetchDeal(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.count("FetchDeal"))
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.Financial.AgreedPrice.Equal(second.Financial.AgreedPrice))
	assert.Equal(t, first.Lifecycle.Stage, second.Lifecycle.Stage)
}

func TestCachedStoreRefreshesAfterWrite(t *testing.T) {
	cached, inner, _, d := newCachedFixture(t)
	ctx := context.Background()

	_, err := cached.FetchDeal(ctx, d.ID)
	require.NoError(t, err)

	updated, err := cached.ProgressStage(ctx, d.ID, StageRequest{
		Mutation: Mutation{ActorID: primaryAgentID, At: fixtureTime, ExpectedVersion: 1},
		From:     StageOfferAccepted,
		Stage:    StageAgreementSigning,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	got, err := cached.FetchDeal(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StageAgreementSigning, got.Lifecycle.Stage)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 1, inner.count("FetchDeal"), "write-through keeps the snapshot warm")
}

func TestCachedStoreInvalidatesOnVoidWrites(t *testing.T) {
	cached, inner, mr, d := newCachedFixture(t)
	ctx := context.Background()

	_, err := cached.FetchDeal(ctx, d.ID)
	require.NoError(t, err)

	err = cached.CreateNote(ctx, d.ID, NoteRequest{Mutation: Mutation{ActorID: primaryAgentID, At: fixtureTime}, Content: "hi"})
	require.NoError(t, err)
	assert.False(t, mr.Exists(cacheKey(d.ID)))

	got, err := cached.FetchDeal(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, got.Collaboration.Notes, 1)
	assert.Equal(t, 2, inner.count("FetchDeal"))
}

func TestCachedStoreInvalidatesOnFailedWrite(t *testing.T) {
	cached, _, mr, d := newCachedFixture(t)
	ctx := context.Background()

	_, err := cached.FetchDeal(ctx, d.ID)
	require.NoError(t, err)

	_, err = cached.UpdateDeal(ctx, d.ID, DealPatch{Mutation: Mutation{ExpectedVersion: 9}})
	assert.ErrorIs(t, err, ErrStaleOrConflicting)
	assert.False(t, mr.Exists(cacheKey(d.ID)))
}

func TestCachedStoreFallsBackWhenRedisIsDown(t *testing.T) {
	cached, inner, mr, d := newCachedFixture(t)
	mr.Close()

	got, err := cached.FetchDeal(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, 1, inner.count("FetchDeal"))
}

func TestCachedStoreDiscardsCorruptSnapshot(t *testing.T) {
	cached, inner, mr, d := newCachedFixture(t)
	require.NoError(t, mr.Set(cacheKey(d.ID), "{not json"))

	got, err := cached.FetchDeal(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, 1, inner.count("FetchDeal"))
}

func TestCachedStorePropagatesNotFound(t *testing.T) {
	cached, _, _, _ := newCachedFixture(t)
	_, err := cached.FetchDeal(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, ErrNotFound))
}
