package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, zerolog.Nop()), mr
}

func TestGetMissesBeforeSet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "timeslots:doc-1:all")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "timeslots:doc-1:all", []byte(`[]`), time.Minute))

	b, err := c.Get(ctx, "timeslots:doc-1:all")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[]`), b)
}

func TestSetAppliesTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "doctors:all:all", []byte(`[]`), time.Minute))

	mr.FastForward(2 * time.Minute)

	_, err := c.Get(ctx, "doctors:all:all")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestDeletePatternRemovesOnlyMatchingKeys(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "timeslots:doc-1:all", []byte(`a`), time.Minute))
	require.NoError(t, c.Set(ctx, "timeslots:doc-1:2026-09-01", []byte(`b`), time.Minute))
	require.NoError(t, c.Set(ctx, "timeslots:doc-2:all", []byte(`c`), time.Minute))

	require.NoError(t, c.DeletePattern(ctx, "timeslots:doc-1:*"))

	_, err := c.Get(ctx, "timeslots:doc-1:all")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = c.Get(ctx, "timeslots:doc-1:2026-09-01")
	assert.ErrorIs(t, err, ErrMiss)

	b, err := c.Get(ctx, "timeslots:doc-2:all")
	require.NoError(t, err)
	assert.Equal(t, []byte(`c`), b)
}

func TestDeletePatternNoMatchesIsNoop(t *testing.T) {
	c, _ := newTestCache(t)
	assert.NoError(t, c.DeletePattern(context.Background(), "timeslots:*"))
}
