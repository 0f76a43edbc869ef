package question

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nqdang/qbattle/internal/domain"
	"github.com/nqdang/qbattle/internal/errors"
)

type fakeLoader struct {
	classicCalls atomic.Int64
	tieredCalls  atomic.Int64
	classic      []domain.Question
	tiered       []domain.Question
}

func (f *fakeLoader) ClassicPool(context.Context) ([]domain.Question, error) {
	f.classicCalls.Add(1)
	return f.classic, nil
}

func (f *fakeLoader) TieredPool(context.Context) ([]domain.Question, error) {
	f.tieredCalls.Add(1)
	return f.tiered, nil
}

func someClassic(n int) []domain.Question {
	qs := make([]domain.Question, n)
	for i := range qs {
		qs[i] = domain.Question{ID: int64(i + 1), Text: "q", Answer: "a"}
	}
	return qs
}

func TestCacheRandomSet(t *testing.T) {
	ctx := context.Background()

	t.Run("deals distinct questions", func(t *testing.T) {
		c := NewCache(&fakeLoader{classic: someClassic(20)}, time.Minute)

		set, err := c.RandomSet(ctx, 12)
		require.NoError(t, err)
		require.Len(t, set, 12)

		seen := make(map[int64]bool)
		for _, q := range set {
			assert.False(t, seen[q.ID], "question %d dealt twice", q.ID)
			seen[q.ID] = true
		}
	})

	t.Run("caps the deal at the pool size", func(t *testing.T) {
		c := NewCache(&fakeLoader{classic: someClassic(5)}, time.Minute)

		set, err := c.RandomSet(ctx, 12)
		require.NoError(t, err)
		assert.Len(t, set, 5)
	})

	t.Run("empty pool is an error", func(t *testing.T) {
		c := NewCache(&fakeLoader{}, time.Minute)

		_, err := c.RandomSet(ctx, 12)
		assert.True(t, errors.Is(err, errors.CodeFailedPrecondition))
	})

	t.Run("loads the pool once under concurrency", func(t *testing.T) {
		loader := &fakeLoader{classic: someClassic(20)}
		c := NewCache(loader, time.Minute)

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = c.RandomSet(ctx, 5)
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(1), loader.classicCalls.Load())
	})

	t.Run("invalidate forces a reload", func(t *testing.T) {
		loader := &fakeLoader{classic: someClassic(20)}
		c := NewCache(loader, time.Minute)

		_, err := c.RandomSet(ctx, 5)
		require.NoError(t, err)
		c.Invalidate()
		_, err = c.RandomSet(ctx, 5)
		require.NoError(t, err)

		assert.Equal(t, int64(2), loader.classicCalls.Load())
	})
}

func TestCacheTieredSet(t *testing.T) {
	ctx := context.Background()

	t.Run("one question per tier in order", func(t *testing.T) {
		loader := &fakeLoader{tiered: []domain.Question{
			{ID: 1, Tier: 1}, {ID: 2, Tier: 1},
			{ID: 3, Tier: 2},
			{ID: 4, Tier: 3},
			{ID: 5, Tier: 4}, {ID: 6, Tier: 4},
		}}
		c := NewCache(loader, time.Minute)

		set, err := c.TieredSet(ctx)
		require.NoError(t, err)
		require.Len(t, set, 4)
		for i, q := range set {
			assert.Equal(t, i+1, q.Tier)
		}
	})

	t.Run("missing tiers are skipped", func(t *testing.T) {
		loader := &fakeLoader{tiered: []domain.Question{
			{ID: 1, Tier: 1},
			{ID: 2, Tier: 3},
		}}
		c := NewCache(loader, time.Minute)

		set, err := c.TieredSet(ctx)
		require.NoError(t, err)
		require.Len(t, set, 2)
		assert.Equal(t, 1, set[0].Tier)
		assert.Equal(t, 3, set[1].Tier)
	})

	t.Run("empty pool is an error", func(t *testing.T) {
		c := NewCache(&fakeLoader{}, time.Minute)

		_, err := c.TieredSet(ctx)
		assert.True(t, errors.Is(err, errors.CodeFailedPrecondition))
	})
}
