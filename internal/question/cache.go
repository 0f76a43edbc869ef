package question

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nqdang/qbattle/internal/domain"
	"github.com/nqdang/qbattle/internal/errors"
)

// Loader fetches the full question pools from the backing store.
type Loader interface {
	ClassicPool(ctx context.Context) ([]domain.Question, error)
	TieredPool(ctx context.Context) ([]domain.Question, error)
}

// Cache keeps both pools in memory and deals battle sets from the cached
// copy. Concurrent misses collapse into one load per pool; the TTL carries
// jitter so the two pools don't expire in lockstep across instances.
type Cache struct {
	loader Loader
	ttl    time.Duration

	sf  singleflight.Group
	rnd *rand.Rand

	mu      sync.Mutex
	classic pool
	tiered  pool
}

type pool struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewCache(loader Loader, ttl time.Duration) *Cache {
	return &Cache{
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RandomSet deals count distinct random classic questions.
func (c *Cache) RandomSet(ctx context.Context, count int) ([]domain.Question, error) {
	all, err := c.pool(ctx, "classic", c.loader.ClassicPool, &c.classic)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no classic questions available"))
	}
	if count > len(all) {
		count = len(all)
	}

	c.mu.Lock()
	perm := c.rnd.Perm(len(all))
	c.mu.Unlock()

	set := make([]domain.Question, count)
	for i := 0; i < count; i++ {
		set[i] = all[perm[i]]
	}
	return set, nil
}

// TieredSet deals one random question per tier, ordered by tier. Tiers with
// no content are skipped rather than failing the whole deal.
func (c *Cache) TieredSet(ctx context.Context) ([]domain.Question, error) {
	all, err := c.pool(ctx, "tiered", c.loader.TieredPool, &c.tiered)
	if err != nil {
		return nil, err
	}

	byTier := make(map[int][]domain.Question)
	for _, q := range all {
		byTier[q.Tier] = append(byTier[q.Tier], q)
	}

	var set []domain.Question
	for tier := 1; tier <= 4; tier++ {
		candidates := byTier[tier]
		if len(candidates) == 0 {
			continue
		}
		c.mu.Lock()
		pick := candidates[c.rnd.Intn(len(candidates))]
		c.mu.Unlock()
		set = append(set, pick)
	}
	if len(set) == 0 {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no fast-mode questions available"))
	}
	return set, nil
}

// Invalidate drops both pools; the next deal reloads from the store.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classic = pool{}
	c.tiered = pool{}
}

func (c *Cache) pool(ctx context.Context, key string, load func(context.Context) ([]domain.Question, error), p *pool) ([]domain.Question, error) {
	c.mu.Lock()
	if len(p.questions) > 0 && time.Now().Before(p.expiresAt) {
		qs := p.questions
		c.mu.Unlock()
		return qs, nil
	}
	c.mu.Unlock()

	result, err, _ := c.sf.Do(key, func() (any, error) {
		// Another caller may have refilled while this one queued.
		c.mu.Lock()
		if len(p.questions) > 0 && time.Now().Before(p.expiresAt) {
			qs := p.questions
			c.mu.Unlock()
			return qs, nil
		}
		c.mu.Unlock()

		qs, err := load(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		p.questions = qs
		p.expiresAt = time.Now().Add(c.ttlWithJitterLocked())
		c.mu.Unlock()
		return qs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (c *Cache) ttlWithJitterLocked() time.Duration {
	if c.ttl <= 0 {
		return time.Hour
	}
	jitter := time.Duration(c.rnd.Int63n(int64(c.ttl) / 10))
	return c.ttl + jitter
}
