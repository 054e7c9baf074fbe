package prompt

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"gateway/internal/domain"
)

const sharedRefineTimeout = 120 * time.Second

// CachedRefiner memoizes model refinements per target and text. Identical
// requests that arrive while one is in flight share its result. The shared
// call is detached from any single caller, so one caller leaving only gives
// that caller the fallback. Fallback results are not cached so a recovered
// model is used on the next call.
type CachedRefiner struct {
	next  Refiner
	cache *expirable.LRU[string, domain.RefinedPrompt]
	group singleflight.Group
}

func NewCachedRefiner(next Refiner, size int, ttl time.Duration) *CachedRefiner {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedRefiner{
		next:  next,
		cache: expirable.NewLRU[string, domain.RefinedPrompt](size, nil, ttl),
	}
}

func (c *CachedRefiner) Refine(ctx context.Context, text string, target domain.Modality) domain.RefinedPrompt {
	key := string(target) + "\x00" + text
	if hit, ok := c.cache.Get(key); ok {
		return hit
	}
	ch := c.group.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedRefineTimeout)
		defer cancel()
		res := c.next.Refine(shared, text, target)
		if res.Source == domain.RefineSourceLLM {
			c.cache.Add(key, res)
		}
		return res, nil
	})
	select {
	case r := <-ch:
		return r.Val.(domain.RefinedPrompt)
	case <-ctx.Done():
		return fallbackPrompt(text, target)
	}
}

// Len reports the number of cached refinements.
func (c *CachedRefiner) Len() int {
	return c.cache.Len()
}

var _ Refiner = (*CachedRefiner)(nil)
