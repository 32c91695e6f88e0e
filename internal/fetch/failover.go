package fetch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// recheckAfter is how long a failed primary is bypassed before it is tried again.
const recheckAfter = time.Minute

// FailoverCache uses primary until it errors, then serves from fallback and
// retries primary once recheckAfter has passed.
type FailoverCache struct {
	primary  Cache
	fallback Cache
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverCache(primary, fallback Cache, logger *zerolog.Logger) *FailoverCache {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverCache{primary: primary, fallback: fallback, logger: logger, now: time.Now}
}

func (c *FailoverCache) Get(ctx context.Context, url string) ([]byte, bool, error) {
	if c.usePrimary() {
		body, ok, err := c.primary.Get(ctx, url)
		if err == nil {
			c.isDown.Store(false)
			return body, ok, nil
		}
		c.markDown(err)
	}
	return c.fallback.Get(ctx, url)
}

func (c *FailoverCache) Set(ctx context.Context, url string, body []byte) error {
	if c.usePrimary() {
		err := c.primary.Set(ctx, url, body)
		if err == nil {
			c.isDown.Store(false)
			return nil
		}
		c.markDown(err)
	}
	return c.fallback.Set(ctx, url, body)
}

func (c *FailoverCache) usePrimary() bool {
	if !c.isDown.Load() {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Sub(c.lastCheck) > recheckAfter
}

func (c *FailoverCache) markDown(err error) {
	if !c.isDown.Swap(true) {
		c.logger.Error().Err(err).Msg("primary page cache failed, falling back to memory")
	}
	c.mu.Lock()
	c.lastCheck = c.now()
	c.mu.Unlock()
}
