package fetch

import (
	"context"

	"scrapeq/internal/events"

	"github.com/rs/zerolog"
)

// Cache outcomes reported in page_fetched events.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// EventPublisher receives page_fetched events.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// CachingFetcher serves pages from a cache and falls back to the origin.
// A broken cache never fails a fetch.
type CachingFetcher struct {
	origin Fetcher
	cache  Cache
	events EventPublisher
	logger *zerolog.Logger
}

func NewCachingFetcher(origin Fetcher, cache Cache, publisher EventPublisher, logger *zerolog.Logger) *CachingFetcher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &CachingFetcher{origin: origin, cache: cache, events: publisher, logger: logger}
}

func (f *CachingFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	result := CacheMiss

	body, ok, err := f.cache.Get(ctx, url)
	switch {
	case err != nil:
		f.logger.Warn().Err(err).Str("url", url).Msg("cache read failed, fetching from origin")
		result = CacheError
	case ok:
		f.logger.Debug().Str("url", url).Msg("cache hit")
		f.publish(url, len(body), CacheHit)
		return body, nil
	}

	body, err = f.origin.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	if err := f.cache.Set(ctx, url, body); err != nil {
		f.logger.Warn().Err(err).Str("url", url).Msg("cache write failed")
		result = CacheError
	}

	f.publish(url, len(body), result)
	return body, nil
}

func (f *CachingFetcher) publish(url string, size int, result string) {
	if f.events == nil {
		return
	}
	payload := events.PageEventPayload{URL: url, Bytes: size, Cache: result}
	if err := f.events.PublishJSON(events.EventPageFetched, payload); err != nil {
		f.logger.Warn().Err(err).Msg("publish page event")
	}
}
