package scraper

import (
	"context"
	"fmt"

	"scrapeq/internal/queue"
)

// Bootstrap seeds an empty queue with one index task per seed URL. A queue
// that still holds pending work is left alone so an interrupted crawl resumes.
// It reports how many tasks were enqueued.
func Bootstrap(ctx context.Context, q *queue.Queue, seeds []string) (int, error) {
	empty, err := q.IsEmpty(ctx)
	if err != nil {
		return 0, err
	}
	if !empty {
		return 0, nil
	}

	for i, seed := range seeds {
		if err := q.Enqueue(ctx, NewIndexTask(seed)); err != nil {
			return i, fmt.Errorf("seed %s: %w", seed, err)
		}
	}
	return len(seeds), nil
}
