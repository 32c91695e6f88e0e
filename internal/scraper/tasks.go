package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"scrapeq/internal/events"
	"scrapeq/internal/fetch"
	"scrapeq/internal/models"
	"scrapeq/internal/queue"

	"github.com/rs/zerolog"
)

// ItemSink stores scraped items. database.DB implements it.
type ItemSink interface {
	SaveItem(ctx context.Context, item *models.ScrapedItem) error
}

// EventPublisher receives item_scraped events.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Deps is shared by every scraping task decoded from the queue.
type Deps struct {
	Fetcher   fetch.Fetcher
	Extractor *Extractor
	Items     ItemSink
	Events    EventPublisher
	// MaxPages bounds listing pagination; zero follows every next link.
	MaxPages int
	Logger   *zerolog.Logger
}

// Register adds the index, listing and detail kinds to reg.
func Register(reg *queue.Registry, deps *Deps) error {
	if deps.Logger == nil {
		nop := zerolog.Nop()
		deps.Logger = &nop
	}

	if err := reg.Register(models.TaskKindIndex, func() queue.Task { return &IndexTask{deps: deps} }); err != nil {
		return err
	}
	if err := reg.Register(models.TaskKindListing, func() queue.Task { return &ListingTask{deps: deps} }); err != nil {
		return err
	}
	return reg.Register(models.TaskKindDetail, func() queue.Task { return &DetailTask{deps: deps} })
}

// IndexTask fetches an index page and enqueues the first page of every listing it links to.
type IndexTask struct {
	URL string `json:"url"`

	deps *Deps
}

func NewIndexTask(url string) *IndexTask { return &IndexTask{URL: url} }

func (t *IndexTask) Kind() string { return models.TaskKindIndex }

func (t *IndexTask) Execute(ctx context.Context, q queue.Enqueuer) error {
	body, err := t.deps.Fetcher.Fetch(ctx, t.URL)
	if err != nil {
		return err
	}

	listings, err := t.deps.Extractor.ListingLinks(t.URL, body)
	if err != nil {
		return err
	}

	t.deps.Logger.Info().Str("url", t.URL).Int("listings", len(listings)).Msg("index page scraped")
	for _, link := range listings {
		if err := q.Enqueue(ctx, &ListingTask{URL: link, Page: 1}); err != nil {
			return err
		}
	}
	return nil
}

// ListingTask fetches one page of a listing, enqueues its detail pages and then the following page.
type ListingTask struct {
	URL  string `json:"url"`
	Page int    `json:"page"`

	deps *Deps
}

func (t *ListingTask) Kind() string { return models.TaskKindListing }

// PageURL is the listing URL with its page query parameter set.
func (t *ListingTask) PageURL() (string, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return "", fmt.Errorf("parse listing url %q: %w", t.URL, err)
	}
	page := t.Page
	if page < 1 {
		page = 1
	}
	query := u.Query()
	query.Set("page", strconv.Itoa(page))
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func (t *ListingTask) Execute(ctx context.Context, q queue.Enqueuer) error {
	pageURL, err := t.PageURL()
	if err != nil {
		return err
	}

	body, err := t.deps.Fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return err
	}

	details, err := t.deps.Extractor.DetailLinks(pageURL, body)
	if err != nil {
		return err
	}

	t.deps.Logger.Info().Str("url", pageURL).Int("details", len(details)).Msg("listing page scraped")
	for _, link := range details {
		if err := q.Enqueue(ctx, &DetailTask{URL: link, Source: t.URL}); err != nil {
			return err
		}
	}

	if !t.deps.Extractor.HasNext(body) {
		return nil
	}
	if t.deps.MaxPages > 0 && t.Page >= t.deps.MaxPages {
		t.deps.Logger.Debug().Str("url", t.URL).Int("page", t.Page).Msg("page limit reached")
		return nil
	}
	return q.Enqueue(ctx, &ListingTask{URL: t.URL, Page: t.Page + 1})
}

// DetailTask fetches a detail page and stores its title.
type DetailTask struct {
	URL    string `json:"url"`
	Source string `json:"source,omitempty"`

	deps *Deps
}

func (t *DetailTask) Kind() string { return models.TaskKindDetail }

func (t *DetailTask) Execute(ctx context.Context, _ queue.Enqueuer) error {
	body, err := t.deps.Fetcher.Fetch(ctx, t.URL)
	if err != nil {
		return err
	}

	title, ok := t.deps.Extractor.Title(body)
	if !ok {
		t.deps.Logger.Warn().Str("url", t.URL).Msg("no title found")
	}

	item := &models.ScrapedItem{
		URL:       t.URL,
		Title:     title,
		Source:    t.Source,
		ScrapedAt: time.Now().UTC(),
	}
	if err := t.deps.Items.SaveItem(ctx, item); err != nil {
		return fmt.Errorf("save item: %w", err)
	}

	t.deps.Logger.Info().Str("url", t.URL).Str("title", title).Msg("item scraped")
	if t.deps.Events != nil {
		payload := events.ItemEventPayload{ItemID: item.ID, URL: item.URL, Title: item.Title, Source: item.Source}
		if err := t.deps.Events.PublishJSON(events.EventItemScraped, payload); err != nil {
			t.deps.Logger.Warn().Err(err).Msg("publish item event")
		}
	}
	return nil
}
