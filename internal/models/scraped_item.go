package models

import "time"

// ScrapedItem is a detail page extracted by the scraper.
type ScrapedItem struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Source    string    `json:"source,omitempty"`
	ScrapedAt time.Time `json:"scraped_at"`
}
