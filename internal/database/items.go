package database

import (
	"context"
	"fmt"
	"time"

	"scrapeq/internal/models"
)

// SaveItem stores a scraped item, replacing the title of an already known URL.
func (db *DB) SaveItem(ctx context.Context, item *models.ScrapedItem) error {
	if item.ScrapedAt.IsZero() {
		item.ScrapedAt = time.Now().UTC()
	}

	query := `
        INSERT INTO scraped_items (url, title, source, scraped_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(url) DO UPDATE SET
            title = excluded.title,
            source = excluded.source,
            scraped_at = excluded.scraped_at
    `
	if _, err := db.ExecContext(ctx, query, item.URL, item.Title, item.Source, item.ScrapedAt.UTC()); err != nil {
		return fmt.Errorf("failed to save item: %w", err)
	}

	if err := db.QueryRowContext(ctx, `SELECT id FROM scraped_items WHERE url = ?`, item.URL).Scan(&item.ID); err != nil {
		return fmt.Errorf("failed to read item id: %w", err)
	}
	return nil
}

// ListItems returns every scraped item in insertion order.
func (db *DB) ListItems(ctx context.Context) ([]models.ScrapedItem, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, url, title, source, scraped_at FROM scraped_items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []models.ScrapedItem
	for rows.Next() {
		var item models.ScrapedItem
		if err := rows.Scan(&item.ID, &item.URL, &item.Title, &item.Source, &item.ScrapedAt); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (db *DB) CountItems(ctx context.Context) (int, error) {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(id) FROM scraped_items`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}
