package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Schema for the sweep_pages table.
const Schema = `
CREATE TABLE IF NOT EXISTS sweep_pages (
	id              TEXT PRIMARY KEY,
	url             TEXT NOT NULL,
	policy          TEXT DEFAULT '',
	extra_selectors TEXT DEFAULT '[]',
	status          TEXT DEFAULT 'active',
	updated_at      INTEGER NOT NULL
);
`

// LoadPages reads all active pages from the database, ordered by id.
func LoadPages(ctx context.Context, db *sql.DB) ([]PageConfig, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, url, policy, extra_selectors
		FROM sweep_pages
		WHERE status = 'active'
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("config: load pages: %w", err)
	}
	defer rows.Close()

	var pages []PageConfig
	for rows.Next() {
		var p PageConfig
		var selsJSON string
		if err := rows.Scan(&p.ID, &p.URL, &p.Policy, &selsJSON); err != nil {
			return nil, fmt.Errorf("config: scan page: %w", err)
		}
		if err := json.Unmarshal([]byte(selsJSON), &p.ExtraSelectors); err != nil {
			return nil, fmt.Errorf("config: page %s extra_selectors: %w", p.ID, err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// MergePages overlays database pages on the file configuration: a database
// row replaces the file page with the same id, other rows are appended.
// Defaults are re-applied and the result validated.
func (c *Config) MergePages(pages []PageConfig) error {
	index := make(map[string]int, len(c.Pages))
	for i, p := range c.Pages {
		if p.ID != "" {
			index[p.ID] = i
		}
	}
	for _, p := range pages {
		if i, ok := index[p.ID]; ok {
			c.Pages[i] = p
			continue
		}
		c.Pages = append(c.Pages, p)
	}
	c.ApplyDefaults()
	return c.Validate()
}
