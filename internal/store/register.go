package store

import (
	"context"
	"fmt"
	"time"

	"github.com/talemon/core/internal/hashutil"
)

// RegisterPage inserts a new monitored URL, or does nothing if it is
// already tracked (url and hash are both unique). Page ingestion itself is
// an external concern, but the core still needs
// one idempotent entry point for whatever ingestion tooling calls it.
func (s *Store) RegisterPage(ctx context.Context, rawURL, domain string, checkInterval time.Duration) error {
	if checkInterval <= 0 {
		checkInterval = defaultCheckIntervalFallback
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO main.page (url, hash, domain, check_interval)
		VALUES ($1, $2, $3, ($4 * interval '1 second'))
		ON CONFLICT (url) DO NOTHING`,
		rawURL, hashutil.URLHash(rawURL), domain, checkInterval.Seconds())
	if err != nil {
		return fmt.Errorf("store: register page: %w", err)
	}
	return nil
}

const defaultCheckIntervalFallback = time.Hour
