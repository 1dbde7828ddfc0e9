package adblock

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/adsweep/adblock/internal/config"
	"github.com/hazyhaar/adsweep/adblock/internal/watch"
	"github.com/hazyhaar/adsweep/dbopen"
)

// WatchConfigDB reconciles the running pages every time another process
// writes to the page database at path. load rebuilds the whole
// configuration, file and database together. It blocks until ctx is done.
func (b *Blocker) WatchConfigDB(ctx context.Context, path string, interval time.Duration, load func(context.Context) (*Config, error)) error {
	db, err := dbopen.Open(path, dbopen.WithSchema(config.Schema))
	if err != nil {
		return fmt.Errorf("adblock: watch config db: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	w := watch.New(db, watch.Options{
		Interval: interval,
		Debounce: 500 * time.Millisecond,
		Logger:   b.logger,
	})
	w.OnChange(ctx, func(ctx context.Context) error {
		cfg, err := load(ctx)
		if err != nil {
			return err
		}
		b.Reconcile(ctx, cfg.Pages)
		return nil
	})
	return nil
}
