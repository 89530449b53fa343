package access

import (
	"context"
	"time"

	log "html2pdf-proxy/internal/infra/logging"
)

// TokenSource loads the full token list.
type TokenSource interface {
	LoadTokens(ctx context.Context) (map[string]int, error)
}

// Reloader keeps a Store in sync with a TokenSource.
type Reloader struct {
	src      TokenSource
	store    *Store
	interval time.Duration
}

func NewReloader(src TokenSource, store *Store, interval time.Duration) *Reloader {
	return &Reloader{src: src, store: store, interval: interval}
}

// LoadOnce replaces the store contents. On error the previous tokens stay.
func (r *Reloader) LoadOnce(ctx context.Context) error {
	tokens, err := r.src.LoadTokens(ctx)
	if err != nil {
		return err
	}
	r.store.Replace(tokens)
	log.Debug("API tokens reloaded", "count", len(tokens))
	return nil
}

// Run reloads every interval until ctx is done.
func (r *Reloader) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.LoadOnce(ctx); err != nil {
				log.Error("Failed to reload API tokens", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
