package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"html2pdf-proxy/internal/domain"
	log "html2pdf-proxy/internal/infra/logging"
)

// Renderer converts inlined HTML into a PDF.
type Renderer interface {
	Render(ctx context.Context, html string) (*domain.RenderResult, error)
}

// CachedRenderer serves repeated documents from Redis and falls through to
// the wrapped renderer on a miss. Redis failures never fail the request.
type CachedRenderer struct {
	next Renderer
	rdb  *redis.Client
	ttl  time.Duration
}

func NewCachedRenderer(next Renderer, rdb *redis.Client, ttl time.Duration) *CachedRenderer {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedRenderer{next: next, rdb: rdb, ttl: ttl}
}

// CacheKey hashes the fully inlined HTML, so the key changes whenever any
// embedded image does.
func CacheKey(html string) string {
	sum := sha256.Sum256([]byte(html))
	return "pdfcache:" + hex.EncodeToString(sum[:])
}

func (r *CachedRenderer) Render(ctx context.Context, html string) (*domain.RenderResult, error) {
	key := CacheKey(html)

	if pdf, ok := r.get(ctx, key); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		log.Info("PDF cache hit", "key", key, "bytes", len(pdf))
		return &domain.RenderResult{PDF: pdf, Cached: true}, nil
	}
	cacheLookups.WithLabelValues("miss").Inc()

	res, err := r.next.Render(ctx, html)
	if err != nil {
		return nil, err
	}
	r.set(ctx, key, res.PDF)
	return res, nil
}

func (r *CachedRenderer) get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	pdf, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		log.Warn("Redis read failed", "error", err)
		return nil, false
	}
	return pdf, true
}

func (r *CachedRenderer) set(ctx context.Context, key string, pdf []byte) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := r.rdb.Set(ctx, key, pdf, r.ttl).Err(); err != nil {
		log.Warn("Redis write failed", "error", err)
	}
}
