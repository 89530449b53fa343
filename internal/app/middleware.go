package app

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	"github.com/rs/xid"
	"golang.org/x/sync/semaphore"

	"html2pdf-proxy/internal/access"
	"html2pdf-proxy/internal/config"
	log "html2pdf-proxy/internal/infra/logging"
	"html2pdf-proxy/internal/intake"
)

const (
	apiKeyHeader = "X-API-Key"
	apiKeyLocal  = "api_key"
)

// tokenLimiters hands out one sliding-window limiter per distinct token
// limit, all sharing the same storage.
type tokenLimiters struct {
	mu       sync.RWMutex
	handlers map[int]fiber.Handler
	store    fiber.Storage
	interval time.Duration
	tokens   *access.Store
}

func newTokenLimiters(tokens *access.Store, store fiber.Storage, interval time.Duration) *tokenLimiters {
	return &tokenLimiters{
		handlers: make(map[int]fiber.Handler),
		store:    store,
		interval: interval,
		tokens:   tokens,
	}
}

// get returns a cached limiter for the given token limit, creating one if needed.
func (t *tokenLimiters) get(limit int) fiber.Handler {
	t.mu.RLock()
	h, ok := t.handlers[limit]
	t.mu.RUnlock()
	if ok {
		return h
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.handlers[limit]; ok {
		return h
	}
	h = limiter.New(limiter.Config{
		Max:               limit,
		Expiration:        t.interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           t.store,
		KeyGenerator: func(c *fiber.Ctx) string {
			token, _ := c.Locals(apiKeyLocal).(string)
			return token
		},
		LimitReached: func(c *fiber.Ctx) error {
			token, _ := c.Locals(apiKeyLocal).(string)
			log.Warn("Rate limit exceeded", "token", token, "path", c.Path())
			return errorJSON(c, fiber.StatusTooManyRequests, "Too Many Requests")
		},
	})
	t.handlers[limit] = h
	return h
}

// middleware applies the per-token limit of authenticated requests.
func (t *tokenLimiters) middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := c.Locals(apiKeyLocal).(string)
		if !ok || token == "" {
			return c.Next()
		}
		limit := t.tokens.RateLimit(token)
		if limit == 0 {
			return c.Next()
		}
		return t.get(limit)(c)
	}
}

func clientKey(c *fiber.Ctx) string {
	sum := sha256.Sum256([]byte(c.IP() + c.Get(fiber.HeaderUserAgent)))
	return hex.EncodeToString(sum[:])
}

// userRateLimitMiddleware limits anonymous requests per client address and
// user agent. Requests authenticated by API key are left to the token limiter.
func userRateLimitMiddleware(limit int, interval time.Duration, store fiber.Storage) fiber.Handler {
	userLimiter := limiter.New(limiter.Config{
		Max:               limit,
		Expiration:        interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           store,
		KeyGenerator:      clientKey,
		LimitReached: func(c *fiber.Ctx) error {
			log.Warn("Rate limit exceeded", "user", clientKey(c), "path", c.Path())
			return errorJSON(c, fiber.StatusTooManyRequests, "Too Many Requests")
		},
	})
	return func(c *fiber.Ctx) error {
		if token, ok := c.Locals(apiKeyLocal).(string); ok && token != "" {
			return c.Next()
		}
		return userLimiter(c)
	}
}

func apiKeyMiddleware(tokens *access.Store) fiber.Handler {
	return keyauth.New(keyauth.Config{
		KeyLookup:  "header:" + apiKeyHeader,
		ContextKey: apiKeyLocal,
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			if err := tokens.Check(key); err != nil {
				return false, err
			}
			return true, nil
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// keyauth may hand over a nil error.
			status := fiber.StatusUnauthorized
			if err == nil {
				err = fiber.ErrUnauthorized
			}
			if errors.Is(err, access.ErrTokenStoreNotReady) {
				status = fiber.StatusServiceUnavailable
			}
			log.Warn("API key rejected", "path", c.Path(), "status", status, "error", err)
			return errorJSON(c, status, err.Error())
		},
	})
}

// concurrencyMiddleware caps in-flight conversions and answers 503 when the
// cap is reached instead of queueing.
func concurrencyMiddleware(limit int64) fiber.Handler {
	sem := semaphore.NewWeighted(limit)
	return func(c *fiber.Ctx) error {
		if !sem.TryAcquire(1) {
			log.Warn("Upload rejected, server busy", "path", c.Path(), "max_in_flight", limit)
			return fiber.NewError(fiber.StatusServiceUnavailable, "Server busy, retry later")
		}
		defer sem.Release(1)
		return c.Next()
	}
}

// conversionChain builds the handlers run in front of /upload and /preview.
// The handlers are shared between both routes.
func conversionChain(cfg config.Config, deps Deps) []fiber.Handler {
	store := deps.LimiterStore
	if store == nil && (cfg.LimitersEnabled() || deps.Tokens != nil) {
		store = memoryStorage.New()
	}

	var chain []fiber.Handler
	if deps.Tokens != nil {
		chain = append(chain,
			apiKeyMiddleware(deps.Tokens),
			newTokenLimiters(deps.Tokens, store, cfg.RateLimiter.Interval).middleware(),
		)
	}
	if cfg.RateLimiter.UserLimit > 0 {
		chain = append(chain, userRateLimitMiddleware(cfg.RateLimiter.UserLimit, cfg.RateLimiter.Interval, store))
	}
	return append(chain,
		concurrencyMiddleware(cfg.Limits.MaxConcurrentUploads),
		intake.Enforce(intake.Limits{
			MaxFileBytes:  cfg.Limits.MaxFileBytes,
			MaxImageFiles: cfg.Limits.MaxImageFiles,
		}),
	)
}

// RegisterMiddleware attaches global middleware to the app
func RegisterMiddleware(app *fiber.App, deps Deps) {
	app.Use(cors.New())

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(healthcheck.New(healthcheck.Config{
		ReadinessProbe: func(c *fiber.Ctx) bool {
			return deps.Ready == nil || deps.Ready()
		},
	}))

	app.Use(func(c *fiber.Ctx) error {
		requestID := c.Get(fiber.HeaderXRequestID)
		if requestID == "" {
			requestID = c.GetRespHeader(fiber.HeaderXRequestID)
		}
		log.Info("Incoming request", "method", c.Method(), "path", c.Path(), "request_id", requestID)
		return c.Next()
	})
}
