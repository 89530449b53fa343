package ratelimit

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"

	log "html2pdf-proxy/internal/infra/logging"
)

type RedisConfig struct {
	Addr string
	DB   int
}

// NewStore returns Redis-backed limiter storage when an address is set and
// reachable, in-memory storage otherwise.
func NewStore(cfg RedisConfig) fiber.Storage {
	if cfg.Addr == "" {
		return memoryStorage.New()
	}
	store, err := newRedisStore(cfg)
	if err != nil {
		log.Error("Redis limiter store unavailable, falling back to memory", "addr", cfg.Addr, "error", err)
		return memoryStorage.New()
	}
	log.Info("Using Redis for rate limiting", "addr", cfg.Addr, "db", cfg.DB)
	return store
}

// newRedisStore converts the constructor's panic on a failed ping into an error.
func newRedisStore(cfg RedisConfig) (store fiber.Storage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("redis storage init: %v", r)
		}
	}()
	return redisStorage.New(redisStorage.Config{
		Addrs:    []string{cfg.Addr},
		Database: cfg.DB,
	}), nil
}
