package app

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/keyauth"

	"html2pdf-proxy/internal/access"
)

type memStore struct {
	sync.RWMutex
	m map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{m: make(map[string][]byte)}
}

func (s *memStore) Get(key string) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()
	val, ok := s.m[key]
	if !ok {
		return nil, nil
	}
	return val, nil
}

func (s *memStore) Set(key string, val []byte, exp time.Duration) error {
	s.Lock()
	s.m[key] = val
	s.Unlock()
	return nil
}

func (s *memStore) Delete(key string) error {
	s.Lock()
	delete(s.m, key)
	s.Unlock()
	return nil
}

func (s *memStore) Reset() error {
	s.Lock()
	s.m = make(map[string][]byte)
	s.Unlock()
	return nil
}

func (s *memStore) Close() error { return nil }

func TestTokenRateLimitMiddleware(t *testing.T) {
	token := "test-token"
	limit := 2

	tokens := access.NewStore()
	tokens.Replace(map[string]int{token: limit})

	app := fiber.New()
	app.Use(apiKeyMiddleware(tokens))
	app.Use(newTokenLimiters(tokens, newMemStore(), time.Hour).middleware())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	makeReq := func() *http.Request {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-API-Key", token)
		return req
	}

	for i := 0; i < limit; i++ {
		resp, err := app.Test(makeReq(), -1)
		if err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected 200 but got %d", resp.StatusCode)
		}
	}

	resp, err := app.Test(makeReq(), -1)
	if err != nil {
		t.Fatalf("exceed request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 but got %d", resp.StatusCode)
	}
}

func TestTokenLimitersShareHandlerPerLimit(t *testing.T) {
	tl := newTokenLimiters(access.NewStore(), newMemStore(), time.Minute)
	tl.get(5)
	tl.get(5)
	tl.get(7)
	if len(tl.handlers) != 2 {
		t.Fatalf("expected 2 cached limiters, got %d", len(tl.handlers))
	}
}

func TestTokenBasedLimitOverridesUserBasedLimit(t *testing.T) {
	userLimit := 2
	token := "test-token"

	// A high token limit so only the user limiter would block if it were applied.
	tokens := access.NewStore()
	tokens.Replace(map[string]int{token: 100})
	store := newMemStore()

	app := fiber.New()
	app.Use(keyauth.New(keyauth.Config{
		KeyLookup:  "header:X-API-Key",
		ContextKey: apiKeyLocal,
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			return tokens.Check(key) == nil, nil
		},
		// Anonymous requests reach the user limiter.
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || c.Get("X-API-Key") == ""
		},
	}))
	app.Use(newTokenLimiters(tokens, store, time.Hour).middleware())
	app.Use(userRateLimitMiddleware(userLimit, time.Hour, store))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	makeReq := func(withToken bool) *http.Request {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("User-Agent", "test-agent")
		req.RemoteAddr = "1.2.3.4:5678"
		if withToken {
			req.Header.Set("X-API-Key", token)
		}
		return req
	}

	for i := 0; i < userLimit; i++ {
		resp, err := app.Test(makeReq(false), -1)
		if err != nil {
			t.Fatalf("anonymous request %d failed: %v", i+1, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected 200 but got %d", resp.StatusCode)
		}
	}
	resp, err := app.Test(makeReq(false), -1)
	if err != nil {
		t.Fatalf("anonymous exceed request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 but got %d", resp.StatusCode)
	}

	resp, err = app.Test(makeReq(true), -1)
	if err != nil {
		t.Fatalf("token request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected token request to bypass user limiter, got %d", resp.StatusCode)
	}
}

func TestUserRateLimitMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(userRateLimitMiddleware(2, time.Hour, newMemStore()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	makeReq := func(agent string) *http.Request {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("User-Agent", agent)
		req.RemoteAddr = "1.2.3.4:5678"
		return req
	}

	for i := 0; i < 2; i++ {
		resp, err := app.Test(makeReq("test-agent"), -1)
		if err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected 200 but got %d", resp.StatusCode)
		}
	}

	resp, err := app.Test(makeReq("test-agent"), -1)
	if err != nil {
		t.Fatalf("exceed request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 but got %d", resp.StatusCode)
	}

	resp, err = app.Test(makeReq("other-agent"), -1)
	if err != nil {
		t.Fatalf("other client request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected a different client to have its own window, got %d", resp.StatusCode)
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	tokens := access.NewStore()

	app := fiber.New()
	app.Use(apiKeyMiddleware(tokens))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	do := func(key string) int {
		req := httptest.NewRequest("GET", "/", nil)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		return resp.StatusCode
	}

	if got := do("good"); got != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503 before tokens are loaded, got %d", got)
	}

	tokens.Replace(map[string]int{"good": 0})
	if got := do(""); got != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", got)
	}
	if got := do("bad"); got != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", got)
	}
	if got := do("good"); got != fiber.StatusOK {
		t.Fatalf("expected 200 for known key, got %d", got)
	}
}

func TestConcurrencyMiddleware(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	app := fiber.New()
	app.Use(concurrencyMiddleware(1))
	app.Get("/", func(c *fiber.Ctx) error {
		entered <- struct{}{}
		<-release
		return c.SendString("ok")
	})

	first := make(chan int, 1)
	go func() {
		resp, err := app.Test(httptest.NewRequest("GET", "/", nil), -1)
		if err != nil {
			first <- 0
			return
		}
		first <- resp.StatusCode
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("first request never reached the handler")
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil), -1)
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503 while at capacity, got %d", resp.StatusCode)
	}

	close(release)
	if got := <-first; got != fiber.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", got)
	}

	go func() { <-entered }()
	resp, err = app.Test(httptest.NewRequest("GET", "/", nil), -1)
	if err != nil {
		t.Fatalf("third request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected slot to be released, got %d", resp.StatusCode)
	}
}
