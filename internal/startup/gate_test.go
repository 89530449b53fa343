package startup

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"html2pdf-proxy/internal/config"
	"html2pdf-proxy/internal/domain"
	"html2pdf-proxy/internal/render"
)

type probeResult struct {
	status int
	err    error
}

type scriptedProber struct {
	results []probeResult
	calls   int
	at      []time.Time
}

func (p *scriptedProber) Probe(ctx context.Context) (int, error) {
	r := p.results[len(p.results)-1]
	if p.calls < len(p.results) {
		r = p.results[p.calls]
	}
	p.calls++
	p.at = append(p.at, time.Now())
	return r.status, r.err
}

// gaps returns the time between consecutive probes.
func (p *scriptedProber) gaps() []time.Duration {
	var out []time.Duration
	for i := 1; i < len(p.at); i++ {
		out = append(out, p.at[i].Sub(p.at[i-1]))
	}
	return out
}

const testInterval = 30 * time.Millisecond

var testPolicy = RetryPolicy{MaxAttempts: 6, Interval: testInterval}

func TestRetryPolicy_Backoff(t *testing.T) {
	b := RetryPolicy{MaxAttempts: 6, Interval: 10 * time.Second}.Backoff()
	assert.Equal(t, 6, b.Steps)
	assert.Equal(t, 10*time.Second, b.Duration)
	assert.Equal(t, 1.0, b.Factor)
	assert.Zero(t, b.Jitter)
	for i := 0; i < 5; i++ {
		assert.Equal(t, 10*time.Second, b.Step(), "fixed interval at step %d", i)
	}

	assert.Equal(t, 1, RetryPolicy{}.Backoff().Steps)
}

func TestHealthy(t *testing.T) {
	for status, want := range map[int]bool{
		200: true, 204: true, 404: true,
		301: false, 401: false, 500: false, 503: false,
	} {
		assert.Equal(t, want, Healthy(status), "status %d", status)
	}
}

func TestAwaitBackend_ReadyOnFirstProbe(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusNotFound} {
		p := &scriptedProber{results: []probeResult{{status: status}}}
		g := NewGate(p, RetryPolicy{MaxAttempts: 6, Interval: time.Hour})

		require.NoError(t, g.AwaitBackend(context.Background()))
		assert.Equal(t, 1, p.calls)
	}
}

func TestAwaitBackend_RecoversAfterFailures(t *testing.T) {
	p := &scriptedProber{results: []probeResult{
		{err: errors.New("connection refused")},
		{status: http.StatusBadGateway},
		{status: http.StatusOK},
	}}
	g := NewGate(p, testPolicy)

	require.NoError(t, g.AwaitBackend(context.Background()))
	assert.Equal(t, 3, p.calls)
	for _, gap := range p.gaps() {
		assert.GreaterOrEqual(t, gap, testInterval)
	}
}

func TestAwaitBackend_ExhaustsBudget(t *testing.T) {
	p := &scriptedProber{results: []probeResult{{err: errors.New("dns failure")}}}
	g := NewGate(p, testPolicy)

	err := g.AwaitBackend(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBackendUnreachable))
	assert.Contains(t, err.Error(), "after 6 attempts")
	assert.Equal(t, 6, p.calls)
	// fixed interval between the six attempts
	assert.Len(t, p.gaps(), 5)
	for _, gap := range p.gaps() {
		assert.GreaterOrEqual(t, gap, testInterval)
	}
}

func TestAwaitBackend_NoWaitAfterLastAttempt(t *testing.T) {
	p := &scriptedProber{results: []probeResult{{status: http.StatusInternalServerError}}}
	g := NewGate(p, RetryPolicy{MaxAttempts: 2, Interval: 300 * time.Millisecond})

	err := g.AwaitBackend(context.Background())
	returned := time.Now()
	require.ErrorIs(t, err, domain.ErrBackendUnreachable)
	require.Len(t, p.at, 2)
	assert.Less(t, returned.Sub(p.at[1]), 200*time.Millisecond)
}

func TestAwaitBackend_ContextCancelledDuringWait(t *testing.T) {
	p := &scriptedProber{results: []probeResult{{status: http.StatusServiceUnavailable}}}
	g := NewGate(p, RetryPolicy{MaxAttempts: 3, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := g.AwaitBackend(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, p.calls)
}

func TestAwaitBackend_AgainstHTTPBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := config.Default().Backend
	cfg.URL = srv.URL
	cfg.Timeout = time.Second

	g := NewGate(render.NewClient(cfg), RetryPolicy{MaxAttempts: 2, Interval: time.Millisecond})
	require.NoError(t, g.AwaitBackend(context.Background()))
}
