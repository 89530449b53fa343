// Package startup holds the liveness gate that must pass before the proxy
// opens its listening port.
package startup

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"k8s.io/apimachinery/pkg/util/wait"

	"html2pdf-proxy/internal/domain"
	log "html2pdf-proxy/internal/infra/logging"
)

var probeAttempts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "html2pdf_proxy_startup_probes_total",
		Help: "Startup liveness probes against the render backend by result",
	},
	[]string{"result"},
)

// Prober reports the HTTP status of one liveness request.
type Prober interface {
	Probe(ctx context.Context) (int, error)
}

// RetryPolicy is a fixed-interval retry budget: no backoff, no jitter.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

// Backoff expresses the policy as a constant wait.Backoff.
func (p RetryPolicy) Backoff() wait.Backoff {
	steps := p.MaxAttempts
	if steps < 1 {
		steps = 1
	}
	return wait.Backoff{
		Duration: p.Interval,
		Factor:   1,
		Jitter:   0,
		Steps:    steps,
	}
}

// Healthy treats "reachable but no root route" as alive.
func Healthy(status int) bool {
	return (status >= 200 && status <= 299) || status == http.StatusNotFound
}

// Gate probes until the first healthy response or until the policy is
// exhausted.
type Gate struct {
	prober Prober
	policy RetryPolicy
}

func NewGate(p Prober, policy RetryPolicy) *Gate {
	return &Gate{prober: p, policy: policy}
}

// AwaitBackend returns nil on the first healthy probe and an error wrapping
// domain.ErrBackendUnreachable after MaxAttempts failures. It waits Interval
// between attempts, never after the last one. A cancelled ctx returns the
// context error.
func (g *Gate) AwaitBackend(ctx context.Context) error {
	backoff := g.policy.Backoff()
	maxAttempts := backoff.Steps
	attempt := 0

	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		attempt++
		if attempt > 1 {
			log.Info("Retrying render backend health check", "after", g.policy.Interval.String())
		}
		log.Info("Checking render backend health", "attempt", attempt, "max_attempts", maxAttempts)

		status, err := g.prober.Probe(ctx)
		switch {
		case err != nil:
			probeAttempts.WithLabelValues("error").Inc()
			log.Error("Could not connect to render backend", "attempt", attempt, "error", err)
			return false, nil
		case Healthy(status):
			probeAttempts.WithLabelValues("healthy").Inc()
			log.Info("Render backend is reachable", "attempt", attempt, "status", status)
			return true, nil
		default:
			probeAttempts.WithLabelValues("unhealthy").Inc()
			log.Error("Render backend not healthy", "attempt", attempt, "status", status, "status_text", http.StatusText(status))
			return false, nil
		}
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case wait.Interrupted(err):
		return fmt.Errorf("%w after %d attempts", domain.ErrBackendUnreachable, attempt)
	default:
		return err
	}
}
