package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-lab/internal/pricing"
	"github.com/noah-isme/backend-lab/internal/resilience"
)

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady toggles readiness; the server clears it while draining.
func SetReady(v bool) { ready.Store(v) }

// Probe checks one dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
	// Optional probes are reported but never fail readiness.
	Optional bool
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Probes  []Probe
	Timeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		writeStatus(w, http.StatusServiceUnavailable, "draining", nil)
		return
	}
	checks := make(map[string]string, len(h.Probes))
	healthy := true
	for _, p := range h.Probes {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
		err := p.Check(ctx)
		cancel()
		if err == nil {
			checks[p.Name] = "ok"
			continue
		}
		checks[p.Name] = err.Error()
		if !p.Optional {
			healthy = false
		}
	}
	if !healthy {
		writeStatus(w, http.StatusServiceUnavailable, "unavailable", checks)
		return
	}
	writeStatus(w, http.StatusOK, "ok", checks)
}

func (h Handler) timeout() time.Duration {
	if h.Timeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.Timeout
}

func writeStatus(w http.ResponseWriter, code int, status string, checks map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "checks": checks})
}

// RedisProbe pings client. A nil client is reported as not configured.
func RedisProbe(client *redis.Client) Probe {
	return Probe{Name: "redis", Check: func(ctx context.Context) error {
		if client == nil {
			return errors.New("redis not configured")
		}
		return client.Ping(ctx).Err()
	}}
}

// PricingProbe fails when the engine has no configuration or the
// configuration does not validate.
func PricingProbe(engine *pricing.Engine) Probe {
	return Probe{Name: "pricing", Check: func(context.Context) error {
		report := engine.Validate()
		if !report.IsValid {
			if len(report.Errors) > 0 {
				return errors.New(report.Errors[0])
			}
			return errors.New("pricing configuration invalid")
		}
		return nil
	}}
}

// BreakerProbe reports an open referral-backend breaker. Reads keep being
// served from cache or the static dataset, so it is optional.
func BreakerProbe(name string, b *resilience.Breaker) Probe {
	return Probe{Name: name, Optional: true, Check: func(context.Context) error {
		if b == nil {
			return nil
		}
		if stats := b.Stats(); stats.State == resilience.Open {
			return fmt.Errorf("circuit open, retry at %s", stats.RetryAt.UTC().Format(time.RFC3339))
		}
		return nil
	}}
}
