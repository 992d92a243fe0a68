package transport

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/docanalysis/internal/common"
)

// Policy is the exponential backoff applied to transient failures.
type Policy struct {
	// MaxAttempts bounds the attempts of a single Submit, first try included.
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Jitter      bool
}

// PolicyFromConfig converts the configured retry settings.
func PolicyFromConfig(c common.RetryConfig) Policy {
	return Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay.Duration,
		Multiplier:  c.Multiplier,
		MaxDelay:    c.MaxDelay.Duration,
		Jitter:      c.Jitter,
	}
}

// Delay returns the wait before the given retry (1-based): BaseDelay·Multiplier^(retry-1), capped at MaxDelay.
func (p Policy) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(retry-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d >= math.MaxInt64 || math.IsNaN(d) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// withJitter spreads d over [d/2, d].
func (p Policy) withJitter(d time.Duration, rnd func() float64) time.Duration {
	if !p.Jitter || d <= 0 {
		return d
	}
	half := d / 2
	return half + time.Duration(rnd()*float64(d-half))
}

// Budget counts retries across one or more calls. Not safe for concurrent use;
// each analysis owns its budgets.
type Budget struct {
	max  int
	used int
}

func NewBudget(max int) *Budget {
	if max < 0 {
		max = 0
	}
	return &Budget{max: max}
}

// Take consumes one retry, reporting false when the budget is exhausted.
func (b *Budget) Take() bool {
	if b.used >= b.max {
		return false
	}
	b.used++
	return true
}

func (b *Budget) Used() int      { return b.used }
func (b *Budget) Remaining() int { return b.max - b.used }

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isTransientStatus reports HTTP statuses worth retrying.
func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// retryAfter parses a Retry-After header in seconds or HTTP-date form.
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

func defaultRand() float64 {
	return rand.Float64()
}
