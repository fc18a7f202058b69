package coupon

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/noah-isme/storefront-cart/internal/kvstore"
	"github.com/noah-isme/storefront-cart/internal/pricing"
)

// pendingKey is where the pending coupon code (from URL or prior session) lives
// in the injected client-state store.
const pendingKey = "coupon:pending"

// Candidate describes an unapplied active coupon considered for auto-fill.
type Candidate struct {
	Code           string
	DiscountAmount pricing.Money
	MinimumAmount  pricing.Money
	PercentBps     int32
}

// SelectAutoFill picks the code to prefill when no explicit value is present:
// highest discount amount, then lowest minimum amount, then highest percentage.
func SelectAutoFill(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].DiscountAmount != sorted[j].DiscountAmount {
			return sorted[i].DiscountAmount > sorted[j].DiscountAmount
		}
		if sorted[i].MinimumAmount != sorted[j].MinimumAmount {
			return sorted[i].MinimumAmount < sorted[j].MinimumAmount
		}
		return sorted[i].PercentBps > sorted[j].PercentBps
	})
	return sorted[0], true
}

// Pending persists the coupon code waiting to be applied across page loads.
type Pending struct {
	Store kvstore.Store
}

// Load returns the stored pending code, empty when none exists.
func (p Pending) Load(ctx context.Context) (string, error) {
	if p.Store == nil {
		return "", nil
	}
	code, err := p.Store.Get(ctx, pendingKey)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(code), nil
}

// Save stores the pending code for the next session.
func (p Pending) Save(ctx context.Context, code string) error {
	if p.Store == nil {
		return nil
	}
	return p.Store.Set(ctx, pendingKey, strings.TrimSpace(code))
}

// Clear drops the pending code once it has been applied or dismissed.
func (p Pending) Clear(ctx context.Context) error {
	if p.Store == nil {
		return nil
	}
	return p.Store.Delete(ctx, pendingKey)
}

// Refresher debounces auto-fill candidate fetches as an explicit cancellable
// task. Each trigger takes a fresh generation token; completions carrying a
// stale token are discarded, so a removal racing an in-flight fetch wins.
type Refresher struct {
	Fetch func(ctx context.Context) ([]Candidate, error)
	Apply func(ctx context.Context, c Candidate)
	Delay time.Duration

	gen atomic.Int64
}

// Trigger schedules a refresh after the debounce delay, superseding any
// refresh still pending.
func (r *Refresher) Trigger(ctx context.Context) {
	if r == nil || r.Fetch == nil || r.Apply == nil {
		return
	}
	token := r.gen.Add(1)
	delay := r.Delay
	if delay <= 0 {
		delay = 300 * time.Millisecond
	}
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if r.gen.Load() != token {
			return
		}
		candidates, err := r.Fetch(ctx)
		if err != nil || r.gen.Load() != token {
			return
		}
		if best, ok := SelectAutoFill(candidates); ok && r.gen.Load() == token {
			r.Apply(ctx, best)
		}
	}()
}

// Cancel invalidates any in-flight refresh.
func (r *Refresher) Cancel() {
	if r != nil {
		r.gen.Add(1)
	}
}
