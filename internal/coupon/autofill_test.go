package coupon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/noah-isme/storefront-cart/internal/kvstore"
)

func TestSelectAutoFillPrecedence(t *testing.T) {
	candidates := []Candidate{
		{Code: "LOW", DiscountAmount: 500, MinimumAmount: 0},
		{Code: "HIGH", DiscountAmount: 1_500, MinimumAmount: 10_000},
		{Code: "ALSO-HIGH", DiscountAmount: 1_500, MinimumAmount: 5_000},
	}
	best, ok := SelectAutoFill(candidates)
	if !ok {
		t.Fatal("expected a candidate")
	}
	if best.Code != "ALSO-HIGH" {
		t.Fatalf("expected equal amounts to break on lower minimum, got %s", best.Code)
	}
}

func TestSelectAutoFillPercentTieBreak(t *testing.T) {
	candidates := []Candidate{
		{Code: "A", DiscountAmount: 1_000, MinimumAmount: 2_000, PercentBps: 500},
		{Code: "B", DiscountAmount: 1_000, MinimumAmount: 2_000, PercentBps: 1500},
	}
	best, _ := SelectAutoFill(candidates)
	if best.Code != "B" {
		t.Fatalf("expected highest percentage to win the final tie-break, got %s", best.Code)
	}
}

func TestSelectAutoFillEmpty(t *testing.T) {
	if _, ok := SelectAutoFill(nil); ok {
		t.Fatal("expected no candidate for empty input")
	}
}

func TestPendingRoundTrip(t *testing.T) {
	pending := Pending{Store: kvstore.NewMemoryStore()}
	ctx := context.Background()

	code, err := pending.Load(ctx)
	if err != nil || code != "" {
		t.Fatalf("expected empty pending code, got %q %v", code, err)
	}
	if err := pending.Save(ctx, " SAVE10 "); err != nil {
		t.Fatalf("save: %v", err)
	}
	code, err = pending.Load(ctx)
	if err != nil || code != "SAVE10" {
		t.Fatalf("expected SAVE10, got %q %v", code, err)
	}
	if err := pending.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	code, err = pending.Load(ctx)
	if err != nil || code != "" {
		t.Fatalf("expected cleared pending code, got %q %v", code, err)
	}
}

func TestRefresherAppliesBestCandidate(t *testing.T) {
	applied := make(chan Candidate, 1)
	refresher := &Refresher{
		Delay: 5 * time.Millisecond,
		Fetch: func(context.Context) ([]Candidate, error) {
			return []Candidate{{Code: "BEST", DiscountAmount: 900}}, nil
		},
		Apply: func(_ context.Context, c Candidate) { applied <- c },
	}
	refresher.Trigger(context.Background())

	select {
	case c := <-applied:
		if c.Code != "BEST" {
			t.Fatalf("unexpected candidate %s", c.Code)
		}
	case <-time.After(time.Second):
		t.Fatal("refresher never applied a candidate")
	}
}

func TestRefresherCancelDiscardsStaleCompletion(t *testing.T) {
	var mu sync.Mutex
	appliedCount := 0
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	refresher := &Refresher{
		Delay: time.Millisecond,
		Fetch: func(context.Context) ([]Candidate, error) {
			started <- struct{}{}
			<-release
			return []Candidate{{Code: "STALE", DiscountAmount: 100}}, nil
		},
		Apply: func(context.Context, Candidate) {
			mu.Lock()
			appliedCount++
			mu.Unlock()
		},
	}
	refresher.Trigger(context.Background())
	<-started
	refresher.Cancel()
	close(release)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if appliedCount != 0 {
		t.Fatalf("cancelled refresh must not apply, applied %d times", appliedCount)
	}
}

func TestRefresherRetriggerSupersedes(t *testing.T) {
	applied := make(chan Candidate, 2)
	calls := make(chan string, 2)
	refresher := &Refresher{
		Delay: 20 * time.Millisecond,
		Fetch: func(context.Context) ([]Candidate, error) {
			calls <- "fetch"
			return []Candidate{{Code: "WINNER", DiscountAmount: 100}}, nil
		},
		Apply: func(_ context.Context, c Candidate) { applied <- c },
	}
	ctx := context.Background()
	refresher.Trigger(ctx)
	refresher.Trigger(ctx) // supersedes the first before its delay elapses

	select {
	case <-applied:
	case <-time.After(time.Second):
		t.Fatal("second trigger never completed")
	}
	time.Sleep(50 * time.Millisecond)
	if len(applied) != 0 {
		t.Fatal("superseded trigger must not apply a second time")
	}
}
