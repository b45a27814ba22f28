package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errDown = Transient(errors.New("down"), 503)

func fail(_ context.Context) (int, error) { return 0, errDown }
func succeed(_ context.Context) (int, error) { return 1, nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("esb", BreakerConfig{Threshold: 3, Cooldown: time.Minute})
	for i := 0; i < 3; i++ {
		_, _ = Call(context.Background(), cb, fail)
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	_, err := Call(context.Background(), cb, func(_ context.Context) (int, error) {
		t.Error("should not be called while open")
		return 0, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker("llm", BreakerConfig{Threshold: 1})
	_, _ = Call(context.Background(), cb, func(_ context.Context) (int, error) {
		return 0, errors.New("malformed json")
	})
	if cb.State() != StateClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker("graph", BreakerConfig{Threshold: 3})
	_, _ = Call(context.Background(), cb, fail)
	_, _ = Call(context.Background(), cb, fail)
	if cb.Failures() != 2 {
		t.Fatalf("expected 2 failures, got %d", cb.Failures())
	}
	_, _ = Call(context.Background(), cb, succeed)
	if cb.Failures() != 0 {
		t.Errorf("expected reset, got %d", cb.Failures())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	var changes []string
	cb := NewCircuitBreaker("esb", BreakerConfig{
		Threshold: 1,
		Cooldown:  time.Second,
		OnChange: func(name string, from, to BreakerState) {
			changes = append(changes, name+":"+from.String()+"->"+to.String())
		},
	})
	cb.now = func() time.Time { return now }

	_, _ = Call(context.Background(), cb, fail)
	now = now.Add(2 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.State())
	}

	// A failed probe reopens.
	_, _ = Call(context.Background(), cb, fail)
	if cb.State() != StateOpen {
		t.Fatalf("expected open after failed probe, got %s", cb.State())
	}

	now = now.Add(2 * time.Second)
	v, err := Call(context.Background(), cb, succeed)
	if err != nil || v != 1 {
		t.Fatalf("probe failed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}

	want := []string{
		"esb:closed->open",
		"esb:open->half-open",
		"esb:half-open->open",
		"esb:open->half-open",
		"esb:half-open->closed",
	}
	if len(changes) != len(want) {
		t.Fatalf("expected %v, got %v", want, changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d: expected %s, got %s", i, want[i], changes[i])
		}
	}
}

func TestBreakers_Snapshot(t *testing.T) {
	b := NewBreakers(BreakerConfig{Threshold: 1, Cooldown: time.Minute})
	if b.Get("llm") != b.Get("llm") {
		t.Fatal("expected the same breaker per name")
	}
	_, _ = Call(context.Background(), b.Get("esb"), fail)

	snap := b.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 breakers, got %d", len(snap))
	}
	if snap[0].Name != "esb" || snap[0].State != "open" || snap[0].Failures != 1 {
		t.Errorf("unexpected esb status: %+v", snap[0])
	}
	if snap[1].Name != "llm" || snap[1].State != "closed" {
		t.Errorf("unexpected llm status: %+v", snap[1])
	}
}
