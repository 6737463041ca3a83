package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestDefaultPolicy verifies the baseline default values.
func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.Mode != ModeLinear {
		t.Fatalf("expected linear default mode got %s", p.Mode)
	}
	if p.Initial != time.Second || p.Max != 30*time.Second || p.MaxRetries != 2 {
		t.Fatalf("unexpected defaults %+v", p)
	}
}

// TestNewPolicyOverrides checks override precedence and clamping when initial > max.
func TestNewPolicyOverrides(t *testing.T) {
	p := NewPolicy(ModeFixed, 5*time.Second, 2*time.Second, 5)
	if p.Initial != 2*time.Second {
		t.Fatalf("expected clamped initial 2s got %v", p.Initial)
	}
	if p.Mode != ModeFixed || p.MaxRetries != 5 {
		t.Fatalf("unexpected policy %+v", p)
	}
	if NewPolicy("bogus", 0, 0, -1).Mode != ModeLinear {
		t.Fatalf("unknown mode should keep default")
	}
}

// TestDelayModes ensures fixed, linear, exponential behave and respect cap.
func TestDelayModes(t *testing.T) {
	fixed := NewPolicy(ModeFixed, 100*time.Millisecond, 500*time.Millisecond, 3)
	for i := 1; i <= 3; i++ {
		if d := fixed.Delay(i); d != 100*time.Millisecond {
			t.Fatalf("fixed attempt %d expected 100ms got %v", i, d)
		}
	}

	linear := NewPolicy(ModeLinear, 100*time.Millisecond, 250*time.Millisecond, 5)
	cases := []struct {
		attempt int
		want    time.Duration
	}{{1, 100 * time.Millisecond}, {2, 200 * time.Millisecond}, {3, 250 * time.Millisecond}}
	for _, c := range cases {
		if d := linear.Delay(c.attempt); d != c.want {
			t.Fatalf("linear attempt %d expected %v got %v", c.attempt, c.want, d)
		}
	}

	exp := NewPolicy(ModeExponential, 100*time.Millisecond, 300*time.Millisecond, 5)
	if d := exp.Delay(2); d != 200*time.Millisecond {
		t.Fatalf("exponential attempt 2 expected 200ms got %v", d)
	}
	if d := exp.Delay(3); d != 300*time.Millisecond {
		t.Fatalf("exponential attempt 3 expected cap 300ms got %v", d)
	}
	if d := exp.Delay(0); d != 0 {
		t.Fatalf("attempt 0 expected 0 got %v", d)
	}
}

func TestNormalizeMode(t *testing.T) {
	if NormalizeMode(" Exponential ") != ModeExponential {
		t.Fatal("expected exponential")
	}
	if NormalizeMode("sometimes") != "" {
		t.Fatal("expected empty mode for unknown input")
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	p := NewPolicy(ModeFixed, time.Millisecond, time.Millisecond, 3)
	attempts := 0
	err := p.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary network failure")
		}
		return nil
	}, nil, nil)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts got %d", attempts)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	p := NewPolicy(ModeFixed, time.Millisecond, time.Millisecond, 3)
	permanent := errors.New("authentication failed")
	attempts := 0
	err := p.Do(context.Background(), func() error {
		attempts++
		return permanent
	}, func(err error) bool { return errors.Is(err, permanent) }, nil)
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt got %d", attempts)
	}
}

func TestDoHonoursContext(t *testing.T) {
	p := NewPolicy(ModeFixed, time.Hour, time.Hour, 3)
	ctx, cancel := context.WithCancel(context.Background())
	retried := false
	err := p.Do(ctx, func() error { return errors.New("flaky") }, nil, func(int, error) {
		retried = true
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to be reported, got %v", err)
	}
	if !retried {
		t.Fatal("expected onRetry to be invoked")
	}
}
