package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var errStoreDown = errors.New("notification store unavailable")

func TestDo_FirstAttemptSucceeds(t *testing.T) {
	var attempts int
	err := Do(context.Background(), 3, 10*time.Millisecond, func() error {
		attempts++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestDo_RecoversAfterTransientFailures(t *testing.T) {
	var attempts int
	err := Do(context.Background(), 3, 10*time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return errStoreDown
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	var attempts int
	err := Do(context.Background(), 3, 10*time.Millisecond, func() error {
		attempts++
		return errStoreDown
	})
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("expected the last failure back, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDo_PermanentShortCircuits(t *testing.T) {
	var attempts int
	bad := errors.New("malformed notification payload")
	err := Do(context.Background(), 5, 10*time.Millisecond, func() error {
		attempts++
		return Permanent(bad)
	})
	if !errors.Is(err, bad) {
		t.Fatalf("expected the permanent cause back, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("retrying a permanent failure is pointless; got %d attempts", attempts)
	}
}

func TestDo_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var attempts atomic.Int32
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, 10, 100*time.Millisecond, func() error {
		attempts.Add(1)
		return errStoreDown
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := attempts.Load(); n > 3 {
		t.Fatalf("cancellation should cut the attempt budget short, got %d attempts", n)
	}
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	var attempts int
	err := Do(context.Background(), 0, time.Millisecond, func() error {
		attempts++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestDo_DelaysBetweenAttempts(t *testing.T) {
	var stamps []time.Time
	err := Do(context.Background(), 4, 20*time.Millisecond, func() error {
		stamps = append(stamps, time.Now())
		if len(stamps) < 4 {
			return errStoreDown
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if len(stamps) != 4 {
		t.Fatalf("expected 4 attempts, got %d", len(stamps))
	}

	// Jitter makes the exact gaps unpredictable; retries must still
	// not fire back-to-back.
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < 5*time.Millisecond {
			t.Errorf("gap %d too short: %v", i, gap)
		}
	}
}

func TestPermanentWrapsCause(t *testing.T) {
	cause := errors.New("cause")
	if !errors.Is(Permanent(cause), cause) {
		t.Fatal("Permanent should preserve the cause for errors.Is")
	}
}
