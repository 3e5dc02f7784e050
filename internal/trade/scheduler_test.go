package trade

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func newTestScheduler(svc *Service, store Store) *Scheduler {
	sched := NewScheduler(svc, store, slog.Default())
	sched.interval = 10 * time.Millisecond
	sched.retry = time.Minute
	return sched
}

func TestSweep_ExpiresDueTrade(t *testing.T) {
	svc, store, ledger, notifier := newTestService()
	svc = svc.WithTTL(time.Millisecond)
	seedResource(t, ledger, "res_a", "alice")
	tr := proposeTestTrade(t, svc, "alice", "bob", "res_a")

	time.Sleep(5 * time.Millisecond)
	sched := newTestScheduler(svc, store)
	sched.Sweep(context.Background())

	got, err := svc.Get(context.Background(), tr.ID)
	if err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("expected due trade cancelled, got %s", got.Status)
	}
	if calls := notifier.callsFor("TRADE_EXPIRED"); len(calls) != 2 {
		t.Errorf("expected both parties notified, got %d calls", len(calls))
	}
}

func TestSweep_SkipsFutureDeadlines(t *testing.T) {
	svc, store, ledger, _ := newTestService()
	seedResource(t, ledger, "res_a", "alice")
	tr := proposeTestTrade(t, svc, "alice", "bob", "res_a")

	sched := newTestScheduler(svc, store)
	sched.Sweep(context.Background())

	got, err := svc.Get(context.Background(), tr.ID)
	if err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("expected trade untouched before its deadline, got %s", got.Status)
	}
}

func TestSweep_ReplayIsHarmless(t *testing.T) {
	svc, store, ledger, notifier := newTestService()
	svc = svc.WithTTL(time.Millisecond)
	seedResource(t, ledger, "res_a", "alice")
	tr := proposeTestTrade(t, svc, "alice", "bob", "res_a")

	time.Sleep(5 * time.Millisecond)
	sched := newTestScheduler(svc, store)
	sched.Sweep(context.Background())

	// Simulate a crash before MarkExpiryDone: force the job due again and
	// re-sweep. The replayed Expire must be a no-op.
	if err := store.RescheduleExpiry(context.Background(), tr.ID, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	sched.Sweep(context.Background())

	got, err := svc.Get(context.Background(), tr.ID)
	if err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("expected cancelled after replay, got %s", got.Status)
	}
	if calls := notifier.callsFor("TRADE_EXPIRED"); len(calls) != 2 {
		t.Errorf("expected no duplicate notifications, got %d", len(calls))
	}
}

func TestSweep_AcceptedTradeJobIsNoOp(t *testing.T) {
	svc, store, ledger, _ := newTestService()
	svc = svc.WithTTL(time.Millisecond)
	seedResource(t, ledger, "res_a", "alice")
	tr := proposeTestTrade(t, svc, "alice", "bob", "res_a")

	if _, err := svc.Accept(context.Background(), tr.ID, "bob"); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	sched := newTestScheduler(svc, store)
	sched.Sweep(context.Background())

	got, err := svc.Get(context.Background(), tr.ID)
	if err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if got.Status != StatusAccepted {
		t.Errorf("expected the late job to leave the accept alone, got %s", got.Status)
	}

	// The job is consumed: nothing due on the next pass.
	due, err := store.ListDueExpiries(context.Background(), time.Now(), 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("expected no due jobs after sweep, got %v", due)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	svc, store, _, _ := newTestService()
	sched := newTestScheduler(svc, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(done)
	}()

	sched.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerStopBeforeStart(t *testing.T) {
	svc, store, _, _ := newTestService()
	sched := newTestScheduler(svc, store)

	// A stop issued before the loop parks in its select must still land.
	sched.Stop()

	done := make(chan struct{})
	go func() {
		sched.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler ignored a stop issued before start")
	}
}
