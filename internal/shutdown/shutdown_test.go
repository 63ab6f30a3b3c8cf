package shutdown

import (
	"context"
	"testing"
	"time"

	"cups-browsed-go/internal/registry"
)

func TestEvaluateSchedulesExitAfterTimeout(t *testing.T) {
	r := registry.New()
	exited := false
	c := &Controller{
		Registry: r,
		Config:   Config{Mode: NoQueues, Timeout: 2 * time.Second, TickInterval: time.Second},
		Exit:     func() { exited = true },
	}
	c.Config = c.Config.withDefaults()

	now := time.Now()
	c.evaluate(context.Background(), now)
	if !c.pending {
		t.Fatalf("expected condition pending with no managed queues")
	}
	if exited {
		t.Fatalf("exit fired before timeout elapsed")
	}

	c.evaluate(context.Background(), now.Add(time.Second))
	if exited {
		t.Fatalf("exit fired before deadline")
	}

	c.evaluate(context.Background(), now.Add(3*time.Second))
	if !exited {
		t.Fatalf("expected exit once deadline elapsed")
	}
}

func TestEvaluateCancelsWhenQueueAppears(t *testing.T) {
	r := registry.New()
	exited := false
	c := &Controller{
		Registry: r,
		Config:   Config{Mode: NoQueues, Timeout: time.Second, TickInterval: time.Second},
		Exit:     func() { exited = true },
	}
	c.Config = c.Config.withDefaults()

	now := time.Now()
	c.evaluate(context.Background(), now)
	if !c.pending {
		t.Fatalf("expected condition pending")
	}

	r.Create("Lab", "ipp://remote/printers/lab")
	c.evaluate(context.Background(), now.Add(2*time.Second))
	if c.pending {
		t.Fatalf("expected pending exit to be cancelled once a queue exists")
	}
	if exited {
		t.Fatalf("exit should not have fired")
	}
}

func TestEvaluateNoJobsModeWaitsForJobCounter(t *testing.T) {
	r := registry.New()
	r.Create("Lab", "ipp://remote/printers/lab")
	exited := false
	calls := 0
	c := &Controller{
		Registry: r,
		Config:   Config{Mode: NoJobs, Timeout: time.Second, TickInterval: time.Second},
		Exit:     func() { exited = true },
		JobCount: func(ctx context.Context) (int, error) {
			calls++
			return 1, nil
		},
	}
	c.Config = c.Config.withDefaults()

	now := time.Now()
	c.evaluate(context.Background(), now)
	if c.pending {
		t.Fatalf("should not arm while jobs are still active")
	}
	if calls == 0 {
		t.Fatalf("expected JobCount to be consulted")
	}
	if exited {
		t.Fatalf("exit should not fire while jobs remain")
	}
}

func TestEvaluateNoJobsModeFiresWithIdleQueue(t *testing.T) {
	r := registry.New()
	r.Create("Lab", "ipp://remote/printers/lab")
	exited := false
	jobs := 0
	c := &Controller{
		Registry: r,
		Config:   Config{Mode: NoJobs, Timeout: 30 * time.Second, TickInterval: time.Second},
		Exit:     func() { exited = true },
		JobCount: func(ctx context.Context) (int, error) { return jobs, nil },
	}
	c.Config = c.Config.withDefaults()

	now := time.Now()
	c.evaluate(context.Background(), now)
	if !c.pending {
		t.Fatalf("a managed queue with no active jobs should arm the no-jobs condition")
	}

	// A job arriving before the deadline cancels the pending exit.
	jobs = 1
	c.evaluate(context.Background(), now.Add(10*time.Second))
	if c.pending {
		t.Fatalf("pending exit should cancel once a job arrives")
	}
	if exited {
		t.Fatalf("exit must not fire after cancellation")
	}

	jobs = 0
	c.evaluate(context.Background(), now.Add(20*time.Second))
	c.evaluate(context.Background(), now.Add(60*time.Second))
	if !exited {
		t.Fatalf("expected exit once the idle window elapsed")
	}
}

func TestSetEnabledFalseClearsPendingExit(t *testing.T) {
	r := registry.New()
	exited := false
	c := &Controller{
		Registry: r,
		Config:   Config{Mode: NoQueues, Timeout: time.Second, TickInterval: time.Second},
		Exit:     func() { exited = true },
	}
	c.Config = c.Config.withDefaults()

	now := time.Now()
	c.evaluate(context.Background(), now)
	if !c.pending {
		t.Fatalf("expected condition pending")
	}

	c.SetEnabled(false)
	c.evaluate(context.Background(), now.Add(2*time.Second))
	if exited {
		t.Fatalf("disabled controller must not exit")
	}

	c.SetEnabled(true)
	c.evaluate(context.Background(), now.Add(3*time.Second))
	c.evaluate(context.Background(), now.Add(10*time.Second))
	if !exited {
		t.Fatalf("re-enabled controller should re-arm and exit")
	}
}

func TestEvaluateAvahiBoundTriggersImmediately(t *testing.T) {
	r := registry.New()
	r.Create("Lab", "ipp://remote/printers/lab")
	exited := false
	c := &Controller{
		Registry: r,
		Config:   Config{Mode: NoQueues, Timeout: time.Second, TickInterval: time.Second, AvahiBound: true},
		Exit:     func() { exited = true },
		AvahiUp:  func() bool { return false },
	}
	c.Config = c.Config.withDefaults()

	now := time.Now()
	c.evaluate(context.Background(), now)
	if !c.pending {
		t.Fatalf("expected avahi-down condition to arm despite a managed queue existing")
	}

	c.evaluate(context.Background(), now.Add(2*time.Second))
	if !exited {
		t.Fatalf("expected exit once avahi-down condition held past timeout")
	}
	_ = exited
}
