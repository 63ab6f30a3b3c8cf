// Package shutdown is the Auto-Shutdown Controller (spec component I): it
// watches the registry (and, in the Avahi-bound variant, the discovery
// daemon's liveness) and schedules process exit once a trigger condition
// holds continuously for a configured timeout, cancelling the pending exit
// if the condition clears first (spec §4.9, scenario S6).
//
// Grounded on the teacher's internal/scheduler.Scheduler ticker-driven
// Start/Stop shape (the same cooperative-event-loop style spec §5
// describes), generalized from "dispatch due jobs" to "evaluate a
// shutdown condition every tick" rather than a one-shot time.AfterFunc, so
// a flapping condition never leaves a stale timer to race a cancellation.
package shutdown

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"cups-browsed-go/internal/registry"
)

// Mode selects which condition triggers auto-shutdown (spec §4.9).
type Mode int

const (
	NoQueues Mode = iota
	NoJobs
)

// ActiveJobCounter reports how many jobs are currently active across every
// managed queue; the no-jobs mode treats a count of zero as "no active
// jobs anywhere" (spec §4.9). Supplied by the daemon wiring since counting
// requires IPP round trips the controller itself shouldn't own.
type ActiveJobCounter func(ctx context.Context) (int, error)

// Config holds the controller's tunables.
type Config struct {
	Mode         Mode
	Timeout      time.Duration
	TickInterval time.Duration
	AvahiBound   bool // also trigger shutdown when the discovery daemon disappears
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	return c
}

// Controller evaluates the shutdown condition on every tick and calls Exit
// once it has held continuously for Config.Timeout.
type Controller struct {
	Registry *registry.Registry
	JobCount ActiveJobCounter
	Config   Config
	Exit     func()
	AvahiUp  func() bool // nil means "not Avahi-bound" regardless of Config.AvahiBound

	disabled atomic.Bool
	pending  bool
	deadline time.Time
	stopChan chan struct{}
}

// SetEnabled toggles the controller at runtime; the daemon wires this to
// the auto-shutdown on/off signals (spec §6, "Signals"). Disabling clears
// any pending exit.
func (c *Controller) SetEnabled(enabled bool) {
	c.disabled.Store(!enabled)
	if !enabled {
		c.pending = false
	}
	log.Printf("INFO: shutdown: auto-shutdown %s by signal", map[bool]string{true: "enabled", false: "disabled"}[enabled])
}

// Start begins the evaluation loop; it runs until ctx is cancelled or Stop
// is called.
func (c *Controller) Start(ctx context.Context) {
	c.Config = c.Config.withDefaults()
	if c.stopChan == nil {
		c.stopChan = make(chan struct{})
	}
	ticker := time.NewTicker(c.Config.TickInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.evaluate(ctx, time.Now())
			case <-c.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Controller) Stop() {
	if c.stopChan != nil {
		close(c.stopChan)
	}
}

// evaluate is the per-tick unit of work: compute the trigger condition,
// arm or disarm the pending deadline, and fire Exit once it elapses.
func (c *Controller) evaluate(ctx context.Context, now time.Time) {
	if c.disabled.Load() {
		c.pending = false
		return
	}
	condition, err := c.conditionMet(ctx)
	if err != nil {
		log.Printf("WARN: shutdown: condition check failed: %v", err)
		return
	}

	if !condition {
		if c.pending {
			log.Printf("INFO: shutdown: condition cleared, cancelling pending exit")
		}
		c.pending = false
		return
	}

	if !c.pending {
		c.pending = true
		c.deadline = now.Add(c.Config.Timeout)
		log.Printf("INFO: shutdown: condition met, scheduling exit at %s", c.deadline.Format(time.RFC3339))
		return
	}

	if !now.Before(c.deadline) {
		log.Printf("INFO: shutdown: timeout elapsed, exiting")
		c.pending = false
		if c.Exit != nil {
			c.Exit()
		}
	}
}

func (c *Controller) conditionMet(ctx context.Context) (bool, error) {
	if c.Config.AvahiBound && c.AvahiUp != nil && !c.AvahiUp() {
		return true, nil
	}

	if c.Config.Mode == NoQueues {
		return c.noManagedQueues(), nil
	}

	// NoJobs: queues may still exist; what matters is that no job is active
	// on any of them (scenario: one managed queue, idle for the whole
	// timeout window, still shuts down).
	if c.noManagedQueues() {
		return true, nil
	}
	if c.JobCount == nil {
		return true, nil
	}
	n, err := c.JobCount(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (c *Controller) noManagedQueues() bool {
	for _, e := range c.Registry.Snapshot() {
		if e.ID == registry.DeletedMasterID {
			continue
		}
		return false
	}
	return true
}
