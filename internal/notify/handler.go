package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	goipp "github.com/OpenPrinting/goipp"

	"cups-browsed-go/internal/dispatch"
	"cups-browsed-go/internal/ippclient"
	"cups-browsed-go/internal/registry"
)

// DefaultPrinterStore is component J's interface as seen by the notify
// handler: tracking which queue was the scheduler's default across restarts
// (spec §4.6's "restore default-printer designation" and the "prior local
// default" file named in the original's shutdown-on-no-jobs logic).
type DefaultPrinterStore interface {
	Load() (name string, ok bool)
	Save(name string) error
}

// Config holds the handler's tunables.
type Config struct {
	LeaseSeconds  int           // subscription lease requested from the scheduler
	PollInterval  time.Duration // fallback poll period when the scheduler suggests none
	RenewFraction float64       // renew once this fraction of the lease has elapsed
}

func (c Config) withDefaults() Config {
	if c.LeaseSeconds <= 0 {
		c.LeaseSeconds = 3600
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.RenewFraction <= 0 {
		c.RenewFraction = 0.5
	}
	return c
}

// Handler subscribes to the local scheduler's printer/job events and feeds
// deletion signals back into the registry (spec component G). Overwrite
// signals are only logged; the reconciler's own pre-check acts on the
// rewritten queue on its next pass.
type Handler struct {
	Local      *ippclient.Client
	Registry   *registry.Registry
	Defaults   DefaultPrinterStore
	Dispatcher *dispatch.Dispatcher // nil disables job dispatch entirely
	Config     Config

	subscriptionID  int
	lastSeq         int
	leaseObtainedAt time.Time
	leaseSeconds    int

	stopChan chan struct{}
}

// Start subscribes and begins the poll loop; it runs until ctx is cancelled
// or Stop is called. Subscription failures are logged and retried on the
// next tick rather than treated as fatal (spec §7, "Resource" error kind).
func (h *Handler) Start(ctx context.Context) {
	h.Config = h.Config.withDefaults()
	if h.stopChan == nil {
		h.stopChan = make(chan struct{})
	}
	go h.run(ctx)
}

func (h *Handler) Stop() {
	if h.stopChan != nil {
		close(h.stopChan)
	}
}

func (h *Handler) run(ctx context.Context) {
	interval := h.Config.PollInterval
	for {
		select {
		case <-h.stopChan:
			return
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if h.subscriptionID == 0 || h.needsRenewal() {
			if err := h.subscribe(ctx); err != nil {
				log.Printf("WARN: notify: subscribe failed: %v", err)
				interval = h.Config.PollInterval
				continue
			}
		}

		next, err := h.poll(ctx)
		if err != nil {
			log.Printf("WARN: notify: poll failed: %v", err)
			interval = h.Config.PollInterval
			continue
		}
		if next > 0 {
			interval = time.Duration(next) * time.Second
		} else {
			interval = h.Config.PollInterval
		}
	}
}

func (h *Handler) needsRenewal() bool {
	if h.leaseSeconds <= 0 {
		return true
	}
	elapsed := time.Since(h.leaseObtainedAt)
	return elapsed >= time.Duration(float64(h.leaseSeconds)*h.Config.RenewFraction)*time.Second
}

func (h *Handler) subscribe(ctx context.Context) error {
	req := ippclient.CreatePrinterSubscription(h.Local.PrinterURI(""), h.Config.LeaseSeconds)
	resp, err := h.Local.Send(ctx, req, nil)
	if err != nil {
		return err
	}
	if !ippclient.StatusOK(resp) {
		return fmt.Errorf("notify: subscribe returned %s", goipp.Status(resp.Code))
	}
	id := 0
	if s := ippclient.FindAttr(resp.Subscription, "notify-subscription-id"); s != "" {
		id = parseInt(s)
	}
	h.subscriptionID = id
	h.leaseObtainedAt = time.Now()
	h.leaseSeconds = h.Config.LeaseSeconds
	h.lastSeq = 0
	log.Printf("INFO: notify: subscribed (id=%d, lease=%ds)", id, h.Config.LeaseSeconds)
	return nil
}

func (h *Handler) poll(ctx context.Context) (nextPollSeconds int, err error) {
	if h.subscriptionID == 0 {
		return 0, nil
	}
	req := ippclient.GetNotifications(h.Local.PrinterURI(""), h.subscriptionID)
	resp, err := h.Local.Send(ctx, req, nil)
	if err != nil {
		return 0, err
	}
	events, next, done := ParseNotifications(resp)
	for _, ev := range events {
		if ev.SequenceNumber > 0 {
			h.lastSeq = ev.SequenceNumber
		}
		h.handleEvent(ctx, ev)
	}
	if done {
		h.subscriptionID = 0
	}
	return next, nil
}

// handleEvent reacts to a single scheduler event. A deletion signal requests
// a refresh of every confirmed entry sharing the affected queue name, not
// just the one the reconciler happened to be polling, since a scheduler-side
// change to a cluster name affects every sibling slave too. An overwrite
// signal is only logged for each confirmed sibling; the handler does not run
// the overwrite check itself.
func (h *Handler) handleEvent(ctx context.Context, ev Event) {
	name := queueNameFromURI(ev.PrinterURI)
	if name == "" {
		return
	}
	siblings := h.Registry.ByName(name)

	switch {
	case IsDeletedSignal(ev):
		for _, e := range siblings {
			if e.Status == registry.StatusConfirmed {
				log.Printf("INFO: notify: scheduler reports %q deleted; scheduling recreation", name)
				e.RequestRefresh()
			}
		}
	case IsOverwriteSignal(ev):
		for _, e := range siblings {
			if e.Status == registry.StatusConfirmed {
				log.Printf("INFO: notify: scheduler reports %q modified; reconciler will re-check on next pass", name)
			}
		}
	case IsJobProcessingSignal(ev):
		h.dispatchJob(ctx, name, ev.JobID)
	}

	if wasDefaultEvent(ev) && h.Defaults != nil {
		if err := h.Defaults.Save(name); err != nil {
			log.Printf("WARN: notify: failed to persist default-printer name %q: %v", name, err)
		}
	}
}

// dispatchJob asks the job dispatcher to pick a backing printer for jobID on
// the cluster master queueName, and writes the decision back onto the job as
// a scheduler option so the backend forwards it there (spec §4.8).
func (h *Handler) dispatchJob(ctx context.Context, queueName string, jobID int) {
	if h.Dispatcher == nil {
		return
	}
	c := h.jobConstraints(ctx, queueName, jobID)
	destURI, format, resolution, err := h.Dispatcher.Dispatch(ctx, queueName, jobID, c)
	if err != nil {
		log.Printf("WARN: notify: dispatch for job %d on %q failed: %v", jobID, queueName, err)
		return
	}
	value := dispatch.DestOptionValue(jobID, destURI, format, resolution)
	req := ippclient.SetJobAttribute(h.Local.PrinterURI(queueName), jobID, dispatch.DestOptionKey, value)
	resp, err := h.Local.Send(ctx, req, nil)
	if err != nil || !ippclient.StatusOK(resp) {
		log.Printf("WARN: notify: failed to record dispatch decision for job %d on %q: %v", jobID, queueName, err)
		return
	}
	log.Printf("INFO: notify: job %d on %q dispatched to %s", jobID, queueName, destURI)
}

// jobConstraints fetches the job's requested document-format and rendering
// intent so the dispatcher can skip candidates that cannot satisfy them
// (spec §4.8 step 2). A fetch failure yields the zero value, i.e.
// unconstrained, rather than blocking dispatch.
func (h *Handler) jobConstraints(ctx context.Context, queueName string, jobID int) dispatch.Constraints {
	var c dispatch.Constraints
	req := ippclient.GetJobAttributes(h.Local.PrinterURI(queueName), jobID,
		"document-format", "media", "media-type", "print-color-mode", "sides",
		"finishings", "print-quality", "orientation-requested")
	resp, err := h.Local.Send(ctx, req, nil)
	if err != nil || !ippclient.StatusOK(resp) {
		return c
	}
	c.DocumentFormat = ippclient.FindAttr(resp.Job, "document-format")
	c.PageSize = ippclient.FindAttr(resp.Job, "media")
	c.MediaType = ippclient.FindAttr(resp.Job, "media-type")
	c.Color = strings.Contains(ippclient.FindAttr(resp.Job, "print-color-mode"), "color")
	c.Duplex = strings.HasPrefix(ippclient.FindAttr(resp.Job, "sides"), "two-sided")
	for _, f := range ippclient.AttrStrings(resp.Job, "finishings") {
		// 3 is "none"; anything above it is a real finishing request.
		if n := parseInt(f); n > 3 {
			c.Finishings = append(c.Finishings, n)
		}
	}
	switch ippclient.FindAttr(resp.Job, "print-quality") {
	case "3":
		c.Quality = "draft"
	case "5":
		c.Quality = "high"
	}
	c.Orientation = parseInt(ippclient.FindAttr(resp.Job, "orientation-requested"))
	return c
}

func wasDefaultEvent(ev Event) bool {
	return ev.Name == "printer-state-changed" && strings.Contains(ev.PrinterURI, "/printers/")
}

func queueNameFromURI(uri string) string {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return ""
	}
	idx := strings.LastIndex(uri, "/printers/")
	if idx < 0 {
		return ""
	}
	name := uri[idx+len("/printers/"):]
	if name == "" {
		return ""
	}
	return name
}

func parseInt(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
