// Package reconciler is the Queue Reconciler (spec component F): a
// timer-driven scan of the registry that creates, modifies, and deletes
// local scheduler queues to match the remote-printer entries' state.
//
// Grounded on the teacher's internal/scheduler.Scheduler: same
// ticker-driven Start/Stop/processOnce shape, generalized from "dispatch
// pending print jobs" to "reconcile remote-printer entries against the
// local scheduler".
package reconciler

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	goipp "github.com/OpenPrinting/goipp"

	"cups-browsed-go/internal/cluster"
	"cups-browsed-go/internal/dispatch"
	"cups-browsed-go/internal/ippclient"
	"cups-browsed-go/internal/registry"
)

// OptionStore is component J's interface as seen by the reconciler: load
// and save a queue's persisted option defaults.
type OptionStore interface {
	Load(queueName string) map[string]string
	Save(queueName string, opts map[string]string) error
}

// Config holds the reconciler's tunables (spec §4.6, §5's resource model).
type Config struct {
	MaxUpdatesPerCall                int
	PauseBetweenUpdates              time.Duration
	HTTPMaxRetries                   int
	RetryDelay                       time.Duration
	BrowseTimeout                    time.Duration
	AllowResharingRemoteCUPSPrinters bool
	ShareNetworkPrinters             bool
	HaveNotificationChannel          bool // D-Bus-equivalent availability (spec §4.6 delete-path step 3)
}

func (c Config) withDefaults() Config {
	if c.MaxUpdatesPerCall <= 0 {
		c.MaxUpdatesPerCall = 10
	}
	if c.PauseBetweenUpdates <= 0 {
		c.PauseBetweenUpdates = 5 * time.Second
	}
	if c.HTTPMaxRetries <= 0 {
		c.HTTPMaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
	if c.BrowseTimeout <= 0 {
		c.BrowseTimeout = 2 * time.Minute
	}
	return c
}

// Reconciler drives the registry's to-be-created/disappeared entries to
// completion against the local scheduler.
type Reconciler struct {
	Registry *registry.Registry
	Local    *ippclient.Client
	Cache    *registry.AttrCache
	Options  OptionStore
	Config   Config

	stopChan chan struct{}
}

// Start begins the ticker loop; processOnce runs once per tick until ctx
// is cancelled or Stop is called.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	r.Config = r.Config.withDefaults()
	if interval <= 0 {
		interval = time.Second
	}
	if r.stopChan == nil {
		r.stopChan = make(chan struct{})
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.processOnce(ctx)
			case <-r.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the ticker loop.
func (r *Reconciler) Stop() {
	if r.stopChan != nil {
		close(r.stopChan)
	}
}

// Shutdown runs the final reconciliation pass described in spec §5's
// graceful-termination note: every managed entry is marked disappeared and
// driven through the delete path, unless keepQueues (the
// KeepGeneratedQueuesOnShutdown directive) is set, in which case queues are
// left in place untouched.
func (r *Reconciler) Shutdown(ctx context.Context, keepQueues bool) {
	if keepQueues {
		return
	}
	r.Config = r.Config.withDefaults()
	for _, e := range r.Registry.Snapshot() {
		if e.ID == registry.DeletedMasterID {
			continue
		}
		if e.IsSlave() {
			continue // a slave owns no scheduler resource; its master's delete path tears it down
		}
		e.Status = registry.StatusDisappeared
	}
	// The delete path defers an entry with active jobs by pushing its
	// timeout rather than deleting immediately; a few passes give those
	// jobs a chance to drain before the process actually exits.
	for i := 0; i < 3; i++ {
		r.processOnce(ctx)
		if len(r.Registry.DueEntries(time.Now().Add(r.Config.PauseBetweenUpdates))) == 0 {
			return
		}
	}
}

// processOnce scans every due entry once, honoring the per-call update
// budget (spec §4.6, testable property 6).
func (r *Reconciler) processOnce(ctx context.Context) {
	now := time.Now()
	due := r.Registry.DueEntries(now)

	budget := r.Config.MaxUpdatesPerCall
	for i, e := range due {
		if i >= budget {
			e.Timeout = now.Add(r.Config.PauseBetweenUpdates)
			continue
		}
		if !e.Acquire() {
			continue
		}
		r.reconcileEntry(ctx, e)
	}
}

func (r *Reconciler) reconcileEntry(ctx context.Context, e *registry.Entry) {
	defer e.Release()

	if e.IsSlave() {
		// A slave owns no scheduler queue: its master's queue serves it, so
		// nothing is created, checked or deleted on the scheduler for it.
		switch e.Status {
		case registry.StatusToBeCreated:
			e.MarkConfirmed()
		case registry.StatusDisappeared, registry.StatusToBeReleased:
			r.Cache.Invalidate(e.ID)
			r.Registry.Delete(ctx, e.ID)
		}
		return
	}

	if e.Status == registry.StatusConfirmed {
		r.checkOverwrite(ctx, e)
	}

	switch e.Status {
	case registry.StatusToBeCreated:
		r.createOrModify(ctx, e)
	case registry.StatusDisappeared:
		r.deletePath(ctx, e)
	case registry.StatusToBeReleased:
		// Detached from our control: the entry goes away but the scheduler
		// queue stays with whoever rewrote it. Option defaults are not
		// persisted for a queue we no longer own.
		r.Cache.Invalidate(e.ID)
		r.Registry.Delete(ctx, e.ID)
		log.Printf("INFO: reconciler: released queue %q", e.Name)
	default:
		// unconfirmed entries wait on a matching discovery;
		// to-be-created-renamed exists only inside checkOverwrite's rename
		// and resolves to to-be-created before the entry is next scanned.
	}
}

func deviceURIFor(e *registry.Entry) string {
	if e.Cluster && e.IsMaster() {
		return "implicitclass:" + e.Name
	}
	return e.DeviceURI
}

// checkOverwrite implements spec §4.6's pre-check: compares the
// scheduler's current device URI and driver nickname against what this
// daemon expects.
func (r *Reconciler) checkOverwrite(ctx context.Context, e *registry.Entry) {
	req := ippclient.GetPrinterAttributes(r.Local.PrinterURI(e.Name), "device-uri", "printer-driver-name")
	resp, err := r.Local.Send(ctx, req, nil)
	if err != nil || !ippclient.StatusOK(resp) {
		return // scheduler unreachable or queue absent; nothing to compare against yet
	}
	currentURI := ippclient.FindAttr(resp.Printer, "device-uri")
	expected := deviceURIFor(e)
	if currentURI != "" && currentURI != expected {
		log.Printf("WARN: reconciler: queue %q device-uri diverged (want %q, found %q); releasing", e.Name, expected, currentURI)
		e.MarkOverwritten(e.Name)
		host := cluster.SanitizeDNSSD(e.PreferredInstance().Host)
		if host == "" {
			host = "local"
		}
		// The replacement starts in the transient renamed sub-state while
		// the clash is being resolved; once the @host name is in place it
		// becomes an ordinary to-be-created entry.
		replacement := r.Registry.Create(cluster.StripHostSuffix(e.Name), e.DeviceURI)
		replacement.Status = registry.StatusToBeCreatedRenamed
		replacement.Instances = e.Instances
		replacement.Hints = e.Hints
		replacement.CupsQueue = e.CupsQueue
		r.Registry.Rename(replacement.ID, cluster.StripHostSuffix(e.Name)+"@"+host)
		replacement.Status = registry.StatusToBeCreated
		replacement.Timeout = time.Now()
		return
	}
	nickname := ippclient.FindAttr(resp.Printer, "printer-driver-name")
	if nickname != "" && e.DriverNickname != "" && nickname != e.DriverNickname {
		log.Printf("INFO: reconciler: queue %q driver nickname drifted, scheduling rewrite", e.Name)
		e.MarkDriverDrift()
	}
}

// createOrModify implements spec §4.6's create/modify path.
func (r *Reconciler) createOrModify(ctx context.Context, e *registry.Entry) {
	attrs, ok := r.Cache.Get(e.ID)
	if !ok {
		fetched, err := r.fetchAttributes(ctx, e)
		if err != nil {
			log.Printf("ERROR: reconciler: get-printer-attributes for %q failed: %v", e.Name, err)
			e.MarkFatalFailure(err.Error())
			return
		}
		attrs = fetched
		r.Cache.Put(e.ID, attrs)
		e.Attributes = attrs
		e.AttrsFetchedAt = time.Now()
	}

	opts := mergeOptions(r.Options.Load(e.Name), e.OptionDefaults)
	opts[dispatch.MarkPrefix] = "true" // identifies the queue as managed by this daemon

	uri := deviceURIFor(e)
	shared := r.Config.ShareNetworkPrinters
	if e.Cluster && !r.Config.AllowResharingRemoteCUPSPrinters && e.CupsQueue {
		shared = false
	}

	r.convertPreexisting(ctx, e, shared)

	req := ippclient.CreateOrModifyPrinter(r.Local.PrinterURI(e.Name), uri, e.Hints.MakeModel, e.Hints.Location, shared, opts)
	resp, err := r.Local.Send(ctx, req, nil)
	if err != nil || !ippclient.StatusOK(resp) {
		reason := transientReason(err, resp)
		log.Printf("WARN: reconciler: create/modify %q failed (%s), retry %d/%d", e.Name, reason, e.RetryCount+1, r.Config.HTTPMaxRetries)
		e.MarkTransientFailure(backoff(e.RetryCount, r.Config.RetryDelay), r.Config.HTTPMaxRetries)
		return
	}

	if resumeResp, err := r.Local.Send(ctx, ippclient.ResumePrinter(r.Local.PrinterURI(e.Name)), nil); err != nil || !ippclient.StatusOK(resumeResp) {
		log.Printf("WARN: reconciler: failed to re-enable queue %q after rewrite", e.Name)
	}

	if e.WasDefault {
		if _, err := r.Local.Send(ctx, ippclient.SetDefault(r.Local.PrinterURI(e.Name)), nil); err != nil {
			log.Printf("WARN: reconciler: failed to restore default designation for %q: %v", e.Name, err)
		}
	}

	e.MarkConfirmed()
	if instanceIsLegacy(e) {
		e.LegacyExpiry = time.Now().Add(r.Config.BrowseTimeout)
	}
	log.Printf("INFO: reconciler: queue %q confirmed (device-uri=%s)", e.Name, uri)
}

// convertPreexisting makes a pre-existing, possibly-temporary queue of the
// same name permanent by flipping printer-is-shared to true and back to
// the desired value. If the flip fails because the existing queue points
// at a remote scheduler, the temporary queue is removed instead, but only
// while it has no active jobs. The desired value is re-applied as its own
// final step even when the flip round trip failed, so the bit can never
// be left stuck at true.
func (r *Reconciler) convertPreexisting(ctx context.Context, e *registry.Entry, desiredShared bool) {
	uri := r.Local.PrinterURI(e.Name)
	probe, err := r.Local.Send(ctx, ippclient.GetPrinterAttributes(uri, "device-uri", "printer-is-shared"), nil)
	if err != nil || !ippclient.StatusOK(probe) {
		return // no pre-existing queue to convert
	}

	flip, err := r.Local.Send(ctx, ippclient.SetPrinterShared(uri, true), nil)
	if err != nil || !ippclient.StatusOK(flip) {
		if pointsAtRemoteScheduler(ippclient.FindAttr(probe.Printer, "device-uri")) {
			jobsResp, jerr := r.Local.Send(ctx, ippclient.GetJobs(uri, false, 1), nil)
			if jerr == nil && ippclient.StatusOK(jobsResp) && len(ippclient.JobGroups(jobsResp)) == 0 {
				if _, derr := r.Local.Send(ctx, ippclient.DeletePrinter(uri), nil); derr != nil {
					log.Printf("WARN: reconciler: failed to remove temporary queue %q: %v", e.Name, derr)
				}
			}
		}
	}

	if _, err := r.Local.Send(ctx, ippclient.SetPrinterShared(uri, desiredShared), nil); err != nil {
		log.Printf("WARN: reconciler: failed to restore printer-is-shared on %q: %v", e.Name, err)
	}
}

// pointsAtRemoteScheduler reports whether a device URI addresses a queue
// on another scheduler rather than a printer directly.
func pointsAtRemoteScheduler(uri string) bool {
	lower := strings.ToLower(uri)
	if !strings.HasPrefix(lower, "ipp://") && !strings.HasPrefix(lower, "ipps://") {
		return false
	}
	return strings.Contains(lower, "/printers/")
}

func instanceIsLegacy(e *registry.Entry) bool {
	if len(e.Instances) == 0 {
		return false
	}
	return e.Instances[0].LegacyBroadcast
}

// deletePath implements spec §4.6's delete path.
func (r *Reconciler) deletePath(ctx context.Context, e *registry.Entry) {
	if e.Status != registry.StatusToBeReleased {
		if r.Options != nil {
			_ = r.Options.Save(e.Name, e.OptionDefaults)
		}
	}

	jobsResp, err := r.Local.Send(ctx, ippclient.GetJobs(r.Local.PrinterURI(e.Name), false, 1), nil)
	if err == nil && ippclient.StatusOK(jobsResp) && len(ippclient.JobGroups(jobsResp)) > 0 {
		if pauseResp, err := r.Local.Send(ctx, ippclient.PausePrinter(r.Local.PrinterURI(e.Name)), nil); err != nil || !ippclient.StatusOK(pauseResp) {
			log.Printf("WARN: reconciler: failed to disable %q pending job drain", e.Name)
		}
		e.Timeout = time.Now().Add(r.Config.PauseBetweenUpdates)
		return
	}

	if e.WasDefault && !r.Config.HaveNotificationChannel {
		if pauseResp, err := r.Local.Send(ctx, ippclient.PausePrinter(r.Local.PrinterURI(e.Name)), nil); err != nil || !ippclient.StatusOK(pauseResp) {
			log.Printf("WARN: reconciler: failed to disable default queue %q pending removal", e.Name)
		}
		e.Timeout = time.Now().Add(r.Config.PauseBetweenUpdates)
		return
	}

	if e.IsMaster() && len(e.SlaveIDs) > 0 {
		// Promotion first: PromoteSlave reparents the remaining slaves onto
		// the new master itself. The sentinel is only needed when no live
		// slave exists, so the leftovers' teardown cannot race a same-named
		// replacement queue created later in this scan.
		if promoted := r.Registry.PromoteSlave(e.ID); promoted != nil {
			log.Printf("INFO: reconciler: promoted slave %q to master of %q", promoted.ID, promoted.Name)
		} else {
			r.Registry.ReparentSlavesToSentinel(e.ID)
		}
	}

	resp, err := r.Local.Send(ctx, ippclient.DeletePrinter(r.Local.PrinterURI(e.Name)), nil)
	if err != nil || !ippclient.StatusOK(resp) {
		log.Printf("WARN: reconciler: delete %q failed: %v", e.Name, err)
		e.Timeout = time.Now().Add(r.Config.RetryDelay)
		return
	}
	e.MarkRemoved()
	r.Cache.Invalidate(e.ID)
	r.Registry.Delete(ctx, e.ID)
	log.Printf("INFO: reconciler: removed queue %q", e.Name)
}

func (r *Reconciler) fetchAttributes(ctx context.Context, e *registry.Entry) (map[string][]string, error) {
	target := e.DeviceURI
	remote, err := ippclient.ForURI(target, 15*time.Second)
	if err != nil {
		return nil, err
	}
	req := ippclient.GetPrinterAttributes(target, ippclient.DefaultPollAttributes...)
	resp, err := remote.Send(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	if !ippclient.StatusOK(resp) {
		return nil, fmt.Errorf("reconciler: remote returned %s", goipp.Status(resp.Code))
	}
	out := map[string][]string{}
	for _, attr := range resp.Printer {
		vals := make([]string, len(attr.Values))
		for i, v := range attr.Values {
			vals[i] = v.V.String()
		}
		out[attr.Name] = vals
	}
	e.Hints = registry.CapabilityHints{
		MakeModel: firstOf(out["printer-make-and-model"]),
		Formats:   out["document-format-supported"],
		Color:     firstOf(out["color-supported"]) == "true",
		Duplex:    len(out["sides-supported"]) > 1,
		Location:  firstOf(out["printer-location"]),
	}
	return out, nil
}

func firstOf(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func mergeOptions(persisted map[string]string, computed map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range computed {
		out[k] = v
	}
	for k, v := range persisted {
		out[k] = v
	}
	return out
}

func transientReason(err error, resp *goipp.Message) string {
	if err != nil {
		return err.Error()
	}
	if resp != nil {
		return fmt.Sprintf("%s", goipp.Status(resp.Code))
	}
	return "unknown"
}

func backoff(retryCount int, base time.Duration) time.Duration {
	d := base
	for i := 0; i < retryCount && d < 5*time.Minute; i++ {
		d *= 2
	}
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}
