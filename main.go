// cups-browsed-go discovers printing services on the local network and
// keeps a matching set of queues on the local print scheduler: discovered
// remote printers become managed local queues, equally-named printers are
// clustered behind one queue, and jobs on cluster queues are load-balanced
// across the backing printers.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"cups-browsed-go/internal/browsedconfig"
	"cups-browsed-go/internal/cluster"
	"cups-browsed-go/internal/discovery"
	"cups-browsed-go/internal/dispatch"
	"cups-browsed-go/internal/ippclient"
	"cups-browsed-go/internal/logging"
	"cups-browsed-go/internal/netif"
	"cups-browsed-go/internal/notify"
	"cups-browsed-go/internal/optionstore"
	"cups-browsed-go/internal/reconciler"
	"cups-browsed-go/internal/registry"
	"cups-browsed-go/internal/shutdown"
)

const defaultConfigPath = "/etc/cups/cups-browsed.conf"

type cliOptions struct {
	configPath    string
	logToStderr   bool
	shutdownMode  string
	shutdownSecs  int
	injectedLines []string
}

// parseArgs scans argv by hand, one flag at a time.
func parseArgs(args []string) (cliOptions, bool) {
	opts := cliOptions{configPath: defaultConfigPath, shutdownSecs: -1}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-c":
			if i+1 >= len(args) {
				return opts, false
			}
			i++
			opts.configPath = args[i]
		case "-f":
			opts.logToStderr = true
		case "-s":
			if i+1 >= len(args) {
				return opts, false
			}
			i++
			opts.shutdownMode = args[i]
		case "-t":
			if i+1 >= len(args) {
				return opts, false
			}
			i++
			secs, err := strconv.Atoi(args[i])
			if err != nil || secs < 0 {
				return opts, false
			}
			opts.shutdownSecs = secs
		case "-o":
			if i+1 >= len(args) {
				return opts, false
			}
			i++
			opts.injectedLines = append(opts.injectedLines, args[i])
		default:
			return opts, false
		}
	}
	return opts, true
}

func usage() {
	os.Stderr.WriteString("usage: cups-browsed-go [-c config] [-f] [-s none|no-queues|no-jobs] [-t seconds] [-o directive=value]...\n")
}

func main() {
	opts, ok := parseArgs(os.Args[1:])
	if !ok {
		usage()
		os.Exit(1)
	}

	cfg := browsedconfig.Load(opts.configPath)
	for _, line := range opts.injectedLines {
		cfg.ApplyLine(line)
	}
	switch opts.shutdownMode {
	case "":
	case "none":
		cfg.AutoShutdown = false
	case "no-queues":
		cfg.AutoShutdown = true
		cfg.AutoShutdownMode = shutdown.NoQueues
	case "no-jobs":
		cfg.AutoShutdown = true
		cfg.AutoShutdownMode = shutdown.NoJobs
	default:
		usage()
		os.Exit(1)
	}
	if opts.shutdownSecs >= 0 {
		cfg.AutoShutdownTimeout = time.Duration(opts.shutdownSecs) * time.Second
	}
	if len(cfg.AccessPolicy.Rules) == 0 {
		cfg.AccessPolicy.AllowAll = true
	}

	logPath := filepath.Join(cfg.CacheDir, "cups-browsed_log")
	if opts.logToStderr || isatty.IsTerminal(os.Stderr.Fd()) {
		logPath = "stderr"
	}
	logging.Configure(logPath, 1<<20, cfg.DebugLogging)
	log.SetOutput(logging.ErrorWriter())
	log.SetFlags(log.LstdFlags)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := ippclient.New("localhost", 631, false, cfg.HTTPLocalTimeout)
	// One working round trip is required before anything else: a scheduler
	// that cannot be reached even once is a fatal init error, not a retry.
	if _, err := local.Send(ctx, ippclient.GetPrinters(), nil); err != nil {
		log.Printf("ERROR: cannot reach the local scheduler: %v", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		log.Printf("ERROR: cannot create cache dir %q: %v", cfg.CacheDir, err)
		os.Exit(1)
	}
	reg, err := registry.Open(ctx, filepath.Join(cfg.CacheDir, "remote-printers.db"))
	if err != nil {
		log.Printf("ERROR: cannot open the remote-printer cache: %v", err)
		os.Exit(1)
	}
	defer reg.Close()
	reg.EnsureDeletedMasterSentinel()

	attrCache := registry.NewAttrCache(512)
	options := optionstore.New(cfg.CacheDir)
	tracker := netif.New()
	go tracker.Run(ctx, 5*time.Minute)

	intake := &discovery.Intake{
		Registry:     reg,
		Resolver:     &cluster.Resolver{Clusters: cfg.Clusters, AutoCluster: cfg.AutoCluster},
		NamingPolicy: cfg.NamingPolicy,
		LocalOrigin:  discovery.LocalOriginFilter{IsLocalHost: tracker.IsLocalHostname},
		Matcher:      discovery.Matcher{Rules: cfg.FilterRules},
		AttrCache:    attrCache,
	}

	events := make(chan discovery.ServiceEvent, 64)
	polled := make(chan discovery.PolledRecord, 64)

	if protocolEnabled(cfg.BrowseProtocols, "dnssd") {
		browser := discovery.NewBrowser(discovery.BrowseConfig{Interval: cfg.BrowseInterval}, events)
		go browser.Run(ctx)
	}
	if protocolEnabled(cfg.BrowseProtocols, "cups") {
		if listener, err := discovery.NewLegacyListener(events); err != nil {
			log.Printf("WARN: legacy CUPS browsing unavailable: %v", err)
		} else {
			go listener.Run(ctx)
		}
	}
	if len(cfg.BrowsePoll) > 0 {
		poller := discovery.NewPoller(discovery.PollConfig{
			Targets:  cfg.BrowsePoll,
			Interval: cfg.BrowseInterval,
			Timeout:  cfg.HTTPRemoteTimeout,
		}, polled)
		go poller.Run(ctx)
	}
	if cfg.SNMPSupplyPolling && len(cfg.BrowsePoll) > 0 {
		go runSupplyPolling(ctx, cfg, reg)
	}

	go runIntakeLoop(ctx, cfg, intake, reg, events, polled)

	rec := &reconciler.Reconciler{
		Registry: reg,
		Local:    local,
		Cache:    attrCache,
		Options:  options,
		Config: reconciler.Config{
			MaxUpdatesPerCall:                cfg.UpdateCUPSQueuesMaxPerCall,
			PauseBetweenUpdates:              cfg.PauseBetweenCUPSQueueUpdates,
			HTTPMaxRetries:                   cfg.HTTPMaxRetries,
			BrowseTimeout:                    cfg.BrowseTimeout,
			AllowResharingRemoteCUPSPrinters: cfg.AllowResharingRemoteCUPSPrinters,
			ShareNetworkPrinters:             cfg.ShareNetworkPrinters,
			HaveNotificationChannel:          true,
		},
	}
	rec.Start(ctx, time.Second)
	defer rec.Stop()

	dispatcher := &dispatch.Dispatcher{
		Registry: reg,
		Local:    local,
		Policy:   cfg.DispatchPolicy,
		Timeout:  cfg.HTTPRemoteTimeout,
	}
	handler := &notify.Handler{
		Local:      local,
		Registry:   reg,
		Defaults:   options.RemoteDefault(),
		Dispatcher: dispatcher,
		Config:     notify.Config{LeaseSeconds: cfg.NotifyLeaseDuration},
	}
	handler.Start(ctx)
	defer handler.Stop()

	var controller *shutdown.Controller
	if cfg.AutoShutdown {
		controller = &shutdown.Controller{
			Registry: reg,
			JobCount: activeJobCounter(local, reg),
			Config:   shutdown.Config{Mode: cfg.AutoShutdownMode, Timeout: cfg.AutoShutdownTimeout},
			Exit:     cancel,
		}
		controller.Start(ctx)
		defer controller.Stop()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	for {
		var done bool
		select {
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				if controller != nil {
					controller.SetEnabled(true)
				}
			case syscall.SIGUSR2:
				if controller != nil {
					controller.SetEnabled(false)
				}
			default:
				log.Printf("INFO: received %v, shutting down", sig)
				done = true
			}
		case <-ctx.Done():
			done = true
		}
		if done {
			break
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	rec.Shutdown(shutdownCtx, cfg.KeepGeneratedQueuesOnShutdown)
	log.Printf("INFO: clean shutdown")
}

func protocolEnabled(protocols []string, name string) bool {
	for _, p := range protocols {
		if strings.EqualFold(strings.TrimSpace(p), name) {
			return true
		}
	}
	return false
}

// runIntakeLoop is the discovery side of the event loop: it consumes DNS-SD
// events and poll results, applies the access policy to the announcing
// peer, and feeds accepted records into the intake.
func runIntakeLoop(ctx context.Context, cfg browsedconfig.Config, intake *discovery.Intake, reg *registry.Registry, events <-chan discovery.ServiceEvent, polled <-chan discovery.PolledRecord) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if ev.Type == discovery.EventRemove {
				intake.Remove(ev)
				continue
			}
			if ev.Addr != nil && !cfg.AccessPolicy.Evaluate(ev.Addr.String()) {
				continue
			}
			rec := discovery.FromServiceEvent(ev)
			if rec.CupsQueue && !cfg.CreateRemoteCUPSPrinterQueues {
				continue
			}
			if !rec.CupsQueue && !cfg.CreateIPPPrinterQueues {
				continue
			}
			acceptRecord(ctx, intake, reg, rec)
		case p := <-polled:
			rec := discovery.FromPolled(p)
			if !cfg.AccessPolicy.Evaluate(rec.Host) && !cfg.AccessPolicy.AllowAll {
				continue
			}
			acceptRecord(ctx, intake, reg, rec)
		}
	}
}

func acceptRecord(ctx context.Context, intake *discovery.Intake, reg *registry.Registry, rec discovery.Record) {
	entry, accepted, err := intake.Accept(rec)
	if err != nil {
		log.Printf("WARN: discovery: record for %q dropped: %v", rec.Host, err)
		return
	}
	if !accepted || entry == nil {
		return
	}
	if err := reg.Persist(ctx, entry); err != nil {
		log.Printf("WARN: registry: persist %q failed: %v", entry.Name, err)
	}
}

// runSupplyPolling folds SNMP Printer-MIB probes of the polled hosts into
// the matching entries' capability hints.
func runSupplyPolling(ctx context.Context, cfg browsedconfig.Config, reg *registry.Registry) {
	poller := discovery.NewSNMPPoller(discovery.SNMPConfig{Community: cfg.SNMPCommunity})
	ticker := time.NewTicker(cfg.BrowseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, target := range cfg.BrowsePoll {
			host := target
			if idx := strings.LastIndex(host, ":"); idx > 0 {
				host = host[:idx]
			}
			hint, ok := poller.Probe(host)
			if !ok {
				continue
			}
			for _, e := range reg.Snapshot() {
				if e.PreferredInstance().Host != hint.Host {
					continue
				}
				e.Lock()
				if e.Hints.Location == "" {
					e.Hints.Location = hint.Location
				}
				if e.Hints.MakeModel == "" {
					e.Hints.MakeModel = hint.MakeModel
				}
				if hint.StateMessage != "" {
					e.StatusText = hint.StateMessage
				}
				e.Unlock()
			}
		}
	}
}

// activeJobCounter counts active jobs across every managed master queue,
// for the no-jobs auto-shutdown mode.
func activeJobCounter(local *ippclient.Client, reg *registry.Registry) shutdown.ActiveJobCounter {
	return func(ctx context.Context) (int, error) {
		total := 0
		for _, e := range reg.Snapshot() {
			if e.ID == registry.DeletedMasterID || e.IsSlave() {
				continue
			}
			resp, err := local.Send(ctx, ippclient.GetJobs(local.PrinterURI(e.Name), false, 0), nil)
			if err != nil {
				return 0, err
			}
			if ippclient.StatusOK(resp) {
				total += len(ippclient.JobGroups(resp))
			}
		}
		return total, nil
	}
}
