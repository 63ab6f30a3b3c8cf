// Package browsedconfig parses cups-browsed.conf, the daemon's own
// directive-line configuration file (SPEC_FULL.md §1.2).
//
// Grounded on the teacher's internal/config.go line scanner (bufio.Scanner,
// "#"-comment and blank-line skipping, case-insensitive directive names,
// "Foo On"/"Off" boolean parsing) and policy.go's block-aware parsing for
// the <Cluster> stanza, applied to this daemon's own directive set instead
// of cupsd.conf's.
package browsedconfig

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"cups-browsed-go/internal/accesspolicy"
	"cups-browsed-go/internal/cluster"
	"cups-browsed-go/internal/discovery"
	"cups-browsed-go/internal/dispatch"
	"cups-browsed-go/internal/shutdown"
)

// Config is the fully-resolved set of directives this daemon consumes
// (SPEC_FULL.md §1.2's directive list).
type Config struct {
	BrowseProtocols []string // "dnssd", "cups" (legacy broadcast)
	BrowsePoll      []string // host:port entries polled periodically (spec §4.3)

	AccessPolicy accesspolicy.Policy
	FilterRules  []discovery.FilterRule

	CreateIPPPrinterQueues        bool
	CreateRemoteCUPSPrinterQueues bool

	NamingPolicy cluster.NamingPolicy
	Clusters     []cluster.Definition
	AutoCluster  bool

	AutoShutdown        bool
	AutoShutdownTimeout time.Duration
	AutoShutdownMode    shutdown.Mode

	BrowseInterval    time.Duration
	BrowseTimeout     time.Duration
	HTTPLocalTimeout  time.Duration
	HTTPRemoteTimeout time.Duration
	HTTPMaxRetries    int

	NotifyLeaseDuration          int
	UpdateCUPSQueuesMaxPerCall   int
	PauseBetweenCUPSQueueUpdates time.Duration

	DefaultOptions map[string]string

	AllowResharingRemoteCUPSPrinters bool
	KeepGeneratedQueuesOnShutdown    bool
	ShareNetworkPrinters             bool

	DispatchPolicy dispatch.Policy

	CacheDir     string
	DebugLogging bool

	SNMPSupplyPolling bool
	SNMPCommunity     string
}

// Default returns the built-in defaults applied before a config file is
// read, matching the teacher's pattern of seeding a Config literal before
// any directive-line override is applied (config.Load's cfg := Config{...}).
func Default() Config {
	return Config{
		BrowseProtocols:               []string{"dnssd"},
		CreateIPPPrinterQueues:        true,
		CreateRemoteCUPSPrinterQueues: true,
		AutoCluster:                   true,
		AutoShutdown:                  false,
		AutoShutdownTimeout:           30 * time.Second,
		AutoShutdownMode:              shutdown.NoJobs,
		BrowseInterval:                30 * time.Second,
		BrowseTimeout:                 2 * time.Minute,
		HTTPLocalTimeout:              5 * time.Second,
		HTTPRemoteTimeout:             10 * time.Second,
		HTTPMaxRetries:                3,
		NotifyLeaseDuration:           3600,
		UpdateCUPSQueuesMaxPerCall:    10,
		PauseBetweenCUPSQueueUpdates:  5 * time.Second,
		DefaultOptions:                map[string]string{},
		ShareNetworkPrinters:          true,
		DispatchPolicy:                dispatch.QueueOnClient,
		CacheDir:                      "cache",
		SNMPCommunity:                 "public",
	}
}

// Load reads cups-browsed.conf at path, applying directives over Default().
// A missing file is not fatal (spec §7, "Configuration" error kind never
// aborts the daemon); an unparsable directive is logged and skipped.
func Load(path string) Config {
	cfg := Default()
	if path == "" {
		return cfg
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg
	}
	defer f.Close()

	var clusterDef *cluster.Definition
	var clusterName string

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "<Cluster ") {
			clusterName = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(line, "<Cluster "), ">"))
			clusterDef = &cluster.Definition{LocalQueueName: clusterName}
			continue
		}
		if line == "</Cluster>" {
			if clusterDef != nil && clusterDef.LocalQueueName != "" {
				cfg.Clusters = append(cfg.Clusters, *clusterDef)
			}
			clusterDef = nil
			continue
		}

		key, value := splitDirective(line)
		if key == "" {
			continue
		}

		if clusterDef != nil {
			switch strings.ToLower(key) {
			case "clusterlocalqueuename":
				clusterDef.LocalQueueName = value
			case "clusterremote":
				clusterDef.Matchers = append(clusterDef.Matchers, cluster.Matcher{Value: value})
			default:
				log.Printf("WARN: browsedconfig: unknown directive %q inside <Cluster> block, skipped", key)
			}
			continue
		}

		applyDirective(&cfg, key, value)
	}
	return cfg
}

// ApplyLine applies one ad-hoc directive line (the -o command-line
// injection, spec §6's CLI surface) on top of an already-loaded Config.
// "Key Value" and "Key=Value" forms are both accepted.
func (c *Config) ApplyLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	if eq := strings.Index(line, "="); eq > 0 && !strings.ContainsAny(line[:eq], " \t") {
		applyDirective(c, strings.TrimSpace(line[:eq]), strings.Trim(strings.TrimSpace(line[eq+1:]), `"`))
		return
	}
	key, value := splitDirective(line)
	if key == "" {
		return
	}
	applyDirective(c, key, value)
}

func applyDirective(cfg *Config, key, value string) {
	switch strings.ToLower(key) {
	case "browseprotocols":
		cfg.BrowseProtocols = strings.Fields(value)
	case "browsepoll":
		if value != "" {
			cfg.BrowsePoll = append(cfg.BrowsePoll, value)
		}
	case "browseallow":
		cfg.AccessPolicy.Rules = append(cfg.AccessPolicy.Rules, accesspolicy.ParseRule(accesspolicy.Allow, value))
	case "browsedeny":
		cfg.AccessPolicy.Rules = append(cfg.AccessPolicy.Rules, accesspolicy.ParseRule(accesspolicy.Deny, value))
	case "browseorder":
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "deny,allow":
			cfg.AccessPolicy.Order = accesspolicy.OrderDenyAllow
		default:
			cfg.AccessPolicy.Order = accesspolicy.OrderAllowDeny
		}
	case "browsefilter":
		if rule, ok := parseFilterDirective(value); ok {
			cfg.FilterRules = append(cfg.FilterRules, rule)
		}
	case "createippprinterqueues":
		cfg.CreateIPPPrinterQueues = parseBool(value)
	case "createremotecupsprinterqueues":
		cfg.CreateRemoteCUPSPrinterQueues = parseBool(value)
	case "localqueuenamingippprinter":
		cfg.NamingPolicy.IPPPrinter = parseNamingSource(value)
	case "localqueuenamingremotecups":
		cfg.NamingPolicy.RemoteCUPS = parseNamingSource(value)
	case "autoshutdown":
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "off", "no", "false":
			cfg.AutoShutdown = false
		case "no-queues":
			cfg.AutoShutdown = true
			cfg.AutoShutdownMode = shutdown.NoQueues
		case "no-jobs":
			cfg.AutoShutdown = true
			cfg.AutoShutdownMode = shutdown.NoJobs
		default:
			cfg.AutoShutdown = parseBool(value)
		}
	case "autoshutdowntimeout":
		if secs, err := strconv.Atoi(value); err == nil {
			cfg.AutoShutdownTimeout = time.Duration(secs) * time.Second
		}
	case "browseinterval":
		if secs, err := strconv.Atoi(value); err == nil {
			cfg.BrowseInterval = time.Duration(secs) * time.Second
		}
	case "browsetimeout":
		if secs, err := strconv.Atoi(value); err == nil {
			cfg.BrowseTimeout = time.Duration(secs) * time.Second
		}
	case "httplocaltimeout":
		if secs, err := strconv.Atoi(value); err == nil {
			cfg.HTTPLocalTimeout = time.Duration(secs) * time.Second
		}
	case "httpremotetimeout":
		if secs, err := strconv.Atoi(value); err == nil {
			cfg.HTTPRemoteTimeout = time.Duration(secs) * time.Second
		}
	case "httpmaxretries":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.HTTPMaxRetries = n
		}
	case "notifyleaseduration":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.NotifyLeaseDuration = n
		}
	case "updatecupsqueuesmaxpercall":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.UpdateCUPSQueuesMaxPerCall = n
		}
	case "pausebetweencupsqueueupdates":
		if secs, err := strconv.Atoi(value); err == nil {
			cfg.PauseBetweenCUPSQueueUpdates = time.Duration(secs) * time.Second
		}
	case "defaultoptions":
		for k, v := range parseOptionsString(value) {
			cfg.DefaultOptions[k] = v
		}
	case "allowresharingremotecupsprinters":
		cfg.AllowResharingRemoteCUPSPrinters = parseBool(value)
	case "keepgeneratedqueuesonshutdown":
		cfg.KeepGeneratedQueuesOnShutdown = parseBool(value)
	case "cachedir":
		cfg.CacheDir = value
	case "debuglogging":
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "file", "stderr":
			cfg.DebugLogging = true
		default:
			cfg.DebugLogging = parseBool(value)
		}
	case "queueonclient":
		if parseBool(value) {
			cfg.DispatchPolicy = dispatch.QueueOnClient
		}
	case "queueonservers":
		if parseBool(value) {
			cfg.DispatchPolicy = dispatch.QueueOnServers
		}
	case "autocluster":
		cfg.AutoCluster = parseBool(value)
	case "snmpsupplypolling":
		cfg.SNMPSupplyPolling = parseBool(value)
	case "snmpcommunity":
		cfg.SNMPCommunity = value
	default:
		log.Printf("WARN: browsedconfig: unknown directive %q, skipped", key)
	}
}

func splitDirective(line string) (key, value string) {
	parts := strings.SplitN(line, " ", 2)
	if len(parts) == 0 {
		return "", ""
	}
	key = parts[0]
	if len(parts) == 2 {
		value = strings.TrimSpace(parts[1])
	}
	value = strings.Trim(value, `"`)
	return key, value
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "yes", "true", "1":
		return true
	default:
		return false
	}
}

func parseNamingSource(v string) cluster.BaseNameSource {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "makemodel":
		return cluster.SourceMakeModel
	case "remotename":
		return cluster.SourceRemoteQueueName
	default:
		return cluster.SourceDNSSDName
	}
}

// parseFilterDirective parses "allow|deny field=value" or
// "allow|deny field~regex" (regex indicated by a leading '~' on the value)
// into a compiled discovery.FilterRule (spec §4.3's matching filter).
func parseFilterDirective(value string) (discovery.FilterRule, bool) {
	fields := strings.SplitN(value, " ", 2)
	if len(fields) != 2 {
		return discovery.FilterRule{}, false
	}
	sense := discovery.SenseAllow
	switch strings.ToLower(fields[0]) {
	case "allow":
		sense = discovery.SenseAllow
	case "deny":
		sense = discovery.SenseDeny
	default:
		return discovery.FilterRule{}, false
	}

	rest := strings.TrimSpace(fields[1])
	eq := strings.IndexAny(rest, "=~")
	if eq < 0 {
		return discovery.FilterRule{}, false
	}
	fieldName := strings.TrimSpace(rest[:eq])
	mode := discovery.ModeExact
	if rest[eq] == '~' {
		mode = discovery.ModeRegex
	}
	matchValue := strings.TrimSpace(rest[eq+1:])

	var field discovery.FilterField
	var txtKey string
	switch strings.ToLower(fieldName) {
	case "queuename":
		field = discovery.FieldQueueName
	case "host":
		field = discovery.FieldHost
	case "port":
		field = discovery.FieldPort
	case "servicename":
		field = discovery.FieldServiceName
	case "domain":
		field = discovery.FieldDomain
	default:
		field = discovery.FieldTXTKey
		txtKey = fieldName
		if strings.EqualFold(matchValue, "true") || strings.EqualFold(matchValue, "false") {
			mode = discovery.ModeBoolean
		}
	}

	rule, err := discovery.CompileFilterRule(sense, field, mode, txtKey, matchValue)
	if err != nil {
		log.Printf("WARN: browsedconfig: BrowseFilter %q: %v", value, err)
		return discovery.FilterRule{}, false
	}
	return rule, true
}

func parseOptionsString(s string) map[string]string {
	out := map[string]string{}
	for _, field := range strings.Fields(s) {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[kv[0]] = kv[1]
	}
	return out
}
