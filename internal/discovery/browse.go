// Browse is the DNS-SD side of Discovery Intake (spec §4.3, "Discovery via
// mDNS/DNS-SD"): it repeatedly queries the configured service types and
// emits add/remove ServiceEvents for the caller to resolve into Records.
//
// Grounded on the teacher's internal/backend/dnssd.go ListDevices, which
// issues one mdns.Query per service type into a channel and reads it with a
// context deadline; generalized here from a single one-shot inventory pass
// into a repeating ticker loop that also tracks which instances vanished
// between passes (spec §4.3's "removal" case, which ListDevices never
// needed to detect).
package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// DefaultServiceTypes are the DNS-SD service types this daemon browses for
// (spec §4.3): printers advertised over plain IPP, TLS-protected IPP, and
// the legacy CUPS shared-queue flavor.
var DefaultServiceTypes = []string{"_ipp._tcp", "_ipps._tcp", "_cups._tcp"}

// BrowseConfig holds a browse loop's tunables.
type BrowseConfig struct {
	ServiceTypes []string
	Domain       string
	Interval     time.Duration // how often a fresh query round runs
	QueryTimeout time.Duration // how long one mdns.Query call is given to answer
}

func (c BrowseConfig) withDefaults() BrowseConfig {
	if len(c.ServiceTypes) == 0 {
		c.ServiceTypes = DefaultServiceTypes
	}
	if c.Domain == "" {
		c.Domain = "local"
	}
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 2 * time.Second
	}
	return c
}

// queryFunc abstracts mdns.Query so browse rounds can be exercised without a
// real network in tests.
type queryFunc func(service, domain string, timeout time.Duration, entries chan<- *mdns.ServiceEntry) error

func defaultQuery(service, domain string, timeout time.Duration, entries chan<- *mdns.ServiceEntry) error {
	return mdns.Query(&mdns.QueryParam{
		Service: service,
		Domain:  domain,
		Timeout: timeout,
		Entries: entries,
	})
}

// Browser runs repeated DNS-SD query rounds and reports add/remove events
// against the set of instances seen in the previous round.
type Browser struct {
	Config BrowseConfig
	Events chan<- ServiceEvent

	query queryFunc
	seen  map[string]bool // "service|name" -> present in the last round
}

// NewBrowser builds a Browser that writes to events.
func NewBrowser(cfg BrowseConfig, events chan<- ServiceEvent) *Browser {
	return &Browser{Config: cfg.withDefaults(), Events: events, query: defaultQuery, seen: map[string]bool{}}
}

// Run blocks, issuing a query round every Config.Interval, until ctx is
// cancelled.
func (b *Browser) Run(ctx context.Context) {
	b.runRound(ctx)
	ticker := time.NewTicker(b.Config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.runRound(ctx)
		}
	}
}

func (b *Browser) runRound(ctx context.Context) {
	roundSeen := map[string]bool{}
	for _, service := range b.Config.ServiceTypes {
		for _, entry := range b.queryOnce(ctx, service) {
			key := service + "|" + entry.Name
			roundSeen[key] = true
			if !b.seen[key] {
				b.emit(serviceEventFromEntry(EventAdd, service, b.Config.Domain, entry))
			}
		}
	}
	for key := range b.seen {
		if !roundSeen[key] {
			parts := strings.SplitN(key, "|", 2)
			if len(parts) == 2 {
				b.emit(ServiceEvent{Type: EventRemove, ServiceName: parts[1], ServiceType: parts[0], Domain: b.Config.Domain})
			}
		}
	}
	b.seen = roundSeen
}

func (b *Browser) queryOnce(ctx context.Context, service string) []*mdns.ServiceEntry {
	entries := make(chan *mdns.ServiceEntry, 64)
	qctx, cancel := context.WithTimeout(ctx, b.Config.QueryTimeout)
	defer cancel()
	go func() {
		_ = b.query(service, b.Config.Domain, b.Config.QueryTimeout, entries)
		close(entries)
	}()

	var out []*mdns.ServiceEntry
	for {
		select {
		case <-qctx.Done():
			return out
		case entry, ok := <-entries:
			if !ok {
				return out
			}
			if entry != nil {
				out = append(out, entry)
			}
		}
	}
}

func (b *Browser) emit(ev ServiceEvent) {
	select {
	case b.Events <- ev:
	default:
		// a full channel means the caller fell behind resolving; drop rather
		// than block the browse loop (spec §7 treats this as a Resource
		// condition, not fatal).
	}
}

func serviceEventFromEntry(typ EventType, service, domain string, entry *mdns.ServiceEntry) ServiceEvent {
	host := entry.Host
	family := FamilyIPv4
	if host == "" && entry.AddrV4 != nil {
		host = entry.AddrV4.String()
	} else if host == "" && entry.AddrV6 != nil {
		host = entry.AddrV6.String()
		family = FamilyIPv6
	} else if entry.AddrV4 == nil && entry.AddrV6 != nil {
		family = FamilyIPv6
	}
	ev := ServiceEvent{
		Type:        typ,
		ServiceName: entry.Name,
		ServiceType: service,
		Domain:      domain,
		Host:        strings.TrimSuffix(host, "."),
		Port:        entry.Port,
		Family:      family,
		TXT:         parseTXTRecords(entry.InfoFields),
	}
	if entry.AddrV4 != nil {
		ev.Addr = entry.AddrV4
	} else if entry.AddrV6 != nil {
		ev.Addr = entry.AddrV6
	}
	return ev
}

// parseTXTRecords mirrors the teacher's parseTxtRecords: split each
// "k=v" entry on the first '=', lowercase the key.
func parseTXTRecords(records []string) map[string]string {
	out := map[string]string{}
	for _, record := range records {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		parts := strings.SplitN(record, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[strings.ToLower(key)] = strings.TrimSpace(parts[1])
	}
	return out
}
