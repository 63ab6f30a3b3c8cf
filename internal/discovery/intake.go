package discovery

import (
	"strings"

	"cups-browsed-go/internal/cluster"
	"cups-browsed-go/internal/registry"
)

// Intake ties the local-origin filter, matching filter, and cluster
// resolver together and performs the reconciliation-on-entry dispatch
// into the registry (spec §4.3's "Dispatch to D").
type Intake struct {
	Registry          *registry.Registry
	Resolver          *cluster.Resolver
	NamingPolicy      cluster.NamingPolicy
	LocalOrigin       LocalOriginFilter
	Matcher           Matcher
	RefreshOnDiscover bool // "refresh capabilities on each discovery" mode, spec §4.3 step 4
	AttrCache         *registry.AttrCache
}

// Accept runs one discovered record through the intake pipeline. It
// returns the touched entry and whether the record was accepted (false
// for local-origin drops, filter rejections, and naming failures).
func (in *Intake) Accept(rec Record) (*registry.Entry, bool, error) {
	if in.LocalOrigin.Reject(rec) {
		return nil, false, nil
	}

	candidate := cluster.Candidate{
		ServiceName:     rec.ServiceName,
		MakeModel:       rec.MakeModel,
		RemoteQueueName: strings.TrimPrefix(rec.Resource, "/printers/"),
		RemoteHost:      rec.Host,
		CupsQueue:       rec.CupsQueue,
	}
	recURI := rec.URI()
	// A rediscovery of a printer already registered under this name is the
	// same entry, not a naming collision.
	sameFinalName := func(name string) (string, bool) {
		if in.Registry.FindByNameAndURI(name, func(existingURI string) bool { return uriEquivalent(existingURI, recURI) }) != nil {
			return "", false
		}
		return in.sameFinalName(name)
	}
	decision, err := in.Resolver.Resolve(candidate, in.NamingPolicy, in.nameExists, sameFinalName)
	if err != nil {
		return nil, false, err
	}
	queueName := decision.QueueName

	if !in.Matcher.Accept(queueName, rec, nil) {
		return nil, false, nil
	}

	instance := toInstance(rec)
	existing := in.Registry.FindByNameAndURI(queueName, func(existingURI string) bool {
		return uriEquivalent(existingURI, rec.URI())
	})

	var entry *registry.Entry
	if existing == nil {
		entry = in.Registry.Create(queueName, rec.URI())
		entry.CupsQueue = rec.CupsQueue
		entry.Hints = registry.CapabilityHints{
			MakeModel: rec.MakeModel,
			Formats:   rec.Formats,
			Color:     rec.Color,
			Duplex:    rec.Duplex,
			Location:  rec.Location,
		}
		entry.MarkDiscovered(instance, true)
	} else {
		entry = existing
		if !hasInstance(entry.Instances, instance) {
			upgrade := classify(entry.PreferredInstance(), instance)
			if upgrade && in.AttrCache != nil {
				in.AttrCache.Invalidate(entry.ID)
			}
			entry.MarkDiscovered(instance, upgrade)
		}
	}

	if decision.JoinedCluster != "" || decision.AutoClusterFor != "" {
		masterID := decision.AutoClusterFor
		if masterID == "" {
			masterID = entry.ID
		}
		if masterID != entry.ID {
			in.Registry.AttachSlave(masterID, entry.ID)
		}
	}

	if in.RefreshOnDiscover && in.AttrCache != nil {
		in.AttrCache.Invalidate(entry.ID)
	}

	return entry, true, nil
}

func (in *Intake) nameExists(name string) (exists bool, managedByUs bool) {
	matches := in.Registry.ByName(name)
	if len(matches) == 0 {
		return false, false
	}
	return true, true
}

func (in *Intake) sameFinalName(name string) (existingID string, found bool) {
	matches := in.Registry.ByName(name)
	for _, e := range matches {
		if e.IsMaster() {
			return e.ID, true
		}
	}
	return "", false
}

func toInstance(rec Record) registry.DiscoveryInstance {
	family := "ipv4"
	if rec.Family == FamilyIPv6 {
		family = "ipv6"
	}
	return registry.DiscoveryInstance{
		Interface:       rec.Interface,
		Family:          family,
		Secure:          rec.Secure,
		Loopback:        isLoopbackHost(rec.Host, rec.Addr),
		Host:            rec.Host,
		Port:            rec.Port,
		Resource:        rec.Resource,
		URI:             rec.URI(),
		ServiceName:     rec.ServiceName,
		ViaPolling:      rec.ServiceName == "",
		LegacyBroadcast: rec.ServiceType == LegacyServiceType,
	}
}

// hasInstance reports whether an equivalent instance (same interface and
// resulting URI) is already recorded, so a repeat discovery of the same
// path is a true no-op rather than an appended duplicate (spec §8
// property 1, "idempotence of intake").
func hasInstance(instances []registry.DiscoveryInstance, candidate registry.DiscoveryInstance) bool {
	for _, inst := range instances {
		if inst.Interface == candidate.Interface && inst.URI == candidate.URI {
			return true
		}
	}
	return false
}

func isLoopbackHost(host, addr string) bool {
	for _, h := range []string{host, addr} {
		h = strings.ToLower(strings.TrimSuffix(h, "."))
		if h == "localhost" || h == "localhost.local" || h == "127.0.0.1" || h == "::1" {
			return true
		}
	}
	return false
}

// classify implements spec §4.3 step 2: upgrade/downgrade/tie between a
// stored preferred instance and a freshly discovered one. Only upgrade
// cases return true; downgrade and tie both record the instance (the
// caller always calls MarkDiscovered) but never replace the preferred URI.
func classify(preferred, candidate registry.DiscoveryInstance) bool {
	if preferred.URI == "" {
		return true // nothing stored yet, trivially an upgrade
	}
	if !preferred.Secure && candidate.Secure {
		return true
	}
	if !preferred.Loopback && candidate.Loopback {
		return true
	}
	if preferred.ViaPolling && !candidate.ViaPolling {
		return true
	}
	if preferred.Family != candidate.Family && candidate.Family == "ipv4" && preferred.Family == "ipv6" {
		return true
	}
	return false
}

// uriEquivalent treats IPP<->secure-IPP and port 631<->443 as the same
// logical endpoint, per spec §4.3 step 1 ("agrees up to trivial variants").
func uriEquivalent(a, b string) bool {
	na := normalizeURIForComparison(a)
	nb := normalizeURIForComparison(b)
	return na == nb
}

func normalizeURIForComparison(uri string) string {
	uri = strings.ToLower(uri)
	uri = strings.TrimPrefix(uri, "ipps://")
	uri = strings.TrimPrefix(uri, "ipp://")
	hostPort, resource, _ := strings.Cut(uri, "/")
	host, port, found := strings.Cut(hostPort, ":")
	if found && (port == "443" || port == "631") {
		hostPort = host
	}
	return hostPort + "/" + resource
}
