package registry

import (
	"sort"
	"sync"
	"time"
)

// DiscoveryInstance is one interface+type+family path through which the
// same logical remote printer has been seen (spec §3, "discovery instances").
type DiscoveryInstance struct {
	Interface       string
	Family          string // "ipv4" or "ipv6"
	Secure          bool   // resolved via _ipps._tcp / ipps:// rather than plain
	Loopback        bool
	ViaPolling      bool // learned from periodic polling rather than DNS-SD
	Host            string
	Port            int
	Resource        string
	URI             string
	LegacyBroadcast bool
	ServiceName     string // DNS-SD service instance name, empty for polled instances
}

// sortInstances orders instances loopback-first, then secure-first, then
// IPv4-before-IPv6, per spec §3 invariant 4 — instance 0 is always the
// preferred (currently-exposed) instance.
func sortInstances(instances []DiscoveryInstance) {
	sort.SliceStable(instances, func(i, j int) bool {
		a, b := instances[i], instances[j]
		if a.Loopback != b.Loopback {
			return a.Loopback
		}
		if a.Secure != b.Secure {
			return a.Secure
		}
		if a.Family != b.Family {
			return a.Family == "ipv4"
		}
		return false
	})
}

// Status is an entry's state from §4.4. There is no removed value: an
// entry whose queue has been removed is deleted from the registry.
type Status int

const (
	StatusToBeCreated Status = iota
	StatusConfirmed
	StatusUnconfirmed
	StatusDisappeared
	StatusToBeReleased
	StatusToBeCreatedRenamed
)

func (s Status) String() string {
	switch s {
	case StatusToBeCreated:
		return "to-be-created"
	case StatusConfirmed:
		return "confirmed"
	case StatusUnconfirmed:
		return "unconfirmed"
	case StatusDisappeared:
		return "disappeared"
	case StatusToBeReleased:
		return "to-be-released"
	case StatusToBeCreatedRenamed:
		return "to-be-created-renamed"
	default:
		return "unknown"
	}
}

// CapabilityHints are the cheap, TXT/attribute-derived facts used before a
// full get-printer-attributes round trip is available (spec §3).
type CapabilityHints struct {
	MakeModel string
	Formats   []string
	Color     bool
	Duplex    bool
	Location  string
}

// DeletedMasterID is the sentinel identifier slaves are reparented to while
// their former master is being torn down, so their own removal cannot
// accidentally delete a same-named replacement queue created in the same
// reconciliation pass (spec §4.4, §9).
const DeletedMasterID = "deleted-master"

// Entry is the persistent unit of state for one remote printer (spec §3).
type Entry struct {
	ID   string
	Name string // queue name, chosen by the cluster resolver

	DeviceURI string
	Instances []DiscoveryInstance

	CupsQueue bool
	Cluster   bool

	MasterID string   // "" if this entry is a master or standalone
	SlaveIDs []string // populated only on a master

	Status Status

	Attributes     map[string][]string // raw get-printer-attributes response, keyed by attr name
	Hints          CapabilityHints
	AttrsFetchedAt time.Time
	DriverNickname string

	OptionDefaults map[string]string

	Timeout      time.Time
	LegacyExpiry time.Time

	LastPrinter int // last chosen cluster member index, for round-robin dispatch (§4.8)

	Overwritten bool
	RetryCount  int
	Called      bool // gates overlapping reconciliation work for this entry (§3 invariant 3)
	StatusText  string

	WasDefault bool // this queue had been the scheduler default in a prior session

	mu sync.Mutex // per-entry capability-mutation lock (§5 shared-resource policy)
}

func newEntry(id, name, uri string) *Entry {
	return &Entry{
		ID:             id,
		Name:           name,
		DeviceURI:      uri,
		Status:         StatusToBeCreated,
		OptionDefaults: map[string]string{},
		Attributes:     map[string][]string{},
	}
}

// PreferredInstance returns the currently-exposed instance, or the zero
// value if none are recorded.
func (e *Entry) PreferredInstance() DiscoveryInstance {
	if len(e.Instances) == 0 {
		return DiscoveryInstance{}
	}
	return e.Instances[0]
}

// Lock/Unlock expose the per-entry capability lock to callers that mutate
// the attribute cache outside the registry's own write path (e.g. the
// reconciler after an out-of-band get-printer-attributes call completes).
func (e *Entry) Lock()   { e.mu.Lock() }
func (e *Entry) Unlock() { e.mu.Unlock() }

// IsSlave reports whether this entry is a slave of some cluster master.
func (e *Entry) IsSlave() bool { return e.MasterID != "" }

// IsMaster reports whether this entry is the authoritative queue for its
// cluster (a standalone entry, i.e. Cluster == false, is trivially its own
// master and also reports true here since it owns its own scheduler queue).
func (e *Entry) IsMaster() bool { return e.MasterID == "" }
