// Package netif tracks the local machine's network interfaces/addresses
// and hostnames, so discovery events naming a peer that is actually us can
// be filtered out (the discovery intake's local-origin filter, spec §4.3).
//
// Enumeration failures are swallowed and the previous snapshot retained,
// the same "best effort, never block startup" posture the teacher's
// DNS-SD advertiser takes toward its own refresh loop.
package netif

import (
	"context"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// Addr is one local (interface, family, address) triple.
type Addr struct {
	Interface string
	Family    string // "ipv4" or "ipv6"
	IP        net.IP
}

// Snapshot is the current view of local interfaces/addresses/hostnames.
type Snapshot struct {
	Addrs     []Addr
	Hostnames map[string]bool
}

// Tracker holds the current Snapshot and refreshes it on demand or on a
// debounced timer, per spec §4.1's 10-second coalescing window.
type Tracker struct {
	mu       sync.RWMutex
	snap     Snapshot
	debounce time.Duration

	refreshMu  sync.Mutex
	lastKick   time.Time
	pending    bool
	refreshing bool
}

// New creates a Tracker with an initial snapshot; errors are swallowed,
// leaving an empty but non-nil snapshot, matching the "fail silently,
// retain previous state" rule in spec §4.1.
func New() *Tracker {
	t := &Tracker{debounce: 10 * time.Second}
	t.snap = enumerate()
	return t
}

// Snapshot returns the current view.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// IsLocalHostname reports whether name matches one of this host's known
// hostnames (including link-local ".local" variants).
func (t *Tracker) IsLocalHostname(name string) bool {
	name = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(name), "."))
	if name == "" {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.Hostnames[name]
}

// IsLocalAddr reports whether ip matches one of this host's known addresses.
func (t *Tracker) IsLocalAddr(ip net.IP) bool {
	if ip == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, a := range t.snap.Addrs {
		if a.IP.Equal(ip) {
			return true
		}
	}
	return false
}

// RequestRefresh asks for a re-enumeration, coalescing requests that arrive
// within the debounce window into a single enumeration (spec §4.1).
func (t *Tracker) RequestRefresh() {
	t.refreshMu.Lock()
	now := time.Now()
	if t.refreshing {
		t.pending = true
		t.refreshMu.Unlock()
		return
	}
	if !t.lastKick.IsZero() && now.Sub(t.lastKick) < t.debounce {
		t.pending = true
		t.refreshMu.Unlock()
		return
	}
	t.refreshing = true
	t.lastKick = now
	t.refreshMu.Unlock()

	t.doRefresh()

	t.refreshMu.Lock()
	t.refreshing = false
	needAnother := t.pending
	t.pending = false
	t.refreshMu.Unlock()
	if needAnother {
		time.AfterFunc(t.debounce, t.RequestRefresh)
	}
}

func (t *Tracker) doRefresh() {
	snap := enumerate()
	if len(snap.Addrs) == 0 && len(snap.Hostnames) == 0 {
		// Enumeration error: keep the previous snapshot, per spec §4.1.
		return
	}
	t.mu.Lock()
	t.snap = snap
	t.mu.Unlock()
}

// Run watches ctx for cancellation and otherwise does nothing on its own —
// interface-change notifications are platform-specific and are expected to
// call RequestRefresh from the OS network-manager binding; Run exists so
// callers can wire a fallback periodic refresh without duplicating the
// debounce bookkeeping.
func (t *Tracker) Run(ctx context.Context, fallbackInterval time.Duration) {
	if fallbackInterval <= 0 {
		fallbackInterval = 5 * time.Minute
	}
	ticker := time.NewTicker(fallbackInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.RequestRefresh()
		}
	}
}

func enumerate() Snapshot {
	snap := Snapshot{Hostnames: map[string]bool{}}

	ifaces, err := net.Interfaces()
	if err != nil {
		return Snapshot{Hostnames: map[string]bool{}}
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			family := "ipv6"
			if ipNet.IP.To4() != nil {
				family = "ipv4"
			}
			snap.Addrs = append(snap.Addrs, Addr{
				Interface: iface.Name,
				Family:    family,
				IP:        ipNet.IP,
			})
		}
	}

	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		h := strings.ToLower(hostname)
		snap.Hostnames[h] = true
		if !strings.Contains(h, ".") {
			snap.Hostnames[h+".local"] = true
		} else if short := strings.SplitN(h, ".", 2)[0]; short != "" {
			snap.Hostnames[short] = true
			snap.Hostnames[short+".local"] = true
		}
	}
	snap.Hostnames["localhost"] = true
	snap.Hostnames["localhost.local"] = true

	return snap
}
