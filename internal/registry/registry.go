// Package registry implements the remote printer registry (spec component
// D): a keyed store of remote printer entries, each carrying its own state
// machine, timers, and cluster linkage.
//
// Cyclic master/slave references are modeled arena-style: entries live in
// a map keyed by a stable identifier, and slaveOf/masters are stored as
// identifiers rather than pointers (spec §9), so the deleted-master
// sentinel is just a reserved key rather than a special pointer value.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the keyed store of remote printer entries plus the cluster
// index. All entries and the index are protected by a single
// readers/writers lock, per spec §5's "registry" lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string // insertion order; scan order must be stable (spec §5.2)
	byName  map[string][]string

	persist *store
}

// New creates an empty registry with no persistence.
func New() *Registry {
	return &Registry{
		entries: map[string]*Entry{},
		byName:  map[string][]string{},
	}
}

// Open creates a registry backed by a sqlite database at dbPath for
// cross-restart persistence (SPEC_FULL.md domain-stack: modernc.org/sqlite).
// Rows found on open are loaded as StatusUnconfirmed entries (spec §4.4).
func Open(ctx context.Context, dbPath string) (*Registry, error) {
	r := New()
	if dbPath == "" {
		return r, nil
	}
	st, err := openStore(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	r.persist = st
	rows, err := st.loadEntries(ctx)
	if err != nil {
		return r, nil // best effort: an unreadable cache starts empty, not fatal
	}
	for _, e := range rows {
		e.Status = StatusUnconfirmed
		e.Called = false
		r.entries[e.ID] = e
		r.order = append(r.order, e.ID)
		r.byName[e.Name] = append(r.byName[e.Name], e.ID)
	}
	return r, nil
}

// Close releases the persistence handle, if any.
func (r *Registry) Close() error {
	if r.persist == nil {
		return nil
	}
	return r.persist.close()
}

// NewID mints a fresh entry identifier.
func NewID() string { return uuid.NewString() }

// Create adds a brand new entry in StatusToBeCreated and returns it.
func (r *Registry) Create(name, uri string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := newEntry(NewID(), name, uri)
	r.insertLocked(e)
	return e
}

// EnsureDeletedMasterSentinel installs (once) the reserved sentinel entry
// slaves are reparented to while their master is torn down (spec §4.4, §9).
func (r *Registry) EnsureDeletedMasterSentinel() *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[DeletedMasterID]; ok {
		return e
	}
	e := &Entry{
		ID:             DeletedMasterID,
		Name:           "",
		Status:         StatusDisappeared,
		Cluster:        true,
		OptionDefaults: map[string]string{},
		Attributes:     map[string][]string{},
	}
	r.insertLocked(e)
	return e
}

func (r *Registry) insertLocked(e *Entry) {
	r.entries[e.ID] = e
	r.order = append(r.order, e.ID)
	r.byName[e.Name] = append(r.byName[e.Name], e.ID)
}

// Get returns the entry with the given id, or nil.
func (r *Registry) Get(id string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// Delete removes an entry from the arena (and its persisted row, if any).
func (r *Registry) Delete(ctx context.Context, id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.entries, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	ids := r.byName[e.Name]
	for i, oid := range ids {
		if oid == id {
			r.byName[e.Name] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(r.byName[e.Name]) == 0 {
		delete(r.byName, e.Name)
	}
	r.mu.Unlock()

	if r.persist != nil {
		_ = r.persist.deleteEntry(ctx, id)
	}
}

// ByName returns every non-deleted-master entry sharing the given queue
// name, in stable (insertion) order.
func (r *Registry) ByName(name string) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byName[name]
	out := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		if e := r.entries[id]; e != nil && e.ID != DeletedMasterID {
			out = append(out, e)
		}
	}
	return out
}

// FindByNameAndURI implements the intake's search step (spec §4.3 step 1):
// an entry with equal sanitized queue name whose URI agrees up to trivial
// variants and whose resource path matches.
func (r *Registry) FindByNameAndURI(name string, uriEquivalent func(existing string) bool) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.byName[name] {
		e := r.entries[id]
		if e == nil || e.ID == DeletedMasterID {
			continue
		}
		if uriEquivalent(e.DeviceURI) {
			return e
		}
	}
	return nil
}

// NameTaken reports whether any non-slave entry other than excludeID
// already owns this queue name (spec §3 invariant 1, §4.5 step 2).
func (r *Registry) NameTaken(name, excludeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.byName[name] {
		if id == excludeID {
			continue
		}
		if e := r.entries[id]; e != nil && !e.IsSlave() {
			return true
		}
	}
	return false
}

// Rename moves an entry to a new queue name in the index. Callers must hold
// no entry lock; Rename takes the registry lock itself.
func (r *Registry) Rename(id, newName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	old := e.Name
	ids := r.byName[old]
	for i, oid := range ids {
		if oid == id {
			r.byName[old] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(r.byName[old]) == 0 {
		delete(r.byName, old)
	}
	e.Name = newName
	r.byName[newName] = append(r.byName[newName], id)
}

// Snapshot returns every entry in stable scan order (spec §5.2): the order
// in which cluster masters were inserted before their slaves is preserved,
// making per-scan manipulation order deterministic.
func (r *Registry) Snapshot() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.order))
	for _, id := range r.order {
		if e := r.entries[id]; e != nil {
			out = append(out, e)
		}
	}
	return out
}

// DueEntries returns entries whose Timeout has elapsed and whose Called
// flag is clear, sorted masters-before-slaves within the stable scan order
// (spec §4.4/§4.6: cluster masters are rewritten before their slaves).
func (r *Registry) DueEntries(now time.Time) []*Entry {
	all := r.Snapshot()
	due := make([]*Entry, 0, len(all))
	for _, e := range all {
		if e.ID == DeletedMasterID {
			continue
		}
		if e.Called {
			continue
		}
		if e.Timeout.After(now) {
			continue
		}
		due = append(due, e)
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].IsMaster() && !due[j].IsMaster()
	})
	return due
}

// Persist writes an entry's durable fields to the cross-restart cache, if
// persistence is configured. Best effort: persistence failures are logged
// by the caller, never fatal (spec §7, "Resource" error kind).
func (r *Registry) Persist(ctx context.Context, e *Entry) error {
	if r.persist == nil || e == nil {
		return nil
	}
	return r.persist.saveEntry(ctx, e)
}

// PromoteSlave searches for a live slave (not disappeared/to-be-released)
// of the given former master and makes it the new master, per the
// promotion rule (spec §4.4). It returns the promoted entry, or nil if no
// eligible slave exists.
func (r *Registry) PromoteSlave(masterID string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	master := r.entries[masterID]
	if master == nil {
		return nil
	}
	var candidate *Entry
	for _, id := range master.SlaveIDs {
		s := r.entries[id]
		if s == nil {
			continue
		}
		if s.Status == StatusDisappeared || s.Status == StatusToBeReleased {
			continue
		}
		candidate = s
		break
	}
	if candidate == nil {
		return nil
	}

	// The promoted slave inherits mastery: remaining slaves reparent to it.
	remaining := make([]string, 0, len(master.SlaveIDs))
	for _, id := range master.SlaveIDs {
		if id == candidate.ID {
			continue
		}
		remaining = append(remaining, id)
		if s := r.entries[id]; s != nil {
			s.MasterID = candidate.ID
		}
	}
	candidate.MasterID = ""
	candidate.Cluster = true
	candidate.SlaveIDs = remaining
	candidate.Status = StatusToBeCreated
	candidate.Timeout = time.Time{}
	master.SlaveIDs = nil // all reparented onto the new master
	return candidate
}

// ReparentSlavesToSentinel moves every slave of masterID onto the
// deleted-master sentinel, so their own teardown cannot race with a
// same-named replacement queue created later in the same scan (spec §4.4).
func (r *Registry) ReparentSlavesToSentinel(masterID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	master := r.entries[masterID]
	if master == nil {
		return
	}
	for _, id := range master.SlaveIDs {
		if s := r.entries[id]; s != nil {
			s.MasterID = DeletedMasterID
		}
	}
	master.SlaveIDs = nil
}

// AttachSlave records that slave joins master's cluster (spec §4.5 step 4/5).
func (r *Registry) AttachSlave(masterID, slaveID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	master := r.entries[masterID]
	slave := r.entries[slaveID]
	if master == nil || slave == nil {
		return
	}
	master.Cluster = true
	slave.MasterID = masterID
	for _, id := range master.SlaveIDs {
		if id == slaveID {
			return
		}
	}
	master.SlaveIDs = append(master.SlaveIDs, slaveID)
}
