package registry

import "time"

// SideEffect tells the reconciler what to do as a result of a transition,
// per the "transition returns a side-effect description" design note (§9).
type SideEffect int

const (
	EffectNone SideEffect = iota
	EffectCreateOrModify
	EffectDelete
	EffectRelease
)

// MarkDiscovered applies a fresh discovery instance to an entry, per
// spec §4.3 steps 2-3. upgrade/tie/downgrade classification is the
// caller's job (it needs config policy this package doesn't own); this
// method only performs the resulting registry mutation.
func (e *Entry) MarkDiscovered(instance DiscoveryInstance, isUpgrade bool) {
	e.Lock()
	defer e.Unlock()

	if isUpgrade {
		e.Instances = append([]DiscoveryInstance{instance}, e.Instances...)
	} else {
		e.Instances = append(e.Instances, instance)
	}
	sortInstances(e.Instances)
	if isUpgrade {
		e.DeviceURI = e.Instances[0].URI
	}

	if e.Status == StatusUnconfirmed || e.Status == StatusDisappeared {
		e.Status = StatusToBeCreated
		e.Timeout = time.Now()
	}
}

// DropInstance removes a discovery instance (DNS-SD remove event, spec
// §4.3). If this was the last instance and the entry was confirmed, the
// caller (discovery intake, on a graceful browse-all-gone signal) may
// choose to move the entry to unconfirmed rather than disappeared;
// MarkAllInstancesGone implements that transition directly.
func (e *Entry) DropInstance(iface string) {
	e.Lock()
	defer e.Unlock()
	out := e.Instances[:0]
	for _, inst := range e.Instances {
		if inst.Interface != iface {
			out = append(out, inst)
		}
	}
	e.Instances = out
	if len(e.Instances) > 0 {
		e.DeviceURI = e.Instances[0].URI
	}
}

// MarkAllInstancesGone transitions a confirmed entry whose last discovery
// instance vanished during a graceful shutdown scenario to unconfirmed,
// per the table in spec §4.4.
func (e *Entry) MarkAllInstancesGone() {
	e.Lock()
	defer e.Unlock()
	if e.Status == StatusConfirmed {
		e.Status = StatusUnconfirmed
	}
}

// MarkConfirmed transitions a to-be-created entry to confirmed after a
// successful create/modify IPP call (spec §4.6 step 9).
func (e *Entry) MarkConfirmed() {
	e.Lock()
	defer e.Unlock()
	e.Status = StatusConfirmed
	e.RetryCount = 0
	e.Called = false
	e.Overwritten = false
}

// MarkTransientFailure reschedules a to-be-created entry after a
// recoverable IPP failure, incrementing the retry counter (spec §4.6
// step 5, §7 "Transient remote").
func (e *Entry) MarkTransientFailure(retryDelay time.Duration, maxRetries int) {
	e.Lock()
	defer e.Unlock()
	e.RetryCount++
	e.Called = false
	if e.RetryCount > maxRetries {
		e.Status = StatusDisappeared
		e.RetryCount = 0
		return
	}
	e.Timeout = time.Now().Add(retryDelay)
}

// MarkFatalFailure transitions an entry to disappeared after a permanent
// remote failure (spec §7 "Permanent remote").
func (e *Entry) MarkFatalFailure(reason string) {
	e.Lock()
	defer e.Unlock()
	e.Status = StatusDisappeared
	e.StatusText = reason
	e.Called = false
}

// RequestRefresh forces a confirmed entry back to to-be-created, e.g. on a
// capability change or user-forced refresh (spec §4.4).
func (e *Entry) RequestRefresh() {
	e.Lock()
	defer e.Unlock()
	if e.Status == StatusConfirmed {
		e.Status = StatusToBeCreated
		e.Timeout = time.Now()
	}
}

// MarkOverwritten transitions a confirmed entry whose scheduler queue was
// found rewritten out from under this daemon to to-be-released, renamed to
// avoid the name clash on recreation (spec §4.6 pre-check, §4.4).
func (e *Entry) MarkOverwritten(hostSuffix string) {
	e.Lock()
	defer e.Unlock()
	e.Status = StatusToBeReleased
	e.StatusText = "queue externally modified"
	e.Overwritten = true
	_ = hostSuffix // the new name is assigned by the caller via Registry.Rename on the *new* entry
}

// MarkDriverDrift transitions a confirmed entry whose driver nickname
// diverged from what this daemon last wrote back to to-be-created, so the
// reconciler rewrites the driver on the next pass (spec §4.6 pre-check).
func (e *Entry) MarkDriverDrift() {
	e.Lock()
	defer e.Unlock()
	if e.Status == StatusConfirmed {
		e.Status = StatusToBeCreated
		e.Timeout = time.Now()
	}
}

// MarkRemoved clears the called flag once a queue has been
// deleted from the scheduler and the entry is about to be evicted from the
// registry (spec §4.4 disappeared -> removed).
func (e *Entry) MarkRemoved() {
	e.Lock()
	defer e.Unlock()
	e.Called = false
}

// Acquire sets the called flag if it is currently clear, returning whether
// the caller now holds the token (spec §3 invariant 3, §5.1). Only the
// holder may transition to-be-created -> confirmed.
func (e *Entry) Acquire() bool {
	e.Lock()
	defer e.Unlock()
	if e.Called {
		return false
	}
	e.Called = true
	return true
}

// Release clears the called flag, e.g. after a worker task finishes or
// errors out before completing a transition.
func (e *Entry) Release() {
	e.Lock()
	defer e.Unlock()
	e.Called = false
}
