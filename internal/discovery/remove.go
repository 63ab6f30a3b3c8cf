package discovery

// Remove applies a DNS-SD remove event (spec §4.3, §4.4's "DNS-SD
// all-instances-gone" transition) to every registry entry that was
// discovered through the vanished service instance.
//
// No direct teacher analogue: the teacher never tracks a printer across
// multiple discovery paths, so there is no "last instance gone" concept to
// borrow from; this implements spec §4.3/§4.4 directly against the
// registry's DropInstance/MarkAllInstancesGone primitives.
func (in *Intake) Remove(ev ServiceEvent) {
	for _, e := range in.Registry.Snapshot() {
		matched := false
		for _, inst := range e.Instances {
			if inst.ServiceName == ev.ServiceName && inst.Interface == ev.Interface {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		e.DropInstance(ev.Interface)
		if len(e.Instances) == 0 {
			e.MarkAllInstancesGone()
		}
	}
}
