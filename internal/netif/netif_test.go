package netif

import (
	"net"
	"testing"
)

func TestIsLocalHostnameAlwaysKnowsLoopbackNames(t *testing.T) {
	tr := New()
	for _, name := range []string{"localhost", "LOCALHOST", "localhost.", "localhost.local"} {
		if !tr.IsLocalHostname(name) {
			t.Fatalf("IsLocalHostname(%q) = false", name)
		}
	}
	if tr.IsLocalHostname("printserver.example.com") {
		t.Fatalf("foreign host reported local")
	}
	if tr.IsLocalHostname("") {
		t.Fatalf("empty host reported local")
	}
}

func TestIsLocalAddrMatchesEnumeratedAddresses(t *testing.T) {
	tr := New()
	snap := tr.Snapshot()
	for _, a := range snap.Addrs {
		if !tr.IsLocalAddr(a.IP) {
			t.Fatalf("enumerated address %s not recognized as local", a.IP)
		}
	}
	if tr.IsLocalAddr(net.ParseIP("203.0.113.7")) {
		t.Fatalf("TEST-NET address reported local")
	}
	if tr.IsLocalAddr(nil) {
		t.Fatalf("nil address reported local")
	}
}

func TestRequestRefreshCoalescesWithinDebounceWindow(t *testing.T) {
	tr := New()
	tr.RequestRefresh()
	first := tr.lastKick
	tr.RequestRefresh() // inside the window: must not re-enumerate immediately
	if tr.lastKick != first {
		t.Fatalf("second refresh inside the debounce window re-enumerated")
	}
	if !tr.pending {
		t.Fatalf("coalesced refresh should be recorded as pending")
	}
}
