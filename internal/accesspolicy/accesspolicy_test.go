package accesspolicy

import "testing"

func TestEvaluateAllowDenyOrder(t *testing.T) {
	p := Policy{
		Order: OrderAllowDeny,
		Rules: []Rule{
			ParseRule(Allow, "192.168.1.0/24"),
			ParseRule(Deny, "192.168.1.50"),
		},
	}
	cases := map[string]bool{
		"192.168.1.10": true,
		"192.168.1.50": false, // last match (deny) wins
		"10.0.0.1":     false,
	}
	for peer, want := range cases {
		if got := p.Evaluate(peer); got != want {
			t.Errorf("Evaluate(%q) = %v, want %v", peer, got, want)
		}
	}
}

func TestEvaluateDenyAllowOrder(t *testing.T) {
	p := Policy{
		Order: OrderDenyAllow,
		Rules: []Rule{
			ParseRule(Deny, "0.0.0.0/0"),
			ParseRule(Allow, "192.168.1.0/24"),
		},
	}
	if !p.Evaluate("192.168.1.10") {
		t.Error("expected allow to win after deny in deny,allow order")
	}
	if p.Evaluate("10.0.0.1") {
		t.Error("expected deny-all to hold for non-matching allow")
	}
}

func TestEvaluateLocalhostAndLocal(t *testing.T) {
	p := Policy{
		Order: OrderAllowDeny,
		Rules: []Rule{ParseRule(Allow, "@local")},
	}
	if !p.Evaluate("192.168.5.5") {
		t.Error("expected @local to match private address")
	}
	if p.Evaluate("8.8.8.8") {
		t.Error("expected @local to reject public address")
	}

	lp := Policy{
		Order: OrderAllowDeny,
		Rules: []Rule{ParseRule(Allow, "localhost")},
	}
	if !lp.Evaluate("127.0.0.1") {
		t.Error("expected localhost to match loopback address")
	}
	if lp.Evaluate("192.168.5.5") {
		t.Error("expected localhost to reject non-loopback address")
	}
}

func TestEvaluateUnparsablePeerDenied(t *testing.T) {
	p := Policy{Order: OrderAllowDeny, AllowAll: true}
	if p.Evaluate("not-an-address") {
		t.Error("expected unparsable peer to be denied regardless of allow-all")
	}
}

func TestParseRuleKind(t *testing.T) {
	if r := ParseRule(Allow, "10.0.0.0/8"); r.Kind != KindNetwork {
		t.Error("expected network kind for CIDR value")
	}
	if r := ParseRule(Allow, "10.0.0.1"); r.Kind != KindIP {
		t.Error("expected ip kind for bare address")
	}
}
