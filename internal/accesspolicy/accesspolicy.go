// Package accesspolicy evaluates allow/deny rules against a peer address,
// the way a cupsd <Location> block decides whether a client may reach a
// resource — but scoped to the single decision this daemon needs: may a
// discovered announcement or poll reply from this peer be trusted.
package accesspolicy

import (
	"net"
	"strings"
)

// RuleSense is the sense of a single rule: allow or deny.
type RuleSense int

const (
	Allow RuleSense = iota
	Deny
)

// RuleKind distinguishes a literal address rule from a network (address+mask) rule.
type RuleKind int

const (
	KindIP RuleKind = iota
	KindNetwork
)

// Rule is a single allow/deny entry.
type Rule struct {
	Sense RuleSense
	Kind  RuleKind
	Value string // literal IP for KindIP, CIDR for KindNetwork
}

// Order controls which list is evaluated first and what the default is.
type Order int

const (
	// OrderAllowDeny: default deny; allow rules apply, then deny rules; last match wins.
	OrderAllowDeny Order = iota
	// OrderDenyAllow: default allow; deny rules apply, then allow rules.
	OrderDenyAllow
)

// Policy is an ordered rule list plus blanket allow/deny flags, evaluated
// against a single peer address.
type Policy struct {
	Order    Order
	AllowAll bool
	DenyAll  bool
	Rules    []Rule
}

// Evaluate returns whether peer is allowed to interact with this daemon.
// peer may be a bare IP or host:port; unparsable input is denied.
func (p Policy) Evaluate(peer string) bool {
	ip := parseHostIP(peer)
	if ip == nil {
		return false
	}

	switch p.Order {
	case OrderDenyAllow:
		decision := true
		if p.DenyAll || matches(ip, p.Rules, Deny) {
			decision = false
		}
		if p.AllowAll || matches(ip, p.Rules, Allow) {
			decision = true
		}
		return decision
	default: // OrderAllowDeny
		decision := false
		if p.AllowAll || matches(ip, p.Rules, Allow) {
			decision = true
		}
		if p.DenyAll || matches(ip, p.Rules, Deny) {
			decision = false
		}
		return decision
	}
}

func matches(ip net.IP, rules []Rule, sense RuleSense) bool {
	matched := false
	for _, r := range rules {
		if r.Sense != sense {
			continue
		}
		if ruleMatches(ip, r) {
			matched = true
		}
	}
	return matched
}

func ruleMatches(ip net.IP, r Rule) bool {
	value := strings.TrimSpace(r.Value)
	if value == "" {
		return false
	}
	switch r.Kind {
	case KindNetwork:
		if _, netw, err := net.ParseCIDR(value); err == nil {
			return netw.Contains(ip)
		}
		return false
	default: // KindIP
		switch strings.ToLower(value) {
		case "localhost":
			return ip.IsLoopback()
		case "@local":
			return isPrivate(ip)
		}
		candidate := net.ParseIP(value)
		if candidate == nil {
			return false
		}
		return addressEqual(ip, candidate)
	}
}

// addressEqual compares family-sensitively: a v4-mapped v6 address equals its v4 form.
func addressEqual(a, b net.IP) bool {
	a4, b4 := a.To4(), b.To4()
	if a4 != nil && b4 != nil {
		return a4.Equal(b4)
	}
	return a.Equal(b)
}

func isPrivate(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return true
	}
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "fc00::/7"} {
		if _, netw, err := net.ParseCIDR(cidr); err == nil && netw.Contains(ip) {
			return true
		}
	}
	return false
}

func parseHostIP(peer string) net.IP {
	peer = strings.TrimSpace(peer)
	if peer == "" {
		return nil
	}
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	peer = strings.Trim(peer, "[]")
	return net.ParseIP(peer)
}

// ParseRule turns a BrowseAllow/BrowseDeny directive value ("1.2.3.4" or
// "1.2.3.0/24" or "@local") into a Rule of the given sense.
func ParseRule(sense RuleSense, value string) Rule {
	value = strings.TrimSpace(value)
	if strings.Contains(value, "/") {
		return Rule{Sense: sense, Kind: KindNetwork, Value: value}
	}
	return Rule{Sense: sense, Kind: KindIP, Value: value}
}
