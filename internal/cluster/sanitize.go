// Package cluster implements the Cluster Resolver (spec component E): it
// maps a discovered record to a local queue name, deciding standalone vs.
// cluster membership.
package cluster

import "strings"

// Sanitize keeps [A-Za-z0-9] characters and collapses any run of other
// characters into a single separator, then strips leading/trailing
// separators (spec §4.5). DNS-SD-sourced names use '_'; make/model-sourced
// names use '-'.
func Sanitize(s string, sep byte) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSep := true // avoid a leading separator
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevSep = false
			continue
		}
		if !prevSep {
			b.WriteByte(sep)
			prevSep = true
		}
	}
	out := b.String()
	return strings.TrimRight(out, string(sep))
}

// SanitizeDNSSD sanitizes a DNS-SD-sourced name (service name, host name).
func SanitizeDNSSD(s string) string { return Sanitize(s, '_') }

// SanitizeMakeModel sanitizes a make/model-sourced name.
func SanitizeMakeModel(s string) string { return Sanitize(s, '-') }
