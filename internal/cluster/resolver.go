package cluster

import (
	"fmt"
	"strings"
)

// NamingPolicy selects the base-name strategy per remote kind (spec §4.5
// step 1: LocalQueueNamingRemoteCUPS / LocalQueueNamingIPPPrinter).
type NamingPolicy struct {
	RemoteCUPS BaseNameSource // used when Candidate.CupsQueue is true
	IPPPrinter BaseNameSource // used otherwise
}

// BaseNameSource is one of the three ways to derive a base queue name.
type BaseNameSource int

const (
	SourceDNSSDName BaseNameSource = iota
	SourceMakeModel
	SourceRemoteQueueName // CUPS variant only
)

// Matcher is a single cluster member matcher (spec §3 "Cluster"): it is
// compared against the sanitized remote queue name, the make/model
// string, or the DNS-SD service name, each after the same sanitization
// used to derive a legal queue name.
type Matcher struct {
	Value string
}

func (m Matcher) matches(sanitizedRemoteName, sanitizedMakeModel, sanitizedServiceName string) bool {
	v := Sanitize(m.Value, '_')
	if v != "" && (v == sanitizedRemoteName || v == sanitizedServiceName) {
		return true
	}
	mm := Sanitize(m.Value, '-')
	return mm != "" && mm == sanitizedMakeModel
}

// Definition is a user-defined cluster: a local queue name plus the member
// matchers that route a discovered record into it (spec §3).
type Definition struct {
	LocalQueueName string
	Matchers       []Matcher
}

// Candidate is what the discovery intake asks the resolver to name.
type Candidate struct {
	ServiceName     string
	MakeModel       string
	RemoteQueueName string // basename of the resource path, CUPS variant only
	RemoteHost      string
	CupsQueue       bool
	ExcludedName    string
}

// Decision is the resolver's verdict for a candidate.
type Decision struct {
	QueueName      string
	JoinedCluster  string // non-empty when a user-defined cluster matched
	AutoClusterFor string // non-empty entry ID/name this candidate should auto-cluster with (caller resolves identity)
}

// NameExists reports whether a queue name is already taken on the local
// scheduler or in the registry; ManagedByUs additionally reports whether
// that occupant is one this daemon manages (needed to distinguish a
// foreign pre-existing queue, which forces the @host fallback, from one of
// ours, which is fine to reuse).
type NameExists func(name string) (exists bool, managedByUs bool)

// Resolver holds user-defined clusters and the auto-clustering policy.
type Resolver struct {
	Clusters    []Definition
	AutoCluster bool
}

// Resolve implements spec §4.5's four-step algorithm. sameFinalName is
// used only for step 4 (auto-clustering): the caller passes a lookup that
// reports whether an existing (non-cluster) entry already resolved to the
// same final name, so two like-named discoveries become a cluster
// automatically with the earlier one as master.
func (r *Resolver) Resolve(c Candidate, policy NamingPolicy, exists NameExists, sameFinalName func(name string) (existingID string, found bool)) (Decision, error) {
	base := baseName(c, policy)
	base = sanitizeForSource(base, c)
	if base == "" {
		return Decision{}, fmt.Errorf("cluster: empty base name for candidate")
	}

	name := base
	if name == c.ExcludedName {
		name = fallbackName(base, c.RemoteHost)
	}
	if e, managed := exists(name); e && !managed {
		name = fallbackName(base, c.RemoteHost)
		if name == c.ExcludedName {
			return Decision{}, fmt.Errorf("cluster: name %q excluded and no fallback available", name)
		}
		if e2, managed2 := exists(name); e2 && !managed2 {
			return Decision{}, fmt.Errorf("cluster: name %q also taken by a foreign queue", name)
		}
	}

	sanitizedRemoteName := Sanitize(c.RemoteQueueName, '_')
	sanitizedMakeModel := Sanitize(c.MakeModel, '-')
	sanitizedServiceName := Sanitize(c.ServiceName, '_')
	for _, def := range r.Clusters {
		for _, m := range def.Matchers {
			if m.matches(sanitizedRemoteName, sanitizedMakeModel, sanitizedServiceName) {
				return Decision{QueueName: def.LocalQueueName, JoinedCluster: def.LocalQueueName}, nil
			}
		}
	}

	if r.AutoCluster && sameFinalName != nil {
		if existingID, found := sameFinalName(name); found {
			return Decision{QueueName: name, AutoClusterFor: existingID}, nil
		}
	} else if sameFinalName != nil {
		if _, found := sameFinalName(name); found {
			return Decision{}, fmt.Errorf("cluster: name %q collides and auto-clustering is disabled", name)
		}
	}

	return Decision{QueueName: name}, nil
}

func baseName(c Candidate, policy NamingPolicy) string {
	source := policy.IPPPrinter
	if c.CupsQueue {
		source = policy.RemoteCUPS
	}
	switch source {
	case SourceMakeModel:
		if c.MakeModel != "" {
			return c.MakeModel
		}
	case SourceRemoteQueueName:
		if c.CupsQueue && c.RemoteQueueName != "" {
			return c.RemoteQueueName
		}
	}
	if c.ServiceName != "" {
		return c.ServiceName
	}
	if c.MakeModel != "" {
		return c.MakeModel
	}
	return c.RemoteQueueName
}

func sanitizeForSource(base string, c Candidate) string {
	// DNS-SD-derived names use '_'; make/model-derived names use '-' (spec §4.5).
	if base == c.MakeModel && base != c.ServiceName {
		return Sanitize(base, '-')
	}
	return Sanitize(base, '_')
}

func fallbackName(base, host string) string {
	host = Sanitize(host, '_')
	if host == "" {
		return base
	}
	return base + "@" + host
}

// StripHostSuffix removes a trailing "@host" appended by the reconciler's
// overwrite-recovery rename (spec §4.6), for display/comparison purposes.
func StripHostSuffix(name string) string {
	if idx := strings.LastIndex(name, "@"); idx > 0 {
		return name[:idx]
	}
	return name
}
