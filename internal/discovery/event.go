// Package discovery is the Discovery Intake (spec component C): it turns
// DNS-SD browse events and periodic remote-scheduler polling into
// discovered-printer records, filters out self-originated and
// non-matching records, and dispatches the rest into the registry.
package discovery

import "net"

// EventType distinguishes a DNS-SD service arriving versus leaving.
type EventType int

const (
	EventAdd EventType = iota
	EventRemove
)

// ServiceEvent is a raw DNS-SD browse event, before resolution. The
// resolve fields (Host, Addr, Port, TXT) are populated once the service
// name is resolved; until then they are zero.
type ServiceEvent struct {
	Type        EventType
	ServiceName string
	ServiceType string // e.g. "_ipp._tcp", "_ipps._tcp", "_printer._tcp"
	Domain      string
	Interface   string
	Family      Family

	Host string
	Addr net.IP
	Port int
	TXT  map[string]string
}

// Family is the address family an instance was discovered on.
type Family int

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

// PolledRecord is what periodic polling of a remote scheduler yields
// (spec §4.3's "(uri, location, info) triples").
type PolledRecord struct {
	URI      string
	Location string
	Info     string
}

// IsSecureServiceType reports whether a DNS-SD service type names a
// TLS-protected transport.
func IsSecureServiceType(serviceType string) bool {
	switch serviceType {
	case "_ipps._tcp", "_ipp-tls._tcp":
		return true
	default:
		return false
	}
}

// IsCupsQueueServiceType reports whether a service type is CUPS's legacy
// shared-queue flavor as opposed to a generic IPP printer service.
func IsCupsQueueServiceType(serviceType string) bool {
	return serviceType == "_cups._tcp"
}
