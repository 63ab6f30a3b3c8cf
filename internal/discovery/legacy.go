// Legacy decodes the pre-DNS-SD CUPS broadcast compatibility path (spec
// §4.3, §6's BrowseTimeout reference): some still-deployed schedulers only
// answer an mDNS query for "_cups._tcp.local." with raw PTR/SRV/TXT records
// rather than going through a full DNS-SD responder, and split a printer's
// usb_MFG/usb_MDL pair across two separate TXT records instead of packing
// both key=value pairs into one. hashicorp/mdns's ServiceEntry.InfoFields
// already reassembles same-name TXT records for the common case, but a
// peer that answers with a bare Answer/Extra section outside that helper's
// expected shape needs the lower-level github.com/miekg/dns record types to
// read at all, so this path parses the wire message directly instead of
// going through mdns.Query.
//
// No direct teacher analogue: internal/server/dnssd_advertiser.go uses
// miekg/dns only for the dns.Question/dns.RR types an mdns.Zone must
// implement, never to parse a received packet, so this file's use of
// dns.Msg.Unpack is adapted from that package's own record-type surface
// rather than copied from a prior decode path.
package discovery

import (
	"context"
	"net"
	"strings"

	"github.com/miekg/dns"
)

// LegacyServiceType is the only service the legacy broadcast path listens
// for; CUPS's own legacy browsing never advertised plain IPP printers this
// way, only shared scheduler queues.
const LegacyServiceType = "_cups._tcp"

const mdnsMulticastAddr = "224.0.0.251:5353"

// LegacyListener listens for raw mDNS responses on the standard multicast
// group and decodes "_cups._tcp" answers into ServiceEvents, reassembling
// TXT records that arrive as several same-name RRs instead of one.
type LegacyListener struct {
	Events chan<- ServiceEvent

	conn *net.UDPConn
}

// NewLegacyListener opens the multicast UDP socket. Callers should treat a
// non-nil error as non-fatal (spec §7, "Network" condition): legacy
// broadcast is a compatibility supplement, not the primary discovery path.
func NewLegacyListener(events chan<- ServiceEvent) (*LegacyListener, error) {
	addr, err := net.ResolveUDPAddr("udp4", mdnsMulticastAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return nil, err
	}
	return &LegacyListener{Events: events, conn: conn}, nil
}

// Close releases the multicast socket.
func (l *LegacyListener) Close() error {
	if l.conn == nil {
		return nil
	}
	return l.conn.Close()
}

// Run blocks reading packets until ctx is cancelled or the socket closes.
func (l *LegacyListener) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	buf := make([]byte, 65536)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		msg := new(dns.Msg)
		if err := msg.Unpack(buf[:n]); err != nil {
			continue
		}
		for _, ev := range decodeLegacyMessage(msg) {
			select {
			case l.Events <- ev:
			default:
			}
		}
	}
}

// decodeLegacyMessage walks a raw mDNS response's answer and additional
// sections, grouping PTR/SRV/A/TXT records by instance name the way a full
// DNS-SD resolver would, without requiring hashicorp/mdns's own
// ServiceEntry shape.
func decodeLegacyMessage(msg *dns.Msg) []ServiceEvent {
	var ptrs []*dns.PTR
	srv := map[string]*dns.SRV{}
	addrs := map[string]net.IP{}
	txt := map[string][]string{}

	for _, rr := range append(append([]dns.RR{}, msg.Answer...), msg.Extra...) {
		switch rec := rr.(type) {
		case *dns.PTR:
			if strings.Contains(rec.Hdr.Name, LegacyServiceType) {
				ptrs = append(ptrs, rec)
			}
		case *dns.SRV:
			srv[normalizeRRName(rec.Hdr.Name)] = rec
		case *dns.A:
			addrs[normalizeRRName(rec.Hdr.Name)] = rec.A
		case *dns.AAAA:
			addrs[normalizeRRName(rec.Hdr.Name)] = rec.AAAA
		case *dns.TXT:
			key := normalizeRRName(rec.Hdr.Name)
			txt[key] = append(txt[key], rec.Txt...)
		}
	}

	var out []ServiceEvent
	for _, ptr := range ptrs {
		instance := normalizeRRName(ptr.Ptr)
		s := srv[instance]
		if s == nil {
			continue
		}
		host := strings.TrimSuffix(s.Target, ".")
		ip := addrs[normalizeRRName(s.Target)]
		if ip != nil {
			host = ip.String()
		}
		ev := ServiceEvent{
			Type:        EventAdd,
			ServiceName: instanceLabel(instance),
			ServiceType: LegacyServiceType,
			Domain:      "local",
			Host:        host,
			Port:        int(s.Port),
			TXT:         parseLegacyTXTStrings(txt[instance]),
		}
		if ip != nil {
			ev.Addr = ip
			if ip.To4() == nil {
				ev.Family = FamilyIPv6
			}
		}
		out = append(out, ev)
	}
	return out
}

func normalizeRRName(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

func instanceLabel(fqdn string) string {
	idx := strings.Index(fqdn, "."+strings.TrimPrefix(LegacyServiceType, "_"))
	if idx < 0 {
		idx = strings.Index(fqdn, LegacyServiceType)
	}
	if idx <= 0 {
		return fqdn
	}
	return fqdn[:idx]
}

// parseLegacyTXTStrings applies the same "k=v" splitting as the DNS-SD path,
// but reassembles a usb_MFG/usb_MDL pair spread across two distinct TXT
// records (each record here is itself already one or more "k=v" character
// strings within a single RR) into one merged map instead of the last
// record winning.
func parseLegacyTXTStrings(entries []string) map[string]string {
	out := map[string]string{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}
