package discovery

import (
	"strconv"
	"strings"
)

// Record is a discovered-printer record (spec §3): transient, produced
// here, and handed to the registry by Intake.Accept.
type Record struct {
	Host        string
	Addr        string
	Port        int
	Resource    string
	Secure      bool
	ServiceName string
	ServiceType string
	Domain      string
	Interface   string
	Family      Family

	CupsQueue bool
	MakeModel string
	Formats   []string
	Color     bool
	Duplex    bool
	Location  string
	UUID      string
}

// FromServiceEvent builds a Record from a resolved DNS-SD add event,
// applying the TXT-key derivation rules of spec §4.3.
func FromServiceEvent(ev ServiceEvent) Record {
	txt := ev.TXT
	r := Record{
		Host:        ev.Host,
		Port:        ev.Port,
		Secure:      IsSecureServiceType(ev.ServiceType),
		ServiceName: ev.ServiceName,
		ServiceType: ev.ServiceType,
		Domain:      ev.Domain,
		Interface:   ev.Interface,
		Family:      ev.Family,
	}
	if ev.Addr != nil {
		r.Addr = ev.Addr.String()
	}

	// printer-type present => the peer is itself a CUPS scheduler queue;
	// otherwise classification falls back to the resource path prefix.
	if _, ok := txt["printer-type"]; ok {
		r.CupsQueue = true
	}
	r.Resource = resourceFromTXT(txt)
	if !r.CupsQueue && strings.HasPrefix(strings.TrimPrefix(r.Resource, "/"), "printers/") {
		r.CupsQueue = true
	}

	r.MakeModel = makeModelFromTXT(txt)
	if pdl, ok := txt["pdl"]; ok {
		r.Formats = splitComma(pdl)
	}
	r.Color = parseTXTBool(txt["color"])
	r.Duplex = parseTXTBool(txt["duplex"])
	r.Location = txt["note"]
	r.UUID = strings.TrimPrefix(strings.ToLower(txt["uuid"]), "urn:uuid:")
	return r
}

// FromPolled builds a minimal Record from a polled-scheduler triple; the
// polled info text stands in for make/model, and formats, color and duplex
// are left empty until a get-printer-attributes call fills them in (spec
// §4.3: "For polled entries no TXT is available").
func FromPolled(p PolledRecord) Record {
	r := Record{Location: p.Location, MakeModel: p.Info}
	host, port, resource := splitPolledURI(p.URI)
	r.Host = host
	r.Port = port
	r.Resource = resource
	r.Secure = strings.HasPrefix(strings.ToLower(p.URI), "ipps://") || strings.HasPrefix(strings.ToLower(p.URI), "https://")
	r.CupsQueue = strings.HasPrefix(strings.TrimPrefix(resource, "/"), "printers/")
	return r
}

func resourceFromTXT(txt map[string]string) string {
	rp := strings.TrimPrefix(txt["rp"], "/")
	if rp == "" {
		rp = "ipp/print"
	}
	return "/" + rp
}

// makeModelFromTXT applies the preferred order ty -> product (stripped of
// wrapping parens) -> usb_MFG+usb_MDL.
func makeModelFromTXT(txt map[string]string) string {
	if ty := strings.TrimSpace(txt["ty"]); ty != "" {
		return ty
	}
	if product := strings.TrimSpace(txt["product"]); product != "" {
		return strings.TrimSuffix(strings.TrimPrefix(product, "("), ")")
	}
	mfg := strings.TrimSpace(txt["usb_mfg"])
	mdl := strings.TrimSpace(txt["usb_mdl"])
	if mfg != "" || mdl != "" {
		return strings.TrimSpace(mfg + " " + mdl)
	}
	return ""
}

func parseTXTBool(v string) bool {
	v = strings.ToUpper(strings.TrimSpace(v))
	return v == "T" || v == "TRUE" || v == "1"
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitPolledURI(uri string) (host string, port int, resource string) {
	rest := uri
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	resource = "/"
	if idx := strings.Index(rest, "/"); idx >= 0 {
		resource = rest[idx:]
		rest = rest[:idx]
	}
	host = rest
	port = 631
	if idx := strings.LastIndex(rest, ":"); idx >= 0 {
		host = rest[:idx]
		if p, err := strconv.Atoi(rest[idx+1:]); err == nil {
			port = p
		}
	}
	return host, port, resource
}

// URI builds the device/printer URI this record would be addressed by.
func (r Record) URI() string {
	scheme := "ipp"
	if r.Secure {
		scheme = "ipps"
	}
	resource := r.Resource
	if !strings.HasPrefix(resource, "/") {
		resource = "/" + resource
	}
	return scheme + "://" + r.Host + ":" + strconv.Itoa(r.Port) + resource
}
