// SNMP supply/status probing supplements the periodic-polling path (spec
// §4.3 "Periodic polling of remote schedulers") with Printer-MIB data for
// remote network printers, folding toner/marker-supply state into the
// capability hints polling otherwise has no source for.
//
// Grounded on the teacher's internal/backend/snmp.go (gosnmp.GoSNMP setup,
// the sysName/sysLocation/sysDescr OID triple, Printer-MIB marker-supply
// walk), adapted here from a one-shot CLI device listing into a repeating
// poll keyed by the same host:port targets BrowsePoll already names.
package discovery

import (
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

const (
	oidSysName     = ".1.3.6.1.2.1.1.5.0"
	oidSysLocation = ".1.3.6.1.2.1.1.6.0"
	oidSysDescr    = ".1.3.6.1.2.1.1.1.0"
	// prtMarkerSuppliesLevel.1.1, the first marker supply's current level,
	// as percent-full (or a negative sentinel the MIB defines as "unknown").
	oidMarkerSuppliesLevel = ".1.3.6.1.2.1.43.11.1.1.9.1.1"
)

// SupplyHint is what one SNMP probe of a remote host yields: location and
// make/model text to merge into a Record's capability hints, plus a
// printer-state-message-shaped supply summary.
type SupplyHint struct {
	Host         string
	Location     string
	MakeModel    string
	StateMessage string
}

// SNMPConfig holds the supply poller's tunables.
type SNMPConfig struct {
	Community string
	Port      uint16
	Timeout   time.Duration
}

func (c SNMPConfig) withDefaults() SNMPConfig {
	if c.Community == "" {
		c.Community = "public"
	}
	if c.Port == 0 {
		c.Port = 161
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	return c
}

// SNMPPoller probes one host per Probe call and reports what it learns;
// it holds no host list of its own. Callers (the daemon's wiring) fold the result into the
// matching registry entry's hints rather than the registry being touched
// here directly, mirroring how Poller hands PolledRecords back instead of
// mutating the registry itself.
type SNMPPoller struct {
	Config SNMPConfig
	dial   func(host string, cfg SNMPConfig) (*gosnmp.GoSNMP, error)
}

// NewSNMPPoller builds a poller with the real gosnmp dialer.
func NewSNMPPoller(cfg SNMPConfig) *SNMPPoller {
	return &SNMPPoller{Config: cfg.withDefaults(), dial: dialSNMP}
}

func dialSNMP(host string, cfg SNMPConfig) (*gosnmp.GoSNMP, error) {
	params := &gosnmp.GoSNMP{
		Target:    host,
		Port:      cfg.Port,
		Community: cfg.Community,
		Version:   gosnmp.Version2c,
		Timeout:   cfg.Timeout,
		Retries:   1,
	}
	if err := params.Connect(); err != nil {
		return nil, err
	}
	return params, nil
}

// Probe queries one host for sysName/sysLocation/sysDescr and the first
// marker-supply level, returning ok=false if the host didn't answer (SNMP
// probing is a best-effort supplement, never a discovery failure per spec
// §7's "Resource" error kind).
func (p *SNMPPoller) Probe(host string) (SupplyHint, bool) {
	params, err := p.dial(host, p.Config)
	if err != nil {
		return SupplyHint{}, false
	}
	defer params.Conn.Close()

	result, err := params.Get([]string{oidSysName, oidSysLocation, oidSysDescr, oidMarkerSuppliesLevel})
	if err != nil {
		return SupplyHint{}, false
	}

	hint := SupplyHint{Host: host}
	for _, v := range result.Variables {
		switch v.Name {
		case oidSysLocation:
			if s, ok := v.Value.(string); ok {
				hint.Location = strings.TrimSpace(s)
			}
		case oidSysDescr:
			if s, ok := v.Value.(string); ok {
				hint.MakeModel = strings.TrimSpace(s)
			}
		case oidMarkerSuppliesLevel:
			if level, ok := snmpToInt(v.Value); ok && level >= 0 {
				hint.StateMessage = supplyLevelMessage(level)
			}
		}
	}
	return hint, true
}

func snmpToInt(val any) (int, bool) {
	if val == nil {
		return 0, false
	}
	if bi := gosnmp.ToBigInt(val); bi != nil {
		return int(bi.Int64()), true
	}
	return 0, false
}

func supplyLevelMessage(percent int) string {
	if percent <= 10 {
		return "marker-supply-low-warning"
	}
	return ""
}
