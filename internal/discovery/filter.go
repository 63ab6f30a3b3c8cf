package discovery

import (
	"regexp"
	"strconv"
	"strings"
)

// LocalOriginFilter drops discovery events for queues we ourselves expose,
// to avoid discovering our own shared printers (spec §4.3's "local-origin
// filter").
type LocalOriginFilter struct {
	// IsLocalUUID reports whether a UUID matches one of our own shared queues.
	IsLocalUUID func(uuid string) bool
	// IsLocalHost reports whether a hostname is one of ours (wraps netif.Tracker).
	IsLocalHost func(host string) bool
}

// Reject reports whether r should be discarded as self-originated.
func (f LocalOriginFilter) Reject(r Record) bool {
	if r.UUID != "" && f.IsLocalUUID != nil && f.IsLocalUUID(r.UUID) {
		return true
	}
	if f.IsLocalHost != nil && f.IsLocalHost(r.Host) {
		// Secure self-loops (our own scheduler advertising a TLS variant of
		// a queue we already see insecurely) are the only same-host case
		// worth discarding; a plain-IPP same-host record may legitimately
		// be a distinct queue reached via loopback.
		if r.Secure {
			return true
		}
	}
	return false
}

// FilterField names the record fields a matching rule may test.
type FilterField int

const (
	FieldQueueName FilterField = iota
	FieldHost
	FieldPort
	FieldServiceName
	FieldDomain
	FieldTXTKey
)

// FilterMode is the comparison a rule performs.
type FilterMode int

const (
	ModeExact FilterMode = iota
	ModeRegex
	ModeBoolean
)

// FilterSense is whether a matching rule allows or vetoes.
type FilterSense int

const (
	SenseAllow FilterSense = iota
	SenseDeny
)

// FilterRule is one "(sense, field, regex|exact|boolean)" rule from spec
// §4.3's matching filter / §6 config.
type FilterRule struct {
	Sense FilterSense
	Field FilterField
	Mode  FilterMode
	Key   string // TXT key name, only used when Field == FieldTXTKey
	Value string
	re    *regexp.Regexp
}

// CompileFilterRule builds a rule, pre-compiling any regex.
func CompileFilterRule(sense FilterSense, field FilterField, mode FilterMode, key, value string) (FilterRule, error) {
	r := FilterRule{Sense: sense, Field: field, Mode: mode, Key: key, Value: value}
	if mode == ModeRegex {
		re, err := regexp.Compile(value)
		if err != nil {
			return FilterRule{}, err
		}
		r.re = re
	}
	return r, nil
}

func (r FilterRule) fieldValue(queueName string, rec Record) (string, bool) {
	switch r.Field {
	case FieldQueueName:
		return queueName, true
	case FieldHost:
		return rec.Host, true
	case FieldPort:
		return strconv.Itoa(rec.Port), true
	case FieldServiceName:
		return rec.ServiceName, true
	case FieldDomain:
		return rec.Domain, true
	case FieldTXTKey:
		return "", false // TXT lookups happen before classification, see matches below
	default:
		return "", false
	}
}

func (r FilterRule) matches(queueName string, rec Record, txt map[string]string) bool {
	var value string
	if r.Field == FieldTXTKey {
		v, ok := txt[strings.ToLower(r.Key)]
		if !ok {
			return r.Mode == ModeBoolean && r.Value == "false"
		}
		value = v
	} else {
		v, ok := r.fieldValue(queueName, rec)
		if !ok {
			return false
		}
		value = v
	}
	switch r.Mode {
	case ModeExact:
		return strings.EqualFold(value, r.Value)
	case ModeRegex:
		return r.re != nil && r.re.MatchString(value)
	case ModeBoolean:
		want := strings.EqualFold(r.Value, "true")
		got := parseTXTBool(value) || strings.EqualFold(value, "true")
		return got == want
	default:
		return false
	}
}

// Matcher applies an ordered rule set: the record must pass every rule.
type Matcher struct {
	Rules []FilterRule
}

// Accept reports whether rec passes every configured rule.
func (m Matcher) Accept(queueName string, rec Record, txt map[string]string) bool {
	for _, rule := range m.Rules {
		hit := rule.matches(queueName, rec, txt)
		switch rule.Sense {
		case SenseAllow:
			if !hit {
				return false
			}
		case SenseDeny:
			if hit {
				return false
			}
		}
	}
	return true
}
