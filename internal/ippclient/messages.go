package ippclient

import (
	"sort"
	"strconv"
	"time"

	goipp "github.com/OpenPrinting/goipp"
)

func newRequest(op goipp.Op) *goipp.Message {
	req := goipp.NewRequest(goipp.DefaultVersion, op, uint32(time.Now().UnixNano()))
	req.Operation.Add(goipp.MakeAttribute("attributes-charset", goipp.TagCharset, goipp.String("utf-8")))
	req.Operation.Add(goipp.MakeAttribute("attributes-natural-language", goipp.TagLanguage, goipp.String("en")))
	return req
}

// GetPrinterAttributes builds a Get-Printer-Attributes request for printerURI,
// optionally restricted to requested attribute names (spec §4.3's polling call).
func GetPrinterAttributes(printerURI string, requested ...string) *goipp.Message {
	req := newRequest(goipp.OpGetPrinterAttributes)
	req.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(printerURI)))
	if len(requested) > 0 {
		req.Operation.Add(goipp.MakeAttr("requested-attributes", goipp.TagKeyword, goipp.String(requested[0]), stringsToValues(requested[1:])...))
	}
	return req
}

// DefaultPollAttributes is the attribute set the reconciler and discovery
// intake ask for when probing a remote printer's capabilities (spec §3's
// CapabilityHints plus enough to detect driver/option drift).
var DefaultPollAttributes = []string{
	"printer-make-and-model",
	"document-format-supported",
	"color-supported",
	"sides-supported",
	"printer-location",
	"printer-state",
	"printer-state-reasons",
	"printer-is-accepting-jobs",
	"printer-type",
	"printer-uri-supported",
	"job-sheets-default",
	"printer-defaults",
}

// CreateOrModifyPrinter builds the CUPS add/modify-printer request used to
// create or update a local queue for a discovered remote record (spec
// §4.4's create/modify path). options are free-form lpadmin-style name/value
// pairs, applied the same way the teacher's applyLpadminOptions does.
func CreateOrModifyPrinter(printerURI, deviceURI, info, location string, shared bool, options map[string]string) *goipp.Message {
	req := newRequest(goipp.OpCupsAddModifyPrinter)
	req.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(printerURI)))
	req.Printer.Add(goipp.MakeAttribute("device-uri", goipp.TagURI, goipp.String(deviceURI)))
	if info != "" {
		req.Printer.Add(goipp.MakeAttribute("printer-info", goipp.TagText, goipp.String(info)))
	}
	if location != "" {
		req.Printer.Add(goipp.MakeAttribute("printer-location", goipp.TagText, goipp.String(location)))
	}
	req.Printer.Add(goipp.MakeAttribute("printer-is-shared", goipp.TagBoolean, goipp.Boolean(shared)))
	applyOptions(req, options)
	return req
}

// applyOptions mirrors the teacher's normalizeLpadminOption: arbitrary
// option strings get mapped to typed goipp attributes in the Printer group.
func applyOptions(req *goipp.Message, options map[string]string) {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := options[k]
		switch k {
		case "printer-is-shared":
			req.Printer.Add(goipp.MakeAttribute(k, goipp.TagBoolean, goipp.Boolean(v == "true" || v == "1")))
		case "job-sheets-default":
			req.Printer.Add(goipp.MakeAttribute(k, goipp.TagName, goipp.String(v)))
		default:
			if n, err := strconv.Atoi(v); err == nil {
				req.Printer.Add(goipp.MakeAttribute(k, goipp.TagInteger, goipp.Integer(n)))
				continue
			}
			req.Printer.Add(goipp.MakeAttribute(k, goipp.TagKeyword, goipp.String(v)))
		}
	}
}

// SetPrinterShared builds a modify request that only flips the
// printer-is-shared bit, used by the reconciler's temp-to-permanent queue
// conversion.
func SetPrinterShared(printerURI string, shared bool) *goipp.Message {
	req := newRequest(goipp.OpCupsAddModifyPrinter)
	req.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(printerURI)))
	req.Printer.Add(goipp.MakeAttribute("printer-is-shared", goipp.TagBoolean, goipp.Boolean(shared)))
	return req
}

// DeletePrinter builds a CUPS-Delete-Printer request (spec §4.4's delete path).
func DeletePrinter(printerURI string) *goipp.Message {
	req := newRequest(goipp.OpCupsDeletePrinter)
	req.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(printerURI)))
	return req
}

// PausePrinter and ResumePrinter stop and restart job processing on a local
// queue; the reconciler pauses a queue awaiting deletion and resumes one
// after a create/modify.
func PausePrinter(printerURI string) *goipp.Message {
	req := newRequest(goipp.OpPausePrinter)
	req.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(printerURI)))
	return req
}

func ResumePrinter(printerURI string) *goipp.Message {
	req := newRequest(goipp.OpResumePrinter)
	req.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(printerURI)))
	return req
}

// SetDefault builds a CUPS-Set-Default request.
func SetDefault(printerURI string) *goipp.Message {
	req := newRequest(goipp.OpCupsSetDefault)
	req.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(printerURI)))
	return req
}

// GetJobs builds a Get-Jobs request, used by the shutdown controller to
// check for queued jobs and by the dispatcher to check queue load.
func GetJobs(printerURI string, myJobsOnly bool, limit int) *goipp.Message {
	req := newRequest(goipp.OpGetJobs)
	req.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(printerURI)))
	req.Operation.Add(goipp.MakeAttribute("which-jobs", goipp.TagKeyword, goipp.String("not-completed")))
	req.Operation.Add(goipp.MakeAttribute("my-jobs", goipp.TagBoolean, goipp.Boolean(myJobsOnly)))
	if limit > 0 {
		req.Operation.Add(goipp.MakeAttribute("limit", goipp.TagInteger, goipp.Integer(limit)))
	}
	return req
}

// GetPrinters builds a CUPS-Get-Printers request, used by BrowsePoll to
// enumerate every queue a remote scheduler currently shares (spec §4.3's
// polling alternative to DNS-SD). Grounded on cmd/lpstat's fetchPrinters.
func GetPrinters() *goipp.Message {
	req := newRequest(goipp.OpCupsGetPrinters)
	req.Operation.Add(goipp.MakeAttr("requested-attributes", goipp.TagKeyword,
		goipp.String("printer-name"),
		stringsToValues([]string{
			"printer-uri-supported",
			"printer-info",
			"printer-location",
			"printer-make-and-model",
			"printer-is-shared",
			"printer-uuid",
		})...))
	return req
}

// CreatePrinterSubscription builds a Create-Printer-Subscriptions request
// subscribing to the printer state, modification and deletion events and the
// job events the notification handler (spec component G) acts on, used by
// that handler to renew its scheduler lease.
func CreatePrinterSubscription(printerURI string, leaseSeconds int) *goipp.Message {
	req := newRequest(goipp.OpCreatePrinterSubscriptions)
	req.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(printerURI)))
	req.Printer.Add(goipp.MakeAttr("notify-events", goipp.TagKeyword,
		goipp.String("printer-state-changed"), goipp.String("printer-config-changed"),
		goipp.String("printer-modified"), goipp.String("printer-deleted"),
		goipp.String("job-state-changed"), goipp.String("job-completed")))
	req.Printer.Add(goipp.MakeAttribute("notify-pull-method", goipp.TagKeyword, goipp.String("ippget")))
	req.Printer.Add(goipp.MakeAttribute("notify-lease-duration", goipp.TagInteger, goipp.Integer(leaseSeconds)))
	return req
}

// GetNotifications builds an Get-Notifications poll for a subscription id.
func GetNotifications(printerURI string, subscriptionID int) *goipp.Message {
	req := newRequest(goipp.OpGetNotifications)
	req.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(printerURI)))
	req.Operation.Add(goipp.MakeAttribute("notify-subscription-ids", goipp.TagInteger, goipp.Integer(subscriptionID)))
	return req
}

func stringsToValues(ss []string) []goipp.Value {
	vals := make([]goipp.Value, len(ss))
	for i, s := range ss {
		vals[i] = goipp.String(s)
	}
	return vals
}

// FindAttr returns the first string value of the named attribute within
// attrs, or "" if absent (grounded on cmd/lpstat's findAttr helper).
func FindAttr(attrs goipp.Attributes, name string) string {
	for _, a := range attrs {
		if a.Name == name && len(a.Values) > 0 {
			return a.Values[0].V.String()
		}
	}
	return ""
}

// AttrStrings returns every value of the named attribute stringified, in
// order (grounded on cmd/lpstat's attrStrings helper).
func AttrStrings(attrs goipp.Attributes, name string) []string {
	for _, a := range attrs {
		if a.Name != name {
			continue
		}
		out := make([]string, len(a.Values))
		for i, v := range a.Values {
			out[i] = v.V.String()
		}
		return out
	}
	return nil
}

// PrinterGroups returns every printer-attributes group in a
// Get-Printers/CUPS-Get-Printers-style response (grounded on lpstat's
// fetchPrinters, which ranges resp.Groups filtering on TagPrinterGroup).
func PrinterGroups(resp *goipp.Message) []goipp.Attributes {
	var out []goipp.Attributes
	for _, g := range resp.Groups {
		if g.Tag == goipp.TagPrinterGroup {
			out = append(out, g.Attrs)
		}
	}
	return out
}

// SetJobAttribute builds a Set-Job-Attributes request that stores a single
// job attribute, used by the job dispatcher (spec §4.8) to write the
// computed destination option onto the job it just routed. Grounded on
// cmd/lp's modifyJob, which issues the same operation to change job-name,
// job-priority, and job-hold-until.
func SetJobAttribute(printerURI string, jobID int, name, value string) *goipp.Message {
	req := newRequest(goipp.OpSetJobAttributes)
	req.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(printerURI)))
	req.Operation.Add(goipp.MakeAttribute("job-id", goipp.TagInteger, goipp.Integer(jobID)))
	req.Job.Add(goipp.MakeAttribute(name, goipp.TagKeyword, goipp.String(value)))
	return req
}

// GetJobAttributes builds a Get-Job-Attributes request, used by the
// notification handler to learn a processing job's document-format and
// media requirements before asking the dispatcher to pick a destination.
// Grounded on cmd/lpq's job-attribute fetch.
func GetJobAttributes(printerURI string, jobID int, requested ...string) *goipp.Message {
	req := newRequest(goipp.OpGetJobAttributes)
	req.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(printerURI)))
	req.Operation.Add(goipp.MakeAttribute("job-id", goipp.TagInteger, goipp.Integer(jobID)))
	if len(requested) > 0 {
		req.Operation.Add(goipp.MakeAttr("requested-attributes", goipp.TagKeyword, goipp.String(requested[0]), stringsToValues(requested[1:])...))
	}
	return req
}

// JobGroups returns every job-attributes group in resp, falling back to
// the single flat resp.Job group some operations populate directly
// instead of through resp.Groups (grounded on lpq's parseJobs).
func JobGroups(resp *goipp.Message) []goipp.Attributes {
	var out []goipp.Attributes
	for _, g := range resp.Groups {
		if g.Tag == goipp.TagJobGroup {
			out = append(out, g.Attrs)
		}
	}
	if len(out) == 0 && len(resp.Job) > 0 {
		out = append(out, resp.Job)
	}
	return out
}
