// Package dispatch is the Job Dispatcher (spec component H): when a job
// enters processing on a cluster master, it picks exactly one backing
// remote printer and writes that choice into a scheduler option so the
// backend can forward the job there (spec §4.8).
//
// Grounded on the teacher's internal/scheduler.Scheduler dispatch loop for
// the idea of a per-job target selection written back as a queue option,
// and on internal/server/ipp.go's printer-state integer encoding (3 idle,
// 4 processing, 5 stopped) for interpreting a polled candidate's state.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cups-browsed-go/internal/ippclient"
	"cups-browsed-go/internal/registry"
)

// Policy selects how processing candidates are treated (spec §4.8 step 4).
type Policy int

const (
	QueueOnClient Policy = iota
	QueueOnServers
)

const (
	printerStateIdle       = 3
	printerStateProcessing = 4
	printerStateStopped    = 5
)

// MarkPrefix identifies options this daemon writes on a managed queue (spec
// §4.5's "mark option", e.g. "cups-browsed=true").
const MarkPrefix = "cups-browsed"

// Sentinel destinations written when no usable candidate exists (spec §4.8
// step 4).
const (
	SentinelAllBusy = "ALL_DESTS_BUSY"
	SentinelNoDest  = "NO_DEST_FOUND"
)

// Constraints are the job attribute requirements a candidate's cached
// capabilities must satisfy (spec §4.8 step 2). A zero value of any field
// means "unconstrained".
type Constraints struct {
	DocumentFormat string
	MediaType      string // matched against media-type-supported
	PageSize       string // media size keyword, matched against media-supported
	Color          bool
	Duplex         bool
	Finishings     []int  // requested finishing enums (staple, punch, fold)
	Quality        string // "draft", "high", or "" (normal)
	Orientation    int    // orientation-requested enum, 0 when unconstrained
}

// IPP finishings enums checked against finishings-supported.
const (
	FinishingStaple = 4
	FinishingPunch  = 5
	FinishingFold   = 10
)

// ForwardFormats is the priority-ordered list of formats the dispatcher
// picks a forwarding format from (spec §4.8 step 6).
var ForwardFormats = []string{
	"application/vnd.cups-pdf",
	"image/urf",
	"application/pdf",
	"image/pwg-raster",
	"application/PCLm",
	"application/vnd.hp-pclxl",
	"application/postscript",
	"application/pcl",
}

// Dispatcher selects a backing printer for each job on a cluster master.
type Dispatcher struct {
	Registry *registry.Registry
	Local    *ippclient.Client
	Policy   Policy
	Timeout  time.Duration
}

// candidateState is what Dispatch learns about one backing printer just
// before choosing among them.
type candidateState struct {
	entry         *registry.Entry
	idle          bool
	accepting     bool
	stopped       bool
	activeJobs    int
	maxResolution int
	minResolution int
	defaultRes    int
}

// Dispatch implements spec §4.8's selection algorithm for one job entering
// processing on masterName. It returns the chosen destination URI (or a
// sentinel if none qualify), the forwarding format, and the resolution to
// request.
func (d *Dispatcher) Dispatch(ctx context.Context, masterName string, jobID int, c Constraints) (destURI, format string, resolution int, err error) {
	candidates := d.confirmedCandidates(masterName, c)
	if len(candidates) == 0 {
		return SentinelNoDest, "", 0, nil
	}

	master := d.masterEntry(masterName)
	n := len(candidates)
	start := 0
	if master != nil && n > 0 {
		start = (master.LastPrinter + 1) % n
	}

	states := make([]candidateState, n)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		states[i] = d.pollCandidate(ctx, candidates[idx])
	}

	chosen, advance := pickCandidate(states, d.Policy)
	if chosen == nil {
		return SentinelAllBusy, "", 0, nil
	}
	if master != nil && advance {
		for i, s := range states {
			if s.entry.ID == chosen.entry.ID {
				master.LastPrinter = (start + i) % n
				break
			}
		}
	}

	format = chooseFormat(chosen.entry, c)
	resolution = chooseResolution(chosen, c.Quality)
	destURI = chosen.entry.DeviceURI
	return destURI, format, resolution, nil
}

// confirmedCandidates builds the candidate list (spec §4.8 step 1-2): every
// confirmed entry sharing masterName, filtered by cached capability
// attributes against the job's constraints.
func (d *Dispatcher) confirmedCandidates(masterName string, c Constraints) []*registry.Entry {
	var out []*registry.Entry
	for _, e := range d.Registry.ByName(masterName) {
		if e.Status != registry.StatusConfirmed {
			continue
		}
		if !satisfiesConstraints(e, c) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (d *Dispatcher) masterEntry(masterName string) *registry.Entry {
	for _, e := range d.Registry.ByName(masterName) {
		if e.IsMaster() {
			return e
		}
	}
	return nil
}

// satisfiesConstraints filters on the cached attribute set; a candidate
// that does not advertise an attribute at all is not excluded by it (the
// cache may simply predate the capability).
func satisfiesConstraints(e *registry.Entry, c Constraints) bool {
	if c.DocumentFormat != "" && len(e.Attributes["document-format-supported"]) > 0 {
		if !containsFold(e.Attributes["document-format-supported"], c.DocumentFormat) {
			return false
		}
	}
	if c.MediaType != "" && len(e.Attributes["media-type-supported"]) > 0 {
		if !containsFold(e.Attributes["media-type-supported"], c.MediaType) {
			return false
		}
	}
	if c.PageSize != "" && len(e.Attributes["media-supported"]) > 0 {
		if !containsFold(e.Attributes["media-supported"], c.PageSize) {
			return false
		}
	}
	if c.Color && !e.Hints.Color {
		return false
	}
	if c.Duplex && !e.Hints.Duplex {
		return false
	}
	if supported := e.Attributes["finishings-supported"]; len(supported) > 0 {
		for _, f := range c.Finishings {
			if !containsFold(supported, strconv.Itoa(f)) {
				return false
			}
		}
	}
	if c.Quality != "" && len(e.Attributes["print-quality-supported"]) > 0 {
		want := "4"
		switch c.Quality {
		case "draft":
			want = "3"
		case "high":
			want = "5"
		}
		if !containsFold(e.Attributes["print-quality-supported"], want) {
			return false
		}
	}
	if c.Orientation != 0 && len(e.Attributes["orientation-requested-supported"]) > 0 {
		if !containsFold(e.Attributes["orientation-requested-supported"], strconv.Itoa(c.Orientation)) {
			return false
		}
	}
	return true
}

func containsFold(vals []string, want string) bool {
	for _, v := range vals {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

// pollCandidate queries one candidate's live printer-state, accepting flag,
// and active job count (spec §4.8 step 4).
func (d *Dispatcher) pollCandidate(ctx context.Context, e *registry.Entry) candidateState {
	cs := candidateState{entry: e}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client, err := ippclient.ForURI(e.DeviceURI, timeout)
	if err != nil {
		cs.stopped = true
		return cs
	}

	req := ippclient.GetPrinterAttributes(e.DeviceURI, "printer-state", "printer-is-accepting-jobs", "printer-resolution-supported", "printer-resolution-default")
	resp, err := client.Send(ctx, req, nil)
	if err != nil || !ippclient.StatusOK(resp) {
		cs.stopped = true
		return cs
	}
	state, _ := strconv.Atoi(ippclient.FindAttr(resp.Printer, "printer-state"))
	cs.idle = state == printerStateIdle
	cs.stopped = state == printerStateStopped
	cs.accepting = ippclient.FindAttr(resp.Printer, "printer-is-accepting-jobs") == "true"

	resolutions := ippclient.AttrStrings(resp.Printer, "printer-resolution-supported")
	cs.minResolution, cs.maxResolution = minMaxResolution(resolutions)
	cs.defaultRes, _ = strconv.Atoi(ippclient.FindAttr(resp.Printer, "printer-resolution-default"))
	if cs.defaultRes == 0 {
		cs.defaultRes = 600
	}

	jobsResp, err := client.Send(ctx, ippclient.GetJobs(e.DeviceURI, false, 0), nil)
	if err == nil && ippclient.StatusOK(jobsResp) {
		cs.activeJobs = len(ippclient.JobGroups(jobsResp))
	}
	return cs
}

func minMaxResolution(vals []string) (min, max int) {
	for _, v := range vals {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		if min == 0 || n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	return min, max
}

// pickCandidate implements spec §4.8 step 4: the first idle+accepting
// candidate wins outright. Under QueueOnServers, processing candidates are
// also tracked as a fallback (smallest active-job count); under
// QueueOnClient they are never chosen. advance reports whether this pick
// should move the round-robin cursor (spec §9 open question (b): only a
// genuinely idle pick advances lastPrinter).
func pickCandidate(states []candidateState, policy Policy) (chosen *candidateState, advance bool) {
	var bestFallback *candidateState
	for i := range states {
		s := &states[i]
		if s.stopped || !s.accepting {
			continue
		}
		if s.idle {
			return s, true
		}
		if policy == QueueOnServers {
			if bestFallback == nil || s.activeJobs < bestFallback.activeJobs {
				bestFallback = s
			}
		}
	}
	if bestFallback != nil {
		return bestFallback, false
	}
	return nil, false
}

func chooseFormat(e *registry.Entry, c Constraints) string {
	supported := e.Attributes["document-format-supported"]
	if c.DocumentFormat != "" && containsFold(supported, c.DocumentFormat) {
		return c.DocumentFormat
	}
	for _, f := range ForwardFormats {
		if containsFold(supported, f) {
			return f
		}
	}
	if len(supported) > 0 {
		return supported[0]
	}
	return "application/octet-stream"
}

func chooseResolution(s *candidateState, quality string) int {
	switch quality {
	case "draft":
		if s.minResolution > 0 {
			return s.minResolution
		}
	case "high":
		if s.maxResolution > 0 {
			return s.maxResolution
		}
	}
	if s.defaultRes > 0 {
		return s.defaultRes
	}
	return 600
}

// DestOptionKey is the scheduler option name the backend reads to learn
// this job's forced destination (spec §4.8, "<mark>-dest-printer").
const DestOptionKey = MarkPrefix + "-dest-printer"

// DestOptionValue formats the per-job destination option value (spec §4.8,
// `"<job-id> <uri> <format> <resolution>"`).
func DestOptionValue(jobID int, uri, format string, resolution int) string {
	return fmt.Sprintf("%d %s %s %d", jobID, uri, format, resolution)
}
