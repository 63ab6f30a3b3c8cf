// Poll is the BrowsePoll side of Discovery Intake (spec §4.3): rather than
// waiting for a remote scheduler to advertise over DNS-SD, this daemon can
// be told to ask it directly, the way cupsd peers used to share queues
// before DNS-SD existed.
//
// Grounded on the teacher's cmd/lpstat fetchPrinters, which issues
// CUPS-Get-Printers and reads printer-uri-supported/printer-info/
// printer-location back out of the printer-attributes groups; adapted here
// from a one-shot CLI query into a repeating poll against a configured list
// of remote hosts, each producing PolledRecords instead of a printed table.
package discovery

import (
	"context"
	"time"

	"cups-browsed-go/internal/ippclient"
)

// PollConfig holds the poller's target list and tunables, shared by every
// polled remote scheduler.
type PollConfig struct {
	Targets  []string // "host:port" entries, spec §6's BrowsePoll directive
	Interval time.Duration
	Timeout  time.Duration
}

func (c PollConfig) withDefaults() PollConfig {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Poller periodically queries every configured remote scheduler and emits
// one PolledRecord per shared queue it reports.
type Poller struct {
	Config  PollConfig
	Records chan<- PolledRecord
}

// NewPoller builds a Poller that writes to records.
func NewPoller(cfg PollConfig, records chan<- PolledRecord) *Poller {
	return &Poller{Config: cfg.withDefaults(), Records: records}
}

// Run blocks, polling every configured target once per Interval, until ctx
// is cancelled.
func (p *Poller) Run(ctx context.Context) {
	if len(p.Config.Targets) == 0 {
		return
	}
	p.runRound(ctx)
	ticker := time.NewTicker(p.Config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runRound(ctx)
		}
	}
}

func (p *Poller) runRound(ctx context.Context) {
	for _, target := range p.Config.Targets {
		recs, err := p.pollOne(ctx, target)
		if err != nil {
			continue
		}
		for _, rec := range recs {
			select {
			case p.Records <- rec:
			default:
			}
		}
	}
}

func (p *Poller) pollOne(ctx context.Context, hostPort string) ([]PolledRecord, error) {
	uri := "ipp://" + hostPort + "/"
	client, err := ippclient.ForURI(uri, p.Config.Timeout)
	if err != nil {
		return nil, err
	}
	qctx, cancel := context.WithTimeout(ctx, p.Config.Timeout)
	defer cancel()

	resp, err := client.Send(qctx, ippclient.GetPrinters(), nil)
	if err != nil || !ippclient.StatusOK(resp) {
		return nil, err
	}

	var out []PolledRecord
	for _, attrs := range ippclient.PrinterGroups(resp) {
		uris := ippclient.AttrStrings(attrs, "printer-uri-supported")
		if len(uris) == 0 {
			continue
		}
		out = append(out, PolledRecord{
			URI:      uris[0],
			Location: ippclient.FindAttr(attrs, "printer-location"),
			Info:     ippclient.FindAttr(attrs, "printer-info"),
		})
	}
	return out, nil
}
