// Package notify is the scheduler notification handler (spec component G):
// it subscribes to the local scheduler's printer and job events, renews the
// subscription before its lease expires, and reacts to deletion and
// default-printer changes signalled by the scheduler itself rather than
// caught on the reconciler's own poll (spec §4.3's "notification channel").
// Overwrite signals are only logged; the reconciler's pre-check acts on them.
//
// Grounded on the teacher's internal/server/ipp.go handlers for
// Create-Printer-Subscriptions and Get-Notifications: the same
// notify-subscription-id / notify-event / notify-sequence-number /
// notify-lease-duration attribute names and the same TagEventNotificationGroup
// framing are consumed here, from the client side.
package notify

import (
	"time"

	goipp "github.com/OpenPrinting/goipp"

	"cups-browsed-go/internal/ippclient"
)

// Event is one parsed entry from a Get-Notifications response.
type Event struct {
	SubscriptionID  int
	Name            string // notify-event, e.g. "printer-deleted", "printer-state-changed", "job-completed"
	SequenceNumber  int
	TimeInterval    int
	LeaseDuration   int
	LeaseExpiration time.Time
	PrinterURI      string
	JobID           int
	JobState        int // notify-job-state, IPP job-state values (5 == processing)
}

// ParseNotifications extracts every event-notification group from resp, plus
// the scheduler-suggested poll interval carried in notify-get-interval (0
// when absent). done reports StatusOkEventsComplete: the lease ended and
// polling should stop.
func ParseNotifications(resp *goipp.Message) (events []Event, nextPollSeconds int, done bool) {
	if resp == nil {
		return nil, 0, true
	}
	nextPollSeconds = attrInt(resp.Operation, "notify-get-interval")
	done = goipp.Status(resp.Code) == goipp.StatusOkEventsComplete
	for _, g := range resp.Groups {
		if g.Tag != goipp.TagEventNotificationGroup {
			continue
		}
		ev := Event{
			SubscriptionID: attrInt(g.Attrs, "notify-subscription-id"),
			Name:           ippclient.FindAttr(g.Attrs, "notify-event"),
			SequenceNumber: attrInt(g.Attrs, "notify-sequence-number"),
			TimeInterval:   attrInt(g.Attrs, "notify-time-interval"),
			LeaseDuration:  attrInt(g.Attrs, "notify-lease-duration"),
			PrinterURI:     ippclient.FindAttr(g.Attrs, "printer-uri"),
			JobID:          attrInt(g.Attrs, "notify-job-id"),
			JobState:       attrInt(g.Attrs, "notify-job-state"),
		}
		if secs := attrInt(g.Attrs, "notify-lease-expiration-time"); secs > 0 {
			ev.LeaseExpiration = time.Unix(int64(secs), 0)
		}
		events = append(events, ev)
	}
	return events, nextPollSeconds, done
}

func attrInt(attrs goipp.Attributes, name string) int {
	s := ippclient.FindAttr(attrs, name)
	if s == "" {
		return 0
	}
	n := 0
	neg := false
	for i, r := range s {
		if i == 0 && r == '-' {
			neg = true
			continue
		}
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	if neg {
		n = -n
	}
	return n
}

// IsOverwriteSignal reports whether an event indicates the scheduler
// changed a printer out from under this daemon. The handler only logs such
// events; the overwrite pre-check itself (spec §4.6) runs in the reconciler.
func IsOverwriteSignal(ev Event) bool {
	switch ev.Name {
	case "printer-config-changed", "printer-modified":
		return true
	default:
		return false
	}
}

// IsDeletedSignal reports whether the scheduler reports the queue itself
// gone (an administrator or another tool deleted it outright).
func IsDeletedSignal(ev Event) bool {
	return ev.Name == "printer-deleted"
}

// jobStateProcessing is the IPP job-state value meaning "processing".
const jobStateProcessing = 5

// IsJobProcessingSignal reports whether ev signals a job entering
// processing on a local queue (spec §4.8's trigger for invoking the job
// dispatcher to pick a backing printer for a cluster master).
func IsJobProcessingSignal(ev Event) bool {
	return ev.Name == "job-state-changed" && ev.JobState == jobStateProcessing && ev.JobID > 0
}
