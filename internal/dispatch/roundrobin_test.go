package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	goipp "github.com/OpenPrinting/goipp"

	"cups-browsed-go/internal/registry"
)

// idlePrinterServer answers every Get-Printer-Attributes with an idle,
// accepting printer and every Get-Jobs with an empty job list.
func idlePrinterServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req goipp.Message
		if err := req.Decode(r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", goipp.ContentType)
		resp := goipp.NewResponse(goipp.DefaultVersion, goipp.StatusOk, req.RequestID)
		if goipp.Op(req.Code) == goipp.OpGetPrinterAttributes {
			resp.Printer.Add(goipp.MakeAttribute("printer-state", goipp.TagEnum, goipp.Integer(printerStateIdle)))
			resp.Printer.Add(goipp.MakeAttribute("printer-is-accepting-jobs", goipp.TagBoolean, goipp.Boolean(true)))
			resp.Printer.Add(goipp.MakeAttribute("printer-resolution-default", goipp.TagInteger, goipp.Integer(600)))
		}
		_ = resp.Encode(w)
	}))
}

func TestDispatchRoundRobinFairness(t *testing.T) {
	srv := idlePrinterServer(t)
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	hostPort := u.Host

	reg := registry.New()
	const n = 3
	entries := make([]*registry.Entry, n)
	for i := 0; i < n; i++ {
		e := reg.Create("Pool", "ipp://"+hostPort+"/printers/backer"+strconv.Itoa(i))
		e.Status = registry.StatusConfirmed
		e.Attributes = map[string][]string{"document-format-supported": {"application/pdf"}}
		entries[i] = e
	}
	for i := 1; i < n; i++ {
		reg.AttachSlave(entries[0].ID, entries[i].ID)
	}

	d := &Dispatcher{Registry: reg, Policy: QueueOnServers, Timeout: 5 * time.Second}

	const k = 4
	counts := map[string]int{}
	for job := 1; job <= k*n; job++ {
		dest, format, res, err := d.Dispatch(context.Background(), "Pool", job, Constraints{})
		if err != nil {
			t.Fatalf("dispatch job %d: %v", job, err)
		}
		if dest == SentinelAllBusy || dest == SentinelNoDest {
			t.Fatalf("job %d got sentinel %q with all backers idle", job, dest)
		}
		if format != "application/pdf" {
			t.Fatalf("job %d format = %q", job, format)
		}
		if res != 600 {
			t.Fatalf("job %d resolution = %d", job, res)
		}
		counts[dest]++
	}

	if len(counts) != n {
		t.Fatalf("expected all %d backers selected, got %v", n, counts)
	}
	for dest, c := range counts {
		if c < k-1 {
			t.Fatalf("backer %s selected %d times, want at least %d", dest, c, k-1)
		}
	}
}

func TestDispatchAdvancesCursorOnIdlePick(t *testing.T) {
	srv := idlePrinterServer(t)
	defer srv.Close()
	u, _ := url.Parse(srv.URL)

	reg := registry.New()
	master := reg.Create("Pool", "ipp://"+u.Host+"/printers/a")
	master.Status = registry.StatusConfirmed
	slave := reg.Create("Pool", "ipp://"+u.Host+"/printers/b")
	slave.Status = registry.StatusConfirmed
	reg.AttachSlave(master.ID, slave.ID)

	d := &Dispatcher{Registry: reg, Policy: QueueOnClient, Timeout: 5 * time.Second}

	before := master.LastPrinter
	if _, _, _, err := d.Dispatch(context.Background(), "Pool", 1, Constraints{}); err != nil {
		t.Fatal(err)
	}
	if master.LastPrinter == before {
		t.Fatalf("lastPrinter did not advance after an idle pick")
	}
}
