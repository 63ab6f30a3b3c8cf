package reconciler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	goipp "github.com/OpenPrinting/goipp"

	"cups-browsed-go/internal/ippclient"
	"cups-browsed-go/internal/registry"
)

func TestDeviceURIForClusterMasterUsesImplicitClass(t *testing.T) {
	r := registry.New()
	e := r.Create("Shared", "ipp://remote/printers/shared")
	e.Cluster = true
	if got := deviceURIFor(e); got != "implicitclass:Shared" {
		t.Fatalf("deviceURIFor = %q", got)
	}
}

func TestDeviceURIForStandaloneUsesRemoteURI(t *testing.T) {
	r := registry.New()
	e := r.Create("Lab", "ipp://remote/printers/lab")
	if got := deviceURIFor(e); got != "ipp://remote/printers/lab" {
		t.Fatalf("deviceURIFor = %q", got)
	}
}

func TestMergeOptionsPersistedWins(t *testing.T) {
	got := mergeOptions(map[string]string{"copies-default": "3"}, map[string]string{"copies-default": "1", "sides-default": "two-sided"})
	if got["copies-default"] != "3" {
		t.Fatalf("expected persisted option to win, got %v", got)
	}
	if got["sides-default"] != "two-sided" {
		t.Fatalf("expected computed-only option to survive, got %v", got)
	}
}

func TestBackoffCapsAtFiveMinutes(t *testing.T) {
	d := backoff(20, time.Second)
	if d != 5*time.Minute {
		t.Fatalf("backoff = %v, want capped at 5m", d)
	}
}

type fakeOptionStore struct {
	saved map[string]map[string]string
}

func (f *fakeOptionStore) Load(name string) map[string]string { return nil }
func (f *fakeOptionStore) Save(name string, opts map[string]string) error {
	if f.saved == nil {
		f.saved = map[string]map[string]string{}
	}
	f.saved[name] = opts
	return nil
}

func TestCreateOrModifySendsExpectedDeviceURI(t *testing.T) {
	var capturedDeviceURI string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req goipp.Message
		if err := req.Decode(r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if goipp.Op(req.Code) == goipp.OpCupsAddModifyPrinter {
			capturedDeviceURI = ippclient.FindAttr(req.Printer, "device-uri")
		}
		w.Header().Set("Content-Type", goipp.ContentType)
		resp := goipp.NewResponse(goipp.DefaultVersion, goipp.StatusOk, req.RequestID)
		_ = resp.Encode(w)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())
	local := ippclient.New(u.Hostname(), port, false, 5*time.Second)

	reg := registry.New()
	e := reg.Create("Lab", "ipp://remote-host/printers/lab")
	e.Hints = registry.CapabilityHints{MakeModel: "Example MFG 9000"}

	rec := &Reconciler{
		Registry: reg,
		Local:    local,
		Cache:    registry.NewAttrCache(16),
		Options:  &fakeOptionStore{},
		Config:   Config{}.withDefaults(),
	}
	rec.Cache.Put(e.ID, map[string][]string{"printer-make-and-model": {"Example MFG 9000"}})

	rec.createOrModify(context.Background(), e)

	if capturedDeviceURI != "ipp://remote-host/printers/lab" {
		t.Fatalf("device-uri sent = %q", capturedDeviceURI)
	}
	if e.Status != registry.StatusConfirmed {
		t.Fatalf("expected entry to be confirmed, got %s", e.Status)
	}
}

// okIPPServer answers every request with StatusOk and no groups, so
// Get-Jobs reads as "no active jobs" and deletes/modifies succeed.
func okIPPServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req goipp.Message
		if err := req.Decode(r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", goipp.ContentType)
		_ = goipp.NewResponse(goipp.DefaultVersion, goipp.StatusOk, req.RequestID).Encode(w)
	}))
}

func localClientFor(t *testing.T, srv *httptest.Server) *ippclient.Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())
	return ippclient.New(u.Hostname(), port, false, 5*time.Second)
}

func TestDeletePathPromotesSlaveBeforeQueueRemoval(t *testing.T) {
	srv := okIPPServer(t)
	defer srv.Close()

	reg := registry.New()
	reg.EnsureDeletedMasterSentinel()
	master := reg.Create("Example-MFG-9000", "ipp://host-a:631/printers/lab")
	slave := reg.Create("Example-MFG-9000", "ipp://host-b:631/printers/lab")
	master.Cluster = true
	reg.AttachSlave(master.ID, slave.ID)
	slave.Status = registry.StatusConfirmed
	master.Status = registry.StatusDisappeared

	rec := &Reconciler{
		Registry: reg,
		Local:    localClientFor(t, srv),
		Cache:    registry.NewAttrCache(16),
		Options:  &fakeOptionStore{},
		Config:   Config{}.withDefaults(),
	}
	rec.deletePath(context.Background(), master)

	if reg.Get(master.ID) != nil {
		t.Fatalf("dead master should be gone from the registry")
	}
	if slave.IsSlave() {
		t.Fatalf("surviving slave should have been promoted to master")
	}
	if !slave.Cluster {
		t.Fatalf("promoted entry should keep the cluster flag")
	}
	if slave.Status != registry.StatusToBeCreated {
		t.Fatalf("promoted entry status = %s, want to-be-created so the queue is rewritten", slave.Status)
	}
	if got := reg.ByName("Example-MFG-9000"); len(got) != 1 || got[0].ID != slave.ID {
		t.Fatalf("expected the promoted slave to be the sole remaining entry, got %d", len(got))
	}
}

func TestDeletePathParksSlavesOnSentinelWhenNonePromotable(t *testing.T) {
	srv := okIPPServer(t)
	defer srv.Close()

	reg := registry.New()
	reg.EnsureDeletedMasterSentinel()
	master := reg.Create("Shared", "ipp://a:631/printers/shared")
	slave := reg.Create("Shared", "ipp://b:631/printers/shared")
	master.Cluster = true
	reg.AttachSlave(master.ID, slave.ID)
	slave.Status = registry.StatusDisappeared
	master.Status = registry.StatusDisappeared

	rec := &Reconciler{
		Registry: reg,
		Local:    localClientFor(t, srv),
		Cache:    registry.NewAttrCache(16),
		Options:  &fakeOptionStore{},
		Config:   Config{}.withDefaults(),
	}
	rec.deletePath(context.Background(), master)

	if slave.MasterID != registry.DeletedMasterID {
		t.Fatalf("non-promotable slave should be parked on the sentinel, got master %q", slave.MasterID)
	}
}

func TestProcessOnceReleasesDetachedEntries(t *testing.T) {
	reg := registry.New()
	e := reg.Create("Lab", "ipp://remote/printers/lab")
	e.Status = registry.StatusToBeReleased
	e.Timeout = time.Now().Add(-time.Minute)

	rec := &Reconciler{Registry: reg, Cache: registry.NewAttrCache(4), Config: Config{}.withDefaults()}
	rec.processOnce(context.Background())

	if reg.Get(e.ID) != nil {
		t.Fatalf("released entry should be removed from the registry without a scheduler delete")
	}
}

func TestConvertPreexistingTogglesSharedAndRestoresDesired(t *testing.T) {
	var sharedSeq []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req goipp.Message
		if err := req.Decode(r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if goipp.Op(req.Code) == goipp.OpCupsAddModifyPrinter {
			if v := ippclient.FindAttr(req.Printer, "printer-is-shared"); v != "" && len(req.Printer) == 1 {
				sharedSeq = append(sharedSeq, v)
			}
		}
		w.Header().Set("Content-Type", goipp.ContentType)
		_ = goipp.NewResponse(goipp.DefaultVersion, goipp.StatusOk, req.RequestID).Encode(w)
	}))
	defer srv.Close()

	reg := registry.New()
	e := reg.Create("Lab", "ipp://remote:631/printers/lab")

	rec := &Reconciler{Registry: reg, Local: localClientFor(t, srv), Cache: registry.NewAttrCache(4), Options: &fakeOptionStore{}, Config: Config{}.withDefaults()}
	rec.convertPreexisting(context.Background(), e, false)

	if len(sharedSeq) != 2 || sharedSeq[0] != "true" || sharedSeq[1] != "false" {
		t.Fatalf("expected shared bit flipped true then restored to false, got %v", sharedSeq)
	}
}

func TestConvertPreexistingRemovesRemoteTempQueueOnFlipFailure(t *testing.T) {
	deleted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req goipp.Message
		if err := req.Decode(r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", goipp.ContentType)
		status := goipp.StatusOk
		switch goipp.Op(req.Code) {
		case goipp.OpCupsAddModifyPrinter:
			status = goipp.StatusErrorNotPossible // the shared flip is refused
		case goipp.OpCupsDeletePrinter:
			deleted = true
		}
		resp := goipp.NewResponse(goipp.DefaultVersion, status, req.RequestID)
		if goipp.Op(req.Code) == goipp.OpGetPrinterAttributes {
			resp.Printer.Add(goipp.MakeAttribute("device-uri", goipp.TagURI, goipp.String("ipp://upstream:631/printers/lab")))
		}
		_ = resp.Encode(w)
	}))
	defer srv.Close()

	reg := registry.New()
	e := reg.Create("Lab", "ipp://upstream:631/printers/lab")

	rec := &Reconciler{Registry: reg, Local: localClientFor(t, srv), Cache: registry.NewAttrCache(4), Options: &fakeOptionStore{}, Config: Config{}.withDefaults()}
	rec.convertPreexisting(context.Background(), e, true)

	if !deleted {
		t.Fatalf("temporary queue pointing at a remote scheduler should be removed when the flip is refused and no jobs are active")
	}
}

func TestCheckOverwriteReleasesAndRecreatesUnderHostSuffix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req goipp.Message
		if err := req.Decode(r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", goipp.ContentType)
		resp := goipp.NewResponse(goipp.DefaultVersion, goipp.StatusOk, req.RequestID)
		resp.Printer.Add(goipp.MakeAttribute("device-uri", goipp.TagURI, goipp.String("socket://printer/")))
		_ = resp.Encode(w)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	local := ippclient.New(u.Hostname(), port, false, 5*time.Second)

	reg := registry.New()
	e := reg.Create("Lab", "ipp://lab.local:631/printers/lab")
	e.Status = registry.StatusConfirmed
	e.Instances = []registry.DiscoveryInstance{{Host: "lab.local", URI: "ipp://lab.local:631/printers/lab"}}

	rec := &Reconciler{Registry: reg, Local: local, Cache: registry.NewAttrCache(16), Options: &fakeOptionStore{}, Config: Config{}.withDefaults()}
	rec.checkOverwrite(context.Background(), e)

	if e.Status != registry.StatusToBeReleased {
		t.Fatalf("overwritten entry status = %s, want to-be-released", e.Status)
	}
	if e.StatusText == "" {
		t.Fatalf("expected a status-text rationale on release")
	}
	replacements := reg.ByName("Lab@lab_local")
	if len(replacements) != 1 {
		t.Fatalf("expected one @host replacement entry, got %d", len(replacements))
	}
	if replacements[0].Status != registry.StatusToBeCreated {
		t.Fatalf("replacement status = %s, want to-be-created", replacements[0].Status)
	}
}

func TestProcessOnceHonorsBudget(t *testing.T) {
	reg := registry.New()
	past := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		e := reg.Create("Q"+strconv.Itoa(i), "ipp://remote/printers/q"+strconv.Itoa(i))
		e.Timeout = past
		e.Status = registry.StatusUnconfirmed // no-op status: exercises the budget without needing network calls
	}

	rec := &Reconciler{Registry: reg, Config: Config{MaxUpdatesPerCall: 2}.withDefaults()}
	rec.processOnce(context.Background())

	// The two entries within budget are no-ops (StatusUnconfirmed waits on
	// discovery) so they remain due; the other three had their Timeout
	// pushed forward and drop out of the due set.
	due := reg.DueEntries(time.Now())
	if len(due) != 2 {
		t.Fatalf("expected 2 entries still due after a budget of 2, got %d", len(due))
	}
	for _, e := range reg.Snapshot() {
		found := false
		for _, d := range due {
			if d.ID == e.ID {
				found = true
				break
			}
		}
		if !found && !e.Timeout.After(past) {
			t.Fatalf("entry %q excluded by budget but its timeout was not pushed forward", e.Name)
		}
	}
}
