package notify

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

func TestQueueNameFromURI(t *testing.T) {
	cases := map[string]string{
		"ipp://localhost/printers/Lab":     "Lab",
		"ipp://localhost/printers/":        "",
		"ipp://localhost/classes/Everyone": "",
		"not-a-path":                       "",
	}
	for uri, want := range cases {
		if got := queueNameFromURI(uri); got != want {
			t.Errorf("queueNameFromURI(%q) = %q, want %q", uri, got, want)
		}
	}
}

func TestParseNotificationsExtractsEventsAndInterval(t *testing.T) {
	groups := goipp.Groups{
		{Tag: goipp.TagOperationGroup, Attrs: goipp.Attributes{
			goipp.MakeAttribute("notify-get-interval", goipp.TagInteger, goipp.Integer(30)),
		}},
		{Tag: goipp.TagEventNotificationGroup, Attrs: goipp.Attributes{
			goipp.MakeAttribute("notify-subscription-id", goipp.TagInteger, goipp.Integer(7)),
			goipp.MakeAttribute("notify-event", goipp.TagKeyword, goipp.String("printer-deleted")),
			goipp.MakeAttribute("notify-sequence-number", goipp.TagInteger, goipp.Integer(3)),
			goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String("ipp://localhost/printers/Lab")),
		}},
	}
	resp := goipp.NewMessageWithGroups(goipp.DefaultVersion, goipp.Code(goipp.StatusOk), 1, groups)

	events, next, done := ParseNotifications(resp)
	if next != 30 {
		t.Fatalf("next poll interval = %d, want 30", next)
	}
	if done {
		t.Fatalf("done = true, want false")
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.SubscriptionID != 7 || ev.Name != "printer-deleted" || ev.SequenceNumber != 3 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !IsDeletedSignal(ev) {
		t.Fatalf("expected IsDeletedSignal true for printer-deleted")
	}
}

func TestHandleEventRequestsRefreshOnDeletedSignal(t *testing.T) {
	reg := registry.New()
	e := reg.Create("Lab", "ipp://remote/printers/lab")
	e.Status = registry.StatusConfirmed

	h := &Handler{Registry: reg}
	h.handleEvent(context.Background(), Event{Name: "printer-deleted", PrinterURI: "ipp://localhost/printers/Lab"})

	if e.Status != registry.StatusToBeCreated {
		t.Fatalf("expected entry to be requeued for refresh, status = %s", e.Status)
	}
}

func TestSubscribeParsesSubscriptionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req goipp.Message
		if err := req.Decode(r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", goipp.ContentType)
		resp := goipp.NewResponse(goipp.DefaultVersion, goipp.StatusOk, req.RequestID)
		resp.Subscription.Add(goipp.MakeAttribute("notify-subscription-id", goipp.TagInteger, goipp.Integer(42)))
		_ = resp.Encode(w)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())
	local := ippclient.New(u.Hostname(), port, false, 5*time.Second)

	h := &Handler{Local: local, Config: Config{LeaseSeconds: 600}.withDefaults()}
	if err := h.subscribe(context.Background()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if h.subscriptionID != 42 {
		t.Fatalf("subscriptionID = %d, want 42", h.subscriptionID)
	}
}
