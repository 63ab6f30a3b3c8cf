package discovery

import "testing"

func TestFromServiceEventDerivesMakeModelPreferenceOrder(t *testing.T) {
	ev := ServiceEvent{
		ServiceName: "Lab Printer @ lab",
		ServiceType: "_ipps._tcp",
		Host:        "lab.local",
		Port:        631,
		TXT: map[string]string{
			"rp":           "printers/lab",
			"ty":           "Example MFG 9000",
			"printer-type": "0x1008",
			"pdl":          "application/pdf,image/urf",
			"color":        "T",
			"note":         "Second Floor",
		},
	}
	rec := FromServiceEvent(ev)
	if rec.MakeModel != "Example MFG 9000" {
		t.Fatalf("MakeModel = %q", rec.MakeModel)
	}
	if !rec.CupsQueue {
		t.Fatal("expected CupsQueue=true from printer-type TXT key")
	}
	if !rec.Secure {
		t.Fatal("expected Secure=true for _ipps._tcp")
	}
	if !rec.Color {
		t.Fatal("expected Color=true")
	}
	if len(rec.Formats) != 2 {
		t.Fatalf("Formats = %v", rec.Formats)
	}
	if rec.Location != "Second Floor" {
		t.Fatalf("Location = %q", rec.Location)
	}
	if got := rec.URI(); got != "ipps://lab.local:631/printers/lab" {
		t.Fatalf("URI = %q", got)
	}
}

func TestMakeModelFallsBackToProductThenUSBFields(t *testing.T) {
	rec := FromServiceEvent(ServiceEvent{TXT: map[string]string{"product": "(Example Printer)"}})
	if rec.MakeModel != "Example Printer" {
		t.Fatalf("MakeModel = %q, want parens stripped", rec.MakeModel)
	}
	rec2 := FromServiceEvent(ServiceEvent{TXT: map[string]string{"usb_mfg": "Example", "usb_mdl": "9000"}})
	if rec2.MakeModel != "Example 9000" {
		t.Fatalf("MakeModel = %q", rec2.MakeModel)
	}
}

func TestFromPolledSplitsURI(t *testing.T) {
	rec := FromPolled(PolledRecord{URI: "ipp://remote.example:631/printers/shared", Info: "Shared MFP"})
	if rec.Host != "remote.example" || rec.Port != 631 {
		t.Fatalf("Host/Port = %q/%d", rec.Host, rec.Port)
	}
	if rec.Resource != "/printers/shared" {
		t.Fatalf("Resource = %q", rec.Resource)
	}
	if !rec.CupsQueue {
		t.Fatal("expected CupsQueue=true for /printers/ prefix")
	}
}
