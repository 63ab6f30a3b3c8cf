package cluster

import "testing"

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		"Lab Printer @ lab",
		"Example MFG 9000",
		"already-Sane123",
		"___leading",
		"trailing___",
		"",
		"!!!",
		"a/b\\c:d",
	}
	for _, s := range inputs {
		once := Sanitize(s, '_')
		twice := Sanitize(once, '_')
		if once != twice {
			t.Errorf("Sanitize not idempotent for %q: once=%q twice=%q", s, once, twice)
		}
		for _, r := range once {
			ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
			if !ok {
				t.Errorf("Sanitize(%q) contains illegal rune %q", s, r)
			}
		}
	}
}

func TestSanitizeSeparatorChoice(t *testing.T) {
	if got := SanitizeDNSSD("Lab Printer @ lab"); got != "Lab_Printer_lab" {
		t.Errorf("SanitizeDNSSD = %q, want Lab_Printer_lab", got)
	}
	if got := SanitizeMakeModel("Example MFG 9000"); got != "Example-MFG-9000" {
		t.Errorf("SanitizeMakeModel = %q, want Example-MFG-9000", got)
	}
}

func TestSanitizeNoLeadingTrailingSeparator(t *testing.T) {
	got := Sanitize("  spaced out  ", '_')
	if got[0] == '_' || got[len(got)-1] == '_' {
		t.Errorf("Sanitize left a boundary separator: %q", got)
	}
}
