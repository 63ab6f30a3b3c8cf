package optionstore

import (
	"path/filepath"
	"testing"
)

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "cache"))

	opts := map[string]string{"media": "iso-a4", "sides": "two-sided-long-edge"}
	if err := s.Save("Example-MFG-9000", opts); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := s.Load("Example-MFG-9000")
	if got["media"] != "iso-a4" || got["sides"] != "two-sided-long-edge" {
		t.Fatalf("Load round-trip mismatch: %+v", got)
	}
}

func TestStoreLoadMissingIsEmpty(t *testing.T) {
	s := New(t.TempDir())
	got := s.Load("never-saved")
	if len(got) != 0 {
		t.Fatalf("expected empty map for missing file, got %+v", got)
	}
}

func TestStoreRemove(t *testing.T) {
	s := New(t.TempDir())
	_ = s.Save("Q", map[string]string{"a": "b"})
	s.Remove("Q")
	got := s.Load("Q")
	if len(got) != 0 {
		t.Fatalf("expected empty map after Remove, got %+v", got)
	}
}

func TestDefaultFiles(t *testing.T) {
	s := New(t.TempDir())

	if _, ok := s.LocalDefault().Load(); ok {
		t.Fatalf("expected no local default before Save")
	}
	if err := s.LocalDefault().Save("OfficeLaser"); err != nil {
		t.Fatalf("Save local default: %v", err)
	}
	name, ok := s.LocalDefault().Load()
	if !ok || name != "OfficeLaser" {
		t.Fatalf("LocalDefault Load = %q, %v", name, ok)
	}

	if err := s.RemoteDefault().Save("Example-MFG-9000"); err != nil {
		t.Fatalf("Save remote default: %v", err)
	}
	name, ok = s.RemoteDefault().Load()
	if !ok || name != "Example-MFG-9000" {
		t.Fatalf("RemoteDefault Load = %q, %v", name, ok)
	}
}

func TestSanitizeFileName(t *testing.T) {
	cases := map[string]string{
		"Lab Printer @ lab": "Lab_Printer_@_lab",
		"Example-MFG-9000":  "Example-MFG-9000",
		"":                  "_",
	}
	for in, want := range cases {
		if got := sanitizeFileName(in); got != want {
			t.Errorf("sanitizeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
