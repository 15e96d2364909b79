package history

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleEntry(target string) *Entry {
	now := time.Now()
	return &Entry{
		Kind:      "kernel",
		Target:    target,
		Arch:      "arm64",
		Ref:       "2023_R2",
		Commit:    "abc1234",
		State:     "packaged",
		Toolchain: "vivado 2023.2 (/opt/Xilinx/Vivado/2023.2)",
		StartedAt: now.Add(-5 * time.Minute),
		EndedAt:   now,
	}
}

// =============================================================================
// Add and Get Tests
// =============================================================================

func TestAdd_GeneratesID(t *testing.T) {
	s := openTestStore(t)
	e := sampleEntry("zynqmp")

	if err := s.Add(e); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if e.ID == "" {
		t.Fatal("Add left the ID empty")
	}

	got, err := s.Get(e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Target != "zynqmp" || got.Commit != "abc1234" || got.State != "packaged" {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if got.Toolchain != "vivado 2023.2 (/opt/Xilinx/Vivado/2023.2)" {
		t.Errorf("toolchain = %q", got.Toolchain)
	}
}

func TestAdd_KeepsCallerID(t *testing.T) {
	s := openTestStore(t)
	e := sampleEntry("zynq")
	e.ID = "fixed-id"

	if err := s.Add(e); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s.Get("fixed-id"); err != nil {
		t.Errorf("Get by caller ID: %v", err)
	}
}

func TestGet_Missing(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get("no-such-build"); err == nil {
		t.Error("expected error for unknown build")
	}
}

// =============================================================================
// List Tests
// =============================================================================

func TestList_RespectsLimit(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		if err := s.Add(sampleEntry("zynqmp")); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.List(3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("listed %d entries, want 3", len(entries))
	}
}

func TestListByTarget(t *testing.T) {
	s := openTestStore(t)
	for _, target := range []string{"zynqmp", "zynqmp", "zynq"} {
		if err := s.Add(sampleEntry(target)); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.ListByTarget("zynqmp", 0)
	if err != nil {
		t.Fatalf("ListByTarget: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("listed %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Target != "zynqmp" {
			t.Errorf("foreign target in results: %+v", e)
		}
	}
}

// =============================================================================
// Prune Tests
// =============================================================================

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	if err := s.Add(sampleEntry("zynqmp")); err != nil {
		t.Fatal(err)
	}

	n, err := s.Prune(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 0 {
		t.Errorf("pruned %d fresh entries", n)
	}

	n, err = s.Prune(time.Now().Add(24 * time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d entries, want 1", n)
	}
	if entries, _ := s.List(0); len(entries) != 0 {
		t.Errorf("entries remain after prune: %v", entries)
	}
}

// =============================================================================
// Entry Tests
// =============================================================================

func TestEntryDuration(t *testing.T) {
	e := Entry{
		StartedAt: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
		EndedAt:   time.Date(2026, 1, 1, 10, 12, 0, 0, time.UTC),
	}
	if e.Duration() != 12*time.Minute {
		t.Errorf("duration = %v", e.Duration())
	}
}
