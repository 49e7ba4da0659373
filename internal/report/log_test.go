package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testRecord(index int, usable int64) Record {
	r := NewRecord(index, "Test GPU")
	r.ReportedTotalMB = 8192
	r.MaxSingleAllocMB = 7936
	r.TotalUsableMB = usable
	return r
}

func TestAppendCreatesLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe.json")

	if err := Append(path, []Record{testRecord(0, 7680)}); err != nil {
		t.Fatalf("append: %v", err)
	}

	recs, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].TotalUsableMB != 7680 {
		t.Fatalf("expected usable 7680, got %d", recs[0].TotalUsableMB)
	}
}

func TestAppendPreservesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe.json")

	if err := Append(path, []Record{testRecord(0, 7000)}); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := Append(path, []Record{testRecord(0, 7100), testRecord(1, 7200)}); err != nil {
		t.Fatalf("second append: %v", err)
	}

	recs, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].TotalUsableMB != 7000 || recs[2].TotalUsableMB != 7200 {
		t.Fatalf("entries out of order: %+v", recs)
	}
}

func TestLoadMissingFile(t *testing.T) {
	recs, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file should be empty log, got %v", err)
	}
	if recs != nil {
		t.Fatalf("expected nil records, got %v", recs)
	}
}

func TestAppendSetsAsideCorruptLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "probe.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Append(path, []Record{testRecord(0, 6000)}); err != nil {
		t.Fatalf("append over corrupt log: %v", err)
	}

	recs, err := Load(path)
	if err != nil {
		t.Fatalf("load after corrupt recovery: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected fresh log with 1 record, got %d", len(recs))
	}

	entries, _ := os.ReadDir(dir)
	foundBak := false
	for _, e := range entries {
		if strings.Contains(e.Name(), ".bak-") {
			foundBak = true
		}
	}
	if !foundBak {
		t.Fatal("corrupt log was not set aside as .bak")
	}
}

func TestTail(t *testing.T) {
	recs := []Record{testRecord(0, 1), testRecord(0, 2), testRecord(0, 3)}

	if got := Tail(recs, 2); len(got) != 2 || got[0].TotalUsableMB != 2 {
		t.Fatalf("tail 2: %+v", got)
	}
	if got := Tail(recs, 0); len(got) != 3 {
		t.Fatalf("tail 0 should return all, got %d", len(got))
	}
	if got := Tail(recs, 10); len(got) != 3 {
		t.Fatalf("tail beyond length should return all, got %d", len(got))
	}
}

func TestEfficiency(t *testing.T) {
	r := testRecord(0, 4096)
	if eff := r.Efficiency(); eff != 50 {
		t.Fatalf("expected 50%%, got %.1f", eff)
	}
	r.ReportedTotalMB = 0
	if eff := r.Efficiency(); eff != 0 {
		t.Fatalf("expected 0 for unknown total, got %.1f", eff)
	}
}

func TestSummaryContainsCapacities(t *testing.T) {
	r := testRecord(0, 7680)
	r.Anomaly = "driver wedged"
	out := Summary([]Record{r})
	for _, want := range []string{"Test GPU", "7680", "8192", "driver wedged"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
}
