package capturelog

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/bogen85/vsm/internal/clock"
	"github.com/bogen85/vsm/internal/value"
)

type fakeIDs map[string]uint32

func (f fakeIDs) ID(name string) (uint32, bool) { id, ok := f[name]; return id, ok }

func TestWriterThenReadAllRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.csv")
	w, err := NewWriter(path, fakeIDs{"door.alarm": 3})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Emit(0, "door.alarm", value.Bool(true))
	w.Emit(100, "door.alarm", value.String("a,b"))
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].TimestampMS != 0 || records[0].Name != "door.alarm" || records[0].ID != 3 {
		t.Errorf("record 0 = %+v", records[0])
	}
	if records[1].Value.AsString() != "a,b" {
		t.Errorf("record 1 value not round-tripped: %+v", records[1])
	}
}

func TestReadAllFromReaderRejectsMalformedRow(t *testing.T) {
	_, err := ReadAllFromReader(strings.NewReader("not,enough\n"))
	if err == nil {
		t.Fatal("expected error for malformed row")
	}
}

func TestCsvEscapeQuotesEmbeddedComma(t *testing.T) {
	if got := csvEscape("a,b"); got != `"a,b"` {
		t.Errorf("csvEscape(%q) = %q", "a,b", got)
	}
	if got := csvEscape("plain"); got != "plain" {
		t.Errorf("csvEscape(%q) = %q", "plain", got)
	}
}

func TestReplayScalesByRate(t *testing.T) {
	records := []Record{
		{TimestampMS: 0, Name: "a", Value: value.Int(1)},
		{TimestampMS: 1000, Name: "b", Value: value.Int(2)},
	}
	rc := clock.NewRateClock(50, 0) // half speed: 1000 logical ms -> 2000 wall ms
	r := NewReplay(records, rc)

	rec, due, ok := r.Next()
	if !ok || rec.Name != "a" || due != 0 {
		t.Fatalf("first Next() = %+v, %d, %v", rec, due, ok)
	}
	rec, due, ok = r.Next()
	if !ok || rec.Name != "b" || due != 2000 {
		t.Fatalf("second Next() = %+v, %d, %v", rec, due, ok)
	}
	if _, _, ok = r.Next(); ok {
		t.Fatal("expected exhausted replay")
	}
}

func TestNewWriterFailsOnUnwritableDir(t *testing.T) {
	_, err := NewWriter(filepath.Join(t.TempDir(), "missing-dir", "capture.csv"), fakeIDs{})
	if err == nil {
		t.Fatal("expected error opening capture file under a missing directory")
	}
}
