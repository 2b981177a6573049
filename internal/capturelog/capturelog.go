// Package capturelog implements the capture log of §6: a line-oriented CSV
// recording of every emission, timestamps relative to capture start, and
// the replay reader that feeds a recorded run back through at a scaled
// rate. Grounded on capture.Writer/capture.ReadAllFromReader's buffered
// streaming idiom (dot.go/output-tool.relaunch.pty's local/capture
// package), reshaped from that teacher's JSONL record to the CSV format
// this spec mandates.
package capturelog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bogen85/vsm/internal/clock"
	"github.com/bogen85/vsm/internal/value"
)

// Record is one captured emission.
type Record struct {
	TimestampMS int64
	Name        string
	ID          uint32
	Value       value.Value
}

// IDLookup resolves a signal's numeric id for the CSV row (satisfied by
// *internal/signal.Store).
type IDLookup interface {
	ID(name string) (uint32, bool)
}

// Writer appends released emissions to a CSV capture file. It satisfies
// internal/emitpipe.Sink.
type Writer struct {
	f   *os.File
	bw  *bufio.Writer
	ids IDLookup
}

// NewWriter opens path for appending, creating it if absent. Emit writes
// each timestamp exactly as passed (the run's logical milliseconds, which
// start at 0); it does not rebase them on the first one.
func NewWriter(path string, ids IDLookup) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("capturelog: open %s: %w", path, err)
	}
	return &Writer{f: f, bw: bufio.NewWriterSize(f, 64*1024), ids: ids}, nil
}

func (w *Writer) Emit(nowMS int64, name string, v value.Value) {
	id, _ := w.ids.ID(name)
	fmt.Fprintf(w.bw, "%d,%s,%d,%s\n", nowMS, csvEscape(name), id, v.Literal())
}

func (w *Writer) Flush() error { return w.bw.Flush() }

func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	if w.bw != nil {
		_ = w.bw.Flush()
	}
	if w.f != nil {
		return w.f.Close()
	}
	return nil
}

// csvEscape guards a name field against embedded commas; signal names in
// practice are dotted identifiers and never contain one, but this keeps the
// writer honest about the format it claims to produce.
func csvEscape(s string) string {
	if strings.ContainsAny(s, ",\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

// ReadAll parses every record from a capture log file.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadAllFromReader(f)
}

// ReadAllFromReader parses every record from r. The value_literal field is
// whatever remains after the first three commas, since a quoted string
// literal may itself contain commas.
func ReadAllFromReader(r io.Reader) ([]Record, error) {
	sc := bufio.NewScanner(bufio.NewReaderSize(r, 64*1024))
	var out []Record
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" {
			continue
		}
		rec, err := parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("capturelog: line %d: %w", lineNo, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseRecord(line string) (Record, error) {
	parts := strings.SplitN(line, ",", 4)
	if len(parts) != 4 {
		return Record{}, fmt.Errorf("malformed row %q", line)
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("bad timestamp %q: %w", parts[0], err)
	}
	id, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return Record{}, fmt.Errorf("bad id %q: %w", parts[2], err)
	}
	v, err := value.ParseLiteral(parts[3])
	if err != nil {
		return Record{}, err
	}
	return Record{TimestampMS: ts, Name: parts[1], ID: uint32(id), Value: v}, nil
}

// Replay iterates a slice of Records in order, reporting each one's
// wall-clock due time scaled by rc (§6: "replays events at logical
// timestamps scaled by replay_rate%").
type Replay struct {
	records []Record
	rc      *clock.RateClock
	pos     int
}

func NewReplay(records []Record, rc *clock.RateClock) *Replay {
	return &Replay{records: records, rc: rc}
}

// Next returns the next record and the wall-clock millisecond at which it
// should be delivered, or ok=false when the capture is exhausted.
func (r *Replay) Next() (rec Record, wallDueMS int64, ok bool) {
	if r.pos >= len(r.records) {
		return Record{}, 0, false
	}
	rec = r.records[r.pos]
	r.pos++
	return rec, r.rc.WallFromLogical(rec.TimestampMS), true
}
