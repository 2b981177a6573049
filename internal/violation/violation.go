// Package violation writes the violation log of §6: one line per monitor
// transition to Violated, naming the violated condition's path and
// expression, its operands, and the operand snapshots of every enclosing
// condition, plus a wall-clock timestamp.
package violation

import (
	"bufio"
	"fmt"
	"os"

	"github.com/bogen85/vsm/internal/monitor"
	"github.com/bogen85/vsm/internal/policy"
)

// Logger appends formatted violation reports to a file. It satisfies
// internal/policy.ViolationSink.
type Logger struct {
	f  *os.File
	bw *bufio.Writer
	wallOf func(nowMS int64) int64
}

// NewLogger opens path for appending. wallOf converts the violation's
// logical timestamp to a wall-clock one for the report (§6: "a wall-clock
// timestamp"); pass nil to use the logical timestamp verbatim (e.g. when
// running against captured/replayed input where no wall clock applies).
func NewLogger(path string, wallOf func(nowMS int64) int64) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("violation: open %s: %w", path, err)
	}
	if wallOf == nil {
		wallOf = func(nowMS int64) int64 { return nowMS }
	}
	return &Logger{f: f, bw: bufio.NewWriterSize(f, 4096), wallOf: wallOf}, nil
}

func reasonText(r monitor.ViolationReason) string {
	switch r {
	case monitor.ViolationBeforeStart:
		return "condition not satisfied before start window"
	case monitor.ViolationDuringWindow:
		return "condition went false within stop window"
	default:
		return "unknown violation"
	}
}

// Log formats and appends one violation report.
func (l *Logger) Log(v policy.Violation) {
	fmt.Fprintf(l.bw, "t=%d path=%s reason=%q expr=%q", l.wallOf(v.NowMS), v.Path, reasonText(v.Reason), v.ExprText)
	for _, op := range v.Operands {
		fmt.Fprintf(l.bw, " %s=%s", op.Name, op.Value.Literal())
	}
	for _, anc := range v.Ancestors {
		fmt.Fprintf(l.bw, " | parent=%s expr=%q", anc.Path, anc.ExprText)
		for _, op := range anc.Operands {
			fmt.Fprintf(l.bw, " %s=%s", op.Name, op.Value.Literal())
		}
	}
	l.bw.WriteByte('\n')
	l.bw.Flush()
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	if l.bw != nil {
		_ = l.bw.Flush()
	}
	if l.f != nil {
		return l.f.Close()
	}
	return nil
}
