package violation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bogen85/vsm/internal/monitor"
	"github.com/bogen85/vsm/internal/policy"
	"github.com/bogen85/vsm/internal/value"
)

func TestLogFormatsPathReasonExprAndOperands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "violations.log")
	l, err := NewLogger(path, nil)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	l.Log(policy.Violation{
		Path:     "rules[0]",
		ExprText: "door.open == true",
		Reason:   monitor.ViolationBeforeStart,
		Operands: []policy.OperandSnapshot{{Name: "door.open", Value: value.Bool(false)}},
		Ancestors: []policy.AncestorSnapshot{
			{Path: "rules[0]/parent", ExprText: "ignition == true",
				Operands: []policy.OperandSnapshot{{Name: "ignition", Value: value.Bool(true)}}},
		},
		NowMS: 500,
	})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	line := string(out)
	for _, want := range []string{
		"t=500", "path=rules[0]", `reason="condition not satisfied before start window"`,
		`expr="door.open == true"`, "door.open=False",
		"parent=rules[0]/parent", "ignition=True",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("Log() output missing %q, got: %s", want, line)
		}
	}
}

func TestNewLoggerAppliesWallClockConversion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "violations.log")
	l, err := NewLogger(path, func(nowMS int64) int64 { return nowMS + 1000 })
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Log(policy.Violation{Path: "p", ExprText: "e", NowMS: 1})
	l.Close()

	out, _ := os.ReadFile(path)
	if !strings.Contains(string(out), "t=1001") {
		t.Errorf("expected wallOf-converted timestamp 1001, got: %s", out)
	}
}

func TestCloseOnNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	if err := l.Close(); err != nil {
		t.Errorf("Close on nil Logger returned error: %v", err)
	}
}
