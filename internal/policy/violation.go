package policy

import (
	"github.com/bogen85/vsm/internal/monitor"
	"github.com/bogen85/vsm/internal/value"
)

// OperandSnapshot is one signal's value as observed at violation time.
type OperandSnapshot struct {
	Name  string
	Value value.Value
}

// AncestorSnapshot captures one ancestor ConditionNode's expression text and
// operand values, included in a violation report so the logged line shows
// the full chain of context that was true when a descendant monitor failed
// (§4.D/§6: "ancestor operand snapshots").
type AncestorSnapshot struct {
	Path     string
	ExprText string
	Operands []OperandSnapshot
}

// Violation is a completed report for one monitor transitioning to Violated.
type Violation struct {
	Path      string
	ExprText  string
	Reason    monitor.ViolationReason
	Operands  []OperandSnapshot
	Ancestors []AncestorSnapshot
	NowMS     int64
}

func (t *Tree) logViolation(idx int, reason monitor.ViolationReason) {
	if t.violations == nil {
		return
	}
	n := &t.nodes[idx]
	v := Violation{
		Path:     n.Path,
		ExprText: n.ExprText,
		Reason:   reason,
		Operands: t.snapshot(n.Expr),
		NowMS:    t.curNow,
	}
	for p := n.ParentIdx; p >= 0; p = t.nodes[p].ParentIdx {
		anc := &t.nodes[p]
		if anc.Kind != KindCondition {
			continue
		}
		v.Ancestors = append(v.Ancestors, AncestorSnapshot{
			Path:     anc.Path,
			ExprText: anc.ExprText,
			Operands: t.snapshot(anc.Expr),
		})
	}
	t.violations.Log(v)
}

func (t *Tree) snapshot(expr *value.Expr) []OperandSnapshot {
	operands := value.Operands(expr)
	out := make([]OperandSnapshot, 0, len(operands))
	for name := range operands {
		out = append(out, OperandSnapshot{Name: name, Value: t.store.Get(name)})
	}
	sortSnapshots(out)
	return out
}

// sortSnapshots gives violation reports a deterministic operand order
// (map iteration above is not stable); insertion sort, same rationale as
// sortByDepth in tree.go.
func sortSnapshots(s []OperandSnapshot) {
	for i := 1; i < len(s); i++ {
		j := i
		for j > 0 && s[j-1].Name > s[j].Name {
			s[j-1], s[j] = s[j], s[j-1]
			j--
		}
	}
}
