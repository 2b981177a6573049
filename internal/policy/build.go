package policy

import (
	"fmt"

	"github.com/bogen85/vsm/internal/monitor"
	"github.com/bogen85/vsm/internal/value"
)

// NodeSpec is the shape-only description of one rule-tree node, the
// handoff format between internal/ruleconfig (which knows TOML) and this
// package (which knows nothing about file formats). Separating tree shape
// from file format mirrors the teacher's config.go/rules.go split: one
// struct describes what was asked for, another builds the thing that runs.
type NodeSpec struct {
	Kind NodeKind

	// KindCondition
	Expr    string
	StartMS int64 // unsetTiming if absent
	StopMS  int64 // unsetTiming if absent

	// KindEmit
	EmitSignal    string
	EmitValueExpr string
	DelayMS       int64

	Children []NodeSpec
}

// UnsetTiming is the sentinel NodeSpec.StartMS/StopMS callers should use for
// an absent timing field.
const UnsetTiming = unsetTiming

// Build compiles a forest of NodeSpec roots into a Tree, parsing every
// expression and validating every invariant of §3/§4.C in one pass and
// collecting all errors rather than stopping at the first (§7.1: a load-time
// validation report, not fail-fast).
func Build(roots []NodeSpec, knownSignals map[string]struct{}) (*Tree, []error) {
	b := &builder{known: knownSignals}
	t := &Tree{}
	for i, spec := range roots {
		idx := b.add(t, spec, -1, 0, fmt.Sprintf("%s[%d]", spec.Kind, i))
		t.roots = append(t.roots, idx)
	}
	if len(b.errs) > 0 {
		return nil, b.errs
	}
	return t, nil
}

type builder struct {
	known map[string]struct{}
	errs  []error
}

func (b *builder) fail(format string, args ...any) {
	b.errs = append(b.errs, fmt.Errorf(format, args...))
}

// add appends spec (and its children) to t's arena and returns its index.
// An invalid spec is still appended, with its errors recorded in b.errs, and
// its children are still validated so a single file surfaces every error at
// once.
func (b *builder) add(t *Tree, spec NodeSpec, parent int, depth int, path string) int {
	n := Node{Kind: spec.Kind, ParentIdx: parent, Depth: depth, Path: path, StartMS: unsetTiming, StopMS: unsetTiming}
	ok := true

	switch spec.Kind {
	case KindCondition:
		if spec.Expr == "" {
			b.fail("%s: condition node requires expr", path)
			ok = false
		} else {
			expr, err := value.Parse(spec.Expr)
			if err != nil {
				b.fail("%s: invalid expr %q: %w", path, spec.Expr, err)
				ok = false
			} else {
				n.Expr = expr
				n.ExprText = spec.Expr
				for name := range value.Operands(expr) {
					if _, known := b.known[name]; !known {
						b.fail("%s: expr references unknown signal %q", path, name)
						ok = false
					}
				}
			}
		}
		n.StartMS = spec.StartMS
		n.StopMS = spec.StopMS
		if spec.StartMS != unsetTiming && spec.StartMS < 0 {
			b.fail("%s: start_ms must be >= 0 or unset", path)
			ok = false
		}
		if spec.StopMS != unsetTiming && spec.StopMS < 0 {
			b.fail("%s: stop_ms must be >= 0 or unset", path)
			ok = false
		}
		if n.isMonitored() && ok {
			n.Monitor = monitor.New(n.StartMS, n.StopMS)
		}
		for _, c := range spec.Children {
			if c.Kind == KindEmit {
				continue // validated below, allowed anywhere under a condition
			}
			if c.Kind != KindCondition && c.Kind != KindParallel && c.Kind != KindSequence {
				b.fail("%s: condition children must be condition/parallel/sequence/emit", path)
			}
		}
	case KindParallel, KindSequence:
		if len(spec.Children) == 0 {
			b.fail("%s: %s requires at least one child", path, spec.Kind)
			ok = false
		}
		for _, c := range spec.Children {
			if c.Kind != KindCondition && c.Kind != KindParallel && c.Kind != KindSequence {
				b.fail("%s: %s children must be condition/parallel/sequence (no bare emit)", path, spec.Kind)
			}
		}
	case KindEmit:
		if spec.EmitSignal == "" {
			b.fail("%s: emit node requires signal name", path)
			ok = false
		}
		if spec.EmitValueExpr == "" {
			b.fail("%s: emit node requires value_expr", path)
			ok = false
		} else {
			expr, err := value.Parse(spec.EmitValueExpr)
			if err != nil {
				b.fail("%s: invalid value_expr %q: %w", path, spec.EmitValueExpr, err)
				ok = false
			} else {
				n.EmitValueExpr = expr
				n.EmitValueExprText = spec.EmitValueExpr
				for name := range value.Operands(expr) {
					if _, known := b.known[name]; !known {
						b.fail("%s: value_expr references unknown signal %q", path, name)
						ok = false
					}
				}
			}
		}
		n.EmitSignal = spec.EmitSignal
		n.DelayMS = spec.DelayMS
		if spec.DelayMS < 0 {
			b.fail("%s: delay_ms must be >= 0", path)
			ok = false
		}
		if len(spec.Children) != 0 {
			b.fail("%s: emit node cannot have children", path)
			ok = false
		}
	default:
		b.fail("%s: unknown node kind", path)
		ok = false
	}

	idx := len(t.nodes)
	t.nodes = append(t.nodes, n)

	for i, c := range spec.Children {
		childPath := fmt.Sprintf("%s/%s[%d]", path, c.Kind, i)
		ci := b.add(t, c, idx, depth+1, childPath)
		if ci >= 0 {
			t.nodes[idx].Children = append(t.nodes[idx].Children, ci)
		}
	}

	_ = ok // failures are recorded in b.errs; Build discards the whole tree if any exist
	return idx
}
