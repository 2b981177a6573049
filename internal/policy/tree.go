// Package policy implements the Condition Tree of §4.C: a tree of
// condition/parallel/sequence/emit nodes with parent/child links and
// per-node activation state, built once at load as a flat arena with
// stable indices (spec.md §9: "represent the rule tree as an owned tree
// with parent back-links implemented as stable indices into a flat node
// arena" — no cycles, no shared subtrees).
package policy

import (
	"fmt"

	"github.com/bogen85/vsm/internal/clock"
	"github.com/bogen85/vsm/internal/monitor"
	"github.com/bogen85/vsm/internal/signal"
	"github.com/bogen85/vsm/internal/value"
)

// NodeKind distinguishes the four rule-tree node shapes of §3.
type NodeKind int

const (
	KindCondition NodeKind = iota
	KindParallel
	KindSequence
	KindEmit
)

func (k NodeKind) String() string {
	switch k {
	case KindCondition:
		return "condition"
	case KindParallel:
		return "parallel"
	case KindSequence:
		return "sequence"
	case KindEmit:
		return "emit"
	default:
		return "unknown"
	}
}

// TriState is a ConditionNode's last-evaluated truth (§3 runtime state).
type TriState int

const (
	Unknown TriState = iota
	True
	False
)

// unsetTiming marks an absent start_ms/stop_ms.
const unsetTiming = -1

// Node is one arena slot. Only the fields relevant to Kind are meaningful;
// this mirrors the teacher's flat, struct-per-concern style (e.g.
// capture.Meta) more than an interface-per-kind hierarchy, since the kinds
// never grow runtime behavior of their own beyond what Tree drives.
type Node struct {
	Kind      NodeKind
	ParentIdx int // -1 for a root
	Children  []int
	Depth     int
	Path      string

	// KindCondition
	Expr     *value.Expr
	ExprText string
	StartMS  int64 // unsetTiming if absent
	StopMS   int64 // unsetTiming if absent
	Armed    bool
	LastTruth TriState
	Monitor  *monitor.Monitor

	// KindSequence
	Cursor int

	// KindEmit
	EmitSignal        string
	EmitValueExpr     *value.Expr
	EmitValueExprText string
	DelayMS           int64
}

func (n *Node) isMonitored() bool {
	return n.Kind == KindCondition && (n.StartMS != unsetTiming || n.StopMS != unsetTiming)
}

// EmitSink is the Emission Pipeline's view from the tree's perspective
// (satisfied structurally by internal/emitpipe.Pipeline).
type EmitSink interface {
	Fire(ownerIdx int, signalName string, v value.Value, delayMS int64, nowMS int64)
	CancelOwner(ownerIdx int)
}

// ViolationSink receives completed violation reports (satisfied
// structurally by internal/violation.Logger).
type ViolationSink interface {
	Log(v Violation)
}

// Tree is the Condition Tree plus the runtime wiring (Store, Scheduler,
// EmitSink, ViolationSink) the Monitor/Emission components need. Build
// constructs the shape; Attach wires dependencies; Start arms the
// top-level nodes (§3: "unless it is top-level, in which case the monitor
// arms at program start").
type Tree struct {
	nodes []Node
	roots []int

	store      *signal.Store
	clk        *clock.Scheduler
	emit       EmitSink
	violations ViolationSink

	timerOwner map[clock.TimerID]int
	curNow     int64
	dirty      []int
	queued     []bool
}

// Attach wires runtime dependencies and subscribes every condition node's
// operands against store's reverse index (§4.B).
func (t *Tree) Attach(store *signal.Store, clk *clock.Scheduler, emit EmitSink, violations ViolationSink) {
	t.store = store
	t.clk = clk
	t.emit = emit
	t.violations = violations
	t.timerOwner = make(map[clock.TimerID]int)
	t.queued = make([]bool, len(t.nodes))
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.Kind == KindCondition {
			store.Subscribe(value.Operands(n.Expr), &nodeSubscriber{tree: t, idx: i})
		}
	}
}

type nodeSubscriber struct {
	tree *Tree
	idx  int
}

func (s *nodeSubscriber) Invalidate() { s.tree.markDirty(s.idx) }

func (t *Tree) markDirty(idx int) {
	if t.queued[idx] {
		return
	}
	t.queued[idx] = true
	t.dirty = append(t.dirty, idx)
}

// Start arms every root node at the given logical time (program start).
func (t *Tree) Start(now int64) {
	t.curNow = now
	for _, r := range t.roots {
		if t.nodes[r].Kind == KindEmit {
			// Unconditional emit: produces exactly once at load time (§4.C).
			t.fireEmit(r, now)
			continue
		}
		t.setArmed(r, now, true)
	}
}

// Propagate re-evaluates every node invalidated since the last call, in
// ascending depth order (an approximation of "pre-order" cheap enough to
// compute incrementally: shallower nodes can re-arm or disarm deeper ones,
// so they must be visited first within the same tick).
func (t *Tree) Propagate(now int64) {
	t.curNow = now
	// A 0-delay emission releases synchronously inside reevaluateCondition
	// (via fireEmit -> emit.Fire -> release), which can Invalidate a signal
	// and mark further nodes dirty before this call returns. Loop until a
	// batch produces no further dirty nodes so a same-tick chain (condition
	// -> 0-delay emit -> downstream condition) is fully settled within one
	// Propagate call, per §4.G/§5 (a 0-delay emission may re-trigger a
	// condition within the same tick). delay_ms >= 0 is enforced at build
	// time, so this cannot cycle on an unchanging value: Store.Set only
	// invalidates subscribers when the value actually changes.
	for len(t.dirty) > 0 {
		batch := t.dirty
		t.dirty = nil
		sortByDepth(batch, t.nodes)
		for _, idx := range batch {
			t.queued[idx] = false
			t.reevaluateCondition(idx, now)
		}
	}
}

func sortByDepth(idxs []int, nodes []Node) {
	// insertion sort: batches are small (one per changed operand's
	// subscriber set), matching the teacher's rules.go coalesce() style of
	// avoiding a sort.Slice import for short slices.
	for i := 1; i < len(idxs); i++ {
		j := i
		for j > 0 && nodes[idxs[j-1]].Depth > nodes[idxs[j]].Depth {
			idxs[j-1], idxs[j] = idxs[j], idxs[j-1]
			j--
		}
	}
}

// DispatchTimer delivers a fired scheduler timer to the monitor that owns
// it, if any (a timer may have already been cancelled and removed from
// timerOwner, in which case this is a no-op — cancellation is idempotent).
func (t *Tree) DispatchTimer(id clock.TimerID, now int64) {
	idx, ok := t.timerOwner[id]
	if !ok {
		return
	}
	delete(t.timerOwner, id)
	t.curNow = now
	n := &t.nodes[idx]
	if n.Monitor != nil {
		n.Monitor.TimerFired(monitor.TimerID(id), t.hostFor(idx))
	}
}

func truthOf(v value.Value) TriState {
	if v.IsUndefined() {
		return False // §4.A: Undefined is "treated as not true" for gating
	}
	if v.Truth() {
		return True
	}
	return False
}

func (t *Tree) reevaluateCondition(idx int, now int64) {
	n := &t.nodes[idx]
	if n.Kind != KindCondition || !n.Armed {
		return
	}
	truth := truthOf(value.Eval(n.Expr, t.store))
	prev := n.LastTruth
	n.LastTruth = truth
	if prev != True && truth == True {
		t.onConditionRising(idx, now)
	} else if prev == True && truth != True {
		t.onConditionFalling(idx, now)
	}
}

// onConditionRising handles a False/Unknown -> True transition (§4.C).
func (t *Tree) onConditionRising(idx int, now int64) {
	n := &t.nodes[idx]
	if n.Monitor != nil {
		n.Monitor.ExprTrue(now, t.hostFor(idx))
	} else {
		// Plain conditions: EmitNode children fire on rising edge directly,
		// and immediately satisfy any enclosing sequence gate (§4.D last
		// paragraph, §4.C sequence gating).
		t.fireDirectEmitChildren(idx, now)
		t.advanceSequenceCursor(idx, now)
	}
	for _, c := range n.Children {
		if t.nodes[c].Kind != KindEmit {
			t.setArmed(c, now, true)
		}
	}
}

// onConditionFalling handles a True -> False transition (§4.C): cancel
// descendant monitors/timers/pending emissions, disarm children, reset any
// enclosed sequence cursor.
func (t *Tree) onConditionFalling(idx int, now int64) {
	n := &t.nodes[idx]
	if n.Monitor != nil {
		n.Monitor.ExprFalse(t.hostFor(idx))
	}
	for _, c := range n.Children {
		// Direct EmitNode children of a condition are never armed (they fire
		// on rising edge via fireDirectEmitChildren, not through setArmed), so
		// routing them through setArmed's Armed-gated guard would silently
		// skip the cancel. Cancel their pending delayed emission directly
		// instead (§3 I3: a delayed emission is discarded if its enclosing
		// condition disarms before the delay elapses).
		if t.nodes[c].Kind == KindEmit {
			t.emit.CancelOwner(c)
			continue
		}
		t.setArmed(c, now, false)
	}
}

func (t *Tree) fireDirectEmitChildren(idx int, now int64) {
	n := &t.nodes[idx]
	for _, c := range n.Children {
		if t.nodes[c].Kind == KindEmit {
			t.fireEmit(c, now)
		}
	}
}

// setArmed recursively arms or disarms idx and (per its kind) its
// descendants, matching §4.C's wrapper semantics: parallel arms/disarms
// every child; sequence arms only children[cursor] and disarms all on
// falling, resetting the cursor.
func (t *Tree) setArmed(idx int, now int64, armed bool) {
	n := &t.nodes[idx]
	if n.Armed == armed {
		return
	}
	n.Armed = armed
	switch n.Kind {
	case KindCondition:
		if armed {
			n.LastTruth = Unknown
			if n.Monitor != nil {
				n.Monitor.Arm(now, t.hostFor(idx))
			}
			t.reevaluateCondition(idx, now)
		} else {
			if n.Monitor != nil {
				n.Monitor.Disarm(t.hostFor(idx))
			}
			n.LastTruth = Unknown
			for _, c := range n.Children {
				t.setArmed(c, now, false)
			}
		}
	case KindParallel:
		for _, c := range n.Children {
			t.setArmed(c, now, armed)
		}
	case KindSequence:
		if armed {
			n.Cursor = 0
			if len(n.Children) > 0 {
				t.setArmed(n.Children[0], now, true)
			}
		} else {
			for _, c := range n.Children {
				t.setArmed(c, now, false)
			}
			n.Cursor = 0
		}
	case KindEmit:
		if !armed {
			t.emit.CancelOwner(idx)
		}
	}
}

func (t *Tree) fireEmit(idx int, now int64) {
	n := &t.nodes[idx]
	v := value.Eval(n.EmitValueExpr, t.store)
	t.emit.Fire(idx, n.EmitSignal, v, n.DelayMS, now)
}

// advanceSequenceCursor implements §4.C's sequence gating: when child k
// (the current cursor) completes — reaches True for a plain condition, or
// Satisfied for a monitored one — cursor advances to k+1 and that child is
// armed.
func (t *Tree) advanceSequenceCursor(idx int, now int64) {
	n := &t.nodes[idx]
	if n.ParentIdx < 0 {
		return
	}
	parent := &t.nodes[n.ParentIdx]
	if parent.Kind != KindSequence {
		return
	}
	if parent.Cursor >= len(parent.Children) || parent.Children[parent.Cursor] != idx {
		return
	}
	parent.Cursor++
	if parent.Cursor < len(parent.Children) {
		t.setArmed(parent.Children[parent.Cursor], now, true)
	}
}

// hostFor returns the monitor.Host bridging a ConditionNode's Monitor to
// this Tree's scheduler, violation sink, and satisfaction handling.
func (t *Tree) hostFor(idx int) monitor.Host {
	return &monitorHost{tree: t, idx: idx}
}

type monitorHost struct {
	tree *Tree
	idx  int
}

func (h *monitorHost) ScheduleTimer(deadlineMS int64) monitor.TimerID {
	id := h.tree.clk.Schedule(deadlineMS)
	h.tree.timerOwner[id] = h.idx
	return monitor.TimerID(id)
}

func (h *monitorHost) CancelTimer(id monitor.TimerID) {
	cid := clock.TimerID(id)
	h.tree.clk.Cancel(cid)
	delete(h.tree.timerOwner, cid)
}

func (h *monitorHost) LogViolation(reason monitor.ViolationReason) {
	h.tree.logViolation(h.idx, reason)
}

func (h *monitorHost) OnSatisfied() {
	n := &h.tree.nodes[h.idx]
	h.tree.fireDirectEmitChildren(h.idx, h.tree.curNow)
	h.tree.advanceSequenceCursor(h.idx, h.tree.curNow)
	_ = n
}

// Path returns the stable diagnostic path of a node (the same string
// violation reports carry).
func (t *Tree) Path(idx int) string { return t.nodes[idx].Path }

// String is a debug aid; intentionally terse, not spec-mandated format.
func (n *Node) String() string {
	return fmt.Sprintf("%s %s", n.Kind, n.Path)
}

// ConditionStatus is a read-only snapshot of one ConditionNode, for
// internal/dashboard's live view. Its consumer cannot mutate the tree
// through it.
type ConditionStatus struct {
	Path         string
	ExprText     string
	Armed        bool
	LastTruth    TriState
	Monitored    bool
	MonitorPhase string
}

// Conditions returns a status snapshot of every condition node, in arena
// (build) order.
func (t *Tree) Conditions() []ConditionStatus {
	var out []ConditionStatus
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.Kind != KindCondition {
			continue
		}
		cs := ConditionStatus{
			Path:      n.Path,
			ExprText:  n.ExprText,
			Armed:     n.Armed,
			LastTruth: n.LastTruth,
			Monitored: n.Monitor != nil,
		}
		if n.Monitor != nil {
			cs.MonitorPhase = n.Monitor.Phase.String()
		}
		out = append(out, cs)
	}
	return out
}

func (s TriState) String() string {
	switch s {
	case True:
		return "True"
	case False:
		return "False"
	default:
		return "Unknown"
	}
}
