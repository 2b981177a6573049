package policy

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/bogen85/vsm/internal/clock"
	"github.com/bogen85/vsm/internal/signal"
	"github.com/bogen85/vsm/internal/value"
)

type recordedEmission struct {
	owner   int
	signal  string
	value   value.Value
	delayMS int64
	nowMS   int64
}

// fakeEmit is an in-memory EmitSink standing in for internal/emitpipe: it
// records every Fire/CancelOwner call without modeling release timing,
// which is exactly what the condition-tree tests need (they assert who
// fired and with what value, not when the pipeline releases it).
type fakeEmit struct {
	fired      []recordedEmission
	cancelled  []int
}

func (f *fakeEmit) Fire(owner int, sig string, v value.Value, delayMS int64, now int64) {
	f.fired = append(f.fired, recordedEmission{owner, sig, v, delayMS, now})
}
func (f *fakeEmit) CancelOwner(owner int) { f.cancelled = append(f.cancelled, owner) }

type fakeViolations struct {
	logged []Violation
}

func (f *fakeViolations) Log(v Violation) { f.logged = append(f.logged, v) }

func newHarness(roots []NodeSpec, signals ...string) (*Tree, *signal.Store, *fakeEmit, *fakeViolations) {
	known := make(map[string]struct{}, len(signals))
	for _, s := range signals {
		known[s] = struct{}{}
	}
	tree, errs := Build(roots, known)
	if len(errs) != 0 {
		panic(errs[0])
	}
	store := signal.New()
	emit := &fakeEmit{}
	viol := &fakeViolations{}
	tree.Attach(store, clock.NewScheduler(), emit, viol)
	return tree, store, emit, viol
}

func set(store *signal.Store, tree *Tree, name string, v value.Value, now int64) {
	if store.Set(name, v, now) {
		store.Invalidate(name)
		tree.Propagate(now)
	}
}

func TestScenarioS1SimpleGate(t *testing.T) {
	Convey("Given S1's gate rule", t, func() {
		root := NodeSpec{
			Kind: KindCondition,
			Expr: "phone.call == 'active'",
			StartMS: UnsetTiming, StopMS: UnsetTiming,
			Children: []NodeSpec{
				{Kind: KindEmit, EmitSignal: "car.stop", EmitValueExpr: "true"},
			},
		}
		tree, store, emit, _ := newHarness([]NodeSpec{root}, "phone.call")
		tree.Start(0)

		Convey("input phone.call='active' at t=0 emits car.stop=True once", func() {
			set(store, tree, "phone.call", value.String("active"), 0)
			So(len(emit.fired), ShouldEqual, 1)
			So(emit.fired[0].signal, ShouldEqual, "car.stop")
			So(emit.fired[0].value.AsBool(), ShouldBeTrue)

			Convey("a second identical input at t=100 produces no new emission", func() {
				set(store, tree, "phone.call", value.String("active"), 100)
				So(len(emit.fired), ShouldEqual, 1)
			})
		})
	})
}

func TestScenarioS6Xor(t *testing.T) {
	Convey("Given S6's XOR rule", t, func() {
		root := NodeSpec{
			Kind: KindCondition,
			Expr: "a ^^ b",
			StartMS: UnsetTiming, StopMS: UnsetTiming,
			Children: []NodeSpec{
				{Kind: KindEmit, EmitSignal: "x", EmitValueExpr: "1"},
			},
		}
		tree, store, emit, _ := newHarness([]NodeSpec{root}, "a", "b")
		tree.Start(0)
		set(store, tree, "b", value.Bool(false), -1)

		Convey("a=true at t=0 emits once (a^^b is true with b already false)", func() {
			set(store, tree, "a", value.Bool(true), 0)
			So(len(emit.fired), ShouldEqual, 1)

			Convey("b=true at t=1 makes a^^b false: no new emission", func() {
				set(store, tree, "b", value.Bool(true), 1)
				So(len(emit.fired), ShouldEqual, 1)

				Convey("b=false at t=2 makes a^^b true again: a second emission", func() {
					set(store, tree, "b", value.Bool(false), 2)
					So(len(emit.fired), ShouldEqual, 2)
				})
			})
		})
	})
}

func TestScenarioS7Sequence(t *testing.T) {
	Convey("Given S7's sequence rule", t, func() {
		root := NodeSpec{
			Kind: KindSequence,
			Children: []NodeSpec{
				{
					Kind: KindCondition, Expr: "gear == 'park'",
					StartMS: UnsetTiming, StopMS: UnsetTiming,
					Children: []NodeSpec{{Kind: KindEmit, EmitSignal: "parked", EmitValueExpr: "true"}},
				},
				{
					Kind: KindCondition, Expr: "ignition == true",
					StartMS: UnsetTiming, StopMS: UnsetTiming,
					Children: []NodeSpec{{Kind: KindEmit, EmitSignal: "ignited", EmitValueExpr: "true"}},
				},
			},
		}
		tree, store, emit, _ := newHarness([]NodeSpec{root}, "gear", "ignition")
		tree.Start(0)

		Convey("ignition=true at t=0 is ignored, cursor still awaits gear", func() {
			set(store, tree, "ignition", value.Bool(true), 0)
			So(len(emit.fired), ShouldBeZeroValue)

			Convey("gear=park at t=1 emits parked and advances the cursor", func() {
				set(store, tree, "gear", value.String("park"), 1)
				So(len(emit.fired), ShouldEqual, 1)
				So(emit.fired[0].signal, ShouldEqual, "parked")

				Convey("ignition=true at t=2 now emits ignited", func() {
					set(store, tree, "ignition", value.Bool(true), 2)
					So(len(emit.fired), ShouldEqual, 2)
					So(emit.fired[1].signal, ShouldEqual, "ignited")
				})
			})
		})
	})
}

func TestMonitoredConditionEmitsOnlyAtSatisfied(t *testing.T) {
	Convey("Given a monitored condition with an emit child", t, func() {
		root := NodeSpec{
			Kind: KindCondition, Expr: "door.open == true",
			StartMS: 200, StopMS: 1000,
			Children: []NodeSpec{
				{Kind: KindEmit, EmitSignal: "door.alarm", EmitValueExpr: "true"},
			},
		}
		tree, store, emit, viol := newHarness([]NodeSpec{root}, "door.open")
		tree.Start(0)

		Convey("the expression becoming true at t=50 does not fire the emit child yet", func() {
			set(store, tree, "door.open", value.Bool(true), 50)
			So(emit.fired, ShouldBeEmpty)

			Convey("only when the monitor reaches Satisfied does it fire", func() {
				tree.DispatchTimer(clock.TimerID(lastScheduledTimer(tree, 0)), 1250)
				So(len(emit.fired), ShouldEqual, 1)
				So(emit.fired[0].signal, ShouldEqual, "door.alarm")
				So(viol.logged, ShouldBeEmpty)
			})
		})
	})
}

func TestMonitoredConditionViolationBeforeStart(t *testing.T) {
	Convey("Given a monitored condition that never becomes true in time", t, func() {
		root := NodeSpec{
			Kind: KindCondition, Expr: "door.open == true",
			StartMS: 200, StopMS: 1000,
		}
		tree, _, _, viol := newHarness([]NodeSpec{root}, "door.open")
		tree.Start(0)

		Convey("the start deadline firing logs a before-start violation", func() {
			tree.DispatchTimer(clock.TimerID(lastScheduledTimer(tree, 0)), 200)
			So(len(viol.logged), ShouldEqual, 1)
			So(viol.logged[0].Path, ShouldEqual, "condition[0]")
		})
	})
}

func TestParentFallCancelsDescendantMonitor(t *testing.T) {
	Convey("Given a monitored condition nested under a gate", t, func() {
		root := NodeSpec{
			Kind: KindCondition, Expr: "armed == true",
			StartMS: UnsetTiming, StopMS: UnsetTiming,
			Children: []NodeSpec{
				{
					Kind: KindCondition, Expr: "door.open == true",
					StartMS: 200, StopMS: 1000,
				},
			},
		}
		tree, store, _, viol := newHarness([]NodeSpec{root}, "armed", "door.open")
		tree.Start(0)
		set(store, tree, "armed", value.Bool(true), 0)
		childStartTimer := lastScheduledTimer(tree, 1)

		Convey("the gate falling before the child's start deadline cancels it with no violation", func() {
			set(store, tree, "armed", value.Bool(false), 50)
			So(viol.logged, ShouldBeEmpty)

			Convey("the child's now-cancelled start timer fires nothing when it would have elapsed", func() {
				tree.DispatchTimer(clock.TimerID(childStartTimer), 200)
				So(viol.logged, ShouldBeEmpty)
			})
		})
	})
}

func TestParallelArmsAllChildren(t *testing.T) {
	Convey("Given a parallel of two plain conditions", t, func() {
		root := NodeSpec{
			Kind: KindParallel,
			Children: []NodeSpec{
				{
					Kind: KindCondition, Expr: "a == true",
					StartMS: UnsetTiming, StopMS: UnsetTiming,
					Children: []NodeSpec{{Kind: KindEmit, EmitSignal: "a.seen", EmitValueExpr: "true"}},
				},
				{
					Kind: KindCondition, Expr: "b == true",
					StartMS: UnsetTiming, StopMS: UnsetTiming,
					Children: []NodeSpec{{Kind: KindEmit, EmitSignal: "b.seen", EmitValueExpr: "true"}},
				},
			},
		}
		tree, store, emit, _ := newHarness([]NodeSpec{root}, "a", "b")
		tree.Start(0)

		Convey("b becoming true fires b.seen without needing a first", func() {
			set(store, tree, "b", value.Bool(true), 0)
			So(len(emit.fired), ShouldEqual, 1)
			So(emit.fired[0].signal, ShouldEqual, "b.seen")

			Convey("a becoming true independently fires a.seen", func() {
				set(store, tree, "a", value.Bool(true), 1)
				So(len(emit.fired), ShouldEqual, 2)
				So(emit.fired[1].signal, ShouldEqual, "a.seen")
			})
		})
	})
}

func TestConditionFallCancelsPendingDelayedEmit(t *testing.T) {
	Convey("Given a plain condition with a delayed emit child", t, func() {
		root := NodeSpec{
			Kind: KindCondition, Expr: "x == true",
			StartMS: UnsetTiming, StopMS: UnsetTiming,
			Children: []NodeSpec{
				{Kind: KindEmit, EmitSignal: "y", EmitValueExpr: "true", DelayMS: 2000},
			},
		}
		tree, store, emit, _ := newHarness([]NodeSpec{root}, "x")
		tree.Start(0)

		Convey("x becoming true at t=0 schedules the delayed emit (not yet released)", func() {
			set(store, tree, "x", value.Bool(true), 0)
			So(len(emit.fired), ShouldEqual, 1)
			So(emit.fired[0].delayMS, ShouldEqual, 2000)
			So(emit.cancelled, ShouldBeEmpty)

			Convey("x becoming false at t=500, before the 2000ms delay elapses, cancels the pending emission", func() {
				set(store, tree, "x", value.Bool(false), 500)
				So(emit.cancelled, ShouldContain, 1)
			})
		})
	})
}

// lastScheduledTimer returns the most recently scheduled clock.TimerID owned
// by the node at idx — a test-only peek at Tree.timerOwner, standing in for
// a real driver's Due()-driven dispatch loop.
func lastScheduledTimer(tree *Tree, idx int) uint64 {
	var found uint64
	for id, owner := range tree.timerOwner {
		if owner == idx && uint64(id) > found {
			found = uint64(id)
		}
	}
	return found
}
