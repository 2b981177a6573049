// Package driver implements the Driver Loop of §4.G: it accepts input
// signal updates, advances logical time, dispatches due timers, and
// serializes outputs. Per §5, the core (Store/Tree/Scheduler/Pipeline) is
// single-threaded and cooperative; the only concurrency here is at the
// I/O boundary, where input sources run their own goroutines and feed this
// loop through channels merged with niceyeti/channerics — the same
// combinator niceyeti-tabular uses to fan multiple worker channels into one
// consumer loop.
package driver

import (
	"time"

	channerics "github.com/niceyeti/channerics/channels"

	"github.com/bogen85/vsm/internal/capturelog"
	"github.com/bogen85/vsm/internal/clock"
	"github.com/bogen85/vsm/internal/emitpipe"
	"github.com/bogen85/vsm/internal/policy"
	"github.com/bogen85/vsm/internal/signal"
	"github.com/bogen85/vsm/internal/sigmap"
	"github.com/bogen85/vsm/internal/transport"
)

// Driver wires the Policy Manager core (B, C, D via Tree, E, F) to the
// outside world.
type Driver struct {
	Store *signal.Store
	Tree  *policy.Tree
	Clock *clock.Scheduler
	Pipe  *emitpipe.Pipeline
	Rate  *clock.RateClock
	IDs   *sigmap.Map

	// Capture, if set, records every ingested input event alongside every
	// released emission (Pipeline records emissions on its own; Capture
	// here covers the other half of the trace) so a capture followed by a
	// 100% replay reproduces the same output trace (§3 I5).
	Capture emitpipe.Sink

	// EchoInput, if set, echoes every ingested input event back out (e.g. to
	// stdout with the '>' prefix via transport.NewEchoWriter), per §6: "'>'
	// marks incoming when echoed".
	EchoInput emitpipe.Sink

	OnInputError func(error)

	// OnTick, if set, is called after every propagation step (an input
	// applied or a timer dispatched) with the logical time it happened at.
	// internal/dashboard uses this to refresh its snapshot; nothing in the
	// core depends on it.
	OnTick func(nowMS int64)
}

// New constructs a Driver from already-attached components (see cmd/vsmd
// for the construction order: Tree.Build -> Store -> Scheduler ->
// Pipeline -> Tree.Attach -> Driver).
func New(store *signal.Store, tree *policy.Tree, clk *clock.Scheduler, pipe *emitpipe.Pipeline, rate *clock.RateClock) *Driver {
	return &Driver{Store: store, Tree: tree, Clock: clk, Pipe: pipe, Rate: rate}
}

// applyInput ingests one input event at logical time now: translates a
// numeric-id name if IDs are in play, updates the store, and propagates.
func (d *Driver) applyInput(ev transport.InputEvent, now int64) {
	name := ev.Name
	if d.IDs != nil {
		if n, ok := resolveIDName(d.IDs, name); ok {
			name = n
		}
	}
	if d.Store.Set(name, ev.Value, now) {
		d.Store.Invalidate(name)
	}
	if d.Capture != nil {
		d.Capture.Emit(now, name, ev.Value)
	}
	if d.EchoInput != nil {
		d.EchoInput.Emit(now, name, ev.Value)
	}
	d.Tree.Propagate(now)
	if d.OnTick != nil {
		d.OnTick(now)
	}
}

// resolveIDName treats a purely-numeric event name as a signal id and
// translates it to its mapped name (§6: "Inputs may arrive by name or by
// numeric ID; numeric IDs are translated at ingress").
func resolveIDName(m *sigmap.Map, name string) (string, bool) {
	n, err := parseUint32(name)
	if err != nil {
		return "", false
	}
	return m.Name(n)
}

func parseUint32(s string) (uint32, error) {
	var n uint64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errNotNumeric
		}
		n = n*10 + uint64(r-'0')
	}
	if len(s) == 0 {
		return 0, errNotNumeric
	}
	return uint32(n), nil
}

var errNotNumeric = &numericErr{}

type numericErr struct{}

func (*numericErr) Error() string { return "driver: not a numeric id" }

// fireDue pops every timer due at logical time now and dispatches each to
// whichever of Tree or Pipe owns it (an id belongs to exactly one),
// re-propagating the tree after each dispatch since a released or
// satisfied emission can itself be a condition operand.
func (d *Driver) fireDue(now int64) {
	for _, id := range d.Clock.Due(now) {
		d.Tree.DispatchTimer(id, now)
		d.Pipe.Deliver(id, now)
		d.Tree.Propagate(now)
	}
	if d.OnTick != nil {
		d.OnTick(now)
	}
}

// Start arms the tree at logical time 0 (program start, §3 invariant 2).
func (d *Driver) Start() {
	d.Tree.Start(0)
}

// RunLive drives the loop against a live transport.Reader, converting
// wall-clock reads through Rate and sleeping until either new input arrives
// or the next scheduled timer is due. done, closed by the caller, stops the
// merge and returns control to RunLive's caller.
func (d *Driver) RunLive(r *transport.Reader, done <-chan struct{}) {
	// channerics.Merge is written for fanning in an arbitrary number of
	// same-typed producer channels; today there is exactly one (stdin), but
	// this keeps the loop ready to merge in e.g. a dashboard command
	// channel without restructuring the select below.
	events := channerics.Merge(done, (<-chan transport.InputEvent)(r.Events))

	startWall := wallNowMS()
	d.Rate.Reset(startWall)

	for {
		var timerC <-chan time.Time
		if deadline, ok := d.Clock.NextDeadline(); ok {
			wallDeadline := d.Rate.WallFromLogical(deadline)
			timerC = time.After(time.Duration(wallDeadline-wallNowMS()) * time.Millisecond)
		}

		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.applyInput(ev, d.Rate.LogicalFromWall(wallNowMS()))
		case <-timerC:
			d.fireDue(d.Rate.LogicalFromWall(wallNowMS()))
		case err := <-r.Errors:
			if err != nil && d.OnInputError != nil {
				d.OnInputError(err)
			}
		case <-done:
			return
		}
	}
}

func wallNowMS() int64 { return time.Now().UnixMilli() }

// RunReplay drives the loop over a pre-recorded capture with no real
// sleeping: records and due timers are processed strictly in logical-time
// order, as fast as the host can run (§3 I5: "capture followed by replay at
// 100% reproduces the same output trace"). Each record's own TimestampMS is
// already logical (capture log timestamps are relative to capture start),
// so no RateClock is needed to reconstruct ordering — only Driver.RunPaced
// needs one, to reproduce the trace at a particular wall-clock pace.
func (d *Driver) RunReplay(records []capturelog.Record) {
	for _, rec := range records {
		d.drainTimersUpTo(rec.TimestampMS)
		d.applyInput(transport.InputEvent{Name: rec.Name, Value: rec.Value}, rec.TimestampMS)
	}
	d.drainAllTimers()
}

// RunPaced replays a capture at replay_rate% of real time, sleeping between
// records the way a live run would have paused between inputs. done, closed
// by the caller, aborts the replay early.
func (d *Driver) RunPaced(replay *capturelog.Replay, done <-chan struct{}) {
	for {
		rec, wallDueMS, ok := replay.Next()
		if !ok {
			break
		}
		for {
			deadline, hasTimer := d.Clock.NextDeadline()
			if !hasTimer {
				break
			}
			wall := d.Rate.WallFromLogical(deadline)
			if wall > wallDueMS {
				break
			}
			if !sleepUntil(wall, done) {
				return
			}
			d.fireDue(deadline)
		}
		if !sleepUntil(wallDueMS, done) {
			return
		}
		d.applyInput(transport.InputEvent{Name: rec.Name, Value: rec.Value}, rec.TimestampMS)
	}
	d.drainAllTimers()
}

func (d *Driver) drainTimersUpTo(logicalMS int64) {
	for {
		deadline, hasTimer := d.Clock.NextDeadline()
		if !hasTimer || deadline > logicalMS {
			return
		}
		d.fireDue(deadline)
	}
}

func (d *Driver) drainAllTimers() {
	for {
		deadline, hasTimer := d.Clock.NextDeadline()
		if !hasTimer {
			return
		}
		d.fireDue(deadline)
	}
}

// sleepUntil blocks until wallMS or done, whichever comes first, reporting
// false if done fired.
func sleepUntil(wallMS int64, done <-chan struct{}) bool {
	dur := time.Duration(wallMS-wallNowMS()) * time.Millisecond
	if dur <= 0 {
		select {
		case <-done:
			return false
		default:
			return true
		}
	}
	select {
	case <-time.After(dur):
		return true
	case <-done:
		return false
	}
}
