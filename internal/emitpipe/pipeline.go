// Package emitpipe implements the Emission Pipeline of §4.E: scheduling a
// value computed at fire time for release at a later logical time, and
// releasing it into the signal store, the transport, and the capture log.
package emitpipe

import (
	"github.com/bogen85/vsm/internal/clock"
	"github.com/bogen85/vsm/internal/signal"
	"github.com/bogen85/vsm/internal/value"
)

// Sink receives a released emission. internal/transport and
// internal/capturelog each implement this independently; Pipeline fans out
// to every sink registered, the way output-tool's capture writer and viewer
// both observe the same stream without knowing about each other.
type Sink interface {
	Emit(nowMS int64, name string, v value.Value)
}

type pending struct {
	owner  int
	signal string
	value  value.Value
}

// Pipeline is Component E. It shares the driver's Scheduler with
// internal/policy's monitors: a fired clock.TimerID belongs to at most one
// of the two, and each ignores ids it does not recognize (see
// policy.Tree.DispatchTimer and Pipeline.Deliver).
type Pipeline struct {
	clk   *clock.Scheduler
	store *signal.Store
	sinks []Sink

	byTimer map[clock.TimerID]pending
	byOwner map[int][]clock.TimerID
}

func New(clk *clock.Scheduler, store *signal.Store, sinks ...Sink) *Pipeline {
	return &Pipeline{
		clk:     clk,
		store:   store,
		sinks:   sinks,
		byTimer: make(map[clock.TimerID]pending),
		byOwner: make(map[int][]clock.TimerID),
	}
}

// Fire evaluates to a Value at call time (already done by the caller — see
// policy.Tree.fireEmit) and either releases it immediately (delayMS <= 0) or
// schedules its release (§3: "delay_ms: release_time = trigger_time +
// delay_ms"). Repeated firings of the same owner are never coalesced: each
// gets its own timer and releases independently, in FIFO order, per §4.E.
func (p *Pipeline) Fire(owner int, signalName string, v value.Value, delayMS int64, nowMS int64) {
	if delayMS <= 0 {
		p.release(nowMS, signalName, v)
		return
	}
	id := p.clk.Schedule(nowMS + delayMS)
	p.byTimer[id] = pending{owner: owner, signal: signalName, value: v}
	p.byOwner[owner] = append(p.byOwner[owner], id)
}

// CancelOwner discards every emission still pending for owner, per §5/I3:
// "a delayed emission is released at exactly release_time unless its
// enclosing condition disarms before then, in which case it is discarded."
func (p *Pipeline) CancelOwner(owner int) {
	for _, id := range p.byOwner[owner] {
		p.clk.Cancel(id)
		delete(p.byTimer, id)
	}
	delete(p.byOwner, owner)
}

// Deliver releases a due timer, if Pipeline owns it (a foreign id — e.g. one
// owned by a policy.Tree monitor — is silently ignored, matching
// policy.Tree.DispatchTimer's symmetric no-op).
func (p *Pipeline) Deliver(id clock.TimerID, nowMS int64) {
	pe, ok := p.byTimer[id]
	if !ok {
		return
	}
	delete(p.byTimer, id)
	p.removeOwnerTimer(pe.owner, id)
	p.release(nowMS, pe.signal, pe.value)
}

func (p *Pipeline) removeOwnerTimer(owner int, id clock.TimerID) {
	ids := p.byOwner[owner]
	for i, existing := range ids {
		if existing == id {
			p.byOwner[owner] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

// release updates the store (so the emitted signal can itself be a
// condition operand: a 0-delay release inside Tree.Propagate is settled by
// that same call, a delayed one by the Propagate the driver runs after
// Deliver) and fans the value out to every registered Sink.
func (p *Pipeline) release(nowMS int64, signalName string, v value.Value) {
	changed := p.store.Set(signalName, v, nowMS)
	if changed {
		p.store.Invalidate(signalName)
	}
	for _, s := range p.sinks {
		s.Emit(nowMS, signalName, v)
	}
}
