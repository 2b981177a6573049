// Package signal implements the Signal State Store of §4.B: a name -> typed
// value map with change detection and a reverse index from signal name to
// the condition nodes whose expression touches it.
package signal

import "github.com/bogen85/vsm/internal/value"

// Subscriber is implemented by internal/policy's per-condition-node
// subscriber (nodeSubscriber). Kept as a
// minimal interface here so this package does not import policy (the
// dependency runs the other way: policy imports signal).
type Subscriber interface {
	// Invalidate is called when a signal this subscriber depends on changes.
	Invalidate()
}

// Signal is one named, typed, observable variable (§3).
type Signal struct {
	Name         string
	ID           uint32
	HasID        bool
	Value        value.Value
	LastUpdateMS int64
}

// Store is the single mutator of signal state. It is not safe for
// concurrent use — per §5 the driver loop is the sole mutator.
type Store struct {
	signals map[string]*Signal
	subs    map[string][]Subscriber
}

func New() *Store {
	return &Store{
		signals: make(map[string]*Signal),
		subs:    make(map[string][]Subscriber),
	}
}

// Set updates name's value, creating the signal on first observation
// (§3: "Signals created on first observation; retained process-lifetime").
// It returns true iff the new value is distinct from the prior one.
func (s *Store) Set(name string, v value.Value, tsMS int64) bool {
	sig, ok := s.signals[name]
	if !ok {
		s.signals[name] = &Signal{Name: name, Value: v, LastUpdateMS: tsMS}
		return true
	}
	changed := sig.Value.Kind() != v.Kind() || !sig.Value.Equal(v)
	sig.Value = v
	sig.LastUpdateMS = tsMS
	return changed
}

// SetID records the numeric id associated with name (populated from the
// signal-number mapping at load time; see internal/sigmap).
func (s *Store) SetID(name string, id uint32) {
	sig, ok := s.signals[name]
	if !ok {
		sig = &Signal{Name: name, Value: value.Undefined}
		s.signals[name] = sig
	}
	sig.ID = id
	sig.HasID = true
}

// Get implements value.Env: unknown signals evaluate to Undefined (§3).
func (s *Store) Get(name string) value.Value {
	if sig, ok := s.signals[name]; ok {
		return sig.Value
	}
	return value.Undefined
}

// Lookup returns the full Signal record, if any has been observed.
func (s *Store) Lookup(name string) (*Signal, bool) {
	sig, ok := s.signals[name]
	return sig, ok
}

// ID returns the numeric id for name, if known.
func (s *Store) ID(name string) (uint32, bool) {
	if sig, ok := s.signals[name]; ok && sig.HasID {
		return sig.ID, true
	}
	return 0, false
}

// Names returns every signal name observed so far, in no particular order
// (used by internal/dashboard to enumerate what to display; the core never
// needs this).
func (s *Store) Names() []string {
	out := make([]string, 0, len(s.signals))
	for name := range s.signals {
		out = append(out, name)
	}
	return out
}

// Subscribe registers sub against every name in names — built at load time
// from value.Operands(expr) per §4.B.
func (s *Store) Subscribe(names map[string]struct{}, sub Subscriber) {
	for name := range names {
		s.subs[name] = append(s.subs[name], sub)
	}
}

// Invalidate notifies every subscriber of name that its operand changed.
func (s *Store) Invalidate(name string) {
	for _, sub := range s.subs[name] {
		sub.Invalidate()
	}
}
