// Package monitor implements the Monitor State Machine of §4.D: the
// lifecycle of a monitored ConditionNode (one with start_ms/stop_ms),
// expressed as an explicit state table rather than a stackful coroutine,
// per the design note in spec.md §9.
package monitor

// Phase is one of the six monitor lifecycle states of §4.D.
type Phase int

const (
	Idle Phase = iota
	AwaitStart
	InWindow
	Satisfied
	Violated
	Cancelled
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "Idle"
	case AwaitStart:
		return "AwaitStart"
	case InWindow:
		return "InWindow"
	case Satisfied:
		return "Satisfied"
	case Violated:
		return "Violated"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// TimerID is an opaque handle from a scheduler (internal/clock.TimerID),
// re-declared here so this package does not import internal/clock —
// callers pass concrete IDs back through Host.
type TimerID uint64

// ViolationReason names why a monitor transitioned to Violated, used by
// internal/violation to pick the exact wording of §4.D's table.
type ViolationReason int

const (
	ViolationBeforeStart ViolationReason = iota // "condition not satisfied before start window"
	ViolationDuringWindow                       // "condition went false within stop window"
)

// Host performs the side effects a Monitor's transitions require: arming
// and cancelling timers, logging violations, and signalling satisfaction.
// Kept as an interface (rather than the Monitor calling internal/clock and
// internal/violation directly) so the state table in this file can be unit
// tested without a scheduler or a log file, matching the teacher's
// preference for small, narrowly-scoped interfaces (e.g. value.Env) over
// concrete coupling.
type Host interface {
	ScheduleTimer(deadlineMS int64) TimerID
	CancelTimer(id TimerID)
	LogViolation(reason ViolationReason)
	OnSatisfied()
}

// Monitor is the runtime state of one monitored ConditionNode.
// (MonitorRuntime in spec.md §3/§4.D.)
type Monitor struct {
	StartMS int64 // -1 if unset
	StopMS  int64 // -1 if unset

	Phase        Phase
	ArmTimeMS    int64
	startTimerID TimerID
	stopTimerID  TimerID
	hasStartT    bool
	hasStopT     bool
}

// New constructs a Monitor for a condition with the given start/stop
// timing. A timing of -1 means "unset" (§3: both are optional).
func New(startMS, stopMS int64) *Monitor {
	return &Monitor{StartMS: startMS, StopMS: stopMS, Phase: Idle}
}

// Arm handles the ARM event (§4.D row 1): the parent context rose.
//
// A StartMS of -1 means "no start window" (the field was unset in the
// rule) and the monitor waits indefinitely in AwaitStart for EXPR_T; it is
// distinct from StartMS==0, which schedules a deadline at exactly now and
// lets the driver's normal same-tick timer delivery decide the race against
// EXPR_T (see the Open Question resolution in SPEC_FULL.md / spec.md §9:
// an expression already true arms straight into InWindow because the tree
// evaluates the child's own truth in the same propagation step that arms
// it, before 0-delay timers are released).
func (m *Monitor) Arm(nowMS int64, host Host) {
	m.ArmTimeMS = nowMS
	m.Phase = AwaitStart
	if m.StartMS < 0 {
		return
	}
	m.startTimerID = host.ScheduleTimer(nowMS + m.StartMS)
	m.hasStartT = true
}

// Disarm handles the DISARM event: the parent context fell.
func (m *Monitor) Disarm(host Host) {
	switch m.Phase {
	case AwaitStart, InWindow:
		m.cancelTimers(host)
		m.Phase = Cancelled
	}
	// Satisfied/Violated/Cancelled: disarming a terminal monitor is a no-op
	// until the next ARM re-arms it (§4.D last row).
}

// ExprTrue handles EXPR_T: the monitor's own expression became true.
func (m *Monitor) ExprTrue(nowMS int64, host Host) {
	if m.Phase != AwaitStart {
		return
	}
	if m.hasStartT {
		host.CancelTimer(m.startTimerID)
		m.hasStartT = false
	}
	m.Phase = InWindow
	if m.StopMS >= 0 {
		// §4.D: "schedule T_STOP at arm_time+start_ms+stop_ms". If the start
		// window is itself unset, the stop window counts from now instead.
		base := nowMS
		if m.StartMS >= 0 {
			base = m.ArmTimeMS + m.StartMS
		}
		m.stopTimerID = host.ScheduleTimer(base + m.StopMS)
		m.hasStopT = true
	}
}

// ExprFalse handles EXPR_F: the monitor's own expression went false while
// InWindow — a violation (§4.D row "InWindow | EXPR_F | Violated").
func (m *Monitor) ExprFalse(host Host) {
	if m.Phase != InWindow {
		return
	}
	m.cancelTimers(host)
	m.Phase = Violated
	host.LogViolation(ViolationDuringWindow)
}

// handleTStart fires when the start deadline elapses while AwaitStart.
func (m *Monitor) handleTStart(host Host) {
	m.hasStartT = false
	if m.Phase != AwaitStart {
		return
	}
	m.Phase = Violated
	host.LogViolation(ViolationBeforeStart)
}

// handleTStop fires when the stop deadline elapses while InWindow.
func (m *Monitor) handleTStop(host Host) {
	m.hasStopT = false
	if m.Phase != InWindow {
		return
	}
	m.Phase = Satisfied
	host.OnSatisfied()
}

// TimerFired dispatches a fired TimerID to the correct transition. The
// caller (internal/policy's Tree.DispatchTimer) looks up which monitor owns
// a given TimerID and calls this; Monitor itself decides whether the id is its start or stop
// timer (a stale id — e.g. a cancelled-then-refired race — is ignored).
func (m *Monitor) TimerFired(id TimerID, host Host) {
	switch {
	case m.hasStartT && id == m.startTimerID:
		m.handleTStart(host)
	case m.hasStopT && id == m.stopTimerID:
		m.handleTStop(host)
	}
}

func (m *Monitor) cancelTimers(host Host) {
	if m.hasStartT {
		host.CancelTimer(m.startTimerID)
		m.hasStartT = false
	}
	if m.hasStopT {
		host.CancelTimer(m.stopTimerID)
		m.hasStopT = false
	}
}

// PendingTimers reports the currently outstanding timer ids, if any — used
// by tests.
func (m *Monitor) PendingTimers() (start, stop TimerID, hasStart, hasStop bool) {
	return m.startTimerID, m.stopTimerID, m.hasStartT, m.hasStopT
}
