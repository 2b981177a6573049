// Package dashboard is an optional full-screen live view of signal state,
// armed conditions, and recent emissions, driven by tcell the way
// dot.go/output-tool.relaunch.pty's local/viewer package drives its capture
// browser — same screen setup, same top/bottom bar convention, same
// draw-text/draw-line helpers — but tailed against live state instead of a
// static capture file, since there is no fixed record list to scroll.
package dashboard

import (
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/bogen85/vsm/internal/value"
)

// Options mirrors the teacher's viewer.Options shape, trimmed to the knobs
// a live view actually uses.
type Options struct {
	Title         string
	ShowTopBar    bool
	ShowBottomBar bool
	Mouse         bool
	RefreshMS     int // redraw tick; 0 defaults to 250ms
}

// SignalRow is one line of the signal pane.
type SignalRow struct {
	Name    string
	Literal string
	AgeMS   int64
}

// ConditionRow is one line of the condition pane (armed state + monitor
// phase, straight from policy.Tree.Conditions()).
type ConditionRow struct {
	Path         string
	ExprText     string
	Armed        bool
	LastTruth    string
	Monitored    bool
	MonitorPhase string
}

// EmissionRow is one recent release, newest last.
type EmissionRow struct {
	NowMS int64
	Name  string
	Value value.Value
}

// Dashboard is a read-only tap: the driver loop pushes fresh snapshots into
// it via Update after each Propagate/fireDue, and the screen-rendering loop
// (its own goroutine, blocked in tcell's PollEvent) reads the latest
// snapshot under a mutex. Neither side touches internal/signal.Store or
// internal/policy.Tree directly, keeping the core's single-threaded model
// (§5) intact.
type Dashboard struct {
	opts Options

	mu         sync.Mutex
	signals    []SignalRow
	conditions []ConditionRow
	emissions  []EmissionRow

	maxEmissions int
	done         chan struct{}
}

// New constructs a Dashboard. Call Run to take over the terminal.
func New(opts Options) *Dashboard {
	if opts.RefreshMS <= 0 {
		opts.RefreshMS = 250
	}
	return &Dashboard{opts: opts, maxEmissions: 200, done: make(chan struct{})}
}

// Update replaces the current snapshot. Safe to call from the driver's
// goroutine at any rate; Run only ever reads the latest one.
func (d *Dashboard) Update(signals []SignalRow, conditions []ConditionRow) {
	d.mu.Lock()
	d.signals = signals
	d.conditions = conditions
	d.mu.Unlock()
}

// Emit satisfies internal/emitpipe.Sink: every released emission is appended
// to a bounded recent-emissions ring for display.
func (d *Dashboard) Emit(nowMS int64, name string, v value.Value) {
	d.mu.Lock()
	d.emissions = append(d.emissions, EmissionRow{NowMS: nowMS, Name: name, Value: v})
	if len(d.emissions) > d.maxEmissions {
		d.emissions = d.emissions[len(d.emissions)-d.maxEmissions:]
	}
	d.mu.Unlock()
}

// Close stops Run's redraw ticker and releases the terminal, if Run is
// active.
func (d *Dashboard) Close() {
	select {
	case <-d.done:
	default:
		close(d.done)
	}
}

// Run takes over the terminal and redraws at opts.RefreshMS until the user
// quits (q/Esc) or Close is called. It blocks; callers should run it in its
// own goroutine alongside the driver loop.
func (d *Dashboard) Run() error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	defer screen.Fini()

	if d.opts.Mouse {
		screen.EnableMouse()
	} else {
		screen.DisableMouse()
	}

	ticker := time.NewTicker(time.Duration(d.opts.RefreshMS) * time.Millisecond)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				screen.PostEvent(tcell.NewEventInterrupt(nil))
			case <-d.done:
				screen.PostEvent(tcell.NewEventInterrupt(nil))
				return
			}
		}
	}()

	normalStyle := tcell.StyleDefault.Foreground(tcell.ColorWhite).Background(tcell.ColorBlack)
	armedStyle := tcell.StyleDefault.Foreground(tcell.ColorBlack).Background(tcell.ColorGreen)
	violatedStyle := tcell.StyleDefault.Foreground(tcell.ColorWhite).Background(tcell.ColorRed)
	topStyle := tcell.StyleDefault.Foreground(tcell.ColorBlack).Background(tcell.ColorGreen)
	botStyle := tcell.StyleDefault.Foreground(tcell.ColorBlack).Background(tcell.ColorYellow)

	for {
		w, h := screen.Size()
		bodyTop := 0
		if d.opts.ShowTopBar {
			bodyTop = 1
		}
		bodyBottom := h
		if d.opts.ShowBottomBar {
			bodyBottom--
		}

		screen.Clear()

		d.mu.Lock()
		signals := d.signals
		conditions := d.conditions
		emissions := d.emissions
		d.mu.Unlock()

		if d.opts.ShowTopBar {
			s := fmt.Sprintf(" %s | signals:%d conditions:%d emissions:%d ",
				d.opts.Title, len(signals), len(conditions), len(emissions))
			drawLine(screen, 0, 0, w, s, topStyle)
		}

		half := w / 2
		row := bodyTop
		drawLine(screen, 0, row, half, " SIGNAL", normalStyle)
		row++
		for _, sr := range signals {
			if row >= bodyBottom {
				break
			}
			drawText(screen, 0, row, fmt.Sprintf(" %-20s %s", sr.Name, sr.Literal), normalStyle)
			row++
		}

		row = bodyTop
		drawLine(screen, half, row, w-half, " CONDITION", normalStyle)
		row++
		for _, cr := range conditions {
			if row >= bodyBottom {
				break
			}
			st := normalStyle
			if cr.Armed {
				st = armedStyle
			}
			if cr.MonitorPhase == "Violated" {
				st = violatedStyle
			}
			label := cr.Path
			if cr.Monitored {
				label += " [" + cr.MonitorPhase + "]"
			}
			drawText(screen, half, row, fmt.Sprintf(" %-30s %s", label, cr.LastTruth), st)
			row++
		}

		if d.opts.ShowBottomBar {
			var last string
			if len(emissions) > 0 {
				e := emissions[len(emissions)-1]
				last = fmt.Sprintf("last: t=%d %s=%s", e.NowMS, e.Name, e.Value.Literal())
			}
			status := " q/Esc=quit  " + last
			drawLine(screen, 0, h-1, w, status, botStyle)
		}

		screen.Show()

		select {
		case <-d.done:
			return nil
		default:
		}

		ev := screen.PollEvent()
		switch e := ev.(type) {
		case *tcell.EventInterrupt:
			// wakes the loop to redraw on each refresh tick, and once more
			// on Close so the done-check above catches it next iteration.
			_ = e
		case *tcell.EventResize:
			screen.Sync()
		case *tcell.EventKey:
			switch e.Key() {
			case tcell.KeyEsc:
				return nil
			case tcell.KeyRune:
				switch e.Rune() {
				case 'q', 'Q':
					return nil
				}
			}
		}
	}
}

func drawText(s tcell.Screen, x, y int, text string, st tcell.Style) {
	w, _ := s.Size()
	if y < 0 || x >= w {
		return
	}
	rx := x
	for _, r := range text {
		if rx >= w {
			break
		}
		s.SetContent(rx, y, r, nil, st)
		rx++
	}
}

func drawLine(s tcell.Screen, x, y, w int, text string, st tcell.Style) {
	for i := 0; i < w; i++ {
		s.SetContent(x+i, y, ' ', nil, st)
	}
	drawText(s, x, y, truncateTo(text, w), st)
}

func truncateTo(s string, max int) string {
	if max <= 0 {
		return ""
	}
	out := make([]rune, 0, max)
	for _, r := range s {
		if len(out) >= max {
			break
		}
		out = append(out, r)
	}
	return string(out)
}
