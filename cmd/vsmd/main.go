package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/bogen85/vsm/internal/capturelog"
	"github.com/bogen85/vsm/internal/clock"
	"github.com/bogen85/vsm/internal/dashboard"
	"github.com/bogen85/vsm/internal/driver"
	"github.com/bogen85/vsm/internal/emitpipe"
	"github.com/bogen85/vsm/internal/policy"
	"github.com/bogen85/vsm/internal/ruleconfig"
	"github.com/bogen85/vsm/internal/sigmap"
	"github.com/bogen85/vsm/internal/signal"
	"github.com/bogen85/vsm/internal/transport"
	"github.com/bogen85/vsm/internal/violation"
	"github.com/bogen85/vsm/internal/vsmconfig"
)

var (
	flagConfigPath  = flag.String("config", "", "Path to vsmd config TOML (use /default to resolve to XDG path)")
	flagNewConfig   = flag.Bool("write-new-config", false, "Write a new config TOML and exit")
	flagForceConfig = flag.Bool("force", false, "Allow overwriting config when writing a new one")

	flagRun       = flag.Bool("run", false, "Run the driver against live stdin/stdout")
	flagReplay    = flag.String("replay", "", "Replay a capture log PATH instead of reading stdin")
	flagRecord    = flag.Bool("record", false, "Also write every emission to the capture log while running")
	flagDashboard = flag.Bool("dashboard", false, "Launch the live tcell dashboard alongside the run")
	flagEchoInput = flag.Bool("echo-input", false, "Echo every ingested input line back to stdout with the '>' prefix")

	flagRuleFile    = flag.String("rules", "", "Rule file TOML path (overrides config)")
	flagSignalMap   = flag.String("signal-map", "", "Signal-number mapping file path (overrides config)")
	flagCapturePath = flag.String("capture", "", "Capture log path (overrides config)")
	flagViolLog     = flag.String("violation-log", "", "Violation log path (overrides config)")
	flagReplayRate  = flag.Float64("replay-rate", 0, "Replay rate percent, 0 < r <= 10000 (overrides config; 0 = use config)")
	flagPaced       = flag.Bool("paced", false, "Replay at replay-rate wall-clock pace instead of as fast as possible")

	flagCheckRules = flag.Bool("check-rules", false, "Load the signal map and rule file, validate, print a summary, and exit")

	flagUsage             = flag.Bool("usage", false, "Show usage")
	flagPrintEffectiveCfg = flag.Bool("print-effective-config", false, "Print the resolved config and exit")
	flagWhichConfig       = flag.Bool("which-config", false, "Print the resolved config path and origin, then exit")
)

func usage() {
	fmt.Fprintf(os.Stdout, `Usage:
  vsmd --run [--record] [--dashboard] [--echo-input] [--rules=PATH] [--signal-map=PATH]
  vsmd --replay=capture.csv [--paced] [--replay-rate=100] [--rules=PATH] [--signal-map=PATH]
  vsmd --check-rules [--rules=PATH] [--signal-map=PATH]

Config:
  --config=/default        Use ${XDG_CONFIG_HOME:-~/.config}/vsm/vsmd-config.toml
  --write-new-config       Write a new config TOML and exit (respects --config and --force)
  --force                  Overwrite config if it exists (when writing)
  --print-effective-config Print the merged config (defaults -> file -> CLI) and exit
  --which-config           Print the resolved config path and origin, then exit

Notes:
  - --run reads "name = value" lines from stdin and writes "< ts,name,id,value" lines to stdout.
  - --replay reads a CSV capture log and re-drives the rule tree from it, reproducing its output trace.
  - --dashboard opens a live full-screen view of signal values, armed conditions, and recent emissions.
  - --echo-input writes each ingested input line back to stdout with a '>' prefix, per the output line format.
`)
}

func main() {
	flag.Parse()
	if *flagUsage {
		usage()
		return
	}

	cfgPath, isDefault, origin := vsmconfig.Resolve(*flagConfigPath)

	if *flagWhichConfig {
		fmt.Printf("config: path=%s origin=%s\n", cfgPath, origin)
		return
	}

	if *flagNewConfig {
		cfg := configFromFlags(vsmconfig.Default())
		st, err := vsmconfig.Save(cfgPath, cfg, *flagForceConfig)
		fmt.Printf("config: %s %s\n", st, cfgPath)
		if err != nil {
			fatalf("config: %v", err)
		}
		return
	}

	cfg, err := vsmconfig.Load(cfgPath)
	if err != nil {
		if *flagConfigPath != "" && !isDefault {
			fmt.Printf("config: not found %s (using compiled defaults)\n", cfgPath)
		}
		cfg = vsmconfig.Default()
	}
	applyFlagsToConfig(cfg)
	validateReplayRate(cfg.ReplayRate)

	if *flagPrintEffectiveCfg {
		fmt.Print(cfg.Effective())
		return
	}

	doc, err := ruleconfig.Load(cfg.RuleFile)
	if err != nil {
		fatalf("rules: %v", err)
	}

	var ids *sigmap.Map
	knownSignals := map[string]struct{}{}
	if cfg.SignalMap != "" {
		if _, err := os.Stat(cfg.SignalMap); err == nil {
			ids, err = sigmap.Load(cfg.SignalMap)
			if err != nil {
				fatalf("signal-map: %v", err)
			}
			for _, name := range ids.Names() {
				knownSignals[name] = struct{}{}
			}
		}
	}
	collectOperandSignals(doc, knownSignals)

	specs, errs := ruleconfig.ToNodeSpecs(doc)
	if len(errs) != 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e)
		}
		fatalf("rules: %d validation error(s)", len(errs))
	}

	tree, buildErrs := policy.Build(specs, knownSignals)
	if len(buildErrs) != 0 {
		for _, e := range buildErrs {
			fmt.Fprintln(os.Stderr, e)
		}
		fatalf("rules: %d build error(s)", len(buildErrs))
	}

	if *flagCheckRules {
		fmt.Printf("rules: %s: %d root node(s) validated OK\n", cfg.RuleFile, len(specs))
		return
	}

	store := signal.New()
	if ids != nil {
		for _, name := range ids.Names() {
			if id, ok := ids.ID(name); ok {
				store.SetID(name, id)
			}
		}
	}
	clk := clock.NewScheduler()

	var sinks []emitpipe.Sink
	out := transport.NewWriter(os.Stdout, store)
	sinks = append(sinks, out)

	var cap *capturelog.Writer
	if *flagRecord {
		cap, err = capturelog.NewWriter(cfg.CapturePath, store)
		if err != nil {
			fatalf("capture: %v", err)
		}
		defer cap.Close()
		sinks = append(sinks, cap)
	}

	var dash *dashboard.Dashboard
	if *flagDashboard {
		dash = dashboard.New(dashboard.Options{
			Title: "vsm", ShowTopBar: true, ShowBottomBar: true,
			Mouse: term.IsTerminal(int(os.Stdout.Fd())),
		})
		sinks = append(sinks, dash)
	}

	rate := cfg.ReplayRate
	if rate <= 0 {
		rate = 100
	}
	rc := clock.NewRateClock(rate, 0)

	// Live runs stamp violations with wall-clock time (RunLive re-anchors rc);
	// replay runs keep the logical timestamp.
	var wallOf func(nowMS int64) int64
	if *flagReplay == "" {
		wallOf = rc.WallFromLogical
	}
	viol, err := violation.NewLogger(cfg.ViolationLog, wallOf)
	if err != nil {
		fatalf("violation-log: %v", err)
	}
	defer viol.Close()

	pipe := emitpipe.New(clk, store, sinks...)
	tree.Attach(store, clk, pipe, viol)

	drv := driver.New(store, tree, clk, pipe, rc)
	drv.IDs = ids
	if cap != nil {
		drv.Capture = cap
	}
	if *flagEchoInput {
		drv.EchoInput = transport.NewEchoWriter(os.Stdout, store)
	}
	if dash != nil {
		drv.OnTick = func(now int64) {
			dash.Update(snapshotSignals(store), toConditionRows(tree.Conditions()))
		}
	}
	drv.Start()

	if dash != nil {
		go func() {
			if err := dash.Run(); err != nil {
				log.Printf("dashboard: %v", err)
			}
		}()
		defer dash.Close()
	}

	switch {
	case *flagReplay != "":
		records, err := capturelog.ReadAll(*flagReplay)
		if err != nil {
			fatalf("replay: %v", err)
		}
		if *flagPaced {
			// One clock for the driver's timers and the replay's due times,
			// with logical 0 anchored at the moment paced playback begins.
			rc.Reset(time.Now().UnixMilli())
			replay := capturelog.NewReplay(records, rc)
			drv.RunPaced(replay, make(chan struct{}))
		} else {
			drv.RunReplay(records)
		}
	case *flagRun:
		done := make(chan struct{})
		rd := transport.NewReader(os.Stdin)
		drv.RunLive(rd, done)
	default:
		usage()
		os.Exit(2)
	}
}

func configFromFlags(base *vsmconfig.Config) *vsmconfig.Config {
	cfg := *base
	applyFlagsToConfig(&cfg)
	return &cfg
}

func applyFlagsToConfig(cfg *vsmconfig.Config) {
	if *flagRuleFile != "" {
		cfg.RuleFile = *flagRuleFile
	}
	if *flagSignalMap != "" {
		cfg.SignalMap = *flagSignalMap
	}
	if *flagCapturePath != "" {
		cfg.CapturePath = *flagCapturePath
	}
	if *flagViolLog != "" {
		cfg.ViolationLog = *flagViolLog
	}
	if *flagReplayRate > 0 {
		cfg.ReplayRate = *flagReplayRate
	}
}

// validateReplayRate enforces §6's replay rate range: 0.0 < rate <= 10000.0.
func validateReplayRate(rate float64) {
	if rate > 10000 {
		fatalf("replay-rate: %g exceeds the valid range (0, 10000]", rate)
	}
}

// collectOperandSignals widens knownSignals with every signal name an
// expression in doc touches, when no signal map was supplied: in that mode
// any name an expression references is, by construction, a known signal
// (§7.1's "unknown signal" validation only bites when a signal map exists
// to be authoritative against).
func collectOperandSignals(doc *ruleconfig.Document, known map[string]struct{}) {
	if len(known) > 0 {
		return
	}
	var walk func(items []ruleconfig.Item)
	walk = func(items []ruleconfig.Item) {
		for _, it := range items {
			collectExprNames(it.Condition, known)
			if it.Emit != nil {
				collectExprNames(it.Emit.Value, known)
			}
			walk(it.Then)
			walk(it.Parallel)
			walk(it.Sequence)
		}
	}
	walk(doc.Rules)
}

func collectExprNames(exprText string, known map[string]struct{}) {
	if exprText == "" {
		return
	}
	// A permissive identifier scan, not a parse: good enough to seed
	// knownSignals in the no-signal-map mode, where every referenced name is
	// accepted by definition. The real parse (and its strict operand check)
	// happens in policy.Build.
	start := -1
	flush := func(end int) {
		if start >= 0 {
			known[exprText[start:end]] = struct{}{}
			start = -1
		}
	}
	for i, r := range exprText {
		switch {
		case r == '.' || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9' && start >= 0):
			if start < 0 {
				start = i
			}
		default:
			flush(i)
		}
	}
	flush(len(exprText))
}

func snapshotSignals(store *signal.Store) []dashboard.SignalRow {
	names := store.Names()
	rows := make([]dashboard.SignalRow, 0, len(names))
	for _, name := range names {
		sig, ok := store.Lookup(name)
		if !ok {
			continue
		}
		rows = append(rows, dashboard.SignalRow{Name: name, Literal: sig.Value.Literal(), AgeMS: sig.LastUpdateMS})
	}
	return rows
}

func toConditionRows(cs []policy.ConditionStatus) []dashboard.ConditionRow {
	rows := make([]dashboard.ConditionRow, 0, len(cs))
	for _, c := range cs {
		rows = append(rows, dashboard.ConditionRow{
			Path: c.Path, ExprText: c.ExprText, Armed: c.Armed,
			LastTruth: c.LastTruth.String(), Monitored: c.Monitored, MonitorPhase: c.MonitorPhase,
		})
	}
	return rows
}

func fatalf(f string, a ...any) {
	fmt.Fprintf(os.Stderr, f+"\n", a...)
	os.Exit(1)
}
