// Package vsmconfig is the daemon's own configuration: paths to the rule
// file and signal-number map, log destinations, and the replay rate.
// Grounded on dot.go/output-tool.relaunch.pty's local/config package —
// same TOML decode/encode, same atomic tempfile-then-rename Save, same
// XDG-first path resolution order.
package vsmconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is vsmd's own settings document.
type Config struct {
	RuleFile    string  `toml:"rule_file"`
	SignalMap   string  `toml:"signal_map"`
	CapturePath string  `toml:"capture_path"`
	ViolationLog string `toml:"violation_log"`
	ReplayRate  float64 `toml:"replay_rate"`
}

// Default returns vsmd's built-in configuration.
func Default() *Config {
	return &Config{
		RuleFile:     "./vsm-rules.toml",
		SignalMap:    "./vsm-signals.map",
		CapturePath:  "./vsm-capture.csv",
		ViolationLog: "./vsm-violations.log",
		ReplayRate:   100,
	}
}

func xdg(pathEnv, fallback string) string {
	if v := os.Getenv(pathEnv); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, fallback)
}

func defaultConfigDir() string {
	return filepath.Join(xdg("XDG_CONFIG_HOME", ".config"), "vsm")
}

// Origin tags where a resolved config path came from, for
// --which-config's diagnostic output.
type Origin string

const (
	OriginExplicit     Origin = "explicit"
	OriginDefaultToken Origin = "default-token"
	OriginLocal        Origin = "project-local"
	OriginXDGDefault   Origin = "xdg-default"
)

// Resolve mirrors the teacher's config.Resolve: an explicit CLI flag wins,
// "/default" forces the XDG path, otherwise a project-local
// ./vsmd-config.toml is preferred over the XDG default.
func Resolve(cliConfig string) (path string, isDefaultToken bool, origin Origin) {
	defPath := filepath.Join(defaultConfigDir(), "vsmd-config.toml")
	if cliConfig != "" {
		if cliConfig == "/default" {
			return defPath, true, OriginDefaultToken
		}
		return cliConfig, false, OriginExplicit
	}
	if _, err := os.Stat("./vsmd-config.toml"); err == nil {
		return "./vsmd-config.toml", false, OriginLocal
	}
	return defPath, false, OriginXDGDefault
}

// Load decodes cfg from path on top of Default(): a field the file does not
// set keeps its built-in value.
func Load(path string) (*Config, error) {
	if st, err := os.Stat(path); err != nil || st.IsDir() {
		if err == nil {
			return nil, errors.New("vsmconfig: config path is a directory")
		}
		return nil, err
	}
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteStatus reports what Save actually did.
type WriteStatus int

const (
	WroteNew WriteStatus = iota
	WroteOverwritten
	NotWrittenExists
)

func (s WriteStatus) String() string {
	switch s {
	case WroteNew:
		return "written"
	case WroteOverwritten:
		return "overwritten"
	case NotWrittenExists:
		return "not written (exists)"
	default:
		return "unknown"
	}
}

// Save writes cfg to path atomically (tempfile + rename), refusing to
// overwrite an existing file unless force is set.
func Save(path string, cfg *Config, force bool) (WriteStatus, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return NotWrittenExists, err
	}
	_, statErr := os.Stat(path)
	existed := statErr == nil
	if existed && !force {
		return NotWrittenExists, nil
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return NotWrittenExists, err
	}
	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return NotWrittenExists, err
	}
	if err := f.Close(); err != nil {
		return NotWrittenExists, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return NotWrittenExists, err
	}
	if existed {
		return WroteOverwritten, nil
	}
	return WroteNew, nil
}

// Effective renders cfg as a human-readable summary for
// --print-effective-config.
func (c *Config) Effective() string {
	return fmt.Sprintf(
		"rule_file=%s\nsignal_map=%s\ncapture_path=%s\nviolation_log=%s\nreplay_rate=%g\n",
		c.RuleFile, c.SignalMap, c.CapturePath, c.ViolationLog, c.ReplayRate,
	)
}
