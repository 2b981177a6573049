package vsmconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vsmd-config.toml")
	cfg := Default()
	cfg.RuleFile = "custom-rules.toml"

	st, err := Save(path, cfg, false)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if st != WroteNew {
		t.Errorf("status = %v, want WroteNew", st)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.RuleFile != "custom-rules.toml" {
		t.Errorf("RuleFile = %q, want custom-rules.toml", loaded.RuleFile)
	}
}

func TestSaveRefusesOverwriteWithoutForce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vsmd-config.toml")
	cfg := Default()
	if _, err := Save(path, cfg, false); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	st, err := Save(path, cfg, false)
	if err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if st != NotWrittenExists {
		t.Errorf("status = %v, want NotWrittenExists", st)
	}
}

func TestSaveOverwritesWithForce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vsmd-config.toml")
	cfg := Default()
	if _, err := Save(path, cfg, false); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	cfg.RuleFile = "changed.toml"
	st, err := Save(path, cfg, true)
	if err != nil {
		t.Fatalf("forced Save: %v", err)
	}
	if st != WroteOverwritten {
		t.Errorf("status = %v, want WroteOverwritten", st)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.RuleFile != "changed.toml" {
		t.Errorf("RuleFile = %q, want changed.toml", loaded.RuleFile)
	}
}

func TestResolveExplicitCLIPathWins(t *testing.T) {
	path, isDefault, origin := Resolve("/tmp/explicit.toml")
	if path != "/tmp/explicit.toml" || isDefault || origin != OriginExplicit {
		t.Errorf("Resolve(explicit) = (%q,%v,%v)", path, isDefault, origin)
	}
}

func TestResolveDefaultTokenForcesXDGPath(t *testing.T) {
	path, isDefault, origin := Resolve("/default")
	if !isDefault || origin != OriginDefaultToken {
		t.Errorf("Resolve(/default) = (%q,%v,%v)", path, isDefault, origin)
	}
}

func TestResolvePrefersProjectLocalConfig(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	defer os.Chdir(wd)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	if err := os.WriteFile("vsmd-config.toml", []byte("rule_file = \"x\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	path, _, origin := Resolve("")
	if path != "./vsmd-config.toml" || origin != OriginLocal {
		t.Errorf("Resolve(\"\") = (%q,%v), want (./vsmd-config.toml,project-local)", path, origin)
	}
}

func TestEffectiveRendersAllFields(t *testing.T) {
	cfg := Default()
	out := cfg.Effective()
	for _, want := range []string{"rule_file=", "signal_map=", "capture_path=", "violation_log=", "replay_rate="} {
		if !strings.Contains(out, want) {
			t.Errorf("Effective() missing %q in:\n%s", want, out)
		}
	}
}
