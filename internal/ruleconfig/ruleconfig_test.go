package ruleconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bogen85/vsm/internal/policy"
)

func writeRuleFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAndToNodeSpecsCondition(t *testing.T) {
	path := writeRuleFile(t, `
[[rules]]
condition = "phone.call == \"active\""

[[rules.then]]
emit = { signal = "car.stop", value = "true" }
`)
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	specs, errs := ToNodeSpecs(doc)
	if len(errs) != 0 {
		t.Fatalf("ToNodeSpecs errors: %v", errs)
	}
	if len(specs) != 1 {
		t.Fatalf("expected 1 root spec, got %d", len(specs))
	}
	root := specs[0]
	if root.Kind != policy.KindCondition {
		t.Errorf("root.Kind = %v, want KindCondition", root.Kind)
	}
	if root.StartMS != policy.UnsetTiming || root.StopMS != policy.UnsetTiming {
		t.Errorf("unmonitored condition should keep UnsetTiming, got start=%d stop=%d", root.StartMS, root.StopMS)
	}
	if len(root.Children) != 1 || root.Children[0].Kind != policy.KindEmit {
		t.Fatalf("expected one emit child, got %+v", root.Children)
	}
	if root.Children[0].EmitSignal != "car.stop" {
		t.Errorf("EmitSignal = %q, want car.stop", root.Children[0].EmitSignal)
	}
}

func TestToNodeSpecsMonitoredCondition(t *testing.T) {
	path := writeRuleFile(t, `
[[rules]]
condition = "door.open == true"
start = 100
stop = 500
`)
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	specs, errs := ToNodeSpecs(doc)
	if len(errs) != 0 {
		t.Fatalf("ToNodeSpecs errors: %v", errs)
	}
	if specs[0].StartMS != 100 || specs[0].StopMS != 500 {
		t.Errorf("StartMS/StopMS = %d/%d, want 100/500", specs[0].StartMS, specs[0].StopMS)
	}
}

func TestToNodeSpecsParallelAndSequence(t *testing.T) {
	path := writeRuleFile(t, `
[[rules]]
condition = "a == true"

[[rules.then]]
[[rules.then.parallel]]
condition = "b == true"
[[rules.then.parallel]]
condition = "c == true"

[[rules]]
condition = "d == true"

[[rules.then]]
[[rules.then.sequence]]
condition = "e == true"
[[rules.then.sequence]]
condition = "f == true"
`)
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	specs, errs := ToNodeSpecs(doc)
	if len(errs) != 0 {
		t.Fatalf("ToNodeSpecs errors: %v", errs)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(specs))
	}
	if specs[0].Children[0].Kind != policy.KindParallel || len(specs[0].Children[0].Children) != 2 {
		t.Errorf("expected a 2-child parallel node, got %+v", specs[0].Children[0])
	}
	if specs[1].Children[0].Kind != policy.KindSequence || len(specs[1].Children[0].Children) != 2 {
		t.Errorf("expected a 2-child sequence node, got %+v", specs[1].Children[0])
	}
}

func TestToNodeSpecsReportsEmptyItem(t *testing.T) {
	path := writeRuleFile(t, `
[[rules]]
condition = "a == true"

[[rules.then]]
`)
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, errs := ToNodeSpecs(doc)
	if len(errs) == 0 {
		t.Fatal("expected an error for an empty rule item")
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := writeRuleFile(t, "this is not [ valid toml")
	if _, err := Load(path); err == nil {
		t.Error("expected error loading malformed TOML")
	}
}
