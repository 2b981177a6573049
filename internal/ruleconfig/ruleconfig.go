// Package ruleconfig loads the rule configuration of §6 from TOML and
// converts it into the policy.NodeSpec forest that internal/policy.Build
// compiles. This is the rule-file parser spec.md §1 names as an
// out-of-scope external collaborator for the core; it is grounded on
// dot.go/output-tool.relaunch.pty's local/config package's
// toml.DecodeFile + one-document-one-struct idiom.
package ruleconfig

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/bogen85/vsm/internal/policy"
)

// EmitItem is the TOML shape of an `emit` entry (§6).
type EmitItem struct {
	Signal string `toml:"signal"`
	Value  string `toml:"value"`
	Delay  int64  `toml:"delay"`
}

// Item is the TOML shape of one rule-tree list entry (§6). A non-empty
// Condition makes the item a condition, and its Then, Emit, Parallel and
// Sequence entries become that condition's children; otherwise the first of
// Emit/Parallel/Sequence that is populated classifies the item's kind.
type Item struct {
	Condition string `toml:"condition"`
	Start     *int64 `toml:"start"`
	Stop      *int64 `toml:"stop"`

	Parallel []Item `toml:"parallel"`
	Sequence []Item `toml:"sequence"`
	Emit     *EmitItem `toml:"emit"`
	Then     []Item    `toml:"then"`
}

// Document is the top-level TOML rule file (§6: "top level is a list").
type Document struct {
	Rules []Item `toml:"rules"`
}

// Load reads and parses a TOML rule file into a Document. Malformed TOML is
// a fatal load error (§7.1).
func Load(path string) (*Document, error) {
	var doc Document
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("ruleconfig: %s: %w", path, err)
	}
	return &doc, nil
}

// ToNodeSpecs converts a Document into the forest policy.Build expects,
// reporting every malformed item at once rather than stopping at the
// first, consistent with §7.1's load-time validation report.
func ToNodeSpecs(doc *Document) ([]policy.NodeSpec, []error) {
	var errs []error
	specs := make([]policy.NodeSpec, 0, len(doc.Rules))
	for i, item := range doc.Rules {
		spec, ierrs := convert(item, fmt.Sprintf("rules[%d]", i))
		errs = append(errs, ierrs...)
		specs = append(specs, spec)
	}
	return specs, errs
}

func convert(item Item, path string) (policy.NodeSpec, []error) {
	var errs []error
	switch {
	case item.Condition != "":
		spec := policy.NodeSpec{
			Kind:    policy.KindCondition,
			Expr:    item.Condition,
			StartMS: policy.UnsetTiming,
			StopMS:  policy.UnsetTiming,
		}
		if item.Start != nil {
			spec.StartMS = *item.Start
		}
		if item.Stop != nil {
			spec.StopMS = *item.Stop
		}
		for i, c := range item.Then {
			cs, cerrs := convert(c, fmt.Sprintf("%s/then[%d]", path, i))
			errs = append(errs, cerrs...)
			spec.Children = append(spec.Children, cs)
		}
		if item.Emit != nil {
			es, eerrs := convert(Item{Emit: item.Emit}, path+"/emit")
			errs = append(errs, eerrs...)
			spec.Children = append(spec.Children, es)
		}
		if len(item.Parallel) > 0 {
			ps, perrs := convert(Item{Parallel: item.Parallel}, path+"/parallel")
			errs = append(errs, perrs...)
			spec.Children = append(spec.Children, ps)
		}
		if len(item.Sequence) > 0 {
			ss, serrs := convert(Item{Sequence: item.Sequence}, path+"/sequence")
			errs = append(errs, serrs...)
			spec.Children = append(spec.Children, ss)
		}
		return spec, errs

	case item.Emit != nil:
		return policy.NodeSpec{
			Kind:          policy.KindEmit,
			EmitSignal:    item.Emit.Signal,
			EmitValueExpr: item.Emit.Value,
			DelayMS:       item.Emit.Delay,
		}, nil

	case len(item.Parallel) > 0:
		spec := policy.NodeSpec{Kind: policy.KindParallel}
		for i, c := range item.Parallel {
			cs, cerrs := convert(c, fmt.Sprintf("%s/parallel[%d]", path, i))
			errs = append(errs, cerrs...)
			spec.Children = append(spec.Children, cs)
		}
		return spec, errs

	case len(item.Sequence) > 0:
		spec := policy.NodeSpec{Kind: policy.KindSequence}
		for i, c := range item.Sequence {
			cs, cerrs := convert(c, fmt.Sprintf("%s/sequence[%d]", path, i))
			errs = append(errs, cerrs...)
			spec.Children = append(spec.Children, cs)
		}
		return spec, errs

	default:
		return policy.NodeSpec{}, []error{fmt.Errorf("ruleconfig: %s: empty item (expected condition, parallel, sequence, or emit)", path)}
	}
}
