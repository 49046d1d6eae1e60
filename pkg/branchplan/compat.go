package branchplan

import (
	"fmt"
	"slices"
	"strings"
)

// Verdict grades how safely a structure supports branch skipping.
// Verdicts are ordered: Incompatible < PartiallyCompatible < FullyCompatible.
type Verdict int

const (
	// Incompatible structures must run in route_data mode unless forced.
	Incompatible Verdict = iota
	// PartiallyCompatible structures are sound to skip but need sequenced
	// multi-pass planning.
	PartiallyCompatible
	// FullyCompatible structures can be skipped with a single plan.
	FullyCompatible
)

// String returns the verdict name.
func (v Verdict) String() string {
	switch v {
	case FullyCompatible:
		return "fully_compatible"
	case PartiallyCompatible:
		return "partially_compatible"
	case Incompatible:
		return "incompatible"
	default:
		return "unknown"
	}
}

// MarshalText renders the verdict name in JSON and YAML output.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// ComponentVerdict is the verdict for one detected pattern instance.
type ComponentVerdict struct {
	Pattern Pattern
	Verdict Verdict
	Reason  string
}

// PatternEntry summarises all instances of one pattern type.
type PatternEntry struct {
	Type    PatternType
	Verdict Verdict
	Count   int
	Nodes   []string
}

// CompatibilityReport is the per-graph compatibility diagnosis. It is
// produced once per analysis and is immutable.
type CompatibilityReport struct {
	// GraphFingerprint identifies the analysed graph structure.
	GraphFingerprint string
	// Verdict is the weakest verdict over all components.
	Verdict Verdict
	// Entries holds one entry per detected pattern type.
	Entries []PatternEntry
	// Components holds one verdict per pattern instance.
	Components []ComponentVerdict
	// Diagnostics collects CircularBranchDependencyError and
	// IncompatiblePatternError values. None of them is fatal.
	Diagnostics []error
}

// Compatible reports whether skip_branches may be selected without forcing.
func (r *CompatibilityReport) Compatible() bool {
	return r != nil && r.Verdict == FullyCompatible
}

// Entry returns the entry for pattern type t.
func (r *CompatibilityReport) Entry(t PatternType) (PatternEntry, bool) {
	for _, e := range r.Entries {
		if e.Type == t {
			return e, true
		}
	}
	return PatternEntry{}, false
}

// VerdictFor returns the weakest verdict of any component mentioning id,
// and FullyCompatible when no component mentions it.
func (r *CompatibilityReport) VerdictFor(id string) Verdict {
	v := FullyCompatible
	for _, c := range r.Components {
		if c.Pattern.NodeID == id || slices.Contains(c.Pattern.Cycle, id) {
			v = min(v, c.Verdict)
		}
	}
	return v
}

// Summary renders a one-line description for logs.
func (r *CompatibilityReport) Summary() string {
	parts := make([]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		parts = append(parts, fmt.Sprintf("%s=%s(%d)", e.Type, e.Verdict, e.Count))
	}
	if len(parts) == 0 {
		return r.Verdict.String()
	}
	return fmt.Sprintf("%s [%s]", r.Verdict, strings.Join(parts, " "))
}

// CheckCompatibility grades every pattern of a and aggregates the result.
// An empty pattern set is fully compatible.
func CheckCompatibility(a *Analysis) *CompatibilityReport {
	report := &CompatibilityReport{
		GraphFingerprint: a.Graph.Fingerprint(),
		Verdict:          FullyCompatible,
	}
	report.Diagnostics = append(report.Diagnostics, a.Diagnostics...)

	byType := make(map[PatternType]*PatternEntry)
	for _, p := range a.Patterns {
		verdict, reason := gradePattern(p)
		report.Components = append(report.Components, ComponentVerdict{Pattern: p, Verdict: verdict, Reason: reason})
		report.Verdict = min(report.Verdict, verdict)

		if verdict == Incompatible {
			nodes := p.Cycle
			if len(nodes) == 0 {
				nodes = []string{p.NodeID}
			}
			report.Diagnostics = append(report.Diagnostics, &IncompatiblePatternError{
				Pattern: p.Type,
				Nodes:   nodes,
				Reason:  reason,
			})
		}

		entry, ok := byType[p.Type]
		if !ok {
			entry = &PatternEntry{Type: p.Type, Verdict: FullyCompatible}
			byType[p.Type] = entry
		}
		entry.Count++
		entry.Verdict = min(entry.Verdict, verdict)
		entry.Nodes = append(entry.Nodes, p.NodeID)
	}

	for _, t := range patternOrder {
		if e, ok := byType[t]; ok {
			report.Entries = append(report.Entries, *e)
		}
	}
	return report
}

// AnalyzeCompatibility runs Analyze followed by CheckCompatibility.
func AnalyzeCompatibility(cg *CompiledGraph) (*CompatibilityReport, *Analysis, error) {
	a, err := Analyze(cg)
	if err != nil {
		return nil, nil, err
	}
	return CheckCompatibility(a), a, nil
}

func gradePattern(p Pattern) (Verdict, string) {
	switch p.Type {
	case PatternSimple:
		return FullyCompatible, "independent branch"
	case PatternNested:
		return FullyCompatible, "branch reachable only through other branches"
	case PatternCrossDependent:
		return PartiallyCompatible, "condition fed by branch outputs " + strings.Join(p.DependsOn, ", ") + "; requires sequenced planning"
	case PatternMerge:
		if p.Guaranteed {
			return FullyCompatible, "at least one input is always live"
		}
		return Incompatible, "cannot prove at least one live input"
	case PatternCyclic:
		if p.ContainsBranch {
			return Incompatible, "cycle contains a branch"
		}
		return Incompatible, "cycle downstream of a branch"
	default:
		return Incompatible, "unclassifiable branch structure"
	}
}
