package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wI2L/jsondiff"

	"github.com/winguard/winguard/internal/models"
)

// Severity of a policy change. Loosening is impossible for the built-in lists,
// but a file can drop rules relative to a preset.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityTightened
	SeverityLoosened
)

func (s Severity) String() string {
	switch s {
	case SeverityLoosened:
		return "loosened"
	case SeverityTightened:
		return "tightened"
	case SeverityInfo:
		return "info"
	default:
		return "unknown"
	}
}

// Change is one translated JSON Patch operation
type Change struct {
	Op       string   `json:"op"`
	Path     string   `json:"path"`
	Message  string   `json:"message"`
	Severity Severity `json:"-"`
	Level    string   `json:"severity"`
}

// effectiveView is the diffable shape of a store: lists become sets so
// reordering is not reported.
type effectiveView struct {
	Mode  string                     `json:"mode"`
	Lists map[string]map[string]bool `json:"lists"`
	Rules map[string]ruleView        `json:"rules"`
}

type ruleView struct {
	Expr       string `json:"expr"`
	FailureMsg string `json:"failure_msg"`
}

func viewOf(s *Store) effectiveView {
	set := func(items []string) map[string]bool {
		m := make(map[string]bool, len(items))
		for _, i := range items {
			m[i] = true
		}
		return m
	}
	v := effectiveView{
		Mode: string(s.mode),
		Lists: map[string]map[string]bool{
			"dangerous_fragments":    set(s.lists.DangerousFragments),
			"critical_registry_keys": set(s.lists.CriticalRegistryKeys),
			"critical_services":      set(s.lists.CriticalServices),
			"critical_paths":         set(s.lists.CriticalPaths),
		},
		Rules: map[string]ruleView{},
	}
	for _, cr := range s.engine.rules {
		v.Rules[cr.rule.Name] = ruleView{Expr: cr.rule.Expr, FailureMsg: cr.rule.FailureMsg}
	}
	return v
}

// Diff compares two effective policies and returns translated changes,
// sorted by path.
func Diff(from, to *Store) ([]Change, jsondiff.Patch, error) {
	patch, err := jsondiff.Compare(viewOf(from), viewOf(to))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to diff policies: %w", err)
	}

	changes := Translate(patch)
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, patch, nil
}

// Translate patches to readable changes
func Translate(patch jsondiff.Patch) []Change {
	if len(patch) == 0 {
		return nil
	}
	var out []Change
	seen := make(map[string]bool)
	for _, op := range patch {
		c, ok := translateOperation(op)
		if !ok || seen[c.Message] {
			continue
		}
		seen[c.Message] = true
		c.Level = c.Severity.String()
		out = append(out, c)
	}
	return out
}

func translateOperation(op jsondiff.Operation) (Change, bool) {
	parts := splitPointer(op.Path)
	c := Change{Op: op.Type, Path: op.Path}
	if len(parts) == 0 {
		return c, false
	}

	switch parts[0] {
	case "mode":
		c.Message = fmt.Sprintf("Rule mode changed to %v.", op.Value)
		if op.Value == string(models.PolicyModeWarn) {
			c.Severity = SeverityLoosened
		} else {
			c.Severity = SeverityTightened
		}
		return c, true

	case "lists":
		if len(parts) < 2 {
			return c, false
		}
		list := strings.ReplaceAll(parts[1], "_", " ")
		switch {
		case len(parts) == 3 && op.Type == jsondiff.OperationAdd:
			c.Message = fmt.Sprintf("Added %q to %s.", parts[2], list)
			c.Severity = SeverityTightened
		case len(parts) == 3 && op.Type == jsondiff.OperationRemove:
			c.Message = fmt.Sprintf("Removed %q from %s.", parts[2], list)
			c.Severity = SeverityLoosened
		default:
			c.Message = fmt.Sprintf("The %s list changed.", list)
		}
		return c, true

	case "rules":
		if len(parts) < 2 {
			return c, false
		}
		name := parts[1]
		switch {
		case len(parts) == 2 && op.Type == jsondiff.OperationAdd:
			c.Message = fmt.Sprintf("New rule %q added.", name)
			c.Severity = SeverityTightened
		case len(parts) == 2 && op.Type == jsondiff.OperationRemove:
			c.Message = fmt.Sprintf("Rule %q removed.", name)
			c.Severity = SeverityLoosened
		case len(parts) == 3 && parts[2] == "failure_msg":
			c.Message = fmt.Sprintf("Rule %q message updated.", name)
		default:
			c.Message = fmt.Sprintf("Rule %q expression modified.", name)
			c.Severity = SeverityTightened
		}
		return c, true
	}
	return c, false
}

// splitPointer decodes an RFC 6901 JSON pointer
func splitPointer(p string) []string {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return nil
	}
	parts := strings.Split(p, "/")
	for i, s := range parts {
		s = strings.ReplaceAll(s, "~1", "/")
		parts[i] = strings.ReplaceAll(s, "~0", "~")
	}
	return parts
}
