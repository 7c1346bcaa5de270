package policy

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/winguard/winguard/internal/models"
)

// Engine compiles operator rules once and evaluates them per request.
type Engine struct {
	env   *cel.Env
	rules []compiledRule
}

type compiledRule struct {
	rule models.PolicyRule
	prg  cel.Program
}

// NewEngine compiles every rule. Any compile error fails construction.
func NewEngine(rules []models.PolicyRule) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{env: env}
	var problems []string
	seen := make(map[string]bool, len(rules))

	for _, rule := range rules {
		if rule.Name == "" {
			problems = append(problems, fmt.Sprintf("rule with expr %q has no name", rule.Expr))
			continue
		}
		if seen[rule.Name] {
			problems = append(problems, fmt.Sprintf("rule %q: duplicate name", rule.Name))
			continue
		}
		seen[rule.Name] = true

		ast, issues := env.Compile(rule.Expr)
		if issues != nil && issues.Err() != nil {
			problems = append(problems, fmt.Sprintf("rule %q: %v", rule.Name, issues.Err()))
			continue
		}
		if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
			problems = append(problems, fmt.Sprintf("rule %q: expression must return bool, got %s", rule.Name, t))
			continue
		}
		prg, err := env.Program(ast)
		if err != nil {
			problems = append(problems, fmt.Sprintf("rule %q: %v", rule.Name, err))
			continue
		}
		e.rules = append(e.rules, compiledRule{rule: rule, prg: prg})
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("policy validation failed:\n  %s", strings.Join(problems, "\n  "))
	}
	return e, nil
}

// Len is the number of compiled rules
func (e *Engine) Len() int { return len(e.rules) }

// Evaluate runs every rule against input. Evaluation errors and non-bool
// results count as failures.
func (e *Engine) Evaluate(input map[string]interface{}) []models.PolicyResult {
	results := make([]models.PolicyResult, 0, len(e.rules))
	for _, cr := range e.rules {
		results = append(results, evaluateRule(cr, input))
	}
	return results
}

func evaluateRule(cr compiledRule, input map[string]interface{}) models.PolicyResult {
	out, _, err := cr.prg.Eval(map[string]interface{}{
		"input": input,
	})
	if err != nil {
		return models.PolicyResult{
			RuleName:   cr.rule.Name,
			Passed:     false,
			FailureMsg: fmt.Sprintf("CEL evaluation error: %v", err),
		}
	}

	passed, ok := out.Value().(bool)
	if !ok {
		return models.PolicyResult{
			RuleName:   cr.rule.Name,
			Passed:     false,
			FailureMsg: fmt.Sprintf("rule expression must return boolean, got %T", out.Value()),
		}
	}

	result := models.PolicyResult{
		RuleName: cr.rule.Name,
		Passed:   passed,
	}
	if !passed {
		result.FailureMsg = cr.rule.FailureMsg
		if result.FailureMsg == "" {
			result.FailureMsg = "denied by rule " + cr.rule.Name
		}
	}
	return result
}
