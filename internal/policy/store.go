package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/winguard/winguard/internal/models"
	"github.com/winguard/winguard/internal/observability/logging"
)

// Rule names reported in denials from the built-in lists
const (
	RuleDangerousCommand   = "dangerous_command"
	RuleCriticalRegistry   = "critical_registry_key"
	RuleCriticalService    = "critical_service"
	RuleCriticalFSArea     = "critical_filesystem_area"
	RuleInvalidRequest     = "invalid_request"
	RuleUnknownRequestKind = "unknown_request_kind"
)

// Store holds the effective deny-lists and compiled operator rules.
// It is read-only after construction and safe for concurrent use.
type Store struct {
	name   string
	mode   models.PolicyMode
	lists  models.DenyLists
	engine *Engine
}

// NewStore builds a store from the built-in lists plus cfg. A nil cfg gives the
// built-ins only.
func NewStore(cfg *models.PolicyConfig) (*Store, error) {
	s := &Store{
		name:  "builtin",
		mode:  models.PolicyModeStrict,
		lists: mergeLists(DefaultLists(), models.DenyLists{}),
	}
	var rules []models.PolicyRule
	if cfg != nil {
		if cfg.Name != "" {
			s.name = cfg.Name
		}
		switch cfg.Mode {
		case "", models.PolicyModeStrict:
		case models.PolicyModeWarn:
			s.mode = models.PolicyModeWarn
		default:
			return nil, fmt.Errorf("invalid policy mode %q (want strict or warn)", cfg.Mode)
		}
		s.lists = mergeLists(DefaultLists(), cfg.Extra)
		rules = cfg.Rules
	}

	engine, err := NewEngine(rules)
	if err != nil {
		return nil, err
	}
	s.engine = engine
	return s, nil
}

// MustNewStore is NewStore for built-in configurations
func MustNewStore(cfg *models.PolicyConfig) *Store {
	s, err := NewStore(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// Name of the loaded policy
func (s *Store) Name() string { return s.name }

// Mode of operator rules
func (s *Store) Mode() models.PolicyMode { return s.mode }

// Lists returns a copy of the effective deny-lists
func (s *Store) Lists() models.DenyLists {
	return models.DenyLists{
		DangerousFragments:   append([]string(nil), s.lists.DangerousFragments...),
		CriticalRegistryKeys: append([]string(nil), s.lists.CriticalRegistryKeys...),
		CriticalServices:     append([]string(nil), s.lists.CriticalServices...),
		CriticalPaths:        append([]string(nil), s.lists.CriticalPaths...),
	}
}

// Decide checks the built-in predicates for the request kind, then operator
// rules. Built-in denials are never softened by warn mode.
func (s *Store) Decide(ctx context.Context, req models.MutationRequest) models.PolicyDecision {
	if d := s.builtin(req); !d.Allowed {
		return d
	}
	return s.evaluateRules(ctx, req)
}

func (s *Store) builtin(req models.MutationRequest) models.PolicyDecision {
	switch r := req.(type) {
	case models.CommandRequest:
		if len(r.Argv) == 0 {
			return models.Deny(RuleInvalidRequest, "empty command")
		}
		if f, ok := s.dangerousFragment(r.Argv); ok {
			return models.Deny(RuleDangerousCommand, fmt.Sprintf("command contains dangerous fragment %q", f))
		}
	case models.RegistryRequest:
		if r.Operation == models.RegistryDelete {
			if k, ok := s.criticalKey(r.KeyPath); ok {
				return models.Deny(RuleCriticalRegistry, fmt.Sprintf("registry key %s is under protected key %s", r.KeyPath, k))
			}
		}
	case models.ServiceRequest:
		if r.Action == models.ServiceStop || r.Action == models.ServiceDisable {
			if s.IsCriticalService(r.ServiceID) {
				return models.Deny(RuleCriticalService, fmt.Sprintf("service %s is critical and cannot be %s", r.ServiceID, pastTense(r.Action)))
			}
		}
	case models.BulkDeleteRequest:
		if a, ok := s.criticalArea(r.RootPath); ok {
			return models.Deny(RuleCriticalFSArea, fmt.Sprintf("path %s is inside protected area %q", r.RootPath, a))
		}
	default:
		return models.Deny(RuleUnknownRequestKind, fmt.Sprintf("unsupported request type %T", req))
	}
	return models.Allow()
}

func (s *Store) evaluateRules(ctx context.Context, req models.MutationRequest) models.PolicyDecision {
	if s.engine.Len() == 0 {
		return models.Allow()
	}
	log := logging.From(ctx)
	for _, res := range s.engine.Evaluate(BuildInput(req)) {
		if res.Passed {
			continue
		}
		if s.mode == models.PolicyModeWarn {
			log.Warn("policy", "rule failed (warn mode)", "rule", res.RuleName, "reason", res.FailureMsg, "action", req.Describe())
			continue
		}
		return models.Deny(res.RuleName, res.FailureMsg)
	}
	return models.Allow()
}

// Check evaluates every operator rule without short-circuiting, for
// `policy check` reports.
func (s *Store) Check(req models.MutationRequest) (models.PolicyDecision, []models.PolicyResult) {
	d := s.builtin(req)
	results := s.engine.Evaluate(BuildInput(req))
	if d.Allowed && s.mode == models.PolicyModeStrict {
		for _, r := range results {
			if !r.Passed {
				d = models.Deny(r.RuleName, r.FailureMsg)
				break
			}
		}
	}
	return d, results
}

func pastTense(a models.ServiceAction) string {
	switch a {
	case models.ServiceStop:
		return "stopped"
	case models.ServiceDisable:
		return "disabled"
	}
	return strings.ToLower(string(a)) + "ed"
}
