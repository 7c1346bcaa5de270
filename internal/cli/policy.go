package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/winguard/winguard/internal/models"
	"github.com/winguard/winguard/internal/observability/logging"
	otelobs "github.com/winguard/winguard/internal/observability/otel"
	"github.com/winguard/winguard/internal/observability/receipt"
	"github.com/winguard/winguard/internal/policy"
)

// policyCmd group
var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Policy inspection commands",
	Long:  `Evaluate requests against the active policy and compare policies.`,
}

var policyCheckCmd = &cobra.Command{
	Use:   "check <exec|reg|svc|clean> [args...]",
	Short: "Evaluate a request without running it",
	Long: `Evaluate a request against the built-in deny-lists and every CEL rule of
the active policy. Nothing is executed.

Examples:
  winguard policy check exec -- cmd /c "del /s C:\Windows"
  winguard policy check reg delete "HKLM\SYSTEM\CurrentControlSet\Services\Foo"
  winguard policy check svc stop WinDefend
  winguard --preset strict policy check clean C:\Windows\Temp "*.log"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPolicyCheck,
}

var policyDiffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Compare two policies",
	Long: `Compare the effective deny-lists and rules of two policies. Each side is a
preset name or a policy file; an empty side is the built-in policy.

Removing entries or rules loosens a policy. The exit code is 1 when a change
reaches the --fail-on level.

Example:
  winguard policy diff --from baseline --to ./site-policy.yaml --fail-on loosened`,
	Args: cobra.NoArgs,
	RunE: runPolicyDiff,
}

var policyPresetsCmd = &cobra.Command{
	Use:   "presets [name]",
	Short: "List built-in presets or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPolicyPresets,
}

var (
	checkReg     registryFlags
	checkTimeout time.Duration

	diffFrom   string
	diffTo     string
	diffFailOn string
	diffPatch  bool
)

func init() {
	policyCheckCmd.Flags().StringVar(&checkReg.value, "value", "", "Registry value name (reg requests)")
	policyCheckCmd.Flags().StringVar(&checkReg.data, "data", "", "Registry value data (reg requests)")
	policyCheckCmd.Flags().StringVar(&checkReg.typ, "type", "REG_DWORD", "Registry value type (reg requests)")
	policyCheckCmd.Flags().StringVar(&checkReg.backup, "backup", "best-effort", "Registry backup mode (reg requests)")
	policyCheckCmd.Flags().DurationVarP(&checkTimeout, "timeout", "t", 0, "Command timeout visible to rules as input.command.timeout_seconds (exec requests)")

	policyDiffCmd.Flags().StringVar(&diffFrom, "from", "", "Base policy: preset name or file (default: built-in)")
	policyDiffCmd.Flags().StringVar(&diffTo, "to", "", "New policy: preset name or file (default: built-in)")
	policyDiffCmd.Flags().StringVar(&diffFailOn, "fail-on", "loosened", "Exit 1 at this level: never, loosened, tightened or any")
	policyDiffCmd.Flags().BoolVar(&diffPatch, "patch", false, "Print the raw JSON patch")

	policyCmd.AddCommand(policyCheckCmd)
	policyCmd.AddCommand(policyDiffCmd)
	policyCmd.AddCommand(policyPresetsCmd)
}

// GetPolicyCmd export
func GetPolicyCmd() *cobra.Command {
	return policyCmd
}

func runPolicyCheck(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	sess := receipt.Start(ctx, "winguard policy check", args)
	var receiptHits []receipt.RuleHit
	var policyStatus string
	var presetName string

	defer func() {
		if werr := sess.Finish(err,
			receipt.WithPolicy(presetName, policyStatus, receiptHits),
			receipt.WithPolicyFile(app.cfg.PolicyFile)); werr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write receipt: %v\n", werr)
		}
	}()

	log := logging.From(ctx)
	start := time.Now()

	var span trace.Span
	ctx, span = otelobs.Start(ctx, "winguard.policy.check",
		attribute.String("winguard.command", "policy check"),
		attribute.String("winguard.preset", app.cfg.PolicyPreset))
	defer func() { otelobs.End(span, err) }()

	log.Event(ctx, "policy_check.start", nil)
	defer func() {
		log.Event(ctx, "policy_check.complete", map[string]any{
			"duration_ms": time.Since(start).Milliseconds(),
			"result":      policyStatus,
		})
	}()

	req, err := parseRequest(args, checkReg, checkTimeout)
	if err != nil {
		policyStatus = "error"
		return err
	}
	store, err := app.policyStore()
	if err != nil {
		policyStatus = "error"
		return err
	}
	presetName = app.policyLabel()

	decision, results := store.Check(req)
	for _, r := range results {
		if r.Passed {
			continue
		}
		sev := "error"
		if store.Mode() == models.PolicyModeWarn {
			sev = "warn"
		}
		receiptHits = append(receiptHits, receipt.RuleHit{Name: r.RuleName, Severity: sev, Message: r.FailureMsg})
	}
	if !decision.Allowed && decision.Rule != "" && !hasHit(receiptHits, decision.Rule) {
		receiptHits = append(receiptHits, receipt.RuleHit{Name: decision.Rule, Severity: "error", Message: decision.Reason})
	}

	policyStatus = "allow"
	if !decision.Allowed {
		policyStatus = "deny"
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		if err := writeJSON(w, checkReport{
			Policy:   store.Name(),
			Mode:     string(store.Mode()),
			Request:  req.Describe(),
			Decision: decision,
			Results:  results,
		}); err != nil {
			return err
		}
	} else {
		printCheckReport(w, store, req, decision, results)
	}

	if !decision.Allowed {
		return &ExitError{Code: exitBlocked, Err: fmt.Errorf("denied by %s: %s", decision.Rule, decision.Reason)}
	}
	return nil
}

type checkReport struct {
	Policy   string                `json:"policy"`
	Mode     string                `json:"mode"`
	Request  string                `json:"request"`
	Decision models.PolicyDecision `json:"decision"`
	Results  []models.PolicyResult `json:"results,omitempty"`
}

func hasHit(hits []receipt.RuleHit, name string) bool {
	for _, h := range hits {
		if h.Name == name {
			return true
		}
	}
	return false
}

func printCheckReport(w io.Writer, store *policy.Store, req models.MutationRequest, d models.PolicyDecision, results []models.PolicyResult) {
	fmt.Fprintf(w, "%s%sPolicy:%s %s (%s)\n", colorBold, colorYellow, colorReset, store.Name(), store.Mode())
	fmt.Fprintf(w, "%s%sRequest:%s %s\n\n", colorBold, colorYellow, colorReset, req.Describe())

	if len(results) > 0 {
		fmt.Fprintf(w, "%s%sRules:%s\n", colorBold, colorYellow, colorReset)
		fmt.Fprintln(w, strings.Repeat("-", 50))
		for _, r := range results {
			switch {
			case r.Passed:
				fmt.Fprintf(w, "%s✓%s %s\n", colorGreen, colorReset, r.RuleName)
			case store.Mode() == models.PolicyModeWarn:
				fmt.Fprintf(w, "%s⚠%s %s\n", colorYellow, colorReset, r.RuleName)
				fmt.Fprintf(w, "  %s→ %s%s\n", colorYellow, r.FailureMsg, colorReset)
			default:
				fmt.Fprintf(w, "%s✗%s %s\n", colorRed, colorReset, r.RuleName)
				fmt.Fprintf(w, "  %s→ %s%s\n", colorRed, r.FailureMsg, colorReset)
			}
		}
		fmt.Fprintln(w, strings.Repeat("-", 50))
	}

	if d.Allowed {
		fmt.Fprintf(w, "\n%s%s✓ Allowed%s\n", colorBold, colorGreen, colorReset)
		return
	}
	fmt.Fprintf(w, "\n%s%s✗ Denied%s by %s: %s\n", colorBold, colorRed, colorReset, d.Rule, d.Reason)
}

// loadPolicyRef resolves a preset name or a file path. Empty is built-in.
func loadPolicyRef(ref string) (*policy.Store, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return policy.NewStore(nil)
	}
	if cfg := policy.GetPreset(ref); cfg != nil {
		return policy.NewStore(cfg)
	}
	cfg, err := policy.LoadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("%q is neither a preset (%s) nor a readable policy file: %w",
			ref, strings.Join(policy.ListPresetNames(), ", "), err)
	}
	return policy.NewStore(cfg)
}

func runPolicyDiff(cmd *cobra.Command, _ []string) error {
	failOn, err := ParseFailOnLevel(diffFailOn)
	if err != nil {
		return err
	}
	from, err := loadPolicyRef(diffFrom)
	if err != nil {
		return err
	}
	to, err := loadPolicyRef(diffTo)
	if err != nil {
		return err
	}
	changes, patch, err := policy.Diff(from, to)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch {
	case diffPatch:
		if patch == nil {
			fmt.Fprintln(w, "[]")
		} else if err := writeJSON(w, patch); err != nil {
			return err
		}
	case jsonOutput:
		if changes == nil {
			changes = []policy.Change{}
		}
		if err := writeJSON(w, changes); err != nil {
			return err
		}
	default:
		fmt.Fprint(w, FormatChanges(changes))
	}

	for _, c := range changes {
		if failOn.ShouldFail(c.Severity) {
			return &ExitError{Code: exitFailed, Err: fmt.Errorf("policy change at or above %s: %s", failOn, c.Message)}
		}
	}
	return nil
}

func runPolicyPresets(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	if len(args) == 0 {
		names := policy.ListPresetNames()
		if jsonOutput {
			return writeJSON(w, names)
		}
		for _, n := range names {
			fmt.Fprintln(w, n)
		}
		return nil
	}

	cfg := policy.GetPreset(args[0])
	if cfg == nil {
		return fmt.Errorf("unknown preset: %s (available: %s)", args[0], strings.Join(policy.ListPresetNames(), ", "))
	}
	if jsonOutput {
		return writeJSON(w, cfg)
	}
	fmt.Fprint(w, FormatPreset(cfg))
	return nil
}

// FormatPreset renders a preset as Markdown
func FormatPreset(cfg *models.PolicyConfig) string {
	var sb strings.Builder
	mode := cfg.Mode
	if mode == "" {
		mode = models.PolicyModeStrict
	}
	sb.WriteString(fmt.Sprintf("# %s\n\n", cfg.Name))
	sb.WriteString(fmt.Sprintf("**Mode:** %s\n\n", mode))

	if len(cfg.Rules) > 0 {
		sb.WriteString("## Rules\n\n")
		for _, r := range cfg.Rules {
			sb.WriteString(fmt.Sprintf("### %s\n\n", r.Name))
			sb.WriteString(fmt.Sprintf("```cel\n%s\n```\n\n", strings.TrimSpace(r.Expr)))
			if r.FailureMsg != "" {
				sb.WriteString(fmt.Sprintf("> %s\n\n", r.FailureMsg))
			}
		}
	}

	list := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		sb.WriteString(fmt.Sprintf("## %s\n\n", title))
		for _, it := range items {
			sb.WriteString(fmt.Sprintf("- `%s`\n", it))
		}
		sb.WriteString("\n")
	}
	list("Extra dangerous fragments", cfg.Extra.DangerousFragments)
	list("Extra critical registry keys", cfg.Extra.CriticalRegistryKeys)
	list("Extra critical services", cfg.Extra.CriticalServices)
	list("Extra critical paths", cfg.Extra.CriticalPaths)
	return sb.String()
}
