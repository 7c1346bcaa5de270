package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/winguard/winguard/internal/models"
	"github.com/winguard/winguard/internal/observability/logging"
	"github.com/winguard/winguard/internal/observability/otel"
	"github.com/winguard/winguard/internal/observability/receipt"
	"github.com/winguard/winguard/internal/runner"
)

// Policy is what the dispatcher hands to its gates. *policy.Store satisfies
// it.
type Policy interface {
	Decider
	ProtectionChecker
}

// DispatcherOptions wires the gates
type DispatcherOptions struct {
	Policy   Policy
	Executor runner.Executor
	// Backups may be nil; registry deletes needing a snapshot then fail and
	// no restore points are taken.
	Backups    Snapshotter
	FileSystem FileSystem
	// AutoRestorePoint takes a restore point before every allowed mutation
	AutoRestorePoint bool
	// PolicyFile is recorded (with its digest) in receipts
	PolicyFile string
}

// Dispatcher routes any request to its gate and records the outcome as a
// span, a log event and a receipt.
type Dispatcher struct {
	Command  *CommandGate
	Registry *RegistryGate
	Service  *ServiceGate
	Bulk     *BulkDeletionGuard

	policy           Policy
	backups          Snapshotter
	autoRestorePoint bool
	policyFile       string
	clock            clock
}

// NewDispatcher builds all four gates over one policy and executor
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Policy == nil {
		return nil, errors.New("dispatcher: policy is required")
	}
	if opts.Executor == nil {
		opts.Executor = runner.NewExecExecutor()
	}
	backups := opts.Backups
	return &Dispatcher{
		Command:          NewCommandGate(opts.Policy, opts.Executor),
		Registry:         NewRegistryGate(opts.Policy, opts.Executor, backups),
		Service:          NewServiceGate(opts.Policy, opts.Executor),
		Bulk:             NewBulkDeletionGuard(opts.Policy, opts.Policy, opts.FileSystem),
		policy:           opts.Policy,
		backups:          backups,
		autoRestorePoint: opts.AutoRestorePoint && backups != nil,
		policyFile:       opts.PolicyFile,
	}, nil
}

// Execute performs one request. It never returns a Go error; everything is
// in the outcome.
func (d *Dispatcher) Execute(ctx context.Context, req models.MutationRequest) models.MutationOutcome {
	req = deref(req)
	log := logging.From(ctx)
	if req == nil {
		log.Warn("dispatch", "rejected nil request")
		return models.MutationOutcome{
			Status:    models.StatusFailed,
			Kind:      models.ErrKindValidation,
			Reason:    "request is nil",
			StartedAt: d.clock.now(),
		}
	}
	if r, ok := req.(models.BulkDeleteRequest); ok {
		req = d.Bulk.Resolve(r)
	}
	sess := receipt.Start(ctx, "winguard "+string(req.Kind()), requestArgs(req))

	ctx, span := otel.StartMutation(ctx, req)
	log.Event(ctx, "mutation.start", map[string]any{
		"kind":   string(req.Kind()),
		"action": req.Describe(),
	})

	var restorePoint *models.BackupRecord
	var restoreErr string
	if d.autoRestorePoint && isMutating(req) && d.policy.Decide(ctx, req).Allowed {
		rec, err := d.backups.SnapshotRestorePoint(ctx, "winguard: "+req.Describe())
		if err != nil {
			restoreErr = err.Error()
			log.Warn("dispatch", "restore point failed, continuing", "action", req.Describe(), "error", restoreErr)
		} else {
			restorePoint = &rec
		}
	}

	out := d.route(ctx, req)

	if out.Backup == nil && restorePoint != nil {
		out.Backup = restorePoint
	}
	if out.BackupError == "" && restoreErr != "" {
		out.BackupError = restoreErr
	}

	otel.EndMutation(span, out)
	fields := map[string]any{
		"kind":        string(req.Kind()),
		"status":      string(out.Status),
		"duration_ms": out.Duration.Milliseconds(),
	}
	if out.Kind != models.ErrKindNone {
		fields["error_kind"] = string(out.Kind)
	}
	log.Event(ctx, "mutation.complete", fields)

	var opts []receipt.Option
	opts = append(opts, receipt.WithOutcome(req, out))
	if out.Backup != nil {
		opts = append(opts, receipt.WithBackup("snapshot", out.Backup, 0))
	}
	if d.policyFile != "" {
		opts = append(opts, receipt.WithPolicyFile(d.policyFile))
	}
	if err := sess.Finish(outcomeError(out), opts...); err != nil {
		log.Warn("dispatch", "failed to write receipt", "error", err.Error())
	}
	return out
}

// Plan is a dry run of a bulk delete, recorded like any other operation
func (d *Dispatcher) Plan(ctx context.Context, req models.BulkDeleteRequest) models.DeletionPlan {
	req = d.Bulk.Resolve(req)
	sess := receipt.Start(ctx, "winguard clean plan", requestArgs(req))
	plan := d.Bulk.Plan(ctx, req)

	var err error
	if plan.Blocked {
		err = fmt.Errorf("blocked: %s", plan.Reason)
	}
	if ferr := sess.Finish(err, receipt.WithPlan(plan)); ferr != nil {
		logging.From(ctx).Warn("dispatch", "failed to write receipt", "error", ferr.Error())
	}
	return plan
}

func (d *Dispatcher) route(ctx context.Context, req models.MutationRequest) models.MutationOutcome {
	switch r := req.(type) {
	case models.CommandRequest:
		return d.Command.Execute(ctx, r)
	case models.RegistryRequest:
		return d.Registry.Execute(ctx, r)
	case models.ServiceRequest:
		return d.Service.Execute(ctx, r)
	case models.BulkDeleteRequest:
		return d.Bulk.Execute(ctx, r)
	default:
		b := begin(d.clock, req)
		return b.failed(ctx, models.ErrKindValidation, fmt.Sprintf("unsupported request kind %q", req.Kind()))
	}
}

// deref accepts pointer requests so callers need not care. A nil pointer
// becomes a nil request.
func deref(req models.MutationRequest) models.MutationRequest {
	switch r := req.(type) {
	case *models.CommandRequest:
		return derefValue(r)
	case *models.RegistryRequest:
		return derefValue(r)
	case *models.ServiceRequest:
		return derefValue(r)
	case *models.BulkDeleteRequest:
		return derefValue(r)
	}
	return req
}

func derefValue[T models.MutationRequest](r *T) models.MutationRequest {
	if r == nil {
		return nil
	}
	return *r
}

// isMutating is false only for read-only registry queries
func isMutating(req models.MutationRequest) bool {
	if r, ok := req.(models.RegistryRequest); ok {
		return r.Operation != models.RegistryQuery
	}
	return true
}

// requestArgs is the argv recorded in a receipt
func requestArgs(req models.MutationRequest) []string {
	switch r := req.(type) {
	case models.CommandRequest:
		return r.Argv
	case models.RegistryRequest:
		args := []string{string(r.Operation), r.KeyPath}
		if r.ValueName != "" {
			args = append(args, "/v", r.ValueName)
		}
		return args
	case models.ServiceRequest:
		return []string{string(r.Action), r.ServiceID}
	case models.BulkDeleteRequest:
		return []string{r.RootPath, r.Pattern()}
	}
	return []string{req.Describe()}
}

func outcomeError(out models.MutationOutcome) error {
	if out.Succeeded() {
		return nil
	}
	if out.Kind != models.ErrKindNone {
		return fmt.Errorf("%s: %s", out.Kind, out.Reason)
	}
	return errors.New(out.Reason)
}
