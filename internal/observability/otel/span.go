package otel

import (
	"context"

	"github.com/winguard/winguard/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys recorded on mutation spans
const (
	AttrOpID      = attribute.Key("winguard.op_id")
	AttrKind      = attribute.Key("winguard.request.kind")
	AttrAction    = attribute.Key("winguard.request.action")
	AttrStatus    = attribute.Key("winguard.outcome.status")
	AttrErrorKind = attribute.Key("winguard.outcome.error_kind")
	AttrRule      = attribute.Key("winguard.outcome.rule")
	AttrBytes     = attribute.Key("winguard.outcome.bytes_affected")
	AttrBackupID  = attribute.Key("winguard.outcome.backup_id")
)

// StartMutation opens a span for one request. It returns a non-recording
// span when tracing is disabled so callers never branch on it.
func StartMutation(ctx context.Context, req models.MutationRequest) (context.Context, trace.Span) {
	return Start(ctx, "winguard."+string(req.Kind()),
		AttrKind.String(string(req.Kind())),
		AttrAction.String(req.Describe()),
	)
}

// EndMutation records the outcome on the span and ends it. Blocked requests
// are not errors: the span status stays Ok with the rule attached.
func EndMutation(span trace.Span, out models.MutationOutcome) {
	span.SetAttributes(AttrStatus.String(string(out.Status)))
	if out.Kind != models.ErrKindNone {
		span.SetAttributes(AttrErrorKind.String(string(out.Kind)))
	}
	if out.Rule != "" {
		span.SetAttributes(AttrRule.String(out.Rule))
	}
	if out.BytesAffected != nil {
		span.SetAttributes(AttrBytes.Int64(int64(*out.BytesAffected)))
	}
	if out.Backup != nil {
		span.SetAttributes(AttrBackupID.String(out.Backup.ID))
	}

	switch out.Status {
	case models.StatusFailed, models.StatusTimedOut:
		span.SetStatus(codes.Error, out.Reason)
	default:
		span.SetStatus(codes.Ok, string(out.Status))
	}
	span.End()
}
