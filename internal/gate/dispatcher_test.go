package gate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/winguard/winguard/internal/models"
	"github.com/winguard/winguard/internal/observability"
	"github.com/winguard/winguard/internal/observability/logging"
	"github.com/winguard/winguard/internal/observability/otel"
	"github.com/winguard/winguard/internal/observability/receipt"
	"github.com/winguard/winguard/internal/runner/runnertest"
)

type memReceipts struct {
	mu       sync.Mutex
	receipts []receipt.Receipt
}

func (m *memReceipts) Write(r receipt.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts = append(m.receipts, r)
	return nil
}

func (m *memReceipts) Close() error { return nil }

type recordingLogger struct {
	mu     sync.Mutex
	events []string
	warns  []string
}

func (l *recordingLogger) Debug(component, msg string, fields ...any) {}
func (l *recordingLogger) Info(component, msg string, fields ...any)  {}
func (l *recordingLogger) Warn(component, msg string, fields ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, component+": "+msg)
	l.mu.Unlock()
}
func (l *recordingLogger) Error(component, msg string, fields ...any) {}
func (l *recordingLogger) Event(ctx context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}
func (l *recordingLogger) Close() error { return nil }

type dispatchHarness struct {
	ctx      context.Context
	spy      *runnertest.Executor
	receipts *memReceipts
	log      *recordingLogger
	spans    *tracetest.InMemoryExporter
	snap     *fakeSnapshotter
}

func newHarness(t *testing.T, autoRestorePoint bool) (*Dispatcher, *dispatchHarness) {
	t.Helper()
	h := &dispatchHarness{
		spy:      runnertest.New(),
		receipts: &memReceipts{},
		log:      &recordingLogger{},
		spans:    tracetest.NewInMemoryExporter(),
		snap:     &fakeSnapshotter{},
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(h.spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx := observability.WithOpID(context.Background())
	ctx = logging.WithLogger(ctx, h.log)
	ctx = receipt.WithWriter(ctx, h.receipts)
	ctx = otel.WithHandle(ctx, otel.InitWithProvider(tp))
	h.ctx = ctx

	d, err := NewDispatcher(DispatcherOptions{
		Policy:           builtinPolicy(t),
		Executor:         h.spy,
		Backups:          h.snap,
		FileSystem:       newMemFS(),
		AutoRestorePoint: autoRestorePoint,
	})
	require.NoError(t, err)
	return d, h
}

func TestNewDispatcher_RequiresPolicy(t *testing.T) {
	_, err := NewDispatcher(DispatcherOptions{})
	assert.Error(t, err)
}

func TestDispatcher_Scenarios(t *testing.T) {
	tests := []struct {
		name   string
		req    models.MutationRequest
		status models.OutcomeStatus
	}{
		{"format c: blocked", models.NewCommandRequest([]string{"format", "c:"}, 0, false), models.StatusBlocked},
		{"ipconfig succeeds", models.NewCommandRequest([]string{"ipconfig", "/all"}, 0, true), models.StatusSucceeded},
		{"session manager delete blocked", models.RegistryRequest{Operation: models.RegistryDelete, KeyPath: sessionManager}, models.StatusBlocked},
		{"trustedinstaller stop blocked", models.ServiceRequest{Action: models.ServiceStop, ServiceID: "TrustedInstaller"}, models.StatusBlocked},
		{"trustedinstaller start allowed", models.ServiceRequest{Action: models.ServiceStart, ServiceID: "TrustedInstaller"}, models.StatusSucceeded},
		{"system32 blocked", models.BulkDeleteRequest{RootPath: `C:\Windows\System32`}, models.StatusBlocked},
		{"pointer request", &models.ServiceRequest{Action: models.ServiceStart, ServiceID: "Spooler"}, models.StatusSucceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, h := newHarness(t, false)

			out := d.Execute(h.ctx, tt.req)

			assert.Equal(t, tt.status, out.Status)
			if tt.status == models.StatusBlocked {
				assert.Zero(t, h.spy.CallCount())
			}

			require.Len(t, h.receipts.receipts, 1)
			r := h.receipts.receipts[0]
			require.NotNil(t, r.Mutation)
			assert.Equal(t, string(out.Status), r.Mutation.Status)
			assert.NotEmpty(t, r.OpID)

			spans := h.spans.GetSpans()
			require.Len(t, spans, 1)
			assert.Equal(t, "winguard."+string(tt.req.Kind()), spans[0].Name)
			assert.Contains(t, spans[0].Attributes, otel.AttrStatus.String(string(out.Status)))

			assert.Equal(t, []string{"mutation.start", "mutation.complete"}, h.log.events)
		})
	}
}

func TestDispatcher_NilRequest(t *testing.T) {
	for name, req := range map[string]models.MutationRequest{
		"untyped":       nil,
		"typed command": (*models.CommandRequest)(nil),
		"typed bulk":    (*models.BulkDeleteRequest)(nil),
	} {
		t.Run(name, func(t *testing.T) {
			d, h := newHarness(t, false)

			var out models.MutationOutcome
			require.NotPanics(t, func() { out = d.Execute(h.ctx, req) })

			assert.Equal(t, models.StatusFailed, out.Status)
			assert.Equal(t, models.ErrKindValidation, out.Kind)
			assert.Zero(t, h.spy.CallCount())
			assert.Empty(t, h.receipts.receipts)
		})
	}
}

func TestDispatcher_BulkRootCleanedBeforeDecision(t *testing.T) {
	d, h := newHarness(t, false)
	root := rawPath("C:", "Windows", "Temp", "..", "System32")

	out := d.Execute(h.ctx, models.BulkDeleteRequest{RootPath: root})

	assert.Equal(t, models.StatusBlocked, out.Status)
	require.Len(t, h.receipts.receipts, 1)
	assert.NotContains(t, strings.Join(h.receipts.receipts[0].Args, " "), "..")

	plan := d.Plan(h.ctx, models.BulkDeleteRequest{RootPath: root})
	assert.True(t, plan.Blocked)
}

func TestDispatcher_ReceiptRedactsPasswords(t *testing.T) {
	d, h := newHarness(t, false)

	out := d.Execute(h.ctx, models.NewCommandRequest([]string{"net", "user", "alice", "hunter2"}, 0, false))
	require.Equal(t, models.StatusSucceeded, out.Status)

	require.Len(t, h.receipts.receipts, 1)
	r := h.receipts.receipts[0]
	assert.True(t, r.ArgsRedacted)
	assert.NotContains(t, r.Mutation.Action, "hunter2")
	for _, a := range r.Args {
		assert.NotEqual(t, "hunter2", a)
	}
	assert.Equal(t, "success", r.Result.Status)
}

func TestDispatcher_FailedOutcomeMarksSpanAndReceipt(t *testing.T) {
	d, h := newHarness(t, false)
	h.spy.On("powercfg", runnertest.Exit(1, "", "Invalid Parameters"))

	out := d.Execute(h.ctx, models.NewCommandRequest([]string{"powercfg", "/x"}, 0, false))
	require.Equal(t, models.StatusFailed, out.Status)

	r := h.receipts.receipts[0]
	assert.Equal(t, "fail", r.Result.Status)
	assert.Contains(t, r.Result.Error, "exec_error")

	span := h.spans.GetSpans()[0]
	assert.Equal(t, "Error", span.Status.Code.String())
	assert.Contains(t, span.Attributes, attribute.String(string(otel.AttrErrorKind), "exec_error"))
}

func TestDispatcher_AutoRestorePoint(t *testing.T) {
	t.Run("taken before allowed mutation", func(t *testing.T) {
		d, h := newHarness(t, true)

		out := d.Execute(h.ctx, models.ServiceRequest{Action: models.ServiceDisable, ServiceID: "SysMain"})

		require.Equal(t, models.StatusSucceeded, out.Status)
		require.Len(t, h.snap.restorePts, 1)
		assert.Contains(t, h.snap.restorePts[0], "service disable SysMain")
		require.NotNil(t, out.Backup)
		assert.Equal(t, "rp-1", out.Backup.ID)
		require.NotNil(t, h.receipts.receipts[0].Backup)
		assert.Equal(t, "rp-1", h.receipts.receipts[0].Backup.ID)
	})

	t.Run("skipped for blocked and read-only requests", func(t *testing.T) {
		d, h := newHarness(t, true)

		d.Execute(h.ctx, models.ServiceRequest{Action: models.ServiceStop, ServiceID: "CryptSvc"})
		d.Execute(h.ctx, models.RegistryRequest{Operation: models.RegistryQuery, KeyPath: `HKCU\Software`})

		assert.Empty(t, h.snap.restorePts)
	})

	t.Run("failure does not stop the mutation", func(t *testing.T) {
		d, h := newHarness(t, true)
		h.snap.restoreErr = errors.New("restore points disabled")

		out := d.Execute(h.ctx, models.NewCommandRequest([]string{"ipconfig", "/renew"}, 0, false))

		assert.Equal(t, models.StatusSucceeded, out.Status)
		assert.Nil(t, out.Backup)
		assert.Contains(t, out.BackupError, "restore points disabled")
		assert.NotEmpty(t, h.log.warns)
	})

	t.Run("gate snapshot wins", func(t *testing.T) {
		d, h := newHarness(t, true)

		out := d.Execute(h.ctx, models.RegistryRequest{
			Operation: models.RegistryDelete,
			KeyPath:   `HKCU\Software\Vendor`,
			Backup:    models.BackupRequired,
		})

		require.Equal(t, models.StatusSucceeded, out.Status)
		require.NotNil(t, out.Backup)
		assert.Equal(t, "reg-1", out.Backup.ID)
	})
}

func TestDispatcher_PlanWritesReceipt(t *testing.T) {
	d, h := newHarness(t, false)

	plan := d.Plan(h.ctx, models.BulkDeleteRequest{RootPath: `C:\Windows\System32`})

	assert.True(t, plan.Blocked)
	require.Len(t, h.receipts.receipts, 1)
	r := h.receipts.receipts[0]
	require.NotNil(t, r.Plan)
	assert.True(t, r.Plan.Blocked)
	assert.Equal(t, "fail", r.Result.Status)
}

func TestDispatcher_NoObservabilityConfigured(t *testing.T) {
	d, err := NewDispatcher(DispatcherOptions{Policy: builtinPolicy(t), Executor: runnertest.New()})
	require.NoError(t, err)

	out := d.Execute(context.Background(), models.NewCommandRequest([]string{"ipconfig"}, 0, false))
	assert.Equal(t, models.StatusSucceeded, out.Status)
}
