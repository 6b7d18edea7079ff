package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/scmkit/pkg/observability"
	"github.com/Sumatoshi-tech/scmkit/pkg/runner"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

// Operation names used for spans, metrics and logs.
const (
	OpCheckRepository   = "check_repository"
	OpGetFile           = "get_file"
	OpFileExists        = "file_exists"
	OpGetChangeSet      = "get_changeset"
	OpParseDiffRevision = "parse_diff_revision"
	OpPendingChangeSets = "pending_changesets"
	OpListDirectory     = "list_directory"
)

const spanPrefix = "scm."

// errorKinds is checked in order; the first match names the failure.
var errorKinds = []struct {
	target error
	kind   string
}{
	{context.Canceled, "canceled"},
	{context.DeadlineExceeded, "timeout"},
	{runner.ErrTimeout, "timeout"},
	{runner.ErrNotFound, "tool_not_found"},
	{scm.ErrFileNotFound, "file_not_found"},
	{scm.ErrRepositoryNotFound, "repository_not_found"},
	{scm.ErrInvalidRevisionFormat, "invalid_revision_format"},
	{scm.ErrAuthentication, "authentication"},
	{scm.ErrEmptyChangeSet, "empty_changeset"},
	{scm.ErrUnverifiedCertificate, "unverified_certificate"},
	{scm.ErrBadHostKey, "bad_host_key"},
	{scm.ErrUnknownHostKey, "unknown_host_key"},
	{scm.ErrUnsupportedSSHKey, "unsupported_ssh_key"},
	{scm.ErrUnsupported, "unsupported"},
	{scm.ErrDiffParse, "diff_parse"},
	{scm.ErrSCM, "scm"},
}

// ErrorKind classifies err for metrics. It returns "" for nil.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}

	for _, candidate := range errorKinds {
		if errors.Is(err, candidate.target) {
			return candidate.kind
		}
	}

	return "other"
}

// Instrumentation decorates clients with spans, RED metrics and logs.
type Instrumentation struct {
	tracer trace.Tracer
	red    *observability.REDMetrics
	logger *slog.Logger
}

// NewInstrumentation builds the instruments from providers.
// Unset providers fall back to no-ops.
func NewInstrumentation(providers observability.Providers) (*Instrumentation, error) {
	meter := providers.Meter
	if meter == nil {
		meter = noopmetric.NewMeterProvider().Meter("")
	}

	tracer := providers.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("")
	}

	red, err := observability.NewREDMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("create backend metrics: %w", err)
	}

	logger := providers.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Instrumentation{tracer: tracer, red: red, logger: logger}, nil
}

// Instrument wraps client using providers.
func Instrument(client scm.Client, providers observability.Providers) (scm.Client, error) {
	inst, err := NewInstrumentation(providers)
	if err != nil {
		return nil, err
	}

	return inst.Wrap(client), nil
}

// Wrap returns client decorated with telemetry. The result implements
// scm.PendingLister and scm.DirectoryLister exactly when client does.
func (in *Instrumentation) Wrap(client scm.Client) scm.Client {
	base := &instrumented{inner: client, inst: in, backend: string(client.Backend())}

	pending, hasPending := client.(scm.PendingLister)
	lister, hasLister := client.(scm.DirectoryLister)

	switch {
	case hasPending && hasLister:
		return &instrumentedFull{
			instrumented: base,
			pending:      instrumentedPending{base: base, inner: pending},
			lister:       instrumentedLister{base: base, inner: lister},
		}
	case hasPending:
		return &instrumentedPendingClient{instrumented: base, instrumentedPending: instrumentedPending{base: base, inner: pending}}
	case hasLister:
		return &instrumentedListerClient{instrumented: base, instrumentedLister: instrumentedLister{base: base, inner: lister}}
	default:
		return base
	}
}

// Unwrap returns the client under the telemetry decorator, or client
// itself when it is not decorated.
func Unwrap(client scm.Client) scm.Client {
	if wrapped, ok := client.(interface{ Unwrapped() scm.Client }); ok {
		return wrapped.Unwrapped()
	}

	return client
}

type instrumented struct {
	inner   scm.Client
	inst    *Instrumentation
	backend string
}

// observe runs fn inside a span and records its outcome.
func (ic *instrumented) observe(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(context.Context) error) {
	attrs = append(attrs,
		attribute.String("scm.backend", ic.backend),
		attribute.String("scm.op", op),
	)

	ctx, span := ic.inst.tracer.Start(ctx, spanPrefix+op, trace.WithAttributes(attrs...))
	defer span.End()

	done := ic.inst.red.TrackInflight(ctx, ic.backend, op)
	defer done()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	kind := ErrorKind(err)

	ic.inst.red.RecordOperation(ctx, ic.backend, op, kind, elapsed)

	if err == nil {
		ic.inst.logger.DebugContext(ctx, "scm operation", "backend", ic.backend, "op", op, "duration", elapsed)

		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
	span.SetAttributes(attribute.String("error.type", kind))

	level := slog.LevelWarn
	if kind == "file_not_found" || kind == "empty_changeset" {
		level = slog.LevelDebug
	}

	ic.inst.logger.Log(ctx, level, "scm operation failed",
		"backend", ic.backend, "op", op, "kind", kind, "duration", elapsed, "error", err)
}

func (ic *instrumented) Unwrapped() scm.Client { return ic.inner }

func (ic *instrumented) Backend() scm.BackendID { return ic.inner.Backend() }

func (ic *instrumented) Close() error { return ic.inner.Close() }

func (ic *instrumented) Parser(data []byte) scm.DiffParser { return ic.inner.Parser(data) }

func (ic *instrumented) CheckRepository(ctx context.Context) error {
	var err error

	ic.observe(ctx, OpCheckRepository, nil, func(ctx context.Context) error {
		err = ic.inner.CheckRepository(ctx)

		return err
	})

	return err
}

func (ic *instrumented) GetFile(ctx context.Context, path string, rev scm.Revision) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	ic.observe(ctx, OpGetFile, fileAttrs(path, rev), func(ctx context.Context) error {
		data, err = ic.inner.GetFile(ctx, path, rev)

		return err
	})

	return data, err
}

func (ic *instrumented) FileExists(ctx context.Context, path string, rev scm.Revision) (bool, error) {
	var (
		exists bool
		err    error
	)

	ic.observe(ctx, OpFileExists, fileAttrs(path, rev), func(ctx context.Context) error {
		exists, err = ic.inner.FileExists(ctx, path, rev)

		return err
	})

	return exists, err
}

func (ic *instrumented) GetChangeSet(ctx context.Context, id string, allowEmpty bool) (*scm.ChangeSet, error) {
	var (
		cs  *scm.ChangeSet
		err error
	)

	attrs := []attribute.KeyValue{attribute.String("scm.changeset", id)}

	ic.observe(ctx, OpGetChangeSet, attrs, func(ctx context.Context) error {
		cs, err = ic.inner.GetChangeSet(ctx, id, allowEmpty)

		return err
	})

	return cs, err
}

func (ic *instrumented) ParseDiffRevision(ctx context.Context, filename, revision string) (string, scm.Revision, error) {
	var (
		path string
		rev  scm.Revision
		err  error
	)

	attrs := []attribute.KeyValue{attribute.String("scm.path", filename)}

	ic.observe(ctx, OpParseDiffRevision, attrs, func(ctx context.Context) error {
		path, rev, err = ic.inner.ParseDiffRevision(ctx, filename, revision)

		return err
	})

	return path, rev, err
}

func fileAttrs(path string, rev scm.Revision) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("scm.path", path),
		attribute.String("scm.revision", rev.String()),
	}
}

type instrumentedPending struct {
	base  *instrumented
	inner scm.PendingLister
}

func (ip instrumentedPending) PendingChangeSets(ctx context.Context, user string) ([]*scm.ChangeSet, error) {
	var (
		sets []*scm.ChangeSet
		err  error
	)

	ip.base.observe(ctx, OpPendingChangeSets, nil, func(ctx context.Context) error {
		sets, err = ip.inner.PendingChangeSets(ctx, user)

		return err
	})

	return sets, err
}

type instrumentedLister struct {
	base  *instrumented
	inner scm.DirectoryLister
}

func (il instrumentedLister) ListDirectory(ctx context.Context, path string, rev scm.Revision) ([]string, error) {
	var (
		names []string
		err   error
	)

	il.base.observe(ctx, OpListDirectory, fileAttrs(path, rev), func(ctx context.Context) error {
		names, err = il.inner.ListDirectory(ctx, path, rev)

		return err
	})

	return names, err
}

type instrumentedPendingClient struct {
	*instrumented
	instrumentedPending
}

type instrumentedListerClient struct {
	*instrumented
	instrumentedLister
}

type instrumentedFull struct {
	*instrumented

	pending instrumentedPending
	lister  instrumentedLister
}

func (f *instrumentedFull) PendingChangeSets(ctx context.Context, user string) ([]*scm.ChangeSet, error) {
	return f.pending.PendingChangeSets(ctx, user)
}

func (f *instrumentedFull) ListDirectory(ctx context.Context, path string, rev scm.Revision) ([]string, error) {
	return f.lister.ListDirectory(ctx, path, rev)
}
