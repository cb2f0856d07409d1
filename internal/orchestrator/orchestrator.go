// ABOUTME: Per-file orchestration: option-driven adapter selection and isolated concurrent fan-out
// ABOUTME: Each adapter call runs through cache, breaker, retry, tracing, and metrics into its own slot

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/hikmaai-io/hikmaai-codescan/internal/backoff"
	"github.com/hikmaai-io/hikmaai-codescan/internal/generative"
	"github.com/hikmaai-io/hikmaai-codescan/internal/observability"
	"github.com/hikmaai-io/hikmaai-codescan/internal/providers"
	"github.com/hikmaai-io/hikmaai-codescan/internal/resilience"
	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

// GenerativeBreakerName names the circuit breaker guarding the generative backend.
const GenerativeBreakerName = "generative"

// ReportCache stores provider reports by role and fingerprint.
type ReportCache interface {
	Get(ctx context.Context, role types.ProviderRole, fingerprint string) (*types.ProviderReport, bool, error)
	Set(ctx context.Context, report types.ProviderReport) error
}

// GenerativeAnalyzer produces the structured generative analysis of one file.
type GenerativeAnalyzer interface {
	Analyze(ctx context.Context, content string, actx *generative.AnalysisContext) (*types.GenerativeAnalysisResult, error)
}

// Config configures an Orchestrator.
type Config struct {
	// Adapters are the malware-scan providers, one per role.
	Adapters []providers.Adapter

	// Generative is optional; without it generative slots fail as not configured.
	Generative GenerativeAnalyzer

	// Cache is optional; found reports are stored and reused across calls.
	Cache ReportCache

	// Breakers is optional; one breaker per provider role plus GenerativeBreakerName.
	Breakers *resilience.Registry

	// ProviderRetry wraps each adapter call. Zero MaxAttempts means one retry
	// on retryable transport errors.
	ProviderRetry backoff.Config

	// BatchConcurrency bounds files analyzed at once; zero means all at once.
	BatchConcurrency int

	// ExcerptLength is how much of each sibling file a batch passes as context.
	ExcerptLength int

	Metrics *observability.Metrics
	Audit   *observability.AuditLogger
	Logger  *slog.Logger

	now func() time.Time
}

// Orchestrator fans a file out to the selected providers and joins the results.
type Orchestrator struct {
	cfg      Config
	adapters map[types.ProviderRole]providers.Adapter
	logger   *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics()
	}
	if cfg.Audit == nil {
		cfg.Audit = observability.NewAuditLogger(cfg.Logger)
	}
	if cfg.Breakers == nil {
		cfg.Breakers = resilience.NewRegistry(resilience.CircuitBreakerConfig{Logger: cfg.Logger})
	}
	if cfg.ProviderRetry.MaxAttempts == 0 {
		cfg.ProviderRetry.MaxAttempts = 2
	}
	if cfg.ProviderRetry.Retryable == nil {
		cfg.ProviderRetry.Retryable = retryableTransport
	}
	if cfg.ProviderRetry.Logger == nil {
		cfg.ProviderRetry.Logger = cfg.Logger
	}
	if cfg.ExcerptLength <= 0 {
		cfg.ExcerptLength = generative.DefaultExcerptLength
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	adapters := make(map[types.ProviderRole]providers.Adapter, len(cfg.Adapters))
	for _, a := range cfg.Adapters {
		adapters[a.Role()] = a
	}

	return &Orchestrator{
		cfg:      cfg,
		adapters: adapters,
		logger:   cfg.Logger.With(slog.String("component", "orchestrator")),
	}
}

// Metrics returns the collector the orchestrator records into.
func (o *Orchestrator) Metrics() *observability.Metrics {
	return o.cfg.Metrics
}

// Breakers returns the circuit breaker registry.
func (o *Orchestrator) Breakers() *resilience.Registry {
	return o.cfg.Breakers
}

// AnalyzeFile analyzes one file with the providers its options select.
// A failing provider marks only its own slot; it never fails the call.
func (o *Orchestrator) AnalyzeFile(ctx context.Context, name, content string, opts types.AnalysisOptions, convo *types.ConversationContext) types.AggregatedResult {
	o.cfg.Audit.LogAnalysisRequested(ctx, uuid.NewString(), 1, opts.String())
	actx := generative.NewAnalysisContext(convo)
	return o.analyzeFile(ctx, name, content, opts, &actx)
}

// AnalyzeBatch analyzes files concurrently and returns results in input order.
func (o *Orchestrator) AnalyzeBatch(ctx context.Context, files []types.FileInput, opts types.AnalysisOptions, convo *types.ConversationContext) types.BatchResult {
	start := o.cfg.now()
	batch := types.BatchResult{
		ID:        uuid.NewString(),
		Results:   make([]types.AggregatedResult, len(files)),
		CreatedAt: start.UTC(),
	}
	o.cfg.Audit.LogAnalysisRequested(ctx, batch.ID, len(files), opts.String())
	o.cfg.Metrics.RecordBatch()

	base := generative.NewAnalysisContext(convo)

	var g errgroup.Group
	if o.cfg.BatchConcurrency > 0 {
		g.SetLimit(o.cfg.BatchConcurrency)
	}
	for i, f := range files {
		g.Go(func() error {
			actx := base
			actx.RelatedFiles = generative.RelatedFiles(files, i, o.cfg.ExcerptLength)
			batch.Results[i] = o.analyzeFile(ctx, f.Name, f.Content, opts, &actx)
			return nil
		})
	}
	_ = g.Wait()

	batch.Duration = o.cfg.now().Sub(start)
	o.logger.InfoContext(ctx, "batch analyzed",
		slog.String("batch_id", batch.ID),
		slog.Int("files", len(files)),
		slog.Duration("duration", batch.Duration),
	)
	return batch
}

// CachedReports returns every cached provider report for a fingerprint.
func (o *Orchestrator) CachedReports(ctx context.Context, fingerprint string) ([]types.ProviderReport, error) {
	if o.cfg.Cache == nil {
		return nil, nil
	}
	var out []types.ProviderReport
	for _, role := range types.MalwareRoles() {
		r, ok, err := o.cfg.Cache.Get(ctx, role, fingerprint)
		if err != nil {
			return nil, fmt.Errorf("reading %s report: %w", role, err)
		}
		if ok {
			out = append(out, r.WithCached())
		}
	}
	return out, nil
}

func (o *Orchestrator) analyzeFile(ctx context.Context, name, content string, opts types.AnalysisOptions, actx *generative.AnalysisContext) (result types.AggregatedResult) {
	start := o.cfg.now()
	fp := types.Fingerprint([]byte(content))

	ctx, span := observability.StartSpan(ctx, "orchestrator.analyze_file",
		attribute.String("file.name", name),
		attribute.String("file.sha256", fp.Value),
		attribute.String("options", opts.String()),
	)
	defer span.End()
	defer o.cfg.Metrics.TrackActive()()

	result = types.AggregatedResult{
		FileName:    name,
		Fingerprint: fp.Value,
		Options:     opts,
		Providers:   map[types.ProviderRole]types.ProviderSlot{},
		StartedAt:   start.UTC(),
	}

	var roles []types.ProviderRole
	if opts.Malware {
		roles = types.MalwareRoles()
	}
	slots := make([]types.ProviderSlot, len(roles))
	var genSlot *types.GenerativeSlot
	if opts.NeedsGenerative() {
		genSlot = &types.GenerativeSlot{}
	}

	// Plain Group: a failed sibling must not cancel the others.
	var g errgroup.Group
	for i, role := range roles {
		g.Go(func() error {
			slots[i] = o.runProvider(ctx, role, fp, []byte(content))
			return nil
		})
	}
	if genSlot != nil {
		g.Go(func() error {
			*genSlot = o.runGenerative(ctx, fp, content, actx)
			return nil
		})
	}
	_ = g.Wait()

	for i, role := range roles {
		result.Providers[role] = slots[i]
	}
	result.Generative = genSlot
	if genSlot != nil {
		result.Summary = BuildSummary(opts, genSlot.Result)
	}
	result.CompletedAt = o.cfg.now().UTC()

	failed := len(result.FailedProviders())
	if genSlot != nil && genSlot.Status == types.SlotFailed {
		failed++
	}
	o.cfg.Metrics.RecordAnalysis(result.CompletedAt.Sub(start), failed > 0)
	o.cfg.Audit.LogAnalysisCompleted(ctx, name, fp.Value, failed)
	span.SetAttributes(attribute.Int("failed_slots", failed))
	return result
}

func (o *Orchestrator) runProvider(ctx context.Context, role types.ProviderRole, fp types.Hash, content []byte) (slot types.ProviderSlot) {
	start := o.cfg.now()
	ctx, span := observability.StartSpan(ctx, "provider."+string(role), attribute.String("provider", string(role)))

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panicked: %v", r)
			slot = types.ProviderSlot{Status: types.SlotFailed, Error: &types.SlotError{Kind: types.SlotErrorInternal, Message: err.Error()}}
		}
		slot.Duration = o.cfg.now().Sub(start)
		o.recordSlot(ctx, role, fp, slot.Error, slot.Duration)
		observability.EndSpan(span, err)
	}()

	if cached := o.cachedReport(ctx, role, fp); cached != nil {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return types.ProviderSlot{Status: types.SlotOK, Report: cached}
	}

	adapter, ok := o.adapters[role]
	if !ok {
		err = fmt.Errorf("provider %s is not configured", role)
		return failedProviderSlot(err)
	}

	breaker := o.cfg.Breakers.Get(string(role))
	var report *types.ProviderReport
	report, err = resilience.Call(ctx, breaker, func(ctx context.Context) (*types.ProviderReport, error) {
		return backoff.Execute(ctx, o.cfg.ProviderRetry, func(ctx context.Context) (*types.ProviderReport, error) {
			out := adapter.Analyze(ctx, content)
			report, err := out.Result()
			if err != nil && out.SubmissionID != "" {
				// Retrying would upload the content a second time.
				return nil, &submittedError{err: err}
			}
			return report, err
		})
	})
	if err != nil {
		return failedProviderSlot(err)
	}

	if o.cfg.Cache != nil && report.Found {
		if cerr := o.cfg.Cache.Set(ctx, *report); cerr != nil {
			o.logger.WarnContext(ctx, "caching provider report failed",
				slog.String("provider", string(role)),
				slog.String("error", cerr.Error()),
			)
		}
	}
	return types.ProviderSlot{Status: types.SlotOK, Report: report}
}

func (o *Orchestrator) cachedReport(ctx context.Context, role types.ProviderRole, fp types.Hash) *types.ProviderReport {
	if o.cfg.Cache == nil {
		return nil
	}
	r, ok, err := o.cfg.Cache.Get(ctx, role, fp.Value)
	if err != nil {
		o.logger.WarnContext(ctx, "report cache lookup failed",
			slog.String("provider", string(role)),
			slog.String("error", err.Error()),
		)
		ok = false
	}
	o.cfg.Metrics.RecordCacheLookup(string(role), ok)
	if !ok {
		return nil
	}
	cached := r.WithCached()
	return &cached
}

func (o *Orchestrator) runGenerative(ctx context.Context, fp types.Hash, content string, actx *generative.AnalysisContext) (slot types.GenerativeSlot) {
	start := o.cfg.now()
	ctx, span := observability.StartSpan(ctx, "provider.generative")

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generative analysis panicked: %v", r)
			slot = types.GenerativeSlot{Status: types.SlotFailed, Error: &types.SlotError{Kind: types.SlotErrorInternal, Message: err.Error()}}
		}
		slot.Duration = o.cfg.now().Sub(start)
		o.recordSlot(ctx, GenerativeBreakerName, fp, slot.Error, slot.Duration)
		observability.EndSpan(span, err)
	}()

	if o.cfg.Generative == nil {
		err = errors.New("generative backend is not configured")
		return types.GenerativeSlot{Status: types.SlotFailed, Error: ClassifyError(err)}
	}

	breaker := o.cfg.Breakers.Get(GenerativeBreakerName)
	var result *types.GenerativeAnalysisResult
	result, err = resilience.Call(ctx, breaker, func(ctx context.Context) (*types.GenerativeAnalysisResult, error) {
		return o.cfg.Generative.Analyze(ctx, content, actx)
	})
	if err != nil {
		return types.GenerativeSlot{Status: types.SlotFailed, Error: ClassifyError(err)}
	}
	return types.GenerativeSlot{Status: types.SlotOK, Result: result}
}

func (o *Orchestrator) recordSlot(ctx context.Context, provider types.ProviderRole, fp types.Hash, slotErr *types.SlotError, d time.Duration) {
	kind := ""
	if slotErr != nil {
		kind = string(slotErr.Kind)
		o.cfg.Audit.LogProviderFailure(ctx, string(provider), fp.Value, SlotErrorContext(provider, slotErr))
	}
	o.cfg.Metrics.RecordProviderCall(string(provider), d, kind)
}

func failedProviderSlot(err error) types.ProviderSlot {
	return types.ProviderSlot{Status: types.SlotFailed, Error: ClassifyError(err)}
}

// submittedError marks a failure that happened after the content was uploaded.
type submittedError struct{ err error }

func (e *submittedError) Error() string { return e.err.Error() }
func (e *submittedError) Unwrap() error { return e.err }

func retryableTransport(err error) bool {
	var se *submittedError
	if errors.As(err, &se) {
		return false
	}
	var te *providers.TransportError
	return errors.As(err, &te) && te.Retryable()
}
