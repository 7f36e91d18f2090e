package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-dispval/metrics"
	"github.com/ethereum-optimism/infra/op-dispval/probe"
	"github.com/ethereum-optimism/infra/op-dispval/reporting"
	"github.com/ethereum-optimism/infra/op-dispval/types"
)

// SuiteTitleBase prefixes every suite title
const SuiteTitleBase = "Display - IP validation"

// CaseCatalog is the view of the registry the runner needs
type CaseCatalog interface {
	Resolve(selector string) ([]int, error)
	IsGroup(selector string) bool
	Describe(n int) (types.CaseDescriptor, error)
	Probe(n int) (probe.Probe, error)
}

// Runner executes the cases selected by a group name or case number
type Runner struct {
	registry    CaseCatalog
	sink        reporting.Sink
	log         log.Logger
	iterations  int
	caseTimeout time.Duration
	hooks       probe.Hooks
	tracer      trace.Tracer
}

// Config holds configuration for creating a new runner
type Config struct {
	Registry    CaseCatalog
	Sink        reporting.Sink
	Log         log.Logger
	Iterations  int           // Times each probe repeats its check, values below 1 mean 1
	CaseTimeout time.Duration // Per-case limit, 0 disables it
	Hooks       probe.Hooks   // Setup and teardown run around every case
}

// NewRunner creates a new runner instance
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("report sink is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Iterations < 1 {
		cfg.Iterations = 1
	}
	if cfg.CaseTimeout < 0 {
		cfg.CaseTimeout = 0
	}

	cfg.Log.Debug("NewRunner()", "iterations", cfg.Iterations, "caseTimeout", cfg.CaseTimeout)

	return &Runner{
		registry:    cfg.Registry,
		sink:        cfg.Sink,
		log:         cfg.Log,
		iterations:  cfg.Iterations,
		caseTimeout: cfg.CaseTimeout,
		hooks:       cfg.Hooks,
		tracer:      otel.Tracer("suite runner"),
	}, nil
}

// suiteRun is the state of one Run call
type suiteRun struct {
	outcome        *types.SuiteOutcome
	appendFailures int
}

// Run resolves the selector and executes its cases in order. Execution stops after a Fatal
// case or once ctx is cancelled. Every other result lets the suite continue.
//
// The returned error is non-nil only when the selector cannot be resolved or the report
// cannot be prepared. The outcome is returned in every case.
func (r *Runner) Run(ctx context.Context, selector string) (*types.SuiteOutcome, error) {
	run := &suiteRun{outcome: types.NewSuiteOutcome(uuid.New().String(), selector)}
	outcome := run.outcome
	outcome.Title = SuiteTitleBase

	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("suite %s", selector))
	defer span.End()
	span.SetAttributes(attribute.String("run_id", outcome.RunID), attribute.String("selector", selector))

	defer func() {
		outcome.Duration = time.Since(outcome.Started)
		r.logSummary(outcome)
		metrics.RecordSuite(outcome)
		span.SetAttributes(attribute.Int("result", int(outcome.Code)))
		if outcome.Code.AtLeast(types.ResultError) {
			span.SetStatus(codes.Error, outcome.Code.String())
		}
	}()

	cases, err := r.registry.Resolve(selector)
	if err != nil {
		r.log.Error("Cannot resolve test selection", "selector", selector, "err", err)
		outcome.Merge(types.CodeOf(err))
		metrics.RecordErrorDetails("resolve", err)
		return outcome, err
	}

	outcome.Title = suiteTitle(selector, len(cases), r.registry.IsGroup(selector))
	r.log.Info(fmt.Sprintf("Starting the %s", outcome.Title), "run_id", outcome.RunID)

	if err := r.prepareReport(outcome.Title); err != nil {
		r.log.Error("Report file is not accessible", "err", err)
		outcome.Merge(types.CodeOf(err))
		metrics.RecordErrorDetails("report", err)
		return outcome, err
	}

	for i, n := range cases {
		if ctx.Err() != nil {
			r.log.Error("Suite interrupted, not scheduling remaining cases", "remaining", len(cases)-i)
			outcome.Merge(types.ResultFatal)
			outcome.Aborted = true
			break
		}
		if err := r.runCase(ctx, run, n); types.IsFatal(err) {
			if i < len(cases)-1 {
				r.log.Error("Fatal result, aborting the remaining cases", "case", n, "remaining", len(cases)-i-1)
				outcome.Aborted = true
			}
			break
		}
	}

	return outcome, nil
}

func (r *Runner) prepareReport(title string) error {
	if err := r.sink.CheckAccessible(fmt.Sprintf(":: Test report for %s ::", title)); err != nil {
		return err
	}
	return r.sink.WriteHeader()
}

// runCase executes and reports one case. A Fatal outcome is returned as a *types.Failure.
func (r *Runner) runCase(ctx context.Context, run *suiteRun, n int) error {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("case %d", n))
	defer span.End()

	var cr *caseRunner
	var result *types.CaseOutcome

	desc, err := r.registry.Describe(n)
	if err == nil {
		var p probe.Probe
		if p, err = r.registry.Probe(n); err == nil {
			cr = newCaseRunner(desc, p, r.hooks, r.iterations, r.caseTimeout, r.log)
			result = cr.run(ctx)
		}
	}
	if err != nil {
		// The catalog is validated on load, a lookup failure means it changed underneath us
		r.log.Error("Cannot look up test case", "case", n, "err", err)
		desc = types.CaseDescriptor{Number: n, Description: "unknown"}
		result = types.NewCaseOutcome(desc)
		result.Update(types.CodeOf(err), failureMessage(err))
	}

	r.report(run, result)
	if cr != nil {
		cr.markReported()
	}

	span.SetAttributes(
		attribute.Int("case", n),
		attribute.Int("result", int(result.Code)),
		attribute.Int("iterations", r.iterations),
	)
	if result.Code.AtLeast(types.ResultError) {
		span.SetStatus(codes.Error, result.Message)
	}

	if result.Code == types.ResultFatal {
		return types.NewFailure(types.ResultFatal, "%s", result.Message)
	}
	return nil
}

// report merges the case into the suite and appends its record. A failed append never changes
// the case outcome. The first one is only logged, any later one raises the suite to Error.
func (r *Runner) report(run *suiteRun, result *types.CaseOutcome) {
	run.outcome.Add(*result)
	metrics.RecordCase(result.Case.Number, result.Code, result.Duration)

	logOutcome(r.log, "Test case finished", result.Code,
		"case", result.Case.Number,
		"result", result.Code,
		"msg", result.Message,
		"duration", result.Duration)

	if err := r.sink.AppendRecord(result.Record()); err != nil {
		run.appendFailures++
		metrics.RecordReportWriteError()
		r.log.Error("Failed to write test case record", "case", result.Case.Number, "failures", run.appendFailures, "err", err)
		if run.appendFailures > 1 {
			run.outcome.Merge(types.ResultError)
		}
	}
}

func (r *Runner) logSummary(outcome *types.SuiteOutcome) {
	code := outcome.Code.Sanitize()
	if code.IsFailure() {
		logOutcome(r.log, fmt.Sprintf("One or more failures observed for %s with return code %d (%s)!",
			outcome.Title, int(code), code), code, "run_id", outcome.RunID)
		return
	}
	r.log.Info(fmt.Sprintf("%s completed successfully with return code %d (%s)",
		outcome.Title, int(code), code), "run_id", outcome.RunID)
}

// suiteTitle names the run the way the report banner and summary refer to it
func suiteTitle(selector string, total int, group bool) string {
	if !group {
		return fmt.Sprintf("%s with Single test case", SuiteTitleBase)
	}
	return fmt.Sprintf("%s with %s suite of %d test case(s)", SuiteTitleBase, capitalize(selector), total)
}

func capitalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
