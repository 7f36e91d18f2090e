// Package dispval runs the display IP validation suite as a cliapp lifecycle.
package dispval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/op-dispval/display"
	"github.com/ethereum-optimism/infra/op-dispval/history"
	"github.com/ethereum-optimism/infra/op-dispval/metrics"
	"github.com/ethereum-optimism/infra/op-dispval/probe"
	"github.com/ethereum-optimism/infra/op-dispval/registry"
	"github.com/ethereum-optimism/infra/op-dispval/reporting"
	"github.com/ethereum-optimism/infra/op-dispval/runner"
	"github.com/ethereum-optimism/infra/op-dispval/service"
	"github.com/ethereum-optimism/infra/op-dispval/types"
)

// dispval implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &dispval{}

// SuiteRunner runs the cases selected by a group name or case number
type SuiteRunner interface {
	Run(ctx context.Context, selector string) (*types.SuiteOutcome, error)
}

// dispval runs one suite and exits with its result code.
type dispval struct {
	config   *Config
	version  string
	registry *registry.Registry
	runner   SuiteRunner
	service  *service.Service
	history  *history.Store
	out      io.Writer
	result   *types.SuiteOutcome

	running   atomic.Bool
	closeOnce sync.Once

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*dispval, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating dispval with config",
		"selector", config.Selector,
		"iterations", config.Iterations,
		"reportFile", config.ReportFile,
		"caseTimeout", config.CaseTimeout,
		"historyDB", config.HistoryDB)

	suite, err := display.New(display.Config{
		Log:       config.Log,
		Commander: probe.NewExecCommander(config.Log, ""),
		Driver:    config.Driver,
		Hold:      config.Hold,
		Pause:     config.Pause,
		Seed:      config.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create display probes: %w", err)
	}

	reg, err := registry.NewRegistry(registry.Config{
		Log:     config.Log,
		Catalog: display.Catalog,
		Probes:  suite.Probes(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	suiteRunner, err := runner.NewRunner(runner.Config{
		Registry:    reg,
		Sink:        reporting.NewFileSink(config.ReportFile),
		Log:         config.Log,
		Iterations:  config.Iterations,
		CaseTimeout: config.CaseTimeout,
		Hooks:       suite.Hooks(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create suite runner: %w", err)
	}

	var store *history.Store
	if config.HistoryDB != "" && !config.List {
		store, err = history.Open(config.HistoryDB)
		if err != nil {
			return nil, err
		}
	}
	config.Log.Info("dispval.New: created registry and suite runner")

	return &dispval{
		config:   config,
		version:  version,
		registry: reg,
		runner:   suiteRunner,
		service: service.New(service.Config{
			Log:            config.Log,
			HealthzAddr:    config.HealthzAddr,
			MetricsEnabled: config.MetricsConfig.Enabled,
			MetricsHost:    config.MetricsConfig.ListenAddr,
			MetricsPort:    config.MetricsConfig.ListenPort,
		}),
		history:          store,
		out:              os.Stdout,
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the selected suite to completion.
// A suite that does not pass is returned as an *ExitError carrying its result code.
// Start implements the cliapp.Lifecycle interface.
func (d *dispval) Start(ctx context.Context) error {
	d.running.Store(true)

	if d.config.List {
		reporting.RenderCatalog(d.out, d.registry.Cases(), d.registry.Groups())
		go d.shutdownCallback(nil)
		return nil
	}

	if d.service != nil {
		if err := d.service.Start(ctx); err != nil {
			d.config.Log.Error("Failed to start the service", "err", err)
			d.close(context.WithoutCancel(ctx))
			return NewSetupError(fmt.Errorf("failed to start service: %w", err))
		}
	}

	d.logPreviousRun()

	d.config.Log.Info("Running test selection", "selector", d.config.Selector, "version", d.version)
	outcome, err := d.runner.Run(ctx, d.config.Selector)
	d.result = outcome
	if outcome != nil {
		reporting.RenderSummary(d.out, outcome)
		d.recordRun(outcome)
	}
	if err != nil {
		d.config.Log.Error("Suite could not run", "selector", d.config.Selector, "err", err)
		d.close(context.WithoutCancel(ctx))
		code := types.ResultError
		if outcome != nil {
			code = outcome.Code
		}
		return &ExitError{Code: code, Err: err}
	}

	if outcome.Code != types.ResultPass {
		d.config.Log.Warn("Suite completed with failures", "run_id", outcome.RunID, "result", outcome.Code)
		d.close(context.WithoutCancel(ctx))
		return &ExitError{Code: outcome.Code}
	}

	d.config.Log.Info("Suite completed, exiting", "run_id", outcome.RunID)
	go d.shutdownCallback(nil)
	return nil
}

// logPreviousRun reports the last stored result for the same selection
func (d *dispval) logPreviousRun() {
	if d.history == nil {
		return
	}
	last, err := d.history.Last(d.config.Selector)
	if errors.Is(err, history.ErrNoRuns) {
		d.config.Log.Info("No previous run recorded", "selector", d.config.Selector)
		return
	}
	if err != nil {
		d.config.Log.Warn("Cannot read the run history", "err", err)
		return
	}
	d.config.Log.Info("Previous run",
		"selector", last.Selector,
		"run_id", last.ID,
		"started", last.Started,
		"result", last.Code,
		"aborted", last.Aborted)
}

func (d *dispval) recordRun(outcome *types.SuiteOutcome) {
	if d.history == nil {
		return
	}
	if err := d.history.Record(outcome); err != nil {
		d.config.Log.Error("Failed to record the run history", "run_id", outcome.RunID, "err", err)
		metrics.RecordErrorDetails("history", err)
	}
}

// close releases the servers and the history database once
func (d *dispval) close(ctx context.Context) error {
	var result error
	d.closeOnce.Do(func() {
		if d.service != nil {
			if err := d.service.Shutdown(ctx); err != nil {
				result = errors.Join(result, fmt.Errorf("failed to stop service: %w", err))
			}
		}
		if d.history != nil {
			if err := d.history.Close(); err != nil {
				result = errors.Join(result, fmt.Errorf("failed to close history db: %w", err))
			}
		}
	})
	return result
}

// Stop implements the cliapp.Lifecycle interface.
func (d *dispval) Stop(ctx context.Context) error {
	d.config.Log.Info("Stopping op-dispval")
	d.running.Store(false)
	err := d.close(ctx)
	d.config.Log.Info("op-dispval stopped")
	return err
}

// Stopped implements the cliapp.Lifecycle interface.
func (d *dispval) Stopped() bool {
	return !d.running.Load()
}

// Result returns the outcome of the last suite run, nil before Start
func (d *dispval) Result() *types.SuiteOutcome {
	return d.result
}
