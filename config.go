package dispval

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-dispval/flags"
)

// Config holds the application configuration
type Config struct {
	Selector      string        // Group name or case number to run
	Iterations    int           // Times each case repeats its check
	ReportFile    string        // Absolute path of the report file
	CaseTimeout   time.Duration // Per-case limit, 0 for none
	HistoryDB     string        // Absolute path of the run history database, empty when disabled
	HealthzAddr   string        // Address of the healthz server, empty when disabled
	List          bool          // Print the catalog instead of running a suite
	Driver        string        // DRM driver passed to modetest
	Hold          time.Duration // How long display programs that never exit are left on screen
	Pause         time.Duration // Time given to inspect the screen after each step
	Seed          uint64        // Image and overlay geometry seed, 0 picks one
	MetricsConfig opmetrics.CLIConfig
	Log           log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	list := ctx.Bool(flags.List.Name)
	selector := strings.TrimSpace(ctx.String(flags.Test.Name))
	if selector == "" && !list {
		return nil, errors.New("test selection is required")
	}

	iterations := ctx.Int(flags.Iterations.Name)
	if iterations < 1 {
		log.Warn("Invalid iteration count, running each case once", "iterations", iterations)
		iterations = 1
	}

	reportFile := ctx.String(flags.ReportFile.Name)
	if reportFile == "" {
		return nil, errors.New("report file path is required")
	}
	absReportFile, err := filepath.Abs(reportFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for report file '%s': %w", reportFile, err)
	}

	var absHistoryDB string
	if historyDB := ctx.String(flags.HistoryDB.Name); historyDB != "" {
		absHistoryDB, err = filepath.Abs(historyDB)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for history db '%s': %w", historyDB, err)
		}
	}

	caseTimeout := ctx.Duration(flags.CaseTimeout.Name)
	if caseTimeout < 0 {
		return nil, fmt.Errorf("case timeout must not be negative: %s", caseTimeout)
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if err := metricsCfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}

	return &Config{
		Selector:      selector,
		Iterations:    iterations,
		ReportFile:    absReportFile,
		CaseTimeout:   caseTimeout,
		HistoryDB:     absHistoryDB,
		HealthzAddr:   ctx.String(flags.HealthzAddr.Name),
		List:          list,
		Driver:        ctx.String(flags.Driver.Name),
		Hold:          ctx.Duration(flags.Hold.Name),
		Pause:         ctx.Duration(flags.Pause.Name),
		Seed:          ctx.Uint64(flags.Seed.Name),
		MetricsConfig: metricsCfg,
		Log:           log,
	}, nil
}
