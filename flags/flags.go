package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_DISPVAL"

var (
	Test = &cli.StringFlag{
		Name:    "test",
		Aliases: []string{"t"},
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TEST"),
		Usage:   "Test group (automated, sanity, manual) or single case number to run",
	}
	Iterations = &cli.IntFlag{
		Name:    "iterations",
		Aliases: []string{"i"},
		Value:   1,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ITERATIONS"),
		Usage:   "Number of times each test case repeats its check. Values below 1 run it once.",
	}
	ReportFile = &cli.StringFlag{
		Name:    "report-file",
		Value:   ".test_suite_report",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REPORT_FILE"),
		Usage:   "Path of the report file the case records are appended to",
	}
	CaseTimeout = &cli.DurationFlag{
		Name:    "case-timeout",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CASE_TIMEOUT"),
		Usage:   "Time limit for a single test case (e.g. '2m'). Set to 0 or omit for no limit.",
	}
	HistoryDB = &cli.StringFlag{
		Name:    "history-db",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HISTORY_DB"),
		Usage:   "Path of a database recording every suite run. Empty disables the history.",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Address to serve /healthz on while the suite runs (e.g. '0.0.0.0:8080'). Empty disables it.",
	}
	List = &cli.BoolFlag{
		Name:    "list",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LIST"),
		Usage:   "List the test cases and groups, then exit",
	}
	Driver = &cli.StringFlag{
		Name:    "display.driver",
		Value:   "NB2",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DISPLAY_DRIVER"),
		Usage:   "DRM driver name passed to modetest",
	}
	Hold = &cli.DurationFlag{
		Name:    "display.hold",
		Value:   15 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DISPLAY_HOLD"),
		Usage:   "How long display programs that never exit are left on screen",
	}
	Pause = &cli.DurationFlag{
		Name:    "display.pause",
		Value:   5 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DISPLAY_PAUSE"),
		Usage:   "Time given to inspect the screen after each step. Set to 0 for none.",
	}
	Seed = &cli.Uint64Flag{
		Name:    "display.seed",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DISPLAY_SEED"),
		Usage:   "Seed for image and overlay geometry selection. 0 picks one per run.",
	}
)

var requiredFlags = []cli.Flag{
	Test,
}

var optionalFlags = []cli.Flag{
	Iterations,
	ReportFile,
	CaseTimeout,
	HistoryDB,
	HealthzAddr,
	List,
	Driver,
	Hold,
	Pause,
	Seed,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

// CheckRequired reports the first required flag that is not set. Listing the catalog needs none.
func CheckRequired(ctx *cli.Context) error {
	if ctx.Bool(List.Name) {
		return nil
	}
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
