package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	dispval "github.com/ethereum-optimism/infra/op-dispval"
	"github.com/ethereum-optimism/infra/op-dispval/exitcodes"
	"github.com/ethereum-optimism/infra/op-dispval/flags"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-dispval"
	app.Usage = "Display IP validation suite"
	app.Description = "op-dispval runs the display validation cases selected by group name or case number " +
		"and exits with the most severe result code"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			// Use the exit code from the ExitCoder
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			// Anything that kept the suite from running is a program error
			cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.SetupErr))
		}
	}

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		// Flag parsing errors do not reach the ExitErrHandler
		log.Error("Application failed", "message", err)
		shutdown()
		os.Exit(dispval.ExitCodeOf(err))
	}
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := dispval.NewConfig(ctx, log)
	if err != nil {
		return nil, dispval.NewSetupError(fmt.Errorf("failed to create config: %w", err))
	}

	cfg.Log.Debug("Config", "config", cfg)

	app, err := dispval.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		return nil, dispval.NewSetupError(fmt.Errorf("failed to create dispval: %w", err))
	}

	return app, nil
}
