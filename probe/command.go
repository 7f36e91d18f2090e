package probe

import (
	"bytes"
	"context"
	stderrors "errors"
	"os/exec"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

// Commander runs external programs on behalf of probes.
type Commander interface {
	// Run executes name with args and returns its combined output.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Shell runs script through /bin/sh -c, for probes that rely on redirection or globbing.
func Shell(ctx context.Context, c Commander, script string) ([]byte, error) {
	return c.Run(ctx, "sh", "-c", script)
}

// Hold runs a program that never exits on its own (modetest with vsync, page flipping)
// for d and then stops it. Being stopped at the deadline counts as success. Any earlier
// exit is reported as returned by the commander.
func Hold(ctx context.Context, c Commander, d time.Duration, name string, args ...string) ([]byte, error) {
	holdCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	out, err := c.Run(holdCtx, name, args...)
	if err != nil && ctx.Err() == nil && holdCtx.Err() == context.DeadlineExceeded {
		return out, nil
	}
	return out, err
}

// ExecCommander runs programs with os/exec.
type ExecCommander struct {
	Log log.Logger
	Dir string
}

var _ Commander = (*ExecCommander)(nil)

// NewExecCommander creates a commander that runs programs in dir (the working directory when empty).
func NewExecCommander(logger log.Logger, dir string) *ExecCommander {
	if logger == nil {
		logger = log.NewLogger(log.DiscardHandler())
	}
	return &ExecCommander{Log: logger, Dir: dir}
}

func (e *ExecCommander) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = e.Dir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	e.Log.Debug("Running command", "cmd", name, "args", strings.Join(args, " "))
	err := cmd.Run()
	e.Log.Debug("Command finished", "cmd", name, "duration", time.Since(start), "err", err)
	if err != nil {
		return out.Bytes(), errors.Wrapf(err, "running %s", name)
	}
	return out.Bytes(), nil
}

// ExitCode extracts the exit status of a finished program from err.
// The second result is false when err does not come from a program exiting.
func ExitCode(err error) (int, bool) {
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	return 0, false
}
