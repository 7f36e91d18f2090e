package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-dispval/probe"
	"github.com/ethereum-optimism/infra/op-dispval/types"
)

// caseState tracks where a case is in its lifecycle
type caseState int

const (
	stateNotStarted caseState = iota
	stateSetup
	stateRunning
	stateTornDown
	stateReported
)

func (s caseState) String() string {
	switch s {
	case stateNotStarted:
		return "not-started"
	case stateSetup:
		return "setup"
	case stateRunning:
		return "running"
	case stateTornDown:
		return "torn-down"
	case stateReported:
		return "reported"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// caseRunner drives a single case through setup, probe, teardown and reporting.
// A caseRunner is used for exactly one execution.
type caseRunner struct {
	desc       types.CaseDescriptor
	probe      probe.Probe
	hooks      probe.Hooks
	iterations int
	timeout    time.Duration
	log        log.Logger

	state   caseState
	mu      sync.Mutex
	sealed  bool // set once the probe's result is final, late notes are dropped
	outcome *types.CaseOutcome
}

func newCaseRunner(desc types.CaseDescriptor, p probe.Probe, hooks probe.Hooks, iterations int, timeout time.Duration, logger log.Logger) *caseRunner {
	return &caseRunner{
		desc:       desc,
		probe:      p,
		hooks:      hooks,
		iterations: iterations,
		timeout:    timeout,
		log:        logger.New("case", desc.Number),
		state:      stateNotStarted,
		outcome:    types.NewCaseOutcome(desc),
	}
}

func (c *caseRunner) transition(to caseState) {
	c.log.Debug("Case state change", "from", c.state, "to", to)
	c.state = to
}

// run executes the case up to and including teardown. The returned outcome is final.
func (c *caseRunner) run(ctx context.Context) *types.CaseOutcome {
	start := time.Now()
	c.log.Info("Starting the execution of test case", "desc", c.desc.Description)

	c.transition(stateSetup)
	if err := c.setup(ctx); err != nil {
		c.log.Error("Test case setup failed, skipping probe", "err", err)
		if _, ok := types.AsFailure(err); ok {
			c.update(types.CodeOf(err), failureMessage(err))
		} else {
			c.update(types.ResultError, fmt.Sprintf("test setup failed for test case %d (%s): %v",
				c.desc.Number, c.desc.Description, err))
		}
	} else {
		c.transition(stateRunning)
		c.execute(ctx)
	}
	c.seal()

	c.transition(stateTornDown)
	c.teardown(ctx)

	if c.outcome.Code == types.ResultPass && c.outcome.Message == "" {
		c.outcome.Message = types.DefaultPassMessage
	}
	c.outcome.Duration = time.Since(start)
	return c.outcome
}

// markReported finishes the lifecycle once the record has been handed to the sink.
func (c *caseRunner) markReported() {
	c.transition(stateReported)
}

func (c *caseRunner) setup(ctx context.Context) error {
	if c.hooks.Setup == nil {
		return nil
	}
	return safeCall(func() error { return c.hooks.Setup(ctx, c.desc) })
}

func (c *caseRunner) teardown(ctx context.Context) {
	if c.hooks.Teardown == nil {
		return
	}
	// Teardown must run even when the suite was interrupted
	if err := safeCall(func() error { return c.hooks.Teardown(context.WithoutCancel(ctx), c.desc) }); err != nil {
		c.log.Warn("Test case teardown failed, ignoring", "err", err)
	}
}

// execute invokes the probe once and classifies what it returns.
func (c *caseRunner) execute(ctx context.Context) {
	probeCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	env := probe.NewEnv(c.desc, c.iterations, c.log, c.update)

	done := make(chan error, 1)
	go func() {
		done <- safeCall(func() error { return c.probe.Run(probeCtx, env) })
	}()

	var err error
	select {
	case err = <-done:
		if err == nil || probeCtx.Err() == nil {
			break
		}
		// The probe gave up because its context ended, report why the context ended instead
		err = c.contextFailure(ctx)
	case <-probeCtx.Done():
		c.log.Warn("Probe did not return before its context ended")
		err = c.contextFailure(ctx)
	}

	if err == nil {
		return
	}
	if f, ok := types.AsFailure(err); ok {
		c.update(f.Code, f.Message)
		return
	}
	c.log.Error("Unclassified failure while executing test case", "err", err)
	c.update(types.ResultError, fmt.Sprintf("unknown failure while executing test case %d (%s)",
		c.desc.Number, c.desc.Description))
}

// contextFailure classifies the end of the probe context: operator interruption is Fatal,
// hitting the per-case timeout is Error.
func (c *caseRunner) contextFailure(parent context.Context) error {
	if parent.Err() != nil {
		return types.NewFailure(types.ResultFatal, "interrupted")
	}
	return types.NewFailure(types.ResultError, "timed out after %s", c.timeout)
}

// update is the probe's note function and the only way the outcome changes before it is sealed
func (c *caseRunner) update(code types.ResultCode, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		c.log.Debug("Dropping late classification", "code", code, "msg", msg)
		return
	}
	if c.outcome.Update(code, msg) {
		c.log.Debug("Test case result raised", "code", code.Sanitize(), "msg", msg)
	}
}

func (c *caseRunner) seal() {
	c.mu.Lock()
	c.sealed = true
	c.mu.Unlock()
}

func failureMessage(err error) string {
	if f, ok := types.AsFailure(err); ok {
		return f.Message
	}
	return err.Error()
}

// safeCall converts a panic in fn into an error
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}

// logOutcome logs at a level matching the severity. Crit is never used, it exits the process.
func logOutcome(l log.Logger, msg string, code types.ResultCode, ctx ...any) {
	switch code.Sanitize() {
	case types.ResultPass, types.ResultSkip:
		l.Info(msg, ctx...)
	case types.ResultWarning, types.ResultNotice:
		l.Warn(msg, ctx...)
	default:
		l.Error(msg, ctx...)
	}
}
