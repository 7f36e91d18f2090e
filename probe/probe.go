// Package probe defines the contract between the case runner and the hardware probes it drives.
package probe

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-dispval/types"
)

// Probe exercises one hardware behaviour.
//
// Run returns nil on success, a *types.Failure for a classified failure, or any other
// error for an unclassified fault. A probe that observes a partial failure and keeps going
// records it through Env.Note.
type Probe interface {
	Run(ctx context.Context, env Env) error
}

// Func adapts a plain function to the Probe interface.
type Func func(ctx context.Context, env Env) error

func (f Func) Run(ctx context.Context, env Env) error {
	return f(ctx, env)
}

// NoteFunc receives partial failure classifications from a running probe.
type NoteFunc func(code types.ResultCode, msg string)

// Env is what a probe gets to see about the case it is running for.
type Env struct {
	Case       types.CaseDescriptor
	Iterations int
	Log        log.Logger

	note NoteFunc
}

// NewEnv creates an Env. A nil logger is replaced with a discarding one, and iterations are
// clamped to at least one.
func NewEnv(desc types.CaseDescriptor, iterations int, logger log.Logger, note NoteFunc) Env {
	if logger == nil {
		logger = log.NewLogger(log.DiscardHandler())
	}
	if iterations < 1 {
		iterations = 1
	}
	return Env{
		Case:       desc,
		Iterations: iterations,
		Log:        logger,
		note:       note,
	}
}

// Note records a partial failure for the case without stopping the probe.
// Severity only ever rises, so noting a lesser code after a greater one has no effect.
func (e Env) Note(code types.ResultCode, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	if e.note != nil {
		e.note(code, msg)
	}
}

// Iterate calls fn once per configured iteration and stops at the first error.
// Each iteration is announced with a banner carrying the case's test ID.
func Iterate(ctx context.Context, env Env, fn func(ctx context.Context, iteration int) error) error {
	for k := 1; k <= env.Iterations; k++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		env.Log.Info(fmt.Sprintf("TEST_ID :: %s : Test Iteration : %d", env.Case.TestID(), k))
		if err := fn(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// Hook runs before or after a case's probe.
type Hook func(ctx context.Context, desc types.CaseDescriptor) error

// Hooks are the per-case setup and teardown actions. Either may be nil.
type Hooks struct {
	Setup    Hook
	Teardown Hook
}
