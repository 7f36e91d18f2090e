package dispval

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-dispval/exitcodes"
	"github.com/ethereum-optimism/infra/op-dispval/types"
)

// ExitError carries the suite result code the process exits with
type ExitError struct {
	Code types.ResultCode
	Err  error
}

var _ cli.ExitCoder = (*ExitError)(nil)

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%d): %v", e.Code, int(e.Code), e.Err)
	}
	return fmt.Sprintf("suite finished with %s (%d)", e.Code, int(e.Code))
}

// ExitCode implements cli.ExitCoder
func (e *ExitError) ExitCode() int {
	return exitcodes.FromResult(e.Code)
}

// Unwrap implements the errors.Unwrap interface
func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewSetupError wraps an error that kept the suite from running
func NewSetupError(err error) *ExitError {
	return &ExitError{Code: types.ResultError, Err: err}
}

// ExitCodeOf returns the exit code for an error returned by the application
func ExitCodeOf(err error) int {
	if err == nil {
		return exitcodes.Success
	}
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return exitcodes.SetupErr
}
