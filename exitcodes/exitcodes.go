// Package exitcodes defines the process exit codes used by op-dispval.
package exitcodes

import "github.com/ethereum-optimism/infra/op-dispval/types"

// The process exits with the suite result code. Setup problems that prevent the suite from
// running (missing or invalid flags, an unreadable report file) exit with SetupErr.
const (
	Success  = int(types.ResultPass)
	SetupErr = int(types.ResultError)
)

// FromResult returns the exit code for a suite result. Unknown codes map to SetupErr.
func FromResult(code types.ResultCode) int {
	if !code.Valid() {
		return SetupErr
	}
	return int(code)
}
