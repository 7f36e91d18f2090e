// Package types contains the shared types used across the display validation framework
package types

import (
	"fmt"
	"strings"
)

// ResultCode is the severity of a test case or suite result.
// Codes are strictly ordered, a larger value is always more severe.
type ResultCode int

const (
	ResultPass     ResultCode = 0 // Test case is successful in all means
	ResultWarning  ResultCode = 1 // Not a failure, but requires attention
	ResultNotice   ResultCode = 2 // Minor failure, the test continues
	ResultSkip     ResultCode = 3 // Unimplemented or unsupported feature/scenario
	ResultError    ResultCode = 4 // Test program error, not a hardware failure
	ResultCritical ResultCode = 5 // Actual failure, other cases can still run
	ResultFatal    ResultCode = 6 // Major failure, no other case can run
)

var resultLabels = map[ResultCode]string{
	ResultPass:     "Pass",
	ResultWarning:  "Warning",
	ResultNotice:   "Notice",
	ResultSkip:     "Skip",
	ResultError:    "Error",
	ResultCritical: "Critical",
	ResultFatal:    "Fatal",
}

// AllResultCodes lists every valid code from least to most severe.
var AllResultCodes = []ResultCode{
	ResultPass,
	ResultWarning,
	ResultNotice,
	ResultSkip,
	ResultError,
	ResultCritical,
	ResultFatal,
}

// Valid reports whether the code is one of the enumerated levels.
func (c ResultCode) Valid() bool {
	return c >= ResultPass && c <= ResultFatal
}

// AtLeast reports whether c is at least as severe as other.
func (c ResultCode) AtLeast(other ResultCode) bool {
	return c >= other
}

// Label returns the human readable label for the code.
// An unknown code yields an Error-level *Failure instead of a label.
func (c ResultCode) Label() (string, error) {
	label, ok := resultLabels[c]
	if !ok {
		return "", &Failure{
			Code:    ResultError,
			Message: fmt.Sprintf("unknown result code (%d)", int(c)),
		}
	}
	return label, nil
}

// String implements fmt.Stringer and never fails.
func (c ResultCode) String() string {
	if label, err := c.Label(); err == nil {
		return label
	}
	return fmt.Sprintf("Unknown(%d)", int(c))
}

// Sanitize returns the code itself when valid and ResultError otherwise.
func (c ResultCode) Sanitize() ResultCode {
	if !c.Valid() {
		return ResultError
	}
	return c
}

// IsFailure reports whether the code should be surfaced as a failure in summaries.
func (c ResultCode) IsFailure() bool {
	return c != ResultPass
}

// ParseLabel is the inverse of Label. Matching is case-insensitive.
func ParseLabel(label string) (ResultCode, error) {
	for code, l := range resultLabels {
		if strings.EqualFold(l, strings.TrimSpace(label)) {
			return code, nil
		}
	}
	return ResultError, fmt.Errorf("unknown result label %q", label)
}

// MaxResult returns the most severe of the given codes.
// Malformed codes count as ResultError.
func MaxResult(codes ...ResultCode) ResultCode {
	max := ResultPass
	for _, c := range codes {
		c = c.Sanitize()
		if c > max {
			max = c
		}
	}
	return max
}
