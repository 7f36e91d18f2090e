package types

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDesc = CaseDescriptor{Number: 3, Description: "NB2_DISP_03 : Check Support for fb0"}

func TestCaseDescriptorTestID(t *testing.T) {
	assert.Equal(t, "NB2_DISP_03", testDesc.TestID())
	assert.Equal(t, "NB2_DISP_01", CaseDescriptor{Number: 1, Description: "NB2_DISP_01 (NB2_34) : Render"}.TestID())
	assert.Equal(t, "12", CaseDescriptor{Number: 12}.TestID())
	assert.Equal(t, "3 (NB2_DISP_03 : Check Support for fb0)", testDesc.String())
}

func TestCaseOutcomeUpdateIsMonotonic(t *testing.T) {
	o := NewCaseOutcome(testDesc)
	require.Equal(t, ResultPass, o.Code)

	assert.True(t, o.Update(ResultError, "program error"))
	assert.Equal(t, ResultError, o.Code)
	assert.Equal(t, "program error", o.Message)

	// A later, less severe classification must not downgrade
	assert.False(t, o.Update(ResultWarning, "just a warning"))
	assert.Equal(t, ResultError, o.Code)
	assert.Equal(t, "program error", o.Message)

	assert.True(t, o.Update(ResultFatal, "fb0 missing"))
	assert.Equal(t, ResultFatal, o.Code)
	assert.Equal(t, "fb0 missing", o.Message)
}

func TestCaseOutcomeUpdatePassMessage(t *testing.T) {
	o := NewCaseOutcome(testDesc)
	assert.False(t, o.Update(ResultPass, "fb0 available"))
	assert.Equal(t, ResultPass, o.Code)
	assert.Equal(t, "fb0 available", o.Message, "first message at the same level is kept")

	o.Update(ResultPass, "second")
	assert.Equal(t, "fb0 available", o.Message)
}

func TestCaseOutcomeUpdateMalformed(t *testing.T) {
	o := NewCaseOutcome(testDesc)
	o.Update(ResultCode(42), "garbage")
	assert.Equal(t, ResultError, o.Code)
}

func TestCaseOutcomeRandomSequencesNeverDecrease(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		o := NewCaseOutcome(testDesc)
		seen := ResultPass
		for j := 0; j < 10; j++ {
			code := AllResultCodes[rng.Intn(len(AllResultCodes))]
			o.Update(code, "step")
			seen = MaxResult(seen, code)
			require.Equal(t, seen, o.Code)
		}
	}
}

func TestCaseOutcomeApply(t *testing.T) {
	o := NewCaseOutcome(testDesc)
	o.Apply(nil)
	assert.Equal(t, ResultPass, o.Code)

	o.Apply(NewFailure(ResultCritical, "no signal"))
	assert.Equal(t, ResultCritical, o.Code)
	assert.Equal(t, "no signal", o.Message)

	o2 := NewCaseOutcome(testDesc)
	o2.Apply(errors.New("exec failed"))
	assert.Equal(t, ResultError, o2.Code)
	assert.Equal(t, "exec failed", o2.Message)
}

func TestCaseOutcomeRecord(t *testing.T) {
	o := NewCaseOutcome(testDesc)
	o.Update(ResultSkip, "unsupported")
	rec := o.Record()
	assert.Equal(t, ReportRecord{
		CaseNumber:  3,
		Description: testDesc.Description,
		Label:       "Skip",
		Code:        ResultSkip,
		Message:     "unsupported",
	}, rec)
}

func TestSuiteOutcomeIsMaxOfCases(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 100; i++ {
		s := NewSuiteOutcome("run", "automated")
		expected := ResultPass
		for j := 0; j < 12; j++ {
			code := AllResultCodes[rng.Intn(len(AllResultCodes))]
			s.Add(CaseOutcome{Case: testDesc, Code: code})
			expected = MaxResult(expected, code)
			require.Equal(t, expected, s.Code, "suite code is the max over all cases so far")
		}
	}
}

func TestSuiteOutcomeCriticalNotOverwrittenByPass(t *testing.T) {
	s := NewSuiteOutcome("run", "automated")
	s.Add(CaseOutcome{Case: CaseDescriptor{Number: 3}, Code: ResultCritical})
	s.Add(CaseOutcome{Case: CaseDescriptor{Number: 4}, Code: ResultPass})
	assert.Equal(t, ResultCritical, s.Code)
	assert.Len(t, s.Cases, 2)

	stats := s.Stats()
	assert.Equal(t, 1, stats[ResultCritical])
	assert.Equal(t, 1, stats[ResultPass])
}
