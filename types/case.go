package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Known test group names
const (
	GroupSanity    = "sanity"
	GroupAutomated = "automated"
	GroupManual    = "manual"
)

// GroupNames lists the group names in the order they are presented to users.
var GroupNames = []string{GroupAutomated, GroupSanity, GroupManual}

// DefaultPassMessage is recorded for a case that completed without any classification.
const DefaultPassMessage = "Test case completed without any failures"

// CaseDescriptor identifies a registered test case
type CaseDescriptor struct {
	Number      int    `yaml:"number"`
	Description string `yaml:"description"`
}

func (d CaseDescriptor) String() string {
	return fmt.Sprintf("%d (%s)", d.Number, d.Description)
}

// TestID is the identifier the description starts with (eg. NB2_DISP_03),
// or the case number when the description has none.
func (d CaseDescriptor) TestID() string {
	if fields := strings.Fields(d.Description); len(fields) > 0 && fields[0] != ":" {
		return fields[0]
	}
	return strconv.Itoa(d.Number)
}

// Group is a named, ordered list of case numbers. The order is the execution order.
type Group struct {
	Name  string
	Cases []int
}

// CaseOutcome captures the result of a single executed case.
// The code only ever increases over the lifetime of the outcome.
type CaseOutcome struct {
	Case     CaseDescriptor
	Code     ResultCode
	Message  string
	Duration time.Duration
}

// NewCaseOutcome creates a Pass outcome for the case.
func NewCaseOutcome(desc CaseDescriptor) *CaseOutcome {
	return &CaseOutcome{Case: desc, Code: ResultPass}
}

// Update raises the outcome to code if it is more severe than the current one.
// The message is replaced only when the severity rises, or when no message is set yet.
// It returns true if the code changed.
func (o *CaseOutcome) Update(code ResultCode, msg string) bool {
	code = code.Sanitize()
	if code > o.Code {
		o.Code = code
		o.Message = msg
		return true
	}
	if o.Message == "" && code == o.Code {
		o.Message = msg
	}
	return false
}

// Apply classifies err and updates the outcome with it.
func (o *CaseOutcome) Apply(err error) {
	if err == nil {
		return
	}
	if f, ok := AsFailure(err); ok {
		o.Update(f.Code, f.Message)
		return
	}
	o.Update(ResultError, err.Error())
}

// Record converts the outcome to a report record.
func (o *CaseOutcome) Record() ReportRecord {
	code := o.Code.Sanitize()
	label, _ := code.Label()
	return ReportRecord{
		CaseNumber:  o.Case.Number,
		Description: o.Case.Description,
		Label:       label,
		Code:        code,
		Message:     o.Message,
	}
}

// SuiteOutcome aggregates the outcomes of every case run in one invocation.
type SuiteOutcome struct {
	RunID    string
	Selector string
	Title    string
	Code     ResultCode
	Cases    []CaseOutcome
	Aborted  bool
	Started  time.Time
	Duration time.Duration
}

// NewSuiteOutcome creates a Pass suite outcome.
func NewSuiteOutcome(runID, selector string) *SuiteOutcome {
	return &SuiteOutcome{
		RunID:    runID,
		Selector: selector,
		Code:     ResultPass,
		Started:  time.Now(),
	}
}

// Merge raises the suite code to code if it is more severe.
func (s *SuiteOutcome) Merge(code ResultCode) {
	s.Code = MaxResult(s.Code, code)
}

// Add appends a finished case outcome and merges its severity.
func (s *SuiteOutcome) Add(o CaseOutcome) {
	s.Cases = append(s.Cases, o)
	s.Merge(o.Code)
}

// Stats counts case outcomes by code.
func (s *SuiteOutcome) Stats() map[ResultCode]int {
	stats := make(map[ResultCode]int, len(AllResultCodes))
	for _, c := range s.Cases {
		stats[c.Code]++
	}
	return stats
}

// ReportRecord is one line of the persisted report.
type ReportRecord struct {
	CaseNumber  int
	Description string
	Label       string
	Code        ResultCode
	Message     string
}
