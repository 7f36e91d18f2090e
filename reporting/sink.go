package reporting

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-dispval/types"
)

// DefaultReportFile is the report path used when none is configured
const DefaultReportFile = ".test_suite_report"

// HeaderFields are the column names written after the banner
var HeaderFields = []string{
	"Test_Case_Number",
	"Test_Case_Desc",
	"Test_Result",
	"Test_Err_Code",
	"Test_Result_Desc",
}

// Sink is an append-only store of report lines
type Sink interface {
	// CheckAccessible truncates the store and writes the banner as its first line.
	CheckAccessible(banner string) error
	// WriteHeader appends the column header line.
	WriteHeader() error
	// AppendRecord appends one case record.
	AppendRecord(record types.ReportRecord) error
}

// FileSink writes the report to a plain text file
type FileSink struct {
	path string
	mu   sync.Mutex
}

var _ Sink = (*FileSink)(nil)

// NewFileSink creates a sink writing to path
func NewFileSink(path string) *FileSink {
	if path == "" {
		path = DefaultReportFile
	}
	return &FileSink{path: path}
}

// Path returns the report file location
func (s *FileSink) Path() string {
	return s.path
}

func (s *FileSink) CheckAccessible(banner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Create(s.path)
	if err != nil {
		return accessFailure(s.path, err)
	}
	if _, err := fmt.Fprintln(f, normalize(banner)); err != nil {
		_ = f.Close()
		return accessFailure(s.path, err)
	}
	if err := f.Close(); err != nil {
		return accessFailure(s.path, err)
	}
	return nil
}

func (s *FileSink) WriteHeader() error {
	return s.appendFields(HeaderFields)
}

func (s *FileSink) AppendRecord(record types.ReportRecord) error {
	return s.appendFields(recordFields(record))
}

func (s *FileSink) appendFields(fields []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return writeFailure(s.path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(fields); err != nil {
		_ = f.Close()
		return writeFailure(s.path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return writeFailure(s.path, err)
	}
	if err := f.Close(); err != nil {
		return writeFailure(s.path, err)
	}
	return nil
}

func accessFailure(path string, err error) error {
	return types.NewFailure(types.ResultError, "cannot access report store %s: %v", path, err)
}

func writeFailure(path string, err error) error {
	return types.NewFailure(types.ResultError, "cannot write to report store %s: %v", path, err)
}

func recordFields(r types.ReportRecord) []string {
	code := r.Code.Sanitize()
	label := r.Label
	if label == "" || code != r.Code {
		label = code.String()
	}
	return []string{
		strconv.Itoa(r.CaseNumber),
		normalize(r.Description),
		label,
		strconv.Itoa(int(code)),
		normalize(r.Message),
	}
}

// normalize keeps a field on a single line: ANSI escapes are removed and line breaks become spaces.
func normalize(s string) string {
	s = stripansi.Strip(s)
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
	return strings.TrimSpace(s)
}

// Report is a parsed report file
type Report struct {
	Banner  string
	Header  []string
	Records []types.ReportRecord
}

// ReadReportFile parses the report at path
func ReadReportFile(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open report %s: %w", path, err)
	}
	defer f.Close()
	return ReadReport(f)
}

// ReadReport parses a report: the banner line, the header line and one record per line after that.
func ReadReport(r io.Reader) (*Report, error) {
	br := bufio.NewReader(r)
	banner, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read banner: %w", err)
	}
	banner = strings.TrimRight(banner, "\r\n")
	if banner == "" {
		return nil, fmt.Errorf("report is empty")
	}

	report := &Report{Banner: banner}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = len(HeaderFields)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	if len(rows) == 0 {
		return report, nil
	}

	report.Header = rows[0]
	for i, field := range HeaderFields {
		if report.Header[i] != field {
			return nil, fmt.Errorf("unexpected header column %d: %q", i, report.Header[i])
		}
	}

	for i, row := range rows[1:] {
		rec, err := ParseRecord(row)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
		report.Records = append(report.Records, rec)
	}
	return report, nil
}

// ParseRecord converts the fields of one report line to a record
func ParseRecord(fields []string) (types.ReportRecord, error) {
	if len(fields) != len(HeaderFields) {
		return types.ReportRecord{}, fmt.Errorf("expected %d fields, got %d", len(HeaderFields), len(fields))
	}
	number, err := strconv.Atoi(fields[0])
	if err != nil {
		return types.ReportRecord{}, fmt.Errorf("invalid case number %q: %w", fields[0], err)
	}
	code, err := strconv.Atoi(fields[3])
	if err != nil {
		return types.ReportRecord{}, fmt.Errorf("invalid result code %q: %w", fields[3], err)
	}
	labelCode, err := types.ParseLabel(fields[2])
	if err != nil {
		return types.ReportRecord{}, err
	}
	if labelCode != types.ResultCode(code) {
		return types.ReportRecord{}, fmt.Errorf("result label %s does not match code %d", fields[2], code)
	}
	return types.ReportRecord{
		CaseNumber:  number,
		Description: fields[1],
		Label:       fields[2],
		Code:        types.ResultCode(code),
		Message:     fields[4],
	}, nil
}
