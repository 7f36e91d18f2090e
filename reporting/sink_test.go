package reporting

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-dispval/types"
)

const testBanner = ":: Test report for Display - IP validation with Sanity suite of 3 test case(s) ::"

func newTestSink(t *testing.T) *FileSink {
	t.Helper()
	return NewFileSink(filepath.Join(t.TempDir(), DefaultReportFile))
}

func TestFileSinkLayout(t *testing.T) {
	sink := newTestSink(t)
	require.NoError(t, sink.CheckAccessible(testBanner))
	require.NoError(t, sink.WriteHeader())
	require.NoError(t, sink.AppendRecord(types.ReportRecord{
		CaseNumber:  3,
		Description: "NB2_DISP_03 : Check Support for fb0",
		Label:       "Pass",
		Code:        types.ResultPass,
		Message:     types.DefaultPassMessage,
	}))

	data, err := os.ReadFile(sink.Path())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, testBanner, lines[0])
	assert.Equal(t, "Test_Case_Number,Test_Case_Desc,Test_Result,Test_Err_Code,Test_Result_Desc", lines[1])
	assert.Equal(t, "3,NB2_DISP_03 : Check Support for fb0,Pass,0,Test case completed without any failures", lines[2])
}

func TestFileSinkCheckAccessibleTruncates(t *testing.T) {
	sink := newTestSink(t)
	require.NoError(t, sink.CheckAccessible("first"))
	require.NoError(t, sink.WriteHeader())
	require.NoError(t, sink.CheckAccessible("second"))

	data, err := os.ReadFile(sink.Path())
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(data))
}

func TestFileSinkInaccessible(t *testing.T) {
	sink := NewFileSink(filepath.Join(t.TempDir(), "missing-dir", "report"))

	err := sink.CheckAccessible(testBanner)
	require.Error(t, err)
	assert.Equal(t, types.ResultError, types.CodeOf(err))
	assert.Contains(t, err.Error(), "cannot access report store")

	err = sink.AppendRecord(types.ReportRecord{CaseNumber: 1, Code: types.ResultPass})
	require.Error(t, err)
	assert.Equal(t, types.ResultError, types.CodeOf(err))
}

func TestFileSinkDefaultPath(t *testing.T) {
	assert.Equal(t, DefaultReportFile, NewFileSink("").Path())
}

func TestReportRoundTrip(t *testing.T) {
	sink := newTestSink(t)
	records := []types.ReportRecord{
		{CaseNumber: 1, Description: "NB2_DISP_01 (NB2_34) : Render Image on Display with Framebuffer.", Label: "Pass", Code: types.ResultPass, Message: "ok"},
		{CaseNumber: 2, Description: "Display Interface, BPP and Resolution Info.", Label: "Critical", Code: types.ResultCritical, Message: `no "LVDS", no DSI`},
		{CaseNumber: 23, Description: "DRM Test – Read Display Frequency (vbltest)", Label: "Skip", Code: types.ResultSkip, Message: "vbltest unavailable"},
		{CaseNumber: 6, Description: "Fb-Test (Color Palette)", Label: "Fatal", Code: types.ResultFatal, Message: "fbtest exited with 1"},
	}

	require.NoError(t, sink.CheckAccessible(testBanner))
	require.NoError(t, sink.WriteHeader())
	for _, r := range records {
		require.NoError(t, sink.AppendRecord(r))
	}

	report, err := ReadReportFile(sink.Path())
	require.NoError(t, err)
	assert.Equal(t, testBanner, report.Banner)
	assert.Equal(t, HeaderFields, report.Header)
	assert.Equal(t, records, report.Records)
}

func TestReportMessageNormalisation(t *testing.T) {
	sink := newTestSink(t)
	require.NoError(t, sink.CheckAccessible(testBanner))
	require.NoError(t, sink.WriteHeader())
	require.NoError(t, sink.AppendRecord(types.ReportRecord{
		CaseNumber:  5,
		Description: "Write dmesg output to display buffer.",
		Code:        types.ResultError,
		Message:     "\x1b[31mline one\x1b[0m\nline two\r\n",
	}))

	data, err := os.ReadFile(sink.Path())
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\n"), "every record stays on one line")

	report, err := ReadReport(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, report.Records, 1)
	assert.Equal(t, "line one line two", report.Records[0].Message)
	assert.Equal(t, "Error", report.Records[0].Label, "missing label is derived from the code")
}

func TestReportMalformedCodeIsWrittenAsError(t *testing.T) {
	sink := newTestSink(t)
	require.NoError(t, sink.CheckAccessible(testBanner))
	require.NoError(t, sink.WriteHeader())
	require.NoError(t, sink.AppendRecord(types.ReportRecord{CaseNumber: 9, Description: "x", Label: "Bogus", Code: 42}))

	report, err := ReadReportFile(sink.Path())
	require.NoError(t, err)
	require.Len(t, report.Records, 1)
	assert.Equal(t, types.ResultError, report.Records[0].Code)
	assert.Equal(t, "Error", report.Records[0].Label)
}

func TestFileSinkConcurrentAppends(t *testing.T) {
	sink := newTestSink(t)
	require.NoError(t, sink.CheckAccessible(testBanner))
	require.NoError(t, sink.WriteHeader())

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, sink.AppendRecord(types.ReportRecord{
				CaseNumber:  n,
				Description: "concurrent, with comma",
				Label:       "Pass",
				Code:        types.ResultPass,
				Message:     "ok",
			}))
		}(i)
	}
	wg.Wait()

	report, err := ReadReportFile(sink.Path())
	require.NoError(t, err)
	assert.Len(t, report.Records, 20)
}

func TestReadReportErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "empty", input: "", wantErr: "report is empty"},
		{name: "bad header", input: "banner\na,b,c,d,e\n", wantErr: "unexpected header column"},
		{name: "short record", input: "banner\n" + strings.Join(HeaderFields, ",") + "\n1,desc,Pass\n", wantErr: "failed to parse report"},
		{name: "bad number", input: "banner\n" + strings.Join(HeaderFields, ",") + "\nx,desc,Pass,0,ok\n", wantErr: "invalid case number"},
		{name: "label mismatch", input: "banner\n" + strings.Join(HeaderFields, ",") + "\n1,desc,Pass,6,ok\n", wantErr: "does not match"},
		{name: "unknown label", input: "banner\n" + strings.Join(HeaderFields, ",") + "\n1,desc,Maybe,0,ok\n", wantErr: "unknown result label"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadReport(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("banner only", func(t *testing.T) {
		report, err := ReadReport(strings.NewReader("banner\n"))
		require.NoError(t, err)
		assert.Equal(t, "banner", report.Banner)
		assert.Empty(t, report.Records)
	})
}
