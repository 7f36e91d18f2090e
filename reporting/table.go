package reporting

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-dispval/types"
)

// RenderSummary writes a results table for the suite to w.
func RenderSummary(w io.Writer, outcome *types.SuiteOutcome) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("%s (%s)", outcome.Title, formatDuration(outcome.Duration)))

	t.AppendHeader(table.Row{
		"Case", "Description", "Duration", "Result", "Code", "Message",
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Case", Align: text.AlignRight},
		{Name: "Description", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Code", Align: text.AlignRight},
		{Name: "Message", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, c := range outcome.Cases {
		t.AppendRow(table.Row{
			c.Case.Number,
			c.Case.Description,
			formatDuration(c.Duration),
			getResultString(c.Code),
			int(c.Code),
			firstLine(c.Message),
		})
	}

	switch {
	case outcome.Code == types.ResultPass:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case outcome.Code < types.ResultError:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	footer := fmt.Sprintf("%d case(s)", len(outcome.Cases))
	if outcome.Aborted {
		footer += ", aborted"
	}
	t.AppendFooter(table.Row{
		"TOTAL",
		footer,
		formatDuration(outcome.Duration),
		getResultString(outcome.Code),
		int(outcome.Code),
		"",
	})

	t.Render()
}

// getResultString returns a short marker plus label for a code
func getResultString(code types.ResultCode) string {
	switch {
	case code == types.ResultPass:
		return "✓ " + code.String()
	case code == types.ResultSkip:
		return "- " + code.String()
	case code < types.ResultError:
		return "! " + code.String()
	default:
		return "✗ " + code.String()
	}
}

func firstLine(s string) string {
	if idx := strings.Index(s, "\n"); idx != -1 {
		return s[:idx]
	}
	return s
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// RenderCatalog writes the registered cases and the groups that run them to w.
func RenderCatalog(w io.Writer, cases []types.CaseDescriptor, groups []types.Group) {
	member := make(map[int][]string)
	for _, g := range groups {
		for _, n := range g.Cases {
			member[n] = append(member[n], g.Name)
		}
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Display test cases")
	t.AppendHeader(table.Row{"Case", "Description", "Groups"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Case", Align: text.AlignRight},
		{Name: "Description", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})
	for _, c := range cases {
		t.AppendRow(table.Row{c.Number, c.Description, strings.Join(member[c.Number], ", ")})
	}
	t.AppendSeparator()
	for _, g := range groups {
		nums := make([]string, 0, len(g.Cases))
		for _, n := range g.Cases {
			nums = append(nums, fmt.Sprint(n))
		}
		t.AppendRow(table.Row{"", fmt.Sprintf("-t %s", g.Name), strings.Join(nums, " ")})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
