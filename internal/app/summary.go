package app

import (
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// PrintSummary renders the end-of-run report as a table.
func PrintSummary(w io.Writer, s Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("kbmirror run " + s.RunID)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Articles discovered", s.Discovered},
		{"Articles written", s.Succeeded},
		{"Articles failed", s.Failed},
		{"Discovery pages skipped", s.SkippedPages},
		{"Images left remote", s.ImagesFailed},
	})
	t.AppendSeparator()
	t.AppendRow(table.Row{"Site map", orDash(s.SiteMap)})
	t.AppendRow(table.Row{"Index", orDash(s.Index)})
	t.AppendRow(table.Row{"Failure log", orDash(s.FailureLog)})
	t.AppendRow(table.Row{"Interrupted", strconv.FormatBool(s.Interrupted)})
	t.AppendRow(table.Row{"Elapsed", s.Elapsed.Round(time.Millisecond).String()})
	t.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
