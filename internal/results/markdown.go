package results

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// RunInfo is the header data of a markdown run report.
type RunInfo struct {
	Site     string
	Team     string
	URL      string
	RunID    string
	Started  time.Time
	Finished time.Time
	Attempt  int
}

// WriteMarkdown renders a run summary as GitHub flavoured markdown.
func WriteMarkdown(w io.Writer, info RunInfo, s Summary) error {
	md := markdown.NewMarkdown(w)

	md.H1(fmt.Sprintf("Deposit gateway report: %s", info.Site))
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Team", orDash(info.Team)},
			{"URL", orDash(info.URL)},
			{"Run ID", "`" + orDash(info.RunID) + "`"},
			{"Started", formatTime(info.Started)},
			{"Finished", formatTime(info.Finished)},
			{"Attempt", strconv.Itoa(info.Attempt)},
			{"Combinations", strconv.Itoa(s.Total())},
		},
	})
	md.PlainText("")

	writeAlert(md, s)

	if s.Total() > 0 {
		chart := piechart.NewPieChart(
			io.Discard,
			piechart.WithTitle("Verdicts"),
			piechart.WithShowData(true),
		)
		if n := len(s.Succeeded); n > 0 {
			chart.LabelAndIntValue("Success", uint64(n))
		}
		if n := len(s.Failed); n > 0 {
			chart.LabelAndIntValue("Failed", uint64(n))
		}
		if n := len(s.Unknown); n > 0 {
			chart.LabelAndIntValue("Unknown", uint64(n))
		}
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}

	writeRecords(md, "Failed", s.Failed)
	writeRecords(md, "Unknown", s.Unknown)
	writeRecords(md, "Success", s.Succeeded)

	if len(s.NotReached) > 0 {
		md.H2("Not reached")
		md.PlainText("")
		items := make([]string, len(s.NotReached))
		for i, skip := range s.NotReached {
			items[i] = skip.String()
		}
		md.BulletList(items...)
		md.PlainText("")
	}

	return md.Build()
}

func writeAlert(md *markdown.Markdown, s Summary) {
	switch {
	case len(s.Failed) > 0:
		md.Cautionf("%d of %d deposit combination(s) failed.", len(s.Failed), s.Total())
	case len(s.Unknown) > 0:
		md.Warningf("%d deposit combination(s) could not be classified.", len(s.Unknown))
	case s.Total() == 0:
		md.Warning("No deposit combination was tested.")
	default:
		md.Tip("All deposit gateways passed.")
	}
	md.PlainText("")
}

func writeRecords(md *markdown.Markdown, title string, recs []Record) {
	if len(recs) == 0 {
		return
	}
	md.H2(fmt.Sprintf("%s (%d)", title, len(recs)))
	md.PlainText("")

	rows := make([][]string, len(recs))
	for i, r := range recs {
		shot := "-"
		if r.ScreenshotPath != "" {
			shot = filepath.Base(r.ScreenshotPath)
		}
		rows[i] = []string{
			orDash(r.Combination.Option),
			orDash(r.Combination.Method),
			orDash(r.Combination.Channel),
			orDash(r.Combination.Bank),
			orDash(r.Result.Reason),
			shot,
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Option", "Method", "Channel", "Bank", "Reason", "Screenshot"},
		Rows:   rows,
	})
	md.PlainText("")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05 MST")
}
