package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/p-blackswan/project-analyzer/internal/pipeline"
)

const summaryColumnWidth = 72

// palette holds the report styles. Colour is forced on or off per report
// so output written to pipes and buffers stays plain.
type palette struct {
	heading *color.Color
	dir     *color.Color
	note    *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		heading: color.New(color.Bold),
		dir:     color.New(color.FgBlue),
		note:    color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.heading, p.dir, p.note} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// renderReport prints the tree, a per-file table and the project summary.
func renderReport(w io.Writer, art *pipeline.Artifacts, colored bool) error {
	p := newPalette(colored)
	var b strings.Builder

	b.WriteString(p.heading.Sprint("Project tree") + "\n")
	for _, line := range strings.Split(strings.TrimRight(art.TreeText, "\n"), "\n") {
		if strings.HasSuffix(line, "/") {
			line = p.dir.Sprint(line)
		}
		b.WriteString(line + "\n")
	}

	fmt.Fprintf(&b, "\n%s\n", p.heading.Sprintf("Files (%d analysed)", len(art.FileSummaries)))
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tKIND\tLINES\tSIZE\tSUMMARY")
	for _, r := range art.FileSummaries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			r.RelPath,
			r.Kind,
			r.Lines,
			humanize.Bytes(uint64(r.SizeBytes)),
			runewidth.Truncate(r.Summary, summaryColumnWidth, "..."),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(&b, "\n%s\n%s\n", p.heading.Sprint("Project summary"), art.ProjectSummary)
	if !art.Polished {
		b.WriteString(p.note.Sprint("(draft, not polished)") + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}
