package reporting

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// MergeAction identifies the two records a reviewer may merge.
type MergeAction struct {
	ReferenceID int64 `json:"reference_id"`
	CandidateID int64 `json:"candidate_id"`
}

// Cell is one column value of a report row. Value may span several lines.
type Cell struct {
	Column string       `json:"column"`
	Value  string       `json:"value"`
	Link   string       `json:"link,omitempty"`
	Merge  *MergeAction `json:"merge,omitempty"`
}

// Row is a labelled list of cells.
type Row struct {
	Label string `json:"label"`
	Cells []Cell `json:"cells"`
}

// Dataset is an evaluated report.
type Dataset struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	RunID       string            `json:"run_id,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Rows        []Row             `json:"rows"`
}

// Columns returns every column name in order of first appearance.
func (d *Dataset) Columns() []string {
	seen := make(map[string]bool)
	var cols []string
	for _, r := range d.Rows {
		for _, c := range r.Cells {
			if !seen[c.Column] {
				seen[c.Column] = true
				cols = append(cols, c.Column)
			}
		}
	}
	return cols
}

// LabelColumn heads the column holding each row's label in flattened output.
const LabelColumn = "id"

// TableOptions controls how cells are flattened.
type TableOptions struct {
	// Sep joins the lines of a multi-line value.
	Sep string
	// Links appends each cell's link as an extra line.
	Links bool
}

// Table flattens the dataset into a header and records. The first column is
// the row label, the rest are aligned on Columns. Missing cells are empty.
// A cell with a merge action gets a "merge <candidate><-<reference>" line.
func (d *Dataset) Table(opts TableOptions) ([]string, [][]string) {
	cols := d.Columns()
	index := make(map[string]int, len(cols))
	for i, c := range cols {
		index[c] = i + 1
	}
	header := append([]string{LabelColumn}, cols...)
	records := make([][]string, 0, len(d.Rows))
	for _, r := range d.Rows {
		rec := make([]string, len(header))
		rec[0] = r.Label
		for _, c := range r.Cells {
			rec[index[c.Column]] = c.text(opts)
		}
		records = append(records, rec)
	}
	return header, records
}

func (c Cell) text(opts TableOptions) string {
	lines := []string{c.Value}
	if c.Merge != nil {
		lines = append(lines, fmt.Sprintf("merge %d<-%d", c.Merge.CandidateID, c.Merge.ReferenceID))
	}
	if opts.Links && c.Link != "" {
		lines = append(lines, c.Link)
	}
	return strings.ReplaceAll(strings.Join(lines, "\n"), "\n", opts.Sep)
}

// Sink receives evaluated datasets.
type Sink interface {
	Write(ctx context.Context, ds *Dataset) error
}

// JSONSink writes the dataset as indented JSON.
type JSONSink struct {
	W io.Writer
}

func (s JSONSink) Write(_ context.Context, ds *Dataset) error {
	enc := json.NewEncoder(s.W)
	enc.SetIndent("", "  ")
	return enc.Encode(ds)
}

// CSVSink writes one record per row. Multi-line cell values are kept and
// quoted by the CSV writer, and links are included for spreadsheet users.
type CSVSink struct {
	W io.Writer
}

func (s CSVSink) Write(_ context.Context, ds *Dataset) error {
	w := csv.NewWriter(s.W)
	cols, records := ds.Table(TableOptions{Sep: "\n", Links: true})
	if err := w.Write(cols); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return nil
}

// TextSink renders an aligned table for terminals.
type TextSink struct {
	W io.Writer
}

func (s TextSink) Write(_ context.Context, ds *Dataset) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s (%d rows, generated %s)\n\n", ds.Name, len(ds.Rows), ds.GeneratedAt.Format(time.RFC3339))
	if len(ds.Rows) == 0 {
		buf.WriteString("no potential duplicates found\n")
		_, err := s.W.Write(buf.Bytes())
		return err
	}

	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	cols, records := ds.Table(TableOptions{Sep: " / "})
	fmt.Fprintln(tw, strings.Join(cols, "\t"))
	for _, rec := range records {
		fmt.Fprintln(tw, strings.Join(rec, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := s.W.Write(buf.Bytes())
	return err
}

// NewSink picks a sink by format name: text, csv or json.
func NewSink(format string, w io.Writer) (Sink, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return TextSink{W: w}, nil
	case "csv":
		return CSVSink{W: w}, nil
	case "json":
		return JSONSink{W: w}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want text, csv or json)", format)
	}
}
