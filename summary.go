package subgeo

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// reportTimeLayout is the timestamp suffix of summary file names.
const reportTimeLayout = "20060102-150405"

// ReportFileName returns the summary file name for a run finished at t.
func ReportFileName(t time.Time) string {
	return "enrichment-summary-" + t.Format(reportTimeLayout) + ".txt"
}

// WriteSummary renders a plain-text run summary to w.
func WriteSummary(w io.Writer, s *RunSummary) error {
	p := message.NewPrinter(language.English)
	var buf bytes.Buffer

	p.Fprintf(&buf, "Enrichment run %s\n", s.RunID)
	p.Fprintf(&buf, "Started:    %s\n", s.Started.Format(time.RFC3339))
	p.Fprintf(&buf, "Elapsed:    %s\n", s.Elapsed().Round(time.Millisecond))
	p.Fprintf(&buf, "Workers:    %d\n", s.Workers)
	p.Fprintf(&buf, "Attributes: %s\n", s.Attributes)
	p.Fprintf(&buf, "Countries:  %d requested, %d succeeded, %d failed, %d skipped\n",
		len(s.Countries), s.Count(StatusSucceeded), s.Count(StatusFailed), s.Count(StatusSkipped))
	if n := s.Count(StatusDuplicate); n > 0 {
		p.Fprintf(&buf, "            %d duplicate inputs not run again\n", n)
	}
	if s.Cancelled {
		buf.WriteString("Run was cancelled; partial results kept.\n")
	}

	buf.WriteString("\n")
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "attribute\thits\tremote calls\tsucceeded\tfailed\tcoverage\t")
	for _, a := range s.Attributes.List() {
		c := s.Totals.Get(a)
		p.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.1f%%\t\n",
			a, c.Hits, c.RemoteCalls, c.Successes, c.Failures, c.Coverage())
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	buf.WriteString("\nCountries\n")
	tw = tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	for _, o := range s.Countries {
		switch o.Status {
		case StatusSucceeded:
			r := o.Result
			p.Fprintf(tw, "  %s\t%s\t%d subdivisions\t%d remote calls\t%s\t\n",
				r.Country, r.Name, r.Subdivisions, r.Counts.RemoteCalls(), r.Duration.Round(time.Millisecond))
			if r.FlushErr != nil {
				fmt.Fprintf(tw, "  \tcache write failed: %v\t\t\t\t\n", r.FlushErr)
			}
		case StatusFailed:
			fmt.Fprintf(tw, "  %s\tfailed: %v\t\t\t\t\n", o.Input, o.Err)
		case StatusDuplicate:
			fmt.Fprintf(tw, "  %s\t%v\t\t\t\t\n", o.Input, o.Err)
		default:
			fmt.Fprintf(tw, "  %s\t%s\t\t\t\t\n", o.Input, o.Status)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	p.Fprintf(&buf, "\nCache: %s (%d rows, %d bytes)\n", s.CachePath, s.CacheRows, s.CacheBytes)

	_, err := w.Write(buf.Bytes())
	return err
}

// Report writes the run summary to w and to a timestamped file in the
// configured report directory, returning the file path. A failure to write
// the file does not prevent the console output.
func (e *Enricher) Report(w io.Writer, s *RunSummary) (string, error) {
	var buf bytes.Buffer
	if err := WriteSummary(&buf, s); err != nil {
		return "", fmt.Errorf("rendering summary: %w", err)
	}
	if w != nil {
		if _, err := w.Write(buf.Bytes()); err != nil {
			return "", err
		}
	}

	if err := e.config.Fs.MkdirAll(e.config.ReportDir, 0755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}
	path := filepath.Join(e.config.ReportDir, ReportFileName(s.Finished))
	if err := afero.WriteFile(e.config.Fs, path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("writing summary %s: %w", path, err)
	}
	e.logger.Info("summary written", "path", path)
	return path, nil
}
