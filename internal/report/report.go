package report

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/skypro1111/flux-loadgen/internal/metrics"
	"github.com/skypro1111/flux-loadgen/internal/stats"
)

// Reporter prints the stats table to out at a fixed cadence, and mirrors the
// aggregate counters into Prometheus when metrics are attached.
type Reporter struct {
	table    *stats.Table
	out      io.Writer
	interval time.Duration
	metrics  *metrics.Metrics
}

// New creates a reporter over the given stats table. m may be nil.
func New(table *stats.Table, out io.Writer, interval time.Duration, m *metrics.Metrics) *Reporter {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Reporter{
		table:    table,
		out:      out,
		interval: interval,
		metrics:  m,
	}
}

// Run renders the table every interval until ctx is done, then renders one
// final table so the last numbers of the run are always visible.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.report()
		case <-ctx.Done():
			r.report()
			return
		}
	}
}

func (r *Reporter) report() {
	snaps := r.table.Snapshot()
	if len(snaps) == 0 {
		return
	}
	Render(r.out, snaps, r.table.Totals())

	if r.metrics != nil {
		r.metrics.UpdateFromSnapshot(r.table.Totals())
	}
}

// Render writes the stats table: one row per connection ordered by id, plus
// a totals row.
func Render(out io.Writer, snaps []stats.Snapshot, total stats.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)

	fmt.Fprintln(w, "CONN\tSENT\tRECV\tFRAMES\tDROPPED\tRESULTS\tSPEECH\tUTT_END\tMETA\tOTHER")
	for _, s := range snaps {
		writeRow(w, fmt.Sprintf("%d", s.ID), s)
	}
	writeRow(w, "TOTAL", total)
	w.Flush()
}

func writeRow(w io.Writer, label string, s stats.Snapshot) {
	fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
		label,
		s.BytesSent, s.BytesReceived,
		s.FramesSent, s.FramesDropped,
		s.Results, s.SpeechStarted, s.UtteranceEnd, s.Metadata, s.Other)
}
