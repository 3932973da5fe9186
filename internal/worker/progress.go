package worker

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Progress tallies import results per seed kind and optionally draws a
// one-line status to a terminal.
type Progress struct {
	out     io.Writer
	started time.Time
	total   int

	mu    sync.Mutex
	done  int
	kinds map[Kind]*kindTally
}

type kindTally struct {
	files   int
	failed  int
	records int
}

// NewProgress returns a tracker for total tasks. When show is false nothing
// is written and the tracker only collects totals for Summary.
func NewProgress(total int, show bool) *Progress {
	p := &Progress{
		started: time.Now(),
		total:   total,
		kinds:   map[Kind]*kindTally{},
	}
	if show {
		p.out = os.Stderr
	}
	return p
}

// Observe records one finished task.
func (p *Progress) Observe(r Result, completed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.kinds[r.Task.Kind]
	if t == nil {
		t = &kindTally{}
		p.kinds[r.Task.Kind] = t
	}
	t.files++
	if r.Err != nil {
		t.failed++
	} else {
		t.records += r.Records
	}
	p.done, p.total = completed, total

	if p.out != nil {
		fmt.Fprintf(p.out, "\r\033[K%s", p.line())
	}
}

// Callback adapts Observe to Config.OnProgress.
func (p *Progress) Callback() ProgressFunc {
	return p.Observe
}

// Done terminates the status line.
func (p *Progress) Done() {
	if p.out == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "\r\033[K%s, took %s\n", p.line(), roundDuration(time.Since(p.started)))
}

// Records returns the number of records written by successful tasks.
func (p *Progress) Records() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.kinds {
		n += t.records
	}
	return n
}

// Summary reports totals with a breakdown per kind, e.g.
// "imported 4/4 files, 1311 records in 2s (layer 2 files 40 records, ...)".
func (p *Progress) Summary() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ok, failed, records int
	parts := make([]string, 0, len(p.kinds))
	for _, k := range p.sortedKinds() {
		t := p.kinds[k]
		ok += t.files - t.failed
		failed += t.failed
		records += t.records
		part := fmt.Sprintf("%s %d files %d records", k, t.files-t.failed, t.records)
		if t.failed > 0 {
			part += fmt.Sprintf(" %d failed", t.failed)
		}
		parts = append(parts, part)
	}

	s := fmt.Sprintf("imported %d/%d files, %d records in %s", ok, p.total, records, roundDuration(time.Since(p.started)))
	if failed > 0 {
		s += fmt.Sprintf(", %d failed", failed)
	}
	if len(parts) > 0 {
		s += " (" + strings.Join(parts, ", ") + ")"
	}
	return s
}

// line renders "[####......] 2/4 files 312 records 150 rec/s". Callers hold mu.
func (p *Progress) line() string {
	const width = 20
	filled := 0
	if p.total > 0 {
		filled = width * p.done / p.total
	}

	var records, failed int
	for _, t := range p.kinds {
		records += t.records
		failed += t.failed
	}

	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(strings.Repeat("#", filled))
	b.WriteString(strings.Repeat(".", width-filled))
	fmt.Fprintf(&b, "] %d/%d files %d records", p.done, p.total, records)
	if failed > 0 {
		fmt.Fprintf(&b, " %d failed", failed)
	}
	if secs := time.Since(p.started).Seconds(); secs > 0 {
		fmt.Fprintf(&b, " %.0f rec/s", float64(records)/secs)
	}
	return b.String()
}

func (p *Progress) sortedKinds() []Kind {
	kinds := make([]Kind, 0, len(p.kinds))
	for k := range p.kinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// roundDuration trims a duration to a readable precision.
func roundDuration(d time.Duration) time.Duration {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond)
	case d < time.Minute:
		return d.Round(100 * time.Millisecond)
	default:
		return d.Round(time.Second)
	}
}
