// Package progress carries phase labels and fractional progress from the
// sync workflow to whatever the caller renders. Nothing in the workflow
// depends on a sink for correctness.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/time/rate"
)

// Indeterminate is reported when a phase has no measurable fraction.
const Indeterminate = -1.0

// Sink receives progress updates. fraction is in [0,1] or Indeterminate.
type Sink interface {
	Report(fraction float64, label string)
}

// Func adapts a plain function to a Sink.
type Func func(fraction float64, label string)

func (f Func) Report(fraction float64, label string) { f(fraction, label) }

type nop struct{}

func (nop) Report(float64, string) {}

// Nop discards every update.
var Nop Sink = nop{}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop
	}
	return s
}

type serialized struct {
	mu   sync.Mutex
	sink Sink
}

// Serialize makes s safe for concurrent reporters; updates reach s one at a time.
func Serialize(s Sink) Sink {
	return &serialized{sink: OrNop(s)}
}

func (s *serialized) Report(fraction float64, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink.Report(fraction, label)
}

type throttled struct {
	mu        sync.Mutex
	sink      Sink
	limiter   *rate.Limiter
	lastLabel string
}

// Throttle forwards at most one update per interval. Label changes and
// completion (fraction >= 1) always pass so phases are never lost.
func Throttle(s Sink, every time.Duration) Sink {
	return &throttled{
		sink:    OrNop(s),
		limiter: rate.NewLimiter(rate.Every(every), 1),
	}
}

func (t *throttled) Report(fraction float64, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	changed := label != t.lastLabel
	t.lastLabel = label
	if !t.limiter.Allow() && !changed && fraction < 1 {
		return
	}
	t.sink.Report(fraction, label)
}

// Scale maps a sub-task's [0,1] progress into [lo,hi] of the parent sink.
func Scale(s Sink, lo, hi float64) Sink {
	s = OrNop(s)
	return Func(func(fraction float64, label string) {
		if fraction < 0 {
			s.Report(Indeterminate, label)
			return
		}
		s.Report(lo+(hi-lo)*clamp(fraction), label)
	})
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

const barSteps = 1000

// Bar renders updates as a terminal progress bar.
type Bar struct {
	bar *progressbar.ProgressBar
}

// NewBar creates a progress bar writing to w.
func NewBar(w io.Writer) *Bar {
	return &Bar{bar: progressbar.NewOptions(barSteps,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)}
}

func (b *Bar) Report(fraction float64, label string) {
	b.bar.Describe(label)
	if fraction >= 0 {
		_ = b.bar.Set(int(clamp(fraction) * barSteps))
	}
}

// Close finishes the bar and clears it from the terminal.
func (b *Bar) Close() error {
	return b.bar.Finish()
}

type lines struct {
	mu        sync.Mutex
	w         io.Writer
	lastLabel string
}

// Lines prints each new label on its own line; fractions are ignored.
// Used when output is not a terminal.
func Lines(w io.Writer) Sink {
	return &lines{w: w}
}

func (l *lines) Report(_ float64, label string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if label == "" || label == l.lastLabel {
		return
	}
	l.lastLabel = label
	fmt.Fprintf(l.w, "%s...\n", label)
}
