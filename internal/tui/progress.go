package tui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/x/ansi"
)

// ProgressPrinter renders download progress as a single self-overwriting
// terminal line. It is driven directly by the downloader's progress callback
// and needs no event loop of its own.
type ProgressPrinter struct {
	w     io.Writer
	bar   progress.Model
	label string

	lastPct   int   // last rendered whole percent, -1 before the first paint
	lastBytes int64 // last rendered byte count when the total is unknown
}

// NewProgressPrinter creates a printer that writes to w, prefixing each
// repaint with label.
func NewProgressPrinter(w io.Writer, label string) *ProgressPrinter {
	bar := progress.New(
		progress.WithGradient(string(colorPrimary), string(colorAccent)),
		progress.WithoutPercentage(),
	)
	bar.Width = 30

	return &ProgressPrinter{w: w, bar: bar, label: label, lastPct: -1}
}

// Report repaints the progress line. It is safe to call on every chunk: the
// line repaints only when the whole-percent value moves. A total of zero or
// less means the size is unknown and only the byte count is shown.
func (p *ProgressPrinter) Report(done, total int64) {
	if total <= 0 {
		if done-p.lastBytes < 256<<10 {
			return
		}
		p.lastBytes = done
		fmt.Fprintf(p.w, "\r%s %s", p.label, mutedStyle.Render(formatSize(done)))
		return
	}

	ratio := float64(done) / float64(total)
	if ratio > 1 {
		ratio = 1
	}
	pct := int(ratio * 100)
	if pct == p.lastPct {
		return
	}
	p.lastPct = pct

	counts := mutedStyle.Render(fmt.Sprintf("%s / %s", formatSize(done), formatSize(total)))
	fmt.Fprintf(p.w, "\r%s %s %3d%% %s", p.label, p.bar.ViewAs(ratio), pct, counts)
}

// Finish clears the progress line so normal output continues cleanly.
func (p *ProgressPrinter) Finish() {
	if p.lastPct < 0 && p.lastBytes == 0 {
		return
	}
	fmt.Fprint(p.w, "\r"+ansi.EraseEntireLine)
}
