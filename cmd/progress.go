package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/docker/go-units"
	"golang.org/x/term"
)

// progressBar renders download progress on one terminal line. On other
// writers it prints a line per status change.
type progressBar struct {
	w     io.Writer
	label string
	tty   bool
	width int

	status string
	drawn  bool
}

func newProgressBar(w io.Writer, label string) *progressBar {
	p := &progressBar{w: w, label: label, width: 80}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.tty = true
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			p.width = width
		}
	}
	return p
}

// line formats one progress state. percent is -1 while the total is
// unknown; sizes are shown when total is positive.
func (p *progressBar) line(status string, completed, total int64, percent int) string {
	head := strings.TrimSpace(status + " " + p.label)
	if percent < 0 {
		return fmt.Sprintf("%s %s", head, units.HumanSize(float64(completed)))
	}

	tail := fmt.Sprintf("%3d%%", percent)
	if total > 0 {
		tail += fmt.Sprintf(" %s/%s", units.HumanSize(float64(completed)), units.HumanSize(float64(total)))
	}
	barWidth := p.width - len(head) - len(tail) - 4
	if barWidth < 10 {
		return head + " " + tail
	}

	filled := barWidth * min(percent, 100) / 100
	return fmt.Sprintf("%s [%s%s] %s", head, strings.Repeat("=", filled), strings.Repeat(" ", barWidth-filled), tail)
}

func (p *progressBar) Set(status string, completed, total int64, percent int) {
	if !p.tty {
		if status != p.status {
			fmt.Fprintln(p.w, p.line(status, completed, total, percent))
		}
		p.status = status
		return
	}

	fmt.Fprintf(p.w, "\r\x1b[K%s", p.line(status, completed, total, percent))
	p.status = status
	p.drawn = true
}

// Stop ends the progress line.
func (p *progressBar) Stop() {
	if p.tty && p.drawn {
		fmt.Fprintln(p.w)
		p.drawn = false
	}
}
