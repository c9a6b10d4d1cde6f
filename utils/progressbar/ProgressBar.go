// Package progressbar implements functionality of printing a progress
// bar to the terminal window
package progressbar

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// ProgressBar prints a textual progress bar for a loop with a known
// number of iterations. The bar is redrawn in place on each Increment
// and carries a description that can be updated mid-loop, e.g. to
// show the best loss seen so far.
type ProgressBar struct {
	out         io.Writer
	width       int
	maxProgress int
	progress    int
	description string
}

// New returns a new progress bar that is width characters wide and
// reaches 100% after max calls to Increment.
func New(width, max int, description string) *ProgressBar {
	return &ProgressBar{
		out:         os.Stderr,
		width:       width,
		maxProgress: max,
		description: description,
	}
}

// Describe replaces the description printed in front of the bar.
func (p *ProgressBar) Describe(description string) {
	p.description = description
	p.draw()
}

// Increment advances the internal progress counter. Each time an
// iteration is performed, Increment should be called.
func (p *ProgressBar) Increment() {
	if p.progress < p.maxProgress {
		p.progress++
	}
	p.draw()
}

// Close finishes the bar, jumping to the next line.
func (p *ProgressBar) Close() {
	fmt.Fprintln(p.out)
}

func (p *ProgressBar) draw() {
	filled := 0
	if p.maxProgress > 0 {
		filled = p.width * p.progress / p.maxProgress
	}
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", p.width-filled)
	fmt.Fprintf(p.out, "\r%s [%s] %d/%d", p.description, bar, p.progress,
		p.maxProgress)
}
