package cliui

import (
	"fmt"
	"io"
	"time"

	"charm.land/lipgloss/v2"
)

var (
	spinnerFrames = []rune("⣾⣽⣻⢿⡿⣟⣯⣷")
	spinnerStyle  = lipgloss.NewStyle().Foreground(green)
)

const spinnerTick = 80 * time.Millisecond

// spinner redraws one line of w until stopped. Only its goroutine writes to
// w while it runs.
type spinner struct {
	w    io.Writer
	msg  string
	stop chan struct{}
	done chan struct{}
}

func startSpinner(w io.Writer, msg string) *spinner {
	s := &spinner{
		w:    w,
		msg:  msg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *spinner) loop() {
	defer close(s.done)

	t := time.NewTicker(spinnerTick)
	defer t.Stop()

	for frame := 0; ; frame++ {
		glyph := string(spinnerFrames[frame%len(spinnerFrames)])
		fmt.Fprintf(s.w, "\r  %s %s", spinnerStyle.Render(glyph), s.msg)

		select {
		case <-s.stop:
			return
		case <-t.C:
		}
	}
}

// finish stops the animation and leaves the result mark in its place.
func (s *spinner) finish(err error, elapsed time.Duration) {
	close(s.stop)
	<-s.done
	fmt.Fprintf(s.w, "\r  %s %s %s\n", Mark(err), s.msg, StepStyle.Render("("+FormatDuration(elapsed)+")"))
}

// Step runs fn behind a spinner labelled msg and returns fn's error.
func Step(w io.Writer, msg string, fn func() error) error {
	s := startSpinner(w, msg)
	start := time.Now()
	err := fn()
	s.finish(err, time.Since(start))
	return err
}
