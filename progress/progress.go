// Package progress writes the user facing lines of an operation wait: a progress indicator while polling, and a
// notice when an operation is left running.
package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/mattn/go-isatty"
)

var spinner = []string{"|", "/", "-", `\`}

// Tracker reports progress of a single wait on a writer. On a terminal it redraws a spinner in place, otherwise it
// appends a dot per tick.
//
// A nil *Tracker is valid and writes nothing.
type Tracker struct {
	mu       sync.Mutex
	w        io.Writer
	message  string
	tty      bool
	frame    int
	finished bool
}

// NewTracker writes message to w and returns a Tracker for it.
// It returns nil if w is nil or message is empty.
func NewTracker(w io.Writer, message string) *Tracker {
	if w == nil || message == "" {
		return nil
	}
	t := &Tracker{w: w, message: message, tty: isTerminal(w)}
	if t.tty {
		fmt.Fprintf(w, "%s...%s", message, spinner[0])
	} else {
		fmt.Fprintf(w, "%s...", message)
	}
	return t
}

// Tick records one more poll.
func (t *Tracker) Tick() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	if t.tty {
		t.frame = (t.frame + 1) % len(spinner)
		fmt.Fprintf(t.w, "\r%s...%s", t.message, spinner[t.frame])
		return
	}
	fmt.Fprint(t.w, ".")
}

// Done ends the line with a success marker.
func (t *Tracker) Done() {
	t.finish("done.")
}

// Fail ends the line with a failure marker.
func (t *Tracker) Fail() {
	t.finish("failed.")
}

func (t *Tracker) finish(marker string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	t.finished = true
	if t.tty {
		fmt.Fprintf(t.w, "\r%s...%s\n", t.message, marker)
		return
	}
	fmt.Fprintf(t.w, "%s\n", marker)
}

// Notice writes the line reported for an operation that is left running:
//
//	Updated [gce instance vm-1].
//	Use [gcloud compute operations describe] command to check the status of this operation.
//
// The hint line is omitted when empty.
func Notice(w io.Writer, kind, name, hint string) error {
	if w == nil {
		return nil
	}
	subject := name
	if kind != "" {
		subject = kind + " " + name
	}
	if _, err := fmt.Fprintf(w, "Updated [%s].\n", subject); err != nil {
		return err
	}
	if hint == "" {
		return nil
	}
	_, err := fmt.Fprintln(w, hint)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
