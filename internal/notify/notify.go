package notify

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Notifier surfaces non-fatal problems to the user, the way a toast would
// in a browser client.
type Notifier interface {
	Warn(msg string)
}

// Func adapts a plain function to Notifier.
type Func func(msg string)

func (f Func) Warn(msg string) { f(msg) }

// Writer prints warnings as lines to w and logs them.
type Writer struct {
	w  io.Writer
	mu sync.Mutex
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (n *Writer) Warn(msg string) {
	slog.Warn("notification", "message", msg)

	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = fmt.Fprintf(n.w, "! %s\n", msg)
}

// Discard drops every notification.
var Discard Notifier = Func(func(string) {})
