// Package cli wires the validated configuration, password prompt, and
// sync engine together into the cryptsync command-line tool.
package cli

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cryptsync/internal/util"
)

// Reporter renders sync progress on a single terminal line that gets
// overwritten in place, fed by internal/sync.ProgressFunc's
// (filesDone, bytesIn, bytesOut, elapsed) tuple.
type Reporter struct {
	mu        sync.Mutex
	quiet     bool
	cancelled atomic.Bool
	lastLine  int
	onCancel  func()
	start     time.Time

	totalUnits int
	totalBytes int64
}

// NewReporter creates a new CLI progress reporter. If quiet is true, only
// errors and the final summary are printed. totalBytes is the summed size
// of the run's planned create/update units; Progress measures the reported
// bytesOut against it to compute the progress fraction, speed and ETA via
// util.Statify. Callers with no meaningful byte total (Clean) pass 0.
func NewReporter(quiet bool, totalUnits int, totalBytes int64) *Reporter {
	return &Reporter{quiet: quiet, totalUnits: totalUnits, totalBytes: totalBytes, start: time.Now()}
}

// Progress satisfies internal/sync.ProgressFunc.
func (r *Reporter) Progress(filesDone int64, bytesIn, bytesOut int64, elapsed time.Duration) {
	if r.quiet {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	progress, speed, eta := util.Statify(bytesOut, r.totalBytes, r.start)

	barWidth := 30
	filled := min(int(progress*float32(barWidth)), barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("\r[%s] %d/%d files | %.2f MiB/s | ETA %s", bar, filesDone, r.totalUnits, speed, eta)
	if len(line) < r.lastLine {
		line += strings.Repeat(" ", r.lastLine-len(line))
	}
	r.lastLine = len(line)

	fmt.Fprint(os.Stderr, line)
}

// IsCancelled reports whether a signal handler asked the run to stop.
func (r *Reporter) IsCancelled() bool {
	return r.cancelled.Load()
}

// BindCancel wires a context.CancelFunc so Cancel also stops the
// in-flight sync/decrypt pool, instead of only flipping a flag callers
// would have to poll themselves.
func (r *Reporter) BindCancel(cancel func()) {
	r.mu.Lock()
	r.onCancel = cancel
	r.mu.Unlock()
}

// Cancel marks the operation as cancelled and, if bound, cancels the
// context the running pool is watching. Called from the SIGINT/SIGTERM
// handler in root.go.
func (r *Reporter) Cancel() {
	r.cancelled.Store(true)
	r.mu.Lock()
	cancel := r.onCancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Finish prints a newline to move past the progress line.
func (r *Reporter) Finish() {
	if !r.quiet && r.lastLine > 0 {
		fmt.Fprintln(os.Stderr)
	}
}

// PrintError prints an error message, first moving past any progress line.
func (r *Reporter) PrintError(format string, args ...any) {
	if !r.quiet && r.lastLine > 0 {
		fmt.Fprintln(os.Stderr)
		r.lastLine = 0
	}
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// PrintSuccess prints a summary line unless quiet.
func (r *Reporter) PrintSuccess(format string, args ...any) {
	if r.quiet {
		return
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
