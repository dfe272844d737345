// Package diagnostic installs the one process-wide global permitted by
// spec §5: a diagnostic log sink. It is init-once, has process lifetime,
// and no core component reads from it — only cmd/depot writes to it at
// startup and the CLI layer queries failed-op logs after a run.
package diagnostic

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	initOnce sync.Once
	sink     *Sink
)

// Sink accumulates one line per failed op for the session (spec §7:
// "one line per failed op with (ref, kind, reason)") and persists it to a
// session directory on Flush.
type Sink struct {
	baseDir   string
	sessionID string
	mu        sync.Mutex
	failed    []FailedOp
}

// FailedOp is one failed-operation record, matching the CLI's required
// one-liner shape.
type FailedOp struct {
	Ref    string
	Kind   string
	Reason string
}

// Init installs the process-wide slog handler and returns the Sink used to
// accumulate failed-op records for this run. Calling Init more than once is
// a no-op after the first call, matching the init-once rule in spec §5.
func Init(level slog.Level, baseDir string) *Sink {
	initOnce.Do(func() {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		slog.SetDefault(slog.New(handler))
		sink = &Sink{
			baseDir:   baseDir,
			sessionID: time.Now().Format("20060102T150405"),
		}
	})
	return sink
}

// Get returns the installed sink, or nil if Init has not run yet.
func Get() *Sink { return sink }

// RecordFailure appends a failed-op record.
func (s *Sink) RecordFailure(ref, kind, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, FailedOp{Ref: ref, Kind: kind, Reason: reason})
	slog.Warn("operation failed", "ref", ref, "kind", kind, "reason", reason)
}

// Failed returns the accumulated failed-op records, ref-sorted for stable
// CLI output.
func (s *Sink) Failed() []FailedOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]FailedOp(nil), s.failed...)
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out
}

// Lines renders the accumulated failures as the CLI's one-line-per-op
// format, never including Aborted (suppressed from stderr per spec §7 —
// callers should not record Aborted here in the first place).
func (s *Sink) Lines() []string {
	var lines []string
	for _, f := range s.Failed() {
		lines = append(lines, fmt.Sprintf("%s (%s): %s", f.Ref, f.Kind, f.Reason))
	}
	return lines
}

// Flush persists the session's failed-op log to baseDir/<sessionID>.log.
// A session with no failures writes nothing.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failed) == 0 {
		return nil
	}
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("create diagnostic dir: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# depot transaction log\n# session: %s\n# timestamp: %s\n\n", s.sessionID, time.Now().Format(time.RFC3339))
	for _, f := range s.failed {
		fmt.Fprintf(&b, "%s (%s): %s\n", f.Ref, f.Kind, f.Reason)
	}
	path := filepath.Join(s.baseDir, s.sessionID+".log")
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
