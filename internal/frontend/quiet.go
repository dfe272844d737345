package frontend

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/aquasecurity/table"
	"github.com/mattn/go-isatty"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Quiet is the non-interactive adapter: used for scripted CLI invocations
// (--noninteractive, or stdout not a terminal) and for the repair engine's synthesized
// reinstall operations, which must never block on a prompt (spec §4.7:
// re-materialization runs "under the quiet frontend"). It logs everything
// through slog instead of drawing a TUI, except for per-op byte progress,
// which it still renders as an mpb bar when stdout is a real terminal (the
// same "isTTY ? mpb bar : log line" split as cmd/toto/progress.go's
// progressManager — --noninteractive can still be run from an interactive
// shell, e.g. under `script` or CI attached to a pty).
type Quiet struct {
	Out       io.Writer
	AssumeYes bool
	log       *slog.Logger

	isTTY    bool
	mu       sync.Mutex
	progress *mpb.Progress
	bars     map[string]*mpb.Bar
}

func NewQuiet(out io.Writer, assumeYes bool) *Quiet {
	q := &Quiet{
		Out:       out,
		AssumeYes: assumeYes,
		log:       slog.Default(),
		isTTY:     isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()),
		bars:      make(map[string]*mpb.Bar),
	}
	if q.isTTY {
		q.progress = mpb.New(mpb.WithOutput(out), mpb.WithWidth(40))
	}
	return q
}

func barKey(op OpView) string { return op.Kind + "/" + op.Ref }

func (q *Quiet) Ready(plan PlanView) Decision {
	for _, w := range plan.Warnings {
		q.log.Warn(w)
	}
	if len(plan.Ops) == 0 {
		return Proceed
	}
	t := table.New(q.Out)
	t.SetHeaders("Op", "Ref", "Remote", "Commit")
	for _, op := range plan.Ops {
		commit := op.ToCommit
		if len(commit) > 12 {
			commit = commit[:12]
		}
		t.AddRow(op.Kind, op.Ref, op.Remote, commit)
	}
	t.Render()
	return Proceed
}

func (q *Quiet) OpBegin(op OpView) {
	q.log.Info("op begin", "kind", op.Kind, "ref", op.Ref, "remote", op.Remote)
	if !q.isTTY {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bars[barKey(op)] = q.progress.AddBar(0,
		mpb.BarFillerClearOnComplete(),
		mpb.PrependDecorators(decor.Name(fmt.Sprintf("  %s %s ", op.Kind, op.Ref), decor.WC{W: 40, C: decor.DindentRight})),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f"),
			decor.OnComplete(decor.Name(""), " done"),
		),
	)
}

func (q *Quiet) Progress(op OpView, p Progress) {
	q.log.Debug("progress", "ref", op.Ref, "phase", p.Phase, "bytes_done", p.BytesDone, "bytes_total", p.BytesTotal)
	if !q.isTTY {
		return
	}
	q.mu.Lock()
	bar, ok := q.bars[barKey(op)]
	q.mu.Unlock()
	if !ok {
		return
	}
	if p.BytesTotal > 0 {
		bar.SetTotal(p.BytesTotal, false)
	}
	bar.SetCurrent(p.BytesDone)
}

func (q *Quiet) OpEnd(op OpView, result Result) {
	if result.Err != nil {
		q.log.Error("op failed", "ref", op.Ref, "error", result.Err)
	} else {
		q.log.Info("op done", "ref", op.Ref)
	}
	if !q.isTTY {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if bar, ok := q.bars[barKey(op)]; ok {
		bar.Abort(result.Err == nil)
		delete(q.bars, barKey(op))
	}
}

func (q *Quiet) ChooseOne(prompt string, options []string) (int, bool) {
	q.log.Error("ambiguous choice in non-interactive mode", "prompt", prompt, "options", options)
	return 0, true
}

func (q *Quiet) Confirm(prompt string) Confirmation {
	if q.AssumeYes {
		return Yes
	}
	q.log.Warn("refusing confirmation prompt in non-interactive mode", "prompt", prompt)
	return No
}

func (q *Quiet) Warn(source, message string) {
	q.log.Warn(message, "source", source)
}
