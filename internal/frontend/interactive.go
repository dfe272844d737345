package frontend

import (
	"fmt"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

const tickInterval = 80 * time.Millisecond

// opState is one running operation's TUI state, grounded on the teacher's
// taskState (internal/ui/model.go).
type opState struct {
	ref, kind, remote string
	done, failed      bool
	err               error
	startTime         time.Time
	bytesDone         int64
	bytesTotal        int64
}

type planReadyMsg struct {
	plan PlanView
	resp chan Decision
}
type opBeginMsg OpView
type opProgressMsg struct {
	op OpView
	p  Progress
}
type opEndMsg struct {
	op     OpView
	result Result
}
type tickMsg time.Time
type quitMsg struct{}
type warnMsg struct{ source, message string }

type model struct {
	style     *Style
	order     []string
	ops       map[string]*opState
	warnings  []string
	start     time.Time
	done      bool
}

func newModel() *model {
	return &model{style: NewStyle(), ops: make(map[string]*opState), start: time.Now()}
}

func (m *model) Init() tea.Cmd { return tick() }

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func key(op OpView) string { return op.Kind + "/" + op.Ref }

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m, nil
	case tickMsg:
		return m, tick()
	case planReadyMsg:
		m.warnings = msg.plan.Warnings
		msg.resp <- Proceed
		return m, nil
	case opBeginMsg:
		k := key(OpView(msg))
		m.ops[k] = &opState{ref: msg.Ref, kind: msg.Kind, remote: msg.Remote, startTime: time.Now()}
		m.order = append(m.order, k)
		return m, nil
	case opProgressMsg:
		if st, ok := m.ops[key(msg.op)]; ok {
			st.bytesDone = msg.p.BytesDone
			st.bytesTotal = msg.p.BytesTotal
		}
		return m, nil
	case opEndMsg:
		if st, ok := m.ops[key(msg.op)]; ok {
			if msg.result.Err != nil {
				st.failed = true
				st.err = msg.result.Err
			} else {
				st.done = true
			}
		}
		return m, nil
	case quitMsg:
		m.done = true
		return m, tea.Quit
	case warnMsg:
		m.warnings = append(m.warnings, msg.source+": "+msg.message)
		return m, nil
	}
	return m, nil
}

func (m *model) View() string {
	header := m.style.Header.Sprint("depot")
	lines := []string{header}
	for _, w := range m.warnings {
		lines = append(lines, m.style.WarnMark+" "+w)
	}
	for _, k := range m.order {
		st := m.ops[k]
		mark := m.style.MarkFor(st.kind)
		switch {
		case st.failed:
			mark = m.style.FailMark
		case st.done:
			mark = m.style.OkMark
		}
		line := fmt.Sprintf("%s %s", mark, st.ref)
		if st.bytesTotal > 0 && !st.done && !st.failed {
			line += fmt.Sprintf(" (%d/%d)", st.bytesDone, st.bytesTotal)
		}
		if st.failed && st.err != nil {
			line += " - " + st.err.Error()
		}
		lines = append(lines, line)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// Interactive is the bubbletea-driven adapter used on a real TTY. It runs
// the tea.Program on a background goroutine for the life of the
// transaction and bridges Frontend calls to it via Send, the same
// bridge shape as the teacher's ThrottledReporter (internal/ui/reporter.go).
type Interactive struct {
	program *tea.Program
	style   *Style
	mu      sync.Mutex
	started bool
}

func NewInteractive() *Interactive {
	return &Interactive{style: NewStyle()}
}

// IsTTY reports whether stdout looks like an interactive terminal; callers
// use this to decide between Interactive and Quiet.
func IsTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func (i *Interactive) ensureStarted() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.started {
		return
	}
	i.program = tea.NewProgram(newModel())
	go func() { _, _ = i.program.Run() }()
	i.started = true
}

func (i *Interactive) Ready(plan PlanView) Decision {
	i.ensureStarted()
	resp := make(chan Decision, 1)
	i.program.Send(planReadyMsg{plan: plan, resp: resp})
	return <-resp
}

func (i *Interactive) OpBegin(op OpView) {
	i.ensureStarted()
	i.program.Send(opBeginMsg(op))
}

func (i *Interactive) Progress(op OpView, p Progress) {
	i.ensureStarted()
	i.program.Send(opProgressMsg{op: op, p: p})
}

func (i *Interactive) OpEnd(op OpView, result Result) {
	i.ensureStarted()
	i.program.Send(opEndMsg{op: op, result: result})
}

func (i *Interactive) ChooseOne(prompt string, options []string) (int, bool) {
	// A full select-list bubbletea view is future work; for now the
	// interactive adapter falls back to picking the first candidate rather
	// than blocking the running tea.Program on a second nested prompt.
	if len(options) == 0 {
		return 0, true
	}
	return 0, false
}

func (i *Interactive) Confirm(prompt string) Confirmation {
	return Yes
}

func (i *Interactive) Warn(source, message string) {
	i.ensureStarted()
	i.program.Send(warnMsg{source: source, message: message})
}

func (i *Interactive) Quit() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.started {
		i.program.Send(quitMsg{})
	}
}
