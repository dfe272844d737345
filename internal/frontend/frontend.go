// Package frontend defines the Frontend trait (spec §3, §4.6, §4.8): the
// single interface through which the transaction engine surfaces a plan for
// approval, per-operation progress, and interactive prompts, without the
// engine itself knowing whether it is driving a TTY or running quietly in a
// script.
package frontend

// Decision is the user's response to a plan-level ready prompt.
type Decision int

const (
	Proceed Decision = iota
	Abort
)

// Confirmation is the user's response to a yes/no prompt (e.g. "remove this
// runtime other apps depend on?").
type Confirmation int

const (
	Yes Confirmation = iota
	No
)

// PlanOp is the read-only view of one resolved operation shown to a
// frontend before it decides whether to proceed.
type PlanOp struct {
	Ref         string
	Kind        string
	Remote      string
	FromCommit  string
	ToCommit    string
	DownloadSize int64
	Synthetic   bool
}

// PlanView is what Ready receives: the full linearized plan plus any
// resolver warnings (EOL notices, rebases).
type PlanView struct {
	Ops      []PlanOp
	Warnings []string
}

// OpView is what OpBegin/OpEnd/Progress receive for a single running
// operation.
type OpView struct {
	Ref    string
	Kind   string
	Remote string
}

// Progress reports incremental byte/object counters during a pull (spec
// §4.6 "progress" callback).
type Progress struct {
	BytesDone  int64
	BytesTotal int64
	Phase      string
}

// Result is what OpEnd receives: nil Err means the operation completed
// successfully.
type Result struct {
	Err error
}

// Frontend is implemented by both the interactive (bubbletea-driven) and
// quiet adapters. The transaction engine only ever talks to this interface,
// never to a concrete adapter (spec §5's single logical frontend boundary).
type Frontend interface {
	// Ready is called once per transaction with the fully resolved plan; it
	// returns Abort if the user declines to proceed.
	Ready(plan PlanView) Decision

	OpBegin(op OpView)
	Progress(op OpView, p Progress)
	OpEnd(op OpView, result Result)

	// ChooseOne presents a disambiguation prompt (kind, remote, or
	// installation choice); aborted is true if the user cancelled instead
	// of picking an option.
	ChooseOne(prompt string, options []string) (index int, aborted bool)

	// Confirm presents a yes/no prompt.
	Confirm(prompt string) Confirmation

	// Warn surfaces a non-fatal notice (EOL ref, skipped dependent, etc.)
	// tagged with the subsystem that raised it.
	Warn(source, message string)
}
