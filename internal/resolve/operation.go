// Package resolve implements the Resolver (spec §3, §4.5): it turns user
// intents plus policy flags into a DAG of Operations with resolved
// commits, subpaths, and a total order.
package resolve

import (
	"github.com/terassyi/depot/internal/ref"
	"github.com/terassyi/depot/internal/store"
)

// OpKind is the closed set of operation variants (spec §3).
type OpKind int

const (
	OpInstall OpKind = iota
	OpUpdate
	OpInstallBundle
	OpUninstall
)

func (k OpKind) String() string {
	switch k {
	case OpInstall:
		return "Install"
	case OpUpdate:
		return "Update"
	case OpInstallBundle:
		return "InstallBundle"
	case OpUninstall:
		return "Uninstall"
	default:
		return "Unknown"
	}
}

// OpID uniquely identifies one operation within a plan: its fingerprint is
// (ref, target_commit, subpaths) per spec §4.6, but OpID additionally
// distinguishes Uninstall (which has no target commit) by kind so that an
// Install and an Uninstall of the same ref never collide.
type OpID string

// Operation is one node of the resolver's output DAG (spec §3).
type Operation struct {
	ID     OpID
	Kind   OpKind
	Ref    ref.Ref
	Remote string

	// Install / Update
	FromCommit store.Hash
	ToCommit   store.Hash
	Subpaths   []string

	// InstallBundle
	BundlePath string
	GPGKeys    []string

	// Uninstall
	KeepRef     bool
	ForceFiles  bool

	// DependsOn holds the OpIDs that must succeed before this op may run
	// (spec §3: "a dependency set of prior operations").
	DependsOn []OpID

	// Synthetic marks ops emitted by dependency/related-ref/EOL-rebase/
	// reinstall expansion rather than directly requested by the user.
	Synthetic bool
}

// Fingerprint returns the (ref, target_commit, subpaths) triple used for
// per-transaction dedup (spec §4.6).
func (op Operation) Fingerprint() string {
	commit := op.ToCommit
	if op.Kind == OpUninstall {
		commit = ""
	}
	sp := ""
	for _, s := range op.Subpaths {
		sp += "|" + s
	}
	return op.Ref.Format() + "#" + string(commit) + "#" + sp
}

func install(r ref.Ref, remote string, commit store.Hash, subpaths []string) Operation {
	return Operation{ID: OpID("install:" + r.Format()), Kind: OpInstall, Ref: r, Remote: remote, ToCommit: commit, Subpaths: subpaths}
}

func update(r ref.Ref, remote string, from, to store.Hash, subpaths []string) Operation {
	return Operation{ID: OpID("update:" + r.Format()), Kind: OpUpdate, Ref: r, Remote: remote, FromCommit: from, ToCommit: to, Subpaths: subpaths}
}

func uninstall(r ref.Ref, keepRef, forceFiles bool) Operation {
	return Operation{ID: OpID("uninstall:" + r.Format()), Kind: OpUninstall, Ref: r, KeepRef: keepRef, ForceFiles: forceFiles}
}
