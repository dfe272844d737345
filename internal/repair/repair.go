// Package repair implements the Repository Repair Engine (spec §3, §4.7):
// pre-clean of leaked mirror refs, a memoized commit-graph walk classifying
// every installed ref as Ok/HasMissingObjects/HasInvalidObjects, pruning,
// and re-materialization of any ref found unhealthy — driven back through
// the transaction engine under a quiet frontend so the repair path reuses
// exactly the same deploy machinery an install does.
//
// Grounded on the teacher's doctor.Doctor (internal/doctor/doctor.go): the
// same "Check() returns a Result struct the caller inspects with
// HasIssues()" shape, generalized from unmanaged-binary/state-integrity
// scanning to object-store integrity scanning.
package repair

import (
	"context"
	"fmt"
	"strings"

	"github.com/terassyi/depot/internal/depoterr"
	"github.com/terassyi/depot/internal/frontend"
	"github.com/terassyi/depot/internal/installation"
	"github.com/terassyi/depot/internal/ref"
	"github.com/terassyi/depot/internal/resolve"
	"github.com/terassyi/depot/internal/remotestate"
	"github.com/terassyi/depot/internal/store"
	"github.com/terassyi/depot/internal/transaction"
)

// Status classifies one ref's commit-graph health (spec §4.7).
type Status int

const (
	StatusOk Status = iota
	StatusHasMissingObjects
	StatusHasInvalidObjects
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "Ok"
	case StatusHasMissingObjects:
		return "HasMissingObjects"
	case StatusHasInvalidObjects:
		return "HasInvalidObjects"
	default:
		return "Unknown"
	}
}

// RefHealth is one ref's repair-scan finding.
type RefHealth struct {
	Ref    ref.Ref
	Commit store.Hash
	Status Status
}

// Result is the repair engine's findings plus the actions it took (or, in
// dry-run mode, would take).
type Result struct {
	PreCleanedMirrorRefs int
	Findings             []RefHealth
	Reinstalled          []ref.Ref
	RefsDeleted          []ref.Ref
	Pruned               store.PruneStats
	DryRun               bool
}

func (r Result) HasIssues() bool {
	for _, f := range r.Findings {
		if f.Status != StatusOk {
			return true
		}
	}
	return false
}

// Options controls one repair run (spec §4.7, §6 `repair` verb flags).
type Options struct {
	DryRun             bool
	ReinstallAppstream bool
}

// RemoteChecker reports whether a ref still exists upstream, used to decide
// between re-materialization and outright ref deletion for an unhealthy
// local ref (spec §4.7 step 5: "remote-existence check").
type RemoteChecker interface {
	RefExistsOnRemote(r ref.Ref, remote string) bool
}

// Engine runs repair against one installation dir.
type Engine struct {
	inst    *installation.Installation
	remotes RemoteChecker
	states  map[string]*remotestate.State
}

func New(inst *installation.Installation, remotes RemoteChecker, states map[string]*remotestate.State) *Engine {
	return &Engine{inst: inst, remotes: remotes, states: states}
}

// installedRefs enumerates every ref that has at least one deployment,
// independent of which remote it was installed from.
func (e *Engine) installedRefs() ([]ref.Ref, error) {
	refs, err := e.inst.Store().ListRefs("")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []ref.Ref
	for key := range refs {
		_, name, ok := splitRefKey(key)
		if !ok {
			continue
		}
		r, err := ref.Parse(name)
		if err != nil {
			continue
		}
		if seen[r.Hash()] {
			continue
		}
		seen[r.Hash()] = true
		out = append(out, r)
	}
	return out, nil
}

// Run executes the full repair algorithm of spec §4.7: pre-clean, classify,
// remote-existence check, reinstall-or-delete, prune, erase removed/.
func (e *Engine) Run(ctx context.Context, opts Options, resolver *resolve.Resolver, backends transaction.RepoBackendFor) (Result, error) {
	if err := e.inst.Lock(); err != nil {
		return Result{}, err
	}
	defer e.inst.Unlock()

	result := Result{DryRun: opts.DryRun}

	cleaned, err := e.inst.DeleteMirrorRefs()
	if err != nil {
		return result, fmt.Errorf("pre-clean mirror refs: %w", err)
	}
	result.PreCleanedMirrorRefs = cleaned

	refs, err := e.installedRefs()
	if err != nil {
		return result, err
	}

	memo := make(map[string]Status)
	var toReinstall []ref.Ref
	var toDelete []ref.Ref

	for _, r := range refs {
		active, err := e.inst.ActiveDeployment(r)
		if err != nil {
			return result, err
		}
		if active == nil {
			continue
		}
		status := e.classify(active.CommitID, memo)
		result.Findings = append(result.Findings, RefHealth{Ref: r, Commit: active.CommitID, Status: status})
		if status == StatusOk {
			if opts.ReinstallAppstream && e.remotes != nil && e.remotes.RefExistsOnRemote(r, active.Data.OriginRemote) {
				toReinstall = append(toReinstall, r)
			}
			continue
		}

		remoteName := active.Data.OriginRemote
		if e.remotes != nil && e.remotes.RefExistsOnRemote(r, remoteName) {
			toReinstall = append(toReinstall, r)
		} else {
			toDelete = append(toDelete, r)
		}
	}

	if opts.DryRun {
		result.Reinstalled = toReinstall
		result.RefsDeleted = toDelete
		return result, nil
	}

	for _, r := range toDelete {
		active, err := e.inst.ActiveDeployment(r)
		if err != nil {
			return result, err
		}
		remoteName := ""
		if active != nil {
			remoteName = active.Data.OriginRemote
			if err := e.inst.RemoveDeployment(r, active.CommitID); err != nil {
				return result, err
			}
		}
		if err := e.inst.Store().SetRef(remoteName, r.Format(), nil); err != nil {
			return result, err
		}
		result.RefsDeleted = append(result.RefsDeleted, r)
	}

	if len(toReinstall) > 0 {
		if err := e.reinstall(ctx, toReinstall, resolver, backends); err != nil {
			return result, err
		}
		result.Reinstalled = toReinstall
	}

	stats, err := e.inst.Store().Prune(0)
	if err != nil {
		return result, err
	}
	result.Pruned = stats
	if err := e.inst.EraseRemoved(); err != nil {
		return result, err
	}
	return result, nil
}

// reinstall drives re-materialization back through the transaction engine,
// one synthesized Install per unhealthy ref, under a quiet frontend with
// dependency/related-ref/prune expansion disabled (spec §4.7 step 6).
func (e *Engine) reinstall(ctx context.Context, refs []ref.Ref, resolver *resolve.Resolver, backends transaction.RepoBackendFor) error {
	quiet := frontend.NewQuiet(quietDiscard{}, true)
	tx := transaction.New(e.inst, resolver, quiet, backends, transaction.Flags{
		Reinstall:           true,
		DisableDependencies: true,
		DisableRelated:      true,
		DisablePrune:        true,
		DisableInteraction:  true,
	}, nil)
	for _, r := range refs {
		kind := r.Kind()
		tx.AddInstall(resolve.Request{RefArg: ref.Partial{Kind: &kind, ID: r.ID(), Arch: r.Arch(), Branch: r.Branch()}})
	}
	res, err := tx.Run(ctx)
	if err != nil {
		return fmt.Errorf("repair reinstall: %w", err)
	}
	if failed := res.Failed(); len(failed) > 0 {
		return depoterr.New(depoterr.CodeStoreCorrupt, "repair reinstall left operations failed").WithDetail("count", len(failed))
	}
	return nil
}

// classify walks a commit's object graph and returns its worst finding,
// memoized per (kind, hash) so a shared subtree across multiple refs'
// commits is only fscked once (spec §4.7's "memoized (kind, hash)->status
// walk").
func (e *Engine) classify(commit store.Hash, memo map[string]Status) Status {
	worst := StatusOk
	_ = e.inst.Store().Walk(commit, func(kind store.Kind, h store.Hash) bool {
		key := kind.String() + ":" + string(h)
		if s, ok := memo[key]; ok {
			if s > worst {
				worst = s
			}
			return true
		}
		res, _ := e.inst.Store().FsckObject(kind, h)
		var s Status
		switch res {
		case store.FsckOk:
			s = StatusOk
		case store.FsckMissing:
			s = StatusHasMissingObjects
		default:
			s = StatusHasInvalidObjects
		}
		memo[key] = s
		if s > worst {
			worst = s
		}
		return true
	})
	return worst
}

// splitRefKey mirrors installation's own unexported ref-key parsing (spec
// §4.3 ref naming: "remotes/<remote>/<name>" or "heads/<name>") so this
// package can enumerate installed refs without reaching into another
// package's internals.
func splitRefKey(key string) (remote, refName string, ok bool) {
	const remotesPrefix = "remotes/"
	const headsPrefix = "heads/"
	if strings.HasPrefix(key, remotesPrefix) {
		rest := strings.TrimPrefix(key, remotesPrefix)
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			return "", "", false
		}
		return parts[0], parts[1], true
	}
	if strings.HasPrefix(key, headsPrefix) {
		return "", strings.TrimPrefix(key, headsPrefix), true
	}
	return "", "", false
}

// quietDiscard is an io.Writer sink for the quiet frontend's plan table
// during repair, which runs unattended and has nowhere interesting to print.
type quietDiscard struct{}

func (quietDiscard) Write(p []byte) (int, error) { return len(p), nil }
