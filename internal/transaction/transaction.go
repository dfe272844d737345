// Package transaction implements the Transaction Engine (spec §3, §4.6):
// the life cycle new -> add_* -> run(), executing a resolved Operation DAG
// under pull -> deploy -> prune phases with per-op progress callbacks,
// interactive prompts, cancellation, and the failure-policy matrix.
package transaction

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/terassyi/depot/internal/bundle"
	"github.com/terassyi/depot/internal/depoterr"
	"github.com/terassyi/depot/internal/describe"
	"github.com/terassyi/depot/internal/frontend"
	"github.com/terassyi/depot/internal/installation"
	"github.com/terassyi/depot/internal/ref"
	"github.com/terassyi/depot/internal/resolve"
	"github.com/terassyi/depot/internal/store"
)

// Flags are the transaction-wide policy switches (spec §3 Transaction).
type Flags struct {
	NoPull              bool
	NoDeploy            bool
	NoStaticDeltas      bool
	DisableDependencies bool
	DisableRelated      bool
	Reinstall           bool
	ForceUninstall      bool
	KeepRef             bool
	DisablePrune        bool
	DisableInteraction  bool
	StopOnFirstError    bool
	DefaultArchOverride string
	AutoInstallSDK      bool
	AutoInstallDebug    bool
	RefuseEOL           bool
}

// OpState is one operation's position in the state machine of spec §4.6.
type OpState int

const (
	StateQueued OpState = iota
	StatePulling
	StatePulled
	StateDeploying
	StateDeployed
	StateDone
	StateSkipped
	StateRolledBack
	StateFailed
	StateCancelled
)

func (s OpState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StatePulling:
		return "pulling"
	case StatePulled:
		return "pulled"
	case StateDeploying:
		return "deploying"
	case StateDeployed:
		return "deployed"
	case StateDone:
		return "done"
	case StateSkipped:
		return "skipped"
	case StateRolledBack:
		return "rolled-back"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// opRecord tracks one operation's runtime state across run().
type opRecord struct {
	op    resolve.Operation
	state OpState
	err   error
}

// Ref, Kind, State and Err expose an opRecord's identity and outcome to
// callers outside this package (e.g. cmd/depot's summary printer), without
// exporting opRecord itself.
func (r opRecord) Ref() string      { return r.op.Ref.Format() }
func (r opRecord) Kind() string     { return r.op.Kind.String() }
func (r opRecord) State() OpState   { return r.state }
func (r opRecord) Err() error       { return r.err }

// RepoBackendFor resolves the RepoBackend to use for a given remote name.
type RepoBackendFor func(remote string) (store.RepoBackend, error)

// Transaction is the unit of resolve + execute, atomically locked per
// installation dir (spec glossary).
type Transaction struct {
	inst     *installation.Installation
	flags    Flags
	frontend frontend.Frontend
	backends RepoBackendFor

	requests []resolve.Request
	resolver *resolve.Resolver
	bundles  map[string]bundleRequest

	cancel <-chan struct{}

	// TrustedRootPath, when set, is passed to bundle.Bundle.Verify for
	// OpInstallBundle ops (spec §6 Bundle format: "signed").
	TrustedRootPath string
}

// New starts a transaction against one installation directory.
func New(inst *installation.Installation, resolver *resolve.Resolver, fe frontend.Frontend, backends RepoBackendFor, flags Flags, cancel <-chan struct{}) *Transaction {
	return &Transaction{inst: inst, flags: flags, frontend: fe, backends: backends, resolver: resolver, cancel: cancel}
}

func (t *Transaction) AddInstall(req resolve.Request) { req.Kind = resolve.OpInstall; t.requests = append(t.requests, req) }
func (t *Transaction) AddUpdate(req resolve.Request)  { req.Kind = resolve.OpUpdate; t.requests = append(t.requests, req) }
func (t *Transaction) AddUninstall(req resolve.Request) {
	req.Kind = resolve.OpUninstall
	t.requests = append(t.requests, req)
}

// bundleRequest is one bundle opened by AddInstallBundle; Transaction.bundles
// keys them by ref so runOne can apply the same parsed *bundle.Bundle it validated at add-time
// without re-reading the file mid-transaction.
type bundleRequest struct {
	b       *bundle.Bundle
	gpgKeys []string
}

// AddInstallBundle implements add_install_bundle(path, gpg_keys) (spec §3
// Transaction life cycle, §6 Bundle format): opens the bundle immediately so
// a malformed file is rejected before run() rather than mid-transaction,
// then enqueues its self-contained InstallBundle operation.
func (t *Transaction) AddInstallBundle(path string, gpgKeys []string) error {
	b, err := bundle.Open(path)
	if err != nil {
		return err
	}
	if t.bundles == nil {
		t.bundles = make(map[string]bundleRequest)
	}
	t.bundles[b.Ref.Format()] = bundleRequest{b: b, gpgKeys: gpgKeys}
	t.requests = append(t.requests, resolve.Request{
		Kind:       resolve.OpInstallBundle,
		BundleRef:  b.Ref,
		BundlePath: path,
		GPGKeys:    gpgKeys,
	})
	return nil
}

// DescriptionRemoteResolver finds or registers the remote a description
// file's Url names, returning the remote name to install from (spec §6
// Description file format: a .flatpakref only carries a bare Url, not a
// configured remote name).
type DescriptionRemoteResolver func(url string) (remote string, err error)

// AddInstallFromDescription implements add_install_from_description(bytes)
// (spec §3 Transaction life cycle, §6 Description file format): parses the
// flat key=value document and resolves its Url to a configured remote
// before enqueuing a normal Install request for Name/Branch.
func (t *Transaction) AddInstallFromDescription(raw []byte, resolveRemote DescriptionRemoteResolver) error {
	d, err := describe.Parse(raw)
	if err != nil {
		return err
	}
	remote, err := resolveRemote(d.Url)
	if err != nil {
		return err
	}
	kind := ref.KindApp
	if d.IsRuntime {
		kind = ref.KindRuntime
	}
	t.AddInstall(resolve.Request{
		RefArg: ref.Partial{Kind: &kind, ID: d.Name, Branch: d.Branch},
		Remote: remote,
	})
	return nil
}

// AddSyncPreinstalled implements add_sync_preinstalled (spec §3 Transaction
// life cycle, §6 `preinstall` verb): enqueues an Install request for every
// OS-declared ref not already installed, so a repeated preinstall sync is
// idempotent rather than re-running a completed install.
func (t *Transaction) AddSyncPreinstalled(refs []ref.Partial, remote string) {
	for _, p := range refs {
		if p.IsExact() {
			target, err := ref.New(*p.Kind, p.ID, p.Arch, p.Branch)
			if err == nil {
				if active, err := t.inst.ActiveDeployment(target); err == nil && active != nil {
					continue
				}
			}
		}
		t.AddInstall(resolve.Request{RefArg: p, Remote: remote})
	}
}

// Result is the outcome of run(): which ops actually ran and with what state.
type Result struct {
	Ops    []opRecord
	Pruned store.PruneStats
}

func (r Result) Failed() []opRecord {
	var out []opRecord
	for _, rec := range r.Ops {
		if rec.state == StateFailed {
			out = append(out, rec)
		}
	}
	return out
}

func (t *Transaction) cancelled() bool {
	if t.cancel == nil {
		return false
	}
	select {
	case <-t.cancel:
		return true
	default:
		return false
	}
}

// Run executes the resolved plan end to end (spec §4.6 public contract of
// run()).
func (t *Transaction) Run(ctx context.Context) (Result, error) {
	if err := t.inst.Lock(); err != nil {
		return Result{}, err
	}
	defer t.inst.Unlock()

	plan, err := t.resolver.Resolve(t.requests)
	if err != nil {
		return Result{}, err
	}
	for _, w := range plan.Warnings {
		t.frontend.Warn("resolve", w)
	}

	decision := t.frontend.Ready(toFrontendPlan(plan))
	if decision == frontend.Abort {
		return Result{}, depoterr.Aborted
	}

	records := make([]*opRecord, len(plan.Operations))
	byID := make(map[resolve.OpID]*opRecord, len(plan.Operations))
	for i, op := range plan.Operations {
		rec := &opRecord{op: op, state: StateQueued}
		records[i] = rec
		byID[op.ID] = rec
	}

	for _, rec := range records {
		if t.cancelled() {
			rec.state = StateCancelled
			continue
		}
		if depSkipped := t.anyDependencyFailed(rec.op, byID); depSkipped {
			rec.state = StateSkipped
			continue
		}

		t.frontend.OpBegin(toFrontendOp(rec.op))
		if err := t.runOne(ctx, rec); err != nil {
			rec.state = StateFailed
			rec.err = err
			t.frontend.OpEnd(toFrontendOp(rec.op), frontend.Result{Err: err})

			if t.shouldAbort(err) {
				return t.finish(records, false)
			}
			continue
		}
		rec.state = StateDone
		t.frontend.OpEnd(toFrontendOp(rec.op), frontend.Result{})
	}

	return t.finish(records, true)
}

func (t *Transaction) anyDependencyFailed(op resolve.Operation, byID map[resolve.OpID]*opRecord) bool {
	for _, dep := range op.DependsOn {
		rec, ok := byID[dep]
		if !ok {
			continue
		}
		if rec.state == StateFailed || rec.state == StateSkipped || rec.state == StateCancelled {
			return true
		}
	}
	return false
}

// shouldAbort implements the failure-policy matrix of spec §4.6.
func (t *Transaction) shouldAbort(err error) bool {
	if depoterr.IsAborted(err) {
		return true
	}
	var de *depoterr.Error
	if asDepotErr(err, &de) {
		switch de.Code {
		case depoterr.CodeGpgUntrusted, depoterr.CodeStoreCorrupt:
			return true
		}
	}
	return t.flags.StopOnFirstError
}

func (t *Transaction) runOne(ctx context.Context, rec *opRecord) error {
	switch rec.op.Kind {
	case resolve.OpUninstall:
		return t.runUninstall(rec)
	case resolve.OpInstallBundle:
		return t.runInstallBundle(rec)
	default:
		return t.runInstallLike(ctx, rec)
	}
}

// runInstallBundle applies a pre-opened bundle's objects directly into the
// store (no network pull: the bundle already carries them, spec §6 Bundle
// format) then deploys it through the same retire/materialize/flip
// sequence as a pulled install.
func (t *Transaction) runInstallBundle(rec *opRecord) error {
	op := rec.op
	br, ok := t.bundles[op.Ref.Format()]
	if !ok {
		return fmt.Errorf("install bundle op for %s has no opened bundle", op.Ref.Format())
	}

	if t.TrustedRootPath != "" {
		if err := br.b.Verify(t.TrustedRootPath, br.gpgKeys); err != nil {
			return depoterr.GpgUntrusted.WithCause(err).WithDetail("ref", op.Ref.Format())
		}
	}

	rec.state = StatePulling
	commitHash, err := br.b.ApplyTo(t.inst.Store())
	if err != nil {
		return depoterr.New(depoterr.CodeStoreCorrupt, "apply bundle failed").WithCause(err).WithDetail("ref", op.Ref.Format())
	}
	rec.state = StatePulled

	if t.flags.NoDeploy {
		rec.state = StateDone
		return nil
	}

	rec.state = StateDeploying
	restore, err := t.inst.RetireActive(op.Ref)
	if err != nil {
		return err
	}
	metadataBlob, _ := json.Marshal(br.b.Metadata)
	if err := t.inst.Materialize(op.Ref, commitHash, installation.DeployData{OriginRemote: "", AppMetadataBlob: metadataBlob}); err != nil {
		_ = restore()
		rec.state = StateRolledBack
		return fmt.Errorf("deploy bundle %s: %w", op.Ref.Format(), err)
	}
	if err := t.inst.FlipActive(op.Ref, commitHash); err != nil {
		_ = restore()
		rec.state = StateRolledBack
		return fmt.Errorf("flip active for bundle %s: %w", op.Ref.Format(), err)
	}
	rec.state = StateDeployed
	return nil
}

func (t *Transaction) runInstallLike(ctx context.Context, rec *opRecord) error {
	op := rec.op
	if !t.flags.NoPull {
		rec.state = StatePulling
		backend, err := t.backends(op.Remote)
		if err != nil {
			return err
		}
		_, err = t.inst.Store().Pull(ctx, backend, op.Remote, []string{op.Ref.Format()}, store.PullOptions{
			NoStaticDeltas: t.flags.NoStaticDeltas,
			Subpaths:       op.Subpaths,
		})
		if err != nil {
			return depoterr.New(depoterr.CodeNetworkError, "pull failed").WithCause(err).WithDetail("ref", op.Ref.Format())
		}
	}
	rec.state = StatePulled

	if t.cancelled() {
		rec.state = StateCancelled
		return depoterr.Aborted
	}

	if t.flags.NoDeploy {
		rec.state = StateDone
		return nil
	}

	rec.state = StateDeploying
	restore, err := t.inst.RetireActive(op.Ref)
	if err != nil {
		return err
	}
	if err := t.inst.Materialize(op.Ref, op.ToCommit, installation.DeployData{
		OriginRemote: op.Remote,
		Subpaths:     op.Subpaths,
	}); err != nil {
		_ = restore()
		rec.state = StateRolledBack
		return fmt.Errorf("deploy %s: %w", op.Ref.Format(), err)
	}
	if err := t.inst.FlipActive(op.Ref, op.ToCommit); err != nil {
		_ = restore()
		rec.state = StateRolledBack
		return fmt.Errorf("flip active for %s: %w", op.Ref.Format(), err)
	}
	rec.state = StateDeployed
	return nil
}

func (t *Transaction) runUninstall(rec *opRecord) error {
	op := rec.op
	active, err := t.inst.ActiveDeployment(op.Ref)
	if err != nil {
		return err
	}
	if active == nil {
		return depoterr.NotInstalled.WithDetail("ref", op.Ref.Format())
	}

	if op.Ref.IsRuntime() && !op.ForceFiles && !t.flags.DisableInteraction {
		dependents := t.appsDependingOn(op.Ref)
		if len(dependents) > 0 {
			decision := t.frontend.Confirm(fmt.Sprintf("apps using this runtime: %v. really remove?", dependents))
			if decision != frontend.Yes {
				rec.state = StateSkipped
				return nil
			}
		}
	}

	if err := t.inst.RemoveDeployment(op.Ref, active.CommitID); err != nil {
		return err
	}
	if !op.KeepRef {
		if err := t.inst.Store().SetRef(active.Data.OriginRemote, op.Ref.Format(), nil); err != nil {
			return err
		}
	}
	rec.state = StateDone
	return nil
}

// appsDependingOn is a placeholder hook for the installation's reverse
// runtime-dependency index; callers wire a real index through Installation
// once available. An empty result never blocks uninstall, matching the
// "dangling deployment" contract of scenario 3 in spec §8.
func (t *Transaction) appsDependingOn(runtimeRef interface{ Format() string }) []string {
	return nil
}

func (t *Transaction) finish(records []*opRecord, success bool) (Result, error) {
	result := Result{}
	for _, r := range records {
		result.Ops = append(result.Ops, *r)
	}
	if success && !t.flags.DisablePrune {
		stats, err := t.inst.Store().Prune(0)
		if err != nil {
			return result, err
		}
		result.Pruned = stats
		if err := t.inst.EraseRemoved(); err != nil {
			return result, err
		}
	}
	return result, nil
}

func asDepotErr(err error, target **depoterr.Error) bool {
	for err != nil {
		if de, ok := err.(*depoterr.Error); ok {
			*target = de
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
