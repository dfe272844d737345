package resolve

import (
	"slices"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/terassyi/depot/internal/depoterr"
	"github.com/terassyi/depot/internal/ref"
	"github.com/terassyi/depot/internal/remotestate"
	"github.com/terassyi/depot/internal/store"
)

// defaultStableBranch is the fallback used when no remote publishes a
// version-numbered branch for an id/kind/arch (spec §4.5 contract 1's
// default branch).
const defaultStableBranch = "stable"

// Chooser is the subset of the frontend trait the resolver needs directly,
// for kind/installation/remote disambiguation (spec §4.5 contracts 1-3).
type Chooser interface {
	ChooseOne(prompt string, options []string) (index int, aborted bool)
}

// Flags mirrors the subset of Transaction flags that influence resolution
// (spec §3 Transaction, §4.5).
type Flags struct {
	DisableDependencies bool
	DisableRelated      bool
	AutoInstallSDK      bool
	AutoInstallDebug    bool
	Reinstall           bool
	KeepRef             bool
	ForceUninstall      bool
	DefaultArchOverride string
	Noninteractive      bool
	// RefuseEOL, when set, makes an EOL-without-rebase ref a hard failure
	// instead of the default warning-only path (spec §9 Open Question).
	RefuseEOL bool
}

// InstalledLookup reports whether a ref is currently installed in an
// installation dir, and its installed commit if so.
type InstalledLookup interface {
	IsInstalled(r ref.Ref) (commit store.Hash, installedRemote string, ok bool)
	InstallationsFor(r ref.Ref) []string
}

// Resolver turns intents into a linearized Operation DAG.
type Resolver struct {
	chooser  Chooser
	installs InstalledLookup
	remotes  map[string]*remotestate.State
	flags    Flags
}

func New(chooser Chooser, installs InstalledLookup, remotes map[string]*remotestate.State, flags Flags) *Resolver {
	return &Resolver{chooser: chooser, installs: installs, remotes: remotes, flags: flags}
}

// Plan is the resolver's finished output: a linearized list of operations
// plus any non-fatal warnings to surface through the frontend (EOL, rebase
// notices).
type Plan struct {
	Operations []Operation
	Warnings   []string
}

// Request is one user-level install/update/uninstall intent fed to the
// resolver before Resolve is called.
type Request struct {
	Kind     OpKind
	RefArg   ref.Partial
	Remote   string // named remote, empty means "resolver picks"
	Subpaths []string
	Commit   store.Hash // update --commit=HASH pin

	// InstallBundle only: the bundle has already been opened and its ref
	// decided by the caller (internal/bundle.Open), so it carries a fully
	// resolved ref.Ref rather than a ref.Partial predicate.
	BundleRef  ref.Ref
	BundlePath string
	GPGKeys    []string
}

// Resolve implements spec §4.5: dependency expansion, related-ref
// expansion, debug-info, reinstall rewriting, EOL handling, and the total
// order via the DAG linearization in dag.go.
func (r *Resolver) Resolve(requests []Request) (Plan, error) {
	g := newDAG()
	var warnings []string

	for _, req := range requests {
		switch req.Kind {
		case OpInstall:
			if err := r.resolveInstall(g, req, &warnings); err != nil {
				return Plan{}, err
			}
		case OpUpdate:
			if err := r.resolveUpdate(g, req, &warnings); err != nil {
				return Plan{}, err
			}
		case OpUninstall:
			if err := r.resolveUninstall(g, req); err != nil {
				return Plan{}, err
			}
		case OpInstallBundle:
			r.resolveInstallBundle(g, req)
		}
	}

	ops, err := g.linearize()
	if err != nil {
		return Plan{}, err
	}
	return Plan{Operations: ops, Warnings: warnings}, nil
}

func (r *Resolver) resolveInstall(g *dag, req Request, warnings *[]string) error {
	target, err := r.disambiguateKind(req.RefArg)
	if err != nil {
		return err
	}

	remoteName := req.Remote
	st, ok := r.pickRemoteFor(target, remoteName)
	if !ok {
		return depoterr.New(depoterr.CodeRemoteMissing, "no remote publishes this ref").WithDetail("ref", target.Format())
	}

	meta, _ := st.RefMetaFor(target)
	commit := store.Hash(meta.MetadataBlob["commit"])

	// EOL / EOL_REBASE handling (contract 8).
	finalTarget := target
	if sparse, ok := st.SparseFor(target); ok {
		if sparse.HasRebase {
			*warnings = append(*warnings, "ref "+target.Format()+" is EOL, rebasing to "+sparse.EOLRebase.Format())
			finalTarget = sparse.EOLRebase
		} else if sparse.EOL != "" {
			if r.flags.RefuseEOL {
				return depoterr.New(depoterr.CodeEOLRefused, "ref is end-of-life: "+sparse.EOL).WithDetail("ref", target.Format())
			}
			*warnings = append(*warnings, "ref "+target.Format()+" is end-of-life: "+sparse.EOL)
		}
	}

	_, _, alreadyInstalled := r.installs.IsInstalled(finalTarget)

	var primary Operation
	switch {
	case alreadyInstalled && !r.flags.Reinstall:
		return depoterr.AlreadyInstalled.WithDetail("ref", finalTarget.Format())
	case alreadyInstalled && r.flags.Reinstall:
		// Reinstall semantics (contract 7): Uninstall(keep_ref=false) then
		// Install at the new commit, with a dependency arc between them.
		un := uninstall(finalTarget, false, false)
		g.addOp(un)
		primary = install(finalTarget, remoteName, commit, req.Subpaths)
		g.addOp(primary)
		g.addDependency(primary.ID, un.ID)
	default:
		primary = install(finalTarget, remoteName, commit, req.Subpaths)
		g.addOp(primary)
	}

	return r.expandDependents(g, primary, finalTarget, meta, remoteName)
}

func (r *Resolver) resolveUpdate(g *dag, req Request, warnings *[]string) error {
	target, err := r.disambiguateKind(req.RefArg)
	if err != nil {
		return err
	}
	installedCommit, installedRemote, ok := r.installs.IsInstalled(target)
	if !ok {
		return depoterr.NotInstalled.WithDetail("ref", target.Format())
	}
	st, ok := r.remotes[installedRemote]
	if !ok {
		return depoterr.RemoteMissing.WithDetail("remote", installedRemote)
	}
	meta, _ := st.RefMetaFor(target)
	toCommit := req.Commit
	if toCommit == "" {
		toCommit = store.Hash(meta.MetadataBlob["commit"])
	}
	if toCommit == installedCommit {
		return nil // nothing to do; caller treats empty plan as exit 42
	}
	op := update(target, installedRemote, installedCommit, toCommit, req.Subpaths)
	g.addOp(op)
	return r.expandDependents(g, op, target, meta, installedRemote)
}

func (r *Resolver) resolveUninstall(g *dag, req Request) error {
	target, err := r.disambiguateKind(req.RefArg)
	if err != nil {
		return err
	}
	candidates := r.installs.InstallationsFor(target)
	if len(candidates) > 1 {
		return depoterr.MultipleMatches.WithDetail("ref", target.Format()).WithDetail("installations", candidates)
	}
	op := uninstall(target, r.flags.KeepRef, r.flags.ForceUninstall)
	g.addOp(op)
	return nil
}

// resolveInstallBundle adds a direct InstallBundle node: a bundle is
// self-contained (objects ship with the file, spec §6 Bundle format), so
// unlike OpInstall it needs no remote/dependency/related-ref expansion —
// it is applied exactly as given.
func (r *Resolver) resolveInstallBundle(g *dag, req Request) {
	op := Operation{
		ID:         OpID("install-bundle:" + req.BundleRef.Format()),
		Kind:       OpInstallBundle,
		Ref:        req.BundleRef,
		BundlePath: req.BundlePath,
		GPGKeys:    req.GPGKeys,
	}
	g.addOp(op)
}

// disambiguateKind implements contract 1: a bare id may match an app, a
// runtime, or both.
func (r *Resolver) disambiguateKind(p ref.Partial) (ref.Ref, error) {
	if p.IsExact() {
		return ref.New(*p.Kind, p.ID, p.Arch, p.Branch)
	}
	if p.Kind != nil {
		arch := nonEmpty(p.Arch, r.flags.DefaultArchOverride, "x86_64")
		return ref.New(*p.Kind, p.ID, arch, nonEmpty(p.Branch, r.pickDefaultBranch(*p.Kind, p.ID, arch)))
	}
	if r.chooser == nil || r.flags.Noninteractive {
		return ref.Ref{}, depoterr.AmbiguousRef.WithDetail("id", p.ID)
	}
	idx, aborted := r.chooser.ChooseOne("multiple kinds match "+p.ID, []string{"app", "runtime"})
	if aborted {
		return ref.Ref{}, depoterr.Aborted
	}
	kind := ref.KindApp
	if idx == 1 {
		kind = ref.KindRuntime
	}
	arch := nonEmpty(p.Arch, "x86_64")
	return ref.New(kind, p.ID, arch, nonEmpty(p.Branch, r.pickDefaultBranch(kind, p.ID, arch)))
}

// pickDefaultBranch picks the highest version-numbered branch any
// configured remote publishes for kind/id/arch, the same "canonicalize
// then semver.Compare to find the latest" approach as the teacher's
// cuemod/init.go version selection. Falls back to defaultStableBranch when
// no published branch parses as a version (e.g. only "stable" or "beta"
// style branch names are published).
func (r *Resolver) pickDefaultBranch(kind ref.Kind, id, arch string) string {
	var branches []string
	seen := make(map[string]bool)
	for _, st := range r.remotes {
		for key := range st.Summary {
			candidate, err := ref.Parse(key)
			if err != nil || candidate.Kind() != kind || candidate.ID() != id || candidate.Arch() != arch {
				continue
			}
			if b := candidate.Branch(); !seen[b] {
				seen[b] = true
				branches = append(branches, b)
			}
		}
	}

	versioned := branches[:0:0]
	for _, b := range branches {
		if semver.IsValid(canonicalBranchVersion(b)) {
			versioned = append(versioned, b)
		}
	}
	if len(versioned) == 0 {
		return defaultStableBranch
	}
	slices.SortFunc(versioned, func(a, b string) int {
		return semver.Compare(canonicalBranchVersion(a), canonicalBranchVersion(b))
	})
	return versioned[len(versioned)-1]
}

// canonicalBranchVersion maps a dotted-numeric branch name (e.g. "23.08",
// "3.38") onto the "vX.Y[.Z]" form golang.org/x/mod/semver requires.
func canonicalBranchVersion(branch string) string {
	if branch == "" || branch[0] == 'v' {
		return branch
	}
	parts := strings.Split(branch, ".")
	for i, p := range parts {
		if p == "" {
			return ""
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return ""
			}
		}
		if parts[i] = strings.TrimLeft(p, "0"); parts[i] == "" {
			parts[i] = "0"
		}
	}
	if len(parts) == 1 {
		return "v" + parts[0] + ".0"
	}
	return "v" + strings.Join(parts, ".")
}

func nonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// pickRemoteFor implements contract 3: remote selection.
func (r *Resolver) pickRemoteFor(target ref.Ref, named string) (*remotestate.State, bool) {
	if named != "" {
		st, ok := r.remotes[named]
		return st, ok
	}
	var matches []*remotestate.State
	for _, st := range r.remotes {
		if st.HasRef(target) {
			matches = append(matches, st)
		}
	}
	if len(matches) == 0 {
		return nil, false
	}
	if len(matches) == 1 || r.chooser == nil {
		return matches[0], true
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.Remote.Name
	}
	idx, aborted := r.chooser.ChooseOne("multiple remotes offer "+target.Format(), names)
	if aborted {
		return nil, false
	}
	return matches[idx], true
}

// expandDependents implements contracts 4-6: dependency (runtime/sdk),
// related-ref, and debug-info expansion for one primary op.
func (r *Resolver) expandDependents(g *dag, primary Operation, target ref.Ref, meta remotestate.RefMeta, remote string) error {
	if !target.IsApp() {
		return nil
	}

	if !r.flags.DisableDependencies && meta.RuntimeRef != "" {
		runtimeRef, err := ref.Parse(meta.RuntimeRef)
		if err == nil {
			if _, _, ok := r.installs.IsInstalled(runtimeRef); !ok {
				if st, ok := r.pickRemoteFor(runtimeRef, ""); ok {
					rmeta, _ := st.RefMetaFor(runtimeRef)
					dep := install(runtimeRef, st.Remote.Name, store.Hash(rmeta.MetadataBlob["commit"]), nil)
					dep.Synthetic = true
					g.addOp(dep)
					g.addDependency(primary.ID, dep.ID)
				}
			}
		}
	}

	if r.flags.AutoInstallSDK && meta.SDKRef != "" && !r.flags.DisableDependencies {
		sdkRef, err := ref.Parse(meta.SDKRef)
		if err == nil {
			if _, _, ok := r.installs.IsInstalled(sdkRef); !ok {
				if st, ok := r.pickRemoteFor(sdkRef, ""); ok {
					smeta, _ := st.RefMetaFor(sdkRef)
					dep := install(sdkRef, st.Remote.Name, store.Hash(smeta.MetadataBlob["commit"]), nil)
					dep.Synthetic = true
					g.addOp(dep)
					g.addDependency(primary.ID, dep.ID)
				}
			}
		}
	}

	if !r.flags.DisableRelated {
		for _, rel := range meta.Related {
			if !rel.ShouldDownload {
				continue
			}
			// Cycle prevention (contract 10): related refs are only declared
			// on primaries, so a related ref depending back on its own
			// primary is a buggy-remote-metadata condition.
			if rel.Ref.Equals(target) {
				return depoterr.DependencyCycle.WithDetail("ref", target.Format())
			}
			relOp := install(rel.Ref, remote, "", nil)
			relOp.Synthetic = true
			if g.addOp(relOp) {
				g.addDependency(relOp.ID, primary.ID)
			}
		}
	}

	if r.flags.AutoInstallDebug {
		debugRef, err := ref.New(target.Kind(), target.ID()+".Debug", target.Arch(), target.Branch())
		if err == nil {
			debugOp := install(debugRef, remote, "", nil)
			debugOp.Synthetic = true
			if g.addOp(debugOp) {
				g.addDependency(debugOp.ID, primary.ID)
			}
		}
	}

	return nil
}
