// Package installation implements the installation directory (spec §3,
// §4.3): a named root owning an object store, deployments, per-remote
// config, and a pinned-ref list, guarded by a reentrant-within-process file
// lock grounded on the teacher's state.Store[T] lock/PID idiom.
package installation

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	"github.com/terassyi/depot/internal/depoterr"
	"github.com/terassyi/depot/internal/path"
	"github.com/terassyi/depot/internal/ref"
	"github.com/terassyi/depot/internal/store"
)

// Installation is a named installation root.
type Installation struct {
	name     string
	roots    *path.Roots
	store    *store.Store
	fileLock *flock.Flock
	locked   bool
	shared   bool
}

// Open returns an Installation for the given roots without acquiring any
// lock. Call Lock or LockShared before any mutating or read-only operation
// respectively.
func Open(roots *path.Roots) *Installation {
	return &Installation{
		name:     roots.Name(),
		roots:    roots,
		store:    store.Open(roots.DeployDir()),
		fileLock: flock.New(roots.LockFile()),
	}
}

func (inst *Installation) Name() string        { return inst.name }
func (inst *Installation) Store() *store.Store { return inst.store }
func (inst *Installation) Roots() *path.Roots  { return inst.roots }

// MaybeEnsureRepo lazily creates the on-disk directory tree backing the
// object store and deployments if it does not already exist.
func (inst *Installation) MaybeEnsureRepo() error {
	if _, err := os.Stat(inst.roots.DataDir()); err == nil {
		return nil
	}
	return inst.EnsureRepo()
}

// EnsureRepo unconditionally creates the installation's directory tree.
func (inst *Installation) EnsureRepo() error {
	for _, d := range []string{inst.roots.DataDir(), inst.roots.RemovedDir()} {
		if err := path.EnsureDir(d); err != nil {
			return fmt.Errorf("ensure %s: %w", d, err)
		}
	}
	return nil
}

// Lock acquires the installation's exclusive lock, required for the full
// duration of any mutation (spec §4.3, §5). Reentrant within the same
// process: calling Lock twice on the same Installation value is a no-op.
func (inst *Installation) Lock() error {
	if inst.locked {
		return nil
	}
	ok, err := inst.fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		pid, _ := inst.readLockPID()
		if pid > 0 {
			return depoterr.Busy.WithDetail("pid", pid)
		}
		return depoterr.Busy
	}
	if err := inst.writeLockPID(); err != nil {
		_ = inst.fileLock.Unlock()
		return fmt.Errorf("write lock pid: %w", err)
	}
	inst.locked = true
	return nil
}

// LockShared acquires a shared (read-only) lock, sufficient for
// enumeration operations like list_refs (spec §4.3).
func (inst *Installation) LockShared() error {
	if inst.locked || inst.shared {
		return nil
	}
	ok, err := inst.fileLock.TryRLock()
	if err != nil {
		return fmt.Errorf("acquire shared lock: %w", err)
	}
	if !ok {
		return depoterr.Busy
	}
	inst.shared = true
	return nil
}

// Unlock releases whichever lock (exclusive or shared) is currently held.
func (inst *Installation) Unlock() error {
	if !inst.locked && !inst.shared {
		return nil
	}
	if err := inst.fileLock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	inst.locked = false
	inst.shared = false
	return nil
}

func (inst *Installation) readLockPID() (int, error) {
	data, err := os.ReadFile(inst.roots.LockFile())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func (inst *Installation) writeLockPID() error {
	return os.WriteFile(inst.roots.LockFile(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// timeValue is a UnixNano timestamp used only to break deploy-data
// timestamp ties when sorting deployments.
type timeValue int64

// DeployData is the sidecar record of one deployment (spec §3).
type DeployData struct {
	OriginRemote     string
	Commit           store.Hash
	Subpaths         []string
	InstalledSize    int64
	Timestamp        int64
	PreviousDeployID string
	RuntimeRef       string
	SDKRef           string
	AppMetadataBlob  []byte
}

// Deployment is a materialized checkout of one commit of one ref.
type Deployment struct {
	Ref      ref.Ref
	CommitID store.Hash
	Active   bool
	Data     DeployData
	modTime  timeValue
}

// DeploymentsFor returns every deployment of ref, newest first.
func (inst *Installation) DeploymentsFor(r ref.Ref) ([]Deployment, error) {
	dir := inst.refDeployDir(r)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	activeID, _ := inst.readActiveSymlink(r)

	var deployments []Deployment
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "active" {
			continue
		}
		data, err := inst.loadDeployData(r, store.Hash(e.Name()))
		if err != nil {
			continue // a listed directory without deploy-data is not a valid deployment
		}
		info, _ := e.Info()
		d := Deployment{
			Ref:      r,
			CommitID: store.Hash(e.Name()),
			Active:   e.Name() == activeID,
			Data:     data,
		}
		if info != nil {
			d.modTime = timeValue(info.ModTime().UnixNano())
		}
		deployments = append(deployments, d)
	}
	sort.Slice(deployments, func(i, j int) bool {
		if deployments[i].Data.Timestamp != deployments[j].Data.Timestamp {
			return deployments[i].Data.Timestamp > deployments[j].Data.Timestamp
		}
		return deployments[i].modTime > deployments[j].modTime
	})
	return deployments, nil
}

// ActiveDeployment returns the deployment currently selected by the stable
// active symlink, if any.
func (inst *Installation) ActiveDeployment(r ref.Ref) (*Deployment, error) {
	activeID, ok := inst.readActiveSymlink(r)
	if !ok {
		return nil, nil
	}
	data, err := inst.loadDeployData(r, activeID)
	if err != nil {
		return nil, err
	}
	return &Deployment{Ref: r, CommitID: activeID, Active: true, Data: data}, nil
}

// LoadDeployData loads the deploy-data sidecar of the active deployment.
func (inst *Installation) LoadDeployData(r ref.Ref) (DeployData, error) {
	d, err := inst.ActiveDeployment(r)
	if err != nil {
		return DeployData{}, err
	}
	if d == nil {
		return DeployData{}, depoterr.NotInstalled.WithDetail("ref", r.Format())
	}
	return d.Data, nil
}

// ListPinnedRefs returns the set of refs exempt from unused-sweep.
func (inst *Installation) ListPinnedRefs() ([]ref.Ref, error) {
	data, err := os.ReadFile(inst.roots.PinnedRefsFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var refs []ref.Ref
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r, err := ref.Parse(line)
		if err != nil {
			continue
		}
		refs = append(refs, r)
	}
	return refs, nil
}

// SetPinned adds or removes a ref from the pinned set.
func (inst *Installation) SetPinned(r ref.Ref, pinned bool) error {
	current, err := inst.ListPinnedRefs()
	if err != nil {
		return err
	}
	var next []ref.Ref
	found := false
	for _, existing := range current {
		if existing.Equals(r) {
			found = true
			if pinned {
				next = append(next, existing)
			}
			continue
		}
		next = append(next, existing)
	}
	if pinned && !found {
		next = append(next, r)
	}
	var b strings.Builder
	for _, r := range next {
		b.WriteString(r.Format())
		b.WriteByte('\n')
	}
	tmp := inst.roots.PinnedRefsFile() + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, inst.roots.PinnedRefsFile())
}

// GetRemovedDir returns the staging area used to retire replaced
// deployments; safe to erase after a successful transaction.
func (inst *Installation) GetRemovedDir() string { return inst.roots.RemovedDir() }

// EraseRemoved deletes the removed/ staging directory's contents.
func (inst *Installation) EraseRemoved() error {
	entries, err := os.ReadDir(inst.roots.RemovedDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(inst.roots.RemovedDir() + "/" + e.Name()); err != nil {
			return err
		}
	}
	return nil
}

// DeleteMirrorRefs removes leaked mirror ref entries that no deployment
// references (spec §4.3, also step 1 of the repair algorithm in §4.7).
func (inst *Installation) DeleteMirrorRefs() (int, error) {
	refs, err := inst.store.ListRefs("")
	if err != nil {
		return 0, err
	}
	removed := 0
	for refString := range refs {
		remote, name, ok := splitRefKey(refString)
		if !ok {
			continue
		}
		r, err := ref.Parse(name)
		if err != nil {
			continue
		}
		deployments, err := inst.DeploymentsFor(r)
		if err != nil {
			return removed, err
		}
		if len(deployments) == 0 {
			if err := inst.store.SetRef(remote, name, nil); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
