package installation

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/terassyi/depot/internal/ref"
	"github.com/terassyi/depot/internal/store"
)

// refDeployDir returns <root>/<kind>/<id>/<arch>/<branch>/ (spec §6 Deploy layout).
func (inst *Installation) refDeployDir(r ref.Ref) string {
	return filepath.Join(inst.roots.DeployDir(), r.Kind().String(), r.ID(), r.Arch(), r.Branch())
}

func (inst *Installation) deployDataPath(r ref.Ref, commit store.Hash) string {
	return filepath.Join(inst.refDeployDir(r), string(commit), "deploy")
}

func (inst *Installation) activeSymlinkPath(r ref.Ref) string {
	return filepath.Join(inst.refDeployDir(r), "active")
}

func (inst *Installation) loadDeployData(r ref.Ref, commit store.Hash) (DeployData, error) {
	data, err := os.ReadFile(inst.deployDataPath(r, commit))
	if err != nil {
		return DeployData{}, err
	}
	var d DeployData
	if err := json.Unmarshal(data, &d); err != nil {
		return DeployData{}, err
	}
	return d, nil
}

func (inst *Installation) readActiveSymlink(r ref.Ref) (store.Hash, bool) {
	target, err := os.Readlink(inst.activeSymlinkPath(r))
	if err != nil {
		return "", false
	}
	return store.Hash(filepath.Base(target)), true
}

// Materialize checks out a commit's tree into <kind>/<id>/<arch>/<branch>/<commit>/,
// writes its deploy-data sidecar, but does not flip the active symlink — callers
// perform that as a final atomic step per spec §5's ordering guarantee (object
// writes happen-before ref update happens-before deploy-data write happens-before
// the symlink flip happens-before op_end).
func (inst *Installation) Materialize(r ref.Ref, commit store.Hash, data DeployData) error {
	dir := filepath.Join(inst.refDeployDir(r), string(commit))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create deployment dir: %w", err)
	}
	c, _, err := inst.store.LoadCommit(commit)
	if err != nil {
		return err
	}
	if err := inst.checkoutTree(dir, c.TreeRootHash, data.Subpaths, ""); err != nil {
		return err
	}
	data.Commit = commit
	data.Timestamp = time.Now().Unix()
	blob, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return os.WriteFile(inst.deployDataPath(r, commit), blob, 0o644)
}

func (inst *Installation) checkoutTree(destDir string, dirTreeHash store.Hash, subpaths []string, prefix string) error {
	if dirTreeHash == "" {
		return nil
	}
	t, err := inst.store.LoadDirTree(dirTreeHash)
	if err != nil {
		return err
	}
	for _, e := range t.Entries {
		childPath := prefix + "/" + e.Name
		if len(subpaths) > 0 && !inSubpathList(childPath, subpaths) {
			continue
		}
		target := filepath.Join(destDir, e.Name)
		if e.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			if err := inst.checkoutTree(target, e.DirTreeHash, subpaths, childPath); err != nil {
				return err
			}
		} else {
			if err := inst.checkoutFile(target, e.ContentHash); err != nil {
				return err
			}
		}
	}
	return nil
}

func inSubpathList(p string, subpaths []string) bool {
	for _, sp := range subpaths {
		if p == sp || strings.HasPrefix(p, sp+"/") {
			return true
		}
	}
	return false
}

// checkoutFile copies a file object's bytes into a new file in the
// deployment tree; it never hardlinks.
func (inst *Installation) checkoutFile(dest string, h store.Hash) error {
	src, err := inst.store.OpenFile(h)
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, src)
	return err
}

// FlipActive atomically repoints the active symlink to commit, the final
// step of the happens-before chain in spec §5.
func (inst *Installation) FlipActive(r ref.Ref, commit store.Hash) error {
	link := inst.activeSymlinkPath(r)
	tmp := link + ".tmp"
	_ = os.Remove(tmp)
	if err := os.Symlink(string(commit), tmp); err != nil {
		return err
	}
	return os.Rename(tmp, link)
}

// RetireActive moves the currently active deployment into removed/ ahead of
// linking a new one active (spec §4.6 reinstall correctness: the old
// deployment directory is renamed into removed/ before the new one is
// linked active).
func (inst *Installation) RetireActive(r ref.Ref) (restore func() error, err error) {
	activeID, ok := inst.readActiveSymlink(r)
	if !ok {
		return func() error { return nil }, nil
	}
	src := filepath.Join(inst.refDeployDir(r), string(activeID))
	dst := filepath.Join(inst.roots.RemovedDir(), r.Kind().String()+"-"+r.ID()+"-"+r.Arch()+"-"+r.Branch()+"-"+string(activeID))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, err
	}
	if err := os.Rename(src, dst); err != nil {
		return nil, fmt.Errorf("retire active deployment: %w", err)
	}
	restore = func() error {
		return os.Rename(dst, src)
	}
	return restore, nil
}

// RemoveDeployment deletes a deployment directory and its deploy-data
// sidecar outright (used by Uninstall), along with the active symlink when
// it points at that deployment.
func (inst *Installation) RemoveDeployment(r ref.Ref, commit store.Hash) error {
	if activeID, ok := inst.readActiveSymlink(r); ok && activeID == commit {
		if err := os.Remove(inst.activeSymlinkPath(r)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	dir := filepath.Join(inst.refDeployDir(r), string(commit))
	return os.RemoveAll(dir)
}

// ListUnusedRefs returns the subset of installed refs that are not
// reachable from any non-auto-prunable root — i.e. no installed app's
// runtime/sdk/related-ref metadata names them, and they are not pinned.
func (inst *Installation) ListUnusedRefs(installedRefsFn func() ([]ref.Ref, error), reachableFn func(ref.Ref) (bool, error)) ([]ref.Ref, error) {
	installed, err := installedRefsFn()
	if err != nil {
		return nil, err
	}
	pinned, err := inst.ListPinnedRefs()
	if err != nil {
		return nil, err
	}
	pinnedSet := make(map[string]bool, len(pinned))
	for _, p := range pinned {
		pinnedSet[p.Hash()] = true
	}
	var unused []ref.Ref
	for _, r := range installed {
		if pinnedSet[r.Hash()] {
			continue
		}
		reachable, err := reachableFn(r)
		if err != nil {
			return nil, err
		}
		if !reachable {
			unused = append(unused, r)
		}
	}
	return unused, nil
}

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
