// Package path resolves the on-disk layout of an installation directory:
// object store, deployments, removed-staging area, and per-installation
// config, rooted under XDG_DATA_HOME/XDG_CONFIG_HOME or the system dirs.
package path

import (
	"os"
	"path/filepath"
)

// System-wide installation root, used by the "system" installation.
const DefaultSystemDataDir = "/var/lib/depot"

const (
	defaultUserDataSuffix   = ".local/share/depot"
	defaultUserConfigSuffix = ".config/depot"
)

// Roots holds the resolved filesystem roots for one named installation.
type Roots struct {
	name    string
	dataDir string
}

// Option configures Roots.
type Option func(*Roots)

// WithDataDir overrides the installation's data directory.
func WithDataDir(dir string) Option {
	return func(r *Roots) { r.dataDir = dir }
}

// ForUser resolves the roots of the "user" installation, honoring
// XDG_DATA_HOME when set.
func ForUser(opts ...Option) (*Roots, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dataHome = filepath.Join(home, defaultUserDataSuffix)
	} else {
		dataHome = filepath.Join(dataHome, "depot")
	}
	r := &Roots{name: "user", dataDir: dataHome}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ForSystem resolves the roots of the "system" installation.
func ForSystem(opts ...Option) *Roots {
	r := &Roots{name: "system", dataDir: DefaultSystemDataDir}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ForNamed resolves the roots of a sysadmin-declared extra installation
// rooted at an explicit directory.
func ForNamed(name, dataDir string, opts ...Option) *Roots {
	r := &Roots{name: name, dataDir: dataDir}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Roots) Name() string    { return r.name }
func (r *Roots) DataDir() string { return r.dataDir }

// ObjectsDir is the object store root: objects/<prefix>/<rest>.<ext>.
func (r *Roots) ObjectsDir() string { return filepath.Join(r.dataDir, "objects") }

// RefsDir is the ref-entry root: refs/{heads,remotes/<remote>}/<ref-name>.
func (r *Roots) RefsDir() string { return filepath.Join(r.dataDir, "refs") }

// DeltasDir is the static-delta root: deltas/<from-prefix>/<from-rest>-<to-prefix>/<to-rest>/.
func (r *Roots) DeltasDir() string { return filepath.Join(r.dataDir, "deltas") }

// DeployDir is the root of <kind>/<id>/<arch>/<branch>/<commit-id>/ deployments.
func (r *Roots) DeployDir() string { return r.dataDir }

// RemovedDir is the staging area for retired deployments.
func (r *Roots) RemovedDir() string { return filepath.Join(r.dataDir, "removed") }

// LockFile is the per-installation exclusive/shared lock file.
func (r *Roots) LockFile() string { return filepath.Join(r.dataDir, ".lock") }

// RemotesConfigFile is the remote configuration persisted for this installation.
func (r *Roots) RemotesConfigFile() string { return filepath.Join(r.dataDir, "remotes.yaml") }

// InstallationConfigFile is the languages/extra-languages config key store.
func (r *Roots) InstallationConfigFile() string { return filepath.Join(r.dataDir, "config.yaml") }

// PinnedRefsFile persists the set of refs exempt from unused-sweep.
func (r *Roots) PinnedRefsFile() string { return filepath.Join(r.dataDir, "pinned-refs") }

// EnsureDir creates a directory (and parents) if it doesn't already exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
