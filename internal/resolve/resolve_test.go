package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terassyi/depot/internal/depoterr"
	"github.com/terassyi/depot/internal/ref"
	"github.com/terassyi/depot/internal/remotestate"
	"github.com/terassyi/depot/internal/store"
)

type fakeLookup struct {
	installed     map[string]store.Hash
	installedFrom map[string]string
	installations map[string][]string
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		installed:     map[string]store.Hash{},
		installedFrom: map[string]string{},
		installations: map[string][]string{},
	}
}

func (f *fakeLookup) IsInstalled(r ref.Ref) (store.Hash, string, bool) {
	c, ok := f.installed[r.Format()]
	return c, f.installedFrom[r.Format()], ok
}

func (f *fakeLookup) InstallationsFor(r ref.Ref) []string {
	return f.installations[r.Format()]
}

func remoteState(name string, refs map[string]remotestate.RefMeta) *remotestate.State {
	return &remotestate.State{
		Remote:  remotestate.Remote{Name: name, Enabled: true},
		Summary: refs,
		Sparse:  map[string]remotestate.SparseEntry{},
	}
}

func TestResolveInstallWithMissingRuntimeOrdersRuntimeFirst(t *testing.T) {
	appRef, _ := ref.New(ref.KindApp, "org.acme.Draw", "x86_64", "stable")
	runtimeRef, _ := ref.New(ref.KindRuntime, "org.acme.Platform", "x86_64", "24.08")

	remotes := map[string]*remotestate.State{
		"origin": remoteState("origin", map[string]remotestate.RefMeta{
			appRef.Format(): {
				RuntimeRef:   runtimeRef.Format(),
				MetadataBlob: map[string]string{"commit": "appcommit"},
			},
			runtimeRef.Format(): {
				MetadataBlob: map[string]string{"commit": "runtimecommit"},
			},
		}),
	}

	lookup := newFakeLookup()
	r := New(nil, lookup, remotes, Flags{})

	kind := ref.KindApp
	plan, err := r.Resolve([]Request{{Kind: OpInstall, RefArg: ref.Partial{Kind: &kind, ID: "org.acme.Draw", Arch: "x86_64", Branch: "stable"}, Remote: "origin"}})
	require.NoError(t, err)
	require.Len(t, plan.Operations, 2)
	assert.Equal(t, runtimeRef.Format(), plan.Operations[0].Ref.Format())
	assert.Equal(t, appRef.Format(), plan.Operations[1].Ref.Format())
}

func TestResolveInstallAlreadyInstalledFails(t *testing.T) {
	appRef, _ := ref.New(ref.KindApp, "org.acme.Draw", "x86_64", "stable")
	remotes := map[string]*remotestate.State{
		"origin": remoteState("origin", map[string]remotestate.RefMeta{
			appRef.Format(): {MetadataBlob: map[string]string{"commit": "c2"}},
		}),
	}
	lookup := newFakeLookup()
	lookup.installed[appRef.Format()] = "c1"
	lookup.installedFrom[appRef.Format()] = "origin"

	r := New(nil, lookup, remotes, Flags{})
	kind := ref.KindApp
	_, err := r.Resolve([]Request{{Kind: OpInstall, RefArg: ref.Partial{Kind: &kind, ID: "org.acme.Draw", Arch: "x86_64", Branch: "stable"}, Remote: "origin"}})
	assert.ErrorIs(t, err, depoterr.AlreadyInstalled)
}

func TestResolveReinstallEmitsUninstallThenInstall(t *testing.T) {
	appRef, _ := ref.New(ref.KindApp, "org.acme.Draw", "x86_64", "stable")
	remotes := map[string]*remotestate.State{
		"origin": remoteState("origin", map[string]remotestate.RefMeta{
			appRef.Format(): {MetadataBlob: map[string]string{"commit": "c2"}},
		}),
	}
	lookup := newFakeLookup()
	lookup.installed[appRef.Format()] = "c1"
	lookup.installedFrom[appRef.Format()] = "origin"

	r := New(nil, lookup, remotes, Flags{Reinstall: true})
	kind := ref.KindApp
	plan, err := r.Resolve([]Request{{Kind: OpInstall, RefArg: ref.Partial{Kind: &kind, ID: "org.acme.Draw", Arch: "x86_64", Branch: "stable"}, Remote: "origin"}})
	require.NoError(t, err)
	require.Len(t, plan.Operations, 2)
	assert.Equal(t, OpUninstall, plan.Operations[0].Kind)
	assert.Equal(t, OpInstall, plan.Operations[1].Kind)
}

func TestFingerprintDedupNoDuplicateOps(t *testing.T) {
	appRef, _ := ref.New(ref.KindApp, "org.acme.Draw", "x86_64", "stable")
	remotes := map[string]*remotestate.State{
		"origin": remoteState("origin", map[string]remotestate.RefMeta{
			appRef.Format(): {MetadataBlob: map[string]string{"commit": "c2"}},
		}),
	}
	lookup := newFakeLookup()
	r := New(nil, lookup, remotes, Flags{})
	kind := ref.KindApp
	req := Request{Kind: OpInstall, RefArg: ref.Partial{Kind: &kind, ID: "org.acme.Draw", Arch: "x86_64", Branch: "stable"}, Remote: "origin"}

	plan, err := r.Resolve([]Request{req})
	require.NoError(t, err)
	require.Len(t, plan.Operations, 1)

	seen := map[string]bool{}
	for _, op := range plan.Operations {
		fp := op.Fingerprint()
		assert.False(t, seen[fp], "duplicate fingerprint %s", fp)
		seen[fp] = true
	}
}
