package transaction

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terassyi/depot/internal/frontend"
	"github.com/terassyi/depot/internal/installation"
	"github.com/terassyi/depot/internal/path"
	"github.com/terassyi/depot/internal/ref"
	"github.com/terassyi/depot/internal/remotestate"
	"github.com/terassyi/depot/internal/resolve"
	"github.com/terassyi/depot/internal/store"
)

func testInstallation(t *testing.T) *installation.Installation {
	t.Helper()
	roots := path.ForNamed("test", t.TempDir())
	inst := installation.Open(roots)
	require.NoError(t, inst.EnsureRepo())
	return inst
}

type fakeLookup struct{}

func (fakeLookup) IsInstalled(r ref.Ref) (store.Hash, string, bool) { return "", "", false }
func (fakeLookup) InstallationsFor(r ref.Ref) []string              { return nil }

func TestAddInstallBundleDeploysWithoutNetwork(t *testing.T) {
	inst := testInstallation(t)

	fileBody := []byte("payload")
	fileHash := store.HashBytes(fileBody)
	tree := store.DirTree{Entries: []store.DirTreeEntry{{Name: "bin", ContentHash: fileHash}}}
	treeBody, err := json.Marshal(tree)
	require.NoError(t, err)
	treeHash := store.HashBytes(treeBody)
	meta := store.DirMeta{Mode: 0o755}
	metaBody, err := json.Marshal(meta)
	require.NoError(t, err)
	metaHash := store.HashBytes(metaBody)
	commit := store.Commit{TreeRootHash: treeHash, MetaHash: metaHash, Subject: "v1"}
	commitBody, err := json.Marshal(commit)
	require.NoError(t, err)

	bundleDoc := map[string]any{
		"ref":      "app/org.acme.Draw/x86_64/stable",
		"metadata": map[string]string{"origin": "bundle"},
		"commit":   map[string]any{"kind": store.KindCommit, "hash": "commit", "body": commitBody},
		"objects": []map[string]any{
			{"kind": store.KindFile, "hash": string(fileHash), "body": fileBody},
			{"kind": store.KindDirTree, "hash": string(treeHash), "body": treeBody},
			{"kind": store.KindDirMeta, "hash": string(metaHash), "body": metaBody},
		},
	}
	raw, err := json.Marshal(bundleDoc)
	require.NoError(t, err)
	bundlePath := filepath.Join(t.TempDir(), "app.flatpak")
	require.NoError(t, os.WriteFile(bundlePath, raw, 0o644))

	resolver := resolve.New(nil, fakeLookup{}, map[string]*remotestate.State{}, resolve.Flags{})
	fe := frontend.NewQuiet(&bytes.Buffer{}, true)
	tx := New(inst, resolver, fe, nil, Flags{}, nil)

	require.NoError(t, tx.AddInstallBundle(bundlePath, nil))
	result, err := tx.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Failed())

	r, err := ref.Parse("app/org.acme.Draw/x86_64/stable")
	require.NoError(t, err)
	active, err := inst.ActiveDeployment(r)
	require.NoError(t, err)
	require.NotNil(t, active)
}

func TestAddUninstallRemovesActiveDeploymentAndRef(t *testing.T) {
	inst := testInstallation(t)
	r, err := ref.New(ref.KindApp, "org.acme.Draw", "x86_64", "stable")
	require.NoError(t, err)

	s := inst.Store()
	fileHash, err := s.WriteFile(bytes.NewReader([]byte("payload")))
	require.NoError(t, err)
	treeHash, err := s.WriteDirTree(store.DirTree{Entries: []store.DirTreeEntry{{Name: "bin", ContentHash: fileHash}}})
	require.NoError(t, err)
	metaHash, err := s.WriteDirMeta(store.DirMeta{Mode: 0o755})
	require.NoError(t, err)
	commitHash, err := s.WriteCommit(store.Commit{TreeRootHash: treeHash, MetaHash: metaHash, Subject: "v1"})
	require.NoError(t, err)
	require.NoError(t, inst.Materialize(r, commitHash, installation.DeployData{OriginRemote: "origin"}))
	require.NoError(t, inst.FlipActive(r, commitHash))
	require.NoError(t, s.SetRef("origin", r.Format(), &commitHash))

	resolver := resolve.New(nil, fakeLookup{}, map[string]*remotestate.State{}, resolve.Flags{})
	fe := frontend.NewQuiet(&bytes.Buffer{}, true)
	tx := New(inst, resolver, fe, nil, Flags{}, nil)

	kind := ref.KindApp
	tx.AddUninstall(resolve.Request{RefArg: ref.Partial{Kind: &kind, ID: "org.acme.Draw", Arch: "x86_64", Branch: "stable"}})

	result, err := tx.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Failed())

	active, err := inst.ActiveDeployment(r)
	require.NoError(t, err)
	assert.Nil(t, active)

	_, hasRef, err := s.GetRef("origin", r.Format())
	require.NoError(t, err)
	assert.False(t, hasRef)
}

func TestAddInstallFromDescriptionResolvesRemoteAndFailsCleanlyWhenUnpublished(t *testing.T) {
	inst := testInstallation(t)
	resolver := resolve.New(nil, fakeLookup{}, map[string]*remotestate.State{
		"origin": {Remote: remotestate.Remote{Name: "origin", Enabled: true}, Summary: map[string]remotestate.RefMeta{}, Sparse: map[string]remotestate.SparseEntry{}},
	}, resolve.Flags{})
	fe := frontend.NewQuiet(&bytes.Buffer{}, true)
	// NoPull: the ref has no configured commit in the remote's (empty)
	// summary, so materializing it is expected to fail per-op rather than
	// dereference a nil RepoBackendFor.
	tx := New(inst, resolver, fe, nil, Flags{NoPull: true}, nil)

	raw := []byte("Name=org.acme.Draw\nBranch=stable\nUrl=https://example.com/repo\n")
	err := tx.AddInstallFromDescription(raw, func(url string) (string, error) { return "origin", nil })
	require.NoError(t, err)

	result, err := tx.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, result.Failed(), "ref not published by the resolved remote must fail at deploy time")
}
