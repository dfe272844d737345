package installation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terassyi/depot/internal/path"
	"github.com/terassyi/depot/internal/ref"
	"github.com/terassyi/depot/internal/store"
)

func testInstallation(t *testing.T) *Installation {
	t.Helper()
	roots := path.ForNamed("test", t.TempDir())
	inst := Open(roots)
	require.NoError(t, inst.EnsureRepo())
	return inst
}

func writeAndMaterialize(t *testing.T, inst *Installation, r ref.Ref) store.Hash {
	t.Helper()
	s := inst.Store()
	fileHash, err := s.WriteFile(strings.NewReader("payload"))
	require.NoError(t, err)
	treeHash, err := s.WriteDirTree(store.DirTree{Entries: []store.DirTreeEntry{{Name: "bin", ContentHash: fileHash}}})
	require.NoError(t, err)
	metaHash, err := s.WriteDirMeta(store.DirMeta{Mode: 0o755})
	require.NoError(t, err)
	commitHash, err := s.WriteCommit(store.Commit{TreeRootHash: treeHash, MetaHash: metaHash, Subject: "v1"})
	require.NoError(t, err)

	require.NoError(t, inst.Materialize(r, commitHash, DeployData{OriginRemote: "origin"}))
	require.NoError(t, inst.FlipActive(r, commitHash))
	return commitHash
}

func TestMaterializeAndActiveDeployment(t *testing.T) {
	inst := testInstallation(t)
	r, err := ref.New(ref.KindApp, "org.acme.Draw", "x86_64", "stable")
	require.NoError(t, err)

	commit := writeAndMaterialize(t, inst, r)

	active, err := inst.ActiveDeployment(r)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, commit, active.CommitID)
	assert.Equal(t, "origin", active.Data.OriginRemote)
}

func TestLockIsExclusive(t *testing.T) {
	roots := path.ForNamed("test", t.TempDir())
	inst := Open(roots)
	require.NoError(t, inst.EnsureRepo())
	require.NoError(t, inst.Lock())
	defer inst.Unlock()

	other := Open(roots)
	err := other.Lock()
	assert.Error(t, err)
}

func TestPinnedRefsRoundTrip(t *testing.T) {
	inst := testInstallation(t)
	r, err := ref.New(ref.KindRuntime, "org.acme.Platform", "x86_64", "24.08")
	require.NoError(t, err)

	require.NoError(t, inst.SetPinned(r, true))
	pinned, err := inst.ListPinnedRefs()
	require.NoError(t, err)
	require.Len(t, pinned, 1)
	assert.True(t, pinned[0].Equals(r))

	require.NoError(t, inst.SetPinned(r, false))
	pinned, err = inst.ListPinnedRefs()
	require.NoError(t, err)
	assert.Empty(t, pinned)
}
