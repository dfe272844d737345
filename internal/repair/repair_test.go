package repair

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terassyi/depot/internal/installation"
	"github.com/terassyi/depot/internal/path"
	"github.com/terassyi/depot/internal/ref"
	"github.com/terassyi/depot/internal/store"
)

func testInstallation(t *testing.T) *installation.Installation {
	t.Helper()
	roots := path.ForNamed("test", t.TempDir())
	inst := installation.Open(roots)
	require.NoError(t, inst.EnsureRepo())
	return inst
}

func writeAndMaterialize(t *testing.T, inst *installation.Installation, r ref.Ref) store.Hash {
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

	require.NoError(t, inst.Materialize(r, commitHash, installation.DeployData{OriginRemote: "origin"}))
	require.NoError(t, inst.FlipActive(r, commitHash))
	require.NoError(t, s.SetRef("origin", r.Format(), &commitHash))
	return commitHash
}

func testRef(t *testing.T) ref.Ref {
	t.Helper()
	r, err := ref.New(ref.KindApp, "org.acme.Draw", "x86_64", "stable")
	require.NoError(t, err)
	return r
}

func TestClassifyHealthyCommitIsOk(t *testing.T) {
	inst := testInstallation(t)
	r := testRef(t)
	commit := writeAndMaterialize(t, inst, r)

	e := New(inst, nil, nil)
	memo := make(map[string]Status)
	assert.Equal(t, StatusOk, e.classify(commit, memo))
}

func TestClassifyDetectsMissingObject(t *testing.T) {
	inst := testInstallation(t)
	r := testRef(t)
	commit := writeAndMaterialize(t, inst, r)

	c, _, err := inst.Store().LoadCommit(commit)
	require.NoError(t, err)
	require.NoError(t, inst.Store().DeleteObject(store.KindDirTree, c.TreeRootHash))

	e := New(inst, nil, nil)
	memo := make(map[string]Status)
	assert.Equal(t, StatusHasMissingObjects, e.classify(commit, memo))
}

type alwaysPresent struct{}

func (alwaysPresent) RefExistsOnRemote(r ref.Ref, remote string) bool { return true }

type neverPresent struct{}

func (neverPresent) RefExistsOnRemote(r ref.Ref, remote string) bool { return false }

func TestRunDryRunDoesNotMutateStore(t *testing.T) {
	inst := testInstallation(t)
	r := testRef(t)
	commit := writeAndMaterialize(t, inst, r)

	c, _, err := inst.Store().LoadCommit(commit)
	require.NoError(t, err)
	require.NoError(t, inst.Store().DeleteObject(store.KindDirTree, c.TreeRootHash))

	e := New(inst, neverPresent{}, nil)
	result, err := e.Run(context.Background(), Options{DryRun: true}, nil, nil)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, StatusHasMissingObjects, result.Findings[0].Status)
	assert.Equal(t, []ref.Ref{r}, result.RefsDeleted)
	assert.Empty(t, result.Reinstalled)

	active, err := inst.ActiveDeployment(r)
	require.NoError(t, err)
	assert.NotNil(t, active, "dry run must not remove the deployment")
}

func TestRunDeletesUnhealthyRefWithNoRemote(t *testing.T) {
	inst := testInstallation(t)
	r := testRef(t)
	commit := writeAndMaterialize(t, inst, r)

	c, _, err := inst.Store().LoadCommit(commit)
	require.NoError(t, err)
	require.NoError(t, inst.Store().DeleteObject(store.KindDirTree, c.TreeRootHash))

	e := New(inst, neverPresent{}, nil)
	result, err := e.Run(context.Background(), Options{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []ref.Ref{r}, result.RefsDeleted)
	assert.Empty(t, result.Reinstalled)

	active, err := inst.ActiveDeployment(r)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestHasIssuesReflectsFindings(t *testing.T) {
	r := Result{Findings: []RefHealth{{Status: StatusOk}}}
	assert.False(t, r.HasIssues())
	r.Findings = append(r.Findings, RefHealth{Status: StatusHasInvalidObjects})
	assert.True(t, r.HasIssues())
}
