package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func writeSimpleCommit(t *testing.T, s *Store, subject string) Hash {
	t.Helper()
	fileHash, err := s.WriteFile(strings.NewReader("hello " + subject))
	require.NoError(t, err)
	metaHash, err := s.WriteDirMeta(DirMeta{Mode: 0o755})
	require.NoError(t, err)
	treeHash, err := s.WriteDirTree(DirTree{Entries: []DirTreeEntry{
		{Name: "greeting.txt", ContentHash: fileHash},
	}})
	require.NoError(t, err)
	commitHash, err := s.WriteCommit(Commit{TreeRootHash: treeHash, MetaHash: metaHash, Subject: subject})
	require.NoError(t, err)
	return commitHash
}

func TestWriteAndLoadCommitRoundTrips(t *testing.T) {
	s := Open(t.TempDir())
	h := writeSimpleCommit(t, s, "first")

	c, state, err := s.LoadCommit(h)
	require.NoError(t, err)
	assert.Equal(t, "first", c.Subject)
	assert.False(t, state.Partial)
}

func TestSetRefAndListRefs(t *testing.T) {
	s := Open(t.TempDir())
	h := writeSimpleCommit(t, s, "x")
	require.NoError(t, s.SetRef("origin", "app/org.acme.Draw/x86_64/stable", &h))

	refs, err := s.ListRefs("")
	require.NoError(t, err)
	assert.Equal(t, h, refs["remotes/origin/app/org.acme.Draw/x86_64/stable"])

	got, ok, err := s.GetRef("origin", "app/org.acme.Draw/x86_64/stable")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, h, got)

	require.NoError(t, s.SetRef("origin", "app/org.acme.Draw/x86_64/stable", nil))
	_, ok, err = s.GetRef("origin", "app/org.acme.Draw/x86_64/stable")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFsckDetectsMissingAndInvalid(t *testing.T) {
	s := Open(t.TempDir())
	h := writeSimpleCommit(t, s, "y")

	res, err := s.FsckObject(KindCommit, h)
	require.NoError(t, err)
	assert.Equal(t, FsckOk, res)

	res, err = s.FsckObject(KindCommit, Hash("0000000000000000000000000000000000000000000000000000000000ff"))
	require.NoError(t, err)
	assert.Equal(t, FsckMissing, res)
}

func TestPruneIsNoOpOnHealthyStore(t *testing.T) {
	s := Open(t.TempDir())
	h := writeSimpleCommit(t, s, "z")
	require.NoError(t, s.SetRef("origin", "app/org.acme.Draw/x86_64/stable", &h))

	stats, err := s.Prune(0)
	require.NoError(t, err)
	for _, n := range stats.Removed {
		assert.Zero(t, n)
	}
}

func TestPruneRemovesUnreachableObjects(t *testing.T) {
	s := Open(t.TempDir())
	_ = writeSimpleCommit(t, s, "orphan") // never referenced by any ref

	stats, err := s.Prune(0)
	require.NoError(t, err)
	assert.Greater(t, stats.Removed[KindCommit], 0)

	refs, err := s.ListRefs("")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

// TestPruneNeverRemovesReachableObjects is the quantified invariant from
// spec §8: prune must preserve every object reachable from any surviving ref.
func TestPruneNeverRemovesReachableObjects(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := Open(t.TempDir())
		n := rapid.IntRange(1, 5).Draw(rt, "n")
		var kept []Hash
		for i := 0; i < n; i++ {
			h := writeSimpleCommit(t, s, rapid.StringMatching(`[a-z]{3,8}`).Draw(rt, "subject"))
			kept = append(kept, h)
			require.NoError(t, s.SetRef("origin", "app/test/x86_64/"+rapid.StringMatching(`[a-z]{3,8}`).Draw(rt, "branch"), &h))
		}

		_, err := s.Prune(0)
		require.NoError(t, err)

		for _, h := range kept {
			res, err := s.FsckObject(KindCommit, h)
			require.NoError(t, err)
			assert.Equal(t, FsckOk, res)
		}
	})
}
