package backend

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terassyi/depot/internal/store"
)

func TestSanitizeTagReplacesInvalidRunes(t *testing.T) {
	assert.Equal(t, "app-org-acme-Draw-x86_64-stable", sanitizeTag("app/org.acme.Draw-x86_64-stable"))
}

func TestObjectTagIsDeterministic(t *testing.T) {
	a := objectTag(store.KindCommit, "abc123")
	b := objectTag(store.KindCommit, "abc123")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, objectTag(store.KindDirTree, "abc123"))
}

func TestSideloadResolveRefAndFetchObjectRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "refs", "origin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "refs", "origin", "app-org.acme.Draw-x86_64-stable"), []byte("deadbeef\n"), 0o644))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "objects", "de"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "objects", "de", "adbeef.commit"), []byte(`{"TreeRootHash":"t"}`), 0o644))

	sl := NewSideload(dir, "")
	commit, err := sl.ResolveRef(context.Background(), "origin", "origin/app-org.acme.Draw-x86_64-stable")
	require.NoError(t, err)
	assert.Equal(t, store.Hash("deadbeef"), commit)

	rc, err := sl.FetchObject(context.Background(), "origin", store.KindCommit, commit)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Contains(t, string(body), "TreeRootHash")
}

func TestSideloadFetchStaticDeltaAlwaysMisses(t *testing.T) {
	sl := NewSideload(t.TempDir(), "")
	_, ok, err := sl.FetchStaticDelta(context.Background(), "origin", "a", "b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSideloadVerifyFailsWithoutTrustedRoot(t *testing.T) {
	sl := NewSideload(t.TempDir(), "")
	err := sl.Verify([]byte("raw"), []byte("sig"))
	assert.Error(t, err)
}
