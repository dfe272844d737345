package bundle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terassyi/depot/internal/store"
)

func writeSampleBundle(t *testing.T) string {
	t.Helper()
	fileBody := []byte("hello bundle")
	fileHash := store.HashBytes(fileBody)

	tree := store.DirTree{Entries: []store.DirTreeEntry{{Name: "greeting.txt", ContentHash: fileHash}}}
	treeBody, err := json.Marshal(tree)
	require.NoError(t, err)
	treeHash := store.HashBytes(treeBody)

	meta := store.DirMeta{Mode: 0o755}
	metaBody, err := json.Marshal(meta)
	require.NoError(t, err)
	metaHash := store.HashBytes(metaBody)

	commit := store.Commit{TreeRootHash: treeHash, MetaHash: metaHash, Subject: "bundled"}
	commitBody, err := json.Marshal(commit)
	require.NoError(t, err)

	d := doc{
		Ref:      "app/org.acme.Draw/x86_64/stable",
		Metadata: map[string]string{"origin": "bundle"},
		Commit:   objectEntry{Kind: store.KindCommit, Hash: "commit", Body: commitBody},
		Objects: []objectEntry{
			{Kind: store.KindFile, Hash: string(fileHash), Body: fileBody},
			{Kind: store.KindDirTree, Hash: string(treeHash), Body: treeBody},
			{Kind: store.KindDirMeta, Hash: string(metaHash), Body: metaBody},
		},
	}
	raw, err := json.Marshal(d)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "app.flatpak")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func TestOpenParsesRefAndMetadata(t *testing.T) {
	path := writeSampleBundle(t)
	b, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "org.acme.Draw", b.Ref.ID())
	assert.Equal(t, "bundle", b.Metadata["origin"])
}

func TestApplyToWritesObjectsAndCommit(t *testing.T) {
	path := writeSampleBundle(t)
	b, err := Open(path)
	require.NoError(t, err)

	s := store.Open(t.TempDir())
	commitHash, err := b.ApplyTo(s)
	require.NoError(t, err)
	assert.NotEmpty(t, commitHash)

	c, _, err := s.LoadCommit(commitHash)
	require.NoError(t, err)
	assert.Equal(t, "bundled", c.Subject)
}

func TestVerifyFailsWithoutSignature(t *testing.T) {
	path := writeSampleBundle(t)
	b, err := Open(path)
	require.NoError(t, err)
	err = b.Verify(filepath.Join(t.TempDir(), "trusted-root.json"), nil)
	require.Error(t, err)
}

func TestOpenRejectsInvalidRef(t *testing.T) {
	raw, err := json.Marshal(doc{Ref: "not a valid ref"})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "bad.flatpak")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = Open(path)
	require.Error(t, err)
}
