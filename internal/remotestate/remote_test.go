package remotestate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terassyi/depot/internal/ref"
)

type fakeSource struct {
	raw     []byte
	sig     []byte
	summary map[string]RefMeta
	sparse  map[string]SparseEntry
	err     error
}

func (f *fakeSource) FetchSummary(ctx context.Context, remote Remote) ([]byte, []byte, error) {
	return f.raw, f.sig, f.err
}

func (f *fakeSource) ParseSummary(raw []byte) (map[string]RefMeta, map[string]SparseEntry, error) {
	return f.summary, f.sparse, nil
}

func TestBuildWithoutGPGVerifySkipsTrustCheck(t *testing.T) {
	r, err := ref.New(ref.KindApp, "org.acme.Draw", "x86_64", "stable")
	require.NoError(t, err)

	src := &fakeSource{
		raw: []byte("summary"),
		summary: map[string]RefMeta{
			r.Format(): {DownloadSize: 100},
		},
		sparse: map[string]SparseEntry{},
	}

	state, err := Build(context.Background(), Remote{Name: "origin", GPGVerify: false}, src, nil, nil)
	require.NoError(t, err)

	meta, ok := state.RefMetaFor(r)
	require.True(t, ok)
	assert.Equal(t, int64(100), meta.DownloadSize)
	assert.False(t, state.HasRef(ref.Ref{}))
}

func TestBuildPropagatesFetchError(t *testing.T) {
	src := &fakeSource{err: assertError{}}
	_, err := Build(context.Background(), Remote{Name: "origin"}, src, nil, nil)
	assert.Error(t, err)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
