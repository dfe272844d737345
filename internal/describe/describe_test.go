package describe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `[Flatpak Ref]
Name=org.acme.Draw
Branch=stable
Url=https://example.com/repo
IsRuntime=false
RuntimeRepo=https://example.com/runtimes-1.2.0
# a comment
`

func TestParseSample(t *testing.T) {
	d, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "org.acme.Draw", d.Name)
	assert.Equal(t, "stable", d.Branch)
	assert.Equal(t, "https://example.com/repo", d.Url)
	assert.False(t, d.IsRuntime)
	assert.Equal(t, "https://example.com/runtimes-1.2.0", d.RuntimeRepo)
}

func TestParseMissingRequiredKeyFails(t *testing.T) {
	_, err := Parse([]byte("Name=org.acme.Draw\n"))
	require.Error(t, err)
}

func TestParseMalformedLineFails(t *testing.T) {
	_, err := Parse([]byte("Name=org.acme.Draw\nnotakeyvalue\n"))
	require.Error(t, err)
}

func TestNewerRuntimeRepoVersion(t *testing.T) {
	newer, err := NewerRuntimeRepoVersion("https://example.com/runtimes-1.2.0", "https://example.com/runtimes-1.3.0")
	require.NoError(t, err)
	assert.True(t, newer)

	newer, err = NewerRuntimeRepoVersion("https://example.com/runtimes-1.2.0", "https://example.com/runtimes-1.1.0")
	require.NoError(t, err)
	assert.False(t, newer)
}
