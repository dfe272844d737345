package config

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terassyi/depot/internal/depoterr"
)

func TestSetLanguagesAcceptsStarAndSpecialTokens(t *testing.T) {
	c := &Config{}
	require.NoError(t, c.Set(KeyLanguages, "*"))
	assert.True(t, c.AllLanguages())

	require.NoError(t, c.Set(KeyLanguages, "en;fr;C;POSIX"))
	assert.False(t, c.AllLanguages())
	assert.Equal(t, []string{"en", "fr", "C", "POSIX"}, c.Languages)
}

func TestSetLanguagesRejectsInvalidCode(t *testing.T) {
	c := &Config{}
	err := c.Set(KeyLanguages, "EN_US")
	require.Error(t, err)
	assert.True(t, errors.Is(err, depoterr.InvalidConfigValue))
}

func TestSetExtraLanguagesAcceptsLocaleForms(t *testing.T) {
	c := &Config{}
	require.NoError(t, c.Set(KeyExtraLanguages, "en_US.UTF-8;fr_FR@euro;de"))
	assert.Equal(t, []string{"en_US.UTF-8", "fr_FR@euro", "de"}, c.ExtraLanguages)
}

func TestSetExtraLanguagesRejectsMalformedLocale(t *testing.T) {
	c := &Config{}
	err := c.Set(KeyExtraLanguages, "not a locale!")
	require.Error(t, err)
	assert.True(t, errors.Is(err, depoterr.InvalidConfigValue))
}

func TestSetUnknownKeyFails(t *testing.T) {
	c := &Config{}
	err := c.Set("nonsense", "value")
	require.Error(t, err)
	assert.True(t, errors.Is(err, depoterr.InvalidConfigValue))
}

func TestSaveAndLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	c := &Config{path: path}
	require.NoError(t, c.Set(KeyLanguages, "en;fr"))
	require.NoError(t, c.Set(KeyExtraLanguages, "en_US.UTF-8"))
	require.NoError(t, c.Save())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"en", "fr"}, loaded.Languages)
	assert.Equal(t, []string{"en_US.UTF-8"}, loaded.ExtraLanguages)
}

func TestLoadMissingFileReturnsEmptyConfig(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, c.Languages)
	assert.False(t, c.AllLanguages())
}

func TestUnsetClearsValue(t *testing.T) {
	c := &Config{}
	require.NoError(t, c.Set(KeyLanguages, "en"))
	require.NoError(t, c.Unset(KeyLanguages))
	v, err := c.Get(KeyLanguages)
	require.NoError(t, err)
	assert.Equal(t, "", v)
}
