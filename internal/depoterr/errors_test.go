package depoterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	e1 := New(CodeNotInstalled, "app/org.acme.Draw/x86_64/stable is not installed")
	e2 := New(CodeNotInstalled, "runtime/org.acme.Platform/x86_64/24.08 is not installed")

	assert.True(t, errors.Is(e1, e2))
	assert.False(t, errors.Is(e1, AlreadyInstalled))
}

func TestErrorWrapsCause(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := New(CodeNetworkError, "pull failed").WithCause(cause)

	require.ErrorIs(t, err, err)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestIsAborted(t *testing.T) {
	wrapped := fmt.Errorf("run: %w", Aborted)
	assert.True(t, IsAborted(wrapped))
	assert.False(t, IsAborted(fmt.Errorf("boom")))
	assert.False(t, IsAborted(nil))
}

func TestCategoryForMapping(t *testing.T) {
	assert.Equal(t, CategoryTrust, New(CodeGpgUntrusted, "x").Category)
	assert.Equal(t, CategoryDependency, New(CodeDependencyCycle, "x").Category)
	assert.Equal(t, CategoryResolve, New(CodeAmbiguousRef, "x").Category)
}
