package ref

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndFormatRoundTrip(t *testing.T) {
	r, err := Parse("app/org.acme.Draw/x86_64/stable")
	require.NoError(t, err)
	assert.Equal(t, KindApp, r.Kind())
	assert.Equal(t, "org.acme.Draw", r.ID())
	assert.Equal(t, "x86_64", r.Arch())
	assert.Equal(t, "stable", r.Branch())
	assert.Equal(t, "app/org.acme.Draw/x86_64/stable", r.Format())
}

func TestParseRejectsInvalidComponents(t *testing.T) {
	_, err := Parse("app//x86_64/stable")
	assert.Error(t, err)

	_, err = Parse("widget/org.acme.Draw/x86_64/stable")
	assert.Error(t, err)

	_, err = Parse("app/org.acme.Draw/x86_64")
	assert.Error(t, err)
}

func TestEqualsComparesTupleNotString(t *testing.T) {
	a, err := New(KindApp, "org.acme.Draw", "x86_64", "stable")
	require.NoError(t, err)
	b, err := NewWithCollection(KindApp, "org.acme.Draw", "x86_64", "stable", "org.acme.Collection")
	require.NoError(t, err)

	assert.True(t, a.Equals(b))
	assert.NotEqual(t, a.CollectionID(), b.CollectionID())
}

func TestCompareOrdersByTuple(t *testing.T) {
	runtime, _ := New(KindRuntime, "org.acme.Platform", "x86_64", "24.08")
	app, _ := New(KindApp, "org.acme.Draw", "x86_64", "stable")
	assert.True(t, Less(app, runtime))
}

func TestParsePartialFanOut(t *testing.T) {
	p, err := ParsePartial("app/org.acme.Draw")
	require.NoError(t, err)
	assert.False(t, p.IsExact())

	match, err := New(KindApp, "org.acme.Draw", "x86_64", "stable")
	require.NoError(t, err)
	assert.True(t, p.Matches(match))

	noMatch, err := New(KindApp, "org.acme.Other", "x86_64", "stable")
	require.NoError(t, err)
	assert.False(t, p.Matches(noMatch))
}
