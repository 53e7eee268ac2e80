package patch

import (
	"testing"

	"github.com/kong/retcon/pkg/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalDedupesLaterInsertWins(t *testing.T) {
	p := Patch{
		Insert(document.Path{"name"}, "Alice"),
		Delete(document.Path{"name"}),
		Insert(document.Path{"name"}, "Bob"),
	}
	c := Canonical(p)
	require.Len(t, c, 1)
	assert.Equal(t, Insert(document.Path{"name"}, "Bob"), c[0])
}

func TestCanonicalDeleteSupersedesEarlierInsert(t *testing.T) {
	p := Patch{
		Insert(document.Path{"name"}, "Alice"),
		Delete(document.Path{"name"}),
	}
	c := Canonical(p)
	require.Len(t, c, 1)
	assert.Equal(t, KindDelete, c[0].Kind)
}

func TestCanonicalIsIdempotent(t *testing.T) {
	p := Patch{
		Insert(document.Path{"b"}, "2"),
		Insert(document.Path{"a"}, "1"),
		Delete(document.Path{"c"}),
	}
	once := Canonical(p)
	twice := Canonical(once)
	assert.Equal(t, once, twice)
}

func TestCanonicalSortsByPath(t *testing.T) {
	p := Patch{
		Insert(document.Path{"b"}, "2"),
		Insert(document.Path{"a"}, "1"),
	}
	c := Canonical(p)
	require.Len(t, c, 2)
	assert.Equal(t, document.Path{"a"}, c[0].Path)
	assert.Equal(t, document.Path{"b"}, c[1].Path)
}

func TestApplyInsertAndDelete(t *testing.T) {
	d := document.Empty()
	p := Patch{Insert(document.Path{"name"}, "Alice")}
	d = Apply(d, p)
	v, ok := d.Get(document.Path{"name"})
	require.True(t, ok)
	assert.Equal(t, "Alice", v)

	d = Apply(d, Patch{Delete(document.Path{"name"})})
	_, ok = d.Get(document.Path{"name"})
	assert.False(t, ok)
}

func TestApplyDeleteOnNonexistentPathIsNoop(t *testing.T) {
	d := document.Empty().Set(document.Path{"name"}, "Alice")
	d2 := Apply(d, Patch{Delete(document.Path{"missing"})})
	assert.True(t, d.Equal(d2))
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, Patch{}.IsEmpty())
	assert.True(t, Patch{
		Insert(document.Path{"a"}, "1"),
		Delete(document.Path{"a"}),
		Insert(document.Path{"a"}, "1"),
	}.IsEmpty() == false) // canonicalizes to one Insert, not empty
}
