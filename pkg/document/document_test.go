package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetUnset(t *testing.T) {
	d := Empty()
	d = d.Set(Path{"name"}, "Alice")
	d = d.Set(Path{"address", "city"}, "Berlin")

	v, ok := d.Get(Path{"name"})
	require.True(t, ok)
	assert.Equal(t, "Alice", v)

	v, ok = d.Get(Path{"address", "city"})
	require.True(t, ok)
	assert.Equal(t, "Berlin", v)

	_, ok = d.Get(Path{"address", "zip"})
	assert.False(t, ok)

	d = d.Unset(Path{"address", "city"})
	_, ok = d.Get(Path{"address", "city"})
	assert.False(t, ok)

	// pruned: "address" had no other children, so it must be gone too.
	paths := d.Paths()
	for _, pv := range paths {
		assert.NotEqual(t, Path{"address"}, pv.Path[:1])
	}
}

func TestUnsetNonexistentIsNoop(t *testing.T) {
	d := Empty().Set(Path{"name"}, "Alice")
	d2 := d.Unset(Path{"missing", "path"})
	assert.True(t, d.Equal(d2))
}

func TestOverlayRightBiased(t *testing.T) {
	a := Empty().Set(Path{"name"}, "Alice").Set(Path{"age"}, "30")
	b := Empty().Set(Path{"name"}, "Alicia")

	merged := Overlay(a, b)
	v, _ := merged.Get(Path{"name"})
	assert.Equal(t, "Alicia", v)
	v, _ = merged.Get(Path{"age"})
	assert.Equal(t, "30", v)
}

func TestOverlayIdentity(t *testing.T) {
	a := Empty().Set(Path{"name"}, "Alice")
	assert.True(t, Overlay(Empty(), a).Equal(a))
	assert.True(t, Overlay(a, Empty()).Equal(a))
}

func TestPathsLexicalOrder(t *testing.T) {
	d := Empty().Set(Path{"b"}, "2").Set(Path{"a"}, "1").Set(Path{"a", "c"}, "1.1")
	paths := d.Paths()
	require.Len(t, paths, 3)
	assert.Equal(t, Path{"a"}, paths[0].Path)
	assert.Equal(t, Path{"a", "c"}, paths[1].Path)
	assert.Equal(t, Path{"b"}, paths[2].Path)
}

func TestFromJSONRejectsArrays(t *testing.T) {
	_, err := FromJSON([]byte(`{"tags": ["a", "b"]}`))
	require.Error(t, err)
}

func TestFromJSONBooleansAndNull(t *testing.T) {
	d, err := FromJSON([]byte(`{"active": true, "disabled": false, "nickname": null}`))
	require.NoError(t, err)

	v, ok := d.Get(Path{"active"})
	require.True(t, ok)
	assert.Equal(t, "TRUE", v)

	v, ok = d.Get(Path{"disabled"})
	require.True(t, ok)
	assert.Equal(t, "FALSE", v)

	_, ok = d.Get(Path{"nickname"})
	assert.False(t, ok)
}

func TestJSONRoundTrip(t *testing.T) {
	d, err := FromJSON([]byte(`{"name":"Alice","address":{"city":"Berlin"}}`))
	require.NoError(t, err)

	raw, err := d.ToJSON(nil)
	require.NoError(t, err)

	d2, err := FromJSON(raw)
	require.NoError(t, err)
	assert.True(t, d.Equal(d2))
}

func TestToJSONLossyWarnsOnScalarAndChildren(t *testing.T) {
	d := Empty().Set(nil, "root-scalar").Set(Path{"child"}, "leaf")

	var warned []Path
	raw, err := d.ToJSON(func(p Path) { warned = append(warned, p) })
	require.NoError(t, err)
	require.Len(t, warned, 1)
	assert.Equal(t, Root(), warned[0])
	assert.Contains(t, string(raw), "leaf")
}

func TestEqualAndEmpty(t *testing.T) {
	assert.True(t, Empty().Equal(Empty()))
	assert.True(t, (*Document)(nil).Equal(Empty()))
	d := Empty().Set(Path{"a"}, "1")
	assert.False(t, d.Equal(Empty()))
	assert.False(t, d.IsEmpty())
}
