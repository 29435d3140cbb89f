package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientID(t *testing.T) {
	assert.Equal(t, DataID("client:root:viewer"), ClientID(RootID, "viewer"))
	assert.Equal(t, DataID("client:gene-1:image(version:\"medium\")"), ClientID("gene-1", `image(version:"medium")`))
	assert.Equal(t, DataID("client:root:artists:2"), ClientID(RootID, "artists", 2))
	assert.True(t, ClientID("x", "y").IsClientID())
	assert.False(t, DataID("artist-1").IsClientID())
}

func TestRecordGet(t *testing.T) {
	r := NewRecord("artist-1", "Artist")
	r.Fields["name"] = "Banksy"
	r.Fields["bio"] = nil

	v, ok := r.Get("name")
	assert.True(t, ok)
	assert.Equal(t, "Banksy", v)

	v, ok = r.Get("bio")
	assert.True(t, ok, "explicit null is present")
	assert.Nil(t, v)

	_, ok = r.Get("birthday")
	assert.False(t, ok)

	v, ok = r.Get(TypenameKey)
	assert.True(t, ok)
	assert.Equal(t, "Artist", v)
}

func TestRecordClone(t *testing.T) {
	r := NewRecord("artist-1", "Artist")
	r.Fields["artworks"] = RefList{"a-1", "a-2"}
	r.Fields["tags"] = []any{"street", "stencil"}

	c := r.Clone()
	c.Fields["artworks"].(RefList)[0] = "changed"
	c.Fields["tags"].([]any)[0] = "changed"

	assert.Equal(t, RefList{"a-1", "a-2"}, r.Fields["artworks"])
	assert.Equal(t, []any{"street", "stencil"}, r.Fields["tags"])
}

func TestMissing(t *testing.T) {
	assert.True(t, IsMissing(Missing))
	assert.False(t, IsMissing(nil))
	assert.Equal(t, "<missing>", Missing.(interface{ String() string }).String())
}

func TestPatchSetUnset(t *testing.T) {
	p := Patch{}
	p.SetField("x", "isFollowed", true)
	p.UnsetField("x", "isFollowed")
	require.Contains(t, p, DataID("x"))
	assert.NotContains(t, p["x"].Set, "isFollowed")
	assert.Equal(t, []string{"isFollowed"}, p["x"].Unset)

	p.SetField("x", "isFollowed", false)
	assert.Empty(t, p["x"].Unset)
	assert.Equal(t, false, p["x"].Set["isFollowed"])

	p.SetField("a", "name", "A")
	assert.Equal(t, []DataID{"a", "x"}, p.IDs())
}

func TestRecordCBORRoundTrip(t *testing.T) {
	r := NewRecord("client:root", "Query")
	r.Fields["viewer"] = Ref{ID: "user-1"}
	r.Fields["artists(first:2)"] = RefList{"artist-1", ""}
	r.Fields["count"] = float64(3)
	r.Fields["enabled"] = false
	r.Fields["nothing"] = nil
	r.Fields["tags"] = []any{"a", "b"}
	r.Fields["meta"] = map[string]any{"k": "v"}

	data, err := CborMarshaler{}.Marshal(r)
	require.NoError(t, err)

	var decoded Record
	require.NoError(t, CborUnmarshaler{}.Unmarshal(data, &decoded))
	assert.Equal(t, r, &decoded)
}
