package magnet

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/mover/internal/catalog"
)

var variant = catalog.Variant{
	Hash:    "E6B1B4D5F2C0A2D4B5A6C7D8E9F0A1B2C3D4E5F6",
	Quality: "1080p",
}

func TestBuildDefaultTrackers(t *testing.T) {
	link := New(nil).Build(variant, "Interstellar")

	require.True(t, strings.HasPrefix(link, "magnet:?xt=urn:btih:"+variant.Hash+"&dn="))

	parts := strings.Split(strings.TrimPrefix(link, "magnet:?"), "&")
	require.Len(t, parts, 10)
	assert.Equal(t, "xt=urn:btih:"+variant.Hash, parts[0])
	assert.Equal(t, "dn=Interstellar1080p", parts[1])

	for i, seg := range parts[2:] {
		require.True(t, strings.HasPrefix(seg, "tr="), seg)

		decoded, err := url.QueryUnescape(strings.TrimPrefix(seg, "tr="))
		require.NoError(t, err)
		assert.Equal(t, DefaultTrackers[i], decoded)
	}
}

func TestBuildEncodesDisplayName(t *testing.T) {
	link := New(nil).Build(catalog.Variant{Hash: "abc", Quality: "720p"}, "The Matrix: Reloaded & More")

	assert.Contains(t, link, "&dn=The%20Matrix%3A%20Reloaded%20%26%20More720p&tr=")
	assert.NotContains(t, link, "+")
}

func TestBuildIsDeterministic(t *testing.T) {
	b := New(nil)
	assert.Equal(t, b.Build(variant, "Alien"), b.Build(variant, "Alien"))
}

func TestBuildCustomTrackers(t *testing.T) {
	link := New([]string{"udp://a.example:1/announce", "http://b.example/announce?x=1"}).Build(variant, "Alien")

	assert.True(t, strings.HasSuffix(link,
		"&tr=udp%3A%2F%2Fa.example%3A1%2Fannounce&tr=http%3A%2F%2Fb.example%2Fannounce%3Fx%3D1"))
	assert.Equal(t, 2, strings.Count(link, "&tr="))
}

func TestEscape(t *testing.T) {
	tests := map[string]string{
		"":             "",
		"AZaz09-_.~":   "AZaz09-_.~",
		"a b":          "a%20b",
		"udp://x:1/an": "udp%3A%2F%2Fx%3A1%2Fan",
		"Amélie":       "Am%C3%A9lie",
		"50% off+tax":  "50%25%20off%2Btax",
	}

	for in, want := range tests {
		assert.Equal(t, want, Escape(in), in)
	}
}
