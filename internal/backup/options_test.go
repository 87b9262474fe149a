package backup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Options
	}{
		{"empty", "", DefaultOptions()},
		{"enable", "bans members", AllOptions()},
		{"disable", "!roles -settings", Options{Channels: true}},
		{"all", "*", AllOptions()},
		{"none", "!*", Options{}},
		{"none then one", "!* +bans", Options{Bans: true}},
		{"case", "!ROLES", Options{Channels: true, Settings: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOptions(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOptionsUnknown(t *testing.T) {
	_, err := ParseOptions("roles emojis")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "emojis")
}

func TestOptionsString(t *testing.T) {
	assert.Equal(t, "roles channels settings !bans !members", DefaultOptions().String())
	assert.False(t, Options{}.Any())
	assert.True(t, Options{Members: true}.Any())
}

func TestTranslator(t *testing.T) {
	tr := NewTranslator()
	tr.Set("10", "a")
	tr.Set("20", "b")
	tr.Set("10", "c")

	id, ok := tr.Get("10")
	assert.True(t, ok)
	assert.Equal(t, "c", id)
	assert.False(t, tr.Has("30"))

	assert.Equal(t, "b", tr.Resolve(ref("20")))
	assert.Empty(t, tr.Resolve(ref("30")))
	assert.Empty(t, tr.Resolve(nil))
}
