package regions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const overridesYAML = `
skip:
  - state: WY
    naic: "79413"

groups:
  - state: LA
    naics: ["73288", "60984"]
    regions:
      - [Orleans, Jefferson]
      - [Saint Tammany, Saint Bernard]
    probe_remaining: true
`

func TestParseOverrides(t *testing.T) {
	o, err := ParseOverrides([]byte(overridesYAML))
	require.NoError(t, err)

	assert.True(t, o.Skipped("WY", "79413"))
	assert.False(t, o.Skipped("WY", "12345"))
	assert.False(t, o.Skipped("TX", "79413"))

	g := o.GroupsFor("LA", "73288")
	require.NotNil(t, g)
	assert.True(t, g.ProbeRemaining)
	require.Len(t, g.Regions, 2)
	// County names are normalized on load.
	assert.Equal(t, []string{"ORLEANS", "JEFFERSON"}, g.Regions[0])
	assert.Equal(t, []string{"ST. TAMMANY", "ST. BERNARD"}, g.Regions[1])

	// Every listed NAIC resolves to the same group.
	assert.Same(t, g, o.GroupsFor("LA", "60984"))
	assert.Nil(t, o.GroupsFor("LA", "99999"))
	assert.Nil(t, o.GroupsFor("TX", "73288"))
}

func TestParseOverrides_Invalid(t *testing.T) {
	_, err := ParseOverrides([]byte("skip: [not a mapping"))
	require.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte(overridesYAML), 0o644))

	o, err := LoadOverrides(path)
	require.NoError(t, err)
	assert.True(t, o.Skipped("WY", "79413"))
}

func TestLoadOverrides_MissingFileIsEmpty(t *testing.T) {
	o, err := LoadOverrides(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.False(t, o.Skipped("WY", "79413"))

	o, err = LoadOverrides("")
	require.NoError(t, err)
	assert.Empty(t, o.Groups)
}
