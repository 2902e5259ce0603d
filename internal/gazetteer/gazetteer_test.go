package gazetteer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `zip,state,county
75001,TX,Dallas
75001,TX,Collin
75002,TX,Collin
00501,NY,Suffolk
63301,MO,Saint Charles County
70032,LA,St Bernard
`

func loadSample(t *testing.T) *Gazetteer {
	t.Helper()
	g, err := Parse(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	return g
}

func TestCountiesForZip(t *testing.T) {
	g := loadSample(t)
	assert.ElementsMatch(t, []string{"DALLAS", "COLLIN"}, g.CountiesForZip("75001"))
	assert.Equal(t, []string{"COLLIN"}, g.CountiesForZip("75002"))
	assert.Nil(t, g.CountiesForZip("99999"))
}

func TestPadZip(t *testing.T) {
	g := loadSample(t)
	assert.Equal(t, "NY", g.StateForZip("501"))
	assert.Equal(t, "00501", PadZip("501"))
	assert.Equal(t, "75001", PadZip("75001"))
	assert.Equal(t, "", PadZip("  "))
}

func TestZipsForCounty(t *testing.T) {
	g := loadSample(t)
	assert.ElementsMatch(t, []string{"75001", "75002"}, g.ZipsForCounty("TX", "Collin"))
	assert.Equal(t, []string{"75001"}, g.ZipsForCounty("tx", "DALLAS"))
	assert.Nil(t, g.ZipsForCounty("TX", "NOWHERE"))
}

func TestZipsForState(t *testing.T) {
	g := loadSample(t)
	assert.Equal(t, []string{"75001", "75002"}, g.ZipsForState("TX"))
	assert.Empty(t, g.ZipsForState("AK"))
}

func TestCountiesForState(t *testing.T) {
	g := loadSample(t)
	assert.Equal(t, []string{"COLLIN", "DALLAS"}, g.CountiesForState("TX"))
}

func TestRepresentativeZip_PrefersSingleCountyZip(t *testing.T) {
	g := loadSample(t)
	// 75001 spans Dallas and Collin; 75002 is Collin only.
	assert.Equal(t, "75002", g.RepresentativeZip("TX", "Collin"))
	assert.Equal(t, "75001", g.RepresentativeZip("TX", "Dallas"))
	assert.Equal(t, "", g.RepresentativeZip("TX", "Nowhere"))
}

func TestNormalizeCounty(t *testing.T) {
	assert.Equal(t, "ST. CHARLES", NormalizeCounty("Saint Charles County"))
	assert.Equal(t, "ST. BERNARD", NormalizeCounty("St Bernard"))
	assert.Equal(t, "STE. GENEVIEVE", NormalizeCounty("Sainte Genevieve"))
	assert.Equal(t, "DALLAS", NormalizeCounty(" dallas "))
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse(strings.NewReader("zip,state,county\n"))
	require.Error(t, err)
}
