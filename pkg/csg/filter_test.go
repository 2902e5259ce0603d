package csg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterQuotes_DropsSelectPlans(t *testing.T) {
	out := FilterQuotes([]Quote{
		{NAIC: "11111", Age: 65, Plan: "G", Gender: "M", Select: true, Rate: 90},
		{NAIC: "11111", Age: 65, Plan: "G", Gender: "M", Rate: 100},
	})
	require.Len(t, out, 1)
	assert.InDelta(t, 100.0, out[0].Rate, 0.001)
}

func TestFilterQuotes_RatingClasses(t *testing.T) {
	out := FilterQuotes([]Quote{
		{NAIC: "11111", Age: 65, Plan: "G", Gender: "M", RatingClass: ""},
		{NAIC: "22222", Age: 65, Plan: "G", Gender: "M", RatingClass: "Standard"},
		{NAIC: "33333", Age: 65, Plan: "G", Gender: "M", RatingClass: "Preferred"},
		{NAIC: "44444", Age: 65, Plan: "G", Gender: "M", RatingClass: "Value"},
	})
	naics := make([]string, len(out))
	for i, q := range out {
		naics[i] = q.NAIC
	}
	assert.ElementsMatch(t, []string{"11111", "22222", "44444"}, naics)
}

func TestFilterQuotes_AetnaHealthException(t *testing.T) {
	out := FilterQuotes([]Quote{
		{NAIC: aetnaHealthNAIC, Age: 65, Plan: "G", Gender: "M", RatingClass: "Standard I"},
		{NAIC: aetnaHealthNAIC, Age: 65, Plan: "G", Gender: "F", RatingClass: "Standard I Household"},
		{NAIC: aetnaHealthNAIC, Age: 65, Plan: "G", Gender: "F", RatingClass: "Preferred"},
	})
	require.Len(t, out, 1)
	assert.Equal(t, "Standard I", out[0].RatingClass)
}

func TestFilterQuotes_DedupKeepsHigherRate(t *testing.T) {
	out := FilterQuotes([]Quote{
		{NAIC: "11111", Age: 65, Plan: "G", Gender: "M", Rate: 98.50},
		{NAIC: "11111", Age: 65, Plan: "G", Gender: "M", Rate: 101.25},
		{NAIC: "11111", Age: 66, Plan: "G", Gender: "M", Rate: 95.00},
	})
	require.Len(t, out, 2)
	assert.InDelta(t, 101.25, out[0].Rate, 0.001)
	assert.InDelta(t, 95.00, out[1].Rate, 0.001)
}

func TestLocations_CountyBased(t *testing.T) {
	q := Quote{Counties: []string{"DALLAS", "COLLIN"}}
	locs, byZip := q.Locations()
	assert.False(t, byZip)
	assert.Equal(t, []string{"DALLAS", "COLLIN"}, locs)
}
