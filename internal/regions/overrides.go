package regions

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/blitzquote/rate-engine/internal/gazetteer"
)

// Overrides is the manually curated exception table for carriers whose
// region structure cannot be probed reliably: units to skip outright and
// carriers with fixed, known region groups.
type Overrides struct {
	Skip   []UnitRef       `yaml:"skip"`
	Groups []GroupOverride `yaml:"groups"`
}

// UnitRef names one (state, carrier) build unit.
type UnitRef struct {
	State string `yaml:"state"`
	NAIC  string `yaml:"naic"`
}

// GroupOverride pins a carrier's county regions in a state. When
// ProbeRemaining is set, counties not covered by the fixed groups are
// probed and collected into one extra region.
type GroupOverride struct {
	State          string     `yaml:"state"`
	NAICs          []string   `yaml:"naics"`
	Regions        [][]string `yaml:"regions"`
	ProbeRemaining bool       `yaml:"probe_remaining"`
}

// LoadOverrides reads the override table from a YAML file. A missing path
// returns an empty table.
func LoadOverrides(path string) (*Overrides, error) {
	if path == "" {
		return &Overrides{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Overrides{}, nil
		}
		return nil, eris.Wrapf(err, "regions: read overrides %s", path)
	}

	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, eris.Wrapf(err, "regions: parse overrides %s", path)
	}
	o.normalize()
	return &o, nil
}

// ParseOverrides parses an override table from YAML bytes.
func ParseOverrides(data []byte) (*Overrides, error) {
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, eris.Wrap(err, "regions: parse overrides")
	}
	o.normalize()
	return &o, nil
}

func (o *Overrides) normalize() {
	for i, g := range o.Groups {
		for j, region := range g.Regions {
			for k, county := range region {
				o.Groups[i].Regions[j][k] = gazetteer.NormalizeCounty(county)
			}
		}
	}
}

// Skipped reports whether a build unit is excluded by the override table.
func (o *Overrides) Skipped(state, naic string) bool {
	for _, ref := range o.Skip {
		if ref.State == state && ref.NAIC == naic {
			return true
		}
	}
	return false
}

// GroupsFor returns the fixed region groups for a unit, or nil when the
// unit has no override.
func (o *Overrides) GroupsFor(state, naic string) *GroupOverride {
	for i := range o.Groups {
		g := &o.Groups[i]
		if g.State != state {
			continue
		}
		for _, n := range g.NAICs {
			if n == naic {
				return g
			}
		}
	}
	return nil
}
