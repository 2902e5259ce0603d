// Package gazetteer loads the ZIP-to-county reference table and answers the
// geographic lookups discovery depends on: which counties a ZIP belongs to,
// which ZIPs make up a county, and which ZIPs make up a state.
package gazetteer

import (
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
)

// Gazetteer is an in-memory index over the ZIP/county/state reference file.
// A ZIP can span multiple counties; a county spans many ZIPs.
type Gazetteer struct {
	zipCounties map[string][]string            // zip -> counties
	zipState    map[string]string              // zip -> state
	countyZips  map[string]map[string][]string // state -> county -> zips
	stateZips   map[string][]string            // state -> zips
}

// Load reads a gazetteer CSV with header zip,state,county. One row per
// (zip, county) pair. Census gazetteer exports are Latin-1 encoded, so the
// reader decodes through ISO 8859-1 before parsing.
func Load(path string) (*Gazetteer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "gazetteer: open file")
	}
	defer f.Close() //nolint:errcheck

	g, err := Parse(charmap.ISO8859_1.NewDecoder().Reader(f))
	if err != nil {
		return nil, eris.Wrapf(err, "gazetteer: parse %s", path)
	}

	zap.L().Info("gazetteer loaded",
		zap.String("path", path),
		zap.Int("zips", len(g.zipState)),
		zap.Int("states", len(g.stateZips)),
	)
	return g, nil
}

// Parse builds a Gazetteer from CSV rows of zip,state,county.
func Parse(r io.Reader) (*Gazetteer, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3

	g := &Gazetteer{
		zipCounties: make(map[string][]string),
		zipState:    make(map[string]string),
		countyZips:  make(map[string]map[string][]string),
		stateZips:   make(map[string][]string),
	}

	header := true
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "read csv record")
		}
		if header {
			header = false
			if strings.EqualFold(rec[0], "zip") {
				continue
			}
		}

		zip := PadZip(rec[0])
		state := strings.ToUpper(strings.TrimSpace(rec[1]))
		county := NormalizeCounty(rec[2])
		if zip == "" || state == "" || county == "" {
			continue
		}

		if !contains(g.zipCounties[zip], county) {
			g.zipCounties[zip] = append(g.zipCounties[zip], county)
		}
		if _, ok := g.zipState[zip]; !ok {
			g.zipState[zip] = state
			g.stateZips[state] = append(g.stateZips[state], zip)
		}

		byCounty := g.countyZips[state]
		if byCounty == nil {
			byCounty = make(map[string][]string)
			g.countyZips[state] = byCounty
		}
		if !contains(byCounty[county], zip) {
			byCounty[county] = append(byCounty[county], zip)
		}
	}

	if len(g.zipState) == 0 {
		return nil, eris.New("no gazetteer rows parsed")
	}
	return g, nil
}

// CountiesForZip returns the counties a ZIP belongs to, or nil if unknown.
func (g *Gazetteer) CountiesForZip(zip string) []string {
	return g.zipCounties[PadZip(zip)]
}

// StateForZip returns the state a ZIP belongs to, or "" if unknown.
func (g *Gazetteer) StateForZip(zip string) string {
	return g.zipState[PadZip(zip)]
}

// ZipsForCounty returns all ZIPs in a state's county.
func (g *Gazetteer) ZipsForCounty(state, county string) []string {
	byCounty := g.countyZips[strings.ToUpper(state)]
	if byCounty == nil {
		return nil
	}
	return byCounty[NormalizeCounty(county)]
}

// ZipsForState returns all ZIPs in a state, sorted.
func (g *Gazetteer) ZipsForState(state string) []string {
	zips := g.stateZips[strings.ToUpper(state)]
	out := make([]string, len(zips))
	copy(out, zips)
	sort.Strings(out)
	return out
}

// CountiesForState returns all counties in a state, sorted.
func (g *Gazetteer) CountiesForState(state string) []string {
	byCounty := g.countyZips[strings.ToUpper(state)]
	counties := make([]string, 0, len(byCounty))
	for c := range byCounty {
		counties = append(counties, c)
	}
	sort.Strings(counties)
	return counties
}

// RepresentativeZip returns one ZIP for a county, preferring a ZIP that lies
// in no other county so a probe response is unambiguous.
func (g *Gazetteer) RepresentativeZip(state, county string) string {
	zips := g.ZipsForCounty(state, county)
	for _, z := range zips {
		if len(g.zipCounties[z]) == 1 {
			return z
		}
	}
	if len(zips) > 0 {
		return zips[0]
	}
	return ""
}

// PadZip left-pads a ZIP to five digits. Leading zeros are lost by
// spreadsheet round trips, so "501" means "00501".
func PadZip(zip string) string {
	zip = strings.TrimSpace(zip)
	if zip == "" {
		return ""
	}
	for len(zip) < 5 {
		zip = "0" + zip
	}
	return zip
}

// NormalizeCounty uppercases a county name and canonicalizes saint prefixes.
// Quote sources spell these "ST." and "STE." while gazetteer data spells
// them out.
func NormalizeCounty(county string) string {
	c := strings.ToUpper(strings.TrimSpace(county))
	c = strings.TrimSuffix(c, " COUNTY")
	c = strings.ReplaceAll(c, "SAINTE", "STE.")
	c = strings.ReplaceAll(c, "SAINT ", "ST. ")
	if strings.HasPrefix(c, "ST ") {
		c = "ST. " + strings.TrimPrefix(c, "ST ")
	}
	return c
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
