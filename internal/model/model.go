// Package model defines the domain types shared across the rate engine:
// rating regions, demographic tuples, rate rows, and processing records.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// MappingKind says whether a carrier partitions a jurisdiction by ZIP code
// or by county. It is discovered from the first non-empty quote response.
type MappingKind string

const (
	MappingByZip    MappingKind = "by-zip"
	MappingByCounty MappingKind = "by-county"
)

// RatingRegion is a set of locations (ZIPs or counties) that one carrier
// prices identically within one jurisdiction. Regions are immutable once
// saved; reruns that rediscover the same location set collapse onto the
// existing row via Hash.
type RatingRegion struct {
	ID        string      `json:"id"`
	NAIC      string      `json:"naic"`
	State     string      `json:"state"`
	Kind      MappingKind `json:"kind"`
	Locations []string    `json:"locations"`
	Hash      string      `json:"hash"`
	CreatedAt time.Time   `json:"created_at,omitempty"`
}

// RegionHash returns the content hash of a location set: sha256 over the
// sorted, newline-joined locations, truncated to 16 hex chars. Equal sets
// always hash equal regardless of discovery order.
func RegionHash(locations []string) string {
	sorted := make([]string, len(locations))
	copy(sorted, locations)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])[:16]
}

// Demographic is the pricing dimension other than location and date.
type Demographic struct {
	Age     int    `json:"age"`
	Gender  string `json:"gender"` // "M" or "F"
	Tobacco bool   `json:"tobacco"`
	Plan    string `json:"plan"`
}

// RateQuote is one priced point in the temporal cache. EffectiveDate is
// always the date the source asserted, never the date requested.
type RateQuote struct {
	RegionID      string      `json:"region_id"`
	NAIC          string      `json:"naic"`
	State         string      `json:"state"`
	Demographic   Demographic `json:"demographic"`
	Rate          float64     `json:"rate"`
	DiscountRate  float64     `json:"discount_rate"`
	EffectiveDate time.Time   `json:"effective_date"`
}

// ProcessingRecord tracks one (carrier, jurisdiction, requested date) build
// unit. SourceDates are the effective dates the source actually returned,
// which drive orphan detection: a success record with no matching rate rows
// for its source dates is treated as unprocessed.
type ProcessingRecord struct {
	State         string      `json:"state"`
	NAIC          string      `json:"naic"`
	RequestedDate time.Time   `json:"requested_date"`
	SourceDates   []time.Time `json:"source_dates,omitempty"`
	Success       bool        `json:"success"`
	ProcessedAt   time.Time   `json:"processed_at"`
}

// CarrierInfo is reference metadata for a carrier, keyed by NAIC code.
type CarrierInfo struct {
	NAIC        string `json:"naic"`
	CompanyName string `json:"company_name"`
	Category    int    `json:"category"`
	Selected    bool   `json:"selected"`
}
