// Package store persists rating regions, the temporal rate cache,
// processing records, and carrier metadata behind a backend-neutral
// interface with Postgres and SQLite implementations.
package store

import (
	"context"
	"time"

	"github.com/blitzquote/rate-engine/internal/model"
)

// RateCorrection records a re-fetched rate that differed from the stored
// row. Stored rates are never overwritten; differences are audited here.
type RateCorrection struct {
	RegionID      string    `json:"region_id"`
	NAIC          string    `json:"naic"`
	Gender        string    `json:"gender"`
	Tobacco       bool      `json:"tobacco"`
	Age           int       `json:"age"`
	Plan          string    `json:"plan"`
	EffectiveDate time.Time `json:"effective_date"`
	OldRate       float64   `json:"old_rate"`
	NewRate       float64   `json:"new_rate"`
	OldDiscount   float64   `json:"old_discount"`
	NewDiscount   float64   `json:"new_discount"`
}

// SaveResult summarizes one rate flush.
type SaveResult struct {
	Inserted    int64 `json:"inserted"`
	Corrections int64 `json:"corrections"`
}

// IntegrityReport is the output of the consistency checks.
type IntegrityReport struct {
	Regions          int64                    `json:"regions"`
	Rates            int64                    `json:"rates"`
	EmptyRegions     []string                 `json:"empty_regions,omitempty"`
	DanglingRateRefs int64                    `json:"dangling_rate_refs"`
	OrphanRecords    []model.ProcessingRecord `json:"orphan_records,omitempty"`
}

// Store defines the persistence interface for the rate engine.
type Store interface {
	// Regions
	SaveRegions(ctx context.Context, regions []model.RatingRegion) ([]model.RatingRegion, error)
	RegionsFor(ctx context.Context, state, naic string) ([]model.RatingRegion, error)
	MappingFor(ctx context.Context, state, naic string) (model.MappingKind, error)
	RegionForLocation(ctx context.Context, state, naic, location string) (string, error)

	// Rates
	SaveRates(ctx context.Context, rows []model.RateQuote) (*SaveResult, error)
	RatesAsOf(ctx context.Context, regionID string, asOf time.Time) ([]model.RateQuote, error)
	RateFor(ctx context.Context, regionID, naic string, demo model.Demographic, asOf time.Time) (*model.RateQuote, error)
	CountRates(ctx context.Context, state, naic string, dates []time.Time) (int64, error)
	CopyForward(ctx context.Context, state, naic string, from, to time.Time) (int64, error)
	EffectiveDatesFor(ctx context.Context, state, naic string) ([]time.Time, error)

	// Processing records
	RecordProcessing(ctx context.Context, rec model.ProcessingRecord) error
	IsProcessed(ctx context.Context, state, naic string, requested time.Time) (bool, error)

	// Carriers
	SaveCarriers(ctx context.Context, carriers []model.CarrierInfo) error
	Carriers(ctx context.Context, selectedOnly bool) ([]model.CarrierInfo, error)

	// Integrity
	CheckIntegrity(ctx context.Context) (*IntegrityReport, error)
	RepairOrphans(ctx context.Context) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
