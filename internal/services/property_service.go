// Package services – PropertyService
//
// This file implements the candidate-query half of the pipeline plus the
// public property search surface. FindCandidates composes the catalog query
// from resolved entity IDs; BuildUnits denormalizes the resulting rows into
// the flat shape the recommendation stage ranks. A property whose reference
// lookup fails is skipped, never fatal to the batch.
package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/nileproptech/go-brokerage-backend/internal/domain"
	"github.com/nileproptech/go-brokerage-backend/internal/repo"
)

// PropertyService wraps catalog queries for handlers and the orchestrator.
type PropertyService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// NewPropertyService constructs a PropertyService.
func NewPropertyService(db *gorm.DB) *PropertyService {
	return &PropertyService{DB: db}
}

// FindCandidates returns active properties matching any of the resolved ID
// sets, paginated. All-empty criteria is a browse: every active property,
// still paginated.
func (s *PropertyService) FindCandidates(ctx context.Context, criteria repo.PropertyCriteria, page, pageSize int) ([]domain.Property, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize
	return repo.FindPropertiesByCriteria(ctx, s.DB, criteria, offset, pageSize)
}

// Get fetches a single property by ID.
func (s *PropertyService) Get(ctx context.Context, id string) (*domain.Property, error) {
	p, err := repo.GetProperty(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPropertyNotFound
		}
		return nil, err
	}
	return p, nil
}

// Related returns up to limit active properties sharing a developer or
// location with the given property, excluding it.
func (s *PropertyService) Related(ctx context.Context, anchor *domain.Property, limit int) ([]domain.Property, error) {
	if limit <= 0 {
		limit = 3
	}
	return repo.RelatedProperties(ctx, s.DB, anchor, limit)
}

// BuildUnits flattens properties into ResidentialUnits by resolving their
// location and developer IDs to display names. A property whose lookups
// fail is logged and skipped; the rest of the batch is unaffected.
func (s *PropertyService) BuildUnits(ctx context.Context, props []domain.Property) []domain.ResidentialUnit {
	units := make([]domain.ResidentialUnit, 0, len(props))
	for _, p := range props {
		locNames, err := repo.LocationNames(ctx, s.DB, p.LocationIDs)
		if err != nil {
			log.Warn().Err(err).Str("property_id", p.ID).Msg("location lookup failed, property skipped")
			continue
		}
		devNames, err := repo.DeveloperNames(ctx, s.DB, p.DeveloperIDs)
		if err != nil {
			log.Warn().Err(err).Str("property_id", p.ID).Msg("developer lookup failed, property skipped")
			continue
		}
		units = append(units, domain.ResidentialUnit{
			ID:                   p.ID,
			Location:             strings.Join(locNames, ", "),
			Developer:            strings.Join(devNames, ", "),
			Price:                p.Price,
			Bedrooms:             p.Bedrooms,
			Bathrooms:            p.Bathrooms,
			Amenities:            p.Amenities,
			DistanceToCityCenter: p.DistanceToCityCenter,
		})
	}
	return units
}
