// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the property
// catalog (Property, Location, Developer, Project).
//
// Property rows keep their location and developer references as JSON ID
// arrays, so membership filters go through SQLite's json_each table-valued
// function rather than a join table. Each filter is additive OR: a property
// qualifies when ANY supplied ID set matches it, and empty sets contribute
// no clause at all.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/nileproptech/go-brokerage-backend/internal/domain"
)

// PropertyCriteria carries the resolved entity IDs a candidate search may
// filter on. Empty slices are ignored; all-empty criteria matches every
// active property.
type PropertyCriteria struct {
	LocationIDs  []string
	DeveloperIDs []string
	ProjectIDs   []string
}

// Empty reports whether no filter set was supplied.
func (c PropertyCriteria) Empty() bool {
	return len(c.LocationIDs) == 0 && len(c.DeveloperIDs) == 0 && len(c.ProjectIDs) == 0
}

// FindPropertiesByCriteria returns active properties matching ANY of the
// supplied ID sets, most recent first, plus the total count for pagination
// metadata. Offset/limit follow the usual (page-1)*pageSize convention.
func FindPropertiesByCriteria(ctx context.Context, db *gorm.DB, criteria PropertyCriteria, offset, limit int) ([]domain.Property, int64, error) {
	q := db.WithContext(ctx).
		Model(&domain.Property{}).
		Where("is_active = ?", true)

	if !criteria.Empty() {
		var or *gorm.DB
		add := func(cond *gorm.DB) {
			if or == nil {
				or = cond
			} else {
				or = or.Or(cond)
			}
		}
		if len(criteria.LocationIDs) > 0 {
			add(db.Where("EXISTS (SELECT 1 FROM json_each(properties.location_ids) WHERE json_each.value IN ?)", criteria.LocationIDs))
		}
		if len(criteria.DeveloperIDs) > 0 {
			add(db.Where("EXISTS (SELECT 1 FROM json_each(properties.developer_ids) WHERE json_each.value IN ?)", criteria.DeveloperIDs))
		}
		if len(criteria.ProjectIDs) > 0 {
			add(db.Where("project_id IN ?", criteria.ProjectIDs))
		}
		q = q.Where(or)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var out []domain.Property
	err := q.
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// GetProperty fetches a single property by ID, or ErrNotFound if missing.
func GetProperty(ctx context.Context, db *gorm.DB, id string) (*domain.Property, error) {
	var p domain.Property
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RelatedProperties returns up to limit active properties sharing a
// developer or location with the anchor, excluding the anchor itself.
// An anchor with no references yields an empty slice without querying.
func RelatedProperties(ctx context.Context, db *gorm.DB, anchor *domain.Property, limit int) ([]domain.Property, error) {
	if len(anchor.DeveloperIDs) == 0 && len(anchor.LocationIDs) == 0 {
		return []domain.Property{}, nil
	}

	var or *gorm.DB
	if len(anchor.DeveloperIDs) > 0 {
		or = db.Where("EXISTS (SELECT 1 FROM json_each(properties.developer_ids) WHERE json_each.value IN ?)", []string(anchor.DeveloperIDs))
	}
	if len(anchor.LocationIDs) > 0 {
		cond := db.Where("EXISTS (SELECT 1 FROM json_each(properties.location_ids) WHERE json_each.value IN ?)", []string(anchor.LocationIDs))
		if or == nil {
			or = cond
		} else {
			or = or.Or(cond)
		}
	}

	var out []domain.Property
	err := db.WithContext(ctx).
		Model(&domain.Property{}).
		Where("is_active = ?", true).
		Where("id <> ?", anchor.ID).
		Where(or).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// LocationNames returns the names of the given location IDs, in no
// particular order. Unknown IDs are silently skipped.
func LocationNames(ctx context.Context, db *gorm.DB, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}
	var names []string
	err := db.WithContext(ctx).
		Model(&domain.Location{}).
		Where("id IN ?", ids).
		Pluck("name", &names).Error
	return names, err
}

// DeveloperNames returns the names of the given developer IDs, in no
// particular order. Unknown IDs are silently skipped.
func DeveloperNames(ctx context.Context, db *gorm.DB, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}
	var names []string
	err := db.WithContext(ctx).
		Model(&domain.Developer{}).
		Where("id IN ?", ids).
		Pluck("name", &names).Error
	return names, err
}
