package models

import (
	"github.com/erp/bundle-engine/internal/domain/bundle"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CompositionEdgeModel is the persistence model for a bill-of-materials edge.
type CompositionEdgeModel struct {
	BaseModel
	BundleProductID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_edges_bundle_component,priority:1"`
	ComponentProductID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_edges_bundle_component,priority:2;index"`
	RequiredQuantity   int64     `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CompositionEdgeModel) TableName() string {
	return "composition_edges"
}

// ToDomain converts the persistence model to a domain edge
func (m *CompositionEdgeModel) ToDomain() bundle.CompositionEdge {
	return bundle.CompositionEdge{
		BaseEntity:         m.BaseModel.ToDomain(),
		BundleProductID:    m.BundleProductID,
		ComponentProductID: m.ComponentProductID,
		RequiredQuantity:   m.RequiredQuantity,
	}
}

// CompositionEdgeModelFromDomain creates a persistence model from a domain edge
func CompositionEdgeModelFromDomain(e bundle.CompositionEdge) *CompositionEdgeModel {
	m := &CompositionEdgeModel{
		BundleProductID:    e.BundleProductID,
		ComponentProductID: e.ComponentProductID,
		RequiredQuantity:   e.RequiredQuantity,
	}
	m.FromDomainBaseEntity(e.BaseEntity)
	return m
}

// SubstitutionOptionModel is the persistence model for a substitution option.
type SubstitutionOptionModel struct {
	BaseModel
	EdgeID               uuid.UUID       `gorm:"type:uuid;not null;index"`
	AlternativeProductID uuid.UUID       `gorm:"type:uuid;not null;index"`
	IsDefault            bool            `gorm:"not null"`
	PriceAdjustment      decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	IsActive             bool            `gorm:"not null"`
	DisplayOrder         int             `gorm:"not null;default:0"`
}

// TableName returns the table name for GORM
func (SubstitutionOptionModel) TableName() string {
	return "substitution_options"
}

// ToDomain converts the persistence model to a domain option
func (m *SubstitutionOptionModel) ToDomain() bundle.SubstitutionOption {
	return bundle.SubstitutionOption{
		BaseEntity:           m.BaseModel.ToDomain(),
		EdgeID:               m.EdgeID,
		AlternativeProductID: m.AlternativeProductID,
		IsDefault:            m.IsDefault,
		PriceAdjustment:      m.PriceAdjustment,
		IsActive:             m.IsActive,
		DisplayOrder:         m.DisplayOrder,
	}
}

// SubstitutionOptionModelFromDomain creates a persistence model from a domain option
func SubstitutionOptionModelFromDomain(o *bundle.SubstitutionOption) *SubstitutionOptionModel {
	m := &SubstitutionOptionModel{
		EdgeID:               o.EdgeID,
		AlternativeProductID: o.AlternativeProductID,
		IsDefault:            o.IsDefault,
		PriceAdjustment:      o.PriceAdjustment,
		IsActive:             o.IsActive,
		DisplayOrder:         o.DisplayOrder,
	}
	m.FromDomainBaseEntity(o.BaseEntity)
	return m
}
