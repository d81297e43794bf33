package bundle

import (
	"time"

	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubstitutionOption lets AlternativeProductID satisfy an edge in place of
// its primary component, shifting the bundle price by PriceAdjustment.
type SubstitutionOption struct {
	shared.BaseEntity
	EdgeID               uuid.UUID
	AlternativeProductID uuid.UUID
	IsDefault            bool
	PriceAdjustment      decimal.Decimal
	IsActive             bool
	DisplayOrder         int
}

// SubstitutionSpec is the caller-supplied shape of a new option
type SubstitutionSpec struct {
	AlternativeProductID uuid.UUID
	IsDefault            bool
	PriceAdjustment      decimal.Decimal
	DisplayOrder         int
}

// NewSubstitutionOption creates an active option for edge
func NewSubstitutionOption(edgeID uuid.UUID, spec SubstitutionSpec) *SubstitutionOption {
	return &SubstitutionOption{
		BaseEntity:           shared.NewBaseEntity(),
		EdgeID:               edgeID,
		AlternativeProductID: spec.AlternativeProductID,
		IsDefault:            spec.IsDefault,
		PriceAdjustment:      spec.PriceAdjustment,
		IsActive:             true,
		DisplayOrder:         spec.DisplayOrder,
	}
}

// SetActive toggles the option. A deactivated option is never a default.
func (o *SubstitutionOption) SetActive(active bool) {
	o.IsActive = active
	if !active {
		o.IsDefault = false
	}
	o.UpdatedAt = time.Now().UTC()
}

// SetDefault marks or unmarks the option as the edge default
func (o *SubstitutionOption) SetDefault(isDefault bool) {
	o.IsDefault = isDefault
	o.UpdatedAt = time.Now().UTC()
}

// IsActiveDefault reports whether the option is the edge's effective default
func (o *SubstitutionOption) IsActiveDefault() bool {
	return o.IsActive && o.IsDefault
}
