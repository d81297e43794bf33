package catalog

import (
	"strings"
	"time"

	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// ProductKind distinguishes directly stocked products from bundles
type ProductKind string

const (
	ProductKindElemental ProductKind = "elemental"
	ProductKindComposite ProductKind = "composite"
)

// IsValid reports whether k is a known product kind
func (k ProductKind) IsValid() bool {
	return k == ProductKindElemental || k == ProductKindComposite
}

func (k ProductKind) String() string {
	return string(k)
}

// ProductStatus represents the status of a product
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusInactive ProductStatus = "inactive"
)

// Product represents a sellable item. Elemental products carry stock in the
// ledger; composite products (bundles) derive availability from their BOM.
type Product struct {
	shared.BaseAggregateRoot
	Code      string
	Name      string
	Kind      ProductKind
	Status    ProductStatus
	BasePrice decimal.Decimal
}

// NewProduct creates a new active product
func NewProduct(code, name string, kind ProductKind, basePrice decimal.Decimal) (*Product, error) {
	if err := validateProductCode(code); err != nil {
		return nil, err
	}
	if err := validateProductName(name); err != nil {
		return nil, err
	}
	if !kind.IsValid() {
		return nil, shared.NewDomainError("INVALID_KIND", "Product kind must be elemental or composite")
	}
	if basePrice.IsNegative() {
		return nil, shared.NewDomainError("INVALID_PRICE", "Base price cannot be negative")
	}

	product := &Product{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Code:              strings.ToUpper(code),
		Name:              name,
		Kind:              kind,
		Status:            ProductStatusActive,
		BasePrice:         basePrice,
	}
	product.AddDomainEvent(NewProductCreatedEvent(product))
	return product, nil
}

// NewElemental is a shorthand for NewProduct with ProductKindElemental
func NewElemental(code, name string, basePrice decimal.Decimal) (*Product, error) {
	return NewProduct(code, name, ProductKindElemental, basePrice)
}

// NewComposite is a shorthand for NewProduct with ProductKindComposite
func NewComposite(code, name string, basePrice decimal.Decimal) (*Product, error) {
	return NewProduct(code, name, ProductKindComposite, basePrice)
}

// SetBasePrice updates the list price
func (p *Product) SetBasePrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return shared.NewDomainError("INVALID_PRICE", "Base price cannot be negative")
	}
	p.BasePrice = price
	p.UpdatedAt = time.Now().UTC()
	p.IncrementVersion()
	return nil
}

// Activate activates the product
func (p *Product) Activate() error {
	if p.Status == ProductStatusActive {
		return shared.NewDomainError("ALREADY_ACTIVE", "Product is already active")
	}
	p.setStatus(ProductStatusActive)
	return nil
}

// Deactivate deactivates the product. Inactive components contribute zero
// capacity to every bundle that references them.
func (p *Product) Deactivate() error {
	if p.Status == ProductStatusInactive {
		return shared.NewDomainError("ALREADY_INACTIVE", "Product is already inactive")
	}
	p.setStatus(ProductStatusInactive)
	return nil
}

func (p *Product) setStatus(status ProductStatus) {
	old := p.Status
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	p.IncrementVersion()
	p.AddDomainEvent(NewProductStatusChangedEvent(p, old, status))
}

func (p *Product) IsActive() bool    { return p.Status == ProductStatusActive }
func (p *Product) IsComposite() bool { return p.Kind == ProductKindComposite }
func (p *Product) IsElemental() bool { return p.Kind == ProductKindElemental }

func validateProductCode(code string) error {
	if code == "" {
		return shared.NewDomainError("INVALID_CODE", "Product code cannot be empty")
	}
	if len(code) > 50 {
		return shared.NewDomainError("INVALID_CODE", "Product code cannot exceed 50 characters")
	}
	for _, r := range code {
		if !((r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-') {
			return shared.NewDomainError("INVALID_CODE", "Product code can only contain letters, numbers, underscores, and hyphens")
		}
	}
	return nil
}

func validateProductName(name string) error {
	if name == "" {
		return shared.NewDomainError("INVALID_NAME", "Product name cannot be empty")
	}
	if len(name) > 200 {
		return shared.NewDomainError("INVALID_NAME", "Product name cannot exceed 200 characters")
	}
	return nil
}
