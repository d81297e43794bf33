package models

import (
	"github.com/erp/bundle-engine/internal/domain/catalog"
	"github.com/shopspring/decimal"
)

// ProductModel is the persistence model for the Product aggregate root.
type ProductModel struct {
	AggregateModel
	Code      string                `gorm:"type:varchar(50);not null;uniqueIndex:idx_products_code"`
	Name      string                `gorm:"type:varchar(200);not null"`
	Kind      catalog.ProductKind   `gorm:"type:varchar(20);not null;index"`
	Status    catalog.ProductStatus `gorm:"type:varchar(20);not null;default:'active'"`
	BasePrice decimal.Decimal       `gorm:"type:decimal(18,4);not null;default:0"`
}

// TableName returns the table name for GORM
func (ProductModel) TableName() string {
	return "products"
}

// ToDomain converts the persistence model to a domain Product
func (m *ProductModel) ToDomain() *catalog.Product {
	return &catalog.Product{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		Code:              m.Code,
		Name:              m.Name,
		Kind:              m.Kind,
		Status:            m.Status,
		BasePrice:         m.BasePrice,
	}
}

// FromDomain populates the persistence model from a domain Product
func (m *ProductModel) FromDomain(p *catalog.Product) {
	m.FromDomainAggregateRoot(p.BaseAggregateRoot)
	m.Code = p.Code
	m.Name = p.Name
	m.Kind = p.Kind
	m.Status = p.Status
	m.BasePrice = p.BasePrice
}

// ProductModelFromDomain creates a new persistence model from a domain Product
func ProductModelFromDomain(p *catalog.Product) *ProductModel {
	m := &ProductModel{}
	m.FromDomain(p)
	return m
}
