package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/bundle-engine/internal/domain/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockRecordModel is the persistence model for on-hand stock of one product
// at one location. The database enforces quantity_on_hand >= 0.
type StockRecordModel struct {
	ProductID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	LocationID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	QuantityOnHand int64     `gorm:"not null;check:chk_stock_non_negative,quantity_on_hand >= 0"`
	Version        int       `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (StockRecordModel) TableName() string {
	return "stock_records"
}

// ToDomain converts the persistence model to a domain StockRecord
func (m *StockRecordModel) ToDomain() inventory.StockRecord {
	return inventory.StockRecord{
		ProductID:      m.ProductID,
		LocationID:     m.LocationID,
		QuantityOnHand: m.QuantityOnHand,
		Version:        m.Version,
		UpdatedAt:      m.UpdatedAt,
	}
}

// LedgerBatchModel records that a stock batch with this key was applied.
type LedgerBatchModel struct {
	IdempotencyKey string    `gorm:"type:varchar(200);primaryKey"`
	MutationCount  int       `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (LedgerBatchModel) TableName() string {
	return "ledger_batches"
}

// AllocationTransactionModel is the persistence model for the allocation log.
// Selection and deductions are stored as JSON documents.
type AllocationTransactionModel struct {
	AggregateModel
	IdempotencyKey    string                     `gorm:"type:varchar(200);not null;uniqueIndex:idx_alloc_idempotency_key"`
	BundleProductID   uuid.UUID                  `gorm:"type:uuid;not null;index"`
	LocationID        *uuid.UUID                 `gorm:"type:uuid"`
	QuantityRequested int64                      `gorm:"not null"`
	SelectionJSON     string                     `gorm:"column:selection;type:jsonb;not null"`
	DeductionsJSON    string                     `gorm:"column:deductions;type:jsonb;not null"`
	PriceDelta        decimal.Decimal            `gorm:"type:decimal(18,4);not null;default:0"`
	EffectivePrice    decimal.Decimal            `gorm:"type:decimal(18,4);not null;default:0"`
	Reference         string                     `gorm:"type:varchar(200)"`
	Status            inventory.AllocationStatus `gorm:"type:varchar(20);not null;index"`
	CommittedAt       *time.Time
	ReversedAt        *time.Time
}

// TableName returns the table name for GORM
func (AllocationTransactionModel) TableName() string {
	return "allocation_transactions"
}

// ToDomain converts the persistence model to a domain AllocationTransaction
func (m *AllocationTransactionModel) ToDomain() (*inventory.AllocationTransaction, error) {
	var selection map[uuid.UUID]uuid.UUID
	if err := json.Unmarshal([]byte(m.SelectionJSON), &selection); err != nil {
		return nil, fmt.Errorf("decode selection of allocation %s: %w", m.ID, err)
	}
	var deductions []inventory.Deduction
	if err := json.Unmarshal([]byte(m.DeductionsJSON), &deductions); err != nil {
		return nil, fmt.Errorf("decode deductions of allocation %s: %w", m.ID, err)
	}

	return &inventory.AllocationTransaction{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		IdempotencyKey:    m.IdempotencyKey,
		BundleProductID:   m.BundleProductID,
		LocationID:        m.LocationID,
		QuantityRequested: m.QuantityRequested,
		Selection:         selection,
		Deductions:        deductions,
		PriceDelta:        m.PriceDelta,
		EffectivePrice:    m.EffectivePrice,
		Reference:         m.Reference,
		Status:            m.Status,
		CommittedAt:       m.CommittedAt,
		ReversedAt:        m.ReversedAt,
	}, nil
}

// AllocationTransactionModelFromDomain creates a persistence model from a
// domain AllocationTransaction
func AllocationTransactionModelFromDomain(t *inventory.AllocationTransaction) (*AllocationTransactionModel, error) {
	selection := t.Selection
	if selection == nil {
		selection = map[uuid.UUID]uuid.UUID{}
	}
	selectionJSON, err := json.Marshal(selection)
	if err != nil {
		return nil, fmt.Errorf("encode selection: %w", err)
	}
	deductions := t.Deductions
	if deductions == nil {
		deductions = []inventory.Deduction{}
	}
	deductionsJSON, err := json.Marshal(deductions)
	if err != nil {
		return nil, fmt.Errorf("encode deductions: %w", err)
	}

	m := &AllocationTransactionModel{
		IdempotencyKey:    t.IdempotencyKey,
		BundleProductID:   t.BundleProductID,
		LocationID:        t.LocationID,
		QuantityRequested: t.QuantityRequested,
		SelectionJSON:     string(selectionJSON),
		DeductionsJSON:    string(deductionsJSON),
		PriceDelta:        t.PriceDelta,
		EffectivePrice:    t.EffectivePrice,
		Reference:         t.Reference,
		Status:            t.Status,
		CommittedAt:       t.CommittedAt,
		ReversedAt:        t.ReversedAt,
	}
	m.FromDomainAggregateRoot(t.BaseAggregateRoot)
	return m, nil
}
