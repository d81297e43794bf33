// Package models contains GORM persistence models that map to database
// tables. Domain entities stay free of ORM tags; each model converts to and
// from its domain type with ToDomain / FromDomain.
//
// Tables:
//   - products: catalog entries (elemental or composite)
//   - composition_edges, substitution_options: bundle bills of materials
//   - stock_records: on-hand quantity per (product, location)
//   - ledger_batches: applied stock batch idempotency keys
//   - allocation_transactions: the append-only allocation log
package models
