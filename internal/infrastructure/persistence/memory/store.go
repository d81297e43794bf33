// Package memory provides an in-process implementation of every store the
// bundle engine consumes. All state sits behind one mutex; a unit of work
// runs against a private copy that replaces the live state only when the
// work succeeds.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	appbundle "github.com/erp/bundle-engine/internal/application/bundle"
	"github.com/erp/bundle-engine/internal/domain/bundle"
	"github.com/erp/bundle-engine/internal/domain/catalog"
	"github.com/erp/bundle-engine/internal/domain/inventory"
	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/google/uuid"
)

// FaultHook is consulted before each write; a non-nil error aborts the write.
// op is one of "BatchMutate", "CreateTransaction", "MarkReversed", or
// "BatchMutate:<i>" just before the i-th mutation of a batch in key order.
type FaultHook func(op string) error

type state struct {
	products map[uuid.UUID]catalog.Product
	edges    map[uuid.UUID]bundle.CompositionEdge
	options  map[uuid.UUID]bundle.SubstitutionOption
	stock    map[inventory.StockKey]inventory.StockRecord
	batches  map[string]struct{}
	txs      map[uuid.UUID]inventory.AllocationTransaction
	txByKey  map[string]uuid.UUID
}

func newState() *state {
	return &state{
		products: make(map[uuid.UUID]catalog.Product),
		edges:    make(map[uuid.UUID]bundle.CompositionEdge),
		options:  make(map[uuid.UUID]bundle.SubstitutionOption),
		stock:    make(map[inventory.StockKey]inventory.StockRecord),
		batches:  make(map[string]struct{}),
		txs:      make(map[uuid.UUID]inventory.AllocationTransaction),
		txByKey:  make(map[string]uuid.UUID),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.edges {
		c.edges[k] = v
	}
	for k, v := range s.options {
		c.options[k] = v
	}
	for k, v := range s.stock {
		c.stock[k] = v
	}
	for k := range s.batches {
		c.batches[k] = struct{}{}
	}
	for k, v := range s.txs {
		c.txs[k] = v
	}
	for k, v := range s.txByKey {
		c.txByKey[k] = v
	}
	return c
}

// Store is a thread-safe in-memory database
type Store struct {
	mu    sync.Mutex
	state *state
	fault FaultHook
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{state: newState()}
}

// SetFaultHook installs a write fault injector; nil removes it
func (s *Store) SetFaultHook(hook FaultHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = hook
}

func (s *Store) live() *view {
	return &view{st: s.state, fault: s.fault}
}

// Execute runs fn against a private copy of the state. The copy becomes the
// live state only if fn returns nil. Units of work are serialized.
func (s *Store) Execute(ctx context.Context, fn func(repos appbundle.TransactionalRepositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := &view{st: s.state.clone(), fault: s.fault}
	if err := fn(work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work.st
	return nil
}

// Products returns the product repository view of the store
func (s *Store) Products() catalog.ProductRepository { return (*productRepo)(s) }

// Compositions returns the composition repository view of the store
func (s *Store) Compositions() bundle.CompositionRepository { return (*compositionRepo)(s) }

// Ledger returns the stock ledger view of the store
func (s *Store) Ledger() inventory.StockLedger { return (*ledgerRepo)(s) }

// Transactions returns the allocation log view of the store
func (s *Store) Transactions() inventory.AllocationTransactionRepository { return (*txRepo)(s) }

// view implements every repository over one state without locking
type view struct {
	st    *state
	fault FaultHook
}

func (v *view) StockLedger() inventory.StockLedger                         { return v }
func (v *view) TransactionRepo() inventory.AllocationTransactionRepository { return (*viewTx)(v) }
func (v *view) CompositionRepo() bundle.CompositionRepository              { return (*viewComposition)(v) }
func (v *view) ProductCatalog() catalog.ProductCatalog                     { return (*viewProducts)(v) }

func (v *view) check(op string) error {
	if v.fault == nil {
		return nil
	}
	return v.fault(op)
}

// ---- catalog ----

func copyProduct(p catalog.Product) *catalog.Product {
	p.ClearDomainEvents()
	return &p
}

func (v *view) getProduct(id uuid.UUID) (*catalog.Product, error) {
	p, ok := v.st.products[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return copyProduct(p), nil
}

func (v *view) getProducts(ids []uuid.UUID) map[uuid.UUID]*catalog.Product {
	out := make(map[uuid.UUID]*catalog.Product, len(ids))
	for _, id := range ids {
		if p, ok := v.st.products[id]; ok {
			out[id] = copyProduct(p)
		}
	}
	return out
}

func (v *view) findProductByCode(code string) (*catalog.Product, error) {
	code = strings.ToUpper(code)
	for _, p := range v.st.products {
		if p.Code == code {
			return copyProduct(p), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (v *view) saveProduct(p *catalog.Product) error {
	for id, existing := range v.st.products {
		if existing.Code == p.Code && id != p.ID {
			return fmt.Errorf("%w: product code %s", shared.ErrAlreadyExists, p.Code)
		}
	}
	cp := *p
	cp.ClearDomainEvents()
	v.st.products[p.ID] = cp
	return nil
}

// ---- composition ----

func (v *view) edgesByBundle(bundleID uuid.UUID) []bundle.CompositionEdge {
	var out []bundle.CompositionEdge
	for _, e := range v.st.edges {
		if e.BundleProductID == bundleID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ComponentProductID.String() < out[j].ComponentProductID.String()
	})
	return out
}

func (v *view) adjacency() map[uuid.UUID][]uuid.UUID {
	adj := make(map[uuid.UUID][]uuid.UUID)
	for _, e := range v.st.edges {
		adj[e.BundleProductID] = append(adj[e.BundleProductID], e.ComponentProductID)
	}
	return adj
}

func (v *view) bundlesByProducts(productIDs []uuid.UUID) []uuid.UUID {
	wanted := make(map[uuid.UUID]struct{}, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = struct{}{}
	}
	found := make(map[uuid.UUID]struct{})
	for _, e := range v.st.edges {
		if _, ok := wanted[e.ComponentProductID]; ok {
			found[e.BundleProductID] = struct{}{}
		}
	}
	for _, o := range v.st.options {
		if _, ok := wanted[o.AlternativeProductID]; !ok {
			continue
		}
		if e, ok := v.st.edges[o.EdgeID]; ok {
			found[e.BundleProductID] = struct{}{}
		}
	}
	out := make([]uuid.UUID, 0, len(found))
	for id := range found {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (v *view) replaceEdges(bundleID uuid.UUID, edges []bundle.CompositionEdge, removed []uuid.UUID) {
	for _, id := range removed {
		if e, ok := v.st.edges[id]; ok && e.BundleProductID == bundleID {
			v.deleteEdge(id)
		}
	}
	for _, e := range edges {
		v.st.edges[e.ID] = e
	}
}

func (v *view) deleteEdge(edgeID uuid.UUID) {
	delete(v.st.edges, edgeID)
	for id, o := range v.st.options {
		if o.EdgeID == edgeID {
			delete(v.st.options, id)
		}
	}
}

func (v *view) optionsByEdges(edgeIDs []uuid.UUID) map[uuid.UUID][]bundle.SubstitutionOption {
	wanted := make(map[uuid.UUID]struct{}, len(edgeIDs))
	for _, id := range edgeIDs {
		wanted[id] = struct{}{}
	}
	out := make(map[uuid.UUID][]bundle.SubstitutionOption)
	for _, o := range v.st.options {
		if _, ok := wanted[o.EdgeID]; ok {
			out[o.EdgeID] = append(out[o.EdgeID], o)
		}
	}
	for edgeID := range out {
		opts := out[edgeID]
		sort.Slice(opts, func(i, j int) bool {
			if opts[i].DisplayOrder != opts[j].DisplayOrder {
				return opts[i].DisplayOrder < opts[j].DisplayOrder
			}
			return opts[i].ID.String() < opts[j].ID.String()
		})
	}
	return out
}

// ---- ledger ----

func (v *view) quantities(productIDs []uuid.UUID, locationID *uuid.UUID) map[uuid.UUID]int64 {
	out := make(map[uuid.UUID]int64, len(productIDs))
	wanted := make(map[uuid.UUID]struct{}, len(productIDs))
	for _, id := range productIDs {
		out[id] = 0
		wanted[id] = struct{}{}
	}
	for key, rec := range v.st.stock {
		if _, ok := wanted[key.ProductID]; !ok {
			continue
		}
		if locationID != nil && key.LocationID != *locationID {
			continue
		}
		out[key.ProductID] += rec.QuantityOnHand
	}
	return out
}

func (v *view) records(productIDs []uuid.UUID, locationID *uuid.UUID) []inventory.StockRecord {
	wanted := make(map[uuid.UUID]struct{}, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = struct{}{}
	}
	var out []inventory.StockRecord
	for key, rec := range v.st.stock {
		if _, ok := wanted[key.ProductID]; !ok {
			continue
		}
		if locationID != nil && key.LocationID != *locationID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID.String() < out[j].ProductID.String()
		}
		return out[i].LocationID.String() < out[j].LocationID.String()
	})
	return out
}

func (v *view) batchMutate(ctx context.Context, mutations []inventory.StockMutation, key string) error {
	if err := inventory.ValidateBatch(mutations, key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := v.check("BatchMutate"); err != nil {
		return err
	}
	if _, dup := v.st.batches[key]; dup {
		return fmt.Errorf("%w: %s", inventory.ErrDuplicateBatch, key)
	}

	// mutations are staged so a failure part way leaves the state untouched
	now := time.Now().UTC()
	staged := make(map[inventory.StockKey]inventory.StockRecord, len(mutations))
	for i, m := range inventory.SortMutations(mutations) {
		if err := v.check(fmt.Sprintf("BatchMutate:%d", i)); err != nil {
			return err
		}
		rec, exists := staged[m.Key()]
		if !exists {
			rec, exists = v.st.stock[m.Key()]
		}
		guarded := m.Delta < 0 || m.ExpectedMinimum != nil
		if guarded && (!exists || rec.QuantityOnHand < m.RequiredMinimum()) {
			return fmt.Errorf("%w: %s needs at least %d", inventory.ErrStockConflict, m.Key(), m.RequiredMinimum())
		}
		if !exists {
			rec = inventory.StockRecord{ProductID: m.ProductID, LocationID: m.LocationID}
		}
		rec.QuantityOnHand += m.Delta
		rec.Version++
		rec.UpdatedAt = now
		staged[m.Key()] = rec
	}
	for k, rec := range staged {
		v.st.stock[k] = rec
	}
	v.st.batches[key] = struct{}{}
	return nil
}

// ---- allocation log ----

func copyTx(t inventory.AllocationTransaction) *inventory.AllocationTransaction {
	t.ClearDomainEvents()
	if t.Selection != nil {
		sel := make(map[uuid.UUID]uuid.UUID, len(t.Selection))
		for k, val := range t.Selection {
			sel[k] = val
		}
		t.Selection = sel
	}
	t.Deductions = append([]inventory.Deduction(nil), t.Deductions...)
	return &t
}

func (v *view) createTx(tx *inventory.AllocationTransaction) error {
	if err := v.check("CreateTransaction"); err != nil {
		return err
	}
	if _, dup := v.st.txByKey[tx.IdempotencyKey]; dup {
		return fmt.Errorf("%w: %s", inventory.ErrDuplicateKey, tx.IdempotencyKey)
	}
	if _, dup := v.st.txs[tx.ID]; dup {
		return fmt.Errorf("%w: %s", inventory.ErrDuplicateKey, tx.ID)
	}
	v.st.txs[tx.ID] = *copyTx(*tx)
	v.st.txByKey[tx.IdempotencyKey] = tx.ID
	return nil
}

func (v *view) findTx(id uuid.UUID) (*inventory.AllocationTransaction, error) {
	t, ok := v.st.txs[id]
	if !ok {
		return nil, inventory.ErrTransactionNotFound
	}
	return copyTx(t), nil
}

func (v *view) findTxByKey(key string) (*inventory.AllocationTransaction, error) {
	id, ok := v.st.txByKey[key]
	if !ok {
		return nil, inventory.ErrTransactionNotFound
	}
	return v.findTx(id)
}

func (v *view) markReversed(id uuid.UUID, at time.Time) error {
	if err := v.check("MarkReversed"); err != nil {
		return err
	}
	t, ok := v.st.txs[id]
	if !ok {
		return inventory.ErrTransactionNotFound
	}
	if t.Status != inventory.AllocationStatusCommitted {
		return &inventory.AlreadyReversedError{TransactionID: id, Status: t.Status}
	}
	t.Status = inventory.AllocationStatusReversed
	t.ReversedAt = &at
	t.UpdatedAt = at
	t.Version++
	v.st.txs[id] = t
	return nil
}

func (v *view) listTx(filter inventory.TransactionFilter) ([]inventory.AllocationTransaction, int64) {
	page := filter.Filter.Normalize()
	var matched []inventory.AllocationTransaction
	for _, t := range v.st.txs {
		if filter.BundleID != nil && t.BundleProductID != *filter.BundleID {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		matched = append(matched, *copyTx(t))
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if page.OrderDir == "asc" {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})

	total := int64(len(matched))
	start := page.Offset()
	if start >= len(matched) {
		return []inventory.AllocationTransaction{}, total
	}
	end := start + page.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total
}
