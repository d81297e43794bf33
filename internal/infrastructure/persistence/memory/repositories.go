package memory

import (
	"context"
	"time"

	appbundle "github.com/erp/bundle-engine/internal/application/bundle"
	"github.com/erp/bundle-engine/internal/domain/bundle"
	"github.com/erp/bundle-engine/internal/domain/catalog"
	"github.com/erp/bundle-engine/internal/domain/inventory"
	"github.com/google/uuid"
)

// locked runs fn on the live state under the store mutex
func (s *Store) locked(fn func(v *view) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.live())
}

// ---- view-level repositories (used inside Execute, no locking) ----

func (v *view) GetQuantity(_ context.Context, productID uuid.UUID, locationID *uuid.UUID) (int64, error) {
	return v.quantities([]uuid.UUID{productID}, locationID)[productID], nil
}

func (v *view) GetQuantities(_ context.Context, productIDs []uuid.UUID, locationID *uuid.UUID) (map[uuid.UUID]int64, error) {
	return v.quantities(productIDs, locationID), nil
}

func (v *view) GetStockRecords(_ context.Context, productIDs []uuid.UUID, locationID *uuid.UUID) ([]inventory.StockRecord, error) {
	return v.records(productIDs, locationID), nil
}

func (v *view) BatchMutate(ctx context.Context, mutations []inventory.StockMutation, key string) error {
	return v.batchMutate(ctx, mutations, key)
}

type viewProducts view

func (p *viewProducts) GetProduct(_ context.Context, id uuid.UUID) (*catalog.Product, error) {
	return (*view)(p).getProduct(id)
}

func (p *viewProducts) GetProducts(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*catalog.Product, error) {
	return (*view)(p).getProducts(ids), nil
}

type viewTx view

func (t *viewTx) Create(_ context.Context, tx *inventory.AllocationTransaction) error {
	return (*view)(t).createTx(tx)
}

func (t *viewTx) FindByID(_ context.Context, id uuid.UUID) (*inventory.AllocationTransaction, error) {
	return (*view)(t).findTx(id)
}

func (t *viewTx) FindByIdempotencyKey(_ context.Context, key string) (*inventory.AllocationTransaction, error) {
	return (*view)(t).findTxByKey(key)
}

func (t *viewTx) MarkReversed(_ context.Context, id uuid.UUID, at time.Time) error {
	return (*view)(t).markReversed(id, at)
}

func (t *viewTx) List(_ context.Context, filter inventory.TransactionFilter) ([]inventory.AllocationTransaction, int64, error) {
	items, total := (*view)(t).listTx(filter)
	return items, total, nil
}

type viewComposition view

func (c *viewComposition) FindEdgesByBundle(_ context.Context, bundleID uuid.UUID) ([]bundle.CompositionEdge, error) {
	return (*view)(c).edgesByBundle(bundleID), nil
}

func (c *viewComposition) FindEdge(_ context.Context, edgeID uuid.UUID) (*bundle.CompositionEdge, error) {
	e, ok := c.st.edges[edgeID]
	if !ok {
		return nil, bundle.ErrEdgeNotFound
	}
	return &e, nil
}

func (c *viewComposition) LoadAdjacency(context.Context) (map[uuid.UUID][]uuid.UUID, error) {
	return (*view)(c).adjacency(), nil
}

func (c *viewComposition) FindBundlesByProducts(_ context.Context, productIDs []uuid.UUID) ([]uuid.UUID, error) {
	return (*view)(c).bundlesByProducts(productIDs), nil
}

func (c *viewComposition) ReplaceEdges(_ context.Context, bundleID uuid.UUID, edges []bundle.CompositionEdge, removed []uuid.UUID) error {
	(*view)(c).replaceEdges(bundleID, edges, removed)
	return nil
}

func (c *viewComposition) DeleteBundle(_ context.Context, bundleID uuid.UUID) error {
	v := (*view)(c)
	for _, e := range v.edgesByBundle(bundleID) {
		v.deleteEdge(e.ID)
	}
	return nil
}

func (c *viewComposition) FindOptionsByEdges(_ context.Context, edgeIDs []uuid.UUID) (map[uuid.UUID][]bundle.SubstitutionOption, error) {
	return (*view)(c).optionsByEdges(edgeIDs), nil
}

func (c *viewComposition) FindOption(_ context.Context, optionID uuid.UUID) (*bundle.SubstitutionOption, error) {
	o, ok := c.st.options[optionID]
	if !ok {
		return nil, bundle.ErrOptionNotFound
	}
	return &o, nil
}

func (c *viewComposition) SaveOptions(_ context.Context, options ...*bundle.SubstitutionOption) error {
	for _, o := range options {
		c.st.options[o.ID] = *o
	}
	return nil
}

func (c *viewComposition) DeleteOption(_ context.Context, optionID uuid.UUID) error {
	if _, ok := c.st.options[optionID]; !ok {
		return bundle.ErrOptionNotFound
	}
	delete(c.st.options, optionID)
	return nil
}

// ---- store-level repositories (each call locks) ----

type productRepo Store

func (r *productRepo) GetProduct(_ context.Context, id uuid.UUID) (p *catalog.Product, err error) {
	err = (*Store)(r).locked(func(v *view) error {
		p, err = v.getProduct(id)
		return err
	})
	return p, err
}

func (r *productRepo) GetProducts(_ context.Context, ids []uuid.UUID) (out map[uuid.UUID]*catalog.Product, err error) {
	err = (*Store)(r).locked(func(v *view) error {
		out = v.getProducts(ids)
		return nil
	})
	return out, err
}

func (r *productRepo) FindByCode(_ context.Context, code string) (p *catalog.Product, err error) {
	err = (*Store)(r).locked(func(v *view) error {
		p, err = v.findProductByCode(code)
		return err
	})
	return p, err
}

func (r *productRepo) Save(_ context.Context, product *catalog.Product) error {
	return (*Store)(r).locked(func(v *view) error {
		return v.saveProduct(product)
	})
}

type ledgerRepo Store

func (r *ledgerRepo) GetQuantity(ctx context.Context, productID uuid.UUID, locationID *uuid.UUID) (q int64, err error) {
	err = (*Store)(r).locked(func(v *view) error {
		q, err = v.GetQuantity(ctx, productID, locationID)
		return err
	})
	return q, err
}

func (r *ledgerRepo) GetQuantities(ctx context.Context, productIDs []uuid.UUID, locationID *uuid.UUID) (out map[uuid.UUID]int64, err error) {
	err = (*Store)(r).locked(func(v *view) error {
		out, err = v.GetQuantities(ctx, productIDs, locationID)
		return err
	})
	return out, err
}

func (r *ledgerRepo) GetStockRecords(ctx context.Context, productIDs []uuid.UUID, locationID *uuid.UUID) (out []inventory.StockRecord, err error) {
	err = (*Store)(r).locked(func(v *view) error {
		out, err = v.GetStockRecords(ctx, productIDs, locationID)
		return err
	})
	return out, err
}

func (r *ledgerRepo) BatchMutate(ctx context.Context, mutations []inventory.StockMutation, key string) error {
	return (*Store)(r).locked(func(v *view) error {
		return v.batchMutate(ctx, mutations, key)
	})
}

type txRepo Store

func (r *txRepo) Create(ctx context.Context, tx *inventory.AllocationTransaction) error {
	return (*Store)(r).locked(func(v *view) error {
		return v.TransactionRepo().Create(ctx, tx)
	})
}

func (r *txRepo) FindByID(ctx context.Context, id uuid.UUID) (t *inventory.AllocationTransaction, err error) {
	err = (*Store)(r).locked(func(v *view) error {
		t, err = v.findTx(id)
		return err
	})
	return t, err
}

func (r *txRepo) FindByIdempotencyKey(ctx context.Context, key string) (t *inventory.AllocationTransaction, err error) {
	err = (*Store)(r).locked(func(v *view) error {
		t, err = v.findTxByKey(key)
		return err
	})
	return t, err
}

func (r *txRepo) MarkReversed(_ context.Context, id uuid.UUID, at time.Time) error {
	return (*Store)(r).locked(func(v *view) error {
		return v.markReversed(id, at)
	})
}

func (r *txRepo) List(_ context.Context, filter inventory.TransactionFilter) (items []inventory.AllocationTransaction, total int64, err error) {
	err = (*Store)(r).locked(func(v *view) error {
		items, total = v.listTx(filter)
		return nil
	})
	return items, total, err
}

type compositionRepo Store

func (r *compositionRepo) with(fn func(c bundle.CompositionRepository) error) error {
	return (*Store)(r).locked(func(v *view) error {
		return fn(v.CompositionRepo())
	})
}

func (r *compositionRepo) FindEdgesByBundle(ctx context.Context, bundleID uuid.UUID) (out []bundle.CompositionEdge, err error) {
	err = r.with(func(c bundle.CompositionRepository) error {
		out, err = c.FindEdgesByBundle(ctx, bundleID)
		return err
	})
	return out, err
}

func (r *compositionRepo) FindEdge(ctx context.Context, edgeID uuid.UUID) (e *bundle.CompositionEdge, err error) {
	err = r.with(func(c bundle.CompositionRepository) error {
		e, err = c.FindEdge(ctx, edgeID)
		return err
	})
	return e, err
}

func (r *compositionRepo) LoadAdjacency(ctx context.Context) (adj map[uuid.UUID][]uuid.UUID, err error) {
	err = r.with(func(c bundle.CompositionRepository) error {
		adj, err = c.LoadAdjacency(ctx)
		return err
	})
	return adj, err
}

func (r *compositionRepo) FindBundlesByProducts(ctx context.Context, productIDs []uuid.UUID) (ids []uuid.UUID, err error) {
	err = r.with(func(c bundle.CompositionRepository) error {
		ids, err = c.FindBundlesByProducts(ctx, productIDs)
		return err
	})
	return ids, err
}

func (r *compositionRepo) ReplaceEdges(ctx context.Context, bundleID uuid.UUID, edges []bundle.CompositionEdge, removed []uuid.UUID) error {
	return r.with(func(c bundle.CompositionRepository) error {
		return c.ReplaceEdges(ctx, bundleID, edges, removed)
	})
}

func (r *compositionRepo) DeleteBundle(ctx context.Context, bundleID uuid.UUID) error {
	return r.with(func(c bundle.CompositionRepository) error {
		return c.DeleteBundle(ctx, bundleID)
	})
}

func (r *compositionRepo) FindOptionsByEdges(ctx context.Context, edgeIDs []uuid.UUID) (out map[uuid.UUID][]bundle.SubstitutionOption, err error) {
	err = r.with(func(c bundle.CompositionRepository) error {
		out, err = c.FindOptionsByEdges(ctx, edgeIDs)
		return err
	})
	return out, err
}

func (r *compositionRepo) FindOption(ctx context.Context, optionID uuid.UUID) (o *bundle.SubstitutionOption, err error) {
	err = r.with(func(c bundle.CompositionRepository) error {
		o, err = c.FindOption(ctx, optionID)
		return err
	})
	return o, err
}

func (r *compositionRepo) SaveOptions(ctx context.Context, options ...*bundle.SubstitutionOption) error {
	return r.with(func(c bundle.CompositionRepository) error {
		return c.SaveOptions(ctx, options...)
	})
}

func (r *compositionRepo) DeleteOption(ctx context.Context, optionID uuid.UUID) error {
	return r.with(func(c bundle.CompositionRepository) error {
		return c.DeleteOption(ctx, optionID)
	})
}

var (
	_ appbundle.TransactionScope          = (*Store)(nil)
	_ appbundle.TransactionalRepositories = (*view)(nil)
	_ catalog.ProductRepository           = (*productRepo)(nil)
	_ bundle.CompositionRepository        = (*compositionRepo)(nil)
	_ bundle.CompositionRepository        = (*viewComposition)(nil)
	_ inventory.StockLedger               = (*ledgerRepo)(nil)
	_ inventory.StockLedger               = (*view)(nil)
	_ inventory.AllocationTransactionRepository = (*txRepo)(nil)
	_ inventory.AllocationTransactionRepository = (*viewTx)(nil)
)
