package bundle_test

import (
	"testing"

	appbundle "github.com/erp/bundle-engine/internal/application/bundle"
	"github.com/erp/bundle-engine/internal/domain/bundle"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGraphIssue(t *testing.T, err error, code bundle.GraphIssueCode) *bundle.GraphValidationError {
	t.Helper()
	var gve *bundle.GraphValidationError
	require.ErrorAs(t, err, &gve)
	assert.Equal(t, code, gve.Reason, "issues: %+v", gve.Issues)
	return gve
}

func TestCreateBundle(t *testing.T) {
	f := newFixture(t)
	k := f.kit()

	assert.Equal(t, k.b.ID, k.view.BundleID)
	require.Len(t, k.view.Edges, 2)
	assert.Equal(t, int64(2), edgeFor(t, k.view, k.a).RequiredQuantity)
	assert.Equal(t, int64(1), edgeFor(t, k.view, k.c).RequiredQuantity)
	assert.Len(t, f.events.ofType(bundle.EventTypeBundleCreated), 1)

	got, err := f.composition.GetBundle(f.ctx, k.b.ID)
	require.NoError(t, err)
	assert.Equal(t, k.view, got)
	assert.NoError(t, f.composition.ValidateIntegrity(f.ctx, k.b.ID))
}

func TestCreateBundle_RejectsCycle(t *testing.T) {
	f := newFixture(t)
	a := f.composite("A", 1)
	b := f.composite("B", 1)
	// A already contains B
	require.NoError(t, f.store.Compositions().ReplaceEdges(f.ctx, a.ID, []bundle.CompositionEdge{
		bundle.NewCompositionEdge(a.ID, bundle.EdgeSpec{ComponentProductID: b.ID, RequiredQuantity: 1}),
	}, nil))

	_, err := f.composition.CreateBundle(f.ctx, appbundle.CreateBundleRequest{
		BundleProductID: b.ID,
		Edges:           []appbundle.EdgeInput{edge(a, 1)},
	})
	gve := requireGraphIssue(t, err, bundle.IssueCycle)
	assert.Equal(t, []uuid.UUID{b.ID, a.ID, b.ID}, gve.Path)

	_, err = f.composition.GetBundle(f.ctx, b.ID)
	assert.ErrorIs(t, err, bundle.ErrBundleNotFound, "rejected bundle must not be stored")
}

func TestCreateBundle_RejectsSelfReference(t *testing.T) {
	f := newFixture(t)
	b := f.composite("B", 1)

	_, err := f.composition.CreateBundle(f.ctx, appbundle.CreateBundleRequest{
		BundleProductID: b.ID,
		Edges:           []appbundle.EdgeInput{edge(b, 1)},
	})
	gve := requireGraphIssue(t, err, bundle.IssueCycle)
	assert.Equal(t, []uuid.UUID{b.ID, b.ID}, gve.Path)
}

func TestCreateBundle_Validation(t *testing.T) {
	f := newFixture(t)
	a := f.elemental("A", 1)
	inactive := f.elemental("OLD", 1)
	f.deactivate(inactive)
	nested := f.composite("NESTED", 1)
	b := f.composite("B", 1)

	tests := []struct {
		name   string
		bundle uuid.UUID
		edges  []appbundle.EdgeInput
		code   bundle.GraphIssueCode
	}{
		{"no edges", b.ID, nil, bundle.IssueNoEdges},
		{"zero quantity", b.ID, []appbundle.EdgeInput{edge(a, 0)}, bundle.IssueInvalidQuantity},
		{"duplicate component", b.ID, []appbundle.EdgeInput{edge(a, 1), edge(a, 2)}, bundle.IssueDuplicateComponent},
		{"unknown component", b.ID, []appbundle.EdgeInput{{ComponentProductID: uuid.New(), RequiredQuantity: 1}}, bundle.IssueMissingProduct},
		{"inactive component", b.ID, []appbundle.EdgeInput{edge(inactive, 1)}, bundle.IssueInactiveProduct},
		{"nested composite", b.ID, []appbundle.EdgeInput{edge(nested, 1)}, bundle.IssueNestedComposite},
		{"bundle is elemental", a.ID, []appbundle.EdgeInput{edge(inactive, 1)}, bundle.IssueInvalidBundle},
		{"bundle does not exist", uuid.New(), []appbundle.EdgeInput{edge(a, 1)}, bundle.IssueMissingProduct},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.composition.CreateBundle(f.ctx, appbundle.CreateBundleRequest{BundleProductID: tt.bundle, Edges: tt.edges})
			requireGraphIssue(t, err, tt.code)
		})
	}

	t.Run("missing bundle id", func(t *testing.T) {
		_, err := f.composition.CreateBundle(f.ctx, appbundle.CreateBundleRequest{Edges: []appbundle.EdgeInput{edge(a, 1)}})
		var reqErr *appbundle.RequestValidationError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, "bundle_product_id", reqErr.Violations[0].Field)
		assert.ErrorIs(t, err, bundle.ErrInvalidRequest)
	})

	t.Run("defined twice", func(t *testing.T) {
		f.createBundle(b, edge(a, 1))
		_, err := f.composition.CreateBundle(f.ctx, appbundle.CreateBundleRequest{BundleProductID: b.ID, Edges: []appbundle.EdgeInput{edge(a, 2)}})
		requireGraphIssue(t, err, bundle.IssueBundleExists)
	})
}

func TestUpdateEdges(t *testing.T) {
	f := newFixture(t)
	k := f.kit()
	d := f.elemental("D", 1)
	e := f.elemental("E", 1)

	aEdge := edgeFor(t, k.view, k.a)
	cEdge := edgeFor(t, k.view, k.c)
	kept, err := f.composition.AddSubstitution(f.ctx, appbundle.AddSubstitutionRequest{EdgeID: aEdge.ID, AlternativeProductID: d.ID})
	require.NoError(t, err)
	dropped, err := f.composition.AddSubstitution(f.ctx, appbundle.AddSubstitutionRequest{EdgeID: cEdge.ID, AlternativeProductID: d.ID})
	require.NoError(t, err)

	// warm the cache so the update has something to drop
	_, err = f.availability.ComputeMaxAvailable(f.ctx, k.b.ID, nil, nil)
	require.NoError(t, err)

	view, err := f.composition.UpdateEdges(f.ctx, k.b.ID, []appbundle.EdgeInput{edge(k.a, 5), edge(e, 1)})
	require.NoError(t, err)

	require.Len(t, view.Edges, 2)
	newA := edgeFor(t, view, k.a)
	assert.Equal(t, aEdge.ID, newA.ID, "kept component keeps its edge")
	assert.Equal(t, int64(5), newA.RequiredQuantity)
	require.Len(t, newA.Substitutions, 1)
	assert.Equal(t, kept.ID, newA.Substitutions[0].ID)

	_, err = f.store.Compositions().FindOption(f.ctx, dropped.ID)
	assert.ErrorIs(t, err, bundle.ErrOptionNotFound, "options of removed edges are deleted")
	assert.Len(t, f.events.ofType(bundle.EventTypeBundleEdgesReplaced), 1)

	max, err := f.availability.ComputeMaxAvailable(f.ctx, k.b.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), max, "E has no stock")

	t.Run("unknown bundle", func(t *testing.T) {
		other := f.composite("OTHER", 1)
		_, err := f.composition.UpdateEdges(f.ctx, other.ID, []appbundle.EdgeInput{edge(k.a, 1)})
		assert.ErrorIs(t, err, bundle.ErrBundleNotFound)
	})

	t.Run("invalid update keeps old composition", func(t *testing.T) {
		_, err := f.composition.UpdateEdges(f.ctx, k.b.ID, []appbundle.EdgeInput{edge(k.a, 1), edge(k.b, 1)})
		requireGraphIssue(t, err, bundle.IssueCycle)
		got, err := f.composition.GetBundle(f.ctx, k.b.ID)
		require.NoError(t, err)
		assert.Equal(t, view, got)
	})
}

func TestDeleteBundle(t *testing.T) {
	f := newFixture(t)
	k := f.kit()

	require.NoError(t, f.composition.DeleteBundle(f.ctx, k.b.ID))
	_, err := f.composition.GetBundle(f.ctx, k.b.ID)
	assert.ErrorIs(t, err, bundle.ErrBundleNotFound)
	assert.ErrorIs(t, f.composition.DeleteBundle(f.ctx, k.b.ID), bundle.ErrBundleNotFound)

	max, err := f.availability.ComputeMaxAvailable(f.ctx, k.b.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), max)
}

func TestAddSubstitution(t *testing.T) {
	f := newFixture(t)
	k := f.kit()
	d := f.elemental("D", 1)
	e := f.elemental("E", 1)
	nested := f.composite("NESTED", 1)
	cEdge := edgeFor(t, k.view, k.c)

	opt, err := f.composition.AddSubstitution(f.ctx, appbundle.AddSubstitutionRequest{
		EdgeID:               cEdge.ID,
		AlternativeProductID: d.ID,
		IsDefault:            true,
		PriceAdjustment:      decimal.NewFromInt(3),
		DisplayOrder:         1,
	})
	require.NoError(t, err)
	assert.True(t, opt.IsActive)
	assert.True(t, opt.IsDefault)
	assert.Len(t, f.events.ofType(bundle.EventTypeSubstitutionChanged), 1)

	tests := []struct {
		name string
		req  appbundle.AddSubstitutionRequest
		code bundle.GraphIssueCode
	}{
		{"second default", appbundle.AddSubstitutionRequest{EdgeID: cEdge.ID, AlternativeProductID: e.ID, IsDefault: true}, bundle.IssueDefaultConflict},
		{"duplicate alternative", appbundle.AddSubstitutionRequest{EdgeID: cEdge.ID, AlternativeProductID: d.ID}, bundle.IssueDuplicateComponent},
		{"primary as alternative", appbundle.AddSubstitutionRequest{EdgeID: cEdge.ID, AlternativeProductID: k.c.ID}, bundle.IssueInvalidSubstitution},
		{"composite alternative", appbundle.AddSubstitutionRequest{EdgeID: cEdge.ID, AlternativeProductID: nested.ID}, bundle.IssueNestedComposite},
		{"unknown alternative", appbundle.AddSubstitutionRequest{EdgeID: cEdge.ID, AlternativeProductID: uuid.New()}, bundle.IssueMissingProduct},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.composition.AddSubstitution(f.ctx, tt.req)
			requireGraphIssue(t, err, tt.code)
		})
	}

	t.Run("unknown edge", func(t *testing.T) {
		_, err := f.composition.AddSubstitution(f.ctx, appbundle.AddSubstitutionRequest{EdgeID: uuid.New(), AlternativeProductID: e.ID})
		assert.ErrorIs(t, err, bundle.ErrEdgeNotFound)
	})

	t.Run("negative display order", func(t *testing.T) {
		_, err := f.composition.AddSubstitution(f.ctx, appbundle.AddSubstitutionRequest{EdgeID: cEdge.ID, AlternativeProductID: e.ID, DisplayOrder: -1})
		assert.ErrorIs(t, err, bundle.ErrInvalidRequest)
	})
}

func TestSetDefaultSubstitution(t *testing.T) {
	f := newFixture(t)
	k := f.kit()
	d := f.elemental("D", 1)
	e := f.elemental("E", 1)
	cEdge := edgeFor(t, k.view, k.c)

	optD, err := f.composition.AddSubstitution(f.ctx, appbundle.AddSubstitutionRequest{EdgeID: cEdge.ID, AlternativeProductID: d.ID, IsDefault: true})
	require.NoError(t, err)
	optE, err := f.composition.AddSubstitution(f.ctx, appbundle.AddSubstitutionRequest{EdgeID: cEdge.ID, AlternativeProductID: e.ID})
	require.NoError(t, err)

	require.NoError(t, f.composition.SetDefaultSubstitution(f.ctx, cEdge.ID, &optE.ID))
	sel, err := f.substitution.ResolveDefaultSelection(f.ctx, k.b.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, sel[cEdge.ID])

	view, err := f.composition.GetBundle(f.ctx, k.b.ID)
	require.NoError(t, err)
	for _, s := range edgeFor(t, view, k.c).Substitutions {
		assert.Equal(t, s.ID == optE.ID, s.IsDefault, "only one default per edge")
	}

	require.NoError(t, f.composition.SetDefaultSubstitution(f.ctx, cEdge.ID, nil))
	sel, err = f.substitution.ResolveDefaultSelection(f.ctx, k.b.ID)
	require.NoError(t, err)
	assert.Equal(t, k.c.ID, sel[cEdge.ID])

	t.Run("inactive option", func(t *testing.T) {
		_, err := f.composition.SetSubstitutionActive(f.ctx, optD.ID, false)
		require.NoError(t, err)
		err = f.composition.SetDefaultSubstitution(f.ctx, cEdge.ID, &optD.ID)
		requireGraphIssue(t, err, bundle.IssueInvalidSubstitution)
	})

	t.Run("option of another edge", func(t *testing.T) {
		aEdge := edgeFor(t, k.view, k.a)
		err := f.composition.SetDefaultSubstitution(f.ctx, aEdge.ID, &optE.ID)
		assert.ErrorIs(t, err, bundle.ErrOptionNotFound)
	})
}

func TestSetSubstitutionActive(t *testing.T) {
	f := newFixture(t)
	k := f.kit()
	d := f.elemental("D", 1)
	cEdge := edgeFor(t, k.view, k.c)

	opt, err := f.composition.AddSubstitution(f.ctx, appbundle.AddSubstitutionRequest{EdgeID: cEdge.ID, AlternativeProductID: d.ID, IsDefault: true})
	require.NoError(t, err)

	off, err := f.composition.SetSubstitutionActive(f.ctx, opt.ID, false)
	require.NoError(t, err)
	assert.False(t, off.IsActive)
	assert.False(t, off.IsDefault, "disabling a default restores the primary")

	alts, err := f.substitution.ListAlternatives(f.ctx, cEdge.ID)
	require.NoError(t, err)
	require.Len(t, alts, 1)
	assert.True(t, alts[0].IsPrimary)
	assert.True(t, alts[0].IsDefault)

	f.deactivate(d)
	_, err = f.composition.SetSubstitutionActive(f.ctx, opt.ID, true)
	requireGraphIssue(t, err, bundle.IssueInactiveProduct)

	require.NoError(t, d.Activate())
	require.NoError(t, f.store.Products().Save(f.ctx, d))
	on, err := f.composition.SetSubstitutionActive(f.ctx, opt.ID, true)
	require.NoError(t, err)
	assert.True(t, on.IsActive)
	assert.False(t, on.IsDefault)
}

func TestRemoveSubstitution(t *testing.T) {
	f := newFixture(t)
	k := f.kit()
	d := f.elemental("D", 1)
	cEdge := edgeFor(t, k.view, k.c)

	opt, err := f.composition.AddSubstitution(f.ctx, appbundle.AddSubstitutionRequest{EdgeID: cEdge.ID, AlternativeProductID: d.ID})
	require.NoError(t, err)
	require.NoError(t, f.composition.RemoveSubstitution(f.ctx, opt.ID))
	assert.ErrorIs(t, f.composition.RemoveSubstitution(f.ctx, opt.ID), bundle.ErrOptionNotFound)

	alts, err := f.substitution.ListAlternatives(f.ctx, cEdge.ID)
	require.NoError(t, err)
	assert.Len(t, alts, 1)
}

func TestValidateIntegrity_ReportsCatalogDrift(t *testing.T) {
	f := newFixture(t)
	k := f.kit()
	f.deactivate(k.c)

	err := f.composition.ValidateIntegrity(f.ctx, k.b.ID)
	gve := requireGraphIssue(t, err, bundle.IssueInactiveProduct)
	require.Len(t, gve.Issues, 1)
	assert.Equal(t, edgeFor(t, k.view, k.c).ID, gve.Issues[0].EdgeID)

	t.Run("writes are refused until fixed", func(t *testing.T) {
		d := f.elemental("D", 1)
		_, err := f.composition.AddSubstitution(f.ctx, appbundle.AddSubstitutionRequest{EdgeID: edgeFor(t, k.view, k.a).ID, AlternativeProductID: d.ID})
		requireGraphIssue(t, err, bundle.IssueInactiveProduct)
	})
}
