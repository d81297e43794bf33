package bundle

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/bundle-engine/internal/domain/bundle"
	"github.com/erp/bundle-engine/internal/domain/catalog"
	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CompositionService maintains bundle definitions: the composition graph and
// the substitution options hanging off its edges. Every write is validated
// before it is committed and re-checked for integrity inside the same unit.
type CompositionService struct {
	products       catalog.ProductCatalog
	compositions   bundle.CompositionRepository
	scope          TransactionScope
	invalidator    CacheInvalidator
	eventPublisher shared.EventPublisher
	logger         *zap.Logger
}

// NewCompositionService creates a new CompositionService
func NewCompositionService(
	products catalog.ProductCatalog,
	compositions bundle.CompositionRepository,
	scope TransactionScope,
	logger *zap.Logger,
) *CompositionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompositionService{
		products:     products,
		compositions: compositions,
		scope:        scope,
		invalidator:  noopInvalidator{},
		logger:       logger.Named("composition"),
	}
}

// SetEventPublisher sets the event publisher for publishing domain events
func (s *CompositionService) SetEventPublisher(publisher shared.EventPublisher) {
	s.eventPublisher = publisher
}

// SetCacheInvalidator sets the availability cache to invalidate on writes
func (s *CompositionService) SetCacheInvalidator(inv CacheInvalidator) {
	if inv == nil {
		inv = noopInvalidator{}
	}
	s.invalidator = inv
}

// CreateBundle stores the first composition of a composite product
func (s *CompositionService) CreateBundle(ctx context.Context, req CreateBundleRequest) (*BundleView, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	specs := edgeSpecs(req.Edges)

	var plan bundle.EdgeReplacement
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		bundleProduct, err := checkBundleRequest(ctx, repos.ProductCatalog(), req.BundleProductID, specs)
		if err != nil {
			return err
		}
		repo := repos.CompositionRepo()
		existing, err := repo.FindEdgesByBundle(ctx, req.BundleProductID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return bundle.NewBundleExistsError(req.BundleProductID)
		}
		if err := checkGraph(ctx, repos, req.BundleProductID, specs); err != nil {
			return err
		}
		plan = bundle.PlanEdgeReplacement(req.BundleProductID, nil, specs)
		if err := repo.ReplaceEdges(ctx, req.BundleProductID, plan.Edges, nil); err != nil {
			return err
		}
		return checkIntegrity(ctx, repos, bundleProduct)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("bundle created",
		zap.String("bundle_id", req.BundleProductID.String()),
		zap.Int("edges", len(plan.Edges)))
	s.publish(ctx, bundle.NewBundleCreatedEvent(req.BundleProductID, plan.Edges))
	s.invalidator.InvalidateBundles(ctx, req.BundleProductID)
	return s.GetBundle(ctx, req.BundleProductID)
}

// UpdateEdges replaces the composition of an existing bundle. Edges whose
// component is kept retain their id and substitution options; options of
// dropped edges are deleted in the same unit.
func (s *CompositionService) UpdateEdges(ctx context.Context, bundleID uuid.UUID, edges []EdgeInput) (*BundleView, error) {
	specs := edgeSpecs(edges)

	var plan bundle.EdgeReplacement
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		bundleProduct, err := checkBundleRequest(ctx, repos.ProductCatalog(), bundleID, specs)
		if err != nil {
			return err
		}
		repo := repos.CompositionRepo()
		existing, err := repo.FindEdgesByBundle(ctx, bundleID)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			return fmt.Errorf("%w: %s", bundle.ErrBundleNotFound, bundleID)
		}
		if err := checkGraph(ctx, repos, bundleID, specs); err != nil {
			return err
		}
		plan = bundle.PlanEdgeReplacement(bundleID, existing, specs)
		if err := repo.ReplaceEdges(ctx, bundleID, plan.Edges, plan.RemovedIDs()); err != nil {
			return err
		}
		return checkIntegrity(ctx, repos, bundleProduct)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("bundle edges replaced",
		zap.String("bundle_id", bundleID.String()),
		zap.Int("edges", len(plan.Edges)),
		zap.Int("removed", len(plan.Removed)))
	s.publish(ctx, bundle.NewBundleEdgesReplacedEvent(bundleID, plan))
	s.invalidator.InvalidateBundles(ctx, bundleID)
	return s.GetBundle(ctx, bundleID)
}

// checkBundleRequest loads the bundle product and applies the rules that need
// no graph: the product must be an active composite and the edges well formed.
func checkBundleRequest(ctx context.Context, products catalog.ProductCatalog, bundleID uuid.UUID, specs []bundle.EdgeSpec) (*catalog.Product, error) {
	bundleProduct, err := findProduct(ctx, products, bundleID)
	if err != nil {
		return nil, err
	}
	if err := bundle.ValidateBundleProduct(bundleID, bundleProduct); err != nil {
		return nil, err
	}
	if err := bundle.ValidateEdgeSpecs(bundleID, specs); err != nil {
		return nil, err
	}
	return bundleProduct, nil
}

// checkGraph runs cycle detection before the component rules, so a cycle is
// reported as such even though it also involves a composite component.
func checkGraph(ctx context.Context, repos TransactionalRepositories, bundleID uuid.UUID, specs []bundle.EdgeSpec) error {
	adjacency, err := repos.CompositionRepo().LoadAdjacency(ctx)
	if err != nil {
		return fmt.Errorf("failed to load composition graph: %w", err)
	}
	components := make([]uuid.UUID, len(specs))
	for i, spec := range specs {
		components[i] = spec.ComponentProductID
	}
	if err := bundle.CheckAcyclic(bundle.NewGraph(adjacency), bundleID, components); err != nil {
		return err
	}
	products, err := repos.ProductCatalog().GetProducts(ctx, components)
	if err != nil {
		return fmt.Errorf("failed to load components: %w", err)
	}
	return bundle.CheckComponents(bundleID, specs, products)
}

func checkIntegrity(ctx context.Context, repos TransactionalRepositories, bundleProduct *catalog.Product) error {
	def, err := loadDefinition(ctx, repos.CompositionRepo(), bundleProduct.ID)
	if err != nil {
		return err
	}
	products, err := repos.ProductCatalog().GetProducts(ctx, def.ProductIDs())
	if err != nil {
		return fmt.Errorf("failed to load components: %w", err)
	}
	return bundle.CheckIntegrity(def, bundleProduct, products)
}

// ValidateIntegrity re-checks a stored bundle and returns a
// *bundle.GraphValidationError listing every issue found, or nil.
func (s *CompositionService) ValidateIntegrity(ctx context.Context, bundleID uuid.UUID) error {
	bundleProduct, err := findProduct(ctx, s.products, bundleID)
	if err != nil {
		return err
	}
	def, err := loadDefinition(ctx, s.compositions, bundleID)
	if err != nil {
		return err
	}
	products, err := s.products.GetProducts(ctx, def.ProductIDs())
	if err != nil {
		return fmt.Errorf("failed to load components: %w", err)
	}
	return bundle.CheckIntegrity(def, bundleProduct, products)
}

// GetBundle returns the definition of a bundle
func (s *CompositionService) GetBundle(ctx context.Context, bundleID uuid.UUID) (*BundleView, error) {
	def, err := requireDefinition(ctx, s.compositions, bundleID)
	if err != nil {
		return nil, err
	}
	return toBundleView(def), nil
}

// DeleteBundle removes every edge and option of a bundle
func (s *CompositionService) DeleteBundle(ctx context.Context, bundleID uuid.UUID) error {
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		repo := repos.CompositionRepo()
		existing, err := repo.FindEdgesByBundle(ctx, bundleID)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			return fmt.Errorf("%w: %s", bundle.ErrBundleNotFound, bundleID)
		}
		return repo.DeleteBundle(ctx, bundleID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("bundle deleted", zap.String("bundle_id", bundleID.String()))
	s.publish(ctx, bundle.NewBundleDeletedEvent(bundleID))
	s.invalidator.InvalidateBundles(ctx, bundleID)
	return nil
}

// AddSubstitution registers an alternative product for an edge
func (s *CompositionService) AddSubstitution(ctx context.Context, req AddSubstitutionRequest) (*SubstitutionView, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	var (
		edge *bundle.CompositionEdge
		opt  *bundle.SubstitutionOption
	)
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		alt, err := findProduct(ctx, repos.ProductCatalog(), req.AlternativeProductID)
		if err != nil {
			return err
		}
		repo := repos.CompositionRepo()
		if edge, err = repo.FindEdge(ctx, req.EdgeID); err != nil {
			return err
		}
		siblings, err := repo.FindOptionsByEdges(ctx, []uuid.UUID{edge.ID})
		if err != nil {
			return err
		}
		spec := bundle.SubstitutionSpec{
			AlternativeProductID: req.AlternativeProductID,
			IsDefault:            req.IsDefault,
			PriceAdjustment:      req.PriceAdjustment,
			DisplayOrder:         req.DisplayOrder,
		}
		if err := bundle.CheckSubstitution(*edge, siblings[edge.ID], spec, alt); err != nil {
			return err
		}
		opt = bundle.NewSubstitutionOption(edge.ID, spec)
		if err := repo.SaveOptions(ctx, opt); err != nil {
			return err
		}
		return checkEdgeBundle(ctx, repos, edge.BundleProductID)
	})
	if err != nil {
		return nil, err
	}

	s.substitutionChanged(ctx, edge.BundleProductID, opt, bundle.SubstitutionAdded)
	view := toSubstitutionView(*opt)
	return &view, nil
}

// SetSubstitutionActive enables or disables an option. Disabling a default
// option makes the primary component the default again.
func (s *CompositionService) SetSubstitutionActive(ctx context.Context, optionID uuid.UUID, active bool) (*SubstitutionView, error) {
	var (
		edge *bundle.CompositionEdge
		opt  *bundle.SubstitutionOption
	)
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		repo := repos.CompositionRepo()
		var err error
		if opt, err = repo.FindOption(ctx, optionID); err != nil {
			return err
		}
		if edge, err = repo.FindEdge(ctx, opt.EdgeID); err != nil {
			return err
		}
		if active && !opt.IsActive {
			alt, err := findProduct(ctx, repos.ProductCatalog(), opt.AlternativeProductID)
			if err != nil {
				return err
			}
			if err := bundle.CheckAlternativeUsable(*edge, opt.AlternativeProductID, alt); err != nil {
				return err
			}
		}
		opt.SetActive(active)
		if err := repo.SaveOptions(ctx, opt); err != nil {
			return err
		}
		return checkEdgeBundle(ctx, repos, edge.BundleProductID)
	})
	if err != nil {
		return nil, err
	}

	change := bundle.SubstitutionDeactivated
	if active {
		change = bundle.SubstitutionActivated
	}
	s.substitutionChanged(ctx, edge.BundleProductID, opt, change)
	view := toSubstitutionView(*opt)
	return &view, nil
}

// SetDefaultSubstitution makes optionID the default choice of an edge, or
// restores the primary component as default when optionID is nil.
func (s *CompositionService) SetDefaultSubstitution(ctx context.Context, edgeID uuid.UUID, optionID *uuid.UUID) error {
	var (
		edge   *bundle.CompositionEdge
		chosen *bundle.SubstitutionOption
	)
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		repo := repos.CompositionRepo()
		var err error
		if edge, err = repo.FindEdge(ctx, edgeID); err != nil {
			return err
		}
		byEdge, err := repo.FindOptionsByEdges(ctx, []uuid.UUID{edgeID})
		if err != nil {
			return err
		}

		var changed []*bundle.SubstitutionOption
		options := byEdge[edgeID]
		for i := range options {
			o := &options[i]
			switch {
			case optionID != nil && o.ID == *optionID:
				chosen = o
			case o.IsDefault:
				o.SetDefault(false)
				changed = append(changed, o)
			}
		}
		if optionID != nil {
			if chosen == nil {
				return fmt.Errorf("%w: %s on edge %s", bundle.ErrOptionNotFound, *optionID, edgeID)
			}
			if !chosen.IsActive {
				return bundle.NewSubstitutionError(*edge, chosen.AlternativeProductID,
					bundle.IssueInvalidSubstitution, "inactive substitution cannot be the default")
			}
			chosen.SetDefault(true)
			// cleared defaults are written first
			changed = append(changed, chosen)
		}
		if len(changed) == 0 {
			return nil
		}
		if err := repo.SaveOptions(ctx, changed...); err != nil {
			return err
		}
		return checkEdgeBundle(ctx, repos, edge.BundleProductID)
	})
	if err != nil {
		return err
	}
	s.substitutionChanged(ctx, edge.BundleProductID, chosen, bundle.SubstitutionDefaultSet)
	return nil
}

// RemoveSubstitution deletes an option
func (s *CompositionService) RemoveSubstitution(ctx context.Context, optionID uuid.UUID) error {
	var (
		edge *bundle.CompositionEdge
		opt  *bundle.SubstitutionOption
	)
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		repo := repos.CompositionRepo()
		var err error
		if opt, err = repo.FindOption(ctx, optionID); err != nil {
			return err
		}
		if edge, err = repo.FindEdge(ctx, opt.EdgeID); err != nil {
			return err
		}
		return repo.DeleteOption(ctx, optionID)
	})
	if err != nil {
		return err
	}
	s.substitutionChanged(ctx, edge.BundleProductID, opt, bundle.SubstitutionRemoved)
	return nil
}

func checkEdgeBundle(ctx context.Context, repos TransactionalRepositories, bundleID uuid.UUID) error {
	bundleProduct, err := findProduct(ctx, repos.ProductCatalog(), bundleID)
	if err != nil {
		return err
	}
	if bundleProduct == nil {
		return bundle.ValidateBundleProduct(bundleID, nil)
	}
	return checkIntegrity(ctx, repos, bundleProduct)
}

func (s *CompositionService) substitutionChanged(ctx context.Context, bundleID uuid.UUID, opt *bundle.SubstitutionOption, change bundle.SubstitutionChange) {
	fields := []zap.Field{
		zap.String("bundle_id", bundleID.String()),
		zap.String("change", string(change)),
	}
	if opt != nil {
		fields = append(fields, zap.String("option_id", opt.ID.String()))
	}
	s.logger.Info("substitution changed", fields...)
	s.publish(ctx, bundle.NewSubstitutionChangedEvent(bundleID, opt, change))
	s.invalidator.InvalidateBundles(ctx, bundleID)
}

func (s *CompositionService) publish(ctx context.Context, events ...shared.DomainEvent) {
	if s.eventPublisher == nil {
		return
	}
	if err := s.eventPublisher.Publish(ctx, events...); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("failed to publish events", zap.Error(err))
	}
}
