package bundle

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CompositionRepository persists edges and substitution options.
// Multi-step changes go through a transaction scope so that callers observe
// either the old or the new composition, never a mix.
type CompositionRepository interface {
	// FindEdgesByBundle returns the edges of one bundle (empty if none)
	FindEdgesByBundle(ctx context.Context, bundleID uuid.UUID) ([]CompositionEdge, error)

	// FindEdge returns a single edge or ErrEdgeNotFound
	FindEdge(ctx context.Context, edgeID uuid.UUID) (*CompositionEdge, error)

	// LoadAdjacency returns bundle -> primary components for every bundle
	LoadAdjacency(ctx context.Context) (map[uuid.UUID][]uuid.UUID, error)

	// FindBundlesByProducts returns bundles that reference any of the products,
	// either as a primary component or as a substitution alternative
	FindBundlesByProducts(ctx context.Context, productIDs []uuid.UUID) ([]uuid.UUID, error)

	// ReplaceEdges stores edges as the complete composition of bundleID,
	// deleting removed edges together with their substitution options
	ReplaceEdges(ctx context.Context, bundleID uuid.UUID, edges []CompositionEdge, removedEdgeIDs []uuid.UUID) error

	// DeleteBundle removes all edges and options of a bundle
	DeleteBundle(ctx context.Context, bundleID uuid.UUID) error

	// FindOptionsByEdges batch-loads options keyed by edge id
	FindOptionsByEdges(ctx context.Context, edgeIDs []uuid.UUID) (map[uuid.UUID][]SubstitutionOption, error)

	// FindOption returns a single option or ErrOptionNotFound
	FindOption(ctx context.Context, optionID uuid.UUID) (*SubstitutionOption, error)

	// SaveOptions creates or updates options
	SaveOptions(ctx context.Context, options ...*SubstitutionOption) error

	// DeleteOption removes an option
	DeleteOption(ctx context.Context, optionID uuid.UUID) error
}

// AvailabilityCache holds computed max-available values for default
// selections. Entries are keyed by bundle and dropped as a whole whenever a
// write touches the bundle or any of its products.
type AvailabilityCache interface {
	// Get returns the cached value and whether it was present
	Get(ctx context.Context, bundleID uuid.UUID, locationID *uuid.UUID) (int64, bool, error)

	// Set stores a value with the given TTL
	Set(ctx context.Context, bundleID uuid.UUID, locationID *uuid.UUID, value int64, ttl time.Duration) error

	// InvalidateBundles drops every cached entry of the bundles
	InvalidateBundles(ctx context.Context, bundleIDs ...uuid.UUID) error
}
