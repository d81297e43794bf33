package bundle

import (
	"fmt"
	"strings"

	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/google/uuid"
)

// Sentinel codes; the typed errors below unwrap to these so callers can use
// errors.Is without caring about the payload.
var (
	ErrGraphValidation  = shared.NewDomainError("GRAPH_VALIDATION", "Bundle composition is invalid")
	ErrInvalidSelection = shared.NewDomainError("INVALID_SELECTION", "Component selection is invalid")
	ErrBundleNotFound   = shared.NewDomainError("BUNDLE_NOT_FOUND", "Bundle not found")
	ErrEdgeNotFound     = shared.NewDomainError("EDGE_NOT_FOUND", "Composition edge not found")
	ErrOptionNotFound   = shared.NewDomainError("SUBSTITUTION_NOT_FOUND", "Substitution option not found")
	ErrInvalidRequest   = shared.NewDomainError("INVALID_REQUEST", "Invalid request")
	ErrBundleInactive   = shared.NewDomainError("BUNDLE_INACTIVE", "Bundle is not active")
)

// GraphIssueCode classifies a structural problem in a bundle definition
type GraphIssueCode string

const (
	IssueCycle               GraphIssueCode = "CYCLE"
	IssueNestedComposite     GraphIssueCode = "NESTED_COMPOSITE"
	IssueDuplicateComponent  GraphIssueCode = "DUPLICATE_COMPONENT"
	IssueInvalidQuantity     GraphIssueCode = "INVALID_QUANTITY"
	IssueNoEdges             GraphIssueCode = "NO_EDGES"
	IssueMissingProduct      GraphIssueCode = "MISSING_PRODUCT"
	IssueInactiveProduct     GraphIssueCode = "INACTIVE_PRODUCT"
	IssueInvalidBundle       GraphIssueCode = "INVALID_BUNDLE"
	IssueBundleExists        GraphIssueCode = "BUNDLE_EXISTS"
	IssueDefaultConflict     GraphIssueCode = "DEFAULT_CONFLICT"
	IssueInvalidSubstitution GraphIssueCode = "INVALID_SUBSTITUTION"
)

// GraphIssue is a single finding, optionally pinned to an edge or product
type GraphIssue struct {
	Code      GraphIssueCode
	EdgeID    uuid.UUID
	ProductID uuid.UUID
	Message   string
}

// GraphValidationError rejects a composition change before it is persisted.
// For cycles, Path holds the product ids along the cycle with the first id
// repeated at the end, e.g. [B, A, B].
type GraphValidationError struct {
	BundleID uuid.UUID
	Reason   GraphIssueCode
	Path     []uuid.UUID
	Issues   []GraphIssue
}

func (e *GraphValidationError) Error() string {
	if e.Reason == IssueCycle && len(e.Path) > 0 {
		parts := make([]string, len(e.Path))
		for i, id := range e.Path {
			parts[i] = id.String()
		}
		return fmt.Sprintf("composition cycle detected: %s", strings.Join(parts, " -> "))
	}
	if len(e.Issues) == 1 {
		return fmt.Sprintf("invalid composition for bundle %s: %s", e.BundleID, e.Issues[0].Message)
	}
	return fmt.Sprintf("invalid composition for bundle %s: %d issues (first: %s)", e.BundleID, len(e.Issues), e.Issues[0].Message)
}

func (e *GraphValidationError) Unwrap() error { return ErrGraphValidation }

// newGraphValidationError builds an error whose Reason is the first issue's code
func newGraphValidationError(bundleID uuid.UUID, issues []GraphIssue) *GraphValidationError {
	return &GraphValidationError{BundleID: bundleID, Reason: issues[0].Code, Issues: issues}
}

// NewCycleError reports a cycle found in the composition graph
func NewCycleError(bundleID uuid.UUID, path []uuid.UUID) *GraphValidationError {
	return &GraphValidationError{
		BundleID: bundleID,
		Reason:   IssueCycle,
		Path:     path,
		Issues: []GraphIssue{{
			Code:      IssueCycle,
			ProductID: path[0],
			Message:   "composition graph contains a cycle",
		}},
	}
}

// NewBundleExistsError rejects creating a bundle that already has a composition
func NewBundleExistsError(bundleID uuid.UUID) *GraphValidationError {
	return newGraphValidationError(bundleID, []GraphIssue{{
		Code: IssueBundleExists, ProductID: bundleID, Message: "bundle already has a composition; use UpdateEdges",
	}})
}

// NewSubstitutionError rejects a change to one substitution option
func NewSubstitutionError(edge CompositionEdge, productID uuid.UUID, code GraphIssueCode, msg string) *GraphValidationError {
	return newGraphValidationError(edge.BundleProductID, []GraphIssue{{
		Code: code, EdgeID: edge.ID, ProductID: productID, Message: msg,
	}})
}

// InvalidSelectionError names the edge whose choice cannot be honored
type InvalidSelectionError struct {
	EdgeID    uuid.UUID
	ProductID uuid.UUID
	Reason    string
}

func (e *InvalidSelectionError) Error() string {
	if e.ProductID == uuid.Nil {
		return fmt.Sprintf("invalid selection for edge %s: %s", e.EdgeID, e.Reason)
	}
	return fmt.Sprintf("invalid selection for edge %s (product %s): %s", e.EdgeID, e.ProductID, e.Reason)
}

func (e *InvalidSelectionError) Unwrap() error { return ErrInvalidSelection }

// InsufficientStockError lists every product that cannot cover the request.
// It is a business outcome and must not be retried automatically.
type InsufficientStockError struct {
	BundleID  uuid.UUID
	Quantity  int64
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock to allocate %d of bundle %s: %d component(s) short",
		e.Quantity, e.BundleID, len(e.Shortages))
}

func (e *InsufficientStockError) Unwrap() error { return shared.ErrInsufficientStock }
