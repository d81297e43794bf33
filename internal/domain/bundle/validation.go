package bundle

import (
	"fmt"

	"github.com/erp/bundle-engine/internal/domain/catalog"
	"github.com/google/uuid"
)

// ValidateBundleProduct checks the product a composition is attached to
func ValidateBundleProduct(bundleID uuid.UUID, product *catalog.Product) error {
	if product == nil {
		return newGraphValidationError(bundleID, []GraphIssue{{
			Code: IssueMissingProduct, ProductID: bundleID, Message: "bundle product does not exist",
		}})
	}
	if !product.IsComposite() {
		return newGraphValidationError(bundleID, []GraphIssue{{
			Code: IssueInvalidBundle, ProductID: bundleID, Message: "bundle product must be composite",
		}})
	}
	return nil
}

// ValidateEdgeSpecs runs the structural checks that need no lookups:
// at least one edge, positive quantities, no duplicate components.
func ValidateEdgeSpecs(bundleID uuid.UUID, specs []EdgeSpec) error {
	if len(specs) == 0 {
		return newGraphValidationError(bundleID, []GraphIssue{{
			Code: IssueNoEdges, ProductID: bundleID, Message: "bundle must have at least one component",
		}})
	}

	var issues []GraphIssue
	seen := make(map[uuid.UUID]struct{}, len(specs))
	for _, s := range specs {
		if s.ComponentProductID == uuid.Nil {
			issues = append(issues, GraphIssue{Code: IssueMissingProduct, Message: "component product id is required"})
			continue
		}
		if s.RequiredQuantity <= 0 {
			issues = append(issues, GraphIssue{
				Code:      IssueInvalidQuantity,
				ProductID: s.ComponentProductID,
				Message:   fmt.Sprintf("required quantity must be positive, got %d", s.RequiredQuantity),
			})
		}
		if _, dup := seen[s.ComponentProductID]; dup {
			issues = append(issues, GraphIssue{
				Code:      IssueDuplicateComponent,
				ProductID: s.ComponentProductID,
				Message:   "component appears more than once",
			})
		}
		seen[s.ComponentProductID] = struct{}{}
	}
	if len(issues) > 0 {
		return newGraphValidationError(bundleID, issues)
	}
	return nil
}

// CheckAcyclic applies the pending component list of bundleID to g and
// rejects the change if that closes a cycle.
func CheckAcyclic(g *Graph, bundleID uuid.UUID, components []uuid.UUID) error {
	g.SetComponents(bundleID, components)
	if cycle := g.FindCycle(bundleID); cycle != nil {
		return NewCycleError(bundleID, cycle)
	}
	return nil
}

// CheckComponents verifies that every component exists, is active and is
// elemental. Nested composites are rejected.
func CheckComponents(bundleID uuid.UUID, specs []EdgeSpec, products map[uuid.UUID]*catalog.Product) error {
	var issues []GraphIssue
	for _, s := range specs {
		if issue, bad := componentIssue(s.ComponentProductID, products); bad {
			issues = append(issues, issue)
		}
	}
	if len(issues) > 0 {
		return newGraphValidationError(bundleID, issues)
	}
	return nil
}

func componentIssue(productID uuid.UUID, products map[uuid.UUID]*catalog.Product) (GraphIssue, bool) {
	p, ok := products[productID]
	switch {
	case !ok || p == nil:
		return GraphIssue{Code: IssueMissingProduct, ProductID: productID, Message: fmt.Sprintf("product %s does not exist", productID)}, true
	case p.IsComposite():
		return GraphIssue{Code: IssueNestedComposite, ProductID: productID, Message: fmt.Sprintf("product %s is a bundle and cannot be a component", p.Code)}, true
	case !p.IsActive():
		return GraphIssue{Code: IssueInactiveProduct, ProductID: productID, Message: fmt.Sprintf("product %s is inactive", p.Code)}, true
	}
	return GraphIssue{}, false
}

// CheckSubstitution validates a new option against its edge and siblings
func CheckSubstitution(edge CompositionEdge, siblings []SubstitutionOption, spec SubstitutionSpec, alt *catalog.Product) error {
	reject := func(code GraphIssueCode, msg string) error {
		return newGraphValidationError(edge.BundleProductID, []GraphIssue{{
			Code: code, EdgeID: edge.ID, ProductID: spec.AlternativeProductID, Message: msg,
		}})
	}
	if spec.AlternativeProductID == edge.ComponentProductID {
		return reject(IssueInvalidSubstitution, "alternative equals the primary component")
	}
	if spec.AlternativeProductID == edge.BundleProductID {
		return reject(IssueInvalidSubstitution, "bundle cannot substitute for its own component")
	}
	if issue, bad := componentIssue(spec.AlternativeProductID, map[uuid.UUID]*catalog.Product{spec.AlternativeProductID: alt}); bad {
		return reject(issue.Code, issue.Message)
	}
	for _, o := range siblings {
		if o.AlternativeProductID == spec.AlternativeProductID {
			return reject(IssueDuplicateComponent, "alternative already registered for this edge")
		}
		if spec.IsDefault && o.IsActiveDefault() {
			return reject(IssueDefaultConflict, "edge already has an active default substitution")
		}
	}
	return nil
}

// CheckIntegrity re-validates a persisted definition against the catalog and
// returns every issue found, or nil.
func CheckIntegrity(def *Definition, bundle *catalog.Product, products map[uuid.UUID]*catalog.Product) error {
	if err := ValidateBundleProduct(def.BundleID, bundle); err != nil {
		return err
	}
	var issues []GraphIssue
	if len(def.Edges) == 0 {
		issues = append(issues, GraphIssue{Code: IssueNoEdges, ProductID: def.BundleID, Message: "bundle has no components"})
	}

	seen := make(map[uuid.UUID]struct{}, len(def.Edges))
	for _, e := range def.Edges {
		if e.RequiredQuantity <= 0 {
			issues = append(issues, GraphIssue{Code: IssueInvalidQuantity, EdgeID: e.ID, ProductID: e.ComponentProductID,
				Message: fmt.Sprintf("required quantity must be positive, got %d", e.RequiredQuantity)})
		}
		if _, dup := seen[e.ComponentProductID]; dup {
			issues = append(issues, GraphIssue{Code: IssueDuplicateComponent, EdgeID: e.ID, ProductID: e.ComponentProductID,
				Message: "component appears more than once"})
		}
		seen[e.ComponentProductID] = struct{}{}
		if issue, bad := componentIssue(e.ComponentProductID, products); bad {
			issue.EdgeID = e.ID
			issues = append(issues, issue)
		}

		defaults := 0
		for _, o := range def.Options[e.ID] {
			if o.IsActiveDefault() {
				defaults++
			}
			if issue, bad := componentIssue(o.AlternativeProductID, products); bad && o.IsActive {
				issue.EdgeID = e.ID
				issue.Code = IssueInvalidSubstitution
				issues = append(issues, issue)
			}
		}
		if defaults > 1 {
			issues = append(issues, GraphIssue{Code: IssueDefaultConflict, EdgeID: e.ID,
				Message: fmt.Sprintf("edge has %d active default substitutions", defaults)})
		}
	}
	if len(issues) > 0 {
		return newGraphValidationError(def.BundleID, issues)
	}
	return nil
}

// CheckAlternativeUsable rejects activating an option whose product can no
// longer stand in for the edge's component
func CheckAlternativeUsable(edge CompositionEdge, productID uuid.UUID, alt *catalog.Product) error {
	if issue, bad := componentIssue(productID, map[uuid.UUID]*catalog.Product{productID: alt}); bad {
		return NewSubstitutionError(edge, productID, issue.Code, issue.Message)
	}
	return nil
}
