package catalog

// Lookup resolves a product by ID. ok is false when the product is absent.
type Lookup func(id string) (Product, bool)

// EffectiveStock returns the sellable quantity of p. Simple and raw material
// products report their stored stock, floored at zero. Derived products
// report floor(min(componentStock / quantityPerUnit)) over their recipe.
// Empty recipes, missing or deleted components, non-positive quantities and
// cycles all evaluate to zero.
func EffectiveStock(p Product, lookup Lookup) int64 {
	return effectiveStock(p, lookup, make(map[string]struct{}))
}

func effectiveStock(p Product, lookup Lookup, visiting map[string]struct{}) int64 {
	if p.Deleted() {
		return 0
	}
	switch p.Kind {
	case KindSimple, KindRawMaterial:
		if p.StoredStock < 0 {
			return 0
		}
		return p.StoredStock
	case KindDerived:
		if len(p.Recipe) == 0 {
			return 0
		}
		if _, seen := visiting[p.ID]; seen {
			return 0
		}
		visiting[p.ID] = struct{}{}
		defer delete(visiting, p.ID)

		result := int64(-1)
		for _, component := range p.Recipe {
			if component.QuantityPerUnit <= 0 {
				return 0
			}
			child, ok := lookup(component.ProductID)
			if !ok {
				return 0
			}
			units := effectiveStock(child, lookup, visiting) / component.QuantityPerUnit
			if result < 0 || units < result {
				result = units
			}
		}
		return result
	default:
		return 0
	}
}

// HasCycle reports whether following recipes from p revisits a product.
func HasCycle(p Product, lookup Lookup) bool {
	return hasCycle(p, lookup, make(map[string]struct{}))
}

func hasCycle(p Product, lookup Lookup, path map[string]struct{}) bool {
	if p.Kind != KindDerived {
		return false
	}
	if _, seen := path[p.ID]; seen {
		return true
	}
	path[p.ID] = struct{}{}
	defer delete(path, p.ID)
	for _, component := range p.Recipe {
		child, ok := lookup(component.ProductID)
		if !ok {
			continue
		}
		if hasCycle(child, lookup, path) {
			return true
		}
	}
	return false
}
