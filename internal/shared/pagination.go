package shared

// ClampLimit bounds a listing limit: non-positive values fall back to def
// and values above max are cut to max.
func ClampLimit(limit, def, max int) int {
	switch {
	case limit <= 0:
		return def
	case limit > max:
		return max
	default:
		return limit
	}
}
