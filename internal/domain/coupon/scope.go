package coupon

import "slices"

// Scope is the typed filter restricting who and what a coupon applies to.
// Every non-empty filter must match: the item filter (products or
// categories), the user filter and the new-customer flag are conjunctive.
type Scope struct {
	ProductIDs  []int64
	CategoryIDs []int64
	UserIDs     []int64
	AllNewUsers bool
}

// HasItemFilter reports whether the coupon is restricted to some products or
// categories.
func (s Scope) HasItemFilter() bool {
	return len(s.ProductIDs) > 0 || len(s.CategoryIDs) > 0
}

// MatchesLine reports whether a line falls inside the item filter. Without
// an item filter every line matches.
func (s Scope) MatchesLine(l Line) bool {
	if !s.HasItemFilter() {
		return true
	}
	return slices.Contains(s.ProductIDs, l.ProductID) || slices.Contains(s.CategoryIDs, l.CategoryID)
}

// AllowsCustomer applies the user set and the new-customer flag.
func (s Scope) AllowsCustomer(c Customer) bool {
	if len(s.UserIDs) > 0 && !slices.Contains(s.UserIDs, c.ID) {
		return false
	}
	if s.AllNewUsers && !c.IsNew {
		return false
	}
	return true
}
