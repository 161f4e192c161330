package lots

import "sort"

// FIFOLess orders lots for consumption: soonest expiry first, earliest
// received next, lowest id as the stable tiebreak. The SQL listing orders the
// same way; this exists so in-memory callers and tests agree with the queries.
func FIFOLess(a, b Lot) bool {
	if !a.ExpiresOn.Equal(b.ExpiresOn) {
		return a.ExpiresOn.Before(b.ExpiresOn)
	}
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		return a.ReceivedAt.Before(b.ReceivedAt)
	}
	return a.ID < b.ID
}

// SortFIFO sorts lots in place into consumption order.
func SortFIFO(ls []Lot) {
	sort.Slice(ls, func(i, j int) bool { return FIFOLess(ls[i], ls[j]) })
}
