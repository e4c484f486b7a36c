package utils

import (
	"cmp"
	"slices"
)

// Named is implemented by every extension-point declaration
type Named interface {
	GetName() string
	GetType() string
}

// SortExtensions returns a copy of items ordered by type, then name
func SortExtensions[T Named](items []T) []T {
	out := slices.Clone(items)
	slices.SortStableFunc(out, func(a, b T) int {
		if c := cmp.Compare(a.GetType(), b.GetType()); c != 0 {
			return c
		}
		return cmp.Compare(a.GetName(), b.GetName())
	})
	return out
}

// FilterExtensions returns the items whose type is one of types, in order.
// With no types every item is returned.
func FilterExtensions[T Named](items []T, types ...string) []T {
	if len(types) == 0 {
		return slices.Clone(items)
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		if slices.Contains(types, item.GetType()) {
			out = append(out, item)
		}
	}
	return out
}
