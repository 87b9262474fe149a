package snapshot

import (
	"cmp"
	"slices"
	"strings"
)

// ByAuthority orders roles by rank, highest authority first. A higher Position means more
// authority; equal positions fall back to the id so the order is deterministic.
func ByAuthority(a, b Role) int {
	if c := cmp.Compare(b.Position, a.Position); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// SortRoles stores roles highest authority first, which is the order a snapshot keeps.
func SortRoles(roles []Role) {
	slices.SortStableFunc(roles, ByAuthority)
}

// ReplayOrder returns the roles in the order they are recreated: highest authority
// first with the default role last. New roles land at the bottom of the hierarchy, so
// creating from the top down keeps the original order.
func ReplayOrder(roles []Role) []Role {
	out := make([]Role, 0, len(roles))
	var defaults []Role
	for _, r := range roles {
		if r.Default {
			defaults = append(defaults, r)
			continue
		}
		out = append(out, r)
	}

	slices.SortStableFunc(out, ByAuthority)
	return append(out, defaults...)
}
