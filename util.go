package entkv

import "sort"

// diffStrings treats old and new as sets and returns the elements present
// only in old (removed) and only in new (added), both sorted.
func diffStrings(old, new []string) (removed, added []string) {
	oldSet := make(map[string]bool, len(old))
	for _, s := range old {
		oldSet[s] = true
	}
	newSet := make(map[string]bool, len(new))
	for _, s := range new {
		newSet[s] = true
		if !oldSet[s] {
			added = append(added, s)
		}
	}
	for _, s := range old {
		if !newSet[s] {
			removed = append(removed, s)
		}
	}
	sort.Strings(removed)
	sort.Strings(added)
	return
}

func sameStringSet(a, b []string) bool {
	removed, added := diffStrings(a, b)
	return len(removed) == 0 && len(added) == 0
}
