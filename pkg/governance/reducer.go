package governance

import "sort"

// Reduce merges observed usage into an existing approved-packages list,
// producing the new list. The merge is a pure function: it never mutates its
// inputs, never removes entries, and always yields a name-sorted,
// deduplicated result with sorted categories. Reducing twice with the same
// usage is a fixed point.
func Reduce(old *List, usage Usage) *List {
	merged := make(map[string]map[string]bool)

	if old != nil {
		for _, entry := range old.Packages {
			cats := merged[entry.Name]
			if cats == nil {
				cats = make(map[string]bool)
				merged[entry.Name] = cats
			}
			for _, c := range entry.AllowedCategories {
				cats[c] = true
			}
		}
	}

	for name, observed := range usage {
		cats := merged[name]
		if cats == nil {
			cats = make(map[string]bool)
			merged[name] = cats
		}
		for c := range observed {
			cats[c] = true
		}
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	out := &List{Packages: make([]Entry, 0, len(names))}
	for _, name := range names {
		cats := make([]string, 0, len(merged[name]))
		for c := range merged[name] {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		out.Packages = append(out.Packages, Entry{Name: name, AllowedCategories: cats})
	}
	return out
}

// Diff returns the names present in next but absent from prev: the packages
// a reduce proposed to add.
func Diff(prev, next *List) []string {
	known := make(map[string]bool)
	if prev != nil {
		for _, e := range prev.Packages {
			known[e.Name] = true
		}
	}
	added := make([]string, 0)
	for _, e := range next.Packages {
		if !known[e.Name] {
			added = append(added, e.Name)
		}
	}
	sort.Strings(added)
	return added
}
