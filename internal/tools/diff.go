package tools

import (
	"reflect"
	"sort"
)

// SpecDiff describes how a tool record list changed.
type SpecDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

// Empty reports whether nothing changed.
func (d SpecDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffSpecs compares two record lists by name. A record counts as changed
// when its factory key, enabled flag or config differ. Names are sorted.
func DiffSpecs(old, new []Spec) SpecDiff {
	var d SpecDiff

	oldByName := make(map[string]Spec, len(old))
	for _, s := range old {
		oldByName[s.Name] = s
	}
	newByName := make(map[string]Spec, len(new))
	for _, s := range new {
		newByName[s.Name] = s
	}

	for name, o := range oldByName {
		n, exists := newByName[name]
		if !exists {
			d.Removed = append(d.Removed, name)
			continue
		}
		if o.Key() != n.Key() || o.Enabled != n.Enabled || !sameSettings(o.Config, n.Config) {
			d.Changed = append(d.Changed, name)
		}
	}
	for name := range newByName {
		if _, exists := oldByName[name]; !exists {
			d.Added = append(d.Added, name)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}

func sameSettings(a, b Settings) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
