package models

import "sort"

// WorkplaceRegistry maps a workplace name to its coordinate. It is loaded
// from configuration and never mutated at runtime.
type WorkplaceRegistry map[string]Coord

func (w WorkplaceRegistry) Lookup(name string) (Coord, bool) {
	c, ok := w[name]
	return c, ok
}

// Names returns the registered workplace names in lexical order.
func (w WorkplaceRegistry) Names() []string {
	out := make([]string, 0, len(w))
	for name := range w {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
