package feed

import (
	"sort"

	"siteline/internal/domain"
)

type Facet string

const (
	FacetObject     Facet = "object"
	FacetWork       Facet = "work"
	FacetContractor Facet = "contractor"
)

// Facets lists facets in display order.
var Facets = []Facet{FacetObject, FacetWork, FacetContractor}

func (f Facet) IsValid() bool {
	switch f {
	case FacetObject, FacetWork, FacetContractor:
		return true
	}
	return false
}

type Tag struct {
	Facet Facet  `json:"facet" enum:"object,work,contractor"`
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

func (t Tag) Key() string { return string(t.Facet) + ":" + t.ID }

// Selection holds the selected tag ids per facet.
type Selection map[Facet]map[string]bool

// NewSelection builds a selection from tags.
func NewSelection(tags ...Tag) Selection {
	s := Selection{}
	for _, t := range tags {
		s.Add(t.Facet, t.ID)
	}
	return s
}

func (s Selection) Add(f Facet, id string) {
	if s[f] == nil {
		s[f] = map[string]bool{}
	}
	s[f][id] = true
}

func (s Selection) Has(f Facet, id string) bool {
	return s[f][id]
}

// EventTag returns the tag an event carries in a facet, if any.
func EventTag(e domain.CanonicalEvent, f Facet) (Tag, bool) {
	switch f {
	case FacetObject:
		if e.ObjectID == "" {
			return Tag{}, false
		}
		return Tag{Facet: f, ID: e.ObjectID, Label: labelOr(e.ObjectName, e.ObjectID)}, true
	case FacetWork:
		if e.WorkID == "" {
			return Tag{}, false
		}
		return Tag{Facet: f, ID: e.WorkID, Label: labelOr(e.WorkTitle, e.WorkID)}, true
	case FacetContractor:
		if e.ContractorID == "" {
			return Tag{}, false
		}
		return Tag{Facet: f, ID: e.ContractorID, Label: labelOr(e.ContractorName, e.ContractorID)}, true
	}
	return Tag{}, false
}

// Matches applies OR within a facet and AND across facets. Facets without
// selected tags do not constrain.
func Matches(e domain.CanonicalEvent, sel Selection) bool {
	return matchesExcept(e, sel, "")
}

func matchesExcept(e domain.CanonicalEvent, sel Selection, skip Facet) bool {
	for _, f := range Facets {
		if f == skip || len(sel[f]) == 0 {
			continue
		}
		t, ok := EventTag(e, f)
		if !ok || !sel[f][t.ID] {
			return false
		}
	}
	return true
}

// Filter returns the events matching the selection, preserving order.
func Filter(events []domain.CanonicalEvent, sel Selection) []domain.CanonicalEvent {
	out := []domain.CanonicalEvent{}
	for _, e := range events {
		if Matches(e, sel) {
			out = append(out, e)
		}
	}
	return out
}

type TagState struct {
	Tag      Tag  `json:"tag"`
	Enabled  bool `json:"enabled"`
	Selected bool `json:"selected"`
	// Count is the number of events that carry the tag and satisfy the
	// selection on the other facets.
	Count int `json:"count"`
}

// ComputeTagFacets reports, for every tag seen in the unfiltered feed and
// every selected tag, whether choosing it can still yield events. A tag in
// facet F is enabled when some event carries it and satisfies the selection
// restricted to the facets other than F. Selected tags are always enabled.
func ComputeTagFacets(events []domain.CanonicalEvent, sel Selection) []TagState {
	states := map[string]*TagState{}
	var order []string
	for _, f := range Facets {
		for _, e := range events {
			t, ok := EventTag(e, f)
			if !ok {
				continue
			}
			st, seen := states[t.Key()]
			if !seen {
				st = &TagState{Tag: t}
				states[t.Key()] = st
				order = append(order, t.Key())
			}
			if matchesExcept(e, sel, f) {
				st.Enabled = true
				st.Count++
			}
		}
		ids := make([]string, 0, len(sel[f]))
		for id, on := range sel[f] {
			if on {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		for _, id := range ids {
			t := Tag{Facet: f, ID: id, Label: id}
			st, seen := states[t.Key()]
			if !seen {
				st = &TagState{Tag: t}
				states[t.Key()] = st
				order = append(order, t.Key())
			}
			st.Selected = true
			st.Enabled = true
		}
	}
	out := make([]TagState, 0, len(order))
	for _, k := range order {
		out = append(out, *states[k])
	}
	sort.SliceStable(out, func(i, j int) bool {
		fi, fj := facetIndex(out[i].Tag.Facet), facetIndex(out[j].Tag.Facet)
		if fi != fj {
			return fi < fj
		}
		return out[i].Tag.Label < out[j].Tag.Label
	})
	return out
}

// TagFacetMap is ComputeTagFacets keyed by tag key.
func TagFacetMap(events []domain.CanonicalEvent, sel Selection) map[string]bool {
	out := map[string]bool{}
	for _, st := range ComputeTagFacets(events, sel) {
		out[st.Tag.Key()] = st.Enabled
	}
	return out
}

func facetIndex(f Facet) int {
	for i, x := range Facets {
		if x == f {
			return i
		}
	}
	return len(Facets)
}

func labelOr(label, id string) string {
	if label != "" {
		return label
	}
	return id
}
