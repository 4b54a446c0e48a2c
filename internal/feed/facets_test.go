package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteline/internal/domain"
)

func facetEvents() []domain.CanonicalEvent {
	mk := func(id, obj, work, contractor string) domain.CanonicalEvent {
		return domain.CanonicalEvent{ID: id, ObjectID: obj, WorkID: work, ContractorID: contractor, WorkTitle: "title " + work}
	}
	return []domain.CanonicalEvent{
		mk("e1", "tower-a", "w1", "acme"),
		mk("e2", "tower-a", "w2", "bolt"),
		mk("e3", "tower-b", "w3", "acme"),
		mk("e4", "tower-b", "w3", ""),
	}
}

func ids(events []domain.CanonicalEvent) []string {
	out := []string{}
	for _, e := range events {
		out = append(out, e.ID)
	}
	return out
}

func TestFilterOrWithinFacetAndAcross(t *testing.T) {
	events := facetEvents()
	assert.Equal(t, []string{"e1", "e2", "e3", "e4"}, ids(Filter(events, NewSelection())))

	sel := NewSelection(Tag{Facet: FacetWork, ID: "w1"}, Tag{Facet: FacetWork, ID: "w3"})
	assert.Equal(t, []string{"e1", "e3", "e4"}, ids(Filter(events, sel)))

	sel.Add(FacetContractor, "acme")
	assert.Equal(t, []string{"e1", "e3"}, ids(Filter(events, sel)))

	sel.Add(FacetObject, "tower-a")
	assert.Equal(t, []string{"e1"}, ids(Filter(events, sel)))
}

func TestComputeTagFacetsAvailability(t *testing.T) {
	events := facetEvents()
	sel := NewSelection(Tag{Facet: FacetObject, ID: "tower-a"})
	states := map[string]TagState{}
	for _, st := range ComputeTagFacets(events, sel) {
		states[st.Tag.Key()] = st
	}

	// other tags in the selected facet stay available
	assert.True(t, states["object:tower-b"].Enabled)
	assert.True(t, states["object:tower-a"].Selected)

	assert.True(t, states["work:w1"].Enabled)
	assert.True(t, states["work:w2"].Enabled)
	assert.False(t, states["work:w3"].Enabled)
	assert.Equal(t, 0, states["work:w3"].Count)

	assert.True(t, states["contractor:acme"].Enabled)
	assert.Equal(t, 1, states["contractor:acme"].Count)
	assert.True(t, states["contractor:bolt"].Enabled)
}

func TestSelectedTagAlwaysEnabled(t *testing.T) {
	events := facetEvents()
	sel := NewSelection(
		Tag{Facet: FacetWork, ID: "w2"},
		Tag{Facet: FacetContractor, ID: "acme"},
		Tag{Facet: FacetObject, ID: "gone"},
	)
	require.Empty(t, Filter(events, sel))

	avail := TagFacetMap(events, sel)
	assert.True(t, avail["work:w2"])
	assert.True(t, avail["contractor:acme"])
	assert.True(t, avail["object:gone"])

	// holds with no events at all
	avail = TagFacetMap(nil, sel)
	assert.Len(t, avail, 3)
	for key, enabled := range avail {
		assert.True(t, enabled, key)
	}
}

func TestComputeTagFacetsOrder(t *testing.T) {
	states := ComputeTagFacets(facetEvents(), NewSelection())
	require.NotEmpty(t, states)
	var facets []Facet
	for _, st := range states {
		if len(facets) == 0 || facets[len(facets)-1] != st.Tag.Facet {
			facets = append(facets, st.Tag.Facet)
		}
	}
	assert.Equal(t, Facets, facets)
	assert.Equal(t, "title w1", states[2].Tag.Label)
}
