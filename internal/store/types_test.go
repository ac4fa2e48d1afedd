package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHierarchyValidate(t *testing.T) {
	tests := []struct {
		name      string
		hierarchy *Hierarchy
		wantErr   bool
	}{
		{
			name: "valid tree",
			hierarchy: &Hierarchy{
				DocID: "d",
				Sections: map[string]*Section{
					"s1": {ID: "s1", ChildIDs: []string{"s2"}},
					"s2": {ID: "s2", ParentID: "s1"},
				},
				RootIDs: []string{"s1"},
			},
		},
		{
			name: "missing parent",
			hierarchy: &Hierarchy{
				DocID:    "d",
				Sections: map[string]*Section{"s1": {ID: "s1", ParentID: "ghost"}},
				RootIDs:  []string{"s1"},
			},
			wantErr: true,
		},
		{
			name: "missing child",
			hierarchy: &Hierarchy{
				DocID:    "d",
				Sections: map[string]*Section{"s1": {ID: "s1", ChildIDs: []string{"ghost"}}},
				RootIDs:  []string{"s1"},
			},
			wantErr: true,
		},
		{
			name: "missing root",
			hierarchy: &Hierarchy{
				DocID:    "d",
				Sections: map[string]*Section{"s1": {ID: "s1"}},
				RootIDs:  []string{"s1", "ghost"},
			},
			wantErr: true,
		},
		{
			name: "mismatched arena key",
			hierarchy: &Hierarchy{
				DocID:    "d",
				Sections: map[string]*Section{"s1": {ID: "other"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.hierarchy.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHierarchyValidateChunks(t *testing.T) {
	h := &Hierarchy{
		DocID: "d",
		Sections: map[string]*Section{
			"s1": {ID: "s1", ChunkIDs: []string{"c1", "c2"}},
			"s2": {ID: "s2", ChunkIDs: []string{"c3", "c3"}},
		},
		RootIDs: []string{"s1", "s2"},
	}

	tests := []struct {
		name    string
		chunks  []*Chunk
		wantErr string
	}{
		{
			name: "members listed once",
			chunks: []*Chunk{
				{ID: "c1", SectionID: "s1"},
				{ID: "c2", SectionID: "s1"},
			},
		},
		{
			name:   "chunk without section is fine",
			chunks: []*Chunk{{ID: "free"}},
		},
		{
			name:    "chunk references missing section",
			chunks:  []*Chunk{{ID: "c9", SectionID: "ghost"}},
			wantErr: "missing section ghost",
		},
		{
			name:    "section lists chunk twice",
			chunks:  []*Chunk{{ID: "c3", SectionID: "s2"}},
			wantErr: "2 times",
		},
		{
			name:    "section does not list its chunk",
			chunks:  []*Chunk{{ID: "c9", SectionID: "s1"}},
			wantErr: "0 times",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.ValidateChunks(tt.chunks)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHierarchyBuildPageIndex(t *testing.T) {
	// Given: chunks on two pages, one pointing at an unknown section
	h := &Hierarchy{
		DocID: "d",
		Sections: map[string]*Section{
			"s1": {ID: "s1"},
			"s2": {ID: "s2"},
		},
		RootIDs: []string{"s1", "s2"},
	}
	chunks := []*Chunk{
		{ID: "c1", PageNumber: 1, SectionID: "s2"},
		{ID: "c2", PageNumber: 1, SectionID: "s1"},
		{ID: "c3", PageNumber: 1, SectionID: "s1"},
		{ID: "c4", PageNumber: 2, SectionID: "ghost"},
		{ID: "c5", PageNumber: 2},
	}

	// When: the page index is built
	h.BuildPageIndex(chunks)

	// Then: page 1 lists both sections sorted, page 2 has nothing valid
	require.Contains(t, h.PageSections, 1)
	assert.Equal(t, []string{"s1", "s2"}, h.PageSections[1])
	assert.NotContains(t, h.PageSections, 2)
}

func TestHierarchySectionLookup(t *testing.T) {
	var nilH *Hierarchy
	assert.Nil(t, nilH.Section("s1"))

	h := &Hierarchy{Sections: map[string]*Section{"s1": {ID: "s1"}}}
	assert.NotNil(t, h.Section("s1"))
	assert.Nil(t, h.Section(""))
	assert.Nil(t, h.Section("missing"))
}
