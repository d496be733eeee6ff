package store

import (
	"context"

	"github.com/rcliao/memops/internal/model"
)

// Lineage is a record with its direct provenance neighbours.
type Lineage struct {
	Memory   model.Memory   `json:"memory"`
	Parents  []model.Memory `json:"parents"`
	Children []model.Memory `json:"children"`
}

// Lineage looks up the records named by a record's lineage arrays.
// Edges are weak: ids whose rows are gone are skipped, deleted rows are kept.
func (s *SQLiteStore) Lineage(ctx context.Context, id int64) (*Lineage, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	parents, err := s.GetMany(ctx, m.LineageParents)
	if err != nil {
		return nil, err
	}
	children, err := s.GetMany(ctx, m.LineageChildren)
	if err != nil {
		return nil, err
	}
	if parents == nil {
		parents = []model.Memory{}
	}
	if children == nil {
		children = []model.Memory{}
	}
	return &Lineage{Memory: *m, Parents: parents, Children: children}, nil
}
