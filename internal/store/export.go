package store

import (
	"context"
	"fmt"

	"github.com/rcliao/memops/internal/model"
)

// ExportAll returns every record in id order, soft-deleted ones only when asked.
func (s *SQLiteStore) ExportAll(ctx context.Context, includeDeleted bool) ([]model.Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories`
	if !includeDeleted {
		query += ` WHERE deleted = 0`
	}
	return s.list(ctx, query+` ORDER BY id`)
}

// Import stores exported records in one transaction. Records get fresh ids;
// lineage references between imported records are rewritten to the new ids.
func (s *SQLiteStore) Import(ctx context.Context, memories []model.Memory) (int, error) {
	imported := 0
	err := s.InTx(ctx, func(tx *Tx) error {
		remap := make(map[int64]int64, len(memories))
		inserted := make([]*model.Memory, 0, len(memories))
		for i := range memories {
			m := memories[i]
			oldID := m.ID
			m.ID = 0
			if _, err := tx.Insert(ctx, &m); err != nil {
				return fmt.Errorf("import memory %d: %w", oldID, err)
			}
			if oldID != 0 {
				remap[oldID] = m.ID
			}
			inserted = append(inserted, &m)
		}
		for _, m := range inserted {
			if len(m.LineageParents) == 0 && len(m.LineageChildren) == 0 {
				continue
			}
			m.LineageParents = remapIDs(m.LineageParents, remap)
			m.LineageChildren = remapIDs(m.LineageChildren, remap)
			if err := tx.Update(ctx, m); err != nil {
				return err
			}
		}
		imported = len(inserted)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return imported, nil
}

func remapIDs(ids []int64, remap map[int64]int64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		if n, ok := remap[id]; ok {
			id = n
		}
		out[i] = id
	}
	return out
}
