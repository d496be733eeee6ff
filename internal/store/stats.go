package store

import (
	"context"
	"fmt"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath         string      `json:"db_path"`
	DBSizeBytes    int64       `json:"db_size_bytes"`
	TotalMemories  int         `json:"total_memories"`
	ActiveMemories int         `json:"active_memories"`
	SoftDeleted    int         `json:"soft_deleted"`
	Locked         int         `json:"locked"`
	Expiring       int         `json:"expiring"`
	WithEmbedding  int         `json:"with_embedding"`
	Types          []TypeStats `json:"types"`
}

// TypeStats holds per-type counts of live records.
type TypeStats struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path}

	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	counts := []struct {
		dst   *int
		query string
	}{
		{&st.TotalMemories, `SELECT COUNT(*) FROM memories`},
		{&st.ActiveMemories, `SELECT COUNT(*) FROM memories WHERE deleted = 0`},
		{&st.SoftDeleted, `SELECT COUNT(*) FROM memories WHERE deleted = 1`},
		{&st.Locked, `SELECT COUNT(*) FROM memories WHERE deleted = 0 AND lock_mode IS NOT NULL AND lock_mode != 'none'`},
		{&st.Expiring, `SELECT COUNT(*) FROM memories WHERE deleted = 0 AND expire_at IS NOT NULL`},
		{&st.WithEmbedding, `SELECT COUNT(*) FROM memories WHERE deleted = 0 AND embedding IS NOT NULL`},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return st, fmt.Errorf("stats: %w", err)
		}
	}

	rs, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(type, ''), COUNT(*) AS cnt
		FROM memories WHERE deleted = 0
		GROUP BY type ORDER BY cnt DESC, type`)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	defer rs.Close()

	for rs.Next() {
		var ts TypeStats
		if err := rs.Scan(&ts.Type, &ts.Count); err != nil {
			return st, err
		}
		st.Types = append(st.Types, ts)
	}

	return st, rs.Err()
}
