package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rcliao/memops/internal/model"
)

// DefaultQueryLimit caps filter queries that give no limit.
const DefaultQueryLimit = 100

// Query returns live records matching every predicate in p.
// Records without a time facet sort last under time ordering.
func (r rows) Query(ctx context.Context, p FilterParams) ([]model.Memory, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	where := []string{"m.deleted = 0"}
	var args []any

	for _, tag := range p.HasTags {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(m.tags) WHERE json_each.value = ?)")
		args = append(args, tag)
	}
	for _, tag := range p.NotTags {
		where = append(where, "NOT EXISTS (SELECT 1 FROM json_each(m.tags) WHERE json_each.value = ?)")
		args = append(args, tag)
	}
	for _, eq := range [][2]string{
		{"m.type", p.Type}, {"m.subject", p.Subject}, {"m.location", p.Location}, {"m.topic", p.Topic},
	} {
		if eq[1] != "" {
			where = append(where, eq[0]+" = ?")
			args = append(args, eq[1])
		}
	}
	if p.TimeStart != nil {
		where = append(where, "m.time >= ?")
		args = append(args, formatTime(p.TimeStart))
	}
	if p.TimeEnd != nil {
		where = append(where, "m.time < ?")
		args = append(args, formatTime(p.TimeEnd))
	}
	if p.WeightGTE != nil {
		where = append(where, "m.weight >= ?")
		args = append(args, *p.WeightGTE)
	}
	if p.WeightLTE != nil {
		where = append(where, "m.weight <= ?")
		args = append(args, *p.WeightLTE)
	}
	if p.ExpireBefore != nil {
		where = append(where, "m.expire_at < ?")
		args = append(args, formatTime(p.ExpireBefore))
	}
	if p.ExpireAfter != nil {
		where = append(where, "m.expire_at > ?")
		args = append(args, formatTime(p.ExpireAfter))
	}

	var order string
	switch p.OrderBy {
	case "time_asc":
		order = "m.time IS NULL, m.time ASC, m.id ASC"
	case "weight_desc":
		order = "m.weight DESC, m.id DESC"
	default:
		order = "m.time IS NULL, m.time DESC, m.id DESC"
	}

	query := fmt.Sprintf(`SELECT %s FROM memories m WHERE %s ORDER BY %s LIMIT ?`,
		qualified(memoryColumns), strings.Join(where, " AND "), order)
	args = append(args, limit)

	return r.list(ctx, query, args...)
}

// Candidates returns every live record in id order.
func (r rows) Candidates(ctx context.Context) ([]model.Memory, error) {
	return r.list(ctx, `SELECT `+memoryColumns+` FROM memories WHERE deleted = 0 ORDER BY id`)
}

// qualified prefixes each column with the m. table alias.
func qualified(cols string) string {
	parts := strings.Split(cols, ",")
	for i, c := range parts {
		parts[i] = "m." + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}
