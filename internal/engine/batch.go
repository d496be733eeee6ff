package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/memops/internal/ir"
	"github.com/rcliao/memops/internal/memerr"
	"github.com/rcliao/memops/internal/model"
	"github.com/rcliao/memops/internal/store"
)

// Item statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// ItemOutcome is the per-record result of a best-effort operation.
type ItemOutcome struct {
	ID     int64         `json:"id"`
	Status string        `json:"status"`
	Error  *memerr.Error `json:"error,omitempty"`
}

// BatchResult is the itemized outcome of a best-effort operation.
type BatchResult struct {
	Requested int           `json:"requested"`
	Affected  int           `json:"affected"`
	Succeeded []int64       `json:"succeeded"`
	Items     []ItemOutcome `json:"items"`
}

func newBatch(n int) BatchResult {
	return BatchResult{Requested: n, Succeeded: []int64{}, Items: make([]ItemOutcome, 0, n)}
}

func (b *BatchResult) record(id int64, err error) {
	if err == nil {
		b.Affected++
		b.Succeeded = append(b.Succeeded, id)
		b.Items = append(b.Items, ItemOutcome{ID: id, Status: StatusOK})
		return
	}
	b.Items = append(b.Items, ItemOutcome{ID: id, Status: StatusFailed, Error: memerr.From(err)})
}

// Failed lists the ids whose mutation did not apply.
func (b *BatchResult) Failed() []int64 {
	var ids []int64
	for _, it := range b.Items {
		if it.Status == StatusFailed {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

func (b *BatchResult) affectedCount() int { return b.Affected }

func (b *BatchResult) firstFailure() *memerr.Error {
	for _, it := range b.Items {
		if it.Error != nil {
			return it.Error
		}
	}
	return nil
}

// recordFunc applies one operation to a loaded, lock-checked record.
type recordFunc func(ctx context.Context, tx *store.Tx, m *model.Memory) error

// mutate adapts an in-memory change into a recordFunc that writes m back.
func mutate(fn func(m *model.Memory) error) recordFunc {
	return func(ctx context.Context, tx *store.Tx, m *model.Memory) error {
		if err := fn(m); err != nil {
			return err
		}
		if err := tx.Update(ctx, m); err != nil {
			return memerr.Store(err, "update memory %d", m.ID)
		}
		return nil
	}
}

// applyEach runs fn once per id, each in its own transaction. A failing
// record is itemized and does not stop the batch.
func (e *Engine) applyEach(ctx context.Context, req *ir.Request, ids []int64, now time.Time, fn recordFunc) BatchResult {
	out := newBatch(len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			out.record(id, memerr.Store(err, "request cancelled"))
			continue
		}
		err := e.store.InTx(ctx, func(tx *store.Tx) error {
			m, err := loadLive(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := m.CheckLock(req.Op, req.Meta.Actor, now); err != nil {
				return conflict(err)
			}
			return fn(ctx, tx, m)
		})
		out.record(id, err)
	}
	return out
}

// loadLive reads a record inside tx and rejects missing or deleted rows.
func loadLive(ctx context.Context, tx *store.Tx, id int64) (*model.Memory, error) {
	m, err := tx.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, memerr.NotFound("memory %d does not exist", id)
	}
	if err != nil {
		return nil, memerr.Store(err, "load memory %d", id)
	}
	if m.Deleted {
		return nil, memerr.NotFound("memory %d is deleted", id)
	}
	return m, nil
}
