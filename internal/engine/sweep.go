package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/memops/internal/memerr"
	"github.com/rcliao/memops/internal/model"
	"github.com/rcliao/memops/internal/store"
)

// AnonymizedText replaces a record's text when its expiry action is anonymize.
const AnonymizedText = "[anonymized]"

// SweepItem is one applied expiry action.
type SweepItem struct {
	ID     int64              `json:"id"`
	Action model.ExpireAction `json:"action"`
}

// SweepResult reports one expiry sweep.
type SweepResult struct {
	Now     time.Time     `json:"now"`
	Due     int           `json:"due"`
	Applied []SweepItem   `json:"applied"`
	Failed  []ItemOutcome `json:"failed,omitempty"`
}

// Sweep applies the on-expire action of every live record whose deadline
// is at or before now. Locks are honoured: a blocked record keeps its
// deadline and is retried by the next sweep. Scheduling is the caller's.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	start := time.Now()
	due, err := e.store.Due(ctx, now)
	if err != nil {
		return nil, memerr.Store(err, "load due records")
	}

	out := &SweepResult{Now: now.UTC(), Due: len(due), Applied: []SweepItem{}}
	for i := range due {
		planned := due[i]
		action := planned.ExpireAction
		if action == "" {
			action = model.ExpireSoftDelete
		}
		applied := false
		err := e.store.InTx(ctx, func(tx *store.Tx) error {
			m, err := loadLive(ctx, tx, planned.ID)
			if err != nil {
				return err
			}
			if m.ExpireAt == nil || m.ExpireAt.After(now) {
				// Deadline moved since the scan.
				return nil
			}
			if err := m.CheckLock(expireOp(action), "", now); err != nil {
				return conflict(err)
			}
			applied = true
			return applyExpiry(ctx, tx, m, action, now)
		})
		if err != nil {
			out.Failed = append(out.Failed, ItemOutcome{ID: planned.ID, Status: StatusFailed, Error: memerr.From(err)})
			continue
		}
		if applied {
			out.Applied = append(out.Applied, SweepItem{ID: planned.ID, Action: action})
		}
	}

	e.metrics.RecordOperation("Sweep", "success", time.Since(start), len(out.Applied))
	e.logger.Info("expiry sweep",
		zap.Time("now", now),
		zap.Int("due", out.Due),
		zap.Int("applied", len(out.Applied)),
		zap.Int("failed", len(out.Failed)))
	return out, nil
}

// expireOp is the operation whose lock rules govern an expiry action.
func expireOp(action model.ExpireAction) model.Op {
	switch action {
	case model.ExpireDemote:
		return model.OpDemote
	case model.ExpireAnonymize:
		return model.OpUpdate
	default:
		return model.OpDelete
	}
}

func applyExpiry(ctx context.Context, tx *store.Tx, m *model.Memory, action model.ExpireAction, now time.Time) error {
	if action == model.ExpireHardDelete {
		if err := tx.HardDelete(ctx, m.ID); err != nil {
			return memerr.Store(err, "delete memory %d", m.ID)
		}
		return nil
	}

	switch action {
	case model.ExpireDemote:
		m.Weight = 0
	case model.ExpireAnonymize:
		m.Text = AnonymizedText
		m.Subject = ""
		m.Location = ""
		m.Topic = ""
		m.Facets = nil
		m.Embedding = nil
		m.Source = ""
	default:
		reason := m.ExpireReason
		if reason == "" {
			reason = "expired"
		}
		softDelete(m, reason, now)
	}
	m.ExpireAt = nil
	if err := tx.Update(ctx, m); err != nil {
		return memerr.Store(err, "update memory %d", m.ID)
	}
	return nil
}
