package model

import (
	"fmt"
	"time"
)

// LockMode constrains which mutations a record accepts.
type LockMode string

const (
	LockNone       LockMode = "none"
	LockReadOnly   LockMode = "read_only"
	LockAppendOnly LockMode = "append_only"
	LockNoDelete   LockMode = "no_delete"
	LockCustom     LockMode = "custom"
)

// ValidLockModes are the modes accepted by Lock.
var ValidLockModes = map[LockMode]bool{
	LockNone:       true,
	LockReadOnly:   true,
	LockAppendOnly: true,
	LockNoDelete:   true,
	LockCustom:     true,
}

// LockPolicy refines a lock mode. Deny always wins; Allow exempts ops
// from the mode's restriction.
type LockPolicy struct {
	Allow     []Op       `json:"allow,omitempty"`
	Deny      []Op       `json:"deny,omitempty"`
	Reviewers []string   `json:"reviewers,omitempty"`
	Expires   *time.Time `json:"expires,omitempty"`
}

// LockedError describes a mutation refused by a record's lock.
type LockedError struct {
	ID     int64
	Op     Op
	Mode   LockMode
	Reason string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("memory %d is locked (%s): %s", e.ID, e.Mode, e.Reason)
}

// CheckLock decides whether op may mutate m at instant now.
// Lock itself always passes so a lock can be changed or lifted.
func (m *Memory) CheckLock(op Op, actor string, now time.Time) error {
	if op == OpLock || op.ReadOnly() {
		return nil
	}
	if m.LockMode == "" || m.LockMode == LockNone {
		return nil
	}
	if m.LockExpires != nil && !m.LockExpires.After(now) {
		return nil
	}
	deny := func(reason string) error {
		return &LockedError{ID: m.ID, Op: op, Mode: m.LockMode, Reason: reason}
	}

	p := m.LockPolicy
	if p == nil {
		p = &LockPolicy{}
	}
	if len(p.Reviewers) > 0 && !containsString(p.Reviewers, actor) {
		return deny(fmt.Sprintf("%s requires a reviewer", op))
	}
	if containsOp(p.Deny, op) {
		return deny(fmt.Sprintf("policy denies %s", op))
	}
	if containsOp(p.Allow, op) {
		return nil
	}

	switch m.LockMode {
	case LockReadOnly:
		return deny(fmt.Sprintf("read_only forbids %s", op))
	case LockAppendOnly:
		if op != OpLabel {
			return deny(fmt.Sprintf("append_only allows metadata changes only, not %s", op))
		}
	case LockNoDelete:
		if op == OpDelete || op == OpMerge {
			return deny(fmt.Sprintf("no_delete forbids %s", op))
		}
	case LockCustom:
		if len(p.Allow) > 0 {
			return deny(fmt.Sprintf("policy does not allow %s", op))
		}
	}
	return nil
}

func containsOp(ops []Op, op Op) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
