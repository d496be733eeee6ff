// Package model defines the core memory data types.
package model

import (
	"math"
	"time"
)

// Memory represents one stored knowledge record.
type Memory struct {
	ID       int64          `json:"id"`
	Text     string         `json:"text"`
	Type     string         `json:"type,omitempty"`
	Subject  string         `json:"subject,omitempty"`
	Time     *time.Time     `json:"time,omitempty"`
	Location string         `json:"location,omitempty"`
	Topic    string         `json:"topic,omitempty"`
	Facets   map[string]any `json:"facets,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Weight   float64        `json:"weight"`
	Source   string         `json:"source,omitempty"`

	Embedding *Embedding `json:"embedding,omitempty"`

	ExpireAt     *time.Time   `json:"expire_at,omitempty"`
	ExpireAction ExpireAction `json:"expire_action,omitempty"`
	ExpireReason string       `json:"expire_reason,omitempty"`

	LockMode    LockMode    `json:"lock_mode,omitempty"`
	LockReason  string      `json:"lock_reason,omitempty"`
	LockPolicy  *LockPolicy `json:"lock_policy,omitempty"`
	LockExpires *time.Time  `json:"lock_expires,omitempty"`

	AutoFrequency    string     `json:"auto_frequency,omitempty"`
	NextAutoUpdateAt *time.Time `json:"next_auto_update_at,omitempty"`

	LineageParents  []int64 `json:"lineage_parents,omitempty"`
	LineageChildren []int64 `json:"lineage_children,omitempty"`

	Permissions Permissions `json:"permissions"`

	Deleted      bool       `json:"deleted"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	DeleteReason string     `json:"delete_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Embedding is a stored vector plus the metadata needed to decide
// whether it is comparable with a query vector.
type Embedding struct {
	Vector   []float32 `json:"vector"`
	Dim      int       `json:"dim"`
	Model    string    `json:"model,omitempty"`
	Provider string    `json:"provider,omitempty"`
}

// Permissions are stored and queryable; enforcement happens outside the engine.
type Permissions struct {
	ReadLevel      string   `json:"read_perm_level,omitempty"`
	WriteLevel     string   `json:"write_perm_level,omitempty"`
	ReadWhitelist  []string `json:"read_whitelist,omitempty"`
	ReadBlacklist  []string `json:"read_blacklist,omitempty"`
	WriteWhitelist []string `json:"write_whitelist,omitempty"`
	WriteBlacklist []string `json:"write_blacklist,omitempty"`
}

// DefaultWeight is assigned by Encode when the caller gives none.
const DefaultWeight = 0.5

// ClampWeight forces w into [0,1]. NaN becomes 0.
func ClampWeight(w float64) float64 {
	if math.IsNaN(w) || w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}

// ScalarFacetKeys are facet keys mirrored into their own columns.
var ScalarFacetKeys = []string{"subject", "time", "location", "topic"}

// HasTag reports whether the record carries tag.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// LifecycleState is the two-phase deletion state of a record.
type LifecycleState string

const (
	StateActive      LifecycleState = "active"
	StateSoftDeleted LifecycleState = "soft_deleted"
	// StateHardDeleted is never loaded from the store; it names a record
	// whose row is physically gone.
	StateHardDeleted LifecycleState = "hard_deleted"
)

// State derives the lifecycle state from the persisted flag.
func (m *Memory) State() LifecycleState {
	if m == nil {
		return StateHardDeleted
	}
	if m.Deleted {
		return StateSoftDeleted
	}
	return StateActive
}

// ExpireAction is what the expiry sweep does once expire_at has passed.
type ExpireAction string

const (
	ExpireSoftDelete ExpireAction = "soft_delete"
	ExpireHardDelete ExpireAction = "hard_delete"
	ExpireDemote     ExpireAction = "demote"
	ExpireAnonymize  ExpireAction = "anonymize"
)

// ValidExpireActions are the allowed on-expire actions.
var ValidExpireActions = map[ExpireAction]bool{
	ExpireSoftDelete: true,
	ExpireHardDelete: true,
	ExpireDemote:     true,
	ExpireAnonymize:  true,
}
