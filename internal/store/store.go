// Package store provides the memory storage interface and SQLite implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/memops/internal/model"
)

// ErrNotFound is returned when a record id has no row.
var ErrNotFound = errors.New("memory not found")

// FilterParams is a resolved structured filter. Times are absolute.
type FilterParams struct {
	HasTags      []string
	NotTags      []string
	Type         string
	Subject      string
	Location     string
	Topic        string
	TimeStart    *time.Time // inclusive
	TimeEnd      *time.Time // exclusive
	WeightGTE    *float64
	WeightLTE    *float64
	ExpireBefore *time.Time
	ExpireAfter  *time.Time
	OrderBy      string // time_desc (default), time_asc, weight_desc
	Limit        int
}

// Reader is the read side used by target resolution and retrieval.
type Reader interface {
	// Get loads one record, soft-deleted included.
	Get(ctx context.Context, id int64) (*model.Memory, error)

	// GetMany loads the listed records in order, skipping ids with no row.
	GetMany(ctx context.Context, ids []int64) ([]model.Memory, error)

	// Live returns the subset of ids naming non-deleted records, order preserved.
	Live(ctx context.Context, ids []int64) ([]int64, error)

	// Query returns live records matching a structured filter.
	Query(ctx context.Context, p FilterParams) ([]model.Memory, error)

	// Candidates returns every live record for scoring.
	Candidates(ctx context.Context) ([]model.Memory, error)

	// Context packs the listed live records' text into a token budget.
	Context(ctx context.Context, p ContextParams) (*ContextResult, error)
}

// Store defines the memory storage interface.
type Store interface {
	Reader

	// Insert stores a new record and returns its assigned id.
	Insert(ctx context.Context, m *model.Memory) (int64, error)

	// InTx runs fn inside one write transaction. Any error rolls back.
	InTx(ctx context.Context, fn func(tx *Tx) error) error

	// Due returns live records whose expire_at is at or before now.
	Due(ctx context.Context, now time.Time) ([]model.Memory, error)

	// Count returns the number of rows, deleted included.
	Count(ctx context.Context) (int, error)

	// Close closes the store.
	Close() error
}
