package ir

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TargetMode names the selector a Target uses.
type TargetMode string

const (
	ModeIDs    TargetMode = "ids"
	ModeFilter TargetMode = "filter"
	ModeSearch TargetMode = "search"
	ModeAll    TargetMode = "all"
)

// Target selects the records an operation acts on. Exactly one field is set.
type Target struct {
	IDs    IDList  `json:"ids,omitempty"`
	Filter *Filter `json:"filter,omitempty"`
	Search *Search `json:"search,omitempty"`
	All    bool    `json:"all,omitempty"`
}

// Mode returns the selector in use. It assumes Validate passed.
func (t *Target) Mode() TargetMode {
	switch {
	case t.IDs != nil:
		return ModeIDs
	case t.Filter != nil:
		return ModeFilter
	case t.Search != nil:
		return ModeSearch
	default:
		return ModeAll
	}
}

// Validate checks that exactly one selector is present and well formed.
func (t *Target) Validate() error {
	n := 0
	if t.IDs != nil {
		n++
	}
	if t.Filter != nil {
		n++
	}
	if t.Search != nil {
		n++
	}
	if t.All {
		n++
	}
	if n != 1 {
		return fmt.Errorf("target must choose exactly one of: ids | filter | search | all")
	}
	switch t.Mode() {
	case ModeIDs:
		if len(t.IDs) == 0 {
			return fmt.Errorf("target.ids must not be empty")
		}
	case ModeFilter:
		if err := t.Filter.Validate(); err != nil {
			return fmt.Errorf("target.filter: %w", err)
		}
	case ModeSearch:
		if err := t.Search.Validate(); err != nil {
			return fmt.Errorf("target.search: %w", err)
		}
	}
	return nil
}

// IDList is a list of record ids. It accepts a single id or a list, with
// each id given as a JSON number or numeric string.
type IDList []int64

// UnmarshalJSON implements json.Unmarshaler.
func (l *IDList) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		raw = []json.RawMessage{b}
	}
	ids := make(IDList, 0, len(raw))
	for _, r := range raw {
		var id ID
		if err := id.UnmarshalJSON(r); err != nil {
			return err
		}
		ids = append(ids, int64(id))
	}
	*l = ids
	return nil
}

// ID is a record id accepting a JSON number or numeric string. The string
// "auto" decodes to 0.
type ID int64

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*id = ID(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("id must be an integer or numeric string, got %s", string(b))
	}
	if s == "" || strings.EqualFold(s, "auto") {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("id must be an integer or numeric string, got %q", s)
	}
	*id = ID(n)
	return nil
}

// Filter order values.
const (
	OrderRelevance  = "relevance"
	OrderTimeDesc   = "time_desc"
	OrderTimeAsc    = "time_asc"
	OrderWeightDesc = "weight_desc"
)

// Filter is a conjunctive structured predicate.
type Filter struct {
	HasTags      []string   `json:"has_tags,omitempty"`
	NotTags      []string   `json:"not_tags,omitempty"`
	Type         string     `json:"type,omitempty"`
	Subject      string     `json:"subject,omitempty"`
	Location     string     `json:"location,omitempty"`
	Topic        string     `json:"topic,omitempty"`
	TimeRange    *TimeRange `json:"time_range,omitempty"`
	WeightGTE    *float64   `json:"weight_gte,omitempty"`
	WeightLTE    *float64   `json:"weight_lte,omitempty"`
	ExpireBefore *Timestamp `json:"expire_before,omitempty"`
	ExpireAfter  *Timestamp `json:"expire_after,omitempty"`
	Limit        int        `json:"limit,omitempty"`
	OrderBy      string     `json:"order_by,omitempty"`
}

// Validate checks the filter's fields.
func (f *Filter) Validate() error {
	if f.Limit < 0 {
		return fmt.Errorf("limit must be >= 1")
	}
	for _, w := range []*float64{f.WeightGTE, f.WeightLTE} {
		if w != nil && (*w < 0 || *w > 1) {
			return fmt.Errorf("weight bounds must be in [0,1]")
		}
	}
	switch f.OrderBy {
	case "", OrderTimeDesc, OrderTimeAsc, OrderWeightDesc:
	default:
		return fmt.Errorf("order_by must be one of time_desc, time_asc, weight_desc")
	}
	if f.TimeRange != nil {
		if err := f.TimeRange.Validate(); err != nil {
			return fmt.Errorf("time_range: %w", err)
		}
	}
	if len(f.HasTags) == 0 && len(f.NotTags) == 0 && f.Type == "" && f.Subject == "" &&
		f.Location == "" && f.Topic == "" && f.TimeRange == nil && f.WeightGTE == nil &&
		f.WeightLTE == nil && f.ExpireBefore == nil && f.ExpireAfter == nil && f.Limit == 0 {
		return fmt.Errorf("filter must carry at least one predicate or a limit")
	}
	return nil
}

// TimeRange is either relative ({relative:"last", amount, unit}) or
// absolute ({start, end}, end exclusive). Never both.
type TimeRange struct {
	Start    *Timestamp `json:"start,omitempty"`
	End      *Timestamp `json:"end,omitempty"`
	Relative string     `json:"relative,omitempty"`
	Amount   int        `json:"amount,omitempty"`
	Unit     string     `json:"unit,omitempty"`
}

var timeRangeUnits = map[string]bool{
	"minutes": true, "hours": true, "days": true, "weeks": true, "months": true, "years": true,
}

// Validate enforces the flat two-variant shape.
func (r *TimeRange) Validate() error {
	abs := r.Start != nil || r.End != nil
	rel := r.Relative != "" || r.Amount != 0 || r.Unit != ""
	switch {
	case abs && rel:
		return fmt.Errorf("provide either start+end or relative+amount+unit, not both")
	case abs:
		if r.Start == nil || r.End == nil {
			return fmt.Errorf("absolute range needs both start and end")
		}
		if !r.End.After(r.Start.Time) {
			return fmt.Errorf("end must be after start")
		}
	case rel:
		if r.Relative != "last" {
			return fmt.Errorf(`relative must be "last"`)
		}
		if r.Amount <= 0 {
			return fmt.Errorf("amount must be > 0")
		}
		if !timeRangeUnits[r.Unit] {
			return fmt.Errorf("unit must be one of minutes, hours, days, weeks, months, years")
		}
		if !fitsDuration(int64(r.Amount), durationUnits[r.Unit]) {
			return fmt.Errorf("amount %d %s out of range", r.Amount, r.Unit)
		}
	default:
		return fmt.Errorf("provide start+end or relative+amount+unit")
	}
	return nil
}

// Bounds resolves the range against now. The range is [start, end).
// Record times are stored to the millisecond, so a relative range ends at
// the millisecond after now: records stamped now match and later ones do not.
func (r *TimeRange) Bounds(now time.Time) (start, end time.Time) {
	if r.Start != nil {
		return r.Start.Time, r.End.Time
	}
	unit := durationUnits[r.Unit]
	return now.Add(-time.Duration(r.Amount) * unit), now.Truncate(time.Millisecond).Add(time.Millisecond)
}

// Search selects records by hybrid similarity to a query.
type Search struct {
	Intent    SearchIntent     `json:"intent"`
	Overrides *SearchOverrides `json:"overrides,omitempty"`
	Limit     int              `json:"limit,omitempty"`
}

// SearchIntent is exactly one of a text query or a raw vector.
type SearchIntent struct {
	Query  string    `json:"query,omitempty"`
	Vector []float32 `json:"vector,omitempty"`
}

// SearchOverrides tune ranking per request.
type SearchOverrides struct {
	K       int      `json:"k,omitempty"`
	Alpha   *float64 `json:"alpha,omitempty"`
	OrderBy string   `json:"order_by,omitempty"`
}

// Validate checks the search block.
func (s *Search) Validate() error {
	hasQuery := strings.TrimSpace(s.Intent.Query) != ""
	hasVector := len(s.Intent.Vector) > 0
	if hasQuery == hasVector {
		return fmt.Errorf("intent must set either query or vector, but not both")
	}
	if s.Limit < 0 {
		return fmt.Errorf("limit must be >= 1")
	}
	if o := s.Overrides; o != nil {
		if o.K < 0 {
			return fmt.Errorf("overrides.k must be >= 1")
		}
		if o.Alpha != nil && (*o.Alpha < 0 || *o.Alpha > 1) {
			return fmt.Errorf("overrides.alpha must be in [0,1]")
		}
		switch o.OrderBy {
		case "", OrderRelevance, OrderTimeDesc, OrderTimeAsc, OrderWeightDesc:
		default:
			return fmt.Errorf("overrides.order_by must be one of relevance, time_desc, time_asc, weight_desc")
		}
	}
	return nil
}
