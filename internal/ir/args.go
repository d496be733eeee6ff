package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/rcliao/memops/internal/model"
)

// Args is the operation-specific argument block. Each variant carries
// only the fields legal for its operation.
type Args interface {
	Op() model.Op
	Validate() error
}

// newArgs returns an empty variant for op.
func newArgs(op model.Op) (Args, error) {
	switch op {
	case model.OpEncode:
		return &EncodeArgs{}, nil
	case model.OpLabel:
		return &LabelArgs{}, nil
	case model.OpUpdate:
		return &UpdateArgs{}, nil
	case model.OpPromote:
		return &PromoteArgs{}, nil
	case model.OpDemote:
		return &DemoteArgs{}, nil
	case model.OpMerge:
		return &MergeArgs{}, nil
	case model.OpSplit:
		return &SplitArgs{}, nil
	case model.OpLock:
		return &LockArgs{}, nil
	case model.OpExpire:
		return &ExpireArgs{}, nil
	case model.OpDelete:
		return &DeleteArgs{}, nil
	case model.OpRetrieve:
		return &RetrieveArgs{}, nil
	case model.OpSummarize:
		return &SummarizeArgs{}, nil
	}
	return nil, fmt.Errorf("unknown op %q", op)
}

// DecodeArgs strictly decodes raw into the variant for op and validates it.
func DecodeArgs(op model.Op, raw json.RawMessage) (Args, error) {
	args, err := newArgs(op)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(args); err != nil {
		return nil, fmt.Errorf("decode %s args: %w", op, err)
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}
	return args, nil
}

// Permission fields shared by Encode and Update.
type PermissionArgs struct {
	ReadPermLevel  string   `json:"read_perm_level,omitempty"`
	WritePermLevel string   `json:"write_perm_level,omitempty"`
	ReadWhitelist  []string `json:"read_whitelist,omitempty"`
	ReadBlacklist  []string `json:"read_blacklist,omitempty"`
	WriteWhitelist []string `json:"write_whitelist,omitempty"`
	WriteBlacklist []string `json:"write_blacklist,omitempty"`
}

var (
	readLevels  = map[string]bool{"public": true, "team": true, "private": true, "custom": true}
	writeLevels = map[string]bool{"open": true, "maintainer": true, "owner_only": true, "custom": true}
)

func (p *PermissionArgs) validate() error {
	if p.ReadPermLevel != "" && !readLevels[p.ReadPermLevel] {
		return fmt.Errorf("read_perm_level must be one of public, team, private, custom")
	}
	if p.WritePermLevel != "" && !writeLevels[p.WritePermLevel] {
		return fmt.Errorf("write_perm_level must be one of open, maintainer, owner_only, custom")
	}
	return nil
}

func (p *PermissionArgs) empty() bool {
	return p.ReadPermLevel == "" && p.WritePermLevel == "" && p.ReadWhitelist == nil &&
		p.ReadBlacklist == nil && p.WriteWhitelist == nil && p.WriteBlacklist == nil
}

// validateFacets checks a facet map. A facet "time" must parse; when
// requireBusiness is set at least one non-time attribute must be present.
func validateFacets(f map[string]any, requireBusiness bool) error {
	business := 0
	for k, v := range f {
		if v == nil {
			continue
		}
		if k == "time" {
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("facets.time must be a string")
			}
			if _, err := ParseTime(s); err != nil {
				return fmt.Errorf("facets.time: %w", err)
			}
			continue
		}
		business++
	}
	if requireBusiness && business == 0 {
		return fmt.Errorf("facets must carry at least one attribute besides time")
	}
	return nil
}

func checkWeight(name string, w *float64) error {
	if w != nil && (math.IsNaN(*w) || math.IsInf(*w, 0)) {
		return fmt.Errorf("%s must be a finite number", name)
	}
	return nil
}

// Payload is exactly one of text, url or structured content.
type Payload struct {
	Text       *string        `json:"text,omitempty"`
	URL        *string        `json:"url,omitempty"`
	Structured map[string]any `json:"structured,omitempty"`
}

// Content renders the payload as the record text.
func (p Payload) Content() string {
	switch {
	case p.Text != nil:
		return *p.Text
	case p.URL != nil:
		return *p.URL
	default:
		b, _ := json.Marshal(p.Structured)
		return string(b)
	}
}

// EncodeArgs inserts a new record.
type EncodeArgs struct {
	Payload          Payload        `json:"payload"`
	Type             string         `json:"type,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	Facets           map[string]any `json:"facets,omitempty"`
	Time             *Timestamp     `json:"time,omitempty"`
	Subject          string         `json:"subject,omitempty"`
	Location         string         `json:"location,omitempty"`
	Topic            string         `json:"topic,omitempty"`
	Weight           *float64       `json:"weight,omitempty"`
	SkipEmbedding    bool           `json:"skip_embedding,omitempty"`
	Source           string         `json:"source,omitempty"`
	AutoFrequency    string         `json:"auto_frequency,omitempty"`
	ExpireAt         *Timestamp     `json:"expire_at,omitempty"`
	NextAutoUpdateAt *Timestamp     `json:"next_auto_update_at,omitempty"`
	PermissionArgs
}

func (a *EncodeArgs) Op() model.Op { return model.OpEncode }

func (a *EncodeArgs) Validate() error {
	present := 0
	if a.Payload.Text != nil {
		present++
	}
	if a.Payload.URL != nil {
		present++
	}
	if a.Payload.Structured != nil {
		present++
	}
	if present != 1 {
		return fmt.Errorf("args.payload must contain exactly one of: text | url | structured")
	}
	if strings.TrimSpace(a.Payload.Content()) == "" {
		return fmt.Errorf("args.payload must not be empty")
	}
	if a.Facets != nil {
		if err := validateFacets(a.Facets, true); err != nil {
			return fmt.Errorf("args.%w", err)
		}
	}
	if err := checkWeight("args.weight", a.Weight); err != nil {
		return err
	}
	return a.PermissionArgs.validate()
}

// LabelMode selects how Label combines new tags/facets with existing ones.
type LabelMode string

const (
	LabelAdd     LabelMode = "add"
	LabelReplace LabelMode = "replace"
	LabelRemove  LabelMode = "remove"
)

// LabelArgs adds, replaces or removes tags and facets.
type LabelArgs struct {
	Tags   []string       `json:"tags,omitempty"`
	Facets map[string]any `json:"facets,omitempty"`
	Mode   LabelMode      `json:"mode,omitempty"`
}

func (a *LabelArgs) Op() model.Op { return model.OpLabel }

func (a *LabelArgs) Validate() error {
	if len(a.Tags) == 0 && len(a.Facets) == 0 {
		return fmt.Errorf("Label requires at least one of: tags, facets")
	}
	switch a.Mode {
	case "":
		a.Mode = LabelAdd
	case LabelAdd, LabelReplace, LabelRemove:
	default:
		return fmt.Errorf("args.mode must be one of add, replace, remove")
	}
	if a.Mode != LabelRemove && a.Facets != nil {
		if err := validateFacets(a.Facets, false); err != nil {
			return fmt.Errorf("args.%w", err)
		}
	}
	return nil
}

// UpdateSet lists the scalar fields Update may overwrite. Nil means untouched.
type UpdateSet struct {
	Text             *string         `json:"text,omitempty"`
	Type             *string         `json:"type,omitempty"`
	Time             *Timestamp      `json:"time,omitempty"`
	Subject          *string         `json:"subject,omitempty"`
	Location         *string         `json:"location,omitempty"`
	Topic            *string         `json:"topic,omitempty"`
	Weight           *float64        `json:"weight,omitempty"`
	Facets           map[string]any  `json:"facets,omitempty"`
	Source           *string         `json:"source,omitempty"`
	AutoFrequency    *string         `json:"auto_frequency,omitempty"`
	ExpireAt         *Timestamp      `json:"expire_at,omitempty"`
	NextAutoUpdateAt *Timestamp      `json:"next_auto_update_at,omitempty"`
	Embedding        json.RawMessage `json:"embedding,omitempty"`
	PermissionArgs
}

// UpdateArgs overwrites scalar fields.
type UpdateArgs struct {
	Set UpdateSet `json:"set"`
}

func (a *UpdateArgs) Op() model.Op { return model.OpUpdate }

func (a *UpdateArgs) Validate() error {
	s := &a.Set
	if s.Embedding != nil {
		return fmt.Errorf("args.set.embedding cannot be written directly")
	}
	if s.Text == nil && s.Type == nil && s.Time == nil && s.Subject == nil && s.Location == nil &&
		s.Topic == nil && s.Weight == nil && s.Facets == nil && s.Source == nil &&
		s.AutoFrequency == nil && s.ExpireAt == nil && s.NextAutoUpdateAt == nil && s.PermissionArgs.empty() {
		return fmt.Errorf("args.set must contain at least one field to update")
	}
	if s.Text != nil && strings.TrimSpace(*s.Text) == "" {
		return fmt.Errorf("args.set.text must not be empty")
	}
	if s.Facets != nil {
		if err := validateFacets(s.Facets, false); err != nil {
			return fmt.Errorf("args.set.%w", err)
		}
	}
	if err := checkWeight("args.set.weight", s.Weight); err != nil {
		return err
	}
	return s.PermissionArgs.validate()
}

// Remind schedules a reminder on Promote.
type Remind struct {
	RRule string     `json:"rrule"`
	Until *Timestamp `json:"until,omitempty"`
}

// PromoteArgs raises importance. Exactly one field is set.
type PromoteArgs struct {
	Weight *float64 `json:"weight,omitempty"`
	// WeightDelta raises the weight by its magnitude; the sign is ignored.
	WeightDelta *float64 `json:"weight_delta,omitempty"`
	Remind      *Remind  `json:"remind,omitempty"`
}

func (a *PromoteArgs) Op() model.Op { return model.OpPromote }

func (a *PromoteArgs) Validate() error {
	if countSet(a.Weight != nil, a.WeightDelta != nil, a.Remind != nil) != 1 {
		return fmt.Errorf("Promote requires exactly one of: weight | weight_delta | remind")
	}
	if a.Remind != nil && strings.TrimSpace(a.Remind.RRule) == "" {
		return fmt.Errorf("args.remind must contain rrule")
	}
	if err := checkWeight("args.weight", a.Weight); err != nil {
		return err
	}
	return checkWeight("args.weight_delta", a.WeightDelta)
}

// DemoteArgs lowers importance. Exactly one field is set.
type DemoteArgs struct {
	Archive *bool    `json:"archive,omitempty"`
	Weight  *float64 `json:"weight,omitempty"`
	// WeightDelta lowers the weight by its magnitude; the sign is ignored.
	WeightDelta *float64 `json:"weight_delta,omitempty"`
}

func (a *DemoteArgs) Op() model.Op { return model.OpDemote }

func (a *DemoteArgs) Validate() error {
	if countSet(a.Archive != nil, a.Weight != nil, a.WeightDelta != nil) != 1 {
		return fmt.Errorf("Demote requires exactly one of: archive | weight | weight_delta")
	}
	if a.Archive != nil && !*a.Archive {
		return fmt.Errorf("args.archive must be true when given")
	}
	if err := checkWeight("args.weight", a.Weight); err != nil {
		return err
	}
	return checkWeight("args.weight_delta", a.WeightDelta)
}

// MergeArgs folds non-primary records into a primary.
type MergeArgs struct {
	PrimaryID       ID   `json:"primary_id,omitempty"`
	SkipReembedding bool `json:"skip_reembedding,omitempty"`
}

func (a *MergeArgs) Op() model.Op { return model.OpMerge }

func (a *MergeArgs) Validate() error {
	if a.PrimaryID < 0 {
		return fmt.Errorf("args.primary_id must be positive")
	}
	return nil
}

// Split strategies.
const (
	SplitBySentences = "by_sentences"
	SplitByChunks    = "by_chunks"
	SplitByHeadings  = "by_headings"
	SplitCustom      = "custom"
)

// SplitParams configure the chosen strategy.
type SplitParams struct {
	BySentences *struct {
		MaxSentences int `json:"max_sentences,omitempty"`
	} `json:"by_sentences,omitempty"`
	ByChunks *struct {
		ChunkSize int `json:"chunk_size,omitempty"`
		NumChunks int `json:"num_chunks,omitempty"`
	} `json:"by_chunks,omitempty"`
	Custom *struct {
		Segments  []Segment `json:"segments"`
		MaxSplits int       `json:"max_splits,omitempty"`
	} `json:"custom,omitempty"`
}

// Segment is a caller-defined piece of the source text, given as text or
// as a [start,end) character range.
type Segment struct {
	Text  string `json:"text,omitempty"`
	Range []int  `json:"range,omitempty"`
}

// SplitArgs breaks a record into several new records.
type SplitArgs struct {
	Strategy         string      `json:"strategy,omitempty"`
	Params           SplitParams `json:"params,omitempty"`
	InheritAll       *bool       `json:"inherit_all,omitempty"`
	SoftDeleteSource bool        `json:"soft_delete_source,omitempty"`
	SkipEmbedding    bool        `json:"skip_embedding,omitempty"`
}

func (a *SplitArgs) Op() model.Op { return model.OpSplit }

// Inherit reports whether children copy the source's type, tags and facets.
func (a *SplitArgs) Inherit() bool {
	return a.InheritAll == nil || *a.InheritAll
}

func (a *SplitArgs) Validate() error {
	switch a.Strategy {
	case "":
		a.Strategy = SplitBySentences
	case SplitBySentences, SplitByHeadings:
	case SplitByChunks:
		c := a.Params.ByChunks
		if c == nil || (c.ChunkSize == 0 && c.NumChunks == 0) {
			return fmt.Errorf("by_chunks requires params.by_chunks.chunk_size or num_chunks")
		}
		if c.ChunkSize != 0 && c.ChunkSize < 50 {
			return fmt.Errorf("by_chunks.chunk_size must be >= 50")
		}
		if c.NumChunks < 0 {
			return fmt.Errorf("by_chunks.num_chunks must be >= 1")
		}
	case SplitCustom:
		c := a.Params.Custom
		if c == nil || len(c.Segments) == 0 {
			return fmt.Errorf("custom strategy requires params.custom.segments")
		}
		if c.MaxSplits < 0 {
			return fmt.Errorf("custom.max_splits must be >= 1")
		}
		for i, s := range c.Segments {
			if strings.TrimSpace(s.Text) == "" && len(s.Range) != 2 {
				return fmt.Errorf("custom.segments[%d] needs text or a [start,end] range", i)
			}
		}
	default:
		return fmt.Errorf("args.strategy must be one of by_sentences, by_chunks, by_headings, custom")
	}
	if s := a.Params.BySentences; s != nil && s.MaxSentences < 0 {
		return fmt.Errorf("by_sentences.max_sentences must be >= 1")
	}
	return nil
}

// LockPolicyArgs is the wire form of a lock policy.
type LockPolicyArgs struct {
	Allow     []model.Op `json:"allow,omitempty"`
	Deny      []model.Op `json:"deny,omitempty"`
	Reviewers []string   `json:"reviewers,omitempty"`
	Expires   *Timestamp `json:"expires,omitempty"`
}

// LockArgs sets or lifts a lock.
type LockArgs struct {
	Mode   model.LockMode  `json:"mode,omitempty"`
	Reason string          `json:"reason,omitempty"`
	Policy *LockPolicyArgs `json:"policy,omitempty"`
}

func (a *LockArgs) Op() model.Op { return model.OpLock }

func (a *LockArgs) Validate() error {
	switch a.Mode {
	case "":
		a.Mode = model.LockReadOnly
	case "disabled":
		a.Mode = model.LockNone
	}
	if !model.ValidLockModes[a.Mode] {
		return fmt.Errorf("args.mode must be one of none, read_only, append_only, no_delete, custom")
	}
	if a.Mode == model.LockCustom && a.Policy == nil {
		return fmt.Errorf("lock mode custom requires a policy")
	}
	if a.Policy != nil {
		for _, op := range append(append([]model.Op{}, a.Policy.Allow...), a.Policy.Deny...) {
			if !op.Valid() {
				return fmt.Errorf("args.policy lists unknown op %q", op)
			}
		}
	}
	return nil
}

// LockPolicy converts the wire policy into the stored form.
func (a *LockArgs) LockPolicy() *model.LockPolicy {
	if a.Policy == nil || a.Mode == model.LockNone {
		return nil
	}
	return &model.LockPolicy{
		Allow:     a.Policy.Allow,
		Deny:      a.Policy.Deny,
		Reviewers: a.Policy.Reviewers,
		Expires:   a.Policy.Expires.Ptr(),
	}
}

// ExpireArgs sets a deadline and what happens when it passes.
type ExpireArgs struct {
	TTL      string             `json:"ttl,omitempty"`
	ExpireAt *Timestamp         `json:"expire_at,omitempty"`
	OnExpire model.ExpireAction `json:"on_expire,omitempty"`
	Reason   string             `json:"reason,omitempty"`
}

func (a *ExpireArgs) Op() model.Op { return model.OpExpire }

func (a *ExpireArgs) Validate() error {
	if (a.TTL != "") == (a.ExpireAt != nil) {
		return fmt.Errorf("Expire requires exactly one of: ttl | expire_at")
	}
	if a.TTL != "" {
		if _, err := ParseTTL(a.TTL); err != nil {
			return fmt.Errorf("args.ttl: %w", err)
		}
	}
	if a.OnExpire == "" {
		a.OnExpire = model.ExpireSoftDelete
	}
	if !model.ValidExpireActions[a.OnExpire] {
		return fmt.Errorf("args.on_expire must be one of soft_delete, hard_delete, demote, anonymize")
	}
	return nil
}

// DeleteArgs removes records, softly unless Soft is false.
type DeleteArgs struct {
	Soft      *bool  `json:"soft,omitempty"`
	Reason    string `json:"reason,omitempty"`
	OlderThan string `json:"older_than,omitempty"`
}

func (a *DeleteArgs) Op() model.Op { return model.OpDelete }

// IsSoft reports whether the delete only sets the flag.
func (a *DeleteArgs) IsSoft() bool {
	return a.Soft == nil || *a.Soft
}

func (a *DeleteArgs) Validate() error {
	if a.OlderThan != "" {
		if _, err := ParseTTL(a.OlderThan); err != nil {
			return fmt.Errorf("args.older_than: %w", err)
		}
	}
	return nil
}

// RetrieveFields are the projectable record fields.
var RetrieveFields = []string{
	"id", "text", "type", "tags", "facets", "time", "subject", "location", "topic",
	"source", "weight", "lock_mode", "expire_at", "lineage_parents", "lineage_children",
	"read_perm_level", "write_perm_level",
	"read_whitelist", "read_blacklist", "write_whitelist", "write_blacklist",
}

// RetrieveArgs is a read-only lookup with an optional projection.
type RetrieveArgs struct {
	Include []string `json:"include,omitempty"`
}

func (a *RetrieveArgs) Op() model.Op { return model.OpRetrieve }

func (a *RetrieveArgs) Validate() error {
	for _, f := range a.Include {
		ok := false
		for _, allowed := range RetrieveFields {
			if f == allowed {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("args.include contains invalid field %q (allowed: %s)", f, strings.Join(RetrieveFields, ", "))
		}
	}
	return nil
}

// SummarizeArgs aggregates the resolved records into generated text.
type SummarizeArgs struct {
	Focus     string `json:"focus,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

func (a *SummarizeArgs) Op() model.Op { return model.OpSummarize }

func (a *SummarizeArgs) Validate() error {
	if a.MaxTokens == 0 {
		a.MaxTokens = 256
	}
	if a.MaxTokens < 1 || a.MaxTokens > 2000 {
		return fmt.Errorf("args.max_tokens must be in [1,2000]")
	}
	return nil
}

func countSet(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
