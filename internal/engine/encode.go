package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rcliao/memops/internal/ir"
	"github.com/rcliao/memops/internal/memerr"
	"github.com/rcliao/memops/internal/model"
)

// EncodeResult describes an inserted record.
type EncodeResult struct {
	ID                int64  `json:"inserted_id"`
	Embedded          bool   `json:"generated_embedding"`
	EmbeddingDim      int    `json:"embedding_dim,omitempty"`
	EmbeddingModel    string `json:"embedding_model,omitempty"`
	EmbeddingProvider string `json:"embedding_provider,omitempty"`
}

func (r *EncodeResult) affectedCount() int { return 1 }

// encode inserts a new record. The embedding is computed before the
// insert so a provider failure leaves the store untouched.
func (e *Engine) encode(ctx context.Context, args *ir.EncodeArgs, now time.Time) (*EncodeResult, error) {
	m := newRecord(args, now)

	if !args.SkipEmbedding && e.embedder != nil {
		emb, err := e.embedder.Embed(ctx, m.Text)
		if err != nil {
			return nil, err
		}
		m.Embedding = emb.Stored()
	}

	id, err := e.store.Insert(ctx, m)
	if err != nil {
		return nil, memerr.Store(err, "insert memory")
	}
	out := &EncodeResult{ID: id}
	if m.Embedding != nil {
		out.Embedded = true
		out.EmbeddingDim = m.Embedding.Dim
		out.EmbeddingModel = m.Embedding.Model
		out.EmbeddingProvider = m.Embedding.Provider
	}
	return out, nil
}

// newRecord builds the record Encode inserts. Explicit scalar args win over
// their facet mirrors; a missing time defaults to now.
func newRecord(args *ir.EncodeArgs, now time.Time) *model.Memory {
	m := &model.Memory{
		Text:          args.Payload.Content(),
		Type:          args.Type,
		Tags:          uniqueStrings(args.Tags),
		Facets:        copyFacets(args.Facets),
		Weight:        model.DefaultWeight,
		Source:        args.Source,
		AutoFrequency: args.AutoFrequency,
		ExpireAt:      args.ExpireAt.Ptr(),
		Permissions:   permissions(model.Permissions{}, &args.PermissionArgs),
	}
	if args.Payload.URL != nil && m.Source == "" {
		m.Source = "url"
	}
	if args.Weight != nil {
		m.Weight = model.ClampWeight(*args.Weight)
	}
	m.NextAutoUpdateAt = args.NextAutoUpdateAt.Ptr()
	if m.ExpireAt != nil {
		m.ExpireAction = model.ExpireSoftDelete
	}

	mirrorFacets(m, m.Facets)
	if args.Time != nil {
		m.Time = args.Time.Ptr()
	}
	if m.Time == nil {
		t := now.UTC()
		m.Time = &t
	}
	if args.Subject != "" {
		m.Subject = args.Subject
	}
	if args.Location != "" {
		m.Location = args.Location
	}
	if args.Topic != "" {
		m.Topic = args.Topic
	}
	return m
}

// mirrorFacets copies the scalar facet keys present in facets into their
// columns.
func mirrorFacets(m *model.Memory, facets map[string]any) {
	for _, key := range model.ScalarFacetKeys {
		v, ok := facets[key]
		if !ok || v == nil {
			continue
		}
		s := fmt.Sprint(v)
		switch key {
		case "subject":
			m.Subject = s
		case "location":
			m.Location = s
		case "topic":
			m.Topic = s
		case "time":
			if t, err := ir.ParseTime(s); err == nil {
				m.Time = &t
			}
		}
	}
}

// clearFacets empties the scalar columns mirroring the removed keys.
func clearFacets(m *model.Memory, keys []string) {
	for _, key := range keys {
		switch key {
		case "subject":
			m.Subject = ""
		case "location":
			m.Location = ""
		case "topic":
			m.Topic = ""
		case "time":
			m.Time = nil
		}
	}
}

func permissions(p model.Permissions, a *ir.PermissionArgs) model.Permissions {
	if a.ReadPermLevel != "" {
		p.ReadLevel = a.ReadPermLevel
	}
	if a.WritePermLevel != "" {
		p.WriteLevel = a.WritePermLevel
	}
	if a.ReadWhitelist != nil {
		p.ReadWhitelist = a.ReadWhitelist
	}
	if a.ReadBlacklist != nil {
		p.ReadBlacklist = a.ReadBlacklist
	}
	if a.WriteWhitelist != nil {
		p.WriteWhitelist = a.WriteWhitelist
	}
	if a.WriteBlacklist != nil {
		p.WriteBlacklist = a.WriteBlacklist
	}
	return p
}

func copyFacets(f map[string]any) map[string]any {
	if len(f) == 0 {
		return nil
	}
	out := make(map[string]any, len(f))
	for k, v := range f {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

// uniqueStrings drops duplicates and empty strings, keeping first-seen order.
func uniqueStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
