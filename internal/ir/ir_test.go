package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memops/internal/memerr"
	"github.com/rcliao/memops/internal/model"
)

func TestParseEncodeWithoutTarget(t *testing.T) {
	req, err := Parse([]byte(`{"stage":"ENC","op":"Encode","args":{"payload":{"text":"quarterly budget review"},"tags":["budget"]}}`))
	require.NoError(t, err)
	assert.Equal(t, model.OpEncode, req.Op)
	enc, ok := req.Args.(*EncodeArgs)
	require.True(t, ok)
	assert.Equal(t, "quarterly budget review", enc.Payload.Content())
	assert.Equal(t, []string{"budget"}, enc.Tags)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown op", `{"stage":"STO","op":"Frobnicate","target":{"ids":[1]}}`},
		{"stage mismatch", `{"stage":"RET","op":"Update","target":{"ids":[1]},"args":{"set":{"text":"x"}}}`},
		{"missing target", `{"stage":"STO","op":"Delete","args":{}}`},
		{"two target modes", `{"stage":"STO","op":"Delete","target":{"ids":[1],"all":true}}`},
		{"empty ids", `{"stage":"STO","op":"Delete","target":{"ids":[]}}`},
		{"empty filter", `{"stage":"RET","op":"Retrieve","target":{"filter":{}}}`},
		{"query and vector", `{"stage":"RET","op":"Retrieve","target":{"search":{"intent":{"query":"a","vector":[0.1]}}}}`},
		{"alpha out of range", `{"stage":"RET","op":"Retrieve","target":{"search":{"intent":{"query":"a"},"overrides":{"alpha":1.5}}}}`},
		{"unknown args field", `{"stage":"STO","op":"Delete","target":{"ids":[1]},"args":{"bogus":true}}`},
		{"unknown top-level field", `{"stage":"STO","op":"Delete","target":{"ids":[1]},"extra":1}`},
		{"payload two variants", `{"stage":"ENC","op":"Encode","args":{"payload":{"text":"a","url":"http://x"}}}`},
		{"facets only time", `{"stage":"ENC","op":"Encode","args":{"payload":{"text":"a"},"facets":{"time":"2024-01-01"}}}`},
		{"label nothing", `{"stage":"STO","op":"Label","target":{"ids":[1]},"args":{"mode":"add"}}`},
		{"update empty set", `{"stage":"STO","op":"Update","target":{"ids":[1]},"args":{"set":{}}}`},
		{"update embedding", `{"stage":"STO","op":"Update","target":{"ids":[1]},"args":{"set":{"embedding":[0.1]}}}`},
		{"promote two fields", `{"stage":"STO","op":"Promote","target":{"ids":[1]},"args":{"weight":0.5,"weight_delta":0.1}}`},
		{"demote none", `{"stage":"STO","op":"Demote","target":{"ids":[1]},"args":{}}`},
		{"expire both", `{"stage":"STO","op":"Expire","target":{"ids":[1]},"args":{"ttl":"P1D","expire_at":"2030-01-01"}}`},
		{"expire bad ttl", `{"stage":"STO","op":"Expire","target":{"ids":[1]},"args":{"ttl":"soon"}}`},
		{"lock bad mode", `{"stage":"STO","op":"Lock","target":{"ids":[1]},"args":{"mode":"frozen"}}`},
		{"split small chunks", `{"stage":"STO","op":"Split","target":{"ids":[1]},"args":{"strategy":"by_chunks","params":{"by_chunks":{"chunk_size":10}}}}`},
		{"retrieve bad include", `{"stage":"RET","op":"Retrieve","target":{"ids":[1]},"args":{"include":["password"]}}`},
		{"summarize too long", `{"stage":"RET","op":"Summarize","target":{"ids":[1]},"args":{"max_tokens":3000}}`},
		{"both time range variants", `{"stage":"RET","op":"Retrieve","target":{"filter":{"time_range":{"relative":"last","amount":1,"unit":"days","start":"2024-01-01","end":"2024-02-01"}}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			require.Error(t, err)
			assert.Equal(t, memerr.KindValidation, memerr.KindOf(err))
		})
	}
}

func TestParseDefaults(t *testing.T) {
	req, err := Parse([]byte(`{"stage":"STO","op":"Label","target":{"ids":"7"},"args":{"tags":["x"]}}`))
	require.NoError(t, err)
	assert.Equal(t, IDList{7}, req.Target.IDs)
	assert.Equal(t, LabelAdd, req.Args.(*LabelArgs).Mode)

	req, err = Parse([]byte(`{"stage":"RET","op":"Summarize","target":{"ids":[1,"2"]}}`))
	require.NoError(t, err)
	assert.Equal(t, IDList{1, 2}, req.Target.IDs)
	assert.Equal(t, 256, req.Args.(*SummarizeArgs).MaxTokens)

	req, err = Parse([]byte(`{"stage":"STO","op":"Expire","target":{"ids":[1]},"args":{"ttl":"0 days"}}`))
	require.NoError(t, err)
	assert.Equal(t, model.ExpireSoftDelete, req.Args.(*ExpireArgs).OnExpire)

	req, err = Parse([]byte(`{"stage":"STO","op":"Delete","target":{"all":true},"meta":{"confirmation":true}}`))
	require.NoError(t, err)
	assert.True(t, req.Args.(*DeleteArgs).IsSoft())
	assert.Equal(t, ModeAll, req.Target.Mode())
}

func TestMetaNow(t *testing.T) {
	fallback := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, fallback, Meta{}.Now(fallback))

	req, err := Parse([]byte(`{"stage":"STO","op":"Delete","target":{"ids":[1]},"meta":{"timestamp":"2024-06-01T10:00:00Z"}}`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), req.Meta.Now(fallback))
}

func TestTimeRangeAmountOutOfRange(t *testing.T) {
	r := TimeRange{Relative: "last", Amount: 300, Unit: "years"}
	assert.Error(t, r.Validate())

	r.Amount = 290
	assert.NoError(t, r.Validate())
}

func TestParseTTL(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"P0D", 0},
		{"PT2H", 2 * time.Hour},
		{"P1W", 7 * 24 * time.Hour},
		{"P1DT30M", 24*time.Hour + 30*time.Minute},
		{"7d", 7 * 24 * time.Hour},
		{"24h", 24 * time.Hour},
		{"30m", 30 * time.Minute},
		{"60s", time.Minute},
		{"0 days", 0},
		{"3 weeks", 21 * 24 * time.Hour},
		{"290 years", 290 * 365 * 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTTL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{
		"", "P", "PT", "soon", "5 fortnights",
		"300 years", "P300Y", "P200Y100Y", "P200YT900000H", "99999999999999999999s",
	} {
		_, err := ParseTTL(bad)
		assert.Error(t, err, bad)
	}
}

func TestTimeRangeBounds(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	rel := TimeRange{Relative: "last", Amount: 2, Unit: "days"}
	require.NoError(t, rel.Validate())
	start, end := rel.Bounds(now)
	assert.Equal(t, now.Add(-48*time.Hour), start)
	assert.Equal(t, now.Add(time.Millisecond), end)

	start, end = rel.Bounds(now.Add(1500 * time.Microsecond))
	assert.Equal(t, now.Add(2*time.Millisecond), end)
	assert.True(t, end.Before(now.Add(time.Second)))

	abs := TimeRange{Start: At(now.Add(-time.Hour)), End: At(now)}
	require.NoError(t, abs.Validate())
	start, end = abs.Bounds(now)
	assert.Equal(t, now.Add(-time.Hour), start)
	assert.Equal(t, now, end)

	inverted := TimeRange{Start: At(now), End: At(now.Add(-time.Hour))}
	assert.Error(t, inverted.Validate())
}

func TestTimestampLayouts(t *testing.T) {
	for _, s := range []string{"2024-05-01", "2024-05-01T09:30:00", "2024-05-01T09:30:00Z", "2024-05-01T11:30:00+02:00"} {
		got, err := ParseTime(s)
		require.NoError(t, err, s)
		assert.Equal(t, 2024, got.Year())
		assert.Equal(t, time.UTC, got.Location())
	}
}
