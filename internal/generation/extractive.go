package generation

import (
	"context"
	"strings"

	"github.com/rcliao/memops/internal/chunker"
)

// Extractive is an offline generator. It takes the record lines from a
// prompt built by SummaryPrompt, prefers sentences mentioning the focus
// words, and joins whole sentences until the token budget (4 chars per
// token) is spent.
type Extractive struct{}

// NewExtractive returns the offline generator.
func NewExtractive() *Extractive {
	return &Extractive{}
}

func (g *Extractive) Generate(ctx context.Context, prompt string, c Constraints) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body := prompt
	if i := strings.Index(body, "Records:\n"); i >= 0 {
		body = body[i+len("Records:\n"):]
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "Summary:")

	var sentences []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimPrefix(strings.TrimSpace(line), "- ")
		sentences = append(sentences, chunker.Sentences(line)...)
	}

	if focus := chunker.Words(c.Focus); len(focus) > 0 {
		var hit, rest []string
		for _, s := range sentences {
			if mentionsAny(s, focus) {
				hit = append(hit, s)
			} else {
				rest = append(rest, s)
			}
		}
		sentences = append(hit, rest...)
	}

	budget := c.MaxTokens * 4
	if budget <= 0 {
		budget = 1024
	}
	var out []string
	used := 0
	for _, s := range sentences {
		if used+len(s) > budget {
			if len(out) == 0 {
				out = append(out, strings.ToValidUTF8(s[:budget], ""))
			}
			break
		}
		out = append(out, s)
		used += len(s) + 1
	}
	return strings.Join(out, " "), nil
}

func mentionsAny(sentence string, words []string) bool {
	have := map[string]bool{}
	for _, w := range chunker.Words(sentence) {
		have[w] = true
	}
	for _, w := range words {
		if have[w] {
			return true
		}
	}
	return false
}

func (g *Extractive) Name() string { return "extractive" }

func (g *Extractive) Model() string { return "extractive" }
