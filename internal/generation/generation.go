// Package generation provides the text generation providers used by Summarize.
package generation

import (
	"context"
	"fmt"
	"time"
)

// Constraints bound one generation call.
type Constraints struct {
	MaxTokens int
	Focus     string
	Lang      string
}

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, c Constraints) (string, error)
	// Name identifies the provider, e.g. "ollama".
	Name() string
	Model() string
}

// Options selects and configures a provider.
type Options struct {
	Provider string // "ollama" | "openai" | "extractive" | "" (extractive)
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

// New builds the generator described by opts. An empty provider falls back
// to the offline extractive generator.
func New(opts Options) (Generator, error) {
	switch opts.Provider {
	case "", "extractive":
		return NewExtractive(), nil
	case "ollama":
		return NewOllamaGenerator(opts.BaseURL, opts.Model, opts.Timeout), nil
	case "openai":
		return NewOpenAIGenerator(opts.BaseURL, opts.APIKey, opts.Model, opts.Timeout), nil
	}
	return nil, fmt.Errorf("unknown generation provider %q (valid: ollama, openai, extractive)", opts.Provider)
}

// SummaryPrompt builds the prompt sent to a model for Summarize.
func SummaryPrompt(records string, c Constraints) string {
	prompt := "Summarize the following memory records"
	if c.Focus != "" {
		prompt += ", focusing on: " + c.Focus
	}
	prompt += fmt.Sprintf(". Keep the summary under %d tokens.", c.MaxTokens)
	if c.Lang != "" {
		prompt += " Answer in language: " + c.Lang + "."
	}
	return prompt + "\n\nRecords:\n" + records + "\n\nSummary:"
}
