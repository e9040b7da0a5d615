package llm

import (
	"context"
	"fmt"
	"strings"

	"menu-planner/internal/config"
	"menu-planner/internal/shared"
)

// Chat template markers used to render a transcript.
const (
	StartOfRole = "<|start_of_role|>"
	EndOfRole   = "<|end_of_role|>"
	EndOfText   = "<|end_of_text|>"
)

// ContentResponse contains the generated text and metadata like token usage.
type ContentResponse struct {
	Content string
	Usage   shared.TokenUsage
}

// TextGenerator generates a reply to a prompt under a system instruction.
// Content is a role-marked transcript ending with the assistant turn.
type TextGenerator interface {
	GenerateContent(ctx context.Context, system, prompt string) (ContentResponse, error)
}

// RenderTranscript renders a single exchange as role-marked turns.
func RenderTranscript(system, prompt, answer string) string {
	var b strings.Builder
	writeTurn(&b, "system", system)
	b.WriteByte('\n')
	writeTurn(&b, "user", prompt)
	b.WriteByte('\n')
	writeTurn(&b, "assistant", answer)
	return b.String()
}

func writeTurn(b *strings.Builder, role, text string) {
	b.WriteString(StartOfRole)
	b.WriteString(role)
	b.WriteString(EndOfRole)
	b.WriteString(text)
	b.WriteString(EndOfText)
}

// NewFromConfig builds the generator for the configured provider. The
// returned close function must be called when the generator is no longer
// needed.
func NewFromConfig(ctx context.Context, cfg *config.Config) (TextGenerator, func() error, error) {
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		client, err := NewGeminiClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	case config.ProviderGroq:
		return NewGroqClient(cfg), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unsupported llm provider %q", cfg.LLMProvider)
}
