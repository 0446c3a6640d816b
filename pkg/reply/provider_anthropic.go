package reply

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicGenerator implements Generator for Anthropic Claude
type AnthropicGenerator struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int
	bounds      Bounds
}

// NewAnthropicGenerator creates a new Anthropic generator
func NewAnthropicGenerator(profile AuthProfile, bounds Bounds) *AnthropicGenerator {
	maxTokens := profile.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicGenerator{
		client:      anthropic.NewClient(option.WithAPIKey(profile.APIKey)),
		model:       profile.Model,
		temperature: profile.Temperature,
		maxTokens:   maxTokens,
		bounds:      bounds,
	}
}

// Generate makes an API call to Anthropic Claude
func (g *AnthropicGenerator) Generate(ctx context.Context, prompt Prompt) (string, error) {
	entries := boundTranscript(prompt.Transcript, g.bounds)

	// The Messages API requires the first turn to come from the user.
	for len(entries) > 0 && entries[0].Kind != "received" {
		entries = entries[1:]
	}

	anthropicMessages := []anthropic.MessageParam{}
	for _, entry := range entries {
		switch entry.Kind {
		case "received":
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(entry.Text),
			))
		case "sent":
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(entry.Text),
				},
			})
		}
	}

	if len(anthropicMessages) == 0 {
		anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
			anthropic.NewTextBlock("Start the conversation."),
		))
	}

	reqParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		Messages:  anthropicMessages,
		MaxTokens: int64(g.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt(prompt.Persona)},
		},
	}

	if g.temperature > 0 {
		reqParams.Temperature = anthropic.Float(g.temperature)
	}

	response, err := g.client.Messages.New(ctx, reqParams)
	if err != nil {
		return "", err
	}

	content := ""
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += b.Text
		}
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("empty reply returned")
	}

	return content, nil
}
