package reply

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIGenerator implements Generator for OpenAI
type OpenAIGenerator struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	bounds      Bounds
}

// NewOpenAIGenerator creates a new OpenAI generator
func NewOpenAIGenerator(profile AuthProfile, bounds Bounds) *OpenAIGenerator {
	return &OpenAIGenerator{
		client:      openai.NewClient(option.WithAPIKey(profile.APIKey)),
		model:       profile.Model,
		temperature: profile.Temperature,
		maxTokens:   profile.MaxTokens,
		bounds:      bounds,
	}
}

// Generate makes an API call to OpenAI
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt Prompt) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt(prompt.Persona)),
	}

	for _, entry := range boundTranscript(prompt.Transcript, g.bounds) {
		switch entry.Kind {
		case "received":
			messages = append(messages, openai.UserMessage(entry.Text))
		case "sent":
			messages = append(messages, openai.AssistantMessage(entry.Text))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(g.model),
		Messages: messages,
	}

	if g.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(g.maxTokens))
	}

	if g.temperature > 0 {
		params.Temperature = openai.Float(g.temperature)
	}

	response, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices returned")
	}

	content := strings.TrimSpace(response.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty reply returned")
	}

	return content, nil
}
