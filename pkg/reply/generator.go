package reply

import (
	"context"
	"fmt"
	"strings"
)

// FallbackText is sent when reply generation fails. The conversation keeps
// moving rather than stalling on a provider outage.
const FallbackText = "Sorry, I got pulled away for a moment. What were you saying?"

// TranscriptEntry is one conversational turn handed to the generator.
type TranscriptEntry struct {
	Kind string // sent, received, system
	Text string
}

// PersonaContext describes who the generated replies should sound like and
// what the conversation is working toward.
type PersonaContext struct {
	RecipientName string
	Company       string
	Role          string
	School        string
	Objective     string
}

// Prompt is the input to a single reply generation.
type Prompt struct {
	Transcript []TranscriptEntry
	Persona    PersonaContext
}

// Generator produces the next outbound message for a conversation.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// AuthProfile selects and configures a provider.
type AuthProfile struct {
	Provider    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Bounds caps how much transcript is forwarded to the provider.
type Bounds struct {
	MaxMessages     int
	MaxContextChars int
}

// DefaultBounds returns the standard transcript caps.
func DefaultBounds() Bounds {
	return Bounds{
		MaxMessages:     40,
		MaxContextChars: 6000,
	}
}

// ProviderFactory creates reply generators
type ProviderFactory struct{}

// NewGenerator creates a reply generator based on an auth profile
func (f *ProviderFactory) NewGenerator(profile AuthProfile, bounds Bounds) (Generator, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicGenerator(profile, bounds), nil
	case "openai":
		return NewOpenAIGenerator(profile, bounds), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// systemPrompt renders the persona into provider instructions.
func systemPrompt(p PersonaContext) string {
	var b strings.Builder

	b.WriteString("You are having a one-on-one text conversation on a professional messaging platform.")
	if p.RecipientName != "" {
		b.WriteString(fmt.Sprintf(" You are talking with %s.", p.RecipientName))
	}
	if p.Company != "" {
		b.WriteString(fmt.Sprintf(" They work at %s.", p.Company))
	}
	if p.Role != "" {
		b.WriteString(fmt.Sprintf(" Their role is %s.", p.Role))
	}
	if p.School != "" {
		b.WriteString(fmt.Sprintf(" They attended %s.", p.School))
	}
	if p.Objective != "" {
		b.WriteString(fmt.Sprintf(" Your objective for this conversation: %s.", p.Objective))
	}
	b.WriteString(" Reply with a single short, natural message. Do not use markdown or sign your name.")

	return b.String()
}

// boundTranscript keeps the newest entries within the message and character
// caps, dropping the oldest first. System entries never reach the provider.
func boundTranscript(entries []TranscriptEntry, bounds Bounds) []TranscriptEntry {
	conversational := make([]TranscriptEntry, 0, len(entries))
	for _, e := range entries {
		if e.Kind == "sent" || e.Kind == "received" {
			conversational = append(conversational, e)
		}
	}

	if bounds.MaxMessages > 0 && len(conversational) > bounds.MaxMessages {
		conversational = conversational[len(conversational)-bounds.MaxMessages:]
	}

	if bounds.MaxContextChars > 0 {
		total := 0
		start := len(conversational)
		for i := len(conversational) - 1; i >= 0; i-- {
			total += len(conversational[i].Text)
			if total > bounds.MaxContextChars {
				break
			}
			start = i
		}
		conversational = conversational[start:]
	}

	return conversational
}
