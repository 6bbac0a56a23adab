package server

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const systemInstruction = "You are a helpful assistant that provides detailed, reasoned responses. " +
	"Please provide thoughtful and well-explained answers to user queries in not more than 50 words."

// GeminiChatter keeps one chat session with conversation history. The
// session is not safe for concurrent sends, so replies are serialized.
type GeminiChatter struct {
	client *genai.Client

	mu      sync.Mutex
	session *genai.ChatSession
}

func NewGeminiChatter(ctx context.Context, apiKey string) (*GeminiChatter, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating chat client: %w", err)
	}

	model := client.GenerativeModel("gemini-1.5-pro")
	model.GenerationConfig.SetMaxOutputTokens(8192)
	model.GenerationConfig.SetTemperature(1)
	model.GenerationConfig.SetTopP(0.95)
	model.GenerationConfig.SetTopK(40)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction)},
	}

	return &GeminiChatter{client: client, session: model.StartChat()}, nil
}

func (g *GeminiChatter) Reply(ctx context.Context, text string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	resp, err := g.session.SendMessage(ctx, genai.Text(text))
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrBlocked
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	reply := strings.TrimSpace(b.String())
	if reply == "" {
		return "", ErrBlocked
	}
	return reply, nil
}

func (g *GeminiChatter) Close() error {
	return g.client.Close()
}
