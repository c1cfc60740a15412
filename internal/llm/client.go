// Package llm streams assistant replies from an OpenAI-compatible chat
// completions endpoint. Fragments are delivered in stream order on a
// channel; the error channel carries at most one terminal event.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const systemPrompt = "You are a helpful, concise voice assistant. " +
	"Answer clearly and briefly; your replies are spoken aloud."

// Message is a provider-agnostic role/content pair from the conversation
// history.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Client wraps the openai-go streaming client.
type Client struct {
	client openai.Client
	model  string
}

// NewClient constructs a streaming client. The response-header timeout bounds
// the connection handshake without capping how long a reply may stream.
func NewClient(baseURL, apiKey, model string) *Client {
	if model == "" {
		model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: 8 * time.Second},
		}),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{client: openai.NewClient(opts...), model: model}
}

// Stream requests a reply for query given the recent conversation context
// and forwards text fragments as they arrive. Both channels close when the
// stream ends; a terminal failure is sent on the error channel first.
func (c *Client) Stream(ctx context.Context, query string, history []Message) (<-chan string, <-chan error) {
	fragments := make(chan string, 32)
	errCh := make(chan error, 1)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(systemPrompt))
	for _, m := range history {
		switch m.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(query))

	go func() {
		defer close(fragments)
		defer close(errCh)

		stream := c.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
			Model:    c.model,
			Messages: messages,
		})
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case fragments <- delta:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("generation stream: %w", err)
		}
	}()

	return fragments, errCh
}
