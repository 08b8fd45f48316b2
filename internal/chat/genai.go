// Package chat implements the contextual chat capability: once a session
// has scraped content, free-form user messages are answered against that
// page context plus the accumulated conversation history.
package chat

import (
	"context"
	"fmt"
	"strings"

	"pagespin/internal/logging"
	"pagespin/internal/types"

	"google.golang.org/genai"
)

// GenAIModel answers contextual chat messages using Google's Gemini API
// via the genai SDK.
type GenAIModel struct {
	client *genai.Client
	model  string
}

// NewGenAIModel creates a chat model. model defaults to gemini-2.5-pro.
func NewGenAIModel(ctx context.Context, apiKey, model string) (*GenAIModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIModel{client: client, model: model}, nil
}

// Reply answers message using the page context as a primed model turn and
// the prior user/assistant turns as conversation history.
func (m *GenAIModel) Reply(ctx context.Context, pageContext string, history []types.Turn, message string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText("Context: "+pageContext, genai.RoleModel),
	}
	for _, turn := range history {
		switch turn.Role {
		case "user":
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleUser))
		case "assistant":
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleModel))
		}
	}
	contents = append(contents, genai.NewContentFromText(message, genai.RoleUser))

	logging.APIDebug("[chat] reply: history=%d context_len=%d", len(history), len(pageContext))
	resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, nil)
	if err != nil {
		return "", &types.GenerationError{Stage: "chat", Err: err}
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", &types.GenerationError{Stage: "chat", Err: types.ErrEmptyCompletion}
	}
	return text, nil
}
