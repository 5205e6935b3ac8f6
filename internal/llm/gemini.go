package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiClient binds ChatCompleter and Embedder to Google's Generative AI
// API.
type GeminiClient struct {
	client         *genai.Client
	chatModel      string
	embeddingModel string
	dimension      int
}

// NewGeminiClient builds a GeminiClient against apiKey.
func NewGeminiClient(ctx context.Context, apiKey, chatModel, embeddingModel string, dimension int) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	return &GeminiClient{
		client:         client,
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
		dimension:      dimension,
	}, nil
}

// Complete concatenates messages into a single prompt (Gemini's content API
// has no first-class "system" role distinct from prompt framing) and
// returns the first candidate's text.
func (c *GeminiClient) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	model := c.client.GenerativeModel(c.chatModel)

	resp, err := model.GenerateContent(ctx, genai.Text(flattenMessages(messages)))
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini generate content: no candidates returned")
	}

	var b strings.Builder

	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}

	return b.String(), nil
}

// Embed embeds each text individually via a batch embed call.
func (c *GeminiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	model := c.client.EmbeddingModel(c.embeddingModel)
	batch := model.NewBatch()

	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini embed contents: %w", err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed contents: expected %d vectors, got %d", len(texts), len(resp.Embeddings))
	}

	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}

	return out, nil
}

// Dimension returns the configured embedding width.
func (c *GeminiClient) Dimension() int {
	return c.dimension
}

func flattenMessages(messages []ChatMessage) string {
	var b strings.Builder

	for _, m := range messages {
		b.WriteString(strings.ToUpper(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}

	return b.String()
}
