package llm

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient binds ChatCompleter and Embedder to the OpenAI API.
type OpenAIClient struct {
	client         *openai.Client
	chatModel      string
	embeddingModel string
	dimension      int
}

// NewOpenAIClient builds an OpenAIClient. dimension is the known output
// width of embeddingModel (spec.md §6 embedding_dimension), since the API
// itself does not report it ahead of a call.
func NewOpenAIClient(apiKey, chatModel, embeddingModel string, dimension int) *OpenAIClient {
	return &OpenAIClient{
		client:         openai.NewClient(apiKey),
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
		dimension:      dimension,
	}
}

// Complete sends messages to the configured chat model and returns the
// first choice's content.
func (c *OpenAIClient) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.chatModel,
		Messages: toOpenAIMessages(messages),
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat completion: no choices returned")
	}

	return resp.Choices[0].Message.Content, nil
}

// Embed batches texts into a single embeddings request.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(c.embeddingModel),
	}

	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: expected %d vectors, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}

	return out, nil
}

// Dimension returns the configured embedding width.
func (c *OpenAIClient) Dimension() int {
	return c.dimension
}

func toOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	return out
}
