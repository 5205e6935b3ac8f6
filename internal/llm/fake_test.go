package llm_test

import (
	"context"
	"errors"

	"github.com/archreview/archreview/internal/llm"
)

// fakeEmbedder is a hand-written test double, matching the teacher's
// no-mocking-framework convention.
type fakeEmbedder struct {
	dimension int
	err       error
}

func (f fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}

	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dimension)
	}

	return out, nil
}

func (f fakeEmbedder) Dimension() int {
	return f.dimension
}

type fakeChatCompleter struct {
	response string
	err      error
}

func (f fakeChatCompleter) Complete(_ context.Context, _ []llm.ChatMessage) (string, error) {
	if f.err != nil {
		return "", f.err
	}

	return f.response, nil
}

var errFakeProvider = errors.New("fake provider failure")
