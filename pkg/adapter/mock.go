package adapter

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter returns deterministic responses for offline runs and tests.
type MockAdapter struct {
	responses       map[string]string
	defaultResponse string
	Usage           *Usage
}

// NewMockAdapter creates a mock adapter with a default response.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
	}
}

// NewMockAdapterWithResponses creates a mock adapter with predefined responses.
func NewMockAdapterWithResponses(responses map[string]string, defaultResponse string) *MockAdapter {
	if defaultResponse == "" {
		defaultResponse = "mock response:"
	}
	return &MockAdapter{responses: responses, defaultResponse: defaultResponse}
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return "mock"
}

// Kind reports a backend that never leaves the process.
func (a *MockAdapter) Kind() Kind {
	return KindLocal
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return []string{"mock-1"}
}

// Generate returns a deterministic reply for the prompt.
func (a *MockAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if model == "" {
		model = "mock-1"
	}
	content, ok := a.responses[prompt]
	if !ok {
		content = fmt.Sprintf("%s\n%s", a.defaultResponse, prompt)
	}
	return &Response{Content: content, Model: model, Usage: a.usageFor(prompt, content)}, nil
}

// GenerateStream emits the reply word by word.
func (a *MockAdapter) GenerateStream(ctx context.Context, model string, prompt string, emit func(string) error) (*Response, error) {
	resp, err := a.Generate(ctx, model, prompt)
	if err != nil {
		return nil, err
	}
	words := strings.SplitAfter(resp.Content, " ")
	for _, w := range words {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if w == "" {
			continue
		}
		if err := emit(w); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (a *MockAdapter) usageFor(prompt, content string) *Usage {
	if a.Usage != nil {
		u := *a.Usage
		return &u
	}
	u := Usage{
		PromptTokens:     len(strings.Fields(prompt)),
		CompletionTokens: len(strings.Fields(content)),
	}.Normalize()
	return &u
}
