package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const ollamaBaseURL = "http://127.0.0.1:11434"

// OllamaAdapter talks to a local Ollama server over its native chat API.
type OllamaAdapter struct {
	baseURL    string
	maxTokens  int
	httpClient *http.Client
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

// ollamaChatResponse is one /api/chat reply, or one NDJSON line when streaming.
type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	Error           string        `json:"error,omitempty"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ErrModelNotPulled is returned by Ping when Ollama is up but lacks the model.
var ErrModelNotPulled = errors.New("model not available in ollama")

// NewOllamaAdapter creates an adapter for a local Ollama server.
func NewOllamaAdapter(opts ...Option) *OllamaAdapter {
	o := buildOptions(opts)
	baseURL := strings.TrimRight(o.baseURL, "/")
	if baseURL == "" {
		baseURL = ollamaBaseURL
	}
	return &OllamaAdapter{
		baseURL:    baseURL,
		maxTokens:  o.maxTokens,
		httpClient: o.httpClient,
	}
}

// Name returns the adapter identifier.
func (a *OllamaAdapter) Name() string {
	return "ollama"
}

// Kind reports a backend running on this host.
func (a *OllamaAdapter) Kind() Kind {
	return KindLocal
}

// Models returns commonly used small local models.
func (a *OllamaAdapter) Models() []string {
	return []string{
		"tinyllama:1.1b",
		"llama3.2:3b",
		"qwen2.5:7b",
	}
}

func (a *OllamaAdapter) newChatRequest(ctx context.Context, model, prompt string, stream bool) (*http.Request, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    model,
		Messages: []ollamaMessage{{Role: "user", Content: prompt}},
		Stream:   stream,
		Options: &ollamaOptions{
			Temperature: 0.7,
			TopP:        0.9,
			NumPredict:  a.maxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Generate sends a prompt to Ollama and returns the complete reply.
func (a *OllamaAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	req, err := a.newChatRequest(ctx, model, prompt, false)
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, statusError("ollama", resp.StatusCode, string(body))
	}

	var decoded ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", decoded.Error)
	}

	usage := Usage{
		PromptTokens:     decoded.PromptEvalCount,
		CompletionTokens: decoded.EvalCount,
	}.Normalize()
	return &Response{Content: decoded.Message.Content, Model: model, Usage: &usage}, nil
}

// GenerateStream reads Ollama's NDJSON stream and emits each content fragment.
func (a *OllamaAdapter) GenerateStream(ctx context.Context, model string, prompt string, emit func(string) error) (*Response, error) {
	req, err := a.newChatRequest(ctx, model, prompt, true)
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, statusError("ollama", resp.StatusCode, string(body))
	}

	var content strings.Builder
	usage := Usage{}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			return nil, fmt.Errorf("ollama error: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			content.WriteString(chunk.Message.Content)
			if err := emit(chunk.Message.Content); err != nil {
				return nil, err
			}
		}
		if chunk.Done {
			usage.PromptTokens = chunk.PromptEvalCount
			usage.CompletionTokens = chunk.EvalCount
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ollama stream failed: %w", err)
	}

	usage = usage.Normalize()
	return &Response{Content: content.String(), Model: model, Usage: &usage}, nil
}

// Ping checks that Ollama is reachable and, when model is set, that it has been pulled.
func (a *OllamaAdapter) Ping(ctx context.Context, model string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("ollama", resp.StatusCode, "")
	}
	if model == "" {
		return nil
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("failed to parse tags: %w", err)
	}
	for _, m := range tags.Models {
		if strings.HasPrefix(m.Name, model) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrModelNotPulled, model)
}
