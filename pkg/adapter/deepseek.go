package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const deepseekBaseURL = "https://api.deepseek.com/v1"

// DeepSeekAdapter talks to DeepSeek's OpenAI-compatible chat API. With a
// base URL it serves any other OpenAI-compatible endpoint.
type DeepSeekAdapter struct {
	apiKey     string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *chatUsage) toUsage() *Usage {
	if u == nil {
		return nil
	}
	out := Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}.Normalize()
	return &out
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type chatCompletion struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
	Error *apiError  `json:"error,omitempty"`
}

// chatChunk is one server-sent event of a streamed completion.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

// NewDeepSeekAdapter creates a new DeepSeek adapter.
func NewDeepSeekAdapter(apiKey string, opts ...Option) (*DeepSeekAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepseek API key is required")
	}
	o := buildOptions(opts)
	baseURL := strings.TrimRight(o.baseURL, "/")
	if baseURL == "" {
		baseURL = deepseekBaseURL
	}
	return &DeepSeekAdapter{
		apiKey:     apiKey,
		baseURL:    baseURL,
		maxTokens:  o.maxTokens,
		httpClient: o.httpClient,
	}, nil
}

// Name returns the adapter identifier.
func (a *DeepSeekAdapter) Name() string {
	return "deepseek"
}

// Kind reports a hosted backend.
func (a *DeepSeekAdapter) Kind() Kind {
	return KindRemote
}

// Models returns the list of supported DeepSeek models.
func (a *DeepSeekAdapter) Models() []string {
	return []string{"deepseek-chat", "deepseek-reasoner"}
}

// Generate sends prompt as a single user message.
func (a *DeepSeekAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	resp, err := a.post(ctx, a.request(model, prompt, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var completion chatCompletion
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("deepseek: decode response: %w", err)
	}
	if completion.Error != nil {
		return nil, fmt.Errorf("deepseek API error: %s (%s)", completion.Error.Message, completion.Error.Type)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("deepseek returned no choices")
	}

	return &Response{
		Content: completion.Choices[0].Message.Content,
		Model:   model,
		Usage:   completion.Usage.toUsage(),
	}, nil
}

// GenerateStream reads the SSE stream and emits each content delta.
func (a *DeepSeekAdapter) GenerateStream(ctx context.Context, model string, prompt string, emit func(string) error) (*Response, error) {
	resp, err := a.post(ctx, a.request(model, prompt, true))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sb strings.Builder
	var usage *chatUsage
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, fmt.Errorf("deepseek: decode stream chunk: %w", err)
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			sb.WriteString(choice.Delta.Content)
			if err := emit(choice.Delta.Content); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("deepseek: read stream: %w", err)
	}

	return &Response{Content: sb.String(), Model: model, Usage: usage.toUsage()}, nil
}

// Ping checks the key and endpoint by listing models.
func (a *DeepSeekAdapter) Ping(ctx context.Context, model string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deepseek unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return statusError("deepseek", resp.StatusCode, string(body))
	}
	return nil
}

func (a *DeepSeekAdapter) request(model, prompt string, stream bool) chatRequest {
	return chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   a.maxTokens,
		Temperature: 0.7,
		Stream:      stream,
	}
}

// post sends a chat request and returns the response when the status is 200.
func (a *DeepSeekAdapter) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("deepseek: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("deepseek: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepseek API request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError("deepseek", resp.StatusCode, string(msg))
	}
	return resp, nil
}
