// Package ai talks to chat-completion backends over HTTP.
//
// An Engine holds one provider adapter (openai-compatible or anthropic) and
// turns a system prompt, recent conversation context, and a question into a
// single completion. Command extraction from the reply happens elsewhere;
// this package only moves text.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cmdgate-dev/cmdgate/internal/core"
)

const (
	defaultOpenAIEndpoint    = "https://api.openai.com/v1/chat/completions"
	defaultAnthropicEndpoint = "https://api.anthropic.com/v1/messages"

	anthropicVersion          = "2023-06-01"
	defaultAnthropicMaxTokens = 1024

	defaultTimeout = 60 * time.Second
)

// Config selects and tunes a completion backend.
type Config struct {
	// Provider is "openai" or "anthropic".
	Provider string
	Model    string
	// Endpoint overrides the provider's default API URL.
	Endpoint string
	// APIKey overrides the provider's standard environment variable.
	APIKey    string
	MaxTokens int
	Timeout   time.Duration
}

// Engine is an HTTP completion client for one provider.
type Engine struct {
	name       string
	model      string
	endpoint   string
	apiKey     string
	maxTokens  int
	httpClient *http.Client
	adapter    providerAdapter
}

var _ core.Completer = (*Engine)(nil)

type message struct {
	Role    string
	Content string
}

type providerAdapter struct {
	buildRequest  func(*Engine, []message) ([]byte, error)
	parseResponse func([]byte) (string, error)
	setHeaders    func(*http.Request, *Engine) error
}

// New builds an Engine for cfg.Provider.
func New(cfg Config) (*Engine, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	e := &Engine{
		name:       cfg.Provider,
		model:      cfg.Model,
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: timeout},
	}

	switch cfg.Provider {
	case "openai":
		if e.endpoint == "" {
			e.endpoint = defaultOpenAIEndpoint
		}
		e.adapter = openaiAdapter()
	case "anthropic":
		if e.endpoint == "" {
			e.endpoint = defaultAnthropicEndpoint
		}
		e.adapter = anthropicAdapter()
	default:
		return nil, fmt.Errorf("unsupported engine provider: %q", cfg.Provider)
	}

	return e, nil
}

// Name returns the provider name.
func (e *Engine) Name() string {
	return e.name
}

// Model returns the configured model id.
func (e *Engine) Model() string {
	return e.model
}

// Complete sends one completion request. The recent context, when present,
// is folded into the user turn above the question.
func (e *Engine) Complete(ctx context.Context, system, recent, question string) (string, error) {
	var sb strings.Builder
	if recent != "" {
		sb.WriteString("Recent conversation:\n")
		sb.WriteString(recent)
		sb.WriteString("\n\n")
	}
	sb.WriteString(question)

	messages := []message{
		{Role: "system", Content: system},
		{Role: "user", Content: sb.String()},
	}

	requestBody, err := e.adapter.buildRequest(e, messages)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return "", err
	}

	httpReq.Header.Set("content-type", "application/json")
	if err := e.adapter.setHeaders(httpReq, e); err != nil {
		return "", err
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%s: %s", e.name, resp.Status)
	}

	var responseBody bytes.Buffer
	if _, err := responseBody.ReadFrom(resp.Body); err != nil {
		return "", err
	}

	return e.adapter.parseResponse(responseBody.Bytes())
}

func openaiAdapter() providerAdapter {
	return providerAdapter{
		buildRequest:  buildChatCompletionRequest,
		parseResponse: parseChatCompletionResponse,
		setHeaders:    setOpenAIHeaders,
	}
}

func anthropicAdapter() providerAdapter {
	return providerAdapter{
		buildRequest:  buildAnthropicRequest,
		parseResponse: parseAnthropicResponse,
		setHeaders:    setAnthropicHeaders,
	}
}

func buildChatCompletionRequest(e *Engine, messages []message) ([]byte, error) {
	chatMessages := make([]map[string]string, 0, len(messages))
	for _, msg := range messages {
		chatMessages = append(chatMessages, map[string]string{
			"role":    strings.ToLower(msg.Role),
			"content": msg.Content,
		})
	}

	request := map[string]interface{}{
		"model":    e.model,
		"messages": chatMessages,
	}
	if e.maxTokens > 0 {
		request["max_tokens"] = e.maxTokens
	}

	return json.Marshal(request)
}

func parseChatCompletionResponse(body []byte) (string, error) {
	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.Unmarshal(body, &response); err != nil {
		return "", err
	}

	if len(response.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

func setOpenAIHeaders(req *http.Request, e *Engine) error {
	apiKey := e.apiKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return fmt.Errorf("missing API key: set engine.api_key or OPENAI_API_KEY")
	}
	req.Header.Set("authorization", "Bearer "+apiKey)
	return nil
}

func buildAnthropicRequest(e *Engine, messages []message) ([]byte, error) {
	systemPrompt, chatMessages := splitSystemMessages(messages)

	maxTokens := e.maxTokens
	if maxTokens == 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	request := map[string]interface{}{
		"model":      e.model,
		"max_tokens": maxTokens,
		"messages":   chatMessages,
	}
	if systemPrompt != "" {
		request["system"] = systemPrompt
	}

	return json.Marshal(request)
}

// splitSystemMessages separates system lines from chat turns; anthropic wants
// the system prompt as a top-level field.
func splitSystemMessages(messages []message) (string, []map[string]interface{}) {
	var systemLines []string
	var chatMessages []map[string]interface{}

	for _, msg := range messages {
		if strings.EqualFold(msg.Role, "system") {
			systemLines = append(systemLines, msg.Content)
			continue
		}
		chatMessages = append(chatMessages, map[string]interface{}{
			"role": msg.Role,
			"content": []map[string]string{
				{"type": "text", "text": msg.Content},
			},
		})
	}

	return strings.TrimSpace(strings.Join(systemLines, "\n")), chatMessages
}

func parseAnthropicResponse(body []byte) (string, error) {
	var response struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}

	if err := json.Unmarshal(body, &response); err != nil {
		return "", err
	}

	if len(response.Content) == 0 {
		return "", nil
	}
	return strings.TrimSpace(response.Content[0].Text), nil
}

func setAnthropicHeaders(req *http.Request, e *Engine) error {
	apiKey := e.apiKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return fmt.Errorf("missing API key: set engine.api_key or ANTHROPIC_API_KEY")
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	return nil
}
