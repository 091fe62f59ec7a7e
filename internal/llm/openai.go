package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/shopscout/internal/logging"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider speaks the chat/completions protocol. BaseURL may point at
// any compatible endpoint.
type OpenAIProvider struct {
	Model         string
	APIKey        string
	BaseURL       string
	Temperature   float64
	MaxToolRounds int

	client *http.Client
	logger *zap.Logger
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(model, apiKey, baseURL string, client *http.Client, logger *zap.Logger) *OpenAIProvider {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAIProvider{
		Model:       model,
		APIKey:      apiKey,
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Temperature: 0.3,
		client:      client,
		logger:      logging.OrNop(logger),
	}
}

func (o *OpenAIProvider) Name() string { return "openai:" + o.Model }

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// Complete runs the chat loop, executing requested tool calls between rounds.
func (o *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	if o.APIKey == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}

	messages := []openAIMessage{}
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})

	for round := 0; ; round++ {
		withTools := len(req.Tools) > 0 && round < o.MaxToolRounds
		msg, err := o.chat(ctx, messages, req, withTools)
		if err != nil {
			return "", err
		}
		if !withTools || len(msg.ToolCalls) == 0 {
			return msg.Content, nil
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			out := callTool(ctx, o.logger, req.Tools, call.Function.Name, decodeArgs(call.Function.Arguments))
			messages = append(messages, openAIMessage{Role: "tool", Content: out, ToolCallID: call.ID})
		}
	}
}

func (o *OpenAIProvider) chat(ctx context.Context, messages []openAIMessage, req Request, withTools bool) (openAIMessage, error) {
	body := map[string]any{
		"model":       o.Model,
		"messages":    messages,
		"temperature": o.Temperature,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if withTools {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.jsonSchema(),
				},
			})
		}
		body["tools"] = tools
	}
	if req.JSON {
		body["response_format"] = map[string]string{"type": "json_object"}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return openAIMessage{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return openAIMessage{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return openAIMessage{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return openAIMessage{}, fmt.Errorf("OpenAI API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Choices []struct {
			Message openAIMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return openAIMessage{}, fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Choices) == 0 {
		return openAIMessage{}, fmt.Errorf("no choices in OpenAI response")
	}
	return result.Choices[0].Message, nil
}
