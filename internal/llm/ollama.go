package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/TobiSchelling/shopscout/internal/logging"
)

// OllamaProvider talks to a local Ollama server.
type OllamaProvider struct {
	Model         string
	BaseURL       string
	Temperature   float64
	MaxToolRounds int

	client *http.Client
	logger *zap.Logger
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(model, baseURL string, client *http.Client, logger *zap.Logger) *OllamaProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &OllamaProvider{
		Model:       model,
		BaseURL:     baseURL,
		Temperature: 0.3,
		client:      client,
		logger:      logging.OrNop(logger),
	}
}

func (o *OllamaProvider) Name() string { return "ollama:" + o.Model }

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

// Complete sends the request to /api/chat, answering tool calls until the
// model produces a final message.
func (o *OllamaProvider) Complete(ctx context.Context, req Request) (string, error) {
	messages := []ollamaMessage{}
	if req.System != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: req.Prompt})

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
			out := callTool(ctx, o.logger, req.Tools, call.Function.Name, call.Function.Arguments)
			messages = append(messages, ollamaMessage{Role: "tool", Content: out})
		}
	}
}

func (o *OllamaProvider) chat(ctx context.Context, messages []ollamaMessage, req Request, withTools bool) (ollamaMessage, error) {
	options := map[string]any{"temperature": o.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	body := map[string]any{
		"model":    o.Model,
		"messages": messages,
		"stream":   false,
		"options":  options,
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
	} else if req.JSON {
		body["format"] = "json"
	}

	data, err := json.Marshal(body)
	if err != nil {
		return ollamaMessage{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return ollamaMessage{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return ollamaMessage{}, fmt.Errorf("ollama API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ollamaMessage{}, fmt.Errorf("ollama API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Message ollamaMessage `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ollamaMessage{}, fmt.Errorf("decoding response: %w", err)
	}
	return result.Message, nil
}
