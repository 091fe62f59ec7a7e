package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/shopscout/internal/config"
	"github.com/TobiSchelling/shopscout/internal/logging"
)

// Completer is the capability every language model backend provides.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// Request is a single completion: one system instruction, one user message.
type Request struct {
	// Stage labels the call in logs and metrics.
	Stage     string
	System    string
	Prompt    string
	Tools     []Tool
	JSON      bool
	MaxTokens int
}

// ToolParam describes one string argument of a tool.
type ToolParam struct {
	Name        string
	Description string
	Enum        []string
	Required    bool
}

// Tool is a function the model may call before giving its final answer.
type Tool struct {
	Name        string
	Description string
	Parameters  []ToolParam
	Call        func(ctx context.Context, args map[string]any) (string, error)
}

// jsonSchema renders the tool parameters as a JSON schema object.
func (t Tool) jsonSchema() map[string]any {
	props := make(map[string]any, len(t.Parameters))
	required := []string{}
	for _, p := range t.Parameters {
		prop := map[string]any{"type": "string", "description": p.Description}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// callTool runs the named tool. Failures are reported back to the model as
// text so it can decide how to continue.
func callTool(ctx context.Context, logger *zap.Logger, tools []Tool, name string, args map[string]any) string {
	for _, t := range tools {
		if t.Name != name {
			continue
		}
		out, err := t.Call(ctx, args)
		if err != nil {
			logger.Warn("tool call failed", zap.String("tool", name), zap.Error(err))
			return fmt.Sprintf("error: %v", err)
		}
		logger.Debug("tool call", zap.String("tool", name), zap.Any("args", args), zap.Int("bytes", len(out)))
		return out
	}
	return fmt.Sprintf("error: unknown tool %q", name)
}

func decodeArgs(raw string) map[string]any {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}

// New creates the backend named by cfg.Provider.
func New(cfg config.LLM, apiKey string, logger *zap.Logger) (Completer, error) {
	logger = logging.OrNop(logger)
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	switch strings.ToLower(cfg.Provider) {
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		p := NewOllamaProvider(cfg.Model, baseURL, client, logger)
		p.Temperature = cfg.Temperature
		p.MaxToolRounds = cfg.MaxToolRounds
		logger.Info("using Ollama", zap.String("model", cfg.Model), zap.String("base_url", baseURL))
		return p, nil
	case "openai":
		p := NewOpenAIProvider(cfg.Model, apiKey, cfg.BaseURL, client, logger)
		p.Temperature = cfg.Temperature
		p.MaxToolRounds = cfg.MaxToolRounds
		logger.Info("using OpenAI-compatible API", zap.String("model", cfg.Model), zap.String("base_url", p.BaseURL))
		return p, nil
	case "gemini":
		p, err := NewGeminiProvider(context.Background(), cfg.Model, apiKey, cfg.BaseURL, client, logger)
		if err != nil {
			return nil, err
		}
		p.Temperature = cfg.Temperature
		p.MaxToolRounds = cfg.MaxToolRounds
		logger.Info("using Gemini", zap.String("model", cfg.Model))
		return p, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
