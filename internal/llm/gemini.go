package llm

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/TobiSchelling/shopscout/internal/logging"
)

// GeminiProvider calls the Gemini API through the genai SDK.
type GeminiProvider struct {
	Model         string
	Temperature   float64
	MaxToolRounds int

	client *genai.Client
	logger *zap.Logger
}

// NewGeminiProvider creates a Gemini provider. baseURL is only needed for
// proxies and tests.
func NewGeminiProvider(ctx context.Context, model, apiKey, baseURL string, httpClient *http.Client, logger *zap.Logger) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiProvider{
		Model:       model,
		Temperature: 0.3,
		client:      client,
		logger:      logging.OrNop(logger),
	}, nil
}

func (g *GeminiProvider) Name() string { return "gemini:" + g.Model }

// Complete generates content, feeding function responses back to the model
// until it stops calling functions.
func (g *GeminiProvider) Complete(ctx context.Context, req Request) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}

	for round := 0; ; round++ {
		withTools := len(req.Tools) > 0 && round < g.MaxToolRounds
		resp, err := g.client.Models.GenerateContent(ctx, g.Model, contents, g.config(req, withTools))
		if err != nil {
			return "", fmt.Errorf("gemini generate failed: %w", err)
		}

		calls := resp.FunctionCalls()
		if !withTools || len(calls) == 0 {
			return resp.Text(), nil
		}
		if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
			contents = append(contents, resp.Candidates[0].Content)
		}
		for _, call := range calls {
			out := callTool(ctx, g.logger, req.Tools, call.Name, call.Args)
			contents = append(contents, genai.NewContentFromFunctionResponse(call.Name, map[string]any{"output": out}, genai.RoleUser))
		}
	}
}

func (g *GeminiProvider) config(req Request, withTools bool) *genai.GenerateContentConfig {
	temp := float32(g.Temperature)
	cfg := &genai.GenerateContentConfig{Temperature: &temp}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	// Gemini rejects a JSON response type combined with function calling.
	if withTools {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: geminiDeclarations(req.Tools)}}
	} else if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

func geminiDeclarations(tools []Tool) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		props := make(map[string]*genai.Schema, len(t.Parameters))
		var required []string
		for _, p := range t.Parameters {
			props[p.Name] = &genai.Schema{
				Type:        genai.TypeString,
				Description: p.Description,
				Enum:        p.Enum,
			}
			if p.Required {
				required = append(required, p.Name)
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   required,
			},
		})
	}
	return decls
}
