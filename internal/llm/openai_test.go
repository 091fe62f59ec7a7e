package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchTool(calls *[]map[string]any) Tool {
	return Tool{
		Name:        "web_search",
		Description: "Search the web",
		Parameters:  []ToolParam{{Name: "query", Description: "query", Required: true}},
		Call: func(_ context.Context, args map[string]any) (string, error) {
			*calls = append(*calls, args)
			return `[{"title":"Lamp"}]`, nil
		},
	}
}

func TestOpenAIToolLoop(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)

		w.Header().Set("Content-Type", "application/json")
		if len(bodies) == 1 {
			w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[
				{"id":"call_1","type":"function","function":{"name":"web_search","arguments":"{\"query\":\"desk lamp\"}"}}]}}]}`))
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"done\":true}"}}]}`))
	}))
	defer srv.Close()

	var calls []map[string]any
	p := NewOpenAIProvider("gpt-4o-mini", "secret", srv.URL, srv.Client(), nil)
	p.MaxToolRounds = 3

	out, err := p.Complete(context.Background(), Request{
		System: "sys",
		Prompt: "classify desk lamp",
		Tools:  []Tool{searchTool(&calls)},
		JSON:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"done":true}`, out)

	require.Len(t, calls, 1)
	assert.Equal(t, "desk lamp", calls[0]["query"])

	require.Len(t, bodies, 2)
	assert.Contains(t, bodies[0], "tools")
	msgs := bodies[1]["messages"].([]any)
	require.Len(t, msgs, 4)
	last := msgs[3].(map[string]any)
	assert.Equal(t, "tool", last["role"])
	assert.Equal(t, "call_1", last["tool_call_id"])
	assert.Equal(t, `[{"title":"Lamp"}]`, last["content"])
}

func TestOpenAIStopsOfferingToolsAfterMaxRounds(t *testing.T) {
	var requests int
	var lastBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		lastBody = nil
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&lastBody))
		if _, ok := lastBody["tools"]; ok {
			w.Write([]byte(`{"choices":[{"message":{"role":"assistant","tool_calls":[
				{"id":"c","type":"function","function":{"name":"web_search","arguments":"{}"}}]}}]}`))
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"final"}}]}`))
	}))
	defer srv.Close()

	var calls []map[string]any
	p := NewOpenAIProvider("m", "k", srv.URL, srv.Client(), nil)
	p.MaxToolRounds = 2

	out, err := p.Complete(context.Background(), Request{Prompt: "x", Tools: []Tool{searchTool(&calls)}})
	require.NoError(t, err)
	assert.Equal(t, "final", out)
	assert.Equal(t, 3, requests)
	assert.Len(t, calls, 2)
	assert.NotContains(t, lastBody, "tools")
}

func TestOpenAIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("m", "k", srv.URL, srv.Client(), nil)
	_, err := p.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestOpenAIRequiresKey(t *testing.T) {
	p := NewOpenAIProvider("m", "", "", nil, nil)
	_, err := p.Complete(context.Background(), Request{Prompt: "x"})
	assert.Error(t, err)
}
