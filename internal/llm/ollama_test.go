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

func TestOllamaJSONFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "json", body["format"])
		assert.Equal(t, false, body["stream"])
		w.Write([]byte(`{"message":{"role":"assistant","content":"{\"ok\":1}"}}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider("llama3.1", srv.URL, srv.Client(), nil)
	out, err := p.Complete(context.Background(), Request{Prompt: "x", JSON: true, MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":1}`, out)
}

func TestOllamaToolLoop(t *testing.T) {
	var rounds int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rounds++
		var body struct {
			Messages []ollamaMessage `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if rounds == 1 {
			w.Write([]byte(`{"message":{"role":"assistant","content":"","tool_calls":[
				{"function":{"name":"web_search","arguments":{"query":"lamp"}}}]}}`))
			return
		}
		last := body.Messages[len(body.Messages)-1]
		assert.Equal(t, "tool", last.Role)
		assert.Equal(t, `[{"title":"Lamp"}]`, last.Content)
		w.Write([]byte(`{"message":{"role":"assistant","content":"answer"}}`))
	}))
	defer srv.Close()

	var calls []map[string]any
	p := NewOllamaProvider("llama3.1", srv.URL, srv.Client(), nil)
	p.MaxToolRounds = 4

	out, err := p.Complete(context.Background(), Request{System: "s", Prompt: "x", Tools: []Tool{searchTool(&calls)}})
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
	assert.Equal(t, 2, rounds)
	require.Len(t, calls, 1)
	assert.Equal(t, "lamp", calls[0]["query"])
}

func TestUnknownToolIsReportedToModel(t *testing.T) {
	out := callTool(context.Background(), nil, nil, "missing", nil)
	assert.Contains(t, out, "unknown tool")
}
