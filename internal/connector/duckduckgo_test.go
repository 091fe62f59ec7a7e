package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ddgPage = `<html><body>
<div class="result results_links result--ad">
  <a class="result__a" href="https://ads.example/lamp">Sponsored lamp</a>
</div>
<div class="result results_links">
  <h2><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.ikea.com%2Fin%2Fen%2Fp%2Ftertial-work-lamp&amp;rut=abc">TERTIAL Work lamp - IKEA</a></h2>
  <a class="result__url" href="#">www.ikea.com/in/en/p/tertial-work-lamp</a>
  <a class="result__snippet">Adjustable arm and head for directed light.</a>
</div>
<div class="result results_links">
  <h2><a class="result__a" href="https://www.croma.com/desk-lamps">Desk Lamps | Croma</a></h2>
  <a class="result__snippet">Buy desk lamps online.</a>
</div>
<div class="result results_links">
  <h2><a class="result__a" href="">Broken</a></h2>
</div>
</body></html>`

func TestDuckDuckGoSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "desk lamp", r.URL.Query().Get("q"))
		assert.Equal(t, "in-en", r.URL.Query().Get("kl"))
		w.Write([]byte(ddgPage))
	}))
	defer srv.Close()

	d := NewDuckDuckGo("in-en", srv.Client())
	d.BaseURL = srv.URL + "/html/"

	recs, err := d.Search(context.Background(), "desk lamp", 5)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "TERTIAL Work lamp - IKEA", recs[0]["title"])
	assert.Equal(t, "https://www.ikea.com/in/en/p/tertial-work-lamp", recs[0]["url"])
	assert.Equal(t, "Adjustable arm and head for directed light.", recs[0]["description"])
	assert.Equal(t, "ikea.com", recs[0]["source"])
	assert.Equal(t, "https://www.croma.com/desk-lamps", recs[1]["url"])
}

func TestDuckDuckGoLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(ddgPage))
	}))
	defer srv.Close()

	d := NewDuckDuckGo("", srv.Client())
	d.BaseURL = srv.URL

	recs, err := d.Search(context.Background(), "desk lamp", 1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestDuckDuckGoBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewDuckDuckGo("", srv.Client())
	d.BaseURL = srv.URL

	_, err := d.Search(context.Background(), "lamp", 5)
	assert.Error(t, err)
}

func TestResolveRedirect(t *testing.T) {
	assert.Equal(t, "https://a.example/x", resolveRedirect("//duckduckgo.com/l/?uddg=https%3A%2F%2Fa.example%2Fx"))
	assert.Equal(t, "https://b.example/", resolveRedirect("https://b.example/"))
	assert.Empty(t, resolveRedirect("javascript:void(0)"))
	assert.Empty(t, resolveRedirect(""))
}
