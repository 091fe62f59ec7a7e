package processing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/TobiSchelling/shopscout/internal/config"
	"github.com/TobiSchelling/shopscout/internal/llm"
	"github.com/TobiSchelling/shopscout/internal/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// fakeCompleter answers each enrichment call from the listing title found in
// the prompt.
type fakeCompleter struct {
	mu       sync.Mutex
	prompts  []llm.Request
	fail     map[string]error
	delay    map[string]time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.prompts = append(f.prompts, req)
	f.mu.Unlock()

	title := titleFromPrompt(req.Prompt)
	if d := f.delay[title]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := f.fail[title]; err != nil {
		return "", err
	}
	return fmt.Sprintf(`{"title": %q, "summary": "**Solid** pick", "pros": ["Bright", "", "Cheap"], "cons": ["Wobbly"], "sentiment": "positive", "sentiment_score": 0.6}`, title), nil
}

func titleFromPrompt(prompt string) string {
	_, rest, ok := strings.Cut(prompt, `"title":"`)
	if !ok {
		return ""
	}
	title, _, _ := strings.Cut(rest, `"`)
	return title
}

func listing(title string) schema.RawListing {
	return schema.RawListing{
		ProductID: "id-" + title,
		Title:     title,
		URL:       schema.Ptr("https://shop.example/" + title),
		Price:     schema.Ptr(999.0),
		Currency:  schema.Ptr("INR"),
		Rating:    schema.Ptr(4.2),
		Source:    schema.Ptr("amazon.in"),
		Metadata:  map[string]any{"review_count": 120},
	}
}

func retrievalBatch(titles ...string) *schema.RetrievalBatch {
	b := &schema.RetrievalBatch{Keyword: "desk lamp", Domain: "physical_product", Warnings: []string{"no image found for \"x\""}}
	for _, t := range titles {
		b.Products = append(b.Products, listing(t))
	}
	b.TotalFound = len(b.Products)
	return b
}

func TestProcessPreservesOrder(t *testing.T) {
	fake := &fakeCompleter{delay: map[string]time.Duration{"a": 30 * time.Millisecond, "b": 10 * time.Millisecond}}
	p := New(Options{Completer: fake})

	out, err := p.Process(context.Background(), retrievalBatch("a", "b", "c"))
	require.NoError(t, err)

	var titles []string
	for _, it := range out.Processed {
		titles = append(titles, it.Title)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, titles); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "desk lamp", out.Keyword)
	assert.Equal(t, "physical_product", out.Domain)
	assert.Equal(t, []string{"no image found for \"x\""}, out.Warnings)
	assert.Len(t, fake.prompts, 3)
	assert.Equal(t, "processing", fake.prompts[0].Stage)
	assert.True(t, fake.prompts[0].JSON)
	assert.Contains(t, fake.prompts[0].Prompt, "You are analyzing a physical_product.")
}

func TestProcessBackfillsAndCleans(t *testing.T) {
	out, err := New(Options{Completer: &fakeCompleter{}}).Process(context.Background(), retrievalBatch("lamp"))
	require.NoError(t, err)
	require.Len(t, out.Processed, 1)

	want := schema.ProcessedItem{
		ProductID:      "id-lamp",
		Title:          "lamp",
		URL:            schema.Ptr("https://shop.example/lamp"),
		Price:          schema.Ptr(999.0),
		Currency:       schema.Ptr("INR"),
		Rating:         schema.Ptr(4.2),
		Summary:        schema.Ptr("Solid pick"),
		Pros:           []string{"Bright", "Cheap"},
		Cons:           []string{"Wobbly"},
		Sentiment:      schema.Ptr(schema.SentimentPositive),
		SentimentScore: schema.Ptr(0.6),
		Source:         schema.Ptr("amazon.in"),
		Extra:          map[string]any{"review_count": 120},
	}
	if diff := cmp.Diff(want, out.Processed[0]); diff != "" {
		t.Errorf("item mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessAbortOnFirstFailure(t *testing.T) {
	fake := &fakeCompleter{
		fail:  map[string]error{"b": errors.New("model overloaded")},
		delay: map[string]time.Duration{"a": 5 * time.Second},
	}
	p := New(Options{Completer: fake, OnError: config.OnErrorAbort})

	start := time.Now()
	_, err := p.Process(context.Background(), retrievalBatch("a", "b", "c"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `processing "b"`)
	assert.Less(t, time.Since(start), 4*time.Second, "slow call should be cancelled")
}

func TestProcessSkipPolicyKeepsSuccesses(t *testing.T) {
	fake := &fakeCompleter{fail: map[string]error{"b": errors.New("model overloaded")}}
	p := New(Options{Completer: fake, OnError: config.OnErrorSkip})

	out, err := p.Process(context.Background(), retrievalBatch("a", "b", "c"))
	require.NoError(t, err)
	require.Len(t, out.Processed, 2)
	assert.Equal(t, "a", out.Processed[0].Title)
	assert.Equal(t, "c", out.Processed[1].Title)
	require.Len(t, out.Warnings, 2)
	assert.Contains(t, out.Warnings[1], `processing failed for "b"`)
}

func TestProcessSchemaFailureAborts(t *testing.T) {
	p := New(Options{Completer: &badJSON{}})
	_, err := p.Process(context.Background(), retrievalBatch("a"))
	assert.ErrorIs(t, err, schema.ErrValidation)
}

type badJSON struct{}

func (badJSON) Name() string { return "bad" }
func (badJSON) Complete(context.Context, llm.Request) (string, error) {
	return `{"title": "a", "sentiment": "ecstatic"}`, nil
}

func TestProcessRespectsConcurrencyLimit(t *testing.T) {
	fake := &fakeCompleter{delay: map[string]time.Duration{}}
	titles := []string{"a", "b", "c", "d", "e", "f"}
	for _, ti := range titles {
		fake.delay[ti] = 20 * time.Millisecond
	}

	out, err := New(Options{Completer: fake, MaxConcurrency: 2}).Process(context.Background(), retrievalBatch(titles...))
	require.NoError(t, err)
	assert.Len(t, out.Processed, 6)
	assert.LessOrEqual(t, fake.peak.Load(), int32(2))
}

func TestProcessEmptyBatch(t *testing.T) {
	fake := &fakeCompleter{}
	out, err := New(Options{Completer: fake}).Process(context.Background(), retrievalBatch())
	require.NoError(t, err)
	assert.Empty(t, out.Processed)
	assert.NotNil(t, out.Processed)
	assert.Empty(t, fake.prompts)
}

func TestProcessWithoutCompleter(t *testing.T) {
	_, err := New(Options{}).Process(context.Background(), retrievalBatch("a"))
	assert.Error(t, err)
}
