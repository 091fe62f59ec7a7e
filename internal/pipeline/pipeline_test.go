package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/TobiSchelling/shopscout/internal/comparison"
	"github.com/TobiSchelling/shopscout/internal/config"
	"github.com/TobiSchelling/shopscout/internal/connector"
	"github.com/TobiSchelling/shopscout/internal/discovery"
	"github.com/TobiSchelling/shopscout/internal/llm"
	"github.com/TobiSchelling/shopscout/internal/metrics"
	"github.com/TobiSchelling/shopscout/internal/processing"
	"github.com/TobiSchelling/shopscout/internal/retrieval"
	"github.com/TobiSchelling/shopscout/internal/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// stageCompleter answers each request according to its stage.
type stageCompleter struct {
	mu         sync.Mutex
	calls      map[string]int
	bestPick   string
	failTitle  string
	discovered string
}

func (s *stageCompleter) Name() string { return "fake" }

func (s *stageCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[req.Stage]++
	s.mu.Unlock()

	switch req.Stage {
	case "discovery":
		if s.discovered != "" {
			return s.discovered, nil
		}
		return "```json\n" + `{"keyword": "desk lamp", "domain": "physical_product", "confidence": 0.92,
			"recommended_platforms": ["Amazon", "Flipkart"], "products": [{"title": "Lamp B2"}]}` + "\n```", nil
	case "processing":
		title := titleFromPrompt(req.Prompt)
		if title == s.failTitle {
			return "", errors.New("model overloaded")
		}
		return fmt.Sprintf(`{"title": %q, "summary": "**Good** lamp", "pros": ["bright"], "cons": ["cable"],
			"sentiment": "positive", "sentiment_score": 0.6}`, title), nil
	case "comparison":
		return fmt.Sprintf(`{"best_overall": %q, "best_budget": "Lamp A1", "best_premium": "Lamp B2",
			"reasoning": "Balanced price and ratings."}`, s.bestPick), nil
	}
	return "", fmt.Errorf("unexpected stage %q", req.Stage)
}

func (s *stageCompleter) count(stage string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[stage]
}

func titleFromPrompt(prompt string) string {
	_, rest, ok := strings.Cut(prompt, `"title":"`)
	if !ok {
		return ""
	}
	title, _, _ := strings.Cut(rest, `"`)
	return title
}

type fakeConnector struct {
	name    string
	records []connector.Record
	err     error
}

func (f *fakeConnector) Name() string { return f.name }

func (f *fakeConnector) Search(_ context.Context, _ string, limit int) ([]connector.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.records) > limit {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func lamp(title string, rating float64) connector.Record {
	slug := strings.ToLower(strings.ReplaceAll(title, " ", "-"))
	return connector.Record{
		"title":     title,
		"url":       "https://shop.example/" + slug,
		"price":     "₹1,299",
		"rating":    rating,
		"image_url": "https://img.example/" + slug + ".jpg",
	}
}

func newTestPipeline(c llm.Completer, m *metrics.Metrics, connectors ...connector.Connector) *Pipeline {
	stages := Stages{
		Discovery:  discovery.New(c, nil, "", nil),
		Retrieval:  retrieval.New(retrieval.Options{Connectors: connectors, Metrics: m}),
		Processing: processing.New(processing.Options{Completer: c, Metrics: m}),
		Comparison: comparison.New(c, 0, nil),
	}
	p := New(stages, 5, nil, m)
	p.newID = func() string { return "run-1" }
	return p
}

func deskLampConnectors() []connector.Connector {
	return []connector.Connector{
		&fakeConnector{name: "a", records: []connector.Record{lamp("Lamp A1", 3.0), lamp("Lamp A2", 4.5)}},
		&fakeConnector{name: "b", records: []connector.Record{lamp("Lamp B1", 4.0), lamp("Lamp B2", 5.0), lamp("Lamp B3", 2.0)}},
	}
}

func TestRunDeskLamp(t *testing.T) {
	fake := &stageCompleter{bestPick: "Lamp B1"}
	m := metrics.New()
	p := newTestPipeline(fake, m, deskLampConnectors()...)

	res, err := p.Run(context.Background(), "  desk lamp ")
	require.NoError(t, err)
	require.NotNil(t, res.Report)
	assert.Nil(t, res.Failed())

	report := res.Report
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "desk lamp", report.Keyword)
	assert.Equal(t, "physical_product", report.Domain)
	assert.Equal(t, schema.Ptr(0.92), report.DomainConfidence)
	assert.Len(t, report.Products, 5)
	assert.Empty(t, report.Warnings)

	var titles []string
	for _, row := range report.Comparison.Rows {
		titles = append(titles, row.Title)
	}
	want := []string{"Lamp B2", "Lamp A2", "Lamp B1", "Lamp A1", "Lamp B3"}
	if diff := cmp.Diff(want, titles); diff != "" {
		t.Errorf("row order mismatch (-want +got):\n%s", diff)
	}

	require.NotNil(t, report.Comparison.BestOverall)
	assert.Equal(t, "Lamp B1", *report.Comparison.BestOverall)
	assert.Equal(t, report.Comparison.BestOverall, report.TopRecommendation)
	assert.Equal(t, "Balanced price and ratings.", *report.Insights)
	assert.Equal(t, "run-1", report.Comparison.Meta["run_id"])
	assert.Equal(t, "Good lamp", *report.Products[0].Summary)

	var names []string
	for _, s := range res.Steps {
		names = append(names, s.Name)
		assert.NotEmpty(t, s.Summary)
	}
	assert.Equal(t, []string{"Discovery", "Retrieval", "Processing", "Comparison", "Output"}, names)

	assert.Equal(t, 1, fake.count("discovery"))
	assert.Equal(t, 5, fake.count("processing"))
	assert.Equal(t, 1, fake.count("comparison"))
	assert.Equal(t, 5, testutil.CollectAndCount(m.StageDuration))
}

func TestRunKeepsWorkingWhenAConnectorFails(t *testing.T) {
	fake := &stageCompleter{bestPick: "Lamp A2"}
	broken := &fakeConnector{name: "broken", err: &connector.Error{Connector: "broken", Err: errors.New("503")}}
	good := &fakeConnector{name: "good", records: []connector.Record{lamp("Lamp A2", 4.5)}}

	res, err := newTestPipeline(fake, nil, broken, good).Run(context.Background(), "desk lamp")
	require.NoError(t, err)
	assert.Len(t, res.Report.Products, 1)
	require.Len(t, res.Report.Warnings, 1)
	assert.Contains(t, res.Report.Warnings[0], "connector broken failed")
}

func TestRunDropsUntitledListing(t *testing.T) {
	fake := &stageCompleter{bestPick: "Lamp A1"}
	a := &fakeConnector{name: "a", records: []connector.Record{
		lamp("Lamp A1", 4.0),
		{"url": "https://shop.example/untitled", "image_url": "https://img.example/untitled.jpg"},
	}}

	res, err := newTestPipeline(fake, nil, a).Run(context.Background(), "desk lamp")
	require.NoError(t, err)
	require.NotNil(t, res.Report)
	require.Len(t, res.Report.Products, 1)
	assert.Equal(t, "Lamp A1", res.Report.Products[0].Title)
	assert.Equal(t, 1, fake.count("processing"))
	require.Len(t, res.Report.Warnings, 1)
	assert.Contains(t, res.Report.Warnings[0], "dropped listing from a")
}

func TestRunAbortsOnProcessingFailure(t *testing.T) {
	fake := &stageCompleter{bestPick: "Lamp B1", failTitle: "Lamp A2"}

	res, err := newTestPipeline(fake, nil, deskLampConnectors()...).Run(context.Background(), "desk lamp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
	assert.Nil(t, res.Report)

	failed := res.Failed()
	require.NotNil(t, failed)
	assert.Equal(t, "Processing", failed.Name)
	assert.Len(t, res.Steps, 3)
	assert.Zero(t, fake.count("comparison"))
}

func TestRunAbortsOnInvalidClassification(t *testing.T) {
	fake := &stageCompleter{discovered: `{"keyword": "desk lamp", "domain": "furniture", "confidence": 0.5, "products": []}`}

	res, err := newTestPipeline(fake, nil, deskLampConnectors()...).Run(context.Background(), "desk lamp")
	require.Error(t, err)
	assert.True(t, errors.Is(err, schema.ErrValidation))
	assert.Nil(t, res.Report)
	assert.Len(t, res.Steps, 1)
	assert.Zero(t, fake.count("processing"))
}

func TestRunWithNoListings(t *testing.T) {
	fake := &stageCompleter{}
	empty := &fakeConnector{name: "empty"}

	res, err := newTestPipeline(fake, nil, empty).Run(context.Background(), "desk lamp")
	require.NoError(t, err)
	assert.Empty(t, res.Report.Products)
	assert.Empty(t, res.Report.Comparison.Rows)
	assert.Nil(t, res.Report.TopRecommendation)
	assert.Zero(t, fake.count("comparison"))
}

func TestFromConfigRejectsMissingCredentials(t *testing.T) {
	_, err := FromConfig(config.Default(), config.Secrets{}, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalid))
}

func TestFromConfigBuildsConnectorsInOrder(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Provider = "ollama"
	cfg.Connectors.Serper.Enabled = true
	cfg.Connectors.SerpAPI.Enabled = false
	cfg.Retrieval.Order = []string{config.ConnectorDuckDuckGo, config.ConnectorSerperShopping}

	p, err := FromConfig(cfg, config.Secrets{SerperKey: "k"}, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, p.stages.Retrieval)
	assert.Equal(t, cfg.Retrieval.LimitPerConnector, p.limit)
}
