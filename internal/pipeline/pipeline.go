package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TobiSchelling/shopscout/internal/comparison"
	"github.com/TobiSchelling/shopscout/internal/config"
	"github.com/TobiSchelling/shopscout/internal/connector"
	"github.com/TobiSchelling/shopscout/internal/discovery"
	"github.com/TobiSchelling/shopscout/internal/llm"
	"github.com/TobiSchelling/shopscout/internal/logging"
	"github.com/TobiSchelling/shopscout/internal/metrics"
	"github.com/TobiSchelling/shopscout/internal/output"
	"github.com/TobiSchelling/shopscout/internal/processing"
	"github.com/TobiSchelling/shopscout/internal/retrieval"
	"github.com/TobiSchelling/shopscout/internal/schema"
)

const stepCount = 5

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name     string
	Summary  string
	Duration time.Duration
	Err      error
}

// Result holds the results of a full pipeline run. Report is nil unless
// every step succeeded.
type Result struct {
	RunID   string
	Keyword string
	Report  *schema.FinalReport
	Steps   []StepResult
}

// Failed returns the first failed step, if any.
func (r *Result) Failed() *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Err != nil {
			return &r.Steps[i]
		}
	}
	return nil
}

// Stages are the collaborators of a pipeline run, one per step.
type Stages struct {
	Discovery  *discovery.Classifier
	Retrieval  *retrieval.Retriever
	Processing *processing.Processor
	Comparison *comparison.Comparer
}

// Pipeline orchestrates the 5-step keyword to recommendation pipeline.
type Pipeline struct {
	stages  Stages
	limit   int
	logger  *zap.Logger
	metrics *metrics.Metrics
	newID   func() string
}

// New creates a pipeline over already constructed stages. limit caps the
// listings requested from each connector.
func New(stages Stages, limit int, logger *zap.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		stages:  stages,
		limit:   limit,
		logger:  logging.OrNop(logger),
		metrics: m,
		newID:   uuid.NewString,
	}
}

// FromConfig validates cfg against the resolved secrets and builds every
// stage from it. A configuration problem is returned before any network
// call is made.
func FromConfig(cfg *config.Config, secrets config.Secrets, logger *zap.Logger, m *metrics.Metrics) (*Pipeline, error) {
	logger = logging.OrNop(logger)
	if err := cfg.Validate(secrets); err != nil {
		return nil, err
	}

	completer, err := llm.New(cfg.LLM, secrets.LLMKey, logger)
	if err != nil {
		return nil, fmt.Errorf("creating LLM provider: %w", err)
	}
	completer = llm.Instrument(completer, m, logger)

	client := &http.Client{Timeout: cfg.Connectors.Timeout}

	var serper *connector.Serper
	if cfg.Connectors.Serper.Enabled {
		serper = connector.NewSerper(secrets.SerperKey, cfg.Connectors.Serper.Country, client)
	}

	var connectors []connector.Connector
	for _, name := range cfg.Retrieval.Order {
		switch name {
		case config.ConnectorSerperShopping:
			connectors = append(connectors, serper.Shopping())
		case config.ConnectorSerperWeb:
			connectors = append(connectors, serper.Web())
		case config.ConnectorSerpAPIAmazon:
			connectors = append(connectors, connector.NewSerpAPIAmazon(secrets.SerpAPIKey, cfg.Connectors.SerpAPI.Region, client))
		case config.ConnectorDuckDuckGo:
			connectors = append(connectors, connector.NewDuckDuckGo(cfg.Connectors.DuckDuckGo.Region, client))
		case config.ConnectorFeeds:
			feeds := make([]connector.FeedConfig, 0, len(cfg.Connectors.Feeds))
			for _, f := range cfg.Connectors.Feeds {
				feeds = append(feeds, connector.FeedConfig{URL: f.URL, Name: f.Name})
			}
			connectors = append(connectors, connector.NewFeed(feeds, client, logger))
		}
	}

	ropts := retrieval.Options{
		Connectors: connectors,
		Logger:     logger,
		Metrics:    m,
	}
	if serper != nil && cfg.Retrieval.BackfillImages {
		ropts.Images = serper
	}
	if cfg.Retrieval.FetchDescriptions {
		ropts.Describer = retrieval.NewDescriber(cfg.Connectors.Timeout)
	}

	var search connector.VerticalSearcher
	if serper != nil && cfg.Discovery.WebSearch {
		search = serper
	}

	stages := Stages{
		Discovery: discovery.New(completer, search, cfg.Discovery.Market, logger),
		Retrieval: retrieval.New(ropts),
		Processing: processing.New(processing.Options{
			Completer:      completer,
			MaxConcurrency: cfg.Processing.MaxConcurrency,
			OnError:        cfg.Processing.OnError,
			MaxTokens:      cfg.LLM.MaxTokens,
			Logger:         logger,
			Metrics:        m,
		}),
		Comparison: comparison.New(completer, cfg.Comparison.TopN, logger),
	}

	names := make([]string, 0, len(connectors))
	for _, c := range connectors {
		names = append(names, c.Name())
	}
	logger.Debug("pipeline configured",
		zap.String("llm", completer.Name()),
		zap.Strings("connectors", names),
		zap.Bool("image_backfill", ropts.Images != nil),
		zap.Bool("description_backfill", ropts.Describer != nil))

	return New(stages, cfg.Retrieval.LimitPerConnector, logger, m), nil
}

// Classify runs only the discovery step.
func (p *Pipeline) Classify(ctx context.Context, keyword string) (*schema.DomainClassification, error) {
	return p.stages.Discovery.Classify(ctx, keyword)
}

// Run executes the five steps in order. The first failing step stops the
// run; the returned Result still lists the steps that ran, but carries no
// report.
func (p *Pipeline) Run(ctx context.Context, keyword string) (*Result, error) {
	r := &Result{RunID: p.newID(), Keyword: strings.TrimSpace(keyword)}
	logger := p.logger.With(zap.String("run_id", r.RunID))

	var (
		classification *schema.DomainClassification
		retrieved      *schema.RetrievalBatch
		processed      *schema.ProcessingBatch
		report         *schema.ComparisonReport
	)

	steps := []struct {
		name string
		run  func() (string, error)
	}{
		{"Discovery", func() (string, error) {
			var err error
			classification, err = p.stages.Discovery.Classify(ctx, r.Keyword)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Classified as %s (confidence %.2f), %d suggested products",
				classification.Domain, classification.Confidence, len(classification.Products)), nil
		}},
		{"Retrieval", func() (string, error) {
			var err error
			retrieved, err = p.stages.Retrieval.Retrieve(ctx, r.Keyword, string(classification.Domain), p.limit)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Retrieved %d listings (%d warnings)", len(retrieved.Products), len(retrieved.Warnings)), nil
		}},
		{"Processing", func() (string, error) {
			var err error
			processed, err = p.stages.Processing.Process(ctx, retrieved)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Enriched %d of %d listings", len(processed.Processed), len(retrieved.Products)), nil
		}},
		{"Comparison", func() (string, error) {
			var err error
			report, err = p.stages.Comparison.Compare(ctx, processed)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Ranked %d rows, best overall: %s", len(report.Rows), orNone(report.BestOverall)), nil
		}},
		{"Output", func() (string, error) {
			report.Meta["run_id"] = r.RunID
			r.Report = output.Assemble(processed, report, classification)
			return fmt.Sprintf("Top recommendation: %s", orNone(r.Report.TopRecommendation)), nil
		}},
	}

	for i, s := range steps {
		logger.Info(fmt.Sprintf("Step %d/%d: %s", i+1, stepCount, s.name))
		start := time.Now()
		summary, err := s.run()
		elapsed := time.Since(start)
		p.metrics.RecordStage(strings.ToLower(s.name), elapsed)

		r.Steps = append(r.Steps, StepResult{Name: s.name, Summary: summary, Duration: elapsed, Err: err})
		if err != nil {
			logger.Error("step failed", zap.String("step", s.name), zap.Error(err))
			r.Report = nil
			return r, fmt.Errorf("%s: %w", strings.ToLower(s.name), err)
		}
		logger.Info(summary, zap.String("step", s.name), zap.Duration("elapsed", elapsed))
	}
	return r, nil
}

func orNone(s *string) string {
	if s == nil {
		return "none"
	}
	return *s
}
