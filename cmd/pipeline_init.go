package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/coordinator"
	"github.com/sells-group/diligence-cli/internal/enrich"
	"github.com/sells-group/diligence-cli/internal/extract"
	"github.com/sells-group/diligence-cli/internal/resilience"
	"github.com/sells-group/diligence-cli/internal/risk"
	"github.com/sells-group/diligence-cli/internal/source"
	"github.com/sells-group/diligence-cli/internal/store"
)

// pipelineEnv bundles everything a running pipeline needs.
type pipelineEnv struct {
	Store       store.Store
	Coordinator *coordinator.Coordinator
	SyncWait    time.Duration
}

func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "diligence.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initRegistry() *source.Registry {
	callTimeout := time.Duration(cfg.Enrich.CallTimeoutSecs) * time.Second

	highRisk := make(map[string]bool, len(cfg.Corporate.HighRiskJurisdictions))
	for _, j := range cfg.Corporate.HighRiskJurisdictions {
		highRisk[j] = true
	}

	reg := source.NewRegistry()
	reg.Register(source.NewSanctionsAdapter(source.SanctionsOptions{
		BaseURL:  cfg.Sanctions.BaseURL,
		APIKey:   cfg.Sanctions.Key,
		MinScore: cfg.Sanctions.MinScore,
		Timeout:  callTimeout,
		RPS:      cfg.Sanctions.RPS,
	}))
	reg.Register(source.NewCorporateAdapter(source.CorporateOptions{
		BaseURL:               cfg.Corporate.BaseURL,
		APIKey:                cfg.Corporate.Key,
		Timeout:               callTimeout,
		RPS:                   cfg.Corporate.RPS,
		HighRiskJurisdictions: highRisk,
	}))
	reg.Register(source.NewWikidataAdapter(source.WikidataOptions{
		EndpointURL:   cfg.Wikidata.EndpointURL,
		Timeout:       callTimeout,
		RPS:           cfg.Wikidata.RPS,
		MaxAssociates: cfg.Wikidata.MaxAssociates,
	}))
	reg.Register(source.NewPEPAdapter(cfg.PEP.Path))
	reg.Register(source.NewAdverseMediaAdapter(source.AdverseMediaOptions{
		BaseURL:       cfg.AdverseMedia.BaseURL,
		Timeout:       callTimeout,
		RPS:           cfg.AdverseMedia.RPS,
		ToneThreshold: cfg.AdverseMedia.ToneThreshold,
	}))
	return reg
}

// initPipeline sets up the store, source registry, extractor and coordinator.
// Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic key is required (DILIGENCE_ANTHROPIC_KEY)")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	policy := risk.DefaultPolicy()
	if cfg.Risk.PolicyPath != "" {
		policy, err = risk.LoadPolicy(cfg.Risk.PolicyPath)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		zap.L().Info("risk policy loaded", zap.String("path", cfg.Risk.PolicyPath))
	}

	extractor := extract.NewClaudeExtractor(extract.ClaudeOptions{
		APIKey:    cfg.Anthropic.Key,
		Model:     cfg.Anthropic.Model,
		MaxTokens: cfg.Anthropic.MaxTokens,
	})

	coord := coordinator.New(coordinator.Options{
		Store:     st,
		Extractor: extractor,
		Enrich: enrich.Options{
			Registry:      initRegistry(),
			MaxConcurrent: cfg.Enrich.MaxConcurrent,
			CallTimeout:   time.Duration(cfg.Enrich.CallTimeoutSecs) * time.Second,
			Retry:         resilience.RetryConfig{MaxAttempts: cfg.Enrich.MaxRetries},
			MaxDepth:      cfg.Enrich.MaxDepth,
			MaxEntities:   cfg.Enrich.MaxEntities,
		},
		Policy:        policy,
		Budget:        time.Duration(cfg.Pipeline.BudgetSecs) * time.Second,
		Retention:     time.Duration(cfg.Pipeline.RetentionMins) * time.Minute,
		MaxConcurrent: int64(cfg.Pipeline.MaxConcurrentTxns),
	})

	return &pipelineEnv{
		Store:       st,
		Coordinator: coord,
		SyncWait:    time.Duration(cfg.Pipeline.SyncWaitSecs) * time.Second,
	}, nil
}
