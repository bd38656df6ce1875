package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/engine"
	"github.com/sells-group/leadscout/internal/sink"
	"github.com/sells-group/leadscout/internal/stage"
	"github.com/sells-group/leadscout/internal/store"
	"github.com/sells-group/leadscout/internal/throttle"
	anthropicpkg "github.com/sells-group/leadscout/pkg/anthropic"
	"github.com/sells-group/leadscout/pkg/browser"
	"github.com/sells-group/leadscout/pkg/notion"
	"github.com/sells-group/leadscout/pkg/overpass"
	"github.com/sells-group/leadscout/pkg/serp"
)

// initStore opens the configured database backend and runs migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	case "sqlite", "":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// buildEngine wires the collaborator clients, stage executors, throttle,
// and sinks into an orchestrator backed by the given store.
func buildEngine(st store.Store) *engine.Orchestrator {
	overpassClient := overpass.NewClient(overpass.WithEndpoints(cfg.Radar.Endpoints))
	serpClient := serp.NewClient(cfg.Resolver.SearchKey, serp.WithBaseURL(cfg.Resolver.SearchBaseURL))
	browserClient := browser.NewClient(cfg.Extractor.ServiceURL, cfg.Extractor.Key)
	anthropicClient := anthropicpkg.NewClient(cfg.Enricher.Key)

	sinks := sink.Multi{sink.NewStoreSink(st)}
	if cfg.Notion.Token != "" && cfg.Notion.LeadDB != "" {
		sinks = append(sinks, sink.BestEffort(sink.NewNotionSink(notion.NewClient(cfg.Notion.Token), cfg.Notion.LeadDB)))
		zap.L().Info("notion lead mirror enabled")
	}

	return engine.New(cfg.Engine, engine.Deps{
		Executors: []engine.Executor{
			stage.NewRadar(overpassClient, cfg.Radar),
			stage.NewResolver(serpClient, cfg.Resolver),
			stage.NewExtractor(browserClient, cfg.Extractor),
			stage.NewEnricher(anthropicClient, cfg.Enricher),
		},
		Throttle: throttle.New(throttle.Config{
			Capacity:      cfg.Throttle.Capacity,
			RefillPerSec:  cfg.Throttle.RefillPerSec,
			PenaltyFactor: cfg.Throttle.PenaltyFactor,
		}),
		Dedup: st,
		Sink:  sinks,
		Store: st,
	})
}
