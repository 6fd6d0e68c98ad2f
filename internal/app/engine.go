package app

import (
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/provider-cascade/internal/config"
	"github.com/fairyhunter13/provider-cascade/internal/domain"
	"github.com/fairyhunter13/provider-cascade/internal/engine"
	"github.com/fairyhunter13/provider-cascade/internal/quality"
)

// Engine bundles the orchestration components built from configuration.
type Engine struct {
	Registry *engine.Registry
	Health   *engine.Tracker
	Gate     *quality.Gate

	TextGen *engine.Cascade
	Search  *engine.Cascade
	Extract *engine.CachedCascade
}

// BuildEngine registers the catalog providers and assembles the selector,
// gate, and cascades for the three built-in capabilities.
func BuildEngine(cfg config.Config, providers []domain.Provider) (*Engine, error) {
	reg := engine.NewRegistry()
	for _, p := range providers {
		if _, err := reg.Register(p); err != nil {
			return nil, fmt.Errorf("op=app.BuildEngine: %w", err)
		}
	}
	health := engine.NewTracker(reg, engine.WithCooldown(cfg.HealthCooldown))
	selector := engine.NewSelector(reg, health)
	gate := BuildGate(cfg)

	cascadeCfg := engine.CascadeConfig{
		MaxAttempts:         cfg.CascadeMaxAttempts,
		OverallTimeout:      cfg.CascadeOverallTimeout,
		AllowDegradedAccept: cfg.AllowDegradedAccept,
	}
	textGen := engine.NewCascade(selector, health, gate, cascadeCfg)
	search := engine.NewCascade(selector, health, gate, cascadeCfg)
	extractCascade := engine.NewCascade(selector, health, gate, cascadeCfg)
	cache := engine.NewResultCache(cfg.CacheMaxEntries)

	slog.Info("engine assembled",
		slog.Int("providers", len(providers)),
		slog.Int("cache_capacity", cfg.CacheMaxEntries),
		slog.Bool("allow_degraded_accept", cfg.AllowDegradedAccept))
	return &Engine{
		Registry: reg,
		Health:   health,
		Gate:     gate,
		TextGen:  textGen,
		Search:   search,
		Extract:  engine.NewCachedCascade(extractCascade, cache),
	}, nil
}

// BuildGate binds the default validator sets to the built-in capabilities.
// The bindings live here, in configuration code, so the engine core stays
// free of capability-specific checks.
func BuildGate(cfg config.Config) *quality.Gate {
	gate := quality.NewGate(cfg.QualityThreshold)
	gate.Bind(domain.CapTextGeneration,
		quality.NewTokenLengthValidator(20, 120, "gpt-4"),
		quality.NewJSONStructureValidator(),
		quality.NewLexicalDiversityValidator(0.3),
		quality.NewMarkerAbsenceValidator("refusal_markers", quality.RefusalMarkers),
	)
	gate.Bind(domain.CapWebSearch,
		quality.NewLengthValidator(2, 64),
		quality.NewSearchResultsValidator(3),
		quality.NewLexicalDiversityValidator(0.3),
		quality.NewMarkerAbsenceValidator("error_markers", quality.ErrorPageMarkers),
	)
	gate.Bind(domain.CapContentExtraction,
		quality.NewLengthValidator(200, 1500),
		quality.NewMarkupResidueValidator(),
		quality.NewLexicalDiversityValidator(0.25),
		quality.NewMarkerAbsenceValidator("error_page_markers", quality.ErrorPageMarkers),
	)
	return gate
}
