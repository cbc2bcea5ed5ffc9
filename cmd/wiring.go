package cmd

import (
	"time"

	"github.com/shopspring/decimal"

	"docmatch/internal/config"
	"docmatch/internal/extract"
	"docmatch/internal/llm"
	"docmatch/internal/match"
	"docmatch/internal/reconcile"
)

// buildExtractor assembles the extraction pipeline from configuration. The
// LLM validation pass is wired only when an OpenAI key is configured.
func buildExtractor(cfg *config.Config) *extract.Extractor {
	var validator llm.Validator
	if cfg.LLMEnabled() {
		llmConfig := llm.DefaultOpenAIConfig()
		llmConfig.Model = cfg.OpenAIModel
		llmConfig.Timeout = time.Duration(cfg.LLMTimeoutSec) * time.Second
		llmConfig.MaxRetries = uint64(cfg.LLMMaxRetries)
		validator = llm.NewOpenAIValidator(cfg.OpenAIAPIKey, llmConfig)
	}

	extractConfig := extract.DefaultConfig()
	extractConfig.RelativeTolerance = decimal.NewFromFloat(cfg.RelativeTolerancePct / 100)
	return extract.New(validator, extractConfig)
}

// buildOrchestrator assembles the full reconciliation stack.
func buildOrchestrator(cfg *config.Config) *reconcile.Orchestrator {
	reconcileConfig := reconcile.DefaultConfig()
	reconcileConfig.TaxRateTolerancePts = decimal.NewFromFloat(cfg.TaxRateTolerancePts)
	reconcileConfig.Match = match.DefaultConfig()
	reconcileConfig.Match.FuzzyThreshold = cfg.FuzzyMatchThreshold
	return reconcile.New(buildExtractor(cfg), reconcileConfig)
}
