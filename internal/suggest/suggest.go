// Package suggest provides the SuggestionProvider implementations used by
// the Candidate Grouper: a deterministic string-similarity heuristic and
// language-model providers backed by Anthropic and Google Gemini.
package suggest

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/refdata/internal/config"
	"github.com/sells-group/refdata/internal/refdata"
	"github.com/sells-group/refdata/pkg/anthropic"
)

// New builds the provider selected by cfg.Suggest.Provider. It returns a nil
// provider for "none", which puts the grouper in no-LLM mode.
func New(cfg *config.Config) (refdata.SuggestionProvider, error) {
	opts := LLMOptions{
		MaxValues:         cfg.Suggest.MaxValues,
		RequestsPerMinute: cfg.Suggest.RequestsPerMinute,
	}

	var provider refdata.SuggestionProvider
	switch cfg.Suggest.Provider {
	case config.ProviderNone, "":
		return nil, nil
	case config.ProviderHeuristic:
		provider = NewHeuristic(cfg.Suggest.SimilarityThreshold, cfg.Suggest.MaxValues)
	case config.ProviderAnthropic:
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("suggest: anthropic.key is required")
		}
		opts.Model = cfg.Anthropic.Model
		opts.MaxTokens = cfg.Anthropic.MaxTokens
		provider = NewAnthropic(anthropic.NewClient(cfg.Anthropic.Key), opts)
	case config.ProviderGemini:
		if cfg.Gemini.Key == "" {
			return nil, eris.New("suggest: gemini.key is required")
		}
		opts.Model = cfg.Gemini.Model
		provider = NewGemini(cfg.Gemini.Key, opts)
	default:
		return nil, eris.Errorf("suggest: unknown provider %q", cfg.Suggest.Provider)
	}

	zap.L().Info("suggestion provider configured", zap.String("provider", provider.Name()))
	return provider, nil
}
