package suggest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/refdata/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.Config
		wantName string
		wantErr  string
	}{
		{name: "none", cfg: config.Config{Suggest: config.SuggestConfig{Provider: config.ProviderNone}}},
		{name: "empty", cfg: config.Config{}},
		{
			name:     "heuristic",
			cfg:      config.Config{Suggest: config.SuggestConfig{Provider: config.ProviderHeuristic, SimilarityThreshold: 0.8}},
			wantName: "heuristic",
		},
		{
			name: "anthropic",
			cfg: config.Config{
				Suggest:   config.SuggestConfig{Provider: config.ProviderAnthropic},
				Anthropic: config.AnthropicConfig{Key: "sk-ant-test", Model: "claude-haiku-4-5-20251001"},
			},
			wantName: "anthropic",
		},
		{
			name:    "anthropic without key",
			cfg:     config.Config{Suggest: config.SuggestConfig{Provider: config.ProviderAnthropic}},
			wantErr: "anthropic.key is required",
		},
		{
			name: "gemini",
			cfg: config.Config{
				Suggest: config.SuggestConfig{Provider: config.ProviderGemini},
				Gemini:  config.GeminiConfig{Key: "g-test"},
			},
			wantName: "gemini",
		},
		{
			name:    "unknown",
			cfg:     config.Config{Suggest: config.SuggestConfig{Provider: "openai"}},
			wantErr: `unknown provider "openai"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(&tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.wantName == "" {
				assert.Nil(t, p)
				return
			}
			require.NotNil(t, p)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}
