package suggest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/refdata/internal/refdata"
	"github.com/sells-group/refdata/internal/resilience"
	"github.com/sells-group/refdata/pkg/anthropic"
)

// LLMOptions tunes a language-model provider.
type LLMOptions struct {
	Model             string
	MaxTokens         int64
	MaxValues         int
	RequestsPerMinute int
	Retry             resilience.RetryConfig
}

func (o LLMOptions) limiter() *rate.Limiter {
	if o.RequestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(o.RequestsPerMinute)), 1)
}

func (o LLMOptions) retry(service string) resilience.RetryConfig {
	cfg := o.Retry
	if cfg.MaxAttempts == 0 {
		cfg = resilience.DefaultRetryConfig()
		cfg.MaxAttempts = 2
	}
	cfg.OnRetry = resilience.RetryLogger(service, "cluster")
	return cfg
}

// Anthropic clusters values with a Claude model.
type Anthropic struct {
	client  anthropic.Client
	opts    LLMOptions
	limiter *rate.Limiter
}

// NewAnthropic creates a Claude-backed provider.
func NewAnthropic(client anthropic.Client, opts LLMOptions) *Anthropic {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	return &Anthropic{client: client, opts: opts, limiter: opts.limiter()}
}

// Name implements refdata.SuggestionProvider.
func (a *Anthropic) Name() string { return "anthropic" }

// Cluster implements refdata.SuggestionProvider.
func (a *Anthropic) Cluster(ctx context.Context, dataType refdata.DataType, values []refdata.ValueCount) ([]refdata.Group, error) {
	values = capValues(values, a.opts.MaxValues)
	prompt, err := userPrompt(dataType, values)
	if err != nil {
		return nil, err
	}

	return resilience.DoVal(ctx, a.opts.retry("anthropic"), func(ctx context.Context) ([]refdata.Group, error) {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "suggest: anthropic rate limit")
		}

		resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     a.opts.Model,
			MaxTokens: a.opts.MaxTokens,
			System: []anthropic.SystemBlock{{
				Text:         systemPrompt,
				CacheControl: &anthropic.CacheControl{TTL: "5m"},
			}},
			Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
			Temperature: refdata.Float(0),
		})
		if err != nil {
			if status := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(status) {
				return nil, resilience.NewTransientError(eris.Wrap(err, "suggest: anthropic cluster"), status)
			}
			return nil, eris.Wrap(err, "suggest: anthropic cluster")
		}
		resp.Usage.LogCost(a.opts.Model, "suggest.anthropic")

		groups, err := parseGroups(resp.Text())
		if err != nil {
			zap.L().Warn("suggest: unparseable anthropic response",
				zap.String("stop_reason", resp.StopReason),
				zap.Error(err),
			)
			return nil, err
		}
		return groups, nil
	})
}
