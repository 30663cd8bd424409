package suggest

import (
	"context"
	"errors"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/sells-group/refdata/internal/refdata"
	"github.com/sells-group/refdata/internal/resilience"
)

// contentGenerator is the subset of genai.Models used by Gemini.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini clusters values with a Google Gemini model through the GenAI SDK.
type Gemini struct {
	apiKey  string
	opts    LLMOptions
	limiter *rate.Limiter

	mu        sync.Mutex
	generator contentGenerator
}

// NewGemini creates a Gemini-backed provider. The SDK client is created on
// first use.
func NewGemini(apiKey string, opts LLMOptions) *Gemini {
	if opts.Model == "" {
		opts.Model = "gemini-2.5-flash"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	return &Gemini{apiKey: apiKey, opts: opts, limiter: opts.limiter()}
}

// Name implements refdata.SuggestionProvider.
func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) models(ctx context.Context) (contentGenerator, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.generator != nil {
		return g.generator, nil
	}
	if g.apiKey == "" {
		return nil, eris.New("suggest: gemini api key required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  g.apiKey,
	})
	if err != nil {
		return nil, eris.Wrap(err, "suggest: create gemini client")
	}
	g.generator = client.Models
	return g.generator, nil
}

// Cluster implements refdata.SuggestionProvider.
func (g *Gemini) Cluster(ctx context.Context, dataType refdata.DataType, values []refdata.ValueCount) ([]refdata.Group, error) {
	values = capValues(values, g.opts.MaxValues)
	prompt, err := userPrompt(dataType, values)
	if err != nil {
		return nil, err
	}
	models, err := g.models(ctx)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
		MaxOutputTokens:   int32(g.opts.MaxTokens),
		ResponseMIMEType:  "application/json",
	}

	return resilience.DoVal(ctx, g.opts.retry("gemini"), func(ctx context.Context) ([]refdata.Group, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "suggest: gemini rate limit")
		}
		resp, err := models.GenerateContent(ctx, g.opts.Model, genai.Text(prompt), config)
		if err != nil {
			if status := geminiStatus(err); resilience.IsTransientHTTPStatus(status) {
				return nil, resilience.NewTransientError(eris.Wrap(err, "suggest: gemini cluster"), status)
			}
			return nil, eris.Wrap(err, "suggest: gemini cluster")
		}
		return parseGroups(resp.Text())
	})
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code
	}
	return 0
}
