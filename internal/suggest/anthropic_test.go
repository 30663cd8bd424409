package suggest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/refdata/internal/refdata"
	"github.com/sells-group/refdata/internal/resilience"
	"github.com/sells-group/refdata/pkg/anthropic"
)

type fakeAnthropic struct {
	mu       sync.Mutex
	requests []anthropic.MessageRequest
	replies  []string
	errs     []error
}

func (f *fakeAnthropic) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.requests)
	f.requests = append(f.requests, req)
	if n < len(f.errs) && f.errs[n] != nil {
		return nil, f.errs[n]
	}
	text := ""
	if n < len(f.replies) {
		text = f.replies[n]
	}
	return &anthropic.MessageResponse{
		Content:    []anthropic.ContentBlock{{Type: "text", Text: text}},
		StopReason: "end_turn",
	}, nil
}

func fastLLMOptions() LLMOptions {
	return LLMOptions{
		Model:     "claude-haiku-4-5-20251001",
		MaxValues: 2,
		Retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
		},
	}
}

func TestAnthropic_Cluster(t *testing.T) {
	client := &fakeAnthropic{replies: []string{
		"```json\n{\"groups\":[{\"canonical_value\":\"NASA\",\"aliases\":[\"N.A.S.A.\"],\"confidence\":0.9}]}\n```",
	}}
	p := NewAnthropic(client, fastLLMOptions())
	assert.Equal(t, "anthropic", p.Name())

	groups, err := p.Cluster(context.Background(), refdata.DataTypeString, []refdata.ValueCount{
		{Value: "NASA", Count: 5},
		{Value: "N.A.S.A.", Count: 2},
		{Value: "USAF", Count: 1},
	})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "NASA", groups[0].CanonicalValue)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, "claude-haiku-4-5-20251001", req.Model)
	assert.Equal(t, int64(4096), req.MaxTokens)
	require.Len(t, req.System, 1)
	assert.Equal(t, systemPrompt, req.System[0].Text)
	require.NotNil(t, req.Temperature)
	assert.Zero(t, *req.Temperature)
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Messages[0].Content, `"N.A.S.A."`)
	assert.NotContains(t, req.Messages[0].Content, "USAF", "values beyond MaxValues are not sent")
}

func TestAnthropic_RetriesTransient(t *testing.T) {
	client := &fakeAnthropic{
		errs:    []error{resilience.NewTransientError(errors.New("overloaded"), 529)},
		replies: []string{"", `{"groups":[]}`},
	}
	p := NewAnthropic(client, fastLLMOptions())

	groups, err := p.Cluster(context.Background(), refdata.DataTypeString, []refdata.ValueCount{{Value: "NASA", Count: 1}})
	require.NoError(t, err)
	assert.Empty(t, groups)
	assert.Len(t, client.requests, 2)
}

func TestAnthropic_PermanentErrorNotRetried(t *testing.T) {
	client := &fakeAnthropic{errs: []error{errors.New("invalid api key")}}
	p := NewAnthropic(client, fastLLMOptions())

	_, err := p.Cluster(context.Background(), refdata.DataTypeString, []refdata.ValueCount{{Value: "NASA", Count: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suggest: anthropic cluster")
	assert.Len(t, client.requests, 1)
}

func TestAnthropic_UnparseableResponse(t *testing.T) {
	client := &fakeAnthropic{replies: []string{"Sorry, I can't do that."}}
	p := NewAnthropic(client, fastLLMOptions())

	_, err := p.Cluster(context.Background(), refdata.DataTypeString, []refdata.ValueCount{{Value: "NASA", Count: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON")
}

func TestLLMOptions_Limiter(t *testing.T) {
	unlimited := LLMOptions{}.limiter()
	assert.True(t, unlimited.Allow())
	assert.True(t, unlimited.Allow())

	limited := LLMOptions{RequestsPerMinute: 1}.limiter()
	assert.True(t, limited.Allow())
	assert.False(t, limited.Allow())
}
