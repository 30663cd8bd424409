package cachebus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T, mr *miniredis.Miniredis) *Bus {
	t.Helper()
	b, err := Connect(context.Background(), mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() }) //nolint:errcheck
	return b
}

func TestBus_DeliversToOtherReplicas(t *testing.T) {
	mr := miniredis.RunT(t)
	publisher := newBus(t, mr)
	subscriber := newBus(t, mr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 4)
	require.NoError(t, subscriber.Subscribe(ctx, func(facet string) { got <- facet }))

	require.NoError(t, publisher.PublishInvalidation(ctx, "agency"))
	require.NoError(t, publisher.PublishInvalidation(ctx, ""))

	for _, want := range []string{"agency", ""} {
		select {
		case facet := <-got:
			assert.Equal(t, want, facet)
		case <-time.After(2 * time.Second):
			t.Fatalf("invalidation %q not delivered", want)
		}
	}
}

func TestBus_IgnoresOwnMessages(t *testing.T) {
	mr := miniredis.RunT(t)
	b := newBus(t, mr)
	other := newBus(t, mr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 4)
	require.NoError(t, b.Subscribe(ctx, func(facet string) { got <- facet }))

	require.NoError(t, b.PublishInvalidation(ctx, "self"))
	require.NoError(t, other.PublishInvalidation(ctx, "peer"))

	select {
	case facet := <-got:
		assert.Equal(t, "peer", facet)
	case <-time.After(2 * time.Second):
		t.Fatal("peer invalidation not delivered")
	}
}

func TestBus_SkipsMalformedPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	b := newBus(t, mr)
	other := newBus(t, mr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 4)
	require.NoError(t, b.Subscribe(ctx, func(facet string) { got <- facet }))

	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer raw.Close() //nolint:errcheck
	require.NoError(t, raw.Publish(ctx, DefaultChannel, "not json").Err())
	require.NoError(t, other.PublishInvalidation(ctx, "agency"))

	select {
	case facet := <-got:
		assert.Equal(t, "agency", facet)
	case <-time.After(2 * time.Second):
		t.Fatal("invalidation not delivered after bad payload")
	}
}

func TestBus_SubscribeRequiresCallback(t *testing.T) {
	mr := miniredis.RunT(t)
	b := newBus(t, mr)
	assert.Error(t, b.Subscribe(context.Background(), nil))
}

func TestConnect_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Connect(context.Background(), addr, "custom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cachebus: ping")
}
