// Package cachebus broadcasts matcher cache invalidations across engine
// replicas over Redis pub/sub.
package cachebus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "refdata:invalidate"

// Message is the wire form of one invalidation. An empty Facet invalidates
// every facet.
type Message struct {
	Facet  string `json:"facet"`
	Origin string `json:"origin"`
}

// Bus publishes and receives invalidations. It implements refdata.Invalidator.
type Bus struct {
	rdb     goredis.UniversalClient
	channel string
	origin  string
}

// Connect dials Redis at addr and verifies the connection.
func Connect(ctx context.Context, addr, channel string) (*Bus, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrapf(err, "cachebus: ping %s", addr)
	}
	return New(rdb, channel), nil
}

// New wraps an existing client.
func New(rdb goredis.UniversalClient, channel string) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Bus{rdb: rdb, channel: channel, origin: uuid.NewString()}
}

// PublishInvalidation broadcasts an invalidation of facet.
func (b *Bus) PublishInvalidation(ctx context.Context, facet string) error {
	raw, err := json.Marshal(Message{Facet: facet, Origin: b.origin})
	if err != nil {
		return eris.Wrap(err, "cachebus: marshal message")
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return eris.Wrap(err, "cachebus: publish")
	}
	return nil
}

// Subscribe starts forwarding invalidations published by other replicas to
// onInvalidate until ctx is done. It returns once the subscription is live.
func (b *Bus) Subscribe(ctx context.Context, onInvalidate func(facet string)) error {
	if onInvalidate == nil {
		return eris.New("cachebus: onInvalidate callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return eris.Wrap(err, "cachebus: subscribe")
	}

	log := zap.L().With(zap.String("component", "cachebus"), zap.String("channel", b.channel))
	go func() {
		defer sub.Close() //nolint:errcheck
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					log.Warn("cachebus: bad payload", zap.Error(err))
					continue
				}
				if msg.Origin == b.origin {
					continue
				}
				log.Debug("cachebus: invalidation received", zap.String("facet", msg.Facet))
				onInvalidate(msg.Facet)
			}
		}
	}()
	return nil
}

// Close releases the Redis client.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
