package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisChannel is the pub/sub channel shared by every server instance.
const DefaultRedisChannel = "sofanotes:changes"

const publishTimeout = 5 * time.Second

var (
	errMissingRedisClient = errors.New("realtime: redis client is required")
	errMissingDispatcher  = errors.New("realtime: dispatcher is required")
)

// RedisBridgeConfig describes the dependencies of a RedisBridge.
type RedisBridgeConfig struct {
	Client     *redis.Client
	Channel    string
	Dispatcher *Dispatcher
	Logger     *zap.Logger
}

// RedisBridge relays changes through a redis channel so every server instance's local
// dispatcher sees writes made on any instance. Local delivery happens only from the channel.
type RedisBridge struct {
	client     *redis.Client
	channel    string
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewRedisBridge constructs a RedisBridge.
func NewRedisBridge(cfg RedisBridgeConfig) (*RedisBridge, error) {
	if cfg.Client == nil {
		return nil, errMissingRedisClient
	}
	if cfg.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	channel := cfg.Channel
	if channel == "" {
		channel = DefaultRedisChannel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{
		client:     cfg.Client,
		channel:    channel,
		dispatcher: cfg.Dispatcher,
		logger:     logger,
	}, nil
}

// NewRedisClient parses url and verifies the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// Publish sends message to the shared channel. When redis rejects the publish the
// message is delivered locally so that this instance's subscribers still see it.
func (b *RedisBridge) Publish(message Message) {
	payload, err := json.Marshal(message)
	if err != nil {
		b.logger.Error("realtime message encode failed", zap.String("resource_key", message.ResourceKey), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.logger.Warn("redis publish failed, delivering locally",
			zap.String("resource_key", message.ResourceKey),
			zap.Error(err))
		b.dispatcher.Publish(message)
	}
}

// Run forwards messages from the shared channel to the local dispatcher until ctx ends.
func (b *RedisBridge) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("redis bridge subscribed", zap.String("channel", b.channel))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case received, ok := <-messages:
			if !ok {
				return nil
			}
			var message Message
			if err := json.Unmarshal([]byte(received.Payload), &message); err != nil {
				b.logger.Warn("realtime message decode failed", zap.Error(err))
				continue
			}
			b.dispatcher.Publish(message)
		}
	}
}
