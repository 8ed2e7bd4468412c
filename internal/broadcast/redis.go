// Package broadcast fans administrative cache clears out to every replica.
// Each process keeps its own in-memory store, so a clear received by one
// replica is republished over Redis pub/sub for the others.
package broadcast

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "wpcache:clear"

type ClearEvent struct {
	Category string    `json:"category"`
	Sender   string    `json:"sender"`
	At       time.Time `json:"at"`
}

type Publisher interface {
	PublishClear(ctx context.Context, category string) error
}

// Nop is used when no Redis is configured.
type Nop struct{}

func (Nop) PublishClear(context.Context, string) error { return nil }

type Redis struct {
	client  *redis.Client
	channel string
	token   string
	log     *zap.Logger
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedis(client *redis.Client, channel string, log *zap.Logger) (*Redis, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{client: client, channel: channel, token: token, log: log}, nil
}

func (r *Redis) PublishClear(ctx context.Context, category string) error {
	payload, err := json.Marshal(ClearEvent{Category: category, Sender: r.token, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Subscribe delivers clears published by other replicas until ctx is done.
func (r *Redis) Subscribe(ctx context.Context, handle func(ClearEvent)) error {
	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.dispatch(msg.Payload, handle)
		}
	}
}

func (r *Redis) dispatch(payload string, handle func(ClearEvent)) {
	var ev ClearEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		r.log.Warn("dropping malformed clear event", zap.String("channel", r.channel), zap.Error(err))
		return
	}
	if ev.Sender == r.token {
		return
	}
	handle(ev)
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	_, err := rand.Read(buf)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
