package broker

import (
	"context"

	"github.com/stagedoor/handoff-server-go/internal/redis"
)

// Transport carries raw envelope bytes between instances. Subscribe stays
// live until the returned stop function is called or the context ends.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error)
}

type redisTransport struct {
	client *redis.Client
}

// NewRedisTransport carries envelopes over redis pub/sub, one subscription
// per instance channel.
func NewRedisTransport(client *redis.Client) Transport {
	return &redisTransport{client: client}
}

func (t *redisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	return t.client.Publish(ctx, channel, payload).Err()
}

func (t *redisTransport) Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error) {
	sub := t.client.Client.Subscribe(ctx, channel)

	// Force the SUBSCRIBE round trip so a bad connection fails here, not
	// silently in the pump goroutine.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, err
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, sub.Close, nil
}
