package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// ActionChannel is the inbound pub/sub channel dedicated to one server
// instance; routed actions and their responses travel on these.
func ActionChannel(instanceID string) string {
	return fmt.Sprintf("actions:%s", instanceID)
}

// RefreshTokenKey stores the active refresh token for a user.
func RefreshTokenKey(userID string) string {
	return fmt.Sprintf("refToken:%s", userID)
}
