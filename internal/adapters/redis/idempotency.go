package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultIdempPrefix = "idemp:"

// Idempotency stores replayable responses keyed by client-supplied
// idempotency keys.
type Idempotency struct {
	client *redis.Client
	prefix string
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client, prefix: defaultIdempPrefix}
}

// NewIdempotencyWithPrefix namespaces the keys, for services sharing one
// redis instance.
func NewIdempotencyWithPrefix(client *redis.Client, prefix string) *Idempotency {
	return &Idempotency{client: client, prefix: prefix}
}

type IdempResponse struct {
	Status int    `json:"status"`
	Result []byte `json:"result"`
}

func (i *Idempotency) Get(ctx context.Context, key string) (*IdempResponse, error) {
	val, err := i.client.Get(ctx, i.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp IdempResponse
	err = json.Unmarshal(val, &resp)
	return &resp, err
}

func (i *Idempotency) Set(ctx context.Context, key string, resp IdempResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return i.client.Set(ctx, i.prefix+key, data, ttl).Err()
}
