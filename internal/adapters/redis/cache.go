package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// SetSeatPreLock takes a best-effort SetNX lock before the store-level
// insert. It only short-circuits obviously contended requests; the unique
// index in the store stays authoritative.
func (c *Cache) SetSeatPreLock(ctx context.Context, eventID, seat, bookingID string, ttl time.Duration) (bool, error) {
	key := "hold:" + eventID + ":" + seat
	res := c.client.SetNX(ctx, key, bookingID, ttl)
	return res.Val(), res.Err()
}

// ReleaseSeatPreLock drops the pre-lock once the store row is gone (expiry,
// cancellation, or a rolled-back reservation).
func (c *Cache) ReleaseSeatPreLock(ctx context.Context, eventID, seat string) error {
	return c.client.Del(ctx, "hold:"+eventID+":"+seat).Err()
}
