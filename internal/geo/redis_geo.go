package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/emergency-dispatch/internal/models"
)

// RedisMirror publishes hospital positions to a Redis GEO set so external
// dashboards can query them. It is write-only and best-effort: the
// coordinator never reads it back for ranking, and a Redis outage must not
// affect dispatch.
type RedisMirror struct {
	client *redis.Client
	key    string
}

func NewRedisMirror(addr, password, key string) *RedisMirror {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisMirror{client: c, key: key}
}

func (m *RedisMirror) Upsert(h models.Actor) {
	if h.Coord == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = m.client.GeoAdd(ctx, m.key, &redis.GeoLocation{Longitude: h.Coord.Lng, Latitude: h.Coord.Lat, Name: h.ConnID}).Result()
	_ = m.client.HSet(ctx, metaKey(h.ConnID), map[string]interface{}{
		"name":    h.Name,
		"address": h.Address,
		"lat":     strconv.FormatFloat(h.Coord.Lat, 'f', 6, 64),
		"lng":     strconv.FormatFloat(h.Coord.Lng, 'f', 6, 64),
		"updated": time.Now().Format(time.RFC3339),
	}).Err()
}

func (m *RedisMirror) Remove(connID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = m.client.ZRem(ctx, m.key, connID).Result()
	_ = m.client.Del(ctx, metaKey(connID)).Err()
}

func (m *RedisMirror) Close() error { return m.client.Close() }

func metaKey(id string) string { return "hospital:meta:" + id }
