package matrix

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"hubroute/internal/model"
)

// CachedProvider wraps a Provider with a Redis whole-matrix cache keyed by
// the point list. Point sets repeat day over day for a fixed customer base,
// so matrix-level caching avoids the upstream call entirely on a hit.
type CachedProvider struct {
	Inner Provider
	rdb   *redis.Client
	ttl   time.Duration
}

func NewCachedProvider(inner Provider, redisURL string, ttl time.Duration) (*CachedProvider, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("matrix cache: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedProvider{Inner: inner, rdb: redis.NewClient(opt), ttl: ttl}, nil
}

func (c *CachedProvider) FetchMatrix(ctx context.Context, points []model.GeoPoint) (Matrix, error) {
	key := cacheKey(points)
	if data, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var m Matrix
		if jerr := json.Unmarshal(data, &m); jerr == nil && m.Size() == len(points) {
			return m, nil
		}
		// corrupt entry; fall through and refetch
	}
	m, err := c.Inner.FetchMatrix(ctx, points)
	if err != nil {
		return Matrix{}, err
	}
	if data, jerr := json.Marshal(m); jerr == nil {
		_ = c.rdb.Set(ctx, key, data, c.ttl).Err()
	}
	return m, nil
}

func (c *CachedProvider) Close() error { return c.rdb.Close() }

// cacheKey hashes coordinates rounded to ~1m precision so jitter in the
// sixth decimal does not fragment the cache.
func cacheKey(points []model.GeoPoint) string {
	h := sha256.New()
	for _, p := range points {
		fmt.Fprintf(h, "%.5f,%.5f;", p.Lat, p.Lng)
	}
	return "hubroute:matrix:" + hex.EncodeToString(h.Sum(nil)[:16])
}
