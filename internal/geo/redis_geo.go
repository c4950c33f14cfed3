package geo

import (
	"context"

	"github.com/example/commute-pool/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisGeo implements Geo using Redis GEO commands, one sorted set per
// workplace.
type RedisGeo struct {
	client *redis.Client
	prefix string
}

// maxSurfaceKm covers any two points on Earth, so an unbounded lookup is
// still answered by GEORADIUS in distance order.
const maxSurfaceKm = 20040

func NewRedisGeo(client *redis.Client, prefix string) *RedisGeo {
	return &RedisGeo{client: client, prefix: prefix}
}

func (r *RedisGeo) key(workplace string) string { return r.prefix + ":" + workplace }

func (r *RedisGeo) Upsert(ctx context.Context, workplace, id string, home models.Coord) error {
	return r.client.GeoAdd(ctx, r.key(workplace), &redis.GeoLocation{Longitude: home.Lon, Latitude: home.Lat, Name: id}).Err()
}

func (r *RedisGeo) Remove(ctx context.Context, workplace, id string) error {
	return r.client.ZRem(ctx, r.key(workplace), id).Err()
}

func (r *RedisGeo) Nearby(ctx context.Context, workplace string, center models.Coord, radiusKm float64, limit int) ([]string, error) {
	if radiusKm <= 0 {
		radiusKm = maxSurfaceKm
	}
	res, err := r.client.GeoRadius(ctx, r.key(workplace), center.Lon, center.Lat, &redis.GeoRadiusQuery{
		Radius:   radiusKm,
		Unit:     "km",
		WithDist: true,
		Count:    limit,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(res))
	for _, g := range res {
		out = append(out, g.Name)
	}
	return out, nil
}
