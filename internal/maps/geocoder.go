// README: Postcode geocoding via the Google Maps Geocoding API, cached in Redis.
package maps

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"googlemaps.github.io/maps"

	"multidrop/internal/types"
)

var ErrNoResult = errors.New("postcode not found")

const (
	cacheKeyPrefix  = "multidrop:geocode:"
	DefaultCacheTTL = 30 * 24 * time.Hour
)

type geocodeClient interface {
	Geocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// Geocoder resolves postcodes to coordinates. A nil cache disables caching.
type Geocoder struct {
	client geocodeClient
	cache  *redis.Client
	ttl    time.Duration
	region string
}

// NewGeocoder creates a Geocoder with the given API Key.
func NewGeocoder(apiKey, region string, cache *redis.Client) (*Geocoder, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Geocoder{client: client, cache: cache, ttl: DefaultCacheTTL, region: region}, nil
}

func (g *Geocoder) Resolve(ctx context.Context, postcode string) (types.Point, error) {
	key := normalize(postcode)
	if key == "" {
		return types.Point{}, ErrNoResult
	}
	if p, ok := g.cached(ctx, key); ok {
		return p, nil
	}

	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{
		Components: map[maps.Component]string{maps.ComponentPostalCode: postcode},
		Region:     g.region,
	})
	if err != nil {
		return types.Point{}, fmt.Errorf("geocoding api error: %w", err)
	}
	if len(results) == 0 {
		return types.Point{}, fmt.Errorf("%w: %s", ErrNoResult, postcode)
	}
	loc := results[0].Geometry.Location
	p := types.Point{Lat: loc.Lat, Lng: loc.Lng}

	if g.cache != nil {
		val := strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
		_ = g.cache.Set(ctx, cacheKeyPrefix+key, val, g.ttl).Err()
	}
	return p, nil
}

func (g *Geocoder) cached(ctx context.Context, key string) (types.Point, bool) {
	if g.cache == nil {
		return types.Point{}, false
	}
	val, err := g.cache.Get(ctx, cacheKeyPrefix+key).Result()
	if err != nil {
		return types.Point{}, false
	}
	lat, lng, ok := strings.Cut(val, ",")
	if !ok {
		return types.Point{}, false
	}
	var p types.Point
	if p.Lat, err = strconv.ParseFloat(lat, 64); err != nil {
		return types.Point{}, false
	}
	if p.Lng, err = strconv.ParseFloat(lng, 64); err != nil {
		return types.Point{}, false
	}
	return p, true
}

// normalize folds case and spacing so "ec2a 3ay" and "EC2A3AY" share a cache entry.
func normalize(postcode string) string {
	return strings.ToUpper(strings.Join(strings.Fields(postcode), ""))
}
