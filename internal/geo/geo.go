// Package geo contains pure geographic computation helpers used by clustering, planning and assignment.
package geo

import (
	"math"
	"time"

	"multidrop/internal/types"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometres between two points.
func HaversineKm(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// PathKm sums consecutive legs of an ordered path.
func PathKm(points []types.Point) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += HaversineKm(points[i-1], points[i])
	}
	return total
}

// Centroid is the arithmetic mean of the coordinates. The zero Point is returned for an empty slice.
func Centroid(points []types.Point) types.Point {
	if len(points) == 0 {
		return types.Point{}
	}
	var lat, lng float64
	for _, p := range points {
		lat += p.Lat
		lng += p.Lng
	}
	n := float64(len(points))
	return types.Point{Lat: lat / n, Lng: lng / n}
}

// Bounds is an axis-aligned lat/lng box.
type Bounds struct {
	MinLat, MinLng float64
	MaxLat, MaxLng float64
}

func BoundsOf(points []types.Point) Bounds {
	if len(points) == 0 {
		return Bounds{}
	}
	b := Bounds{MinLat: points[0].Lat, MaxLat: points[0].Lat, MinLng: points[0].Lng, MaxLng: points[0].Lng}
	for _, p := range points[1:] {
		b.MinLat = math.Min(b.MinLat, p.Lat)
		b.MaxLat = math.Max(b.MaxLat, p.Lat)
		b.MinLng = math.Min(b.MinLng, p.Lng)
		b.MaxLng = math.Max(b.MaxLng, p.Lng)
	}
	return b
}

func (b Bounds) Contains(p types.Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// Expand grows the box by km on every side. Longitude degrees shrink with latitude,
// so the widest latitude of the box is used to stay conservative.
func (b Bounds) Expand(km float64) Bounds {
	dLat := km / 111.32
	lat := math.Max(math.Abs(b.MinLat), math.Abs(b.MaxLat))
	cos := math.Cos(degreesToRadians(lat))
	if cos < 0.01 {
		cos = 0.01
	}
	dLng := km / (111.32 * cos)
	return Bounds{
		MinLat: b.MinLat - dLat,
		MaxLat: b.MaxLat + dLat,
		MinLng: b.MinLng - dLng,
		MaxLng: b.MaxLng + dLng,
	}
}

// DiagonalKm is the great-circle length of the box diagonal.
func (b Bounds) DiagonalKm() float64 {
	return HaversineKm(types.Point{Lat: b.MinLat, Lng: b.MinLng}, types.Point{Lat: b.MaxLat, Lng: b.MaxLng})
}

// SortByDistance performs a stable insertion sort (fine for small N) by distance from origin.
func SortByDistance[T any](items []T, origin types.Point, loc func(T) types.Point) {
	dist := func(v T) float64 { return HaversineKm(origin, loc(v)) }
	for i := 1; i < len(items); i++ {
		key := items[i]
		kd := dist(key)
		j := i - 1
		for j >= 0 && dist(items[j]) > kd {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}

// TravelModel converts straight-line distance into drive time at a constant average speed,
// plus a fixed dwell at every stop.
type TravelModel struct {
	SpeedKmh    float64
	ServiceTime time.Duration
}

func DefaultTravelModel() TravelModel {
	return TravelModel{SpeedKmh: 30, ServiceTime: 15 * time.Minute}
}

func (m TravelModel) TravelTime(km float64) time.Duration {
	speed := m.SpeedKmh
	if speed <= 0 {
		speed = DefaultTravelModel().SpeedKmh
	}
	return time.Duration(km / speed * float64(time.Hour))
}

// Between is drive time between two points.
func (m TravelModel) Between(a, b types.Point) time.Duration {
	return m.TravelTime(HaversineKm(a, b))
}
