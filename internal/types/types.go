// README: Shared identifier and coordinate types.
package types

import (
	"strings"

	"github.com/google/uuid"
)

type ID string

// NewID returns a 32-char hex identifier.
func NewID() ID {
	return ID(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// IsZero reports whether p is the zero value, which stands for "no coordinates".
func (p Point) IsZero() bool {
	return p.Lat == 0 && p.Lng == 0
}

// Valid reports whether p carries usable coordinates.
func (p Point) Valid() bool {
	if p.IsZero() {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}
