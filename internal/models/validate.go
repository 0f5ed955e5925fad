package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrInvalidLocation = errors.New("invalid location")
	ErrInvalidID       = errors.New("invalid id")
)

// Validate rejects non-finite or out-of-range coordinates.
func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) || math.IsInf(l.Latitude, 0) || math.IsInf(l.Longitude, 0) {
		return fmt.Errorf("%w: non-finite coordinate", ErrInvalidLocation)
	}
	if l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("%w: latitude %f out of range", ErrInvalidLocation, l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("%w: longitude %f out of range", ErrInvalidLocation, l.Longitude)
	}
	return nil
}

// ValidateID rejects blank identifiers.
func ValidateID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidID, kind)
	}
	return nil
}
