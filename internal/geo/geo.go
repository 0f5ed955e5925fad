package geo

import (
	"math"

	"github.com/example/green-route/internal/models"
)

const EarthRadiusKm = 6371.0

// Haversine distance in kilometers
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// Distance is the great-circle distance between two locations in km.
func Distance(a, b models.Location) float64 {
	return Haversine(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// PathLength sums consecutive distances along waypoints.
func PathLength(waypoints []models.Location) float64 {
	var total float64
	for i := 0; i+1 < len(waypoints); i++ {
		total += Distance(waypoints[i], waypoints[i+1])
	}
	return total
}

// Interpolate returns n+1 points evenly spaced in lat/lon between start and end
// inclusive. This is linear in degrees, not geodesic.
func Interpolate(start, end models.Location, n int) []models.Location {
	if n < 1 {
		n = 1
	}
	out := make([]models.Location, 0, n+1)
	for i := 0; i <= n; i++ {
		ratio := float64(i) / float64(n)
		out = append(out, models.Location{
			Latitude:  start.Latitude + (end.Latitude-start.Latitude)*ratio,
			Longitude: start.Longitude + (end.Longitude-start.Longitude)*ratio,
		})
	}
	// keep endpoints exact regardless of float error
	out[0] = models.Location{Latitude: start.Latitude, Longitude: start.Longitude}
	out[n] = models.Location{Latitude: end.Latitude, Longitude: end.Longitude}
	return out
}

// Lerp moves from a toward b by ratio (0..1).
func Lerp(a, b models.Location, ratio float64) models.Location {
	return models.Location{
		Latitude:  a.Latitude + (b.Latitude-a.Latitude)*ratio,
		Longitude: a.Longitude + (b.Longitude-a.Longitude)*ratio,
	}
}
