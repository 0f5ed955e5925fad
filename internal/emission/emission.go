// Package emission converts route geometry and conditions into diesel
// consumption, CO2 and savings against a naive baseline route.
package emission

import (
	"math"

	"github.com/example/green-route/internal/geo"
	"github.com/example/green-route/internal/models"
	"github.com/example/green-route/internal/numeric"
)

const (
	CO2PerLiter        = 2.68 // kg CO2 per liter of diesel
	LitersPerKm        = 0.3
	IdleLitersPerHour  = 0.5
	TrafficFuelFactor  = 1.5
	WeatherFuelFactor  = 0.4
	BaseSpeedKmh       = 40.0
	minEffectiveSpeed  = 1.0
	baselineDistFactor = 1.2
)

// Baseline describes the hypothetical unoptimized trip.
type Baseline struct {
	Traffic float64
	Weather float64
}

func DefaultBaseline() Baseline { return Baseline{Traffic: 0.6, Weather: 0.1} }

type Savings struct {
	FuelUsed     float64 `json:"fuelUsed"`
	CO2Emitted   float64 `json:"co2Emitted"`
	BaselineFuel float64 `json:"baselineFuel"`
	BaselineCO2  float64 `json:"baselineCO2"`
	FuelSaved    float64 `json:"fuelSaved"`
	CO2Reduced   float64 `json:"co2Reduced"`
}

// multiplier is deliberately unclamped: congestion 1 yields 2.5x.
func multiplier(traffic, weather float64) float64 {
	return (1 + traffic*TrafficFuelFactor) * (1 + weather*WeatherFuelFactor)
}

func fuelForDistance(km, traffic, weather float64) float64 {
	return km * LitersPerKm * multiplier(traffic, weather)
}

// FuelConsumption returns liters for the path, rounded to 2 decimals.
func FuelConsumption(waypoints []models.Location, traffic, weather, idleMinutes float64) float64 {
	fuel := fuelForDistance(geo.PathLength(waypoints), traffic, weather) + idleMinutes/60*IdleLitersPerHour
	return numeric.Round(fuel, 2)
}

// CO2 returns kg of CO2 for the given liters, rounded to 2 decimals.
func CO2(fuel float64) float64 { return numeric.Round(fuel*CO2PerLiter, 2) }

// CalculateSavings compares the route with a baseline 20% longer under the
// baseline conditions. Savings are negative when the route is worse.
func CalculateSavings(waypoints []models.Location, traffic, weather float64, base Baseline) Savings {
	fuelUsed := FuelConsumption(waypoints, traffic, weather, 0)
	co2 := CO2(fuelUsed)

	baselineFuel := fuelForDistance(geo.PathLength(waypoints)*baselineDistFactor, base.Traffic, base.Weather)
	baselineCO2 := CO2(baselineFuel)

	return Savings{
		FuelUsed:     fuelUsed,
		CO2Emitted:   co2,
		BaselineFuel: numeric.Round(baselineFuel, 2),
		BaselineCO2:  baselineCO2,
		FuelSaved:    numeric.Round(baselineFuel-fuelUsed, 2),
		CO2Reduced:   numeric.Round(baselineCO2-co2, 2),
	}
}

// BaselineDistance is the assumed length of the unoptimized path.
func BaselineDistance(optimizedKm float64) float64 { return optimizedKm * baselineDistFactor }

func travelMinutes(km, congestion float64) float64 {
	speed := math.Max(BaseSpeedKmh*(1-congestion), minEffectiveSpeed)
	return km / speed * 60
}

// TimeSavings returns baseline minus optimized travel time in whole minutes.
// Effective speed is floored at 1 km/h so full congestion stays finite.
func TimeSavings(optimizedKm, optimizedTraffic, baselineKm, baselineTraffic float64) int {
	diff := travelMinutes(baselineKm, baselineTraffic) - travelMinutes(optimizedKm, optimizedTraffic)
	return int(numeric.Round(diff, 0))
}
