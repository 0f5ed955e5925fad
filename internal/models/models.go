package models

import "time"

// Location is an immutable point; Timestamp is only set on simulated GPS fixes.
type Location struct {
	Latitude  float64    `json:"latitude" bson:"latitude"`
	Longitude float64    `json:"longitude" bson:"longitude"`
	Timestamp *time.Time `json:"timestamp,omitempty" bson:"timestamp,omitempty"`
}

// At returns a copy of l stamped with t.
func (l Location) At(t time.Time) Location {
	l.Timestamp = &t
	return l
}

// SamePoint compares coordinates only.
func (l Location) SamePoint(o Location) bool {
	return l.Latitude == o.Latitude && l.Longitude == o.Longitude
}

// Place is a route endpoint with a display address.
type Place struct {
	Location `bson:",inline"`
	Address  string `json:"address" bson:"address"`
}

type TrafficReading struct {
	SegmentID       string  `json:"segmentId"`
	CongestionLevel float64 `json:"congestionLevel"` // 0..1
	Speed           float64 `json:"speed"`           // km/h
	Incident        bool    `json:"incidents"`
}

type WeatherType string

const (
	WeatherClear     WeatherType = "clear"
	WeatherRain      WeatherType = "rain"
	WeatherFog       WeatherType = "fog"
	WeatherHeavyRain WeatherType = "heavy_rain"
)

type WeatherReading struct {
	Type       WeatherType `json:"type"`
	Visibility float64     `json:"visibility"` // 0..1
	Impact     float64     `json:"impact"`     // 0..1
}

// OptimizedRoute is produced fresh by every optimization and never mutated.
type OptimizedRoute struct {
	Waypoints         []Location `json:"waypoints"`
	TotalDistance     float64    `json:"totalDistance"`     // km
	EstimatedDuration float64    `json:"estimatedDuration"` // minutes
	FuelEstimate      float64    `json:"fuelEstimate"`      // liters
	CO2Estimate       float64    `json:"co2Estimate"`       // kg
	TrafficScore      float64    `json:"trafficScore"`
	WeatherScore      float64    `json:"weatherScore"`
	OverallScore      float64    `json:"overallScore"`
}

type RouteStatus string

const (
	RoutePlanned   RouteStatus = "planned"
	RouteActive    RouteStatus = "active"
	RouteCompleted RouteStatus = "completed"
	RouteCancelled RouteStatus = "cancelled"
)

type RouteMetrics struct {
	TotalDistance     float64 `json:"totalDistance" bson:"totalDistance"`
	EstimatedDuration float64 `json:"estimatedDuration" bson:"estimatedDuration"`
	ActualDuration    float64 `json:"actualDuration" bson:"actualDuration"`
	FuelUsed          float64 `json:"fuelUsed" bson:"fuelUsed"`
	FuelSaved         float64 `json:"fuelSaved" bson:"fuelSaved"`
	CO2Emitted        float64 `json:"co2Emitted" bson:"co2Emitted"`
	CO2Reduced        float64 `json:"co2Reduced" bson:"co2Reduced"`
	TimeSaved         float64 `json:"timeSaved" bson:"timeSaved"`
}

type TrafficSample struct {
	SegmentID       string    `json:"segmentId" bson:"segmentId"`
	CongestionLevel float64   `json:"congestionLevel" bson:"congestionLevel"`
	Timestamp       time.Time `json:"timestamp" bson:"timestamp"`
}

type ExpectedSavings struct {
	Fuel float64 `json:"fuel" bson:"fuel"`
	Time float64 `json:"time" bson:"time"`
}

type Recalculation struct {
	Timestamp       time.Time       `json:"timestamp" bson:"timestamp"`
	Reason          string          `json:"reason" bson:"reason"`
	NewRoute        []Location      `json:"newRoute" bson:"newRoute"`
	ExpectedSavings ExpectedSavings `json:"expectedSavings" bson:"expectedSavings"`
}

// RouteRecord is the persisted route. While a tracking session runs it is the
// only writer of Waypoints, TrafficData and Recalculations.
type RouteRecord struct {
	RouteID        string          `json:"routeId" bson:"_id"`
	TruckID        string          `json:"truckId" bson:"truckId"`
	Origin         Place           `json:"origin" bson:"origin"`
	Destination    Place           `json:"destination" bson:"destination"`
	Waypoints      []Location      `json:"waypoints" bson:"waypoints"`
	Status         RouteStatus     `json:"status" bson:"status"`
	Metrics        RouteMetrics    `json:"metrics" bson:"metrics"`
	TrafficData    []TrafficSample `json:"trafficData" bson:"trafficData"`
	Recalculations []Recalculation `json:"recalculations" bson:"recalculations"`
	CreatedAt      time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt" bson:"updatedAt"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
}

// LastTraffic returns the most recent persisted congestion sample.
func (r *RouteRecord) LastTraffic() (float64, bool) {
	if len(r.TrafficData) == 0 {
		return 0, false
	}
	return r.TrafficData[len(r.TrafficData)-1].CongestionLevel, true
}

// Clone deep-copies the slices so stores never share backing arrays with callers.
func (r *RouteRecord) Clone() *RouteRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Waypoints = append([]Location(nil), r.Waypoints...)
	c.TrafficData = append([]TrafficSample(nil), r.TrafficData...)
	c.Recalculations = make([]Recalculation, len(r.Recalculations))
	for i, rc := range r.Recalculations {
		rc.NewRoute = append([]Location(nil), rc.NewRoute...)
		c.Recalculations[i] = rc
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

type TruckStatus string

const (
	TruckActive  TruckStatus = "active"
	TruckIdle    TruckStatus = "idle"
	TruckOffline TruckStatus = "offline"
)

type TruckRecord struct {
	TruckID            string      `json:"truckId" bson:"_id"`
	RegistrationNumber string      `json:"registrationNumber" bson:"registrationNumber"`
	DriverName         string      `json:"driverName" bson:"driverName"`
	CurrentLocation    Location    `json:"currentLocation" bson:"currentLocation"`
	Status             TruckStatus `json:"status" bson:"status"`
	ActiveRouteID      string      `json:"activeRouteId,omitempty" bson:"activeRouteId,omitempty"`
	FuelCapacity       float64     `json:"fuelCapacity" bson:"fuelCapacity"`             // liters
	AverageConsumption float64     `json:"averageConsumption" bson:"averageConsumption"` // L/km
	CreatedAt          time.Time   `json:"createdAt" bson:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt" bson:"updatedAt"`
}

type AlertType string

const (
	AlertTraffic     AlertType = "traffic"
	AlertWeather     AlertType = "weather"
	AlertRouteChange AlertType = "route_change"
)

// Alert is fire-and-forget; it is never persisted.
type Alert struct {
	ID          string    `json:"id"`
	Type        AlertType `json:"type"`
	Message     string    `json:"message"`
	FuelSavings float64   `json:"fuelSavings"`
	TimeSavings float64   `json:"timeSavings"`
	Timestamp   time.Time `json:"timestamp"`
}
