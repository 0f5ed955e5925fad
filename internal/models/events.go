package models

import "time"

// Event names published to subscribers.
const (
	EventPositionUpdated = "position:updated"
	EventAlertNew        = "alert:new"
	EventRouteOptimized  = "route:optimized"
	EventRouteCompleted  = "route:completed"
	EventRouteStarted    = "route:started"
	EventTrafficUpdated  = "traffic:updated"
	EventError           = "error"
)

func RouteTopic(routeID string) string   { return "route:" + routeID }
func TrafficTopic(routeID string) string { return "traffic:" + routeID }

type PositionUpdate struct {
	TruckID  string   `json:"truckId"`
	Position Location `json:"position"`
	Progress int      `json:"progress"` // 0..100
}

type RouteOptimizedUpdate struct {
	RouteID      string         `json:"routeId"`
	NewWaypoints []Location     `json:"newWaypoints"`
	Optimization OptimizedRoute `json:"optimization"`
}

type RouteCompletedUpdate struct {
	RouteID string `json:"routeId"`
}

type TrafficUpdate struct {
	RouteID        string    `json:"routeId"`
	AverageTraffic float64   `json:"averageTraffic"`
	Timestamp      time.Time `json:"timestamp"`
}

// Commands accepted from websocket clients.
const (
	CommandRouteStart       = "route:start"
	CommandOptimizeRequest  = "route:optimize:request"
	CommandTrafficSubscribe = "traffic:subscribe"
	CommandAlertAcknowledge = "alert:acknowledge"
)

// Error codes carried by the "error" event.
const (
	CodeNotFound = "not_found"
	CodeInvalid  = "invalid"
	CodeInternal = "internal"
)

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type RouteStartedUpdate struct {
	RouteID string `json:"routeId"`
}
