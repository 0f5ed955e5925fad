package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/green-route/internal/dispatch"
	"github.com/example/green-route/internal/fleet"
	"github.com/example/green-route/internal/models"
	"github.com/example/green-route/internal/storage"
	"github.com/example/green-route/internal/tracking"
)

// Tracker is the tracking controller as seen by the websocket commands.
type Tracker interface {
	Start(ctx context.Context, routeID, owner string) error
	IsTracking(routeID string) bool
	SubscribeTraffic(ctx context.Context, routeID, owner string) error
	StopOwner(owner string)
}

type Server struct {
	Fleet    *fleet.Service
	Tracking Tracker
	Hub      *dispatch.Hub
	logger   *slog.Logger
	mux      *mux.Router
	upgrader websocket.Upgrader
}

func NewServer(f *fleet.Service, t Tracker, hub *dispatch.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Fleet:    f,
		Tracking: t,
		Hub:      hub,
		logger:   logger,
		mux:      mux.NewRouter(),
		// the dashboard and driver app are served from other origins
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS)

	api := s.mux.PathPrefix("/api").Subrouter()
	api.HandleFunc("/trucks", s.handleCreateTruck).Methods(http.MethodPost)
	api.HandleFunc("/trucks", s.handleListTrucks).Methods(http.MethodGet)
	api.HandleFunc("/trucks/nearby", s.handleNearbyTrucks).Methods(http.MethodGet)
	api.HandleFunc("/trucks/{id}", s.handleGetTruck).Methods(http.MethodGet)
	api.HandleFunc("/trucks/{id}", s.handleUpdateTruck).Methods(http.MethodPut)
	api.HandleFunc("/trucks/{id}/location", s.handleTruckLocation).Methods(http.MethodGet)

	api.HandleFunc("/routes", s.handleCreateRoute).Methods(http.MethodPost)
	api.HandleFunc("/routes/{id}", s.handleGetRoute).Methods(http.MethodGet)
	api.HandleFunc("/routes/{id}/optimize", s.handleOptimizeRoute).Methods(http.MethodPost)
	api.HandleFunc("/routes/{id}/traffic", s.handleRouteTraffic).Methods(http.MethodGet)
	api.HandleFunc("/routes/{id}/complete", s.handleCompleteRoute).Methods(http.MethodPut)
	api.HandleFunc("/routes/{id}/cancel", s.handleCancelRoute).Methods(http.MethodPut)

	api.HandleFunc("/analytics/fleet", s.handleFleetAnalytics).Methods(http.MethodGet)
	api.HandleFunc("/analytics/emissions", s.handleEmissions).Methods(http.MethodGet)
	api.HandleFunc("/analytics/predictions", s.handlePredictions).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

var errBadBody = errors.New("malformed request body")

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadBody),
		errors.Is(err, models.ErrInvalidID),
		errors.Is(err, models.ErrInvalidLocation),
		errors.Is(err, fleet.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, fleet.ErrRouteTracked),
		errors.Is(err, tracking.ErrAlreadyTracking),
		errors.Is(err, tracking.ErrRouteFinished),
		errors.Is(err, tracking.ErrRouteBusy):
		return http.StatusConflict
	case errors.Is(err, fleet.ErrNoLocator):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", requestIDFromContext(r.Context()), "error", err)
		msg = "internal error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: msg})
}

func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	// an empty body leaves every field at its default
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.Join(errBadBody, err)
	}
	return nil
}

func queryFloat(r *http.Request, key string) (float64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.Join(errBadBody, err)
	}
	return v, nil
}

func (s *Server) handleCreateTruck(w http.ResponseWriter, r *http.Request) {
	var in fleet.TruckInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.Fleet.CreateTruck(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleListTrucks(w http.ResponseWriter, r *http.Request) {
	trucks, err := s.Fleet.ListTrucks(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trucks)
}

func (s *Server) handleNearbyTrucks(w http.ResponseWriter, r *http.Request) {
	lat, errLat := queryFloat(r, "lat")
	lon, errLon := queryFloat(r, "lon")
	radius, errRad := queryFloat(r, "radiusKm")
	if err := errors.Join(errLat, errLon, errRad); err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := s.Fleet.NearbyTrucks(r.Context(), fleet.NearbyQuery{Latitude: lat, Longitude: lon, RadiusKm: radius, Limit: limit})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTruck(w http.ResponseWriter, r *http.Request) {
	t, err := s.Fleet.GetTruck(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTruck(w http.ResponseWriter, r *http.Request) {
	var in fleet.TruckUpdate
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.Fleet.UpdateTruck(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTruckLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := s.Fleet.TruckLocation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *Server) handleCreateRoute(w http.ResponseWriter, r *http.Request) {
	var in fleet.RouteInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	plan, err := s.Fleet.CreateRoute(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleGetRoute(w http.ResponseWriter, r *http.Request) {
	route, err := s.Fleet.GetRoute(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (s *Server) handleOptimizeRoute(w http.ResponseWriter, r *http.Request) {
	var in fleet.ReoptimizeInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	plan, err := s.Fleet.ReoptimizeRoute(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleRouteTraffic(w http.ResponseWriter, r *http.Request) {
	segs, err := s.Fleet.RouteTraffic(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, segs)
}

func (s *Server) handleCompleteRoute(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Metrics fleet.MetricsPatch `json:"metrics"`
	}
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	route, err := s.Fleet.CompleteRoute(r.Context(), mux.Vars(r)["id"], in.Metrics)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (s *Server) handleCancelRoute(w http.ResponseWriter, r *http.Request) {
	route, err := s.Fleet.CancelRoute(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (s *Server) handleFleetAnalytics(w http.ResponseWriter, r *http.Request) {
	sum, err := s.Fleet.FleetSummary(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleEmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := s.Fleet.Emissions(r.Context(), q.Get("period"), q.Get("truckId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("segments"))
	writeJSON(w, http.StatusOK, s.Fleet.Predictions(n))
}
