// Package tracking runs one timer-driven session per actively tracked route:
// it advances the simulated truck, persists its position, re-optimizes when
// traffic shifts and reports everything to an event sink.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/example/green-route/internal/gps"
	"github.com/example/green-route/internal/models"
	"github.com/example/green-route/internal/observability"
	"github.com/example/green-route/internal/optimizer"
	"github.com/example/green-route/internal/storage"
)

const (
	// used as the previous traffic level before a route has any samples
	DefaultBaselineTraffic = 0.2
	AlertReason            = "Traffic increased significantly ahead"
	RecalculationReason    = "Traffic congestion increased"
	CurrentSegment         = "current"
)

var (
	ErrAlreadyTracking = errors.New("tracking: route or truck already tracked")
	ErrRouteFinished   = errors.New("tracking: route is completed or cancelled")
	ErrRouteBusy       = errors.New("tracking: route is being modified")
)

type RouteStore interface {
	LoadRoute(ctx context.Context, routeID string) (*models.RouteRecord, error)
	SaveRoute(ctx context.Context, r *models.RouteRecord) error
}

type TruckStore interface {
	LoadTruck(ctx context.Context, truckID string) (*models.TruckRecord, error)
	SaveTruck(ctx context.Context, t *models.TruckRecord) error
	UpdateTruckLocation(ctx context.Context, truckID string, loc models.Location) error
}

type EventSink interface {
	Publish(ctx context.Context, topic, event string, payload any) error
}

type Optimizer interface {
	Optimize(ctx context.Context, origin, destination models.Location, considerPredictions bool) (models.OptimizedRoute, error)
	Score(ctx context.Context, waypoints []models.Location, considerPredictions bool) (models.OptimizedRoute, error)
	ShouldRecalculate(waypoints []models.Location, previousTraffic float64) optimizer.Decision
}

type TrafficSource interface {
	AverageRouteTraffic(waypoints []models.Location) float64
}

type Config struct {
	TickInterval    time.Duration
	CallTimeout     time.Duration // bound on each store call inside a tick
	Retries         uint64
	TrafficInterval time.Duration
	SpeedKmh        float64
}

func DefaultConfig() Config {
	return Config{
		TickInterval:    5 * time.Second,
		CallTimeout:     3 * time.Second,
		Retries:         2,
		TrafficInterval: 30 * time.Second,
		SpeedKmh:        gps.DefaultSpeedKmh,
	}
}

type Deps struct {
	Routes    RouteStore
	Trucks    TruckStore
	Sink      EventSink
	Optimizer Optimizer
	Traffic   TrafficSource
	GPS       *gps.Simulator
}

type session struct {
	routeID string
	truckID string
	owner   string
	cancel  context.CancelFunc
	done    chan struct{}
}

type subscription struct {
	owners map[string]struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller is the registry of tracking sessions and traffic subscriptions,
// keyed by route id. Each entry remembers the owner (a connection id) that
// created it so a disconnect can cancel everything it started.
type Controller struct {
	Deps
	cfg    Config
	logger *slog.Logger

	now       func() time.Time
	newID     func() string
	newTicker func(time.Duration) (<-chan time.Time, func())

	mu       sync.Mutex
	sessions map[string]*session
	subs     map[string]*subscription
	claims   map[string]struct{} // routes held by Start or Exclusive
	wg       sync.WaitGroup
}

func New(d Deps, cfg Config, logger *slog.Logger) *Controller {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.TrafficInterval <= 0 {
		cfg.TrafficInterval = def.TrafficInterval
	}
	if cfg.SpeedKmh <= 0 {
		cfg.SpeedKmh = def.SpeedKmh
	}
	if logger == nil {
		logger = slog.Default()
	}
	if d.GPS == nil {
		d.GPS = gps.NewSimulator()
	}
	return &Controller{
		Deps:      d,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
		newTicker: realTicker,
		sessions:  make(map[string]*session),
		subs:      make(map[string]*subscription),
		claims:    make(map[string]struct{}),
	}
}

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// call runs one store operation with a per-attempt timeout and a few
// backoff retries. Not-found is never retried.
func (c *Controller) call(ctx context.Context, op func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.cfg.Retries), ctx)
	return backoff.Retry(func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
		err := op(callCtx)
		if errors.Is(err, storage.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (c *Controller) publish(ctx context.Context, topic, event string, payload any) {
	if err := c.Sink.Publish(ctx, topic, event, payload); err != nil {
		c.logger.Warn("publish failed", "topic", topic, "event", event, "error", err)
	}
}

// claim reserves routeID for the caller. It fails while the route is tracked
// or already claimed.
func (c *Controller) claim(routeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[routeID]; ok {
		return fmt.Errorf("route %s: %w", routeID, ErrAlreadyTracking)
	}
	if _, ok := c.claims[routeID]; ok {
		return fmt.Errorf("route %s: %w", routeID, ErrRouteBusy)
	}
	c.claims[routeID] = struct{}{}
	return nil
}

func (c *Controller) release(routeID string) {
	c.mu.Lock()
	delete(c.claims, routeID)
	c.mu.Unlock()
}

// Exclusive runs fn while no session tracks routeID and none can start. With
// stopRunning set a running session is stopped first; otherwise a tracked
// route is refused with ErrAlreadyTracking. A concurrent claim gives
// ErrRouteBusy.
func (c *Controller) Exclusive(ctx context.Context, routeID string, stopRunning bool, fn func(context.Context) error) error {
	for {
		c.mu.Lock()
		s, tracked := c.sessions[routeID]
		c.mu.Unlock()
		if tracked {
			if !stopRunning {
				return fmt.Errorf("route %s: %w", routeID, ErrAlreadyTracking)
			}
			s.cancel()
			<-s.done
			c.logger.Info("tracking stopped", "route_id", routeID)
		}
		err := c.claim(routeID)
		if errors.Is(err, ErrAlreadyTracking) {
			// a session started between the stop and the claim
			continue
		}
		if err != nil {
			return err
		}
		break
	}
	defer c.release(routeID)
	return fn(ctx)
}

// Start begins tracking routeID on behalf of owner. The route becomes active
// and its truck active with activeRouteId set.
func (c *Controller) Start(ctx context.Context, routeID, owner string) error {
	if err := models.ValidateID("route", routeID); err != nil {
		return err
	}
	if err := c.claim(routeID); err != nil {
		return err
	}
	defer c.release(routeID)

	route, err := c.Routes.LoadRoute(ctx, routeID)
	if err != nil {
		return err
	}
	if route.Status == models.RouteCompleted || route.Status == models.RouteCancelled {
		return fmt.Errorf("route %s: %w", routeID, ErrRouteFinished)
	}
	truck, err := c.Trucks.LoadTruck(ctx, route.TruckID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if _, ok := c.sessions[routeID]; ok {
		c.mu.Unlock()
		return fmt.Errorf("route %s: %w", routeID, ErrAlreadyTracking)
	}
	for _, s := range c.sessions {
		if s.truckID == route.TruckID {
			c.mu.Unlock()
			return fmt.Errorf("truck %s: %w", route.TruckID, ErrAlreadyTracking)
		}
	}
	if err := c.GPS.Start(route.TruckID, route.Waypoints, c.cfg.SpeedKmh); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("route %s: %w", routeID, err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s := &session{routeID: routeID, truckID: route.TruckID, owner: owner, cancel: cancel, done: make(chan struct{})}
	c.sessions[routeID] = s
	c.mu.Unlock()

	now := c.now()
	route.Status = models.RouteActive
	route.UpdatedAt = now
	truck.Status = models.TruckActive
	truck.ActiveRouteID = routeID
	truck.UpdatedAt = now
	if err := errors.Join(c.Routes.SaveRoute(ctx, route), c.Trucks.SaveTruck(ctx, truck)); err != nil {
		c.mu.Lock()
		delete(c.sessions, routeID)
		c.mu.Unlock()
		cancel()
		c.GPS.Stop(route.TruckID)
		return fmt.Errorf("activate route %s: %w", routeID, err)
	}

	observability.TrackingSessions.Inc()
	c.logger.Info("tracking started", "route_id", routeID, "truck_id", route.TruckID, "owner", owner)
	c.wg.Add(1)
	go c.run(runCtx, s)
	return nil
}

func (c *Controller) run(ctx context.Context, s *session) {
	defer c.wg.Done()
	defer close(s.done)
	defer c.finish(s)

	tick, stop := c.newTicker(c.cfg.TickInterval)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			// a stop racing the ticker wins
			if ctx.Err() != nil {
				return
			}
			if c.step(ctx, s) {
				return
			}
		}
	}
}

func (c *Controller) finish(s *session) {
	c.mu.Lock()
	if cur, ok := c.sessions[s.routeID]; ok && cur == s {
		delete(c.sessions, s.routeID)
	}
	c.mu.Unlock()
	c.GPS.Stop(s.truckID)
	observability.TrackingSessions.Dec()
}

// step performs one tick and reports whether the journey completed. Store
// failures abandon the tick; the session carries on with the next one.
func (c *Controller) step(ctx context.Context, s *session) bool {
	log := c.logger.With("route_id", s.routeID, "truck_id", s.truckID)

	var route *models.RouteRecord
	if err := c.call(ctx, func(ctx context.Context) error {
		var err error
		route, err = c.Routes.LoadRoute(ctx, s.routeID)
		return err
	}); err != nil {
		c.tickFailed(ctx, log, "load route", err)
		return false
	}

	traffic := c.Traffic.AverageRouteTraffic(route.Waypoints)
	pos, ok := c.GPS.Advance(s.truckID, traffic)
	if !ok {
		return c.complete(ctx, s)
	}

	if err := c.call(ctx, func(ctx context.Context) error {
		return c.Trucks.UpdateTruckLocation(ctx, s.truckID, pos)
	}); err != nil {
		c.tickFailed(ctx, log, "update truck location", err)
		return false
	}

	topic := models.RouteTopic(s.routeID)
	c.publish(ctx, topic, models.EventPositionUpdated, models.PositionUpdate{
		TruckID:  s.truckID,
		Position: pos,
		Progress: c.GPS.Progress(s.truckID),
	})

	previous, ok := route.LastTraffic()
	if !ok {
		previous = DefaultBaselineTraffic
	}
	decision := c.Optimizer.ShouldRecalculate(route.Waypoints, previous)
	now := c.now()

	var plan *recalcPlan
	if decision.Trigger {
		p, err := c.recalculate(ctx, s, route, pos, now)
		if err != nil {
			c.tickFailed(ctx, log, "recalculate", err)
			return false
		}
		plan = p
	}

	route.TrafficData = append(route.TrafficData, models.TrafficSample{
		SegmentID:       CurrentSegment,
		CongestionLevel: decision.NewTraffic,
		Timestamp:       now,
	})
	route.UpdatedAt = now
	if err := c.call(ctx, func(ctx context.Context) error { return c.Routes.SaveRoute(ctx, route) }); err != nil {
		c.tickFailed(ctx, log, "save route", err)
		return false
	}

	// the new path is only driven and announced once it is persisted
	if plan != nil {
		// the fresh path starts at pos, which UpdateRoute already prepends
		c.GPS.UpdateRoute(s.truckID, plan.fresh.Waypoints[1:])
		observability.RecalculationsTotal.Inc()
		c.publish(ctx, topic, models.EventAlertNew, plan.alert)
		c.publish(ctx, topic, models.EventRouteOptimized, models.RouteOptimizedUpdate{
			RouteID:      s.routeID,
			NewWaypoints: plan.fresh.Waypoints,
			Optimization: plan.fresh,
		})
		log.Info("route recalculated", "previous_traffic", previous, "new_traffic", decision.NewTraffic, "change", decision.ChangePct)
	}

	observability.TrackingTicksTotal.WithLabelValues("ok").Inc()
	if c.GPS.Complete(s.truckID) {
		return c.complete(ctx, s)
	}
	return false
}

func (c *Controller) tickFailed(ctx context.Context, log *slog.Logger, op string, err error) {
	if ctx.Err() != nil {
		observability.TrackingTicksTotal.WithLabelValues("cancelled").Inc()
		return
	}
	observability.TrackingTicksTotal.WithLabelValues("failed").Inc()
	log.Error("tracking tick failed", "op", op, "error", err)
}

type recalcPlan struct {
	fresh models.OptimizedRoute
	alert models.Alert
}

// recalculate re-optimizes from pos to the destination and records the change
// on route. Nothing outside route is touched until the caller has saved it.
func (c *Controller) recalculate(ctx context.Context, s *session, route *models.RouteRecord, pos models.Location, now time.Time) (*recalcPlan, error) {
	old, err := c.Optimizer.Score(ctx, c.GPS.Remaining(s.truckID), true)
	if err != nil {
		return nil, err
	}
	fresh, err := c.Optimizer.Optimize(ctx, pos, route.Destination.Location, true)
	if err != nil {
		return nil, err
	}

	draft := optimizer.GenerateAlert(old, fresh, AlertReason)
	route.Recalculations = append(route.Recalculations, models.Recalculation{
		Timestamp:       now,
		Reason:          RecalculationReason,
		NewRoute:        fresh.Waypoints,
		ExpectedSavings: models.ExpectedSavings{Fuel: draft.FuelSavings, Time: draft.TimeSavings},
	})
	route.Waypoints = fresh.Waypoints

	return &recalcPlan{
		fresh: fresh,
		alert: models.Alert{
			ID:          c.newID(),
			Type:        models.AlertRouteChange,
			Message:     draft.Message,
			FuelSavings: draft.FuelSavings,
			TimeSavings: draft.TimeSavings,
			Timestamp:   now,
		},
	}, nil
}

func (c *Controller) complete(ctx context.Context, s *session) bool {
	c.GPS.Stop(s.truckID)
	c.publish(ctx, models.RouteTopic(s.routeID), models.EventRouteCompleted, models.RouteCompletedUpdate{RouteID: s.routeID})
	c.logger.Info("tracking completed", "route_id", s.routeID, "truck_id", s.truckID)
	return true
}

// Stop cancels the session for routeID and waits for an in-flight tick to
// return, so no tick runs after Stop. The route keeps its last status.
func (c *Controller) Stop(routeID string) {
	c.mu.Lock()
	s, ok := c.sessions[routeID]
	c.mu.Unlock()
	if !ok {
		return
	}
	s.cancel()
	<-s.done
	c.logger.Info("tracking stopped", "route_id", routeID)
}

// StopOwner cancels every session and traffic subscription owned by owner.
func (c *Controller) StopOwner(owner string) {
	c.mu.Lock()
	var routes []string
	for id, s := range c.sessions {
		if s.owner == owner {
			routes = append(routes, id)
		}
	}
	var idle []*subscription
	for id, sub := range c.subs {
		if _, ok := sub.owners[owner]; !ok {
			continue
		}
		delete(sub.owners, owner)
		if len(sub.owners) == 0 {
			delete(c.subs, id)
			idle = append(idle, sub)
		}
	}
	c.mu.Unlock()

	for _, id := range routes {
		c.Stop(id)
	}
	for _, sub := range idle {
		sub.cancel()
		<-sub.done
	}
}

// Shutdown stops every session and subscription.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	for _, s := range c.sessions {
		s.cancel()
	}
	for id, sub := range c.subs {
		sub.cancel()
		delete(c.subs, id)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Controller) IsTracking(routeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[routeID]
	return ok
}

// Active lists tracked route ids in order.
func (c *Controller) Active() []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Strings(ids)
	return ids
}
