package tracking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/green-route/internal/geo"
	"github.com/example/green-route/internal/models"
	"github.com/example/green-route/internal/optimizer"
	"github.com/example/green-route/internal/storage"
)

var (
	delhi = models.Location{Latitude: 28.6139, Longitude: 77.2090}
	noida = models.Location{Latitude: 28.5355, Longitude: 77.3910}
)

type settableTraffic struct {
	mu sync.Mutex
	v  float64
}

func (s *settableTraffic) set(v float64) {
	s.mu.Lock()
	s.v = v
	s.mu.Unlock()
}

func (s *settableTraffic) AverageRouteTraffic([]models.Location) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v
}

type fixedWeather float64

func (f fixedWeather) AverageRouteImpact([]models.Location) float64 { return float64(f) }

type published struct {
	topic   string
	event   string
	payload any
}

type recSink struct {
	mu     sync.Mutex
	events []published
}

func (r *recSink) Publish(_ context.Context, topic, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{topic, event, payload})
	return nil
}

func (r *recSink) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func (r *recSink) last(event string) (published, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].event == event {
			return r.events[i], true
		}
	}
	return published{}, false
}

type fixture struct {
	c       *Controller
	store   *storage.MemoryStore
	sink    *recSink
	traffic *settableTraffic
}

func newFixture(t *testing.T, waypoints []models.Location, trucks TruckStore, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	require.NoError(t, mem.SaveTruck(ctx, &models.TruckRecord{TruckID: "t1", Status: models.TruckIdle, CurrentLocation: waypoints[0]}))
	require.NoError(t, mem.SaveRoute(ctx, &models.RouteRecord{
		RouteID:     "r1",
		TruckID:     "t1",
		Origin:      models.Place{Location: waypoints[0]},
		Destination: models.Place{Location: waypoints[len(waypoints)-1]},
		Waypoints:   waypoints,
		Status:      models.RoutePlanned,
	}))
	if trucks == nil {
		trucks = mem
	}
	tr := &settableTraffic{v: 0.2}
	sink := &recSink{}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Hour
	}
	c := New(Deps{
		Routes:    mem,
		Trucks:    trucks,
		Sink:      sink,
		Optimizer: &optimizer.Service{Traffic: tr, Weather: fixedWeather(0.1)},
		Traffic:   tr,
	}, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(c.Shutdown)
	return &fixture{c: c, store: mem, sink: sink, traffic: tr}
}

func (f *fixture) session(t *testing.T, routeID string) *session {
	t.Helper()
	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	s, ok := f.c.sessions[routeID]
	require.True(t, ok)
	return s
}

func longRoute() []models.Location { return geo.Interpolate(delhi, noida, 15) }

func shortRoute() []models.Location {
	return []models.Location{{Latitude: 28.6000, Longitude: 77.2000}, {Latitude: 28.6012, Longitude: 77.2000}}
}

func TestStartActivatesRouteAndTruck(t *testing.T) {
	f := newFixture(t, longRoute(), nil, Config{})
	ctx := context.Background()
	require.NoError(t, f.c.Start(ctx, "r1", "conn-1"))

	r, err := f.store.LoadRoute(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RouteActive, r.Status)
	tr, err := f.store.LoadTruck(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TruckActive, tr.Status)
	assert.Equal(t, "r1", tr.ActiveRouteID)
	assert.Equal(t, []string{"r1"}, f.c.Active())

	assert.ErrorIs(t, f.c.Start(ctx, "r1", "conn-2"), ErrAlreadyTracking)
}

func TestStartErrors(t *testing.T) {
	f := newFixture(t, longRoute(), nil, Config{})
	ctx := context.Background()
	assert.ErrorIs(t, f.c.Start(ctx, "", "c"), models.ErrInvalidID)
	assert.ErrorIs(t, f.c.Start(ctx, "nope", "c"), storage.ErrNotFound)

	r, _ := f.store.LoadRoute(ctx, "r1")
	r.Status = models.RouteCompleted
	require.NoError(t, f.store.SaveRoute(ctx, r))
	assert.ErrorIs(t, f.c.Start(ctx, "r1", "c"), ErrRouteFinished)
	assert.Empty(t, f.c.Active())
}

// steady traffic: every tick logs one sample and one position, nothing else
func TestSteadyTrafficFiveTicks(t *testing.T) {
	f := newFixture(t, longRoute(), nil, Config{})
	ctx := context.Background()
	require.NoError(t, f.c.Start(ctx, "r1", "conn-1"))
	s := f.session(t, "r1")

	for i := 0; i < 5; i++ {
		require.False(t, f.c.step(ctx, s), "tick %d", i)
	}

	r, err := f.store.LoadRoute(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, r.TrafficData, 5)
	for _, sample := range r.TrafficData {
		assert.Equal(t, CurrentSegment, sample.SegmentID)
		assert.Equal(t, 0.2, sample.CongestionLevel)
	}
	assert.Empty(t, r.Recalculations)
	assert.Equal(t, 5, f.sink.count(models.EventPositionUpdated))
	assert.Equal(t, 0, f.sink.count(models.EventRouteOptimized))
	assert.Equal(t, 0, f.sink.count(models.EventAlertNew))

	last, ok := f.sink.last(models.EventPositionUpdated)
	require.True(t, ok)
	assert.Equal(t, models.RouteTopic("r1"), last.topic)
	pu := last.payload.(models.PositionUpdate)
	assert.Equal(t, "t1", pu.TruckID)

	truck, err := f.store.LoadTruck(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, truck.CurrentLocation.SamePoint(pu.Position))
}

func TestTrafficJumpTriggersSingleRecalculation(t *testing.T) {
	f := newFixture(t, longRoute(), nil, Config{})
	ctx := context.Background()
	require.NoError(t, f.c.Start(ctx, "r1", "conn-1"))
	s := f.session(t, "r1")

	require.False(t, f.c.step(ctx, s))
	assert.Equal(t, 0, f.sink.count(models.EventRouteOptimized))

	f.traffic.set(0.8)
	require.False(t, f.c.step(ctx, s))
	assert.Equal(t, 1, f.sink.count(models.EventRouteOptimized))
	assert.Equal(t, 1, f.sink.count(models.EventAlertNew))

	r, err := f.store.LoadRoute(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, r.Recalculations, 1)
	assert.Equal(t, RecalculationReason, r.Recalculations[0].Reason)
	assert.Len(t, r.TrafficData, 2)
	assert.Equal(t, 0.8, r.TrafficData[1].CongestionLevel)

	pos, _ := f.c.GPS.Position("t1")
	assert.True(t, r.Waypoints[0].SamePoint(pos))
	assert.True(t, r.Waypoints[len(r.Waypoints)-1].SamePoint(noida))
	rem := f.c.GPS.Remaining("t1")
	assert.Equal(t, r.Waypoints[1:], rem[1:])

	alert, _ := f.sink.last(models.EventAlertNew)
	a := alert.payload.(models.Alert)
	assert.Equal(t, models.AlertRouteChange, a.Type)
	assert.NotEmpty(t, a.ID)
	assert.Contains(t, a.Message, AlertReason)
	assert.GreaterOrEqual(t, a.FuelSavings, 0.0)
	assert.GreaterOrEqual(t, a.TimeSavings, 0.0)

	opt, _ := f.sink.last(models.EventRouteOptimized)
	upd := opt.payload.(models.RouteOptimizedUpdate)
	assert.Equal(t, "r1", upd.RouteID)
	assert.Equal(t, r.Waypoints, upd.NewWaypoints)

	// traffic stays high: no further recalculation
	require.False(t, f.c.step(ctx, s))
	assert.Equal(t, 1, f.sink.count(models.EventRouteOptimized))
	assert.Equal(t, 1, f.sink.count(models.EventAlertNew))
}

type manualTicker chan time.Time

func (m manualTicker) new(time.Duration) (<-chan time.Time, func()) { return m, func() {} }

func TestSessionCompletesAndStops(t *testing.T) {
	f := newFixture(t, shortRoute(), nil, Config{})
	ticks := make(manualTicker, 10)
	for i := 0; i < cap(ticks); i++ {
		ticks <- time.Now()
	}
	f.c.newTicker = ticks.new

	ctx := context.Background()
	require.NoError(t, f.c.Start(ctx, "r1", "conn-1"))
	require.Eventually(t, func() bool { return !f.c.IsTracking("r1") }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, f.sink.count(models.EventRouteCompleted))
	assert.Equal(t, 3, f.sink.count(models.EventPositionUpdated))
	last, _ := f.sink.last(models.EventPositionUpdated)
	assert.Equal(t, 100, last.payload.(models.PositionUpdate).Progress)
	assert.Empty(t, f.c.GPS.Active())

	truck, _ := f.store.LoadTruck(ctx, "t1")
	assert.True(t, truck.CurrentLocation.SamePoint(shortRoute()[1]))
}

func TestStopLeavesStatusUntouched(t *testing.T) {
	f := newFixture(t, longRoute(), nil, Config{})
	f.c.newTicker = make(manualTicker).new
	ctx := context.Background()
	require.NoError(t, f.c.Start(ctx, "r1", "conn-1"))

	f.c.Stop("r1")
	f.c.Stop("r1")
	assert.False(t, f.c.IsTracking("r1"))
	assert.Empty(t, f.c.GPS.Active())

	r, _ := f.store.LoadRoute(ctx, "r1")
	assert.Equal(t, models.RouteActive, r.Status)
	assert.Equal(t, 0, f.sink.count(models.EventRouteCompleted))

	// a stopped route can be started again
	require.NoError(t, f.c.Start(ctx, "r1", "conn-2"))
}

type flakyTrucks struct {
	TruckStore
	mu    sync.Mutex
	fails int
}

func (f *flakyTrucks) UpdateTruckLocation(ctx context.Context, id string, loc models.Location) error {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return errors.New("connection reset")
	}
	f.mu.Unlock()
	return f.TruckStore.UpdateTruckLocation(ctx, id, loc)
}

func TestTickFailureIsIsolated(t *testing.T) {
	flaky := &flakyTrucks{fails: 1}
	f := newFixture(t, longRoute(), flaky, Config{Retries: 0})
	flaky.TruckStore = f.store
	ctx := context.Background()
	require.NoError(t, f.c.Start(ctx, "r1", "conn-1"))
	s := f.session(t, "r1")

	require.False(t, f.c.step(ctx, s))
	assert.Equal(t, 0, f.sink.count(models.EventPositionUpdated))

	require.False(t, f.c.step(ctx, s))
	assert.Equal(t, 1, f.sink.count(models.EventPositionUpdated))
	r, _ := f.store.LoadRoute(ctx, "r1")
	assert.Len(t, r.TrafficData, 1)
	assert.True(t, f.c.IsTracking("r1"))
}

func TestTransientFailureRetriedWithinTick(t *testing.T) {
	flaky := &flakyTrucks{fails: 1}
	f := newFixture(t, longRoute(), flaky, Config{Retries: 2})
	flaky.TruckStore = f.store
	ctx := context.Background()
	require.NoError(t, f.c.Start(ctx, "r1", "conn-1"))

	require.False(t, f.c.step(ctx, f.session(t, "r1")))
	assert.Equal(t, 1, f.sink.count(models.EventPositionUpdated))
}

func TestTrafficSubscriptionSharedAcrossOwners(t *testing.T) {
	f := newFixture(t, longRoute(), nil, Config{})
	ticks := make(manualTicker, 1)
	ticks <- time.Now()
	f.c.newTicker = ticks.new
	ctx := context.Background()

	require.NoError(t, f.c.SubscribeTraffic(ctx, "r1", "conn-1"))
	require.NoError(t, f.c.SubscribeTraffic(ctx, "r1", "conn-2"))
	assert.Equal(t, 2, f.c.Subscribers("r1"))
	assert.ErrorIs(t, f.c.SubscribeTraffic(ctx, "missing", "conn-1"), storage.ErrNotFound)

	require.Eventually(t, func() bool { return f.sink.count(models.EventTrafficUpdated) == 1 }, 2*time.Second, 10*time.Millisecond)
	ev, _ := f.sink.last(models.EventTrafficUpdated)
	assert.Equal(t, models.TrafficTopic("r1"), ev.topic)
	tu := ev.payload.(models.TrafficUpdate)
	assert.Equal(t, "r1", tu.RouteID)
	assert.Equal(t, 0.2, tu.AverageTraffic)

	f.c.StopOwner("conn-1")
	assert.Equal(t, 1, f.c.Subscribers("r1"))
	f.c.Unsubscribe("r1", "conn-2")
	assert.Equal(t, 0, f.c.Subscribers("r1"))
}

func TestStopOwnerCancelsOnlyOwnedSessions(t *testing.T) {
	f := newFixture(t, longRoute(), nil, Config{})
	f.c.newTicker = make(manualTicker).new
	ctx := context.Background()
	require.NoError(t, f.store.SaveTruck(ctx, &models.TruckRecord{TruckID: "t2"}))
	require.NoError(t, f.store.SaveRoute(ctx, &models.RouteRecord{RouteID: "r2", TruckID: "t2", Waypoints: longRoute(), Status: models.RoutePlanned}))

	require.NoError(t, f.c.Start(ctx, "r1", "conn-1"))
	require.NoError(t, f.c.Start(ctx, "r2", "conn-2"))
	require.NoError(t, f.c.SubscribeTraffic(ctx, "r2", "conn-1"))

	f.c.StopOwner("conn-1")
	assert.Equal(t, []string{"r2"}, f.c.Active())
	assert.Equal(t, 0, f.c.Subscribers("r2"))
}

type flakyRoutes struct {
	RouteStore
	mu    sync.Mutex
	fails int
}

func (f *flakyRoutes) SaveRoute(ctx context.Context, r *models.RouteRecord) error {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return errors.New("connection reset")
	}
	f.mu.Unlock()
	return f.RouteStore.SaveRoute(ctx, r)
}

func (f *flakyRoutes) failNext(n int) {
	f.mu.Lock()
	f.fails = n
	f.mu.Unlock()
}

// a recalculation whose save fails leaves no trace: no alert, the simulator
// keeps the stored path, and the next tick recalculates exactly once
func TestFailedSaveOnJumpTickEmitsNothing(t *testing.T) {
	f := newFixture(t, longRoute(), nil, Config{Retries: 0})
	routes := &flakyRoutes{RouteStore: f.store}
	f.c.Routes = routes
	ctx := context.Background()
	require.NoError(t, f.c.Start(ctx, "r1", "conn-1"))
	s := f.session(t, "r1")

	require.False(t, f.c.step(ctx, s))

	f.traffic.set(0.8)
	routes.failNext(1)
	require.False(t, f.c.step(ctx, s))
	assert.Equal(t, 0, f.sink.count(models.EventAlertNew))
	assert.Equal(t, 0, f.sink.count(models.EventRouteOptimized))

	stored, err := f.store.LoadRoute(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, stored.Recalculations)
	assert.Len(t, stored.TrafficData, 1)
	orig := longRoute()
	assert.Equal(t, orig, stored.Waypoints)
	rem := f.c.GPS.Remaining("t1")
	require.NotEmpty(t, rem)
	assert.Equal(t, orig[len(orig)-len(rem)+1:], rem[1:])

	require.False(t, f.c.step(ctx, s))
	assert.Equal(t, 1, f.sink.count(models.EventAlertNew))
	assert.Equal(t, 1, f.sink.count(models.EventRouteOptimized))

	stored, err = f.store.LoadRoute(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, stored.Recalculations, 1)
	rem = f.c.GPS.Remaining("t1")
	assert.Equal(t, stored.Waypoints[1:], rem[1:])
}

func TestExclusiveHoldsRouteAwayFromTracking(t *testing.T) {
	f := newFixture(t, longRoute(), nil, Config{})
	f.c.newTicker = make(manualTicker).new
	ctx := context.Background()

	err := f.c.Exclusive(ctx, "r1", false, func(ctx context.Context) error {
		return f.c.Start(ctx, "r1", "conn-1")
	})
	assert.ErrorIs(t, err, ErrRouteBusy)
	assert.False(t, f.c.IsTracking("r1"))

	require.NoError(t, f.c.Start(ctx, "r1", "conn-1"))
	ran := false
	err = f.c.Exclusive(ctx, "r1", false, func(context.Context) error { ran = true; return nil })
	assert.ErrorIs(t, err, ErrAlreadyTracking)
	assert.False(t, ran)
	assert.True(t, f.c.IsTracking("r1"))

	err = f.c.Exclusive(ctx, "r1", true, func(context.Context) error {
		assert.False(t, f.c.IsTracking("r1"))
		assert.ErrorIs(t, f.c.Start(ctx, "r1", "conn-2"), ErrRouteBusy)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, f.c.GPS.Active())

	// released afterwards
	require.NoError(t, f.c.Start(ctx, "r1", "conn-2"))
}
