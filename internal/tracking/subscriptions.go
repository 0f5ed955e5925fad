package tracking

import (
	"context"

	"github.com/example/green-route/internal/models"
	"github.com/example/green-route/internal/observability"
)

// SubscribeTraffic publishes traffic:updated for routeID every TrafficInterval
// until the last owner leaves. Subscriptions are independent of tracking
// sessions; one timer serves all owners of a route.
func (c *Controller) SubscribeTraffic(ctx context.Context, routeID, owner string) error {
	if err := models.ValidateID("route", routeID); err != nil {
		return err
	}
	if _, err := c.Routes.LoadRoute(ctx, routeID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.subs[routeID]; ok {
		sub.owners[owner] = struct{}{}
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{owners: map[string]struct{}{owner: {}}, cancel: cancel, done: make(chan struct{})}
	c.subs[routeID] = sub
	observability.TrafficSubscriptions.Inc()
	c.wg.Add(1)
	go c.runTraffic(runCtx, routeID, sub)
	return nil
}

// Unsubscribe removes owner from routeID's subscription.
func (c *Controller) Unsubscribe(routeID, owner string) {
	c.mu.Lock()
	sub, ok := c.subs[routeID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(sub.owners, owner)
	last := len(sub.owners) == 0
	if last {
		delete(c.subs, routeID)
	}
	c.mu.Unlock()
	if last {
		sub.cancel()
		<-sub.done
	}
}

// Subscribers counts owners subscribed to routeID.
func (c *Controller) Subscribers(routeID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.subs[routeID]; ok {
		return len(sub.owners)
	}
	return 0
}

func (c *Controller) runTraffic(ctx context.Context, routeID string, sub *subscription) {
	defer c.wg.Done()
	defer close(sub.done)
	defer observability.TrafficSubscriptions.Dec()

	tick, stop := c.newTicker(c.cfg.TrafficInterval)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if ctx.Err() != nil {
				return
			}
			c.publishTraffic(ctx, routeID)
		}
	}
}

func (c *Controller) publishTraffic(ctx context.Context, routeID string) {
	var route *models.RouteRecord
	if err := c.call(ctx, func(ctx context.Context) error {
		var err error
		route, err = c.Routes.LoadRoute(ctx, routeID)
		return err
	}); err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("traffic update skipped", "route_id", routeID, "error", err)
		}
		return
	}
	c.publish(ctx, models.TrafficTopic(routeID), models.EventTrafficUpdated, models.TrafficUpdate{
		RouteID:        routeID,
		AverageTraffic: c.Traffic.AverageRouteTraffic(route.Waypoints),
		Timestamp:      c.now(),
	})
}
