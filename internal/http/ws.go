package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/example/green-route/internal/models"
	"github.com/example/green-route/internal/storage"
	"github.com/example/green-route/internal/tracking"
)

type command struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type routeRef struct {
	RouteID string `json:"routeId"`
}

// handleWS serves one command channel. The connection id doubles as the owner
// of every tracking session and traffic subscription it starts; all of them
// are cancelled when the connection goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	id := s.Hub.Register(conn)
	log := s.logger.With("conn_id", id)
	log.Info("ws connected")
	defer func() {
		s.Tracking.StopOwner(id)
		s.Hub.Unregister(id)
		_ = conn.Close()
		log.Info("ws disconnected")
	}()

	ctx := r.Context()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("ws read failed", "error", err)
			}
			return
		}
		var cmd command
		if err := json.Unmarshal(msg, &cmd); err != nil {
			s.replyError(id, log, models.CodeInvalid, "malformed command")
			continue
		}
		s.handleCommand(ctx, id, log, cmd)
	}
}

func (s *Server) handleCommand(ctx context.Context, id string, log *slog.Logger, cmd command) {
	switch cmd.Event {
	case models.CommandRouteStart:
		var ref routeRef
		if !s.decodeCommand(id, log, cmd, &ref) {
			return
		}
		s.startRoute(ctx, id, log, ref.RouteID)

	case models.CommandOptimizeRequest:
		var req struct {
			RouteID         string           `json:"routeId"`
			CurrentPosition *models.Location `json:"currentPosition"`
		}
		if !s.decodeCommand(id, log, cmd, &req) {
			return
		}
		opt, err := s.Fleet.PreviewOptimization(ctx, req.RouteID, req.CurrentPosition)
		if err != nil {
			s.replyErr(id, log, err, "Failed to optimize route")
			return
		}
		s.reply(id, log, models.EventRouteOptimized, models.RouteOptimizedUpdate{
			RouteID:      req.RouteID,
			NewWaypoints: opt.Waypoints,
			Optimization: opt,
		})

	case models.CommandTrafficSubscribe:
		var ref routeRef
		if !s.decodeCommand(id, log, cmd, &ref) {
			return
		}
		topic := models.TrafficTopic(ref.RouteID)
		if err := s.Hub.Join(id, topic); err != nil {
			return
		}
		if err := s.Tracking.SubscribeTraffic(ctx, ref.RouteID, id); err != nil {
			s.Hub.Leave(id, topic)
			s.replyErr(id, log, err, "Failed to subscribe to traffic")
		}

	case models.CommandAlertAcknowledge:
		var ack struct {
			AlertID string `json:"alertId"`
		}
		if !s.decodeCommand(id, log, cmd, &ack) {
			return
		}
		log.Info("alert acknowledged", "alert_id", ack.AlertID)

	default:
		s.replyError(id, log, models.CodeInvalid, "unknown command "+cmd.Event)
	}
}

// startRoute joins the route topic before tracking starts so the first
// position update is not missed. A route already tracked by another
// connection is simply observed.
func (s *Server) startRoute(ctx context.Context, id string, log *slog.Logger, routeID string) {
	topic := models.RouteTopic(routeID)
	if err := s.Hub.Join(id, topic); err != nil {
		return
	}
	err := s.Tracking.Start(ctx, routeID, id)
	if errors.Is(err, tracking.ErrAlreadyTracking) && s.Tracking.IsTracking(routeID) {
		err = nil
	}
	if err != nil {
		s.Hub.Leave(id, topic)
		s.replyErr(id, log, err, "Failed to start route")
		return
	}
	s.reply(id, log, models.EventRouteStarted, models.RouteStartedUpdate{RouteID: routeID})
}

func (s *Server) decodeCommand(id string, log *slog.Logger, cmd command, v any) bool {
	if len(cmd.Data) == 0 {
		s.replyError(id, log, models.CodeInvalid, cmd.Event+": missing data")
		return false
	}
	if err := json.Unmarshal(cmd.Data, v); err != nil {
		s.replyError(id, log, models.CodeInvalid, cmd.Event+": malformed data")
		return false
	}
	return true
}

func (s *Server) reply(id string, log *slog.Logger, event string, payload any) {
	if err := s.Hub.Send(id, event, payload); err != nil {
		log.Warn("ws reply failed", "event", event, "error", err)
	}
}

func (s *Server) replyError(id string, log *slog.Logger, code, message string) {
	s.reply(id, log, models.EventError, models.ErrorPayload{Message: message, Code: code})
}

// replyErr classifies err; internal failures get the generic fallback text.
func (s *Server) replyErr(id string, log *slog.Logger, err error, fallback string) {
	code := commandCode(err)
	msg := err.Error()
	if code == models.CodeInternal {
		log.Error("ws command failed", "error", err)
		msg = fallback
	}
	s.replyError(id, log, code, msg)
}

func commandCode(err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return models.CodeNotFound
	case statusFor(err) < http.StatusInternalServerError:
		return models.CodeInvalid
	default:
		return models.CodeInternal
	}
}
