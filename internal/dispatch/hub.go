package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNoSession = errors.New("dispatch: no websocket session")

// DefaultWriteTimeout bounds a single frame write to a websocket peer.
const DefaultWriteTimeout = 5 * time.Second

// Conn is the part of *websocket.Conn the hub writes to.
type Conn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
}

// Frame is what websocket clients receive.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type session struct {
	conn   Conn
	mu     sync.Mutex // serializes writes; gorilla allows one concurrent writer
	topics map[string]struct{}
}

// send writes one frame, giving up at deadline so a stalled peer cannot hold
// the publisher.
func (s *session) send(f Frame, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(f)
}

// Hub holds websocket sessions and the topics each one joined.
type Hub struct {
	WriteTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*session
	topics   map[string]map[string]*session
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		WriteTimeout: DefaultWriteTimeout,
		sessions: make(map[string]*session),
		topics:   make(map[string]map[string]*session),
		logger:   logger,
	}
}

// Register adds a connection and returns its id.
func (h *Hub) Register(conn Conn) string {
	id := uuid.NewString()
	h.mu.Lock()
	h.sessions[id] = &session{conn: conn, topics: make(map[string]struct{})}
	h.mu.Unlock()
	return id
}

// Unregister drops the session and all of its topic memberships.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if !ok {
		return
	}
	for topic := range s.topics {
		h.leaveLocked(id, topic)
	}
	delete(h.sessions, id)
}

func (h *Hub) Join(id, topic string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if !ok {
		return ErrNoSession
	}
	members, ok := h.topics[topic]
	if !ok {
		members = make(map[string]*session)
		h.topics[topic] = members
	}
	members[id] = s
	s.topics[topic] = struct{}{}
	return nil
}

func (h *Hub) Leave(id, topic string) {
	h.mu.Lock()
	h.leaveLocked(id, topic)
	h.mu.Unlock()
}

func (h *Hub) leaveLocked(id, topic string) {
	if members, ok := h.topics[topic]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}
	if s, ok := h.sessions[id]; ok {
		delete(s.topics, topic)
	}
}

// Members counts sessions joined to topic.
func (h *Hub) Members(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Send writes a frame to a single session, used for command replies.
func (h *Hub) Send(id, event string, payload any) error {
	h.mu.RLock()
	s, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.send(Frame{Event: event, Data: payload}, h.deadline(context.Background()))
}

// deadline is the write timeout from now, or the ctx deadline if sooner.
func (h *Hub) deadline(ctx context.Context) time.Time {
	timeout := h.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	d := time.Now().Add(timeout)
	if ctxD, ok := ctx.Deadline(); ok && ctxD.Before(d) {
		return ctxD
	}
	return d
}

// Publish writes to every member of topic. Failed writes are logged and the
// remaining members still receive the frame.
func (h *Hub) Publish(ctx context.Context, topic, event string, payload any) error {
	h.mu.RLock()
	targets := make(map[string]*session, len(h.topics[topic]))
	for id, s := range h.topics[topic] {
		targets[id] = s
	}
	h.mu.RUnlock()

	frame := Frame{Event: event, Data: payload}
	var errs []error
	for id, s := range targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.send(frame, h.deadline(ctx)); err != nil {
			h.logger.Warn("ws send failed", "session_id", id, "topic", topic, "event", event, "error", err)
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	record("websocket", event, err)
	return err
}
