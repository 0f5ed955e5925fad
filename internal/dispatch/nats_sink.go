package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

const DefaultSubjectPrefix = "greenroute"

// NATSSink publishes envelopes on "<prefix>.<topic>" with the topic's colon
// turned into a subject separator, e.g. greenroute.route.<id>.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSSink(url, prefix string) (*NATSSink, error) {
	nc, err := nats.Connect(url, nats.Name("green-route"))
	if err != nil {
		return nil, err
	}
	return NewNATSSinkWithConn(nc, prefix), nil
}

func NewNATSSinkWithConn(nc *nats.Conn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{conn: nc, prefix: prefix}
}

// Subject maps an event topic onto a NATS subject.
func (n *NATSSink) Subject(topic string) string {
	return n.prefix + "." + strings.ReplaceAll(topic, ":", ".")
}

func (n *NATSSink) Publish(_ context.Context, topic, event string, payload any) error {
	b, err := json.Marshal(newEnvelope(topic, event, payload))
	if err != nil {
		return fmt.Errorf("nats sink: encode %s: %w", event, err)
	}
	err = n.conn.Publish(n.Subject(topic), b)
	record("nats", event, err)
	if err != nil {
		return fmt.Errorf("nats sink: %w", err)
	}
	return nil
}

func (n *NATSSink) Close() error {
	n.conn.Close()
	return nil
}
