package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is the subject prefix used when none is configured.
const DefaultSubjectPrefix = "planengine.events"

// NATSSink publishes events as JSON on "<prefix>.<type>".
type NATSSink struct {
	conn   *nats.Conn
	prefix string
	log    *zap.Logger
}

// NewNATSSink wraps an existing connection. A nil connection makes Publish a no-op.
func NewNATSSink(conn *nats.Conn, prefix string, log *zap.Logger) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &NATSSink{conn: conn, prefix: prefix, log: log}
}

// DialNATS connects to url and returns a sink owning the connection.
func DialNATS(url, prefix string, log *zap.Logger) (*NATSSink, error) {
	conn, err := nats.Connect(url, nats.Name("planengine"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNATSSink(conn, prefix, log), nil
}

// Subject returns the subject an event type is published on.
func (s *NATSSink) Subject(t Type) string {
	return s.prefix + "." + string(t)
}

// Publish implements Publisher.
func (s *NATSSink) Publish(ctx context.Context, evts ...Event) error {
	if s.conn == nil {
		return nil
	}
	for _, evt := range evts {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", evt.ID, err)
		}
		if err := s.conn.Publish(s.Subject(evt.Type), data); err != nil {
			s.log.Error("Failed to publish event to NATS", zap.String("type", string(evt.Type)), zap.Error(err))
			return fmt.Errorf("publish %s: %w", evt.Type, err)
		}
	}
	return s.conn.FlushWithContext(ctx)
}

// Close drains and closes the connection.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
