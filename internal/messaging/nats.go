// Package messaging mirrors broadcast events onto NATS subjects so
// external consumers (moderation tooling, audit taps) can observe the
// event stream without holding a WebSocket. Publishing is best effort:
// the mirror makes no ordering or durability promises and a NATS outage
// never affects delivery to connected sessions.
package messaging

import (
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects the mirror publishes to. Topic- and user-scoped events get the
// id appended.
const (
	SubjectGlobal = "forum.events.global"
	SubjectTopic  = "forum.events.topic" // + .<topic_id>
	SubjectUser   = "forum.events.user"  // + .<user_id>
)

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "forum-chat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Mirror publishes event envelopes to NATS.
type Mirror struct {
	conn *nats.Conn
}

// Connect dials NATS and returns a ready Mirror.
func Connect(config Config) (*Mirror, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("messaging: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("messaging: reconnected to %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: connect: %w", err)
	}

	log.Printf("messaging: connected to %s", nc.ConnectedUrl())
	return &Mirror{conn: nc}, nil
}

// MirrorGlobal publishes an event that went to every session.
func (m *Mirror) MirrorGlobal(data []byte) {
	m.publish(SubjectGlobal, data)
}

// MirrorTopic publishes an event that went to a topic's subscribers.
func (m *Mirror) MirrorTopic(topicID int64, data []byte) {
	m.publish(fmt.Sprintf("%s.%d", SubjectTopic, topicID), data)
}

// MirrorUser publishes an event that went to one user's sessions.
func (m *Mirror) MirrorUser(userID int64, data []byte) {
	m.publish(fmt.Sprintf("%s.%d", SubjectUser, userID), data)
}

func (m *Mirror) publish(subject string, data []byte) {
	if err := m.conn.Publish(subject, data); err != nil {
		log.Printf("messaging: publish %s: %v", subject, err)
	}
}

// Close drains the connection.
func (m *Mirror) Close() {
	if err := m.conn.Drain(); err != nil {
		log.Printf("messaging: drain: %v", err)
	}
}
