// Package protocol defines the event envelope exchanged over the persistent
// WebSocket connection. All events are JSON with a type discriminator; the
// payload is decoded lazily so unknown types can be skipped without touching
// the rest of the frame.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Client -> Server event types.
const (
	TypeAuth     = "AUTH"
	TypeJoinChat = "JOIN_CHAT"
)

// Server -> Client event types.
const (
	TypeNewMessage     = "NEW_MESSAGE"
	TypeMessageUpdated = "MESSAGE_UPDATED"
	TypeMessageDeleted = "MESSAGE_DELETED"
	TypeNewChat        = "NEW_CHAT"
	TypeChatUpdated    = "CHAT_UPDATED"
	TypeChatDeleted    = "CHAT_DELETED"
	TypeMuted          = "MUTED"
	TypeBanned         = "BANNED"
	TypeError          = "ERROR"
)

// ErrUnknownType is returned by ParseInbound for event types this server
// does not handle. Callers ignore these frames so newer clients keep
// working against older servers.
var ErrUnknownType = errors.New("protocol: unknown event type")

// Envelope is the wire format for every event in both directions. Token and
// ChatID ride at the top level for the two control events; everything else
// goes through Payload.
type Envelope struct {
	Type    string          `json:"type"`
	Token   string          `json:"token,omitempty"`
	ChatID  int64           `json:"chatId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound is the closed set of client-originated events. The interface is
// sealed so a switch over its implementations is exhaustive; forward
// compatibility lives only at the ParseInbound boundary.
type Inbound interface {
	inbound()
}

// AuthMsg carries the client's signed token.
type AuthMsg struct {
	Token string
}

// JoinChatMsg subscribes the session to a topic, replacing any prior
// subscription.
type JoinChatMsg struct {
	ChatID int64
}

func (AuthMsg) inbound()     {}
func (JoinChatMsg) inbound() {}

// ParseInbound decodes a client frame into its typed event. It returns
// ErrUnknownType for event types outside the inbound set and a descriptive
// error for frames that are malformed or missing required fields; both are
// dropped by the caller, never fatal to the connection.
func ParseInbound(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: malformed frame: %w", err)
	}
	if env.Type == "" {
		return nil, errors.New("protocol: missing event type")
	}

	switch env.Type {
	case TypeAuth:
		if env.Token == "" {
			return nil, errors.New("protocol: AUTH without token")
		}
		return AuthMsg{Token: env.Token}, nil
	case TypeJoinChat:
		if env.ChatID <= 0 {
			return nil, errors.New("protocol: JOIN_CHAT without chatId")
		}
		return JoinChatMsg{ChatID: env.ChatID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// ---------------------------------------------------------------------------
// Server -> Client payloads
// ---------------------------------------------------------------------------

// MessagePayload is the committed message row carried by NEW_MESSAGE.
type MessagePayload struct {
	ID          int64  `json:"id"`
	ChatID      int64  `json:"chat_id"`
	UserID      int64  `json:"user_id"`
	AuthorEmail string `json:"email,omitempty"`
	Text        string `json:"text"`
	CreatedAt   string `json:"created_at"`
}

// MessageUpdatedPayload carries an edited message's new text.
type MessageUpdatedPayload struct {
	ID     int64  `json:"id"`
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// MessageDeletedPayload announces a tombstoned message.
type MessageDeletedPayload struct {
	ID     int64 `json:"id"`
	ChatID int64 `json:"chat_id"`
}

// TopicPayload is the topic row carried by NEW_CHAT and CHAT_UPDATED.
type TopicPayload struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsClosed    bool   `json:"is_closed"`
	CreatedAt   string `json:"created_at"`
}

// ChatDeletedPayload announces a deleted topic.
type ChatDeletedPayload struct {
	ChatID int64 `json:"chat_id"`
}

// MutedPayload tells a user they cannot post until the given time. The
// timestamp is authoritative; clients derive any countdown from it.
type MutedPayload struct {
	UserID          int64  `json:"user_id"`
	MutedUntil      string `json:"muted_until"`
	DurationMinutes int    `json:"duration_minutes"`
	Message         string `json:"message"`
}

// BannedPayload tells a user they are banned. BannedUntil is null and
// Permanent is true for permanent bans.
type BannedPayload struct {
	UserID          int64   `json:"user_id"`
	BannedUntil     *string `json:"banned_until"`
	Permanent       bool    `json:"permanent"`
	DurationMinutes int     `json:"duration_minutes"`
	Message         string  `json:"message"`
}

// ErrorPayload reports a per-frame error without closing the connection.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent builds a JSON-encoded server event with the payload marshalled
// under the "payload" key.
func NewEvent(eventType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s payload: %w", eventType, err)
	}
	out, err := json.Marshal(Envelope{Type: eventType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s envelope: %w", eventType, err)
	}
	return out, nil
}

// Timestamp renders a time in the RFC3339 UTC form used everywhere on the
// wire.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
