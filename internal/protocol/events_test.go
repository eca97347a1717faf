package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseInbound_Auth(t *testing.T) {
	in, err := ParseInbound([]byte(`{"type":"AUTH","token":"abc.def.ghi"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	auth, ok := in.(AuthMsg)
	if !ok {
		t.Fatalf("expected AuthMsg, got %T", in)
	}
	if auth.Token != "abc.def.ghi" {
		t.Errorf("expected token %q, got %q", "abc.def.ghi", auth.Token)
	}
}

func TestParseInbound_JoinChat(t *testing.T) {
	in, err := ParseInbound([]byte(`{"type":"JOIN_CHAT","chatId":7}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	join, ok := in.(JoinChatMsg)
	if !ok {
		t.Fatalf("expected JoinChatMsg, got %T", in)
	}
	if join.ChatID != 7 {
		t.Errorf("expected chatId 7, got %d", join.ChatID)
	}
}

func TestParseInbound_UnknownType(t *testing.T) {
	_, err := ParseInbound([]byte(`{"type":"TYPING","chatId":7}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestParseInbound_ServerOnlyTypeIsUnknown(t *testing.T) {
	// Server->client types must not be accepted from the socket.
	_, err := ParseInbound([]byte(`{"type":"NEW_MESSAGE","payload":{}}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestParseInbound_Malformed(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"not json", `{{{`},
		{"missing type", `{"token":"x"}`},
		{"auth without token", `{"type":"AUTH"}`},
		{"join without chat", `{"type":"JOIN_CHAT"}`},
		{"join with negative chat", `{"type":"JOIN_CHAT","chatId":-3}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, err := ParseInbound([]byte(tc.input))
			if err == nil {
				t.Fatalf("expected error, got %#v", in)
			}
			if errors.Is(err, ErrUnknownType) {
				t.Fatalf("malformed frame must not look like an unknown type: %v", err)
			}
		})
	}
}

func TestNewEvent_Envelope(t *testing.T) {
	data, err := NewEvent(TypeNewMessage, MessagePayload{
		ID:        42,
		ChatID:    7,
		UserID:    3,
		Text:      "hello",
		CreatedAt: "2026-01-02T03:04:05Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("event is not valid JSON: %v", err)
	}
	if env.Type != TypeNewMessage {
		t.Errorf("expected type %q, got %q", TypeNewMessage, env.Type)
	}

	var p MessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("payload decode: %v", err)
	}
	if p.ID != 42 || p.ChatID != 7 || p.Text != "hello" {
		t.Errorf("payload mismatch: %+v", p)
	}
}

func TestNewEvent_BannedPermanent(t *testing.T) {
	data, err := NewEvent(TypeBanned, BannedPayload{
		UserID:    9,
		Permanent: true,
		Message:   "You are banned",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var env struct {
		Type    string `json:"type"`
		Payload struct {
			BannedUntil *string `json:"banned_until"`
			Permanent   bool    `json:"permanent"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Payload.BannedUntil != nil {
		t.Errorf("permanent ban must carry a null banned_until, got %v", *env.Payload.BannedUntil)
	}
	if !env.Payload.Permanent {
		t.Error("permanent flag not set")
	}
}

func TestTimestamp_UTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	ts := Timestamp(time.Date(2026, 3, 1, 10, 0, 0, 0, loc))
	if ts != "2026-03-01T05:00:00Z" {
		t.Errorf("expected UTC rendering, got %q", ts)
	}
}
