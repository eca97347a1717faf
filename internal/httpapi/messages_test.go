package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/agora/forum-chat/internal/auth"
	"github.com/agora/forum-chat/internal/moderation"
	"github.com/agora/forum-chat/internal/store"
	"github.com/agora/forum-chat/internal/topic"
)

type stubModeration struct {
	status moderation.Status
	err    error

	mutedUser  int64
	mutedUntil time.Time
	bannedUser int64
}

func (m *stubModeration) Status(ctx context.Context, userID int64) (moderation.Status, error) {
	return m.status, m.err
}

func (m *stubModeration) ApplyMute(ctx context.Context, userID int64, s moderation.Sanction) (time.Time, error) {
	m.mutedUser = userID
	m.mutedUntil = time.Now().Add(s.Duration)
	return m.mutedUntil, nil
}

func (m *stubModeration) ApplyBan(ctx context.Context, userID int64, s moderation.Sanction, reason string) (*time.Time, error) {
	m.bannedUser = userID
	return s.Until(time.Now()), nil
}

// recorder captures broadcast calls so tests can assert what was fanned out.
type recorder struct {
	created []store.Message
	updated []store.Message
	deleted [][2]int64
	topics  []string
	muted   []int64
	banned  []int64
}

func (r *recorder) MessageCreated(m store.Message)       { r.created = append(r.created, m) }
func (r *recorder) MessageUpdated(m store.Message)       { r.updated = append(r.updated, m) }
func (r *recorder) MessageDeleted(id, topicID int64)     { r.deleted = append(r.deleted, [2]int64{id, topicID}) }
func (r *recorder) TopicCreated(t store.Topic)           { r.topics = append(r.topics, "created") }
func (r *recorder) TopicUpdated(t store.Topic)           { r.topics = append(r.topics, "updated") }
func (r *recorder) TopicDeleted(id int64)                { r.topics = append(r.topics, "deleted") }
func (r *recorder) UserMuted(userID int64, _ time.Time)  { r.muted = append(r.muted, userID) }
func (r *recorder) UserBanned(userID int64, _ *time.Time, _ bool, _ string) {
	r.banned = append(r.banned, userID)
}

type fixture struct {
	api    *API
	mux    *http.ServeMux
	mock   sqlmock.Sqlmock
	mod    *stubModeration
	events *recorder
	tokens *auth.Tokens
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	topics := topic.NewRegistry()
	topics.Put(store.Topic{ID: 1, Name: "general", CreatedAt: time.Now()})
	topics.Put(store.Topic{ID: 2, Name: "archive", IsClosed: true, CreatedAt: time.Now()})

	mod := &stubModeration{}
	events := &recorder{}
	tokens := auth.NewTokens([]byte("test-secret"), time.Hour)

	api := New(store.New(db), topics, tokens, mod, nil, events)
	mux := http.NewServeMux()
	api.Routes(mux)

	return &fixture{api: api, mux: mux, mock: mock, mod: mod, events: events, tokens: tokens}
}

func (f *fixture) request(t *testing.T, method, path, body string, identity *auth.Identity) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if identity != nil {
		token, err := f.tokens.Sign(*identity)
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

var (
	member = auth.Identity{ID: 7, Email: "member@example.com", Role: auth.RoleMember}
	admin  = auth.Identity{ID: 1, Email: "admin@example.com", Role: auth.RoleAdmin}
)

func TestCreateMessageRequiresToken(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, "POST", "/api/chats/1/messages", `{"text":"hi"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCreateMessageUnknownTopic(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, "POST", "/api/chats/99/messages", `{"text":"hi"}`, &member)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCreateMessageClosedTopic(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, "POST", "/api/chats/2/messages", `{"text":"hi"}`, &member)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("member status = %d, want 403", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "topic_closed" {
		t.Fatalf("error = %q, want topic_closed", body.Error)
	}

	// Admins may post into closed topics.
	f.mock.ExpectQuery("INSERT INTO messages").
		WithArgs(int64(2), admin.ID, "hi").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(10), time.Now()))

	rec = f.request(t, "POST", "/api/chats/2/messages", `{"text":"hi"}`, &admin)
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin status = %d, want 201: %s", rec.Code, rec.Body)
	}
}

func TestCreateMessageMuted(t *testing.T) {
	f := newFixture(t)
	until := time.Now().Add(15 * time.Minute)
	f.mod.status = moderation.Status{MutedUntil: &until}

	rec := f.request(t, "POST", "/api/chats/1/messages", `{"text":"hi"}`, &member)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	var body mutedBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "muted" || body.MutedUntil == "" {
		t.Fatalf("body = %+v", body)
	}
	if len(f.events.created) != 0 {
		t.Fatal("muted post was broadcast")
	}
}

func TestCreateMessageExpiredMuteGoesThrough(t *testing.T) {
	f := newFixture(t)
	past := time.Now().Add(-time.Minute)
	f.mod.status = moderation.Status{MutedUntil: &past}

	f.mock.ExpectQuery("INSERT INTO messages").
		WithArgs(int64(1), member.ID, "hi").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), time.Now()))

	rec := f.request(t, "POST", "/api/chats/1/messages", `{"text":"hi"}`, &member)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}
}

func TestCreateMessageBanned(t *testing.T) {
	f := newFixture(t)
	f.mod.status = moderation.Status{BanPermanent: true}

	rec := f.request(t, "POST", "/api/chats/1/messages", `{"text":"hi"}`, &member)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "banned" {
		t.Fatalf("error = %q, want banned", body.Error)
	}
}

func TestCreateMessageModerationOutageFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.mod.err = context.DeadlineExceeded

	rec := f.request(t, "POST", "/api/chats/1/messages", `{"text":"hi"}`, &member)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if len(f.events.created) != 0 {
		t.Fatal("message broadcast despite moderation outage")
	}
}

func TestCreateMessageBroadcastsCommittedRow(t *testing.T) {
	f := newFixture(t)
	created := time.Now()

	f.mock.ExpectQuery("INSERT INTO messages").
		WithArgs(int64(1), member.ID, "hello there").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(42), created))

	rec := f.request(t, "POST", "/api/chats/1/messages", `{"text":"hello there"}`, &member)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}

	if len(f.events.created) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(f.events.created))
	}
	got := f.events.created[0]
	if got.ID != 42 || got.TopicID != 1 || got.UserID != member.ID || got.AuthorEmail != member.Email {
		t.Fatalf("broadcast message = %+v", got)
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateMessageRejectsInvalidText(t *testing.T) {
	f := newFixture(t)

	for name, body := range map[string]string{
		"empty":    `{"text":""}`,
		"too long": `{"text":"` + strings.Repeat("a", maxTextBytes+1) + `"}`,
	} {
		rec := f.request(t, "POST", "/api/chats/1/messages", body, &member)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
	}
	if len(f.events.created) != 0 {
		t.Fatal("invalid text was broadcast")
	}
}

func TestUpdateMessageAuthorOnly(t *testing.T) {
	f := newFixture(t)

	rows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "topic_id", "user_id", "text", "created_at", "deleted_at", "deleted_by"}).
			AddRow(int64(5), int64(1), member.ID, "old", time.Now(), nil, nil)
	}

	// Another member is not the author.
	f.mock.ExpectQuery("SELECT id, topic_id, user_id, text, created_at, deleted_at, deleted_by").
		WithArgs(int64(5)).WillReturnRows(rows())
	other := auth.Identity{ID: 99, Email: "other@example.com", Role: auth.RoleMember}
	rec := f.request(t, "PUT", "/api/messages/5", `{"text":"new"}`, &other)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-author status = %d, want 403", rec.Code)
	}

	// The author may edit; the new text is broadcast.
	f.mock.ExpectQuery("SELECT id, topic_id, user_id, text, created_at, deleted_at, deleted_by").
		WithArgs(int64(5)).WillReturnRows(rows())
	f.mock.ExpectExec("UPDATE messages SET text").
		WithArgs("new", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec = f.request(t, "PUT", "/api/messages/5", `{"text":"new"}`, &member)
	if rec.Code != http.StatusOK {
		t.Fatalf("author status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if len(f.events.updated) != 1 || f.events.updated[0].Text != "new" {
		t.Fatalf("updated broadcasts = %+v", f.events.updated)
	}
}

func TestDeleteMessageByAdminTagsAdmin(t *testing.T) {
	f := newFixture(t)

	f.mock.ExpectQuery("SELECT id, topic_id, user_id, text, created_at, deleted_at, deleted_by").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "topic_id", "user_id", "text", "created_at", "deleted_at", "deleted_by"}).
			AddRow(int64(5), int64(1), member.ID, "bad post", time.Now(), nil, nil))
	f.mock.ExpectExec("UPDATE messages").
		WithArgs(store.DeletedByAdmin, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := f.request(t, "DELETE", "/api/messages/5", "", &admin)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204: %s", rec.Code, rec.Body)
	}
	if len(f.events.deleted) != 1 || f.events.deleted[0] != [2]int64{5, 1} {
		t.Fatalf("deleted broadcasts = %+v", f.events.deleted)
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTopicAdminEndpointsRejectMembers(t *testing.T) {
	f := newFixture(t)

	for _, tc := range []struct{ method, path, body string }{
		{"POST", "/api/chats", `{"name":"new"}`},
		{"PUT", "/admin/chats/1/close", `{"is_closed":true}`},
		{"DELETE", "/admin/chats/1", ""},
		{"POST", "/admin/mute", `{"user_id":7,"duration_minutes":10}`},
		{"POST", "/admin/ban", `{"user_id":7,"permanent":true}`},
	} {
		rec := f.request(t, tc.method, tc.path, tc.body, &member)
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s %s: status = %d, want 403", tc.method, tc.path, rec.Code)
		}
	}
}

func TestBanUserBroadcastsAndRecords(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, "POST", "/admin/ban", `{"user_id":7,"permanent":true,"reason":"spam"}`, &admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if f.mod.bannedUser != 7 {
		t.Fatalf("banned user = %d, want 7", f.mod.bannedUser)
	}
	if len(f.events.banned) != 1 || f.events.banned[0] != 7 {
		t.Fatalf("banned broadcasts = %+v", f.events.banned)
	}

	var body banResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Permanent || body.BannedUntil != nil {
		t.Fatalf("body = %+v, want permanent with null banned_until", body)
	}
}

func TestMuteUserRequiresPositiveDuration(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, "POST", "/admin/mute", `{"user_id":7,"duration_minutes":0}`, &admin)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = f.request(t, "POST", "/admin/mute", `{"user_id":7,"duration_minutes":15}`, &admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if f.mod.mutedUser != 7 || len(f.events.muted) != 1 {
		t.Fatalf("mute not applied/broadcast: user=%d events=%+v", f.mod.mutedUser, f.events.muted)
	}
}

func TestSanctionSelfRejected(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, "POST", "/admin/ban", `{"user_id":1,"permanent":true}`, &admin)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
