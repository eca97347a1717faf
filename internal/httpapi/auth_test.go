package httpapi

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

func TestRegisterIssuesUsableToken(t *testing.T) {
	f := newFixture(t)

	f.mock.ExpectQuery("INSERT INTO users").
		WithArgs("new@example.com", sqlmock.AnyArg(), "member").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))

	rec := f.request(t, "POST", "/auth/register", `{"email":"New@Example.com","password":"secretpass"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}

	var body authResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.User.ID != 12 || body.User.Email != "new@example.com" {
		t.Fatalf("user = %+v", body.User)
	}

	// The token must verify against the same secret.
	identity, err := f.tokens.Verify(body.Token)
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if identity.ID != 12 {
		t.Fatalf("token identity = %+v", identity)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture(t)

	f.mock.ExpectQuery("INSERT INTO users").
		WillReturnError(&pq.Error{Code: uniqueViolation})

	rec := f.request(t, "POST", "/auth/register", `{"email":"dup@example.com","password":"secretpass"}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body)
	}
}

func TestRegisterRejectsWeakInput(t *testing.T) {
	f := newFixture(t)

	for name, body := range map[string]string{
		"bad email":      `{"email":"not-an-email","password":"secretpass"}`,
		"short password": `{"email":"a@b.com","password":"short"}`,
	} {
		rec := f.request(t, "POST", "/auth/register", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
	}
}

func TestLoginWrongPasswordAndUnknownUserLookAlike(t *testing.T) {
	f := newFixture(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("rightpass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	f.mock.ExpectQuery("SELECT id, email, password_hash, role, created_at").
		WithArgs("known@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "role", "created_at"}).
			AddRow(int64(3), "known@example.com", string(hash), "member", time.Now()))

	wrongPass := f.request(t, "POST", "/auth/login", `{"email":"known@example.com","password":"wrongpass"}`, nil)

	f.mock.ExpectQuery("SELECT id, email, password_hash, role, created_at").
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "role", "created_at"}))

	noUser := f.request(t, "POST", "/auth/login", `{"email":"ghost@example.com","password":"whatever1"}`, nil)

	for name, rec := range map[string]*struct {
		code int
		body string
	}{
		"wrong password": {wrongPass.Code, wrongPass.Body.String()},
		"unknown user":   {noUser.Code, noUser.Body.String()},
	} {
		if rec.code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", name, rec.code)
		}
		var body errorBody
		if err := json.Unmarshal([]byte(rec.body), &body); err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		if body.Error != "invalid_credentials" {
			t.Errorf("%s: error = %q, want invalid_credentials", name, body.Error)
		}
	}
}

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("rightpass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	f.mock.ExpectQuery("SELECT id, email, password_hash, role, created_at").
		WithArgs("known@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "role", "created_at"}).
			AddRow(int64(3), "known@example.com", string(hash), "admin", time.Now()))

	rec := f.request(t, "POST", "/auth/login", `{"email":"known@example.com","password":"rightpass"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}

	var body authResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	identity, err := f.tokens.Verify(body.Token)
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if !identity.IsAdmin() {
		t.Fatalf("identity = %+v, want admin role carried through", identity)
	}
}
