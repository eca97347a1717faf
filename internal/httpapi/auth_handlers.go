package httpapi

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/agora/forum-chat/internal/auth"
	"github.com/agora/forum-chat/internal/ratelimit"
	"github.com/agora/forum-chat/internal/store"
)

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string   `json:"token"`
	User  userView `json:"user"`
}

type userView struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "invalid_email", "a valid email is required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "weak_password", "password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("httpapi: hash password: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not create account")
		return
	}

	id, err := a.store.CreateUser(r.Context(), req.Email, string(hash), auth.RoleMember)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			writeError(w, http.StatusConflict, "email_taken", "an account with this email already exists")
			return
		}
		log.Printf("httpapi: create user: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not create account")
		return
	}

	identity := auth.Identity{ID: id, Email: req.Email, Role: auth.RoleMember}
	token, err := a.tokens.Sign(identity)
	if err != nil {
		log.Printf("httpapi: sign token: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not issue token")
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{
		Token: token,
		User:  userView{ID: id, Email: req.Email, Role: auth.RoleMember},
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.limiter.Allow(r.Context(), clientAddr(r), ratelimit.RuleLogin) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many login attempts, slow down")
		return
	}

	var req credentials
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	u, err := a.store.UserByEmail(r.Context(), req.Email)
	if errors.Is(err, store.ErrNotFound) {
		// Same response as a wrong password: no account enumeration.
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "email or password is incorrect")
		return
	}
	if err != nil {
		log.Printf("httpapi: user by email: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not log in")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "email or password is incorrect")
		return
	}

	identity := auth.Identity{ID: u.ID, Email: u.Email, Role: u.Role}
	token, err := a.tokens.Sign(identity)
	if err != nil {
		log.Printf("httpapi: sign token: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not issue token")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		Token: token,
		User:  userView{ID: u.ID, Email: u.Email, Role: u.Role},
	})
}
