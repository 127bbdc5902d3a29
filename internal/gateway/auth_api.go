// ABOUTME: HTTP handlers for account signup and password login
// ABOUTME: Both return the public user plus a signed session token

package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/store"
)

// SignupRequest is the JSON request body for POST /api/auth/signup.
type SignupRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// LoginRequest is the JSON request body for POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserResponse is the public part of an account.
type UserResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AuthResponse is the JSON response for signup and login.
type AuthResponse struct {
	User      UserResponse `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expires_at"`
}

// handleSignup handles POST /api/auth/signup.
func (g *Gateway) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !g.allowSignup {
		g.sendJSONError(w, http.StatusForbidden, "signup is disabled")
		return
	}

	var req SignupRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	account, err := g.registrar.Register(r.Context(), req.Email, req.Name, req.Password)
	var verr *chat.ValidationError
	switch {
	case errors.As(err, &verr):
		g.sendJSONError(w, http.StatusBadRequest, verr.Error())
		return
	case errors.Is(err, store.ErrEmailExists):
		g.sendJSONError(w, http.StatusConflict, "email already registered")
		return
	case err != nil:
		g.sendAPIError(w, g.backendError("signup", err))
		return
	}

	g.respondWithToken(w, http.StatusCreated, account)
}

// handleLogin handles POST /api/auth/login.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		g.sendJSONError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	account, err := g.registrar.Authenticate(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrBadCredentials) {
		g.sendJSONError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		g.sendAPIError(w, g.backendError("login", err))
		return
	}

	g.respondWithToken(w, http.StatusOK, account)
}

func (g *Gateway) respondWithToken(w http.ResponseWriter, status int, account *store.Account) {
	token, err := g.verifier.Generate(account.ID, g.tokenTTL)
	if err != nil {
		g.logger.Error("failed to sign token", "user_id", account.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, status, AuthResponse{
		User: UserResponse{
			ID:    account.ID,
			Name:  account.Name,
			Email: account.Email,
		},
		Token:     token,
		ExpiresAt: g.now().Add(g.tokenTTL).UTC().Format(time.RFC3339),
	})
}
