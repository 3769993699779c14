package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/sessions"
)

// SessionName is the cookie carrying the chat session id
const SessionName = "devguard-session"

// Service issues and validates API tokens and manages the session cookie
type Service struct {
	enabled      bool
	jwtSecret    []byte
	tokenTTL     time.Duration
	sessionStore sessions.Store
}

// contextKey represents custom context key types to avoid collisions
type contextKey string

const (
	claimsContextKey contextKey = "claims"
)

// Claims are the JWT claims of an API token
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}
