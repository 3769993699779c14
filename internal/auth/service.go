package auth

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"

	"devguard/internal/config"
)

// NewService creates the auth service from the auth settings. Missing secrets
// are replaced with random ones, which invalidates tokens across restarts.
func NewService(cfg config.AuthConfig) *Service {
	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		jwtSecret = uuid.NewString()
		if cfg.Enable {
			log.Printf("⚠️  JWT_SECRET not set, issued tokens will not survive a restart")
		}
	}
	sessionSecret := cfg.SessionSecret
	if sessionSecret == "" {
		sessionSecret = uuid.NewString()
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	store := sessions.NewCookieStore([]byte(sessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	return &Service{
		enabled:      cfg.Enable,
		jwtSecret:    []byte(jwtSecret),
		tokenTTL:     ttl,
		sessionStore: store,
	}
}

// Enabled reports whether API requests need a bearer token
func (s *Service) Enabled() bool {
	return s.enabled
}

// IssueToken generates a signed API token for subject
func (s *Service) IssueToken(subject string) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("token subject is required")
	}
	now := time.Now()
	claims := Claims{
		Scope: "api",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			Issuer:    "devguard",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken validates an API token and returns its claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer("devguard"))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// SessionID returns the chat session id carried in the session cookie,
// creating and saving a new one when the request has none
func (s *Service) SessionID(w http.ResponseWriter, r *http.Request) (string, error) {
	// a cookie signed with another secret yields a fresh session and an error
	session, err := s.sessionStore.Get(r, SessionName)
	if err != nil && session == nil {
		return "", fmt.Errorf("failed to load session: %w", err)
	}
	if id, ok := session.Values["session_id"].(string); ok && id != "" {
		return id, nil
	}

	id := uuid.NewString()
	session.Values["session_id"] = id
	if err := session.Save(r, w); err != nil {
		return "", fmt.Errorf("failed to save session: %w", err)
	}
	return id, nil
}
