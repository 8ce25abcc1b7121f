package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/apikeys"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/infra"
)

// Mode is the auth path a request took.
type Mode string

const (
	ModeConsumer   Mode = "consumer"
	ModeEnterprise Mode = "enterprise"
)

// SessionCookie is the cookie the web app stores the Supabase access token in.
const SessionCookie = "sb-access-token"

const principalKey contextKey = "principal"

// Principal is the authenticated caller.
type Principal struct {
	Mode   Mode
	UserID string
	APIKey *domain.APIKey
	// ViaCookie is set when the session came from a cookie rather than a header,
	// which makes the request subject to the origin check.
	ViaCookie bool
}

// SessionClaims are the claims of a Supabase access token.
type SessionClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidToken       = errors.New("invalid session token")
	ErrTokenExpired       = errors.New("session token expired")
)

// KeyStore resolves API key hashes.
type KeyStore interface {
	FindByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	TouchLastUsed(ctx context.Context, id string) error
}

// VerifySession validates an HS256 Supabase access token and returns its claims.
func VerifySession(secret, token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SignSession issues a session token; used by local tooling and tests.
func SignSession(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Role: "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{"authenticated"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// apiKeyFromRequest returns a raw API key when the request uses the key scheme:
// an X-API-Key header, or a bearer token carrying the key prefix.
func apiKeyFromRequest(r *http.Request) (string, bool) {
	if v := strings.TrimSpace(r.Header.Get("X-API-Key")); v != "" {
		return v, true
	}
	if tok, ok := bearer(r); ok && apikeys.Looks(tok) {
		return tok, true
	}
	return "", false
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// Authenticate resolves the caller from an API key or a Supabase session and
// stores the Principal in the context. The scheme decides the mode; token
// contents are never inspected to guess it.
func Authenticate(secret string, keys KeyStore, log infra.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw, ok := apiKeyFromRequest(r); ok {
				key, err := keys.FindByHash(r.Context(), apikeys.Hash(raw))
				switch {
				case errors.Is(err, domain.ErrNotFound):
					WriteError(w, r, http.StatusUnauthorized, CodeUnauthorized, "invalid API key")
					return
				case err != nil:
					log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("auth: api key lookup")
					WriteError(w, r, http.StatusInternalServerError, CodeInternal, "internal error")
					return
				case !key.Active():
					WriteError(w, r, http.StatusForbidden, CodeForbidden, "API key is not active")
					return
				}
				if err := keys.TouchLastUsed(r.Context(), key.ID); err != nil {
					log.Warn().Err(err).Str("api_key_id", key.ID).Msg("auth: touch api key")
				}
				p := &Principal{Mode: ModeEnterprise, UserID: key.UserID, APIKey: key}
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
				return
			}

			token, viaCookie := "", false
			if tok, ok := bearer(r); ok {
				token = tok
			} else if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
				token, viaCookie = c.Value, true
			}
			if token == "" {
				WriteError(w, r, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
				return
			}
			claims, err := VerifySession(secret, token)
			if err != nil {
				msg := "invalid session"
				if errors.Is(err, ErrTokenExpired) {
					msg = "session expired"
				}
				WriteError(w, r, http.StatusUnauthorized, CodeUnauthorized, msg)
				return
			}
			p := &Principal{Mode: ModeConsumer, UserID: claims.Subject, ViaCookie: viaCookie}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalKey).(*Principal); ok {
		return p
	}
	return nil
}

func UserIDFromContext(ctx context.Context) string {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.UserID
	}
	return ""
}

// RequestMode reports the caller's mode, before or after authentication.
func RequestMode(r *http.Request) Mode {
	if p := PrincipalFromContext(r.Context()); p != nil {
		return p.Mode
	}
	if _, ok := apiKeyFromRequest(r); ok {
		return ModeEnterprise
	}
	return ModeConsumer
}
