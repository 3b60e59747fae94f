package authctx

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// sessionTokenTTL is the lifetime assumed for caller bearer tokens. The
// identity system that issues these tokens is external to this core; this
// value only bounds how long a token this middleware accepts may claim to
// be valid for, as a defense against unbounded-lifetime tokens.
const sessionTokenTTL = 30 * 24 * time.Hour

// Claims holds the JWT claims carried in a caller bearer token.
type Claims struct {
	UserID   string `json:"uid"`
	MemberID string `json:"mid"`
	GroupID  string `json:"gid"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// RequireAuth returns middleware that validates caller bearer tokens and
// stores the resolved AuthContext in the request context.
func RequireAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeAuthError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeAuthError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				slog.Debug("auth: invalid bearer token", "error", err)
				writeAuthError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if claims.ExpiresAt == nil || claims.ExpiresAt.Time.After(time.Now().Add(sessionTokenTTL)) {
				writeAuthError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			if claims.UserID == "" || claims.GroupID == "" {
				writeAuthError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}

			ac := &AuthContext{
				UserID:   claims.UserID,
				MemberID: claims.MemberID,
				GroupID:  claims.GroupID,
				Role:     claims.Role,
			}
			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
		})
	}
}

// GenerateToken mints a signed caller bearer token. It exists for test
// fixtures and local tooling; the identity system that issues caller
// credentials in a deployed environment is external to this core.
func GenerateToken(secret []byte, ac AuthContext) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(sessionTokenTTL)
	claims := Claims{
		UserID:   ac.UserID,
		MemberID: ac.MemberID,
		GroupID:  ac.GroupID,
		Role:     ac.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "callcore",
			Subject:   ac.UserID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// callbackTokenTTL bounds how long a recorder callback token remains valid.
// It is kept short since the token only needs to live for the duration of a
// single recording session's start call.
const callbackTokenTTL = 10 * time.Minute

// CallbackClaims scopes a recorder callback token to one call and one
// recording kind, so a compromised callback token cannot be replayed
// against a different call.
type CallbackClaims struct {
	CallID string `json:"call_id"`
	Kind   string `json:"kind"`
	jwt.RegisteredClaims
}

// GenerateCallbackToken mints a short-lived bearer token handed to the
// RecorderBackend so it can authenticate its own calls back into
// RecordingIngest without sharing this core's session-signing secret.
func GenerateCallbackToken(secret []byte, callID, kind string) (string, error) {
	now := time.Now()
	claims := CallbackClaims{
		CallID: callID,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(callbackTokenTTL)),
			Issuer:    "callcore",
			Subject:   callID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseCallbackToken validates a recorder callback token and returns the
// call ID and recording kind it was scoped to.
func ParseCallbackToken(secret []byte, tokenString string) (*CallbackClaims, error) {
	claims := &CallbackClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	return claims, nil
}

// authEnvelope matches the API package's envelope format for error responses.
type authEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(authEnvelope{Success: false, Message: msg}) //nolint:errcheck
}
