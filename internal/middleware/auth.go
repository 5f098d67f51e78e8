package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/compliance"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	RoleKey   contextKey = "role"
)

type JWTAuth struct {
	Secret []byte
}

func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{Secret: []byte(secret)}
}

// GenerateAccessToken creates a JWT for userID with the given lifetime.
// The identity provider issues production tokens; this is used by tests
// and local tooling.
func (j *JWTAuth) GenerateAccessToken(userID, email string, ttl time.Duration) (string, error) {
	return j.GenerateRoleToken(userID, email, "", ttl)
}

// GenerateRoleToken is GenerateAccessToken with a role claim.
func (j *JWTAuth) GenerateRoleToken(userID, email, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"sub":     userID,
		"email":   email,
		"exp":     now.Add(ttl).Unix(),
		"iat":     now.Unix(),
	}
	if role != "" {
		claims["role"] = role
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.Secret)
}

// Claims is the caller identity an access token carries.
type Claims struct {
	UserID string
	Role   string
}

// ParseToken verifies tokenStr and returns the caller identity it carries.
func (j *JWTAuth) ParseToken(tokenStr string) (string, error) {
	claims, err := j.ParseClaims(tokenStr)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// ParseClaims verifies tokenStr and returns its identity and role. A token
// without a role claim yields an empty role.
func (j *JWTAuth) ParseClaims(tokenStr string) (Claims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return j.Secret, nil
	})
	if err != nil {
		return Claims{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Claims{}, jwt.ErrTokenInvalidClaims
	}

	role, _ := claims["role"].(string)
	// user_id is preferred; sub is accepted for tokens minted elsewhere.
	for _, key := range []string{"user_id", "sub"} {
		if id, ok := claims[key].(string); ok && strings.TrimSpace(id) != "" {
			return Claims{UserID: id, Role: strings.TrimSpace(role)}, nil
		}
	}
	return Claims{}, jwt.ErrTokenInvalidClaims
}

// Middleware validates JWT and attaches user_id to context
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, compliance.CodeUnauthenticated, "Authentication required", r)
			return
		}

		// Must be Bearer format
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, compliance.CodeUnauthenticated, "Invalid authorization format", r)
			return
		}

		claims, err := j.ParseClaims(parts[1])
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token has expired", r)
			} else {
				writeError(w, http.StatusUnauthorized, compliance.CodeUnauthenticated, "Invalid token", r)
			}
			return
		}

		ctx := WithRole(WithUserID(r.Context(), claims.UserID), claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID extracts user_id from request context
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}

// GetRole extracts the token role from request context.
func GetRole(ctx context.Context) string {
	role, _ := ctx.Value(RoleKey).(string)
	return role
}

func writeError(w http.ResponseWriter, status int, code, message string, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":       code,
			"message":    message,
			"request_id": GetRequestID(r.Context()),
		},
	})
}
