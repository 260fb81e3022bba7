package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lease-ledger/internal/domain"

	"go.uber.org/zap"
)

type ctxKey string

const UserIDKey ctxKey = "userID"

type TokenFinder interface {
	FindTokenByPlainToken(ctx context.Context, plainToken string) (*domain.PersonalAccessToken, error)
}

// plainToken takes the bearer token from the Authorization header, or from
// ?token= for websocket clients that cannot set headers.
func plainToken(r *http.Request) (string, string) {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		if t := strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")); t != "" {
			return t, "header"
		}
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t, "query"
	}
	return "", ""
}

// SanctumMiddleware authenticates requests with personal access tokens in the
// "id|secret" form and stores the token owner in the request context.
func SanctumMiddleware(tokens TokenFinder, log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, source := plainToken(r)
			if token == "" {
				unauthorized(w, "authentication required")
				return
			}

			pat, err := tokens.FindTokenByPlainToken(r.Context(), token)
			if err != nil || pat == nil {
				log.Debug("token lookup failed",
					zap.String("source", source),
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				unauthorized(w, "authentication required")
				return
			}

			if pat.Expired(time.Now()) {
				log.Debug("token expired", zap.Int64("token_id", pat.ID), zap.Timep("expires_at", pat.ExpiresAt))
				unauthorized(w, "token expired")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), pat.UserID)))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": http.StatusUnauthorized,
		"status":     "error",
		"message":    message,
		"data":       nil,
	})
}

func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	if !ok {
		return 0, domain.ErrAuthenticationRequired
	}
	return userID, nil
}

// Actor is the audit actor for the authenticated user.
func Actor(ctx context.Context) string {
	userID, err := GetUserID(ctx)
	if err != nil {
		return ""
	}
	return strconv.FormatInt(userID, 10)
}
