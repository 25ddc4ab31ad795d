package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"dunning-service/internal/domain"
	"dunning-service/pkg/logger"

	"go.uber.org/zap"
)

type ctxKey string

const (
	UserIDKey         ctxKey = "userID"
	OrganizationIDKey ctxKey = "organizationID"
	AbilitiesKey      ctxKey = "abilities"
)

// touchEvery limits last_used_at writes per token.
const touchEvery = time.Minute

type TokenFinder interface {
	FindTokenByPlainToken(ctx context.Context, plainToken string) (*domain.PersonalAccessToken, error)
}

// TokenToucher is implemented by stores that track when a token was last used.
type TokenToucher interface {
	TouchLastUsed(ctx context.Context, tokenID int64, at time.Time) error
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// SanctumMiddleware authenticates personal access tokens from the Authorization header,
// falling back to the token query parameter used by websocket clients.
func SanctumMiddleware(tokens TokenFinder) func(http.Handler) http.Handler {
	log := zap.L().Named("auth")
	toucher, _ := tokens.(TokenToucher)

	lookup := func(r *http.Request, source, plain string) *domain.PersonalAccessToken {
		if plain == "" {
			return nil
		}
		pat, err := tokens.FindTokenByPlainToken(r.Context(), plain)
		if err != nil {
			log.Debug("token lookup failed",
				zap.String("source", source),
				zap.String("token", logger.MaskToken(plain)),
				zap.Error(err),
			)
			return nil
		}
		return pat
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pat := lookup(r, "header", bearer(r))
			if pat == nil {
				pat = lookup(r, "query", r.URL.Query().Get("token"))
			}
			if pat == nil {
				log.Debug("unauthenticated request", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			now := time.Now()
			if pat.Expired(now) {
				log.Debug("token expired", zap.Int64("token_id", pat.ID), zap.Time("expires_at", *pat.ExpiresAt))
				http.Error(w, "Token expired", http.StatusUnauthorized)
				return
			}

			if toucher != nil && (pat.LastUsedAt == nil || now.Sub(*pat.LastUsedAt) > touchEvery) {
				if err := toucher.TouchLastUsed(r.Context(), pat.ID, now); err != nil {
					log.Warn("touch token failed", zap.Int64("token_id", pat.ID), zap.Error(err))
				}
			}

			ctx := WithUser(r.Context(), pat.UserID, pat.OrganizationID, pat.Abilities...)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAbility rejects requests whose token does not grant ability.
func RequireAbility(ability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			abilities, _ := r.Context().Value(AbilitiesKey).([]string)
			if !domain.HasAbility(abilities, ability) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithUser(ctx context.Context, userID int64, organizationID string, abilities ...string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, OrganizationIDKey, organizationID)
	return context.WithValue(ctx, AbilitiesKey, abilities)
}

func GetUserID(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	if !ok {
		return 0, errors.New("userID not found in context")
	}
	return userID, nil
}

func GetOrganizationID(ctx context.Context) (string, error) {
	orgID, ok := ctx.Value(OrganizationIDKey).(string)
	if !ok || orgID == "" {
		return "", errors.New("organizationID not found in context")
	}
	return orgID, nil
}
