package handler

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pointshop/internal/domain/auth"
)

type userKey struct{}

type adminKey struct{}

// UserFromContext returns the authenticated customer id.
func UserFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

// AdminFromContext returns the API key the admin request was authorized with.
func AdminFromContext(ctx context.Context) *auth.APIKeyInfo {
	info, _ := ctx.Value(adminKey{}).(*auth.APIKeyInfo)
	return info
}

func actor(ctx context.Context) string {
	if info := AdminFromContext(ctx); info != nil {
		return "admin:" + info.Name
	}
	return UserFromContext(ctx)
}

// RequireUser reads the caller's id from the X-User-ID header set by the
// upstream session layer. Requests without it are rejected.
func (h *Handler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserHeader))
		if id == "" || len(id) > 128 {
			writeError(w, r, errors.Wrap(errUnauthorized, "missing "+UserHeader+" header"))
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, id)
		ctx = zctx.With(ctx, zap.String("user_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin authenticates requests by the HMAC-SHA256 of the api_key
// header and requires the admin scope.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := h.authenticate(r.Context(), r.Header.Get(APIKeyHeader))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !info.HasScope(auth.ScopeAdmin) {
			writeError(w, r, errForbidden)
			return
		}
		ctx := context.WithValue(r.Context(), adminKey{}, info)
		ctx = zctx.With(ctx, zap.String("api_key", info.Name))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error) {
	if key == "" {
		return nil, errUnauthorized
	}
	hexHash := auth.HashKey(h.pepper, key)

	info, err := h.apikeys.FindByHash(ctx, hexHash)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, errUnauthorized
		}
		return nil, errors.Wrap(err, "find api key")
	}

	// The stored hash must match what we computed, even if the lookup
	// returned a row.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, errUnauthorized
	}
	computed, _ := hex.DecodeString(hexHash)
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return nil, errUnauthorized
	}
	return info, nil
}
