package httppresentation

import (
	"context"
	"net/http"
)

const (
	headerTenantID = "X-Tenant-Id"
	headerUserID   = "X-User-Id"
	headerUserRole = "X-User-Role"
)

// Identity is the pre-validated caller identity propagated by the upstream
// gateway. The service trusts the headers; it only enforces their presence.
type Identity struct {
	TenantID string
	UserID   string
	Role     string
}

type identityKey struct{}

// RequireIdentity rejects requests missing the tenant or user header with 401
// before any handler runs.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident := Identity{
			TenantID: r.Header.Get(headerTenantID),
			UserID:   r.Header.Get(headerUserID),
			Role:     r.Header.Get(headerUserRole),
		}
		if ident.TenantID == "" || ident.UserID == "" {
			writeReason(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing identity headers")
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(ctx context.Context) Identity {
	ident, _ := ctx.Value(identityKey{}).(Identity)
	return ident
}
