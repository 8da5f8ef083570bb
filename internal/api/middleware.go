package api

import (
	"context"
	"net/http"

	"github.com/mnemohq/mnemo/internal/models"
)

type scopeKey struct{}

// tenantScope extracts the tenant identity from the X-User-ID and X-Org-ID
// headers set by the upstream auth layer. Requests without a user id are
// rejected before reaching any handler.
func tenantScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			errorResponse(w, http.StatusUnauthorized, "X-User-ID header is required")
			return
		}

		scope := models.TenantScope{
			UserID:         userID,
			OrganizationID: r.Header.Get("X-Org-ID"),
		}

		ctx := context.WithValue(r.Context(), scopeKey{}, scope)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// scopeFrom returns the tenant scope placed in the context by tenantScope.
func scopeFrom(r *http.Request) models.TenantScope {
	scope, _ := r.Context().Value(scopeKey{}).(models.TenantScope)
	return scope
}
