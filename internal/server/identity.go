package server

import (
	"errors"
	"net/http"

	"github.com/averyhale/fieldledger/modules/governance/domain/ports"
)

// userHeader carries the caller's user UUID. The deployment fronting this
// service authenticates the user and forwards only the identifier.
const userHeader = "X-User-UUID"

// withIdentity resolves the caller's governance role and stores the
// principal in the request context. An unknown or absent user stays
// anonymous; route authz decides what anonymous may reach.
func withIdentity(storeFor StoreFactory, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userUUID := r.Header.Get(userHeader)
		if userUUID == "" {
			next.ServeHTTP(w, r)
			return
		}

		tenant, ok := currentTenant(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		role, err := storeFor(tenant.ID).Permissions().RoleOf(r.Context(), tenant.ID, userUUID)
		if err != nil {
			if errors.Is(err, ports.ErrRoleNotFound) {
				next.ServeHTTP(w, r)
				return
			}
			writeAPIError(w, http.StatusInternalServerError, "identity_error", "identity error")
			return
		}

		p := Principal{UserUUID: userUUID, RoleSlug: role.Name}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}
