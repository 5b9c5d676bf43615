package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/averyhale/fieldledger/pkg/authz"
)

func loadAuthorizer() (*authz.Authorizer, error) {
	modelPath := os.Getenv("AUTHZ_MODEL_PATH")
	if modelPath == "" {
		p, err := defaultAuthzModelPath()
		if err != nil {
			return nil, err
		}
		modelPath = p
	}

	policyPath := os.Getenv("AUTHZ_POLICY_PATH")
	if policyPath == "" {
		p, err := defaultAuthzPolicyPath()
		if err != nil {
			return nil, err
		}
		policyPath = p
	}

	mode, err := authz.ModeFromEnv()
	if err != nil {
		return nil, err
	}

	return authz.NewAuthorizer(modelPath, policyPath, mode)
}

func defaultAuthzModelPath() (string, error) {
	path := "config/access/model.conf"
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: authz model not found")
}

func defaultAuthzPolicyPath() (string, error) {
	path := "config/access/policy.csv"
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: authz policy not found")
}

type authorizer interface {
	Authorize(subject string, domain string, object string, action string) (allowed bool, enforced bool, err error)
}

func withAuthz(a authorizer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		object, action, shouldCheck := authzRequirementForRoute(r.Method, path)
		if !shouldCheck {
			next.ServeHTTP(w, r)
			return
		}

		tenant, ok := currentTenant(r.Context())
		if !ok {
			writeAPIError(w, http.StatusInternalServerError, "tenant_missing", "tenant missing")
			return
		}

		roleSlug := authz.RoleAnonymous
		if p, ok := currentPrincipal(r.Context()); ok {
			roleSlug = p.RoleSlug
		}

		subject := authz.SubjectFromRoleSlug(roleSlug)
		domain := authz.DomainFromTenantID(tenant.ID)

		allowed, enforced, err := a.Authorize(subject, domain, object, action)
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, "authz_error", "authz error")
			return
		}
		if enforced && !allowed {
			writeAPIError(w, http.StatusForbidden, "forbidden", "forbidden")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func authzRequirementForRoute(method string, path string) (object string, action string, ok bool) {
	switch path {
	case "/internal/api/records/save", "/internal/api/records/delete":
		if method == http.MethodPost {
			return authz.ObjectRecords, authz.ActionWrite, true
		}
		return "", "", false
	case "/internal/api/records", "/internal/api/records/fields":
		if method == http.MethodGet {
			return authz.ObjectRecords, authz.ActionRead, true
		}
		return "", "", false
	case "/internal/api/records/audits", "/internal/api/audits/pending":
		if method == http.MethodGet {
			return authz.ObjectAudits, authz.ActionRead, true
		}
		return "", "", false
	case "/internal/api/reviews/resolve", "/internal/api/reviews/resolve-edit":
		if method == http.MethodPost {
			return authz.ObjectReviews, authz.ActionReview, true
		}
		return "", "", false
	case "/internal/api/reputation":
		if method == http.MethodGet {
			return authz.ObjectReputation, authz.ActionRead, true
		}
		return "", "", false
	default:
		return "", "", false
	}
}
