package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/averyhale/fieldledger/internal/config"
	"github.com/averyhale/fieldledger/modules/governance/domain/ports"
	"github.com/averyhale/fieldledger/modules/governance/domain/registry"
	"github.com/averyhale/fieldledger/modules/governance/infrastructure/persistence"
	"github.com/averyhale/fieldledger/modules/governance/services"
)

// StoreFactory returns the tenant-scoped governance store for one tenant.
type StoreFactory func(tenantID string) ports.Store

type HandlerOptions struct {
	TenancyResolver TenancyResolver
	Registry        *registry.Registry
	StoreFor        StoreFactory
	Authorizer      authorizer
}

func NewHandler() (http.Handler, error) {
	return NewHandlerWithOptions(HandlerOptions{})
}

func NewHandlerWithOptions(opts HandlerOptions) (http.Handler, error) {
	reg := opts.Registry
	if reg == nil {
		path := os.Getenv("MODELS_PATH")
		if path == "" {
			p, err := defaultModelsPath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		r, err := config.LoadRegistry(path)
		if err != nil {
			return nil, err
		}
		reg = r
	}

	storeFor := opts.StoreFor
	if storeFor == nil {
		pool, err := pgxpool.New(context.Background(), dbDSNFromEnv())
		if err != nil {
			return nil, err
		}
		storeFor = func(tenantID string) ports.Store {
			return persistence.NewPGStore(pool, tenantID)
		}
	}

	resolver := opts.TenancyResolver
	if resolver == nil {
		tenants, err := loadTenants()
		if err != nil {
			return nil, err
		}
		resolver = newStaticTenancyResolver(tenants)
	}

	auth := opts.Authorizer
	if auth == nil {
		a, err := loadAuthorizer()
		if err != nil {
			return nil, err
		}
		auth = a
	}

	api := &governanceAPI{
		reg:      reg,
		storeFor: storeFor,
		rules:    services.NewRuleEvaluator(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /internal/api/records", api.handleRecordGet)
	mux.HandleFunc("POST /internal/api/records/save", api.handleRecordSave)
	mux.HandleFunc("POST /internal/api/records/delete", api.handleRecordDelete)
	mux.HandleFunc("GET /internal/api/records/fields", api.handleRecordFields)
	mux.HandleFunc("GET /internal/api/records/audits", api.handleRecordAudits)
	mux.HandleFunc("GET /internal/api/audits/pending", api.handlePendingAudits)
	mux.HandleFunc("POST /internal/api/reviews/resolve", api.handleReviewsResolve)
	mux.HandleFunc("POST /internal/api/reviews/resolve-edit", api.handleReviewsResolveEdit)
	mux.HandleFunc("GET /internal/api/reputation", api.handleReputation)

	var h http.Handler = mux
	h = withAuthz(auth, h)
	h = withIdentity(storeFor, h)
	h = withTenancy(resolver, h)
	return h, nil
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func defaultModelsPath() (string, error) {
	path := "config/models.yaml"
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: models config not found")
}
