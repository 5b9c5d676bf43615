// Package config loads the governance seed file: tenants with their roles,
// field grants, user assignments, and reputation metrics.
package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/averyhale/fieldledger/modules/governance/domain/ports"
	"github.com/averyhale/fieldledger/modules/governance/domain/registry"
	"github.com/averyhale/fieldledger/modules/governance/domain/types"
	"github.com/averyhale/fieldledger/modules/governance/services"
)

type Seed struct {
	Version int          `yaml:"version"`
	Tenants []TenantSeed `yaml:"tenants"`
}

type TenantSeed struct {
	ID      string       `yaml:"id"`
	Roles   []RoleSeed   `yaml:"roles"`
	Users   []UserSeed   `yaml:"users"`
	Metrics []MetricSeed `yaml:"metrics"`
}

type RoleSeed struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	DefaultLevel string `yaml:"default_level"`
	// EnsureDefaults backfills explicit grants at the default level for
	// every tracked field of every registered type.
	EnsureDefaults bool        `yaml:"ensure_defaults"`
	Grants         []GrantSeed `yaml:"grants"`
}

type GrantSeed struct {
	Model string `yaml:"model"`
	Field string `yaml:"field"`
	Level string `yaml:"level"`
	Rule  string `yaml:"rule"`
}

type UserSeed struct {
	UUID string `yaml:"uuid"`
	Role string `yaml:"role"`
}

type MetricSeed struct {
	Model       string `yaml:"model"`
	Action      string `yaml:"action"`
	DirectWrite int    `yaml:"direct_write_score"`
	Approval    int    `yaml:"approval_score"`
	Denial      int    `yaml:"denial_score"`
}

func LoadSeed(path string) (Seed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, err
	}
	return ParseSeed(b)
}

func ParseSeed(b []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(b, &seed); err != nil {
		return Seed{}, err
	}
	if seed.Version != 1 {
		return Seed{}, fmt.Errorf("seed: unsupported version %d", seed.Version)
	}
	if len(seed.Tenants) == 0 {
		return Seed{}, fmt.Errorf("seed: no tenants")
	}
	for _, tenant := range seed.Tenants {
		if tenant.ID == "" {
			return Seed{}, fmt.Errorf("seed: tenant without id")
		}
		roleIDs := map[string]struct{}{}
		for _, role := range tenant.Roles {
			if role.ID == "" || role.Name == "" {
				return Seed{}, fmt.Errorf("seed: tenant %s: role without id or name", tenant.ID)
			}
			if _, dup := roleIDs[role.ID]; dup {
				return Seed{}, fmt.Errorf("seed: tenant %s: duplicate role %s", tenant.ID, role.ID)
			}
			roleIDs[role.ID] = struct{}{}
			if _, err := types.ParsePermissionLevel(role.DefaultLevel); err != nil {
				return Seed{}, fmt.Errorf("seed: tenant %s: role %s: %w", tenant.ID, role.ID, err)
			}
			for _, grant := range role.Grants {
				if _, err := types.ParsePermissionLevel(grant.Level); err != nil {
					return Seed{}, fmt.Errorf("seed: tenant %s: role %s: grant %s.%s: %w",
						tenant.ID, role.ID, grant.Model, grant.Field, err)
				}
			}
		}
		for _, user := range tenant.Users {
			if user.UUID == "" {
				return Seed{}, fmt.Errorf("seed: tenant %s: user without uuid", tenant.ID)
			}
			if _, ok := roleIDs[user.Role]; !ok {
				return Seed{}, fmt.Errorf("seed: tenant %s: user %s references unknown role %s",
					tenant.ID, user.UUID, user.Role)
			}
		}
		for _, metric := range tenant.Metrics {
			if !types.ValidAuditAction(types.AuditAction(metric.Action)) {
				return Seed{}, fmt.Errorf("seed: tenant %s: metric %s: invalid action %q",
					tenant.ID, metric.Model, metric.Action)
			}
		}
	}
	return seed, nil
}

// Apply writes the seed into the store. Grants are validated against the
// registry, so an unknown model or field fails the whole apply. storeFor
// returns the tenant-scoped store for one tenant id.
func Apply(ctx context.Context, seed Seed, reg *registry.Registry, storeFor func(tenantID string) ports.Store) error {
	for _, tenant := range seed.Tenants {
		store := storeFor(tenant.ID)
		admin := services.NewAdminService(store, reg)

		err := store.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
			txAdmin := services.NewAdminService(tx, reg)
			for _, roleSeed := range tenant.Roles {
				level, err := types.ParsePermissionLevel(roleSeed.DefaultLevel)
				if err != nil {
					return err
				}
				role := types.Role{
					ID:           roleSeed.ID,
					TenantID:     tenant.ID,
					Name:         roleSeed.Name,
					DefaultLevel: level,
				}
				if err := txAdmin.UpsertRole(ctx, role); err != nil {
					return err
				}
				for _, grantSeed := range roleSeed.Grants {
					grantLevel, err := types.ParsePermissionLevel(grantSeed.Level)
					if err != nil {
						return err
					}
					perm := types.FieldPermission{
						TenantID: tenant.ID,
						RoleID:   roleSeed.ID,
						Model:    grantSeed.Model,
						Field:    grantSeed.Field,
						Level:    grantLevel,
					}
					if grantSeed.Rule != "" {
						rule := grantSeed.Rule
						perm.RuleExpr = &rule
					}
					if err := txAdmin.UpsertPermission(ctx, perm); err != nil {
						return fmt.Errorf("seed: tenant %s: role %s: %w", tenant.ID, roleSeed.ID, err)
					}
				}
			}
			for _, user := range tenant.Users {
				if err := tx.Permissions().AssignRole(ctx, tenant.ID, user.UUID, user.Role); err != nil {
					return err
				}
			}
			for _, metric := range tenant.Metrics {
				m := types.ReputationMetric{
					TenantID:         tenant.ID,
					Model:            metric.Model,
					Action:           types.AuditAction(metric.Action),
					DirectWriteScore: metric.DirectWrite,
					ApprovalScore:    metric.Approval,
					DenialScore:      metric.Denial,
				}
				if err := tx.Reputation().UpsertMetric(ctx, m); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, roleSeed := range tenant.Roles {
			if !roleSeed.EnsureDefaults {
				continue
			}
			if err := admin.EnsureDefaultPermissions(ctx, tenant.ID, roleSeed.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
