package services

import (
	"context"

	"github.com/averyhale/fieldledger/modules/governance/domain/ports"
	"github.com/averyhale/fieldledger/modules/governance/domain/registry"
	"github.com/averyhale/fieldledger/modules/governance/domain/types"
)

// AdminService maintains roles and field grants. Every grant is validated
// against the registry before it is written.
type AdminService struct {
	store ports.Store
	reg   *registry.Registry
}

func NewAdminService(store ports.Store, reg *registry.Registry) *AdminService {
	return &AdminService{store: store, reg: reg}
}

func (s *AdminService) UpsertRole(ctx context.Context, role types.Role) error {
	if !role.DefaultLevel.Valid() {
		return &types.ConfigError{Reason: "invalid default permission level for role " + role.Name}
	}
	return s.store.Permissions().UpsertRole(ctx, role)
}

func (s *AdminService) UpsertPermission(ctx context.Context, perm types.FieldPermission) error {
	if err := ValidateGrant(s.reg, perm); err != nil {
		return err
	}
	return s.store.Permissions().UpsertPermission(ctx, perm)
}

// EnsureDefaultPermissions backfills an explicit grant at the role's
// default level for every tracked field of every registered type, plus the
// identity field. Existing grants are left untouched.
func (s *AdminService) EnsureDefaultPermissions(ctx context.Context, tenantID string, roleID string) error {
	role, err := s.store.Permissions().Role(ctx, tenantID, roleID)
	if err != nil {
		return err
	}
	return s.store.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		for _, model := range s.reg.DependencyOrder() {
			meta, err := s.reg.Resolve(model)
			if err != nil {
				return err
			}
			existing, err := tx.Permissions().PermissionsFor(ctx, tenantID, role.ID, model)
			if err != nil {
				return err
			}
			have := make(map[string]struct{}, len(existing))
			for _, perm := range existing {
				have[perm.Field] = struct{}{}
			}
			fields := append(meta.TrackedFields(), types.FieldIdentity)
			for _, field := range fields {
				if _, ok := have[field]; ok {
					continue
				}
				perm := types.FieldPermission{
					TenantID: tenantID,
					RoleID:   role.ID,
					Model:    model,
					Field:    field,
					Level:    role.DefaultLevel,
				}
				if err := tx.Permissions().UpsertPermission(ctx, perm); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
