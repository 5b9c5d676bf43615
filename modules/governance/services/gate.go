package services

import (
	"context"

	"github.com/averyhale/fieldledger/modules/governance/domain/ports"
	"github.com/averyhale/fieldledger/modules/governance/domain/record"
	"github.com/averyhale/fieldledger/modules/governance/domain/registry"
	"github.com/averyhale/fieldledger/modules/governance/domain/types"
)

const (
	reasonFieldNotWritable   = "field is not writable for the user's role"
	reasonCreateNotPermitted = "missing writable grant on a required-for-create field"
	reasonDeleteNotPermitted = "missing write permission on a tracked field"
	reasonReviewNotPermitted = "review resolution requires write_directly"
)

// Gate evaluates field-level permissions for one user against one record
// or audit. It is pure lookup over the permission store plus optional CEL
// grant conditions; it never mutates state.
type Gate struct {
	store ports.Store
	reg   *registry.Registry
	rules *RuleEvaluator
}

func NewGate(store ports.Store, reg *registry.Registry, rules *RuleEvaluator) *Gate {
	if rules == nil {
		rules = NewRuleEvaluator()
	}
	return &Gate{store: store, reg: reg, rules: rules}
}

func (g *Gate) roleAndPerms(ctx context.Context, tenantID, userUUID, model string) (types.Role, []types.FieldPermission, error) {
	role, err := g.store.Permissions().RoleOf(ctx, tenantID, userUUID)
	if err != nil {
		return types.Role{}, nil, err
	}
	perms, err := g.store.Permissions().PermissionsFor(ctx, tenantID, role.ID, model)
	if err != nil {
		return types.Role{}, nil, err
	}
	return role, perms, nil
}

// effectiveLevel resolves one field's permission level: the explicit grant
// when one exists (gated by its CEL condition when a change is being
// evaluated), otherwise the role's default level.
func (g *Gate) effectiveLevel(role types.Role, perms []types.FieldPermission, field string, change *record.Change) (types.PermissionLevel, error) {
	for _, perm := range perms {
		if perm.Field != field {
			continue
		}
		if perm.RuleExpr != nil && change != nil {
			allowed, err := g.rules.Allow(*perm.RuleExpr, changeActivation(field, change))
			if err != nil {
				return types.PermNone, err
			}
			if !allowed {
				return role.DefaultLevel, nil
			}
		}
		return perm.Level, nil
	}
	return role.DefaultLevel, nil
}

// EffectiveLevel is the external form of effectiveLevel; it validates the
// model and field against the registry first.
func (g *Gate) EffectiveLevel(ctx context.Context, tenantID, userUUID, model, field string, change *record.Change) (types.PermissionLevel, error) {
	meta, err := g.reg.Resolve(model)
	if err != nil {
		return types.PermNone, err
	}
	if !grantableField(g.reg, meta, field) {
		return types.PermNone, &types.ConfigError{Model: model, Field: field, Reason: "field is not tracked"}
	}
	role, perms, err := g.roleAndPerms(ctx, tenantID, userUUID, model)
	if err != nil {
		return types.PermNone, err
	}
	return g.effectiveLevel(role, perms, field, change)
}

// WritableFields returns the tracked fields the user may write on the
// record's type, at write_with_audit or better, or write_directly only
// when directOnly is set.
func (g *Gate) WritableFields(ctx context.Context, userUUID string, rec *record.Record, directOnly bool) (map[string]struct{}, error) {
	role, perms, err := g.roleAndPerms(ctx, rec.TenantID(), userUUID, rec.TypeName())
	if err != nil {
		return nil, err
	}
	out := map[string]struct{}{}
	for _, field := range rec.TrackedFields() {
		level, err := g.effectiveLevel(role, perms, field, nil)
		if err != nil {
			return nil, err
		}
		if directOnly {
			if level == types.PermWriteDirectly {
				out[field] = struct{}{}
			}
		} else if level.AllowsWrites() {
			out[field] = struct{}{}
		}
	}
	return out, nil
}

// DiffLevels resolves one rule-gated effective level per diff field. The
// save pipeline branches on exactly these levels, so a change falling
// outside a grant's condition drops to the role default everywhere at
// once rather than per concern.
func (g *Gate) DiffLevels(ctx context.Context, userUUID string, rec *record.Record, diff map[string]record.Change) (map[string]types.PermissionLevel, error) {
	role, perms, err := g.roleAndPerms(ctx, rec.TenantID(), userUUID, rec.TypeName())
	if err != nil {
		return nil, err
	}
	out := make(map[string]types.PermissionLevel, len(diff))
	for field := range diff {
		change := diff[field]
		level, err := g.effectiveLevel(role, perms, field, &change)
		if err != nil {
			return nil, err
		}
		out[field] = level
	}
	return out, nil
}

// CanCreate reports whether every required-for-create field carries at
// least write_with_audit (write_directly when directOnly).
func (g *Gate) CanCreate(ctx context.Context, userUUID string, rec *record.Record, directOnly bool) (bool, error) {
	writable, err := g.WritableFields(ctx, userUUID, rec, directOnly)
	if err != nil {
		return false, err
	}
	for _, field := range rec.RequiredForCreate() {
		if _, ok := writable[field]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// CanDelete reports whether the user holds the tenant's administrator role
// or a write permission on every tracked field of the record.
func (g *Gate) CanDelete(ctx context.Context, userUUID string, rec *record.Record) (bool, error) {
	role, err := g.store.Permissions().RoleOf(ctx, rec.TenantID(), userUUID)
	if err != nil {
		return false, err
	}
	if role.IsAdministrator() {
		return true, nil
	}
	writable, err := g.WritableFields(ctx, userUUID, rec, false)
	if err != nil {
		return false, err
	}
	for _, field := range rec.TrackedFields() {
		if _, ok := writable[field]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// VisibleFields returns the tracked fields the user may read on the
// record's type.
func (g *Gate) VisibleFields(ctx context.Context, userUUID string, rec *record.Record) ([]string, error) {
	return g.fieldsAtLeast(ctx, userUUID, rec, types.PermReadOnly)
}

// EditableFields returns the tracked fields the user may write on the
// record's type.
func (g *Gate) EditableFields(ctx context.Context, userUUID string, rec *record.Record) ([]string, error) {
	return g.fieldsAtLeast(ctx, userUUID, rec, types.PermWriteWithAudit)
}

func (g *Gate) fieldsAtLeast(ctx context.Context, userUUID string, rec *record.Record, min types.PermissionLevel) ([]string, error) {
	role, perms, err := g.roleAndPerms(ctx, rec.TenantID(), userUUID, rec.TypeName())
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, field := range rec.TrackedFields() {
		level, err := g.effectiveLevel(role, perms, field, nil)
		if err != nil {
			return nil, err
		}
		if level >= min {
			out = append(out, field)
		}
	}
	return out, nil
}

// MaskUnauthorized nulls every field the user may not read. Masking is
// one-way: the record refuses mutation afterwards.
func (g *Gate) MaskUnauthorized(ctx context.Context, userUUID string, rec *record.Record) error {
	visible, err := g.VisibleFields(ctx, userUUID, rec)
	if err != nil {
		return err
	}
	set := make(map[string]struct{}, len(visible))
	for _, field := range visible {
		set[field] = struct{}{}
	}
	rec.MaskExcept(set)
	return nil
}

// VerifyReviewer checks the precondition for resolving an audit: the
// reviewer holds write_directly on the audited field. For a collection
// type the check resolves against the owning model's virtual field.
func (g *Gate) VerifyReviewer(ctx context.Context, tenantID, reviewerUUID string, audit types.Audit) error {
	model := audit.Model
	field := audit.FieldName()
	if field == "" {
		field = types.FieldIdentity
	}

	meta, err := g.reg.Resolve(model)
	if err != nil {
		return err
	}
	if meta.OwnerModel != "" {
		model = meta.OwnerModel
		field = meta.OwnerField
	}

	role, perms, err := g.roleAndPerms(ctx, tenantID, reviewerUUID, model)
	if err != nil {
		return err
	}
	level, err := g.effectiveLevel(role, perms, field, nil)
	if err != nil {
		return err
	}
	if level != types.PermWriteDirectly {
		return types.NewAuthorizeError(reviewerUUID, model, field, reasonReviewNotPermitted)
	}
	return nil
}

// ValidateGrant rejects a permission row naming an unregistered model or a
// field the model neither tracks nor exposes as the identity field or a
// collection's virtual field. Misconfiguration fails at write time, never
// silently.
func ValidateGrant(reg *registry.Registry, perm types.FieldPermission) error {
	meta, err := reg.Resolve(perm.Model)
	if err != nil {
		return err
	}
	if !perm.Level.Valid() {
		return &types.ConfigError{Model: perm.Model, Field: perm.Field, Reason: "invalid permission level"}
	}
	if !grantableField(reg, meta, perm.Field) {
		return &types.ConfigError{Model: perm.Model, Field: perm.Field, Reason: "field does not exist on model"}
	}
	return nil
}

func grantableField(reg *registry.Registry, meta registry.Type, field string) bool {
	if field == types.FieldIdentity {
		return true
	}
	if _, ok := meta.Field(field); ok {
		return true
	}
	for _, virtual := range reg.VirtualFieldsOf(meta.Name) {
		if field == virtual {
			return true
		}
	}
	return false
}

func changeActivation(field string, change *record.Change) map[string]string {
	out := map[string]string{"field": field, "old": "", "new": ""}
	if change.Old != nil {
		out["old"] = *change.Old
	}
	if change.New != nil {
		out["new"] = *change.New
	}
	return out
}
