package types

import "fmt"

// PermissionLevel is totally ordered: each level implies the capabilities of
// every lower one.
type PermissionLevel int

const (
	PermNone           PermissionLevel = 0
	PermReadOnly       PermissionLevel = 1
	PermWriteWithAudit PermissionLevel = 2
	PermWriteDirectly  PermissionLevel = 3
)

func (l PermissionLevel) AllowsReads() bool {
	return l >= PermReadOnly
}

func (l PermissionLevel) AllowsWrites() bool {
	return l >= PermWriteWithAudit
}

func (l PermissionLevel) Valid() bool {
	return l >= PermNone && l <= PermWriteDirectly
}

func (l PermissionLevel) String() string {
	switch l {
	case PermNone:
		return "none"
	case PermReadOnly:
		return "read_only"
	case PermWriteWithAudit:
		return "write_with_audit"
	case PermWriteDirectly:
		return "write_directly"
	default:
		return fmt.Sprintf("permission_level(%d)", int(l))
	}
}

func ParsePermissionLevel(s string) (PermissionLevel, error) {
	switch s {
	case "none":
		return PermNone, nil
	case "read_only":
		return PermReadOnly, nil
	case "write_with_audit":
		return PermWriteWithAudit, nil
	case "write_directly":
		return PermWriteDirectly, nil
	default:
		return PermNone, fmt.Errorf("types: invalid permission level %q", s)
	}
}

// RoleAdministrator is the per-tenant role name that may delete any record
// regardless of explicit field grants.
const RoleAdministrator = "administrator"

type Role struct {
	ID           string
	TenantID     string
	Name         string
	DefaultLevel PermissionLevel
}

func (r Role) IsAdministrator() bool {
	return r.Name == RoleAdministrator
}

// FieldPermission grants a role a permission level on one field of one
// registered model. At most one row exists per (tenant, role, model, field).
type FieldPermission struct {
	TenantID string
	RoleID   string
	Model    string
	Field    string
	Level    PermissionLevel
	// RuleExpr is an optional CEL condition evaluated against the attempted
	// change; when it evaluates false the grant is ignored and the role
	// default level applies.
	RuleExpr *string
}

type User struct {
	UUID string
	Name string
}
