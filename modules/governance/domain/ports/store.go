package ports

import (
	"context"
	"errors"

	"github.com/averyhale/fieldledger/modules/governance/domain/types"
)

var (
	ErrAuditNotFound   = errors.New("audit_not_found")
	ErrRecordNotFound  = errors.New("record_not_found")
	ErrRoleNotFound    = errors.New("role_not_found")
	ErrMetricNotFound  = errors.New("reputation_metric_not_found")
	// ErrAlreadyResolved rejects a second resolution of an audit whose ref
	// is already set.
	ErrAlreadyResolved = errors.New("audit_already_resolved")
)

type AuditStore interface {
	Append(ctx context.Context, audit types.Audit) error
	Get(ctx context.Context, tenantID string, auditID string) (types.Audit, error)
	// SetRef links an audit to its review audit. The link is set at most
	// once; a second call returns ErrAlreadyResolved.
	SetRef(ctx context.Context, tenantID string, auditID string, refID string) error
	// ClearRef unlinks an audit so a rejection cascade can re-resolve it.
	ClearRef(ctx context.Context, tenantID string, auditID string) error
	ListForRecord(ctx context.Context, tenantID string, model string, modelID int64) ([]types.Audit, error)
	Pending(ctx context.Context, tenantID string) ([]types.Audit, error)
	// Siblings returns the other Insert audits of the same pending-insert
	// batch as the given identity audit.
	Siblings(ctx context.Context, tenantID string, identity types.Audit, approvedOnly bool) ([]types.Audit, error)
	LatestForField(ctx context.Context, tenantID string, model string, modelID int64, field string) (types.Audit, error)
}

type RecordStore interface {
	Insert(ctx context.Context, tenantID string, model string, id int64, values map[string]string) error
	Update(ctx context.Context, tenantID string, model string, id int64, values map[string]string) error
	Delete(ctx context.Context, tenantID string, model string, id int64) error
	Get(ctx context.Context, tenantID string, model string, id int64) (map[string]string, error)
	Exists(ctx context.Context, tenantID string, model string, id int64) (bool, error)
	// NextID draws the next value from the identifier sequence shared by
	// normal creation and pending-insert reservation, so a reserved
	// identifier can never collide with a normally-created record.
	NextID(ctx context.Context) (int64, error)
}

type PermissionStore interface {
	RoleOf(ctx context.Context, tenantID string, userUUID string) (types.Role, error)
	Role(ctx context.Context, tenantID string, roleID string) (types.Role, error)
	ListRoles(ctx context.Context, tenantID string) ([]types.Role, error)
	PermissionsFor(ctx context.Context, tenantID string, roleID string, model string) ([]types.FieldPermission, error)
	UpsertRole(ctx context.Context, role types.Role) error
	UpsertPermission(ctx context.Context, perm types.FieldPermission) error
	AssignRole(ctx context.Context, tenantID string, userUUID string, roleID string) error
}

type ReputationStore interface {
	MetricFor(ctx context.Context, tenantID string, model string, action types.AuditAction) (types.ReputationMetric, error)
	UpsertMetric(ctx context.Context, metric types.ReputationMetric) error
	// AdjustUser adds delta to the user's reputation, clamped at zero, and
	// returns the new score.
	AdjustUser(ctx context.Context, tenantID string, userUUID string, delta int) (int, error)
	UserScore(ctx context.Context, tenantID string, userUUID string) (int, error)
}

// Store aggregates the governance stores behind one transaction boundary.
type Store interface {
	Audits() AuditStore
	Records() RecordStore
	Permissions() PermissionStore
	Reputation() ReputationStore
	// InTx runs fn atomically: every append, reservation, and record
	// mutation inside commits together or not at all. A nested InTx joins
	// the open transaction.
	InTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}
