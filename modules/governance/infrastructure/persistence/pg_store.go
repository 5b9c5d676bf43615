package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/averyhale/fieldledger/modules/governance/domain/ports"
	"github.com/averyhale/fieldledger/modules/governance/domain/types"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type beginner interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGStore is the Postgres ports.Store. It is scoped to one tenant so that
// every transaction it opens can pin app.current_tenant before touching
// governance tables.
type PGStore struct {
	db       beginner
	tenantID string
	inTx     bool
}

func NewPGStore(db beginner, tenantID string) *PGStore {
	return &PGStore{db: db, tenantID: tenantID}
}

func (s *PGStore) Audits() ports.AuditStore           { return pgAuditStore{s} }
func (s *PGStore) Records() ports.RecordStore         { return pgRecordStore{s} }
func (s *PGStore) Permissions() ports.PermissionStore { return pgPermissionStore{s} }
func (s *PGStore) Reputation() ports.ReputationStore  { return pgReputationStore{s} }

func (s *PGStore) InTx(ctx context.Context, fn func(ctx context.Context, tx ports.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, s.tenantID); err != nil {
		return err
	}

	if err := fn(ctx, &PGStore{db: tx, tenantID: s.tenantID, inTx: true}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const auditColumns = `
	  id::text,
	  tenant_id::text,
	  model,
	  model_id,
	  field,
	  previous_value,
	  current_value,
	  user_uuid::text,
	  action,
	  requires_auth,
	  ref_id::text,
	  created,
	  updated`

func scanAudit(row pgx.Row) (types.Audit, error) {
	var a types.Audit
	var action string
	err := row.Scan(&a.ID, &a.TenantID, &a.Model, &a.ModelID, &a.Field,
		&a.PreviousValue, &a.CurrentValue, &a.UserUUID, &action,
		&a.RequiresAuth, &a.RefID, &a.Created, &a.Updated)
	if err != nil {
		return types.Audit{}, err
	}
	a.Action = types.AuditAction(action)
	return a, nil
}

func scanAudits(rows pgx.Rows) ([]types.Audit, error) {
	defer rows.Close()
	var out []types.Audit
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type pgAuditStore struct{ s *PGStore }

func (a pgAuditStore) Append(ctx context.Context, audit types.Audit) error {
	_, err := a.s.db.Exec(ctx, `
	INSERT INTO governance.audits (
	  id, tenant_id, model, model_id, field, previous_value, current_value,
	  user_uuid, action, requires_auth, ref_id, created, updated
	) VALUES (
	  $1::uuid, $2::uuid, $3, $4, $5, $6, $7,
	  $8::uuid, $9, $10, $11::uuid, $12, $13
	)
	`, audit.ID, audit.TenantID, audit.Model, audit.ModelID, audit.Field,
		audit.PreviousValue, audit.CurrentValue, audit.UserUUID, string(audit.Action),
		audit.RequiresAuth, audit.RefID, audit.Created, audit.Updated)
	return err
}

func (a pgAuditStore) Get(ctx context.Context, tenantID string, auditID string) (types.Audit, error) {
	audit, err := scanAudit(a.s.db.QueryRow(ctx, `
	SELECT`+auditColumns+`
	FROM governance.audits
	WHERE tenant_id = $1::uuid AND id = $2::uuid
	`, tenantID, auditID))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Audit{}, ports.ErrAuditNotFound
	}
	return audit, err
}

func (a pgAuditStore) SetRef(ctx context.Context, tenantID string, auditID string, refID string) error {
	tag, err := a.s.db.Exec(ctx, `
	UPDATE governance.audits
	SET ref_id = $3::uuid, updated = now()
	WHERE tenant_id = $1::uuid AND id = $2::uuid AND ref_id IS NULL
	`, tenantID, auditID, refID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := a.Get(ctx, tenantID, auditID); err != nil {
		return err
	}
	return ports.ErrAlreadyResolved
}

func (a pgAuditStore) ClearRef(ctx context.Context, tenantID string, auditID string) error {
	tag, err := a.s.db.Exec(ctx, `
	UPDATE governance.audits
	SET ref_id = NULL, updated = now()
	WHERE tenant_id = $1::uuid AND id = $2::uuid
	`, tenantID, auditID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrAuditNotFound
	}
	return nil
}

func (a pgAuditStore) ListForRecord(ctx context.Context, tenantID string, model string, modelID int64) ([]types.Audit, error) {
	rows, err := a.s.db.Query(ctx, `
	SELECT`+auditColumns+`
	FROM governance.audits
	WHERE tenant_id = $1::uuid AND model = $2 AND model_id = $3
	ORDER BY created ASC, id ASC
	`, tenantID, model, modelID)
	if err != nil {
		return nil, err
	}
	return scanAudits(rows)
}

func (a pgAuditStore) Pending(ctx context.Context, tenantID string) ([]types.Audit, error) {
	rows, err := a.s.db.Query(ctx, `
	SELECT`+auditColumns+`
	FROM governance.audits
	WHERE tenant_id = $1::uuid AND requires_auth AND ref_id IS NULL
	ORDER BY created ASC, id ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	return scanAudits(rows)
}

func (a pgAuditStore) Siblings(ctx context.Context, tenantID string, identity types.Audit, approvedOnly bool) ([]types.Audit, error) {
	query := `
	SELECT` + auditColumns + `
	FROM governance.audits
	WHERE tenant_id = $1::uuid AND model = $2 AND model_id = $3
	  AND id <> $4::uuid AND action = 'INSERT'`
	if approvedOnly {
		query += `
	  AND ref_id IN (
	    SELECT id FROM governance.audits
	    WHERE tenant_id = $1::uuid AND action = 'PENDING_APPROVE'
	  )`
	}
	query += `
	ORDER BY created ASC, id ASC`

	rows, err := a.s.db.Query(ctx, query, tenantID, identity.Model, identity.ModelID, identity.ID)
	if err != nil {
		return nil, err
	}
	return scanAudits(rows)
}

func (a pgAuditStore) LatestForField(ctx context.Context, tenantID string, model string, modelID int64, field string) (types.Audit, error) {
	audit, err := scanAudit(a.s.db.QueryRow(ctx, `
	SELECT`+auditColumns+`
	FROM governance.audits
	WHERE tenant_id = $1::uuid AND model = $2 AND model_id = $3
	  AND field = $4 AND action IN ('INSERT', 'UPDATE')
	ORDER BY created DESC, id DESC
	LIMIT 1
	`, tenantID, model, modelID, field))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Audit{}, ports.ErrAuditNotFound
	}
	return audit, err
}

type pgRecordStore struct{ s *PGStore }

func (r pgRecordStore) Insert(ctx context.Context, tenantID string, model string, id int64, values map[string]string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	_, err = r.s.db.Exec(ctx, `
	INSERT INTO governance.records (tenant_id, model, id, data)
	VALUES ($1::uuid, $2, $3, $4::jsonb)
	`, tenantID, model, id, data)
	return err
}

func (r pgRecordStore) Update(ctx context.Context, tenantID string, model string, id int64, values map[string]string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	tag, err := r.s.db.Exec(ctx, `
	UPDATE governance.records
	SET data = $4::jsonb
	WHERE tenant_id = $1::uuid AND model = $2 AND id = $3
	`, tenantID, model, id, data)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrRecordNotFound
	}
	return nil
}

func (r pgRecordStore) Delete(ctx context.Context, tenantID string, model string, id int64) error {
	tag, err := r.s.db.Exec(ctx, `
	DELETE FROM governance.records
	WHERE tenant_id = $1::uuid AND model = $2 AND id = $3
	`, tenantID, model, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrRecordNotFound
	}
	return nil
}

func (r pgRecordStore) Get(ctx context.Context, tenantID string, model string, id int64) (map[string]string, error) {
	var data []byte
	err := r.s.db.QueryRow(ctx, `
	SELECT data
	FROM governance.records
	WHERE tenant_id = $1::uuid AND model = $2 AND id = $3
	`, tenantID, model, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ports.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("persistence: decode %s %d: %w", model, id, err)
	}
	return values, nil
}

func (r pgRecordStore) Exists(ctx context.Context, tenantID string, model string, id int64) (bool, error) {
	var exists bool
	err := r.s.db.QueryRow(ctx, `
	SELECT EXISTS (
	  SELECT 1 FROM governance.records
	  WHERE tenant_id = $1::uuid AND model = $2 AND id = $3
	)
	`, tenantID, model, id).Scan(&exists)
	return exists, err
}

func (r pgRecordStore) NextID(ctx context.Context) (int64, error) {
	var id int64
	err := r.s.db.QueryRow(ctx, `SELECT nextval('governance.record_ids');`).Scan(&id)
	return id, err
}

type pgPermissionStore struct{ s *PGStore }

func scanRole(row pgx.Row) (types.Role, error) {
	var role types.Role
	var level int
	if err := row.Scan(&role.ID, &role.TenantID, &role.Name, &level); err != nil {
		return types.Role{}, err
	}
	role.DefaultLevel = types.PermissionLevel(level)
	return role, nil
}

func (p pgPermissionStore) RoleOf(ctx context.Context, tenantID string, userUUID string) (types.Role, error) {
	role, err := scanRole(p.s.db.QueryRow(ctx, `
	SELECT r.id, r.tenant_id::text, r.name, r.default_level
	FROM governance.user_roles ur
	JOIN governance.roles r ON r.tenant_id = ur.tenant_id AND r.id = ur.role_id
	WHERE ur.tenant_id = $1::uuid AND ur.user_uuid = $2::uuid
	`, tenantID, userUUID))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Role{}, ports.ErrRoleNotFound
	}
	return role, err
}

func (p pgPermissionStore) Role(ctx context.Context, tenantID string, roleID string) (types.Role, error) {
	role, err := scanRole(p.s.db.QueryRow(ctx, `
	SELECT id, tenant_id::text, name, default_level
	FROM governance.roles
	WHERE tenant_id = $1::uuid AND id = $2
	`, tenantID, roleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Role{}, ports.ErrRoleNotFound
	}
	return role, err
}

func (p pgPermissionStore) ListRoles(ctx context.Context, tenantID string) ([]types.Role, error) {
	rows, err := p.s.db.Query(ctx, `
	SELECT id, tenant_id::text, name, default_level
	FROM governance.roles
	WHERE tenant_id = $1::uuid
	ORDER BY id ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (p pgPermissionStore) PermissionsFor(ctx context.Context, tenantID string, roleID string, model string) ([]types.FieldPermission, error) {
	rows, err := p.s.db.Query(ctx, `
	SELECT tenant_id::text, role_id, model, field, level, rule_expr
	FROM governance.field_permissions
	WHERE tenant_id = $1::uuid AND role_id = $2 AND model = $3
	ORDER BY field ASC
	`, tenantID, roleID, model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.FieldPermission
	for rows.Next() {
		var perm types.FieldPermission
		var level int
		if err := rows.Scan(&perm.TenantID, &perm.RoleID, &perm.Model, &perm.Field, &level, &perm.RuleExpr); err != nil {
			return nil, err
		}
		perm.Level = types.PermissionLevel(level)
		out = append(out, perm)
	}
	return out, rows.Err()
}

func (p pgPermissionStore) UpsertRole(ctx context.Context, role types.Role) error {
	_, err := p.s.db.Exec(ctx, `
	INSERT INTO governance.roles (tenant_id, id, name, default_level)
	VALUES ($1::uuid, $2, $3, $4)
	ON CONFLICT (tenant_id, id)
	DO UPDATE SET name = EXCLUDED.name, default_level = EXCLUDED.default_level
	`, role.TenantID, role.ID, role.Name, int(role.DefaultLevel))
	return err
}

func (p pgPermissionStore) UpsertPermission(ctx context.Context, perm types.FieldPermission) error {
	_, err := p.s.db.Exec(ctx, `
	INSERT INTO governance.field_permissions (tenant_id, role_id, model, field, level, rule_expr)
	VALUES ($1::uuid, $2, $3, $4, $5, $6)
	ON CONFLICT (tenant_id, role_id, model, field)
	DO UPDATE SET level = EXCLUDED.level, rule_expr = EXCLUDED.rule_expr
	`, perm.TenantID, perm.RoleID, perm.Model, perm.Field, int(perm.Level), perm.RuleExpr)
	return err
}

func (p pgPermissionStore) AssignRole(ctx context.Context, tenantID string, userUUID string, roleID string) error {
	if _, err := p.Role(ctx, tenantID, roleID); err != nil {
		return err
	}
	_, err := p.s.db.Exec(ctx, `
	INSERT INTO governance.user_roles (tenant_id, user_uuid, role_id)
	VALUES ($1::uuid, $2::uuid, $3)
	ON CONFLICT (tenant_id, user_uuid)
	DO UPDATE SET role_id = EXCLUDED.role_id
	`, tenantID, userUUID, roleID)
	return err
}

type pgReputationStore struct{ s *PGStore }

func (r pgReputationStore) MetricFor(ctx context.Context, tenantID string, model string, action types.AuditAction) (types.ReputationMetric, error) {
	var m types.ReputationMetric
	var actionName string
	err := r.s.db.QueryRow(ctx, `
	SELECT tenant_id::text, model, action, direct_write_score, approval_score, denial_score
	FROM governance.reputation_metrics
	WHERE tenant_id = $1::uuid AND model = $2 AND action = $3
	`, tenantID, model, string(action)).Scan(&m.TenantID, &m.Model, &actionName,
		&m.DirectWriteScore, &m.ApprovalScore, &m.DenialScore)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.ReputationMetric{}, ports.ErrMetricNotFound
	}
	if err != nil {
		return types.ReputationMetric{}, err
	}
	m.Action = types.AuditAction(actionName)
	return m, nil
}

func (r pgReputationStore) UpsertMetric(ctx context.Context, metric types.ReputationMetric) error {
	_, err := r.s.db.Exec(ctx, `
	INSERT INTO governance.reputation_metrics (
	  tenant_id, model, action, direct_write_score, approval_score, denial_score
	) VALUES ($1::uuid, $2, $3, $4, $5, $6)
	ON CONFLICT (tenant_id, model, action)
	DO UPDATE SET
	  direct_write_score = EXCLUDED.direct_write_score,
	  approval_score = EXCLUDED.approval_score,
	  denial_score = EXCLUDED.denial_score
	`, metric.TenantID, metric.Model, string(metric.Action),
		metric.DirectWriteScore, metric.ApprovalScore, metric.DenialScore)
	return err
}

func (r pgReputationStore) AdjustUser(ctx context.Context, tenantID string, userUUID string, delta int) (int, error) {
	var score int
	err := r.s.db.QueryRow(ctx, `
	INSERT INTO governance.reputation_scores (tenant_id, user_uuid, score)
	VALUES ($1::uuid, $2::uuid, GREATEST(0, $3))
	ON CONFLICT (tenant_id, user_uuid)
	DO UPDATE SET score = GREATEST(0, governance.reputation_scores.score + $3)
	RETURNING score
	`, tenantID, userUUID, delta).Scan(&score)
	return score, err
}

func (r pgReputationStore) UserScore(ctx context.Context, tenantID string, userUUID string) (int, error) {
	var score int
	err := r.s.db.QueryRow(ctx, `
	SELECT score
	FROM governance.reputation_scores
	WHERE tenant_id = $1::uuid AND user_uuid = $2::uuid
	`, tenantID, userUUID).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return score, err
}
