// Package memstore is an in-memory ports.Store. It backs service tests and
// keeps the same observable semantics as the Postgres store: a shared
// identifier sequence, set-once refs, and rollback of everything written
// inside a failed unit of work.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/averyhale/fieldledger/modules/governance/domain/ports"
	"github.com/averyhale/fieldledger/modules/governance/domain/types"
)

type state struct {
	audits     map[string]map[string]types.Audit
	auditOrder map[string][]string
	records    map[string]map[string]map[int64]map[string]string
	roles      map[string]map[string]types.Role
	userRoles  map[string]map[string]string
	perms      map[string]map[string]types.FieldPermission
	metrics    map[string]map[string]types.ReputationMetric
	reputation map[string]map[string]int
}

type Store struct {
	mu  sync.Mutex
	seq int64
	st  *state
}

func New() *Store {
	return &Store{st: newState()}
}

func newState() *state {
	return &state{
		audits:     map[string]map[string]types.Audit{},
		auditOrder: map[string][]string{},
		records:    map[string]map[string]map[int64]map[string]string{},
		roles:      map[string]map[string]types.Role{},
		userRoles:  map[string]map[string]string{},
		perms:      map[string]map[string]types.FieldPermission{},
		metrics:    map[string]map[string]types.ReputationMetric{},
		reputation: map[string]map[string]int{},
	}
}

func (s *Store) Audits() ports.AuditStore           { return auditStore{s} }
func (s *Store) Records() ports.RecordStore         { return recordStore{s} }
func (s *Store) Permissions() ports.PermissionStore { return permissionStore{s} }
func (s *Store) Reputation() ports.ReputationStore  { return reputationStore{s} }

// InTx snapshots the whole state and restores it when fn fails. The
// identifier sequence sits outside the snapshot: a value handed out inside
// a failed unit of work is never reissued, matching nextval. Isolation is
// cooperative: the tests that use this store drive one operation at a
// time.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ports.Store) error) error {
	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(ctx, s); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (st *state) clone() *state {
	out := newState()
	for tenant, m := range st.audits {
		c := make(map[string]types.Audit, len(m))
		for k, v := range m {
			c[k] = v
		}
		out.audits[tenant] = c
	}
	for tenant, ids := range st.auditOrder {
		out.auditOrder[tenant] = append([]string(nil), ids...)
	}
	for tenant, models := range st.records {
		cm := make(map[string]map[int64]map[string]string, len(models))
		for model, rows := range models {
			cr := make(map[int64]map[string]string, len(rows))
			for id, values := range rows {
				cv := make(map[string]string, len(values))
				for k, v := range values {
					cv[k] = v
				}
				cr[id] = cv
			}
			cm[model] = cr
		}
		out.records[tenant] = cm
	}
	for tenant, m := range st.roles {
		c := make(map[string]types.Role, len(m))
		for k, v := range m {
			c[k] = v
		}
		out.roles[tenant] = c
	}
	for tenant, m := range st.userRoles {
		c := make(map[string]string, len(m))
		for k, v := range m {
			c[k] = v
		}
		out.userRoles[tenant] = c
	}
	for tenant, m := range st.perms {
		c := make(map[string]types.FieldPermission, len(m))
		for k, v := range m {
			c[k] = v
		}
		out.perms[tenant] = c
	}
	for tenant, m := range st.metrics {
		c := make(map[string]types.ReputationMetric, len(m))
		for k, v := range m {
			c[k] = v
		}
		out.metrics[tenant] = c
	}
	for tenant, m := range st.reputation {
		c := make(map[string]int, len(m))
		for k, v := range m {
			c[k] = v
		}
		out.reputation[tenant] = c
	}
	return out
}

type auditStore struct{ s *Store }

func (a auditStore) Append(_ context.Context, audit types.Audit) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	st := a.s.st
	if st.audits[audit.TenantID] == nil {
		st.audits[audit.TenantID] = map[string]types.Audit{}
	}
	if _, dup := st.audits[audit.TenantID][audit.ID]; dup {
		return fmt.Errorf("memstore: duplicate audit id %s", audit.ID)
	}
	st.audits[audit.TenantID][audit.ID] = audit
	st.auditOrder[audit.TenantID] = append(st.auditOrder[audit.TenantID], audit.ID)
	return nil
}

func (a auditStore) Get(_ context.Context, tenantID string, auditID string) (types.Audit, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	audit, ok := a.s.st.audits[tenantID][auditID]
	if !ok {
		return types.Audit{}, ports.ErrAuditNotFound
	}
	return audit, nil
}

func (a auditStore) SetRef(_ context.Context, tenantID string, auditID string, refID string) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	audit, ok := a.s.st.audits[tenantID][auditID]
	if !ok {
		return ports.ErrAuditNotFound
	}
	if audit.RefID != nil {
		return ports.ErrAlreadyResolved
	}
	audit.RefID = &refID
	a.s.st.audits[tenantID][auditID] = audit
	return nil
}

func (a auditStore) ClearRef(_ context.Context, tenantID string, auditID string) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	audit, ok := a.s.st.audits[tenantID][auditID]
	if !ok {
		return ports.ErrAuditNotFound
	}
	audit.RefID = nil
	a.s.st.audits[tenantID][auditID] = audit
	return nil
}

func (a auditStore) ListForRecord(_ context.Context, tenantID string, model string, modelID int64) ([]types.Audit, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []types.Audit
	for _, id := range a.s.st.auditOrder[tenantID] {
		audit := a.s.st.audits[tenantID][id]
		if audit.Model == model && audit.ModelID == modelID {
			out = append(out, audit)
		}
	}
	return out, nil
}

func (a auditStore) Pending(_ context.Context, tenantID string) ([]types.Audit, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []types.Audit
	for _, id := range a.s.st.auditOrder[tenantID] {
		audit := a.s.st.audits[tenantID][id]
		if audit.IsPending() {
			out = append(out, audit)
		}
	}
	return out, nil
}

func (a auditStore) Siblings(_ context.Context, tenantID string, identity types.Audit, approvedOnly bool) ([]types.Audit, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []types.Audit
	for _, id := range a.s.st.auditOrder[tenantID] {
		audit := a.s.st.audits[tenantID][id]
		if audit.ID == identity.ID || audit.Model != identity.Model ||
			audit.ModelID != identity.ModelID || audit.Action != types.ActionInsert {
			continue
		}
		if approvedOnly {
			if audit.RefID == nil {
				continue
			}
			ref, ok := a.s.st.audits[tenantID][*audit.RefID]
			if !ok || ref.Action != types.ActionPendingApprove {
				continue
			}
		}
		out = append(out, audit)
	}
	return out, nil
}

func (a auditStore) LatestForField(_ context.Context, tenantID string, model string, modelID int64, field string) (types.Audit, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	order := a.s.st.auditOrder[tenantID]
	for i := len(order) - 1; i >= 0; i-- {
		audit := a.s.st.audits[tenantID][order[i]]
		if audit.Model != model || audit.ModelID != modelID || audit.FieldName() != field {
			continue
		}
		if audit.Action != types.ActionInsert && audit.Action != types.ActionUpdate {
			continue
		}
		return audit, nil
	}
	return types.Audit{}, ports.ErrAuditNotFound
}

type recordStore struct{ s *Store }

func (r recordStore) rows(tenantID, model string) map[int64]map[string]string {
	st := r.s.st
	if st.records[tenantID] == nil {
		st.records[tenantID] = map[string]map[int64]map[string]string{}
	}
	if st.records[tenantID][model] == nil {
		st.records[tenantID][model] = map[int64]map[string]string{}
	}
	return st.records[tenantID][model]
}

func (r recordStore) Insert(_ context.Context, tenantID string, model string, id int64, values map[string]string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rows := r.rows(tenantID, model)
	if _, dup := rows[id]; dup {
		return fmt.Errorf("memstore: %s %d already exists", model, id)
	}
	rows[id] = cloneValues(values)
	return nil
}

func (r recordStore) Update(_ context.Context, tenantID string, model string, id int64, values map[string]string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rows := r.rows(tenantID, model)
	if _, ok := rows[id]; !ok {
		return ports.ErrRecordNotFound
	}
	rows[id] = cloneValues(values)
	return nil
}

func (r recordStore) Delete(_ context.Context, tenantID string, model string, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rows := r.rows(tenantID, model)
	if _, ok := rows[id]; !ok {
		return ports.ErrRecordNotFound
	}
	delete(rows, id)
	return nil
}

func (r recordStore) Get(_ context.Context, tenantID string, model string, id int64) (map[string]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	values, ok := r.rows(tenantID, model)[id]
	if !ok {
		return nil, ports.ErrRecordNotFound
	}
	return cloneValues(values), nil
}

func (r recordStore) Exists(_ context.Context, tenantID string, model string, id int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.rows(tenantID, model)[id]
	return ok, nil
}

func (r recordStore) NextID(_ context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.seq++
	return r.s.seq, nil
}

type permissionStore struct{ s *Store }

func permKey(roleID, model, field string) string {
	return roleID + "|" + model + "|" + field
}

func (p permissionStore) RoleOf(_ context.Context, tenantID string, userUUID string) (types.Role, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	roleID, ok := p.s.st.userRoles[tenantID][userUUID]
	if !ok {
		return types.Role{}, ports.ErrRoleNotFound
	}
	role, ok := p.s.st.roles[tenantID][roleID]
	if !ok {
		return types.Role{}, ports.ErrRoleNotFound
	}
	return role, nil
}

func (p permissionStore) Role(_ context.Context, tenantID string, roleID string) (types.Role, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	role, ok := p.s.st.roles[tenantID][roleID]
	if !ok {
		return types.Role{}, ports.ErrRoleNotFound
	}
	return role, nil
}

func (p permissionStore) ListRoles(_ context.Context, tenantID string) ([]types.Role, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	out := make([]types.Role, 0, len(p.s.st.roles[tenantID]))
	for _, role := range p.s.st.roles[tenantID] {
		out = append(out, role)
	}
	return out, nil
}

func (p permissionStore) PermissionsFor(_ context.Context, tenantID string, roleID string, model string) ([]types.FieldPermission, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	var out []types.FieldPermission
	for _, perm := range p.s.st.perms[tenantID] {
		if perm.RoleID == roleID && perm.Model == model {
			out = append(out, perm)
		}
	}
	return out, nil
}

func (p permissionStore) UpsertRole(_ context.Context, role types.Role) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if p.s.st.roles[role.TenantID] == nil {
		p.s.st.roles[role.TenantID] = map[string]types.Role{}
	}
	p.s.st.roles[role.TenantID][role.ID] = role
	return nil
}

func (p permissionStore) UpsertPermission(_ context.Context, perm types.FieldPermission) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if p.s.st.perms[perm.TenantID] == nil {
		p.s.st.perms[perm.TenantID] = map[string]types.FieldPermission{}
	}
	p.s.st.perms[perm.TenantID][permKey(perm.RoleID, perm.Model, perm.Field)] = perm
	return nil
}

func (p permissionStore) AssignRole(_ context.Context, tenantID string, userUUID string, roleID string) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if _, ok := p.s.st.roles[tenantID][roleID]; !ok {
		return ports.ErrRoleNotFound
	}
	if p.s.st.userRoles[tenantID] == nil {
		p.s.st.userRoles[tenantID] = map[string]string{}
	}
	p.s.st.userRoles[tenantID][userUUID] = roleID
	return nil
}

type reputationStore struct{ s *Store }

func metricKey(model string, action types.AuditAction) string {
	return model + "|" + string(action)
}

func (r reputationStore) MetricFor(_ context.Context, tenantID string, model string, action types.AuditAction) (types.ReputationMetric, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	metric, ok := r.s.st.metrics[tenantID][metricKey(model, action)]
	if !ok {
		return types.ReputationMetric{}, ports.ErrMetricNotFound
	}
	return metric, nil
}

func (r reputationStore) UpsertMetric(_ context.Context, metric types.ReputationMetric) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.st.metrics[metric.TenantID] == nil {
		r.s.st.metrics[metric.TenantID] = map[string]types.ReputationMetric{}
	}
	r.s.st.metrics[metric.TenantID][metricKey(metric.Model, metric.Action)] = metric
	return nil
}

func (r reputationStore) AdjustUser(_ context.Context, tenantID string, userUUID string, delta int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.st.reputation[tenantID] == nil {
		r.s.st.reputation[tenantID] = map[string]int{}
	}
	score := r.s.st.reputation[tenantID][userUUID] + delta
	if score < 0 {
		score = 0
	}
	r.s.st.reputation[tenantID][userUUID] = score
	return score, nil
}

func (r reputationStore) UserScore(_ context.Context, tenantID string, userUUID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.st.reputation[tenantID][userUUID], nil
}

func cloneValues(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
