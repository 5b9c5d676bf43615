package services

import (
	"context"
	"testing"

	"github.com/averyhale/fieldledger/modules/governance/domain/fieldmeta"
	"github.com/averyhale/fieldledger/modules/governance/domain/ports"
	"github.com/averyhale/fieldledger/modules/governance/domain/record"
	"github.com/averyhale/fieldledger/modules/governance/domain/registry"
	"github.com/averyhale/fieldledger/modules/governance/domain/types"
	"github.com/averyhale/fieldledger/modules/governance/infrastructure/memstore"
)

const testTenant = "11111111-1111-4111-8111-111111111111"

var (
	adminUser    = types.User{UUID: "aaaaaaaa-0000-4000-8000-000000000001", Name: "Ada"}
	editorUser   = types.User{UUID: "bbbbbbbb-0000-4000-8000-000000000002", Name: "Eli"}
	observerUser = types.User{UUID: "cccccccc-0000-4000-8000-000000000003", Name: "Ossi"}
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(
		registry.Type{
			Name: "plot",
			Fields: []fieldmeta.Field{
				{Name: "address", Kind: fieldmeta.KindString, Required: true},
				{Name: "width", Kind: fieldmeta.KindFloat},
			},
		},
		registry.Type{
			Name:      "tree",
			DependsOn: []string{"plot"},
			Fields: []fieldmeta.Field{
				{Name: "plot", Kind: fieldmeta.KindRef, RefType: "plot", Required: true},
				{Name: "species", Kind: fieldmeta.KindString},
				{Name: "diameter", Kind: fieldmeta.KindFloat},
			},
		},
		registry.Type{
			Name:       "tree_photo",
			DependsOn:  []string{"tree"},
			OwnerModel: "tree",
			OwnerField: "photos",
			Fields: []fieldmeta.Field{
				{Name: "tree", Kind: fieldmeta.KindRef, RefType: "tree", Required: true},
				{Name: "image", Kind: fieldmeta.KindString, Required: true},
			},
		},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

type testEnv struct {
	store  *memstore.Store
	reg    *registry.Registry
	gate   *Gate
	save   *SaveService
	review *ReviewService
	admin  *AdminService
}

// newTestEnv seeds three roles: administrator (write_directly), editor
// (write_with_audit) and observer (read_only), one user in each.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memstore.New()
	reg := testRegistry(t)

	gate := NewGate(store, reg, nil)
	// The reputation hook is a no-op until a tenant configures metrics, so
	// wiring it here costs the non-reputation tests nothing.
	notifier := NewReputationService(store)
	env := &testEnv{
		store:  store,
		reg:    reg,
		gate:   gate,
		save:   NewSaveService(store, reg, gate, notifier),
		review: NewReviewService(store, reg, gate, notifier),
		admin:  NewAdminService(store, reg),
	}

	ctx := context.Background()
	roles := []struct {
		id    string
		name  string
		level types.PermissionLevel
		user  types.User
	}{
		{"role-admin", types.RoleAdministrator, types.PermWriteDirectly, adminUser},
		{"role-editor", "editor", types.PermWriteWithAudit, editorUser},
		{"role-observer", "observer", types.PermReadOnly, observerUser},
	}
	for _, r := range roles {
		err := store.Permissions().UpsertRole(ctx, types.Role{
			ID: r.id, TenantID: testTenant, Name: r.name, DefaultLevel: r.level,
		})
		if err != nil {
			t.Fatalf("seed role %s: %v", r.name, err)
		}
		if err := store.Permissions().AssignRole(ctx, testTenant, r.user.UUID, r.id); err != nil {
			t.Fatalf("assign role %s: %v", r.name, err)
		}
	}
	return env
}

func (e *testEnv) grant(t *testing.T, roleID, model, field string, level types.PermissionLevel, rule string) {
	t.Helper()
	perm := types.FieldPermission{
		TenantID: testTenant, RoleID: roleID, Model: model, Field: field, Level: level,
	}
	if rule != "" {
		perm.RuleExpr = &rule
	}
	if err := e.admin.UpsertPermission(context.Background(), perm); err != nil {
		t.Fatalf("grant %s.%s: %v", model, field, err)
	}
}

// createPlot writes a plot record directly as the administrator and
// returns it freshly loaded.
func (e *testEnv) createPlot(t *testing.T, address string) *record.Record {
	t.Helper()
	ctx := context.Background()
	meta, err := e.reg.Resolve("plot")
	if err != nil {
		t.Fatalf("resolve plot: %v", err)
	}
	rec := record.New(meta, testTenant)
	if err := rec.Set("address", address); err != nil {
		t.Fatalf("set address: %v", err)
	}
	if err := e.save.Save(ctx, adminUser, rec); err != nil {
		t.Fatalf("save plot: %v", err)
	}
	return e.loadRecord(t, "plot", rec.ID())
}

func (e *testEnv) loadRecord(t *testing.T, model string, id int64) *record.Record {
	t.Helper()
	meta, err := e.reg.Resolve(model)
	if err != nil {
		t.Fatalf("resolve %s: %v", model, err)
	}
	values, err := e.store.Records().Get(context.Background(), testTenant, model, id)
	if err != nil {
		t.Fatalf("load %s %d: %v", model, id, err)
	}
	return record.Existing(meta, testTenant, id, values)
}

func (e *testEnv) pending(t *testing.T) []types.Audit {
	t.Helper()
	audits, err := e.store.Audits().Pending(context.Background(), testTenant)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	return audits
}

func (e *testEnv) recordAudits(t *testing.T, model string, id int64) []types.Audit {
	t.Helper()
	audits, err := e.store.Audits().ListForRecord(context.Background(), testTenant, model, id)
	if err != nil {
		t.Fatalf("audits %s %d: %v", model, id, err)
	}
	return audits
}

func (e *testEnv) mustExist(t *testing.T, model string, id int64, want bool) {
	t.Helper()
	got, err := e.store.Records().Exists(context.Background(), testTenant, model, id)
	if err != nil {
		t.Fatalf("exists %s %d: %v", model, id, err)
	}
	if got != want {
		t.Fatalf("exists %s %d = %v, want %v", model, id, got, want)
	}
}

func strPtr(s string) *string { return &s }

var _ ports.Store = (*memstore.Store)(nil)
