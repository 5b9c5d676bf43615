package config

import (
	"context"
	"strings"
	"testing"

	"github.com/averyhale/fieldledger/modules/governance/domain/fieldmeta"
	"github.com/averyhale/fieldledger/modules/governance/domain/ports"
	"github.com/averyhale/fieldledger/modules/governance/domain/registry"
	"github.com/averyhale/fieldledger/modules/governance/domain/types"
	"github.com/averyhale/fieldledger/modules/governance/infrastructure/memstore"
)

const seedTenant = "11111111-1111-4111-8111-111111111111"

const validSeed = `
version: 1
tenants:
  - id: 11111111-1111-4111-8111-111111111111
    roles:
      - id: role-admin
        name: administrator
        default_level: write_directly
        ensure_defaults: true
      - id: role-editor
        name: editor
        default_level: write_with_audit
        grants:
          - model: tree
            field: species
            level: write_directly
          - model: tree
            field: diameter
            level: write_directly
            rule: 'double(change["new"]) < 50.0'
    users:
      - uuid: aaaaaaaa-0000-4000-8000-000000000001
        role: role-admin
      - uuid: bbbbbbbb-0000-4000-8000-000000000002
        role: role-editor
    metrics:
      - model: tree
        action: UPDATE
        direct_write_score: 5
        approval_score: 5
        denial_score: 10
`

func TestParseSeed_Valid(t *testing.T) {
	seed, err := ParseSeed([]byte(validSeed))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(seed.Tenants) != 1 {
		t.Fatalf("tenants = %d", len(seed.Tenants))
	}
	tenant := seed.Tenants[0]
	if len(tenant.Roles) != 2 || len(tenant.Users) != 2 || len(tenant.Metrics) != 1 {
		t.Fatalf("tenant shape = %d roles, %d users, %d metrics", len(tenant.Roles), len(tenant.Users), len(tenant.Metrics))
	}
	if !tenant.Roles[0].EnsureDefaults {
		t.Fatalf("ensure_defaults lost")
	}
	if tenant.Roles[1].Grants[1].Rule == "" {
		t.Fatalf("grant rule lost")
	}
}

func TestParseSeed_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s string) string
		wantMsg string
	}{
		{"bad version", func(s string) string { return strings.Replace(s, "version: 1", "version: 2", 1) }, "unsupported version"},
		{"bad level", func(s string) string { return strings.Replace(s, "write_with_audit", "write_sometimes", 1) }, "invalid permission level"},
		{"unknown user role", func(s string) string { return strings.Replace(s, "role: role-editor", "role: role-gone", 1) }, "unknown role"},
		{"bad action", func(s string) string { return strings.Replace(s, "action: UPDATE", "action: TOUCH", 1) }, "invalid action"},
		{"duplicate role", func(s string) string { return strings.Replace(s, "role-editor", "role-admin", 1) }, "duplicate role"},
	}
	for _, tt := range tests {
		_, err := ParseSeed([]byte(tt.mutate(validSeed)))
		if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
			t.Fatalf("%s: err = %v, want %q", tt.name, err, tt.wantMsg)
		}
	}
}

func seedRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(
		registry.Type{Name: "plot", Fields: []fieldmeta.Field{
			{Name: "address", Kind: fieldmeta.KindString, Required: true},
		}},
		registry.Type{Name: "tree", DependsOn: []string{"plot"}, Fields: []fieldmeta.Field{
			{Name: "plot", Kind: fieldmeta.KindRef, RefType: "plot", Required: true},
			{Name: "species", Kind: fieldmeta.KindString},
			{Name: "diameter", Kind: fieldmeta.KindFloat},
		}},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func TestApply_SeedsStore(t *testing.T) {
	seed, err := ParseSeed([]byte(validSeed))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	store := memstore.New()
	reg := seedRegistry(t)
	ctx := context.Background()

	err = Apply(ctx, seed, reg, func(string) ports.Store { return store })
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	role, err := store.Permissions().RoleOf(ctx, seedTenant, "bbbbbbbb-0000-4000-8000-000000000002")
	if err != nil {
		t.Fatalf("role of editor: %v", err)
	}
	if role.Name != "editor" || role.DefaultLevel != types.PermWriteWithAudit {
		t.Fatalf("role = %+v", role)
	}

	perms, err := store.Permissions().PermissionsFor(ctx, seedTenant, "role-editor", "tree")
	if err != nil {
		t.Fatalf("perms: %v", err)
	}
	var ruled bool
	for _, perm := range perms {
		if perm.Field == "diameter" && perm.RuleExpr != nil {
			ruled = true
		}
	}
	if !ruled {
		t.Fatalf("diameter grant rule not applied: %+v", perms)
	}

	// ensure_defaults backfilled the administrator role on every model.
	adminPerms, err := store.Permissions().PermissionsFor(ctx, seedTenant, "role-admin", "plot")
	if err != nil {
		t.Fatalf("admin perms: %v", err)
	}
	if len(adminPerms) != 2 { // address + identity
		t.Fatalf("admin plot grants = %d, want 2", len(adminPerms))
	}

	metric, err := store.Reputation().MetricFor(ctx, seedTenant, "tree", types.ActionUpdate)
	if err != nil {
		t.Fatalf("metric: %v", err)
	}
	if metric.DenialScore != 10 {
		t.Fatalf("metric = %+v", metric)
	}
}

func TestApply_UnknownGrantFieldFails(t *testing.T) {
	seed, err := ParseSeed([]byte(strings.Replace(validSeed, "field: species", "field: bark", 1)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	store := memstore.New()
	err = Apply(context.Background(), seed, seedRegistry(t), func(string) ports.Store { return store })
	if err == nil {
		t.Fatalf("unknown grant field accepted")
	}
	// The failed tenant rolled back wholesale.
	if _, err := store.Permissions().Role(context.Background(), seedTenant, "role-admin"); err == nil {
		t.Fatalf("partial seed survived the failure")
	}
}
