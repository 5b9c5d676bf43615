package services

import (
	"context"
	"errors"
	"testing"

	"github.com/averyhale/fieldledger/modules/governance/domain/record"
	"github.com/averyhale/fieldledger/modules/governance/domain/types"
)

func seedPlotMetrics(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	metrics := []types.ReputationMetric{
		{TenantID: testTenant, Model: "plot", Action: types.ActionUpdate, DirectWriteScore: 5, ApprovalScore: 5, DenialScore: 10},
		{TenantID: testTenant, Model: "plot", Action: types.ActionInsert, DirectWriteScore: 25, ApprovalScore: 25, DenialScore: 50},
	}
	for _, m := range metrics {
		if err := env.store.Reputation().UpsertMetric(ctx, m); err != nil {
			t.Fatalf("metric %s: %v", m.Action, err)
		}
	}
}

func score(t *testing.T, env *testEnv, user types.User) int {
	t.Helper()
	got, err := env.store.Reputation().UserScore(context.Background(), testTenant, user.UUID)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	return got
}

func TestReputation_DirectWriteScores(t *testing.T) {
	env := newTestEnv(t)
	seedPlotMetrics(t, env)
	ctx := context.Background()

	plot := env.createPlot(t, "12 Elm St")
	// One INSERT metric hit for the identity audit and one for the address
	// field audit.
	if got := score(t, env, adminUser); got != 50 {
		t.Fatalf("score after create = %d, want 50", got)
	}

	if err := plot.Set("width", "4"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := env.save.Save(ctx, adminUser, plot); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := score(t, env, adminUser); got != 55 {
		t.Fatalf("score after update = %d, want 55", got)
	}
}

func TestReputation_ApprovalRewardsAuthor(t *testing.T) {
	env := newTestEnv(t)
	seedPlotMetrics(t, env)
	ctx := context.Background()
	plot := env.createPlot(t, "12 Elm St")
	audit := pendingEdit(t, env, plot, "99 Oak Ave")

	if got := score(t, env, editorUser); got != 0 {
		t.Fatalf("pending audit scored before resolution: %d", got)
	}
	if _, err := env.review.ApproveOrRejectOne(ctx, testTenant, audit.ID, adminUser, true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got := score(t, env, editorUser); got != 5 {
		t.Fatalf("score after approval = %d, want 5", got)
	}
}

func TestReputation_DenialFloorsAtZero(t *testing.T) {
	env := newTestEnv(t)
	seedPlotMetrics(t, env)
	ctx := context.Background()
	plot := env.createPlot(t, "12 Elm St")
	audit := pendingEdit(t, env, plot, "99 Oak Ave")

	if _, err := env.review.ApproveOrRejectOne(ctx, testTenant, audit.ID, adminUser, false); err != nil {
		t.Fatalf("reject: %v", err)
	}
	// DenialScore 10 against a zero balance clamps instead of going
	// negative.
	if got := score(t, env, editorUser); got != 0 {
		t.Fatalf("score after denial = %d, want 0", got)
	}
}

func TestReputation_MaterializationDoesNotRescoreDirectWrites(t *testing.T) {
	env := newTestEnv(t)
	seedPlotMetrics(t, env)
	env.grant(t, "role-editor", "plot", "width", types.PermWriteDirectly, "")
	ctx := context.Background()

	meta, err := env.reg.Resolve("plot")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	rec := record.New(meta, testTenant)
	if err := rec.Set("address", "7 Birch Rd"); err != nil {
		t.Fatalf("set address: %v", err)
	}
	if err := rec.Set("width", "4.5"); err != nil {
		t.Fatalf("set width: %v", err)
	}
	if err := env.save.Save(ctx, editorUser, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !rec.IsPendingInsert() {
		t.Fatalf("insert committed directly")
	}
	// Within the held insert only the width audit is direct-writable.
	if got := score(t, env, editorUser); got != 25 {
		t.Fatalf("score after save = %d, want 25", got)
	}

	identity := identityAuditFor(t, env, "plot", rec.ID())
	if _, err := env.review.ApproveOrRejectOne(ctx, testTenant, identity.ID, adminUser, true); err != nil {
		t.Fatalf("approve identity: %v", err)
	}
	// Identity and address approvals score once each; the width audit
	// already scored at save and its resolution link adds nothing.
	if got := score(t, env, editorUser); got != 75 {
		t.Fatalf("score after approval = %d, want 75", got)
	}
}

func TestReputation_NoMetricNoChange(t *testing.T) {
	env := newTestEnv(t)
	env.createPlot(t, "12 Elm St")
	if got := score(t, env, adminUser); got != 0 {
		t.Fatalf("score without metrics = %d, want 0", got)
	}
}

func TestReputation_ResolutionMustBeReviewAction(t *testing.T) {
	env := newTestEnv(t)
	seedPlotMetrics(t, env)
	ctx := context.Background()

	// A resolved audit whose ref is not a pending-review action is a data
	// corruption the hook must surface, not score.
	field := "address"
	bogus, err := newAuditID()
	if err != nil {
		t.Fatalf("id: %v", err)
	}
	ref := types.Audit{
		ID: bogus, TenantID: testTenant, Model: "plot", ModelID: 1,
		Field: &field, UserUUID: adminUser.UUID, Action: types.ActionUpdate,
	}
	if err := env.store.Audits().Append(ctx, ref); err != nil {
		t.Fatalf("append ref: %v", err)
	}
	id, err := newAuditID()
	if err != nil {
		t.Fatalf("id: %v", err)
	}
	audit := types.Audit{
		ID: id, TenantID: testTenant, Model: "plot", ModelID: 1,
		Field: &field, UserUUID: editorUser.UUID, Action: types.ActionUpdate,
		RequiresAuth: true, RefID: &ref.ID,
	}

	rep := NewReputationService(env.store)
	var consErr *types.ConsistencyError
	if err := rep.apply(ctx, audit); !errors.As(err, &consErr) {
		t.Fatalf("apply = %v, want ConsistencyError", err)
	}
	if got := score(t, env, editorUser); got != 0 {
		t.Fatalf("corrupt resolution scored: %d", got)
	}
}
