package types

import (
	"fmt"
	"testing"
)

func TestAudit_PendingAndIdentity(t *testing.T) {
	field := "species"
	ref := "review-1"
	tests := []struct {
		name         string
		audit        Audit
		wantPending  bool
		wantIdentity bool
	}{
		{"direct update", Audit{Field: &field, Action: ActionUpdate}, false, false},
		{"unresolved pending", Audit{Field: &field, Action: ActionUpdate, RequiresAuth: true}, true, false},
		{"resolved pending", Audit{Field: &field, Action: ActionUpdate, RequiresAuth: true, RefID: &ref}, false, false},
		{"identity insert", Audit{Field: strPtr("id"), Action: ActionInsert, RequiresAuth: true}, true, true},
		{"whole-record delete", Audit{Action: ActionDelete}, false, true},
	}
	for _, tt := range tests {
		if got := tt.audit.IsPending(); got != tt.wantPending {
			t.Fatalf("%s: IsPending = %v, want %v", tt.name, got, tt.wantPending)
		}
		if got := tt.audit.IsIdentity(); got != tt.wantIdentity {
			t.Fatalf("%s: IsIdentity = %v, want %v", tt.name, got, tt.wantIdentity)
		}
	}
}

func TestAudit_ShortDescription(t *testing.T) {
	tests := []struct {
		name  string
		audit Audit
		want  string
	}{
		{"create", Audit{Model: "Tree", Action: ActionInsert}, "created a tree"},
		{"delete", Audit{Model: "Plot", Action: ActionDelete}, "deleted the plot"},
		{"set field", Audit{Model: "tree", Field: strPtr("date_planted"), CurrentValue: strPtr("2023-04-01"), Action: ActionUpdate}, "set date planted to 2023-04-01"},
		{"approve field", Audit{Model: "tree", Field: strPtr("species"), CurrentValue: strPtr("quercus"), Action: ActionPendingApprove}, "approved setting species to quercus"},
		{"reject identity", Audit{Model: "tree", Field: strPtr("id"), Action: ActionPendingReject}, "rejected an edit to the tree"},
	}
	for _, tt := range tests {
		if got := tt.audit.ShortDescription(); got != tt.want {
			t.Fatalf("%s: %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestParsePermissionLevel(t *testing.T) {
	for _, level := range []PermissionLevel{PermNone, PermReadOnly, PermWriteWithAudit, PermWriteDirectly} {
		got, err := ParsePermissionLevel(level.String())
		if err != nil {
			t.Fatalf("%s: %v", level, err)
		}
		if got != level {
			t.Fatalf("round trip %s -> %s", level, got)
		}
	}
	if _, err := ParsePermissionLevel("editor"); err == nil {
		t.Fatalf("invalid level accepted")
	}
}

func TestPermissionLevel_Ordering(t *testing.T) {
	if PermReadOnly.AllowsWrites() || !PermReadOnly.AllowsReads() {
		t.Fatalf("read_only capabilities wrong")
	}
	if !PermWriteWithAudit.AllowsWrites() || !PermWriteDirectly.AllowsReads() {
		t.Fatalf("write levels must imply lower capabilities")
	}
	if PermNone.AllowsReads() {
		t.Fatalf("none must not read")
	}
	if PermissionLevel(9).Valid() || !PermWriteDirectly.Valid() {
		t.Fatalf("Valid misreports range")
	}
}

func TestErrorPredicates(t *testing.T) {
	wrapped := fmt.Errorf("save: %w", NewAuthorizeError("u1", "tree", "species", "denied"))
	if !IsAuthorizeError(wrapped) {
		t.Fatalf("wrapped AuthorizeError not detected")
	}
	if IsAuthorizeError(NewConsistencyError("x")) {
		t.Fatalf("predicate crosses types")
	}
	if !IsConsistencyError(fmt.Errorf("tx: %w", NewConsistencyError("broken ref"))) {
		t.Fatalf("wrapped ConsistencyError not detected")
	}
	if !IsConfigError(fmt.Errorf("grant: %w", &ConfigError{Model: "tree", Reason: "x"})) {
		t.Fatalf("wrapped ConfigError not detected")
	}
	if !IsMaskedRecordError(&MaskedRecordError{Model: "tree"}) {
		t.Fatalf("MaskedRecordError not detected")
	}
}

func strPtr(s string) *string { return &s }
