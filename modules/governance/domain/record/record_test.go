package record

import (
	"errors"
	"testing"

	"github.com/averyhale/fieldledger/modules/governance/domain/fieldmeta"
	"github.com/averyhale/fieldledger/modules/governance/domain/registry"
	"github.com/averyhale/fieldledger/modules/governance/domain/types"
)

const tenant = "11111111-1111-4111-8111-111111111111"

func plotMeta() registry.Type {
	return registry.Type{
		Name: "plot",
		Fields: []fieldmeta.Field{
			{Name: "address", Kind: fieldmeta.KindString, Required: true},
			{Name: "width", Kind: fieldmeta.KindFloat},
		},
	}
}

func TestNew_EverySetFieldAppearsInDiff(t *testing.T) {
	rec := New(plotMeta(), tenant)
	if err := rec.Set("address", "12 Elm St"); err != nil {
		t.Fatalf("set: %v", err)
	}
	diff := rec.Diff()
	if len(diff) != 1 {
		t.Fatalf("diff = %v", diff)
	}
	change := diff["address"]
	if change.Old != nil || change.New == nil || *change.New != "12 Elm St" {
		t.Fatalf("change = %+v", change)
	}
}

func TestExisting_DiffAgainstSnapshot(t *testing.T) {
	rec := Existing(plotMeta(), tenant, 7, map[string]string{"address": "12 Elm St", "width": "3"})
	if rec.HasChanges() {
		t.Fatalf("fresh record reports changes")
	}

	if err := rec.Set("address", "99 Oak Ave"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := rec.SetNull("width"); err != nil {
		t.Fatalf("set null: %v", err)
	}
	diff := rec.Diff()
	if len(diff) != 2 {
		t.Fatalf("diff = %v", diff)
	}
	if w := diff["width"]; w.New != nil || w.Old == nil || *w.Old != "3" {
		t.Fatalf("width change = %+v", w)
	}

	rec.Snapshot()
	if rec.HasChanges() {
		t.Fatalf("snapshot did not absorb changes")
	}
}

func TestSet_ValidatesAgainstKind(t *testing.T) {
	rec := New(plotMeta(), tenant)
	var valErr *fieldmeta.ValueError
	if err := rec.Set("width", "wide"); !errors.As(err, &valErr) {
		t.Fatalf("err = %v, want ValueError", err)
	}
	var cfgErr *types.ConfigError
	if err := rec.Set("height", "3"); !errors.As(err, &cfgErr) {
		t.Fatalf("untracked field err = %v, want ConfigError", err)
	}
}

func TestApplyChange_BypassesValidation(t *testing.T) {
	rec := Existing(plotMeta(), tenant, 7, map[string]string{"width": "3"})
	raw := "already-ledgered"
	if err := rec.ApplyChange("width", &raw); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got, _ := rec.Get("width"); got != raw {
		t.Fatalf("width = %q", got)
	}
	if err := rec.ApplyChange("width", nil); err != nil {
		t.Fatalf("apply nil: %v", err)
	}
	if _, ok := rec.Get("width"); ok {
		t.Fatalf("nil apply did not clear")
	}
}

func TestMaskExcept_IsOneWay(t *testing.T) {
	rec := Existing(plotMeta(), tenant, 7, map[string]string{"address": "12 Elm St", "width": "3"})
	rec.MaskExcept(map[string]struct{}{"address": {}})

	if !rec.Masked() {
		t.Fatalf("record not masked")
	}
	if _, ok := rec.Get("width"); ok {
		t.Fatalf("width survived masking")
	}
	if got, _ := rec.Get("address"); got != "12 Elm St" {
		t.Fatalf("address = %q", got)
	}

	var maskErr *types.MaskedRecordError
	if err := rec.Set("address", "x"); !errors.As(err, &maskErr) {
		t.Fatalf("Set = %v, want MaskedRecordError", err)
	}
	if err := rec.SetNull("address"); !errors.As(err, &maskErr) {
		t.Fatalf("SetNull = %v, want MaskedRecordError", err)
	}
	if err := rec.ApplyChange("address", nil); !errors.As(err, &maskErr) {
		t.Fatalf("ApplyChange = %v, want MaskedRecordError", err)
	}
}

func TestPendingInsertAndCommitAssign(t *testing.T) {
	rec := New(plotMeta(), tenant)
	if err := rec.Set("address", "12 Elm St"); err != nil {
		t.Fatalf("set: %v", err)
	}

	rec.MarkPendingInsert(41)
	if !rec.IsPendingInsert() || rec.ID() != 41 {
		t.Fatalf("pending state: id=%d pending=%v", rec.ID(), rec.IsPendingInsert())
	}
	// The reservation does not absorb the diff; the change is still only
	// in the ledger.
	if !rec.HasChanges() {
		t.Fatalf("reservation absorbed the diff")
	}

	rec = New(plotMeta(), tenant)
	if err := rec.Set("address", "12 Elm St"); err != nil {
		t.Fatalf("set: %v", err)
	}
	rec.CommitAssign(42)
	if rec.IsPendingInsert() || rec.ID() != 42 || rec.HasChanges() {
		t.Fatalf("commit state: id=%d pending=%v changes=%v", rec.ID(), rec.IsPendingInsert(), rec.HasChanges())
	}
}

func TestContentHash_Stable(t *testing.T) {
	a := Existing(plotMeta(), tenant, 7, map[string]string{"address": "12 Elm St", "width": "3"})
	b := Existing(plotMeta(), tenant, 8, map[string]string{"width": "3", "address": "12 Elm St"})
	if a.ContentHash() != b.ContentHash() {
		t.Fatalf("hash depends on map order")
	}
	if err := a.Set("width", "4"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if a.ContentHash() == b.ContentHash() {
		t.Fatalf("hash ignores values")
	}
}
