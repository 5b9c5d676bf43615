// Package record implements the generic tracked record: serialized field
// values, the previous-state snapshot taken at load time, and the diff the
// save pipeline consumes. A record never persists itself; all mutation
// routes through the save service so every state change lands in the
// ledger.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/averyhale/fieldledger/modules/governance/domain/fieldmeta"
	"github.com/averyhale/fieldledger/modules/governance/domain/registry"
	"github.com/averyhale/fieldledger/modules/governance/domain/types"
)

// Change is one diff entry. A nil pointer means the field was absent (null)
// on that side.
type Change struct {
	Old *string
	New *string
}

type Record struct {
	meta     registry.Type
	tenantID string
	id       int64

	values   map[string]string
	previous map[string]string

	masked        bool
	pendingInsert bool
}

// New returns an unsaved record with an empty snapshot, so that the values
// set before the first save all appear in the diff.
func New(meta registry.Type, tenantID string) *Record {
	return &Record{
		meta:     meta,
		tenantID: tenantID,
		values:   map[string]string{},
		previous: map[string]string{},
	}
}

// Existing returns a record loaded from the store; the snapshot is the
// loaded values.
func Existing(meta registry.Type, tenantID string, id int64, values map[string]string) *Record {
	r := &Record{
		meta:     meta,
		tenantID: tenantID,
		id:       id,
		values:   cloneValues(values),
	}
	r.Snapshot()
	return r
}

func (r *Record) TypeName() string    { return r.meta.Name }
func (r *Record) Meta() registry.Type { return r.meta }
func (r *Record) TenantID() string    { return r.tenantID }
func (r *Record) ID() int64           { return r.id }
func (r *Record) Masked() bool        { return r.masked }

// IsPendingInsert reports whether the record holds a reserved identifier
// and awaits review instead of living in the primary store.
func (r *Record) IsPendingInsert() bool { return r.pendingInsert }

func (r *Record) TrackedFields() []string { return r.meta.TrackedFields() }

func (r *Record) RequiredForCreate() []string { return r.meta.RequiredForCreate() }

func (r *Record) Get(field string) (string, bool) {
	v, ok := r.values[field]
	return v, ok
}

// Set validates the value against the field's declared kind and stores its
// serialized form. Masked records refuse all mutation.
func (r *Record) Set(field, value string) error {
	if r.masked {
		return &types.MaskedRecordError{Model: r.meta.Name}
	}
	f, ok := r.meta.Field(field)
	if !ok {
		return &types.ConfigError{Model: r.meta.Name, Field: field, Reason: "field is not tracked"}
	}
	if err := fieldmeta.ValidateValue(f, value); err != nil {
		return err
	}
	r.values[field] = value
	return nil
}

// SetNull clears a field. Masked records refuse all mutation.
func (r *Record) SetNull(field string) error {
	if r.masked {
		return &types.MaskedRecordError{Model: r.meta.Name}
	}
	if _, ok := r.meta.Field(field); !ok {
		return &types.ConfigError{Model: r.meta.Name, Field: field, Reason: "field is not tracked"}
	}
	delete(r.values, field)
	return nil
}

// ApplyChange writes a serialized audit value onto the live record,
// bypassing kind validation: the value came out of the ledger and was
// validated on the way in. A nil value clears the field.
func (r *Record) ApplyChange(field string, value *string) error {
	if r.masked {
		return &types.MaskedRecordError{Model: r.meta.Name}
	}
	if _, ok := r.meta.Field(field); !ok {
		return &types.ConfigError{Model: r.meta.Name, Field: field, Reason: "field is not tracked"}
	}
	if value == nil {
		delete(r.values, field)
	} else {
		r.values[field] = *value
	}
	return nil
}

// Diff compares live values to the snapshot by value equality. The map is
// unordered; callers that need a stable field order sort the keys.
func (r *Record) Diff() map[string]Change {
	out := map[string]Change{}
	for _, field := range r.meta.TrackedFields() {
		var oldV, newV *string
		if v, ok := r.previous[field]; ok {
			oldV = &v
		}
		if v, ok := r.values[field]; ok {
			newV = &v
		}
		if !equalValue(oldV, newV) {
			out[field] = Change{Old: oldV, New: newV}
		}
	}
	return out
}

func (r *Record) HasChanges() bool {
	return len(r.Diff()) > 0
}

// Values returns a copy of the live serialized field values.
func (r *Record) Values() map[string]string {
	return cloneValues(r.values)
}

// Snapshot refreshes the previous-state snapshot to the live values. The
// save pipeline calls this after every successful commit.
func (r *Record) Snapshot() {
	r.previous = cloneValues(r.values)
}

// ClearSnapshot empties the snapshot after a delete.
func (r *Record) ClearSnapshot() {
	r.previous = map[string]string{}
}

// MarkPendingInsert assigns a reserved identifier without committing the
// record to the primary store.
func (r *Record) MarkPendingInsert(id int64) {
	r.id = id
	r.pendingInsert = true
}

// CommitAssign records a successful write under the given identifier and
// refreshes the snapshot.
func (r *Record) CommitAssign(id int64) {
	r.id = id
	r.Snapshot()
}

// MaskExcept nulls every field outside visible and marks the record masked.
// Masking is one-way: a masked record refuses further mutation.
func (r *Record) MaskExcept(visible map[string]struct{}) {
	for _, field := range r.meta.TrackedFields() {
		if _, ok := visible[field]; !ok {
			delete(r.values, field)
		}
	}
	r.masked = true
}

// ContentHash is a stable digest of the live field values.
func (r *Record) ContentHash() string {
	fields := make([]string, 0, len(r.values))
	for field := range r.values {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+":"+r.values[field])
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func cloneValues(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func equalValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
