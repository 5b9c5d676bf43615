package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/averyhale/fieldledger/modules/governance/domain/ports"
	"github.com/averyhale/fieldledger/modules/governance/domain/record"
	"github.com/averyhale/fieldledger/modules/governance/domain/registry"
	"github.com/averyhale/fieldledger/modules/governance/domain/types"
	"github.com/averyhale/fieldledger/pkg/uuidv7"
)

// Notifier receives every audit row after it has been persisted. The
// reputation hook is the one consumer.
type Notifier interface {
	AuditAppended(ctx context.Context, audit types.Audit)
}

var (
	newAuditID = uuidv7.NewString
	timeNow    = time.Now
)

// SaveService is the single save pipeline every tracked-record mutation
// routes through: it computes the diff, partitions fields through the
// authorization gate, writes one audit row per changed field, and holds
// not-yet-creatable records under a reserved identifier.
type SaveService struct {
	store    ports.Store
	reg      *registry.Registry
	gate     *Gate
	notifier Notifier
}

func NewSaveService(store ports.Store, reg *registry.Registry, gate *Gate, notifier Notifier) *SaveService {
	return &SaveService{store: store, reg: reg, gate: gate, notifier: notifier}
}

// Save persists the record's changed fields on behalf of user. Fields the
// user may change only with audit are reverted on the live record and
// written as pending audits; a record the user cannot create directly is
// held under a reserved identifier instead of being committed.
func (s *SaveService) Save(ctx context.Context, user types.User, rec *record.Record) error {
	return s.save(ctx, user, rec, false)
}

// SaveBypassingAuthorization skips the gate entirely: every field applies
// directly and nothing is held for review. It is for privileged internal
// paths only, where the change was already approved.
func (s *SaveService) SaveBypassingAuthorization(ctx context.Context, user types.User, rec *record.Record) error {
	return s.save(ctx, user, rec, true)
}

func (s *SaveService) save(ctx context.Context, user types.User, rec *record.Record, authBypass bool) error {
	if rec.Masked() {
		return &types.MaskedRecordError{Model: rec.TypeName()}
	}
	if rec.IsPendingInsert() {
		return types.NewConsistencyError("record %s already saved as a pending insert", rec.TypeName())
	}

	diff := rec.Diff()
	isInsert := rec.ID() == 0

	var pendingFields []string
	if !authBypass {
		if isInsert {
			ok, err := s.gate.CanCreate(ctx, user.UUID, rec, false)
			if err != nil {
				return err
			}
			if !ok {
				return types.NewAuthorizeError(user.UUID, rec.TypeName(), "", reasonCreateNotPermitted)
			}
		}
		// One rule-gated level decides each field's fate: below
		// write_with_audit the save aborts, at it the field is held for
		// review, above it the field applies directly.
		levels, err := s.gate.DiffLevels(ctx, user.UUID, rec, diff)
		if err != nil {
			return err
		}
		for _, field := range sortedFields(diff) {
			switch levels[field] {
			case types.PermWriteDirectly:
			case types.PermWriteWithAudit:
				pendingFields = append(pendingFields, field)
			default:
				return types.NewAuthorizeError(user.UUID, rec.TypeName(), field, reasonFieldNotWritable)
			}
		}
	}

	// Pending fields revert on the live record: the in-memory state must
	// reflect only what is applied directly.
	pendingChanges := make(map[string]record.Change, len(pendingFields))
	for _, field := range pendingFields {
		change := diff[field]
		pendingChanges[field] = change
		if err := rec.ApplyChange(field, change.Old); err != nil {
			return err
		}
		delete(diff, field)
	}

	canWriteNow := !isInsert || authBypass
	if !canWriteNow {
		direct, err := s.gate.CanCreate(ctx, user.UUID, rec, true)
		if err != nil {
			return err
		}
		canWriteNow = direct
	}

	action := types.ActionUpdate
	if isInsert {
		action = types.ActionInsert
	}

	var written []types.Audit
	var modelID int64
	err := s.store.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		written = written[:0]

		if canWriteNow {
			if isInsert {
				id, err := tx.Records().NextID(ctx)
				if err != nil {
					return types.NewConsistencyError("identifier sequence: %v", err)
				}
				if err := tx.Records().Insert(ctx, rec.TenantID(), rec.TypeName(), id, rec.Values()); err != nil {
					return err
				}
				modelID = id
			} else {
				if err := tx.Records().Update(ctx, rec.TenantID(), rec.TypeName(), rec.ID(), rec.Values()); err != nil {
					return err
				}
				modelID = rec.ID()
			}
		} else {
			id, err := tx.Records().NextID(ctx)
			if err != nil {
				return types.NewConsistencyError("identifier reservation: %v", err)
			}
			modelID = id
		}

		idValue := strconv.FormatInt(modelID, 10)

		append1 := func(field *string, prev, cur *string, pending bool) error {
			audit, err := s.newAudit(rec.TenantID(), rec.TypeName(), modelID, field, prev, cur, user.UUID, action, pending)
			if err != nil {
				return err
			}
			if err := tx.Audits().Append(ctx, audit); err != nil {
				return err
			}
			written = append(written, audit)
			return nil
		}

		if isInsert && canWriteNow {
			identity := types.FieldIdentity
			if err := append1(&identity, nil, &idValue, false); err != nil {
				return err
			}
		}
		for _, field := range sortedFields(diff) {
			change := diff[field]
			f := field
			if err := append1(&f, change.Old, change.New, false); err != nil {
				return err
			}
		}
		for _, field := range pendingFields {
			change := pendingChanges[field]
			f := field
			if err := append1(&f, change.Old, change.New, true); err != nil {
				return err
			}
		}
		if isInsert && !canWriteNow {
			identity := types.FieldIdentity
			if err := append1(&identity, nil, &idValue, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// The in-memory record moves only once the unit of work has committed.
	if canWriteNow {
		rec.CommitAssign(modelID)
	} else {
		rec.MarkPendingInsert(modelID)
	}

	s.notifyAll(ctx, written)
	return nil
}

// Delete removes the record and writes a single whole-record delete audit.
// Deletion is never deferred: a record that is deletable at all is deleted
// immediately.
func (s *SaveService) Delete(ctx context.Context, user types.User, rec *record.Record) error {
	if rec.Masked() {
		return &types.MaskedRecordError{Model: rec.TypeName()}
	}
	if rec.ID() == 0 {
		return types.NewConsistencyError("cannot delete an unsaved %s record", rec.TypeName())
	}

	ok, err := s.gate.CanDelete(ctx, user.UUID, rec)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewAuthorizeError(user.UUID, rec.TypeName(), "", reasonDeleteNotPermitted)
	}

	var written types.Audit
	err = s.store.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		if err := tx.Records().Delete(ctx, rec.TenantID(), rec.TypeName(), rec.ID()); err != nil {
			return err
		}
		audit, err := s.newAudit(rec.TenantID(), rec.TypeName(), rec.ID(), nil, nil, nil, user.UUID, types.ActionDelete, false)
		if err != nil {
			return err
		}
		if err := tx.Audits().Append(ctx, audit); err != nil {
			return err
		}
		written = audit
		return nil
	})
	if err != nil {
		return err
	}

	rec.ClearSnapshot()
	s.notifyAll(ctx, []types.Audit{written})
	return nil
}

// Audits returns the record's ledger entries in creation order.
func (s *SaveService) Audits(ctx context.Context, rec *record.Record) ([]types.Audit, error) {
	return s.store.Audits().ListForRecord(ctx, rec.TenantID(), rec.TypeName(), rec.ID())
}

// Hash returns a revision digest for the record derived from its latest
// ledger entry.
func (s *SaveService) Hash(ctx context.Context, rec *record.Record) (string, error) {
	audits, err := s.Audits(ctx, rec)
	if err != nil {
		return "", err
	}
	latest := "none"
	if len(audits) > 0 {
		latest = audits[len(audits)-1].ID
	}
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%d:%s", rec.TypeName(), rec.ID(), latest))
	return hex.EncodeToString(sum[:]), nil
}

func (s *SaveService) newAudit(tenantID, model string, modelID int64, field, prev, cur *string, userUUID string, action types.AuditAction, requiresAuth bool) (types.Audit, error) {
	id, err := newAuditID()
	if err != nil {
		return types.Audit{}, err
	}
	now := timeNow().UTC()
	return types.Audit{
		ID:            id,
		TenantID:      tenantID,
		Model:         model,
		ModelID:       modelID,
		Field:         field,
		PreviousValue: prev,
		CurrentValue:  cur,
		UserUUID:      userUUID,
		Action:        action,
		RequiresAuth:  requiresAuth,
		Created:       now,
		Updated:       now,
	}, nil
}

func (s *SaveService) notifyAll(ctx context.Context, audits []types.Audit) {
	if s.notifier == nil {
		return
	}
	for _, audit := range audits {
		s.notifier.AuditAppended(ctx, audit)
	}
}

func sortedFields(diff map[string]record.Change) []string {
	out := make([]string, 0, len(diff))
	for field := range diff {
		out = append(out, field)
	}
	sort.Strings(out)
	return out
}
