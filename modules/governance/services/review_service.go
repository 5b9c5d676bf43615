package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/averyhale/fieldledger/modules/governance/domain/ports"
	"github.com/averyhale/fieldledger/modules/governance/domain/registry"
	"github.com/averyhale/fieldledger/modules/governance/domain/types"
)

// ErrPendingAuditNotReviewable rejects after-the-fact review of an audit
// that is still pending; pending audits resolve through ApproveOrReject.
var ErrPendingAuditNotReviewable = errors.New("pending_audit_requires_pending_flow")

// BatchError reports a batch resolution that aborted part-way. Resolutions
// committed before the failure stay committed.
type BatchError struct {
	Resolved int
	Err      error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch review aborted after %d resolutions: %v", e.Resolved, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// ReviewService resolves pending audits: it applies or rejects held edits,
// materializes approved pending inserts from their accumulated audits, and
// cascades rejection across a pending-insert batch.
type ReviewService struct {
	store    ports.Store
	reg      *registry.Registry
	gate     *Gate
	notifier Notifier
}

func NewReviewService(store ports.Store, reg *registry.Registry, gate *Gate, notifier Notifier) *ReviewService {
	return &ReviewService{store: store, reg: reg, gate: gate, notifier: notifier}
}

// PendingAudits returns the tenant's unresolved pending audits in creation
// order.
func (s *ReviewService) PendingAudits(ctx context.Context, tenantID string) ([]types.Audit, error) {
	return s.store.Audits().Pending(ctx, tenantID)
}

// ApproveOrReject resolves a batch of pending audits. Non-identity audits
// resolve first; identity audits follow in the registry's declared
// parent-before-child order so a child never materializes ahead of its
// parent; identity audits for unregistered types resolve last in input
// order. Each resolution is its own atomic unit; the first failure aborts
// the remaining batch and reports the partial-success count.
func (s *ReviewService) ApproveOrReject(ctx context.Context, tenantID string, audits []types.Audit, reviewer types.User, approved bool) (int, error) {
	var identity, rest []types.Audit
	for _, audit := range audits {
		if audit.FieldName() == types.FieldIdentity {
			identity = append(identity, audit)
		} else {
			rest = append(rest, audit)
		}
	}

	resolved := 0
	resolve := func(audit types.Audit) error {
		if _, err := s.ApproveOrRejectOne(ctx, tenantID, audit.ID, reviewer, approved); err != nil {
			return err
		}
		resolved++
		return nil
	}

	for _, audit := range rest {
		if err := resolve(audit); err != nil {
			return resolved, &BatchError{Resolved: resolved, Err: err}
		}
	}
	remaining := identity
	for _, model := range s.reg.DependencyOrder() {
		next := remaining[:0:0]
		for _, audit := range remaining {
			if audit.Model == model {
				if err := resolve(audit); err != nil {
					return resolved, &BatchError{Resolved: resolved, Err: err}
				}
			} else {
				next = append(next, audit)
			}
		}
		remaining = next
	}
	for _, audit := range remaining {
		if err := resolve(audit); err != nil {
			return resolved, &BatchError{Resolved: resolved, Err: err}
		}
	}
	return resolved, nil
}

// ApproveOrRejectOne resolves a single pending audit and applies it to the
// underlying record when approved. The reviewer must hold write_directly
// on the audited field.
func (s *ReviewService) ApproveOrRejectOne(ctx context.Context, tenantID string, auditID string, reviewer types.User, approved bool) (types.Audit, error) {
	audit, err := s.store.Audits().Get(ctx, tenantID, auditID)
	if err != nil {
		return types.Audit{}, err
	}
	if audit.IsReview() {
		return types.Audit{}, types.NewConsistencyError("audit %s records a review decision and cannot itself be resolved", audit.ID)
	}
	if audit.RefID != nil {
		return types.Audit{}, fmt.Errorf("audit %s: %w", audit.ID, ports.ErrAlreadyResolved)
	}
	if err := s.gate.VerifyReviewer(ctx, tenantID, reviewer.UUID, audit); err != nil {
		return types.Audit{}, err
	}

	// A rejected identity audit cascades over its whole batch; verify the
	// reviewer on every sibling before touching anything.
	var siblings []types.Audit
	if !approved && audit.FieldName() == types.FieldIdentity && audit.Action == types.ActionInsert {
		siblings, err = s.store.Audits().Siblings(ctx, tenantID, audit, false)
		if err != nil {
			return types.Audit{}, err
		}
		for _, sibling := range siblings {
			if err := s.gate.VerifyReviewer(ctx, tenantID, reviewer.UUID, sibling); err != nil {
				return types.Audit{}, err
			}
		}
	}

	action := types.ActionPendingReject
	if approved {
		action = types.ActionPendingApprove
	}

	var review types.Audit
	var notify []types.Audit
	err = s.store.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		notify = notify[:0]

		if approved {
			exists, err := tx.Records().Exists(ctx, tenantID, audit.Model, audit.ModelID)
			if err != nil {
				return err
			}
			switch {
			case exists && audit.FieldName() != types.FieldIdentity:
				if err := s.applyFieldValue(ctx, tx, audit, audit.CurrentValue); err != nil {
					return err
				}
			case !exists && audit.FieldName() == types.FieldIdentity:
				appended, err := s.materialize(ctx, tx, audit, reviewer)
				if err != nil {
					return err
				}
				notify = append(notify, appended...)
			}
			// A field audit without its record yet is resolved but applies
			// nothing; materialization fires only from the identity audit.
		} else if audit.FieldName() == types.FieldIdentity {
			for _, sibling := range siblings {
				if sibling.RefID != nil {
					if err := tx.Audits().ClearRef(ctx, tenantID, sibling.ID); err != nil {
						return err
					}
					sibling.RefID = nil
				}
				appended, err := s.resolveWith(ctx, tx, sibling, reviewer, types.ActionPendingReject)
				if err != nil {
					return err
				}
				notify = append(notify, appended...)
			}
		}

		appended, err := s.resolveWith(ctx, tx, audit, reviewer, action)
		if err != nil {
			return err
		}
		review = appended[0]
		notify = append(notify, appended...)
		return nil
	})
	if err != nil {
		return types.Audit{}, err
	}

	s.notifyAll(ctx, notify)
	return review, nil
}

// ReviewExistingEdit approves or rejects an audit that was already applied
// directly: after-the-fact moderation. Approval records the decision only;
// rejection reverts the change outside the ledger, and only when the audit
// is still the most recent one for its field.
func (s *ReviewService) ReviewExistingEdit(ctx context.Context, tenantID string, auditID string, reviewer types.User, approved bool) (types.Audit, error) {
	audit, err := s.store.Audits().Get(ctx, tenantID, auditID)
	if err != nil {
		return types.Audit{}, err
	}
	if audit.IsReview() {
		return types.Audit{}, types.NewConsistencyError("audit %s records a review decision and cannot itself be reviewed", audit.ID)
	}
	if audit.RefID != nil {
		return types.Audit{}, fmt.Errorf("audit %s: %w", audit.ID, ports.ErrAlreadyResolved)
	}
	if audit.RequiresAuth {
		return types.Audit{}, fmt.Errorf("audit %s: %w", audit.ID, ErrPendingAuditNotReviewable)
	}
	if err := s.gate.VerifyReviewer(ctx, tenantID, reviewer.UUID, audit); err != nil {
		return types.Audit{}, err
	}

	action := types.ActionReviewReject
	if approved {
		action = types.ActionReviewApprove
	}

	var review types.Audit
	var notify []types.Audit
	err = s.store.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		notify = notify[:0]

		if !approved {
			exists, err := tx.Records().Exists(ctx, tenantID, audit.Model, audit.ModelID)
			if err != nil {
				return err
			}
			if exists {
				if audit.FieldName() == types.FieldIdentity {
					// Rejecting an identity audit reverts the whole record:
					// it is deleted outside the ledger, as if the creation
					// had never happened.
					if err := tx.Records().Delete(ctx, tenantID, audit.Model, audit.ModelID); err != nil {
						return err
					}
				} else {
					latest, err := tx.Audits().LatestForField(ctx, tenantID, audit.Model, audit.ModelID, audit.FieldName())
					if err != nil && !errors.Is(err, ports.ErrAuditNotFound) {
						return err
					}
					// Reverting a superseded audit would clobber a later
					// change; only the most recent audit for the field
					// touches live data.
					if err == nil && latest.ID == audit.ID {
						if err := s.applyFieldValue(ctx, tx, audit, audit.PreviousValue); err != nil {
							return err
						}
					}
				}
			}
		}

		appended, err := s.resolveWith(ctx, tx, audit, reviewer, action)
		if err != nil {
			return err
		}
		review = appended[0]
		notify = append(notify, appended...)
		return nil
	})
	if err != nil {
		return types.Audit{}, err
	}

	s.notifyAll(ctx, notify)
	return review, nil
}

// materialize turns an approved pending-insert batch into a real record:
// it collects the batch's field audits, applies their values under the
// reserved identifier, validates foreign-key existence, persists, and
// links a resolution audit to every still-unresolved sibling.
func (s *ReviewService) materialize(ctx context.Context, tx ports.Store, identity types.Audit, reviewer types.User) ([]types.Audit, error) {
	meta, err := s.reg.Resolve(identity.Model)
	if err != nil {
		return nil, err
	}

	siblings, err := tx.Audits().Siblings(ctx, identity.TenantID, identity, false)
	if err != nil {
		return nil, err
	}

	values := map[string]string{}
	var unresolved []types.Audit
	for _, sibling := range siblings {
		if sibling.Field == nil {
			continue
		}
		if sibling.RefID != nil {
			ref, err := tx.Audits().Get(ctx, identity.TenantID, *sibling.RefID)
			if err != nil {
				return nil, err
			}
			if ref.Action == types.ActionPendingReject {
				continue
			}
		} else {
			unresolved = append(unresolved, sibling)
		}
		if sibling.CurrentValue != nil {
			values[*sibling.Field] = *sibling.CurrentValue
		}
	}

	if err := s.validateForeignKeys(ctx, tx, identity.TenantID, meta, identity.ModelID, values); err != nil {
		return nil, err
	}
	if err := tx.Records().Insert(ctx, identity.TenantID, identity.Model, identity.ModelID, values); err != nil {
		return nil, err
	}

	var notify []types.Audit
	sort.Slice(unresolved, func(i, j int) bool { return unresolved[i].Created.Before(unresolved[j].Created) })
	for _, sibling := range unresolved {
		appended, err := s.resolveWith(ctx, tx, sibling, reviewer, types.ActionPendingApprove)
		if err != nil {
			return nil, err
		}
		notify = append(notify, appended...)
	}
	return notify, nil
}

func (s *ReviewService) validateForeignKeys(ctx context.Context, tx ports.Store, tenantID string, meta registry.Type, selfID int64, values map[string]string) error {
	for _, field := range meta.Fields {
		if !field.IsRef() {
			continue
		}
		raw, present := values[field.Name]
		if !present {
			if field.Required {
				return types.NewConsistencyError("%s %d has null required field %s", meta.Name, selfID, field.Name)
			}
			continue
		}
		refID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return types.NewConsistencyError("%s %d field %s holds non-identifier value %q", meta.Name, selfID, field.Name, raw)
		}
		exists, err := tx.Records().Exists(ctx, tenantID, field.RefType, refID)
		if err != nil {
			return err
		}
		if !exists {
			return types.NewConsistencyError("%s %d has non-existent %s", meta.Name, selfID, field.Name)
		}
	}
	return nil
}

// resolveWith appends the review audit and links it via the resolved
// audit's ref. It returns the review audit followed by the resolved audit
// as written, for notification.
func (s *ReviewService) resolveWith(ctx context.Context, tx ports.Store, audit types.Audit, reviewer types.User, action types.AuditAction) ([]types.Audit, error) {
	id, err := newAuditID()
	if err != nil {
		return nil, err
	}
	now := timeNow().UTC()
	review := types.Audit{
		ID:            id,
		TenantID:      audit.TenantID,
		Model:         audit.Model,
		ModelID:       audit.ModelID,
		Field:         audit.Field,
		PreviousValue: audit.PreviousValue,
		CurrentValue:  audit.CurrentValue,
		UserUUID:      reviewer.UUID,
		Action:        action,
		Created:       now,
		Updated:       now,
	}
	if err := tx.Audits().Append(ctx, review); err != nil {
		return nil, err
	}
	if err := tx.Audits().SetRef(ctx, audit.TenantID, audit.ID, review.ID); err != nil {
		return nil, err
	}
	resolved := audit
	resolved.RefID = &review.ID
	resolved.Updated = now
	return []types.Audit{review, resolved}, nil
}

func (s *ReviewService) applyFieldValue(ctx context.Context, tx ports.Store, audit types.Audit, value *string) error {
	values, err := tx.Records().Get(ctx, audit.TenantID, audit.Model, audit.ModelID)
	if err != nil {
		return err
	}
	field := audit.FieldName()
	if value == nil {
		delete(values, field)
	} else {
		values[field] = *value
	}
	return tx.Records().Update(ctx, audit.TenantID, audit.Model, audit.ModelID, values)
}

func (s *ReviewService) notifyAll(ctx context.Context, audits []types.Audit) {
	if s.notifier == nil {
		return
	}
	for _, audit := range audits {
		s.notifier.AuditAppended(ctx, audit)
	}
}
