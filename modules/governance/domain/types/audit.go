package types

import (
	"fmt"
	"strings"
	"time"
)

type AuditAction string

const (
	ActionInsert         AuditAction = "INSERT"
	ActionUpdate         AuditAction = "UPDATE"
	ActionDelete         AuditAction = "DELETE"
	ActionPendingApprove AuditAction = "PENDING_APPROVE"
	ActionPendingReject  AuditAction = "PENDING_REJECT"
	ActionReviewApprove  AuditAction = "REVIEW_APPROVE"
	ActionReviewReject   AuditAction = "REVIEW_REJECT"
)

func ValidAuditAction(a AuditAction) bool {
	switch a {
	case ActionInsert, ActionUpdate, ActionDelete,
		ActionPendingApprove, ActionPendingReject,
		ActionReviewApprove, ActionReviewReject:
		return true
	default:
		return false
	}
}

func ActionLabel(a AuditAction) string {
	switch a {
	case ActionInsert:
		return "Create"
	case ActionDelete:
		return "Delete"
	case ActionUpdate:
		return "Update"
	case ActionPendingApprove:
		return "Approved Pending Edit"
	case ActionPendingReject:
		return "Rejected Pending Edit"
	case ActionReviewApprove:
		return "Approved Edit"
	case ActionReviewReject:
		return "Rejected Edit"
	default:
		return string(a)
	}
}

// FieldIdentity is the field name of the audit row that stands for the
// record itself on create and delete.
const FieldIdentity = "id"

// Audit is one immutable row of the ledger. Once written its only legal
// mutation is setting RefID, exactly once, to the review audit that
// resolved it.
type Audit struct {
	ID            string
	TenantID      string
	Model         string
	ModelID       int64
	Field         *string
	PreviousValue *string
	CurrentValue  *string
	UserUUID      string
	Action        AuditAction
	RequiresAuth  bool
	RefID         *string
	Created       time.Time
	Updated       time.Time
}

// IsPending reports whether this audit awaits a reviewer's resolution.
func (a Audit) IsPending() bool {
	return a.RequiresAuth && a.RefID == nil
}

func (a Audit) FieldName() string {
	if a.Field == nil {
		return ""
	}
	return *a.Field
}

// IsIdentity reports whether the audit stands for the whole record: the
// identity row written on create, or the nil-field row written on delete.
func (a Audit) IsIdentity() bool {
	return a.Field == nil || *a.Field == FieldIdentity
}

// IsReview reports whether the audit records a reviewer's decision rather
// than a data change.
func (a Audit) IsReview() bool {
	switch a.Action {
	case ActionPendingApprove, ActionPendingReject, ActionReviewApprove, ActionReviewReject:
		return true
	}
	return false
}

func (a Audit) ShortDescription() string {
	model := strings.ToLower(a.Model)
	if a.IsIdentity() {
		switch a.Action {
		case ActionInsert:
			return fmt.Sprintf("created a %s", model)
		case ActionUpdate:
			return fmt.Sprintf("updated the %s", model)
		case ActionDelete:
			return fmt.Sprintf("deleted the %s", model)
		case ActionPendingApprove, ActionReviewApprove:
			return fmt.Sprintf("approved an edit to the %s", model)
		case ActionPendingReject, ActionReviewReject:
			return fmt.Sprintf("rejected an edit to the %s", model)
		}
	}
	field := strings.ReplaceAll(a.FieldName(), "_", " ")
	value := ""
	if a.CurrentValue != nil {
		value = *a.CurrentValue
	}
	switch a.Action {
	case ActionInsert, ActionUpdate:
		return fmt.Sprintf("set %s to %s", field, value)
	case ActionDelete:
		return fmt.Sprintf("deleted %s", field)
	case ActionPendingApprove, ActionReviewApprove:
		return fmt.Sprintf("approved setting %s to %s", field, value)
	case ActionPendingReject, ActionReviewReject:
		return fmt.Sprintf("rejected setting %s to %s", field, value)
	default:
		return fmt.Sprintf("%s %s", ActionLabel(a.Action), field)
	}
}

// ReputationMetric configures how many reputation points a tenant awards or
// deducts per model and action.
type ReputationMetric struct {
	TenantID         string
	Model            string
	Action           AuditAction
	DirectWriteScore int
	ApprovalScore    int
	DenialScore      int
}
