package types

import (
	"errors"
	"fmt"
)

// AuthorizeError reports a denied create, update, delete, or review
// resolution. It carries enough detail to explain the denial.
type AuthorizeError struct {
	UserUUID string
	Model    string
	Field    string
	Reason   string
}

func (e *AuthorizeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("user %s can't edit field %s on model %s: %s", e.UserUUID, e.Field, e.Model, e.Reason)
	}
	return fmt.Sprintf("user %s is not permitted on model %s: %s", e.UserUUID, e.Model, e.Reason)
}

func NewAuthorizeError(userUUID, model, field, reason string) error {
	return &AuthorizeError{UserUUID: userUUID, Model: model, Field: field, Reason: reason}
}

func IsAuthorizeError(err error) bool {
	_, ok := errors.AsType[*AuthorizeError](err)
	return ok
}

// ConfigError reports a permission grant or audit naming a model or field
// that is not registered with the governance system.
type ConfigError struct {
	Model  string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("governance config: model %s field %s: %s", e.Model, e.Field, e.Reason)
	}
	return fmt.Sprintf("governance config: model %s: %s", e.Model, e.Reason)
}

func IsConfigError(err error) bool {
	_, ok := errors.AsType[*ConfigError](err)
	return ok
}

// MaskedRecordError reports a mutation attempted on a record whose
// unreadable fields were masked for the requesting user.
type MaskedRecordError struct {
	Model string
}

func (e *MaskedRecordError) Error() string {
	return fmt.Sprintf("operation cannot be performed on a masked %s record", e.Model)
}

func IsMaskedRecordError(err error) bool {
	_, ok := errors.AsType[*MaskedRecordError](err)
	return ok
}

// ConsistencyError reports an internal invariant violation: a broken
// foreign key during materialization, a failed identifier reservation, or
// a review audit carrying a non-approval action.
type ConsistencyError struct {
	Reason string
}

func (e *ConsistencyError) Error() string {
	return "governance consistency: " + e.Reason
}

func NewConsistencyError(format string, args ...any) error {
	return &ConsistencyError{Reason: fmt.Sprintf(format, args...)}
}

func IsConsistencyError(err error) bool {
	_, ok := errors.AsType[*ConsistencyError](err)
	return ok
}
