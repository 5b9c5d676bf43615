package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/averyhale/fieldledger/modules/governance/domain/fieldmeta"
	"github.com/averyhale/fieldledger/modules/governance/domain/ports"
	"github.com/averyhale/fieldledger/modules/governance/domain/types"
	"github.com/averyhale/fieldledger/modules/governance/services"
	"github.com/averyhale/fieldledger/pkg/httperr"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorBody struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, apiErrorBody{Error: apiError{Code: code, Message: message}})
}

// domainStatus maps typed domain errors onto statuses and stable codes.
func domainStatus(err error) (status int, code string, message string) {
	switch {
	case httperr.IsBadRequest(err):
		return http.StatusBadRequest, "bad_request", err.Error()
	case types.IsAuthorizeError(err):
		return http.StatusForbidden, "not_authorized", err.Error()
	case types.IsMaskedRecordError(err):
		return http.StatusForbidden, "masked_record", err.Error()
	case types.IsConfigError(err):
		return http.StatusUnprocessableEntity, "config_error", err.Error()
	case isValueError(err):
		return http.StatusUnprocessableEntity, "invalid_value", err.Error()
	case errors.Is(err, ports.ErrAlreadyResolved):
		return http.StatusConflict, "already_resolved", "audit already resolved"
	case errors.Is(err, services.ErrPendingAuditNotReviewable):
		return http.StatusConflict, "pending_audit", "audit must go through the pending review flow"
	case types.IsConsistencyError(err):
		return http.StatusConflict, "consistency_error", err.Error()
	case errors.Is(err, ports.ErrRecordNotFound):
		return http.StatusNotFound, "record_not_found", "record not found"
	case errors.Is(err, ports.ErrAuditNotFound):
		return http.StatusNotFound, "audit_not_found", "audit not found"
	case errors.Is(err, ports.ErrRoleNotFound):
		return http.StatusNotFound, "role_not_found", "role not found"
	default:
		return http.StatusInternalServerError, "internal_error", "internal error"
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code, message := domainStatus(err)
	writeAPIError(w, status, code, message)
}

func isValueError(err error) bool {
	_, ok := errors.AsType[*fieldmeta.ValueError](err)
	return ok
}
