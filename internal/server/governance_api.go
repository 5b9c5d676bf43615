package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/averyhale/fieldledger/modules/governance/domain/ports"
	"github.com/averyhale/fieldledger/modules/governance/domain/record"
	"github.com/averyhale/fieldledger/modules/governance/domain/registry"
	"github.com/averyhale/fieldledger/modules/governance/domain/types"
	"github.com/averyhale/fieldledger/modules/governance/services"
)

type governanceAPI struct {
	reg      *registry.Registry
	storeFor StoreFactory
	// rules is shared across requests so compiled grant conditions are
	// cached once per process.
	rules *services.RuleEvaluator
}

type tenantServices struct {
	store  ports.Store
	gate   *services.Gate
	save   *services.SaveService
	review *services.ReviewService
}

func (api *governanceAPI) services(tenantID string) tenantServices {
	store := api.storeFor(tenantID)
	gate := services.NewGate(store, api.reg, api.rules)
	notifier := services.NewReputationService(store)
	return tenantServices{
		store:  store,
		gate:   gate,
		save:   services.NewSaveService(store, api.reg, gate, notifier),
		review: services.NewReviewService(store, api.reg, gate, notifier),
	}
}

func (api *governanceAPI) loadRecord(ctx context.Context, store ports.Store, tenantID, model string, id int64) (*record.Record, error) {
	meta, err := api.reg.Resolve(model)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return record.New(meta, tenantID), nil
	}
	values, err := store.Records().Get(ctx, tenantID, model, id)
	if err != nil {
		return nil, err
	}
	return record.Existing(meta, tenantID, id, values), nil
}

func requireContext(w http.ResponseWriter, r *http.Request) (Tenant, Principal, bool) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		writeAPIError(w, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return Tenant{}, Principal{}, false
	}
	principal, ok := currentPrincipal(r.Context())
	if !ok {
		writeAPIError(w, http.StatusUnauthorized, "unauthenticated", "user is required")
		return Tenant{}, Principal{}, false
	}
	return tenant, principal, true
}

func queryRecordRef(r *http.Request) (model string, id int64, err error) {
	model = r.URL.Query().Get("model")
	if model == "" {
		return "", 0, errors.New("model is required")
	}
	raw := r.URL.Query().Get("id")
	if raw == "" {
		return model, 0, nil
	}
	id, err = strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", 0, errors.New("invalid id")
	}
	return model, id, nil
}

type saveRecordRequest struct {
	Model  string            `json:"model"`
	ID     int64             `json:"id"`
	Values map[string]string `json:"values"`
	// Clear lists fields to null out; a JSON null cannot survive a
	// map[string]string decode.
	Clear []string `json:"clear"`
}

type saveRecordResponse struct {
	ID            int64             `json:"id"`
	PendingInsert bool              `json:"pending_insert"`
	Values        map[string]string `json:"values"`
}

func (api *governanceAPI) handleRecordSave(w http.ResponseWriter, r *http.Request) {
	tenant, principal, ok := requireContext(w, r)
	if !ok {
		return
	}

	var req saveRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusUnprocessableEntity, "invalid_json", "invalid json")
		return
	}
	if req.Model == "" {
		writeAPIError(w, http.StatusUnprocessableEntity, "invalid_form", "model is required")
		return
	}

	svc := api.services(tenant.ID)
	rec, err := api.loadRecord(r.Context(), svc.store, tenant.ID, req.Model, req.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	fields := make([]string, 0, len(req.Values))
	for field := range req.Values {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if err := rec.Set(field, req.Values[field]); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	for _, field := range req.Clear {
		if err := rec.SetNull(field); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	user := types.User{UUID: principal.UserUUID}
	if err := svc.save.Save(r.Context(), user, rec); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, saveRecordResponse{
		ID:            rec.ID(),
		PendingInsert: rec.IsPendingInsert(),
		Values:        rec.Values(),
	})
}

type deleteRecordRequest struct {
	Model string `json:"model"`
	ID    int64  `json:"id"`
}

func (api *governanceAPI) handleRecordDelete(w http.ResponseWriter, r *http.Request) {
	tenant, principal, ok := requireContext(w, r)
	if !ok {
		return
	}

	var req deleteRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusUnprocessableEntity, "invalid_json", "invalid json")
		return
	}
	if req.Model == "" || req.ID == 0 {
		writeAPIError(w, http.StatusUnprocessableEntity, "invalid_form", "model and id are required")
		return
	}

	svc := api.services(tenant.ID)
	rec, err := api.loadRecord(r.Context(), svc.store, tenant.ID, req.Model, req.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	user := types.User{UUID: principal.UserUUID}
	if err := svc.save.Delete(r.Context(), user, rec); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type recordResponse struct {
	Model  string            `json:"model"`
	ID     int64             `json:"id"`
	Masked bool              `json:"masked"`
	Values map[string]string `json:"values"`
}

func (api *governanceAPI) handleRecordGet(w http.ResponseWriter, r *http.Request) {
	tenant, principal, ok := requireContext(w, r)
	if !ok {
		return
	}

	model, id, err := queryRecordRef(r)
	if err != nil || id == 0 {
		writeAPIError(w, http.StatusUnprocessableEntity, "invalid_form", "model and id are required")
		return
	}

	svc := api.services(tenant.ID)
	rec, err := api.loadRecord(r.Context(), svc.store, tenant.ID, model, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := svc.gate.MaskUnauthorized(r.Context(), principal.UserUUID, rec); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, recordResponse{
		Model:  model,
		ID:     rec.ID(),
		Masked: rec.Masked(),
		Values: rec.Values(),
	})
}

type recordFieldsResponse struct {
	Model    string   `json:"model"`
	Visible  []string `json:"visible"`
	Editable []string `json:"editable"`
}

func (api *governanceAPI) handleRecordFields(w http.ResponseWriter, r *http.Request) {
	tenant, principal, ok := requireContext(w, r)
	if !ok {
		return
	}

	model, id, err := queryRecordRef(r)
	if err != nil {
		writeAPIError(w, http.StatusUnprocessableEntity, "invalid_form", err.Error())
		return
	}

	svc := api.services(tenant.ID)
	rec, err := api.loadRecord(r.Context(), svc.store, tenant.ID, model, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	visible, err := svc.gate.VisibleFields(r.Context(), principal.UserUUID, rec)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	editable, err := svc.gate.EditableFields(r.Context(), principal.UserUUID, rec)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, recordFieldsResponse{
		Model:    model,
		Visible:  visible,
		Editable: editable,
	})
}

type auditJSON struct {
	ID            string    `json:"id"`
	Model         string    `json:"model"`
	ModelID       int64     `json:"model_id"`
	Field         *string   `json:"field,omitempty"`
	PreviousValue *string   `json:"previous_value,omitempty"`
	CurrentValue  *string   `json:"current_value,omitempty"`
	UserUUID      string    `json:"user_uuid"`
	Action        string    `json:"action"`
	RequiresAuth  bool      `json:"requires_auth"`
	RefID         *string   `json:"ref_id,omitempty"`
	Created       time.Time `json:"created"`
	Updated       time.Time `json:"updated"`
	Description   string    `json:"description"`
}

func toAuditJSON(a types.Audit) auditJSON {
	return auditJSON{
		ID:            a.ID,
		Model:         a.Model,
		ModelID:       a.ModelID,
		Field:         a.Field,
		PreviousValue: a.PreviousValue,
		CurrentValue:  a.CurrentValue,
		UserUUID:      a.UserUUID,
		Action:        string(a.Action),
		RequiresAuth:  a.RequiresAuth,
		RefID:         a.RefID,
		Created:       a.Created,
		Updated:       a.Updated,
		Description:   a.ShortDescription(),
	}
}

func toAuditJSONList(audits []types.Audit) []auditJSON {
	out := make([]auditJSON, 0, len(audits))
	for _, a := range audits {
		out = append(out, toAuditJSON(a))
	}
	return out
}

type recordAuditsResponse struct {
	Model  string      `json:"model"`
	ID     int64       `json:"id"`
	Hash   string      `json:"hash"`
	Audits []auditJSON `json:"audits"`
}

func (api *governanceAPI) handleRecordAudits(w http.ResponseWriter, r *http.Request) {
	tenant, _, ok := requireContext(w, r)
	if !ok {
		return
	}

	model, id, err := queryRecordRef(r)
	if err != nil || id == 0 {
		writeAPIError(w, http.StatusUnprocessableEntity, "invalid_form", "model and id are required")
		return
	}

	svc := api.services(tenant.ID)
	rec, err := api.loadRecord(r.Context(), svc.store, tenant.ID, model, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	audits, err := svc.save.Audits(r.Context(), rec)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	hash, err := svc.save.Hash(r.Context(), rec)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, recordAuditsResponse{
		Model:  model,
		ID:     id,
		Hash:   hash,
		Audits: toAuditJSONList(audits),
	})
}

func (api *governanceAPI) handlePendingAudits(w http.ResponseWriter, r *http.Request) {
	tenant, _, ok := requireContext(w, r)
	if !ok {
		return
	}

	svc := api.services(tenant.ID)
	audits, err := svc.review.PendingAudits(r.Context(), tenant.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]auditJSON{"audits": toAuditJSONList(audits)})
}

type resolveReviewsRequest struct {
	AuditIDs []string `json:"audit_ids"`
	Approved bool     `json:"approved"`
}

type resolveReviewsResponse struct {
	Resolved int       `json:"resolved"`
	Error    *apiError `json:"error,omitempty"`
}

func (api *governanceAPI) handleReviewsResolve(w http.ResponseWriter, r *http.Request) {
	tenant, principal, ok := requireContext(w, r)
	if !ok {
		return
	}

	var req resolveReviewsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusUnprocessableEntity, "invalid_json", "invalid json")
		return
	}
	if len(req.AuditIDs) == 0 {
		writeAPIError(w, http.StatusUnprocessableEntity, "invalid_form", "audit_ids are required")
		return
	}

	svc := api.services(tenant.ID)
	audits := make([]types.Audit, 0, len(req.AuditIDs))
	for _, auditID := range req.AuditIDs {
		audit, err := svc.store.Audits().Get(r.Context(), tenant.ID, auditID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		audits = append(audits, audit)
	}

	reviewer := types.User{UUID: principal.UserUUID}
	resolved, err := svc.review.ApproveOrReject(r.Context(), tenant.ID, audits, reviewer, req.Approved)
	if err != nil {
		inner := err
		if be, ok := errors.AsType[*services.BatchError](err); ok {
			resolved = be.Resolved
			inner = be.Err
		}
		status, code, message := domainStatus(inner)
		writeJSON(w, status, resolveReviewsResponse{
			Resolved: resolved,
			Error:    &apiError{Code: code, Message: message},
		})
		return
	}
	writeJSON(w, http.StatusOK, resolveReviewsResponse{Resolved: resolved})
}

type resolveEditRequest struct {
	AuditID  string `json:"audit_id"`
	Approved bool   `json:"approved"`
}

func (api *governanceAPI) handleReviewsResolveEdit(w http.ResponseWriter, r *http.Request) {
	tenant, principal, ok := requireContext(w, r)
	if !ok {
		return
	}

	var req resolveEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusUnprocessableEntity, "invalid_json", "invalid json")
		return
	}
	if req.AuditID == "" {
		writeAPIError(w, http.StatusUnprocessableEntity, "invalid_form", "audit_id is required")
		return
	}

	svc := api.services(tenant.ID)
	reviewer := types.User{UUID: principal.UserUUID}
	review, err := svc.review.ReviewExistingEdit(r.Context(), tenant.ID, req.AuditID, reviewer, req.Approved)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditJSON(review))
}

type reputationResponse struct {
	UserUUID string `json:"user_uuid"`
	Score    int    `json:"score"`
}

func (api *governanceAPI) handleReputation(w http.ResponseWriter, r *http.Request) {
	tenant, principal, ok := requireContext(w, r)
	if !ok {
		return
	}

	userUUID := r.URL.Query().Get("user")
	if userUUID == "" {
		userUUID = principal.UserUUID
	}

	svc := api.services(tenant.ID)
	score, err := svc.store.Reputation().UserScore(r.Context(), tenant.ID, userUUID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reputationResponse{UserUUID: userUUID, Score: score})
}
