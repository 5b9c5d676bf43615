package services

import (
	"context"
	"errors"
	"log"

	"github.com/averyhale/fieldledger/modules/governance/domain/ports"
	"github.com/averyhale/fieldledger/modules/governance/domain/types"
)

// ReputationService consumes the ledger-append notification and adjusts the
// acting user's reputation per the tenant's configured metrics. A tenant
// with no metric for the audit's model and action awards nothing. The
// reputation score never drops below zero.
type ReputationService struct {
	store ports.Store
}

func NewReputationService(store ports.Store) *ReputationService {
	return &ReputationService{store: store}
}

func (s *ReputationService) AuditAppended(ctx context.Context, audit types.Audit) {
	if err := s.apply(ctx, audit); err != nil {
		log.Printf("reputation: audit %s: %v", audit.ID, err)
	}
}

func (s *ReputationService) apply(ctx context.Context, audit types.Audit) error {
	metric, err := s.store.Reputation().MetricFor(ctx, audit.TenantID, audit.Model, audit.Action)
	if err != nil {
		if errors.Is(err, ports.ErrMetricNotFound) {
			return nil
		}
		return err
	}

	if audit.RequiresAuth && audit.RefID != nil {
		review, err := s.store.Audits().Get(ctx, audit.TenantID, *audit.RefID)
		if err != nil {
			return err
		}
		switch review.Action {
		case types.ActionPendingApprove:
			_, err = s.store.Reputation().AdjustUser(ctx, audit.TenantID, audit.UserUUID, metric.ApprovalScore)
			return err
		case types.ActionPendingReject:
			_, err = s.store.Reputation().AdjustUser(ctx, audit.TenantID, audit.UserUUID, -metric.DenialScore)
			return err
		default:
			return types.NewConsistencyError(
				"referenced audit %s must carry a pending approval action, got %s", review.ID, review.Action)
		}
	}

	if !audit.RequiresAuth {
		// A direct write scores when first written. A ref set later links
		// a reviewer's decision to it, not a new write.
		if audit.RefID != nil {
			return nil
		}
		_, err = s.store.Reputation().AdjustUser(ctx, audit.TenantID, audit.UserUUID, metric.DirectWriteScore)
		return err
	}
	return nil
}
