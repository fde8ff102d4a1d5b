package batch

import (
	"context"
	"fmt"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/internal/ledger"
	"github.com/dallo7/korosho/internal/notification"
	"github.com/dallo7/korosho/internal/verification"
	"github.com/dallo7/korosho/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TickResult is either an observational phase report or, on the final tick,
// the settlement outcome.
type TickResult struct {
	BatchID  int64              `json:"batch_id"`
	Status   domain.BatchStatus `json:"status"`
	Message  string             `json:"message"`
	Progress int                `json:"progress"`
	Final    bool               `json:"final"`

	Paid                int              `json:"paid,omitempty"`
	Failed              int              `json:"failed,omitempty"`
	Total               int              `json:"total,omitempty"`
	CommissionUSD       *decimal.Decimal `json:"commission_usd,omitempty"`
	CommissionReference string           `json:"commission_reference,omitempty"`
}

// Tick advances the payment pipeline for an authorized batch. Ticks below the
// configured count only report progress; the next tick runs recheck,
// settlement and ledger updates in one transaction, credited to actorID in the
// activity log. Missing, unauthorized or already processed batches are
// rejected without any change.
func (s *Service) Tick(ctx context.Context, batchID int64, tickIndex int, actorID uuid.UUID) (*TickResult, error) {
	const op = "batch.Tick"

	if tickIndex < 0 {
		return nil, errors.Validation(op, "tick index must not be negative")
	}

	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, classify(op, err)
	}
	if err := runnable(b.Status); err != nil {
		return nil, err
	}

	if tickIndex < s.ticks {
		phases := PaymentPhases
		if b.Status == domain.BatchStatusPendingAdminApproval {
			phases = VerificationPhases
		}
		res := &TickResult{
			BatchID:  batchID,
			Status:   b.Status,
			Message:  phaseMessage(phases, tickIndex),
			Progress: progress(tickIndex, s.ticks),
		}
		s.publish(ctx, notification.NewEvent(notification.EventPipelinePhase, batchID, b.CooperativeName,
			map[string]interface{}{"message": res.Message, "progress": res.Progress}))
		return res, nil
	}

	return s.finalize(ctx, batchID, actorID)
}

// systemActor labels activity whose acting account no longer exists.
const systemActor = "System"

func runnable(status domain.BatchStatus) error {
	switch status {
	case domain.BatchStatusPendingAdminApproval, domain.BatchStatusVerified:
		return nil
	case domain.BatchStatusProcessed:
		return errors.ErrBatchAlreadyProcessed
	default:
		return errors.ErrBatchNotAuthorized
	}
}

// finalize holds the batch lease and runs the atomic step:
// recheck -> verified -> settle -> processed -> commission + history.
// A batch already at verified skips the recheck.
func (s *Service) finalize(ctx context.Context, batchID int64, actorID uuid.UUID) (*TickResult, error) {
	const op = "batch.finalize"

	release, err := s.leaser.Acquire(ctx, batchID)
	if err != nil {
		return nil, err
	}
	defer release()

	log := s.logger.With(map[string]interface{}{"batch_id": batchID})
	src := s.rand()

	var (
		b       *domain.Batch
		paid    int
		failed  int
		invoice *domain.Invoice
	)
	err = s.store.WithinTx(ctx, func(repo Repository) error {
		var err error
		if b, err = repo.LockBatch(ctx, batchID); err != nil {
			return err
		}
		if err := runnable(b.Status); err != nil {
			return err
		}
		actor, err := repo.FindAccount(ctx, actorID)
		switch {
		case errors.Is(err, errors.ErrAccountNotFound):
			actor = &domain.Account{ID: uuid.Nil, CooperativeName: systemActor}
		case err != nil:
			return err
		}

		rows, err := repo.ListRows(ctx, batchID)
		if err != nil {
			return err
		}

		if b.Status == domain.BatchStatusPendingAdminApproval {
			rows = s.verifier.AdminRecheck(rows, src)
			if err := repo.UpdateRowVerification(ctx, rows); err != nil {
				return err
			}
			if err := repo.TransitionStatus(ctx, batchID, domain.BatchStatusPendingAdminApproval, domain.BatchStatusVerified); err != nil {
				return err
			}
			_, recheckFailed := verification.Counts(rows)
			if err := repo.RecordActivity(ctx, activity(actor, domain.ActionAccountVerification,
				fmt.Sprintf("Batch %d auto-verified. Failures: %d/%d.", batchID, recheckFailed, len(rows)))); err != nil {
				return err
			}
			b.Status = domain.BatchStatusVerified
		}

		outcome := s.settler.Settle(rows, src)
		if err := repo.UpdateRowSettlement(ctx, outcome.Rows); err != nil {
			return err
		}
		if err := repo.TransitionStatus(ctx, batchID, domain.BatchStatusVerified, domain.BatchStatusProcessed); err != nil {
			return err
		}
		b.Status = domain.BatchStatusProcessed
		paid, failed = outcome.Paid, outcome.Failed

		if invoice, err = repo.GetInvoiceByBatch(ctx, batchID); err != nil {
			return err
		}
		if err := s.ledger.ApplyCommission(invoice, b); err != nil {
			return err
		}
		if err := repo.RecordCommission(ctx, batchID, *invoice.CommissionUSD, *invoice.CommissionReference); err != nil {
			return err
		}

		prevHash, err := repo.LastHistoryHash(ctx)
		if err != nil {
			return err
		}
		if err := repo.AppendHistory(ctx, ledger.NewHistoryEntry(b, paid, failed, prevHash, s.now())); err != nil {
			return err
		}

		return repo.RecordActivity(ctx, activity(actor, domain.ActionPaymentProcessed,
			fmt.Sprintf("Processed '%s' for %s. Success: %d, Failed: %d.", b.Filename, b.CooperativeName, paid, failed)))
	})
	if err != nil {
		err = classify(op, err)
		if errors.KindOf(err) == errors.KindPersistence {
			log.Error("Payment pipeline rolled back", map[string]interface{}{"error": err.Error()})
		}
		return nil, err
	}

	log.Info("Batch processed", map[string]interface{}{
		"cooperative": b.CooperativeName,
		"paid":        paid,
		"failed":      failed,
		"commission":  invoice.CommissionUSD.StringFixed(2),
	})
	s.publish(ctx, notification.NewEvent(notification.EventPipelineCompleted, batchID, b.CooperativeName,
		map[string]interface{}{"success": paid, "failed": failed, "total": b.RecordCount}))

	return &TickResult{
		BatchID:             batchID,
		Status:              domain.BatchStatusProcessed,
		Message:             completionMessage(),
		Progress:            100,
		Final:               true,
		Paid:                paid,
		Failed:              failed,
		Total:               paid + failed,
		CommissionUSD:       invoice.CommissionUSD,
		CommissionReference: *invoice.CommissionReference,
	}, nil
}
