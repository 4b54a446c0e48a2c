package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	"siteline/internal/domain"
	"siteline/internal/engine/auth"
	"siteline/internal/events"
	"siteline/internal/feed"
	"siteline/internal/repo"
)

func ensureRemediationTransition(from, to domain.RemediationStatus) error {
	switch from {
	case domain.RemediationPending:
		if to == domain.RemediationCompleted {
			return nil
		}
	case domain.RemediationCompleted:
		if to == domain.RemediationVerified || to == domain.RemediationRejected {
			return nil
		}
	}
	return ForbiddenTransitionError{Entity: "remediation", From: string(from), To: string(to)}
}

// SubmitRemediation records the contractor's fix for a defect's pending
// remediation. Concurrent submissions for one defect are refused with
// ErrSubmissionInFlight until the first returns.
func (e Engine) SubmitRemediation(ctx context.Context, actor domain.Actor, defectID, description string, photos []string) (domain.Remediation, error) {
	if err := e.Guard.Require(actor, auth.PermRemediationSubmit); err != nil {
		return domain.Remediation{}, e.fail("remediation.submit", actor, err)
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return domain.Remediation{}, invalid("description", "is required")
	}
	if e.inflight != nil {
		if !e.inflight.acquire(defectID) {
			return domain.Remediation{}, e.fail("remediation.submit", actor, ErrSubmissionInFlight, zap.String("defect_id", defectID))
		}
		defer e.inflight.release(defectID)
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	var out domain.Remediation
	err := e.Repo.InTx(ctx, "submit remediation", func(tx *sql.Tx) error {
		if _, err := e.Repo.GetDefect(ctx, tx, defectID); err != nil {
			return err
		}
		rm, err := e.Repo.LiveRemediation(ctx, tx, defectID)
		if errors.Is(err, repo.ErrNotFound) {
			return ForbiddenTransitionError{Entity: "remediation", From: "closed", To: string(domain.RemediationCompleted)}
		}
		if err != nil {
			return err
		}
		w, err := e.Repo.GetWorkTx(ctx, tx, rm.WorkID)
		if err != nil {
			return err
		}
		if err := e.Guard.RequireOnWork(actor, auth.PermRemediationSubmit, w); err != nil {
			return err
		}
		from := rm.Status
		if err := ensureRemediationTransition(from, domain.RemediationCompleted); err != nil {
			return err
		}
		now := e.stamp()
		rm.Status = domain.RemediationCompleted
		rm.Description = description
		rm.Photos = feed.SplitList(strings.Join(photos, ","))
		rm.CompletedAt = &now
		rm.UpdatedAt = now
		if err := e.Repo.TransitionRemediation(ctx, tx, rm, from); err != nil {
			return e.staleRemediation(ctx, tx, err, rm.ID, domain.RemediationCompleted)
		}
		out = rm
		return e.Events.Append(ctx, tx, events.RemediationSubmit, "remediation", rm.ID, actor.ID, events.EventPayload{
			"defect_id": defectID, "photos": len(rm.Photos),
		})
	})
	if err != nil {
		return domain.Remediation{}, e.fail("remediation.submit", actor, storeErr("submit remediation", err), zap.String("defect_id", defectID))
	}
	e.logger().Info("remediation submitted", zap.String("remediation_id", out.ID), zap.String("defect_id", defectID))
	return out, nil
}

// VerifyRemediation approves or rejects a completed remediation. Rejection
// requires notes.
func (e Engine) VerifyRemediation(ctx context.Context, actor domain.Actor, remediationID string, approved bool, notes string) (domain.Remediation, error) {
	if err := e.Guard.Require(actor, auth.PermRemediationVerify); err != nil {
		return domain.Remediation{}, e.fail("remediation.verify", actor, err)
	}
	notes = strings.TrimSpace(notes)
	if !approved && notes == "" {
		return domain.Remediation{}, invalid("notes", "are required when rejecting")
	}
	to := domain.RemediationVerified
	if !approved {
		to = domain.RemediationRejected
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	var out domain.Remediation
	err := e.Repo.InTx(ctx, "verify remediation", func(tx *sql.Tx) error {
		rm, err := e.Repo.GetRemediation(ctx, tx, remediationID)
		if err != nil {
			return err
		}
		from := rm.Status
		if err := ensureRemediationTransition(from, to); err != nil {
			return err
		}
		now := e.stamp()
		rm.Status = to
		rm.VerificationNotes = notes
		rm.UpdatedAt = now
		if approved {
			by := actor.ID
			rm.VerifiedAt = &now
			rm.VerifiedBy = &by
		}
		if err := e.Repo.TransitionRemediation(ctx, tx, rm, from); err != nil {
			return e.staleRemediation(ctx, tx, err, rm.ID, to)
		}
		out = rm
		return e.Events.Append(ctx, tx, events.RemediationVerify, "remediation", rm.ID, actor.ID, events.EventPayload{
			"approved": approved, "to": to,
		})
	})
	if err != nil {
		return domain.Remediation{}, e.fail("remediation.verify", actor, storeErr("verify remediation", err), zap.String("remediation_id", remediationID))
	}
	e.logger().Info("remediation verified", zap.String("remediation_id", remediationID), zap.Bool("approved", approved))
	return out, nil
}

// ListRemediations lists a work's remediations, optionally by status.
func (e Engine) ListRemediations(ctx context.Context, actor domain.Actor, workID string, status domain.RemediationStatus) ([]domain.Remediation, error) {
	if err := e.Guard.Require(actor, auth.PermWorkRead); err != nil {
		return nil, err
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	return e.Repo.ListRemediations(ctx, workID, status)
}

func (e Engine) staleRemediation(ctx context.Context, tx *sql.Tx, err error, id string, to domain.RemediationStatus) error {
	if !errors.Is(err, repo.ErrStale) {
		return err
	}
	cur, gerr := e.Repo.GetRemediation(ctx, tx, id)
	if gerr != nil {
		return gerr
	}
	return ForbiddenTransitionError{Entity: "remediation", From: string(cur.Status), To: string(to)}
}
