package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"siteline/internal/domain"
	"siteline/internal/engine/auth"
	"siteline/internal/events"
	"siteline/internal/feed"
	"siteline/internal/repo"
)

func ensureInspectionTransition(from, to domain.InspectionStatus) error {
	switch from {
	case domain.InspectionDraft, domain.InspectionOnRework:
		if to == domain.InspectionActive {
			return nil
		}
	case domain.InspectionActive:
		if to == domain.InspectionCompleted || to == domain.InspectionOnRework {
			return nil
		}
	case domain.InspectionCompleted:
		if to == domain.InspectionOnRework {
			return nil
		}
	}
	return ForbiddenTransitionError{Entity: "inspection", From: string(from), To: string(to)}
}

// InspectionCreateOptions select the checkpoints of a new inspection: the
// named checklist's templates followed by any explicit ones.
type InspectionCreateOptions struct {
	WorkID        string
	Checklist     string
	Templates     []domain.CheckpointTemplate
	Title         string
	Description   string
	ScheduledDate string
	Photos        []string
}

func (e Engine) CreateInspection(ctx context.Context, actor domain.Actor, opts InspectionCreateOptions) (domain.Inspection, error) {
	if err := e.Guard.Require(actor, auth.PermInspectionCreate); err != nil {
		return domain.Inspection{}, e.fail("inspection.create", actor, err)
	}
	var templates []domain.CheckpointTemplate
	if opts.Checklist != "" {
		tpl, ok := e.Config.Checklist(opts.Checklist)
		if !ok {
			return domain.Inspection{}, invalid("checklist", fmt.Sprintf("unknown checklist %q", opts.Checklist))
		}
		templates = append(templates, tpl...)
	}
	for i, t := range opts.Templates {
		if strings.TrimSpace(t.Title) == "" {
			return domain.Inspection{}, invalid(fmt.Sprintf("templates[%d].title", i), "is required")
		}
		if t.ID == "" {
			t.ID = fmt.Sprintf("custom-%d", i+1)
		}
		templates = append(templates, t)
	}
	if len(templates) == 0 {
		return domain.Inspection{}, invalid("checkpoints", "at least one checkpoint template is required")
	}

	ctx, cancel := e.opContext(ctx)
	defer cancel()
	now := e.stamp()
	in := domain.Inspection{
		ID:            uuid.New().String(),
		WorkID:        opts.WorkID,
		Status:        domain.InspectionDraft,
		ScheduledDate: optionalString(opts.ScheduledDate),
		AuthorID:      actor.ID,
		AuthorName:    actor.Name,
		AuthorRole:    actor.Role,
		Title:         strings.TrimSpace(opts.Title),
		Description:   strings.TrimSpace(opts.Description),
		Photos:        feed.JoinList(opts.Photos),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := e.Repo.InTx(ctx, "create inspection", func(tx *sql.Tx) error {
		w, err := e.Repo.GetWorkTx(ctx, tx, opts.WorkID)
		if err != nil {
			return err
		}
		if err := e.Guard.RequireOnWork(actor, auth.PermInspectionCreate, w); err != nil {
			return err
		}
		if in.Number, err = e.Repo.NextInspectionNumber(ctx, tx, w.ID); err != nil {
			return err
		}
		if err := e.Repo.InsertInspection(ctx, tx, in); err != nil {
			return err
		}
		for i, t := range templates {
			cp := domain.Checkpoint{
				ID:                uuid.New().String(),
				InspectionID:      in.ID,
				TemplateID:        t.ID,
				Title:             t.Title,
				StandardReference: t.StandardReference,
				Status:            domain.CheckpointNotChecked,
				Position:          i,
			}
			if err := e.Repo.InsertCheckpoint(ctx, tx, cp); err != nil {
				return err
			}
			in.Checkpoints = append(in.Checkpoints, cp)
		}
		return e.Events.Append(ctx, tx, events.InspectionCreate, "inspection", in.ID, actor.ID, events.EventPayload{
			"work_id": in.WorkID, "number": in.Number, "checkpoints": len(templates),
		})
	})
	if err != nil {
		return domain.Inspection{}, e.fail("inspection.create", actor, storeErr("create inspection", err), zap.String("work_id", opts.WorkID))
	}
	e.logger().Info("inspection created", zap.String("inspection_id", in.ID), zap.Int("number", in.Number))
	return in, nil
}

func (e Engine) GetInspection(ctx context.Context, actor domain.Actor, id string) (domain.Inspection, error) {
	if err := e.Guard.Require(actor, auth.PermWorkRead); err != nil {
		return domain.Inspection{}, err
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	return e.Repo.GetInspection(ctx, nil, id)
}

func (e Engine) ListInspections(ctx context.Context, actor domain.Actor, workID string) ([]domain.Inspection, error) {
	if err := e.Guard.Require(actor, auth.PermWorkRead); err != nil {
		return nil, err
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	if _, err := e.Repo.GetWork(ctx, workID); err != nil {
		return nil, err
	}
	return e.Repo.ListInspections(ctx, workID)
}

// InspectionDefects returns an inspection's persisted defects with their
// latest remediation.
func (e Engine) InspectionDefects(ctx context.Context, actor domain.Actor, id string) ([]domain.DefectWithRemediation, error) {
	if err := e.Guard.Require(actor, auth.PermWorkRead); err != nil {
		return nil, err
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	in, err := e.Repo.GetInspection(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	all, err := e.Repo.ListWorkDefects(ctx, in.WorkID)
	if err != nil {
		return nil, err
	}
	out := []domain.DefectWithRemediation{}
	for _, d := range all {
		if d.InspectionID == id {
			out = append(out, d)
		}
	}
	return out, nil
}

// SetCheckpointStatus records a review result on a checkpoint of an editable
// inspection. A non-compliant result keeps a draft defect, merging the
// provided fields into any existing draft; a compliant result clears it.
func (e Engine) SetCheckpointStatus(ctx context.Context, actor domain.Actor, inspectionID, checkpointID string, status domain.CheckpointStatus, draft *domain.DraftDefect) (domain.Checkpoint, error) {
	if err := e.Guard.Require(actor, auth.PermInspectionEdit); err != nil {
		return domain.Checkpoint{}, e.fail("checkpoint.set", actor, err)
	}
	if status != domain.CheckpointCompliant && status != domain.CheckpointNonCompliant {
		return domain.Checkpoint{}, invalid("status", "must be compliant or non_compliant")
	}
	if draft != nil && draft.Severity != "" && !draft.Severity.IsValid() {
		return domain.Checkpoint{}, invalid("severity", "must be one of low, medium, high, critical")
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	var out domain.Checkpoint
	err := e.Repo.InTx(ctx, "set checkpoint status", func(tx *sql.Tx) error {
		in, err := e.Repo.GetInspection(ctx, tx, inspectionID)
		if err != nil {
			return err
		}
		if !in.Status.Editable() {
			return ForbiddenTransitionError{Entity: "checkpoint", From: string(in.Status), To: string(status)}
		}
		var cp *domain.Checkpoint
		for i := range in.Checkpoints {
			if in.Checkpoints[i].ID == checkpointID {
				cp = &in.Checkpoints[i]
				break
			}
		}
		if cp == nil {
			return repo.ErrNotFound
		}
		cp.Status = status
		if status == domain.CheckpointCompliant {
			cp.Draft = nil
		} else {
			cp.Draft = mergeDraft(cp.Draft, draft, cp.StandardReference)
		}
		if err := e.Repo.UpdateCheckpoint(ctx, tx, *cp); err != nil {
			return err
		}
		out = *cp
		return e.Events.Append(ctx, tx, events.CheckpointSet, "inspection", in.ID, actor.ID, events.EventPayload{
			"checkpoint_id": cp.ID, "status": cp.Status,
		})
	})
	if err != nil {
		return domain.Checkpoint{}, e.fail("checkpoint.set", actor, storeErr("set checkpoint status", err), zap.String("inspection_id", inspectionID))
	}
	return out, nil
}

func mergeDraft(cur, in *domain.DraftDefect, defaultRef string) *domain.DraftDefect {
	out := domain.DraftDefect{}
	if cur != nil {
		out = *cur
	}
	if in != nil {
		if v := strings.TrimSpace(in.Description); v != "" {
			out.Description = v
		}
		if v := strings.TrimSpace(in.StandardReference); v != "" {
			out.StandardReference = v
		}
		if v := strings.TrimSpace(in.Location); v != "" {
			out.Location = v
		}
		if in.Severity != "" {
			out.Severity = in.Severity
		}
		if v := strings.TrimSpace(in.ResponsibleParty); v != "" {
			out.ResponsibleParty = v
		}
		if in.Deadline != nil {
			out.Deadline = optionalString(*in.Deadline)
		}
		if in.Photos != nil {
			out.Photos = feed.SplitList(strings.Join(in.Photos, ","))
		}
	}
	if out.StandardReference == "" {
		out.StandardReference = defaultRef
	}
	if out.Severity == "" {
		out.Severity = domain.SeverityMedium
	}
	return &out
}

// validateSubmission checks that at least one checkpoint was reviewed and
// every non-compliant draft carries a description and standard reference.
func validateSubmission(cps []domain.Checkpoint) error {
	reviewed := 0
	for _, cp := range cps {
		if cp.Status == domain.CheckpointNotChecked {
			continue
		}
		reviewed++
		if cp.Status != domain.CheckpointNonCompliant {
			continue
		}
		if cp.Draft == nil || strings.TrimSpace(cp.Draft.Description) == "" {
			return invalid("checkpoints."+cp.TemplateID+".description", "is required for a non-compliant checkpoint")
		}
		if strings.TrimSpace(cp.Draft.StandardReference) == "" {
			return invalid("checkpoints."+cp.TemplateID+".standard_reference", "is required for a non-compliant checkpoint")
		}
	}
	if reviewed == 0 {
		return invalid("checkpoints", "at least one checkpoint must be reviewed")
	}
	return nil
}

// SubmitInspection validates the checkpoints, materializes a defect with a
// pending remediation for every non-compliant one and activates the
// inspection.
func (e Engine) SubmitInspection(ctx context.Context, actor domain.Actor, id string) (domain.Inspection, error) {
	if err := e.Guard.Require(actor, auth.PermInspectionSubmit); err != nil {
		return domain.Inspection{}, e.fail("inspection.submit", actor, err)
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	var out domain.Inspection
	err := e.Repo.InTx(ctx, "submit inspection", func(tx *sql.Tx) error {
		in, err := e.Repo.GetInspection(ctx, tx, id)
		if err != nil {
			return err
		}
		from := in.Status
		if err := ensureInspectionTransition(from, domain.InspectionActive); err != nil {
			return err
		}
		if err := validateSubmission(in.Checkpoints); err != nil {
			return err
		}
		w, err := e.Repo.GetWorkTx(ctx, tx, in.WorkID)
		if err != nil {
			return err
		}
		if err := e.Guard.RequireOnWork(actor, auth.PermInspectionSubmit, w); err != nil {
			return err
		}
		now := e.stamp()
		defects, err := e.materializeDefects(ctx, tx, in, w, now)
		if err != nil {
			return err
		}
		snapshot, err := feed.EncodeDefects(defects)
		if err != nil {
			return err
		}
		in.Status = domain.InspectionActive
		in.DefectsJSON = snapshot
		in.DefectsCount = len(defects)
		in.UpdatedAt = now
		if err := e.Repo.UpdateInspection(ctx, tx, in, from); err != nil {
			return e.staleInspection(ctx, tx, err, id, domain.InspectionActive)
		}
		if err := e.appendInspectionReport(ctx, tx, actor, in, true); err != nil {
			return err
		}
		out = in
		return e.Events.Append(ctx, tx, events.InspectionSubmit, "inspection", in.ID, actor.ID, events.EventPayload{
			"from": from, "to": in.Status, "defects_count": in.DefectsCount,
		})
	})
	if err != nil {
		return domain.Inspection{}, e.fail("inspection.submit", actor, storeErr("submit inspection", err), zap.String("inspection_id", id))
	}
	e.logger().Info("inspection submitted", zap.String("inspection_id", id), zap.Int("defects", out.DefectsCount))
	return out, nil
}

// materializeDefects syncs the defects table with the non-compliant
// checkpoints and returns the defects of this round in checkpoint order.
// Defects of checkpoints no longer non-compliant are dropped only while
// their remediation is still pending; otherwise they stay as history.
// A defect whose fix was verified is closed and stays out of later rounds.
func (e Engine) materializeDefects(ctx context.Context, tx *sql.Tx, in domain.Inspection, w domain.Work, now string) ([]domain.Defect, error) {
	existing, err := e.Repo.ListDefects(ctx, tx, in.ID)
	if err != nil {
		return nil, err
	}
	byCheckpoint := map[string]domain.Defect{}
	for _, d := range existing {
		if d.CheckpointID != "" {
			byCheckpoint[d.CheckpointID] = d
		}
	}

	defects := []domain.Defect{}
	open := map[string]bool{}
	for _, cp := range in.Checkpoints {
		if cp.Status != domain.CheckpointNonCompliant {
			continue
		}
		open[cp.ID] = true
		d := defectFromDraft(cp)
		if prev, ok := byCheckpoint[cp.ID]; ok {
			closed, err := e.defectVerified(ctx, tx, prev.ID)
			if err != nil {
				return nil, err
			}
			if closed {
				continue
			}
			d.ID = prev.ID
			if err := e.Repo.UpdateDefect(ctx, tx, d); err != nil {
				return nil, err
			}
		} else {
			d.ID = uuid.New().String()
			if err := e.Repo.InsertDefect(ctx, tx, d, now); err != nil {
				return nil, err
			}
		}
		if err := e.ensurePendingRemediation(ctx, tx, d, w, now); err != nil {
			return nil, err
		}
		defects = append(defects, d)
	}

	for _, d := range existing {
		if open[d.CheckpointID] {
			continue
		}
		live, err := e.Repo.LiveRemediation(ctx, tx, d.ID)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if live.Status == domain.RemediationPending {
			if err := e.Repo.DeleteDefect(ctx, tx, d.ID); err != nil {
				return nil, err
			}
		}
	}
	return defects, nil
}

func (e Engine) defectVerified(ctx context.Context, tx *sql.Tx, defectID string) (bool, error) {
	rm, err := e.Repo.LatestRemediation(ctx, tx, defectID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rm.Status == domain.RemediationVerified, nil
}

func (e Engine) ensurePendingRemediation(ctx context.Context, tx *sql.Tx, d domain.Defect, w domain.Work, now string) error {
	_, err := e.Repo.LiveRemediation(ctx, tx, d.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	return e.Repo.InsertRemediation(ctx, tx, domain.Remediation{
		ID:           uuid.New().String(),
		DefectID:     d.ID,
		InspectionID: d.InspectionID,
		WorkID:       w.ID,
		ContractorID: w.ContractorID,
		Status:       domain.RemediationPending,
		Photos:       []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func defectFromDraft(cp domain.Checkpoint) domain.Defect {
	dr := domain.DraftDefect{}
	if cp.Draft != nil {
		dr = *cp.Draft
	}
	sev := dr.Severity
	if !sev.IsValid() {
		sev = domain.SeverityMedium
	}
	photos := dr.Photos
	if photos == nil {
		photos = []string{}
	}
	return domain.Defect{
		InspectionID:      cp.InspectionID,
		CheckpointID:      cp.ID,
		Description:       strings.TrimSpace(dr.Description),
		StandardReference: strings.TrimSpace(dr.StandardReference),
		Location:          dr.Location,
		Severity:          sev,
		ResponsibleParty:  dr.ResponsibleParty,
		Deadline:          dr.Deadline,
		Photos:            photos,
	}
}

func (e Engine) CompleteInspection(ctx context.Context, actor domain.Actor, id string) (domain.Inspection, error) {
	return e.transitionInspection(ctx, actor, id, domain.InspectionCompleted, auth.PermInspectionComplete, events.InspectionComplete)
}

// ReopenForRework returns an active or completed inspection to an editable
// state so it can be corrected and resubmitted.
func (e Engine) ReopenForRework(ctx context.Context, actor domain.Actor, id string) (domain.Inspection, error) {
	return e.transitionInspection(ctx, actor, id, domain.InspectionOnRework, auth.PermInspectionRework, events.InspectionRework)
}

func (e Engine) transitionInspection(ctx context.Context, actor domain.Actor, id string, to domain.InspectionStatus, perm, evt string) (domain.Inspection, error) {
	if err := e.Guard.Require(actor, perm); err != nil {
		return domain.Inspection{}, e.fail(evt, actor, err)
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	var out domain.Inspection
	err := e.Repo.InTx(ctx, evt, func(tx *sql.Tx) error {
		in, err := e.Repo.GetInspection(ctx, tx, id)
		if err != nil {
			return err
		}
		from := in.Status
		if err := ensureInspectionTransition(from, to); err != nil {
			return err
		}
		w, err := e.Repo.GetWorkTx(ctx, tx, in.WorkID)
		if err != nil {
			return err
		}
		if err := e.Guard.RequireOnWork(actor, perm, w); err != nil {
			return err
		}
		in.Status = to
		in.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateInspection(ctx, tx, in, from); err != nil {
			return e.staleInspection(ctx, tx, err, id, to)
		}
		if to == domain.InspectionCompleted {
			if err := e.appendInspectionReport(ctx, tx, actor, in, false); err != nil {
				return err
			}
		}
		out = in
		return e.Events.Append(ctx, tx, evt, "inspection", in.ID, actor.ID, events.EventPayload{"from": from, "to": to})
	})
	if err != nil {
		return domain.Inspection{}, e.fail(evt, actor, storeErr(evt, err), zap.String("inspection_id", id))
	}
	e.logger().Info("inspection transition", zap.String("inspection_id", id), zap.String("to", string(to)))
	return out, nil
}

// staleInspection turns a lost conditional update into the transition
// error for the status some other writer left behind.
func (e Engine) staleInspection(ctx context.Context, tx *sql.Tx, err error, id string, to domain.InspectionStatus) error {
	if !errors.Is(err, repo.ErrStale) {
		return err
	}
	cur, gerr := e.Repo.GetInspection(ctx, tx, id)
	if gerr != nil {
		return gerr
	}
	return ForbiddenTransitionError{Entity: "inspection", From: string(cur.Status), To: string(to)}
}

// appendInspectionReport feeds an inspection start or completion back into
// the work's progress log.
func (e Engine) appendInspectionReport(ctx context.Context, tx *sql.Tx, actor domain.Actor, in domain.Inspection, started bool) error {
	number, count, inspID := in.Number, in.DefectsCount, in.ID
	rep := domain.WorkReport{
		ID:                    e.newRecordID(),
		WorkID:                in.WorkID,
		AuthorID:              actor.ID,
		AuthorName:            actor.Name,
		AuthorRole:            actor.Role,
		CreatedAt:             e.stamp(),
		IsInspectionStart:     started,
		IsInspectionCompleted: !started,
		InspectionID:          &inspID,
		InspectionNumber:      &number,
		DefectsCount:          &count,
	}
	if started {
		rep.Description = fmt.Sprintf("Inspection #%d started", number)
	} else {
		rep.Description = fmt.Sprintf("Inspection #%d completed", number)
	}
	return e.Repo.InsertWorkReport(ctx, tx, rep)
}
