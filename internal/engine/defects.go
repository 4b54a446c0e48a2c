package engine

import (
	"context"

	"siteline/internal/domain"
	"siteline/internal/engine/auth"
	"siteline/internal/export"
)

// WorkDefects lists every defect of a work with its latest remediation.
func (e Engine) WorkDefects(ctx context.Context, actor domain.Actor, workID string) ([]domain.DefectWithRemediation, error) {
	if err := e.Guard.Require(actor, auth.PermWorkRead); err != nil {
		return nil, err
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	if _, err := e.Repo.GetWork(ctx, workID); err != nil {
		return nil, err
	}
	return e.Repo.ListWorkDefects(ctx, workID)
}

// ExportDefects renders the defect register of a work as an xlsx workbook.
func (e Engine) ExportDefects(ctx context.Context, actor domain.Actor, workID string) ([]byte, error) {
	if err := e.Guard.Require(actor, auth.PermDefectsExport); err != nil {
		return nil, e.fail("defects.export", actor, err)
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	w, err := e.Repo.GetWork(ctx, workID)
	if err != nil {
		return nil, err
	}
	inspections, err := e.Repo.ListInspections(ctx, workID)
	if err != nil {
		return nil, err
	}
	defects, err := e.Repo.ListWorkDefects(ctx, workID)
	if err != nil {
		return nil, err
	}
	return export.DefectRegister(w, inspections, defects)
}
