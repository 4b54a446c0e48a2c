package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"siteline/internal/domain"
	"siteline/internal/engine"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type inspectionPath struct {
	ID string `path:"id"`
}

type inspectionOutput struct {
	Body domain.Inspection `json:"body"`
}

func registerInspections(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-inspection",
		Method:      http.MethodPost,
		Path:        "/works/{work_id}/inspections",
		Summary:     "Schedule an inspection",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		WorkID string                  `path:"work_id"`
		Body   CreateInspectionRequest `json:"body"`
	}) (*inspectionOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		in, err := e.CreateInspection(ctx, actor, engine.InspectionCreateOptions{
			WorkID:        input.WorkID,
			Checklist:     b.Checklist,
			Templates:     b.Checkpoints,
			Title:         b.Title,
			Description:   b.Description,
			ScheduledDate: b.ScheduledDate,
			Photos:        b.Photos,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &inspectionOutput{Body: in}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-inspections",
		Method:      http.MethodGet,
		Path:        "/works/{work_id}/inspections",
		Summary:     "List inspections of a work",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *workPath) (*struct {
		Body InspectionList `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListInspections(ctx, actor, input.WorkID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InspectionList `json:"body"`
		}{Body: InspectionList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-inspection",
		Method:      http.MethodGet,
		Path:        "/inspections/{id}",
		Summary:     "Get inspection with checkpoints",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *inspectionPath) (*inspectionOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in, err := e.GetInspection(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &inspectionOutput{Body: in}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-checkpoint",
		Method:      http.MethodPut,
		Path:        "/inspections/{id}/checkpoints/{checkpoint_id}",
		Summary:     "Mark a checkpoint",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID           string               `path:"id"`
		CheckpointID string               `path:"checkpoint_id"`
		Body         SetCheckpointRequest `json:"body"`
	}) (*struct {
		Body domain.Checkpoint `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cp, err := e.SetCheckpointStatus(ctx, actor, input.ID, input.CheckpointID, input.Body.Status, input.Body.Defect)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Checkpoint `json:"body"`
		}{Body: cp}, nil
	})

	transitions := []struct {
		op      string
		verb    string
		summary string
		apply   func(context.Context, domain.Actor, string) (domain.Inspection, error)
	}{
		{"submit-inspection", "submit", "Submit inspection results", e.SubmitInspection},
		{"complete-inspection", "complete", "Accept inspection as completed", e.CompleteInspection},
		{"rework-inspection", "rework", "Reopen a completed inspection for rework", e.ReopenForRework},
	}
	for _, tr := range transitions {
		apply := tr.apply
		huma.Register(api, huma.Operation{
			OperationID: tr.op,
			Method:      http.MethodPost,
			Path:        fmt.Sprintf("/inspections/{id}/%s", tr.verb),
			Summary:     tr.summary,
			Errors:      mutationErrors,
		}, func(ctx context.Context, input *inspectionPath) (*inspectionOutput, error) {
			actor, authErr := actorFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			in, err := apply(ctx, actor, input.ID)
			if err != nil {
				return nil, handleError(err)
			}
			return &inspectionOutput{Body: in}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "inspection-defects",
		Method:      http.MethodGet,
		Path:        "/inspections/{id}/defects",
		Summary:     "List defects of an inspection",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *inspectionPath) (*struct {
		Body DefectList `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.InspectionDefects(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DefectList `json:"body"`
		}{Body: DefectList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "work-defects",
		Method:      http.MethodGet,
		Path:        "/works/{work_id}/defects",
		Summary:     "List defects of a work",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *workPath) (*struct {
		Body DefectList `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.WorkDefects(ctx, actor, input.WorkID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DefectList `json:"body"`
		}{Body: DefectList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-defects",
		Method:      http.MethodGet,
		Path:        "/works/{work_id}/defects.xlsx",
		Summary:     "Download the defect register",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *workPath) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		data, err := e.ExportDefects(ctx, actor, input.WorkID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        xlsxContentType,
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", "defects-"+input.WorkID+".xlsx"),
			Body:               data,
		}, nil
	})
}

func registerRemediations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-remediation",
		Method:      http.MethodPost,
		Path:        "/defects/{defect_id}/remediation",
		Summary:     "Report a defect as remediated",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		DefectID string                   `path:"defect_id"`
		Body     SubmitRemediationRequest `json:"body"`
	}) (*struct {
		Body domain.Remediation `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rm, err := e.SubmitRemediation(ctx, actor, input.DefectID, input.Body.Description, input.Body.Photos)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Remediation `json:"body"`
		}{Body: rm}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-remediation",
		Method:      http.MethodPost,
		Path:        "/remediations/{id}/verify",
		Summary:     "Approve or reject a remediation",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                   `path:"id"`
		Body VerifyRemediationRequest `json:"body"`
	}) (*struct {
		Body domain.Remediation `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rm, err := e.VerifyRemediation(ctx, actor, input.ID, input.Body.Approved, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Remediation `json:"body"`
		}{Body: rm}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-remediations",
		Method:      http.MethodGet,
		Path:        "/works/{work_id}/remediations",
		Summary:     "List remediations of a work",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkID string `path:"work_id"`
		Status string `query:"status" enum:"pending,completed,verified,rejected,"`
	}) (*struct {
		Body struct {
			Items []domain.Remediation `json:"items"`
		} `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListRemediations(ctx, actor, input.WorkID, domain.RemediationStatus(input.Status))
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []domain.Remediation `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = items
		return out, nil
	})
}
