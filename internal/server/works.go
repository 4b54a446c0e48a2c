package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/repo"
)

type workPath struct {
	WorkID string `path:"work_id"`
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusServiceUnavailable,
}

func registerWorks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-work",
		Method:      http.MethodPost,
		Path:        "/works",
		Summary:     "Create work item",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateWorkRequest `json:"body"`
	}) (*struct {
		Body domain.Work `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		w, err := e.CreateWork(ctx, actor, engine.WorkCreateOptions{
			ID:             b.ID,
			ObjectID:       b.ObjectID,
			ObjectName:     b.ObjectName,
			Title:          b.Title,
			ContractorID:   b.ContractorID,
			ContractorName: b.ContractorName,
			PlannedStart:   b.PlannedStart,
			PlannedEnd:     b.PlannedEnd,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Work `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-works",
		Method:      http.MethodGet,
		Path:        "/works",
		Summary:     "List work items",
	}, func(ctx context.Context, input *struct {
		ObjectID     string `query:"object_id"`
		ContractorID string `query:"contractor_id"`
		Status       string `query:"status" enum:"planned,in_progress,completed,"`
	}) (*struct {
		Body WorkList `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListWorks(ctx, actor, repo.WorkFilter{ObjectID: input.ObjectID, ContractorID: input.ContractorID, Status: input.Status})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkList `json:"body"`
		}{Body: WorkList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work",
		Method:      http.MethodGet,
		Path:        "/works/{work_id}",
		Summary:     "Get work item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *workPath) (*struct {
		Body domain.Work `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.GetWork(ctx, actor, input.WorkID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Work `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-report",
		Method:      http.MethodPost,
		Path:        "/works/{work_id}/reports",
		Summary:     "Append a work report",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		WorkID string              `path:"work_id"`
		Body   CreateReportRequest `json:"body"`
	}) (*struct {
		Body domain.WorkReport `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		rep, err := e.AddWorkReport(ctx, actor, engine.ReportOptions{
			WorkID:        input.WorkID,
			Description:   b.Description,
			Volume:        b.Volume,
			Unit:          b.Unit,
			Materials:     b.Materials,
			Photos:        b.Photos,
			CompletionPct: b.CompletionPct,
			IsWorkStart:   b.IsWorkStart,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkReport `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/works/{work_id}/reports",
		Summary:     "List work reports",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *workPath) (*struct {
		Body ReportList `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetWork(ctx, actor, input.WorkID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListWorkReports(ctx, input.WorkID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportList `json:"body"`
		}{Body: ReportList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "post-message",
		Method:      http.MethodPost,
		Path:        "/works/{work_id}/messages",
		Summary:     "Post a chat message",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		WorkID string             `path:"work_id"`
		Body   PostMessageRequest `json:"body"`
	}) (*struct {
		Body domain.ChatMessage `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.PostChatMessage(ctx, actor, input.WorkID, input.Body.Message)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChatMessage `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/works/{work_id}/messages",
		Summary:     "List chat messages",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *workPath) (*struct {
		Body MessageList `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetWork(ctx, actor, input.WorkID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListChatMessages(ctx, input.WorkID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MessageList `json:"body"`
		}{Body: MessageList{Items: items}}, nil
	})
}
