package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/engine/auth"
	"siteline/internal/feed"
	"siteline/internal/notify"
	"siteline/internal/repo"
)

// feedReader checks feed.read and that the work exists.
func feedReader(ctx context.Context, e engine.Engine, workID string) (domain.Actor, huma.StatusError) {
	actor, authErr := actorFromContext(ctx)
	if authErr != nil {
		return actor, authErr
	}
	if err := e.Guard.Require(actor, auth.PermFeedRead); err != nil {
		return actor, handleError(err)
	}
	if workID != "" {
		if _, err := e.GetWork(ctx, actor, workID); err != nil {
			return actor, handleError(err)
		}
	}
	return actor, nil
}

func registerFeed(api huma.API, e engine.Engine, svc *feed.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "work-feed",
		Method:      http.MethodGet,
		Path:        "/works/{work_id}/feed",
		Summary:     "Chronological feed of a work",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *workPath) (*struct {
		Body FeedResponse `json:"body"`
	}, error) {
		if _, authErr := feedReader(ctx, e, input.WorkID); authErr != nil {
			return nil, authErr
		}
		items, err := svc.WorkFeed(ctx, input.WorkID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FeedResponse `json:"body"`
		}{Body: FeedResponse{WorkID: input.WorkID, Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "query-feed",
		Method:      http.MethodPost,
		Path:        "/feed/query",
		Summary:     "Merged feed across works with tag facets",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body FeedQueryRequest `json:"body"`
	}) (*struct {
		Body FeedQueryResponse `json:"body"`
	}, error) {
		actor, authErr := feedReader(ctx, e, "")
		if authErr != nil {
			return nil, authErr
		}
		ids := input.Body.WorkIDs
		if len(ids) == 0 {
			works, err := e.ListWorks(ctx, actor, repo.WorkFilter{})
			if err != nil {
				return nil, handleError(err)
			}
			for _, w := range works {
				ids = append(ids, w.ID)
			}
		}
		for _, t := range input.Body.Selection {
			if !t.Facet.IsValid() {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown facet "+string(t.Facet), nil)
			}
		}
		all, err := svc.MultiFeed(ctx, ids)
		if err != nil {
			return nil, handleError(err)
		}
		sel := feed.NewSelection(input.Body.Selection...)
		items := feed.Filter(all, sel)
		return &struct {
			Body FeedQueryResponse `json:"body"`
		}{Body: FeedQueryResponse{
			Items:  items,
			Facets: feed.ComputeTagFacets(all, sel),
			Total:  len(items),
		}}, nil
	})
}

func registerNotify(api huma.API, e engine.Engine, svc notify.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "unread-counts",
		Method:      http.MethodGet,
		Path:        "/works/{work_id}/unread",
		Summary:     "Unread counts per channel",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *workPath) (*struct {
		Body UnreadResponse `json:"body"`
	}, error) {
		actor, authErr := feedReader(ctx, e, input.WorkID)
		if authErr != nil {
			return nil, authErr
		}
		counts, err := svc.Unread(ctx, actor.ID, input.WorkID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UnreadResponse `json:"body"`
		}{Body: counts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-seen",
		Method:      http.MethodPost,
		Path:        "/works/{work_id}/seen",
		Summary:     "Mark a work's feed as seen",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *workPath) (*struct {
		Body SeenResponse `json:"body"`
	}, error) {
		actor, authErr := feedReader(ctx, e, input.WorkID)
		if authErr != nil {
			return nil, authErr
		}
		mark, err := svc.MarkSeen(ctx, actor.ID, input.WorkID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SeenResponse `json:"body"`
		}{Body: SeenResponse{WorkID: input.WorkID, Watermark: mark.UTC().Format(time.RFC3339Nano)}}, nil
	})
}
