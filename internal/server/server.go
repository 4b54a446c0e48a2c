package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"siteline/internal/engine"
	"siteline/internal/engine/auth"
	"siteline/internal/feed"
	"siteline/internal/notify"
	"siteline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Feed     *feed.Service
	Notify   notify.Service
	BasePath string
	Auth     AuthConfig
	Log      *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden_transition"`
	Message string         `json:"message" example:"invalid remediation status transition pending -> verified"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Siteline API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Feed == nil {
		return nil, errors.New("feed service required")
	}
	if cfg.Notify.Store == nil {
		cfg.Notify.Store = notify.SQLStore{Repo: cfg.Engine.Repo}
	}
	if cfg.Notify.Feed == nil {
		cfg.Notify.Feed = cfg.Feed
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// request schema failures are the caller's malformed input
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(log))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo, log))
	hcfg := huma.DefaultConfig("Siteline API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerWorks(group, cfg.Engine)
	registerInspections(group, cfg.Engine)
	registerRemediations(group, cfg.Engine)
	registerFeed(group, cfg.Engine, cfg.Feed)
	registerNotify(group, cfg.Engine, cfg.Notify)
	registerAdmin(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	if cfg.Auth.EnableDevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	mountDocs(router, api, basePath)

	return router, nil
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = statusCode(status)
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message, Details: details}}
}

// handleError maps engine and store failures onto the error envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var (
		se huma.StatusError
		ae auth.AuthorizationError
		ve engine.ValidationError
		fe engine.ForbiddenTransitionError
		te repo.TransientIOError
	)
	switch {
	case errors.As(err, &se):
		return se
	case errors.As(err, &ae):
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(),
			map[string]any{"permission": ae.Permission, "role": ae.Role})
	case errors.As(err, &ve):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(),
			map[string]any{"field": ve.Field, "reason": ve.Reason})
	case errors.As(err, &fe):
		return newAPIError(http.StatusConflict, "forbidden_transition", err.Error(),
			map[string]any{"entity": fe.Entity, "from": fe.From, "to": fe.To})
	case errors.Is(err, engine.ErrSubmissionInFlight):
		return newAPIError(http.StatusConflict, "submission_in_flight", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.As(err, &te), repo.IsTransient(err):
		return newAPIError(http.StatusServiceUnavailable, "transient_io", "store temporarily unavailable; retry",
			map[string]any{"op": te.Op})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error",
		map[string]any{"error": err.Error()})
}

var statusCodes = map[int]string{
	http.StatusBadRequest:          "bad_request",
	http.StatusUnauthorized:        "unauthorized",
	http.StatusForbidden:           "forbidden",
	http.StatusNotFound:            "not_found",
	http.StatusConflict:            "conflict",
	http.StatusUnprocessableEntity: "validation_failed",
	http.StatusServiceUnavailable:  "transient_io",
	http.StatusInternalServerError: "internal_error",
}

func statusCode(status int) string {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}

// publicRoutes are served without credentials.
func publicRoutes(basePath string) map[string]bool {
	return map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "openapi.json"):   true,
		path.Join(basePath, "docs"):           true,
		path.Join(basePath, "auth/dev/login"): true,
	}
}

// mountDocs serves the OpenAPI document and a Swagger UI page next to the API.
func mountDocs(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, _ *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			declareSecurity(oas, publicRoutes(basePath))
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
	page := fmt.Sprintf(docsPage, path.Join("/", basePath, "openapi.json"))
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, page)
	})
}

func declareSecurity(oas *huma.OpenAPI, public map[string]bool) {
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	schemes := oas.Components.SecuritySchemes
	schemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	schemes["apiKeyAuth"] = &huma.SecurityScheme{Type: "apiKey", In: "header", Name: "X-Api-Key"}
	required := []map[string][]string{{"bearerAuth": {}}, {"apiKeyAuth": {}}}
	oas.Security = required
	for route, item := range oas.Paths {
		ops := []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch}
		for _, op := range ops {
			switch {
			case op == nil:
			case public[route]:
				op.Security = []map[string][]string{}
			default:
				op.Security = required
			}
		}
	}
}

const docsPage = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8"/>
<title>Siteline API</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css"/>
</head>
<body>
<div id="docs"></div>
<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
<script>window.onload = () => SwaggerUIBundle({url: '%s', dom_id: '#docs'});</script>
</body>
</html>`

type output[T any] struct {
	Body T `json:"body"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
	Time   string `json:"time" format:"date-time"`
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Liveness probe",
		Tags:        []string{"system"},
	}, func(context.Context, *struct{}) (*output[HealthResponse], error) {
		return &output[HealthResponse]{Body: HealthResponse{
			Status: "ok",
			Time:   time.Now().UTC().Format(time.RFC3339),
		}}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Authenticated actor and its permissions",
		Tags:        []string{"system"},
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*output[WhoAmIResponse], error) {
		p, ok := principalFromContext(ctx)
		if !ok || p.Actor.ID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "", "authentication required", nil)
		}
		perms := e.Guard.Policy.Permissions(p.Actor.Role)
		if perms == nil {
			perms = []string{}
		}
		return &output[WhoAmIResponse]{Body: WhoAmIResponse{
			ActorID:     p.Actor.ID,
			Name:        p.Actor.Name,
			Role:        p.Actor.Role,
			Permissions: perms,
			Source:      p.Source,
		}}, nil
	})
}

// registerDevAuth is only mounted when dev login is enabled.
func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Issue a short-lived development token",
		Tags:        []string{"system"},
		Errors:      []int{http.StatusBadRequest},
	}, func(_ context.Context, in *struct {
		Body DevLoginRequest `json:"body"`
	}) (*output[DevLoginResponse], error) {
		actorID := strings.TrimSpace(in.Body.ActorID)
		if actorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actorID, in.Body.Role, devTokenTTL)
		if err != nil {
			return nil, handleError(err)
		}
		return &output[DevLoginResponse]{Body: DevLoginResponse{Token: token}}, nil
	})
}

const devTokenTTL = 12 * time.Hour
