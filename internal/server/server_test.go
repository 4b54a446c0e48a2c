package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/engine/auth"
	"siteline/internal/feed"
	"siteline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg, nil)
	ctx := context.Background()
	if err := auth.Seed(ctx, e.Repo, cfg); err != nil {
		t.Fatalf("seed roles: %v", err)
	}
	root := domain.Actor{ID: "bootstrap", Role: domain.RoleAdmin}
	for id, role := range map[string]domain.Role{
		"client-1":  domain.RoleClient,
		"admin-1":   domain.RoleAdmin,
		"builder-1": domain.RoleContractor,
		"builder-2": domain.RoleContractor,
	} {
		if err := e.GrantRole(ctx, root, id, id, role); err != nil {
			t.Fatalf("grant %s: %v", id, err)
		}
	}
	feedSvc, err := feed.NewService(e.Repo, 16, nil)
	if err != nil {
		t.Fatalf("feed service: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		Feed:     feedSvc,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true, EnableDevLogin: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func as(actorID string) map[string]string {
	return map[string]string{"X-Actor-Id": actorID}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func createWork(t *testing.T, srv *testServer) domain.Work {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/works", map[string]any{
		"object_id":     "obj-1",
		"object_name":   "Block A",
		"title":         "Foundation slab",
		"contractor_id": "builder-1",
	}, as("client-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create work status %d: %s", res.StatusCode, string(data))
	}
	var w domain.Work
	if err := json.Unmarshal(data, &w); err != nil {
		t.Fatalf("unmarshal work: %v", err)
	}
	return w
}

func TestAuthenticationRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/works", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/works", nil, map[string]string{"Authorization": "Bearer nonsense"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %d %s", res.StatusCode, string(data))
	}
}

func TestDevLoginToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "builder-1"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	_ = json.Unmarshal(data, &login)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	var me WhoAmIResponse
	_ = json.Unmarshal(data, &me)
	if me.ActorID != "builder-1" || me.Role != domain.RoleContractor || me.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", me)
	}
	for _, p := range me.Permissions {
		if p == auth.PermRemediationVerify {
			t.Fatalf("contractor must not hold %s", p)
		}
	}
}

func TestForbiddenBeforeMutation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	w := createWork(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/works", map[string]any{
		"object_id": "obj-1",
		"title":     "Unauthorized",
	}, as("builder-1"))
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("expected 403 forbidden, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/works/"+w.ID+"/reports", map[string]any{
		"description": "not my work",
	}, as("builder-2"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign contractor, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/works", nil, as("client-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list works: %d %s", res.StatusCode, string(data))
	}
	var works WorkList
	_ = json.Unmarshal(data, &works)
	if len(works.Items) != 1 {
		t.Fatalf("expected one work, got %d", len(works.Items))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/works/"+w.ID+"/reports", nil, as("client-1"))
	var reports ReportList
	_ = json.Unmarshal(data, &reports)
	if res.StatusCode != http.StatusOK || len(reports.Items) != 0 {
		t.Fatalf("forbidden report persisted: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/works/missing", nil, as("client-1"))
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
}

func TestInspectionRemediationFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	w := createWork(t, srv)
	base := srv.URL + "/v0"

	res, data := doJSON(t, client, http.MethodPost, base+"/works/"+w.ID+"/reports", map[string]any{
		"description":   "Mobilised",
		"is_work_start": true,
	}, as("builder-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start report: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/works/"+w.ID+"/messages", map[string]any{"message": "Pour planned for Friday"}, as("client-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("post message: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/works/"+w.ID+"/inspections", map[string]any{
		"checklist": "concrete.pour",
		"title":     "Pre-pour",
	}, as("client-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create inspection: %d %s", res.StatusCode, string(data))
	}
	var in domain.Inspection
	_ = json.Unmarshal(data, &in)

	res, data = doJSON(t, client, http.MethodPost, base+"/inspections/"+in.ID+"/submit", nil, as("client-1"))
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "validation_failed" {
		t.Fatalf("expected validation failure for unreviewed inspection, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPut, base+"/inspections/"+in.ID+"/checkpoints/"+in.Checkpoints[0].ID, map[string]any{
		"status": "non_compliant",
		"defect": map[string]any{"description": "Bracing missing", "severity": "high"},
	}, as("client-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set checkpoint: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/inspections/"+in.ID+"/submit", nil, as("client-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &in)
	if in.Status != domain.InspectionActive || in.DefectsCount != 1 {
		t.Fatalf("unexpected submitted inspection %+v", in)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/works/"+w.ID+"/feed", nil, as("builder-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("feed: %d %s", res.StatusCode, string(data))
	}
	var fr FeedResponse
	_ = json.Unmarshal(data, &fr)
	kinds := map[domain.EventKind]int{}
	for _, ev := range fr.Items {
		kinds[ev.Kind]++
	}
	if kinds[domain.KindWorkStart] != 1 || kinds[domain.KindChatMessage] != 1 || kinds[domain.KindInspectionStarted] != 1 {
		t.Fatalf("unexpected feed kinds %v", kinds)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/works/"+w.ID+"/unread", nil, as("builder-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unread: %d %s", res.StatusCode, string(data))
	}
	var unread UnreadResponse
	_ = json.Unmarshal(data, &unread)
	if unread.Messages != 1 || unread.Total() == 0 {
		t.Fatalf("unexpected unread counts %+v", unread)
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/works/"+w.ID+"/seen", nil, as("builder-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("seen: %d %s", res.StatusCode, string(data))
	}
	_, data = doJSON(t, client, http.MethodGet, base+"/works/"+w.ID+"/unread", nil, as("builder-1"))
	unread = UnreadResponse{}
	_ = json.Unmarshal(data, &unread)
	if unread.Total() != 0 {
		t.Fatalf("expected nothing unread after seen, got %+v", unread)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/works/"+w.ID+"/defects", nil, as("builder-1"))
	var defects DefectList
	_ = json.Unmarshal(data, &defects)
	if res.StatusCode != http.StatusOK || len(defects.Items) != 1 {
		t.Fatalf("defects: %d %s", res.StatusCode, string(data))
	}
	defectID := defects.Items[0].ID

	res, data = doJSON(t, client, http.MethodPost, base+"/defects/"+defectID+"/remediation", map[string]any{
		"description": "Added bracing",
		"photos":      []string{"after.jpg"},
	}, as("builder-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit remediation: %d %s", res.StatusCode, string(data))
	}
	var rm domain.Remediation
	_ = json.Unmarshal(data, &rm)

	res, data = doJSON(t, client, http.MethodPost, base+"/remediations/"+rm.ID+"/verify", map[string]any{"approved": false}, as("client-1"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for rejection without notes, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/remediations/"+rm.ID+"/verify", map[string]any{"approved": true}, as("builder-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("contractor verify: expected 403, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/remediations/"+rm.ID+"/verify", map[string]any{"approved": true}, as("client-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/remediations/"+rm.ID+"/verify", map[string]any{"approved": true}, as("client-1"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "forbidden_transition" {
		t.Fatalf("expected 409 on second verify, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/inspections/"+in.ID+"/complete", nil, as("client-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/works/"+w.ID+"/defects.xlsx", nil, as("client-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export: %d %s", res.StatusCode, string(data))
	}
	if ct := res.Header.Get("Content-Type"); ct != xlsxContentType {
		t.Fatalf("export content type %q", ct)
	}
	if !bytes.HasPrefix(data, []byte("PK")) {
		t.Fatalf("export is not an xlsx archive")
	}
}

func TestFeedQueryFacets(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	w := createWork(t, srv)
	base := srv.URL + "/v0"

	for _, msg := range []string{"first", "second"} {
		res, data := doJSON(t, client, http.MethodPost, base+"/works/"+w.ID+"/messages", map[string]any{"message": msg}, as("client-1"))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("post message: %d %s", res.StatusCode, string(data))
		}
	}
	res, data := doJSON(t, client, http.MethodPost, base+"/works/"+w.ID+"/reports", map[string]any{"description": "Site fenced"}, as("builder-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("report: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/feed/query", map[string]any{
		"work_ids":  []string{},
		"selection": []map[string]any{{"facet": "contractor", "id": "builder-1"}},
	}, as("admin-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("query: %d %s", res.StatusCode, string(data))
	}
	var q FeedQueryResponse
	_ = json.Unmarshal(data, &q)
	if q.Total != 3 || len(q.Items) != 3 {
		t.Fatalf("expected all 3 events for the work's contractor, got %d", q.Total)
	}
	if len(q.Facets) == 0 {
		t.Fatalf("expected facet states")
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/feed/query", map[string]any{
		"work_ids":  []string{w.ID},
		"selection": []map[string]any{{"facet": "weather", "id": "rain"}},
	}, as("admin-1"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown facet, got %d %s", res.StatusCode, string(data))
	}
}

func TestAdminEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0"

	res, data := doJSON(t, client, http.MethodPost, base+"/rbac/grant", map[string]any{"actor_id": "builder-3", "role": "contractor"}, as("client-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("client grant: expected 403, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/rbac/grant", map[string]any{"actor_id": "builder-3", "role": "contractor"}, as("admin-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("grant: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/apikeys", map[string]any{"name": "ci"}, as("builder-3"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key: %d %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	_ = json.Unmarshal(data, &key)

	res, data = doJSON(t, client, http.MethodGet, base+"/me", nil, map[string]string{"X-Api-Key": key.Secret})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me via api key: %d %s", res.StatusCode, string(data))
	}
	var me WhoAmIResponse
	_ = json.Unmarshal(data, &me)
	if me.ActorID != "builder-3" || me.Role != domain.RoleContractor || me.Source != "api_key" {
		t.Fatalf("unexpected principal %+v", me)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/events?entity_kind=actor&entity_id=builder-3", nil, as("admin-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var events EventList
	_ = json.Unmarshal(data, &events)
	if len(events.Items) != 1 || events.Items[0].Type != "rbac.grant" {
		t.Fatalf("unexpected audit events %+v", events.Items)
	}
}
