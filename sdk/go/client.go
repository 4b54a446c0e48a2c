package sitelinesdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client is a minimal Siteline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	Timeout     time.Duration
	// Retries applies to transport failures and 503 responses only.
	Retries int

	http *resty.Client
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
		Retries:  2,
	}
}

type Work struct {
	ID             string `json:"id"`
	ObjectID       string `json:"object_id"`
	ObjectName     string `json:"object_name,omitempty"`
	Title          string `json:"title"`
	Status         string `json:"status"`
	ContractorID   string `json:"contractor_id,omitempty"`
	ContractorName string `json:"contractor_name,omitempty"`
	CompletionPct  int    `json:"completion_pct"`
}

type WorkReport struct {
	ID            string   `json:"id"`
	WorkID        string   `json:"work_id"`
	AuthorID      string   `json:"author_id"`
	CreatedAt     string   `json:"created_at"`
	Description   string   `json:"description,omitempty"`
	Volume        *float64 `json:"volume,omitempty"`
	Unit          string   `json:"unit,omitempty"`
	CompletionPct *int     `json:"completion_pct,omitempty"`
	IsWorkStart   bool     `json:"is_work_start"`
}

type ReportInput struct {
	Description   string   `json:"description,omitempty"`
	Volume        *float64 `json:"volume,omitempty"`
	Unit          string   `json:"unit,omitempty"`
	Materials     []string `json:"materials,omitempty"`
	Photos        []string `json:"photos,omitempty"`
	CompletionPct *int     `json:"completion_pct,omitempty"`
	IsWorkStart   bool     `json:"is_work_start,omitempty"`
}

type Checkpoint struct {
	ID                string `json:"id"`
	TemplateID        string `json:"template_id"`
	Title             string `json:"title"`
	StandardReference string `json:"standard_reference,omitempty"`
	Status            string `json:"status"`
}

type Inspection struct {
	ID           string       `json:"id"`
	WorkID       string       `json:"work_id"`
	Number       int          `json:"number"`
	Status       string       `json:"status"`
	DefectsCount int          `json:"defects_count"`
	Checkpoints  []Checkpoint `json:"checkpoints,omitempty"`
}

// DraftDefect describes a non-compliant checkpoint.
type DraftDefect struct {
	Description       string   `json:"description,omitempty"`
	StandardReference string   `json:"standard_reference,omitempty"`
	Location          string   `json:"location,omitempty"`
	Severity          string   `json:"severity,omitempty"`
	ResponsibleParty  string   `json:"responsible_party,omitempty"`
	Deadline          *string  `json:"deadline,omitempty"`
	Photos            []string `json:"photos,omitempty"`
}

type Remediation struct {
	ID                string   `json:"id"`
	DefectID          string   `json:"defect_id"`
	Status            string   `json:"status"`
	Description       string   `json:"description,omitempty"`
	Photos            []string `json:"photos"`
	VerificationNotes string   `json:"verification_notes,omitempty"`
}

type Defect struct {
	ID                string       `json:"id"`
	InspectionID      string       `json:"inspection_id"`
	Description       string       `json:"description"`
	StandardReference string       `json:"standard_reference,omitempty"`
	Severity          string       `json:"severity"`
	Remediation       *Remediation `json:"remediation,omitempty"`
}

// Event is one entry of a work feed.
type Event struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	WorkID     string         `json:"work_id"`
	AuthorID   string         `json:"author_id"`
	AuthorName string         `json:"author_name,omitempty"`
	Timestamp  string         `json:"timestamp"`
	Content    string         `json:"content,omitempty"`
	Work       map[string]any `json:"work,omitempty"`
	Inspection map[string]any `json:"inspection,omitempty"`
}

type Tag struct {
	Facet string `json:"facet"`
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

type TagState struct {
	Tag      Tag  `json:"tag"`
	Enabled  bool `json:"enabled"`
	Selected bool `json:"selected"`
	Count    int  `json:"count"`
}

type FeedPage struct {
	Items  []Event    `json:"items"`
	Facets []TagState `json:"facets"`
	Total  int        `json:"total"`
}

type Unread struct {
	WorkID      string `json:"work_id"`
	Messages    int    `json:"messages"`
	Logs        int    `json:"logs"`
	Inspections int    `json:"inspections"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

// Transient reports whether retrying later may succeed.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (c *Client) CreateWork(ctx context.Context, w Work) (Work, error) {
	var resp Work
	err := c.do(ctx, http.MethodPost, "works", w, &resp)
	return resp, err
}

func (c *Client) AddReport(ctx context.Context, workID string, in ReportInput) (WorkReport, error) {
	var resp WorkReport
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("works/%s/reports", url.PathEscape(workID)), in, &resp)
	return resp, err
}

func (c *Client) PostMessage(ctx context.Context, workID, message string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("works/%s/messages", url.PathEscape(workID)), map[string]any{"message": message}, nil)
}

// CreateInspection schedules an inspection from a named checklist.
func (c *Client) CreateInspection(ctx context.Context, workID, checklist, title string) (Inspection, error) {
	body := map[string]any{"checklist": checklist, "title": title}
	var resp Inspection
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("works/%s/inspections", url.PathEscape(workID)), body, &resp)
	return resp, err
}

func (c *Client) SetCheckpoint(ctx context.Context, inspectionID, checkpointID, status string, defect *DraftDefect) (Checkpoint, error) {
	body := map[string]any{"status": status}
	if defect != nil {
		body["defect"] = defect
	}
	var resp Checkpoint
	endpoint := fmt.Sprintf("inspections/%s/checkpoints/%s", url.PathEscape(inspectionID), url.PathEscape(checkpointID))
	err := c.do(ctx, http.MethodPut, endpoint, body, &resp)
	return resp, err
}

func (c *Client) SubmitInspection(ctx context.Context, id string) (Inspection, error) {
	return c.inspectionTransition(ctx, id, "submit")
}

func (c *Client) CompleteInspection(ctx context.Context, id string) (Inspection, error) {
	return c.inspectionTransition(ctx, id, "complete")
}

func (c *Client) ReopenForRework(ctx context.Context, id string) (Inspection, error) {
	return c.inspectionTransition(ctx, id, "rework")
}

func (c *Client) inspectionTransition(ctx context.Context, id, verb string) (Inspection, error) {
	var resp Inspection
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("inspections/%s/%s", url.PathEscape(id), verb), nil, &resp)
	return resp, err
}

func (c *Client) WorkDefects(ctx context.Context, workID string) ([]Defect, error) {
	var resp struct {
		Items []Defect `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("works/%s/defects", url.PathEscape(workID)), nil, &resp)
	return resp.Items, err
}

func (c *Client) SubmitRemediation(ctx context.Context, defectID, description string, photos []string) (Remediation, error) {
	body := map[string]any{"description": description, "photos": photos}
	var resp Remediation
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("defects/%s/remediation", url.PathEscape(defectID)), body, &resp)
	return resp, err
}

func (c *Client) VerifyRemediation(ctx context.Context, remediationID string, approved bool, notes string) (Remediation, error) {
	body := map[string]any{"approved": approved, "notes": notes}
	var resp Remediation
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("remediations/%s/verify", url.PathEscape(remediationID)), body, &resp)
	return resp, err
}

// Feed returns the chronological feed of one work.
func (c *Client) Feed(ctx context.Context, workID string) ([]Event, error) {
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("works/%s/feed", url.PathEscape(workID)), nil, &resp)
	return resp.Items, err
}

// QueryFeed merges the feeds of workIDs (all works when empty) and filters
// them by the selected tags.
func (c *Client) QueryFeed(ctx context.Context, workIDs []string, selection []Tag) (FeedPage, error) {
	if workIDs == nil {
		workIDs = []string{}
	}
	body := map[string]any{"work_ids": workIDs, "selection": selection}
	var resp FeedPage
	err := c.do(ctx, http.MethodPost, "feed/query", body, &resp)
	return resp, err
}

func (c *Client) Unread(ctx context.Context, workID string) (Unread, error) {
	var resp Unread
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("works/%s/unread", url.PathEscape(workID)), nil, &resp)
	return resp, err
}

// MarkSeen moves the caller's watermark for workID and returns it.
func (c *Client) MarkSeen(ctx context.Context, workID string) (time.Time, error) {
	var resp struct {
		Watermark string `json:"watermark"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("works/%s/seen", url.PathEscape(workID)), nil, &resp); err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, resp.Watermark)
}

// ExportDefects downloads the defect register workbook.
func (c *Client) ExportDefects(ctx context.Context, workID string) ([]byte, error) {
	resp, err := c.request(ctx).Get(c.path(fmt.Sprintf("works/%s/defects.xlsx", url.PathEscape(workID))))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return resp.Body(), nil
}

func (c *Client) client() *resty.Client {
	if c.http == nil {
		c.http = resty.New().
			SetBaseURL(strings.TrimRight(c.BaseURL, "/")).
			SetTimeout(c.Timeout).
			SetRetryCount(c.Retries).
			SetRetryWaitTime(200*time.Millisecond).
			SetRetryMaxWaitTime(2*time.Second).
			SetHeader("Accept", "application/json").
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err == nil && r.StatusCode() == http.StatusServiceUnavailable
			})
	}
	return c.http
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.client().R().SetContext(ctx)
	switch {
	case c.BearerToken != "":
		req.SetAuthToken(c.BearerToken)
	case c.APIKey != "":
		req.SetHeader("X-Api-Key", c.APIKey)
	}
	return req
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	req := c.request(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, c.path(endpoint))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return nil
}

func apiError(resp *resty.Response) error {
	e := &APIError{StatusCode: resp.StatusCode(), Message: resp.String()}
	var env errorEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err == nil && env.Error.Code != "" {
		e.Code = env.Error.Code
		e.Message = env.Error.Message
		e.Details = env.Error.Details
	}
	return e
}

func (c *Client) path(p string) string {
	base := "/" + strings.Trim(c.BasePath, "/")
	if base == "/" {
		base = ""
	}
	return base + "/" + strings.TrimLeft(p, "/")
}
