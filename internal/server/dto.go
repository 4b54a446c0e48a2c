package server

import (
	"siteline/internal/domain"
	"siteline/internal/feed"
	"siteline/internal/notify"
)

// Request payloads

type CreateWorkRequest struct {
	ID             string `json:"id,omitempty"`
	ObjectID       string `json:"object_id"`
	ObjectName     string `json:"object_name,omitempty"`
	Title          string `json:"title"`
	ContractorID   string `json:"contractor_id,omitempty"`
	ContractorName string `json:"contractor_name,omitempty"`
	PlannedStart   string `json:"planned_start,omitempty"`
	PlannedEnd     string `json:"planned_end,omitempty"`
}

type CreateReportRequest struct {
	Description   string   `json:"description,omitempty"`
	Volume        *float64 `json:"volume,omitempty"`
	Unit          string   `json:"unit,omitempty"`
	Materials     []string `json:"materials,omitempty"`
	Photos        []string `json:"photos,omitempty"`
	CompletionPct *int     `json:"completion_pct,omitempty" minimum:"0" maximum:"100"`
	IsWorkStart   bool     `json:"is_work_start,omitempty"`
}

type PostMessageRequest struct {
	Message string `json:"message"`
}

type CreateInspectionRequest struct {
	Checklist     string                      `json:"checklist,omitempty"`
	Checkpoints   []domain.CheckpointTemplate `json:"checkpoints,omitempty"`
	Title         string                      `json:"title,omitempty"`
	Description   string                      `json:"description,omitempty"`
	ScheduledDate string                      `json:"scheduled_date,omitempty"`
	Photos        []string                    `json:"photos,omitempty"`
}

type SetCheckpointRequest struct {
	Status domain.CheckpointStatus `json:"status" enum:"compliant,non_compliant"`
	Defect *domain.DraftDefect     `json:"defect,omitempty"`
}

type SubmitRemediationRequest struct {
	Description string   `json:"description"`
	Photos      []string `json:"photos,omitempty"`
}

type VerifyRemediationRequest struct {
	Approved bool   `json:"approved"`
	Notes    string `json:"notes,omitempty"`
}

type FeedQueryRequest struct {
	WorkIDs   []string   `json:"work_ids"`
	Selection []feed.Tag `json:"selection,omitempty"`
}

type GrantRoleRequest struct {
	ActorID string      `json:"actor_id"`
	Name    string      `json:"name,omitempty"`
	Role    domain.Role `json:"role" enum:"client,admin,contractor"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id,omitempty"`
	Name    string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string      `json:"actor_id"`
	Role    domain.Role `json:"role,omitempty" enum:"client,admin,contractor"`
}

// Response payloads

type WorkList struct {
	Items []domain.Work `json:"items"`
}

type ReportList struct {
	Items []domain.WorkReport `json:"items"`
}

type MessageList struct {
	Items []domain.ChatMessage `json:"items"`
}

type InspectionList struct {
	Items []domain.Inspection `json:"items"`
}

type DefectList struct {
	Items []domain.DefectWithRemediation `json:"items"`
}

type FeedResponse struct {
	WorkID string                  `json:"work_id,omitempty"`
	Items  []domain.CanonicalEvent `json:"items"`
}

type FeedQueryResponse struct {
	Items  []domain.CanonicalEvent `json:"items"`
	Facets []feed.TagState         `json:"facets"`
	Total  int                     `json:"total"`
}

type UnreadResponse = notify.Counts

type SeenResponse struct {
	WorkID    string `json:"work_id"`
	Watermark string `json:"watermark"`
}

type APIKeyResponse struct {
	Key    domain.APIKey `json:"key"`
	Secret string        `json:"secret"`
}

type WhoAmIResponse struct {
	ActorID     string      `json:"actor_id"`
	Name        string      `json:"name,omitempty"`
	Role        domain.Role `json:"role,omitempty"`
	Permissions []string    `json:"permissions"`
	Source      string      `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type EventList struct {
	Items []domain.AuditEvent `json:"items"`
}
