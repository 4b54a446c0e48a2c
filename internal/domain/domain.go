package domain

// Role identifies what an actor may do on a site.
type Role string

const (
	RoleClient     Role = "client"
	RoleAdmin      Role = "admin"
	RoleContractor Role = "contractor"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleClient, RoleAdmin, RoleContractor:
		return true
	}
	return false
}

// Actor is the identity every engine call is made on behalf of.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role Role   `json:"role"`
}

type Work struct {
	ID             string  `json:"id"`
	ObjectID       string  `json:"object_id"`
	ObjectName     string  `json:"object_name,omitempty"`
	Title          string  `json:"title"`
	Status         string  `json:"status" enum:"planned,in_progress,completed"`
	ContractorID   string  `json:"contractor_id,omitempty"`
	ContractorName string  `json:"contractor_name,omitempty"`
	CompletionPct  int     `json:"completion_pct"`
	PlannedStart   *string `json:"planned_start,omitempty"`
	PlannedEnd     *string `json:"planned_end,omitempty"`
	ActualStart    *string `json:"actual_start,omitempty"`
	ActualEnd      *string `json:"actual_end,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

const (
	WorkPlanned    = "planned"
	WorkInProgress = "in_progress"
	WorkCompleted  = "completed"
)

// WorkReport is one append-only entry of a work's progress log.
// At most one of the three flags is set; none set means a plain entry.
type WorkReport struct {
	ID                    string   `json:"id"`
	WorkID                string   `json:"work_id"`
	AuthorID              string   `json:"author_id"`
	AuthorName            string   `json:"author_name,omitempty"`
	AuthorRole            Role     `json:"author_role,omitempty"`
	CreatedAt             string   `json:"created_at"`
	Description           string   `json:"description,omitempty"`
	Volume                *float64 `json:"volume,omitempty"`
	Unit                  string   `json:"unit,omitempty"`
	Materials             string   `json:"materials,omitempty"`
	Photos                string   `json:"photos,omitempty"`
	CompletionPct         *int     `json:"completion_pct,omitempty"`
	IsWorkStart           bool     `json:"is_work_start"`
	IsInspectionStart     bool     `json:"is_inspection_start"`
	IsInspectionCompleted bool     `json:"is_inspection_completed"`
	InspectionID          *string  `json:"inspection_id,omitempty"`
	InspectionNumber      *int     `json:"inspection_number,omitempty"`
	DefectsCount          *int     `json:"defects_count,omitempty"`
}

type ChatMessage struct {
	ID         string `json:"id"`
	WorkID     string `json:"work_id"`
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name,omitempty"`
	AuthorRole Role   `json:"author_role,omitempty"`
	CreatedAt  string `json:"created_at"`
	Message    string `json:"message"`
}

// APIKey is a hashed credential bound to an actor.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// AuditEvent is a row of the append-only audit log.
type AuditEvent struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}
