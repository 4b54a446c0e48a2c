package domain

// EventKind is the canonical classification of a feed entry.
type EventKind string

const (
	KindWorkEntry           EventKind = "work_entry"
	KindWorkStart           EventKind = "work_start"
	KindInspectionStarted   EventKind = "inspection_started"
	KindInspectionCompleted EventKind = "inspection_completed"
	KindInspectionCreated   EventKind = "inspection_created"
	KindInspection          EventKind = "inspection"
	KindChatMessage         EventKind = "chat_message"
)

// CanonicalEvent is derived on every aggregation and never stored.
type CanonicalEvent struct {
	ID         string          `json:"id"`
	Kind       EventKind       `json:"kind" enum:"work_entry,work_start,inspection_started,inspection_completed,inspection_created,inspection,chat_message"`
	WorkID     string          `json:"work_id"`
	AuthorID   string          `json:"author_id"`
	AuthorName string          `json:"author_name,omitempty"`
	AuthorRole Role            `json:"author_role,omitempty"`
	Timestamp  string          `json:"timestamp"`
	Content    string          `json:"content,omitempty"`
	Work       *WorkData       `json:"work,omitempty"`
	Inspection *InspectionData `json:"inspection,omitempty"`

	ObjectID       string `json:"object_id,omitempty"`
	ObjectName     string `json:"object_name,omitempty"`
	WorkTitle      string `json:"work_title,omitempty"`
	ContractorID   string `json:"contractor_id,omitempty"`
	ContractorName string `json:"contractor_name,omitempty"`
}

type WorkData struct {
	Volume        *float64 `json:"volume,omitempty"`
	Unit          string   `json:"unit,omitempty"`
	Materials     []string `json:"materials"`
	Photos        []string `json:"photos"`
	CompletionPct *int     `json:"completion_pct,omitempty"`
}

type InspectionData struct {
	InspectionID  string           `json:"inspection_id,omitempty"`
	Number        *int             `json:"number,omitempty"`
	Status        InspectionStatus `json:"status,omitempty"`
	ScheduledDate *string          `json:"scheduled_date,omitempty"`
	Defects       []Defect         `json:"defects"`
	DefectsCount  int              `json:"defects_count"`
	Photos        []string         `json:"photos"`
}
