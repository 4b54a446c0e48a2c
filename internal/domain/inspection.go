package domain

// InspectionStatus is the lifecycle state of an inspection.
type InspectionStatus string

const (
	InspectionDraft     InspectionStatus = "draft"
	InspectionActive    InspectionStatus = "active"
	InspectionCompleted InspectionStatus = "completed"
	InspectionOnRework  InspectionStatus = "on_rework"
)

func (s InspectionStatus) String() string { return string(s) }

func (s InspectionStatus) IsValid() bool {
	switch s {
	case InspectionDraft, InspectionActive, InspectionCompleted, InspectionOnRework:
		return true
	}
	return false
}

// Editable reports whether checkpoints may still be changed.
func (s InspectionStatus) Editable() bool {
	return s == InspectionDraft || s == InspectionOnRework
}

type CheckpointStatus string

const (
	CheckpointNotChecked   CheckpointStatus = "not_checked"
	CheckpointCompliant    CheckpointStatus = "compliant"
	CheckpointNonCompliant CheckpointStatus = "non_compliant"
)

func (s CheckpointStatus) IsValid() bool {
	switch s {
	case CheckpointNotChecked, CheckpointCompliant, CheckpointNonCompliant:
		return true
	}
	return false
}

// Severity is display-only; there is no ordering between values.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// DisplayRank orders severities for rendering only.
func (s Severity) DisplayRank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	}
	return 4
}

type Inspection struct {
	ID            string           `json:"id"`
	WorkID        string           `json:"work_id"`
	Status        InspectionStatus `json:"status" enum:"draft,active,completed,on_rework"`
	Number        int              `json:"number"`
	ScheduledDate *string          `json:"scheduled_date,omitempty"`
	AuthorID      string           `json:"author_id"`
	AuthorName    string           `json:"author_name,omitempty"`
	AuthorRole    Role             `json:"author_role,omitempty"`
	Title         string           `json:"title,omitempty"`
	Description   string           `json:"description,omitempty"`
	DefectsJSON   string           `json:"defects_json,omitempty"`
	DefectsCount  int              `json:"defects_count"`
	Photos        string           `json:"photos,omitempty"`
	CreatedAt     string           `json:"created_at"`
	UpdatedAt     string           `json:"updated_at"`
	Checkpoints   []Checkpoint     `json:"checkpoints,omitempty"`
}

// CheckpointTemplate is one checklist item a checkpoint is instantiated from.
type CheckpointTemplate struct {
	ID                string `json:"id,omitempty" yaml:"id"`
	Title             string `json:"title" yaml:"title"`
	StandardReference string `json:"standard_reference,omitempty" yaml:"standard_reference"`
}

type Checkpoint struct {
	ID                string           `json:"id"`
	InspectionID      string           `json:"inspection_id"`
	TemplateID        string           `json:"template_id"`
	Title             string           `json:"title"`
	StandardReference string           `json:"standard_reference,omitempty"`
	Status            CheckpointStatus `json:"status" enum:"not_checked,compliant,non_compliant"`
	Draft             *DraftDefect     `json:"draft,omitempty"`
	Position          int              `json:"position"`
}

// DraftDefect is the defect being described on a non-compliant checkpoint
// before the inspection is submitted.
type DraftDefect struct {
	Description       string   `json:"description,omitempty"`
	StandardReference string   `json:"standard_reference,omitempty"`
	Location          string   `json:"location,omitempty"`
	Severity          Severity `json:"severity,omitempty"`
	ResponsibleParty  string   `json:"responsible_party,omitempty"`
	Deadline          *string  `json:"deadline,omitempty"`
	Photos            []string `json:"photos,omitempty"`
}

type Defect struct {
	ID                string   `json:"id"`
	InspectionID      string   `json:"inspection_id,omitempty"`
	CheckpointID      string   `json:"checkpoint_id,omitempty"`
	Description       string   `json:"description"`
	StandardReference string   `json:"standard_reference,omitempty"`
	Location          string   `json:"location,omitempty"`
	Severity          Severity `json:"severity"`
	ResponsibleParty  string   `json:"responsible_party,omitempty"`
	Deadline          *string  `json:"deadline,omitempty"`
	Photos            []string `json:"photos"`
}

type RemediationStatus string

const (
	RemediationPending   RemediationStatus = "pending"
	RemediationCompleted RemediationStatus = "completed"
	RemediationVerified  RemediationStatus = "verified"
	RemediationRejected  RemediationStatus = "rejected"
)

// Live reports whether the remediation still counts toward the one-per-defect limit.
func (s RemediationStatus) Live() bool {
	return s == RemediationPending || s == RemediationCompleted
}

type Remediation struct {
	ID                string            `json:"id"`
	DefectID          string            `json:"defect_id"`
	InspectionID      string            `json:"inspection_id"`
	WorkID            string            `json:"work_id"`
	ContractorID      string            `json:"contractor_id,omitempty"`
	Status            RemediationStatus `json:"status" enum:"pending,completed,verified,rejected"`
	Description       string            `json:"description,omitempty"`
	Photos            []string          `json:"photos"`
	CompletedAt       *string           `json:"completed_at,omitempty"`
	VerifiedAt        *string           `json:"verified_at,omitempty"`
	VerifiedBy        *string           `json:"verified_by,omitempty"`
	VerificationNotes string            `json:"verification_notes,omitempty"`
	CreatedAt         string            `json:"created_at"`
	UpdatedAt         string            `json:"updated_at"`
}

// DefectWithRemediation pairs a defect with its latest remediation, if any.
type DefectWithRemediation struct {
	Defect
	Remediation *Remediation `json:"remediation,omitempty"`
}
