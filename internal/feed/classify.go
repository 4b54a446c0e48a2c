package feed

import (
	"fmt"

	"siteline/internal/domain"
)

// ClassifyReport applies the flag precedence: work start, inspection start,
// inspection completed, then plain entry. The first set flag wins.
func ClassifyReport(r domain.WorkReport) domain.EventKind {
	switch {
	case r.IsWorkStart:
		return domain.KindWorkStart
	case r.IsInspectionStart:
		return domain.KindInspectionStarted
	case r.IsInspectionCompleted:
		return domain.KindInspectionCompleted
	default:
		return domain.KindWorkEntry
	}
}

// ClassifyInspection treats draft and active inspections as newly created.
func ClassifyInspection(in domain.Inspection) domain.EventKind {
	switch in.Status {
	case domain.InspectionDraft, domain.InspectionActive:
		return domain.KindInspectionCreated
	default:
		return domain.KindInspection
	}
}

func ClassifyChat(domain.ChatMessage) domain.EventKind {
	return domain.KindChatMessage
}

// ReportEvent builds the canonical event for a work report.
func ReportEvent(r domain.WorkReport) domain.CanonicalEvent {
	kind := ClassifyReport(r)
	evt := domain.CanonicalEvent{
		ID:         "report:" + r.ID,
		Kind:       kind,
		WorkID:     r.WorkID,
		AuthorID:   r.AuthorID,
		AuthorName: r.AuthorName,
		AuthorRole: r.AuthorRole,
		Timestamp:  r.CreatedAt,
		Content:    r.Description,
	}
	switch kind {
	case domain.KindWorkEntry, domain.KindWorkStart:
		evt.Work = &domain.WorkData{
			Volume:        r.Volume,
			Unit:          r.Unit,
			Materials:     SplitList(r.Materials),
			Photos:        SplitList(r.Photos),
			CompletionPct: r.CompletionPct,
		}
	case domain.KindInspectionStarted, domain.KindInspectionCompleted:
		data := &domain.InspectionData{
			Number:  r.InspectionNumber,
			Defects: []domain.Defect{},
			Photos:  SplitList(r.Photos),
		}
		if r.InspectionID != nil {
			data.InspectionID = *r.InspectionID
		}
		if r.DefectsCount != nil {
			data.DefectsCount = *r.DefectsCount
		}
		evt.Inspection = data
	}
	return evt
}

// InspectionEvent builds the canonical event for an inspection, decoding its
// embedded defect list.
func InspectionEvent(in domain.Inspection) domain.CanonicalEvent {
	defects := DecodeDefects(in.DefectsJSON)
	number := in.Number
	content := in.Title
	if content == "" {
		content = in.Description
	}
	if content == "" {
		content = fmt.Sprintf("Inspection #%d", in.Number)
	}
	return domain.CanonicalEvent{
		ID:         "inspection:" + in.ID,
		Kind:       ClassifyInspection(in),
		WorkID:     in.WorkID,
		AuthorID:   in.AuthorID,
		AuthorName: in.AuthorName,
		AuthorRole: in.AuthorRole,
		Timestamp:  in.CreatedAt,
		Content:    content,
		Inspection: &domain.InspectionData{
			InspectionID:  in.ID,
			Number:        &number,
			Status:        in.Status,
			ScheduledDate: in.ScheduledDate,
			Defects:       defects,
			DefectsCount:  len(defects),
			Photos:        SplitList(in.Photos),
		},
	}
}

func ChatEvent(m domain.ChatMessage) domain.CanonicalEvent {
	return domain.CanonicalEvent{
		ID:         "chat:" + m.ID,
		Kind:       ClassifyChat(m),
		WorkID:     m.WorkID,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		AuthorRole: m.AuthorRole,
		Timestamp:  m.CreatedAt,
		Content:    m.Message,
	}
}
