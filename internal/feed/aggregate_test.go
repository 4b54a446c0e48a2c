package feed

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteline/internal/domain"
)

func TestClassifyReportPrecedence(t *testing.T) {
	for mask := 0; mask < 8; mask++ {
		r := domain.WorkReport{
			IsWorkStart:           mask&1 != 0,
			IsInspectionStart:     mask&2 != 0,
			IsInspectionCompleted: mask&4 != 0,
		}
		want := domain.KindWorkEntry
		switch {
		case r.IsWorkStart:
			want = domain.KindWorkStart
		case r.IsInspectionStart:
			want = domain.KindInspectionStarted
		case r.IsInspectionCompleted:
			want = domain.KindInspectionCompleted
		}
		assert.Equal(t, want, ClassifyReport(r), "flags %03b", mask)
		assert.Equal(t, ClassifyReport(r), ClassifyReport(r))
	}
}

func TestClassifyInspectionByStatus(t *testing.T) {
	cases := map[domain.InspectionStatus]domain.EventKind{
		domain.InspectionDraft:     domain.KindInspectionCreated,
		domain.InspectionActive:    domain.KindInspectionCreated,
		domain.InspectionCompleted: domain.KindInspection,
		domain.InspectionOnRework:  domain.KindInspection,
		"":                         domain.KindInspection,
	}
	for status, want := range cases {
		assert.Equal(t, want, ClassifyInspection(domain.Inspection{Status: status}), "status %q", status)
	}
	assert.Equal(t, domain.KindChatMessage, ClassifyChat(domain.ChatMessage{}))
}

func TestReportEventPayload(t *testing.T) {
	vol, pct := 12.5, 40
	evt := ReportEvent(domain.WorkReport{
		ID: "r1", WorkID: "w1", CreatedAt: "2024-03-01T09:00:00Z", Description: "Poured slab",
		Volume: &vol, Unit: "m3", Materials: " B25 concrete,, A500 rebar ", Photos: "", CompletionPct: &pct,
	})
	assert.Equal(t, domain.KindWorkEntry, evt.Kind)
	require.NotNil(t, evt.Work)
	assert.Nil(t, evt.Inspection)
	assert.Equal(t, []string{"B25 concrete", "A500 rebar"}, evt.Work.Materials)
	assert.Equal(t, []string{}, evt.Work.Photos)
	assert.Equal(t, 40, *evt.Work.CompletionPct)

	n, cnt, id := 2, 3, "in-1"
	started := ReportEvent(domain.WorkReport{ID: "r2", IsInspectionCompleted: true, InspectionID: &id, InspectionNumber: &n, DefectsCount: &cnt})
	assert.Equal(t, domain.KindInspectionCompleted, started.Kind)
	assert.Nil(t, started.Work)
	require.NotNil(t, started.Inspection)
	assert.Equal(t, "in-1", started.Inspection.InspectionID)
	assert.Equal(t, 3, started.Inspection.DefectsCount)
}

func TestInspectionEventDecodesDefects(t *testing.T) {
	evt := InspectionEvent(domain.Inspection{
		ID: "in-1", WorkID: "w1", Status: domain.InspectionCompleted, Number: 2,
		DefectsJSON: `[{"id":"d1","description":"Crack","severity":"low"}]`, Photos: "a.jpg",
	})
	assert.Equal(t, domain.KindInspection, evt.Kind)
	assert.Equal(t, "Inspection #2", evt.Content)
	require.NotNil(t, evt.Inspection)
	assert.Equal(t, 1, evt.Inspection.DefectsCount)
	assert.Equal(t, []string{"a.jpg"}, evt.Inspection.Photos)

	broken := InspectionEvent(domain.Inspection{ID: "in-2", Status: domain.InspectionActive, DefectsJSON: "{oops"})
	assert.Equal(t, 0, broken.Inspection.DefectsCount)
	assert.Equal(t, []domain.Defect{}, broken.Inspection.Defects)
}

func TestAggregateEndToEnd(t *testing.T) {
	rec := WorkRecords{
		Work: domain.Work{ID: "W", ObjectID: "obj-1", Title: "Foundation", ContractorID: "builder-1"},
		Reports: []domain.WorkReport{
			{ID: "start", WorkID: "W", CreatedAt: "2024-03-01T08:00:00Z", IsWorkStart: true},
			{ID: "day1", WorkID: "W", CreatedAt: "2024-03-01T17:00:00Z", Description: "Formwork"},
			{ID: "day2", WorkID: "W", CreatedAt: "2024-03-02T17:00:00Z", Description: "Rebar"},
		},
		Chat: []domain.ChatMessage{
			{ID: "m1", WorkID: "W", CreatedAt: "2024-03-01T12:00:00Z", Message: "Concrete arrives at 10"},
			{ID: "m2", WorkID: "W", CreatedAt: "2024-03-02T09:00:00Z", Message: "OK"},
		},
		Inspections: []domain.Inspection{{
			ID: "in-1", WorkID: "W", Status: domain.InspectionActive, Number: 1, CreatedAt: "2024-03-02T12:00:00Z",
			DefectsJSON: `[{"id":"d1","description":"Cover too thin","standard_reference":"SP 63","severity":"high"}]`,
		}},
	}
	feed := Aggregate(rec)
	require.Len(t, feed, 6)

	var ids []string
	for _, e := range feed {
		ids = append(ids, e.ID)
		assert.Equal(t, "obj-1", e.ObjectID)
		assert.Equal(t, "builder-1", e.ContractorID)
		switch e.ID {
		case "inspection:in-1":
			assert.Equal(t, domain.KindInspectionCreated, e.Kind)
			assert.Equal(t, 1, e.Inspection.DefectsCount)
		case "report:start":
			assert.Equal(t, domain.KindWorkStart, e.Kind)
		}
	}
	assert.Equal(t, []string{
		"report:day2", "inspection:in-1", "chat:m2", "report:day1", "chat:m1", "report:start",
	}, ids)
}

func TestAggregateTiesAndBadTimestamps(t *testing.T) {
	ts := "2024-03-01T10:00:00Z"
	rec := WorkRecords{
		Work: domain.Work{ID: "W"},
		Reports: []domain.WorkReport{
			{ID: "r-bad", CreatedAt: "yesterday"},
			{ID: "r1", CreatedAt: ts},
			{ID: "r2", CreatedAt: ts},
		},
		Chat:        []domain.ChatMessage{{ID: "c1", CreatedAt: ts}, {ID: "c-bad", CreatedAt: ""}},
		Inspections: []domain.Inspection{{ID: "i1", CreatedAt: "2024-03-01 10:00:00"}},
	}
	feed := Aggregate(rec)
	var ids []string
	for _, e := range feed {
		ids = append(ids, e.ID)
		assert.Equal(t, "W", e.WorkID)
	}
	assert.Equal(t, []string{
		"report:r1", "report:r2", "chat:c1", "inspection:i1", "report:r-bad", "chat:c-bad",
	}, ids)
}

func TestAggregateIsOrderedForAnyInput(t *testing.T) {
	rec := WorkRecords{Work: domain.Work{ID: "W"}}
	for i := 0; i < 40; i++ {
		ts := fmt.Sprintf("2024-03-%02dT%02d:00:00Z", 1+(i*7)%28, (i*5)%24)
		switch i % 3 {
		case 0:
			rec.Reports = append(rec.Reports, domain.WorkReport{ID: fmt.Sprint(i), CreatedAt: ts})
		case 1:
			rec.Chat = append(rec.Chat, domain.ChatMessage{ID: fmt.Sprint(i), CreatedAt: ts})
		default:
			rec.Inspections = append(rec.Inspections, domain.Inspection{ID: fmt.Sprint(i), CreatedAt: ts})
		}
	}
	feed := Aggregate(rec)
	require.Len(t, feed, 40)
	for i := 1; i < len(feed); i++ {
		prev, _ := ParseTimestamp(feed[i-1].Timestamp)
		cur, _ := ParseTimestamp(feed[i].Timestamp)
		assert.False(t, cur.After(prev), "event %d is newer than event %d", i, i-1)
	}
}

func TestAggregateManyEmpty(t *testing.T) {
	got := AggregateMany(nil)
	require.NotNil(t, got)
	assert.Empty(t, got)
}
