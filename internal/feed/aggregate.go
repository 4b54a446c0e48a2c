package feed

import (
	"sort"
	"strings"
	"time"

	"siteline/internal/domain"
)

// WorkRecords is the raw history of one work item.
type WorkRecords struct {
	Work        domain.Work
	Reports     []domain.WorkReport
	Chat        []domain.ChatMessage
	Inspections []domain.Inspection
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp accepts the timestamp layouts found in stored records.
func ParseTimestamp(ts string) (time.Time, bool) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Aggregate merges one work's records into a feed ordered newest first.
// Equal timestamps keep source order (reports, chat, inspections) and input
// order within a source. Unparseable timestamps go last.
func Aggregate(rec WorkRecords) []domain.CanonicalEvent {
	out := make([]domain.CanonicalEvent, 0, len(rec.Reports)+len(rec.Chat)+len(rec.Inspections))
	for _, r := range rec.Reports {
		out = append(out, withWork(ReportEvent(r), rec.Work))
	}
	for _, m := range rec.Chat {
		out = append(out, withWork(ChatEvent(m), rec.Work))
	}
	for _, in := range rec.Inspections {
		out = append(out, withWork(InspectionEvent(in), rec.Work))
	}
	SortEvents(out)
	return out
}

// AggregateMany merges several works. Ties across works keep the order the
// works were given in.
func AggregateMany(recs []WorkRecords) []domain.CanonicalEvent {
	var out []domain.CanonicalEvent
	for _, rec := range recs {
		out = append(out, Aggregate(rec)...)
	}
	if out == nil {
		return []domain.CanonicalEvent{}
	}
	SortEvents(out)
	return out
}

// SortEvents orders events newest first with a stable sort.
func SortEvents(events []domain.CanonicalEvent) {
	type key struct {
		t  time.Time
		ok bool
	}
	keys := make(map[string]key, len(events))
	for _, e := range events {
		t, ok := ParseTimestamp(e.Timestamp)
		keys[e.Timestamp] = key{t: t, ok: ok}
	}
	sort.SliceStable(events, func(i, j int) bool {
		a, b := keys[events[i].Timestamp], keys[events[j].Timestamp]
		if a.ok != b.ok {
			return a.ok
		}
		if !a.ok {
			return false
		}
		return a.t.After(b.t)
	})
}

func withWork(evt domain.CanonicalEvent, w domain.Work) domain.CanonicalEvent {
	if evt.WorkID == "" {
		evt.WorkID = w.ID
	}
	evt.ObjectID = w.ObjectID
	evt.ObjectName = w.ObjectName
	evt.WorkTitle = w.Title
	evt.ContractorID = w.ContractorID
	evt.ContractorName = w.ContractorName
	return evt
}
