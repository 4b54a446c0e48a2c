package feed

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"siteline/internal/domain"
)

// Source is the read side of the record store.
type Source interface {
	GetWork(ctx context.Context, workID string) (domain.Work, error)
	ListWorkReports(ctx context.Context, workID string) ([]domain.WorkReport, error)
	ListInspections(ctx context.Context, workID string) ([]domain.Inspection, error)
	ListChatMessages(ctx context.Context, workID string) ([]domain.ChatMessage, error)
}

type cachedFeed struct {
	fingerprint uint64
	events      []domain.CanonicalEvent
}

// Service builds work feeds from a Source, caching per work until the raw
// collections change.
type Service struct {
	Source Source
	Log    *zap.Logger
	// Timeout bounds the store reads of one work; zero leaves ctx as is.
	Timeout time.Duration
	cache   *lru.Cache[string, cachedFeed]
}

// NewService returns a feed service. cacheSize <= 0 disables caching.
func NewService(src Source, cacheSize int, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{Source: src, Log: log}
	if cacheSize > 0 {
		c, err := lru.New[string, cachedFeed](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("feed cache: %w", err)
		}
		s.cache = c
	}
	return s, nil
}

// Records loads the raw history of one work.
func (s *Service) Records(ctx context.Context, workID string) (WorkRecords, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	w, err := s.Source.GetWork(ctx, workID)
	if err != nil {
		return WorkRecords{}, err
	}
	reports, err := s.Source.ListWorkReports(ctx, workID)
	if err != nil {
		return WorkRecords{}, fmt.Errorf("list work reports: %w", err)
	}
	chat, err := s.Source.ListChatMessages(ctx, workID)
	if err != nil {
		return WorkRecords{}, fmt.Errorf("list chat messages: %w", err)
	}
	inspections, err := s.Source.ListInspections(ctx, workID)
	if err != nil {
		return WorkRecords{}, fmt.Errorf("list inspections: %w", err)
	}
	return WorkRecords{Work: w, Reports: reports, Chat: chat, Inspections: inspections}, nil
}

// WorkFeed returns the ordered feed of one work.
func (s *Service) WorkFeed(ctx context.Context, workID string) ([]domain.CanonicalEvent, error) {
	rec, err := s.Records(ctx, workID)
	if err != nil {
		return nil, err
	}
	return s.aggregate(rec), nil
}

// MultiFeed merges the feeds of several works.
func (s *Service) MultiFeed(ctx context.Context, workIDs []string) ([]domain.CanonicalEvent, error) {
	var out []domain.CanonicalEvent
	for _, id := range workIDs {
		rec, err := s.Records(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, s.aggregate(rec)...)
	}
	if out == nil {
		return []domain.CanonicalEvent{}, nil
	}
	SortEvents(out)
	return out, nil
}

func (s *Service) aggregate(rec WorkRecords) []domain.CanonicalEvent {
	fp := Fingerprint(rec)
	if s.cache != nil {
		if hit, ok := s.cache.Get(rec.Work.ID); ok && hit.fingerprint == fp {
			return cloneEvents(hit.events)
		}
	}
	for _, in := range rec.Inspections {
		if _, err := DecodeDefectsStrict(in.DefectsJSON); err != nil {
			s.Log.Debug("inspection defects unreadable; treating as none",
				zap.String("inspection_id", in.ID), zap.Error(err))
		}
	}
	events := Aggregate(rec)
	if s.cache != nil {
		s.cache.Add(rec.Work.ID, cachedFeed{fingerprint: fp, events: cloneEvents(events)})
	}
	return events
}

// Fingerprint summarizes the raw collections so a cached feed can be
// validated without re-aggregating. Reports and chat are append-only, so
// their counts suffice; inspections mutate in place.
func Fingerprint(rec WorkRecords) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%d|%d|%d", rec.Work.ID, rec.Work.Title, rec.Work.ObjectName, rec.Work.ContractorID, rec.Work.ContractorName,
		len(rec.Reports), len(rec.Chat), len(rec.Inspections))
	for _, in := range rec.Inspections {
		fmt.Fprintf(h, "|%s:%s:%d:%s:%d", in.ID, in.Status, in.DefectsCount, in.UpdatedAt, len(in.DefectsJSON))
	}
	return h.Sum64()
}

// cloneEvents copies events down to their payload slices so callers and
// the cache never share memory.
func cloneEvents(in []domain.CanonicalEvent) []domain.CanonicalEvent {
	out := make([]domain.CanonicalEvent, len(in))
	for i, ev := range in {
		if ev.Work != nil {
			w := *ev.Work
			w.Volume = clonePtr(w.Volume)
			w.CompletionPct = clonePtr(w.CompletionPct)
			w.Materials = cloneStrings(w.Materials)
			w.Photos = cloneStrings(w.Photos)
			ev.Work = &w
		}
		if ev.Inspection != nil {
			d := *ev.Inspection
			d.Number = clonePtr(d.Number)
			d.ScheduledDate = clonePtr(d.ScheduledDate)
			d.Photos = cloneStrings(d.Photos)
			if d.Defects != nil {
				defects := make([]domain.Defect, len(d.Defects))
				for j, df := range d.Defects {
					df.Deadline = clonePtr(df.Deadline)
					df.Photos = cloneStrings(df.Photos)
					defects[j] = df
				}
				d.Defects = defects
			}
			ev.Inspection = &d
		}
		out[i] = ev
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append(make([]string, 0, len(in)), in...)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
