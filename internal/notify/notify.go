// Package notify tracks what each actor has seen of a work's feed.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"siteline/internal/domain"
	"siteline/internal/feed"
)

// Counts are the unread totals of one work for one actor.
type Counts struct {
	WorkID      string `json:"work_id"`
	Messages    int    `json:"messages"`
	Logs        int    `json:"logs"`
	Inspections int    `json:"inspections"`
}

func (c Counts) Total() int { return c.Messages + c.Logs + c.Inspections }

type Channel string

const (
	ChannelMessages    Channel = "messages"
	ChannelLogs        Channel = "logs"
	ChannelInspections Channel = "inspections"
)

// ChannelOf maps an event kind to the counter it increments.
func ChannelOf(k domain.EventKind) Channel {
	switch k {
	case domain.KindChatMessage:
		return ChannelMessages
	case domain.KindInspection, domain.KindInspectionCreated:
		return ChannelInspections
	default:
		return ChannelLogs
	}
}

// Unread counts events newer than the watermark that someone other than
// actorID authored. Events with unparseable timestamps are never unread.
func Unread(events []domain.CanonicalEvent, watermark time.Time, actorID string) Counts {
	var c Counts
	if len(events) > 0 {
		c.WorkID = events[0].WorkID
	}
	mark := watermark.UnixMicro()
	for _, ev := range events {
		if ev.AuthorID == actorID {
			continue
		}
		ts, ok := feed.ParseTimestamp(ev.Timestamp)
		if !ok || ts.UnixMicro() <= mark {
			continue
		}
		switch ChannelOf(ev.Kind) {
		case ChannelMessages:
			c.Messages++
		case ChannelInspections:
			c.Inspections++
		default:
			c.Logs++
		}
	}
	return c
}

// FeedReader is the part of feed.Service the notifier reads.
type FeedReader interface {
	WorkFeed(ctx context.Context, workID string) ([]domain.CanonicalEvent, error)
}

// Service answers unread counts and records seen marks.
type Service struct {
	Feed  FeedReader
	Store WatermarkStore
	Log   *zap.Logger
	Now   func() time.Time
	// Timeout bounds each call; zero leaves ctx as is.
	Timeout time.Duration
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.Timeout)
}

func (s Service) Unread(ctx context.Context, actorID, workID string) (Counts, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	events, err := s.Feed.WorkFeed(ctx, workID)
	if err != nil {
		return Counts{}, err
	}
	mark, err := s.Store.Watermark(ctx, actorID, workID)
	if err != nil {
		return Counts{}, err
	}
	c := Unread(events, mark, actorID)
	c.WorkID = workID
	return c, nil
}

// MarkSeen moves the actor's watermark for workID to now. It never moves a
// watermark backwards, so repeating it is harmless.
func (s Service) MarkSeen(ctx context.Context, actorID, workID string) (time.Time, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	at := s.now()
	moved, err := s.Store.MarkSeen(ctx, actorID, workID, at)
	if err != nil {
		return time.Time{}, err
	}
	if s.Log != nil {
		s.Log.Debug("mark seen", zap.String("actor_id", actorID), zap.String("work_id", workID), zap.Bool("moved", moved))
	}
	return s.Store.Watermark(ctx, actorID, workID)
}

// SelectionTracker fires a seen mark once per change of the selected work.
// Selecting the already selected work does nothing.
type SelectionTracker struct {
	Service Service
	ActorID string

	mu      sync.Mutex
	current string
}

// Select reports whether a seen mark was sent.
func (t *SelectionTracker) Select(ctx context.Context, workID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if workID == "" || workID == t.current {
		return false, nil
	}
	if _, err := t.Service.MarkSeen(ctx, t.ActorID, workID); err != nil {
		return false, err
	}
	t.current = workID
	return true, nil
}

// Current returns the selected work id.
func (t *SelectionTracker) Current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}
