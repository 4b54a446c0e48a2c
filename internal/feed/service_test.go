package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteline/internal/domain"
)

type fakeSource struct {
	works       map[string]domain.Work
	reports     map[string][]domain.WorkReport
	chat        map[string][]domain.ChatMessage
	inspections map[string][]domain.Inspection
	reportErr   error
	deadline    bool
}

var errMissing = errors.New("not found")

func (f *fakeSource) GetWork(ctx context.Context, id string) (domain.Work, error) {
	_, f.deadline = ctx.Deadline()
	w, ok := f.works[id]
	if !ok {
		return domain.Work{}, errMissing
	}
	return w, nil
}

func (f *fakeSource) ListWorkReports(_ context.Context, id string) ([]domain.WorkReport, error) {
	return f.reports[id], f.reportErr
}

func (f *fakeSource) ListInspections(_ context.Context, id string) ([]domain.Inspection, error) {
	return f.inspections[id], nil
}

func (f *fakeSource) ListChatMessages(_ context.Context, id string) ([]domain.ChatMessage, error) {
	return f.chat[id], nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		works: map[string]domain.Work{
			"w1": {ID: "w1", Title: "Slab"},
			"w2": {ID: "w2", Title: "Walls"},
		},
		reports: map[string][]domain.WorkReport{
			"w1": {{ID: "r1", WorkID: "w1", CreatedAt: "2024-03-01T10:00:00Z"}},
			"w2": {{ID: "r2", WorkID: "w2", CreatedAt: "2024-03-01T11:00:00Z"}},
		},
		chat: map[string][]domain.ChatMessage{},
		inspections: map[string][]domain.Inspection{
			"w1": {{ID: "i1", WorkID: "w1", Status: domain.InspectionDraft, CreatedAt: "2024-03-01T09:00:00Z", UpdatedAt: "a"}},
		},
	}
}

func TestServiceCachesUntilRecordsChange(t *testing.T) {
	src := newFakeSource()
	svc, err := NewService(src, 8, nil)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := svc.WorkFeed(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, domain.KindInspectionCreated, first[1].Kind)

	// callers may not corrupt the cache
	first[0].Content = "mutated"
	again, err := svc.WorkFeed(ctx, "w1")
	require.NoError(t, err)
	assert.Empty(t, again[0].Content)

	src.inspections["w1"][0].Status = domain.InspectionCompleted
	src.inspections["w1"][0].UpdatedAt = "b"
	updated, err := svc.WorkFeed(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, domain.KindInspection, updated[1].Kind)

	src.chat["w1"] = []domain.ChatMessage{{ID: "m1", WorkID: "w1", CreatedAt: "2024-03-01T12:00:00Z"}}
	withChat, err := svc.WorkFeed(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, withChat, 3)
	assert.Equal(t, "chat:m1", withChat[0].ID)
}

func TestServiceWithoutCache(t *testing.T) {
	svc, err := NewService(newFakeSource(), 0, nil)
	require.NoError(t, err)
	got, err := svc.WorkFeed(context.Background(), "w2")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMultiFeedMergesWorks(t *testing.T) {
	svc, err := NewService(newFakeSource(), 8, nil)
	require.NoError(t, err)
	got, err := svc.MultiFeed(context.Background(), []string{"w1", "w2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"report:r2", "report:r1", "inspection:i1"}, ids(got))

	none, err := svc.MultiFeed(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestServicePropagatesSourceErrors(t *testing.T) {
	src := newFakeSource()
	svc, err := NewService(src, 8, nil)
	require.NoError(t, err)

	_, err = svc.WorkFeed(context.Background(), "nope")
	assert.ErrorIs(t, err, errMissing)

	src.reportErr = errors.New("database is locked")
	_, err = svc.MultiFeed(context.Background(), []string{"w1"})
	assert.ErrorContains(t, err, "list work reports")
}

func TestFingerprintTracksInspectionEdits(t *testing.T) {
	rec := WorkRecords{Work: domain.Work{ID: "w1"}, Inspections: []domain.Inspection{{ID: "i1", Status: domain.InspectionDraft}}}
	before := Fingerprint(rec)
	assert.Equal(t, before, Fingerprint(rec))
	rec.Inspections[0].DefectsCount = 2
	assert.NotEqual(t, before, Fingerprint(rec))
}

func TestCachedFeedIsIsolatedFromCallers(t *testing.T) {
	src := newFakeSource()
	src.reports["w1"][0].Materials = "B25 concrete, A500 rebar"
	src.inspections["w1"][0].DefectsJSON = `[{"id":"d1","description":"Crack","severity":"low","photos":["a.jpg"]}]`
	svc, err := NewService(src, 8, nil)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := svc.WorkFeed(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, first, 2)
	first[0].Work.Materials[0] = "changed"
	first[0].Work.Photos = append(first[0].Work.Photos, "x.jpg")
	first[1].Inspection.Defects[0].Description = "changed"
	first[1].Inspection.Defects[0].Photos[0] = "changed"
	first[1].Inspection = nil

	again, err := svc.WorkFeed(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, []string{"B25 concrete", "A500 rebar"}, again[0].Work.Materials)
	assert.Empty(t, again[0].Work.Photos)
	require.NotNil(t, again[1].Inspection)
	assert.Equal(t, "Crack", again[1].Inspection.Defects[0].Description)
	assert.Equal(t, []string{"a.jpg"}, again[1].Inspection.Defects[0].Photos)
}

func TestRecordsAreBoundedByTimeout(t *testing.T) {
	src := newFakeSource()
	svc, err := NewService(src, 0, nil)
	require.NoError(t, err)

	_, err = svc.Records(context.Background(), "w1")
	require.NoError(t, err)
	assert.False(t, src.deadline)

	svc.Timeout = time.Second
	_, err = svc.Records(context.Background(), "w1")
	require.NoError(t, err)
	assert.True(t, src.deadline)
}
