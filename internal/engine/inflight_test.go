package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteline/internal/domain"
)

func TestInflightSetRefusesConcurrentHolder(t *testing.T) {
	s := &inflightSet{keys: map[string]struct{}{}}
	require.True(t, s.acquire("defect-1"))
	assert.False(t, s.acquire("defect-1"))
	assert.True(t, s.acquire("defect-2"))
	s.release("defect-1")
	assert.True(t, s.acquire("defect-1"))
}

func TestInflightSetSingleWinner(t *testing.T) {
	s := &inflightSet{keys: map[string]struct{}{}}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.acquire("defect-1") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestSubmitRemediationInFlight(t *testing.T) {
	e := New(nil, nil, nil)
	require.True(t, e.inflight.acquire("defect-1"))
	defer e.inflight.release("defect-1")

	actor := domain.Actor{ID: "builder-1", Role: domain.RoleContractor}
	_, err := e.SubmitRemediation(context.Background(), actor, "defect-1", "Braced", nil)
	assert.ErrorIs(t, err, ErrSubmissionInFlight)

	_, err = e.SubmitRemediation(context.Background(), actor, "defect-1", "", nil)
	var ve ValidationError
	assert.ErrorAs(t, err, &ve, "validation runs before the in-flight check")
}

func TestEnsureTransitions(t *testing.T) {
	allowed := map[[2]domain.InspectionStatus]bool{
		{domain.InspectionDraft, domain.InspectionActive}:       true,
		{domain.InspectionOnRework, domain.InspectionActive}:    true,
		{domain.InspectionActive, domain.InspectionCompleted}:   true,
		{domain.InspectionActive, domain.InspectionOnRework}:    true,
		{domain.InspectionCompleted, domain.InspectionOnRework}: true,
	}
	all := []domain.InspectionStatus{domain.InspectionDraft, domain.InspectionActive, domain.InspectionCompleted, domain.InspectionOnRework}
	for _, from := range all {
		for _, to := range all {
			err := ensureInspectionTransition(from, to)
			if allowed[[2]domain.InspectionStatus{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
			} else {
				assert.Error(t, err, "%s -> %s", from, to)
			}
		}
	}

	assert.NoError(t, ensureRemediationTransition(domain.RemediationPending, domain.RemediationCompleted))
	assert.NoError(t, ensureRemediationTransition(domain.RemediationCompleted, domain.RemediationVerified))
	assert.NoError(t, ensureRemediationTransition(domain.RemediationCompleted, domain.RemediationRejected))
	assert.Error(t, ensureRemediationTransition(domain.RemediationPending, domain.RemediationVerified))
	assert.Error(t, ensureRemediationTransition(domain.RemediationRejected, domain.RemediationCompleted))
	assert.Error(t, ensureRemediationTransition(domain.RemediationVerified, domain.RemediationRejected))
}

func TestMergeDraftDefaults(t *testing.T) {
	d := mergeDraft(nil, &domain.DraftDefect{Description: "  Crack  "}, "SP 70 5.2")
	assert.Equal(t, "Crack", d.Description)
	assert.Equal(t, "SP 70 5.2", d.StandardReference)
	assert.Equal(t, domain.SeverityMedium, d.Severity)

	d = mergeDraft(d, &domain.DraftDefect{Severity: domain.SeverityCritical, Photos: []string{"a.jpg, b.jpg"}}, "SP 70 5.2")
	assert.Equal(t, "Crack", d.Description)
	assert.Equal(t, domain.SeverityCritical, d.Severity)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, d.Photos)
}
