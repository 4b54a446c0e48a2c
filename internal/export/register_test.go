package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"siteline/internal/domain"
)

func strp(s string) *string { return &s }

func TestDefectRegisterRows(t *testing.T) {
	w := domain.Work{ID: "w1", Title: "Foundation slab"}
	inspections := []domain.Inspection{{ID: "in-1", Number: 1}, {ID: "in-2", Number: 2}}
	defects := []domain.DefectWithRemediation{
		{Defect: domain.Defect{ID: "d3", InspectionID: "in-2", Description: "Crack", Severity: domain.SeverityLow}},
		{Defect: domain.Defect{ID: "d1", InspectionID: "in-1", Description: "Gap", Severity: domain.SeverityMedium, Photos: []string{"a.jpg", "b.jpg"}}},
		{
			Defect: domain.Defect{ID: "d2", InspectionID: "in-1", Description: "Exposed rebar", Severity: domain.SeverityCritical, Deadline: strp("2024-03-10")},
			Remediation: &domain.Remediation{
				Status: domain.RemediationRejected, CompletedAt: strp("2024-03-05T10:00:00Z"),
				VerifiedAt: strp("2024-03-06T10:00:00Z"), VerifiedBy: strp("client-1"), VerificationNotes: "missing nails",
			},
		},
	}

	data, err := DefectRegister(w, inspections, defects)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("PK")))

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{sheetName}, f.GetSheetList())
	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, RegisterHeader, rows[0])

	assert.Equal(t, "#1", rows[1][0])
	assert.Equal(t, "d2", rows[1][1])
	assert.Equal(t, "2024-03-10", rows[1][7])
	assert.Equal(t, "rejected", rows[1][9])
	assert.Equal(t, "missing nails", rows[1][13])

	assert.Equal(t, "d1", rows[2][1])
	assert.Equal(t, "a.jpg\nb.jpg", rows[2][8])

	assert.Equal(t, "#2", rows[3][0])
	assert.Equal(t, "d3", rows[3][1])

	props, err := f.GetDocProps()
	require.NoError(t, err)
	assert.Equal(t, "Defect register: Foundation slab", props.Title)
}

func TestDefectRegisterEmpty(t *testing.T) {
	data, err := DefectRegister(domain.Work{ID: "w1"}, nil, nil)
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
