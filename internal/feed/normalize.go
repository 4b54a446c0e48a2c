package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"siteline/internal/domain"
)

// SplitList turns a comma-delimited field into trimmed, non-empty items.
// It never returns nil.
func SplitList(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// JoinList is the inverse of SplitList for already-normalized items.
func JoinList(items []string) string {
	return strings.Join(SplitList(strings.Join(items, ",")), ", ")
}

type rawDefect struct {
	ID                json.RawMessage `json:"id"`
	CheckpointID      string          `json:"checkpoint_id"`
	Description       string          `json:"description"`
	StandardReference string          `json:"standard_reference"`
	Location          string          `json:"location"`
	Severity          string          `json:"severity"`
	ResponsibleParty  string          `json:"responsible_party"`
	Deadline          *string         `json:"deadline"`
	Photos            json.RawMessage `json:"photos"`
}

var errNotList = errors.New("defects field is not a JSON array")

// DecodeDefects decodes an embedded defect list. Anything it cannot read
// yields an empty list.
func DecodeDefects(raw string) []domain.Defect {
	defects, _ := DecodeDefectsStrict(raw)
	return defects
}

// DecodeDefectsStrict is DecodeDefects that also reports why decoding failed.
// The returned list is always non-nil.
func DecodeDefectsStrict(raw string) ([]domain.Defect, error) {
	out := []domain.Defect{}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return out, nil
	}
	if !strings.HasPrefix(trimmed, "[") {
		return out, errNotList
	}
	var items []rawDefect
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		return out, err
	}
	for _, it := range items {
		sev := domain.Severity(strings.ToLower(strings.TrimSpace(it.Severity)))
		if !sev.IsValid() {
			sev = domain.SeverityMedium
		}
		out = append(out, domain.Defect{
			ID:                rawID(it.ID),
			CheckpointID:      it.CheckpointID,
			Description:       it.Description,
			StandardReference: it.StandardReference,
			Location:          it.Location,
			Severity:          sev,
			ResponsibleParty:  it.ResponsibleParty,
			Deadline:          it.Deadline,
			Photos:            rawPhotos(it.Photos),
		})
	}
	return out, nil
}

// EncodeDefects produces the embedded representation read by DecodeDefects.
func EncodeDefects(defects []domain.Defect) (string, error) {
	if defects == nil {
		defects = []domain.Defect{}
	}
	b, err := json.Marshal(defects)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}

// rawPhotos accepts either a JSON array of URLs or a delimited string.
func rawPhotos(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return []string{}
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := []string{}
		for _, p := range list {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return SplitList(s)
	}
	return []string{}
}
