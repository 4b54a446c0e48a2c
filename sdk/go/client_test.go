package sitelinesdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRemediationSendsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/defects/d-1/remediation", r.URL.Path)
		assert.Equal(t, "sl_key", r.Header.Get("X-Api-Key"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Braced", body["description"])
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "r-1", "defect_id": "d-1", "status": "completed", "photos": []string{}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "sl_key"
	rm, err := c.SubmitRemediation(context.Background(), "d-1", "Braced", nil)
	require.NoError(t, err)
	assert.Equal(t, "completed", rm.Status)
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"forbidden_transition","message":"invalid remediation status transition verified -> rejected","details":{"from":"verified","to":"rejected"}}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).VerifyRemediation(context.Background(), "r-1", false, "no")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "forbidden_transition", apiErr.Code)
	assert.Equal(t, "verified", apiErr.Details["from"])
	assert.False(t, apiErr.Transient())
}

func TestTransientResponsesAreRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":"transient_io","message":"store temporarily unavailable; retry"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"work_id":"w-1","messages":2,"logs":1,"inspections":0}`))
	}))
	defer srv.Close()

	u, err := New(srv.URL).Unread(context.Background(), "w-1")
	require.NoError(t, err)
	assert.Equal(t, 2, u.Messages)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestConflictIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	_, err := New(srv.URL).SubmitInspection(context.Background(), "i-1")
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestQueryFeedDefaultsToAllWorks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			WorkIDs []string `json:"work_ids"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotNil(t, body.WorkIDs)
		assert.Empty(t, body.WorkIDs)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[],"facets":[{"tag":{"facet":"work","id":"w-1","label":"Slab"},"enabled":true,"selected":false,"count":3}],"total":0}`))
	}))
	defer srv.Close()

	page, err := New(srv.URL).QueryFeed(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, page.Facets, 1)
	assert.Equal(t, "Slab", page.Facets[0].Tag.Label)
	assert.True(t, page.Facets[0].Enabled)
}
