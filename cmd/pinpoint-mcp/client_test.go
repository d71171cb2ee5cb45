package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/pinpoint/models"
)

func TestClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		switch r.URL.Path {
		case "/api/v1/selectors/price/drift":
			assert.Equal(t, "24h", r.URL.Query().Get("window"))
			_ = json.NewEncoder(w).Encode(models.DriftReport{SelectorID: "price", Trend: models.TrendStable})
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"error":   models.ErrorDetail{Code: models.ErrCodeSelectorUnknown, Message: "nope"},
			})
		}
	}))
	defer srv.Close()
	c := newClient(srv.URL, "k")

	var report models.DriftReport
	require.NoError(t, c.do(context.Background(), http.MethodGet, "/api/v1/selectors/price/drift", url.Values{"window": {"24h"}}, nil, &report))
	assert.Equal(t, models.TrendStable, report.Trend)

	err := c.do(context.Background(), http.MethodGet, "/api/v1/selectors/ghost/drift", nil, nil, &report)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, models.ErrCodeSelectorUnknown, apiErr.Detail.Code)
}

func TestFormatResolve(t *testing.T) {
	out := formatResolve(models.ResolveResponse{
		Results: []*models.ResolutionResult{
			{SelectorID: "price", Success: true, StrategyID: "itemprop", Confidence: 0.9, Candidate: &models.Candidate{Text: "$1", Path: "span"}},
			{SelectorID: "buy", FailureReason: models.ReasonNotFound, SnapshotID: "snap-1",
				Attempts: []models.AttemptOutcome{{StrategyID: "role"}, {StrategyID: "text"}}},
		},
	})
	assert.Contains(t, out, `price: "$1" via itemprop`)
	assert.Contains(t, out, "buy: FAILED (not_found) after role, text")
	assert.Contains(t, out, "snapshot: snap-1")
}
