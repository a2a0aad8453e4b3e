package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"reward-anomaly-engine/internal/anomaly"
	"reward-anomaly-engine/internal/config"
	"reward-anomaly-engine/internal/version"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubReports struct {
	err  error
	tags []string
}

func (s *stubReports) Report(_ context.Context, tag string) (*anomaly.Report, error) {
	s.tags = append(s.tags, tag)
	if s.err != nil {
		return nil, s.err
	}
	tf, err := anomaly.ParseTimeframe(tag)
	if err != nil {
		return nil, err
	}
	return &anomaly.Report{
		Timeframe: tf,
		Since:     time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC),
		Stats:     anomaly.Stats{TotalActions: 3, TotalAmount: decimal.RequireFromString("4.5")},
		TopEarners: []anomaly.TopEarner{
			{UserID: "u1", Username: "alice", DisplayName: "Alice", TotalEarned: decimal.RequireFromString("4.5"), ActionCount: 3},
		},
		DuplicateHashes: []anomaly.DuplicateGroup{},
		Spikes:          []anomaly.SpikeRecord{},
	}, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestRouter(reports ReportSource, checks map[string]Pinger) *gin.Engine {
	cfg := config.HTTPConfig{AdminTokens: []string{"admin-token"}, ViewerTokens: []string{"viewer-token"}}
	return NewRouter(cfg, reports, checks, zerolog.Nop())
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeErrors(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Errors, 1)
	return resp
}

func TestAnomaliesReturnsReport(t *testing.T) {
	reports := &stubReports{}
	w := get(newTestRouter(reports, nil), "/api/v1/admin/rewards/anomalies?timeframe=7d", "admin-token")

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"7d"}, reports.tags)
	require.NotEmpty(t, w.Header().Get(requestIDHeader))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "7d", body["timeframe"])
	require.Equal(t, "2026-03-09T12:00:00Z", body["since"])
	for _, key := range []string{"stats", "top_earners", "duplicate_hashes", "spikes"} {
		require.Contains(t, body, key)
	}
	stats := body["stats"].(map[string]any)
	require.Equal(t, "4.5", stats["total_amount"])
	earner := body["top_earners"].([]any)[0].(map[string]any)
	require.Equal(t, "alice", earner["username"])
	require.Equal(t, "Alice", earner["display_name"])
}

func TestAnomaliesDefaultsTo24h(t *testing.T) {
	reports := &stubReports{}
	w := get(newTestRouter(reports, nil), "/api/v1/admin/rewards/anomalies", "admin-token")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"24h"}, reports.tags)
}

func TestAnomaliesRejectsUnknownTimeframe(t *testing.T) {
	w := get(newTestRouter(&stubReports{}, nil), "/api/v1/admin/rewards/anomalies?timeframe=1h", "admin-token")
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeErrors(t, w)
	require.Equal(t, "timeframe must be one of 24h, 7d, 30d", resp.Errors[0].Detail)
}

func TestAnomaliesAuth(t *testing.T) {
	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic admin-token", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", http.StatusUnauthorized},
		{"viewer token", "Bearer viewer-token", http.StatusForbidden},
		{"admin token", "Bearer admin-token", http.StatusOK},
		{"lower-case scheme", "bearer admin-token", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reports := &stubReports{}
			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/rewards/anomalies", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			newTestRouter(reports, nil).ServeHTTP(w, req)

			require.Equal(t, tc.status, w.Code)
			if tc.status != http.StatusOK {
				decodeErrors(t, w)
				require.Empty(t, reports.tags)
			}
		})
	}
}

func TestAnomaliesForbiddenIsDistinctFromDataErrors(t *testing.T) {
	w := get(newTestRouter(&stubReports{}, nil), "/api/v1/admin/rewards/anomalies", "viewer-token")
	require.Equal(t, http.StatusForbidden, w.Code)
	resp := decodeErrors(t, w)
	require.Equal(t, anomaly.Detail(anomaly.ErrPermissionDenied), resp.Errors[0].Detail)
}

func TestAnomaliesOpenWhenNoTokensConfigured(t *testing.T) {
	r := NewRouter(config.HTTPConfig{}, &stubReports{}, nil, zerolog.Nop())
	w := get(r, "/api/v1/admin/rewards/anomalies", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAnomaliesMapsEngineErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: dial tcp 10.1.2.3:5432", anomaly.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: read exceeded 10s", anomaly.ErrStoreTimeout), http.StatusGatewayTimeout},
		{fmt.Errorf("%w: spike.multiplier must be set", anomaly.ErrInvalidConfiguration), http.StatusInternalServerError},
		{errors.New("panic-free surprise"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := get(newTestRouter(&stubReports{err: tc.err}, nil), "/api/v1/admin/rewards/anomalies", "admin-token")
		require.Equal(t, tc.status, w.Code, tc.err.Error())
		resp := decodeErrors(t, w)
		require.NotContains(t, resp.Errors[0].Detail, "10.1.2.3")
		require.NotContains(t, resp.Errors[0].Detail, "surprise")
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-123")
	w := httptest.NewRecorder()
	newTestRouter(&stubReports{}, nil).ServeHTTP(w, req)
	require.Equal(t, "req-123", w.Header().Get(requestIDHeader))
}

func TestHealth(t *testing.T) {
	healthy := map[string]Pinger{"postgres": pingFunc(func(context.Context) error { return nil })}
	w := get(newTestRouter(&stubReports{}, healthy), "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)

	broken := map[string]Pinger{
		"postgres": pingFunc(func(context.Context) error { return nil }),
		"redis":    pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}
	w = get(newTestRouter(&stubReports{}, broken), "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "degraded", resp.Status)
	require.Equal(t, version.Version, resp.Version)
	require.Len(t, resp.Deps, 2)
	require.Equal(t, "postgres", resp.Deps[0].Name)
	require.Equal(t, "unavailable", resp.Deps[1].Status)
}

func TestMetricsEndpoint(t *testing.T) {
	w := get(newTestRouter(&stubReports{}, nil), "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "go_goroutines")
}
