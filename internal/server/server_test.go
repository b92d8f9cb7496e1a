package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgetline/internal/db"
	"budgetline/internal/engine"
	"budgetline/internal/migrate"
	"budgetline/internal/resolver"
	"budgetline/internal/timeline"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	e := engine.New(conn, log)
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth, Log: log})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{Timeout: 10 * time.Second},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error
}

func createProject(t *testing.T, srv *testServer, id string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{"id": id}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
}

func TestHealthAndOpenAPI(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var oas map[string]any
	require.NoError(t, json.Unmarshal(data, &oas))
	paths, _ := oas["paths"].(map[string]any)
	assert.Contains(t, paths, "/v0/projects/{project_id}/timeline/calculate")
	assert.Contains(t, string(data), "bearerAuth")
}

func TestTimelineCalculationOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	createProject(t, srv, "tower")
	base := srv.URL + "/v0/projects/tower"

	res, data := doJSON(t, client, http.MethodPost, base+"/items", map[string]any{
		"id":                  "A",
		"description":         "Site work",
		"total_amount":        "400",
		"timing_method":       "absolute",
		"start_period":        0,
		"periods_to_complete": 4,
	}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var a ItemResponse
	require.NoError(t, json.Unmarshal(data, &a))
	assert.Equal(t, "400.00", a.TotalAmount)
	assert.Equal(t, "ABSOLUTE", a.TimingMethod)
	assert.Equal(t, "LINEAR", a.DistributionProfile)

	res, data = doJSON(t, client, http.MethodPost, base+"/items", map[string]any{
		"id":                  "B",
		"description":         "Vertical",
		"total_amount":        "200",
		"timing_method":       "DEPENDENT",
		"periods_to_complete": 2,
	}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, base+"/dependencies", map[string]any{
		"dependent_item_id": "B",
		"trigger_item_id":   "A",
		"trigger_event":     "COMPLETE",
		"offset_periods":    1,
	}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var dep DependencyResponse
	require.NoError(t, json.Unmarshal(data, &dep))
	assert.True(t, dep.IsHardDependency)
	assert.Nil(t, dep.TriggerValue)

	res, data = doJSON(t, client, http.MethodGet, base+"/items", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var items []ItemResponse
	require.NoError(t, json.Unmarshal(data, &items))
	require.Len(t, items, 2)
	assert.Equal(t, 0, items[0].DependencyCount)
	assert.Equal(t, 1, items[1].DependencyCount)

	res, data = doJSON(t, client, http.MethodGet, base+"/timeline", nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, base+"/timeline/calculate", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var tl timeline.Timeline
	require.NoError(t, json.Unmarshal(data, &tl))
	b, ok := tl.Item("B")
	require.True(t, ok)
	assert.Equal(t, resolver.StateResolved, b.State)
	require.NotNil(t, b.StartPeriod)
	assert.Equal(t, 4, *b.StartPeriod)
	assert.Equal(t, "600.00", tl.Summary.TotalAmount.StringFixed(2))
	assert.Len(t, tl.PeriodTotals, 6)

	res, cached := doJSON(t, client, http.MethodGet, base+"/timeline", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(cached))
	assert.JSONEq(t, string(data), string(cached))

	res, data = doJSON(t, client, http.MethodGet, base+"/events?type=timeline.calculated", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var evts paginatedEvents
	require.NoError(t, json.Unmarshal(data, &evts))
	require.Len(t, evts.Items, 1)
	assert.Equal(t, "local-user", evts.Items[0].ActorID)
}

func TestCycleIsReportedPerItem(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	createProject(t, srv, "loop")
	base := srv.URL + "/v0/projects/loop"

	for _, id := range []string{"X", "Y"} {
		res, data := doJSON(t, client, http.MethodPost, base+"/items", map[string]any{
			"id": id, "total_amount": "10", "timing_method": "DEPENDENT", "periods_to_complete": 1,
		}, nil)
		require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	}
	for _, pair := range [][2]string{{"X", "Y"}, {"Y", "X"}} {
		res, data := doJSON(t, client, http.MethodPost, base+"/dependencies", map[string]any{
			"dependent_item_id": pair[0], "trigger_item_id": pair[1], "trigger_event": "START",
		}, nil)
		require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	}

	res, data := doJSON(t, client, http.MethodPost, base+"/timeline/calculate", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var tl timeline.Timeline
	require.NoError(t, json.Unmarshal(data, &tl))
	assert.Equal(t, 2, tl.Summary.BlockedCount)
	for _, it := range tl.Items {
		require.NotNil(t, it.Error)
		assert.Equal(t, resolver.CodeCycleDetected, it.Error.Code)
		assert.Empty(t, it.Periods)
	}
}

func TestRequestValidationErrors(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	createProject(t, srv, "v")
	base := srv.URL + "/v0/projects/v"

	cases := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"bad amount", map[string]any{"total_amount": "lots", "start_period": 0, "periods_to_complete": 1}, "total_amount"},
		{"unknown profile", map[string]any{"total_amount": "1", "start_period": 0, "periods_to_complete": 1, "distribution_profile": "S_CURVE"}, "distribution_profile"},
		{"zero periods", map[string]any{"total_amount": "1", "start_period": 0, "periods_to_complete": 0}, "periods_to_complete"},
		{"missing start", map[string]any{"total_amount": "1", "periods_to_complete": 2}, "start_period"},
		{"start past last period", map[string]any{"total_amount": "1", "start_period": 1000000000, "periods_to_complete": 1}, "start_period"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doJSON(t, client, http.MethodPost, base+"/items", tc.body, nil)
			require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
			body := decodeError(t, data)
			assert.Equal(t, "validation_error", body.Code)
			assert.Equal(t, tc.field, body.Details["field"])
		})
	}

	res, data := doJSON(t, client, http.MethodPost, base+"/items", map[string]any{
		"id": "only", "total_amount": "5", "start_period": 0, "periods_to_complete": 1,
	}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	res, data = doJSON(t, client, http.MethodPost, base+"/items", map[string]any{
		"id": "only", "total_amount": "5", "start_period": 0, "periods_to_complete": 1,
	}, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, base+"/dependencies", map[string]any{
		"dependent_item_id": "only", "trigger_item_id": "only", "trigger_event": "COMPLETE",
	}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, base+"/items", map[string]any{
		"id": "next", "total_amount": "5", "timing_method": "DEPENDENT", "periods_to_complete": 1,
	}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	res, data = doJSON(t, client, http.MethodPost, base+"/dependencies", map[string]any{
		"dependent_item_id": "next", "trigger_item_id": "only", "trigger_event": "COMPLETE",
		"offset_periods": int64(1) << 40,
	}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "offset_periods", decodeError(t, data).Details["field"])

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/missing/items", nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	assert.Equal(t, "not_found", decodeError(t, data).Code)
}

func TestUpdateItemClearsEscalation(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	createProject(t, srv, "esc")
	base := srv.URL + "/v0/projects/esc"

	res, data := doJSON(t, client, http.MethodPost, base+"/items", map[string]any{
		"id": "I", "total_amount": "100", "start_period": 12, "periods_to_complete": 1, "escalation_pct": 5.0,
	}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var it ItemResponse
	require.NoError(t, json.Unmarshal(data, &it))
	require.NotNil(t, it.EscalationPct)

	res, data = doJSON(t, client, http.MethodPatch, base+"/items/I", map[string]any{
		"escalation_pct": nil,
		"total_amount":   "150.505",
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	it = ItemResponse{}
	require.NoError(t, json.Unmarshal(data, &it))
	assert.Nil(t, it.EscalationPct)
	assert.Equal(t, "150.51", it.TotalAmount)

	res, data = doJSON(t, client, http.MethodDelete, base+"/items/I", nil, nil)
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))
	res, _ = doJSON(t, client, http.MethodGet, base+"/items/I", nil, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestProjectConfigRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	createProject(t, srv, "cfg")
	base := srv.URL + "/v0/projects/cfg"

	res, data := doJSON(t, client, http.MethodPut, base+"/config", map[string]any{
		"timeline": map[string]any{"baseline_period": 6, "periods_per_year": 4},
		"defaults": map[string]any{"distribution_profile": "bell_curve", "curve_steepness": 3, "escalation_timing": "throughout"},
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, base+"/config", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var cfg ProjectConfigResponse
	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.Equal(t, "cfg", cfg.Project.ID)
	assert.Equal(t, 4, cfg.Timeline.PeriodsPerYear)
	assert.Equal(t, "BELL_CURVE", cfg.Defaults.DistributionProfile)
	assert.Equal(t, "THROUGHOUT", cfg.Defaults.EscalationTiming)

	res, data = doJSON(t, client, http.MethodPut, base+"/config", map[string]any{
		"timeline": map[string]any{"baseline_period": 0, "periods_per_year": 0},
		"defaults": map[string]any{"distribution_profile": "LINEAR", "curve_steepness": 2, "escalation_timing": "TO_START"},
	}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	createProject(t, srv, "ev")
	base := srv.URL + "/v0/projects/ev"
	for _, id := range []string{"a", "b", "c"} {
		res, data := doJSON(t, client, http.MethodPost, base+"/items", map[string]any{
			"id": id, "total_amount": "1", "start_period": 0, "periods_to_complete": 1,
		}, nil)
		require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	}

	seen := map[int64]bool{}
	url := base + "/events?limit=2"
	for pages := 0; pages < 5; pages++ {
		res, data := doJSON(t, client, http.MethodGet, url, nil, nil)
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
		var page paginatedEvents
		require.NoError(t, json.Unmarshal(data, &page))
		for _, e := range page.Items {
			assert.False(t, seen[e.ID], "event %d returned twice", e.ID)
			seen[e.ID] = true
		}
		if page.NextCursor == "" {
			break
		}
		url = base + "/events?limit=2&cursor=" + page.NextCursor
	}
	// project.created plus three item.created
	assert.Len(t, seen, 4)

	res, data := doJSON(t, client, http.MethodGet, base+"/events?cursor=abc", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestJWTAuthentication(t *testing.T) {
	secret := "test-secret"
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: secret})
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	assert.Equal(t, "unauthorized", decodeError(t, data).Code)

	forged, err := IssueToken("other-secret", "mallory", time.Hour)
	require.NoError(t, err)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, map[string]string{"Authorization": "Bearer " + forged})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	assert.Equal(t, "invalid_credentials", decodeError(t, data).Code)

	token, err := IssueToken(secret, "alice", time.Hour)
	require.NoError(t, err)
	headers := map[string]string{"Authorization": "Bearer " + token}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{"id": "secure"}, headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/secure/events", nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var evts paginatedEvents
	require.NoError(t, json.Unmarshal(data, &evts))
	require.NotEmpty(t, evts.Items)
	assert.Equal(t, "alice", evts.Items[0].ActorID)
}
