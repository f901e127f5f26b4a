package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"signalnoise/internal/config"
	"signalnoise/internal/db"
	"signalnoise/internal/engine"
	"signalnoise/internal/migrate"
	"signalnoise/internal/schedule"
)

type testServer struct {
	URL   string
	close func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("default")
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	resolver := schedule.NewResolver(conn, cfg)
	resolver.Now = e.Now
	handler, err := New(Config{Engine: e, Resolver: resolver, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL: "http://" + ln.Addr().String(),
		close: func() {
			srv.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s: %v (%s)", url, err, data)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	var body map[string]string
	if code := doJSON(t, http.MethodGet, ts.URL+"/v0/health", nil, &body); code != http.StatusOK {
		t.Fatalf("health status = %d", code)
	}
	if body["status"] != "ok" {
		t.Fatalf("health body = %v", body)
	}
}

func TestTaskSessionRoundTrip(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})

	var task TaskResponse
	code := doJSON(t, http.MethodPost, ts.URL+"/v0/tasks", map[string]any{
		"title":             "write proposal",
		"estimated_minutes": 60,
	}, &task)
	if code != http.StatusCreated {
		t.Fatalf("create task status = %d", code)
	}
	if task.ID == "" || task.ScheduledDate != "2026-03-02" {
		t.Fatalf("task = %+v", task)
	}

	var slot SlotResponse
	code = doJSON(t, http.MethodPost, fmt.Sprintf("%s/v0/tasks/%s/start", ts.URL, task.ID), map[string]any{}, &slot)
	if code != http.StatusOK {
		t.Fatalf("start status = %d", code)
	}
	if slot.Status != "active" {
		t.Fatalf("slot status = %s", slot.Status)
	}

	// starting again conflicts
	code = doJSON(t, http.MethodPost, fmt.Sprintf("%s/v0/tasks/%s/start", ts.URL, task.ID), map[string]any{}, nil)
	if code != http.StatusConflict {
		t.Fatalf("double start status = %d", code)
	}

	code = doJSON(t, http.MethodPost, fmt.Sprintf("%s/v0/tasks/%s/slots/%s/stop", ts.URL, task.ID, slot.ID), map[string]any{}, &slot)
	if code != http.StatusOK {
		t.Fatalf("stop status = %d", code)
	}
	if slot.ActualEnd == nil {
		t.Fatalf("stop should set actual end")
	}

	var stats engine.DayStats
	if code := doJSON(t, http.MethodGet, ts.URL+"/v0/stats/today", nil, &stats); code != http.StatusOK {
		t.Fatalf("today status = %d", code)
	}
	if stats.Date != "2026-03-02" {
		t.Fatalf("stats date = %s", stats.Date)
	}
}

func TestErrorEnvelope(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	code := doJSON(t, http.MethodGet, ts.URL+"/v0/tasks/nope", nil, &envelope)
	if code != http.StatusNotFound {
		t.Fatalf("missing task status = %d", code)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("error code = %q", envelope.Error.Code)
	}
}

func TestAddSlotValidation(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	var task TaskResponse
	doJSON(t, http.MethodPost, ts.URL+"/v0/tasks", map[string]any{
		"title":             "windows",
		"estimated_minutes": 30,
	}, &task)

	code := doJSON(t, http.MethodPost, fmt.Sprintf("%s/v0/tasks/%s/slots", ts.URL, task.ID), map[string]any{
		"planned_start": "2026-03-02T15:00:00Z",
		"planned_end":   "2026-03-02T14:00:00Z",
	}, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("inverted window status = %d", code)
	}

	var slot SlotResponse
	code = doJSON(t, http.MethodPost, fmt.Sprintf("%s/v0/tasks/%s/slots", ts.URL, task.ID), map[string]any{
		"planned_start": "2026-03-02T14:00:00Z",
		"planned_end":   "2026-03-02T15:00:00Z",
	}, &slot)
	if code != http.StatusCreated {
		t.Fatalf("add slot status = %d", code)
	}
	if slot.Status != "scheduled" {
		t.Fatalf("new slot status = %s", slot.Status)
	}
}

func TestAuthRequiredWhenSecretConfigured(t *testing.T) {
	ts := newTestServer(t, AuthConfig{JWTSecret: "test-secret"})

	// health stays open
	if code := doJSON(t, http.MethodGet, ts.URL+"/v0/health", nil, nil); code != http.StatusOK {
		t.Fatalf("health status = %d", code)
	}
	if code := doJSON(t, http.MethodGet, ts.URL+"/v0/tasks", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", code)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v0/tasks", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", resp.StatusCode)
	}
}

func TestExternalEventLifecycle(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})

	var evt struct {
		ID string `json:"id"`
	}
	code := doJSON(t, http.MethodPost, ts.URL+"/v0/calendar/external", map[string]any{
		"title": "standup",
		"start": "2026-03-02T11:00:00Z",
		"end":   "2026-03-02T11:15:00Z",
	}, &evt)
	if code != http.StatusCreated {
		t.Fatalf("import status = %d", code)
	}
	if evt.ID == "" {
		t.Fatalf("imported event must get an id")
	}

	var items []map[string]any
	if code := doJSON(t, http.MethodGet, ts.URL+"/v0/calendar?date=2026-03-02", nil, &items); code != http.StatusOK {
		t.Fatalf("calendar status = %d", code)
	}
	if len(items) != 1 {
		t.Fatalf("calendar items = %d, want 1", len(items))
	}

	if code := doJSON(t, http.MethodDelete, ts.URL+"/v0/calendar/external/"+evt.ID, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete status = %d", code)
	}
	if code := doJSON(t, http.MethodDelete, ts.URL+"/v0/calendar/external/"+evt.ID, nil, nil); code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", code)
	}
	if code := doJSON(t, http.MethodGet, ts.URL+"/v0/calendar?date=2026-03-02", nil, &items); code != http.StatusOK {
		t.Fatalf("calendar status = %d", code)
	}
	if len(items) != 0 {
		t.Fatalf("deleted event still listed: %d items", len(items))
	}
}

func TestListAPIKeysOmitsHash(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})

	var created CreateAPIKeyResponse
	code := doJSON(t, http.MethodPost, ts.URL+"/v0/apikeys", map[string]any{"name": "ci"}, &created)
	if code != http.StatusCreated {
		t.Fatalf("create key status = %d", code)
	}
	if created.Key == "" {
		t.Fatalf("create must return the plaintext key once")
	}

	resp, err := http.Get(ts.URL + "/v0/apikeys")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	if !bytes.Contains(data, []byte(created.ID)) {
		t.Fatalf("created key missing from list: %s", data)
	}
	if bytes.Contains(data, []byte("key_hash")) || bytes.Contains(data, []byte(created.Key)) {
		t.Fatalf("list must not expose hashes or secrets: %s", data)
	}
}

func TestScheduleEndpoints(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	var day DayScheduleResponse
	// minutes may be omitted and default to :00
	code := doJSON(t, http.MethodPut, ts.URL+"/v0/schedule/1", map[string]any{
		"start_hour": 8,
		"end_hour":   16,
		"active":     true,
	}, &day)
	if code != http.StatusOK {
		t.Fatalf("set day status = %d", code)
	}
	if day.StartHour != 8 || day.EndHour != 16 {
		t.Fatalf("stored day = %+v", day)
	}
	if day.StartMinute != 0 || day.EndMinute != 0 {
		t.Fatalf("omitted minutes should default to 0: %+v", day)
	}

	code = doJSON(t, http.MethodPut, ts.URL+"/v0/schedule/2", map[string]any{
		"start_hour":   7,
		"start_minute": 30,
		"end_hour":     15,
		"end_minute":   45,
		"active":       true,
	}, &day)
	if code != http.StatusOK {
		t.Fatalf("set day with minutes status = %d", code)
	}
	if day.StartMinute != 30 || day.EndMinute != 45 {
		t.Fatalf("minutes not stored: %+v", day)
	}

	var window WindowResponse
	if code := doJSON(t, http.MethodGet, ts.URL+"/v0/schedule/window?date=2026-03-02", nil, &window); code != http.StatusOK {
		t.Fatalf("window status = %d", code)
	}
	if window.Start.UTC().Hour() != 8 {
		t.Fatalf("window start = %v", window.Start)
	}
}
