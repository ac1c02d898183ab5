package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Joseda-hg/taskwatch/internal/db"
	"github.com/Joseda-hg/taskwatch/internal/embedding"
	"github.com/Joseda-hg/taskwatch/internal/host"
	"github.com/Joseda-hg/taskwatch/internal/model"
	"github.com/Joseda-hg/taskwatch/internal/profile"
	"github.com/Joseda-hg/taskwatch/internal/reminders"
	"github.com/Joseda-hg/taskwatch/internal/tasks"
)

type testEnv struct {
	server  *httptest.Server
	tasks   *tasks.Service
	runtime *host.Runtime
	bus     *host.Bus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	kv := db.NewKVStore(conn)
	runtime := host.NewRuntime("")
	bus := host.NewBus()
	taskSvc := tasks.NewService(db.NewItemStore(conn, embedding.NewHashEmbedder(0)), runtime)
	reminderSvc := reminders.NewService(kv, taskSvc, runtime, 15*time.Minute)
	if err := reminderSvc.Load(context.Background()); err != nil {
		t.Fatalf("load reminders: %v", err)
	}

	srv := NewServer(Deps{
		Tasks:     taskSvc,
		Reminders: reminderSvc,
		Profile:   profile.NewStore(kv),
		Runtime:   runtime,
		Bus:       bus,
	})
	server := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		server.Close()
		bus.Close()
		_ = conn.Close()
	})
	return &testEnv{server: server, tasks: taskSvc, runtime: runtime, bus: bus}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestTaskLifecycleOverAPI(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/tasks", `{"text":"Buy milk"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	created := decode[model.Task](t, resp)
	if created.AdditionMethod != model.AddedManually {
		t.Fatalf("expected manual task, got %q", created.AdditionMethod)
	}

	resp = env.do(t, http.MethodPost, "/api/tasks/"+created.ID+"/toggle", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from toggle, got %d", resp.StatusCode)
	}
	toggled := decode[model.Task](t, resp)
	if toggled.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %q", toggled.Status)
	}

	completed := decode[[]model.Task](t, env.do(t, http.MethodGet, "/api/tasks?status=completed", ""))
	if len(completed) != 1 {
		t.Fatalf("expected 1 completed task, got %d", len(completed))
	}

	detail := decode[struct {
		Task    model.Task           `json:"task"`
		History []model.HistoryEntry `json:"history"`
	}](t, env.do(t, http.MethodGet, "/api/tasks/"+created.ID, ""))
	if len(detail.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(detail.History))
	}

	resp = env.do(t, http.MethodDelete, "/api/tasks/"+created.ID, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp = env.do(t, http.MethodGet, "/api/tasks/"+created.ID, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after hard delete, got %d", resp.StatusCode)
	}
}

func TestReminderEndpoints(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.tasks.Insert(context.Background(), "Send the report", "", model.AddedManually, "")
	if err != nil {
		t.Fatalf("insert task: %v", err)
	}

	resp := env.do(t, http.MethodPost, "/api/reminders", `{"taskId":"`+task.ID+`","time":"2024-07-26T17:00:00Z","type":"1_hour_before"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	reminder := decode[model.Reminder](t, resp)
	if !reminder.Time.Equal(time.Date(2024, 7, 26, 16, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected reminder an hour before due, got %v", reminder.Time)
	}

	snoozed := decode[model.Reminder](t, env.do(t, http.MethodPost, "/api/reminders/"+reminder.ID+"/snooze", ""))
	if snoozed.Status != model.ReminderSnoozed || !snoozed.Time.Equal(reminder.Time.Add(15*time.Minute)) {
		t.Fatalf("unexpected snoozed reminder %+v", snoozed)
	}

	resp = env.do(t, http.MethodPost, "/api/reminders", `{"taskId":"missing","time":"2024-07-26T17:00:00Z"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown task, got %d", resp.StatusCode)
	}
}

func TestNameEndpoint(t *testing.T) {
	env := newTestEnv(t)

	got := decode[map[string]string](t, env.do(t, http.MethodGet, "/api/name", ""))
	if got["name"] != profile.DefaultName {
		t.Fatalf("expected default name, got %q", got["name"])
	}
	got = decode[map[string]string](t, env.do(t, http.MethodPut, "/api/name", `{"name":"Dana"}`))
	if got["name"] != "Dana" {
		t.Fatalf("expected Dana, got %q", got["name"])
	}
}

func TestHostEndpointsPublishAndDrain(t *testing.T) {
	env := newTestEnv(t)

	seen := make(chan model.FocusedWindow, 1)
	env.bus.OnPeriodicForegroundAppCheck(func(ctx context.Context, w model.FocusedWindow) {
		seen <- w
	})

	resp := env.do(t, http.MethodPost, "/api/host/foreground", `{"appName":"Slack"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	select {
	case w := <-seen:
		if w.AppName != "Slack" {
			t.Fatalf("expected Slack, got %q", w.AppName)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected foreground event to be dispatched")
	}

	resp = env.do(t, http.MethodPost, "/api/host/context", `{"environment":{"ocrScreenContents":"hello"}}`)
	resp.Body.Close()
	hc, _ := env.runtime.GetContext(context.Background(), false)
	if hc.Environment.OCRScreenContents != "hello" {
		t.Fatalf("expected pushed context to be stored, got %+v", hc)
	}

	env.runtime.ShowNotification("Task Reminder", "hi")
	notes := decode[[]model.Notification](t, env.do(t, http.MethodGet, "/api/host/notifications", ""))
	if len(notes) != 1 || notes[0].Body != "hi" {
		t.Fatalf("expected one drained notification, got %+v", notes)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/health", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestForeignOriginsAreRejectedByDefault(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.tasks.Insert(context.Background(), "Send the report", "Dana, please send the report", model.AddedAutomatically, ""); err != nil {
		t.Fatalf("insert: %v", err)
	}

	get := func(origin string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/tasks?status=all", nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("get tasks: %v", err)
		}
		return resp
	}

	resp := get("https://evil.example")
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign origin, got %d", resp.StatusCode)
	}
	if acao := resp.Header.Get("Access-Control-Allow-Origin"); acao != "" {
		t.Fatalf("expected no CORS header, got %q", acao)
	}

	toggle, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/tasks/x/toggle", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	toggle.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(toggle)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected simple cross-site POST to be rejected, got %d", resp.StatusCode)
	}

	for _, origin := range []string{"", env.server.URL} {
		resp := get(origin)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("origin %q: expected 200, got %d", origin, resp.StatusCode)
		}
	}
}

func TestConfiguredOriginGetsCORSAccess(t *testing.T) {
	handler := NewServer(Deps{AllowedOrigins: []string{"http://localhost:3000"}}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if acao := rec.Header().Get("Access-Control-Allow-Origin"); acao != "http://localhost:3000" {
		t.Fatalf("expected CORS header for configured origin, got %q", acao)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unlisted origin, got %d", rec.Code)
	}
}
