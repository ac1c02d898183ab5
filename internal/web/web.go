package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/cors"

	"github.com/Joseda-hg/taskwatch/internal/db"
	"github.com/Joseda-hg/taskwatch/internal/host"
	"github.com/Joseda-hg/taskwatch/internal/model"
	"github.com/Joseda-hg/taskwatch/internal/profile"
	"github.com/Joseda-hg/taskwatch/internal/reminders"
	"github.com/Joseda-hg/taskwatch/internal/tasks"
)

type Server struct {
	tasks     *tasks.Service
	reminders *reminders.Service
	profile   *profile.Store
	runtime   *host.Runtime
	bus       *host.Bus
	origins   []string
}

type Deps struct {
	Tasks          *tasks.Service
	Reminders      *reminders.Service
	Profile        *profile.Store
	Runtime        *host.Runtime
	Bus            *host.Bus
	AllowedOrigins []string
}

func NewServer(deps Deps) *Server {
	return &Server{
		tasks:     deps.Tasks,
		reminders: deps.Reminders,
		profile:   deps.Profile,
		runtime:   deps.Runtime,
		bus:       deps.Bus,
		origins:   deps.AllowedOrigins,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/api/tasks", s.apiTasksHandler)
	mux.HandleFunc("/api/tasks/", s.apiTaskHandler)
	mux.HandleFunc("/api/reminders", s.apiRemindersHandler)
	mux.HandleFunc("/api/reminders/", s.apiReminderHandler)
	mux.HandleFunc("/api/name", s.apiNameHandler)
	mux.HandleFunc("/api/host/foreground", s.foregroundHandler)
	mux.HandleFunc("/api/host/context", s.contextHandler)
	mux.HandleFunc("/api/host/notifications", s.notificationsHandler)

	// Without configured origins no CORS headers are sent, so browsers keep
	// other sites from reading task text.
	handler := originGuard(mux, s.origins)
	if len(s.origins) == 0 {
		return handler
	}
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(handler)
}

// originGuard rejects browser requests from foreign origins before they reach
// a handler. CORS alone only hides responses; simple POSTs would still run.
// Requests without an Origin header (the host process, curl) pass.
func originGuard(next http.Handler, allowed []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && !originAllowed(origin, r.Host, allowed) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(origin, host string, allowed []string) bool {
	if u, err := url.Parse(origin); err == nil && u.Host == host {
		return true
	}
	for _, candidate := range allowed {
		if candidate == "*" || strings.EqualFold(candidate, origin) {
			return true
		}
	}
	return false
}

func (s *Server) apiTasksHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		switch status := strings.TrimSpace(r.URL.Query().Get("status")); status {
		case "", string(model.StatusPending):
			writeJSON(w, http.StatusOK, s.tasks.Pending())
		case string(model.StatusCompleted):
			writeJSON(w, http.StatusOK, s.tasks.Completed())
		case "all":
			writeJSON(w, http.StatusOK, s.tasks.All())
		default:
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown status %q", status))
		}
	case http.MethodPost:
		var input struct {
			Text           string `json:"text"`
			SourceDocument string `json:"sourceDocument"`
		}
		if err := decodeJSON(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		task, err := s.tasks.Insert(r.Context(), input.Text, input.SourceDocument, model.AddedManually, model.StatusPending)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, task)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) apiTaskHandler(w http.ResponseWriter, r *http.Request) {
	id, action, err := parseID(r.URL.Path, "/api/tasks/")
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	switch {
	case action == "toggle" && r.Method == http.MethodPost:
		task, err := s.tasks.Toggle(r.Context(), id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	case action != "":
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action %q", action))
	case r.Method == http.MethodGet:
		task, err := s.tasks.Get(r.Context(), id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		history, err := s.tasks.History(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		payload := struct {
			Task    model.Task           `json:"task"`
			History []model.HistoryEntry `json:"history"`
		}{Task: task, History: history}
		writeJSON(w, http.StatusOK, payload)
	case r.Method == http.MethodPut:
		var input struct {
			Text string `json:"text"`
		}
		if err := decodeJSON(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		task, err := s.tasks.UpdateText(r.Context(), id, input.Text)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	case r.Method == http.MethodDelete:
		if err := s.tasks.Delete(r.Context(), id); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) apiRemindersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.reminders.List())
	case http.MethodPost:
		var input struct {
			TaskID string             `json:"taskId"`
			Time   time.Time          `json:"time"`
			Type   model.ReminderType `json:"type"`
		}
		if err := decodeJSON(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if input.Type == "" {
			input.Type = model.ReminderAtDueTime
		}
		if _, err := s.tasks.Get(r.Context(), input.TaskID); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		reminder, err := s.reminders.Add(r.Context(), input.TaskID, input.Time, input.Type)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, reminder)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) apiReminderHandler(w http.ResponseWriter, r *http.Request) {
	id, action, err := parseID(r.URL.Path, "/api/reminders/")
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodDelete:
		if err := s.reminders.Remove(r.Context(), id); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case action == "snooze" && r.Method == http.MethodPost:
		reminder, err := s.reminders.Snooze(r.Context(), id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, reminder)
	case action == "dismiss" && r.Method == http.MethodPost:
		reminder, err := s.reminders.Dismiss(r.Context(), id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, reminder)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) apiNameHandler(w http.ResponseWriter, r *http.Request) {
	type namePayload struct {
		Name string `json:"name"`
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, namePayload{Name: s.profile.Name(r.Context())})
	case http.MethodPut:
		var input namePayload
		if err := decodeJSON(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.profile.SetName(r.Context(), input.Name); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, namePayload{Name: s.profile.Name(r.Context())})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) foregroundHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var window model.FocusedWindow
	if err := decodeJSON(r, &window); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n := s.bus.PublishForeground(window)
	writeJSON(w, http.StatusAccepted, map[string]int{"subscribers": n})
}

func (s *Server) contextHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var hc model.HostContext
	if err := decodeJSON(r, &hc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.runtime.SetContext(hc)
	n := s.bus.PublishContext(hc)
	writeJSON(w, http.StatusAccepted, map[string]int{"subscribers": n})
}

func (s *Server) notificationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.runtime.Drain())
}

// parseID splits "<prefix><id>[/<action>]".
func parseID(path, prefix string) (string, string, error) {
	if !strings.HasPrefix(path, prefix) {
		return "", "", fmt.Errorf("invalid path")
	}
	value := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if value == "" {
		return "", "", fmt.Errorf("missing id")
	}
	id, action, _ := strings.Cut(value, "/")
	return id, action, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, db.ErrNotFound), errors.Is(err, reminders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tasks.ErrNotToggleable):
		return http.StatusConflict
	case errors.Is(err, reminders.ErrNotLoaded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func decodeJSON(r *http.Request, dest any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.WriteHeader(status)
	_, _ = w.Write([]byte(err.Error()))
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}
