package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Joseda-hg/taskwatch/internal/db"
	"github.com/Joseda-hg/taskwatch/internal/model"
)

// Table is the item-store table holding tasks.
const Table = "tasks"

const (
	NewTaskTitle = "New task added to TODO list"

	metaStatus         = "status"
	metaAdditionMethod = "additionMethod"
	metaLastModified   = "lastModified"
)

var ErrNotToggleable = errors.New("only pending or completed tasks can be toggled")

type Notifier interface {
	ShowNotification(title, body string)
}

// Service owns the task list. Every mutation re-reads the persisted record
// first and reloads the snapshot afterwards, so readers always see their own
// writes.
type Service struct {
	items    *db.ItemStore
	notifier Notifier
	now      func() time.Time

	mu       sync.RWMutex
	snapshot []model.Task
}

func NewService(items *db.ItemStore, notifier Notifier) *Service {
	return &Service{items: items, notifier: notifier, now: time.Now}
}

// Load replaces the in-memory snapshot with the persisted task list.
func (s *Service) Load(ctx context.Context) error {
	items, err := s.items.GetAllItems(ctx, Table)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	loaded := make([]model.Task, 0, len(items))
	for _, item := range items {
		loaded = append(loaded, taskFromItem(item))
	}

	s.mu.Lock()
	s.snapshot = loaded
	s.mu.Unlock()
	return nil
}

// Insert stores a new task. An empty status means pending. Only tasks the
// pipeline adds on its own trigger a notification.
func (s *Service) Insert(ctx context.Context, text, sourceDocument string, method model.AdditionMethod, status model.Status) (model.Task, error) {
	if status == "" {
		status = model.StatusPending
	}
	if !status.Valid() {
		return model.Task{}, fmt.Errorf("invalid status %q", status)
	}
	if !method.Valid() {
		return model.Task{}, fmt.Errorf("invalid addition method %q", method)
	}

	item, err := s.items.InsertItem(ctx, Table, text, sourceDocument, s.metadata(status, method))
	if err != nil {
		return model.Task{}, err
	}
	task := taskFromItem(item)

	if method == model.AddedAutomatically && status != model.StatusFalsePositive && s.notifier != nil {
		s.notifier.ShowNotification(NewTaskTitle, task.Text)
	}

	return task, s.Load(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (model.Task, error) {
	item, err := s.items.GetItem(ctx, Table, id)
	if err != nil {
		return model.Task{}, err
	}
	return taskFromItem(item), nil
}

// Toggle flips a task between pending and completed.
func (s *Service) Toggle(ctx context.Context, id string) (model.Task, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return model.Task{}, err
	}

	var next model.Status
	switch current.Status {
	case model.StatusPending:
		next = model.StatusCompleted
	case model.StatusCompleted:
		next = model.StatusPending
	default:
		return model.Task{}, fmt.Errorf("toggle %s (%s): %w", id, current.Status, ErrNotToggleable)
	}

	item, err := s.items.UpdateMetadata(ctx, Table, id, s.metadata(next, current.AdditionMethod))
	if err != nil {
		return model.Task{}, err
	}
	return taskFromItem(item), s.Load(ctx)
}

func (s *Service) UpdateText(ctx context.Context, id, text string) (model.Task, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return model.Task{}, err
	}

	item, err := s.items.UpdateText(ctx, Table, id, text, s.metadata(current.Status, current.AdditionMethod))
	if err != nil {
		return model.Task{}, err
	}
	return taskFromItem(item), s.Load(ctx)
}

// Delete soft-deletes automatically added tasks so their text keeps blocking
// re-detection. Everything else is removed outright.
func (s *Service) Delete(ctx context.Context, id string) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if current.AdditionMethod == model.AddedAutomatically {
		if _, err := s.items.UpdateMetadata(ctx, Table, id, s.metadata(model.StatusDeleted, current.AdditionMethod)); err != nil {
			return err
		}
	} else if err := s.items.DeleteItem(ctx, Table, id); err != nil {
		return err
	}

	return s.Load(ctx)
}

// Capture adds the suggestion the host attached to a context push, if any.
func (s *Service) Capture(ctx context.Context, hc model.HostContext) (model.Task, bool, error) {
	suggestion := strings.TrimSpace(hc.Suggestion)
	if suggestion == "" {
		return model.Task{}, false, nil
	}
	task, err := s.Insert(ctx, suggestion, hc.Environment.OCRScreenContents, model.AddedSemiAutomatically, model.StatusPending)
	if err != nil {
		return model.Task{}, false, err
	}
	return task, true, nil
}

func (s *Service) History(ctx context.Context, id string) ([]model.HistoryEntry, error) {
	return s.items.ListHistory(ctx, id)
}

// All returns every task in the snapshot, including deleted and false-positive
// records.
func (s *Service) All() []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Task, len(s.snapshot))
	copy(out, s.snapshot)
	return out
}

func (s *Service) Pending() []model.Task {
	return s.filter(model.StatusPending)
}

func (s *Service) Completed() []model.Task {
	return s.filter(model.StatusCompleted)
}

func (s *Service) filter(status model.Status) []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Task{}
	for _, task := range s.snapshot {
		if task.Status == status {
			out = append(out, task)
		}
	}
	return out
}

func (s *Service) metadata(status model.Status, method model.AdditionMethod) db.Metadata {
	return db.Metadata{
		metaStatus:         string(status),
		metaAdditionMethod: string(method),
		metaLastModified:   s.now().UTC().Format(time.RFC3339Nano),
	}
}

func taskFromItem(item db.Item) model.Task {
	task := model.Task{
		ID:             item.ID,
		Text:           item.Text,
		Status:         model.Status(item.Metadata[metaStatus]),
		AdditionMethod: model.AdditionMethod(item.Metadata[metaAdditionMethod]),
		SourceDocument: item.SourceDocument,
		LastModified:   item.UpdatedAt,
	}
	if !task.Status.Valid() {
		task.Status = model.StatusPending
	}
	if !task.AdditionMethod.Valid() {
		task.AdditionMethod = model.AddedManually
	}
	if raw := item.Metadata[metaLastModified]; raw != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			task.LastModified = parsed
		}
	}
	return task
}
