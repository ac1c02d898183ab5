package reminders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Joseda-hg/taskwatch/internal/model"
)

const (
	storageKey  = "reminders"
	NotifyTitle = "Task Reminder"
	unknownTask = "Unknown task"
)

var (
	ErrNotLoaded = errors.New("reminders not loaded yet")
	ErrNotFound  = errors.New("reminder not found")
)

type Storage interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

type TaskLookup interface {
	Get(ctx context.Context, id string) (model.Task, error)
}

type Notifier interface {
	ShowNotification(title, body string)
}

// Service keeps the reminder collection. The whole collection is written on
// every change, and nothing is written before Load has succeeded so an empty
// in-memory list never overwrites stored reminders.
type Service struct {
	storage      Storage
	tasks        TaskLookup
	notifier     Notifier
	snoozeOffset time.Duration
	now          func() time.Time

	mu        sync.Mutex
	reminders []model.Reminder
	loaded    bool
}

func NewService(storage Storage, tasks TaskLookup, notifier Notifier, snoozeOffset time.Duration) *Service {
	if snoozeOffset <= 0 {
		snoozeOffset = 15 * time.Minute
	}
	return &Service{
		storage:      storage,
		tasks:        tasks,
		notifier:     notifier,
		snoozeOffset: snoozeOffset,
		now:          time.Now,
	}
}

func (s *Service) Load(ctx context.Context) error {
	var stored []model.Reminder
	if _, err := s.storage.Get(ctx, storageKey, &stored); err != nil {
		return fmt.Errorf("load reminders: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders = stored
	s.loaded = true
	return nil
}

func (s *Service) List() []model.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Reminder, len(s.reminders))
	copy(out, s.reminders)
	return out
}

// TimeFor derives when a reminder of the given type fires for a task due at due.
func TimeFor(due time.Time, reminderType model.ReminderType) time.Time {
	switch reminderType {
	case model.ReminderHourBefore:
		return due.Add(-time.Hour)
	case model.ReminderDayBefore:
		return due.Add(-24 * time.Hour)
	default:
		return due
	}
}

// Add schedules a reminder for taskID. at is the task's due instant, or the
// reminder time itself for custom reminders.
func (s *Service) Add(ctx context.Context, taskID string, at time.Time, reminderType model.ReminderType) (model.Reminder, error) {
	if taskID == "" {
		return model.Reminder{}, fmt.Errorf("task id is required")
	}
	if !reminderType.Valid() {
		return model.Reminder{}, fmt.Errorf("invalid reminder type %q", reminderType)
	}

	reminder := model.Reminder{
		ID:     uuid.NewString(),
		TaskID: taskID,
		Time:   TimeFor(at, reminderType).UTC(),
		Type:   reminderType,
		Status: model.ReminderPending,
	}

	err := s.mutate(ctx, func(list []model.Reminder) ([]model.Reminder, error) {
		return append(list, reminder), nil
	})
	if err != nil {
		return model.Reminder{}, err
	}
	return reminder, nil
}

func (s *Service) Remove(ctx context.Context, id string) error {
	return s.mutate(ctx, func(list []model.Reminder) ([]model.Reminder, error) {
		i := indexOf(list, id)
		if i < 0 {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return append(list[:i], list[i+1:]...), nil
	})
}

// Update applies fn to the reminder with the given id and persists the result.
func (s *Service) Update(ctx context.Context, id string, fn func(*model.Reminder)) (model.Reminder, error) {
	var updated model.Reminder
	err := s.mutate(ctx, func(list []model.Reminder) ([]model.Reminder, error) {
		i := indexOf(list, id)
		if i < 0 {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		fn(&list[i])
		list[i].ID = id
		updated = list[i]
		return list, nil
	})
	return updated, err
}

func (s *Service) Dismiss(ctx context.Context, id string) (model.Reminder, error) {
	return s.Update(ctx, id, func(r *model.Reminder) {
		r.Status = model.ReminderDismissed
	})
}

// Snooze pushes the reminder back by the snooze offset from its current time.
// Repeated snoozes add up.
func (s *Service) Snooze(ctx context.Context, id string) (model.Reminder, error) {
	until := s.now().Add(s.snoozeOffset).UTC()
	return s.Update(ctx, id, func(r *model.Reminder) {
		r.Time = r.Time.Add(s.snoozeOffset)
		r.Status = model.ReminderSnoozed
		r.SnoozeUntil = &until
		r.LastNotified = nil
	})
}

// Eligible reports whether r should fire at now.
func Eligible(r model.Reminder, now time.Time) bool {
	switch r.Status {
	case model.ReminderDismissed:
		return false
	case model.ReminderSnoozed:
		if r.SnoozeUntil == nil || now.Before(*r.SnoozeUntil) {
			return false
		}
	}
	if r.Time.After(now) {
		return false
	}
	return r.LastNotified == nil || r.LastNotified.Before(r.Time)
}

// CheckDue notifies for every eligible reminder and records when it fired. It
// returns the number of notifications sent.
func (s *Service) CheckDue(ctx context.Context) (int, error) {
	now := s.now()

	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return 0, ErrNotLoaded
	}
	var due []model.Reminder
	for _, r := range s.reminders {
		if Eligible(r, now) {
			due = append(due, r)
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return 0, nil
	}

	fired := make(map[string]struct{}, len(due))
	for _, r := range due {
		s.notifier.ShowNotification(NotifyTitle, s.message(ctx, r))
		fired[r.ID] = struct{}{}
	}

	stamp := now.UTC()
	err := s.mutate(ctx, func(list []model.Reminder) ([]model.Reminder, error) {
		for i := range list {
			if _, ok := fired[list[i].ID]; ok {
				list[i].LastNotified = &stamp
			}
		}
		return list, nil
	})
	return len(due), err
}

// Run checks for due reminders every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CheckDue(ctx); err != nil {
				log.Printf("[WARN] reminders: check due: %v", err)
			}
		}
	}
}

func (s *Service) message(ctx context.Context, r model.Reminder) string {
	text := unknownTask
	if task, err := s.tasks.Get(ctx, r.TaskID); err == nil {
		text = task.Text
	}
	when := "soon"
	if r.Type == model.ReminderAtDueTime {
		when = "now"
	}
	return fmt.Sprintf("\"%s\" is due %s!", text, when)
}

func (s *Service) mutate(ctx context.Context, fn func([]model.Reminder) ([]model.Reminder, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNotLoaded
	}

	next := make([]model.Reminder, len(s.reminders))
	copy(next, s.reminders)
	next, err := fn(next)
	if err != nil {
		return err
	}
	if next == nil {
		next = []model.Reminder{}
	}
	if err := s.storage.Set(ctx, storageKey, next); err != nil {
		return fmt.Errorf("save reminders: %w", err)
	}
	s.reminders = next
	return nil
}

func indexOf(list []model.Reminder, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}
