package model

import "time"

type Status string

const (
	StatusPending       Status = "pending"
	StatusCompleted     Status = "completed"
	StatusDeleted       Status = "deleted"
	StatusFalsePositive Status = "false_positive"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusDeleted, StatusFalsePositive:
		return true
	}
	return false
}

// AdditionMethod records how a task entered the list. It is fixed at creation.
type AdditionMethod string

const (
	AddedManually          AdditionMethod = "manually"
	AddedAutomatically     AdditionMethod = "automatically"
	AddedSemiAutomatically AdditionMethod = "semi_automatically"
)

func (m AdditionMethod) Valid() bool {
	switch m {
	case AddedManually, AddedAutomatically, AddedSemiAutomatically:
		return true
	}
	return false
}

type Task struct {
	ID             string         `json:"id"`
	Text           string         `json:"text"`
	Status         Status         `json:"status"`
	AdditionMethod AdditionMethod `json:"additionMethod"`
	LastModified   time.Time      `json:"lastModified"`
	SourceDocument string         `json:"sourceDocument,omitempty"`
}

type HistoryEntry struct {
	ID        int64     `json:"id"`
	ItemID    string    `json:"itemId"`
	EventType string    `json:"eventType"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"createdAt"`
}

type ReminderType string

const (
	ReminderCustom     ReminderType = "custom"
	ReminderHourBefore ReminderType = "1_hour_before"
	ReminderDayBefore  ReminderType = "1_day_before"
	ReminderAtDueTime  ReminderType = "at_due_time"
)

func (t ReminderType) Valid() bool {
	switch t {
	case ReminderCustom, ReminderHourBefore, ReminderDayBefore, ReminderAtDueTime:
		return true
	}
	return false
}

type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSent      ReminderStatus = "sent"
	ReminderDismissed ReminderStatus = "dismissed"
	ReminderSnoozed   ReminderStatus = "snoozed"
)

type Reminder struct {
	ID           string         `json:"id"`
	TaskID       string         `json:"taskId"`
	Time         time.Time      `json:"time"`
	Type         ReminderType   `json:"type"`
	Status       ReminderStatus `json:"status"`
	LastNotified *time.Time     `json:"lastNotified,omitempty"`
	SnoozeUntil  *time.Time     `json:"snoozeUntil,omitempty"`
}

// Verdict is the outcome of a classifier call. It is never persisted.
type Verdict struct {
	Assigned bool
	TaskText string
	Assigner string
}

func NotAssigned() Verdict {
	return Verdict{}
}

func Assigned(text, assigner string) Verdict {
	return Verdict{Assigned: true, TaskText: text, Assigner: assigner}
}

// FocusedWindow is the foreground-application sample delivered by the host.
type FocusedWindow struct {
	AppName string `json:"appName"`
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
}

type Environment struct {
	OCRScreenContents string `json:"ocrScreenContents"`
}

// HostContext is the host's view of what the user is looking at. Suggestion is
// set when the user explicitly asked the host to capture a task.
type HostContext struct {
	Suggestion  string        `json:"suggestion,omitempty"`
	Environment Environment   `json:"environment"`
	Window      FocusedWindow `json:"window,omitempty"`
	CapturedAt  time.Time     `json:"capturedAt"`
}

type Notification struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}
