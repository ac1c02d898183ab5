package tui

import (
	"fmt"
	"time"

	"github.com/Joseda-hg/taskwatch/internal/model"
)

func methodBadge(method model.AdditionMethod) string {
	switch method {
	case model.AddedAutomatically:
		return "auto"
	case model.AddedSemiAutomatically:
		return "captured"
	default:
		return ""
	}
}

func formatTaskSummary(task model.Task) string {
	if badge := methodBadge(task.AdditionMethod); badge != "" {
		return fmt.Sprintf("%s [%s]", task.Text, badge)
	}
	return task.Text
}

func formatReminder(reminder model.Reminder, taskText string, now time.Time) string {
	when := reminder.Time.Local().Format("Jan 2 15:04")
	switch reminder.Status {
	case model.ReminderSnoozed:
		if reminder.SnoozeUntil != nil {
			left := int(reminder.SnoozeUntil.Sub(now).Round(time.Minute).Minutes())
			if left > 0 {
				return fmt.Sprintf("%s | %s | snoozed (%dm left)", when, taskText, left)
			}
		}
		return fmt.Sprintf("%s | %s | snoozed", when, taskText)
	case model.ReminderDismissed:
		return fmt.Sprintf("%s | %s | dismissed", when, taskText)
	}
	if reminder.LastNotified != nil {
		return fmt.Sprintf("%s | %s | notified", when, taskText)
	}
	return fmt.Sprintf("%s | %s | %s", when, taskText, reminder.Type)
}
