package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Joseda-hg/taskwatch/internal/model"
	"github.com/jesseduffield/gocui"
)

const remindLayout = "2006-01-02 15:04"

type formKind int

const (
	formTask formKind = iota
	formName
)

type formField struct {
	Label string
	Value string
}

const (
	fieldText = iota
	fieldRemindAt
	fieldReminderType
)

var reminderTypeOrder = []string{
	string(model.ReminderAtDueTime),
	string(model.ReminderHourBefore),
	string(model.ReminderDayBefore),
	string(model.ReminderCustom),
}

type formState struct {
	kind   formKind
	taskID string
	fields []formField
	index  int
}

type formInput struct {
	Text         string
	RemindAt     *time.Time
	ReminderType model.ReminderType
}

func buildTaskFormFields(task *model.Task) []formField {
	fields := []formField{
		{Label: "Text"},
		{Label: "Remind at (YYYY-MM-DD HH:MM)"},
		{Label: "Reminder (space/←→)", Value: string(model.ReminderAtDueTime)},
	}
	if task != nil {
		fields[fieldText].Value = task.Text
	}
	return fields
}

func buildNameFormFields(name string) []formField {
	return []formField{{Label: "Your name", Value: name}}
}

func parseTaskFormFields(fields []formField, loc *time.Location) (formInput, error) {
	input := formInput{
		Text:         strings.TrimSpace(fields[fieldText].Value),
		ReminderType: model.ReminderType(strings.TrimSpace(fields[fieldReminderType].Value)),
	}
	if input.Text == "" {
		return formInput{}, fmt.Errorf("text is required")
	}
	if !input.ReminderType.Valid() {
		return formInput{}, fmt.Errorf("invalid reminder type")
	}

	if value := strings.TrimSpace(fields[fieldRemindAt].Value); value != "" {
		parsed, err := time.ParseInLocation(remindLayout, value, loc)
		if err != nil {
			return formInput{}, fmt.Errorf("invalid reminder time")
		}
		input.RemindAt = &parsed
	}
	return input, nil
}

func isReminderTypeField(label string) bool {
	return strings.HasPrefix(label, "Reminder (")
}

func cycleReminderType(current string, delta int) string {
	index := 0
	for i, value := range reminderTypeOrder {
		if value == current {
			index = i
			break
		}
	}
	index = (index + delta + len(reminderTypeOrder)) % len(reminderTypeOrder)
	return reminderTypeOrder[index]
}

type formEditor struct {
	ui *UI
}

func (e *formEditor) Edit(view *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) bool {
	ui := e.ui
	if ui == nil || ui.form == nil || view == nil {
		return false
	}
	field := &ui.form.fields[ui.form.index]

	if isReminderTypeField(field.Label) {
		switch key {
		case gocui.KeyArrowRight, gocui.KeySpace:
			field.Value = cycleReminderType(field.Value, 1)
		case gocui.KeyArrowLeft:
			field.Value = cycleReminderType(field.Value, -1)
		}
		ui.renderForm(view)
		return true
	}

	switch key {
	case gocui.KeyBackspace, gocui.KeyBackspace2:
		runes := []rune(field.Value)
		if len(runes) > 0 {
			field.Value = string(runes[:len(runes)-1])
		}
	case gocui.KeySpace:
		field.Value += " "
	case gocui.KeyCtrlU:
		field.Value = ""
	}

	if ch != 0 && ch != '\n' && ch != '\r' && mod == 0 {
		field.Value += string(ch)
	}

	ui.renderForm(view)
	return true
}
