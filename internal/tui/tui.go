package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/jesseduffield/gocui"

	"github.com/Joseda-hg/taskwatch/internal/db"
	"github.com/Joseda-hg/taskwatch/internal/model"
	"github.com/Joseda-hg/taskwatch/internal/profile"
	"github.com/Joseda-hg/taskwatch/internal/reminders"
	"github.com/Joseda-hg/taskwatch/internal/tasks"
)

const (
	viewHeader    = "header"
	viewFooter    = "footer"
	viewPending   = "pending"
	viewCompleted = "completed"
	viewReminders = "reminders"
	viewHistory   = "history"
	viewForm      = "form"
	viewHelp      = "help"
)

const refreshInterval = 5 * time.Second

type Deps struct {
	Tasks     *tasks.Service
	Reminders *reminders.Service
	Profile   *profile.Store
}

type UI struct {
	tasks     *tasks.Service
	reminders *reminders.Service
	profile   *profile.Store
	gui       *gocui.Gui
	now       func() time.Time

	name      string
	pending   []model.Task
	completed []model.Task
	reminded  []model.Reminder
	taskText  map[string]string
	history   []model.HistoryEntry

	selectedPending   int
	selectedCompleted int
	selectedReminder  int
	focus             string

	form       *formState
	formEditor *formEditor
	helpActive bool
	status     string
}

func newUI(deps Deps) *UI {
	ui := &UI{
		tasks:     deps.Tasks,
		reminders: deps.Reminders,
		profile:   deps.Profile,
		focus:     viewPending,
		now:       time.Now,
	}
	ui.formEditor = &formEditor{ui: ui}
	return ui
}

// Run shows the task panels until the user quits or ctx is cancelled.
func Run(ctx context.Context, deps Deps) error {
	gui, err := gocui.NewGui(gocui.NewGuiOpts{OutputMode: gocui.OutputNormal})
	if err != nil {
		return err
	}
	defer gui.Close()

	ui := newUI(deps)
	ui.gui = gui
	ui.helpActive = ui.profile.ShowHelp(ctx)

	gui.SetManagerFunc(ui.layout)
	if err := ui.bindKeys(gui); err != nil {
		return err
	}
	if err := ui.load(); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go ui.refreshLoop(ctx, done)

	if err := gui.MainLoop(); err != nil && !goerrors.Is(err, gocui.ErrQuit) {
		return err
	}
	return nil
}

// refreshLoop picks up tasks the detection pipeline adds and reminders that
// fire while the panels are open.
func (u *UI) refreshLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			u.gui.Update(func(*gocui.Gui) error { return gocui.ErrQuit })
			return
		case <-ticker.C:
			u.gui.Update(func(*gocui.Gui) error {
				if u.inputActive() {
					return nil
				}
				return u.load()
			})
		}
	}
}

type binding struct {
	view    string
	key     any
	handler func(*gocui.Gui, *gocui.View) error
}

func (u *UI) bindKeys(gui *gocui.Gui) error {
	bindings := []binding{
		{"", gocui.KeyCtrlC, u.quit},
		{"", 'q', u.quit},
		{"", 'r', u.reload},
		{"", 'a', u.addTask},
		{"", 'e', u.editTask},
		{"", 'x', u.toggleTask},
		{"", 'd', u.deleteSelected},
		{"", 'z', u.snoozeReminder},
		{"", 'm', u.dismissReminder},
		{"", 'n', u.editName},
		{"", '?', u.toggleHelp},
		{"", gocui.KeyTab, u.switchFocus},
		{"", '1', u.focusPending},
		{"", '2', u.focusCompleted},
		{"", '3', u.focusReminders},
		{viewForm, gocui.KeyEnter, u.submitFormNow},
		{viewForm, gocui.KeyEsc, u.cancelForm},
		{viewForm, gocui.KeyTab, u.nextFormField},
		{viewForm, gocui.KeyArrowDown, u.nextFormField},
		{viewForm, gocui.KeyArrowUp, u.prevFormField},
		{viewHelp, gocui.KeyEsc, u.closeHelp},
		{viewHelp, 'q', u.closeHelp},
	}
	for _, name := range []string{viewPending, viewCompleted, viewReminders} {
		bindings = append(bindings,
			binding{name, gocui.KeyArrowDown, u.moveDown},
			binding{name, 'j', u.moveDown},
			binding{name, gocui.KeyArrowUp, u.moveUp},
			binding{name, 'k', u.moveUp},
		)
	}

	for _, b := range bindings {
		if err := gui.SetKeybinding(b.view, b.key, gocui.ModNone, b.handler); err != nil {
			return err
		}
	}
	return nil
}

func (u *UI) layout(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	if maxX <= 0 || maxY <= 0 {
		return nil
	}

	headerView, err := gui.SetView(viewHeader, 0, 0, maxX-1, 0, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	headerView.Frame = false
	headerView.FgColor = gocui.ColorDefault
	u.renderHeader(headerView)

	footerY1 := max(maxY-2, 1)
	footerY0 := max(footerY1-2, 1)
	footerView, err := gui.SetView(viewFooter, 0, footerY0, maxX-1, footerY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	footerView.Frame = false
	footerView.Wrap = true
	footerView.FgColor = gocui.ColorDefault | gocui.AttrDim
	u.renderFooter(footerView)

	bodyTop := 1
	bodyBottom := footerY0 - 1
	if bodyBottom < bodyTop {
		return nil
	}

	l := computeLayout(maxX, bodyBottom-bodyTop+1)
	leftX1 := l.leftWidth - 1
	rightX0 := min(leftX1+1, maxX-1)

	pendingY1 := bodyTop + l.pendingHeight - 1
	completedY0 := pendingY1 + 1
	remindersY0 := bodyTop
	remindersY1 := bodyTop + l.remindersHeight - 1

	pendingView, err := gui.SetView(viewPending, 0, bodyTop, leftX1, pendingY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		pendingView.Title = "1 Pending"
		pendingView.TitleColor = gocui.ColorRed
	}
	applyViewStyle(pendingView, u.focus == viewPending, true)
	u.renderTaskList(pendingView, u.pending, u.selectedPending, u.focus == viewPending)

	completedView, err := gui.SetView(viewCompleted, 0, completedY0, leftX1, bodyBottom, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		completedView.Title = "2 Completed"
		completedView.TitleColor = gocui.ColorGreen
	}
	applyViewStyle(completedView, u.focus == viewCompleted, true)
	u.renderTaskList(completedView, u.completed, u.selectedCompleted, u.focus == viewCompleted)

	remindersView, err := gui.SetView(viewReminders, rightX0, remindersY0, maxX-1, remindersY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		remindersView.Title = "3 Reminders"
		remindersView.TitleColor = gocui.ColorYellow
	}
	applyViewStyle(remindersView, u.focus == viewReminders, true)
	u.renderReminders(remindersView, u.focus == viewReminders)

	historyView, err := gui.SetView(viewHistory, rightX0, remindersY1+1, maxX-1, bodyBottom, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		historyView.Title = "History"
		historyView.Wrap = true
	}
	applyViewStyle(historyView, false, false)
	u.renderHistory(historyView)

	if u.form != nil {
		if err := u.showForm(gui); err != nil {
			return err
		}
	} else {
		_ = gui.DeleteView(viewForm)
	}

	if u.helpActive {
		if err := u.showHelp(gui); err != nil {
			return err
		}
	} else {
		_ = gui.DeleteView(viewHelp)
	}

	if gui.CurrentView() == nil {
		_, _ = gui.SetCurrentView(u.focus)
	}
	gui.Cursor = u.form != nil
	return nil
}

type layout struct {
	leftWidth       int
	pendingHeight   int
	remindersHeight int
}

func computeLayout(width, height int) layout {
	safeWidth := max(width-2, 20)
	safeHeight := max(height, 8)

	leftWidth := safeWidth / 2
	if leftWidth < 26 {
		leftWidth = min(26, safeWidth)
	}

	pendingHeight := max(int(float64(safeHeight)*0.6), 4)
	remindersHeight := max(int(float64(safeHeight)*0.5), 4)

	return layout{
		leftWidth:       leftWidth,
		pendingHeight:   min(pendingHeight, safeHeight-3),
		remindersHeight: min(remindersHeight, safeHeight-3),
	}
}

// load refreshes every panel from storage. Background loops write to the same
// stores, so the snapshot is reloaded rather than patched.
func (u *UI) load() error {
	ctx := context.Background()
	if err := u.tasks.Load(ctx); err != nil {
		return err
	}
	u.name = u.profile.Name(ctx)
	u.pending = u.tasks.Pending()
	u.completed = u.tasks.Completed()
	u.reminded = u.reminders.List()

	u.taskText = make(map[string]string)
	for _, task := range u.tasks.All() {
		u.taskText[task.ID] = task.Text
	}

	u.selectedPending = clampIndex(u.selectedPending, len(u.pending))
	u.selectedCompleted = clampIndex(u.selectedCompleted, len(u.completed))
	u.selectedReminder = clampIndex(u.selectedReminder, len(u.reminded))
	return u.loadHistory()
}

func (u *UI) loadHistory() error {
	selected := u.selectedTask()
	if selected == nil {
		u.history = nil
		return nil
	}
	history, err := u.tasks.History(context.Background(), selected.ID)
	if err != nil {
		return err
	}
	u.history = history
	return nil
}

func (u *UI) renderHeader(view *gocui.View) {
	view.Clear()
	fmt.Fprintf(view, "taskwatch | %s | %d pending | %d completed | %d reminders", u.name, len(u.pending), len(u.completed), len(u.reminded))
}

func (u *UI) renderFooter(view *gocui.View) {
	view.Clear()
	fmt.Fprintln(view, "a add | e edit | x toggle | d delete | z snooze | m dismiss | n name")
	fmt.Fprintln(view, "tab/1-3 panes | j/k move | r reload | ? help | q quit")
	if u.status != "" {
		fmt.Fprint(view, u.status)
	}
}

func (u *UI) renderTaskList(view *gocui.View, list []model.Task, selected int, focused bool) {
	view.Clear()
	for i, task := range list {
		fmt.Fprintf(view, "%s %s\n", selectionPrefix(i == selected, focused), formatTaskSummary(task))
	}
	if focused && len(list) > 0 {
		view.SetCursor(0, selected)
	}
}

func (u *UI) renderReminders(view *gocui.View, focused bool) {
	view.Clear()
	now := u.now()
	for i, reminder := range u.reminded {
		text, ok := u.taskText[reminder.TaskID]
		if !ok {
			text = "Unknown task"
		}
		fmt.Fprintf(view, "%s %s\n", selectionPrefix(i == u.selectedReminder, focused), formatReminder(reminder, text, now))
	}
	if focused && len(u.reminded) > 0 {
		view.SetCursor(0, u.selectedReminder)
	}
}

func (u *UI) renderHistory(view *gocui.View) {
	view.Clear()
	for _, entry := range u.history {
		fmt.Fprintf(view, "%s %s\n", entry.CreatedAt.Local().Format("01-02 15:04"), entry.Details)
	}
}

func selectionPrefix(selected, focused bool) string {
	switch {
	case selected && focused:
		return ">"
	case selected:
		return "*"
	default:
		return " "
	}
}

func (u *UI) selectedTask() *model.Task {
	switch u.focus {
	case viewPending:
		if u.selectedPending < len(u.pending) {
			return &u.pending[u.selectedPending]
		}
	case viewCompleted:
		if u.selectedCompleted < len(u.completed) {
			return &u.completed[u.selectedCompleted]
		}
	}
	return nil
}

func (u *UI) selectedReminderEntry() *model.Reminder {
	if u.focus != viewReminders || u.selectedReminder >= len(u.reminded) {
		return nil
	}
	return &u.reminded[u.selectedReminder]
}

func (u *UI) switchFocus(gui *gocui.Gui, _ *gocui.View) error {
	switch u.focus {
	case viewPending:
		return u.setFocus(gui, viewCompleted)
	case viewCompleted:
		return u.setFocus(gui, viewReminders)
	default:
		return u.setFocus(gui, viewPending)
	}
}

func (u *UI) focusPending(gui *gocui.Gui, _ *gocui.View) error {
	return u.setFocus(gui, viewPending)
}

func (u *UI) focusCompleted(gui *gocui.Gui, _ *gocui.View) error {
	return u.setFocus(gui, viewCompleted)
}

func (u *UI) focusReminders(gui *gocui.Gui, _ *gocui.View) error {
	return u.setFocus(gui, viewReminders)
}

func (u *UI) setFocus(gui *gocui.Gui, name string) error {
	if u.inputActive() {
		return nil
	}
	u.focus = name
	if gui != nil {
		_, _ = gui.SetCurrentView(name)
	}
	return u.loadHistory()
}

func (u *UI) moveDown(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	switch u.focus {
	case viewPending:
		if u.selectedPending < len(u.pending)-1 {
			u.selectedPending++
		}
	case viewCompleted:
		if u.selectedCompleted < len(u.completed)-1 {
			u.selectedCompleted++
		}
	case viewReminders:
		if u.selectedReminder < len(u.reminded)-1 {
			u.selectedReminder++
		}
	}
	return u.loadHistory()
}

func (u *UI) moveUp(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	switch u.focus {
	case viewPending:
		if u.selectedPending > 0 {
			u.selectedPending--
		}
	case viewCompleted:
		if u.selectedCompleted > 0 {
			u.selectedCompleted--
		}
	case viewReminders:
		if u.selectedReminder > 0 {
			u.selectedReminder--
		}
	}
	return u.loadHistory()
}

func (u *UI) reload(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.status = ""
	return u.load()
}

func (u *UI) addTask(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.form = &formState{kind: formTask, fields: buildTaskFormFields(nil)}
	return nil
}

func (u *UI) editTask(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	selected := u.selectedTask()
	if selected == nil {
		return nil
	}
	u.form = &formState{kind: formTask, taskID: selected.ID, fields: buildTaskFormFields(selected)}
	return nil
}

func (u *UI) editName(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.form = &formState{kind: formName, fields: buildNameFormFields(u.name)}
	return nil
}

func (u *UI) showForm(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	width := max(60, maxX/2)
	height := len(u.form.fields) + 2
	x0 := max((maxX-width)/2, 0)
	y0 := max((maxY-height)/2, 0)

	view, err := gui.SetView(viewForm, x0, y0, x0+width, y0+height, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		view.Wrap = true
	}
	switch {
	case u.form.kind == formName:
		view.Title = "Your Name"
	case u.form.taskID != "":
		view.Title = "Edit Task"
	default:
		view.Title = "New Task"
	}
	view.Editable = true
	view.KeybindOnEdit = true
	view.Editor = u.formEditor
	u.renderForm(view)
	_, _ = gui.SetCurrentView(viewForm)
	return nil
}

func (u *UI) renderForm(view *gocui.View) {
	if u.form == nil || view == nil {
		return
	}
	view.Clear()
	for index, field := range u.form.fields {
		prefix := "  "
		if index == u.form.index {
			prefix = "> "
		}
		fmt.Fprintf(view, "%s%s: %s\n", prefix, field.Label, field.Value)
	}
	current := u.form.fields[u.form.index]
	cursorX := len([]rune(current.Label)) + len([]rune(current.Value)) + 4
	view.SetCursor(cursorX, u.form.index)
}

func (u *UI) submitFormNow(gui *gocui.Gui, view *gocui.View) error {
	if u.form == nil {
		return nil
	}
	if err := u.saveForm(); err != nil {
		u.status = err.Error()
		return nil
	}

	u.form = nil
	u.status = ""
	if gui != nil {
		_ = gui.DeleteView(viewForm)
		_, _ = gui.SetCurrentView(u.focus)
	}
	return u.load()
}

// saveForm persists the open form without touching the terminal.
func (u *UI) saveForm() error {
	ctx := context.Background()

	if u.form.kind == formName {
		return u.profile.SetName(ctx, u.form.fields[0].Value)
	}

	input, err := parseTaskFormFields(u.form.fields, time.Local)
	if err != nil {
		return err
	}

	var task model.Task
	if u.form.taskID == "" {
		task, err = u.tasks.Insert(ctx, input.Text, "", model.AddedManually, model.StatusPending)
	} else {
		task, err = u.tasks.UpdateText(ctx, u.form.taskID, input.Text)
	}
	if err != nil {
		return err
	}

	if input.RemindAt != nil {
		if _, err := u.reminders.Add(ctx, task.ID, *input.RemindAt, input.ReminderType); err != nil {
			return err
		}
	}
	return nil
}

func (u *UI) cancelForm(gui *gocui.Gui, _ *gocui.View) error {
	u.form = nil
	_ = gui.DeleteView(viewForm)
	_, _ = gui.SetCurrentView(u.focus)
	return nil
}

func (u *UI) nextFormField(gui *gocui.Gui, view *gocui.View) error {
	if u.form == nil {
		return nil
	}
	if u.form.index < len(u.form.fields)-1 {
		u.form.index++
	}
	u.renderForm(view)
	return nil
}

func (u *UI) prevFormField(gui *gocui.Gui, view *gocui.View) error {
	if u.form == nil {
		return nil
	}
	if u.form.index > 0 {
		u.form.index--
	}
	u.renderForm(view)
	return nil
}

func (u *UI) toggleTask(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	selected := u.selectedTask()
	if selected == nil {
		return nil
	}
	if _, err := u.tasks.Toggle(context.Background(), selected.ID); err != nil {
		u.status = err.Error()
		return nil
	}
	u.status = ""
	return u.load()
}

func (u *UI) deleteSelected(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}

	var err error
	if reminder := u.selectedReminderEntry(); reminder != nil {
		err = u.reminders.Remove(context.Background(), reminder.ID)
	} else if task := u.selectedTask(); task != nil {
		err = u.tasks.Delete(context.Background(), task.ID)
	} else {
		return nil
	}
	if err != nil {
		u.status = err.Error()
		return nil
	}
	u.status = ""
	return u.load()
}

func (u *UI) snoozeReminder(gui *gocui.Gui, _ *gocui.View) error {
	return u.updateReminder(func(ctx context.Context, id string) error {
		_, err := u.reminders.Snooze(ctx, id)
		return err
	})
}

func (u *UI) dismissReminder(gui *gocui.Gui, _ *gocui.View) error {
	return u.updateReminder(func(ctx context.Context, id string) error {
		_, err := u.reminders.Dismiss(ctx, id)
		return err
	})
}

func (u *UI) updateReminder(apply func(context.Context, string) error) error {
	if u.inputActive() {
		return nil
	}
	reminder := u.selectedReminderEntry()
	if reminder == nil {
		return nil
	}
	if err := apply(context.Background(), reminder.ID); err != nil {
		if errors.Is(err, reminders.ErrNotLoaded) {
			u.status = "reminders are still loading"
		} else {
			u.status = err.Error()
		}
		return nil
	}
	u.status = ""
	return u.load()
}

func (u *UI) toggleHelp(gui *gocui.Gui, _ *gocui.View) error {
	if u.form != nil {
		return nil
	}
	if u.helpActive {
		return u.closeHelp(gui, nil)
	}
	u.helpActive = true
	return nil
}

func (u *UI) closeHelp(gui *gocui.Gui, _ *gocui.View) error {
	u.helpActive = false
	if err := u.profile.SetShowHelp(context.Background(), false); err != nil {
		u.status = err.Error()
	}
	if gui != nil {
		_ = gui.DeleteView(viewHelp)
		_, _ = gui.SetCurrentView(u.focus)
	}
	return nil
}

func (u *UI) showHelp(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	width := max(60, maxX/2)
	height := 16
	x0 := max((maxX-width)/2, 0)
	y0 := max((maxY-height)/2, 0)

	view, err := gui.SetView(viewHelp, x0, y0, x0+width, y0+height, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		view.Title = "Help"
		view.Wrap = true
	}
	view.Clear()
	fmt.Fprint(view, helpText())
	_, _ = gui.SetCurrentView(viewHelp)
	return nil
}

func (u *UI) inputActive() bool {
	return u.form != nil || u.helpActive
}

func (u *UI) quit(_ *gocui.Gui, _ *gocui.View) error {
	return gocui.ErrQuit
}

func helpText() string {
	return strings.Join([]string{
		"Tasks show up here on their own while a chat app is in front:",
		"  the watcher reads the screen and adds what was asked of you.",
		"",
		"Navigation:",
		"  tab cycle panes | 1 Pending | 2 Completed | 3 Reminders",
		"  j/k or arrows move selection",
		"",
		"Actions:",
		"  a add task | e edit task | x toggle done | d delete",
		"  z snooze reminder 15m | m dismiss reminder | n set your name",
		"  enter save (form) | tab next field | esc cancel",
		"",
		"  r reload | ? help | esc/q close help | q quit",
	}, "\n")
}

func applyViewStyle(view *gocui.View, focused bool, highlight bool) {
	view.Frame = true
	view.Highlight = focused && highlight
	view.SelBgColor = gocui.ColorBlue
	view.SelFgColor = gocui.ColorBlack
	if focused {
		view.FrameColor = gocui.ColorCyan
	} else {
		view.FrameColor = gocui.ColorDefault
	}
}

func clampIndex(index, length int) int {
	if length == 0 || index < 0 {
		return 0
	}
	if index >= length {
		return length - 1
	}
	return index
}
