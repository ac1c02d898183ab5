package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Joseda-hg/taskwatch/internal/config"
	"github.com/Joseda-hg/taskwatch/internal/db"
	"github.com/Joseda-hg/taskwatch/internal/embedding"
	"github.com/Joseda-hg/taskwatch/internal/inference"
	"github.com/Joseda-hg/taskwatch/internal/model"
	"github.com/Joseda-hg/taskwatch/internal/tasks"
)

type fixedContext struct {
	ocr    string
	forced int
}

func (c *fixedContext) GetContext(ctx context.Context, force bool) (model.HostContext, error) {
	if force {
		c.forced++
	}
	return model.HostContext{Environment: model.Environment{OCRScreenContents: c.ocr}}, nil
}

type fixedName string

func (n fixedName) Name(ctx context.Context) string { return string(n) }

type fakeFast struct {
	output   string
	prompts  []string
	grammars []string
}

func (f *fakeFast) Predict(ctx context.Context, messages []inference.Message, grammar string) (string, error) {
	f.prompts = append(f.prompts, messages[len(messages)-1].Content)
	f.grammars = append(f.grammars, grammar)
	return f.output, nil
}

type fakePrecise struct {
	fragments []string
	calls     int
}

func (f *fakePrecise) Stream(ctx context.Context, messages []inference.Message, out chan<- string) error {
	defer close(out)
	f.calls++
	for _, fragment := range f.fragments {
		out <- fragment
	}
	return nil
}

type fakeDuplicates struct {
	duplicate map[string]bool
	err       error
	calls     []string
}

func (f *fakeDuplicates) IsDuplicate(ctx context.Context, text, contextDocument string) (bool, error) {
	f.calls = append(f.calls, text)
	return f.duplicate[text], f.err
}

type insertCall struct {
	text   string
	method model.AdditionMethod
	status model.Status
}

type fakeTasks struct {
	inserts []insertCall
}

func (f *fakeTasks) Insert(ctx context.Context, text, sourceDocument string, method model.AdditionMethod, status model.Status) (model.Task, error) {
	f.inserts = append(f.inserts, insertCall{text: text, method: method, status: status})
	return model.Task{Text: text, Status: status, AdditionMethod: method}, nil
}

func testDetectionConfig() config.DetectionConfig {
	cfg := config.Default().Detection
	cfg.FastTimeout = time.Second
	cfg.PreciseTimeout = time.Second
	return cfg
}

func TestFilterAllowListAndCooldown(t *testing.T) {
	base := time.Date(2024, 7, 26, 9, 0, 0, 0, time.UTC)
	now := base
	f := NewFilter(config.Default().Detection.Apps, 30*time.Second)
	f.now = func() time.Time { return now }

	slack := model.FocusedWindow{AppName: "Slack"}
	if !f.Allow(slack) {
		t.Fatalf("expected first Slack tick to be processed")
	}
	now = base.Add(10 * time.Second)
	if f.Allow(slack) {
		t.Fatalf("expected tick 10s later to be dropped")
	}
	now = base.Add(31 * time.Second)
	if !f.Allow(slack) {
		t.Fatalf("expected tick 31s after the first to be processed")
	}
}

func TestFilterMatchesURLAndIgnoresMissingURL(t *testing.T) {
	f := NewFilter([]string{"Slack", "mail.google.com"}, 0)

	if !f.Supported(model.FocusedWindow{AppName: "Chrome", URL: "https://mail.google.com/mail/u/0"}) {
		t.Fatalf("expected URL containing allow-listed domain to match")
	}
	if f.Supported(model.FocusedWindow{AppName: "Chrome"}) {
		t.Fatalf("expected missing URL not to match")
	}
	if f.Supported(model.FocusedWindow{AppName: "slack"}) {
		t.Fatalf("expected app names to match exactly")
	}
}

func TestIneligibleSampleDoesNotRestartCooldown(t *testing.T) {
	base := time.Date(2024, 7, 26, 9, 0, 0, 0, time.UTC)
	now := base
	f := NewFilter([]string{"Slack"}, 30*time.Second)
	f.now = func() time.Time { return now }

	if f.Allow(model.FocusedWindow{AppName: "Terminal"}) {
		t.Fatalf("expected unsupported app to be dropped")
	}
	if !f.Allow(model.FocusedWindow{AppName: "Slack"}) {
		t.Fatalf("expected Slack to be processed after an unsupported tick")
	}
}

func TestParseFastVerdict(t *testing.T) {
	cases := []struct {
		output   string
		assigned bool
		text     string
		ok       bool
	}{
		{"Task not assigned", false, "", true},
		{"Task not assigned\n", false, "", true},
		{"Task not assignedXYZ", false, "", false},
		{"Task assigned : Send the report by Friday.", true, "Send the report by Friday", true},
		{"Task assigned : Book flights\nextra", true, "Book flights", true},
		{"Task assigned : Send the report by Friday", true, "Send the report by Friday", true},
		{"Sure! Task assigned : do it.", false, "", false},
		{"Task assigned : .", false, "", false},
		{"", false, "", false},
	}
	for _, tc := range cases {
		verdict, ok := ParseFastVerdict(tc.output)
		if verdict.Assigned != tc.assigned || verdict.TaskText != tc.text || ok != tc.ok {
			t.Fatalf("ParseFastVerdict(%q) = %+v ok=%v, want assigned=%v text=%q ok=%v", tc.output, verdict, ok, tc.assigned, tc.text, tc.ok)
		}
	}
}

func TestExtractPreciseVerdict(t *testing.T) {
	cases := []struct {
		output   string
		assigned bool
		text     string
	}{
		{"Task assigned : Send the report to Alex by Friday", true, "Send the report to Alex by Friday"},
		{"Task assigned:Review the deck", true, "Review the deck"},
		{"Task not assigned", false, ""},
		{"Task assigned : Task not assigned", false, ""},
		{"I could not find anything.", false, ""},
	}
	for _, tc := range cases {
		verdict := ExtractPreciseVerdict(tc.output)
		if verdict.Assigned != tc.assigned || verdict.TaskText != tc.text {
			t.Fatalf("ExtractPreciseVerdict(%q) = %+v, want assigned=%v text=%q", tc.output, verdict, tc.assigned, tc.text)
		}
	}
}

type scoredSearcher struct {
	matches []db.SearchMatch
	err     error
}

func (s scoredSearcher) Search(ctx context.Context, table, text, contextDocument string, topK int) ([]db.SearchMatch, error) {
	return s.matches, s.err
}

func TestDuplicateThresholdIsStrict(t *testing.T) {
	cases := []struct {
		score float64
		want  bool
	}{
		{0.90, false},
		{0.9000001, true},
		{0.5, false},
		{-0.95, true},
	}
	for _, tc := range cases {
		checker := NewDuplicateChecker(scoredSearcher{matches: []db.SearchMatch{{CombinedSimilarity: tc.score}}}, tasks.Table, 0.90)
		got, err := checker.IsDuplicate(context.Background(), "task", "")
		if err != nil {
			t.Fatalf("is duplicate: %v", err)
		}
		if got != tc.want {
			t.Fatalf("score %v: expected duplicate=%v, got %v", tc.score, tc.want, got)
		}
	}

	empty := NewDuplicateChecker(scoredSearcher{}, tasks.Table, 0.90)
	if dup, err := empty.IsDuplicate(context.Background(), "task", ""); dup || err != nil {
		t.Fatalf("expected empty table not to report duplicates, dup=%v err=%v", dup, err)
	}
}

func TestPipelineSkipsPreciseTierWhenNotAssigned(t *testing.T) {
	precise := &fakePrecise{}
	store := &fakeTasks{}
	dups := &fakeDuplicates{}
	p := NewPipeline(testDetectionConfig(), Deps{
		Context:    &fixedContext{ocr: "lunch?"},
		Names:      fixedName("Dana"),
		Fast:       &fakeFast{output: "Task not assigned"},
		Precise:    precise,
		Duplicates: dups,
		Tasks:      store,
	})

	if got := p.Run(context.Background(), model.FocusedWindow{AppName: "Slack"}); got != OutcomeNotAssigned {
		t.Fatalf("expected not_assigned, got %s", got)
	}
	if precise.calls != 0 || len(dups.calls) != 0 || len(store.inserts) != 0 {
		t.Fatalf("expected pipeline to stop after fast tier")
	}
}

func TestPipelineSkipsPreciseTierOnDuplicate(t *testing.T) {
	precise := &fakePrecise{}
	store := &fakeTasks{}
	p := NewPipeline(testDetectionConfig(), Deps{
		Context:    &fixedContext{ocr: "Dana, send the report"},
		Names:      fixedName("Dana"),
		Fast:       &fakeFast{output: "Task assigned : Send the report."},
		Precise:    precise,
		Duplicates: &fakeDuplicates{duplicate: map[string]bool{"Send the report": true}},
		Tasks:      store,
	})

	if got := p.Run(context.Background(), model.FocusedWindow{AppName: "Slack"}); got != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s", got)
	}
	if precise.calls != 0 || len(store.inserts) != 0 {
		t.Fatalf("expected pipeline to stop after duplicate check")
	}
}

func TestPipelineDropsSampleWhenDuplicateCheckFails(t *testing.T) {
	precise := &fakePrecise{}
	store := &fakeTasks{}
	p := NewPipeline(testDetectionConfig(), Deps{
		Context:    &fixedContext{ocr: "x"},
		Names:      fixedName("Dana"),
		Fast:       &fakeFast{output: "Task assigned : Send the report."},
		Precise:    precise,
		Duplicates: &fakeDuplicates{err: errors.New("index unavailable")},
		Tasks:      store,
	})

	if got := p.Run(context.Background(), model.FocusedWindow{AppName: "Slack"}); got != OutcomeFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	if precise.calls != 0 || len(store.inserts) != 0 {
		t.Fatalf("expected sample to be dropped")
	}
}

func TestPipelineFalsePositivePolicies(t *testing.T) {
	cases := []struct {
		name      string
		policy    string
		fragments []string
		duplicate map[string]bool
		want      []insertCall
		outcome   Outcome
	}{
		{
			name:      "always after added",
			policy:    config.FalsePositiveAlways,
			fragments: []string{"Task assigned : Send the report"},
			outcome:   OutcomeAdded,
			want: []insertCall{
				{"Send the report", model.AddedAutomatically, model.StatusPending},
				{"Send report", model.AddedAutomatically, model.StatusFalsePositive},
			},
		},
		{
			name:      "on rejection after added",
			policy:    config.FalsePositiveOnRejection,
			fragments: []string{"Task assigned : Send the report"},
			outcome:   OutcomeAdded,
			want: []insertCall{
				{"Send the report", model.AddedAutomatically, model.StatusPending},
			},
		},
		{
			name:      "always after precise text is a duplicate",
			policy:    config.FalsePositiveAlways,
			fragments: []string{"Task assigned : Send the report"},
			duplicate: map[string]bool{"Send the report": true},
			outcome:   OutcomeDuplicate,
			want: []insertCall{
				{"Send report", model.AddedAutomatically, model.StatusFalsePositive},
			},
		},
		{
			name:      "on rejection after rejected",
			policy:    config.FalsePositiveOnRejection,
			fragments: []string{"Task not ", "assigned"},
			outcome:   OutcomeRejected,
			want: []insertCall{
				{"Send report", model.AddedAutomatically, model.StatusFalsePositive},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testDetectionConfig()
			cfg.FalsePositivePolicy = tc.policy
			store := &fakeTasks{}
			p := NewPipeline(cfg, Deps{
				Context:    &fixedContext{ocr: "x"},
				Names:      fixedName("Dana"),
				Fast:       &fakeFast{output: "Task assigned : Send report."},
				Precise:    &fakePrecise{fragments: tc.fragments},
				Duplicates: &fakeDuplicates{duplicate: tc.duplicate},
				Tasks:      store,
			})

			if got := p.Run(context.Background(), model.FocusedWindow{AppName: "Slack"}); got != tc.outcome {
				t.Fatalf("expected %s, got %s", tc.outcome, got)
			}
			if len(store.inserts) != len(tc.want) {
				t.Fatalf("expected %d inserts, got %+v", len(tc.want), store.inserts)
			}
			for i, want := range tc.want {
				if store.inserts[i] != want {
					t.Fatalf("insert %d: expected %+v, got %+v", i, want, store.inserts[i])
				}
			}
		})
	}
}

func TestPipelineChecksPreciseTextForDuplicates(t *testing.T) {
	dups := &fakeDuplicates{duplicate: map[string]bool{"Send the quarterly report": true}}
	p := NewPipeline(testDetectionConfig(), Deps{
		Context:    &fixedContext{ocr: "x"},
		Names:      fixedName("Dana"),
		Fast:       &fakeFast{output: "Task assigned : Send report."},
		Precise:    &fakePrecise{fragments: []string{"Task assigned : Send the quarterly report"}},
		Duplicates: dups,
		Tasks:      &fakeTasks{},
	})

	if got := p.Run(context.Background(), model.FocusedWindow{AppName: "Slack"}); got != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s", got)
	}
	if len(dups.calls) != 2 || dups.calls[0] != "Send report" || dups.calls[1] != "Send the quarterly report" {
		t.Fatalf("expected both tiers' text to be checked, got %v", dups.calls)
	}
}

type blockingFast struct{}

func (blockingFast) Predict(ctx context.Context, messages []inference.Message, grammar string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type blockingPrecise struct{}

func (blockingPrecise) Stream(ctx context.Context, messages []inference.Message, out chan<- string) error {
	defer close(out)
	<-ctx.Done()
	return ctx.Err()
}

func TestPipelineClassifierTimeouts(t *testing.T) {
	cases := []struct {
		name    string
		fast    FastClassifier
		precise PreciseClassifier
	}{
		{"fast tier", blockingFast{}, &fakePrecise{}},
		{"precise tier", &fakeFast{output: "Task assigned : Send report."}, blockingPrecise{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testDetectionConfig()
			cfg.FastTimeout = 50 * time.Millisecond
			cfg.PreciseTimeout = 50 * time.Millisecond
			store := &fakeTasks{}
			p := NewPipeline(cfg, Deps{
				Context:    &fixedContext{ocr: "x"},
				Names:      fixedName("Dana"),
				Fast:       tc.fast,
				Precise:    tc.precise,
				Duplicates: &fakeDuplicates{},
				Tasks:      store,
			})

			done := make(chan Outcome, 1)
			go func() { done <- p.Run(context.Background(), model.FocusedWindow{AppName: "Slack"}) }()

			select {
			case got := <-done:
				if got != OutcomeFailed {
					t.Fatalf("expected failed, got %s", got)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("run did not honour the classifier timeout")
			}
			if len(store.inserts) != 0 {
				t.Fatalf("expected no inserts, got %+v", store.inserts)
			}
		})
	}
}

type recordingNotifier struct {
	bodies []string
}

func (n *recordingNotifier) ShowNotification(title, body string) {
	n.bodies = append(n.bodies, body)
}

func TestPipelineEndToEndAddsTaskForDana(t *testing.T) {
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	items := db.NewItemStore(conn, embedding.NewHashEmbedder(0))
	notifier := &recordingNotifier{}
	taskSvc := tasks.NewService(items, notifier)

	source := &fixedContext{ocr: "Dana, please send the report by Friday — Alex"}
	fast := &fakeFast{output: "Task assigned : Send the report by Friday"}
	precise := &fakePrecise{fragments: []string{"Task assigned : ", "Send the report to Alex", " by Friday"}}

	p := NewPipeline(testDetectionConfig(), Deps{
		Context:    source,
		Names:      fixedName("Dana"),
		Fast:       fast,
		Precise:    precise,
		Duplicates: NewDuplicateChecker(items, tasks.Table, 0.90),
		Tasks:      taskSvc,
	})

	if got := p.Run(context.Background(), model.FocusedWindow{AppName: "Slack"}); got != OutcomeAdded {
		t.Fatalf("expected added, got %s", got)
	}
	if source.forced != 1 {
		t.Fatalf("expected a forced context refresh, got %d", source.forced)
	}
	if fast.prompts[0] != "Name of the User : Dana.\nConversation : Dana, please send the report by Friday — Alex" {
		t.Fatalf("unexpected user prompt %q", fast.prompts[0])
	}
	if fast.grammars[0] != inference.TaskGrammar {
		t.Fatalf("expected task grammar on the fast tier")
	}

	pending := taskSvc.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected one pending task, got %+v", pending)
	}
	if pending[0].Text != "Send the report to Alex by Friday" {
		t.Fatalf("unexpected task text %q", pending[0].Text)
	}
	if pending[0].AdditionMethod != model.AddedAutomatically {
		t.Fatalf("expected automatic task, got %q", pending[0].AdditionMethod)
	}
	if len(notifier.bodies) != 1 || notifier.bodies[0] != "Send the report to Alex by Friday" {
		t.Fatalf("expected one notification with the task text, got %v", notifier.bodies)
	}
}
