package detect

import (
	"context"
	"log"
	"time"

	"github.com/Joseda-hg/taskwatch/internal/config"
	"github.com/Joseda-hg/taskwatch/internal/inference"
	"github.com/Joseda-hg/taskwatch/internal/model"
)

type FastClassifier interface {
	Predict(ctx context.Context, messages []inference.Message, grammar string) (string, error)
}

type PreciseClassifier interface {
	Stream(ctx context.Context, messages []inference.Message, out chan<- string) error
}

type ContextSource interface {
	GetContext(ctx context.Context, force bool) (model.HostContext, error)
}

type NameSource interface {
	Name(ctx context.Context) string
}

type TaskStore interface {
	Insert(ctx context.Context, text, sourceDocument string, method model.AdditionMethod, status model.Status) (model.Task, error)
}

type DuplicateDetector interface {
	IsDuplicate(ctx context.Context, text, contextDocument string) (bool, error)
}

// Outcome says where a pipeline run stopped.
type Outcome string

const (
	OutcomeIneligible  Outcome = "ineligible"
	OutcomeNotAssigned Outcome = "not_assigned"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeRejected    Outcome = "rejected"
	OutcomeAdded       Outcome = "added"
	OutcomeFailed      Outcome = "failed"
)

type Deps struct {
	Context    ContextSource
	Names      NameSource
	Fast       FastClassifier
	Precise    PreciseClassifier
	Duplicates DuplicateDetector
	Tasks      TaskStore
}

// Pipeline turns foreground samples into tasks: a cheap grammar-constrained
// classifier screens the screen text, a duplicate check prunes known tasks, and
// the larger model confirms before anything reaches the list.
type Pipeline struct {
	filter         *Filter
	deps           Deps
	fastTimeout    time.Duration
	preciseTimeout time.Duration
	policy         string
}

func NewPipeline(cfg config.DetectionConfig, deps Deps) *Pipeline {
	policy := cfg.FalsePositivePolicy
	if policy == "" {
		policy = config.FalsePositiveAlways
	}
	return &Pipeline{
		filter:         NewFilter(cfg.Apps, cfg.Cooldown),
		deps:           deps,
		fastTimeout:    cfg.FastTimeout,
		preciseTimeout: cfg.PreciseTimeout,
		policy:         policy,
	}
}

func (p *Pipeline) Filter() *Filter {
	return p.filter
}

// HandleForeground matches the host bus handler signature.
func (p *Pipeline) HandleForeground(ctx context.Context, window model.FocusedWindow) {
	outcome := p.Run(ctx, window)
	if outcome != OutcomeIneligible {
		log.Printf("detect: %s sample from %s", outcome, window.AppName)
	}
}

func (p *Pipeline) Run(ctx context.Context, window model.FocusedWindow) Outcome {
	if !p.filter.Allow(window) {
		return OutcomeIneligible
	}

	hc, err := p.deps.Context.GetContext(ctx, true)
	if err != nil {
		log.Printf("[WARN] detect: get context: %v", err)
		return OutcomeFailed
	}
	messages := inference.ClassifierMessages(p.deps.Names.Name(ctx), hc.Environment.OCRScreenContents)
	userPrompt := messages[len(messages)-1].Content

	fast, err := p.classifyFast(ctx, messages)
	if err != nil {
		log.Printf("[WARN] detect: fast classifier: %v", err)
		return OutcomeFailed
	}
	if !fast.Assigned {
		return OutcomeNotAssigned
	}

	duplicate, err := p.deps.Duplicates.IsDuplicate(ctx, fast.TaskText, userPrompt)
	if err != nil {
		log.Printf("[WARN] detect: %v", err)
		return OutcomeFailed
	}
	if duplicate {
		return OutcomeDuplicate
	}

	precise, err := p.classifyPrecise(ctx, messages)
	if err != nil {
		log.Printf("[WARN] detect: precise classifier: %v", err)
		return OutcomeFailed
	}

	outcome := OutcomeRejected
	if precise.Assigned {
		duplicate, err := p.deps.Duplicates.IsDuplicate(ctx, precise.TaskText, userPrompt)
		switch {
		case err != nil:
			log.Printf("[WARN] detect: %v", err)
			return OutcomeFailed
		case duplicate:
			outcome = OutcomeDuplicate
		default:
			if _, err := p.deps.Tasks.Insert(ctx, precise.TaskText, userPrompt, model.AddedAutomatically, model.StatusPending); err != nil {
				log.Printf("[WARN] detect: insert task: %v", err)
				return OutcomeFailed
			}
			outcome = OutcomeAdded
		}
	}

	if p.policy == config.FalsePositiveAlways || outcome != OutcomeAdded {
		if _, err := p.deps.Tasks.Insert(ctx, fast.TaskText, userPrompt, model.AddedAutomatically, model.StatusFalsePositive); err != nil {
			log.Printf("[WARN] detect: record false positive: %v", err)
		}
	}
	return outcome
}

func (p *Pipeline) classifyFast(ctx context.Context, messages []inference.Message) (model.Verdict, error) {
	ctx, cancel := withOptionalTimeout(ctx, p.fastTimeout)
	defer cancel()

	output, err := p.deps.Fast.Predict(ctx, messages, inference.TaskGrammar)
	if err != nil {
		return model.Verdict{}, err
	}
	verdict, ok := ParseFastVerdict(output)
	if !ok {
		log.Printf("[WARN] detect: fast classifier output ignored: %q", output)
	}
	return verdict, nil
}

func (p *Pipeline) classifyPrecise(ctx context.Context, messages []inference.Message) (model.Verdict, error) {
	ctx, cancel := withOptionalTimeout(ctx, p.preciseTimeout)
	defer cancel()

	output, err := inference.Collect(ctx, p.deps.Precise, messages)
	if err != nil {
		return model.Verdict{}, err
	}
	return ExtractPreciseVerdict(output), nil
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
