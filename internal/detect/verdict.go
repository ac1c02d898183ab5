package detect

import (
	"regexp"
	"strings"

	"github.com/Joseda-hg/taskwatch/internal/model"
)

const (
	notAssignedSentinel = "Task not assigned"
	assignedPrefix      = "Task assigned : "
)

var assignedPattern = regexp.MustCompile(`Task assigned\s*:\s*`)

// ParseFastVerdict reads grammar-constrained output. ok is false when the
// output does not follow the grammar; the verdict is then NotAssigned.
func ParseFastVerdict(output string) (verdict model.Verdict, ok bool) {
	if strings.TrimSpace(output) == notAssignedSentinel {
		return model.NotAssigned(), true
	}
	rest, found := strings.CutPrefix(output, assignedPrefix)
	if !found {
		return model.NotAssigned(), false
	}

	if i := strings.IndexAny(rest, ".\n"); i >= 0 {
		rest = rest[:i]
	}
	text := strings.TrimSpace(rest)
	if text == "" {
		return model.NotAssigned(), false
	}
	return model.Assigned(text, ""), true
}

// ExtractPreciseVerdict reads free-form output from the larger model. Any
// mention of the not-assigned sentinel wins over an assignment.
func ExtractPreciseVerdict(output string) model.Verdict {
	if strings.Contains(output, notAssignedSentinel) {
		return model.NotAssigned()
	}
	loc := assignedPattern.FindStringIndex(output)
	if loc == nil {
		return model.NotAssigned()
	}
	text := strings.TrimSpace(output[:loc[0]] + output[loc[1]:])
	if text == "" {
		return model.NotAssigned()
	}
	return model.Assigned(text, "")
}
