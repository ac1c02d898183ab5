package detect

import (
	"strings"
	"sync"
	"time"

	"github.com/Joseda-hg/taskwatch/internal/model"
)

// Filter gates foreground samples on an app allow-list and a cooldown between
// processed samples.
type Filter struct {
	apps     []string
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

func NewFilter(apps []string, cooldown time.Duration) *Filter {
	return &Filter{
		apps:     append([]string(nil), apps...),
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Supported reports whether the window belongs to an allow-listed app. An entry
// matches the app name exactly or appears anywhere in the URL.
func (f *Filter) Supported(window model.FocusedWindow) bool {
	for _, app := range f.apps {
		if window.AppName == app {
			return true
		}
		if window.URL != "" && strings.Contains(window.URL, app) {
			return true
		}
	}
	return false
}

// Allow reports whether the sample should be classified. The cooldown clock only
// restarts on samples that pass.
func (f *Filter) Allow(window model.FocusedWindow) bool {
	if !f.Supported(window) {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	if !f.last.IsZero() && now.Sub(f.last) < f.cooldown {
		return false
	}
	f.last = now
	return true
}
