package host

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/Joseda-hg/taskwatch/internal/model"
)

const maxOutbox = 100

// Runtime holds what the host has told us about the screen and queues the
// notifications we want it to show.
type Runtime struct {
	mu         sync.Mutex
	current    model.HostContext
	contextURL string
	client     *http.Client
	outbox     []model.Notification
	now        func() time.Time
}

// NewRuntime returns a runtime. When contextURL is set, forced context reads
// fetch a fresh capture from the host instead of using the last pushed one.
func NewRuntime(contextURL string) *Runtime {
	return &Runtime{
		contextURL: contextURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

func (r *Runtime) SetContext(hc model.HostContext) {
	if hc.CapturedAt.IsZero() {
		hc.CapturedAt = r.now().UTC()
	}
	r.mu.Lock()
	r.current = hc
	r.mu.Unlock()
}

func (r *Runtime) GetContext(ctx context.Context, force bool) (model.HostContext, error) {
	if force && r.contextURL != "" {
		hc, err := r.fetchContext(ctx)
		if err != nil {
			return model.HostContext{}, err
		}
		r.SetContext(hc)
		return hc, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, nil
}

func (r *Runtime) fetchContext(ctx context.Context) (model.HostContext, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.contextURL, nil)
	if err != nil {
		return model.HostContext{}, fmt.Errorf("create context request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return model.HostContext{}, fmt.Errorf("fetch host context: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.HostContext{}, fmt.Errorf("host context returned %d", resp.StatusCode)
	}

	var hc model.HostContext
	if err := json.NewDecoder(resp.Body).Decode(&hc); err != nil {
		return model.HostContext{}, fmt.Errorf("decode host context: %w", err)
	}
	return hc, nil
}

func (r *Runtime) ShowNotification(title, body string) {
	log.Printf("notification: %s: %s", title, body)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.outbox = append(r.outbox, model.Notification{Title: title, Body: body, CreatedAt: r.now().UTC()})
	if len(r.outbox) > maxOutbox {
		r.outbox = append([]model.Notification(nil), r.outbox[len(r.outbox)-maxOutbox:]...)
	}
}

// Drain returns the queued notifications oldest first and empties the queue.
func (r *Runtime) Drain() []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.outbox
	r.outbox = nil
	if out == nil {
		out = []model.Notification{}
	}
	return out
}
