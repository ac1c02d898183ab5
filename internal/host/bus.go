package host

import (
	"context"
	"sync"

	"github.com/Joseda-hg/taskwatch/internal/model"
)

type ContextHandler func(ctx context.Context, hc model.HostContext)

type ForegroundHandler func(ctx context.Context, window model.FocusedWindow)

// Bus fans host events out to subscribers. Every handler invocation runs on its
// own goroutine so a slow pipeline run never blocks the publisher.
type Bus struct {
	mu         sync.RWMutex
	nextID     int
	onContext  map[int]ContextHandler
	foreground map[int]ForegroundHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		onContext:  make(map[int]ContextHandler),
		foreground: make(map[int]ForegroundHandler),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// OnContext subscribes to context pushes. Call the returned func to unsubscribe.
func (b *Bus) OnContext(fn ContextHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.onContext[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.onContext, id)
		b.mu.Unlock()
	}
}

func (b *Bus) OnPeriodicForegroundAppCheck(fn ForegroundHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.foreground[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.foreground, id)
		b.mu.Unlock()
	}
}

func (b *Bus) PublishContext(hc model.HostContext) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.ctx.Err() != nil {
		return 0
	}
	for _, fn := range b.onContext {
		b.wg.Add(1)
		go func(fn ContextHandler) {
			defer b.wg.Done()
			fn(b.ctx, hc)
		}(fn)
	}
	return len(b.onContext)
}

func (b *Bus) PublishForeground(window model.FocusedWindow) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.ctx.Err() != nil {
		return 0
	}
	for _, fn := range b.foreground {
		b.wg.Add(1)
		go func(fn ForegroundHandler) {
			defer b.wg.Done()
			fn(b.ctx, window)
		}(fn)
	}
	return len(b.foreground)
}

// Wait blocks until every handler started so far has returned.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Close cancels the context handed to running handlers, stops further
// dispatch and waits for in-flight handlers.
func (b *Bus) Close() {
	b.mu.Lock()
	b.cancel()
	b.mu.Unlock()
	b.wg.Wait()
}
