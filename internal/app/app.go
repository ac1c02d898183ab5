package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Joseda-hg/taskwatch/internal/config"
	"github.com/Joseda-hg/taskwatch/internal/db"
	"github.com/Joseda-hg/taskwatch/internal/detect"
	"github.com/Joseda-hg/taskwatch/internal/embedding"
	"github.com/Joseda-hg/taskwatch/internal/host"
	"github.com/Joseda-hg/taskwatch/internal/inference"
	"github.com/Joseda-hg/taskwatch/internal/model"
	"github.com/Joseda-hg/taskwatch/internal/profile"
	"github.com/Joseda-hg/taskwatch/internal/reminders"
	"github.com/Joseda-hg/taskwatch/internal/tasks"
	"github.com/Joseda-hg/taskwatch/internal/tui"
	"github.com/Joseda-hg/taskwatch/internal/web"
)

const (
	probeInterval   = time.Minute
	probeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// App holds every long-lived component of a taskwatch process.
type App struct {
	cfg config.Config
	db  *sql.DB

	Runtime   *host.Runtime
	Bus       *host.Bus
	Tasks     *tasks.Service
	Reminders *reminders.Service
	Profile   *profile.Store
	Fast      *inference.FastClient
	Pipeline  *detect.Pipeline
	Web       *web.Server
}

func New(cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sqlDB, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	kv := db.NewKVStore(sqlDB)
	items := db.NewItemStore(sqlDB, embedder)
	runtime := host.NewRuntime(cfg.Host.ContextURL)
	bus := host.NewBus()
	taskService := tasks.NewService(items, runtime)
	reminderService := reminders.NewService(kv, taskService, runtime, cfg.Reminders.SnoozeOffset)
	profileStore := profile.NewStore(kv)
	fast := inference.NewFastClient(cfg.Inference.FastURL, cfg.Inference.FastModel)
	precise := inference.NewPreciseClient(cfg.Inference.PreciseURL, cfg.Inference.PreciseModel)

	pipeline := detect.NewPipeline(cfg.Detection, detect.Deps{
		Context:    runtime,
		Names:      profileStore,
		Fast:       fast,
		Precise:    precise,
		Duplicates: detect.NewDuplicateChecker(items, tasks.Table, cfg.Detection.DuplicateThreshold),
		Tasks:      taskService,
	})

	server := web.NewServer(web.Deps{
		Tasks:          taskService,
		Reminders:      reminderService,
		Profile:        profileStore,
		Runtime:        runtime,
		Bus:            bus,
		AllowedOrigins: cfg.Web.AllowedOrigins,
	})

	return &App{
		cfg:       cfg,
		db:        sqlDB,
		Runtime:   runtime,
		Bus:       bus,
		Tasks:     taskService,
		Reminders: reminderService,
		Profile:   profileStore,
		Fast:      fast,
		Pipeline:  pipeline,
		Web:       server,
	}, nil
}

func newEmbedder(cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	var base embedding.Embedder
	switch cfg.Provider {
	case "hash":
		base = embedding.NewHashEmbedder(0)
	default:
		base = embedding.NewOllamaClient(embedding.WithURL(cfg.URL), embedding.WithModel(cfg.Model))
	}
	if cfg.CacheSize <= 0 {
		return base, nil
	}
	cached, err := embedding.NewCached(base, cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return cached, nil
}

// Load reads the persisted task list and reminders. A broken reminder
// collection is logged and left unloaded, so reminder writes fail until fixed.
func (a *App) Load(ctx context.Context) error {
	if err := a.Tasks.Load(ctx); err != nil {
		return err
	}
	if err := a.Reminders.Load(ctx); err != nil {
		log.Printf("[WARN] reminders: load: %v", err)
	}
	return nil
}

// Start loads persisted state and subscribes the capture handler. It does not
// block.
func (a *App) Start(ctx context.Context) error {
	if err := a.Load(ctx); err != nil {
		return err
	}

	a.Bus.OnContext(func(ctx context.Context, hc model.HostContext) {
		task, added, err := a.Tasks.Capture(ctx, hc)
		if err != nil {
			log.Printf("[WARN] capture: %v", err)
			return
		}
		if added {
			log.Printf("captured task %s", task.ID)
		}
	})
	return nil
}

// Run starts the app and blocks until ctx is cancelled, the web server fails,
// or the TUI exits.
func (a *App) Run(ctx context.Context, withTUI bool) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Detection.Enabled {
		g.Go(func() error {
			a.subscribeDetection(ctx)
			return nil
		})
	}

	g.Go(func() error {
		a.Reminders.Run(ctx, a.cfg.Reminders.CheckInterval)
		return nil
	})

	if a.cfg.Web.Enabled {
		g.Go(func() error {
			return a.serveWeb(ctx)
		})
	}

	if withTUI {
		uiCtx, cancel := context.WithCancel(ctx)
		g.Go(func() error {
			// Leaving the TUI ends the whole process.
			defer cancel()
			if err := tui.Run(uiCtx, tui.Deps{Tasks: a.Tasks, Reminders: a.Reminders, Profile: a.Profile}); err != nil {
				return err
			}
			return errTUIClosed
		})
	}

	err := g.Wait()
	if errors.Is(err, errTUIClosed) {
		return nil
	}
	return err
}

var errTUIClosed = errors.New("tui closed")

// subscribeDetection waits for the fast inference server and then attaches the
// pipeline to foreground checks. Without a healthy server no samples are
// classified.
func (a *App) subscribeDetection(ctx context.Context) {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		if a.probeFast(ctx) {
			a.Bus.OnPeriodicForegroundAppCheck(a.Pipeline.HandleForeground)
			log.Printf("detection enabled for %v", a.cfg.Detection.Apps)
			return
		}
		log.Printf("[WARN] detect: fast inference server at %s is not healthy, retrying in %s", a.cfg.Inference.FastURL, probeInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *App) probeFast(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return a.Fast.Healthy(ctx)
}

func (a *App) serveWeb(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(a.cfg.Web.Bind, strconv.Itoa(a.cfg.Web.Port)),
		Handler:           a.Web.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Web server running at http://%s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web shutdown: %w", err)
	}
	return nil
}

// Close stops bus deliveries and closes the database.
func (a *App) Close() error {
	a.Bus.Close()
	return a.db.Close()
}
