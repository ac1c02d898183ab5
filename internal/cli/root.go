package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Joseda-hg/taskwatch/internal/app"
	"github.com/Joseda-hg/taskwatch/internal/config"
)

type options struct {
	configPath string
	dbPath     string
}

// NewRootCmd builds the taskwatch command tree. Running it without a
// subcommand opens the TUI with detection and the web API in the background.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "taskwatch",
		Short: "Local TODO list that picks up tasks assigned to you on screen",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd.Context(), opts, true, 0)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file path")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "sqlite db path")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newTUICmd(opts))
	root.AddCommand(newAddCmd(opts))
	root.AddCommand(newListCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	root.AddCommand(newNameCmd(opts))
	root.AddCommand(newRemindCmd(opts))
	return root
}

// Execute runs the root command and prints any error to stderr.
func Execute(ctx context.Context) error {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// loadConfig resolves the config file and fills in the db path next to it. A
// first run writes the defaults so there is an editable file; flags and
// TASKWATCH_* variables only apply to the current run.
func loadConfig(opts *options) (config.Config, error) {
	cfgPath := opts.configPath
	if cfgPath == "" {
		var err error
		cfgPath, err = config.DefaultConfigPath()
		if err != nil {
			return config.Config{}, err
		}
	}
	defaultDBPath := filepath.Join(filepath.Dir(cfgPath), "taskwatch.db")

	if err := config.WriteDefault(cfgPath, defaultDBPath); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, err
	}

	if opts.dbPath != "" {
		cfg.DBPath = opts.dbPath
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}
	if err := config.EnsureDir(cfg.DBPath); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// withApp opens the stores, loads persisted state and hands the app to fn.
func withApp(ctx context.Context, opts *options, fn func(*app.App) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Load(ctx); err != nil {
		return err
	}
	return fn(a)
}

func runApp(ctx context.Context, opts *options, withTUI bool, port int) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Web.Port = port
		cfg.Web.Enabled = true
	}

	if withTUI {
		// Log lines would draw over the panels.
		logFile, err := os.OpenFile(filepath.Join(filepath.Dir(cfg.DBPath), "taskwatch.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer logFile.Close()
		log.SetOutput(logFile)
		defer log.SetOutput(os.Stderr)
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Run(ctx, withTUI)
}
