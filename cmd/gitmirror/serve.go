package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gitmirror/gitmirror/internal/config"
	"github.com/gitmirror/gitmirror/internal/gitee"
	"github.com/gitmirror/gitmirror/internal/github"
	"github.com/gitmirror/gitmirror/internal/httpapi"
	"github.com/gitmirror/gitmirror/internal/storage/sqlite"
	syncengine "github.com/gitmirror/gitmirror/internal/sync"
)

var (
	listenAddr string
	logPath    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	Long: `Start the HTTP server that receives Gitee and GitHub webhook deliveries,
mirrors issues and comments across paired repositories, and serves the
repository-mapping admin API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("listen") {
			listenAddr = config.GetString("listen")
		}
		if !cmd.Flags().Changed("log") {
			logPath = config.GetString("log")
		}

		cfg := config.Load()
		cfg.ListenAddr = listenAddr
		cfg.LogPath = logPath
		if dbPath != "" {
			cfg.DBPath = dbPath
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		return runServer(cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (default: :8080)")
	serveCmd.Flags().StringVar(&logPath, "log", "", "Log file path with rotation (default: stderr)")
	rootCmd.AddCommand(serveCmd)
}

func runServer(cfg *config.ServiceConfig) error {
	logger := newServerLogger(cfg.LogPath)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open mapping database: %w", err)
	}
	defer func() { _ = store.Close() }()

	giteeClient := gitee.NewClient(gitee.Config{
		Token:         cfg.GiteeToken,
		APIBaseURL:    cfg.GiteeAPIBaseURL,
		WebhookSecret: cfg.GiteeWebhookSecret,
		Timeout:       cfg.RequestTimeout,
	})
	githubClient := github.NewClient(github.Config{
		Token:         cfg.GitHubToken,
		APIBaseURL:    cfg.GitHubAPIBaseURL,
		WebhookSecret: cfg.GitHubWebhookSecret,
		Timeout:       cfg.RequestTimeout,
	})

	engine := syncengine.NewEngine(store, giteeClient, githubClient)
	server := httpapi.NewServer(cfg.ListenAddr, engine, store, cfg.AdminPassword, Version, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if configFile := config.ConfigFileUsed(); configFile != "" {
		go watchConfig(ctx, configFile, logger, func() {
			reloaded := config.Load()
			giteeClient.UpdateWebhookSecret(reloaded.GiteeWebhookSecret)
			githubClient.UpdateWebhookSecret(reloaded.GitHubWebhookSecret)
			server.SetAdminPassword(reloaded.AdminPassword)
		})
	}

	logger.Printf("gitmirror %s starting, db=%s", Version, cfg.DBPath)
	return server.Start(ctx)
}

// newServerLogger returns a logger writing to a size-rotated file when a path
// is configured, or stderr otherwise.
func newServerLogger(logPath string) *log.Logger {
	var w io.Writer = os.Stderr
	if logPath != "" {
		w = &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	return log.New(w, "", log.LstdFlags)
}

// watchConfig watches the config file and calls apply after each change.
// The parent directory is watched rather than the file itself because most
// editors and config rollouts replace the file by rename, which drops a
// direct file watch.
func watchConfig(ctx context.Context, configFile string, logger *log.Logger, apply func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Printf("config watch disabled: %v", err)
		return
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(configFile)
	if err := watcher.Add(dir); err != nil {
		logger.Printf("config watch disabled: failed to watch %s: %v", dir, err)
		return
	}

	target := filepath.Clean(configFile)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := config.Reload(); err != nil {
				logger.Printf("config reload failed: %v", err)
				continue
			}
			apply()
			logger.Printf("config reloaded from %s", configFile)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Printf("config watch error: %v", err)
		}
	}
}
