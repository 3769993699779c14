package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"devguard/internal/auth"
	"devguard/internal/chat"
	"devguard/internal/embedding"
	"devguard/internal/events"
	"devguard/internal/jobs"
	"devguard/internal/server"
	"devguard/internal/store"
	"devguard/internal/watcher"
	"devguard/internal/websocket"
)

var (
	servePort    int
	serveOpen    bool
	serveNoWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat assistant, HTTP API and dashboard",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (default from SERVER_PORT)")
	serveCmd.Flags().BoolVar(&serveOpen, "open", false, "Open the dashboard in a browser")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Disable the background file watcher")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ws := websocket.NewManager()
	logWriter := websocket.NewLogWriter(ws, 100)

	cfg, settings := loadConfig()
	if logFile := setupLogging(cfg, os.Stdout, logWriter); logFile != nil {
		defer logFile.Close()
	}
	if servePort != 0 {
		cfg.ServerPort = servePort
	}

	log.Println("╔════════════════════════════════════════════════════════════════╗")
	log.Println("║             DevGuard - Developer Assistant Service             ║")
	log.Println("║       Licenses • Guidelines • Sustainability • Research        ║")
	log.Println("╚════════════════════════════════════════════════════════════════╝")

	if err := settings.UpdateSettings(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log.Println("✅ Configuration loaded successfully")

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	var producer *events.Producer
	if cfg.Kafka.Enable {
		p := events.NewProducer(events.Config{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: cfg.Kafka.ClientID,
			Async:    true,
		})
		if err := p.Connect(ctx); err != nil {
			log.Printf("⚠️  Kafka unavailable, event streaming disabled: %v", err)
		} else {
			producer = p
			defer producer.Close()
		}
	}

	embedder := embedding.NewManager(embedding.Config{
		APIKey:   cfg.Embedding.APIKey,
		Endpoint: cfg.Embedding.Endpoint,
		Model:    cfg.Embedding.Model,
	})
	reports, err := store.Open(ctx, store.DefaultPath(cfg.DataDir), embedder.Func())
	if err != nil {
		log.Printf("⚠️  Report history disabled: %v", err)
	}

	var fileWatcher *watcher.Watcher
	if cfg.Watcher.Enable && !serveNoWatch {
		fileWatcher, err = watcher.New(cfg.AllowedFileDir, a.registry, cfg.Watcher.Tools, cfg.Watcher.Debounce, cfg.Watcher.QueueSize)
		if err == nil {
			fileWatcher.OnEvent = func(ev watcher.FileEvent) {
				if err := producer.ProduceFileEvent(ctx, ev); err != nil {
					log.Printf("⚠️  Failed to produce file event: %v", err)
				}
			}
			err = fileWatcher.Start(ctx)
		}
		if err != nil {
			log.Printf("⚠️  File watcher disabled: %v", err)
			fileWatcher = nil
		} else {
			defer fileWatcher.Stop()
		}
	}

	jobManager := jobs.NewManager(a.registry, 2, 50)
	defer jobManager.Stop(10 * time.Second)
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				jobManager.Cleanup(24 * time.Hour)
			}
		}
	}()

	srv := server.New(server.Deps{
		Config:    cfg,
		Settings:  settings,
		Registry:  a.registry,
		Assistant: chat.New(a.registry, a.router, cfg.AllowedFileDir, nil),
		Store:     reports,
		Watcher:   fileWatcher,
		Jobs:      jobManager,
		Events:    producer,
		WS:        ws,
		Auth:      auth.NewService(cfg.Auth),
		Version:   Version,
	})

	if serveOpen {
		url := fmt.Sprintf("http://localhost:%d/", cfg.ServerPort)
		go func() {
			time.Sleep(500 * time.Millisecond)
			if err := browser.OpenURL(url); err != nil {
				log.Printf("⚠️  Could not open browser: %v", err)
			}
		}()
	}

	return srv.Start(ctx)
}
