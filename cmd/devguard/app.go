package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"devguard/internal/config"
	"devguard/internal/inference"
	"devguard/internal/registry"
	"devguard/internal/router"
	"devguard/internal/toolkit"
)

// app holds the components every command needs
type app struct {
	cfg      *config.Config
	toolkit  *toolkit.Toolkit
	registry *registry.Registry
	router   *router.Router
}

// loadConfig reads the environment and applies settings saved from the
// dashboard on top
func loadConfig() (*config.Config, *config.SettingsManager) {
	cfg := config.Load()
	settings := config.NewSettingsManager(cfg)
	saved := filepath.Join(cfg.DataDir, config.SettingsFileName)
	if _, err := os.Stat(saved); err == nil {
		if err := settings.LoadFromFile(saved); err != nil {
			log.Printf("⚠️  Ignoring saved settings %s: %v", saved, err)
		} else {
			log.Printf("✅ Loaded saved settings from %s", saved)
		}
	}
	return settings.GetSettings(), settings
}

func newApp(cfg *config.Config) (*app, error) {
	tk, err := toolkit.New(cfg)
	if err != nil {
		return nil, err
	}
	reg, err := tk.Registry(cfg.ToolMetadataDir)
	if err != nil {
		return nil, err
	}

	llm, err := inference.NewServiceFromConfig(cfg, cfg.Router.Provider, cfg.Router.Model)
	if err != nil {
		log.Printf("⚠️  Router model unavailable (%v), using keyword routing only", err)
	}
	return &app{
		cfg:      cfg,
		toolkit:  tk,
		registry: reg,
		router:   router.New(reg, llm),
	}, nil
}

// setupConsole picks the log console for one-shot commands, which keep
// stdout for their report and only log with --verbose
func setupConsole() io.Writer {
	if verbose {
		return os.Stderr
	}
	return io.Discard
}

func cliApp() (*app, error) {
	cfg := config.Load()
	setupLogging(cfg, setupConsole())
	return newApp(cfg)
}

// run executes one tool and prints its text
func (a *app) run(ctx context.Context, out io.Writer, toolID, path string, opts registry.Options) (*registry.Result, error) {
	if tool, ok := a.registry.Get(toolID); ok && !tool.TakesTopic() {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("path not found: %s", path)
		}
	}
	res, err := a.registry.Run(ctx, toolID, path, opts)
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(out, res.Text)
	return res, nil
}
