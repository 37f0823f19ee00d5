package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"gopkg.in/natefinch/lumberjack.v2"

	"vodstream/api"
	"vodstream/config"
	"vodstream/handlers"
	"vodstream/services/scheduler"
	"vodstream/services/vod"
)

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	fmt.Println("🚀 vodstream Backend Starting...")

	// Determine config path (env or default)
	configPath := os.Getenv("VODSTREAM_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	// Init config manager and load settings (creates defaults if missing)
	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			// Redirect standard log to both console and file
			multiWriter := io.MultiWriter(os.Stdout, fileWriter)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	// Apply port override if specified
	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	// Build the engine facade. Script and module runtimes are wired by
	// embedding applications; the standalone server runs json and xpath
	// sites only.
	vodService, err := vod.NewService(cfgManager, vod.Options{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to initialise engine: %v", err)
	}
	log.Printf("[main] engine ready with %d configured site(s)", len(vodService.Sites()))

	// Start the background maintenance scheduler
	schedulerService := scheduler.NewService(cfgManager, vodService, vodService)
	if err := schedulerService.Start(context.Background()); err != nil {
		log.Printf("Warning: failed to start scheduler: %v", err)
	}

	// Construct router and register routes
	r := mux.NewRouter()
	api.Register(
		r,
		handlers.NewContentHandler(vodService),
		handlers.NewSitesHandler(vodService),
		handlers.NewStatsHandler(vodService),
		handlers.NewSettingsHandler(cfgManager, vodService),
		handlers.NewScheduledTasksHandler(cfgManager, schedulerService),
	)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	fmt.Printf("Server starting on %s\n", addr)

	// Create HTTP server with timeouts. Write timeout stays off so a slow
	// aggregate search can keep streaming result lines.
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Setup graceful shutdown
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("🛑 Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := schedulerService.Stop(shutdownCtx); err != nil {
		log.Printf("Scheduler shutdown error: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
