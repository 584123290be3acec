package main

import (
	"context"
	"errors"
	"flag"
	"fragloadd/internal/api"
	"fragloadd/internal/cache"
	"fragloadd/internal/config"
	"fragloadd/internal/events"
	"fragloadd/internal/fragloader"
	"fragloadd/internal/loader"
	_ "fragloadd/internal/loader/fileloader"
	_ "fragloadd/internal/loader/httploader"
	"fragloadd/internal/logger"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	// 1. Parse command-line arguments
	configFile := flag.String("c", "fragloadd.yaml", "Path to the config file")
	listenAddr := flag.String("l", "", "HTTP listen address (overrides the config file)")
	logLevel := flag.String("L", "", "Log level (error, warn, info, debug), overrides the config file")
	flag.Parse()

	// 2. Load configuration
	settings := config.Default()
	watchConfig := false
	if _, err := os.Stat(*configFile); err == nil {
		settings, err = config.LoadConfig(*configFile)
		if err != nil {
			logger.NewLogger("error").Errorf("Failed to load configuration: %v", err)
			os.Exit(1)
		}
		watchConfig = true
	}
	if *listenAddr != "" {
		settings.Listen = *listenAddr
	}
	if *logLevel != "" {
		settings.LogLevel = *logLevel
	}

	// 3. Initialize logger
	log := logger.NewLogger(settings.LogLevel)
	log.Infof("Starting fragment loader...")
	log.Infof("Log level set to: %s", settings.LogLevel)
	if !watchConfig {
		log.Infof("Config file %s not found, using defaults", *configFile)
	}
	if err := checkLoader(settings); err != nil {
		log.Errorf("Invalid loader configuration: %v (available: %v)", err, loader.Names())
		os.Exit(1)
	}

	// 4. Initialize services
	store := config.NewStore(settings)
	bus := events.NewBus(log.Named("bus"))
	segCache := cache.New(log.Named("cache"), settings.CacheTTL)
	coordinator := fragloader.New(log.Named("fragment-loader"), store, loader.NewFactory(log.Named("loader")), bus)
	coordinator.Attach(bus)

	bus.Subscribe(events.FragLoaded, segCache.HandleLoaded)
	bus.Subscribe(events.FragSkipped, func(n events.Notification) {
		log.Infof("Skipped %s", n.Frag)
	})
	bus.Subscribe(events.FragLoadProgress, func(n events.Notification) {
		log.Debugf("Progress %s: %d bytes", n.Frag, n.Stats.Loaded)
	})

	segCache.Start()

	var watcher *config.Watcher
	if watchConfig {
		var err error
		watcher, err = config.NewWatcher(log.Named("config"), *configFile, store, func(s *config.Settings) {
			if l, ok := log.(*logger.HclogLogger); ok {
				l.SetLevel(s.LogLevel)
			}
		})
		if err != nil {
			log.Warnf("Configuration hot reload disabled: %v", err)
		} else {
			watcher.Check = checkLoader
			watcher.Start()
		}
	}

	// 5. Set up API router with dependencies
	router := api.New(bus, coordinator, segCache)

	// 6. Set up and run the HTTP server with graceful shutdown
	server := &http.Server{
		Addr:    settings.Listen,
		Handler: router,
	}

	go func() {
		log.Infof("Server starting on %s", settings.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Could not listen on %s: %v", settings.Listen, err)
			os.Exit(1)
		}
	}()

	// Listen for shutdown signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Infof("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Server shutdown failed: %v", err)
	}

	// Stop background services
	coordinator.Shutdown()
	segCache.Stop()
	if watcher != nil {
		watcher.Stop()
	}

	log.Infof("Server exited gracefully")
}

// checkLoader verifies that the loader selected by s is registered.
func checkLoader(s *config.Settings) error {
	_, err := loader.Lookup(loader.Name(s.LoadSettings()))
	return err
}
