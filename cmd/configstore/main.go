// Command configstore runs the LunchBadger config-store server: the REST
// surface, the Git Smart HTTP endpoint, and the push-event bus (spec §1-6).
// Structured after the teacher's cmd/server/main.go (graceful shutdown via a
// signal channel, component wiring ahead of the listen call), trimmed of the
// DB-migration step and the SSH server goroutine neither of which this spec
// carries.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LunchBadger/configstore/internal/archive"
	"github.com/LunchBadger/configstore/internal/config"
	"github.com/LunchBadger/configstore/internal/configvalidator"
	"github.com/LunchBadger/configstore/internal/eventbus"
	"github.com/LunchBadger/configstore/internal/githttp"
	"github.com/LunchBadger/configstore/internal/notifier"
	"github.com/LunchBadger/configstore/internal/repomanager"
	"github.com/LunchBadger/configstore/internal/transport/http/router"
	"github.com/LunchBadger/configstore/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.Logging.Level,
		Output:      outputFor(cfg.Logging.OutputPath),
		FilePath:    cfg.Logging.OutputPath,
		Format:      cfg.Logging.Format,
		Development: cfg.IsDevelopment(),
		AddCaller:   true,
		CallerSkip:  1,
	}); err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Close()

	log := logger.Get().WithFields(logger.Component("main"))

	if err := os.MkdirAll(cfg.Repos.Root, 0755); err != nil {
		log.Error("creating repos root", logger.Error(err))
		os.Exit(1)
	}

	repos := repomanager.New(cfg.Repos.Root)
	bus := eventbus.New()
	validator := configvalidator.New()

	if cfg.Webhook.Enabled {
		notifier.Subscribe(bus, notifier.New(notifier.Config{
			URL:    cfg.Webhook.URL,
			Secret: cfg.Webhook.Secret,
		}))
	}

	if cfg.Archive.Enabled {
		if _, err := archive.New(context.Background(), archive.Config{
			Bucket:       cfg.Archive.Bucket,
			Region:       cfg.Archive.Region,
			Endpoint:     cfg.Archive.Endpoint,
			UsePathStyle: cfg.Archive.Endpoint != "",
			Prefix:       cfg.Archive.Prefix,
		}); err != nil {
			log.Error("initializing archive, continuing without it", logger.Error(err))
		}
	}

	gitHandler := githttp.New(repos, bus, githttp.Config{
		AuthOnPrivateNetworks: cfg.Git.AuthOnPrivateNetworks,
	})

	engine := router.New(repos, bus, validator, gitHandler, cfg.Server.AllowedOrigins)

	srv := &http.Server{
		Addr:    cfg.Server.Address(),
		Handler: engine,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("starting server", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", logger.Error(err))
		}
	}()

	<-done
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", logger.Error(err))
	}
}

func outputFor(path string) logger.OutputType {
	if path == "" || path == "stdout" || path == "stderr" {
		return logger.OutputConsole
	}
	return logger.OutputFile
}
