package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evalphobia/logrus_sentry"
	"github.com/sirupsen/logrus"

	parley "github.com/parleyhq/parley"
	"github.com/parleyhq/parley/auth"
	"github.com/parleyhq/parley/store"
	"github.com/parleyhq/parley/webchat"
)

func main() {
	config := parley.LoadConfig("parley.toml")

	// configure our logger
	logrus.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level '%s'", config.LogLevel)
	}
	logrus.SetLevel(level)

	// if we have a DSN entry, try to initialize it
	if config.SentryDSN != "" {
		hook, err := logrus_sentry.NewSentryHook(config.SentryDSN, []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel})
		if err != nil {
			logrus.Fatalf("Invalid sentry DSN: '%s': %s", config.SentryDSN, err)
		}
		hook.Timeout = 0
		hook.StacktraceConfiguration.Enable = true
		hook.StacktraceConfiguration.Skip = 4
		hook.StacktraceConfiguration.Context = 5
		logrus.StandardLogger().Hooks.Add(hook)
	}

	ctx := context.Background()
	db, err := store.Connect(ctx, config.DB, config.HistoryLimit)
	if err != nil {
		logrus.Fatalf("Error connecting to database: %s", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logrus.Fatalf("Error creating schema: %s", err)
	}

	tokens := auth.NewTokenManager(config.JWTSecret, config.Domain)
	authService := auth.NewService(auth.NewRepository(db.Pool()), auth.NewPasswordHasher(), tokens)

	hub := webchat.NewHub()
	rooms := webchat.NewRoomAPI(hub, db, authService)

	server := parley.NewServer(config)
	server.Router().Get("/", webchat.Index(config.Version))
	server.Router().Get("/ping", webchat.Ping(time.Now()))
	server.Router().Post("/register", auth.RegisterHandler(authService))
	server.Router().Post("/login", auth.LoginHandler(authService))
	server.Router().Get("/rooms", rooms.List)
	server.Router().Post("/rooms", rooms.Create)
	server.Router().Get("/rooms/{roomID}", rooms.Get)
	server.Router().Delete("/rooms/{roomID}", rooms.Delete)
	server.Router().Get("/ws", webchat.ServeWS(hub, db, authService, config.HistoryLimit))

	err = server.Start()
	if err != nil {
		logrus.Fatalf("Error starting server: %s", err)
	}

	// stop server on signal received
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	logrus.WithField("comp", "main").WithField("signal", <-ch).Info("stopping")
	server.Stop()
}
