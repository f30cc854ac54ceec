package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"syscall"
	"time"

	"github.com/casualjim/garden/config"
	"github.com/casualjim/garden/history"
	"github.com/casualjim/garden/internal/broker"
	"github.com/casualjim/garden/internal/console"
	"github.com/casualjim/garden/internal/server"
	"github.com/casualjim/garden/pkg/natsx"
	"github.com/casualjim/garden/pkg/slogx"
	"github.com/casualjim/garden/registry"
	"github.com/casualjim/garden/router"
	"github.com/casualjim/garden/session"
	"github.com/casualjim/garden/turn"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:          "garden",
		Short:        "Chat with Gemini, OpenAI, Anthropic and Perplexity models",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(chatCommand(), serveCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func chatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("user")
			app, err := wire(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			c, err := console.New(app.ctrl, app.models, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return c.Run(cmd.Context(), turn.User(name), cmd.InOrStdin())
		},
	}
	cmd.Flags().StringP("user", "u", currentUser(), "user the chat history belongs to, empty disables history")
	return cmd
}

func serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := wire(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = app.cfg.HTTPAddr
			}
			events, closeEvents, err := openEvents(app.cfg)
			if err != nil {
				return err
			}
			defer closeEvents()
			handler, err := server.New(app.ctrl, app.models, server.WithEvents(events))
			if err != nil {
				return err
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				slog.Info("listening", slogx.LoggerName("garden"), slog.String("addr", addr))
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			slog.Info("shutting down", slogx.LoggerName("garden"))
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().String("addr", "", "listen address, overrides HTTP_ADDR")
	return cmd
}

// openEvents returns the broker session events fan out on.
func openEvents(cfg *config.Config) (broker.Broker[server.Event], func(), error) {
	switch cfg.EventsBackend {
	case "", "local":
		return broker.Local[server.Event](), func() {}, nil
	case "nats":
		nc, err := natsx.Connect(cfg.NATSURL)
		if err != nil {
			return nil, nil, fmt.Errorf("events: %w", err)
		}
		return broker.NATS[server.Event](nc), nc.Close, nil
	default:
		return nil, nil, fmt.Errorf("events: unknown backend %q", cfg.EventsBackend)
	}
}

type app struct {
	cfg      *config.Config
	models   *registry.Registry
	ctrl     *turn.Controller
	backend  history.Backend
	sessions session.Store
}

// wire builds the whole stack from the environment.
func wire(ctx context.Context) (*app, error) {
	cfg, err := config.FromEnvironment()
	if err != nil {
		return nil, err
	}
	slogx.Setup(os.Stderr, cfg.LogLevel)

	for id, cred := range cfg.Credentials {
		if !cfg.Configured(id) {
			slog.Warn("credential not set, its models will answer with an error", slogx.LoggerName("garden"), slog.String("env", cred.Name))
		}
	}

	adapters, err := cfg.Providers()
	if err != nil {
		return nil, err
	}
	models, err := registry.NewDefault(adapters...)
	if err != nil {
		return nil, err
	}

	backend := history.OpenOrDisable(ctx, cfg.History)
	hist, err := history.NewStore(backend)
	if err != nil {
		return nil, errors.Join(err, closeBackend(backend))
	}

	sessions, err := session.Open(ctx, cfg.SessionBackend, cfg.RedisURL)
	if err != nil {
		return nil, errors.Join(err, closeBackend(backend))
	}

	ctrl, err := turn.New(sessions, hist, router.New(models), models,
		turn.WithDefaultTemperature(cfg.DefaultTemperature),
	)
	if err != nil {
		return nil, errors.Join(err, sessions.Close(), closeBackend(backend))
	}

	slog.Debug("wired",
		slogx.LoggerName("garden"),
		slog.String("history", cfg.History.Kind),
		slog.String("sessions", cfg.SessionBackend),
		slog.Int("models", len(models.Keys())),
	)
	return &app{cfg: cfg, models: models, ctrl: ctrl, backend: backend, sessions: sessions}, nil
}

func (a *app) Close() {
	if err := errors.Join(a.sessions.Close(), closeBackend(a.backend)); err != nil {
		slog.Warn("close", slogx.LoggerName("garden"), slogx.Error(err))
	}
}

func closeBackend(b history.Backend) error {
	if b == nil {
		return nil
	}
	return b.Close()
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
