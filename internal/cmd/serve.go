package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wayneos/wayned/internal/config"
	"github.com/wayneos/wayned/internal/distribution"
	"github.com/wayneos/wayned/internal/interpreter"
	"github.com/wayneos/wayned/internal/kernel"
	"github.com/wayneos/wayned/internal/orchestrator"
	"github.com/wayneos/wayned/internal/session"
	"github.com/wayneos/wayned/internal/transport"
)

var (
	serveListen string
	serveKernel string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session daemon",
	Long: `Run the session daemon.

Every WebSocket connection on /ws gets its own kernel process, started with the
distribution named by the "distribution" query parameter (or the configured
default). Session records are kept in ~/.wayned/sessions.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (overrides server.listen)")
	serveCmd.Flags().StringVar(&serveKernel, "kernel", "", "kernel binary (overrides kernel.binary)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}
	if serveKernel != "" {
		cfg.Kernel.Binary = serveKernel
	}

	store, err := session.NewStore()
	if err != nil {
		return fmt.Errorf("failed to access session store: %w", err)
	}

	if cfg.Interpreter.APIKey == "" {
		logger.Warn("no interpreter API key configured, every command will be answered with an error")
	}
	interp := interpreter.New(interpreterConfig(cfg), logger)

	srv := transport.NewServer(sessionFactory(cfg, interp, store), transport.Options{
		AuthToken:    cfg.Server.AuthToken,
		Distribution: cfg.DefaultDistribution(),
		WriteTimeout: cfg.Server.WriteTimeout,
		PingInterval: cfg.Server.PingInterval,
		Version:      Version,
		Logger:       logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("wayned listening",
			zap.String("addr", cfg.Server.Listen),
			zap.String("version", Version),
			zap.Bool("auth", cfg.Server.AuthToken != ""))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", zap.Int("sessions", srv.ActiveSessions()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)

		// Disconnect every session so each kernel is terminated.
		srv.Shutdown()
		return err
	})

	return g.Wait()
}

func interpreterConfig(cfg *config.Config) interpreter.Config {
	return interpreter.Config{
		Provider:  cfg.Interpreter.Provider,
		APIKey:    cfg.Interpreter.APIKey,
		Model:     cfg.Interpreter.Model,
		MaxTokens: cfg.Interpreter.MaxTokens,
		Timeout:   cfg.Interpreter.Timeout,
	}
}

// sessionFactory builds one orchestrator and one kernel manager per
// connection. The interpreter client and the store are shared.
func sessionFactory(cfg *config.Config, interp *interpreter.Client, store *session.Store) transport.Factory {
	kcfg := kernel.Config{
		Binary:      cfg.Kernel.Binary,
		Args:        cfg.Kernel.Args,
		Dir:         cfg.Kernel.Dir,
		Env:         cfg.Kernel.Env,
		KillTimeout: cfg.Kernel.KillTimeout,
	}
	policy := orchestrator.CrashPolicy{
		MaxRestarts: cfg.Session.Crash.MaxRestarts,
		Window:      cfg.Session.Crash.Window,
		BaseDelay:   cfg.Session.Crash.BaseDelay,
		MaxDelay:    cfg.Session.Crash.MaxDelay,
		Multiplier:  cfg.Session.Crash.Multiplier,
	}

	return func(conn *transport.Conn, dist distribution.Distribution, remoteAddr string) transport.Handler {
		return orchestrator.New(conn, interp, kernel.NewManager(kcfg, logger), dist,
			orchestrator.WithLogger(logger),
			orchestrator.WithRecorder(store),
			orchestrator.WithRemoteAddr(remoteAddr),
			orchestrator.WithTimings(cfg.Kernel.Grace, cfg.Kernel.Settle),
			orchestrator.WithQueueSize(cfg.Session.QueueSize),
			orchestrator.WithCrashPolicy(policy),
		)
	}
}
