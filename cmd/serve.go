package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/calderon/ventasync/internal/api"
	"github.com/calderon/ventasync/internal/store"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the sync HTTP server",
	GroupID: "server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := api.LoadConfig()
		if dbPath != "" {
			cfg.DBPath = dbPath
		}
		if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
			cfg.ListenAddr = addr
		}

		setupLogger(cfg)

		st, err := store.Open(cfg.DBPath)
		if err != nil {
			slog.Error("open database", "err", err)
			os.Exit(1)
		}
		defer st.Close()

		srv, err := api.NewServer(cfg, st)
		if err != nil {
			slog.Error("create server", "err", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := srv.Start(); err != nil {
			slog.Error("start server", "err", err)
			os.Exit(1)
		}
		slog.Info("server started", "addr", cfg.ListenAddr, "db", cfg.DBPath)

		<-ctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown", "err", err)
		}
		return nil
	},
}

func setupLogger(cfg api.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.LogFormat) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "listen address (default: from VENTASYNC_LISTEN_ADDR or :8080)")
}
