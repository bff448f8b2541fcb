package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/averros/scanstage/internal/config"
	"github.com/averros/scanstage/internal/home"
	"github.com/averros/scanstage/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scanstage server",
	Long: `Start the scanstage HTTP server.

The server opens the SQLite store inside the home directory, loads the
assessment spec, and processes uploaded bundles in the background.

The server provides:
  - /health - Basic server health check
  - /ready  - Readiness check (includes database status)

Examples:
  scanstage serve                    # Start on default port 8415
  scanstage serve --port 3000        # Start on custom port
  scanstage serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Set up logger
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		// Get home directory
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		// Write a default config on first run so operators have a file to edit
		if cfgFile == "" && !h.ConfigExists() {
			if err := config.WriteDefault(h.ConfigPath()); err != nil {
				return err
			}
			logger.Info("wrote default config", "path", h.ConfigPath())
		}

		cfgPath := cfgFile
		if cfgPath == "" {
			cfgPath = h.ConfigPath()
		}
		mgr, err := config.NewManager(cfgPath)
		if err != nil {
			return err
		}
		mgr.WatchConfig()

		host := serveHost
		if host == "" {
			host = mgr.Get().Server.Host
		}
		port := servePort
		if port == "" {
			port = mgr.Get().Server.Port
		}

		srv, err := server.New(server.Config{
			Host:          host,
			Port:          port,
			Home:          h,
			ConfigManager: mgr,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default from config)")

	rootCmd.AddCommand(serveCmd)
}
