package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/okonma/rendercache/internal/config"
	"github.com/okonma/rendercache/internal/logging"
	"github.com/okonma/rendercache/internal/server"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the render cache HTTP API",
	Long: `Start the HTTP API the browser panel talks to.

The server exposes token creation, render scheduling, cancellation and
status inspection as JSON endpoints, and streams token lifecycle events
over a websocket at /ws.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 0, "port to listen on")
	serveCmd.Flags().String("host", "", "host to bind to")
	serveCmd.Flags().IntP("concurrency", "n", 0, "maximum simultaneous renders")
	serveCmd.Flags().String("executable", "", "render engine executable path")
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("render.concurrency", serveCmd.Flags().Lookup("concurrency"))
	viper.BindPFlag("render.executable_path", serveCmd.Flags().Lookup("executable"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, closeLog := logging.Setup(
		logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format, cfg.Logging.Dir)
	defer closeLog()

	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Start(ctx)
}
