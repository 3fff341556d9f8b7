package cli

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ant0nioSouza/callguard/internal/app"
	"github.com/Ant0nioSouza/callguard/internal/config"
)

var (
	serveHTTP   string
	serveGRPC   string
	serveDevice string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and gRPC health server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if serveHTTP != "" {
			cfg.HTTPAddr = serveHTTP
		}
		if serveGRPC != "" {
			cfg.GRPCAddr = serveGRPC
		}
		if serveDevice != "" {
			cfg.AudioDevice = serveDevice
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		engine, err := app.Build(ctx, cfg)
		if err != nil {
			return err
		}
		defer engine.Close()

		log.Printf("🛡️  callguard %s serving", version)
		return engine.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHTTP, "http", "", "HTTP listen address (overrides HTTP_ADDR)")
	serveCmd.Flags().StringVar(&serveGRPC, "grpc", "", "gRPC listen address (overrides GRPC_ADDR)")
	serveCmd.Flags().StringVar(&serveDevice, "device", "", "Audio device: simulated, file:<path> or none")
}
