// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Ant0nioSouza/callguard/internal/app"
	"github.com/Ant0nioSouza/callguard/internal/config"
)

func main() {
	fmt.Println("🛡️  CallGuard Server")
	fmt.Println("===================")

	// Carrega .env
	if !config.LoadDotenv() {
		log.Println("⚠️  No .env file found, using environment variables")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("📡 Connecting to backends...")
	engine, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ Failed to start: %v", err)
	}
	defer engine.Close()

	if cfg.DatabaseURL == "" {
		fmt.Println("ℹ️  DATABASE_URL not set, ended calls are kept in memory only")
	}
	if len(cfg.KafkaBrokers) == 0 {
		fmt.Println("ℹ️  KAFKA_BROKERS not set, notifications go to the log")
	}
	fmt.Printf("🎙️  Audio device: %s\n", cfg.AudioDevice)
	fmt.Printf("🔐 OTP protection: %v\n", cfg.OTPProtection)
	fmt.Println("🚀 Server ready! Press Ctrl+C to stop")

	if err := engine.Run(ctx); err != nil {
		log.Printf("❌ Server error: %v", err)
	}
	fmt.Println("👋 Bye")
}
