package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ant0nioSouza/callguard/internal/config"
	"github.com/Ant0nioSouza/callguard/internal/mq"
	"github.com/Ant0nioSouza/callguard/pkg/models"
)

var alertsGroup string

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Follow the alerts topic on Kafka",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if len(cfg.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is not set")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reader := mq.NewReader(cfg.KafkaBrokers, cfg.KafkaTopicAlerts, alertsGroup)
		defer reader.Close()

		out := cmd.OutOrStdout()
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("read alerts: %w", err)
			}
			rec, err := mq.ParseMessageJSON[mq.AlertRecord](msg)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipping malformed message at offset %d: %v\n", msg.Offset, err)
				continue
			}
			printAlert(out, rec)
		}
	},
}

func init() {
	alertsCmd.Flags().StringVar(&alertsGroup, "group", "callguard-cli", "Kafka consumer group")
}

func printAlert(w io.Writer, rec mq.AlertRecord) {
	if jsonOutput {
		json.NewEncoder(w).Encode(rec)
		return
	}
	a := rec.Alert
	switch rec.Type {
	case models.AlertUpdated:
		fmt.Fprintf(w, "%s 📍 %-13s %s location attached\n", a.CreatedAt.Format("15:04:05"), a.Kind, a.SessionID)
	case models.AlertResolved:
		how := "resolved"
		if rec.Expired {
			how = "expired"
		}
		fmt.Fprintf(w, "%s ✔ %-13s %s (%s)\n", a.CreatedAt.Format("15:04:05"), a.Kind, a.SessionID, how)
	default:
		icon := "🔔"
		if a.Severity == models.SeverityCritical {
			icon = "🚨"
		}
		fmt.Fprintf(w, "%s %s %-13s %s %s\n", a.CreatedAt.Format("15:04:05"), icon, a.Kind, a.SessionID, a.Message)
	}
}
