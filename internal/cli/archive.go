package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Ant0nioSouza/callguard/internal/config"
	"github.com/Ant0nioSouza/callguard/internal/database"
	"github.com/Ant0nioSouza/callguard/internal/reputation"
	"github.com/Ant0nioSouza/callguard/pkg/models"
)

var (
	searchLimit int

	reportType     string
	reportScore    float64
	reportScamType string
)

var searchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Full-text search over archived transcripts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDatabase(ctx, config.Load())
		if err != nil {
			return err
		}
		defer db.Close()

		hits, err := db.SearchTranscripts(ctx, strings.Join(args, " "), searchLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return json.NewEncoder(out).Encode(hits)
		}
		if len(hits) == 0 {
			fmt.Fprintln(out, "No matches.")
			return nil
		}
		for _, h := range hits {
			fmt.Fprintf(out, "%s %s %-8s %-6s %s\n", h.CallID, h.Segment.Timestamp.Format("2006-01-02 15:04"), h.RiskLevel, h.Segment.Speaker, h.Segment.Text)
		}
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <phone>",
	Short: "Record a caller reputation entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.Load()
		db, err := openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		rep := reputationEntry(args[0], reportType, reportScore, reportScamType)
		if err := db.SaveReputation(ctx, rep); err != nil {
			return err
		}

		if cfg.RedisAddr != "" {
			cache := reputation.NewRedisCache(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}), db, cfg.ReputationCacheTTL)
			defer cache.Close()
			if err := cache.Invalidate(ctx, rep.PhoneNumber); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "⚠️  cache not invalidated: %v\n", err)
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s %s recorded as %s (%.2f)\n", levelIcon(rep.RiskLevel), reputation.Normalize(rep.PhoneNumber), rep.Type, rep.RiskScore)
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "Maximum results")

	reportCmd.Flags().StringVar(&reportType, "type", "scam", "individual, business, scam, telemarketer or unknown")
	reportCmd.Flags().Float64Var(&reportScore, "score", 0.9, "Risk score in [0,1]")
	reportCmd.Flags().StringVar(&reportScamType, "scam-type", "", "Free-form scam category")
}

func openDatabase(ctx context.Context, cfg config.Config) (*database.Database, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	db, err := database.New(ctx, database.Config{
		URL:         cfg.DatabaseURL,
		MaxConns:    2,
		MinConns:    0,
		MaxConnLife: cfg.DBConnLife,
		MaxConnIdle: cfg.DBConnIdle,
	})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// reputationEntry derives the level from the score; a scam report is
// always critical.
func reputationEntry(phone, kind string, score float64, scamType string) models.Reputation {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	level := models.RiskLow
	switch {
	case kind == "scam" || score >= 0.8:
		level = models.RiskCritical
	case score >= 0.6:
		level = models.RiskHigh
	case score >= 0.3:
		level = models.RiskMedium
	}
	return models.Reputation{
		PhoneNumber: phone,
		Type:        kind,
		RiskLevel:   level,
		RiskScore:   score,
		ScamType:    scamType,
		Reports:     1,
	}
}
