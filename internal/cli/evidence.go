package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Ant0nioSouza/callguard/internal/config"
	"github.com/Ant0nioSouza/callguard/internal/evidence"
	"github.com/Ant0nioSouza/callguard/pkg/utils"
)

var (
	evidenceDir     string
	evidenceSession string
)

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Print the local evidence log",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := evidenceDir
		if dir == "" {
			dir = config.Load().EvidenceDir
		}
		l, err := evidence.NewLog(dir)
		if err != nil {
			return err
		}

		var events []evidence.Event
		if evidenceSession != "" {
			id, ok := utils.ParseID(evidenceSession)
			if !ok {
				return errors.New("invalid session id")
			}
			events, err = l.ForSession(id)
		} else {
			events, err = l.ReadAll()
		}
		if err != nil {
			return err
		}
		return printEvidence(cmd.OutOrStdout(), events)
	},
}

func init() {
	evidenceCmd.Flags().StringVar(&evidenceDir, "dir", "", "Evidence directory (overrides EVIDENCE_DIR)")
	evidenceCmd.Flags().StringVar(&evidenceSession, "session", "", "Only events of this call")
}

func printEvidence(w io.Writer, events []evidence.Event) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "No evidence recorded.")
		return nil
	}
	for _, ev := range events {
		line := fmt.Sprintf("%s %-19s %s", ev.Time.Format("2006-01-02 15:04:05"), ev.Event, ev.SessionID)
		switch {
		case ev.Contact != "":
			line += " contact=" + ev.Contact
		case ev.Path != "":
			line += " path=" + ev.Path
		case ev.RiskLevel != "":
			line += " risk=" + ev.RiskLevel
		}
		if ev.Error != "" {
			line += " error=" + ev.Error
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
