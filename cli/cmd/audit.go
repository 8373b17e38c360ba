package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/KintaMiao/WebPGP/audit"
)

var (
	auditJsonOutput  bool
	auditSince       string
	auditUntil       string
	auditAction      string
	auditFingerprint string
	auditLimit       int
	auditOffset      int
	auditUnlockOnly  bool
	auditFailures    bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query audit logs",
	Long: `Query the audit trail of the keyring.

Examples:
  # All recent events
  webpgp audit query

  # Failed events in a time window
  webpgp audit query --failures-only --since "2026-08-01T00:00:00Z"

  # Unlock and passphrase activity for one key
  webpgp audit query --unlock-only --fingerprint AABBCCDD`,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit logs with filters",
	Long:  `Query audit logs with filtering by time window, action, outcome and key fingerprint.`,
	RunE:  runAuditQuery,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditQueryCmd)

	auditQueryCmd.Flags().BoolVar(&auditJsonOutput, "json", false, "Output in JSON format")
	auditQueryCmd.Flags().StringVar(&auditSince, "since", "", "Only events at or after this RFC3339 time")
	auditQueryCmd.Flags().StringVar(&auditUntil, "until", "", "Only events before this RFC3339 time")
	auditQueryCmd.Flags().StringVar(&auditAction, "action", "", "Filter by action (e.g. KEY_IMPORT)")
	auditQueryCmd.Flags().StringVar(&auditFingerprint, "fingerprint", "", "Filter by key fingerprint")
	auditQueryCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to return")
	auditQueryCmd.Flags().IntVar(&auditOffset, "offset", 0, "Number of events to skip")
	auditQueryCmd.Flags().BoolVar(&auditUnlockOnly, "unlock-only", false, "Only unlock and passphrase related events")
	auditQueryCmd.Flags().BoolVar(&auditFailures, "failures-only", false, "Only failed events")
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	options := audit.QueryOptions{
		ProfileID:   profileID,
		Action:      auditAction,
		Fingerprint: auditFingerprint,
		Limit:       auditLimit,
		Offset:      auditOffset,
		UnlockOnly:  auditUnlockOnly,
	}

	if auditFailures {
		failed := false
		options.Success = &failed
	}

	if auditSince != "" {
		since, err := time.Parse(time.RFC3339, auditSince)
		if err != nil {
			return fmt.Errorf("invalid --since time: %w", err)
		}
		options.Since = &since
	}
	if auditUntil != "" {
		until, err := time.Parse(time.RFC3339, auditUntil)
		if err != nil {
			return fmt.Errorf("invalid --until time: %w", err)
		}
		options.Until = &until
	}

	// Querying works even when logging is currently disabled: open the
	// configured audit file read-side instead of the session's no-op logger.
	logger := session.Audit()
	if !viper.GetBool("audit.enabled") {
		fileLogger, err := audit.NewLogger(&audit.Config{
			Enabled:   true,
			ProfileID: profileID,
			Type:      audit.FileAuditType,
			Options:   map[string]interface{}{"file_path": viper.GetString("audit.options.file_path")},
		})
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer fileLogger.Close()
		logger = fileLogger
	}

	result, err := logger.Query(options)
	if err != nil {
		return fmt.Errorf("audit query failed: %w", err)
	}

	if auditJsonOutput {
		return json.NewEncoder(os.Stdout).Encode(result)
	}

	if len(result.Events) == 0 {
		fmt.Println("No audit events found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "TIMESTAMP\tACTION\tSUCCESS\tFINGERPRINT\tERROR\n")
	for _, event := range result.Events {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
			event.Timestamp.Format("2006-01-02 15:04:05"),
			event.Action,
			event.Success,
			event.Fingerprint,
			event.Error,
		)
	}
	if err = w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d of %d events", len(result.Events), result.Filtered)
	if result.HasMore {
		fmt.Print(" (more available, use --offset)")
	}
	fmt.Println()
	return nil
}
