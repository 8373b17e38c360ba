package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	webpgp "github.com/KintaMiao/WebPGP"
)

var keysCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage keyring records",
	Long:  `Manage the keys held in the keyring including listing, import, export and removal.`,
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all keys",
	Long:  `List all keys in the keyring with their fingerprint, kind, user identities and creation time.`,
	RunE:  runKeyList,
}

var keyImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import an armored key",
	Long: `Import an armored OpenPGP key from a file (or stdin with "-"). Importing a
passphrase-protected private key prompts for its passphrase to prove the key
is usable; the key is stored exactly as imported, still locked. Importing the
private half of a key already held as public upgrades the record.`,
	Args: cobra.ExactArgs(1),
	RunE: runKeyImport,
}

var keyRemoveCmd = &cobra.Command{
	Use:   "remove <fingerprint>",
	Short: "Remove a key",
	Long:  `Remove the key with the given fingerprint from the keyring. This operation is irreversible.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runKeyRemove,
}

var keyExportCmd = &cobra.Command{
	Use:   "export <fingerprint>",
	Short: "Export a key in armored form",
	Long: `Export the key with the given fingerprint in its stored armored form.
Private records export their private key block; use with care.`,
	Args: cobra.ExactArgs(1),
	RunE: runKeyExport,
}

// Flags
var (
	jsonOutput bool
	exportFile string
)

func init() {
	rootCmd.AddCommand(keysCmd)

	keysCmd.AddCommand(keyListCmd)
	keysCmd.AddCommand(keyImportCmd)
	keysCmd.AddCommand(keyRemoveCmd)
	keysCmd.AddCommand(keyExportCmd)

	// Add flags
	keyListCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	keyExportCmd.Flags().StringVarP(&exportFile, "output", "o", "", "Write to file instead of stdout")
}

func runKeyList(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)
	if err := ensureUnlocked(); err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	records, err := session.Records()
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	if jsonOutput {
		output := make([]map[string]interface{}, 0, len(records))
		for _, record := range records {
			output = append(output, map[string]interface{}{
				"fingerprint": record.ID,
				"private":     record.IsPrivate,
				"identities":  record.UserIdentities,
				"created_at":  record.CreatedAt,
			})
		}
		return auditCmdComplete(cmd, json.NewEncoder(os.Stdout).Encode(output), started)
	}

	// Table output
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "FINGERPRINT\tKIND\tIDENTITY\tCREATED\n")

	for _, record := range records {
		kind := "public"
		if record.IsPrivate {
			kind = "private"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			record.ID,
			kind,
			record.PrimaryUserIdentity,
			record.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}

	return auditCmdComplete(cmd, w.Flush(), started)
}

func runKeyImport(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)

	armored, err := readInput(args[0])
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	if err = ensureUnlocked(); err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	_, err = runWithRetries(func() (*webpgp.UnlockWorkflow, error) {
		return session.Import(string(armored))
	}, "import the key")
	if err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to import key: %w", err), started)
	}

	fmt.Println("Key imported.")
	return auditCmdComplete(cmd, nil, started)
}

func runKeyRemove(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)
	fingerprint := args[0]

	if err := ensureUnlocked(); err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	fmt.Printf("This will permanently remove key %s from profile %s.\n", fingerprint, profileID)
	fmt.Print("Continue? (y/N): ")

	var response string
	_, _ = fmt.Scanln(&response)

	if response != "y" && response != "Y" {
		fmt.Println("Removal cancelled.")
		return auditCmdComplete(cmd, nil, started)
	}

	if err := session.Remove(fingerprint); err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to remove key: %w", err), started)
	}

	fmt.Printf("Key %s removed.\n", fingerprint)
	return auditCmdComplete(cmd, nil, started)
}

func runKeyExport(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)
	fingerprint := args[0]

	if err := ensureUnlocked(); err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	armored, err := session.Export(fingerprint)
	if err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to export key: %w", err), started)
	}

	return auditCmdComplete(cmd, writeOutput(exportFile, []byte(armored)), started)
}
