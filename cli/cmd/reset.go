package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Destroy the keyring",
	Long: `Permanently destroy the keyring for the selected profile: the verifier and
every stored key are deleted. This operation is irreversible and any private
keys not exported elsewhere are lost.`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)

	fmt.Printf("WARNING: This will permanently destroy the keyring for profile %s.\n", profileID)
	fmt.Printf("All stored keys will be deleted and cannot be recovered.\n")
	fmt.Print("Are you absolutely sure? Type 'RESET' to confirm: ")

	var confirmation string
	_, _ = fmt.Scanln(&confirmation)

	if confirmation != "RESET" {
		fmt.Println("Reset cancelled.")
		return auditCmdComplete(cmd, nil, started)
	}

	if err := session.Reset(); err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to reset keyring: %w", err), started)
	}

	fmt.Printf("Keyring for profile %s has been destroyed.\n", profileID)
	return auditCmdComplete(cmd, nil, started)
}
