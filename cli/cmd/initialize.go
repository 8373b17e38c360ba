package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	webpgp "github.com/KintaMiao/WebPGP"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new keyring",
	Long: `Initialize a new keyring for the selected profile. A verifier derived from
the master password is written to the store; the keyring starts empty. Fails
when the profile is already initialized.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)

	pw := resolveMasterPassword()
	if pw == "" {
		var err error
		if pw, err = promptNewPassword(); err != nil {
			return auditCmdComplete(cmd, err, started)
		}
	}

	err := session.Initialize(pw)
	if errors.Is(err, webpgp.ErrAlreadyInitialized) {
		err = fmt.Errorf("profile %s is already initialized. Use 'webpgp reset' to start over", profileID)
	}
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	fmt.Printf("Keyring initialized for profile: %s\n", profileID)
	return auditCmdComplete(cmd, nil, started)
}
