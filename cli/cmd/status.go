package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show keyring status",
	Long:  "Display information about the keyring including initialization state and key counts.",
	RunE:  showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	fmt.Println("Keyring Status")
	fmt.Println("==============")

	fmt.Printf("Profile: %s\n", profileID)
	fmt.Printf("Store: %s\n", getStoreConfigSummary(viper.GetString("keyring.store_type")))

	initialized, err := session.Initialized()
	if err != nil {
		fmt.Printf("Initialized: ERROR - %v\n", err)
		return nil
	}
	fmt.Printf("Initialized: %t\n", initialized)

	if !initialized {
		fmt.Println("Run 'webpgp init' to create the keyring.")
		return nil
	}

	// Key counts need the records, which need an unlocked session
	if err = ensureUnlocked(); err != nil {
		return err
	}

	records, err := session.Records()
	if err != nil {
		fmt.Printf("Total Keys: ERROR - %v\n", err)
		return nil
	}

	privateCount := 0
	for _, record := range records {
		if record.IsPrivate {
			privateCount++
		}
	}
	fmt.Printf("Total Keys: %d (Private: %d, Public: %d)\n",
		len(records), privateCount, len(records)-privateCount)

	return nil
}
