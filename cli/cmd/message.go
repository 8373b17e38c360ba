package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	webpgp "github.com/KintaMiao/WebPGP"
)

var signCmd = &cobra.Command{
	Use:   "sign <fingerprint> [file]",
	Short: "Create a detached signature",
	Long: `Create an armored detached signature over the given file (or stdin) with
the private key identified by fingerprint. Prompts for the key passphrase
when the key is locked.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSign,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <file> <signature-file>",
	Short: "Verify a detached signature",
	Long: `Verify an armored detached signature against the given file using every key
in the keyring. Prints the signer's fingerprint on success.`,
	Args: cobra.ExactArgs(2),
	RunE: runVerify,
}

var encryptCmd = &cobra.Command{
	Use:   "encrypt [file]",
	Short: "Encrypt a message",
	Long: `Encrypt the given file (or stdin) to one or more recipient keys, producing
an armored message. Encryption uses public key material only and never
prompts for a passphrase.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEncrypt,
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt [file]",
	Short: "Decrypt a message",
	Long: `Decrypt an armored message from the given file (or stdin). Candidate keys
are chosen from the message's stated recipients; prompts for a passphrase
when the matching key is locked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecrypt,
}

var (
	signOutput    string
	encryptOutput string
	decryptOutput string
	recipients    []string
)

func init() {
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(encryptCmd)
	rootCmd.AddCommand(decryptCmd)

	signCmd.Flags().StringVarP(&signOutput, "output", "o", "", "Write the signature to a file instead of stdout")
	encryptCmd.Flags().StringSliceVarP(&recipients, "recipient", "r", nil, "Recipient key fingerprint (repeatable)")
	encryptCmd.Flags().StringVarP(&encryptOutput, "output", "o", "", "Write the armored message to a file instead of stdout")
	decryptCmd.Flags().StringVarP(&decryptOutput, "output", "o", "", "Write the plaintext to a file instead of stdout")
	_ = encryptCmd.MarkFlagRequired("recipient")
}

func runSign(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)
	fingerprint := args[0]

	input := ""
	if len(args) == 2 {
		input = args[1]
	}
	message, err := readInput(input)
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	if err = ensureUnlocked(); err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	signature, err := runWithRetries(func() (*webpgp.UnlockWorkflow, error) {
		return session.SignOperation(fingerprint, message)
	}, "sign the message")
	if err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to sign: %w", err), started)
	}

	return auditCmdComplete(cmd, writeOutput(signOutput, signature), started)
}

func runVerify(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)

	message, err := readInput(args[0])
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}
	signature, err := readInput(args[1])
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	if err = ensureUnlocked(); err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	signer, err := session.Verify(message, string(signature))
	if err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("signature verification failed: %w", err), started)
	}

	fmt.Printf("Good signature from key %s\n", signer)
	return auditCmdComplete(cmd, nil, started)
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)

	input := ""
	if len(args) == 1 {
		input = args[0]
	}
	message, err := readInput(input)
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	if err = ensureUnlocked(); err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	armored, err := session.Encrypt(recipients, message)
	if err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to encrypt: %w", err), started)
	}

	return auditCmdComplete(cmd, writeOutput(encryptOutput, []byte(armored)), started)
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)

	input := ""
	if len(args) == 1 {
		input = args[0]
	}
	armored, err := readInput(input)
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	if err = ensureUnlocked(); err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	plaintext, err := runWithRetries(func() (*webpgp.UnlockWorkflow, error) {
		return session.DecryptOperation(string(armored))
	}, "decrypt the message")
	if err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to decrypt: %w", err), started)
	}

	return auditCmdComplete(cmd, writeOutput(decryptOutput, plaintext), started)
}
