package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"

	webpgp "github.com/KintaMiao/WebPGP"
)

// maxPassphraseAttempts bounds interactive retry loops for both the master
// password and per-key passphrases.
const maxPassphraseAttempts = 3

// promptSecret reads a secret from the terminal without echo. When stdin is
// not a terminal (pipes, CI) it falls back to reading a plain line so the
// command stays scriptable.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return string(secret), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// promptNewPassword asks for a password twice and requires both entries to
// match. Used when creating or resetting a keyring.
func promptNewPassword() (string, error) {
	first, err := promptSecret("Choose a master password: ")
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", fmt.Errorf("master password must not be empty")
	}

	second, err := promptSecret("Repeat the master password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passwords do not match")
	}
	return first, nil
}

// resolveMasterPassword returns the configured password, falling back to the
// WEBPGP_PASSWORD environment variable. Empty means the caller should prompt.
func resolveMasterPassword() string {
	if pw := viper.GetString("keyring.password"); pw != "" {
		return pw
	}
	return os.Getenv("WEBPGP_PASSWORD")
}

// ensureUnlocked unlocks the session, prompting for the master password when
// it was not supplied through flags or the environment.
func ensureUnlocked() error {
	if session.IsUnlocked() {
		return nil
	}

	if pw := resolveMasterPassword(); pw != "" {
		err := session.Unlock(pw)
		if errors.Is(err, webpgp.ErrNotInitialized) {
			return fmt.Errorf("keyring is not initialized. Run 'webpgp init' first")
		}
		return err
	}

	for attempt := 0; attempt < maxPassphraseAttempts; attempt++ {
		pw, err := promptSecret("Master password: ")
		if err != nil {
			return err
		}

		err = session.Unlock(pw)
		if errors.Is(err, webpgp.ErrWrongPassword) {
			fmt.Fprintln(os.Stderr, "Wrong master password, try again.")
			continue
		}
		if errors.Is(err, webpgp.ErrNotInitialized) {
			return fmt.Errorf("keyring is not initialized. Run 'webpgp init' first")
		}
		return err
	}
	return webpgp.ErrWrongPassword
}

// driveWorkflow walks one unlock workflow to resolution, prompting for the
// key passphrase while the workflow is parked. An empty passphrase cancels.
func driveWorkflow(w *webpgp.UnlockWorkflow, label string) ([]byte, error) {
	if w.State() == webpgp.StateAwaitingPassphrase {
		passphrase, err := promptSecret(fmt.Sprintf("Enter key passphrase to %s (empty to cancel): ", label))
		if err != nil {
			return nil, err
		}
		if passphrase == "" {
			if err = w.Cancel(); err != nil {
				return nil, err
			}
		} else if err = w.SubmitPassphrase(passphrase); err != nil {
			return nil, err
		}
	}
	return w.Result()
}

// runWithRetries drives a freshly started workflow per attempt, re-prompting
// when the only problem was a wrong passphrase. Cancellation and every other
// failure end the loop immediately.
func runWithRetries(start func() (*webpgp.UnlockWorkflow, error), label string) ([]byte, error) {
	for attempt := 0; attempt < maxPassphraseAttempts; attempt++ {
		w, err := start()
		if err != nil {
			return nil, err
		}
		if w == nil {
			// nothing needed a passphrase
			return nil, nil
		}

		result, err := driveWorkflow(w, label)
		if errors.Is(err, webpgp.ErrWrongPassphrase) && attempt < maxPassphraseAttempts-1 {
			fmt.Fprintln(os.Stderr, "Wrong key passphrase, try again.")
			continue
		}
		return result, err
	}
	return nil, webpgp.ErrWrongPassphrase
}

// readInput returns the contents of the named file, or stdin for "-" or an
// empty name.
func readInput(name string) ([]byte, error) {
	if name == "" || name == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// writeOutput writes data to the named file, or stdout for "-" or an empty
// name. Files are created user-only since the output may be key material.
func writeOutput(name string, data []byte) error {
	if name == "" || name == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(name, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", name)
	return nil
}

func auditCmdStart(cmd *cobra.Command, args []string) time.Time {
	now := time.Now()
	_ = session.Audit().Log("command_start", true, map[string]interface{}{
		"command":    cmd.CommandPath(),
		"args":       sanitizeArgs(args),
		"flags":      sanitizeFlags(cmd),
		"user_id":    cliContext.UserID,
		"session_id": cliContext.SessionID,
		"source":     cliContext.Source,
	})
	return now
}

func auditCmdComplete(cmd *cobra.Command, err error, startedTime time.Time) error {
	_ = session.Audit().Log("command_complete", err == nil, map[string]interface{}{
		"command":     cmd.CommandPath(),
		"duration_ms": time.Since(startedTime).Milliseconds(),
		"success":     err == nil,
		"error":       formatError(err),
		"user_id":     cliContext.UserID,
		"session_id":  cliContext.SessionID,
	})
	return err
}

func formatError(err error) string {
	if err == nil {
		return ""
	}

	var messages []string

	// Unwrap the error chain and collect all messages
	for err != nil {
		messages = append(messages, err.Error())
		err = errors.Unwrap(err)
	}

	// If we have multiple errors in the chain, show the hierarchy
	if len(messages) > 1 {
		// Remove duplicates that might occur from unwrapping
		uniqueMessages := make([]string, 0, len(messages))
		seen := make(map[string]bool)

		for _, msg := range messages {
			if !seen[msg] {
				uniqueMessages = append(uniqueMessages, msg)
				seen[msg] = true
			}
		}

		if len(uniqueMessages) > 1 {
			return fmt.Sprintf("Error: %s (caused by: %s)",
				uniqueMessages[0],
				strings.Join(uniqueMessages[1:], " -> "))
		}
	}

	// Single error or all messages were the same
	message := messages[0]

	// Basic formatting
	if len(message) > 0 {
		first := string(message[0])
		if first != strings.ToUpper(first) {
			message = strings.ToUpper(first) + message[1:]
		}
	}

	return fmt.Sprintf("Error: %s", message)
}

// isSensitiveFlag checks if a flag name is sensitive (for logging purposes)
func isSensitiveFlag(name string) bool {
	sensitive := []string{"passphrase", "password", "secret", "key", "token"}
	lower := strings.ToLower(name)
	for _, s := range sensitive {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func sanitizeFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if flag.Changed {
			if isSensitiveFlag(flag.Name) {
				flags[flag.Name] = "[REDACTED]"
			} else {
				flags[flag.Name] = flag.Value.String()
			}
		}
	})
	return flags
}

func sanitizeArgs(args []string) []string {
	// Armored key blocks can appear as positional arguments; mask them
	sanitized := make([]string, len(args))
	for i, arg := range args {
		if strings.Contains(arg, "PRIVATE KEY BLOCK") {
			sanitized[i] = "[REDACTED]"
		} else {
			sanitized[i] = arg
		}
	}
	return sanitized
}
