package cmd

import (
	"fmt"
	"log"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	webpgp "github.com/KintaMiao/WebPGP"
	"github.com/KintaMiao/WebPGP/audit"
	"github.com/KintaMiao/WebPGP/persist"
)

var (
	cfgFile    string
	storePath  string
	profileID  string
	password   string
	session    *webpgp.Session
	cliContext *CLIContext
)

type CLIContext struct {
	UserID    string
	SessionID string
	Source    string // hostname/IP
	StartTime time.Time
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "webpgp",
	Short: "A password-protected OpenPGP keyring",
	Long: `A password-protected OpenPGP keyring. Private keys are wrapped with a
master password before they touch the storage medium, and operations that
need a passphrase-locked key prompt for the passphrase on demand.`,
	PersistentPreRunE: initializeSession,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if session != nil {
			return session.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags - consistent with config file structure
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.webpgp.yaml)")
	rootCmd.PersistentFlags().StringVarP(&storePath, "store-path", "p", "", "path to keyring storage")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "master password (or use WEBPGP_PASSWORD env var)")
	rootCmd.PersistentFlags().StringVarP(&profileID, "profile", "P", "", "profile identifier")
	rootCmd.PersistentFlags().String("store-type", "", "storage backend type (file, s3)")

	// Bind flags to viper
	bindFlagOrPanic("keyring.path", "store-path")
	bindFlagOrPanic("keyring.password", "password")
	bindFlagOrPanic("keyring.profile", "profile")
	bindFlagOrPanic("keyring.store_type", "store-type")

	// Audit flags
	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-type", "", "audit logger type (file, syslog)")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file path")

	// Bind audit flags
	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.type", "audit-type")
	bindFlagOrPanic("audit.options.file_path", "audit-file")

	// S3 flags (for direct CLI usage)
	rootCmd.PersistentFlags().String("s3-endpoint", "", "S3 endpoint URL")
	rootCmd.PersistentFlags().String("s3-region", "", "S3 region")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket name")
	rootCmd.PersistentFlags().String("s3-prefix", "", "S3 key prefix")
	rootCmd.PersistentFlags().String("s3-access-key", "", "S3 access key ID")
	rootCmd.PersistentFlags().String("s3-secret-key", "", "S3 secret access key")
	rootCmd.PersistentFlags().Bool("s3-use-ssl", true, "Use SSL for S3 connections")

	// Bind S3 flags
	bindFlagOrPanic("keyring.s3.endpoint", "s3-endpoint")
	bindFlagOrPanic("keyring.s3.region", "s3-region")
	bindFlagOrPanic("keyring.s3.bucket", "s3-bucket")
	bindFlagOrPanic("keyring.s3.prefix", "s3-prefix")
	bindFlagOrPanic("keyring.s3.access_key_id", "s3-access-key")
	bindFlagOrPanic("keyring.s3.secret_access_key", "s3-secret-key")
	bindFlagOrPanic("keyring.s3.use_ssl", "s3-use-ssl")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	// Set defaults first
	setDefaults()

	// Configure config file paths
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Search in multiple locations for consistency
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/webpgp")

		viper.SetConfigType("yaml")
		viper.SetConfigName(".webpgp")
	}

	// Environment variable support
	viper.SetEnvPrefix("WEBPGP")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file found but error reading it
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	} else {
		if os.Getenv("DEBUG") == "true" {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}
}

func setDefaults() {
	// Keyring defaults - consistent paths
	viper.SetDefault("keyring.path", ".webpgp")
	viper.SetDefault("keyring.profile", "default")
	viper.SetDefault("keyring.store_type", "file")
	viper.SetDefault("keyring.memory_lock", true)

	// S3 defaults
	viper.SetDefault("keyring.s3.region", "us-east-1")
	viper.SetDefault("keyring.s3.prefix", "webpgp/")
	viper.SetDefault("keyring.s3.use_ssl", true)

	// Audit defaults - use consistent path structure
	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.type", "file")
	viper.SetDefault("audit.log_level", "info")

	// Set audit file path based on store path - will be updated in initializeSession
	viper.SetDefault("audit.options.file_path", "audit.log")
}

func initializeSession(cmd *cobra.Command, args []string) error {
	// Skip initialization for help and completion commands
	if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" || cmd.Name() == "debug-config" {
		return nil
	}

	// Get configuration values with proper fallbacks
	storePath = viper.GetString("keyring.path")
	profileID = viper.GetString("keyring.profile")

	// Set audit file path relative to the store path if not explicitly set
	if viper.GetString("audit.options.file_path") == "audit.log" {
		viper.Set("audit.options.file_path", filepath.Join(storePath, "audit.log"))
	}

	// Initialize CLI context
	cliContext = &CLIContext{
		UserID:    getCurrentUser(),
		SessionID: generateSessionID(),
		Source:    getHostname(),
		StartTime: time.Now(),
	}

	storeConfig, err := buildStoreConfig(viper.GetString("keyring.store_type"))
	if err != nil {
		return err
	}

	options := webpgp.Options{
		ProfileID:        profileID,
		Store:            storeConfig,
		Audit:            buildAuditConfig(),
		EnvPasswordVar:   "WEBPGP_PASSWORD",
		EnableMemoryLock: viper.GetBool("keyring.memory_lock"),
		UserID:           cliContext.UserID,
	}

	session, err = webpgp.NewSession(options)
	if err != nil {
		return fmt.Errorf("failed to open keyring for profile %s: %w", profileID, err)
	}

	return nil
}

func buildAuditConfig() *audit.Config {
	if !viper.GetBool("audit.enabled") {
		return nil
	}
	return &audit.Config{
		Enabled:   true,
		ProfileID: viper.GetString("keyring.profile"),
		Type:      audit.ConfigType(viper.GetString("audit.type")),
		Options: map[string]interface{}{
			"file_path": viper.GetString("audit.options.file_path"),
		},
		LogLevel: viper.GetString("audit.log_level"),
	}
}

func buildStoreConfig(storeType string) (persist.StoreConfig, error) {
	switch strings.ToLower(storeType) {
	case "file":
		return persist.StoreConfig{
			Type:   persist.StoreTypeFileSystem,
			Config: map[string]interface{}{"base_path": viper.GetString("keyring.path")},
		}, nil

	case "s3":
		s3Config := persist.S3Config{
			Endpoint:        viper.GetString("keyring.s3.endpoint"),
			AccessKeyID:     viper.GetString("keyring.s3.access_key_id"),
			SecretAccessKey: viper.GetString("keyring.s3.secret_access_key"),
			Bucket:          viper.GetString("keyring.s3.bucket"),
			KeyPrefix:       viper.GetString("keyring.s3.prefix"),
			UseSSL:          viper.GetBool("keyring.s3.use_ssl"),
			Region:          viper.GetString("keyring.s3.region"),
		}

		if err := validateS3Config(s3Config); err != nil {
			return persist.StoreConfig{}, fmt.Errorf("invalid S3 configuration: %w", err)
		}

		return persist.StoreConfig{
			Type: persist.StoreTypeS3,
			Config: map[string]interface{}{
				"endpoint":          s3Config.Endpoint,
				"access_key_id":     s3Config.AccessKeyID,
				"secret_access_key": s3Config.SecretAccessKey,
				"bucket":            s3Config.Bucket,
				"key_prefix":        s3Config.KeyPrefix,
				"use_ssl":           s3Config.UseSSL,
				"region":            s3Config.Region,
			},
		}, nil

	default:
		return persist.StoreConfig{}, fmt.Errorf("unsupported store type: %s. Supported types: file, s3", storeType)
	}
}

func validateS3Config(config persist.S3Config) error {
	var missing []string

	if config.Bucket == "" {
		missing = append(missing, "keyring.s3.bucket")
	}
	if config.Region == "" {
		missing = append(missing, "keyring.s3.region")
	}

	hasAccessKey := config.AccessKeyID != ""
	hasSecretKey := config.SecretAccessKey != ""

	if hasAccessKey && !hasSecretKey {
		missing = append(missing, "keyring.s3.secret_access_key")
	}
	if !hasAccessKey && hasSecretKey {
		missing = append(missing, "keyring.s3.access_key_id")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	return nil
}

// getStoreConfigSummary returns a summary of the current store configuration (for logging/debugging)
func getStoreConfigSummary(storeType string) string {
	switch strings.ToLower(storeType) {
	case "file":
		return fmt.Sprintf("File store: path=%s", viper.GetString("keyring.path"))
	case "s3":
		return fmt.Sprintf("S3 store: bucket=%s, region=%s, prefix=%s",
			viper.GetString("keyring.s3.bucket"),
			viper.GetString("keyring.s3.region"),
			viper.GetString("keyring.s3.prefix"))
	default:
		return fmt.Sprintf("Unknown store type: %s", storeType)
	}
}

// getCurrentUser retrieves the username of the currently logged-in user.
// It returns "unknown_user" if the user cannot be determined.
func getCurrentUser() string {
	currentUser, err := user.Current()
	if err != nil {
		// This can happen in restricted environments (e.g. scratch Docker
		// images without /etc/passwd), so fall back to the environment.
		envUser := os.Getenv("USER")
		if envUser != "" {
			return envUser
		}
		return "unknown_user"
	}
	return currentUser.Username
}

// generateSessionID creates a new unique session identifier.
// Uses UUID v4.
func generateSessionID() string {
	id := uuid.New()
	return id.String()
}

// getHostname retrieves the hostname of the machine.
// It returns "unknown_host" if the hostname cannot be determined.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		log.Printf("Warning: could not get hostname: %v. Falling back to 'unknown_host'.", err)
		return "unknown_host"
	}
	return hostname
}

// Debug command to show current configuration
var debugConfigCmd = &cobra.Command{
	Use:   "debug-config",
	Short: "Show current configuration values",
	Long:  "Display the current configuration values read from files, environment variables, and defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Configuration Debug Information\n")
		fmt.Printf("==============================\n\n")

		if viper.ConfigFileUsed() != "" {
			fmt.Printf("Config file: %s\n", viper.ConfigFileUsed())
		} else {
			fmt.Printf("Config file: none found\n")
		}

		fmt.Printf("\nEnvironment Variables (WEBPGP_* prefix):\n")
		for _, env := range os.Environ() {
			if strings.HasPrefix(env, "WEBPGP_") {
				parts := strings.SplitN(env, "=", 2)
				if len(parts) == 2 {
					if isSensitiveFlag(parts[0]) {
						fmt.Printf("  %s=***REDACTED***\n", parts[0])
					} else {
						fmt.Printf("  %s=%s\n", parts[0], parts[1])
					}
				}
			}
		}

		fmt.Printf("\nCurrent Configuration:\n")
		fmt.Printf("  Store Type: %s\n", viper.GetString("keyring.store_type"))
		fmt.Printf("  Store Path: %s\n", viper.GetString("keyring.path"))
		fmt.Printf("  Profile: %s\n", viper.GetString("keyring.profile"))
		fmt.Printf("  Password: %s\n", func() string {
			if viper.GetString("keyring.password") != "" {
				return "***SET***"
			}
			return "***NOT SET***"
		}())

		fmt.Printf("\nAudit Configuration:\n")
		fmt.Printf("  Enabled: %v\n", viper.GetBool("audit.enabled"))
		fmt.Printf("  Type: %s\n", viper.GetString("audit.type"))
		fmt.Printf("  File Path: %s\n", viper.GetString("audit.options.file_path"))

		storeType := viper.GetString("keyring.store_type")
		if strings.ToLower(storeType) == "s3" {
			fmt.Printf("\nS3 Configuration:\n")
			fmt.Printf("  Endpoint: %s\n", viper.GetString("keyring.s3.endpoint"))
			fmt.Printf("  Region: %s\n", viper.GetString("keyring.s3.region"))
			fmt.Printf("  Bucket: %s\n", viper.GetString("keyring.s3.bucket"))
			fmt.Printf("  Prefix: %s\n", viper.GetString("keyring.s3.prefix"))
			fmt.Printf("  Use SSL: %v\n", viper.GetBool("keyring.s3.use_ssl"))
			fmt.Printf("  Access Key: %s\n", func() string {
				if viper.GetString("keyring.s3.access_key_id") != "" {
					return "***SET***"
				}
				return "***NOT SET***"
			}())
			fmt.Printf("  Secret Key: %s\n", func() string {
				if viper.GetString("keyring.s3.secret_access_key") != "" {
					return "***SET***"
				}
				return "***NOT SET***"
			}())
		}

		fmt.Printf("\nStore Configuration Summary:\n")
		fmt.Printf("  %s\n", getStoreConfigSummary(storeType))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(debugConfigCmd)
}
