package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config defines audit logging configuration
type Config struct {
	Enabled   bool                   `json:"enabled"`
	ProfileID string                 `json:"profile_id"`
	Type      ConfigType             `json:"type"`    // "file", "syslog", ""
	Options   map[string]interface{} `json:"options"` // Provider-specific options
	LogLevel  string                 `json:"log_level,omitempty"`
}

type ConfigType string

const (
	FileAuditType   ConfigType = "file"
	SyslogAuditType ConfigType = "syslog"
	NoOp            ConfigType = ""
)

// Well-known audit actions recorded by the keyring.
const (
	ActionVaultCreate   = "VAULT_CREATE"
	ActionVaultVerify   = "VAULT_VERIFY"
	ActionVaultReset    = "VAULT_RESET"
	ActionKeyImport     = "KEY_IMPORT"
	ActionKeyUpgrade    = "KEY_UPGRADE"
	ActionKeyRemove     = "KEY_REMOVE"
	ActionKeyExport     = "KEY_EXPORT"
	ActionKeyringLoad   = "KEYRING_LOAD"
	ActionKeyringSave   = "KEYRING_SAVE"
	ActionUnlockAttempt = "UNLOCK_ATTEMPT"
	ActionUnlockCancel  = "UNLOCK_CANCEL"
	ActionSessionUnlock = "SESSION_UNLOCK"
	ActionSessionLock   = "SESSION_LOCK"
)

// Logger interface for pluggable audit implementations
type Logger interface {
	Log(action string, success bool, metadata map[string]interface{}) error
	Query(options QueryOptions) (QueryResult, error)
	Close() error
}

// Event represents an audit log event
type Event struct {
	ID          string                 `json:"id"`
	RequestID   string                 `json:"request_id,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	ProfileID   string                 `json:"profile_id"`
	Action      string                 `json:"action"`
	Success     bool                   `json:"success"`
	Error       string                 `json:"error,omitempty"`
	Fingerprint string                 `json:"fingerprint,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	UserID      string                 `json:"user_id,omitempty"`
	Source      string                 `json:"source,omitempty"` // IP, hostname, etc.
	Command     string                 `json:"command,omitempty"`
	Duration    int64                  `json:"duration_ms,omitempty"`
}

// QueryOptions for filtering audit logs
type QueryOptions struct {
	ProfileID   string
	Since       *time.Time
	Until       *time.Time
	Action      string
	Success     *bool // nil = all, true = only success, false = only failures
	Fingerprint string
	Limit       int
	Offset      int
	UnlockOnly  bool // Filter for unlock and passphrase related events
}

// QueryResult contains the results of an audit query
type QueryResult struct {
	Events     []Event `json:"events"`
	TotalCount int     `json:"total_count"`
	Filtered   int     `json:"filtered"`
	HasMore    bool    `json:"has_more"`
}

// NewLogger creates an appropriate logger based on configuration
func NewLogger(config *Config) (Logger, error) {
	if config == nil || !config.Enabled {
		return &NoOpLogger{}, nil
	}

	switch config.Type {
	case FileAuditType:
		return NewFileLogger(config)
	case SyslogAuditType:
		return NewSyslogLogger(config)
	case NoOp:
		return &NoOpLogger{}, nil
	default:
		return nil, fmt.Errorf("unknown audit provider: %s", config.Type)
	}
}

// parseOptions converts map[string]interface{} to specific options struct
func parseOptions(options map[string]interface{}, target interface{}) error {
	if len(options) == 0 {
		return nil
	}

	jsonData, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	if err = json.Unmarshal(jsonData, target); err != nil {
		return fmt.Errorf("failed to unmarshal options: %w", err)
	}

	return nil
}
