package webpgp

import (
	"fmt"
	"os"

	"github.com/KintaMiao/WebPGP/audit"
	"github.com/KintaMiao/WebPGP/persist"
)

// Options configures a Session.
//
// Sensitive fields are marked `json:"-"` so an Options value can be embedded
// in configuration output without leaking the master password. The password
// itself is only ever held sealed in memory (see Session); Options is a
// delivery vehicle, not a home for it.
type Options struct {
	// ProfileID selects the profile within the store. Empty means "default".
	ProfileID string `json:"profile_id,omitempty"`

	// Store selects and configures the persistence backend.
	Store persist.StoreConfig `json:"store"`

	// Audit configures the audit sink. Nil disables auditing.
	Audit *audit.Config `json:"audit,omitempty"`

	// MasterPassword supplies the master password directly. Prefer
	// EnvPasswordVar in automation: command-line arguments leak through
	// process lists.
	MasterPassword string `json:"-"`

	// EnvPasswordVar names an environment variable holding the master
	// password. Consulted only when MasterPassword is empty.
	EnvPasswordVar string `json:"env_password_var,omitempty"`

	// EnableMemoryLock requests best-effort locking of process memory so
	// sensitive material is not paged to disk. Uses mlock on Unix and
	// VirtualLock on Windows; failure to lock is reported, not fatal.
	EnableMemoryLock bool `json:"enable_memory_lock"`

	// UserID identifies the acting user in audit events.
	UserID string `json:"-"`
}

// Validate checks the options and applies defaults.
func (o *Options) Validate() error {
	if o.ProfileID == "" {
		o.ProfileID = "default"
	}
	if o.Store.Type == "" {
		o.Store.Type = persist.StoreTypeFileSystem
	}
	switch o.Store.Type {
	case persist.StoreTypeFileSystem, persist.StoreTypeS3:
	default:
		return fmt.Errorf("unsupported store type: %s", o.Store.Type)
	}
	return nil
}

// resolvePassword returns the configured master password, consulting the
// environment variable when no direct value is set. An empty result is not
// an error: interactive callers prompt instead.
func (o *Options) resolvePassword() string {
	if o.MasterPassword != "" {
		return o.MasterPassword
	}
	if o.EnvPasswordVar != "" {
		return os.Getenv(o.EnvPasswordVar)
	}
	return ""
}
