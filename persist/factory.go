package persist

import (
	"fmt"
	"strings"
)

// NewStore factory function to create storage backends
func NewStore(config StoreConfig, profileID string) (Store, error) {
	switch config.Type {
	case StoreTypeFileSystem:
		return NewFileSystemStoreFromConfig(config, profileID)

	case StoreTypeS3:
		return NewS3StoreFromConfig(config, profileID)

	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// validateProfileID validates the profile ID for security
func validateProfileID(profileID string) error {
	if profileID == "" {
		return fmt.Errorf("profile ID cannot be empty")
	}

	// Basic validation to prevent path traversal and other issues
	if strings.Contains(profileID, "..") ||
		strings.Contains(profileID, "/") ||
		strings.Contains(profileID, "\\") ||
		strings.Contains(profileID, " ") {
		return fmt.Errorf("profile ID contains invalid characters")
	}

	if len(profileID) > 100 {
		return fmt.Errorf("profile ID too long (max 100 characters)")
	}

	return nil
}
