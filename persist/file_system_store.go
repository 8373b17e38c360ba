package persist

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	FilePermissions os.FileMode = 0600
	DirPermissions  os.FileMode = 0700
)

// FileSystemStore implements Store on the local filesystem with one
// directory per profile.
type FileSystemStore struct {
	basePath      string
	profileID     string
	profilePath   string // basePath/profileID/
	tempDir       string // basePath/profileID/temp/
	profileConfig string // basePath/profileID/profile.json
	verifierFile  string // basePath/profileID/verifier.bin
	keyringFile   string // basePath/profileID/keyring.json
}

// ProfileConfig represents the per-profile configuration and metadata
type ProfileConfig struct {
	Version    string    `json:"version"`
	ProfileID  string    `json:"profile_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
	Structure  string    `json:"structure_version"`
}

// NewFileSystemStore initializes and returns a new FileSystemStore bound to
// the given profile, creating the directory layout if needed.
func NewFileSystemStore(basePath string, profileID string) (*FileSystemStore, error) {
	if profileID == "" {
		profileID = "default"
	}

	if err := validateProfileID(profileID); err != nil {
		return nil, fmt.Errorf("invalid profile ID: %w", err)
	}

	profilePath := filepath.Join(basePath, profileID)

	fs := &FileSystemStore{
		basePath:      basePath,
		profileID:     profileID,
		profilePath:   profilePath,
		tempDir:       filepath.Join(profilePath, "temp"),
		profileConfig: filepath.Join(profilePath, "profile.json"),
		verifierFile:  filepath.Join(profilePath, "verifier.bin"),
		keyringFile:   filepath.Join(profilePath, "keyring.json"),
	}

	for _, dir := range []string{fs.profilePath, fs.tempDir} {
		if err := os.MkdirAll(dir, DirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := fs.initializeProfileConfig(); err != nil {
		return nil, fmt.Errorf("failed to initialize profile config: %w", err)
	}

	return fs, nil
}

// NewFileSystemStoreFromConfig creates a FileSystemStore from StoreConfig
func NewFileSystemStoreFromConfig(config StoreConfig, profileID string) (*FileSystemStore, error) {
	basePath, ok := config.Config["base_path"].(string)
	if !ok {
		return nil, fmt.Errorf("base_path is required for filesystem store")
	}

	return NewFileSystemStore(basePath, profileID)
}

func (fs *FileSystemStore) initializeProfileConfig() error {
	if _, err := os.Stat(fs.profileConfig); os.IsNotExist(err) {
		config := ProfileConfig{
			Version:    "1.0.0",
			ProfileID:  fs.profileID,
			CreatedAt:  time.Now(),
			LastAccess: time.Now(),
			Structure:  "v1",
		}

		data, err := json.MarshalIndent(config, "", "  ")
		if err != nil {
			return err
		}

		return fs.writeAtomic(fs.profileConfig, data)
	}
	return nil
}

// ListProfiles returns all profile IDs that have data under the base path
func (fs *FileSystemStore) ListProfiles() ([]string, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read base directory: %w", err)
	}

	var profiles []string
	for _, entry := range entries {
		if entry.IsDir() {
			configPath := filepath.Join(fs.basePath, entry.Name(), "profile.json")
			if _, err := os.Stat(configPath); err == nil {
				profiles = append(profiles, entry.Name())
			}
		}
	}

	sort.Strings(profiles)
	return profiles, nil
}

// DeleteProfile removes all data for a profile
func (fs *FileSystemStore) DeleteProfile(profileID string) error {
	if err := validateProfileID(profileID); err != nil {
		return fmt.Errorf("invalid profile ID: %w", err)
	}

	if profileID == fs.profileID {
		return fmt.Errorf("cannot delete current profile")
	}

	profilePath := filepath.Join(fs.basePath, profileID)
	if _, err := os.Stat(profilePath); os.IsNotExist(err) {
		return fmt.Errorf("profile %s does not exist", profileID)
	} else if err != nil {
		return fmt.Errorf("failed to check profile directory: %w", err)
	}

	if err := os.RemoveAll(profilePath); err != nil {
		return fmt.Errorf("failed to delete profile data: %w", err)
	}

	return nil
}

func (fs *FileSystemStore) SaveVerifier(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("verifier data cannot be empty")
	}
	return fs.writeAtomic(fs.verifierFile, data)
}

func (fs *FileSystemStore) LoadVerifier() ([]byte, error) {
	data, err := os.ReadFile(fs.verifierFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load verifier: %w", err)
	}
	return data, nil
}

func (fs *FileSystemStore) VerifierExists() (bool, error) {
	return fileExists(fs.verifierFile)
}

func (fs *FileSystemStore) SaveKeyring(data []byte) error {
	if data == nil {
		return fmt.Errorf("keyring data cannot be nil")
	}
	return fs.writeAtomic(fs.keyringFile, data)
}

func (fs *FileSystemStore) LoadKeyring() (*VersionedData, error) {
	fileInfo, err := os.Stat(fs.keyringFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to stat keyring: %w", err)
	}

	data, err := os.ReadFile(fs.keyringFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load keyring: %w", err)
	}

	return &VersionedData{
		Data:      data,
		Version:   calculateVersion(data),
		Timestamp: fileInfo.ModTime(),
	}, nil
}

func (fs *FileSystemStore) KeyringExists() (bool, error) {
	return fileExists(fs.keyringFile)
}

// Reset deletes the verifier and keyring for the bound profile
func (fs *FileSystemStore) Reset() error {
	for _, path := range []string{fs.verifierFile, fs.keyringFile} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func (fs *FileSystemStore) Ping() error {
	if _, err := os.Stat(fs.profilePath); err != nil {
		return fmt.Errorf("profile directory not accessible: %w", err)
	}
	return nil
}

func (fs *FileSystemStore) Close() error {
	return nil
}

func (fs *FileSystemStore) GetType() string {
	return string(StoreTypeFileSystem)
}

// writeAtomic writes data to a temp file in the profile's temp directory and
// renames it into place, so readers never observe a partial write.
func (fs *FileSystemStore) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(fs.tempDir, filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err = tmp.Chmod(FilePermissions); err != nil {
		cleanup()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err = os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

func fileExists(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func calculateVersion(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
