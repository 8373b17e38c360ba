package persist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const s3RequestTimeout = 30 * time.Second

// S3Config holds the connection settings for an S3-compatible backend.
type S3Config struct {
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	UseSSL          bool   `json:"use_ssl"`
	Bucket          string `json:"bucket"`
	KeyPrefix       string `json:"key_prefix"`
	Region          string `json:"region"`
}

// S3Store implements Store on top of any S3-compatible object store via the
// MinIO client. Object layout mirrors the filesystem store:
//
//	<prefix>/<profileID>/profile.json
//	<prefix>/<profileID>/verifier.bin
//	<prefix>/<profileID>/keyring.json
type S3Store struct {
	client    *minio.Client
	config    S3Config
	profileID string
}

// NewS3Store creates an S3Store bound to the given profile.
func NewS3Store(config S3Config, profileID string) (*S3Store, error) {
	if profileID == "" {
		profileID = "default"
	}
	if err := validateProfileID(profileID); err != nil {
		return nil, fmt.Errorf("invalid profile ID: %w", err)
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket is required for S3 store")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	return &S3Store{
		client:    client,
		config:    config,
		profileID: profileID,
	}, nil
}

// NewS3StoreFromConfig creates an S3Store from a generic StoreConfig
func NewS3StoreFromConfig(config StoreConfig, profileID string) (*S3Store, error) {
	s3cfg := S3Config{}
	if v, ok := config.Config["endpoint"].(string); ok {
		s3cfg.Endpoint = v
	}
	if v, ok := config.Config["access_key_id"].(string); ok {
		s3cfg.AccessKeyID = v
	}
	if v, ok := config.Config["secret_access_key"].(string); ok {
		s3cfg.SecretAccessKey = v
	}
	if v, ok := config.Config["use_ssl"].(bool); ok {
		s3cfg.UseSSL = v
	}
	if v, ok := config.Config["bucket"].(string); ok {
		s3cfg.Bucket = v
	}
	if v, ok := config.Config["key_prefix"].(string); ok {
		s3cfg.KeyPrefix = v
	}
	if v, ok := config.Config["region"].(string); ok {
		s3cfg.Region = v
	}

	return NewS3Store(s3cfg, profileID)
}

func (s *S3Store) objectKey(profileID, name string) string {
	return path.Join(s.config.KeyPrefix, profileID, name)
}

func (s *S3Store) putObject(key string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), s3RequestTimeout)
	defer cancel()

	_, err := s.client.PutObject(ctx, s.config.Bucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) getObject(key string) ([]byte, time.Time, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s3RequestTimeout)
	defer cancel()

	stat, err := s.client.StatObject(ctx, s.config.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, time.Time{}, fmt.Errorf("object %s: %w", key, os.ErrNotExist)
		}
		return nil, time.Time{}, fmt.Errorf("failed to stat object %s: %w", key, err)
	}

	obj, err := s.client.GetObject(ctx, s.config.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, time.Time{}, fmt.Errorf("object %s: %w", key, os.ErrNotExist)
		}
		return nil, time.Time{}, fmt.Errorf("failed to read object %s: %w", key, err)
	}

	return data, stat.LastModified, nil
}

func (s *S3Store) objectExists(key string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s3RequestTimeout)
	defer cancel()

	_, err := s.client.StatObject(ctx, s.config.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	return true, nil
}

func (s *S3Store) removeObject(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s3RequestTimeout)
	defer cancel()

	if err := s.client.RemoveObject(ctx, s.config.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil
		}
		return fmt.Errorf("failed to remove object %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) ListProfiles() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s3RequestTimeout)
	defer cancel()

	prefix := s.config.KeyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	seen := make(map[string]bool)
	for obj := range s.client.ListObjects(ctx, s.config.Bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", obj.Err)
		}
		rel := strings.TrimPrefix(obj.Key, prefix)
		parts := strings.SplitN(rel, "/", 2)
		if len(parts) == 2 && parts[0] != "" {
			seen[parts[0]] = true
		}
	}

	profiles := make([]string, 0, len(seen))
	for p := range seen {
		profiles = append(profiles, p)
	}
	sort.Strings(profiles)
	return profiles, nil
}

func (s *S3Store) DeleteProfile(profileID string) error {
	if err := validateProfileID(profileID); err != nil {
		return fmt.Errorf("invalid profile ID: %w", err)
	}
	if profileID == s.profileID {
		return fmt.Errorf("cannot delete current profile")
	}

	for _, name := range []string{"profile.json", "verifier.bin", "keyring.json"} {
		if err := s.removeObject(s.objectKey(profileID, name)); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3Store) SaveVerifier(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("verifier data cannot be empty")
	}
	return s.putObject(s.objectKey(s.profileID, "verifier.bin"), data)
}

func (s *S3Store) LoadVerifier() ([]byte, error) {
	data, _, err := s.getObject(s.objectKey(s.profileID, "verifier.bin"))
	return data, err
}

func (s *S3Store) VerifierExists() (bool, error) {
	return s.objectExists(s.objectKey(s.profileID, "verifier.bin"))
}

func (s *S3Store) SaveKeyring(data []byte) error {
	if data == nil {
		return fmt.Errorf("keyring data cannot be nil")
	}
	return s.putObject(s.objectKey(s.profileID, "keyring.json"), data)
}

func (s *S3Store) LoadKeyring() (*VersionedData, error) {
	data, modified, err := s.getObject(s.objectKey(s.profileID, "keyring.json"))
	if err != nil {
		return nil, err
	}

	return &VersionedData{
		Data:      data,
		Version:   calculateVersion(data),
		Timestamp: modified,
	}, nil
}

func (s *S3Store) KeyringExists() (bool, error) {
	return s.objectExists(s.objectKey(s.profileID, "keyring.json"))
}

func (s *S3Store) Reset() error {
	for _, name := range []string{"verifier.bin", "keyring.json"} {
		if err := s.removeObject(s.objectKey(s.profileID, name)); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3Store) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), s3RequestTimeout)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.config.Bucket)
	if err != nil {
		return fmt.Errorf("failed to reach S3 endpoint: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.config.Bucket)
	}
	return nil
}

func (s *S3Store) Close() error {
	return nil
}

func (s *S3Store) GetType() string {
	return string(StoreTypeS3)
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
