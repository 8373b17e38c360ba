package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileLogger(t *testing.T) (*FileLogger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewFileLogger(&Config{
		Enabled:   true,
		ProfileID: "test-profile",
		Type:      FileAuditType,
		Options:   map[string]interface{}{"file_path": path},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger, path
}

func TestFileLoggerWritesJSONL(t *testing.T) {
	logger, path := newTestFileLogger(t)

	require.NoError(t, logger.Log(ActionKeyImport, true,
		map[string]interface{}{"fingerprint": "AABBCC"}))
	require.NoError(t, logger.Log(ActionKeyringLoad, false,
		map[string]interface{}{"error": "boom"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"action":"KEY_IMPORT"`)
	assert.Contains(t, string(data), `"fingerprint":"AABBCC"`)
	assert.Contains(t, string(data), `"profile_id":"test-profile"`)
	assert.Contains(t, string(data), `"error":"boom"`)
}

func TestFileLoggerQueryFilters(t *testing.T) {
	logger, _ := newTestFileLogger(t)

	require.NoError(t, logger.Log(ActionKeyImport, true,
		map[string]interface{}{"fingerprint": "KEY-A"}))
	require.NoError(t, logger.Log(ActionKeyImport, false,
		map[string]interface{}{"fingerprint": "KEY-B"}))
	require.NoError(t, logger.Log(ActionUnlockAttempt, true,
		map[string]interface{}{"fingerprint": "KEY-A"}))

	t.Run("by action", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{Action: ActionKeyImport})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Filtered)
	})

	t.Run("by success", func(t *testing.T) {
		success := false
		result, err := logger.Query(QueryOptions{Success: &success})
		require.NoError(t, err)
		require.Len(t, result.Events, 1)
		assert.Equal(t, "KEY-B", result.Events[0].Fingerprint)
	})

	t.Run("by fingerprint", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{Fingerprint: "KEY-A"})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Filtered)
	})

	t.Run("unlock events only", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{UnlockOnly: true})
		require.NoError(t, err)
		require.Len(t, result.Events, 1)
		assert.Equal(t, ActionUnlockAttempt, result.Events[0].Action)
	})

	t.Run("limit and ordering", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, result.Events, 2)
		assert.True(t, result.HasMore)
		// newest first
		assert.False(t, result.Events[0].Timestamp.Before(result.Events[1].Timestamp))
	})

	t.Run("time window excludes everything", func(t *testing.T) {
		until := time.Now().Add(-time.Hour)
		result, err := logger.Query(QueryOptions{Until: &until})
		require.NoError(t, err)
		assert.Empty(t, result.Events)
	})
}

func TestFileLoggerSurvivesMalformedLines(t *testing.T) {
	logger, path := newTestFileLogger(t)

	require.NoError(t, logger.Log(ActionKeyImport, true, nil))
	require.NoError(t, logger.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{ not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// the logger reopens its file lazily after Close
	require.NoError(t, logger.Log(ActionKeyRemove, true, nil))

	result, err := logger.Query(QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Filtered, "malformed lines are skipped, valid ones survive")
}

func TestNewLoggerSelection(t *testing.T) {
	t.Run("disabled yields no-op", func(t *testing.T) {
		logger, err := NewLogger(nil)
		require.NoError(t, err)
		_, ok := logger.(*NoOpLogger)
		assert.True(t, ok)

		logger, err = NewLogger(&Config{Enabled: false, Type: FileAuditType})
		require.NoError(t, err)
		_, ok = logger.(*NoOpLogger)
		assert.True(t, ok)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewLogger(&Config{Enabled: true, Type: "telepathy"})
		assert.Error(t, err)
	})

	t.Run("file logger requires a path", func(t *testing.T) {
		_, err := NewLogger(&Config{Enabled: true, Type: FileAuditType})
		assert.Error(t, err)
	})
}
