package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tally/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, models.LedgerTypeMemory, cfg.Ledger.Type)
	assert.True(t, cfg.RateLimit.Enabled)

	policy, ok := cfg.RateLimit.Policies[models.ClassCommentCreate]
	require.True(t, ok)
	assert.Equal(t, time.Minute, policy.Window)
	assert.Equal(t, 6, policy.PerUser)
	assert.Equal(t, 12, policy.PerIP)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestLoadFromYAMLFile(t *testing.T) {
	content := `
server:
  port: 9090
ledger:
  type: postgres
  dsn: postgres://localhost/tally
reconcile:
  report_dir: /var/reports
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, models.LedgerTypePostgres, cfg.Ledger.Type)
	assert.Equal(t, "postgres://localhost/tally", cfg.Ledger.DSN)
	assert.Equal(t, "/var/reports", cfg.Reconcile.ReportDir)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("TALLY_PORT", "7070")
	t.Setenv("TALLY_LEDGER_TYPE", "postgres")
	t.Setenv("TALLY_LEDGER_DSN", "postgres://env/tally")
	t.Setenv("TALLY_REDIS_ADDR", "redis:6379")
	t.Setenv("TALLY_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, models.LedgerTypePostgres, cfg.Ledger.Type)
	assert.Equal(t, "postgres://env/tally", cfg.Ledger.DSN)
	assert.Equal(t, "redis:6379", cfg.CounterStore.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestRateLimitEnvironmentOverrides(t *testing.T) {
	t.Setenv("TALLY_RATE_LIMIT_ENABLED", "true")
	t.Setenv("TALLY_RATE_LIMIT_COMMENT_CREATE_USER", "99")
	t.Setenv("TALLY_RATE_LIMIT_COMMENT_CREATE_IP", "150")
	t.Setenv("TALLY_RATE_LIMIT_LIKE_TOGGLE_ENABLED", "false")
	t.Setenv("TALLY_RATE_LIMIT_SEARCH_QUERY_WINDOW_MS", "30000")

	cfg, err := Load("")
	require.NoError(t, err)

	commentPolicy := cfg.RateLimit.Policies[models.ClassCommentCreate]
	assert.Equal(t, 99, commentPolicy.PerUser)
	assert.Equal(t, 150, commentPolicy.PerIP)

	assert.False(t, cfg.RateLimit.Policies[models.ClassLikeToggle].Enabled)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Policies[models.ClassSearch].Window)
}

func TestGlobalWindowOverride(t *testing.T) {
	t.Setenv("TALLY_RATE_LIMIT_WINDOW_MS", "5000")

	cfg, err := Load("")
	require.NoError(t, err)

	for class, policy := range cfg.RateLimit.Policies {
		assert.Equal(t, 5*time.Second, policy.Window, "class %s", class)
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	t.Setenv("TALLY_PORT", "-1")

	_, err := Load("")
	require.Error(t, err)
}
