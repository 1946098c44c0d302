package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "otpwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	return path
}

// TestLoadAppliesDefaults asserts a minimal file fills in every tunable.
func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
upstream_email: user@example.com
upstream_password: hunter2
telegram_token: tok
chat_ids: [42]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 45, cfg.PollIntervalSecs)
	require.Equal(t, 60, cfg.FetchTimeoutSecs)
	require.Equal(t, 10, cfg.RetryCeiling)
	require.Equal(t, 30, cfg.RetentionDays)
	require.Equal(t, "./otpwatch.db", cfg.DBPath)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, []int64{42}, cfg.ChatIDs)
}

// TestLoadDryRunSkipsTelegramValidation asserts dry runs need no bot.
func TestLoadDryRunSkipsTelegramValidation(t *testing.T) {
	path := writeConfig(t, `
upstream_email: user@example.com
upstream_password: hunter2
dry_run: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.DryRun)
}

// TestLoadMissingCredentials asserts the required-field errors.
func TestLoadMissingCredentials(t *testing.T) {
	path := writeConfig(t, `
upstream_email: user@example.com
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "upstream_password is required")
}

// TestLoadMissingTelegramForRealRun asserts a real run rejects a missing
// token.
func TestLoadMissingTelegramForRealRun(t *testing.T) {
	path := writeConfig(t, `
upstream_email: user@example.com
upstream_password: hunter2
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "telegram_token is required")
}

// TestEnvironmentOverrides asserts secrets from the environment win over
// the file.
func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OTPWATCH_UPSTREAM_PASSWORD", "from-env")
	t.Setenv("OTPWATCH_CHAT_IDS", "1, 2,3")
	t.Setenv("OTPWATCH_DRY_RUN", "true")

	path := writeConfig(t, `
upstream_email: user@example.com
upstream_password: from-file
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.UpstreamPassword)
	require.Equal(t, []int64{1, 2, 3}, cfg.ChatIDs)
	require.True(t, cfg.DryRun)
}

// TestValidateBounds asserts the numeric sanity checks.
func TestValidateBounds(t *testing.T) {
	path := writeConfig(t, `
upstream_email: user@example.com
upstream_password: hunter2
dry_run: true
poll_interval_secs: 2
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "poll_interval_secs")
}
