package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	DB     DBConfig     `yaml:"db"`
	Sync   SyncConfig   `yaml:"sync"`
	OpenAI OpenAIConfig `yaml:"openai"`
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestDecode_MergesEnvFileAndSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  host: localhost
  port: 5432
  password: ${DB_PASSWORD}
sync:
  workers: 1
  message_timeout: 45s
openai:
  api_key: ${OPENAI_API_KEY}
`)
	writeFile(t, dir, "staging.yaml", `
db:
  host: postgres
sync:
  workers: 4
`)
	writeFile(t, dir, "secrets.env", `
# comment
DB_PASSWORD="from-secrets"
`)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("DB_PASSWORD", "from-env")

	var cfg testConfig
	require.NoError(t, Decode("staging", dir, &cfg))

	assert.Equal(t, "postgres", cfg.DB.Host)
	assert.Equal(t, 5432, cfg.DB.Port)
	// secrets.env 优先于系统环境变量
	assert.Equal(t, "from-secrets", cfg.DB.Password)
	assert.Equal(t, "sk-env", cfg.OpenAI.APIKey)
	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.Equal(t, 45*time.Second, cfg.Sync.MessageTimeout)
}

func TestDecode_MissingBase(t *testing.T) {
	var cfg testConfig
	assert.Error(t, Decode("local", t.TempDir(), &cfg))
}

func TestDefaults(t *testing.T) {
	var sync SyncConfig
	sync.Defaults()
	assert.Equal(t, int64(100), sync.MaxResults)
	assert.Equal(t, int64(100), sync.PageSize)
	assert.Equal(t, 1, sync.Workers)
	assert.Equal(t, 60*time.Second, sync.MessageTimeout)

	capped := SyncConfig{MaxResults: 20, PageSize: 50}
	capped.Defaults()
	assert.Equal(t, int64(20), capped.PageSize)

	var cls ClassificationConfig
	cls.Defaults()
	assert.Equal(t, 0.8, cls.ConfidenceThreshold)

	var ob OutboxConfig
	ob.Defaults()
	assert.Equal(t, time.Second, ob.Interval)
	assert.Equal(t, 5, ob.MaxRetries)
}

func TestOverrideFromEnv(t *testing.T) {
	t.Setenv("DB_PORT", "6543")
	t.Setenv("GOOGLE_CLIENT_ID", "client")
	t.Setenv("LOG_LEVEL", "debug")

	var db DBConfig
	OverrideDBFromEnv(&db)
	assert.Equal(t, 6543, db.Port)

	var gmail GmailConfig
	OverrideGmailFromEnv(&gmail)
	assert.Equal(t, "client", gmail.ClientID)

	var log LogConfig
	OverrideLogFromEnv(&log)
	assert.Equal(t, "debug", log.Level)
}

func TestExpand_DefaultsAndLists(t *testing.T) {
	t.Setenv("SET_VAR", "set")

	assert.Equal(t, "set", expand("${SET_VAR:-fallback}", nil))
	assert.Equal(t, "fallback", expand("${UNSET_SUBTRACK_VAR:-fallback}", nil))
	assert.Equal(t, "", expand("${UNSET_SUBTRACK_VAR}", nil))
	assert.Equal(t, "amqp://x", expand("amqp://${HOST}", map[string]string{"HOST": "x"}))

	out := substitute(map[string]interface{}{
		"hosts": []interface{}{"${SET_VAR}", 3},
	}, nil).(map[string]interface{})
	assert.Equal(t, []interface{}{"set", 3}, out["hosts"])
}

func TestLoadEnvFile_Malformed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "secrets.env", "export TOKEN_KEY='abc'\nbroken line\n")
	_, err := loadEnvFile(filepath.Join(dir, "secrets.env"))
	assert.ErrorContains(t, err, "secrets.env:2")

	writeFile(t, dir, "ok.env", "export TOKEN_KEY='abc'\n")
	env, err := loadEnvFile(filepath.Join(dir, "ok.env"))
	require.NoError(t, err)
	assert.Equal(t, "abc", env["TOKEN_KEY"])
}
