package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/statekeeper/internal/model"
)

// clearEnv unsets every variable Load reads so host settings cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"STATEKEEPER_CONFIG", "STATEKEEPER_STATE_BACKEND", "STATEKEEPER_STATE_BUCKET", "STATEKEEPER_STATE_PREFIX",
		"STATEKEEPER_STATE_KEY", "STATEKEEPER_STATE_PATH", "GOOGLE_APPLICATION_CREDENTIALS",
		"STATEKEEPER_ARCHIVE_BACKEND", "STATEKEEPER_ARCHIVE_ROOT", "STATEKEEPER_ARCHIVE_BUCKET", "STATEKEEPER_ARCHIVE_PREFIX",
		"STATEKEEPER_CATALOG_BACKEND", "STATEKEEPER_CATALOG_DIR", "DATABASE_URL",
		"STATEKEEPER_LOCK_BACKEND", "STATEKEEPER_LOCK_BUCKET", "STATEKEEPER_LOCK_TIMEOUT",
		"AWS_REGION", "S3_ENDPOINT", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_USE_PATH_STYLE",
		"TEMPORAL_ADDRESS", "TEMPORAL_NAMESPACE", "TEMPORAL_TASK_QUEUE", "TEMPORAL_SCHEDULE",
		"TEMPORAL_TLS_CERT", "TEMPORAL_TLS_KEY", "TEMPORAL_TLS_CA_CERT", "TEMPORAL_TLS_SERVER_NAME",
		"HTTP_LISTEN_ADDR", "METRICS_LISTEN_ADDR", "STATEKEEPER_METRICS_TEXTFILE", "STATEKEEPER_REPO_DIR",
		"LOG_LEVEL", "LOG_FILE", "STATEKEEPER_KEEP_COUNT", "STATEKEEPER_PRE_RESTORE_KEEP",
		"STATEKEEPER_PRUNE_AFTER_BACKUP", "STATEKEEPER_ALLOW_EMPTY_BACKUP",
	} {
		t.Setenv(k, "")
	}
	// Run from an empty directory so no stray .env is picked up.
	t.Chdir(t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "s3", cfg.StateStore.Backend)
	assert.Equal(t, "filesystem", cfg.Archive.Backend)
	assert.Equal(t, "file", cfg.Catalog.Backend)
	assert.Equal(t, "mutex", cfg.Lock.Backend)
	assert.Equal(t, 30*time.Second, cfg.Lock.Timeout)
	assert.Equal(t, 10, cfg.Retention.KeepCount)
	assert.Equal(t, 10, cfg.Retention.PreRestoreKeep)
	assert.True(t, cfg.PruneAfterBackup)
	assert.False(t, cfg.AllowEmptyBackup)
	assert.Equal(t, "localhost:7233", cfg.Temporal.Address)
	assert.Equal(t, "statekeeper", cfg.Temporal.TaskQueue)
	assert.Equal(t, ":8090", cfg.HTTPListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "statekeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
state_store:
  backend: gcs
  bucket: infra-state
  prefix: terraform
archive:
  backend: s3
  bucket: infra-backups
lock:
  backend: s3
  timeout: 2m
retention:
  keep_count: 20
  environments:
    prod:
      keep_count: 50
prune_after_backup: false
allow_empty_backup: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gcs", cfg.StateStore.Backend)
	assert.Equal(t, "infra-state", cfg.StateStore.Bucket)
	assert.Equal(t, "terraform", cfg.StateStore.Prefix)
	assert.Equal(t, "terraform.tfstate", cfg.StateStore.Key, "defaults survive partial files")
	assert.Equal(t, "s3", cfg.Archive.Backend)
	assert.Equal(t, 2*time.Minute, cfg.Lock.Timeout)
	assert.False(t, cfg.PruneAfterBackup)
	assert.True(t, cfg.AllowEmptyBackup)

	assert.Equal(t, model.RetentionPolicy{KeepCount: 50, PreRestoreKeep: 10}, cfg.RetentionPolicy(model.EnvProduction))
	assert.Equal(t, model.RetentionPolicy{KeepCount: 20, PreRestoreKeep: 10}, cfg.RetentionPolicy(model.EnvStaging))
}

func TestLoad_UnknownYAMLField(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "statekeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keep_count: 3\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "statekeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retention:\n  keep_count: 20\n"), 0o600))
	t.Setenv("STATEKEEPER_KEEP_COUNT", "5")
	t.Setenv("STATEKEEPER_PRUNE_AFTER_BACKUP", "false")
	t.Setenv("STATEKEEPER_LOCK_TIMEOUT", "45s")
	t.Setenv("DATABASE_URL", "postgres://localhost/statekeeper")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Retention.KeepCount)
	assert.False(t, cfg.PruneAfterBackup)
	assert.Equal(t, 45*time.Second, cfg.Lock.Timeout)
	assert.Equal(t, "postgres://localhost/statekeeper", cfg.Catalog.DatabaseURL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_ConfigPathFromEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "statekeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_listen_addr: \":7070\"\n"), 0o600))
	t.Setenv("STATEKEEPER_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTPListenAddr)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	require.NoError(t, os.WriteFile(".env", []byte("STATEKEEPER_ARCHIVE_ROOT=/from/dotenv\nTEMPORAL_NAMESPACE=dotenv\n"), 0o600))
	t.Setenv("TEMPORAL_NAMESPACE", "real")
	// .env only fills variables that are absent, not merely empty.
	require.NoError(t, os.Unsetenv("STATEKEEPER_ARCHIVE_ROOT"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/from/dotenv", cfg.Archive.Root)
	assert.Equal(t, "real", cfg.Temporal.Namespace)
}

func TestLoad_InvalidNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("STATEKEEPER_KEEP_COUNT", "ten")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STATEKEEPER_KEEP_COUNT")
}

func validConfig() *Config {
	cfg := Default()
	cfg.StateStore.Bucket = "infra-state"
	return cfg
}

func TestValidate_AllComponents(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate(ComponentCLI))
	assert.NoError(t, cfg.Validate(ComponentWorker))
	assert.NoError(t, cfg.Validate(ComponentCatalogAPI))
}

func TestValidate_Backends(t *testing.T) {
	cfg := validConfig()
	cfg.StateStore.Backend = "ftp"
	cfg.Catalog.Backend = "postgres"
	cfg.Retention.KeepCount = 0

	err := cfg.Validate(ComponentCLI)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "StateStore.Backend")
	assert.Contains(t, err.Error(), "Retention.KeepCount")
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestValidate_StorageLocations(t *testing.T) {
	cfg := validConfig()
	cfg.StateStore.Backend = "local"
	cfg.Archive.Backend = "s3"
	cfg.Catalog.Dir = ""

	err := cfg.Validate(ComponentCLI)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STATEKEEPER_STATE_PATH")
	assert.Contains(t, err.Error(), "STATEKEEPER_ARCHIVE_BUCKET")
	assert.Contains(t, err.Error(), "STATEKEEPER_CATALOG_DIR")
}

func TestValidate_Worker(t *testing.T) {
	cfg := validConfig()
	cfg.Temporal.Address = ""
	cfg.Temporal.Environments = []string{"prod", "qa"}

	err := cfg.Validate(ComponentWorker)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEMPORAL_ADDRESS")
	assert.Contains(t, err.Error(), `unknown environment "qa"`)
}

func TestValidate_CatalogAPI(t *testing.T) {
	cfg := validConfig()
	cfg.HTTPListenAddr = ""

	err := cfg.Validate(ComponentCatalogAPI)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP_LISTEN_ADDR")
}

func TestValidate_TLS_MismatchedCertKey(t *testing.T) {
	cfg := validConfig()
	cfg.Temporal.TLSCert = "/path/to/cert.pem"

	err := cfg.Validate(ComponentWorker)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY must both be set")
}

func TestValidate_RetentionOverrides(t *testing.T) {
	cfg := validConfig()
	cfg.Retention.Environments = map[string]model.RetentionPolicy{"qa": {KeepCount: 3}}

	err := cfg.Validate(ComponentCLI)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown environment "qa"`)
}

func TestValidate_UnknownComponent(t *testing.T) {
	err := validConfig().Validate("node-agent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown component")
}

func TestScheduledEnvironments(t *testing.T) {
	cfg := Default()
	assert.Equal(t, model.AllEnvironments, cfg.ScheduledEnvironments())

	cfg.Temporal.Environments = []string{"stage", "prod"}
	assert.Equal(t, []model.Environment{model.EnvStaging, model.EnvProduction}, cfg.ScheduledEnvironments())
}
