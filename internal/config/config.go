package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/edvin/statekeeper/internal/model"
	"github.com/edvin/statekeeper/internal/objectstore"
)

// Components that call Validate.
const (
	ComponentCLI        = "statectl"
	ComponentWorker     = "worker"
	ComponentCatalogAPI = "catalog-api"
)

type Config struct {
	StateStore StateStoreConfig `yaml:"state_store"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Lock       LockConfig       `yaml:"lock"`
	Retention  RetentionConfig  `yaml:"retention"`
	S3         S3Config         `yaml:"s3"`
	Temporal   TemporalConfig   `yaml:"temporal"`

	// PruneAfterBackup applies retention after every manual and scheduled backup.
	PruneAfterBackup bool `yaml:"prune_after_backup"`
	// AllowEmptyBackup records an empty backup for environments without remote state.
	AllowEmptyBackup bool `yaml:"allow_empty_backup"`

	HTTPListenAddr    string `yaml:"http_listen_addr"`
	MetricsListenAddr string `yaml:"metrics_listen_addr"`
	MetricsTextfile   string `yaml:"metrics_textfile"`
	RepoDir           string `yaml:"repo_dir"`

	ServiceName string `yaml:"-"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
}

type StateStoreConfig struct {
	Backend         string `yaml:"backend" validate:"required,oneof=s3 gcs local"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Key             string `yaml:"key"`
	Path            string `yaml:"path"`
	CredentialsFile string `yaml:"credentials_file"`
}

type ArchiveConfig struct {
	Backend string `yaml:"backend" validate:"required,oneof=filesystem s3"`
	Root    string `yaml:"root"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
}

type CatalogConfig struct {
	Backend     string `yaml:"backend" validate:"required,oneof=file postgres"`
	Dir         string `yaml:"dir"`
	DatabaseURL string `yaml:"database_url"`
}

type LockConfig struct {
	Backend  string        `yaml:"backend" validate:"required,oneof=mutex s3 none"`
	Timeout  time.Duration `yaml:"timeout" validate:"min=0"`
	LeaseTTL time.Duration `yaml:"lease_ttl" validate:"min=0"`
	Bucket   string        `yaml:"bucket"`
	Prefix   string        `yaml:"prefix"`
}

type RetentionConfig struct {
	KeepCount      int                                `yaml:"keep_count" validate:"min=1"`
	PreRestoreKeep int                                `yaml:"pre_restore_keep" validate:"min=1"`
	Environments   map[string]model.RetentionPolicy `yaml:"environments"`
}

type S3Config struct {
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

type TemporalConfig struct {
	Address       string   `yaml:"address"`
	Namespace     string   `yaml:"namespace"`
	TaskQueue     string   `yaml:"task_queue"`
	Schedule      string   `yaml:"schedule"`
	Environments  []string `yaml:"environments"`
	TLSCert       string   `yaml:"tls_cert"`
	TLSKey        string   `yaml:"tls_key"`
	TLSCACert     string   `yaml:"tls_ca_cert"`
	TLSServerName string   `yaml:"tls_server_name"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		StateStore: StateStoreConfig{Backend: "s3", Key: "terraform.tfstate"},
		Archive:    ArchiveConfig{Backend: "filesystem", Root: "backups"},
		Catalog:    CatalogConfig{Backend: "file", Dir: "backups/catalog"},
		Lock:       LockConfig{Backend: "mutex", Timeout: 30 * time.Second, LeaseTTL: 15 * time.Minute, Prefix: "statekeeper"},
		Retention: RetentionConfig{
			KeepCount:      model.DefaultKeepCount,
			PreRestoreKeep: model.DefaultKeepCount,
		},
		Temporal: TemporalConfig{
			Address:   "localhost:7233",
			Namespace: "default",
			TaskQueue: "statekeeper",
		},
		PruneAfterBackup:  true,
		HTTPListenAddr:    ":8090",
		MetricsListenAddr: ":9090",
		LogLevel:          "info",
	}
}

// Load builds the configuration from defaults, an optional YAML file, a .env
// file in the working directory and the process environment, in increasing
// order of precedence. path may be empty; STATEKEEPER_CONFIG is used then.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("STATEKEEPER_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.StateStore.Backend = getEnv("STATEKEEPER_STATE_BACKEND", c.StateStore.Backend)
	c.StateStore.Bucket = getEnv("STATEKEEPER_STATE_BUCKET", c.StateStore.Bucket)
	c.StateStore.Prefix = getEnv("STATEKEEPER_STATE_PREFIX", c.StateStore.Prefix)
	c.StateStore.Key = getEnv("STATEKEEPER_STATE_KEY", c.StateStore.Key)
	c.StateStore.Path = getEnv("STATEKEEPER_STATE_PATH", c.StateStore.Path)
	c.StateStore.CredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", c.StateStore.CredentialsFile)

	c.Archive.Backend = getEnv("STATEKEEPER_ARCHIVE_BACKEND", c.Archive.Backend)
	c.Archive.Root = getEnv("STATEKEEPER_ARCHIVE_ROOT", c.Archive.Root)
	c.Archive.Bucket = getEnv("STATEKEEPER_ARCHIVE_BUCKET", c.Archive.Bucket)
	c.Archive.Prefix = getEnv("STATEKEEPER_ARCHIVE_PREFIX", c.Archive.Prefix)

	c.Catalog.Backend = getEnv("STATEKEEPER_CATALOG_BACKEND", c.Catalog.Backend)
	c.Catalog.Dir = getEnv("STATEKEEPER_CATALOG_DIR", c.Catalog.Dir)
	c.Catalog.DatabaseURL = getEnv("DATABASE_URL", c.Catalog.DatabaseURL)

	c.Lock.Backend = getEnv("STATEKEEPER_LOCK_BACKEND", c.Lock.Backend)
	c.Lock.Bucket = getEnv("STATEKEEPER_LOCK_BUCKET", c.Lock.Bucket)

	c.S3.Region = getEnv("AWS_REGION", c.S3.Region)
	c.S3.Endpoint = getEnv("S3_ENDPOINT", c.S3.Endpoint)
	c.S3.AccessKey = getEnv("S3_ACCESS_KEY", c.S3.AccessKey)
	c.S3.SecretKey = getEnv("S3_SECRET_KEY", c.S3.SecretKey)

	c.Temporal.Address = getEnv("TEMPORAL_ADDRESS", c.Temporal.Address)
	c.Temporal.Namespace = getEnv("TEMPORAL_NAMESPACE", c.Temporal.Namespace)
	c.Temporal.TaskQueue = getEnv("TEMPORAL_TASK_QUEUE", c.Temporal.TaskQueue)
	c.Temporal.Schedule = getEnv("TEMPORAL_SCHEDULE", c.Temporal.Schedule)
	c.Temporal.TLSCert = getEnv("TEMPORAL_TLS_CERT", c.Temporal.TLSCert)
	c.Temporal.TLSKey = getEnv("TEMPORAL_TLS_KEY", c.Temporal.TLSKey)
	c.Temporal.TLSCACert = getEnv("TEMPORAL_TLS_CA_CERT", c.Temporal.TLSCACert)
	c.Temporal.TLSServerName = getEnv("TEMPORAL_TLS_SERVER_NAME", c.Temporal.TLSServerName)

	c.HTTPListenAddr = getEnv("HTTP_LISTEN_ADDR", c.HTTPListenAddr)
	c.MetricsListenAddr = getEnv("METRICS_LISTEN_ADDR", c.MetricsListenAddr)
	c.MetricsTextfile = getEnv("STATEKEEPER_METRICS_TEXTFILE", c.MetricsTextfile)
	c.RepoDir = getEnv("STATEKEEPER_REPO_DIR", c.RepoDir)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)

	var err error
	if c.Lock.Timeout, err = getDuration("STATEKEEPER_LOCK_TIMEOUT", c.Lock.Timeout); err != nil {
		return err
	}
	if c.Retention.KeepCount, err = getInt("STATEKEEPER_KEEP_COUNT", c.Retention.KeepCount); err != nil {
		return err
	}
	if c.Retention.PreRestoreKeep, err = getInt("STATEKEEPER_PRE_RESTORE_KEEP", c.Retention.PreRestoreKeep); err != nil {
		return err
	}
	if c.PruneAfterBackup, err = getBool("STATEKEEPER_PRUNE_AFTER_BACKUP", c.PruneAfterBackup); err != nil {
		return err
	}
	if c.AllowEmptyBackup, err = getBool("STATEKEEPER_ALLOW_EMPTY_BACKUP", c.AllowEmptyBackup); err != nil {
		return err
	}
	if c.S3.UsePathStyle, err = getBool("S3_USE_PATH_STYLE", c.S3.UsePathStyle); err != nil {
		return err
	}
	return nil
}

var validate = validator.New()

// Validate checks the settings component needs and reports every problem at once.
func (c *Config) Validate(component string) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate %s config: %w", component, err)
		}
		for _, fe := range verrs {
			add("%s: failed %q (value %v)", fe.Namespace(), fe.ActualTag(), fe.Value())
		}
	}

	for name, p := range c.Retention.Environments {
		if _, err := model.ParseEnvironment(name); err != nil {
			add("retention.environments: unknown environment %q", name)
		}
		if p.KeepCount < 0 || p.PreRestoreKeep < 0 {
			add("retention.environments.%s: keep counts must not be negative", name)
		}
	}

	if (c.Temporal.TLSCert == "") != (c.Temporal.TLSKey == "") {
		add("TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY must both be set")
	}

	needsStorage := component == ComponentCLI || component == ComponentWorker || component == ComponentCatalogAPI
	if needsStorage {
		switch c.Archive.Backend {
		case "filesystem":
			if c.Archive.Root == "" {
				add("STATEKEEPER_ARCHIVE_ROOT is required for the filesystem archive")
			}
		case "s3":
			if c.Archive.Bucket == "" {
				add("STATEKEEPER_ARCHIVE_BUCKET is required for the s3 archive")
			}
		}
		switch c.Catalog.Backend {
		case "file":
			if c.Catalog.Dir == "" {
				add("STATEKEEPER_CATALOG_DIR is required for the file catalog")
			}
		case "postgres":
			if c.Catalog.DatabaseURL == "" {
				add("DATABASE_URL is required for the postgres catalog")
			}
		}
		switch c.StateStore.Backend {
		case "s3", "gcs":
			if c.StateStore.Bucket == "" {
				add("STATEKEEPER_STATE_BUCKET is required for the %s state store", c.StateStore.Backend)
			}
		case "local":
			if c.StateStore.Path == "" {
				add("STATEKEEPER_STATE_PATH is required for the local state store")
			}
		}
	}
	if c.Lock.Backend == "s3" && c.Lock.Bucket == "" && c.StateStore.Bucket == "" {
		add("STATEKEEPER_LOCK_BUCKET is required for s3 leases")
	}

	switch component {
	case ComponentCLI:
	case ComponentWorker:
		if c.Temporal.Address == "" {
			add("TEMPORAL_ADDRESS is required")
		}
		if c.Temporal.TaskQueue == "" {
			add("TEMPORAL_TASK_QUEUE is required")
		}
		for _, e := range c.Temporal.Environments {
			if _, err := model.ParseEnvironment(e); err != nil {
				add("temporal.environments: unknown environment %q", e)
			}
		}
	case ComponentCatalogAPI:
		if c.HTTPListenAddr == "" {
			add("HTTP_LISTEN_ADDR is required")
		}
	default:
		add("unknown component %q", component)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid %s config: %s", component, strings.Join(problems, "; "))
	}
	return nil
}

// RetentionPolicy returns the policy for env: the per-environment override
// where set, the global counts otherwise.
func (c *Config) RetentionPolicy(env model.Environment) model.RetentionPolicy {
	p := model.RetentionPolicy{KeepCount: c.Retention.KeepCount, PreRestoreKeep: c.Retention.PreRestoreKeep}
	for name, o := range c.Retention.Environments {
		parsed, err := model.ParseEnvironment(name)
		if err != nil || parsed != env {
			continue
		}
		if o.KeepCount > 0 {
			p.KeepCount = o.KeepCount
		}
		if o.PreRestoreKeep > 0 {
			p.PreRestoreKeep = o.PreRestoreKeep
		}
	}
	return p
}

// ScheduledEnvironments returns the environments scheduled backups cover.
func (c *Config) ScheduledEnvironments() []model.Environment {
	if len(c.Temporal.Environments) == 0 {
		return model.AllEnvironments
	}
	var envs []model.Environment
	for _, e := range c.Temporal.Environments {
		if env, err := model.ParseEnvironment(e); err == nil {
			envs = append(envs, env)
		}
	}
	return envs
}

// S3Options converts the shared S3 settings for objectstore.NewS3Client.
func (c *Config) S3Options() objectstore.S3Options {
	return objectstore.S3Options{
		Region:       c.S3.Region,
		Endpoint:     c.S3.Endpoint,
		AccessKey:    c.S3.AccessKey,
		SecretKey:    c.S3.SecretKey,
		UsePathStyle: c.S3.UsePathStyle,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
