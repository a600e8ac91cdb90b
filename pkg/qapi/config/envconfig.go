package config

import (
	"fmt"
	"log"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/quatton/qci/pkg/db"
	"github.com/quatton/qci/pkg/qart"
)

// EnvConfig is read from QCI_<NAME>, falling back to the bare name.
type EnvConfig struct {
	Port            string        `envconfig:"PORT" default:"3000"`
	BaseURL         string        `envconfig:"BASE_URL" default:"http://localhost:3000"`
	AuthSecret      string        `envconfig:"AUTH_SECRET" required:"true"`
	Environment     string        `envconfig:"ENVIRONMENT" default:"development"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	Platform       string        `envconfig:"PLATFORM" default:"local"`
	DataDir        string        `envconfig:"DATA_DIR" default:".qci"`
	PipelineFiles  []string      `envconfig:"PIPELINE_FILES"`
	DefaultTimeout time.Duration `envconfig:"DEFAULT_TIMEOUT" default:"0s"`
	K8sNamespace   string        `envconfig:"K8S_NAMESPACE" default:"default"`
	Kubeconfig     string        `envconfig:"KUBECONFIG"`

	RunStore   string `envconfig:"RUN_STORE" default:"file"`
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"qci"`
	DBPassword string `envconfig:"DB_PASSWORD" default:"password"`
	DBName     string `envconfig:"DB_NAME" default:"qci"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`

	ValkeyURL string        `envconfig:"VALKEY_URL"`
	DedupTTL  time.Duration `envconfig:"DEDUP_TTL" default:"24h"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"qci-runs"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3UseSSL    bool   `envconfig:"S3_USE_SSL" default:"false"`
}

var (
	platforms = []string{"local", "docker", "k8s"}
	runStores = []string{"file", "postgres"}
	envPrefix = "QCI"
	minSecret = 32
)

func IsDev() bool {
	env := strings.ToLower(strings.TrimSpace(lookupEnvironment()))
	return env == "" || env == "development" || env == "dev"
}

// ValidateEnv loads .env in development, reads the environment and checks
// the combination of settings.
func ValidateEnv() (*EnvConfig, error) {
	if IsDev() {
		if err := godotenv.Load(); err != nil {
			log.Println("ℹ No .env file found")
		} else {
			log.Println("✓ Loaded .env file")
		}
	}

	var cfg EnvConfig
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *EnvConfig) Validate() error {
	var errors []string

	if len(c.AuthSecret) < minSecret {
		errors = append(errors, fmt.Sprintf("  ❌ AUTH_SECRET must be at least %d characters", minSecret))
	}

	if !slices.Contains(platforms, c.Platform) {
		errors = append(errors, fmt.Sprintf("  ❌ PLATFORM must be one of %s", strings.Join(platforms, ", ")))
	}

	if !slices.Contains(runStores, c.RunStore) {
		errors = append(errors, fmt.Sprintf("  ❌ RUN_STORE must be one of %s", strings.Join(runStores, ", ")))
	}

	if c.DefaultTimeout < 0 {
		errors = append(errors, "  ❌ DEFAULT_TIMEOUT must not be negative")
	}

	if c.S3Endpoint != "" && (c.S3AccessKey == "" || c.S3SecretKey == "") {
		errors = append(errors, "  ❌ S3_ACCESS_KEY and S3_SECRET_KEY are required when S3_ENDPOINT is set")
	}

	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		errors = append(errors, "  ❌ BASE_URL must be a valid URL")
	}

	if len(errors) > 0 {
		return fmt.Errorf("environment validation failed:\n%s", strings.Join(errors, "\n"))
	}
	return nil
}

func (c *EnvConfig) DBConfig() db.Config {
	return db.Config{
		Host:     c.DBHost,
		Port:     c.DBPort,
		User:     c.DBUser,
		Password: c.DBPassword,
		Database: c.DBName,
		SSLMode:  c.DBSSLMode,
		Debug:    IsDev(),
	}
}

func (c *EnvConfig) S3Enabled() bool { return c.S3Endpoint != "" }

func (c *EnvConfig) S3Config() qart.S3Config {
	return qart.S3Config{
		Endpoint:  c.S3Endpoint,
		AccessKey: c.S3AccessKey,
		SecretKey: c.S3SecretKey,
		Bucket:    c.S3Bucket,
		Region:    c.S3Region,
		UseSSL:    c.S3UseSSL,
	}
}

func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

func (c *EnvConfig) Print(fmtr func(string, ...interface{})) {
	fmtr("📋 Configuration:\n")
	fmtr("  Environment: %s\n", c.Environment)
	fmtr("  Port: %s\n", c.Port)
	fmtr("  Base URL: %s\n", c.BaseURL)
	fmtr("  Auth Secret: %s\n", MaskSecret(c.AuthSecret))
	fmtr("  Platform: %s\n", c.Platform)
	fmtr("  Data Dir: %s\n", c.DataDir)

	if len(c.PipelineFiles) > 0 {
		fmtr("  Pipeline files: %s\n", strings.Join(c.PipelineFiles, ", "))
	} else {
		fmtr("  Pipeline files: builtin only\n")
	}

	if c.RunStore == "postgres" {
		fmtr("  Run store: postgres %s@%s:%d/%s (sslmode=%s)\n", c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
	} else {
		fmtr("  Run store: file\n")
	}

	if c.ValkeyURL != "" {
		fmtr("  Valkey: ✓ Enabled (dedup ttl %s)\n", c.DedupTTL)
	} else {
		fmtr("  Valkey: ✗ Disabled (in-memory dedup)\n")
	}

	if c.S3Enabled() {
		fmtr("  Artifacts: ✓ %s/%s\n", c.S3Endpoint, c.S3Bucket)
		fmtr("    Access Key: %s\n", MaskSecret(c.S3AccessKey))
	} else {
		fmtr("  Artifacts: ✗ Disabled\n")
	}
}
