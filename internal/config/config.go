// Package config loads service configuration from the environment.
//
// A .env file in the working directory is read first when present; real
// environment variables always win. See Config for the available keys.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"proofrender/internal/pkg/errors"
)

// Provider names accepted by RENDER_PROVIDER.
const (
	ProviderMockAIDP = "mock-aidp"
	ProviderLocal    = "local"
	ProviderAIDP     = "aidp"
)

type Config struct {
	Log      LogConfig
	HTTP     HTTPConfig
	Render   RenderConfig
	Queue    QueueConfig
	Monitor  MonitorConfig
	Jobs     JobStoreConfig
	Storage  StorageConfig
	Presets  string        `env:"PRESETS_FILE"`
	WorkDir  string        `env:"WORK_DIR" envDefault:"/tmp/proofrender"`
	Shutdown time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
	Source bool   `env:"LOG_SOURCE" envDefault:"false"`
}

type HTTPConfig struct {
	Port           string        `env:"HTTP_PORT" envDefault:"8080"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:5173"`
	MaxUploadSize  int64         `env:"MAX_UPLOAD_SIZE" envDefault:"104857600"`
	RequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"30s"`
}

type RenderConfig struct {
	Provider       string `env:"RENDER_PROVIDER" envDefault:"mock-aidp"`
	Engine         string `env:"RENDER_ENGINE" envDefault:"blender"`
	BlenderBinary  string `env:"BLENDER_BINARY" envDefault:"blender"`
	HTTPBaseURL    string `env:"RENDERER_HTTP_BASEURL"`
	TimeoutSeconds int    `env:"RENDER_TIMEOUT" envDefault:"300"`
	Resolution     string `env:"RENDER_RESOLUTION" envDefault:"1024x1024"`
	Samples        int    `env:"RENDER_SAMPLES" envDefault:"128"`
	Concurrency    int    `env:"RENDER_CONCURRENCY" envDefault:"2"`
	NominalSeconds int    `env:"RENDER_NOMINAL_SECONDS" envDefault:"60"`
}

type QueueConfig struct {
	DelayMin     time.Duration `env:"QUEUE_DELAY_MIN" envDefault:"2s"`
	DelayMax     time.Duration `env:"QUEUE_DELAY_MAX" envDefault:"5s"`
	PollInterval time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
}

type MonitorConfig struct {
	PollInterval time.Duration `env:"MONITOR_POLL_INTERVAL" envDefault:"2s"`
	PollJitter   time.Duration `env:"MONITOR_POLL_JITTER" envDefault:"0s"`
}

type JobStoreConfig struct {
	Backend     string        `env:"JOB_STORE" envDefault:"file"`
	RedisAddr   string        `env:"REDIS_ADDR"`
	RedisTTL    time.Duration `env:"REDIS_JOB_TTL" envDefault:"24h"`
	DatabaseURL string        `env:"DATABASE_URL"`
}

type StorageConfig struct {
	Provider  string `env:"STORAGE_PROVIDER" envDefault:"localfs"`
	LocalRoot string `env:"STORAGE_LOCAL_ROOT"`

	GDriveClientID     string `env:"GDRIVE_CLIENT_ID"`
	GDriveClientSecret string `env:"GDRIVE_CLIENT_SECRET"`
	GDriveRefreshToken string `env:"GDRIVE_REFRESH_TOKEN"`
	GDriveFolderID     string `env:"GDRIVE_FOLDER_ID"`

	MinioEndpoint  string `env:"MINIO_ENDPOINT"`
	MinioBucket    string `env:"MINIO_BUCKET" envDefault:"proofrender"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`
	MinioRegion    string `env:"MINIO_REGION"`
}

// Load reads .env (if any) and parses the environment into a sanitized,
// validated Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, errors.Wrap(err, "config.load", "load .env file")
		}
	}
	return Parse()
}

// Parse reads the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, errors.WrapWithCode(err, errors.CodeValidation, "config.parse", "parse config")
	}
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Sanitize applies guardrails to values loaded from env.
func (c *Config) Sanitize() {
	c.Render.Provider = strings.ToLower(strings.TrimSpace(c.Render.Provider))
	c.Render.Engine = strings.ToLower(strings.TrimSpace(c.Render.Engine))
	c.Jobs.Backend = strings.ToLower(strings.TrimSpace(c.Jobs.Backend))
	c.Storage.Provider = strings.ToLower(strings.TrimSpace(c.Storage.Provider))

	if c.Render.TimeoutSeconds <= 0 {
		c.Render.TimeoutSeconds = 300
	}
	if c.Render.Samples <= 0 {
		c.Render.Samples = 128
	}
	if c.Render.Concurrency < 1 {
		c.Render.Concurrency = 1
	}
	if c.Render.NominalSeconds <= 0 {
		c.Render.NominalSeconds = 60
	}
	if c.Queue.DelayMin < 0 {
		c.Queue.DelayMin = 0
	}
	if c.Queue.DelayMax < c.Queue.DelayMin {
		c.Queue.DelayMax = c.Queue.DelayMin
	}
	if c.Queue.PollInterval <= 0 {
		c.Queue.PollInterval = time.Second
	}
	if c.Monitor.PollInterval <= 0 {
		c.Monitor.PollInterval = 2 * time.Second
	}
	if c.Monitor.PollJitter < 0 || c.Monitor.PollJitter >= c.Monitor.PollInterval {
		c.Monitor.PollJitter = 0
	}
	if c.HTTP.MaxUploadSize <= 0 {
		c.HTTP.MaxUploadSize = 100 << 20
	}
	if c.Storage.LocalRoot == "" {
		c.Storage.LocalRoot = c.WorkDir
	}
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Render.Provider {
	case ProviderMockAIDP, ProviderLocal, ProviderAIDP:
	default:
		return errors.ValidationField("RENDER_PROVIDER", fmt.Sprintf("unknown render provider %q", c.Render.Provider))
	}

	switch c.Render.Engine {
	case "blender":
	case "http":
		if c.Render.HTTPBaseURL == "" {
			return errors.ValidationField("RENDERER_HTTP_BASEURL", "RENDERER_HTTP_BASEURL is required for the http engine")
		}
	default:
		return errors.ValidationField("RENDER_ENGINE", fmt.Sprintf("unknown render engine %q", c.Render.Engine))
	}

	if _, _, err := c.Render.Dimensions(); err != nil {
		return err
	}

	switch c.Jobs.Backend {
	case "file":
	case "redis":
		if c.Jobs.RedisAddr == "" {
			return errors.ValidationField("REDIS_ADDR", "REDIS_ADDR is required for the redis job store")
		}
	case "postgres":
		if c.Jobs.DatabaseURL == "" {
			return errors.ValidationField("DATABASE_URL", "DATABASE_URL is required for the postgres job store")
		}
	default:
		return errors.ValidationField("JOB_STORE", fmt.Sprintf("unknown job store %q", c.Jobs.Backend))
	}

	if c.WorkDir == "" || !filepath.IsAbs(c.WorkDir) {
		return errors.ValidationField("WORK_DIR", "WORK_DIR must be an absolute path")
	}
	return nil
}

// Dimensions parses Resolution ("WxH").
func (r RenderConfig) Dimensions() (int, int, error) {
	var w, h int
	if _, err := fmt.Sscanf(r.Resolution, "%dx%d", &w, &h); err != nil || w <= 0 || h <= 0 {
		return 0, 0, errors.ValidationField("RENDER_RESOLUTION", fmt.Sprintf("invalid resolution %q, expected WxH", r.Resolution))
	}
	return w, h, nil
}

// Timeout is the hard render deadline.
func (r RenderConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Nominal is the assumed render length used for progress estimates.
func (r RenderConfig) Nominal() time.Duration {
	return time.Duration(r.NominalSeconds) * time.Second
}

// Paths derived from WorkDir.

func (c Config) UploadsDir() string { return filepath.Join(c.WorkDir, "uploads") }
func (c Config) OutputsDir() string { return filepath.Join(c.WorkDir, "outputs") }
func (c Config) JobsDir() string    { return filepath.Join(c.WorkDir, "jobs") }
