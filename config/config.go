// Package config - Layered configuration: defaults, optional YAML file,
// .env file and CUTOUT_* environment variables.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/nvr-ai/go-cutout/images"
)

// EnvPrefix prefixes every environment override, e.g. CUTOUT_SERVER_ADDR.
const EnvPrefix = "CUTOUT"

// TokenEnv is read when no segmentation token is configured.
const TokenEnv = "HF_API_TOKEN"

// Config is the complete service configuration. Each section maps to a
// top-level YAML key and to CUTOUT_<SECTION>_<KEY> environment variables.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Session      SessionConfig      `mapstructure:"session"`
	Segmentation SegmentationConfig `mapstructure:"segmentation"`
	Extraction   ExtractionConfig   `mapstructure:"extraction"`
	Refinement   RefinementConfig   `mapstructure:"refinement"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Processing   ProcessingConfig   `mapstructure:"processing"`
}

// ServerConfig holds the HTTP listener settings and upload limits.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// MaxUploadSize is in bytes.
	MaxUploadSize int64    `mapstructure:"max_upload_size"`
	AllowedExts   []string `mapstructure:"allowed_exts"`
}

// SessionConfig controls where sessions live and when they expire.
type SessionConfig struct {
	// BaseDir defaults to <tmp>/instance_seg_app when empty.
	BaseDir       string        `mapstructure:"base_dir"`
	MaxIdle       time.Duration `mapstructure:"max_idle"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// SegmentationConfig points at the remote inference endpoint.
type SegmentationConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	ModelID string        `mapstructure:"model_id"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ExtractionConfig tunes how candidate masks become cutouts.
type ExtractionConfig struct {
	Filter            string  `mapstructure:"filter"`
	NoiseFloor        uint8   `mapstructure:"noise_floor"`
	NoiseFloorEnabled bool    `mapstructure:"noise_floor_enabled"`
	MinScore          float64 `mapstructure:"min_score"`
	Workers           int     `mapstructure:"workers"`
}

// RefinementConfig tunes how erasure masks are applied.
type RefinementConfig struct {
	Filter    string `mapstructure:"filter"`
	Threshold uint8  `mapstructure:"threshold"`
}

// RedisConfig enables the segmentation response cache.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ProcessingConfig bounds the work taken on at once.
type ProcessingConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	QueueTimeout  time.Duration `mapstructure:"queue_timeout"`
	// ReportInterval logs stage timings periodically when positive.
	ReportInterval time.Duration `mapstructure:"report_interval"`
	// MaxImagePixels rejects uploads and masks declaring a larger raster.
	MaxImagePixels int `mapstructure:"max_image_pixels"`
}

// Load builds the configuration. A .env file in the working directory is
// loaded first if present. configPath may be empty; a named file that does
// not exist is an error.
//
// Arguments:
// - configPath: Optional YAML file.
//
// Returns:
// - *Config: The merged configuration.
// - error: An error if the file cannot be read or values do not decode.
//
// @example
// cfg, err := config.Load("config.yaml")
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if cfg.Segmentation.Token == "" {
		cfg.Segmentation.Token = os.Getenv(TokenEnv)
	}
	cfg.Server.AllowedExts = normalizeExts(cfg.Server.AllowedExts)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 180*time.Second)
	v.SetDefault("server.max_upload_size", 10*1024*1024)
	v.SetDefault("server.allowed_exts", []string{"png", "jpg", "jpeg"})

	v.SetDefault("session.base_dir", "")
	v.SetDefault("session.max_idle", 15*time.Minute)
	v.SetDefault("session.sweep_interval", time.Minute)

	v.SetDefault("segmentation.base_url", "https://router.huggingface.co/hf-inference/models")
	v.SetDefault("segmentation.model_id", "facebook/mask2former-swin-large-coco-instance")
	v.SetDefault("segmentation.token", "")
	v.SetDefault("segmentation.timeout", 120*time.Second)

	v.SetDefault("extraction.filter", "lanczos")
	v.SetDefault("extraction.noise_floor", 10)
	v.SetDefault("extraction.noise_floor_enabled", true)
	v.SetDefault("extraction.min_score", 0.0)
	v.SetDefault("extraction.workers", 1)

	v.SetDefault("refinement.filter", "nearest")
	v.SetDefault("refinement.threshold", 10)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", time.Hour)

	v.SetDefault("processing.max_concurrent", 3)
	v.SetDefault("processing.queue_timeout", 30*time.Second)
	v.SetDefault("processing.report_interval", 0)
	v.SetDefault("processing.max_image_pixels", images.DefaultMaxPixels)
}

func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(e)), ".")
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}
