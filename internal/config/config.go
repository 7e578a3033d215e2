// Package config loads relay configuration from defaults, an optional config
// file, the environment and command-line flags, in increasing precedence.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	BackendCloudinary = "cloudinary"
	BackendMinIO      = "minio"

	DefaultPort               = "3000"
	DefaultStaticDir          = "public"
	DefaultStaticIndex        = "index.html"
	DefaultMultipartMemory    = int64(32 << 20)
	DefaultBreakerTimeout     = 30 * time.Second
	DefaultAllowedOriginLocal = "http://localhost:3000"
)

// Config is the complete runtime configuration.
type Config struct {
	Port       string           `validate:"required"`
	Env        string           `validate:"omitempty,oneof=development staging production"`
	Backend    string           `validate:"required,oneof=cloudinary minio"`
	Cloudinary CloudinaryConfig `validate:"-"`
	MinIO      MinIOConfig      `validate:"-"`
	Log        LogConfig
	CORS       CORSConfig
	Static     StaticConfig
	Upload     UploadConfig
	Breaker    BreakerConfig
}

type LogConfig struct {
	Level  string `validate:"omitempty,oneof=debug info warn warning error"`
	Format string `validate:"omitempty,oneof=json text"`
}

type CloudinaryConfig struct {
	URL          string
	CloudName    string
	APIKey       string
	APISecret    string
	UploadPreset string
	UploadPrefix string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	PublicURL string
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowAll       bool
}

type StaticConfig struct {
	Dir   string `validate:"required"`
	Index string `validate:"required"`
}

type UploadConfig struct {
	MaxBytes        int64 `validate:"gte=0"`
	MultipartMemory int64 `validate:"gt=0"`
}

type BreakerConfig struct {
	MaxFailures uint32
	Timeout     time.Duration `validate:"gte=0"`
}

// Addr is the listen address derived from Port.
func (c Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Port, ":")
}

// UploadPreset returns the configured preset. MinIO uses it as an object key
// prefix.
func (c Config) UploadPreset() string {
	return c.Cloudinary.UploadPreset
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"port":       "port",
	"backend":    "relay.backend",
	"static-dir": "static.dir",
	"log-level":  "log.level",
	"log-format": "log.format",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", DefaultPort)
	v.SetDefault("app.env", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")
	v.SetDefault("relay.backend", BackendCloudinary)
	v.SetDefault("cors.allowed_origins", DefaultAllowedOriginLocal)
	v.SetDefault("cors.allow_all", false)
	v.SetDefault("static.dir", DefaultStaticDir)
	v.SetDefault("static.index", DefaultStaticIndex)
	v.SetDefault("upload.max_bytes", 0)
	v.SetDefault("upload.multipart_memory", DefaultMultipartMemory)
	v.SetDefault("breaker.max_failures", 0)
	v.SetDefault("breaker.timeout", DefaultBreakerTimeout)

	// Keys without defaults still need registering so AutomaticEnv sees them.
	for _, key := range []string{
		"cloudinary.url", "cloudinary.cloud_name", "cloudinary.api_key",
		"cloudinary.api_secret", "cloudinary.upload_preset", "cloudinary.upload_prefix",
		"minio.endpoint", "minio.access_key", "minio.secret_key", "minio.bucket", "minio.public_url",
	} {
		v.SetDefault(key, "")
	}
}

// Load reads configuration. path may be empty; flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, err
				}
			}
		}
	}

	breakerFailures, err := strconv.ParseUint(strings.TrimSpace(v.GetString("breaker.max_failures")), 10, 32)
	if err != nil {
		return Config{}, fmt.Errorf("breaker.max_failures: %w", err)
	}

	cfg := Config{
		Port:    strings.TrimSpace(v.GetString("port")),
		Env:     strings.ToLower(v.GetString("app.env")),
		Backend: strings.ToLower(strings.TrimSpace(v.GetString("relay.backend"))),
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
		Cloudinary: CloudinaryConfig{
			URL:          v.GetString("cloudinary.url"),
			CloudName:    v.GetString("cloudinary.cloud_name"),
			APIKey:       v.GetString("cloudinary.api_key"),
			APISecret:    v.GetString("cloudinary.api_secret"),
			UploadPreset: v.GetString("cloudinary.upload_preset"),
			UploadPrefix: v.GetString("cloudinary.upload_prefix"),
		},
		MinIO: MinIOConfig{
			Endpoint:  v.GetString("minio.endpoint"),
			AccessKey: v.GetString("minio.access_key"),
			SecretKey: v.GetString("minio.secret_key"),
			Bucket:    v.GetString("minio.bucket"),
			PublicURL: v.GetString("minio.public_url"),
		},
		CORS: CORSConfig{
			AllowedOrigins: stringList(v.Get("cors.allowed_origins")),
			AllowAll:       v.GetBool("cors.allow_all"),
		},
		Static: StaticConfig{
			Dir:   v.GetString("static.dir"),
			Index: v.GetString("static.index"),
		},
		Upload: UploadConfig{
			MaxBytes:        v.GetInt64("upload.max_bytes"),
			MultipartMemory: v.GetInt64("upload.multipart_memory"),
		},
		Breaker: BreakerConfig{
			MaxFailures: uint32(breakerFailures),
			Timeout:     v.GetDuration("breaker.timeout"),
		},
	}

	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
		if cfg.Env == "production" {
			cfg.Log.Format = "json"
		}
	}

	return cfg, nil
}

// stringList accepts a comma separated string (environment) or a list
// (config file).
func stringList(raw any) []string {
	var items []string
	switch v := raw.(type) {
	case string:
		items = strings.Split(v, ",")
	case []string:
		items = v
	case []any:
		for _, item := range v {
			items = append(items, fmt.Sprint(item))
		}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
