// Package config loads labcore settings from defaults, an optional config
// file, a .env file and LABCORE_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. LABCORE_STORAGE_DRIVER.
const EnvPrefix = "LABCORE"

// Config is the complete runtime configuration.
type Config struct {
	Storage        Storage `mapstructure:"storage"`
	Blob           Blob    `mapstructure:"blob"`
	Index          Index   `mapstructure:"index"`
	Log            Log     `mapstructure:"log"`
	Metrics        Metrics `mapstructure:"metrics"`
	MasterDataFile string  `mapstructure:"master_data_file" validate:"omitempty,file"`
}

type (
	// Storage selects the entity store backend.
	Storage struct {
		Driver      string `mapstructure:"driver"       validate:"oneof=memory sqlite postgres"`
		SQLitePath  string `mapstructure:"sqlite_path"  validate:"required_if=Driver sqlite"`
		PostgresDSN string `mapstructure:"postgres_dsn" validate:"required_if=Driver postgres"`
	}

	// Blob selects the object store backing the index outbox.
	Blob struct {
		Driver string `mapstructure:"driver"  validate:"oneof=memory fs s3"`
		FSRoot string `mapstructure:"fs_root" validate:"required_if=Driver fs"`
		S3     S3     `mapstructure:"s3"`
	}

	// S3 configures the S3 blob backend.
	S3 struct {
		Bucket          string `mapstructure:"bucket"`
		Region          string `mapstructure:"region"`
		Endpoint        string `mapstructure:"endpoint"          validate:"omitempty,url"`
		PathStyle       bool   `mapstructure:"path_style"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
	}

	// Index configures change delivery to the search indexer.
	Index struct {
		QueueSize    int    `mapstructure:"queue_size"    validate:"min=1"`
		OutboxPrefix string `mapstructure:"outbox_prefix" validate:"required"`
	}

	// Log configures the zap logger.
	Log struct {
		Level       string `mapstructure:"level"       validate:"oneof=debug info warn error"`
		Development bool   `mapstructure:"development"`
	}

	// Metrics configures the Prometheus recorder.
	Metrics struct {
		Namespace string `mapstructure:"namespace" validate:"required"`
	}
)

// Options tells Load where to look for files. Empty fields use the defaults.
type Options struct {
	// ConfigFile is a YAML, JSON or TOML file; optional.
	ConfigFile string
	// EnvFile defaults to ".env"; a missing file is ignored.
	EnvFile string
}

// Defaults returns a viper instance with every key set to its default.
func Defaults() *viper.Viper {
	v := viper.New()
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "labcore.db")
	v.SetDefault("storage.postgres_dsn", "")

	v.SetDefault("blob.driver", "fs")
	v.SetDefault("blob.fs_root", "./blobdata")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.region", "us-east-1")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.path_style", false)
	v.SetDefault("blob.s3.access_key_id", "")
	v.SetDefault("blob.s3.secret_access_key", "")

	v.SetDefault("index.queue_size", 256)
	v.SetDefault("index.outbox_prefix", "index-outbox/")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("metrics.namespace", "labcore")
	v.SetDefault("master_data_file", "")
	return v
}

// Load resolves the configuration and validates it.
func Load(opts Options) (Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := Defaults()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		b := sl.Current().Interface().(Blob)
		if b.Driver == "s3" && b.S3.Bucket == "" {
			sl.ReportError(b.S3.Bucket, "S3.Bucket", "Bucket", "required_with_s3", "")
		}
	}, Blob{})
	return v
}

// Validate checks field constraints and cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
