// Package config provides configuration management for mixfold using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute

	defaultSampleRate      = 48000
	defaultChannels        = 18
	defaultGroupSize       = 6
	defaultMaxSegmentBytes = 256 * 1024 * 1024 // 256MB

	defaultUploadConcurrency = 2
	defaultUploadRetryDelay  = 5 * time.Second
	defaultUploadMaxRetries  = 5

	defaultSweepInterval  = 60 * time.Second
	defaultIngestTimeout  = 10 * time.Minute
	defaultStepMaxRetries = 2
	defaultStepRetryDelay = 2 * time.Second
	defaultStepBackoff    = 2.0

	defaultQuietThresholdDB    = -50.0
	defaultSilenceThresholdDB  = -60.0
	defaultTargetLUFS          = -16.0
	defaultTargetTruePeakDB    = -1.5
	defaultTargetLRA           = 11.0
	defaultHighGainThresholdDB = 20.0
	defaultMinGainLU           = 1.0
	defaultVBRQuality          = 2
	defaultQuietVBRQuality     = 7
	defaultHLSSegmentSeconds   = 10
	defaultHLSAudioBitrate     = "128k"
	defaultPeaksPixelsPerSec   = 50
	defaultPeaksBits           = 8
	defaultPrefetchConcurrency = 4
	defaultHLSUploadConcurrency = 10
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	ObjectStore ObjectStoreConfig `mapstructure:"objectstore"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	Uploader    UploaderConfig    `mapstructure:"uploader"`
	Sessions    SessionsConfig    `mapstructure:"sessions"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Audio       AudioConfig       `mapstructure:"audio"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds local blob storage configuration.
type StorageConfig struct {
	// BaseDir is the root under which each session gets its own directory.
	BaseDir string `mapstructure:"base_dir"`
	// FailedUploadDir overrides the dead-letter directory
	// (default: {base_dir}/.failed_uploads).
	FailedUploadDir string `mapstructure:"failed_upload_dir"`
}

// ObjectStoreConfig holds the S3-compatible object store configuration.
// AccessKey and SecretKey are redacted from logs.
type ObjectStoreConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	Region         string `mapstructure:"region"`
	Bucket         string `mapstructure:"bucket"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key" masq:"secret"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	PublicBaseURL  string `mapstructure:"public_base_url"`
	SegmentsPrefix string `mapstructure:"segments_prefix"`
	HLSPrefix      string `mapstructure:"hls_prefix"`
	PeaksPrefix    string `mapstructure:"peaks_prefix"`
}

// IngestConfig holds segment ingest configuration.
type IngestConfig struct {
	DefaultSampleRate int `mapstructure:"default_sample_rate"`
	DefaultChannels   int `mapstructure:"default_channels"`
	GroupSize         int `mapstructure:"group_size"`
	// MaxSegmentSize caps the accepted request body.
	// Supports human-readable values like "256MB" or raw byte counts.
	MaxSegmentSize ByteSize `mapstructure:"max_segment_size"`
}

// UploaderConfig holds background upload queue configuration.
type UploaderConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

// SessionsConfig holds session lifecycle configuration.
type SessionsConfig struct {
	// SweepInterval is how often receiving sessions are checked for inactivity.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// IngestTimeout is the inactivity window after which a receiving session
	// is considered complete.
	IngestTimeout time.Duration `mapstructure:"ingest_timeout"`
}

// PipelineConfig holds per-step retry configuration for channel processing.
type PipelineConfig struct {
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
	RetryBackoff         float64       `mapstructure:"retry_backoff"`
	TrackInDB            bool          `mapstructure:"track_in_db"`
	PrefetchConcurrency  int           `mapstructure:"prefetch_concurrency"`
	HLSUploadConcurrency int           `mapstructure:"hls_upload_concurrency"`
}

// AudioConfig holds audio tool paths and loudness thresholds.
type AudioConfig struct {
	FFmpegPath        string `mapstructure:"ffmpeg_path"`  // empty = find in PATH
	FFprobePath       string `mapstructure:"ffprobe_path"` // empty = find in PATH
	AudiowaveformPath string `mapstructure:"audiowaveform_path"`

	// QuietThresholdDB: peak amplitude below this marks a channel quiet.
	QuietThresholdDB float64 `mapstructure:"quiet_threshold_db"`
	// SilenceThresholdDB: mean volume below this marks a channel silent.
	SilenceThresholdDB float64 `mapstructure:"silence_threshold_db"`

	NormalizeEnabled    bool    `mapstructure:"normalize_enabled"`
	TargetLUFS          float64 `mapstructure:"target_lufs"`
	TargetTruePeakDB    float64 `mapstructure:"target_true_peak_db"`
	TargetLRA           float64 `mapstructure:"target_lra"`
	HighGainThresholdDB float64 `mapstructure:"high_gain_threshold_db"`
	MinGainLU           float64 `mapstructure:"min_gain_lu"`

	UseVBR          bool   `mapstructure:"use_vbr"`
	VBRQuality      int    `mapstructure:"vbr_quality"`
	QuietVBRQuality int    `mapstructure:"quiet_vbr_quality"`
	MP3Bitrate      string `mapstructure:"mp3_bitrate"`

	HLSSegmentSeconds int    `mapstructure:"hls_segment_seconds"`
	HLSAudioBitrate   string `mapstructure:"hls_audio_bitrate"`

	PeaksPixelsPerSecond int `mapstructure:"peaks_pixels_per_second"`
	PeaksBits            int `mapstructure:"peaks_bits"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with MIXFOLD_ and use underscores for
// nesting. Example: MIXFOLD_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/mixfold")
		v.AddConfigPath("$HOME/.mixfold")
	}

	v.SetEnvPrefix("MIXFOLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "mixfold.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./recordings")
	v.SetDefault("storage.failed_upload_dir", "")

	// Object store defaults
	v.SetDefault("objectstore.enabled", false)
	v.SetDefault("objectstore.endpoint", "")
	v.SetDefault("objectstore.region", "us-east-1")
	v.SetDefault("objectstore.bucket", "")
	v.SetDefault("objectstore.access_key", "")
	v.SetDefault("objectstore.secret_key", "")
	v.SetDefault("objectstore.force_path_style", false)
	v.SetDefault("objectstore.public_base_url", "")
	v.SetDefault("objectstore.segments_prefix", "segments/")
	v.SetDefault("objectstore.hls_prefix", "hls/")
	v.SetDefault("objectstore.peaks_prefix", "peaks/")

	// Ingest defaults
	v.SetDefault("ingest.default_sample_rate", defaultSampleRate)
	v.SetDefault("ingest.default_channels", defaultChannels)
	v.SetDefault("ingest.group_size", defaultGroupSize)
	v.SetDefault("ingest.max_segment_size", defaultMaxSegmentBytes)

	// Uploader defaults
	v.SetDefault("uploader.concurrency", defaultUploadConcurrency)
	v.SetDefault("uploader.retry_delay", defaultUploadRetryDelay)
	v.SetDefault("uploader.max_retries", defaultUploadMaxRetries)

	// Session lifecycle defaults
	v.SetDefault("sessions.sweep_interval", defaultSweepInterval)
	v.SetDefault("sessions.ingest_timeout", defaultIngestTimeout)

	// Pipeline defaults
	v.SetDefault("pipeline.max_retries", defaultStepMaxRetries)
	v.SetDefault("pipeline.retry_delay", defaultStepRetryDelay)
	v.SetDefault("pipeline.retry_backoff", defaultStepBackoff)
	v.SetDefault("pipeline.track_in_db", true)
	v.SetDefault("pipeline.prefetch_concurrency", defaultPrefetchConcurrency)
	v.SetDefault("pipeline.hls_upload_concurrency", defaultHLSUploadConcurrency)

	// Audio defaults
	v.SetDefault("audio.ffmpeg_path", "")
	v.SetDefault("audio.ffprobe_path", "")
	v.SetDefault("audio.audiowaveform_path", "")
	v.SetDefault("audio.quiet_threshold_db", defaultQuietThresholdDB)
	v.SetDefault("audio.silence_threshold_db", defaultSilenceThresholdDB)
	v.SetDefault("audio.normalize_enabled", true)
	v.SetDefault("audio.target_lufs", defaultTargetLUFS)
	v.SetDefault("audio.target_true_peak_db", defaultTargetTruePeakDB)
	v.SetDefault("audio.target_lra", defaultTargetLRA)
	v.SetDefault("audio.high_gain_threshold_db", defaultHighGainThresholdDB)
	v.SetDefault("audio.min_gain_lu", defaultMinGainLU)
	v.SetDefault("audio.use_vbr", true)
	v.SetDefault("audio.vbr_quality", defaultVBRQuality)
	v.SetDefault("audio.quiet_vbr_quality", defaultQuietVBRQuality)
	v.SetDefault("audio.mp3_bitrate", "192k")
	v.SetDefault("audio.hls_segment_seconds", defaultHLSSegmentSeconds)
	v.SetDefault("audio.hls_audio_bitrate", defaultHLSAudioBitrate)
	v.SetDefault("audio.peaks_pixels_per_second", defaultPeaksPixelsPerSec)
	v.SetDefault("audio.peaks_bits", defaultPeaksBits)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	if c.ObjectStore.Enabled {
		if c.ObjectStore.Bucket == "" {
			return fmt.Errorf("objectstore.bucket is required when objectstore.enabled")
		}
	}

	if c.Ingest.GroupSize < 1 {
		return fmt.Errorf("ingest.group_size must be at least 1")
	}
	if c.Ingest.DefaultChannels < 1 {
		return fmt.Errorf("ingest.default_channels must be at least 1")
	}

	if c.Uploader.Concurrency < 1 {
		return fmt.Errorf("uploader.concurrency must be at least 1")
	}

	if c.Pipeline.RetryBackoff < 1 {
		return fmt.Errorf("pipeline.retry_backoff must be >= 1")
	}

	if c.Audio.SilenceThresholdDB > c.Audio.QuietThresholdDB {
		return fmt.Errorf("audio.silence_threshold_db must not be above audio.quiet_threshold_db")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FailedUploadPath returns the dead-letter directory for upload snapshots.
func (c *StorageConfig) FailedUploadPath() string {
	if c.FailedUploadDir != "" {
		return c.FailedUploadDir
	}
	return filepath.Join(c.BaseDir, ".failed_uploads")
}
