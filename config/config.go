package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Recorder RecorderConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// RecorderConfig describes the camera being recorded.
type RecorderConfig struct {
	SourceURL       string
	Folder          string
	Channel         int
	SegmentDuration time.Duration
	MaxReconnect    int
	QuotaBytes      int64 // negative disables retention
	Width           int
	Height          int
	ReconnectDelay  time.Duration
	FFmpegPath      string
	Format          string
	Extension       string
	RTSPTCP         bool
	OverlayFont     string // empty = no timestamp overlay
	Direct          bool   // read an http(s) stream as-is instead of through ffmpeg
}

// DatabaseConfig holds PostgreSQL connection settings. An empty URL disables the catalog.
type DatabaseConfig struct {
	URL             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// Enabled reports whether a catalog database is configured.
func (c DatabaseConfig) Enabled() bool { return c.URL != "" }

// RedisConfig holds Redis connection settings. An empty Addr disables events and archiving.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether Redis is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// JWTConfig holds JWT signing and validation settings. An empty secret leaves the API open.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the archive bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	SegmentsBucket       string
	PresignExpireMinutes int
	Endpoint             string // S3-compatible endpoint (MinIO); empty = AWS
}

// Enabled reports whether offsite archiving is configured.
func (c AWSConfig) Enabled() bool { return c.Region != "" && c.SegmentsBucket != "" }

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 0),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Recorder: RecorderConfig{
			SourceURL:       getEnv("RECORDER_SOURCE_URL", ""),
			Folder:          getEnv("RECORDER_FOLDER", "videos"),
			Channel:         getEnvInt("RECORDER_CHANNEL", 1),
			SegmentDuration: time.Duration(getEnvInt("RECORDER_SEGMENT_SECONDS", 600)) * time.Second,
			MaxReconnect:    getEnvInt("RECORDER_MAX_RECONNECT", 5),
			QuotaBytes:      megabytes(getEnvInt64("RECORDER_QUOTA_MB", 20480)),
			Width:           getEnvInt("RECORDER_WIDTH", 0),
			Height:          getEnvInt("RECORDER_HEIGHT", 0),
			ReconnectDelay:  getEnvDuration("RECORDER_RECONNECT_DELAY", 0),
			FFmpegPath:      getEnv("RECORDER_FFMPEG_PATH", "ffmpeg"),
			Format:          getEnv("RECORDER_FORMAT", "matroska"),
			Extension:       getEnv("RECORDER_EXTENSION", "mkv"),
			RTSPTCP:         getEnvBool("RECORDER_RTSP_TCP", true),
			OverlayFont:     getEnv("RECORDER_OVERLAY_FONT", ""),
			Direct:          getEnvBool("RECORDER_DIRECT", false),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        int32(getEnvInt("DATABASE_MAX_CONNS", 5)),
			MaxConnLifetime: getEnvDuration("DATABASE_MAX_CONN_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", ""),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			SegmentsBucket:       getEnv("AWS_S3_SEGMENTS_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
			Endpoint:             getEnv("AWS_S3_ENDPOINT", ""),
		},
	}
	return cfg, nil
}

// Validate reports missing settings the recorder cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Recorder.SourceURL == "" {
		errs = append(errs, errors.New("RECORDER_SOURCE_URL is required"))
	}
	if c.Recorder.Folder == "" {
		errs = append(errs, errors.New("RECORDER_FOLDER must not be empty"))
	}
	if (c.Recorder.Width > 0) != (c.Recorder.Height > 0) {
		errs = append(errs, errors.New("RECORDER_WIDTH and RECORDER_HEIGHT must be set together"))
	}
	if c.Recorder.Direct && !strings.HasPrefix(c.Recorder.SourceURL, "http://") && !strings.HasPrefix(c.Recorder.SourceURL, "https://") {
		errs = append(errs, errors.New("RECORDER_DIRECT needs an http(s) RECORDER_SOURCE_URL"))
	}
	return errors.Join(errs...)
}

func megabytes(mb int64) int64 {
	if mb < 0 {
		return -1
	}
	return mb * 1024 * 1024
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("5s") or bare seconds ("5").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
