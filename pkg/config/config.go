package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Attendance AttendanceConfig
	RateLimit  RateLimitConfig
}

// DatabaseConfig describes the hosted store. The client role is the restricted
// tier used for reads; the service role bypasses row-level policies and is
// used for server-side writes.
type DatabaseConfig struct {
	Driver       string
	URL          string
	Host         string
	Port         int
	Name         string
	SSLMode      string
	ClientRole   string
	ClientKey    string
	ServiceRole  string
	ServiceKey   string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig configures verification of identity-provider access tokens.
type JWTConfig struct {
	Secret                string
	Issuer                string
	Audience              string
	TrustUserMetadataRole bool
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// AttendanceConfig tunes session lifecycle and derived views.
type AttendanceConfig struct {
	DefaultDuration time.Duration
	MaxDuration     time.Duration
	PINAttempts     int
	StatsCacheTTL   time.Duration
	JoinTokenSecret string
	QRSize          int
}

// RateLimitConfig bounds attendance marking per caller.
type RateLimitConfig struct {
	MarkPerMinute int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Driver:       v.GetString("DB_DRIVER"),
		URL:          v.GetString("DATABASE_URL"),
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		ClientRole:   v.GetString("DB_CLIENT_ROLE"),
		ClientKey:    v.GetString("DB_CLIENT_KEY"),
		ServiceRole:  v.GetString("DB_SERVICE_ROLE"),
		ServiceKey:   v.GetString("DB_SERVICE_KEY"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:                v.GetString("JWT_SECRET"),
		Issuer:                v.GetString("JWT_ISSUER"),
		Audience:              v.GetString("JWT_AUDIENCE"),
		TrustUserMetadataRole: v.GetBool("AUTH_TRUST_USER_METADATA_ROLE"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	pinAttempts := v.GetInt("ATTENDANCE_PIN_ATTEMPTS")
	if pinAttempts <= 0 {
		pinAttempts = 5
	}
	cfg.Attendance = AttendanceConfig{
		DefaultDuration: parseDuration(v.GetString("ATTENDANCE_DEFAULT_DURATION"), 2*time.Hour),
		MaxDuration:     parseDuration(v.GetString("ATTENDANCE_MAX_DURATION"), 12*time.Hour),
		PINAttempts:     pinAttempts,
		StatsCacheTTL:   parseDuration(v.GetString("ATTENDANCE_STATS_CACHE_TTL"), 5*time.Minute),
		JoinTokenSecret: v.GetString("ATTENDANCE_JOIN_TOKEN_SECRET"),
		QRSize:          v.GetInt("ATTENDANCE_QR_SIZE"),
	}

	cfg.RateLimit = RateLimitConfig{
		MarkPerMinute: v.GetInt("RATE_LIMIT_MARK_PER_MINUTE"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_NAME", "edutrack")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_CLIENT_ROLE", "anon")
	v.SetDefault("DB_CLIENT_KEY", "anon")
	v.SetDefault("DB_SERVICE_ROLE", "service_role")
	v.SetDefault("DB_SERVICE_KEY", "service_role")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", false)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "authenticated")
	v.SetDefault("AUTH_TRUST_USER_METADATA_ROLE", false)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ATTENDANCE_DEFAULT_DURATION", "2h")
	v.SetDefault("ATTENDANCE_MAX_DURATION", "12h")
	v.SetDefault("ATTENDANCE_PIN_ATTEMPTS", 5)
	v.SetDefault("ATTENDANCE_STATS_CACHE_TTL", "5m")
	v.SetDefault("ATTENDANCE_JOIN_TOKEN_SECRET", "dev_join_token_secret")
	v.SetDefault("ATTENDANCE_QR_SIZE", 256)

	v.SetDefault("RATE_LIMIT_MARK_PER_MINUTE", 20)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
