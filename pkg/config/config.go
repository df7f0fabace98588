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

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Risk          RiskConfig
	Import        ImportConfig
	Dashboard     DashboardConfig
	Reports       ReportsConfig
	Notifications NotificationsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int

	ConnMaxLifetime   time.Duration
	ConnectRetries    int
	ConnectRetryDelay time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password    string
	DB          int
	DialTimeout time.Duration
	PoolSize    int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// RiskConfig holds every threshold used by the risk evaluator.
type RiskConfig struct {
	CriticalBelow         float64
	WarningBelow          float64
	StrictWarningBelow    float64
	AttendanceScale       string
	QuizMax               float64
	AttendanceWeight      float64
	HomeworkWeight        float64
	QuizWeight            float64
	HealthGoodAtLeast     float64
	HealthWarnAtLeast     float64
	CompositeSafeAtLeast  float64
	CompositeWatchAtLeast float64
}

// ImportConfig configures the CSV observation importer.
type ImportConfig struct {
	MaxFileSizeBytes int64
	ErrorPreview     int
	AllowedMIMEs     []string
	// CredentialPolicy is "username" or "fixed".
	CredentialPolicy string
	DefaultPassword  string
	DefaultClassName string
}

// ReportsConfig configures roster report generation.
type ReportsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	CleanupInterval time.Duration
}

// NotificationsConfig tunes the urgent contact dispatch queue.
type NotificationsConfig struct {
	Workers int
	Retries int
}

// DashboardConfig governs dashboard exposure and cache tuning.
type DashboardConfig struct {
	Enabled  bool
	CacheTTL time.Duration
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

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),

		ConnMaxLifetime:   parseDuration(v.GetString("DB_CONN_MAX_LIFETIME"), time.Hour),
		ConnectRetries:    v.GetInt("DB_CONNECT_RETRIES"),
		ConnectRetryDelay: parseDuration(v.GetString("DB_CONNECT_RETRY_DELAY"), 2*time.Second),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password:    v.GetString("REDIS_PASSWORD"),
		DB:          v.GetInt("REDIS_DB"),
		DialTimeout: parseDuration(v.GetString("REDIS_DIAL_TIMEOUT"), 5*time.Second),
		PoolSize:    v.GetInt("REDIS_POOL_SIZE"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Risk = RiskConfig{
		CriticalBelow:         v.GetFloat64("RISK_CRITICAL_BELOW"),
		WarningBelow:          v.GetFloat64("RISK_WARNING_BELOW"),
		StrictWarningBelow:    v.GetFloat64("RISK_STRICT_WARNING_BELOW"),
		AttendanceScale:       v.GetString("RISK_ATTENDANCE_SCALE"),
		QuizMax:               v.GetFloat64("RISK_QUIZ_MAX"),
		AttendanceWeight:      v.GetFloat64("RISK_ATTENDANCE_WEIGHT"),
		HomeworkWeight:        v.GetFloat64("RISK_HOMEWORK_WEIGHT"),
		QuizWeight:            v.GetFloat64("RISK_QUIZ_WEIGHT"),
		HealthGoodAtLeast:     v.GetFloat64("RISK_HEALTH_GOOD_AT_LEAST"),
		HealthWarnAtLeast:     v.GetFloat64("RISK_HEALTH_WARNING_AT_LEAST"),
		CompositeSafeAtLeast:  v.GetFloat64("RISK_COMPOSITE_SAFE_AT_LEAST"),
		CompositeWatchAtLeast: v.GetFloat64("RISK_COMPOSITE_WATCH_AT_LEAST"),
	}

	maxImportSize := v.GetInt64("IMPORT_MAX_FILE_SIZE")
	if maxImportSize <= 0 {
		maxImportSize = 5 * 1024 * 1024
	}
	cfg.Import = ImportConfig{
		MaxFileSizeBytes: maxImportSize,
		ErrorPreview:     v.GetInt("IMPORT_ERROR_PREVIEW"),
		AllowedMIMEs:     splitAndTrim(v.GetString("IMPORT_ALLOWED_MIME_TYPES")),
		CredentialPolicy: v.GetString("IMPORT_CREDENTIAL_POLICY"),
		DefaultPassword:  v.GetString("IMPORT_DEFAULT_PASSWORD"),
		DefaultClassName: v.GetString("IMPORT_DEFAULT_CLASS_NAME"),
	}

	cfg.Dashboard = DashboardConfig{
		Enabled:  v.GetBool("ENABLE_DASHBOARD_CACHE"),
		CacheTTL: parseDuration(v.GetString("DASHBOARD_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Reports = ReportsConfig{
		StorageDir:      v.GetString("REPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("REPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("REPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval: parseDuration(v.GetString("REPORTS_CLEANUP_INTERVAL"), time.Hour),
	}

	cfg.Notifications = NotificationsConfig{
		Workers: v.GetInt("NOTIFY_WORKERS"),
		Retries: v.GetInt("NOTIFY_RETRIES"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ErrInsecureSecret is returned when production runs with a development secret.
var ErrInsecureSecret = errors.New("production requires non-default secrets")

func (c *Config) validate() error {
	if c.Env != EnvProduction {
		return nil
	}
	if c.JWT.Secret == defaultJWTSecret || c.Reports.SignedURLSecret == defaultReportsSecret {
		return ErrInsecureSecret
	}
	return nil
}

const (
	defaultJWTSecret     = "dev_secret"
	defaultReportsSecret = "dev_reports_secret"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "smartgrade")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DB_CONNECT_RETRIES", 5)
	v.SetDefault("DB_CONNECT_RETRY_DELAY", "2s")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_POOL_SIZE", 10)

	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("RISK_CRITICAL_BELOW", 50)
	v.SetDefault("RISK_WARNING_BELOW", 60)
	v.SetDefault("RISK_STRICT_WARNING_BELOW", 70)
	v.SetDefault("RISK_ATTENDANCE_SCALE", "auto")
	v.SetDefault("RISK_QUIZ_MAX", 20)
	v.SetDefault("RISK_ATTENDANCE_WEIGHT", 0.4)
	v.SetDefault("RISK_HOMEWORK_WEIGHT", 0.3)
	v.SetDefault("RISK_QUIZ_WEIGHT", 0.3)
	v.SetDefault("RISK_HEALTH_GOOD_AT_LEAST", 70)
	v.SetDefault("RISK_HEALTH_WARNING_AT_LEAST", 50)
	v.SetDefault("RISK_COMPOSITE_SAFE_AT_LEAST", 80)
	v.SetDefault("RISK_COMPOSITE_WATCH_AT_LEAST", 60)

	v.SetDefault("IMPORT_MAX_FILE_SIZE", 5*1024*1024)
	v.SetDefault("IMPORT_ERROR_PREVIEW", 5)
	v.SetDefault("IMPORT_ALLOWED_MIME_TYPES", "text/plain,text/csv")
	v.SetDefault("IMPORT_CREDENTIAL_POLICY", "username")
	v.SetDefault("IMPORT_DEFAULT_PASSWORD", "")
	v.SetDefault("IMPORT_DEFAULT_CLASS_NAME", "")

	v.SetDefault("ENABLE_DASHBOARD_CACHE", true)
	v.SetDefault("DASHBOARD_CACHE_TTL", "5m")

	v.SetDefault("REPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("REPORTS_SIGNED_URL_SECRET", defaultReportsSecret)
	v.SetDefault("REPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("REPORTS_CLEANUP_INTERVAL", "1h")

	v.SetDefault("NOTIFY_WORKERS", 1)
	v.SetDefault("NOTIFY_RETRIES", 3)
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
