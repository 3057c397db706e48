package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Tracing   TracingConfig `mapstructure:"tracing"`
	Redis     RedisConfig
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Leveling  LevelingConfig  `mapstructure:"leveling"`
	Syllabus  SyllabusConfig  `mapstructure:"syllabus"`
	Events    EventsConfig    `mapstructure:"events"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool `mapstructure:"-"`
	MigrateOnly  bool `mapstructure:"-"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitConfig 作用于进度变更接口；Backend 为 memory 或 redis
type RateLimitConfig struct {
	Backend       string `mapstructure:"backend"`
	MaxRequests   int    `mapstructure:"max_requests"`
	WindowSeconds int    `mapstructure:"window_seconds"`
}

func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// ProgressConfig 课程进度与测验奖励相关参数
type ProgressConfig struct {
	PassingThresholdPercent int `mapstructure:"passing_threshold_percent"`
	DefaultLessonXP         int `mapstructure:"default_lesson_xp"`
	DefaultQuizXP           int `mapstructure:"default_quiz_xp"`
	MaxTxnRetries           int `mapstructure:"max_txn_retries"`
}

// LevelingConfig 经验曲线。Thresholds 非空时按表查找，否则每 XPPerLevel 升一级
type LevelingConfig struct {
	XPPerLevel    int   `mapstructure:"xp_per_level"`
	Thresholds    []int `mapstructure:"thresholds"`
	CoinsPerLevel int   `mapstructure:"coins_per_level"`
}

type SyllabusConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type EventsConfig struct {
	RedisChannel string `mapstructure:"redis_channel"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.parsetime", true)
	v.SetDefault("redis.port", 6379)
	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.max_requests", 30)
	v.SetDefault("rate_limit.window_seconds", 60)
	v.SetDefault("progress.passing_threshold_percent", 70)
	v.SetDefault("progress.default_lesson_xp", 10)
	v.SetDefault("progress.default_quiz_xp", 50)
	v.SetDefault("progress.max_txn_retries", 5)
	v.SetDefault("leveling.xp_per_level", 100)
	v.SetDefault("leveling.coins_per_level", 10)
	v.SetDefault("syllabus.concurrency", 8)
	v.SetDefault("events.redis_channel", "learnhub:events")
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("LEARNHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	// Database
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.mode", "SERVER_MODE")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	// 生产环境校验 JWT Secret 强度
	if c.Server.Mode == "release" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(c.JWT.Secret))
	}
	if c.Progress.PassingThresholdPercent < 0 || c.Progress.PassingThresholdPercent > 100 {
		return fmt.Errorf("progress.passing_threshold_percent must be within [0,100], got %d", c.Progress.PassingThresholdPercent)
	}
	if len(c.Leveling.Thresholds) == 0 && c.Leveling.XPPerLevel <= 0 {
		return fmt.Errorf("leveling.xp_per_level must be positive when no thresholds are configured")
	}
	for i := 1; i < len(c.Leveling.Thresholds); i++ {
		if c.Leveling.Thresholds[i] < c.Leveling.Thresholds[i-1] {
			return fmt.Errorf("leveling.thresholds must be non-decreasing")
		}
	}
	if c.RateLimit.MaxRequests <= 0 || c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("rate_limit.max_requests and rate_limit.window_seconds must be positive")
	}
	if c.RateLimit.Backend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("rate_limit.backend=redis requires redis.enabled")
	}
	return nil
}
