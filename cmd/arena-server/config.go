package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	"codearena/internal/common/http/middleware"
	"codearena/internal/common/mq"
	"codearena/internal/common/storage"
	"codearena/internal/judge/lang"
	"codearena/internal/judge/sandbox/engine"
	"codearena/internal/judge/sandbox/spec"
	"codearena/pkg/utils/logger"
)

const (
	defaultHTTPAddr          = "0.0.0.0:8080"
	defaultReadTimeout       = 5 * time.Second
	defaultWriteTimeout      = 10 * time.Second
	defaultIdleTimeout       = 60 * time.Second
	defaultShutdownTimeout   = 15 * time.Second
	defaultStatusTTL         = 24 * time.Hour
	defaultIdempotencyTTL    = 10 * time.Minute
	defaultSideEffectTimeout = 5 * time.Second
	defaultChallengeTimeout  = 3 * time.Second
	defaultChallengeCacheTTL = 5 * time.Minute
	defaultTickInterval      = time.Second
	defaultWorkRoot          = "/var/lib/codearena/work"
	defaultMaxTimeLimitMs    = 10000
	defaultStatusTopic       = "judge.status.final"
	defaultFeedTopic         = "competition.feed"
	defaultFeedGroup         = "codearena-feed"
	defaultArchiveBucket     = "codearena-verdicts"
	defaultRateWindow        = time.Minute
)

// ServerConfig holds HTTP and gRPC listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// GRPCAddr, when set, serves the loaded challenges to other replicas.
	GRPCAddr string                `yaml:"grpcAddr"`
	CORS     middleware.CORSConfig `yaml:"cors"`
}

// RateLimitConfig throttles write routes per user and IP. It needs Redis.
type RateLimitConfig struct {
	RedisTimeout time.Duration              `yaml:"redisTimeout"`
	Submissions  middleware.RateLimitPolicy `yaml:"submissions"`
	Competitions middleware.RateLimitPolicy `yaml:"competitions"`
}

// AuthConfig holds access token settings.
type AuthConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// RedisConfig enables the Redis-backed status cache, idempotency guard and
// competition store. An empty addr keeps everything in process memory.
type RedisConfig struct {
	cache.RedisConfig `yaml:",inline"`
}

// MySQLConfig enables the MySQL submission store.
type MySQLConfig struct {
	db.MySQLConfig `yaml:",inline"`
	AutoMigrate    bool `yaml:"autoMigrate"`
}

func (c MySQLConfig) enabled() bool {
	return c.DSN != "" || c.Addr != ""
}

// MinIOConfig enables the verdict archive.
type MinIOConfig struct {
	storage.MinIOConfig `yaml:",inline"`
	Timeout             time.Duration `yaml:"timeout"`
}

// KafkaConfig enables Kafka for verdict events and the live feed. Without
// brokers an in-process queue is used.
type KafkaConfig struct {
	mq.KafkaConfig `yaml:",inline"`
	StatusTopic    string `yaml:"statusTopic"`
	FeedTopic      string `yaml:"feedTopic"`
	// FeedGroup prefixes the per-replica consumer group of the feed relay.
	FeedGroup string `yaml:"feedGroup"`
}

// WorkerConfig holds worker pool settings.
type WorkerConfig struct {
	PoolSize  int `yaml:"poolSize"`
	QueueSize int `yaml:"queueSize"`
}

// JudgeConfig holds judging settings.
type JudgeConfig struct {
	// FloatTolerance is the absolute and relative epsilon for float outputs.
	// Zero compares floats exactly.
	FloatTolerance    float64       `yaml:"floatTolerance"`
	MaxActualBytes    int           `yaml:"maxActualBytes"`
	MaxSourceBytes    int           `yaml:"maxSourceBytes"`
	StatusTTL         time.Duration `yaml:"statusTTL"`
	StatusTimeout     time.Duration `yaml:"statusTimeout"`
	IdempotencyTTL    time.Duration `yaml:"idempotencyTTL"`
	SideEffectTimeout time.Duration `yaml:"sideEffectTimeout"`
	// StaleRunningAfter fails running submissions left behind by a dead
	// process once they are this old.
	StaleRunningAfter time.Duration `yaml:"staleRunningAfter"`
}

// SandboxConfig holds engine and runner settings.
type SandboxConfig struct {
	engine.Config      `yaml:",inline"`
	WorkRoot           string             `yaml:"workRoot"`
	ContainerWorkDir   string             `yaml:"containerWorkDir"`
	MaxTimeLimitMs     int64              `yaml:"maxTimeLimitMs"`
	RunLimits          spec.ResourceLimit `yaml:"runLimits"`
	CompileLimits      spec.ResourceLimit `yaml:"compileLimits"`
	SystemErrorRetries int                `yaml:"systemErrorRetries"`
}

// ChallengeConfig selects where challenges come from.
type ChallengeConfig struct {
	// Source is "file" or "grpc".
	Source   string        `yaml:"source"`
	Dir      string        `yaml:"dir"`
	GRPCAddr string        `yaml:"grpcAddr"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// CompetitionConfig holds lifecycle and feed settings.
type CompetitionConfig struct {
	TickInterval            time.Duration `yaml:"tickInterval"`
	DefaultMaxParticipants  int           `yaml:"defaultMaxParticipants"`
	DefaultTimeLimitMinutes int           `yaml:"defaultTimeLimitMinutes"`
	UpdateRetries           int           `yaml:"updateRetries"`
	EventTimeout            time.Duration `yaml:"eventTimeout"`
	FeedSendBuffer          int           `yaml:"feedSendBuffer"`
	FeedAllowedOrigins      []string      `yaml:"feedAllowedOrigins"`
}

// AppConfig holds arena-server config.
type AppConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Logger      logger.Config     `yaml:"logger"`
	Auth        AuthConfig        `yaml:"auth"`
	Redis       RedisConfig       `yaml:"redis"`
	MySQL       MySQLConfig       `yaml:"mysql"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Worker      WorkerConfig      `yaml:"worker"`
	Judge       JudgeConfig       `yaml:"judge"`
	Sandbox     SandboxConfig     `yaml:"sandbox"`
	Languages   []lang.Spec       `yaml:"languages"`
	Challenges  ChallengeConfig   `yaml:"challenges"`
	Competition CompetitionConfig `yaml:"competition"`
	RateLimit   RateLimitConfig   `yaml:"rateLimit"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) error {
	if cfg.Auth.Secret == "" {
		return fmt.Errorf("auth secret is required")
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Redis.Addr != "" {
		applyRedisDefaults(&cfg.Redis.RedisConfig)
	}
	if cfg.MinIO.Endpoint != "" && cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = defaultArchiveBucket
	}
	if cfg.MinIO.Timeout == 0 {
		cfg.MinIO.Timeout = defaultSideEffectTimeout
	}
	if cfg.Kafka.StatusTopic == "" {
		cfg.Kafka.StatusTopic = defaultStatusTopic
	}
	if cfg.Kafka.FeedTopic == "" {
		cfg.Kafka.FeedTopic = defaultFeedTopic
	}
	if cfg.Kafka.FeedGroup == "" {
		cfg.Kafka.FeedGroup = defaultFeedGroup
	}
	if cfg.Worker.PoolSize <= 0 {
		cfg.Worker.PoolSize = 1
	}
	if cfg.Worker.QueueSize < 0 {
		cfg.Worker.QueueSize = 0
	}
	if cfg.Judge.FloatTolerance < 0 {
		return fmt.Errorf("judge floatTolerance must not be negative")
	}
	if cfg.Judge.StatusTTL == 0 {
		cfg.Judge.StatusTTL = defaultStatusTTL
	}
	if cfg.Judge.IdempotencyTTL == 0 {
		cfg.Judge.IdempotencyTTL = defaultIdempotencyTTL
	}
	if cfg.Judge.SideEffectTimeout == 0 {
		cfg.Judge.SideEffectTimeout = defaultSideEffectTimeout
	}
	if cfg.Sandbox.WorkRoot == "" {
		cfg.Sandbox.WorkRoot = defaultWorkRoot
	}
	if cfg.Sandbox.MaxTimeLimitMs <= 0 {
		cfg.Sandbox.MaxTimeLimitMs = defaultMaxTimeLimitMs
	}
	if cfg.Sandbox.SystemErrorRetries == 0 {
		cfg.Sandbox.SystemErrorRetries = 1
	}
	for i, l := range cfg.Languages {
		if !l.ID.Valid() {
			return fmt.Errorf("languages[%d]: unknown language %q", i, l.ID)
		}
	}
	switch cfg.Challenges.Source {
	case "", "file":
		cfg.Challenges.Source = "file"
		if cfg.Challenges.Dir == "" {
			cfg.Challenges.Dir = "configs/challenges"
		}
	case "grpc":
		if cfg.Challenges.GRPCAddr == "" {
			return fmt.Errorf("challenges grpcAddr is required for the grpc source")
		}
	default:
		return fmt.Errorf("unknown challenge source %q", cfg.Challenges.Source)
	}
	if cfg.Challenges.Timeout == 0 {
		cfg.Challenges.Timeout = defaultChallengeTimeout
	}
	if cfg.Challenges.CacheTTL == 0 {
		cfg.Challenges.CacheTTL = defaultChallengeCacheTTL
	}
	if cfg.Competition.TickInterval == 0 {
		cfg.Competition.TickInterval = defaultTickInterval
	}
	if cfg.Competition.EventTimeout == 0 {
		cfg.Competition.EventTimeout = defaultSideEffectTimeout
	}
	for _, p := range []*middleware.RateLimitPolicy{&cfg.RateLimit.Submissions, &cfg.RateLimit.Competitions} {
		if p.Window == 0 {
			p.Window = defaultRateWindow
		}
	}
	return nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
}
