package config

import (
	"os"
	"strconv"
	"time"
)

// DBConfig 数据库配置
type DBConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Name        string `yaml:"name"`
	SSLMode     string `yaml:"sslmode"`
	MaxConns    int32  `yaml:"max_conns"`
	MinConns    int32  `yaml:"min_conns"`
	SlowQueryMS int    `yaml:"slow_query_ms"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// MQConfig 消息队列配置
type MQConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port string `yaml:"port"`
}

// GmailConfig Gmail OAuth 客户端配置
type GmailConfig struct {
	ClientID          string        `yaml:"client_id"`
	ClientSecret      string        `yaml:"client_secret"`
	RedirectURL       string        `yaml:"redirect_url"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
}

// OpenAIConfig 分类模型配置
type OpenAIConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxBodyChars int           `yaml:"max_body_chars"`
}

// SyncConfig 同步驱动配置
type SyncConfig struct {
	Query          string        `yaml:"query"`
	MaxResults     int64         `yaml:"max_results"`
	PageSize       int64         `yaml:"page_size"`
	Workers        int           `yaml:"workers"`
	MessageTimeout time.Duration `yaml:"message_timeout"`
	ClaimTTL       time.Duration `yaml:"claim_ttl"`
	LockTTL        time.Duration `yaml:"lock_ttl"`
}

// ClassificationConfig 跟踪判定配置
type ClassificationConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// SecurityConfig 存储加密配置
type SecurityConfig struct {
	TokenKey string `yaml:"token_key"`
}

// OutboxConfig 事务性 outbox 配置
type OutboxConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

// OtelConfig OpenTelemetry 配置
type OtelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
	Insecure    bool    `yaml:"insecure"`
}

// Defaults fills zero values with the documented defaults.
func (c *SyncConfig) Defaults() {
	if c.Query == "" {
		c.Query = "subject:(invoice OR receipt OR payment OR subscription OR bill)"
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 100
	}
	if c.PageSize <= 0 || c.PageSize > c.MaxResults {
		c.PageSize = c.MaxResults
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.MessageTimeout <= 0 {
		c.MessageTimeout = 60 * time.Second
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 10 * time.Minute
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
}

// Defaults fills zero values with the documented defaults.
func (c *OpenAIConfig) Defaults() {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBodyChars <= 0 {
		c.MaxBodyChars = 6000
	}
}

// Defaults fills zero values with the documented defaults.
func (c *GmailConfig) Defaults() {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 10
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 20 * time.Second
	}
}

// Defaults fills zero values with the documented defaults.
func (c *OutboxConfig) Defaults() {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
}

// Defaults fills zero values with the documented defaults.
func (c *ClassificationConfig) Defaults() {
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.8
	}
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
}

// OverrideLogFromEnv 从环境变量覆盖日志级别
func OverrideLogFromEnv(cfg *LogConfig) {
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = level
	}
}

// OverrideMQFromEnv 从环境变量覆盖MQ配置
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideRedisFromEnv 从环境变量覆盖Redis配置
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideJWTFromEnv 从环境变量覆盖JWT配置
func OverrideJWTFromEnv(cfg *JWTConfig) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Secret = secret
	}
}

// OverrideServerFromEnv 从环境变量覆盖服务器配置
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

// OverrideGmailFromEnv 从环境变量覆盖 Gmail OAuth 配置
func OverrideGmailFromEnv(cfg *GmailConfig) {
	if id := os.Getenv("GOOGLE_CLIENT_ID"); id != "" {
		cfg.ClientID = id
	}
	if secret := os.Getenv("GOOGLE_CLIENT_SECRET"); secret != "" {
		cfg.ClientSecret = secret
	}
	if redirect := os.Getenv("GOOGLE_REDIRECT_URL"); redirect != "" {
		cfg.RedirectURL = redirect
	}
}

// OverrideOpenAIFromEnv 从环境变量覆盖模型配置
func OverrideOpenAIFromEnv(cfg *OpenAIConfig) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		cfg.BaseURL = base
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		cfg.Model = model
	}
}

// OverrideSecurityFromEnv 从环境变量覆盖加密密钥
func OverrideSecurityFromEnv(cfg *SecurityConfig) {
	if key := os.Getenv("TOKEN_KEY"); key != "" {
		cfg.TokenKey = key
	}
}
