package config

import (
	"log"

	"subtrack/pkg/config"
)

type Config struct {
	Log            config.LogConfig            `yaml:"log"`
	DB             config.DBConfig             `yaml:"db"`
	Redis          config.RedisConfig          `yaml:"redis"`
	MQ             config.MQConfig             `yaml:"mq"`
	JWT            config.JWTConfig            `yaml:"jwt"`
	Server         config.ServerConfig         `yaml:"server"`
	Gmail          config.GmailConfig          `yaml:"gmail"`
	OpenAI         config.OpenAIConfig         `yaml:"openai"`
	Sync           config.SyncConfig           `yaml:"sync"`
	Classification config.ClassificationConfig `yaml:"classification"`
	Security       config.SecurityConfig       `yaml:"security"`
	Outbox         config.OutboxConfig         `yaml:"outbox"`
	Otel           config.OtelConfig           `yaml:"otel"`
}

// Load reads config/<CONFIG_ENV>.yaml on top of config/base.yaml and applies
// environment overrides. It exits the process when the files are unusable.
func Load() *Config {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	var cfg Config
	if err := config.Decode(env, configDir, &cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideLogFromEnv(&cfg.Log)
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideGmailFromEnv(&cfg.Gmail)
	config.OverrideOpenAIFromEnv(&cfg.OpenAI)
	config.OverrideSecurityFromEnv(&cfg.Security)

	cfg.Sync.Defaults()
	cfg.OpenAI.Defaults()
	cfg.Gmail.Defaults()
	cfg.Classification.Defaults()
	cfg.Outbox.Defaults()

	return &cfg
}
