// Package config loads application configuration from file and environment.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Sanctions    SanctionsConfig    `yaml:"sanctions" mapstructure:"sanctions"`
	Corporate    CorporateConfig    `yaml:"corporate" mapstructure:"corporate"`
	Wikidata     WikidataConfig     `yaml:"wikidata" mapstructure:"wikidata"`
	PEP          PEPConfig          `yaml:"pep" mapstructure:"pep"`
	AdverseMedia AdverseMediaConfig `yaml:"adverse_media" mapstructure:"adverse_media"`
	Enrich       EnrichConfig       `yaml:"enrich" mapstructure:"enrich"`
	Risk         RiskConfig         `yaml:"risk" mapstructure:"risk"`
	Pipeline     PipelineConfig     `yaml:"pipeline" mapstructure:"pipeline"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// AnthropicConfig holds the extraction model settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SanctionsConfig holds OpenSanctions API settings.
type SanctionsConfig struct {
	BaseURL  string  `yaml:"base_url" mapstructure:"base_url"`
	Key      string  `yaml:"key" mapstructure:"key"`
	MinScore float64 `yaml:"min_score" mapstructure:"min_score"`
	RPS      float64 `yaml:"rps" mapstructure:"rps"`
}

// CorporateConfig holds OpenCorporates API settings.
type CorporateConfig struct {
	BaseURL               string   `yaml:"base_url" mapstructure:"base_url"`
	Key                   string   `yaml:"key" mapstructure:"key"`
	RPS                   float64  `yaml:"rps" mapstructure:"rps"`
	HighRiskJurisdictions []string `yaml:"high_risk_jurisdictions" mapstructure:"high_risk_jurisdictions"`
}

// WikidataConfig holds the SPARQL endpoint settings.
type WikidataConfig struct {
	EndpointURL   string  `yaml:"endpoint_url" mapstructure:"endpoint_url"`
	RPS           float64 `yaml:"rps" mapstructure:"rps"`
	MaxAssociates int     `yaml:"max_associates" mapstructure:"max_associates"`
}

// PEPConfig holds the PEP dataset location.
type PEPConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// AdverseMediaConfig holds GDELT document API settings.
type AdverseMediaConfig struct {
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	RPS           float64 `yaml:"rps" mapstructure:"rps"`
	ToneThreshold float64 `yaml:"tone_threshold" mapstructure:"tone_threshold"`
}

// EnrichConfig bounds the enrichment fan-out.
type EnrichConfig struct {
	MaxConcurrent   int64 `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	CallTimeoutSecs int   `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	MaxRetries      int   `yaml:"max_retries" mapstructure:"max_retries"`
	MaxDepth        int   `yaml:"max_depth" mapstructure:"max_depth"`
	MaxEntities     int   `yaml:"max_entities" mapstructure:"max_entities"`
}

// RiskConfig points at the scoring policy.
type RiskConfig struct {
	PolicyPath string `yaml:"policy_path" mapstructure:"policy_path"`
}

// PipelineConfig bounds whole-transaction processing.
type PipelineConfig struct {
	BudgetSecs        int `yaml:"budget_secs" mapstructure:"budget_secs"`
	SyncWaitSecs      int `yaml:"sync_wait_secs" mapstructure:"sync_wait_secs"`
	RetentionMins     int `yaml:"retention_mins" mapstructure:"retention_mins"`
	MaxConcurrentTxns int `yaml:"max_concurrent_txns" mapstructure:"max_concurrent_txns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DILIGENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "diligence.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("sanctions.base_url", "https://api.opensanctions.org")
	v.SetDefault("sanctions.min_score", 0.70)
	v.SetDefault("sanctions.rps", 5)
	v.SetDefault("corporate.base_url", "https://api.opencorporates.com/v0.4")
	v.SetDefault("corporate.rps", 2)
	v.SetDefault("corporate.high_risk_jurisdictions", []string{
		"vg", "ky", "pa", "bz", "sc", "vu", "mh", "li", "ir", "kp", "ru", "by", "sy", "cu", "mm", "af",
	})
	v.SetDefault("wikidata.endpoint_url", "https://query.wikidata.org/sparql")
	v.SetDefault("wikidata.rps", 1)
	v.SetDefault("wikidata.max_associates", 10)
	v.SetDefault("pep.path", "data/pep.csv")
	v.SetDefault("adverse_media.base_url", "https://api.gdeltproject.org/api/v2")
	v.SetDefault("adverse_media.rps", 1)
	v.SetDefault("adverse_media.tone_threshold", -2.0)
	v.SetDefault("enrich.max_concurrent", 16)
	v.SetDefault("enrich.call_timeout_secs", 30)
	v.SetDefault("enrich.max_retries", 3)
	v.SetDefault("enrich.max_depth", 2)
	v.SetDefault("enrich.max_entities", 25)
	v.SetDefault("pipeline.budget_secs", 120)
	v.SetDefault("pipeline.sync_wait_secs", 90)
	v.SetDefault("pipeline.retention_mins", 15)
	v.SetDefault("pipeline.max_concurrent_txns", 8)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
