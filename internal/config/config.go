package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了网关在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
	Session    SessionConfig    `json:"session"`
	LLM        LLMConfig        `json:"llm"`
	Chain      ChainConfig      `json:"chain"`
	MarketData MarketDataConfig `json:"market_data"`
	Storage    StorageConfig    `json:"storage"`
	Events     EventsConfig     `json:"events"`
	Runtime    RuntimeConfig    `json:"runtime"`
}

// ServerConfig 控制 WebSocket 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// LoggingConfig 控制结构化日志与审计日志的输出。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	Audit       struct {
		Enabled    bool   `json:"enabled"`
		Path       string `json:"path"`
		MaxSizeMB  int    `json:"max_size_mb"`
		MaxBackups int    `json:"max_backups"`
		MaxAgeDays int    `json:"max_age_days"`
	} `json:"audit"`
}

// SessionConfig 控制会话层参数。
type SessionConfig struct {
	MemoryDepth int `json:"memory_depth"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述 OpenAI Chat Completions 的调用参数。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	MaxToolRounds  int    `json:"max_tool_rounds"`
}

// ChainConfig 包含构造链上交易所需的节点与合约信息。
type ChainConfig struct {
	RPCURL              string `json:"rpc_url"`
	ChainID             int64  `json:"chain_id"`
	AssociationContract string `json:"association_contract"`
	StakingContract     string `json:"staking_contract"`
	GasLimit            uint64 `json:"gas_limit"`
	TokensFile          string `json:"tokens_file"`
}

// MarketDataConfig 描述行情询价服务及其缓存。
type MarketDataConfig struct {
	BaseURL        string      `json:"base_url"`
	APIKey         string      `json:"api_key"`
	Network        string      `json:"network"`
	TimeoutSeconds int         `json:"timeout_seconds"`
	Cache          CacheConfig `json:"cache"`
}

// CacheConfig 描述询价缓存。driver 为 memory 或 redis。
type CacheConfig struct {
	Driver     string `json:"driver"`
	TTLSeconds int    `json:"ttl_seconds"`
	MaxEntries int    `json:"max_entries"`
	Redis      struct {
		Address  string `json:"address"`
		Password string `json:"password"`
		DB       int    `json:"db"`
	} `json:"redis"`
}

// StorageConfig 统一描述会话记录等后端的连接信息。
type StorageConfig struct {
	TranscriptStore TranscriptStoreConfig `json:"transcript_store"`
}

// TranscriptStoreConfig 的 driver 为 memory 或 mysql。
type TranscriptStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// EventsConfig 描述交易生命周期事件的出口。
type EventsConfig struct {
	RabbitMQ struct {
		Enabled bool   `json:"enabled"`
		URL     string `json:"url"`
		Queue   string `json:"queue"`
		Durable bool   `json:"durable"`
	} `json:"rabbitmq"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// OpenAITimeout 返回以 time.Duration 表示的调用超时。
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Timeout 返回行情请求超时。
func (c MarketDataConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TTL 返回缓存条目的生存时间。
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
	}

	if c.Session.MemoryDepth <= 0 {
		c.Session.MemoryDepth = 10
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 60
	}

	if c.Chain.ChainID <= 0 {
		c.Chain.ChainID = 295
	}
	if c.Chain.TokensFile != "" && !filepath.IsAbs(c.Chain.TokensFile) {
		c.Chain.TokensFile = filepath.Join(baseDir, c.Chain.TokensFile)
	}

	if c.MarketData.Network == "" {
		c.MarketData.Network = "mainnet"
	}
	if c.MarketData.TimeoutSeconds <= 0 {
		c.MarketData.TimeoutSeconds = 15
	}
	if c.MarketData.Cache.Driver == "" {
		c.MarketData.Cache.Driver = "memory"
	}
	if c.MarketData.Cache.TTLSeconds <= 0 {
		c.MarketData.Cache.TTLSeconds = 30
	}

	if c.Storage.TranscriptStore.Driver == "" {
		c.Storage.TranscriptStore.Driver = "memory"
	}

	if c.Events.RabbitMQ.Queue == "" {
		c.Events.RabbitMQ.Queue = "chainflow.tx_events"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
