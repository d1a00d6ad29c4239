package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"ChainFlow-Gateway/internal/agent"
	"ChainFlow-Gateway/internal/agent/openai"
	"ChainFlow-Gateway/internal/chain"
	"ChainFlow-Gateway/internal/config"
	"ChainFlow-Gateway/internal/events"
	"ChainFlow-Gateway/internal/flow"
	"ChainFlow-Gateway/internal/gateway"
	"ChainFlow-Gateway/internal/interpret"
	"ChainFlow-Gateway/internal/marketdata"
	"ChainFlow-Gateway/internal/session"
	"ChainFlow-Gateway/internal/storage/mysql"
	"ChainFlow-Gateway/internal/storage/redis"
	"ChainFlow-Gateway/internal/toolkit"
	"ChainFlow-Gateway/pkg/logger"
)

// main 是 ChainFlow 网关守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("chainflowd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("CHAINFLOW_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "chainflow.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	// 代币表：询价与工具层共用的展示名称映射。
	registry := chain.NewTokenRegistry(nil)
	if cfg.Chain.TokensFile != "" {
		registry, err = chain.LoadTokenRegistry(cfg.Chain.TokensFile)
		if err != nil {
			return err
		}
	}

	// 交易构造器：没有配置 RPC 时以离线模式运行。
	builder, err := chain.NewBuilder(ctx, chain.Config{
		RPCURL:              cfg.Chain.RPCURL,
		ChainID:             cfg.Chain.ChainID,
		AssociationContract: cfg.Chain.AssociationContract,
		StakingContract:     cfg.Chain.StakingContract,
		GasLimit:            cfg.Chain.GasLimit,
	}, registry)
	if err != nil {
		return err
	}
	defer builder.Close()

	tools, err := buildToolkit(cfg, builder)
	if err != nil {
		return err
	}

	agentClient, err := createAgentClient(cfg, tools)
	if err != nil {
		return err
	}

	transcripts, err := createTranscriptRepository(ctx, cfg)
	if err != nil {
		return err
	}
	if closer, ok := transcripts.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	publisher, err := createPublisher(cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	store := session.NewStore(cfg.Session.MemoryDepth)
	interp := interpret.New(registry)
	sequencer := flow.NewSequencer(agentClient, interp, publisher)
	handler := gateway.NewHandler(store, agentClient, interp, sequencer, transcripts)
	server := gateway.NewServer(cfg.Server.Address, handler, store)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildToolkit 注册全部领域工具：交易构造三件套与行情询价。
func buildToolkit(cfg *config.Config, builder *chain.Builder) (*toolkit.Registry, error) {
	registry := toolkit.NewRegistry()

	for _, tool := range toolkit.NewDefiTools(builder) {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}

	if cfg.MarketData.BaseURL != "" {
		cache, err := createQuoteCache(cfg)
		if err != nil {
			return nil, err
		}
		service, err := marketdata.NewService(marketdata.Config{
			BaseURL: cfg.MarketData.BaseURL,
			APIKey:  cfg.MarketData.APIKey,
			Timeout: cfg.MarketData.Timeout(),
			Network: cfg.MarketData.Network,
		}, cache)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(toolkit.NewQuoteTool(service)); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func createQuoteCache(cfg *config.Config) (marketdata.Cache, error) {
	switch cfg.MarketData.Cache.Driver {
	case "", "memory":
		return marketdata.NewMemoryCache(cfg.MarketData.Cache.TTL(), cfg.MarketData.Cache.MaxEntries), nil
	case "redis":
		return redis.NewQuoteCache(redis.Config{
			Address:  cfg.MarketData.Cache.Redis.Address,
			Password: cfg.MarketData.Cache.Redis.Password,
			DB:       cfg.MarketData.Cache.Redis.DB,
			TTL:      cfg.MarketData.Cache.TTL(),
		})
	default:
		return nil, fmt.Errorf("未知的缓存驱动: %s", cfg.MarketData.Cache.Driver)
	}
}

func createAgentClient(cfg *config.Config, tools *toolkit.Registry) (agent.Client, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" && cfg.LLM.OpenAI.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.LLM.OpenAI.APIKeyEnv))
		}
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:        apiKey,
			BaseURL:       cfg.LLM.OpenAI.BaseURL,
			Model:         cfg.LLM.OpenAI.Model,
			Timeout:       cfg.LLM.OpenAI.Timeout(),
			MaxToolRounds: cfg.LLM.OpenAI.MaxToolRounds,
		}, tools)
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func createTranscriptRepository(ctx context.Context, cfg *config.Config) (mysql.TranscriptRepository, error) {
	switch cfg.Storage.TranscriptStore.Driver {
	case "", "memory":
		return mysql.NewMemoryTranscriptRepository(cfg.Runtime.DataDir)
	case "mysql":
		return mysql.NewSQLTranscriptRepository(ctx, mysql.Config{
			DSN: cfg.Storage.TranscriptStore.DSN,
		})
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.TranscriptStore.Driver)
	}
}

func createPublisher(cfg *config.Config) (events.Publisher, error) {
	publishers := []events.Publisher{events.NewLogPublisher()}
	if cfg.Events.RabbitMQ.Enabled {
		rabbit, err := events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:     cfg.Events.RabbitMQ.URL,
			Queue:   cfg.Events.RabbitMQ.Queue,
			Durable: cfg.Events.RabbitMQ.Durable,
		})
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, rabbit)
	}
	return events.NewFanout(publishers...), nil
}
