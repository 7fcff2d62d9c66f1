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
	"time"

	"github.com/joho/godotenv"

	"github.com/ssuyashhhh/H2K/internal/agents"
	"github.com/ssuyashhhh/H2K/internal/api"
	"github.com/ssuyashhhh/H2K/internal/catalog"
	"github.com/ssuyashhhh/H2K/internal/chain"
	"github.com/ssuyashhhh/H2K/internal/config"
	"github.com/ssuyashhhh/H2K/internal/coordination"
	"github.com/ssuyashhhh/H2K/internal/decision"
	"github.com/ssuyashhhh/H2K/internal/decision/gemini"
	"github.com/ssuyashhhh/H2K/internal/decision/script"
	"github.com/ssuyashhhh/H2K/internal/gate"
	"github.com/ssuyashhhh/H2K/internal/notify"
	"github.com/ssuyashhhh/H2K/internal/risk"
	"github.com/ssuyashhhh/H2K/internal/signer"
	"github.com/ssuyashhhh/H2K/internal/strategy"
	"github.com/ssuyashhhh/H2K/internal/workflow"
	"github.com/ssuyashhhh/H2K/pkg/logger"
)

// 各角色签名私钥对应的环境变量。
var roleKeyEnvs = map[string]string{
	signer.RoleOrchestrator: "ORCHESTRATOR_KEY",
	signer.RoleStrategy:     "STRATEGY_AGENT_KEY",
	signer.RoleRisk:         "RISK_AGENT_KEY",
	signer.RoleForecast:     "FORECAST_AGENT_KEY",
	signer.RoleValidation:   "VALIDATION_AGENT_KEY",
}

// main 是协同守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("h2kd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	// .env 不存在时静默跳过，生产环境直接使用进程环境变量。
	_ = godotenv.Load()

	configPath := os.Getenv("H2K_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "h2k.json")
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
			Enabled: cfg.Logging.AuditPath != "",
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	// 协议画像目录。
	protocolCatalog := catalog.Default()
	if cfg.Catalog.Path != "" {
		loaded, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		protocolCatalog = loaded
	}

	// 签名角色注册表。
	hexKeys := make(map[string]string, len(roleKeyEnvs))
	for role, env := range roleKeyEnvs {
		hexKeys[role] = os.Getenv(env)
	}
	registry, err := signer.NewRegistry(hexKeys)
	if err != nil {
		return err
	}
	intentSigner := signer.NewSigner(registry)

	store, err := createStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	queue, err := createQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Printf("关闭执行队列失败: %v", err)
		}
	}()

	provider, err := createDecisionProvider(cfg)
	if err != nil {
		return err
	}

	executor, cleanup, err := createExecutor(ctx, cfg, protocolCatalog)
	if err != nil {
		return err
	}
	defer cleanup()

	executionGate := gate.New(intentSigner, executor, cfg.Workflow.QuorumRoles)

	scorer := risk.NewScorer(protocolCatalog, cfg.Workflow.RiskThreshold)
	selector := strategy.NewSelector(cfg.Workflow.MinAPYGain, cfg.Workflow.TestCap)
	dispatcher := notify.NewFanout(notify.LogNotifier{})

	agentList := []agents.Agent{
		agents.NewStrategyAgent(selector, protocolCatalog, intentSigner),
		agents.NewRiskAgent(scorer, intentSigner, store),
		agents.NewForecastAgent(),
		agents.NewNotifyAgent(dispatcher),
		agents.NewValidationAgent(),
	}

	routerOpts := []workflow.RouterOption{
		workflow.WithMaxIterations(cfg.Workflow.MaxIterations),
	}
	if timeout := cfg.Decision.DecisionTimeout(); timeout > 0 {
		routerOpts = append(routerOpts, workflow.WithDecisionTimeout(timeout))
	}
	router := workflow.NewRouter(provider, executionGate, store, agentList, routerOpts...)

	wallet := cfg.Chain.Wallet
	if wallet == "" {
		if addr, ok := registry.AddressOf(signer.RoleOrchestrator); ok {
			wallet = addr.Hex()
		}
	}
	service := workflow.NewService(store, queue, wallet, cfg.Chain.ChainID)

	processor := workflow.NewProcessor(router, store, queue,
		workflow.WithWorkerCount(cfg.Queue.Workers),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("执行处理器异常退出: %v", err)
		}
	}()

	server := api.NewServer(cfg.Server.Address, service)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createStore(cfg *config.Config) (coordination.Store, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return coordination.NewMemoryStore(), nil
	case "mysql":
		return coordination.NewMySQLStore(cfg.Storage.DSN)
	case "sqlite":
		return coordination.NewSQLiteStore(cfg.Storage.Path)
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

func createQueue(cfg *config.Config) (workflow.Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return workflow.NewMemoryQueue(cfg.Queue.Buffer), nil
	case "redis":
		return workflow.NewRedisQueue(workflow.RedisQueueConfig{
			Address:   cfg.Queue.Address,
			Password:  cfg.Queue.Password,
			DB:        cfg.Queue.DB,
			Queue:     cfg.Queue.Queue,
			BlockWait: time.Duration(cfg.Queue.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return workflow.NewRabbitMQQueue(workflow.RabbitMQConfig{
			URL:      cfg.Queue.URL,
			Queue:    cfg.Queue.Queue,
			Prefetch: cfg.Queue.Prefetch,
			Durable:  cfg.Queue.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
}

func createDecisionProvider(cfg *config.Config) (decision.Provider, error) {
	switch cfg.Decision.Provider {
	case "", "script":
		return script.New(), nil
	case "gemini":
		apiKey := strings.TrimSpace(cfg.Decision.APIKey)
		if apiKey == "" {
			apiKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
		}
		if apiKey == "" {
			return nil, errors.New("Gemini provider 需要配置 api_key 或 GEMINI_API_KEY 环境变量")
		}
		return gemini.NewClient(gemini.Config{
			APIKey:  apiKey,
			BaseURL: cfg.Decision.BaseURL,
			Model:   cfg.Decision.Model,
			Timeout: cfg.Decision.DecisionTimeout(),
		})
	default:
		return nil, fmt.Errorf("未知的决策 provider: %s", cfg.Decision.Provider)
	}
}

// createExecutor 在配置了执行私钥与 RPC 时真实提交交易，否则回落到模拟执行。
func createExecutor(ctx context.Context, cfg *config.Config, c *catalog.Catalog) (chain.Executor, func(), error) {
	executorKey := strings.TrimSpace(os.Getenv("EXECUTOR_KEY"))
	if executorKey == "" || cfg.Chain.RPCURL == "" {
		return chain.SimulatedExecutor{}, func() {}, nil
	}

	submitter, err := chain.NewEVMSubmitter(ctx, cfg.Chain.RPCURL, executorKey)
	if err != nil {
		return nil, nil, err
	}
	return chain.NewEVMRegistry(submitter, c), submitter.Close, nil
}
