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

// Config 描述了守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Queue    QueueConfig    `json:"queue"`
	Decision DecisionConfig `json:"decision"`
	Workflow WorkflowConfig `json:"workflow"`
	Chain    ChainConfig    `json:"chain"`
	Catalog  CatalogConfig  `json:"catalog"`
	Logging  LoggingConfig  `json:"logging"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig 描述协同存储后端的连接信息。
type StorageConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
	Path   string `json:"path"`
}

// QueueConfig 描述执行队列后端的连接信息。
type QueueConfig struct {
	Driver    string `json:"driver"`
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	URL       string `json:"url"`
	Queue     string `json:"queue"`
	Workers   int    `json:"workers"`
	Buffer    int    `json:"buffer"`
	Prefetch  int    `json:"prefetch"`
	Durable   bool   `json:"durable"`
	BlockWait int    `json:"block_wait_seconds"`
}

// DecisionConfig 用于配置路由决策的提供方。
type DecisionConfig struct {
	Provider       string `json:"provider"`
	APIKey         string `json:"api_key"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// WorkflowConfig 控制路由器与策略、风险组件的参数。
type WorkflowConfig struct {
	MaxIterations int      `json:"max_iterations"`
	RiskThreshold float64  `json:"risk_threshold"`
	MinAPYGain    float64  `json:"min_apy_gain"`
	TestCap       float64  `json:"test_cap"`
	QuorumRoles   []string `json:"quorum_roles"`
}

// ChainConfig 包含访问区块链节点与执行交易所需的信息。
type ChainConfig struct {
	RPCURL  string `json:"rpc_url"`
	ChainID int64  `json:"chain_id"`
	Wallet  string `json:"wallet"`
}

// CatalogConfig 指向协议画像目录文件。
type CatalogConfig struct {
	Path string `json:"path"`
}

// LoggingConfig 控制日志输出行为。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// DecisionTimeout 返回决策调用超时时间。
func (c DecisionConfig) DecisionTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
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

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.Buffer <= 0 {
		c.Queue.Buffer = 64
	}

	if c.Decision.Provider == "" {
		c.Decision.Provider = "script"
	}

	if c.Workflow.MaxIterations <= 0 {
		c.Workflow.MaxIterations = 10
	}
	if c.Workflow.RiskThreshold <= 0 {
		c.Workflow.RiskThreshold = 3.0
	}
	if c.Workflow.MinAPYGain <= 0 {
		c.Workflow.MinAPYGain = 0.02
	}
	if c.Workflow.TestCap <= 0 {
		c.Workflow.TestCap = 100
	}

	if c.Chain.ChainID == 0 {
		// Sepolia 测试网。
		c.Chain.ChainID = 11155111
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.Runtime.DataDir, "h2k.db")
	} else if !filepath.IsAbs(c.Storage.Path) {
		c.Storage.Path = filepath.Join(baseDir, c.Storage.Path)
	}
	if c.Catalog.Path != "" && !filepath.IsAbs(c.Catalog.Path) {
		c.Catalog.Path = filepath.Join(baseDir, c.Catalog.Path)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}
