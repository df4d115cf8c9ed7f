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
	Server    ServerConfig    `json:"server"`
	Mode      ModeConfig      `json:"mode"`
	Chains    ChainsConfig    `json:"chains"`
	Contracts ContractsConfig `json:"contracts"`
	Wallet    WalletConfig    `json:"wallet"`
	Executor  ExecutorConfig  `json:"executor"`
	Storage   StorageConfig   `json:"storage"`
	Activity  ActivityConfig  `json:"activity"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// ModeConfig 控制模式选择的持久化方式。
type ModeConfig struct {
	Driver    string `json:"driver"`
	RedisAddr string `json:"redis_addr"`
	RedisDB   int    `json:"redis_db"`
}

// ChainsConfig 指向链定义文件。
type ChainsConfig struct {
	DefinitionsPath string `json:"definitions_path"`
}

// ContractsConfig 记录两条路径各自的合约地址。
type ContractsConfig struct {
	Marketplace string `json:"marketplace"`
	Payments    string `json:"payments"`
}

// WalletConfig 描述交易签名所用的私钥来源。
// 私钥通过环境变量注入，配置文件里只放变量名。
type WalletConfig struct {
	PrivateKeyEnv string `json:"private_key_env"`
}

// ExecutorConfig 用于配置链下执行服务的调用方式。
// TimeoutSeconds 为零时执行调用不限时。
type ExecutorConfig struct {
	BaseURL              string `json:"base_url"`
	TimeoutSeconds       int    `json:"timeout_seconds"`
	SettleTimeoutSeconds int    `json:"settle_timeout_seconds"`
}

// Timeout 返回执行调用的时长限制。
func (c ExecutorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SettleTimeout 返回回执结算阶段的时长限制。
func (c ExecutorConfig) SettleTimeout() time.Duration {
	return time.Duration(c.SettleTimeoutSeconds) * time.Second
}

// StorageConfig 统一描述运行历史的持久化后端。
type StorageConfig struct {
	RunStore RunStoreConfig `json:"run_store"`
}

// RunStoreConfig 目前提供内存实现，后续可以切换到真正的 MySQL。
type RunStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// ActivityConfig 描述活动流的发布方式。
type ActivityConfig struct {
	Driver      string `json:"driver"`
	RabbitMQURL string `json:"rabbitmq_url"`
	Exchange    string `json:"exchange"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
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

	if c.Mode.Driver == "" {
		c.Mode.Driver = "file"
	}

	if c.Chains.DefinitionsPath == "" {
		c.Chains.DefinitionsPath = filepath.Join(baseDir, "chains.yaml")
	} else if !filepath.IsAbs(c.Chains.DefinitionsPath) {
		c.Chains.DefinitionsPath = filepath.Join(baseDir, c.Chains.DefinitionsPath)
	}

	if c.Wallet.PrivateKeyEnv == "" {
		c.Wallet.PrivateKeyEnv = "AGENTFI_PRIVATE_KEY"
	}

	if c.Executor.BaseURL == "" {
		c.Executor.BaseURL = "http://127.0.0.1:8000"
	}

	if c.Storage.RunStore.Driver == "" {
		c.Storage.RunStore.Driver = "memory"
	}

	if c.Activity.Driver == "" {
		c.Activity.Driver = "memory"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
