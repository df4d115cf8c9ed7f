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

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentFi-Client/internal/activity"
	"AgentFi-Client/internal/api"
	"AgentFi-Client/internal/chain"
	"AgentFi-Client/internal/config"
	"AgentFi-Client/internal/executor"
	"AgentFi-Client/internal/mode"
	"AgentFi-Client/internal/observability/metrics"
	"AgentFi-Client/internal/run"
	"AgentFi-Client/internal/storage/mysql"
	"AgentFi-Client/pkg/logger"
)

// main 是 AgentFi 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runDaemon(ctx); err != nil {
		log.Fatalf("agentfid 运行失败: %v", err)
	}
}

func runDaemon(ctx context.Context) error {
	configPath := os.Getenv("AGENTFI_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agentfi.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{}); err != nil {
		return err
	}
	defer logger.Sync()

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	var modeStore mode.Store
	switch cfg.Mode.Driver {
	case "", "file":
		store, err := mode.NewFileStore(dataDir)
		if err != nil {
			return err
		}
		modeStore = store
	case "redis":
		store, err := mode.NewRedisStore(mode.RedisStoreConfig{
			Address: cfg.Mode.RedisAddr,
			DB:      cfg.Mode.RedisDB,
		})
		if err != nil {
			return err
		}
		modeStore = store
	case "memory":
		modeStore = mode.NewMemoryStore()
	default:
		return fmt.Errorf("未知的模式存储驱动: %s", cfg.Mode.Driver)
	}

	selector := mode.NewSelector(ctx, modeStore)
	defer selector.Close()

	defs, err := chain.LoadDefinitions(cfg.Chains.DefinitionsPath)
	if err != nil {
		return err
	}
	registry, err := chain.NewRegistry(ctx, defs)
	if err != nil {
		return err
	}
	defer registry.Close()

	rawKey := strings.TrimSpace(os.Getenv(cfg.Wallet.PrivateKeyEnv))
	if rawKey == "" {
		return fmt.Errorf("环境变量 %s 未设置交易私钥", cfg.Wallet.PrivateKeyEnv)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(rawKey, "0x"))
	if err != nil {
		return fmt.Errorf("解析交易私钥失败: %w", err)
	}

	paths, err := run.NewChainPaths(registry, key,
		common.HexToAddress(cfg.Contracts.Marketplace),
		common.HexToAddress(cfg.Contracts.Payments),
	)
	if err != nil {
		return err
	}

	tokenMap := executor.NewTokenMap(cfg.Executor.BaseURL, nil)
	if err := tokenMap.Refresh(ctx); err != nil {
		// 拉取失败时退回内置映射。
		log.Printf("拉取代理映射失败，使用内置映射: %v", err)
	}
	invoker, err := executor.NewInvoker(executor.Config{
		BaseURL: cfg.Executor.BaseURL,
		Timeout: cfg.Executor.Timeout(),
	}, tokenMap)
	if err != nil {
		return err
	}

	var runRepo mysql.RunRepository
	switch cfg.Storage.RunStore.Driver {
	case "", "memory":
		repo, err := mysql.NewMemoryRunRepository(dataDir)
		if err != nil {
			return err
		}
		runRepo = repo
	case "mysql":
		repo, err := mysql.NewSQLRunRepository(ctx, mysql.Config{
			DSN: cfg.Storage.RunStore.DSN,
		})
		if err != nil {
			return err
		}
		runRepo = repo
	default:
		return fmt.Errorf("未知的运行存储驱动: %s", cfg.Storage.RunStore.Driver)
	}

	var publisher activity.Publisher
	var reader api.ActivityReader
	switch cfg.Activity.Driver {
	case "", "memory":
		memory := activity.NewMemoryPublisher(256)
		publisher = memory
		reader = memory
	case "rabbitmq":
		rabbit, err := activity.NewRabbitMQPublisher(activity.RabbitMQConfig{
			URL:      cfg.Activity.RabbitMQURL,
			Exchange: cfg.Activity.Exchange,
			Durable:  true,
		})
		if err != nil {
			return err
		}
		publisher = rabbit
	default:
		return fmt.Errorf("未知的活动流驱动: %s", cfg.Activity.Driver)
	}

	opts := []run.Option{
		run.WithRepository(runRepo),
		run.WithPublisher(publisher),
		run.WithWalletAddress(paths.From().Hex()),
	}
	if timeout := cfg.Executor.SettleTimeout(); timeout > 0 {
		opts = append(opts, run.WithSettleTimeout(timeout))
	}

	runService, err := run.NewService(selector, paths, invoker, opts...)
	if err != nil {
		return err
	}
	defer runService.Close()

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("指标服务异常退出: %v", err)
			}
		}()
	}

	// 周期刷新代理映射，保持与执行后端一致。
	go refreshTokenMap(ctx, tokenMap)

	server := api.NewServer(cfg.Server.Address, runService, reader)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func refreshTokenMap(ctx context.Context, tokenMap *executor.TokenMap) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := tokenMap.Refresh(ctx); err != nil {
				log.Printf("刷新代理映射失败: %v", err)
			}
		}
	}
}
