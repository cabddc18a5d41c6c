package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"custody-chain/internal/api"
	"custody-chain/internal/auth"
	"custody-chain/internal/config"
	"custody-chain/internal/events"
	"custody-chain/internal/ledger"
	"custody-chain/internal/ledger/hedera"
	"custody-chain/internal/ledger/memory"
	"custody-chain/internal/ledger/relay"
	"custody-chain/internal/lock"
	"custody-chain/internal/observability/alerting"
	"custody-chain/internal/observability/metrics"
	"custody-chain/internal/secret"
	"custody-chain/internal/storage/sqldb"
	"custody-chain/internal/wallet"
	"custody-chain/pkg/logger"
)

// 内存账本的运营方初始余额与测试资产供应量。
const (
	devOperatorBalance = 1_000_000 * 100_000_000
	devTokenSupply     = 1_000_000_000_000
)

// main 是托管钱包守护进程的入口。
func main() {
	configPath := flag.String("config", "", "配置文件路径，默认读取 CUSTODY_CONFIG")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("custodyd 运行失败: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	if configPath == "" {
		configPath = os.Getenv("CUSTODY_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join("configs", "custody.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	lg := logger.Named("custodyd")

	masterKey, err := cfg.MasterKeyBytes()
	if err != nil {
		return err
	}
	cipher, err := secret.NewCipher(masterKey)
	clear(masterKey)
	if err != nil {
		return err
	}

	catalog := wallet.NewCatalog(cfg.Assets)
	settings, err := wallet.SettingsFromConfig(cfg, catalog)
	if err != nil {
		return err
	}

	client, closeLedger, err := buildLedger(ctx, cfg, catalog)
	if err != nil {
		return err
	}
	defer closeLedger()

	repo, closeRepo, err := buildRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	locker, closeLocker, err := buildLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	publisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			lg.Warn("关闭事件投递器失败", slog.Any("error", err))
		}
	}()

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerts.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.Alerts.WebhookURL, cfg.Alerts.WebhookTimeout.Duration))
	}
	alerts := alerting.NewFanout(notifiers...)

	authSvc, err := auth.NewService(auth.Config{
		Mode:     auth.Mode(cfg.Auth.Mode),
		Secret:   cfg.Auth.JWT.Secret,
		Issuer:   cfg.Auth.JWT.Issuer,
		Audience: cfg.Auth.JWT.Audience,
	})
	if err != nil {
		return err
	}

	m := metrics.New()
	associator := wallet.NewAssociator(client, wallet.WithAssociatorObserver(m))
	store := wallet.NewStore(repo, client, cipher, associator, settings,
		wallet.WithLocker(locker),
		wallet.WithStoreObserver(m),
	)
	orchestrator := wallet.NewOrchestrator(client, associator, settings,
		wallet.WithPublisher(publisher),
		wallet.WithAlerts(alerts),
		wallet.WithOrchestratorObserver(m),
	)
	service := wallet.NewService(store, wallet.NewResolver(store), orchestrator, catalog, nil)

	opts := []api.Option{
		api.WithAuth(authSvc),
		api.WithReadHeaderTimeout(cfg.Server.ReadHeaderTimeout.Duration),
		api.WithHealthCheck("ledger", func(ctx context.Context) error {
			_, err := client.Balance(ctx, ledgerOperator(cfg), ledger.Native)
			return err
		}),
	}
	if pinger, ok := repo.(interface{ Ping(context.Context) error }); ok {
		opts = append(opts, api.WithHealthCheck("storage", pinger.Ping))
	}
	if cfg.Server.MetricsAddress == "" {
		opts = append(opts, api.WithMetrics(m))
	} else {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress, m.Handler()); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("度量服务异常退出", slog.Any("error", err))
			}
		}()
	}

	lg.Info("custodyd starting",
		slog.String("network", settings.Network),
		slog.String("ledger", cfg.Ledger.Driver),
		slog.String("storage", cfg.Storage.Wallets.Driver),
		slog.String("auth", string(authSvc.Mode())),
		slog.Int("assets", len(catalog.Assets())),
	)

	server := api.NewServer(cfg.Server.Address, service, opts...)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildLedger(ctx context.Context, cfg *config.Config, catalog *wallet.Catalog) (ledger.Client, func(), error) {
	var (
		client ledger.Client
		closer = func() {}
	)
	switch strings.ToLower(cfg.Ledger.Driver) {
	case "memory":
		l := memory.New(devOperatorBalance)
		for _, asset := range catalog.Assets() {
			if !asset.Native() {
				l.CreateToken(asset.ID, devTokenSupply)
			}
		}
		client = l
	case "hedera", "":
		c, err := hedera.NewClient(hedera.Config{
			Network:     cfg.Ledger.Network,
			OperatorID:  cfg.Ledger.OperatorID,
			OperatorKey: cfg.Ledger.OperatorKey,
		})
		if err != nil {
			return nil, nil, err
		}
		client = c
		closer = func() { _ = c.Close() }
	default:
		return nil, nil, fmt.Errorf("未知的账本驱动: %s", cfg.Ledger.Driver)
	}

	if strings.EqualFold(cfg.Ledger.BalanceSource, "relay") {
		reader, err := relay.Dial(ctx, cfg.Ledger.RelayURL)
		if err != nil {
			closer()
			return nil, nil, err
		}
		prev := closer
		closer = func() {
			reader.Close()
			prev()
		}
		client = ledger.WithBalanceReader(client, reader)
	}
	return client, closer, nil
}

func buildRepository(ctx context.Context, cfg *config.Config) (wallet.Repository, func(), error) {
	switch strings.ToLower(cfg.Storage.Wallets.Driver) {
	case "memory", "":
		return wallet.NewMemoryRepository(), func() {}, nil
	case "mysql", "postgres", "postgresql":
		repo, err := sqldb.Open(ctx, sqldb.Config{
			Driver: cfg.Storage.Wallets.Driver,
			DSN:    cfg.Storage.Wallets.DSN,
		})
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Wallets.Driver)
	}
}

func buildLocker(ctx context.Context, cfg *config.Config) (lock.Locker, func(), error) {
	switch strings.ToLower(cfg.Lock.Driver) {
	case "memory", "":
		return lock.NewMemoryLocker(), func() {}, nil
	case "redis":
		l, err := lock.NewRedisLocker(ctx, lock.RedisConfig{
			Addr: cfg.Lock.RedisAddr,
			DB:   cfg.Lock.RedisDB,
			TTL:  cfg.Lock.TTL.Duration,
		})
		if err != nil {
			return nil, nil, err
		}
		return l, func() { _ = l.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("未知的锁驱动: %s", cfg.Lock.Driver)
	}
}

func buildPublisher(ctx context.Context, cfg *config.Config) (events.Publisher, error) {
	switch strings.ToLower(cfg.Events.Driver) {
	case "none", "":
		return events.NopPublisher{}, nil
	case "memory":
		return events.NewMemoryPublisher(), nil
	case "redis":
		p, err := events.NewRedisPublisher(ctx, events.RedisConfig{
			Address: cfg.Events.RedisAddr,
			Key:     cfg.Events.RedisKey,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "rabbitmq":
		p, err := events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:     cfg.Events.RabbitMQURL,
			Queue:   cfg.Events.RabbitMQQueue,
			Durable: true,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("未知的事件驱动: %s", cfg.Events.Driver)
	}
}

// ledgerOperator 返回健康检查时查询余额的账户。
func ledgerOperator(cfg *config.Config) ledger.AccountID {
	if id, err := ledger.ParseAccountID(cfg.Ledger.OperatorID); err == nil {
		return id
	}
	return ledger.AccountID{Num: 2}
}
