package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"custody-chain/pkg/logger"
)

// NativeSymbol 是账本原生币在资产目录中的符号。
const NativeSymbol = "HBAR"

// NativeDecimals 对应 1 HBAR = 10^8 tinybar。
const NativeDecimals = 8

// Config 描述了托管服务在启动阶段需要加载的全部配置，加载后只读。
type Config struct {
	Server     ServerConfig  `json:"server"`
	Logging    logger.Config `json:"logging"`
	Auth       AuthConfig    `json:"auth"`
	Custody    CustodyConfig `json:"custody"`
	Ledger     LedgerConfig  `json:"ledger"`
	AssetsFile string        `json:"assets_file"`
	Assets     []Asset       `json:"assets"`
	Storage    StorageConfig `json:"storage"`
	Lock       LockConfig    `json:"lock"`
	Events     EventsConfig  `json:"events"`
	Alerts     AlertsConfig  `json:"alerts"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address           string   `json:"address"`
	ReadHeaderTimeout Duration `json:"read_header_timeout"`
	// MetricsAddress 非空时在独立端口暴露 /metrics。
	MetricsAddress string `json:"metrics_address"`
}

// AuthConfig 控制 API 的访问认证方式。
type AuthConfig struct {
	Mode string    `json:"mode"`
	JWT  JWTConfig `json:"jwt"`
}

// JWTConfig 描述 HS256 令牌校验参数。
type JWTConfig struct {
	Secret   string `json:"secret"`
	Issuer   string `json:"issuer"`
	Audience string `json:"audience"`
}

// CustodyConfig 汇总钱包托管相关参数。
type CustodyConfig struct {
	// MasterKey 为 64 位十六进制字符串（32 字节）。
	MasterKey             string   `json:"master_key"`
	InitialBalanceTinybar uint64   `json:"initial_balance_tinybar"`
	PreAssociate          []string `json:"pre_associate"`
	ReceiptTimeout        Duration `json:"receipt_timeout"`
	ExplorerURL           string   `json:"explorer_url"`
}

// LedgerConfig 描述账本网络与运营方账户。
type LedgerConfig struct {
	Driver        string `json:"driver"`
	Network       string `json:"network"`
	OperatorID    string `json:"operator_id"`
	OperatorKey   string `json:"operator_key"`
	RelayURL      string `json:"relay_url"`
	BalanceSource string `json:"balance_source"`
}

// StorageConfig 描述钱包记录的持久化后端。
type StorageConfig struct {
	Wallets WalletStoreConfig `json:"wallets"`
}

// WalletStoreConfig 支持 memory、mysql、postgres 三种驱动。
type WalletStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// LockConfig 控制开户时的分布式锁。
type LockConfig struct {
	Driver    string   `json:"driver"`
	RedisAddr string   `json:"redis_addr"`
	RedisDB   int      `json:"redis_db"`
	TTL       Duration `json:"ttl"`
}

// EventsConfig 控制转账事件的投递方式。
type EventsConfig struct {
	Driver        string `json:"driver"`
	RedisAddr     string `json:"redis_addr"`
	RedisKey      string `json:"redis_key"`
	RabbitMQURL   string `json:"rabbitmq_url"`
	RabbitMQQueue string `json:"rabbitmq_queue"`
}

// AlertsConfig 控制告警渠道。日志渠道始终启用。
type AlertsConfig struct {
	WebhookURL     string   `json:"webhook_url"`
	WebhookTimeout Duration `json:"webhook_timeout"`
}

// Duration 允许在 JSON 中使用 "30s" 形式的时长。
type Duration struct {
	time.Duration
}

// UnmarshalJSON 同时接受字符串时长和纳秒整数。
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("无效的时长 %q: %w", v, err)
		}
		d.Duration = parsed
	case float64:
		d.Duration = time.Duration(v)
	case nil:
		d.Duration = 0
	default:
		return fmt.Errorf("无效的时长类型 %T", raw)
	}
	return nil
}

// MarshalJSON 以字符串形式输出时长。
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load 负责解析指定路径的 JSON 配置文件，并叠加环境变量与资产目录。
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

	baseDir := filepath.Dir(path)
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults(baseDir)

	if cfg.AssetsFile != "" {
		assets, err := LoadAssets(cfg.AssetsFile)
		if err != nil {
			return nil, err
		}
		cfg.Assets = mergeAssets(cfg.Assets, assets)
	}
	cfg.Assets = ensureNative(cfg.Assets)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadHeaderTimeout.Duration <= 0 {
		c.Server.ReadHeaderTimeout.Duration = 5 * time.Second
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}

	if c.Custody.InitialBalanceTinybar == 0 {
		c.Custody.InitialBalanceTinybar = 100_000_000
	}
	if c.Custody.ReceiptTimeout.Duration <= 0 {
		c.Custody.ReceiptTimeout.Duration = 30 * time.Second
	}
	if c.Custody.ExplorerURL == "" {
		c.Custody.ExplorerURL = "https://hashscan.io"
	}

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}
	c.Ledger.Network = strings.ToLower(strings.TrimSpace(c.Ledger.Network))
	if c.Ledger.Network == "" {
		c.Ledger.Network = "testnet"
	}
	if c.Ledger.BalanceSource == "" {
		c.Ledger.BalanceSource = "sdk"
	}

	if c.Storage.Wallets.Driver == "" {
		c.Storage.Wallets.Driver = "memory"
	}
	if c.Lock.Driver == "" {
		c.Lock.Driver = "memory"
	}
	if c.Lock.TTL.Duration <= 0 {
		c.Lock.TTL.Duration = time.Minute
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "none"
	}
	if c.Events.RedisKey == "" {
		c.Events.RedisKey = "custody:transfers"
	}
	if c.Events.RabbitMQQueue == "" {
		c.Events.RabbitMQQueue = "custody.transfers"
	}

	if c.Alerts.WebhookTimeout.Duration <= 0 {
		c.Alerts.WebhookTimeout.Duration = 5 * time.Second
	}

	if c.AssetsFile != "" && !filepath.IsAbs(c.AssetsFile) {
		c.AssetsFile = filepath.Join(baseDir, c.AssetsFile)
	}
	for i, out := range c.Logging.OutputPaths {
		if out == "stdout" || out == "stderr" || filepath.IsAbs(out) {
			continue
		}
		c.Logging.OutputPaths[i] = filepath.Join(baseDir, out)
	}
	if c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}
}

// Validate 检查配置的一致性。
func (c *Config) Validate() error {
	if _, err := c.MasterKeyBytes(); err != nil {
		return err
	}
	switch c.Ledger.Network {
	case "testnet", "mainnet", "previewnet":
	default:
		return fmt.Errorf("不支持的网络: %s", c.Ledger.Network)
	}
	if c.Ledger.Driver == "hedera" && (c.Ledger.OperatorID == "" || c.Ledger.OperatorKey == "") {
		return errors.New("hedera 驱动需要配置 operator_id 与 operator_key")
	}
	if c.Ledger.BalanceSource == "relay" && c.Ledger.RelayURL == "" {
		return errors.New("balance_source=relay 需要配置 relay_url")
	}
	if c.Auth.Mode == "jwt" && strings.TrimSpace(c.Auth.JWT.Secret) == "" {
		return errors.New("jwt 模式需要配置 secret")
	}

	seen := make(map[string]struct{}, len(c.Assets))
	for _, asset := range c.Assets {
		if err := asset.validate(); err != nil {
			return err
		}
		key := strings.ToUpper(asset.Symbol)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("资产符号重复: %s", asset.Symbol)
		}
		seen[key] = struct{}{}
	}
	for _, symbol := range c.Custody.PreAssociate {
		if _, ok := c.Asset(symbol); !ok {
			return fmt.Errorf("pre_associate 引用了未知资产: %s", symbol)
		}
	}
	return nil
}

// MasterKeyBytes 解码主密钥。调用方负责在使用后清零。
func (c *Config) MasterKeyBytes() ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(c.Custody.MasterKey), "0x")
	if raw == "" {
		return nil, errors.New("未配置主密钥")
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, errors.New("主密钥必须是十六进制字符串")
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("主密钥长度必须为 32 字节，当前 %d", len(key))
	}
	return key, nil
}

// Asset 按符号或 token ID 查找资产定义。
func (c *Config) Asset(ref string) (Asset, bool) {
	ref = strings.TrimSpace(ref)
	for _, asset := range c.Assets {
		if strings.EqualFold(asset.Symbol, ref) || (asset.TokenID != "" && asset.TokenID == ref) {
			return asset, true
		}
	}
	return Asset{}, false
}
