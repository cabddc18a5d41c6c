package wallet

import (
	"fmt"
	"strings"
	"time"

	"custody-chain/internal/config"
	xerrors "custody-chain/internal/errors"
	"custody-chain/internal/ledger"
)

// Asset 是目录中的一种资产。
type Asset struct {
	Symbol   string
	ID       ledger.AssetID
	Decimals int32
	Name     string
}

// Native 报告是否为原生币。
func (a Asset) Native() bool {
	return a.ID.IsNative()
}

// Catalog 是只读的资产目录。
type Catalog struct {
	assets []Asset
}

// NewCatalog 由配置构造资产目录，并保证包含原生币。
func NewCatalog(assets []config.Asset) *Catalog {
	c := &Catalog{}
	hasNative := false
	for _, a := range assets {
		asset := Asset{Symbol: a.Symbol, ID: ledger.AssetID(a.TokenID), Decimals: a.Decimals, Name: a.Name}
		if asset.Native() {
			hasNative = true
		}
		c.assets = append(c.assets, asset)
	}
	if !hasNative {
		c.assets = append([]Asset{{Symbol: config.NativeSymbol, Decimals: config.NativeDecimals, Name: "Hedera"}}, c.assets...)
	}
	return c
}

// Lookup 按符号（不区分大小写）或 token ID 查找资产。
func (c *Catalog) Lookup(ref string) (Asset, error) {
	ref = strings.TrimSpace(ref)
	for _, a := range c.assets {
		if strings.EqualFold(a.Symbol, ref) || (!a.Native() && string(a.ID) == ref) {
			return a, nil
		}
	}
	return Asset{}, xerrors.New(CodeUnknownAsset, fmt.Sprintf("unknown asset %q", ref))
}

// Native 返回原生币定义。
func (c *Catalog) Native() Asset {
	for _, a := range c.assets {
		if a.Native() {
			return a
		}
	}
	return Asset{Symbol: config.NativeSymbol, Decimals: config.NativeDecimals}
}

// Assets 返回全部资产的副本。
func (c *Catalog) Assets() []Asset {
	return append([]Asset(nil), c.assets...)
}

// Settings 是托管组件共享的只读参数，在构造时传入。
type Settings struct {
	Network        string
	InitialBalance uint64
	PreAssociate   []ledger.AssetID
	ReceiptTimeout time.Duration
	ExplorerURL    string
}

// SettingsFromConfig 从已校验的配置生成 Settings。
func SettingsFromConfig(cfg *config.Config, catalog *Catalog) (Settings, error) {
	s := Settings{
		Network:        cfg.Ledger.Network,
		InitialBalance: cfg.Custody.InitialBalanceTinybar,
		ReceiptTimeout: cfg.Custody.ReceiptTimeout.Duration,
		ExplorerURL:    cfg.Custody.ExplorerURL,
	}
	for _, ref := range cfg.Custody.PreAssociate {
		asset, err := catalog.Lookup(ref)
		if err != nil {
			return Settings{}, err
		}
		if !asset.Native() {
			s.PreAssociate = append(s.PreAssociate, asset.ID)
		}
	}
	return s.withDefaults(), nil
}

func (s Settings) withDefaults() Settings {
	if s.Network == "" {
		s.Network = "testnet"
	}
	if s.ReceiptTimeout <= 0 {
		s.ReceiptTimeout = 30 * time.Second
	}
	if s.ExplorerURL == "" {
		s.ExplorerURL = "https://hashscan.io"
	}
	s.PreAssociate = append([]ledger.AssetID(nil), s.PreAssociate...)
	return s
}

// TransactionURL 返回区块浏览器中的交易链接。
func (s Settings) TransactionURL(txID string) string {
	if txID == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/transaction/%s", strings.TrimRight(s.ExplorerURL, "/"), s.Network, txID)
}
