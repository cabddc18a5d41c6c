package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var tokenIDPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Asset 描述一种可转账资产及其固定精度。
type Asset struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	TokenID  string `json:"token_id" yaml:"token_id"`
	Decimals int32  `json:"decimals" yaml:"decimals"`
	Name     string `json:"name" yaml:"name"`
}

// Native 判断是否为账本原生币。
func (a Asset) Native() bool {
	return a.TokenID == ""
}

func (a Asset) validate() error {
	if strings.TrimSpace(a.Symbol) == "" {
		return fmt.Errorf("资产缺少 symbol")
	}
	if a.Decimals < 0 || a.Decimals > 18 {
		return fmt.Errorf("资产 %s 的精度超出范围: %d", a.Symbol, a.Decimals)
	}
	if strings.EqualFold(a.Symbol, NativeSymbol) {
		if !a.Native() || a.Decimals != NativeDecimals {
			return fmt.Errorf("%s 必须是精度为 %d 的原生资产", NativeSymbol, NativeDecimals)
		}
		return nil
	}
	if !tokenIDPattern.MatchString(a.TokenID) {
		return fmt.Errorf("资产 %s 的 token_id 无效: %q", a.Symbol, a.TokenID)
	}
	return nil
}

// assetFile 是 YAML 资产目录的顶层结构。
type assetFile struct {
	Assets []Asset `yaml:"assets"`
}

// LoadAssets 从 YAML 文件读取资产目录。
func LoadAssets(path string) ([]Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取资产目录失败: %w", err)
	}
	var file assetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("解析资产目录失败: %w", err)
	}
	return file.Assets, nil
}

// mergeAssets 合并内联资产和文件资产，内联定义优先。
func mergeAssets(inline, fromFile []Asset) []Asset {
	out := append([]Asset(nil), inline...)
	for _, asset := range fromFile {
		dup := false
		for _, existing := range inline {
			if strings.EqualFold(existing.Symbol, asset.Symbol) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, asset)
		}
	}
	return out
}

func ensureNative(assets []Asset) []Asset {
	for _, asset := range assets {
		if strings.EqualFold(asset.Symbol, NativeSymbol) {
			return assets
		}
	}
	return append([]Asset{{Symbol: NativeSymbol, Decimals: NativeDecimals, Name: "Hedera"}}, assets...)
}
