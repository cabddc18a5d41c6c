package config

import "strings"

// lookupFunc 与 os.LookupEnv 签名一致，便于测试注入。
type lookupFunc func(string) (string, bool)

// applyEnv 使用环境变量覆盖敏感配置，新旧两套变量名都会被识别，新名称优先。
func (c *Config) applyEnv(lookup lookupFunc) {
	if v, ok := first(lookup, "CUSTODY_MASTER_KEY", "ENCRYPTION_KEY"); ok {
		c.Custody.MasterKey = v
	}
	if v, ok := first(lookup, "CUSTODY_OPERATOR_ID", "HEDERA_OPERATOR_ID"); ok {
		c.Ledger.OperatorID = v
	}
	if v, ok := first(lookup, "CUSTODY_OPERATOR_KEY", "HEDERA_OPERATOR_KEY"); ok {
		c.Ledger.OperatorKey = v
	}
	if v, ok := first(lookup, "CUSTODY_NETWORK", "HEDERA_NETWORK"); ok {
		c.Ledger.Network = v
	}
	if v, ok := first(lookup, "CUSTODY_JWT_SECRET"); ok {
		c.Auth.JWT.Secret = v
	}
	if v, ok := first(lookup, "CUSTODY_ALERT_WEBHOOK"); ok {
		c.Alerts.WebhookURL = v
	}
	if v, ok := first(lookup, "CUSTODY_PRE_ASSOCIATE", "PLATFORM_TOKEN_IDS"); ok {
		c.Custody.PreAssociate = splitList(v)
	}
}

func first(lookup lookupFunc, names ...string) (string, bool) {
	for _, name := range names {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
