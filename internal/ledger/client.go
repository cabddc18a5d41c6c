package ledger

import "context"

// BalanceReader 查询账户余额，单位为资产的最小单位。
type BalanceReader interface {
	Balance(ctx context.Context, account AccountID, asset AssetID) (uint64, error)
}

// Client 是托管核心依赖的账本客户端。signer 为 secp256k1 私钥原始字节，
// 为 nil 时由运营方账户签名并支付手续费。实现不得保留 signer。
type Client interface {
	BalanceReader
	CreateAccount(ctx context.Context, publicKey []byte, initialBalance uint64) (AccountID, error)
	Associate(ctx context.Context, account AccountID, asset AssetID, signer []byte) (*Receipt, error)
	Transfer(ctx context.Context, instr TransferInstruction, signer []byte) (*Receipt, error)
}

// WithBalanceReader 返回一个余额查询改由 reader 完成的 Client。
func WithBalanceReader(client Client, reader BalanceReader) Client {
	if reader == nil {
		return client
	}
	return &splitClient{Client: client, reader: reader}
}

type splitClient struct {
	Client
	reader BalanceReader
}

func (s *splitClient) Balance(ctx context.Context, account AccountID, asset AssetID) (uint64, error) {
	return s.reader.Balance(ctx, account, asset)
}
