package wallet

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	xerrors "custody-chain/internal/errors"
	"custody-chain/internal/secret"

	"github.com/ethereum/go-ethereum/crypto"
	hsdk "github.com/hashgraph/hedera-sdk-go/v2"
)

// Identity 是新生成的密钥对及其派生地址。
type Identity struct {
	PrivateKey    *secret.Buffer
	AltPrivateKey *secret.Buffer
	PublicKey     []byte
	Address       string
}

// Release 清零私钥材料。
func (i *Identity) Release() {
	if i == nil {
		return
	}
	i.PrivateKey.Release()
	i.AltPrivateKey.Release()
}

// IdentityGenerator 生成新的钱包身份。
type IdentityGenerator func() (*Identity, error)

// GenerateIdentity 生成 secp256k1 密钥对，派生压缩公钥与 0x 地址。
// 不访问账本；熵源失败视为致命错误。
func GenerateIdentity() (*Identity, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, xerrors.Wrap(CodeIdentity, err, "generate secp256k1 key")
	}
	raw := crypto.FromECDSA(key)
	key.D.SetInt64(0)
	defer clear(raw)

	return identityFromRaw(raw)
}

func identityFromRaw(raw []byte) (*Identity, error) {
	pub, addr, err := DeriveIdentity(raw)
	if err != nil {
		return nil, xerrors.Wrap(CodeIdentity, err, "derive identity")
	}

	alt := make([]byte, 2+hex.EncodedLen(len(raw)))
	copy(alt, "0x")
	hex.Encode(alt[2:], raw)
	altBuf := secret.NewBuffer(alt)
	clear(alt)

	return &Identity{
		PrivateKey:    secret.NewBuffer(raw),
		AltPrivateKey: altBuf,
		PublicKey:     pub,
		Address:       addr,
	}, nil
}

// DeriveIdentity 从原始私钥派生压缩公钥与 0x 地址。
func DeriveIdentity(raw []byte) (publicKey []byte, address string, err error) {
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, "", fmt.Errorf("invalid secp256k1 key: %w", err)
	}
	defer key.D.SetInt64(0)
	return crypto.CompressPubkey(&key.PublicKey), crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// matchesPublicKey 校验解密出的私钥是否与记录中的公钥一致。
func matchesPublicKey(raw []byte, publicKeyHex string) bool {
	pub, _, err := DeriveIdentity(raw)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return false
	}
	return bytes.Equal(pub, want)
}

// ecdsaDERPrefix 是早期记录中 secp256k1 私钥 DER 文本的固定前缀，其后紧跟 32 字节标量。
var ecdsaDERPrefix = []byte{
	0x30, 0x30, 0x02, 0x01, 0x00, 0x30, 0x07, 0x06, 0x05,
	0x2b, 0x81, 0x04, 0x00, 0x0a, 0x04, 0x22, 0x04, 0x20,
}

var errKeyFormat = errors.New("unrecognised private key encoding")

// scalarFromKeyMaterial 将解密得到的私钥归一化为 32 字节标量。
// 当前记录直接保存标量；早期记录保存 DER 的 hex 文本或 "0x" 前缀的 hex 文本。
// 返回的切片由调用方清零。
func scalarFromKeyMaterial(b []byte) ([]byte, error) {
	if len(b) == secp256k1ScalarSize {
		return append([]byte(nil), b...), nil
	}
	text := strings.TrimPrefix(strings.TrimSpace(string(b)), "0x")
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return nil, errKeyFormat
	}
	defer clear(decoded)

	switch {
	case len(decoded) == secp256k1ScalarSize:
		return append([]byte(nil), decoded...), nil
	case len(decoded) == len(ecdsaDERPrefix)+secp256k1ScalarSize && bytes.HasPrefix(decoded, ecdsaDERPrefix):
		return append([]byte(nil), decoded[len(ecdsaDERPrefix):]...), nil
	}
	key, err := hsdk.PrivateKeyFromBytesECDSA(decoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errKeyFormat, err)
	}
	return key.BytesRaw(), nil
}

const secp256k1ScalarSize = 32
