package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// MasterKeySize 是主密钥的固定长度。
	MasterKeySize = 32
	// NonceSize 是 AES-GCM 的随机数长度。
	NonceSize = 12

	envelopePrefix = "v1:"
	hkdfInfo       = "custody-wallet-key-v1"
)

var (
	ErrInvalidKeySize   = errors.New("invalid master key size")
	ErrMalformed        = errors.New("malformed envelope")
	ErrInvalidNonceSize = errors.New("invalid nonce size")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrReleased         = errors.New("secret buffer released")
)

// Cipher 使用服务端主密钥对私钥材料做认证加密。
// 构造后只读，可并发使用。
type Cipher struct {
	aead   cipher.AEAD
	legacy cipher.Block
	rand   io.Reader
}

// Option 配置 Cipher。
type Option func(*Cipher)

// WithRandom 替换随机源，仅用于测试。
func WithRandom(r io.Reader) Option {
	return func(c *Cipher) {
		if r != nil {
			c.rand = r
		}
	}
}

// NewCipher 由 32 字节主密钥派生数据密钥。masterKey 不会被保留，
// 调用方可以在返回后立即清零。
func NewCipher(masterKey []byte, opts ...Option) (*Cipher, error) {
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKeySize, MasterKeySize, len(masterKey))
	}

	dataKey := make([]byte, MasterKeySize)
	defer clear(dataKey)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(hkdfInfo)), dataKey); err != nil {
		return nil, fmt.Errorf("derive data key: %w", err)
	}

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, fmt.Errorf("create aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	legacy, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("create legacy cipher: %w", err)
	}

	c := &Cipher{aead: aead, legacy: legacy, rand: rand.Reader}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Encrypt 加密 plaintext，输出格式为 "v1:" + base64(nonce || ciphertext || tag)。
// 每次调用都会生成新的随机数。
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return envelopePrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// EncryptBuffer 加密 Buffer 中的明文。
func (c *Cipher) EncryptBuffer(buf *Buffer) (string, error) {
	var out string
	err := buf.Use(func(p []byte) error {
		var err error
		out, err = c.Encrypt(p)
		return err
	})
	return out, err
}

// Decrypt 解开信封并返回持有明文的 Buffer。旧版 "ivhex:cthex" 格式同样支持。
// 任何格式、随机数长度、认证或填充错误都返回可用 errors.Is 判断的哨兵错误。
func (c *Cipher) Decrypt(envelope string) (*Buffer, error) {
	envelope = strings.TrimSpace(envelope)
	if !strings.HasPrefix(envelope, envelopePrefix) {
		if strings.Contains(envelope, ":") {
			return c.decryptLegacy(envelope)
		}
		return nil, ErrMalformed
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(envelope, envelopePrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) < NonceSize+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidNonceSize, len(raw))
	}

	nonce, sealed := raw[:NonceSize], raw[NonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return adopt(plaintext), nil
}
