package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
	"strings"
)

// decryptLegacy 读取早期版本写入的 AES-256-CBC 信封 "hex(iv):hex(ciphertext)"，
// 该格式直接使用主密钥并以 PKCS#7 填充。新数据不会再写成这种格式。
func (c *Cipher) decryptLegacy(envelope string) (*Buffer, error) {
	ivHex, ctHex, ok := strings.Cut(envelope, ":")
	if !ok {
		return nil, ErrMalformed
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, fmt.Errorf("%w: iv is not hex", ErrMalformed)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidNonceSize, len(iv))
	}
	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext is not hex", ErrMalformed)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrMalformed, len(ciphertext))
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.legacy, iv).CryptBlocks(plaintext, ciphertext)

	n, err := unpad(plaintext)
	if err != nil {
		clear(plaintext)
		return nil, err
	}
	clear(plaintext[n:])
	return adopt(plaintext[:n]), nil
}

func unpad(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, ErrAuthFailed
	}
	pad := int(b[len(b)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(b) {
		return 0, ErrAuthFailed
	}
	for _, v := range b[len(b)-pad:] {
		if int(v) != pad {
			return 0, ErrAuthFailed
		}
	}
	return len(b) - pad, nil
}
