package secret

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(seed byte) []byte {
	key := make([]byte, MasterKeySize)
	for i := range key {
		key[i] = seed + byte(i)
	}
	return key
}

func newTestCipher(t *testing.T, seed byte) *Cipher {
	t.Helper()
	c, err := NewCipher(testKey(seed))
	require.NoError(t, err)
	return c
}

func TestCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t, 1)

	inputs := [][]byte{
		{},
		[]byte("a"),
		[]byte("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"),
		bytes.Repeat([]byte{0xff}, 1024),
	}
	for _, in := range inputs {
		env, err := c.Encrypt(in)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(env, envelopePrefix))

		buf, err := c.Decrypt(env)
		require.NoError(t, err)
		require.NoError(t, buf.Use(func(p []byte) error {
			require.Equal(t, len(in), len(p))
			require.True(t, bytes.Equal(in, p))
			return nil
		}))
		buf.Release()
	}
}

func TestCipher_FreshNoncePerCall(t *testing.T) {
	c := newTestCipher(t, 1)
	a, err := c.Encrypt([]byte("same"))
	require.NoError(t, err)
	b, err := c.Encrypt([]byte("same"))
	require.NoError(t, err)
	require.NotEqual(t, a, b, "identical plaintexts must yield distinct envelopes")
}

func TestCipher_WrongKeyFails(t *testing.T) {
	env, err := newTestCipher(t, 1).Encrypt([]byte("private key"))
	require.NoError(t, err)

	_, err = newTestCipher(t, 2).Decrypt(env)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestCipher_TamperedOrMalformed(t *testing.T) {
	c := newTestCipher(t, 1)
	env, err := c.Encrypt([]byte("private key"))
	require.NoError(t, err)

	tampered := []byte(env)
	last := len(tampered) - 3
	if tampered[last] == 'A' {
		tampered[last] = 'B'
	} else {
		tampered[last] = 'A'
	}

	cases := map[string]error{
		string(tampered): ErrAuthFailed,
		"v1:%%%":         ErrMalformed,
		"v1:AAAA":        ErrInvalidNonceSize,
		"garbage":        ErrMalformed,
		"":               ErrMalformed,
		"zz:00":          ErrMalformed,
		"0011:00":        ErrInvalidNonceSize,
	}
	for in, want := range cases {
		_, err := c.Decrypt(in)
		require.Truef(t, errors.Is(err, want), "decrypt(%q) = %v, want %v", in, err, want)
	}
}

func TestCipher_InvalidMasterKey(t *testing.T) {
	_, err := NewCipher(make([]byte, 16))
	require.ErrorIs(t, err, ErrInvalidKeySize)
}

func legacyEnvelope(t *testing.T, key, plaintext []byte) string {
	t.Helper()
	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	return legacyRaw(t, key, append(append([]byte(nil), plaintext...), bytes.Repeat([]byte{byte(pad)}, pad)...))
}

func legacyRaw(t *testing.T, key, padded []byte) string {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	iv := make([]byte, aes.BlockSize)
	_, err = rand.Read(iv)
	require.NoError(t, err)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out)
}

func TestCipher_LegacyEnvelope(t *testing.T) {
	key := testKey(7)
	c, err := NewCipher(key)
	require.NoError(t, err)

	plaintext := []byte("3030020100300706052b8104000a04220420")
	buf, err := c.Decrypt(legacyEnvelope(t, key, plaintext))
	require.NoError(t, err)
	require.NoError(t, buf.Use(func(p []byte) error {
		require.Equal(t, plaintext, p)
		return nil
	}))

	badPadding := legacyRaw(t, key, bytes.Repeat([]byte{0}, aes.BlockSize))
	_, err = c.Decrypt(badPadding)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestBuffer_ScopeReleasesOnError(t *testing.T) {
	buf := NewBuffer([]byte{1, 2, 3})
	boom := errors.New("boom")

	var seen []byte
	err := Scope(buf, func(p []byte) error {
		seen = p
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.True(t, buf.Released())
	require.Equal(t, []byte{0, 0, 0}, seen[:3], "plaintext must be zeroed after scope")
	require.ErrorIs(t, buf.Use(func([]byte) error { return nil }), ErrReleased)
	require.Zero(t, buf.Len())
}
