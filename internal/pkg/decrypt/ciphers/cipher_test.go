package ciphers

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ctAppData    = 23
	versionTLS10 = 0x0301
	versionTLS12 = 0x0303
)

func randBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// pair returns an encrypting and a decrypting instance of the same cipher.
func pair(t *testing.T, mk func() (Cipher, error)) (Cipher, Cipher) {
	t.Helper()
	enc, err := mk()
	require.NoError(t, err)
	dec, err := mk()
	require.NoError(t, err)
	return enc, dec
}

func TestRecordCiphersRoundTrip(t *testing.T) {
	aes128 := randBytes(t, 16)
	aes256 := randBytes(t, 32)
	des24 := randBytes(t, 24)
	rc4Key := randBytes(t, 16)
	salt := randBytes(t, 4)
	iv16 := randBytes(t, 16)
	iv8 := randBytes(t, 8)
	sha1Key := randBytes(t, 20)
	sha256Key := randBytes(t, 32)
	md5Key := randBytes(t, 16)

	tests := []struct {
		name      string
		version   uint16
		mode      Mode
		stateless bool
		mk        func() (Cipher, error)
	}{
		{name: "AES-128-GCM", version: versionTLS12, mode: ModeAEAD, stateless: true,
			mk: func() (Cipher, error) { return NewAESGCM(aes128, salt) }},
		{name: "AES-256-GCM", version: versionTLS12, mode: ModeAEAD, stateless: true,
			mk: func() (Cipher, error) { return NewAESGCM(aes256, salt) }},
		{name: "AES-128-CBC-SHA explicit IV", version: versionTLS12, mode: ModeBlock, stateless: true,
			mk: func() (Cipher, error) { return NewAESCBC(aes128, nil, sha1Key, MACSHA1, true) }},
		{name: "AES-256-CBC-SHA256 explicit IV", version: versionTLS12, mode: ModeBlock, stateless: true,
			mk: func() (Cipher, error) { return NewAESCBC(aes256, nil, sha256Key, MACSHA256, true) }},
		{name: "AES-128-CBC-SHA implicit IV", version: versionTLS10, mode: ModeBlock,
			mk: func() (Cipher, error) { return NewAESCBC(aes128, iv16, sha1Key, MACSHA1, false) }},
		{name: "3DES-EDE-CBC-SHA explicit IV", version: versionTLS12, mode: ModeBlock, stateless: true,
			mk: func() (Cipher, error) { return NewTripleDESCBC(des24, nil, sha1Key, MACSHA1, true) }},
		{name: "3DES-EDE-CBC-SHA implicit IV", version: versionTLS10, mode: ModeBlock,
			mk: func() (Cipher, error) { return NewTripleDESCBC(des24, iv8, sha1Key, MACSHA1, false) }},
		{name: "RC4-128-MD5", version: versionTLS10, mode: ModeStream,
			mk: func() (Cipher, error) { return NewRC4(rc4Key, md5Key, MACMD5) }},
		{name: "RC4-128-SHA", version: versionTLS12, mode: ModeStream,
			mk: func() (Cipher, error) { return NewRC4(rc4Key, sha1Key, MACSHA1) }},
	}

	messages := [][]byte{
		[]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"),
		{},
		bytes.Repeat([]byte{0x5a}, 1000),
		[]byte("x"),
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, dec := pair(t, tt.mk)
			assert.Equal(t, tt.mode, dec.Mode())
			assert.Equal(t, tt.stateless, dec.Stateless())

			for seq, msg := range messages {
				fragment, err := enc.EncryptRecord(uint64(seq), ctAppData, tt.version, msg)
				require.NoError(t, err)

				plain, err := dec.DecryptRecord(uint64(seq), ctAppData, tt.version, fragment)
				require.NoError(t, err, "record %d", seq)
				assert.True(t, bytes.Equal(msg, plain), "record %d", seq)
			}
		})
	}
}

func TestRecordCiphersRejectTampering(t *testing.T) {
	key := randBytes(t, 16)
	macKey := randBytes(t, 20)

	tests := []struct {
		name string
		mk   func() (Cipher, error)
	}{
		{name: "GCM", mk: func() (Cipher, error) { return NewAESGCM(key, []byte{1, 2, 3, 4}) }},
		{name: "CBC", mk: func() (Cipher, error) { return NewAESCBC(key, nil, macKey, MACSHA1, true) }},
		{name: "RC4", mk: func() (Cipher, error) { return NewRC4(key, macKey, MACSHA1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name+" flipped byte", func(t *testing.T) {
			enc, dec := pair(t, tt.mk)
			fragment, err := enc.EncryptRecord(0, ctAppData, versionTLS12, []byte("secret payload data here"))
			require.NoError(t, err)
			fragment[len(fragment)/2] ^= 0x01

			_, err = dec.DecryptRecord(0, ctAppData, versionTLS12, fragment)
			require.Error(t, err)
			assert.True(t, IsAuthError(err))
		})

		t.Run(tt.name+" wrong sequence", func(t *testing.T) {
			enc, dec := pair(t, tt.mk)
			fragment, err := enc.EncryptRecord(5, ctAppData, versionTLS12, []byte("hello"))
			require.NoError(t, err)

			_, err = dec.DecryptRecord(6, ctAppData, versionTLS12, fragment)
			assert.ErrorIs(t, err, ErrAuthenticationFailed)
		})

		t.Run(tt.name+" wrong content type", func(t *testing.T) {
			enc, dec := pair(t, tt.mk)
			fragment, err := enc.EncryptRecord(0, ctAppData, versionTLS12, []byte("hello"))
			require.NoError(t, err)

			_, err = dec.DecryptRecord(0, 22, versionTLS12, fragment)
			assert.ErrorIs(t, err, ErrAuthenticationFailed)
		})
	}
}

func TestImplicitIVChainsAfterFailure(t *testing.T) {
	key := randBytes(t, 16)
	iv := randBytes(t, 16)
	macKey := randBytes(t, 20)
	enc, dec := pair(t, func() (Cipher, error) { return NewAESCBC(key, iv, macKey, MACSHA1, false) })

	first, err := enc.EncryptRecord(0, ctAppData, versionTLS10, []byte("first record"))
	require.NoError(t, err)
	second, err := enc.EncryptRecord(1, ctAppData, versionTLS10, []byte("second record"))
	require.NoError(t, err)

	// decrypt the first with the wrong sequence: fails but the IV still chains
	_, err = dec.DecryptRecord(9, ctAppData, versionTLS10, first)
	assert.Error(t, err)

	plain, err := dec.DecryptRecord(1, ctAppData, versionTLS10, second)
	require.NoError(t, err)
	assert.Equal(t, []byte("second record"), plain)
}

func TestStatelessSequenceSearch(t *testing.T) {
	key := randBytes(t, 32)
	enc, dec := pair(t, func() (Cipher, error) { return NewAESGCM(key, []byte{9, 9, 9, 9}) })

	fragment, err := enc.EncryptRecord(42, ctAppData, versionTLS12, []byte("after the gap"))
	require.NoError(t, err)

	found := -1
	for seq := 30; seq < 50; seq++ {
		if _, err := dec.DecryptRecord(uint64(seq), ctAppData, versionTLS12, fragment); err == nil {
			found = seq
			break
		}
	}
	assert.Equal(t, 42, found)
}

func TestCipherConstructorErrors(t *testing.T) {
	_, err := NewAESGCM(make([]byte, 15), make([]byte, 4))
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = NewAESGCM(make([]byte, 16), make([]byte, 12))
	assert.ErrorIs(t, err, ErrInvalidIVSize)

	_, err = NewAESCBC(make([]byte, 16), nil, make([]byte, 19), MACSHA1, true)
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = NewAESCBC(make([]byte, 16), make([]byte, 8), make([]byte, 20), MACSHA1, false)
	assert.ErrorIs(t, err, ErrInvalidIVSize)

	_, err = NewTripleDESCBC(make([]byte, 16), nil, make([]byte, 20), MACSHA1, true)
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = NewRC4(make([]byte, 16), make([]byte, 20), MACNone)
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestCBCRejectsShortOrUnalignedFragments(t *testing.T) {
	c, err := NewAESCBC(make([]byte, 16), nil, make([]byte, 20), MACSHA1, true)
	require.NoError(t, err)

	_, err = c.DecryptRecord(0, ctAppData, versionTLS12, make([]byte, 8))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = c.DecryptRecord(0, ctAppData, versionTLS12, make([]byte, 16+17))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = c.DecryptRecord(0, ctAppData, versionTLS12, make([]byte, 16+16))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestExtractPadding(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		macSize int
		remove  int
		good    int
	}{
		{name: "single length byte", payload: append(make([]byte, 20), 0x00), macSize: 20, remove: 1, good: 1},
		{name: "four bytes", payload: append(make([]byte, 20), 3, 3, 3, 3), macSize: 20, remove: 4, good: 1},
		{name: "inconsistent byte", payload: append(make([]byte, 20), 3, 2, 3, 3), macSize: 20, good: 0},
		{name: "longer than payload", payload: append(make([]byte, 20), 0x30), macSize: 20, good: 0},
		{name: "eats into MAC", payload: append(make([]byte, 5), 5, 5, 5, 5, 5, 5), macSize: 20, good: 0},
		{name: "empty", payload: nil, macSize: 20, good: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remove, good := extractPadding(tt.payload, tt.macSize)
			assert.Equal(t, tt.good, good)
			if tt.good == 1 {
				assert.Equal(t, tt.remove, remove)
			}
		})
	}
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "AEAD", ModeAEAD.String())
	assert.Equal(t, "CBC", ModeBlock.String())
	assert.Equal(t, "Stream", ModeStream.String())
	assert.Equal(t, 16, MACMD5.Size())
	assert.Equal(t, 0, MACNone.Size())
}
