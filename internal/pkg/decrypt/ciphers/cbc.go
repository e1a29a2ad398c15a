package ciphers

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
)

// BlockCBC implements a block cipher in CBC mode with HMAC for
// TLS 1.0/1.1/1.2 (AES-128, AES-256, 3DES-EDE).
//
// TLS CBC mode uses MAC-then-Encrypt:
// 1. Compute MAC over: seq_num + content_type + version + length + plaintext
// 2. Append MAC to plaintext
// 3. Pad with padding_length+1 bytes, each equal to padding_length
// 4. Encrypt with CBC
//
// TLS 1.0: implicit IV (last ciphertext block of the previous record)
// TLS 1.1+: explicit IV (first block of each record)
type BlockCBC struct {
	block   cipher.Block
	mac     recordMAC
	keySize int

	explicitIV bool
	// chained IV for TLS 1.0, one per instance since each instance
	// serves one direction
	iv []byte
}

// NewAESCBC creates an AES-CBC record cipher. iv is the key block IV and
// is only used when explicitIV is false.
func NewAESCBC(key, iv, macKey []byte, mac MAC, explicitIV bool) (*BlockCBC, error) {
	if len(key) != 16 && len(key) != 32 {
		return nil, fmt.Errorf("%w: expected 16 or 32 bytes, got %d", ErrInvalidKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	return newBlockCBC(block, len(key), iv, macKey, mac, explicitIV)
}

// NewTripleDESCBC creates a 3DES-EDE-CBC record cipher with a 24-byte key.
func NewTripleDESCBC(key, iv, macKey []byte, mac MAC, explicitIV bool) (*BlockCBC, error) {
	if len(key) != 24 {
		return nil, fmt.Errorf("%w: expected 24 bytes, got %d", ErrInvalidKeySize, len(key))
	}
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create 3DES cipher: %w", err)
	}
	return newBlockCBC(block, len(key), iv, macKey, mac, explicitIV)
}

func newBlockCBC(block cipher.Block, keySize int, iv, macKey []byte, mac MAC, explicitIV bool) (*BlockCBC, error) {
	if len(macKey) != mac.Size() || mac == MACNone {
		return nil, fmt.Errorf("%w: expected %d bytes MAC key, got %d", ErrInvalidKeySize, mac.Size(), len(macKey))
	}

	c := &BlockCBC{
		block:      block,
		mac:        newRecordMAC(mac, macKey),
		keySize:    keySize,
		explicitIV: explicitIV,
	}
	if !explicitIV {
		if len(iv) != block.BlockSize() {
			return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidIVSize, block.BlockSize(), len(iv))
		}
		c.iv = append([]byte(nil), iv...)
	}
	return c, nil
}

// DecryptRecord implements Cipher. For TLS 1.0 the chained IV advances
// to the last ciphertext block whether or not the record verifies.
func (c *BlockCBC) DecryptRecord(seq uint64, contentType uint8, version uint16, fragment []byte) ([]byte, error) {
	bs := c.block.BlockSize()

	iv := c.iv
	ciphertext := fragment
	if c.explicitIV {
		if len(fragment) < bs {
			return nil, fmt.Errorf("%w: CBC record too short for explicit IV", ErrInvalidCiphertext)
		}
		iv = fragment[:bs]
		ciphertext = fragment[bs:]
	}

	// Minimum size: MAC plus at least the padding length byte
	if len(ciphertext) == 0 || len(ciphertext)%bs != 0 || len(ciphertext) < c.mac.size+1 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrInvalidCiphertext, len(ciphertext))
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plaintext, ciphertext)

	if !c.explicitIV {
		c.iv = append(c.iv[:0], ciphertext[len(ciphertext)-bs:]...)
	}

	content, macGood := c.checkMAC(seq, contentType, version, plaintext)
	if macGood != 1 {
		return nil, ErrAuthenticationFailed
	}
	return content, nil
}

// checkMAC removes padding and verifies the MAC. Padding and MAC failures
// are reported identically; with bad padding the MAC is still computed
// over a plausible length.
func (c *BlockCBC) checkMAC(seq uint64, contentType uint8, version uint16, plaintext []byte) ([]byte, int) {
	paddingLen, paddingGood := extractPadding(plaintext, c.mac.size)

	end := len(plaintext) - paddingLen - c.mac.size
	if end < 0 {
		end = 0
		paddingGood = 0
	}
	content := plaintext[:end]
	recordMAC := plaintext[end : end+c.mac.size]

	expected := c.mac.compute(seq, contentType, version, content)
	macGood := subtle.ConstantTimeCompare(recordMAC, expected)
	return content, macGood & paddingGood
}

// extractPadding returns the number of padding bytes (including the length
// byte) and 1 if the padding is well formed, examining the bytes in
// constant time with respect to their values.
func extractPadding(payload []byte, macSize int) (toRemove int, good int) {
	if len(payload) < 1 {
		return 0, 0
	}

	paddingLen := payload[len(payload)-1]
	t := uint(len(payload)-macSize-1) - uint(paddingLen)
	// if len(payload) >= paddingLen+1+macSize then the MSB of t is zero
	goodByte := byte(int32(^t) >> 31)

	toCheck := 256
	if toCheck > len(payload) {
		toCheck = len(payload)
	}

	for i := 0; i < toCheck; i++ {
		t := uint(paddingLen) - uint(i)
		// if i <= paddingLen then the MSB of t is zero
		mask := byte(int32(^t) >> 31)
		b := payload[len(payload)-1-i]
		goodByte &^= mask&paddingLen ^ mask&b
	}

	// collapse goodByte to a single bit
	goodByte &= goodByte << 4
	goodByte &= goodByte << 2
	goodByte &= goodByte << 1
	good = int(goodByte >> 7)

	if good == 0 {
		return 0, 0
	}
	return int(paddingLen) + 1, 1
}

// EncryptRecord implements Cipher.
func (c *BlockCBC) EncryptRecord(seq uint64, contentType uint8, version uint16, plaintext []byte) ([]byte, error) {
	bs := c.block.BlockSize()

	mac := c.mac.compute(seq, contentType, version, plaintext)
	body := make([]byte, 0, len(plaintext)+len(mac)+bs)
	body = append(body, plaintext...)
	body = append(body, mac...)

	paddingLen := bs - (len(body)+1)%bs
	if paddingLen == bs {
		paddingLen = 0
	}
	for i := 0; i <= paddingLen; i++ {
		body = append(body, byte(paddingLen))
	}

	var out []byte
	iv := c.iv
	if c.explicitIV {
		iv = make([]byte, bs)
		if _, err := rand.Read(iv); err != nil {
			return nil, err
		}
		out = append(out, iv...)
	}

	ciphertext := make([]byte, len(body))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(ciphertext, body)
	if !c.explicitIV {
		c.iv = append(c.iv[:0], ciphertext[len(ciphertext)-bs:]...)
	}
	return append(out, ciphertext...), nil
}

// Mode implements Cipher.
func (c *BlockCBC) Mode() Mode { return ModeBlock }

// KeySize implements Cipher.
func (c *BlockCBC) KeySize() int { return c.keySize }

// TagSize implements Cipher.
func (c *BlockCBC) TagSize() int { return c.mac.size }

// BlockSize returns the cipher block size.
func (c *BlockCBC) BlockSize() int { return c.block.BlockSize() }

// Stateless implements Cipher. Only explicit IV records stand alone.
func (c *BlockCBC) Stateless() bool { return c.explicitIV }
