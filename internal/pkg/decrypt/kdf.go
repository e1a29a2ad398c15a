package decrypt

import (
	"crypto"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"github.com/endorses/tlsniff/internal/pkg/handshake"
)

// TLS 1.0-1.2 Key Derivation
//
// PRF(secret, label, seed) = P_<hash>(secret, label + seed)
//
// P_hash(secret, seed) = HMAC_hash(secret, A(1) + seed) +
//                        HMAC_hash(secret, A(2) + seed) + ...
// where:
//   A(0) = seed
//   A(i) = HMAC_hash(secret, A(i-1))
//
// TLS 1.2 uses the suite's hash (SHA-256, SHA-384 for AES-256-GCM).
// TLS 1.0/1.1 split the secret in halves and XOR P_MD5 with P_SHA1.

// MasterSecretLen is the length of the TLS master secret.
const MasterSecretLen = 48

// FinishedLen is the verify_data length of every supported suite.
const FinishedLen = 12

const (
	masterSecretLabel         = "master secret"
	extendedMasterSecretLabel = "extended master secret"
	keyExpansionLabel         = "key expansion"
	clientFinishedLabel       = "client finished"
	serverFinishedLabel       = "server finished"
)

// PRF12 implements the TLS 1.2 PRF with the given hash.
func PRF12(h crypto.Hash, secret, label, seed []byte, length int) []byte {
	labelAndSeed := make([]byte, len(label)+len(seed))
	copy(labelAndSeed, label)
	copy(labelAndSeed[len(label):], seed)

	result := make([]byte, length)
	pHash(result, hashFunc(h), secret, labelAndSeed)
	return result
}

// PRF10 implements the TLS 1.0/1.1 PRF.
func PRF10(secret, label, seed []byte, length int) []byte {
	labelAndSeed := make([]byte, len(label)+len(seed))
	copy(labelAndSeed, label)
	copy(labelAndSeed[len(label):], seed)

	// halves overlap by one byte when the secret length is odd
	half := (len(secret) + 1) / 2
	s1 := secret[:half]
	s2 := secret[len(secret)-half:]

	result := make([]byte, length)
	pHash(result, md5.New, s1, labelAndSeed)

	result2 := make([]byte, length)
	pHash(result2, sha1.New, s2, labelAndSeed)

	for i, b := range result2 {
		result[i] ^= b
	}
	return result
}

// pHash implements P_hash from RFC 5246, filling result.
func pHash(result []byte, h func() hash.Hash, secret, seed []byte) {
	mac := hmac.New(h, secret)
	mac.Write(seed)
	a := mac.Sum(nil)

	written := 0
	for written < len(result) {
		mac.Reset()
		mac.Write(a)
		mac.Write(seed)
		written += copy(result[written:], mac.Sum(nil))

		mac.Reset()
		mac.Write(a)
		a = mac.Sum(nil)
	}
}

func hashFunc(h crypto.Hash) func() hash.Hash {
	if h == crypto.SHA384 {
		return sha512.New384
	}
	return sha256.New
}

// prf selects the PRF for a version and suite.
func prf(version uint16, suite *SuiteInfo, secret, label, seed []byte, length int) []byte {
	if version >= handshake.VersionTLS12 {
		return PRF12(suite.PRFHash, secret, label, seed, length)
	}
	return PRF10(secret, label, seed, length)
}

// DeriveMasterSecret derives the master secret from the pre-master secret.
// master_secret = PRF(pre_master_secret, "master secret", ClientHello.random + ServerHello.random)[0..47]
func DeriveMasterSecret(version uint16, suite *SuiteInfo, preMasterSecret, clientRandom, serverRandom []byte) []byte {
	seed := make([]byte, 0, 64)
	seed = append(seed, clientRandom...)
	seed = append(seed, serverRandom...)
	return prf(version, suite, preMasterSecret, []byte(masterSecretLabel), seed, MasterSecretLen)
}

// DeriveExtendedMasterSecret derives the RFC 7627 master secret.
// master_secret = PRF(pre_master_secret, "extended master secret", session_hash)[0..47]
func DeriveExtendedMasterSecret(version uint16, suite *SuiteInfo, preMasterSecret, sessionHash []byte) []byte {
	return prf(version, suite, preMasterSecret, []byte(extendedMasterSecretLabel), sessionHash, MasterSecretLen)
}

// FinishedVerifyData computes verify_data for the given side.
// verify_data = PRF(master_secret, finished_label, Hash(handshake_messages))[0..11]
func FinishedVerifyData(version uint16, suite *SuiteInfo, masterSecret []byte, dir handshake.Direction, transcriptHash []byte) []byte {
	label := clientFinishedLabel
	if dir == handshake.DirectionServer {
		label = serverFinishedLabel
	}
	return prf(version, suite, masterSecret, []byte(label), transcriptHash, FinishedLen)
}

// KeyMaterial holds the key block partitioned per direction.
type KeyMaterial struct {
	ClientWriteKey []byte
	ServerWriteKey []byte
	ClientWriteIV  []byte
	ServerWriteIV  []byte
	ClientMACKey   []byte
	ServerMACKey   []byte

	block []byte
}

// DeriveKeyMaterial derives session keys from the master secret.
// key_block = PRF(master_secret, "key expansion", ServerHello.random + ClientHello.random)
//
// The key_block is partitioned as:
//
//	client_write_MAC_key[mac_key_length]
//	server_write_MAC_key[mac_key_length]
//	client_write_key[enc_key_length]
//	server_write_key[enc_key_length]
//	client_write_IV[fixed_iv_length]
//	server_write_IV[fixed_iv_length]
func DeriveKeyMaterial(version uint16, suite *SuiteInfo, masterSecret, clientRandom, serverRandom []byte) *KeyMaterial {
	// Note: For key expansion, server random comes first
	seed := make([]byte, 0, 64)
	seed = append(seed, serverRandom...)
	seed = append(seed, clientRandom...)

	macLen := suite.MAC.Size()
	keyBlockLen := 2*macLen + 2*suite.KeyLen + 2*suite.IVLen
	keyBlock := prf(version, suite, masterSecret, []byte(keyExpansionLabel), seed, keyBlockLen)

	km := &KeyMaterial{block: keyBlock}
	offset := 0
	next := func(n int) []byte {
		b := keyBlock[offset : offset+n : offset+n]
		offset += n
		return b
	}

	km.ClientMACKey = next(macLen)
	km.ServerMACKey = next(macLen)
	km.ClientWriteKey = next(suite.KeyLen)
	km.ServerWriteKey = next(suite.KeyLen)
	km.ClientWriteIV = next(suite.IVLen)
	km.ServerWriteIV = next(suite.IVLen)

	return km
}

// TranscriptHash hashes the handshake messages for Finished and the
// extended master secret: MD5 || SHA-1 before TLS 1.2, the suite hash
// after.
func TranscriptHash(version uint16, suite *SuiteInfo, transcript []byte) []byte {
	if version >= handshake.VersionTLS12 {
		h := hashFunc(suite.PRFHash)()
		h.Write(transcript)
		return h.Sum(nil)
	}
	m := md5.Sum(transcript)
	s := sha1.Sum(transcript)
	return append(m[:], s[:]...)
}
