package decrypt

import (
	"crypto/subtle"
	"fmt"

	"github.com/endorses/tlsniff/internal/pkg/decrypt/ciphers"
	"github.com/endorses/tlsniff/internal/pkg/handshake"
	"github.com/endorses/tlsniff/internal/pkg/memzero"
)

// SessionKeys is everything derived for one handshake epoch.
type SessionKeys struct {
	Version      uint16
	Suite        *SuiteInfo
	MasterSecret []byte
	Material     *KeyMaterial
}

// NewSessionKeys expands a master secret into per-direction key material.
func NewSessionKeys(version uint16, suite *SuiteInfo, master, clientRandom, serverRandom []byte) *SessionKeys {
	return &SessionKeys{
		Version:      version,
		Suite:        suite,
		MasterSecret: master,
		Material:     DeriveKeyMaterial(version, suite, master, clientRandom, serverRandom),
	}
}

// NewCipher builds the record cipher for one direction.
func (k *SessionKeys) NewCipher(dir handshake.Direction) (ciphers.Cipher, error) {
	km := k.Material
	key, iv, macKey := km.ClientWriteKey, km.ClientWriteIV, km.ClientMACKey
	if dir == handshake.DirectionServer {
		key, iv, macKey = km.ServerWriteKey, km.ServerWriteIV, km.ServerMACKey
	}
	explicitIV := k.Version >= handshake.VersionTLS11

	switch k.Suite.Cipher {
	case CipherAESGCM:
		return ciphers.NewAESGCM(key, iv)
	case CipherAESCBC:
		return ciphers.NewAESCBC(key, iv, macKey, k.Suite.MAC, explicitIV)
	case Cipher3DESCBC:
		return ciphers.NewTripleDESCBC(key, iv, macKey, k.Suite.MAC, explicitIV)
	case CipherRC4:
		return ciphers.NewRC4(key, macKey, k.Suite.MAC)
	default:
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnsupportedCipherSuite, k.Suite.ID)
	}
}

// VerifyFinished checks a peer's verify_data against the transcript of
// every handshake message that preceded it.
func (k *SessionKeys) VerifyFinished(dir handshake.Direction, transcript, verifyData []byte) error {
	want := FinishedVerifyData(k.Version, k.Suite, k.MasterSecret, dir, TranscriptHash(k.Version, k.Suite, transcript))
	if subtle.ConstantTimeCompare(want, verifyData) != 1 {
		return fmt.Errorf("%w: %s Finished verify_data mismatch", ErrKeyMismatch, dir)
	}
	return nil
}

// Wipe zeroes the master secret and key block.
func (k *SessionKeys) Wipe() {
	if k == nil {
		return
	}
	memzero.Zero(k.MasterSecret)
	if k.Material != nil {
		memzero.Zero(k.Material.block)
	}
}
