package keystore

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/youmark/pkcs8"
)

// ParsePrivateKey decodes RSA key material. PEM input may be PKCS#1
// ("RSA PRIVATE KEY"), PKCS#8 ("PRIVATE KEY") or encrypted PKCS#8
// ("ENCRYPTED PRIVATE KEY"); encrypted blocks are decrypted with password.
func ParsePrivateKey(material []byte, keyType KeyType, password []byte) (*rsa.PrivateKey, error) {
	if len(material) == 0 {
		return nil, fmt.Errorf("%w: empty key material", ErrKeyLoad)
	}

	var der []byte
	switch keyType {
	case KeyTypePEM:
		block, _ := pem.Decode(material)
		if block == nil {
			return nil, fmt.Errorf("%w: no PEM block found", ErrKeyLoad)
		}
		if block.Type == "ENCRYPTED PRIVATE KEY" {
			return parseEncryptedPKCS8(block.Bytes, password)
		}
		der = block.Bytes
		//nolint:staticcheck // legacy RFC 1423 encryption is what key files in the field use
		if x509.IsEncryptedPEMBlock(block) {
			if len(password) == 0 {
				return nil, fmt.Errorf("%w: key is encrypted and no password was given", ErrKeyLoad)
			}
			//nolint:staticcheck
			plain, err := x509.DecryptPEMBlock(block, password)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrKeyLoad, err)
			}
			der = plain
		}
	case KeyTypeDER:
		der = material
	default:
		return nil, fmt.Errorf("%w: unknown key type %d", ErrKeyLoad, keyType)
	}

	return parseDER(der)
}

func parseDER(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyLoad, err)
	}
	return rsaKey(parsed)
}

func parseEncryptedPKCS8(der, password []byte) (*rsa.PrivateKey, error) {
	if len(password) == 0 {
		return nil, fmt.Errorf("%w: key is encrypted and no password was given", ErrKeyLoad)
	}
	parsed, err := pkcs8.ParsePKCS8PrivateKey(der, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyLoad, err)
	}
	return rsaKey(parsed)
}

func rsaKey(parsed any) (*rsa.PrivateKey, error) {
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %T keys cannot decrypt a static key exchange", ErrKeyLoad, parsed)
	}
	return key, nil
}

// IsLoadError reports whether err came from key decoding.
func IsLoadError(err error) bool {
	return errors.Is(err, ErrKeyLoad)
}
