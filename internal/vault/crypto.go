package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

const (
	keySize   = 32
	nonceSize = 24
	saltSize  = 32
)

// scrypt cost of the password key, lowered by tests
var (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// pbkdf2 iterations of wallets sealed before the vault key existed
var legacyIterations = 310_000

var (
	errDecryptFailed = errors.New("decryption failed")
	errMalformedBox  = errors.New("malformed sealed value")
)

// cryptoKey seals values with nacl secretbox, the nonce is prepended to the box
type cryptoKey [keySize]byte

func generateCryptoKey() (*cryptoKey, error) {
	var key cryptoKey
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return nil, err
	}
	return &key, nil
}

func (k *cryptoKey) seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	arr := [keySize]byte(*k)
	return secretbox.Seal(nonce[:], plain, &nonce, &arr), nil
}

func (k *cryptoKey) open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, errMalformedBox
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	arr := [keySize]byte(*k)
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &arr)
	if !ok {
		return nil, errDecryptFailed
	}
	return plain, nil
}

func (k *cryptoKey) zero() {
	for i := range k {
		k[i] = 0
	}
}

// passwordParams are the persisted scrypt parameters of the password key
type passwordParams struct {
	Salt   []byte `json:"salt"`
	Digest []byte `json:"digest"`
	N      int    `json:"n"`
	R      int    `json:"r"`
	P      int    `json:"p"`
}

func newPasswordParams() (*passwordParams, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return &passwordParams{Salt: salt, N: scryptN, R: scryptR, P: scryptP}, nil
}

// deriveKey derives the password key and records its digest on first use,
// a later derivation with a different password returns errWrongPassword
func (p *passwordParams) deriveKey(password string) (*cryptoKey, error) {
	derived, err := scrypt.Key([]byte(password), p.Salt, p.N, p.R, p.P, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive password key: %w", err)
	}
	var key cryptoKey
	copy(key[:], derived)
	digest := sha256.Sum256(derived)

	if p.Digest == nil {
		p.Digest = digest[:]
		return &key, nil
	}
	if subtle.ConstantTimeCompare(p.Digest, digest[:]) != 1 {
		key.zero()
		return nil, errWrongPassword
	}
	return &key, nil
}

// legacyOpen decrypts a value written by the pbkdf2 scheme: salt || nonce || box
func legacyOpen(password string, sealed []byte) ([]byte, error) {
	if len(sealed) < saltSize+nonceSize+secretbox.Overhead {
		return nil, errMalformedBox
	}
	key := legacyKey(password, sealed[:saltSize])
	defer key.zero()
	return key.open(sealed[saltSize:])
}

func legacyKey(password string, salt []byte) *cryptoKey {
	base := sha256.Sum256([]byte(password))
	var key cryptoKey
	copy(key[:], pbkdf2.Key(base[:], salt, legacyIterations, keySize, sha256.New))
	return &key
}

// storageKey hashes the logical item key so item names are not stored in the clear
func storageKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
