package vault

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	PROTECTOR_PASSWORD = "password"
	PROTECTOR_HARDWARE = "hardware"
)

type protectorRecord struct {
	Scheme string `json:"scheme"`
}

// HardwareKey seals the vault key with a key that never leaves the device
type HardwareKey interface {
	Available() bool
	Generate() error
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(sealed []byte) ([]byte, error)
	Delete() error
}

// fileHardwareKey keeps the device key in a file readable only by the service user
type fileHardwareKey struct {
	path string
}

// NewFileHardwareKey returns a HardwareKey stored at path, unavailable when path is empty
func NewFileHardwareKey(path string) HardwareKey {
	return &fileHardwareKey{path: path}
}

func (k *fileHardwareKey) Available() bool {
	return k.path != ""
}

func (k *fileHardwareKey) Generate() error {
	if !k.Available() {
		return ErrHardwareDisabled
	}
	if err := os.MkdirAll(filepath.Dir(k.path), 0700); err != nil {
		return err
	}
	raw := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return err
	}
	return os.WriteFile(k.path, raw, 0600)
}

func (k *fileHardwareKey) load() (*cryptoKey, error) {
	if !k.Available() {
		return nil, ErrHardwareDisabled
	}
	raw, err := os.ReadFile(k.path)
	if err != nil {
		return nil, err
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("hardware key file has %d bytes", len(raw))
	}
	var key cryptoKey
	copy(key[:], raw)
	return &key, nil
}

func (k *fileHardwareKey) Encrypt(plain []byte) ([]byte, error) {
	key, err := k.load()
	if err != nil {
		return nil, err
	}
	defer key.zero()
	return key.seal(plain)
}

func (k *fileHardwareKey) Decrypt(sealed []byte) ([]byte, error) {
	key, err := k.load()
	if err != nil {
		return nil, err
	}
	defer key.zero()
	return key.open(sealed)
}

func (k *fileHardwareKey) Delete() error {
	if !k.Available() {
		return nil
	}
	if err := os.Remove(k.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

var errStrategySkipped = errors.New("unlock strategy not applicable")

// unlockStrategy recovers the vault key, errStrategySkipped means it does not apply to this wallet
type unlockStrategy interface {
	name() string
	tryUnlock(password string) (*cryptoKey, error)
}

// unlockStrategies in the order they are tried
func (v *Vault) unlockStrategies() []unlockStrategy {
	return []unlockStrategy{
		hardwareUnlock{v: v},
		passwordUnlock{v: v},
		legacyUnlock{v: v},
	}
}

type hardwareUnlock struct{ v *Vault }

func (hardwareUnlock) name() string { return PROTECTOR_HARDWARE }

func (s hardwareUnlock) tryUnlock(password string) (*cryptoKey, error) {
	if password != "" || s.v.hardware == nil || !s.v.hardware.Available() {
		return nil, errStrategySkipped
	}
	sealed, ok, err := s.v.getItem(itemHardwareKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errStrategySkipped
	}
	raw, err := s.v.hardware.Decrypt(sealed)
	if err != nil {
		return nil, err
	}
	return keyFromBytes(raw)
}

type passwordUnlock struct{ v *Vault }

func (passwordUnlock) name() string { return PROTECTOR_PASSWORD }

func (s passwordUnlock) tryUnlock(password string) (*cryptoKey, error) {
	if password == "" {
		return nil, errStrategySkipped
	}
	sealed, ok, err := s.v.getItem(itemPasswordKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errStrategySkipped
	}
	passKey, err := s.v.passwordKey(password)
	if err != nil {
		return nil, err
	}
	defer passKey.zero()
	raw, err := passKey.open(sealed)
	if err != nil {
		return nil, err
	}
	return keyFromBytes(raw)
}

// legacyUnlock opens wallets whose items were sealed directly by the password
// and migrates them to a password protected vault key
type legacyUnlock struct{ v *Vault }

func (legacyUnlock) name() string { return "legacy" }

func (s legacyUnlock) tryUnlock(password string) (*cryptoKey, error) {
	if password == "" {
		return nil, errStrategySkipped
	}
	var protector protectorRecord
	found, err := s.v.getJSON(itemProtector, &protector)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, errStrategySkipped
	}
	check, ok, err := s.v.getItem(itemCheck)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errStrategySkipped
	}
	if _, err := legacyOpen(password, check); err != nil {
		return nil, errWrongPassword
	}
	return s.v.migrateLegacy(password)
}

func keyFromBytes(raw []byte) (*cryptoKey, error) {
	if len(raw) != keySize {
		return nil, errMalformedBox
	}
	var key cryptoKey
	copy(key[:], raw)
	for i := range raw {
		raw[i] = 0
	}
	return &key, nil
}
