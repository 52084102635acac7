package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cosmos/go-bip39"
	"github.com/goatnetwork/note-wallet/internal/chainclient"
	"github.com/goatnetwork/note-wallet/internal/state"
	log "github.com/sirupsen/logrus"
	"github.com/sugawarayuuta/sonnet"
)

type Status string

const (
	STATUS_NON_EXISTENT Status = "NonExistent"
	STATUS_LOCKED       Status = "Locked"
	STATUS_READY        Status = "Ready"
)

const (
	itemCheck          = "vault_check"
	itemProtector      = "vault_protector"
	itemPasswordParams = "vault_passparams"
	itemPasswordKey    = "vault_passkey"
	itemHardwareKey    = "vault_hwkey"
	itemMnemonic       = "vault_mnemonic"
	itemOwnMnemonic    = "vault_ownmnemonic"
	itemAccounts       = "vault_accounts"
	itemCurrentAccount = "vault_curraccount"
)

func itemAccPrivKey(id string) string { return "vault_accprivkey_" + id }
func itemAccPubKey(id string) string  { return "vault_accpubkey_" + id }
func itemAccViewKey(id string) string { return "vault_accviewkey_" + id }

// State is the public view of the vault, it never carries key material
type State struct {
	Status            Status    `json:"status"`
	Accounts          []Account `json:"accounts"`
	CurrentAccount    string    `json:"current_account"`
	HardwareProtector bool      `json:"hardware_protector"`
	OwnMnemonic       bool      `json:"own_mnemonic"`
}

// Vault holds the wallet secrets, all of them sealed by one in-memory vault key while unlocked
type Vault struct {
	state          *state.State
	networks       map[string]*chainclient.Manager
	defaultNetwork string
	hardware       HardwareKey

	// unlockMu serializes every transition of the vault key
	unlockMu sync.Mutex

	mu       sync.RWMutex
	key      *cryptoKey
	accounts []Account

	logger *log.Entry
}

func NewVault(st *state.State, networks map[string]*chainclient.Manager, defaultNetwork string, hardware HardwareKey) *Vault {
	return &Vault{
		state:          st,
		networks:       networks,
		defaultNetwork: defaultNetwork,
		hardware:       hardware,
		logger: log.WithFields(log.Fields{
			"module": "vault",
		}),
	}
}

// Exists reports whether a wallet was spawned
func (v *Vault) Exists() (bool, error) {
	_, ok, err := v.getItem(itemCheck)
	return ok, err
}

func (v *Vault) Status() (Status, error) {
	v.mu.RLock()
	ready := v.key != nil
	v.mu.RUnlock()
	if ready {
		return STATUS_READY, nil
	}
	exists, err := v.Exists()
	if err != nil {
		return "", err
	}
	if exists {
		return STATUS_LOCKED, nil
	}
	return STATUS_NON_EXISTENT, nil
}

func (v *Vault) IsReady() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.key != nil
}

func (v *Vault) GetState() (*State, error) {
	status, err := v.Status()
	if err != nil {
		return nil, err
	}
	st := &State{Status: status}
	if status != STATUS_READY {
		return st, nil
	}

	v.mu.RLock()
	st.Accounts = append([]Account(nil), v.accounts...)
	v.mu.RUnlock()

	var current string
	if _, err := v.getJSON(itemCurrentAccount, &current); err != nil {
		return nil, err
	}
	st.CurrentAccount = current
	var protector protectorRecord
	if _, err := v.getJSON(itemProtector, &protector); err != nil {
		return nil, err
	}
	st.HardwareProtector = protector.Scheme == PROTECTOR_HARDWARE
	own := true
	if _, err := v.getJSON(itemOwnMnemonic, &own); err != nil {
		return nil, err
	}
	st.OwnMnemonic = own
	return st, nil
}

// Spawn creates a new wallet protected by password, replacing any existing one.
// An empty mnemonic generates a fresh one.
func (v *Vault) Spawn(ctx context.Context, password, mnemonic string, ownMnemonic bool) error {
	v.unlockMu.Lock()
	defer v.unlockMu.Unlock()

	if password == "" {
		return ErrInvalidPassword
	}
	if mnemonic == "" {
		entropy, err := bip39.NewEntropy(128)
		if err != nil {
			return WithError("Failed to create wallet", err)
		}
		if mnemonic, err = bip39.NewMnemonic(entropy); err != nil {
			return WithError("Failed to create wallet", err)
		}
	} else if !bip39.IsMnemonicValid(mnemonic) {
		return ErrInvalidMnemonic
	}

	v.lock()
	err := v.spawn(ctx, password, mnemonic, ownMnemonic)
	if err != nil {
		return WithError("Failed to create wallet", err)
	}
	v.publishState()
	return nil
}

func (v *Vault) spawn(ctx context.Context, password, mnemonic string, ownMnemonic bool) error {
	key, err := generateCryptoKey()
	if err != nil {
		return err
	}
	params, err := newPasswordParams()
	if err != nil {
		return err
	}
	passKey, err := params.deriveKey(password)
	if err != nil {
		return err
	}
	defer passKey.zero()
	sealedKey, err := passKey.seal(key[:])
	if err != nil {
		return err
	}

	check, err := generateCheck()
	if err != nil {
		return err
	}

	account, secrets, err := v.createAccount(ctx, mnemonic, 0, WALLET_TYPE_PRIVATE, defaultAccountName(0))
	if err != nil {
		return err
	}

	batch := newItemBatch()
	batch.put(itemPasswordKey, sealedKey)
	if err := batch.putJSON(itemPasswordParams, params); err != nil {
		return err
	}
	if err := batch.putJSON(itemProtector, protectorRecord{Scheme: PROTECTOR_PASSWORD}); err != nil {
		return err
	}
	if err := batch.putSealed(key, itemCheck, []byte(check)); err != nil {
		return err
	}
	if err := batch.putSealed(key, itemMnemonic, []byte(mnemonic)); err != nil {
		return err
	}
	if err := batch.putJSON(itemOwnMnemonic, ownMnemonic); err != nil {
		return err
	}
	if err := batch.putAccount(key, account, secrets); err != nil {
		return err
	}
	accounts := []Account{*account}
	if err := batch.putJSON(itemAccounts, accounts); err != nil {
		return err
	}
	if err := batch.putJSON(itemCurrentAccount, account.Id); err != nil {
		return err
	}

	if err := v.state.ClearVault(); err != nil {
		return err
	}
	if err := v.state.PutVaultItems(batch.items); err != nil {
		return err
	}
	if err := v.state.SaveAccountCreation(account.Id, secrets.createdAtBlock, secrets.createdAtRecordId); err != nil {
		return err
	}

	v.mu.Lock()
	v.key = key
	v.accounts = accounts
	v.mu.Unlock()
	v.logger.Infof("Wallet spawned with account %s on networks %v", account.Id, account.Networks)
	return nil
}

// Unlock recovers the vault key. Without a password only the hardware protector is tried.
func (v *Vault) Unlock(ctx context.Context, password string) error {
	v.unlockMu.Lock()
	defer v.unlockMu.Unlock()

	exists, err := v.Exists()
	if err != nil {
		return WithError("Failed to unlock wallet", err)
	}
	if !exists {
		return ErrNotInitialized
	}
	// an unlocked vault still needs a credential, callers issue sessions on success
	if v.IsReady() {
		if password != "" {
			return v.verifyPassword(password)
		}
		k, err := hardwareUnlock{v: v}.tryUnlock("")
		if err != nil {
			return ErrInvalidPassword
		}
		k.zero()
		return nil
	}

	var key *cryptoKey
	for _, strategy := range v.unlockStrategies() {
		k, err := strategy.tryUnlock(password)
		if errors.Is(err, errStrategySkipped) {
			continue
		}
		if err != nil {
			v.logger.Debugf("Unlock via %s failed: %v", strategy.name(), err)
			continue
		}
		v.logger.Infof("Wallet unlocked via %s", strategy.name())
		key = k
		break
	}
	if key == nil {
		return ErrInvalidPassword
	}

	var accounts []Account
	if _, err := v.getJSON(itemAccounts, &accounts); err != nil {
		key.zero()
		return WithError("Failed to unlock wallet", err)
	}

	v.mu.Lock()
	v.key = key
	v.accounts = accounts
	v.mu.Unlock()

	v.registerSecretKeys(ctx)
	v.publishState()
	return nil
}

// registerSecretKeys hands the account keys to the chain client of the default network
func (v *Vault) registerSecretKeys(ctx context.Context) {
	clients, ok := v.networks[v.defaultNetwork]
	if !ok {
		return
	}
	v.mu.RLock()
	key, accounts := v.key, append([]Account(nil), v.accounts...)
	v.mu.RUnlock()

	for _, account := range accounts {
		secret, err := v.getSealed(key, itemAccPrivKey(account.Id))
		if err != nil {
			v.logger.Warnf("Load secret key of %s error: %v", account.Id, err)
			continue
		}
		err = clients.WithClient(ctx, nil, func(ctx context.Context, c chainclient.Client) error {
			return c.AddAccountSecretKey(ctx, account.Id, secret)
		})
		if err != nil {
			v.logger.Warnf("Register secret key of %s error: %v", account.Id, err)
		}
	}
}

// Lock discards every secret held in memory and closes the chain clients holding account keys
func (v *Vault) Lock() {
	v.unlockMu.Lock()
	v.lock()
	v.unlockMu.Unlock()
	for network, clients := range v.networks {
		if err := clients.Dispose(context.Background()); err != nil {
			v.logger.Warnf("Dispose %s chain client error: %v", network, err)
		}
	}
	v.publishState()
}

func (v *Vault) lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key != nil {
		v.key.zero()
	}
	v.key = nil
	v.accounts = nil
}

func (v *Vault) RevealMnemonic(password string) (string, error) {
	key, err := v.readyKey()
	if err != nil {
		return "", err
	}
	if err := v.verifyPassword(password); err != nil {
		return "", err
	}
	mnemonic, err := v.getSealed(key, itemMnemonic)
	if err != nil {
		return "", WithError("Failed to reveal seed phrase", err)
	}
	return string(mnemonic), nil
}

func (v *Vault) RevealPrivateKey(accountId, password string) ([]byte, error) {
	key, err := v.readyKey()
	if err != nil {
		return nil, err
	}
	if err := v.verifyPassword(password); err != nil {
		return nil, err
	}
	if _, ok := v.findAccount(func(a Account) bool { return a.Id == accountId }); !ok {
		return nil, ErrAccountNotFound
	}
	secret, err := v.getSealed(key, itemAccPrivKey(accountId))
	if err != nil {
		return nil, WithError("Failed to reveal private key", err)
	}
	return secret, nil
}

// GetAuthSecretKey returns the secret key of the account owning pubKey (hex)
func (v *Vault) GetAuthSecretKey(pubKey string) ([]byte, error) {
	key, err := v.readyKey()
	if err != nil {
		return nil, err
	}
	account, ok := v.findAccount(func(a Account) bool { return equalHex(a.PublicKey, pubKey) })
	if !ok {
		return nil, ErrAccountNotFound
	}
	secret, err := v.getSealed(key, itemAccPrivKey(account.Id))
	if err != nil {
		return nil, WithError("Failed to load secret key", err)
	}
	return secret, nil
}

// EnableHardwareProtector seals the vault key with the hardware key and drops the password sealed copy
func (v *Vault) EnableHardwareProtector(password string) error {
	v.unlockMu.Lock()
	defer v.unlockMu.Unlock()

	key, err := v.readyKey()
	if err != nil {
		return err
	}
	if v.hardware == nil || !v.hardware.Available() {
		return ErrHardwareDisabled
	}
	if err := v.verifyPassword(password); err != nil {
		return err
	}

	if err := v.hardware.Generate(); err != nil {
		return WithError("Failed to enable hardware protection", err)
	}
	sealed, err := v.hardware.Encrypt(key[:])
	if err != nil {
		return WithError("Failed to enable hardware protection", err)
	}
	batch := newItemBatch()
	batch.put(itemHardwareKey, sealed)
	if err := batch.putJSON(itemProtector, protectorRecord{Scheme: PROTECTOR_HARDWARE}); err != nil {
		return WithError("Failed to enable hardware protection", err)
	}
	if err := v.state.PutVaultItems(batch.items, storageKey(itemPasswordKey)); err != nil {
		return WithError("Failed to enable hardware protection", err)
	}
	v.publishState()
	return nil
}

// DisableHardwareProtector seals the vault key with the password again and deletes the hardware key
func (v *Vault) DisableHardwareProtector(password string) error {
	v.unlockMu.Lock()
	defer v.unlockMu.Unlock()

	key, err := v.readyKey()
	if err != nil {
		return err
	}
	passKey, err := v.passwordKey(password)
	if errors.Is(err, errWrongPassword) {
		return ErrInvalidPassword
	}
	if err != nil {
		return WithError("Failed to disable hardware protection", err)
	}
	defer passKey.zero()
	sealed, err := passKey.seal(key[:])
	if err != nil {
		return WithError("Failed to disable hardware protection", err)
	}

	batch := newItemBatch()
	batch.put(itemPasswordKey, sealed)
	if err := batch.putJSON(itemProtector, protectorRecord{Scheme: PROTECTOR_PASSWORD}); err != nil {
		return WithError("Failed to disable hardware protection", err)
	}
	if err := v.state.PutVaultItems(batch.items, storageKey(itemHardwareKey)); err != nil {
		return WithError("Failed to disable hardware protection", err)
	}
	if v.hardware != nil {
		if err := v.hardware.Delete(); err != nil {
			v.logger.Warnf("Delete hardware key error: %v", err)
		}
	}
	v.publishState()
	return nil
}

// ViewKeys returns the view key of every account, empty while locked
func (v *Vault) ViewKeys(ctx context.Context) (map[string][]byte, error) {
	v.mu.RLock()
	key, accounts := v.key, append([]Account(nil), v.accounts...)
	v.mu.RUnlock()

	keys := make(map[string][]byte, len(accounts))
	if key == nil {
		return keys, nil
	}
	for _, account := range accounts {
		viewKey, err := v.getSealed(key, itemAccViewKey(account.Id))
		if err != nil {
			return nil, fmt.Errorf("load view key of %s: %w", account.Id, err)
		}
		keys[account.Id] = viewKey
	}
	return keys, nil
}

// migrateLegacy re-seals every legacy item under a new vault key protected by password
func (v *Vault) migrateLegacy(password string) (*cryptoKey, error) {
	var accounts []Account
	if _, err := v.getJSON(itemAccounts, &accounts); err != nil {
		return nil, err
	}
	names := []string{itemCheck, itemMnemonic}
	for _, account := range accounts {
		names = append(names, itemAccPrivKey(account.Id), itemAccPubKey(account.Id), itemAccViewKey(account.Id))
	}

	key, err := generateCryptoKey()
	if err != nil {
		return nil, err
	}
	batch := newItemBatch()
	for _, name := range names {
		sealed, ok, err := v.getItem(name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		plain, err := legacyOpen(password, sealed)
		if err != nil {
			return nil, fmt.Errorf("open legacy item %s: %w", name, err)
		}
		if err := batch.putSealed(key, name, plain); err != nil {
			return nil, err
		}
	}

	params, err := newPasswordParams()
	if err != nil {
		return nil, err
	}
	passKey, err := params.deriveKey(password)
	if err != nil {
		return nil, err
	}
	defer passKey.zero()
	sealedKey, err := passKey.seal(key[:])
	if err != nil {
		return nil, err
	}
	batch.put(itemPasswordKey, sealedKey)
	if err := batch.putJSON(itemPasswordParams, params); err != nil {
		return nil, err
	}
	if err := batch.putJSON(itemProtector, protectorRecord{Scheme: PROTECTOR_PASSWORD}); err != nil {
		return nil, err
	}
	if err := v.state.PutVaultItems(batch.items); err != nil {
		return nil, err
	}
	v.logger.Infof("Migrated %d legacy vault items", len(names))
	return key, nil
}

func (v *Vault) readyKey() (*cryptoKey, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.key == nil {
		return nil, ErrLocked
	}
	return v.key, nil
}

// passwordKey derives the password key from the stored parameters
func (v *Vault) passwordKey(password string) (*cryptoKey, error) {
	var params passwordParams
	found, err := v.getJSON(itemPasswordParams, &params)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errStrategySkipped
	}
	return params.deriveKey(password)
}

// CheckPassword verifies password against the stored password protector, the vault may be locked
func (v *Vault) CheckPassword(password string) error {
	return v.verifyPassword(password)
}

func (v *Vault) verifyPassword(password string) error {
	if password == "" {
		return ErrInvalidPassword
	}
	key, err := v.passwordKey(password)
	if errors.Is(err, errWrongPassword) {
		return ErrInvalidPassword
	}
	if err != nil {
		return WithError("Failed to verify password", err)
	}
	key.zero()
	return nil
}

func (v *Vault) publishState() {
	st, err := v.GetState()
	if err != nil {
		v.logger.Warnf("Load vault state error: %v", err)
		return
	}
	v.state.EventBus.Publish(state.VaultStateChanged, st)
}

func (v *Vault) getItem(name string) ([]byte, bool, error) {
	return v.state.GetVaultItem(storageKey(name))
}

func (v *Vault) getJSON(name string, out interface{}) (bool, error) {
	raw, ok, err := v.getItem(name)
	if err != nil || !ok {
		return false, err
	}
	if err := sonnet.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode vault item %s: %w", name, err)
	}
	return true, nil
}

func (v *Vault) getSealed(key *cryptoKey, name string) ([]byte, error) {
	sealed, ok, err := v.getItem(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("vault item %s not found", name)
	}
	return key.open(sealed)
}

// itemBatch collects items for one PutVaultItems call, keyed by hashed name
type itemBatch struct {
	items map[string][]byte
}

func newItemBatch() *itemBatch {
	return &itemBatch{items: make(map[string][]byte)}
}

func (b *itemBatch) put(name string, value []byte) {
	b.items[storageKey(name)] = value
}

func (b *itemBatch) putJSON(name string, value interface{}) error {
	raw, err := sonnet.Marshal(value)
	if err != nil {
		return err
	}
	b.put(name, raw)
	return nil
}

func (b *itemBatch) putSealed(key *cryptoKey, name string, plain []byte) error {
	sealed, err := key.seal(plain)
	if err != nil {
		return err
	}
	b.put(name, sealed)
	return nil
}

func (b *itemBatch) putAccount(key *cryptoKey, account *Account, secrets *accountSecrets) error {
	if err := b.putSealed(key, itemAccPrivKey(account.Id), secrets.secretKey); err != nil {
		return err
	}
	if err := b.putSealed(key, itemAccPubKey(account.Id), secrets.publicKey); err != nil {
		return err
	}
	return b.putSealed(key, itemAccViewKey(account.Id), secrets.viewKey)
}

func generateCheck() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}
