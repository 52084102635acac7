package vault

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/cosmos/go-bip39"
	"github.com/goatnetwork/note-wallet/internal/chainclient"
)

const (
	WALLET_TYPE_PUBLIC  = "public"
	WALLET_TYPE_PRIVATE = "private"

	maxAccountNameLength = 16

	// derivation branches under m/44'/0'/<index>'
	branchAccount = 0
	branchView    = 1
)

// Account is the plaintext index entry of an account
type Account struct {
	Id        string   `json:"id"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	HDIndex   uint32   `json:"hd_index"`
	PublicKey string   `json:"public_key"`
	IsPublic  bool     `json:"is_public"`
	Networks  []string `json:"networks"`
}

type accountSecrets struct {
	secretKey         []byte
	publicKey         []byte
	viewKey           []byte
	createdAtBlock    uint64
	createdAtRecordId uint64
}

// CreateHDAccount derives the next HD account from the mnemonic and creates it on every network
func (v *Vault) CreateHDAccount(ctx context.Context, walletType, name string) (*Account, error) {
	v.unlockMu.Lock()
	defer v.unlockMu.Unlock()

	key, err := v.readyKey()
	if err != nil {
		return nil, err
	}
	if walletType != WALLET_TYPE_PUBLIC && walletType != WALLET_TYPE_PRIVATE {
		return nil, &PublicError{Message: fmt.Sprintf("Unknown wallet type %q", walletType)}
	}

	v.mu.RLock()
	accounts := append([]Account(nil), v.accounts...)
	v.mu.RUnlock()

	var index uint32
	for _, a := range accounts {
		if a.HDIndex >= index {
			index = a.HDIndex + 1
		}
	}
	if name == "" {
		name = defaultAccountName(index)
	}
	if name, err = validateAccountName(name); err != nil {
		return nil, err
	}

	mnemonic, err := v.getSealed(key, itemMnemonic)
	if err != nil {
		return nil, WithError("Failed to create account", err)
	}
	account, secrets, err := v.createAccount(ctx, string(mnemonic), index, walletType, name)
	if err != nil {
		return nil, WithError("Failed to create account", err)
	}
	for _, a := range accounts {
		if a.Id == account.Id {
			return nil, ErrDuplicateAccount
		}
	}

	accounts = append(accounts, *account)
	batch := newItemBatch()
	if err := batch.putAccount(key, account, secrets); err != nil {
		return nil, WithError("Failed to create account", err)
	}
	if err := batch.putJSON(itemAccounts, accounts); err != nil {
		return nil, WithError("Failed to create account", err)
	}
	if err := batch.putJSON(itemCurrentAccount, account.Id); err != nil {
		return nil, WithError("Failed to create account", err)
	}
	if err := v.state.PutVaultItems(batch.items); err != nil {
		return nil, WithError("Failed to create account", err)
	}
	if err := v.state.SaveAccountCreation(account.Id, secrets.createdAtBlock, secrets.createdAtRecordId); err != nil {
		return nil, WithError("Failed to create account", err)
	}

	v.mu.Lock()
	v.accounts = accounts
	v.mu.Unlock()
	v.publishState()
	return account, nil
}

func (v *Vault) EditAccountName(accountId, name string) error {
	v.unlockMu.Lock()
	defer v.unlockMu.Unlock()

	if _, err := v.readyKey(); err != nil {
		return err
	}
	name, err := validateAccountName(name)
	if err != nil {
		return err
	}

	v.mu.RLock()
	accounts := append([]Account(nil), v.accounts...)
	v.mu.RUnlock()

	found := false
	for i := range accounts {
		if accounts[i].Id == accountId {
			accounts[i].Name = name
			found = true
		} else if accounts[i].Name == name {
			return ErrDuplicateAccount
		}
	}
	if !found {
		return ErrAccountNotFound
	}

	batch := newItemBatch()
	if err := batch.putJSON(itemAccounts, accounts); err != nil {
		return WithError("Failed to rename account", err)
	}
	if err := v.state.PutVaultItems(batch.items); err != nil {
		return WithError("Failed to rename account", err)
	}
	v.mu.Lock()
	v.accounts = accounts
	v.mu.Unlock()
	v.publishState()
	return nil
}

func (v *Vault) SetCurrentAccount(accountId string) error {
	if _, err := v.readyKey(); err != nil {
		return err
	}
	if _, ok := v.findAccount(func(a Account) bool { return a.Id == accountId }); !ok {
		return ErrAccountNotFound
	}
	batch := newItemBatch()
	if err := batch.putJSON(itemCurrentAccount, accountId); err != nil {
		return WithError("Failed to switch account", err)
	}
	if err := v.state.PutVaultItems(batch.items); err != nil {
		return WithError("Failed to switch account", err)
	}
	v.publishState()
	return nil
}

// createAccount derives the account seed at index and creates the account on every network,
// every network that succeeds must report the same account id
func (v *Vault) createAccount(ctx context.Context, mnemonic string, index uint32, walletType, name string) (*Account, *accountSecrets, error) {
	seed, err := deriveSeed(mnemonic, index, branchAccount)
	if err != nil {
		return nil, nil, err
	}
	viewKey, err := deriveSeed(mnemonic, index, branchView)
	if err != nil {
		return nil, nil, err
	}

	var (
		created  *chainclient.Account
		networks []string
		firstErr error
	)
	for _, network := range v.networkOrder() {
		acc, err := chainclient.Call(ctx, v.networks[network], func(ctx context.Context, c chainclient.Client) (*chainclient.Account, error) {
			return c.NewWallet(ctx, walletType, seed)
		})
		if err != nil {
			v.logger.Warnf("Create account on %s error: %v", network, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if created != nil && acc.Id != created.Id {
			v.logger.Errorf("Account id %s on %s differs from %s on %v", acc.Id, network, created.Id, networks)
			return nil, nil, ErrAccountIdMismatch
		}
		if created == nil {
			created = acc
		}
		networks = append(networks, network)
	}
	if created == nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("no network configured")
		}
		return nil, nil, fmt.Errorf("create account: %w", firstErr)
	}

	secretKey := created.SecretKey
	if len(secretKey) == 0 {
		secretKey = seed
	}
	account := &Account{
		Id:        created.Id,
		Name:      name,
		Type:      walletType,
		HDIndex:   index,
		PublicKey: hex.EncodeToString(created.PublicKey),
		IsPublic:  created.IsPublic,
		Networks:  networks,
	}
	return account, &accountSecrets{
		secretKey:         secretKey,
		publicKey:         created.PublicKey,
		viewKey:           viewKey,
		createdAtBlock:    created.CreatedAtBlock,
		createdAtRecordId: created.CreatedAtRecordId,
	}, nil
}

// networkOrder puts the default network first
func (v *Vault) networkOrder() []string {
	var rest []string
	for network := range v.networks {
		if network != v.defaultNetwork {
			rest = append(rest, network)
		}
	}
	sort.Strings(rest)
	if _, ok := v.networks[v.defaultNetwork]; ok {
		return append([]string{v.defaultNetwork}, rest...)
	}
	return rest
}

func (v *Vault) findAccount(match func(Account) bool) (Account, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, a := range v.accounts {
		if match(a) {
			return a, true
		}
	}
	return Account{}, false
}

// deriveSeed returns the private key at m/44'/0'/<index>'/<branch>'
func deriveSeed(mnemonic string, index, branch uint32) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, err
	}
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}
	for _, i := range []uint32{44, 0, index, branch} {
		key, err = key.Derive(hdkeychain.HardenedKeyStart + i)
		if err != nil {
			return nil, err
		}
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, err
	}
	return priv.Serialize(), nil
}

func validateAccountName(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < 1 || n > maxAccountNameLength {
		return "", ErrInvalidAccountName
	}
	return name, nil
}

func defaultAccountName(index uint32) string {
	return fmt.Sprintf("Account %d", index+1)
}

func equalHex(a, b string) bool {
	return strings.EqualFold(strings.TrimPrefix(a, "0x"), strings.TrimPrefix(b, "0x"))
}
