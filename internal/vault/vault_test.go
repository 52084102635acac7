package vault

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goatnetwork/note-wallet/internal/chainclient"
	"github.com/goatnetwork/note-wallet/internal/clientlock"
	"github.com/goatnetwork/note-wallet/internal/config"
	"github.com/goatnetwork/note-wallet/internal/db"
	"github.com/goatnetwork/note-wallet/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/secretbox"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func init() {
	scryptN = 1 << 10
	legacyIterations = 1000
}

// walletFake derives the account id from the seed, idPrefix lets a network disagree
type walletFake struct {
	chainclient.Client

	mu         sync.Mutex
	idPrefix   string
	failCreate bool
	registered map[string][]byte
	closed     int
}

func (f *walletFake) NewWallet(ctx context.Context, walletType string, seed []byte) (*chainclient.Account, error) {
	if f.failCreate {
		return nil, errors.New("node unreachable")
	}
	pub := sha256.Sum256(seed)
	return &chainclient.Account{
		Id:                f.idPrefix + "0x" + hex.EncodeToString(seed[:8]),
		IsPublic:          walletType == WALLET_TYPE_PUBLIC,
		SecretKey:         seed,
		PublicKey:         pub[:],
		CreatedAtBlock:    7,
		CreatedAtRecordId: 700,
	}, nil
}

func (f *walletFake) AddAccountSecretKey(ctx context.Context, accountId string, secretKey []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[accountId] = secretKey
	return nil
}

func (f *walletFake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.registered = make(map[string][]byte)
	return nil
}

func newTestVault(t *testing.T, fakes map[string]*walletFake, hardware HardwareKey) (*Vault, *state.State) {
	t.Helper()
	t.Setenv("DB_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "warn")
	config.InitConfig()
	dbm := db.NewDatabaseManager()
	t.Cleanup(dbm.Close)
	st := state.InitializeState(dbm)

	networks := make(map[string]*chainclient.Manager)
	for network, fake := range fakes {
		fake := fake
		if fake.registered == nil {
			fake.registered = make(map[string][]byte)
		}
		networks[network] = chainclient.NewManager(func(ctx context.Context, opts *chainclient.Options) (chainclient.Client, error) {
			return fake, nil
		}, clientlock.NewSerializer())
	}
	return NewVault(st, networks, "testnet", hardware), st
}

func TestSpawnUnlockLock(t *testing.T) {
	testnet, devnet := &walletFake{}, &walletFake{}
	v, st := newTestVault(t, map[string]*walletFake{"testnet": testnet, "devnet": devnet}, nil)
	ctx := context.Background()

	status, err := v.Status()
	require.NoError(t, err)
	assert.Equal(t, STATUS_NON_EXISTENT, status)
	assert.ErrorIs(t, v.Unlock(ctx, "secret-pass"), ErrNotInitialized)

	eventCh := make(chan interface{}, state.EVENT_CHAN_LENGTH)
	st.EventBus.Subscribe(state.VaultStateChanged, eventCh)

	require.NoError(t, v.Spawn(ctx, "secret-pass", testMnemonic, true))
	vs, err := v.GetState()
	require.NoError(t, err)
	assert.Equal(t, STATUS_READY, vs.Status)
	require.Len(t, vs.Accounts, 1)
	account := vs.Accounts[0]
	assert.Equal(t, []string{"testnet", "devnet"}, account.Networks)
	assert.Equal(t, account.Id, vs.CurrentAccount)
	assert.True(t, vs.OwnMnemonic)

	select {
	case ev := <-eventCh:
		assert.Equal(t, STATUS_READY, ev.(state.Event).Data.(*State).Status)
	case <-time.After(time.Second):
		t.Fatal("no vault state event")
	}

	bound, err := st.GetAccountCreationRecordId(account.Id)
	require.NoError(t, err)
	assert.Equal(t, uint64(700), bound)

	keys, err := v.ViewKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Len(t, keys[account.Id], 32)

	v.Lock()
	status, err = v.Status()
	require.NoError(t, err)
	assert.Equal(t, STATUS_LOCKED, status)
	// the clients holding account keys are closed with the vault
	assert.Equal(t, 1, testnet.closed)
	assert.Equal(t, 1, devnet.closed)
	assert.Empty(t, testnet.registered)
	keys, err = v.ViewKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
	_, err = v.RevealMnemonic("secret-pass")
	assert.ErrorIs(t, err, ErrLocked)

	assert.ErrorIs(t, v.Unlock(ctx, "wrong-pass"), ErrInvalidPassword)
	assert.ErrorIs(t, v.Unlock(ctx, ""), ErrInvalidPassword)
	require.NoError(t, v.Unlock(ctx, "secret-pass"))
	assert.True(t, v.IsReady())
	assert.Contains(t, testnet.registered, account.Id)
	assert.Empty(t, devnet.registered)

	mnemonic, err := v.RevealMnemonic("secret-pass")
	require.NoError(t, err)
	assert.Equal(t, testMnemonic, mnemonic)
	_, err = v.RevealMnemonic("wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestUnlockWhileReadyNeedsCredential(t *testing.T) {
	v, _ := newTestVault(t, map[string]*walletFake{"testnet": {}}, nil)
	ctx := context.Background()
	require.NoError(t, v.Spawn(ctx, "secret-pass", testMnemonic, true))
	require.True(t, v.IsReady())

	assert.ErrorIs(t, v.Unlock(ctx, ""), ErrInvalidPassword)
	assert.ErrorIs(t, v.Unlock(ctx, "wrong-pass"), ErrInvalidPassword)
	require.NoError(t, v.Unlock(ctx, "secret-pass"))
	assert.True(t, v.IsReady())

	v.Lock()
	assert.ErrorIs(t, v.CheckPassword("wrong-pass"), ErrInvalidPassword)
	require.NoError(t, v.CheckPassword("secret-pass"))
	assert.False(t, v.IsReady())
}

func TestSpawnGeneratesMnemonic(t *testing.T) {
	v, _ := newTestVault(t, map[string]*walletFake{"testnet": {}}, nil)
	ctx := context.Background()

	assert.ErrorIs(t, v.Spawn(ctx, "", "", false), ErrInvalidPassword)
	assert.ErrorIs(t, v.Spawn(ctx, "secret-pass", "not a mnemonic", false), ErrInvalidMnemonic)

	require.NoError(t, v.Spawn(ctx, "secret-pass", "", false))
	mnemonic, err := v.RevealMnemonic("secret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, testMnemonic, mnemonic)
	vs, err := v.GetState()
	require.NoError(t, err)
	assert.False(t, vs.OwnMnemonic)
}

func TestSpawnAccountIdMismatch(t *testing.T) {
	v, _ := newTestVault(t, map[string]*walletFake{
		"testnet": {},
		"devnet":  {idPrefix: "dev-"},
	}, nil)

	err := v.Spawn(context.Background(), "secret-pass", testMnemonic, true)
	assert.ErrorIs(t, err, ErrAccountIdMismatch)
	status, err := v.Status()
	require.NoError(t, err)
	assert.Equal(t, STATUS_NON_EXISTENT, status)
}

func TestSpawnSkipsFailedNetwork(t *testing.T) {
	v, _ := newTestVault(t, map[string]*walletFake{
		"testnet": {},
		"devnet":  {failCreate: true},
	}, nil)

	require.NoError(t, v.Spawn(context.Background(), "secret-pass", testMnemonic, true))
	vs, err := v.GetState()
	require.NoError(t, err)
	assert.Equal(t, []string{"testnet"}, vs.Accounts[0].Networks)
}

func TestSpawnAllNetworksFail(t *testing.T) {
	v, _ := newTestVault(t, map[string]*walletFake{"testnet": {failCreate: true}}, nil)

	err := v.Spawn(context.Background(), "secret-pass", testMnemonic, true)
	require.Error(t, err)
	assert.True(t, IsPublic(err))
	assert.Equal(t, "Failed to create wallet", err.Error())
}

func TestCreateHDAccount(t *testing.T) {
	v, st := newTestVault(t, map[string]*walletFake{"testnet": {}}, nil)
	ctx := context.Background()
	require.NoError(t, v.Spawn(ctx, "secret-pass", testMnemonic, true))

	second, err := v.CreateHDAccount(ctx, WALLET_TYPE_PUBLIC, "")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), second.HDIndex)
	assert.Equal(t, "Account 2", second.Name)
	assert.True(t, second.IsPublic)

	_, err = v.CreateHDAccount(ctx, WALLET_TYPE_PRIVATE, "a name that is too long")
	assert.ErrorIs(t, err, ErrInvalidAccountName)
	_, err = v.CreateHDAccount(ctx, "faucet", "x")
	assert.True(t, IsPublic(err))

	vs, err := v.GetState()
	require.NoError(t, err)
	require.Len(t, vs.Accounts, 2)
	first := vs.Accounts[0]
	assert.NotEqual(t, first.Id, second.Id)
	assert.Equal(t, second.Id, vs.CurrentAccount)

	expected, err := deriveSeed(testMnemonic, 1, branchAccount)
	require.NoError(t, err)
	secret, err := v.RevealPrivateKey(second.Id, "secret-pass")
	require.NoError(t, err)
	assert.Equal(t, expected, secret)
	_, err = v.RevealPrivateKey("0xmissing", "secret-pass")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	auth, err := v.GetAuthSecretKey("0x" + second.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, expected, auth)
	_, err = v.GetAuthSecretKey("00ff")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	require.NoError(t, v.EditAccountName(first.Id, "Savings"))
	assert.ErrorIs(t, v.EditAccountName(second.Id, "Savings"), ErrDuplicateAccount)
	assert.ErrorIs(t, v.EditAccountName(second.Id, " "), ErrInvalidAccountName)
	assert.ErrorIs(t, v.EditAccountName("0xmissing", "Other"), ErrAccountNotFound)
	require.NoError(t, v.SetCurrentAccount(first.Id))

	// the index survives lock and unlock
	v.Lock()
	require.NoError(t, v.Unlock(ctx, "secret-pass"))
	vs, err = v.GetState()
	require.NoError(t, err)
	require.Len(t, vs.Accounts, 2)
	assert.Equal(t, "Savings", vs.Accounts[0].Name)
	assert.Equal(t, first.Id, vs.CurrentAccount)

	keys, err := v.ViewKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	bound, err := st.GetAccountCreationRecordId(second.Id)
	require.NoError(t, err)
	assert.Equal(t, uint64(700), bound)
}

func TestHardwareProtector(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "hw", "vault.key")
	v, _ := newTestVault(t, map[string]*walletFake{"testnet": {}}, NewFileHardwareKey(keyFile))
	ctx := context.Background()
	require.NoError(t, v.Spawn(ctx, "secret-pass", testMnemonic, true))

	assert.ErrorIs(t, v.EnableHardwareProtector("wrong-pass"), ErrInvalidPassword)
	require.NoError(t, v.EnableHardwareProtector("secret-pass"))
	vs, err := v.GetState()
	require.NoError(t, err)
	assert.True(t, vs.HardwareProtector)

	// only one protector is active, the password no longer opens the vault key
	require.NoError(t, v.Unlock(ctx, ""))

	v.Lock()
	assert.ErrorIs(t, v.Unlock(ctx, "secret-pass"), ErrInvalidPassword)
	require.NoError(t, v.Unlock(ctx, ""))
	mnemonic, err := v.RevealMnemonic("secret-pass")
	require.NoError(t, err)
	assert.Equal(t, testMnemonic, mnemonic)

	require.NoError(t, v.DisableHardwareProtector("secret-pass"))
	_, err = os.Stat(keyFile)
	assert.True(t, os.IsNotExist(err))

	v.Lock()
	assert.ErrorIs(t, v.Unlock(ctx, ""), ErrInvalidPassword)
	require.NoError(t, v.Unlock(ctx, "secret-pass"))
	vs, err = v.GetState()
	require.NoError(t, err)
	assert.False(t, vs.HardwareProtector)
}

func TestHardwareUnavailable(t *testing.T) {
	v, _ := newTestVault(t, map[string]*walletFake{"testnet": {}}, NewFileHardwareKey(""))
	ctx := context.Background()
	require.NoError(t, v.Spawn(ctx, "secret-pass", testMnemonic, true))
	assert.ErrorIs(t, v.EnableHardwareProtector("secret-pass"), ErrHardwareDisabled)
}

// legacySeal writes a value the way wallets did before the vault key existed
func legacySeal(t *testing.T, password string, plain []byte) []byte {
	t.Helper()
	salt := make([]byte, saltSize)
	_, err := io.ReadFull(rand.Reader, salt)
	require.NoError(t, err)
	key := legacyKey(password, salt)
	sealed, err := key.seal(plain)
	require.NoError(t, err)
	return append(salt, sealed...)
}

func TestLegacyUnlockMigrates(t *testing.T) {
	v, st := newTestVault(t, map[string]*walletFake{"testnet": {}}, nil)
	ctx := context.Background()

	const password = "old-pass"
	secret := []byte("legacy secret key")
	view := []byte("legacy view key")
	accounts := []Account{{Id: "0xlegacy", Name: "Old", Type: WALLET_TYPE_PRIVATE, PublicKey: "abcd"}}
	batch := newItemBatch()
	batch.put(itemCheck, legacySeal(t, password, []byte("check words")))
	batch.put(itemMnemonic, legacySeal(t, password, []byte(testMnemonic)))
	batch.put(itemAccPrivKey("0xlegacy"), legacySeal(t, password, secret))
	batch.put(itemAccViewKey("0xlegacy"), legacySeal(t, password, view))
	require.NoError(t, batch.putJSON(itemAccounts, accounts))
	require.NoError(t, st.PutVaultItems(batch.items))

	status, err := v.Status()
	require.NoError(t, err)
	assert.Equal(t, STATUS_LOCKED, status)
	assert.ErrorIs(t, v.Unlock(ctx, "wrong-pass"), ErrInvalidPassword)
	require.NoError(t, v.Unlock(ctx, password))

	var protector protectorRecord
	found, err := v.getJSON(itemProtector, &protector)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, PROTECTOR_PASSWORD, protector.Scheme)

	// items are now sealed by the vault key and open through the password strategy
	v.Lock()
	require.NoError(t, v.Unlock(ctx, password))
	mnemonic, err := v.RevealMnemonic(password)
	require.NoError(t, err)
	assert.Equal(t, testMnemonic, mnemonic)
	got, err := v.RevealPrivateKey("0xlegacy", password)
	require.NoError(t, err)
	assert.Equal(t, secret, got)
	keys, err := v.ViewKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, view, keys["0xlegacy"])
}

func TestCryptoKeySeal(t *testing.T) {
	key, err := generateCryptoKey()
	require.NoError(t, err)
	sealed, err := key.seal([]byte("payload"))
	require.NoError(t, err)
	assert.Len(t, sealed, nonceSize+len("payload")+secretbox.Overhead)

	plain, err := key.open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(plain))

	sealed[len(sealed)-1] ^= 0xff
	_, err = key.open(sealed)
	assert.ErrorIs(t, err, errDecryptFailed)
	_, err = key.open(sealed[:10])
	assert.ErrorIs(t, err, errMalformedBox)

	params, err := newPasswordParams()
	require.NoError(t, err)
	_, err = params.deriveKey("first")
	require.NoError(t, err)
	_, err = params.deriveKey("second")
	assert.ErrorIs(t, err, errWrongPassword)
}

func TestWithError(t *testing.T) {
	assert.NoError(t, WithError("ignored", nil))
	assert.Same(t, ErrLocked, WithError("generic", ErrLocked))

	err := WithError("Failed to unlock wallet", errors.New("sqlite: disk I/O error"))
	assert.True(t, IsPublic(err))
	assert.Equal(t, "Failed to unlock wallet", err.Error())
	assert.False(t, IsPublic(errors.New("plain")))
}
