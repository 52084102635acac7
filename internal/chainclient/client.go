package chainclient

import (
	"context"

	"github.com/goatnetwork/note-wallet/internal/types"
)

// Client is the stateful chain client. It is not safe for concurrent use:
// every call must run under the Manager's serializer, see Manager.WithClient.
type Client interface {
	NewWallet(ctx context.Context, walletType string, seed []byte) (*Account, error)
	GetAccount(ctx context.Context, accountId string) (*Account, error)
	AddAccountSecretKey(ctx context.Context, accountId string, secretKey []byte) error

	SyncState(ctx context.Context) (*SyncSummary, error)
	GetConsumableNotes(ctx context.Context, address string) ([]ConsumableNote, error)
	GetInputNote(ctx context.Context, noteId string) (*InputNote, error)
	ImportNoteBytes(ctx context.Context, noteBytes []byte) (string, error)
	ExportNote(ctx context.Context, noteId, exportType string) ([]byte, error)
	GetFaucetMetadata(ctx context.Context, faucetId string) (*FaucetInfo, error)

	GetRecordMetadata(ctx context.Context, startId, endId uint64, includeTagged bool) ([]RecordMetadata, error)
	ScanRecords(ctx context.Context, req ScanRequest) ([]ScannedRecord, error)

	NewSendTransaction(ctx context.Context, req types.SendRequest) (*TransactionResult, error)
	NewConsumeTransaction(ctx context.Context, accountId string, noteIds []string) (*TransactionResult, error)
	NewCustomTransaction(ctx context.Context, accountId string, requestBytes []byte) (*TransactionResult, error)
	SubmitTransaction(ctx context.Context, result *TransactionResult, delegate bool) error
	WaitForTransactionCommit(ctx context.Context, transactionId string) error
	// SendPrivateNote hands a full note to the note transport for recipient
	SendPrivateNote(ctx context.Context, noteBytes []byte, recipient string) error

	Close() error
}

// Options configure a client instance, a change of seed or of the
// connectivity callback requires a new instance
type Options struct {
	Seed                []byte
	OnConnectivityIssue func()
}

type SyncSummary struct {
	BlockNum        uint64 `json:"block_num"`
	CurrentRecordId uint64 `json:"current_record_id"`
}

type Asset struct {
	FaucetId string `json:"faucet_id"`
	Amount   string `json:"amount"`
	Fungible bool   `json:"fungible"`
}

type Account struct {
	Id       string  `json:"id"`
	IsPublic bool    `json:"is_public"`
	IsFaucet bool    `json:"is_faucet"`
	Nonce    uint64  `json:"nonce"`
	Assets   []Asset `json:"assets"`
	// CreatedAtBlock and CreatedAtRecordId bound the owned record scan of this account
	CreatedAtBlock    uint64 `json:"created_at_block"`
	CreatedAtRecordId uint64 `json:"created_at_record_id"`
	SecretKey         []byte `json:"secret_key,omitempty"`
	PublicKey         []byte `json:"public_key,omitempty"`
}

type ConsumableNote struct {
	Id            string  `json:"id"`
	SenderAddress string  `json:"sender_address"`
	Assets        []Asset `json:"assets"`
}

const (
	NOTE_STATE_EXPECTED   = "expected"
	NOTE_STATE_COMMITTED  = "committed"
	NOTE_STATE_PROCESSING = "processing"
	NOTE_STATE_CONSUMED   = "consumed"
	NOTE_STATE_INVALID    = "invalid"
)

type InputNote struct {
	Id    string `json:"id"`
	State string `json:"state"`
}

type FaucetInfo struct {
	FaucetId string `json:"faucet_id"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	Name     string `json:"name"`
}

type RecordMetadata struct {
	Id              uint64 `json:"id"`
	TransitionId    string `json:"transition_id"`
	OutputIndex     uint32 `json:"output_index"`
	Nonce           string `json:"nonce"`
	OwnerCommitment string `json:"owner_commitment"`
	Tag             string `json:"tag"`
	RecordBytes     []byte `json:"record_bytes"`
}

type ScanDevice string

const (
	SCAN_DEVICE_CPU ScanDevice = "cpu"
	SCAN_DEVICE_GPU ScanDevice = "gpu"
)

// ScanRequest asks which of Records belong to the addresses in Keys (address to view key)
type ScanRequest struct {
	Device  ScanDevice        `json:"device"`
	Keys    map[string][]byte `json:"keys"`
	Records []RecordMetadata  `json:"records"`
}

type ScannedRecord struct {
	Address string         `json:"address"`
	Record  RecordMetadata `json:"record"`
}

// NOTE_EXPORT_FULL exports a note with its details, as needed by the note transport
const NOTE_EXPORT_FULL = "full"

type TransactionResult struct {
	TransactionId string   `json:"transaction_id"`
	OutputNoteIds []string `json:"output_note_ids"`
	// PrivateNoteIds are the output notes whose details stay off chain
	PrivateNoteIds []string `json:"private_note_ids"`
	ResultBytes    []byte   `json:"result_bytes"`
}
