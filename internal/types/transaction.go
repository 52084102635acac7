package types

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/goatnetwork/note-wallet/internal/db"
	"github.com/google/uuid"
)

var ErrUnknownTransactionType = errors.New("unknown transaction type")

// TransactionRequest is one of SendRequest, ConsumeRequest or ExecuteRequest
type TransactionRequest interface {
	Kind() string
	Account() string
	Delegated() bool
	isTransactionRequest()
}

// SendRequest moves Amount of FaucetId from SenderAccountId to RecipientAddress in a new note
type SendRequest struct {
	SenderAccountId  string   `json:"sender_account_id"`
	RecipientAddress string   `json:"recipient_address"`
	FaucetId         string   `json:"faucet_id"`
	NoteType         string   `json:"note_type"`
	Amount           *big.Int `json:"amount"`
	RecallBlocks     uint32   `json:"recall_blocks,omitempty"`
	Delegate         bool     `json:"delegate"`
}

// ConsumeRequest claims NoteId into AccountId
type ConsumeRequest struct {
	AccountId string   `json:"account_id"`
	NoteId    string   `json:"note_id"`
	FaucetId  string   `json:"faucet_id,omitempty"`
	Amount    *big.Int `json:"amount,omitempty"`
	Delegate  bool     `json:"delegate"`
}

// ExecuteRequest runs an opaque transaction request built by the caller
type ExecuteRequest struct {
	AccountId    string `json:"account_id"`
	RequestBytes []byte `json:"request_bytes"`
	Delegate     bool   `json:"delegate"`
}

func (SendRequest) Kind() string    { return db.TX_TYPE_SEND }
func (ConsumeRequest) Kind() string { return db.TX_TYPE_CONSUME }
func (ExecuteRequest) Kind() string { return db.TX_TYPE_EXECUTE }

func (r SendRequest) Account() string    { return r.SenderAccountId }
func (r ConsumeRequest) Account() string { return r.AccountId }
func (r ExecuteRequest) Account() string { return r.AccountId }

func (r SendRequest) Delegated() bool    { return r.Delegate }
func (r ConsumeRequest) Delegated() bool { return r.Delegate }
func (r ExecuteRequest) Delegated() bool { return r.Delegate }

func (SendRequest) isTransactionRequest()    {}
func (ConsumeRequest) isTransactionRequest() {}
func (ExecuteRequest) isTransactionRequest() {}

func (r SendRequest) Validate() error {
	if r.SenderAccountId == "" || r.RecipientAddress == "" || r.FaucetId == "" {
		return errors.New("send request requires sender, recipient and faucet")
	}
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return errors.New("send amount must be positive")
	}
	if r.NoteType != db.NOTE_TYPE_PUBLIC && r.NoteType != db.NOTE_TYPE_PRIVATE {
		return fmt.Errorf("invalid note type %q", r.NoteType)
	}
	return nil
}

func (r ConsumeRequest) Validate() error {
	if r.AccountId == "" || r.NoteId == "" {
		return errors.New("consume request requires account and note")
	}
	return nil
}

func (r ExecuteRequest) Validate() error {
	if r.AccountId == "" || len(r.RequestBytes) == 0 {
		return errors.New("execute request requires account and request bytes")
	}
	return nil
}

// NewTransaction builds the queued row for req
func NewTransaction(req TransactionRequest, now time.Time) *db.Transaction {
	tx := &db.Transaction{
		ID:                  uuid.New().String(),
		Type:                req.Kind(),
		Status:              db.TX_STATUS_QUEUED,
		AccountId:           req.Account(),
		DelegateTransaction: req.Delegated(),
		InitiatedAt:         now,
	}
	switch r := req.(type) {
	case SendRequest:
		tx.SecondaryAccountId = r.RecipientAddress
		tx.FaucetId = r.FaucetId
		tx.NoteType = r.NoteType
		tx.Amount = db.NewBigInt(r.Amount)
		tx.RecallBlocks = r.RecallBlocks
		tx.DisplayMessage = db.TX_DISPLAY_SENDING
	case ConsumeRequest:
		tx.InputNoteIds = db.StringList{r.NoteId}
		tx.FaucetId = r.FaucetId
		tx.Amount = db.NewBigInt(r.Amount)
		tx.DisplayMessage = db.TX_DISPLAY_CONSUMING
	case ExecuteRequest:
		tx.RequestBytes = r.RequestBytes
		tx.DisplayMessage = db.TX_DISPLAY_EXECUTING
	}
	return tx
}

// RequestFromTransaction decodes the request variant stored in tx
func RequestFromTransaction(tx *db.Transaction) (TransactionRequest, error) {
	switch tx.Type {
	case db.TX_TYPE_SEND:
		req := SendRequest{
			SenderAccountId:  tx.AccountId,
			RecipientAddress: tx.SecondaryAccountId,
			FaucetId:         tx.FaucetId,
			NoteType:         tx.NoteType,
			RecallBlocks:     tx.RecallBlocks,
			Delegate:         tx.DelegateTransaction,
		}
		if tx.Amount.Int != nil {
			req.Amount = new(big.Int).Set(tx.Amount.Int)
		}
		return req, nil
	case db.TX_TYPE_CONSUME:
		if len(tx.InputNoteIds) == 0 {
			return nil, fmt.Errorf("consume transaction %s has no input note", tx.ID)
		}
		req := ConsumeRequest{
			AccountId: tx.AccountId,
			NoteId:    tx.InputNoteIds[0],
			FaucetId:  tx.FaucetId,
			Delegate:  tx.DelegateTransaction,
		}
		if tx.Amount.Int != nil {
			req.Amount = new(big.Int).Set(tx.Amount.Int)
		}
		return req, nil
	case db.TX_TYPE_EXECUTE:
		return ExecuteRequest{
			AccountId:    tx.AccountId,
			RequestBytes: tx.RequestBytes,
			Delegate:     tx.DelegateTransaction,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransactionType, tx.Type)
	}
}

// CompletedDisplayMessage is the display message of a finished transaction of kind
func CompletedDisplayMessage(kind string) string {
	switch kind {
	case db.TX_TYPE_SEND:
		return db.TX_DISPLAY_SENT
	case db.TX_TYPE_CONSUME:
		return db.TX_DISPLAY_RECEIVED
	default:
		return db.TX_DISPLAY_EXECUTED
	}
}
