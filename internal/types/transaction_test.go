package types

import (
	"math/big"
	"testing"
	"time"

	"github.com/goatnetwork/note-wallet/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionRequestRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	requests := []TransactionRequest{
		SendRequest{
			SenderAccountId:  "0xsender",
			RecipientAddress: "0xrecipient",
			FaucetId:         "0xfaucet",
			NoteType:         db.NOTE_TYPE_PRIVATE,
			Amount:           big.NewInt(42),
			RecallBlocks:     10,
			Delegate:         true,
		},
		ConsumeRequest{AccountId: "0xacc", NoteId: "0xnote", FaucetId: "0xfaucet", Amount: big.NewInt(7)},
		ExecuteRequest{AccountId: "0xacc", RequestBytes: []byte{1, 2, 3}},
	}
	for _, req := range requests {
		tx := NewTransaction(req, now)
		assert.Equal(t, db.TX_STATUS_QUEUED, tx.Status)
		assert.Equal(t, req.Kind(), tx.Type)
		assert.Equal(t, req.Account(), tx.AccountId)
		assert.Equal(t, now, tx.InitiatedAt)
		assert.NotEmpty(t, tx.ID)

		decoded, err := RequestFromTransaction(tx)
		require.NoError(t, err)
		assert.Equal(t, req, decoded)
	}
}

func TestRequestFromTransactionErrors(t *testing.T) {
	_, err := RequestFromTransaction(&db.Transaction{ID: "1", Type: "mint"})
	assert.ErrorIs(t, err, ErrUnknownTransactionType)

	_, err = RequestFromTransaction(&db.Transaction{ID: "2", Type: db.TX_TYPE_CONSUME})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	send := SendRequest{SenderAccountId: "a", RecipientAddress: "b", FaucetId: "f", NoteType: db.NOTE_TYPE_PUBLIC, Amount: big.NewInt(1)}
	assert.NoError(t, send.Validate())

	send.Amount = big.NewInt(0)
	assert.Error(t, send.Validate())
	send.Amount, send.NoteType = big.NewInt(1), "shielded"
	assert.Error(t, send.Validate())

	assert.Error(t, ConsumeRequest{AccountId: "a"}.Validate())
	assert.Error(t, ExecuteRequest{AccountId: "a"}.Validate())
	assert.NoError(t, ExecuteRequest{AccountId: "a", RequestBytes: []byte{1}}.Validate())

	assert.Equal(t, db.TX_DISPLAY_SENT, CompletedDisplayMessage(db.TX_TYPE_SEND))
	assert.Equal(t, db.TX_DISPLAY_RECEIVED, CompletedDisplayMessage(db.TX_TYPE_CONSUME))
	assert.Equal(t, db.TX_DISPLAY_EXECUTED, CompletedDisplayMessage(db.TX_TYPE_EXECUTE))
}
