package export

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/goatnetwork/note-wallet/internal/db"
	"github.com/goatnetwork/note-wallet/internal/state"
	log "github.com/sirupsen/logrus"
	"github.com/sugawarayuuta/sonnet"
)

const (
	TABLE_TRANSACTIONS    = "transactions"
	TABLE_FAUCET_METADATA = "faucetMetadata"
)

// ErrMalformedDocument is returned when an import dump is not a valid export document
var ErrMalformedDocument = errors.New("malformed export document")

// Document is the exported wallet, keyed by table name
type Document struct {
	Transactions   []TransactionRow `json:"transactions"`
	FaucetMetadata []FaucetRow      `json:"faucetMetadata"`
}

// TransactionRow is a transaction with binary fields as numeric arrays and the amount as decimal text
type TransactionRow struct {
	Id                  string    `json:"id"`
	Type                string    `json:"type"`
	Status              string    `json:"status"`
	AccountId           string    `json:"accountId"`
	SecondaryAccountId  string    `json:"secondaryAccountId,omitempty"`
	FaucetId            string    `json:"faucetId,omitempty"`
	Amount              *string   `json:"amount,omitempty"`
	NoteType            string    `json:"noteType,omitempty"`
	RecallBlocks        uint32    `json:"recallBlocks,omitempty"`
	InputNoteIds        []string  `json:"inputNoteIds,omitempty"`
	OutputNoteIds       []string  `json:"outputNoteIds,omitempty"`
	RequestBytes        ByteArray `json:"requestBytes,omitempty"`
	ResultBytes         ByteArray `json:"resultBytes,omitempty"`
	DelegateTransaction bool      `json:"delegateTransaction"`
	DisplayMessage      string    `json:"displayMessage,omitempty"`
	TransactionId       string    `json:"transactionId,omitempty"`
	Error               string    `json:"error,omitempty"`
	InitiatedAt         string    `json:"initiatedAt"`
	ProcessingStartedAt string    `json:"processingStartedAt,omitempty"`
	CompletedAt         string    `json:"completedAt,omitempty"`
}

type FaucetRow struct {
	FaucetId string `json:"faucetId"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	Name     string `json:"name,omitempty"`
}

// ByteArray encodes as a plain array of numbers instead of base64
type ByteArray []byte

func (b ByteArray) MarshalJSON() ([]byte, error) {
	nums := make([]uint16, len(b))
	for i, v := range b {
		nums[i] = uint16(v)
	}
	return sonnet.Marshal(nums)
}

func (b *ByteArray) UnmarshalJSON(data []byte) error {
	var nums []int
	if err := sonnet.Unmarshal(data, &nums); err != nil {
		return err
	}
	if len(nums) == 0 {
		*b = nil
		return nil
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("byte value %d out of range", n)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}

type Exporter struct {
	state  *state.State
	logger *log.Entry
}

func NewExporter(st *state.State) *Exporter {
	return &Exporter{
		state: st,
		logger: log.WithFields(log.Fields{
			"module": "export",
		}),
	}
}

// ExportDb dumps the transaction and faucet metadata tables
func (e *Exporter) ExportDb(ctx context.Context) ([]byte, error) {
	txs, err := e.state.ListTransactions()
	if err != nil {
		return nil, err
	}
	metadata, err := e.state.ListFaucetMetadata()
	if err != nil {
		return nil, err
	}

	doc := Document{
		Transactions:   make([]TransactionRow, 0, len(txs)),
		FaucetMetadata: make([]FaucetRow, 0, len(metadata)),
	}
	for _, tx := range txs {
		doc.Transactions = append(doc.Transactions, toTransactionRow(tx))
	}
	for _, m := range metadata {
		doc.FaucetMetadata = append(doc.FaucetMetadata, FaucetRow{
			FaucetId: m.FaucetId,
			Symbol:   m.Symbol,
			Decimals: m.Decimals,
			Name:     m.Name,
		})
	}
	e.logger.Infof("Exported %d transactions and %d faucets", len(doc.Transactions), len(doc.FaucetMetadata))
	return sonnet.Marshal(doc)
}

// ImportDb replaces the transaction table and merges faucet metadata from an exported document
func (e *Exporter) ImportDb(ctx context.Context, dump []byte) error {
	var doc Document
	if err := sonnet.Unmarshal(dump, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	txs := make([]*db.Transaction, 0, len(doc.Transactions))
	for i := range doc.Transactions {
		tx, err := fromTransactionRow(&doc.Transactions[i])
		if err != nil {
			return fmt.Errorf("%w: transaction %s: %v", ErrMalformedDocument, doc.Transactions[i].Id, err)
		}
		txs = append(txs, tx)
	}
	now := time.Now()
	metadata := make([]*db.FaucetMetadata, 0, len(doc.FaucetMetadata))
	for _, row := range doc.FaucetMetadata {
		metadata = append(metadata, &db.FaucetMetadata{
			FaucetId:  row.FaucetId,
			Symbol:    row.Symbol,
			Decimals:  row.Decimals,
			Name:      row.Name,
			UpdatedAt: now,
		})
	}

	if err := e.state.ReplaceTransactions(txs); err != nil {
		return err
	}
	if err := e.state.ImportFaucetMetadata(metadata); err != nil {
		return err
	}
	e.logger.Infof("Imported %d transactions and %d faucets", len(txs), len(metadata))
	return nil
}

func toTransactionRow(tx *db.Transaction) TransactionRow {
	row := TransactionRow{
		Id:                  tx.ID,
		Type:                tx.Type,
		Status:              tx.Status,
		AccountId:           tx.AccountId,
		SecondaryAccountId:  tx.SecondaryAccountId,
		FaucetId:            tx.FaucetId,
		NoteType:            tx.NoteType,
		RecallBlocks:        tx.RecallBlocks,
		InputNoteIds:        tx.InputNoteIds,
		OutputNoteIds:       tx.OutputNoteIds,
		RequestBytes:        ByteArray(tx.RequestBytes),
		ResultBytes:         ByteArray(tx.ResultBytes),
		DelegateTransaction: tx.DelegateTransaction,
		DisplayMessage:      tx.DisplayMessage,
		TransactionId:       tx.TransactionId,
		Error:               tx.Error,
		InitiatedAt:         formatTime(&tx.InitiatedAt),
		ProcessingStartedAt: formatTime(tx.ProcessingStartedAt),
		CompletedAt:         formatTime(tx.CompletedAt),
	}
	if tx.Amount.Int != nil {
		amount := tx.Amount.Int.String()
		row.Amount = &amount
	}
	return row
}

func fromTransactionRow(row *TransactionRow) (*db.Transaction, error) {
	tx := &db.Transaction{
		ID:                  row.Id,
		Type:                row.Type,
		Status:              row.Status,
		AccountId:           row.AccountId,
		SecondaryAccountId:  row.SecondaryAccountId,
		FaucetId:            row.FaucetId,
		NoteType:            row.NoteType,
		RecallBlocks:        row.RecallBlocks,
		InputNoteIds:        row.InputNoteIds,
		OutputNoteIds:       row.OutputNoteIds,
		RequestBytes:        []byte(row.RequestBytes),
		ResultBytes:         []byte(row.ResultBytes),
		DelegateTransaction: row.DelegateTransaction,
		DisplayMessage:      row.DisplayMessage,
		TransactionId:       row.TransactionId,
		Error:               row.Error,
	}
	if row.Amount != nil {
		amount, ok := new(big.Int).SetString(*row.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("invalid amount %q", *row.Amount)
		}
		tx.Amount = db.NewBigInt(amount)
	}

	initiated, err := parseTime(row.InitiatedAt)
	if err != nil {
		return nil, err
	}
	if initiated == nil {
		return nil, fmt.Errorf("missing initiatedAt")
	}
	tx.InitiatedAt = *initiated
	if tx.ProcessingStartedAt, err = parseTime(row.ProcessingStartedAt); err != nil {
		return nil, err
	}
	if tx.CompletedAt, err = parseTime(row.CompletedAt); err != nil {
		return nil, err
	}
	return tx, nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
