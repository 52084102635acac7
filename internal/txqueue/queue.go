package txqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goatnetwork/note-wallet/internal/chainclient"
	"github.com/goatnetwork/note-wallet/internal/config"
	"github.com/goatnetwork/note-wallet/internal/db"
	"github.com/goatnetwork/note-wallet/internal/state"
	"github.com/goatnetwork/note-wallet/internal/types"
	"github.com/lightningnetwork/lnd/clock"
	log "github.com/sirupsen/logrus"
)

const (
	reasonStuck       = "Transaction took too long to process and was cancelled"
	reasonInterrupted = "Transaction was interrupted"
	reasonInvalidNote = "Note is invalid"
)

var errNoteUnavailable = errors.New("transaction produced no output note")

// Queue persists outgoing transactions and drains them one at a time through the chain client
type Queue struct {
	state   *state.State
	clients *chainclient.Manager
	clock   clock.Clock

	stuckTimeout    time.Duration
	noteGrace       time.Duration
	waitTimeout     time.Duration
	pollInterval    time.Duration
	delegateProving bool

	// drainMu is held for a whole drain, SafeDrainLoop only ever tries it
	drainMu sync.Mutex

	logger *log.Entry
}

func NewQueue(st *state.State, clients *chainclient.Manager, clk clock.Clock) *Queue {
	return &Queue{
		state:           st,
		clients:         clients,
		clock:           clk,
		stuckTimeout:    config.AppConfig.StuckTxTimeout,
		noteGrace:       config.AppConfig.StuckNoteGrace,
		waitTimeout:     config.AppConfig.TxWaitTimeout,
		pollInterval:    config.AppConfig.TxPollInterval,
		delegateProving: config.AppConfig.DelegateProving,
		logger: log.WithFields(log.Fields{
			"module": "txqueue",
		}),
	}
}

// RequestCustomTransaction queues an execute transaction, importNotes are imported into the client first
func (q *Queue) RequestCustomTransaction(ctx context.Context, req types.ExecuteRequest, importNotes [][]byte, recipient string) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	for _, noteBytes := range importNotes {
		noteBytes := noteBytes
		noteId, err := chainclient.Call(ctx, q.clients, func(ctx context.Context, c chainclient.Client) (string, error) {
			return c.ImportNoteBytes(ctx, noteBytes)
		})
		if err != nil {
			q.logger.Warnf("Import note for custom transaction error: %v", err)
			continue
		}
		q.logger.Debugf("Imported note %s for custom transaction", noteId)
	}

	tx := types.NewTransaction(req, q.clock.Now())
	tx.SecondaryAccountId = recipient
	if err := q.state.CreateTransaction(tx); err != nil {
		return "", err
	}
	return tx.ID, nil
}

func (q *Queue) InitiateSendTransaction(ctx context.Context, req types.SendRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	tx := types.NewTransaction(req, q.clock.Now())
	if err := q.state.CreateTransaction(tx); err != nil {
		return "", err
	}
	return tx.ID, nil
}

// InitiateConsumeTransaction queues a consume of req.NoteId. While an earlier consume of the same note
// by the same account is not finished its id is returned and nothing is queued.
func (q *Queue) InitiateConsumeTransaction(ctx context.Context, req types.ConsumeRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	id, created, err := q.state.CreateConsumeTransaction(types.NewTransaction(req, q.clock.Now()), req.NoteId)
	if err != nil {
		return "", err
	}
	if !created {
		q.logger.Debugf("Consume of note %s by %s already queued as %s", req.NoteId, req.AccountId, id)
	}
	return id, nil
}

// SafeDrainLoop runs DrainLoop unless a drain is already running, in which case it returns at once.
// It reports whether a transaction was processed successfully.
func (q *Queue) SafeDrainLoop(ctx context.Context) bool {
	if !q.drainMu.TryLock() {
		q.logger.Debug("Drain already running, skip")
		return false
	}
	defer q.drainMu.Unlock()

	processed, err := q.DrainLoop(ctx)
	if err != nil {
		q.logger.Errorf("Drain loop error: %v", err)
		return false
	}
	return processed
}

// DrainLoop sweeps stuck transactions and then generates and submits the oldest queued one,
// it does nothing while another transaction is generating. A failed transaction is marked failed
// and its error returned.
func (q *Queue) DrainLoop(ctx context.Context) (bool, error) {
	if _, err := q.CancelStuckTransactions(ctx); err != nil {
		q.logger.Warnf("Cancel stuck transactions error: %v", err)
	}

	tx, busy, err := q.state.StartNextTransaction(q.clock.Now())
	if err != nil {
		return false, err
	}
	if busy || tx == nil {
		return false, nil
	}

	q.logger.Infof("Generate transaction %s, type: %s, account: %s", tx.ID, tx.Type, tx.AccountId)
	if err := q.generate(ctx, tx); err != nil {
		q.logger.Warnf("Failed to generate transaction %s: %v", tx.ID, err)
		if cerr := q.cancel(tx.ID, err.Error()); cerr != nil {
			q.logger.Errorf("Cancel transaction %s error: %v", tx.ID, cerr)
		}
		return false, err
	}
	return true, nil
}

func (q *Queue) generate(ctx context.Context, tx *db.Transaction) error {
	req, err := types.RequestFromTransaction(tx)
	if err != nil {
		return err
	}

	result, err := chainclient.Call(ctx, q.clients, func(ctx context.Context, c chainclient.Client) (*chainclient.TransactionResult, error) {
		switch r := req.(type) {
		case types.SendRequest:
			return c.NewSendTransaction(ctx, r)
		case types.ConsumeRequest:
			return c.NewConsumeTransaction(ctx, r.AccountId, []string{r.NoteId})
		case types.ExecuteRequest:
			return c.NewCustomTransaction(ctx, r.AccountId, r.RequestBytes)
		default:
			return nil, fmt.Errorf("%w: %T", types.ErrUnknownTransactionType, req)
		}
	})
	if err != nil {
		return fmt.Errorf("execute transaction: %w", err)
	}

	delegate := req.Delegated() || q.delegateProving
	err = q.clients.WithClient(ctx, nil, func(ctx context.Context, c chainclient.Client) error {
		return c.SubmitTransaction(ctx, result, delegate)
	})
	if err != nil {
		return fmt.Errorf("submit transaction: %w", err)
	}

	switch r := req.(type) {
	case types.SendRequest:
		if r.NoteType == db.NOTE_TYPE_PRIVATE {
			if err := q.deliverSentNote(ctx, tx, result); err != nil {
				return err
			}
		}
	case types.ExecuteRequest:
		q.deliverCustomNotes(ctx, tx, result)
	}

	now := q.clock.Now()
	return q.state.UpdateTransactionStatus(tx.ID, db.TX_STATUS_COMPLETED, func(row *db.Transaction) {
		row.CompletedAt = &now
		row.DisplayMessage = types.CompletedDisplayMessage(row.Type)
		row.TransactionId = result.TransactionId
		row.OutputNoteIds = result.OutputNoteIds
		row.ResultBytes = result.ResultBytes
	})
}

// deliverSentNote sends the note of a private send to its recipient.
// On failure the send is marked failed with the submitted transaction kept on the row.
func (q *Queue) deliverSentNote(ctx context.Context, tx *db.Transaction, result *chainclient.TransactionResult) error {
	display := db.TX_DISPLAY_NOTE_UNAVAILABLE
	err := errNoteUnavailable
	if len(result.OutputNoteIds) > 0 {
		if err = q.deliverPrivateNotes(ctx, result.TransactionId, result.OutputNoteIds, tx.SecondaryAccountId); err == nil {
			return nil
		}
		display = db.TX_DISPLAY_TRANSPORT_FAILED
	}

	q.logger.Warnf("Deliver private note of transaction %s to %s error: %v", tx.ID, tx.SecondaryAccountId, err)
	now := q.clock.Now()
	uerr := q.state.UpdateTransactionStatus(tx.ID, db.TX_STATUS_FAILED, func(row *db.Transaction) {
		row.CompletedAt = &now
		row.Error = err.Error()
		row.DisplayMessage = display
		row.TransactionId = result.TransactionId
		row.OutputNoteIds = result.OutputNoteIds
		row.ResultBytes = result.ResultBytes
	})
	if uerr != nil {
		return uerr
	}
	return fmt.Errorf("deliver private note: %w", err)
}

// deliverCustomNotes sends every private output note of an execute transaction to its recipient,
// failures are logged and leave the transaction completed
func (q *Queue) deliverCustomNotes(ctx context.Context, tx *db.Transaction, result *chainclient.TransactionResult) {
	if len(result.PrivateNoteIds) == 0 {
		return
	}
	if tx.SecondaryAccountId == "" {
		q.logger.Errorf("Transaction %s has private output notes but no recipient", tx.ID)
		return
	}
	for _, noteId := range result.PrivateNoteIds {
		if err := q.deliverPrivateNotes(ctx, result.TransactionId, []string{noteId}, tx.SecondaryAccountId); err != nil {
			q.logger.Errorf("Deliver private note %s of transaction %s to %s error: %v", noteId, tx.ID, tx.SecondaryAccountId, err)
		}
	}
}

// deliverPrivateNotes waits for transactionId to commit and hands the full notes to the note transport
func (q *Queue) deliverPrivateNotes(ctx context.Context, transactionId string, noteIds []string, recipient string) error {
	return q.clients.WithClient(ctx, nil, func(ctx context.Context, c chainclient.Client) error {
		if err := c.WaitForTransactionCommit(ctx, transactionId); err != nil {
			return fmt.Errorf("wait for commit: %w", err)
		}
		for _, noteId := range noteIds {
			note, err := c.ExportNote(ctx, noteId, chainclient.NOTE_EXPORT_FULL)
			if err != nil {
				return fmt.Errorf("export note %s: %w", noteId, err)
			}
			if err := c.SendPrivateNote(ctx, note, recipient); err != nil {
				return fmt.Errorf("send note %s: %w", noteId, err)
			}
			q.logger.Infof("Private note %s delivered to %s", noteId, recipient)
		}
		return nil
	})
}

// CancelStuckTransactions fails every generating transaction that started more than the stuck timeout ago
func (q *Queue) CancelStuckTransactions(ctx context.Context) (int, error) {
	inProgress, err := q.state.GetTransactionsInProgress()
	if err != nil {
		return 0, err
	}
	now := q.clock.Now()
	cancelled := 0
	for _, tx := range inProgress {
		if tx.ProcessingStartedAt == nil || now.Sub(*tx.ProcessingStartedAt) <= q.stuckTimeout {
			continue
		}
		q.logger.Warnf("Transaction %s generating since %s, cancel it", tx.ID, tx.ProcessingStartedAt.Format(time.RFC3339))
		if err := q.cancel(tx.ID, reasonStuck); err != nil {
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

// CancelTransactionById fails the transaction unless it is already finished
func (q *Queue) CancelTransactionById(id, reason string) error {
	err := q.cancel(id, reason)
	if errors.Is(err, state.ErrTransactionNotFound) {
		return nil
	}
	return err
}

// cancel marks id failed, a transaction finalized in the meantime is left untouched
func (q *Queue) cancel(id, reason string) error {
	now := q.clock.Now()
	err := q.state.UpdateTransactionStatus(id, db.TX_STATUS_FAILED, func(row *db.Transaction) {
		row.CompletedAt = &now
		row.Error = reason
		row.DisplayMessage = db.TX_DISPLAY_FAILED
	})
	if errors.Is(err, state.ErrTransactionFinalized) {
		q.logger.Debugf("Transaction %s already finalized, keep it", id)
		return nil
	}
	return err
}
