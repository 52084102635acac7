package txqueue

import (
	"context"
	"errors"
	"time"

	"github.com/goatnetwork/note-wallet/internal/chainclient"
	"github.com/goatnetwork/note-wallet/internal/db"
)

var ErrWaitTimeout = errors.New("transaction timed out")

// VerifyStuckTransactionsFromNode resolves generating consume transactions from the note state on the node.
// A consumed note completes the transaction, an invalid one fails it and a note still waiting to be
// consumed fails it once it has been processing longer than the note grace. It returns the number resolved.
func (q *Queue) VerifyStuckTransactionsFromNode(ctx context.Context) (int, error) {
	inProgress, err := q.state.GetTransactionsInProgress()
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, tx := range inProgress {
		if tx.Type != db.TX_TYPE_CONSUME || len(tx.InputNoteIds) == 0 {
			continue
		}
		noteId := tx.InputNoteIds[0]
		note, err := chainclient.Call(ctx, q.clients, func(ctx context.Context, c chainclient.Client) (*chainclient.InputNote, error) {
			return c.GetInputNote(ctx, noteId)
		})
		if err != nil {
			q.logger.Errorf("Verify transaction %s, get note %s error: %v", tx.ID, noteId, err)
			continue
		}
		if note == nil {
			continue
		}

		switch note.State {
		case chainclient.NOTE_STATE_CONSUMED:
			now := q.clock.Now()
			err = q.state.UpdateTransactionStatus(tx.ID, db.TX_STATUS_COMPLETED, func(row *db.Transaction) {
				row.CompletedAt = &now
				row.DisplayMessage = db.TX_DISPLAY_RECEIVED
			})
		case chainclient.NOTE_STATE_INVALID:
			err = q.cancel(tx.ID, reasonInvalidNote)
		case chainclient.NOTE_STATE_EXPECTED, chainclient.NOTE_STATE_COMMITTED:
			if tx.ProcessingStartedAt == nil || q.clock.Now().Sub(*tx.ProcessingStartedAt) <= q.noteGrace {
				continue
			}
			err = q.cancel(tx.ID, reasonInterrupted)
		default:
			continue
		}
		if err != nil {
			q.logger.Errorf("Verify transaction %s, update error: %v", tx.ID, err)
			continue
		}
		q.logger.Infof("Transaction %s resolved from note %s state %s", tx.ID, noteId, note.State)
		resolved++
	}
	return resolved, nil
}

// WaitForTransactionCompletion polls the transaction until it is completed or failed.
// It gives up with ErrWaitTimeout after the wait timeout.
func (q *Queue) WaitForTransactionCompletion(ctx context.Context, id string) (*db.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, q.waitTimeout)
	defer cancel()

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		tx, err := q.state.GetTransactionById(id)
		if err != nil {
			return nil, err
		}
		if db.IsFinalStatus(tx.Status) {
			return tx, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrWaitTimeout
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
