package http

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/goatnetwork/note-wallet/internal/export"
	"github.com/goatnetwork/note-wallet/internal/notes"
	"github.com/goatnetwork/note-wallet/internal/scanner"
	"github.com/goatnetwork/note-wallet/internal/state"
	"github.com/goatnetwork/note-wallet/internal/txqueue"
	"github.com/goatnetwork/note-wallet/internal/types"
	"github.com/goatnetwork/note-wallet/internal/vault"
	"github.com/sugawarayuuta/sonnet"
)

var errInvalidPayload = &vault.PublicError{Message: "Invalid request payload"}

// Services are the components a request can reach
type Services struct {
	State        *state.State
	Vault        *vault.Vault
	Queue        *txqueue.Queue
	Notes        *notes.ClaimableNotes
	Orchestrator *scanner.Orchestrator
	Exporter     *export.Exporter
}

type handlerFunc func(ctx context.Context, payload json.RawMessage) (interface{}, error)

type route struct {
	handle handlerFunc
	// public routes are reachable without a session token
	public bool
}

func decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, nil
	}
	if err := sonnet.Unmarshal(payload, &v); err != nil {
		return v, errInvalidPayload
	}
	return v, nil
}

func invalid(err error) error {
	return &vault.PublicError{Message: err.Error()}
}

// publicError maps err to the message a client may see
func publicError(err error) *vault.PublicError {
	switch {
	case errors.Is(err, state.ErrTransactionNotFound):
		return &vault.PublicError{Message: "Transaction not found"}
	case errors.Is(err, state.ErrTransactionFinalized):
		return &vault.PublicError{Message: "Transaction already finalized"}
	case errors.Is(err, export.ErrMalformedDocument):
		return &vault.PublicError{Message: "Invalid export document"}
	case errors.Is(err, txqueue.ErrWaitTimeout):
		return &vault.PublicError{Message: "Timed out waiting for transaction"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &vault.PublicError{Message: "Request cancelled"}
	}
	var pub *vault.PublicError
	if errors.As(vault.WithError("Request failed", err), &pub) {
		return pub
	}
	return &vault.PublicError{Message: "Request failed"}
}

func (hs *HTTPServer) routes() map[RequestType]route {
	s := hs.services
	return map[RequestType]route{
		REQ_GET_STATE: {public: true, handle: func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
			return s.Vault.GetState()
		}},
		REQ_NEW_WALLET: {public: true, handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			p, err := decode[NewWalletPayload](payload)
			if err != nil {
				return nil, err
			}
			exists, err := s.Vault.Exists()
			if err != nil {
				return nil, err
			}
			if exists && !hasSession(ctx) {
				if p.CurrentPassword == "" {
					return nil, vault.ErrWalletExists
				}
				if err := s.Vault.CheckPassword(p.CurrentPassword); err != nil {
					return nil, err
				}
			}
			if err := s.Vault.Spawn(ctx, p.Password, p.Mnemonic, p.OwnMnemonic); err != nil {
				return nil, err
			}
			return hs.sessions.Issue()
		}},
		REQ_UNLOCK: {public: true, handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			p, err := decode[PasswordPayload](payload)
			if err != nil {
				return nil, err
			}
			if err := s.Vault.Unlock(ctx, p.Password); err != nil {
				return nil, err
			}
			return hs.sessions.Issue()
		}},
		REQ_LOCK: {handle: func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
			s.Vault.Lock()
			return nil, hs.sessions.Revoke()
		}},

		REQ_CREATE_ACCOUNT: {handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			p, err := decode[CreateAccountPayload](payload)
			if err != nil {
				return nil, err
			}
			return s.Vault.CreateHDAccount(ctx, p.WalletType, p.Name)
		}},
		REQ_EDIT_ACCOUNT_NAME: {handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			p, err := decode[AccountPayload](payload)
			if err != nil {
				return nil, err
			}
			return nil, s.Vault.EditAccountName(p.AccountId, p.Name)
		}},
		REQ_SET_CURRENT_ACCOUNT: {handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			p, err := decode[AccountPayload](payload)
			if err != nil {
				return nil, err
			}
			return nil, s.Vault.SetCurrentAccount(p.AccountId)
		}},
		REQ_REVEAL_MNEMONIC: {handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			p, err := decode[PasswordPayload](payload)
			if err != nil {
				return nil, err
			}
			mnemonic, err := s.Vault.RevealMnemonic(p.Password)
			if err != nil {
				return nil, err
			}
			return map[string]string{"mnemonic": mnemonic}, nil
		}},
		REQ_REVEAL_PRIVATE_KEY: {handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			p, err := decode[AccountPayload](payload)
			if err != nil {
				return nil, err
			}
			key, err := s.Vault.RevealPrivateKey(p.AccountId, p.Password)
			if err != nil {
				return nil, err
			}
			return map[string]string{"private_key": hex.EncodeToString(key)}, nil
		}},
		REQ_GET_AUTH_SECRET_KEY: {handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			p, err := decode[PublicKeyPayload](payload)
			if err != nil {
				return nil, err
			}
			key, err := s.Vault.GetAuthSecretKey(p.PublicKey)
			if err != nil {
				return nil, err
			}
			return map[string]string{"secret_key": hex.EncodeToString(key)}, nil
		}},
		REQ_ENABLE_HARDWARE: {handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			p, err := decode[PasswordPayload](payload)
			if err != nil {
				return nil, err
			}
			return nil, s.Vault.EnableHardwareProtector(p.Password)
		}},
		REQ_DISABLE_HARDWARE: {handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			p, err := decode[PasswordPayload](payload)
			if err != nil {
				return nil, err
			}
			return nil, s.Vault.DisableHardwareProtector(p.Password)
		}},

		REQ_SEND_TRANSACTION: {handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			req, err := decode[types.SendRequest](payload)
			if err != nil {
				return nil, err
			}
			if err := req.Validate(); err != nil {
				return nil, invalid(err)
			}
			id, err := s.Queue.InitiateSendTransaction(ctx, req)
			if err != nil {
				return nil, err
			}
			return TransactionIdPayload{TransactionId: id}, nil
		}},
		REQ_CONSUME_NOTE: {handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			req, err := decode[types.ConsumeRequest](payload)
			if err != nil {
				return nil, err
			}
			if err := req.Validate(); err != nil {
				return nil, invalid(err)
			}
			id, err := s.Queue.InitiateConsumeTransaction(ctx, req)
			if err != nil {
				return nil, err
			}
			return TransactionIdPayload{TransactionId: id}, nil
		}},
		REQ_CUSTOM_TRANSACTION: {handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			p, err := decode[CustomTransactionPayload](payload)
			if err != nil {
				return nil, err
			}
			req := types.ExecuteRequest{AccountId: p.AccountId, RequestBytes: p.RequestBytes, Delegate: p.Delegate}
			if err := req.Validate(); err != nil {
				return nil, invalid(err)
			}
			id, err := s.Queue.RequestCustomTransaction(ctx, req, p.ImportNotes, p.Recipient)
			if err != nil {
				return nil, err
			}
			return TransactionIdPayload{TransactionId: id}, nil
		}},
		REQ_CANCEL_TRANSACTION: {handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			p, err := decode[TransactionIdPayload](payload)
			if err != nil {
				return nil, err
			}
			return nil, s.Queue.CancelTransactionById(p.TransactionId, "Cancelled by user")
		}},
		REQ_GET_TRANSACTION: {handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			p, err := decode[TransactionIdPayload](payload)
			if err != nil {
				return nil, err
			}
			return s.State.GetTransactionById(p.TransactionId)
		}},
		REQ_WAIT_TRANSACTION: {handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			p, err := decode[TransactionIdPayload](payload)
			if err != nil {
				return nil, err
			}
			return s.Queue.WaitForTransactionCompletion(ctx, p.TransactionId)
		}},
		REQ_UNCOMPLETED_TXS: {handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			p, err := decode[AccountPayload](payload)
			if err != nil {
				return nil, err
			}
			if p.AccountId == "" {
				return s.State.GetAllUncompletedTransactions()
			}
			return s.State.GetUncompletedTransactions(p.AccountId)
		}},
		REQ_COMPLETED_TXS: {handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			p, err := decode[CompletedTransactionsPayload](payload)
			if err != nil {
				return nil, err
			}
			return s.State.GetCompletedTransactions(state.CompletedQuery{
				AccountId:     p.AccountId,
				Offset:        p.Offset,
				Limit:         p.Limit,
				IncludeFailed: p.IncludeFailed,
				FaucetId:      p.FaucetId,
			})
		}},
		REQ_FAILED_TXS: {handle: func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
			return s.State.GetFailedTransactions()
		}},

		REQ_CLAIMABLE_NOTES: {handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			p, err := decode[AddressPayload](payload)
			if err != nil {
				return nil, err
			}
			return s.Notes.Get(ctx, p.Address)
		}},
		REQ_SYNC_PERCENTAGES: {handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			p, err := decode[AddressesPayload](payload)
			if err != nil {
				return nil, err
			}
			return s.Orchestrator.SyncPercentages(p.Addresses)
		}},
		REQ_RESYNC_ACCOUNT: {handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			p, err := decode[AddressPayload](payload)
			if err != nil {
				return nil, err
			}
			return nil, s.Orchestrator.ResyncAccount(p.Address)
		}},
		REQ_DELETE_ACCOUNT_DATA: {handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			p, err := decode[AddressPayload](payload)
			if err != nil {
				return nil, err
			}
			return nil, s.Orchestrator.DeleteAccountData(p.Address)
		}},

		REQ_EXPORT_DB: {handle: func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
			dump, err := s.Exporter.ExportDb(ctx)
			if err != nil {
				return nil, err
			}
			return ExportPayload{Dump: string(dump)}, nil
		}},
		REQ_IMPORT_DB: {handle: func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			p, err := decode[ExportPayload](payload)
			if err != nil {
				return nil, err
			}
			if err := s.Exporter.ImportDb(ctx, []byte(p.Dump)); err != nil {
				return nil, err
			}
			return nil, nil
		}},
	}
}
