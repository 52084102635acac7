package chainclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goatnetwork/note-wallet/internal/types"
	log "github.com/sirupsen/logrus"
	"github.com/sugawarayuuta/sonnet"
)

const (
	SessionPath           = "/v1/session"
	AccountNewPath        = "/v1/account/new"
	AccountGetPath        = "/v1/account/get"
	AccountAddKeyPath     = "/v1/account/add_key"
	SyncStatePath         = "/v1/sync"
	ConsumableNotesPath   = "/v1/notes/consumable"
	InputNotePath         = "/v1/notes/input"
	ImportNotePath        = "/v1/notes/import"
	ExportNotePath        = "/v1/notes/export"
	FaucetMetadataPath    = "/v1/faucet/metadata"
	RecordMetadataPath    = "/v1/records/metadata"
	ScanRecordsPath       = "/v1/records/scan"
	NewSendTxPath         = "/v1/tx/send"
	NewConsumeTxPath      = "/v1/tx/consume"
	NewCustomTxPath       = "/v1/tx/custom"
	SubmitTxPath          = "/v1/tx/submit"
	WaitTxCommitPath      = "/v1/tx/wait_commit"
	SendPrivateNotePath   = "/v1/notes/send_private"
	SessionHeader         = "X-Session-Id"
	remoteResponseSuccess = "success"
)

type remoteResponse[T any] struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   T      `json:"data"`
}

// RemoteClient talks to a chain client daemon over JSON HTTP.
// Each instance owns one daemon session opened with the seed it was built with.
type RemoteClient struct {
	endpoint       string
	httpClient     *http.Client
	sessionId      string
	onConnectivity func()
}

var _ Client = (*RemoteClient)(nil)

// NewRemoteFactory returns a Factory opening sessions on endpoint
func NewRemoteFactory(endpoint string) Factory {
	return func(ctx context.Context, opts *Options) (Client, error) {
		return NewRemoteClient(ctx, endpoint, opts)
	}
}

func NewRemoteClient(ctx context.Context, endpoint string, opts *Options) (*RemoteClient, error) {
	c := &RemoteClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
	var seedHex string
	if opts != nil {
		c.onConnectivity = opts.OnConnectivityIssue
		seedHex = hex.EncodeToString(opts.Seed)
	}

	sessionId, err := post[string](ctx, c, SessionPath, map[string]string{"seed": seedHex})
	if err != nil {
		return nil, fmt.Errorf("open chain client session failed: %w", err)
	}
	c.sessionId = sessionId
	return c, nil
}

func (c *RemoteClient) NewWallet(ctx context.Context, walletType string, seed []byte) (*Account, error) {
	return post[*Account](ctx, c, AccountNewPath, map[string]interface{}{
		"wallet_type": walletType,
		"seed":        seed,
	})
}

func (c *RemoteClient) GetAccount(ctx context.Context, accountId string) (*Account, error) {
	return post[*Account](ctx, c, AccountGetPath, map[string]string{"account_id": accountId})
}

func (c *RemoteClient) AddAccountSecretKey(ctx context.Context, accountId string, secretKey []byte) error {
	_, err := post[bool](ctx, c, AccountAddKeyPath, map[string]interface{}{
		"account_id": accountId,
		"secret_key": secretKey,
	})
	return err
}

func (c *RemoteClient) SyncState(ctx context.Context) (*SyncSummary, error) {
	return post[*SyncSummary](ctx, c, SyncStatePath, struct{}{})
}

func (c *RemoteClient) GetConsumableNotes(ctx context.Context, address string) ([]ConsumableNote, error) {
	return post[[]ConsumableNote](ctx, c, ConsumableNotesPath, map[string]string{"address": address})
}

func (c *RemoteClient) GetInputNote(ctx context.Context, noteId string) (*InputNote, error) {
	return post[*InputNote](ctx, c, InputNotePath, map[string]string{"note_id": noteId})
}

func (c *RemoteClient) ImportNoteBytes(ctx context.Context, noteBytes []byte) (string, error) {
	return post[string](ctx, c, ImportNotePath, map[string]interface{}{"note_bytes": noteBytes})
}

func (c *RemoteClient) ExportNote(ctx context.Context, noteId, exportType string) ([]byte, error) {
	return post[[]byte](ctx, c, ExportNotePath, map[string]string{"note_id": noteId, "export_type": exportType})
}

func (c *RemoteClient) GetFaucetMetadata(ctx context.Context, faucetId string) (*FaucetInfo, error) {
	return post[*FaucetInfo](ctx, c, FaucetMetadataPath, map[string]string{"faucet_id": faucetId})
}

func (c *RemoteClient) GetRecordMetadata(ctx context.Context, startId, endId uint64, includeTagged bool) ([]RecordMetadata, error) {
	return post[[]RecordMetadata](ctx, c, RecordMetadataPath, map[string]interface{}{
		"start_id":       startId,
		"end_id":         endId,
		"include_tagged": includeTagged,
	})
}

func (c *RemoteClient) ScanRecords(ctx context.Context, req ScanRequest) ([]ScannedRecord, error) {
	return post[[]ScannedRecord](ctx, c, ScanRecordsPath, req)
}

func (c *RemoteClient) NewSendTransaction(ctx context.Context, req types.SendRequest) (*TransactionResult, error) {
	return post[*TransactionResult](ctx, c, NewSendTxPath, map[string]interface{}{
		"sender_account_id": req.SenderAccountId,
		"recipient_address": req.RecipientAddress,
		"faucet_id":         req.FaucetId,
		"note_type":         req.NoteType,
		"amount":            req.Amount.String(),
		"recall_blocks":     req.RecallBlocks,
	})
}

func (c *RemoteClient) NewConsumeTransaction(ctx context.Context, accountId string, noteIds []string) (*TransactionResult, error) {
	return post[*TransactionResult](ctx, c, NewConsumeTxPath, map[string]interface{}{
		"account_id": accountId,
		"note_ids":   noteIds,
	})
}

func (c *RemoteClient) NewCustomTransaction(ctx context.Context, accountId string, requestBytes []byte) (*TransactionResult, error) {
	return post[*TransactionResult](ctx, c, NewCustomTxPath, map[string]interface{}{
		"account_id":    accountId,
		"request_bytes": requestBytes,
	})
}

func (c *RemoteClient) SubmitTransaction(ctx context.Context, result *TransactionResult, delegate bool) error {
	_, err := post[bool](ctx, c, SubmitTxPath, map[string]interface{}{
		"transaction_id": result.TransactionId,
		"result_bytes":   result.ResultBytes,
		"delegate":       delegate,
	})
	return err
}

func (c *RemoteClient) WaitForTransactionCommit(ctx context.Context, transactionId string) error {
	_, err := post[bool](ctx, c, WaitTxCommitPath, map[string]string{"transaction_id": transactionId})
	return err
}

func (c *RemoteClient) SendPrivateNote(ctx context.Context, noteBytes []byte, recipient string) error {
	_, err := post[bool](ctx, c, SendPrivateNotePath, map[string]interface{}{
		"note_bytes": noteBytes,
		"recipient":  recipient,
	})
	return err
}

// Close ends the daemon session, the instance must not be used afterwards
func (c *RemoteClient) Close() error {
	if c.sessionId == "" {
		return nil
	}
	req, err := http.NewRequest(http.MethodDelete, c.endpoint+SessionPath, nil)
	if err != nil {
		return err
	}
	req.Header.Set(SessionHeader, c.sessionId)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("close chain client session failed: %w", err)
	}
	defer resp.Body.Close()
	c.sessionId = ""
	return nil
}

func post[T any](ctx context.Context, c *RemoteClient, path string, body interface{}) (T, error) {
	var zero T
	payload, err := sonnet.Marshal(body)
	if err != nil {
		return zero, fmt.Errorf("encode %s request failed: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return zero, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.sessionId != "" {
		req.Header.Set(SessionHeader, c.sessionId)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.onConnectivity != nil && ctx.Err() == nil {
			c.onConnectivity()
		}
		return zero, fmt.Errorf("%s http request failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, fmt.Errorf("read %s response failed: %w", path, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError && c.onConnectivity != nil {
		c.onConnectivity()
	}

	var out remoteResponse[T]
	if err := sonnet.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("decode %s response failed, http status %d: %w", path, resp.StatusCode, err)
	}
	if out.Status != remoteResponseSuccess {
		log.Debugf("RemoteClient %s failed: %s", path, out.Error)
		return zero, fmt.Errorf("%s failed: %s", path, out.Error)
	}
	return out.Data, nil
}
