package http

import (
	"encoding/json"
)

// RequestType names a request, the response carries RequestType + "Response"
type RequestType string

const (
	REQ_GET_STATE           RequestType = "GetState"
	REQ_NEW_WALLET          RequestType = "NewWallet"
	REQ_UNLOCK              RequestType = "Unlock"
	REQ_LOCK                RequestType = "Lock"
	REQ_CREATE_ACCOUNT      RequestType = "CreateAccount"
	REQ_EDIT_ACCOUNT_NAME   RequestType = "EditAccountName"
	REQ_SET_CURRENT_ACCOUNT RequestType = "SetCurrentAccount"
	REQ_REVEAL_MNEMONIC     RequestType = "RevealMnemonic"
	REQ_REVEAL_PRIVATE_KEY  RequestType = "RevealPrivateKey"
	REQ_GET_AUTH_SECRET_KEY RequestType = "GetAuthSecretKey"
	REQ_ENABLE_HARDWARE     RequestType = "EnableHardwareProtector"
	REQ_DISABLE_HARDWARE    RequestType = "DisableHardwareProtector"
	REQ_SEND_TRANSACTION    RequestType = "SendTransaction"
	REQ_CONSUME_NOTE        RequestType = "ConsumeNote"
	REQ_CUSTOM_TRANSACTION  RequestType = "CustomTransaction"
	REQ_CANCEL_TRANSACTION  RequestType = "CancelTransaction"
	REQ_GET_TRANSACTION     RequestType = "GetTransaction"
	REQ_WAIT_TRANSACTION    RequestType = "WaitTransaction"
	REQ_UNCOMPLETED_TXS     RequestType = "GetUncompletedTransactions"
	REQ_COMPLETED_TXS       RequestType = "GetCompletedTransactions"
	REQ_FAILED_TXS          RequestType = "GetFailedTransactions"
	REQ_CLAIMABLE_NOTES     RequestType = "GetClaimableNotes"
	REQ_SYNC_PERCENTAGES    RequestType = "GetSyncPercentages"
	REQ_RESYNC_ACCOUNT      RequestType = "ResyncAccount"
	REQ_DELETE_ACCOUNT_DATA RequestType = "DeleteAccountData"
	REQ_EXPORT_DB           RequestType = "ExportDb"
	REQ_IMPORT_DB           RequestType = "ImportDb"
)

const (
	RESPONSE_TYPE_ERROR  = "Error"
	SESSION_TOKEN_TYPE   = "Bearer"
	AUTHORIZATION_HEADER = "Authorization"
	TOKEN_QUERY          = "token"
)

// RequestEnvelope is the body of POST /api/v1/request
type RequestEnvelope struct {
	Type    RequestType     `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

// ResponseEnvelope carries either a payload or a public error message
type ResponseEnvelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Notification is pushed to websocket subscribers, it never answers a request
type Notification struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type PasswordPayload struct {
	Password string `json:"password"`
}

type NewWalletPayload struct {
	Password    string `json:"password"`
	Mnemonic    string `json:"mnemonic"`
	OwnMnemonic bool   `json:"own_mnemonic"`
	// CurrentPassword replaces an existing wallet without a session
	CurrentPassword string `json:"current_password,omitempty"`
}

type SessionPayload struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

type CreateAccountPayload struct {
	WalletType string `json:"wallet_type"`
	Name       string `json:"name"`
}

type AccountPayload struct {
	AccountId string `json:"account_id"`
	Name      string `json:"name,omitempty"`
	Password  string `json:"password,omitempty"`
}

type PublicKeyPayload struct {
	PublicKey string `json:"public_key"`
}

type CustomTransactionPayload struct {
	AccountId    string   `json:"account_id"`
	RequestBytes []byte   `json:"request_bytes"`
	ImportNotes  [][]byte `json:"import_notes"`
	Recipient    string   `json:"recipient"`
	Delegate     bool     `json:"delegate"`
}

type TransactionIdPayload struct {
	TransactionId string `json:"transaction_id"`
}

type CompletedTransactionsPayload struct {
	AccountId     string `json:"account_id"`
	Offset        int    `json:"offset"`
	Limit         int    `json:"limit"`
	IncludeFailed bool   `json:"include_failed"`
	FaucetId      string `json:"faucet_id"`
}

type AddressPayload struct {
	Address string `json:"address"`
}

type AddressesPayload struct {
	Addresses []string `json:"addresses"`
}

type ExportPayload struct {
	Dump string `json:"dump"`
}
