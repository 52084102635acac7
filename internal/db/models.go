package db

import (
	"database/sql/driver"
	"fmt"
	"math/big"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sugawarayuuta/sonnet"
)

// RecordIdSync model, a scanned record id range [StartId, EndId) for one address
type RecordIdSync struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	Address string `gorm:"not null;index" json:"address"`
	StartId uint64 `gorm:"not null" json:"start_id"` // inclusive
	EndId   uint64 `gorm:"not null" json:"end_id"`   // exclusive
}

// OwnedRecord model, upserted by record id after a successful scan batch
type OwnedRecord struct {
	Id              uint64    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Address         string    `gorm:"not null;index" json:"address"`
	TransitionId    string    `gorm:"not null" json:"transition_id"`
	OutputIndex     uint32    `gorm:"not null" json:"output_index"`
	Synced          bool      `gorm:"not null" json:"synced"`
	Nonce           string    `json:"nonce"`
	OwnerCommitment string    `json:"owner_commitment"`
	Tag             string    `gorm:"index" json:"tag"`
	RecordBytes     []byte    `json:"record_bytes"`
	UpdatedAt       time.Time `gorm:"not null" json:"updated_at"`
}

// AccountCreation model, the lower sync bound of an address
type AccountCreation struct {
	Address            string    `gorm:"primaryKey" json:"address"`
	BlockHeight        uint64    `gorm:"not null" json:"block_height"`
	AssociatedRecordId uint64    `gorm:"not null" json:"associated_record_id"`
	UpdatedAt          time.Time `gorm:"not null" json:"updated_at"`
}

// PublicSync model, block range covered by a finished sync round
type PublicSync struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Address    string    `gorm:"not null;index" json:"address"`
	StartBlock uint64    `gorm:"not null" json:"start_block"`
	EndBlock   uint64    `gorm:"not null" json:"end_block"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

// Transaction model, a persisted queue entry
type Transaction struct {
	ID                  string     `gorm:"primaryKey" json:"id"`
	Type                string     `gorm:"not null;index" json:"type"`   // "execute", "send", "consume"
	Status              string     `gorm:"not null;index" json:"status"` // "queued", "generating", "completed", "failed"
	AccountId           string     `gorm:"not null;index" json:"account_id"`
	SecondaryAccountId  string     `json:"secondary_account_id"`
	FaucetId            string     `json:"faucet_id"`
	Amount              BigInt     `gorm:"type:text" json:"amount"`
	NoteType            string     `json:"note_type"`
	RecallBlocks        uint32     `json:"recall_blocks"`
	InputNoteIds        StringList `gorm:"type:text" json:"input_note_ids"`
	OutputNoteIds       StringList `gorm:"type:text" json:"output_note_ids"`
	RequestBytes        []byte     `json:"request_bytes"`
	ResultBytes         []byte     `json:"result_bytes"`
	DelegateTransaction bool       `gorm:"not null" json:"delegate_transaction"`
	DisplayMessage      string     `json:"display_message"`
	TransactionId       string     `json:"transaction_id"`
	Error               string     `json:"error"`
	InitiatedAt         time.Time  `gorm:"not null;index" json:"initiated_at"`
	ProcessingStartedAt *time.Time `json:"processing_started_at"`
	CompletedAt         *time.Time `json:"completed_at"`
}

// FaucetMetadata model, cached asset metadata
type FaucetMetadata struct {
	FaucetId  string    `gorm:"primaryKey" json:"faucet_id"`
	Symbol    string    `gorm:"not null" json:"symbol"`
	Decimals  uint8     `gorm:"not null" json:"decimals"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// VaultItem model, key is the hashed storage key
type VaultItem struct {
	Key       string    `gorm:"primaryKey;column:item_key" json:"key"`
	Value     []byte    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// BigInt stores an arbitrary precision integer as decimal text
type BigInt struct {
	*big.Int
}

func NewBigInt(v *big.Int) BigInt {
	if v == nil {
		return BigInt{}
	}
	return BigInt{Int: new(big.Int).Set(v)}
}

func (b BigInt) Value() (driver.Value, error) {
	if b.Int == nil {
		return nil, nil
	}
	return b.Int.String(), nil
}

func (b *BigInt) Scan(src interface{}) error {
	var s string
	switch v := src.(type) {
	case nil:
		b.Int = nil
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	case int64:
		b.Int = big.NewInt(v)
		return nil
	default:
		return fmt.Errorf("unsupported big int source %T", src)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid big int %q", s)
	}
	b.Int = n
	return nil
}

func (b BigInt) MarshalJSON() ([]byte, error) {
	if b.Int == nil {
		return []byte("null"), nil
	}
	return []byte(`"` + b.Int.String() + `"`), nil
}

func (b *BigInt) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		b.Int = nil
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid big int %q", s)
	}
	b.Int = n
	return nil
}

// StringList stores a list of ids as a JSON array
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := sonnet.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported string list source %T", src)
	}
	var out []string
	if err := sonnet.Unmarshal(raw, &out); err != nil {
		return err
	}
	*l = out
	return nil
}

// Contains reports whether id is in the list
func (l StringList) Contains(id string) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}

func (dm *DatabaseManager) autoMigrate() {
	if err := dm.syncDb.AutoMigrate(&RecordIdSync{}, &OwnedRecord{}, &AccountCreation{}, &PublicSync{}); err != nil {
		log.Fatalf("Failed to migrate sync database: %v", err)
	}
	if err := dm.walletDb.AutoMigrate(&Transaction{}, &FaucetMetadata{}); err != nil {
		log.Fatalf("Failed to migrate wallet database: %v", err)
	}
	if err := dm.vaultDb.AutoMigrate(&VaultItem{}); err != nil {
		log.Fatalf("Failed to migrate vault database: %v", err)
	}
}
