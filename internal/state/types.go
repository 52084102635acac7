package state

import "github.com/goatnetwork/note-wallet/internal/db"

// QueueState to manage the transaction queue summary
type QueueState struct {
	Queued     int64
	InProgress *db.Transaction // status 'generating', at most one
}

// SyncState to manage record sync summary
type SyncState struct {
	Addresses       []string // addresses with at least one record sync
	RecordSyncCount int64
	LastBlock       uint64
}
