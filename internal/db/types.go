package db

const (
	TX_TYPE_EXECUTE = "execute"
	TX_TYPE_SEND    = "send"
	TX_TYPE_CONSUME = "consume"

	TX_STATUS_QUEUED     = "queued"
	TX_STATUS_GENERATING = "generating"
	TX_STATUS_COMPLETED  = "completed"
	TX_STATUS_FAILED     = "failed"

	NOTE_TYPE_PUBLIC  = "public"
	NOTE_TYPE_PRIVATE = "private"

	TX_DISPLAY_EXECUTING = "Executing"
	TX_DISPLAY_SENDING   = "Sending"
	TX_DISPLAY_SENT      = "Sent"
	TX_DISPLAY_CONSUMING = "Consuming"
	TX_DISPLAY_RECEIVED  = "Received"
	TX_DISPLAY_EXECUTED  = "Executed"
	TX_DISPLAY_FAILED    = "Failed"

	TX_DISPLAY_TRANSPORT_FAILED = "Send failed: transport error"
	TX_DISPLAY_NOTE_UNAVAILABLE = "Send failed: note unavailable"
)

// IsFinalStatus reports whether no further transition is allowed from status.
func IsFinalStatus(status string) bool {
	return status == TX_STATUS_COMPLETED || status == TX_STATUS_FAILED
}

// FormatTransactionStatus renders status for display.
func FormatTransactionStatus(status string) string {
	switch status {
	case TX_STATUS_QUEUED:
		return "Queued"
	case TX_STATUS_GENERATING:
		return "Generating Transaction"
	case TX_STATUS_COMPLETED:
		return "Completed"
	case TX_STATUS_FAILED:
		return "Failed"
	default:
		return "Unknown"
	}
}
