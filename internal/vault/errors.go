package vault

import (
	"errors"

	goerrors "github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"
)

// PublicError carries a message that is safe to show to the user
type PublicError struct {
	Message string
}

func (e *PublicError) Error() string {
	return e.Message
}

var (
	ErrInvalidPassword    = &PublicError{Message: "Invalid password"}
	ErrInvalidAccountName = &PublicError{Message: "Invalid account name, it must be 1 to 16 characters"}
	ErrAccountNotFound    = &PublicError{Message: "Account not found"}
	ErrDuplicateAccount   = &PublicError{Message: "Account already exists"}
	ErrNotInitialized     = &PublicError{Message: "Wallet is not initialized"}
	ErrLocked             = &PublicError{Message: "Wallet is locked"}
	ErrAccountIdMismatch  = &PublicError{Message: "Account id differs across networks"}
	ErrInvalidMnemonic    = &PublicError{Message: "Invalid mnemonic"}
	ErrHardwareDisabled   = &PublicError{Message: "Hardware protection is not available"}
	ErrWalletExists       = &PublicError{Message: "Wallet already exists"}
)

var errWrongPassword = errors.New("wrong password")

// WithError keeps public errors and replaces any other error with a public message,
// the internal error is logged with its stack
func WithError(message string, err error) error {
	if err == nil {
		return nil
	}
	var public *PublicError
	if errors.As(err, &public) {
		return public
	}
	log.WithFields(log.Fields{"module": "vault"}).Errorf("%s: %s", message, goerrors.Wrap(err, 1).ErrorStack())
	return &PublicError{Message: message}
}

// IsPublic reports whether err is safe to show to the user
func IsPublic(err error) bool {
	var public *PublicError
	return errors.As(err, &public)
}
