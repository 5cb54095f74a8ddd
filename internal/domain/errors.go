package domain

import "errors"

var (
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrAmountOutOfRange       = errors.New("amount out of range")
	ErrUnsupportedNetwork     = errors.New("unsupported network")
	ErrInvalidAddress         = errors.New("invalid address")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrRateUnavailable        = errors.New("rate unavailable")
	ErrDuplicateChainHash     = errors.New("duplicate chain hash")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrTransactionNotFound    = errors.New("transaction not found")
	// ErrUnknownTransaction is returned when a confirmation event matches no transaction.
	ErrUnknownTransaction = errors.New("unknown transaction")
)
