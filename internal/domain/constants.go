package domain

// Transaction kinds.
const (
	KindDeposit                 = "DEPOSIT"
	KindWithdrawal              = "WITHDRAWAL"
	KindManualDepositRequest    = "MANUAL_DEPOSIT_REQUEST"
	KindManualWithdrawalRequest = "MANUAL_WITHDRAWAL_REQUEST"
	KindConversionToFiat        = "CONVERSION_TO_FIAT"
	KindConversionFromFiat      = "CONVERSION_FROM_FIAT"
)

// Transaction statuses.
const (
	TxStatusPendingAdminApproval = "PENDING_ADMIN_APPROVAL"
	TxStatusPending              = "PENDING"
	TxStatusProcessing           = "PROCESSING"
	TxStatusConfirmed            = "CONFIRMED"
	TxStatusCompleted            = "COMPLETED"
	TxStatusFailed               = "FAILED"
	TxStatusRejected             = "REJECTED"
	TxStatusCancelled            = "CANCELLED"
)

// Failure and rejection reason codes stored on the transaction.
const (
	ReasonChainReorg          = "CHAIN_REORG"
	ReasonConfirmationTimeout = "CONFIRMATION_TIMEOUT"
	ReasonBroadcastRejected   = "BROADCAST_REJECTED"
	ReasonDuplicateChainHash  = "DUPLICATE_CHAIN_HASH"
	ReasonUserCancelled       = "USER_CANCELLED"
	ReasonAdminRejected       = "ADMIN_REJECTED"
)

// History actions.
const (
	ActionCreated      = "created"
	ActionConfirmation = "confirmation"
	ActionApproved     = "approved"
	ActionRejected     = "rejected"
	ActionDispatched   = "dispatched"
	ActionBroadcast    = "broadcast"
	ActionCompleted    = "completed"
	ActionFailed       = "failed"
	ActionCancelled    = "cancelled"
	ActionHashAttached = "hash_attached"
)

// IsDepositKind reports whether the kind credits the user once settled.
func IsDepositKind(kind string) bool {
	return kind == KindDeposit || kind == KindManualDepositRequest
}

// IsWithdrawalKind reports whether the kind debits the user once settled.
func IsWithdrawalKind(kind string) bool {
	return kind == KindWithdrawal || kind == KindManualWithdrawalRequest
}

// IsTerminal reports whether no further transition is allowed from status.
func IsTerminal(status string) bool {
	switch status {
	case TxStatusCompleted, TxStatusFailed, TxStatusRejected, TxStatusCancelled:
		return true
	}
	return false
}
