package service

import (
	"strings"

	"github.com/ayo6706/crypto-ledger/internal/domain"
)

// Statuses only move forward. COMPLETED is reachable only through CONFIRMED.
var transactionTransitions = map[string]map[string]struct{}{
	domain.TxStatusPendingAdminApproval: {
		domain.TxStatusPending:   {},
		domain.TxStatusRejected:  {},
		domain.TxStatusCancelled: {},
	},
	domain.TxStatusPending: {
		domain.TxStatusProcessing: {},
		domain.TxStatusConfirmed:  {},
		domain.TxStatusFailed:     {},
		domain.TxStatusCancelled:  {},
	},
	domain.TxStatusProcessing: {
		domain.TxStatusConfirmed: {},
		domain.TxStatusFailed:    {},
	},
	domain.TxStatusConfirmed: {
		domain.TxStatusCompleted: {},
		domain.TxStatusFailed:    {},
	},
	domain.TxStatusCompleted: {},
	domain.TxStatusFailed:    {},
	domain.TxStatusRejected:  {},
	domain.TxStatusCancelled: {},
}

func normalizeState(state string) string {
	return strings.ToUpper(strings.TrimSpace(state))
}

func canTransition(current, next string) bool {
	current = normalizeState(current)
	next = normalizeState(next)
	nextStates, ok := transactionTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}
