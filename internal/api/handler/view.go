package handler

import (
	"time"

	"github.com/ayo6706/crypto-ledger/internal/domain"
	"github.com/ayo6706/crypto-ledger/internal/models"
	"github.com/ayo6706/crypto-ledger/internal/network"
	"github.com/google/uuid"
)

// Amounts leave the API as decimal strings in whole units of their network.

type transactionView struct {
	ID                    uuid.UUID  `json:"id"`
	UserID                uuid.UUID  `json:"user_id"`
	Kind                  string     `json:"kind"`
	Network               string     `json:"network"`
	Amount                string     `json:"amount"`
	Fee                   string     `json:"fee"`
	USDAmount             *string    `json:"usd_amount,omitempty"`
	FromAddress           string     `json:"from_address,omitempty"`
	ToAddress             string     `json:"to_address,omitempty"`
	ChainHash             *string    `json:"chain_hash,omitempty"`
	Status                string     `json:"status"`
	Reason                string     `json:"reason,omitempty"`
	Confirmations         int        `json:"confirmations"`
	RequiredConfirmations int        `json:"required_confirmations"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
}

type balanceView struct {
	Network           string    `json:"network"`
	Available         string    `json:"available"`
	PendingDeposit    string    `json:"pending_deposit"`
	PendingWithdrawal string    `json:"pending_withdrawal"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type networkView struct {
	Code                  string `json:"code"`
	Name                  string `json:"name"`
	Decimals              int32  `json:"decimals"`
	NativeDecimals        int32  `json:"native_decimals"`
	PrecisionNote         string `json:"precision_note,omitempty"`
	ConfirmationsRequired int    `json:"confirmations_required"`
	MinAmount             string `json:"min_amount"`
	MaxAmount             string `json:"max_amount"`
	WithdrawalFee         string `json:"withdrawal_fee"`
	ConfirmationTimeout   string `json:"confirmation_timeout"`
}

type presenter struct {
	registry *network.Registry
}

func (p presenter) amount(code string, v int64) string {
	decimals, _ := p.registry.Decimals(code)
	return domain.FormatAmount(v, decimals)
}

func (p presenter) transaction(tx models.Transaction) transactionView {
	view := transactionView{
		ID:                    tx.ID,
		UserID:                tx.UserID,
		Kind:                  tx.Kind,
		Network:               tx.Network,
		Amount:                p.amount(tx.Network, tx.Amount),
		Fee:                   p.amount(tx.Network, tx.Fee),
		FromAddress:           tx.FromAddress,
		ToAddress:             tx.ToAddress,
		ChainHash:             tx.ChainHash,
		Status:                tx.Status,
		Reason:                tx.Reason,
		Confirmations:         tx.Confirmations,
		RequiredConfirmations: tx.RequiredConfirmations,
		CreatedAt:             tx.CreatedAt,
		UpdatedAt:             tx.UpdatedAt,
		CompletedAt:           tx.CompletedAt,
	}
	if tx.USDAmount != nil {
		usd := p.amount(p.registry.Fiat().Code, *tx.USDAmount)
		view.USDAmount = &usd
	}
	return view
}

func (p presenter) transactions(txs []models.Transaction) []transactionView {
	out := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		out = append(out, p.transaction(tx))
	}
	return out
}

func (p presenter) balance(b models.Balance) balanceView {
	return balanceView{
		Network:           b.Network,
		Available:         p.amount(b.Network, b.Available),
		PendingDeposit:    p.amount(b.Network, b.PendingDeposit),
		PendingWithdrawal: p.amount(b.Network, b.PendingWithdrawal),
		UpdatedAt:         b.UpdatedAt,
	}
}

func (p presenter) network(n network.Network) networkView {
	return networkView{
		Code:                  n.Code,
		Name:                  n.Name,
		Decimals:              n.Decimals,
		NativeDecimals:        n.NativeDecimals,
		PrecisionNote:         n.PrecisionNote(),
		ConfirmationsRequired: n.ConfirmationsRequired,
		MinAmount:             domain.FormatAmount(n.MinAmount, n.Decimals),
		MaxAmount:             domain.FormatAmount(n.MaxAmount, n.Decimals),
		WithdrawalFee:         domain.FormatAmount(n.WithdrawalFee, n.Decimals),
		ConfirmationTimeout:   n.ConfirmationTimeout.String(),
	}
}
