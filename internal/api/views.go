package api

import (
	"strconv"

	"custody-ledger/internal/domain"
)

// JSON views of domain records. Amounts are rendered both as fixed-scale
// strings and as minor units.

type entryView struct {
	ID           string `json:"id"`
	Account      string `json:"account"`
	AccountType  string `json:"account_type"`
	Asset        string `json:"asset"`
	EntryType    string `json:"entry_type"`
	Amount       string `json:"amount"`
	AmountUnits  int64  `json:"amount_units"`
	BalanceAfter string `json:"balance_after"`
	ReferenceID  string `json:"reference_id"`
	Description  string `json:"description,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

type depositView struct {
	ID             string `json:"id"`
	Network        string `json:"network"`
	TxHash         string `json:"tx_hash"`
	TxURL          string `json:"tx_url,omitempty"`
	ToAddress      string `json:"to_address"`
	Asset          string `json:"asset"`
	Amount         string `json:"amount"`
	AmountCredited string `json:"amount_credited"`
	Fee            string `json:"fee"`
	Confirmations  int64  `json:"confirmations"`
	Status         string `json:"status"`
	ReorgFlagged   bool   `json:"reorg_flagged"`
	DetectedAt     int64  `json:"detected_at"`
	CreditedAt     int64  `json:"credited_at,omitempty"`
}

type withdrawalView struct {
	ID                 string `json:"id"`
	UserID             string `json:"user_id"`
	Asset              string `json:"asset"`
	Network            string `json:"network"`
	Amount             string `json:"amount"`
	Fee                string `json:"fee"`
	NetAmount          string `json:"net_amount"`
	UsdValue           string `json:"usd_value"`
	DestinationAddress string `json:"destination_address"`
	Status             string `json:"status"`
	RequiresApproval   bool   `json:"requires_approval"`
	KYCTier            int    `json:"kyc_tier"`
	PayoutTxHash       string `json:"payout_tx_hash,omitempty"`
	PayoutTxURL        string `json:"payout_tx_url,omitempty"`
	FailureReason      string `json:"failure_reason,omitempty"`
	ReviewedBy         string `json:"reviewed_by,omitempty"`
	CreatedAt          int64  `json:"created_at"`
	UpdatedAt          int64  `json:"updated_at"`
}

type bridgeView struct {
	ID                 string `json:"id"`
	ReferenceID        string `json:"reference_id"`
	Asset              string `json:"asset"`
	FromChain          string `json:"from_chain"`
	ToChain            string `json:"to_chain"`
	Amount             string `json:"amount"`
	Fee                string `json:"fee"`
	NetAmount          string `json:"net_amount"`
	DestinationAddress string `json:"destination_address"`
	DestTxHash         string `json:"dest_tx_hash,omitempty"`
	DestTxURL          string `json:"dest_tx_url,omitempty"`
	Confirmations      int64  `json:"confirmations"`
	Status             string `json:"status"`
	FailureReason      string `json:"failure_reason,omitempty"`
	CreatedAt          int64  `json:"created_at"`
	SettledAt          int64  `json:"settled_at,omitempty"`
}

type reversalView struct {
	ID          string              `json:"id"`
	DepositID   string              `json:"deposit_id"`
	ReferenceID string              `json:"reference_id"`
	UserID      string              `json:"user_id"`
	Asset       string              `json:"asset"`
	Amount      string              `json:"amount"`
	Entries     []proposedEntryView `json:"entries"`
	Status      string              `json:"status"`
	Reason      string              `json:"reason"`
	CreatedAt   int64               `json:"created_at"`
	DecidedAt   int64               `json:"decided_at,omitempty"`
	DecidedBy   string              `json:"decided_by,omitempty"`
}

type proposedEntryView struct {
	Account     string `json:"account"`
	EntryType   string `json:"entry_type"`
	AmountUnits int64  `json:"amount_units"`
}

type feeTotalView struct {
	Day     string `json:"day"`
	Asset   string `json:"asset"`
	Pool    string `json:"pool"`
	Amount  string `json:"amount"`
	Entries int64  `json:"entries"`
}

// format renders units of code at its registered scale, falling back to
// the raw integer for unknown assets.
func (s *Server) format(code domain.AssetCode, units int64) string {
	a, err := s.chains.Asset(code)
	if err != nil {
		return strconv.FormatInt(units, 10)
	}
	return a.Units(units).Amount()
}

func (s *Server) entryViews(entries []*domain.LedgerEntry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryView{
			ID:           e.ID,
			Account:      e.Account.String(),
			AccountType:  string(e.Account.Type),
			Asset:        string(e.Account.Asset),
			EntryType:    string(e.EntryType),
			Amount:       s.format(e.Account.Asset, e.Amount),
			AmountUnits:  e.Amount,
			BalanceAfter: s.format(e.Account.Asset, e.BalanceAfter),
			ReferenceID:  e.ReferenceID,
			Description:  e.Description,
			CreatedAt:    e.CreatedAt,
		})
	}
	return out
}

func (s *Server) depositView(d *domain.DepositObservation) depositView {
	return depositView{
		ID:             d.ID,
		Network:        string(d.Network),
		TxHash:         d.TxHash,
		TxURL:          s.chains.TxURL(d.Network, d.TxHash),
		ToAddress:      d.ToAddress,
		Asset:          string(d.Asset),
		Amount:         s.format(d.Asset, d.Amount),
		AmountCredited: s.format(d.Asset, d.AmountCredited),
		Fee:            s.format(d.Asset, d.FeeCharged),
		Confirmations:  d.Confirmations,
		Status:         string(d.Status),
		ReorgFlagged:   d.ReorgFlagged,
		DetectedAt:     d.DetectedAt,
		CreditedAt:     d.CreditedAt,
	}
}

func (s *Server) withdrawalView(w *domain.WithdrawalRequest) withdrawalView {
	return withdrawalView{
		ID:                 w.ID,
		UserID:             w.UserID,
		Asset:              string(w.Asset),
		Network:            string(w.NetworkCode),
		Amount:             s.format(w.Asset, w.Amount),
		Fee:                s.format(w.Asset, w.FeeAmount),
		NetAmount:          s.format(w.Asset, w.NetAmount),
		UsdValue:           w.UsdValueCents.String(),
		DestinationAddress: w.DestinationAddress,
		Status:             string(w.Status),
		RequiresApproval:   w.RequiresApproval,
		KYCTier:            w.KYCTier,
		PayoutTxHash:       w.PayoutTxHash,
		PayoutTxURL:        s.chains.TxURL(w.NetworkCode, w.PayoutTxHash),
		FailureReason:      w.FailureReason,
		ReviewedBy:         w.ReviewedBy,
		CreatedAt:          w.CreatedAt,
		UpdatedAt:          w.UpdatedAt,
	}
}

func (s *Server) bridgeView(b *domain.BridgeTransfer) bridgeView {
	return bridgeView{
		ID:                 b.ID,
		ReferenceID:        b.ReferenceID,
		Asset:              string(b.Asset),
		FromChain:          string(b.FromChain),
		ToChain:            string(b.ToChain),
		Amount:             s.format(b.Asset, b.Amount),
		Fee:                s.format(b.Asset, b.FeeAmount),
		NetAmount:          s.format(b.Asset, b.NetAmount),
		DestinationAddress: b.DestinationAddress,
		DestTxHash:         b.DestTxHash,
		DestTxURL:          s.chains.TxURL(b.ToChain, b.DestTxHash),
		Confirmations:      b.Confirmations,
		Status:             string(b.Status),
		FailureReason:      b.FailureReason,
		CreatedAt:          b.CreatedAt,
		SettledAt:          b.SettledAt,
	}
}

func (s *Server) reversalView(p *domain.ReversalProposal) reversalView {
	entries := make([]proposedEntryView, 0, len(p.Entries))
	for _, e := range p.Entries {
		entries = append(entries, proposedEntryView{
			Account:     e.Account.String(),
			EntryType:   string(e.EntryType),
			AmountUnits: e.Amount,
		})
	}
	return reversalView{
		ID:          p.ID,
		DepositID:   p.DepositID,
		ReferenceID: p.ReferenceID,
		UserID:      p.UserID,
		Asset:       string(p.Asset),
		Amount:      s.format(p.Asset, p.Amount),
		Entries:     entries,
		Status:      string(p.Status),
		Reason:      p.Reason,
		CreatedAt:   p.CreatedAt,
		DecidedAt:   p.DecidedAt,
		DecidedBy:   p.DecidedBy,
	}
}
