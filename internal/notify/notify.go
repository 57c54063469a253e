// Package notify alerts reviewers about records that need a human decision.
package notify

import (
	"context"
	"fmt"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"custody-ledger/internal/domain"
)

// Notifier receives reviewer alerts. Implementations must not block on
// slow transports for long; callers treat failures as non-fatal.
type Notifier interface {
	ReversalProposed(ctx context.Context, p *domain.ReversalProposal) error
	WithdrawalPendingApproval(ctx context.Context, w *domain.WithdrawalRequest) error
}

// Sender is the part of tgbotapi.BotAPI used by TelegramNotifier.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts alerts to a Telegram chat.
type TelegramNotifier struct {
	sender Sender
	chatID int64
}

// NewTelegramNotifier connects to the Bot API with token.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return NewTelegramNotifierWithSender(bot, chatID), nil
}

// NewTelegramNotifierWithSender creates a notifier over an existing sender.
func NewTelegramNotifierWithSender(sender Sender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{sender: sender, chatID: chatID}
}

// ReversalProposed posts the proposal and its compensating entries.
func (n *TelegramNotifier) ReversalProposed(_ context.Context, p *domain.ReversalProposal) error {
	return n.send(FormatReversal(p))
}

// WithdrawalPendingApproval posts a withdrawal awaiting review.
func (n *TelegramNotifier) WithdrawalPendingApproval(_ context.Context, w *domain.WithdrawalRequest) error {
	return n.send(FormatWithdrawal(w))
}

func (n *TelegramNotifier) send(text string) error {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := n.sender.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// FormatReversal renders a reversal proposal for reviewers.
func FormatReversal(p *domain.ReversalProposal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reorg reversal proposed\n")
	fmt.Fprintf(&b, "proposal: %s\n", p.ID)
	fmt.Fprintf(&b, "deposit: %s\n", p.ReferenceID)
	fmt.Fprintf(&b, "user: %s\n", p.UserID)
	fmt.Fprintf(&b, "credited: %d %s minor units\n", p.Amount, p.Asset)
	fmt.Fprintf(&b, "reason: %s\n", p.Reason)
	for _, e := range p.Entries {
		fmt.Fprintf(&b, "  %s %+d\n", e.Account, e.Amount)
	}
	return b.String()
}

// FormatWithdrawal renders a withdrawal awaiting approval.
func FormatWithdrawal(w *domain.WithdrawalRequest) string {
	return fmt.Sprintf("Withdrawal awaiting approval\nid: %s\nuser: %s (tier %d)\namount: %d %s minor units (%s)\nto: %s on %s\n",
		w.ID, w.UserID, w.KYCTier, w.Amount, w.Asset, w.UsdValueCents, w.DestinationAddress, w.NetworkCode)
}

// LogNotifier writes alerts to a logger. Used when no chat is configured.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) logger() *log.Logger {
	if n.Logger == nil {
		return log.Default()
	}
	return n.Logger
}

// ReversalProposed logs the proposal.
func (n LogNotifier) ReversalProposed(_ context.Context, p *domain.ReversalProposal) error {
	n.logger().Printf("reversal proposed: id=%s deposit=%s user=%s amount=%d %s",
		p.ID, p.ReferenceID, p.UserID, p.Amount, p.Asset)
	return nil
}

// WithdrawalPendingApproval logs the withdrawal.
func (n LogNotifier) WithdrawalPendingApproval(_ context.Context, w *domain.WithdrawalRequest) error {
	n.logger().Printf("withdrawal pending approval: id=%s user=%s amount=%d %s usd=%s",
		w.ID, w.UserID, w.Amount, w.Asset, w.UsdValueCents)
	return nil
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = LogNotifier{}
)
