package notify

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"custody-ledger/internal/domain"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if s.err != nil {
		return tgbotapi.Message{}, s.err
	}
	s.sent = append(s.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{MessageID: len(s.sent)}, nil
}

func testProposal() *domain.ReversalProposal {
	return &domain.ReversalProposal{
		ID:          "rev-1",
		ReferenceID: "deposit:bitcoin:tx1:addr1",
		UserID:      "u1",
		Asset:       "BTC",
		Amount:      99000000,
		Reason:      "block orphaned",
		Entries: []domain.ProposedEntry{
			{Account: domain.UserAccount("u1", "BTC", domain.AccountMain), EntryType: domain.EntryDeposit, Amount: -99000000},
			{Account: domain.SystemAccount("BTC", domain.AccountCustody), EntryType: domain.EntryDeposit, Amount: 100000000},
		},
	}
}

func TestTelegramNotifier_ReversalProposed(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegramNotifierWithSender(sender, -100123)

	if err := n.ReversalProposed(context.Background(), testProposal()); err != nil {
		t.Fatalf("ReversalProposed: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}

	msg := sender.sent[0]
	if msg.ChatID != -100123 {
		t.Errorf("ChatID = %d", msg.ChatID)
	}
	for _, want := range []string{"rev-1", "deposit:bitcoin:tx1:addr1", "block orphaned", "u1|BTC|main| -99000000"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("message missing %q:\n%s", want, msg.Text)
		}
	}
}

func TestTelegramNotifier_SendError(t *testing.T) {
	n := NewTelegramNotifierWithSender(&fakeSender{err: errors.New("bot blocked")}, 1)

	err := n.WithdrawalPendingApproval(context.Background(), &domain.WithdrawalRequest{ID: "wd-1"})
	if err == nil || !strings.Contains(err.Error(), "bot blocked") {
		t.Errorf("error = %v", err)
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := LogNotifier{Logger: log.New(&buf, "", 0)}

	w := &domain.WithdrawalRequest{ID: "wd-9", UserID: "u2", Amount: 5, Asset: "ETH", UsdValueCents: 12345}
	if err := n.WithdrawalPendingApproval(context.Background(), w); err != nil {
		t.Fatalf("WithdrawalPendingApproval: %v", err)
	}
	if !strings.Contains(buf.String(), "id=wd-9") || !strings.Contains(buf.String(), "usd=$123.45") {
		t.Errorf("log = %q", buf.String())
	}
}
