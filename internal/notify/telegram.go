package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	"go.uber.org/zap"
)

type telegramSender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// TelegramNotifier posts selected events to one chat.
type TelegramNotifier struct {
	API    telegramSender
	ChatID int64
	// Events limits which types are sent; empty sends all but status changes.
	Events map[EventType]bool
}

func NewTelegramNotifier(token string, chatID int64, events []string, logger *zap.Logger) (*TelegramNotifier, error) {
	token = strings.TrimSpace(token)
	if token == "" || chatID == 0 {
		return nil, errors.New("notify: telegram token and chat id are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	bot, err := telego.NewBot(token, telego.WithLogger(logger.Named("telego").Sugar()))
	if err != nil {
		return nil, err
	}
	n := &TelegramNotifier{API: bot, ChatID: chatID}
	if len(events) > 0 {
		n.Events = map[EventType]bool{}
		for _, e := range events {
			n.Events[EventType(strings.TrimSpace(e))] = true
		}
	}
	return n, nil
}

func (n *TelegramNotifier) Name() string { return "telegram" }

func (n *TelegramNotifier) wants(t EventType) bool {
	if len(n.Events) == 0 {
		return t != EventStatusChanged && t != EventMessageReceived
	}
	return n.Events[t]
}

func (n *TelegramNotifier) Deliver(ctx context.Context, ev Event) error {
	if n == nil || n.API == nil || !n.wants(ev.Type) {
		return nil
	}
	_, err := n.API.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: n.ChatID},
		Text:   FormatText(ev),
	})
	return err
}

// FormatText renders a one-line human summary of ev.
func FormatText(ev Event) string {
	amount := ""
	if ev.Amount != nil {
		amount = ev.Amount.StringFixed(2)
	}
	switch ev.Type {
	case EventBetPlaced:
		return fmt.Sprintf("Bet placed: %s %s (rule %d)", ev.BetType, amount, ev.RuleID)
	case EventBetResolved:
		profit := ""
		if ev.Profit != nil {
			profit = ev.Profit.StringFixed(2)
		}
		return fmt.Sprintf("Bet #%d %s: %s %s, profit %s", ev.BetID, ev.Outcome, ev.BetType, amount, profit)
	case EventBetSkipped:
		return fmt.Sprintf("Bet skipped: %s %s (%s)", ev.BetType, amount, ev.Reason)
	case EventAutomationFault:
		if ev.Recoverable {
			return fmt.Sprintf("Automation error: %s", ev.Error)
		}
		return fmt.Sprintf("Automation stopped: %s", ev.Error)
	case EventStatusChanged:
		return fmt.Sprintf("Automation status: %s", ev.Status)
	case EventMessageReceived:
		return fmt.Sprintf("Signal received: %s", ev.MessageID)
	}
	return string(ev.Type)
}
