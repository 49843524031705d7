package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// KindTransferCompleted tells the sender that a transfer went through.
	KindTransferCompleted = "transfer.completed"
	// KindTransferFailed tells the sender that a transfer could not be posted.
	KindTransferFailed = "transfer.failed"
)

// Message describes a notification payload.
type Message struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Destination string    `json:"destination"`
	Name        string    `json:"name,omitempty"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// TransferCompleted builds the message sent to a payer after a successful transfer.
func TransferCompleted(email, name string, amount decimal.Decimal, counterparty string) Message {
	return newMessage(KindTransferCompleted, email, name,
		"Transaction Successful",
		fmt.Sprintf("Hello %s,\n\nYour transaction of %s to account %s was successful.\n",
			displayName(name), amount.StringFixed(2), counterparty))
}

// TransferFailed builds the message sent when a transfer could not be completed.
func TransferFailed(email, name string, amount decimal.Decimal, counterparty string) Message {
	return newMessage(KindTransferFailed, email, name,
		"Transaction Failed",
		fmt.Sprintf("Hello %s,\n\nWe could not complete your transaction of %s to account %s. "+
			"No money has left your account. Please try again.\n",
			displayName(name), amount.StringFixed(2), counterparty))
}

func newMessage(kind, email, name, subject, body string) Message {
	return Message{
		ID:          uuid.NewString(),
		Kind:        kind,
		Destination: email,
		Name:        name,
		Subject:     subject,
		Body:        body,
		CreatedAt:   time.Now().UTC(),
	}
}

func displayName(name string) string {
	if name == "" {
		return "there"
	}
	return name
}

// LoggerNotifier writes notifications to the logger instead of delivering them.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("id", message.ID),
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("subject", message.Subject))
	return nil
}
