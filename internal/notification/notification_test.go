package notification

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backend-ledger/backend_ledger/internal/logging"
)

func TestTransferCompletedMessage(t *testing.T) {
	msg := TransferCompleted("ada@example.com", "Ada", decimal.NewFromInt(300), "acct-b")

	assert.Equal(t, KindTransferCompleted, msg.Kind)
	assert.Equal(t, "ada@example.com", msg.Destination)
	assert.Equal(t, "Transaction Successful", msg.Subject)
	assert.Contains(t, msg.Body, "Hello Ada")
	assert.Contains(t, msg.Body, "300.00")
	assert.Contains(t, msg.Body, "acct-b")
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestTransferFailedMessage(t *testing.T) {
	msg := TransferFailed("ada@example.com", "", decimal.RequireFromString("12.5"), "acct-b")

	assert.Equal(t, KindTransferFailed, msg.Kind)
	assert.Equal(t, "Transaction Failed", msg.Subject)
	assert.Contains(t, msg.Body, "Hello there")
	assert.Contains(t, msg.Body, "12.50")
}

func TestLoggerNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLoggerNotifier(logging.NewWithWriter(&buf, "info", "json"))

	require.NoError(t, n.Send(context.Background(), TransferCompleted("ada@example.com", "Ada", decimal.NewFromInt(1), "acct-b")))
	assert.Contains(t, buf.String(), `"kind":"transfer.completed"`)
	assert.NotContains(t, buf.String(), "Hello Ada", "bodies stay out of the logs")

	var nilNotifier *LoggerNotifier
	assert.NoError(t, nilNotifier.Send(context.Background(), Message{}))
}

func TestComposeMail(t *testing.T) {
	msg := Message{ID: "m-1", Destination: "ada@example.com", Subject: "Hi\r\nBcc: evil@example.com", Body: "line one\nline two"}
	raw := string(composeMail("ledger@example.com", msg))

	assert.True(t, strings.HasPrefix(raw, "From: ledger@example.com\r\n"))
	assert.Contains(t, raw, "To: ada@example.com\r\n")
	assert.Contains(t, raw, "Subject: Hi  Bcc: evil@example.com\r\n")
	assert.NotContains(t, raw, "\r\nBcc:")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\nline one\r\nline two"))
}

func TestSMTPNotifierRequiresRecipient(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "localhost", Port: 465, Username: "ledger@example.com"})
	assert.ErrorIs(t, n.Send(context.Background(), Message{}), ErrNoRecipient)
	assert.Equal(t, "ledger@example.com", n.cfg.From)
}
