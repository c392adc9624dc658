package handlers_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noctua-labs/jobqueue/internal/handlers"
	"github.com/noctua-labs/jobqueue/internal/registry"
)

func TestEmailSendRejectsMissingRecipient(t *testing.T) {
	err := handlers.EmailSend(context.Background(), json.RawMessage(`{"subject":"hi","body":"there"}`))
	require.Error(t, err)
}

func TestEmailSendSucceedsWithRecipient(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := handlers.EmailSend(ctx, json.RawMessage(`{"to":"a@example.com","subject":"hi","body":"there"}`))
	require.NoError(t, err)
}

func TestEmailSendRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := handlers.EmailSend(ctx, json.RawMessage(`{"to":"a@example.com"}`))
	require.ErrorIs(t, err, context.Canceled)
}

func TestReportGenerateRejectsInvalidPayload(t *testing.T) {
	err := handlers.ReportGenerate(context.Background(), json.RawMessage(`not json`))
	require.Error(t, err)
}

func TestRegisterWiresBothReferenceHandlers(t *testing.T) {
	reg := handlers.Register(registry.NewBuilder()).Build()

	_, ok := reg.Lookup("email.send")
	require.True(t, ok)

	_, ok = reg.Lookup("report.generate")
	require.True(t, ok)
}
