// Package handlers provides the reference job handlers exercised by the
// worker binary: email.send and report.generate.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/noctua-labs/jobqueue/internal/registry"
)

// EmailPayload is the expected payload shape for email.send.
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// EmailSend simulates dispatching an email. Given a payload with a recipient,
// it succeeds after a short delay, standing in for a real mail-transport
// integration; an unparsable payload or a missing recipient is an error.
func EmailSend(ctx context.Context, payload json.RawMessage) error {
	var p EmailPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("email.send: invalid payload: %w", err)
	}
	if p.To == "" {
		return fmt.Errorf("email.send: missing recipient")
	}

	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// ReportPayload is the expected payload shape for report.generate.
type ReportPayload struct {
	ReportType string `json:"report_type"`
}

// reportFailureRate matches the ~30% stochastic failure rate of the
// reference implementation, so retry and dead-letter behavior has
// something realistic to exercise.
const reportFailureRate = 0.3

// ReportGenerate simulates a report-generation job: a multi-second delay
// followed by a stochastic failure, so the retry/backoff and dead-letter
// paths have real work to exercise end to end.
func ReportGenerate(ctx context.Context, payload json.RawMessage) error {
	var p ReportPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("report.generate: invalid payload: %w", err)
	}

	delay := 2*time.Second + time.Duration(rand.Int63n(int64(3*time.Second)))
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if rand.Float64() < reportFailureRate {
		return fmt.Errorf("report.generate: failed to render report type %q", p.ReportType)
	}
	return nil
}

// Register wires the reference handlers into a registry builder.
func Register(b *registry.Builder) *registry.Builder {
	return b.
		Register("email.send", EmailSend).
		Register("report.generate", ReportGenerate)
}
