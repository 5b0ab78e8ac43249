package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/firmdesk/firmdesk/internal/rbac"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeAuditEvent persists and forwards one audit event.
	TaskTypeAuditEvent = "rbac:audit_event"
)

// NewAuditEventTask constructs an Asynq task carrying one audit event.
func NewAuditEventTask(event rbac.AuditEvent) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAuditEvent, data, asynq.MaxRetry(5)), nil
}

// NewAuditEventHandler returns the handler for TaskTypeAuditEvent. It writes
// the event to the local audit log and, when sinkURL is set, forwards it to
// the external collector. The local write is the source of truth; a sink
// failure retries the whole task, and the log insert is idempotent on the
// event id.
func NewAuditEventHandler(repo rbac.Repository, sinkURL string, client *http.Client, logger *slog.Logger) asynq.HandlerFunc {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var event rbac.AuditEvent
		if err := json.Unmarshal(t.Payload(), &event); err != nil {
			logger.Error("audit event payload", slog.Any("error", err))
			return asynq.SkipRetry
		}
		if err := repo.InsertAuditLog(ctx, event); err != nil {
			return fmt.Errorf("jobs: insert audit log: %w", err)
		}
		if sinkURL == "" {
			return nil
		}
		body, err := json.Marshal(event)
		if err != nil {
			return asynq.SkipRetry
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sinkURL, bytes.NewReader(body))
		if err != nil {
			return asynq.SkipRetry
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("jobs: forward audit event: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("jobs: forward audit event: sink returned %d", resp.StatusCode)
		}
		return nil
	}
}

// AsynqSink enqueues audit events for asynchronous persistence. Satisfies
// rbac.AuditSink.
type AsynqSink struct {
	client *Client
}

// NewAsynqSink builds AsynqSink instance.
func NewAsynqSink(client *Client) *AsynqSink {
	return &AsynqSink{client: client}
}

// Record implements rbac.AuditSink.
func (s *AsynqSink) Record(ctx context.Context, event rbac.AuditEvent) error {
	_, err := s.client.EnqueueAuditEvent(ctx, event)
	return err
}
