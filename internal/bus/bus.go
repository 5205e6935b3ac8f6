// Package bus binds the Job Runner to a durable NATS JetStream stream
// for command consumption and event publishing.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/archreview/archreview/internal/config"
	"github.com/archreview/archreview/internal/resilience"
)

// StartAnalysisCommand is the command the Job Runner consumes to begin
// analyzing a project.
type StartAnalysisCommand struct {
	ProjectID       string `json:"project_id"`
	CorrelationID   string `json:"correlation_id"`
	Priority        int    `json:"priority"`
	ApprovalGranted bool   `json:"approval_granted"`
}

// AnalysisStartedEvent, AnalysisCompletedEvent, and AnalysisFailedEvent are
// the lifecycle events the Job Runner publishes to `archreview.events.*`.
type AnalysisStartedEvent struct {
	ProjectID     string    `json:"project_id"`
	CorrelationID string    `json:"correlation_id"`
	StartedAt     time.Time `json:"started_at"`
}

// AnalysisCompletedEvent reports a successful run.
type AnalysisCompletedEvent struct {
	ProjectID     string        `json:"project_id"`
	ReportID      string        `json:"report_id"`
	Success       bool          `json:"success"`
	Duration      time.Duration `json:"duration"`
	CorrelationID string        `json:"correlation_id"`
}

// AnalysisFailedEvent reports a non-transient failure.
type AnalysisFailedEvent struct {
	ProjectID     string `json:"project_id"`
	ErrorMessage  string `json:"error_message"`
	RetryCount    int    `json:"retry_count"`
	CorrelationID string `json:"correlation_id"`
}

// CommandHandler processes one StartAnalysisCommand. A returned error that
// is resilience.IsTransient-classified is redelivered; any other error
// terminates the message (it is not retried).
type CommandHandler func(ctx context.Context, cmd StartAnalysisCommand) error

// Bus is the JetStream-backed message bus binding.
type Bus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	cfg    config.BusConfig
	logger *slog.Logger
}

// Conn returns the underlying NATS connection so callers can share it
// with other JetStream-aware collaborators (e.g. progress.NewPublisher)
// instead of opening a second connection.
func (b *Bus) Conn() *nats.Conn { return b.nc }

// Connect dials NATS, opens a JetStream context, and ensures the
// configured stream exists, covering both the command subject and the
// event subject wildcard.
func Connect(cfg config.BusConfig, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bus: jetstream context: %w", err)
	}

	b := &Bus{nc: nc, js: js, cfg: cfg, logger: logger}

	if err := b.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}

	return b, nil
}

func (b *Bus) ensureStream() error {
	_, err := b.js.StreamInfo(b.cfg.StreamName)
	if err == nil {
		return nil
	}

	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("bus: stream info: %w", err)
	}

	_, err = b.js.AddStream(&nats.StreamConfig{
		Name:     b.cfg.StreamName,
		Subjects: []string{b.cfg.CommandSubject, b.cfg.EventSubjectPrefix + ".>"},
	})
	if err != nil {
		return fmt.Errorf("bus: add stream: %w", err)
	}

	return nil
}

// PublishEvent marshals v to JSON and publishes it to subject on the
// durable stream.
func (b *Bus) PublishEvent(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: marshal event: %w", err)
	}

	if _, err := b.js.Publish(subject, data); err != nil {
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}

	return nil
}

// PublishStarted, PublishCompleted, and PublishFailed publish their
// respective lifecycle events to `<event_subject_prefix>.<name>`.
func (b *Bus) PublishStarted(e AnalysisStartedEvent) error {
	return b.PublishEvent(b.cfg.EventSubjectPrefix+".started", e)
}

// PublishCompleted publishes an AnalysisCompletedEvent.
func (b *Bus) PublishCompleted(e AnalysisCompletedEvent) error {
	return b.PublishEvent(b.cfg.EventSubjectPrefix+".completed", e)
}

// PublishFailed publishes an AnalysisFailedEvent.
func (b *Bus) PublishFailed(e AnalysisFailedEvent) error {
	return b.PublishEvent(b.cfg.EventSubjectPrefix+".failed", e)
}

// ConsumeCommands runs a pull-consumer loop over the command subject until
// ctx is cancelled. maxDeliver bounds redelivery attempts, giving
// at-most-(max_retry_attempts+1) delivery semantics.
func (b *Bus) ConsumeCommands(ctx context.Context, durable string, maxDeliver int, handler CommandHandler) error {
	sub, err := b.js.PullSubscribe(b.cfg.CommandSubject, durable,
		nats.ManualAck(), nats.MaxDeliver(maxDeliver), nats.AckWait(30*time.Second))
	if err != nil {
		return fmt.Errorf("bus: pull subscribe: %w", err)
	}

	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(5*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}

			return fmt.Errorf("bus: fetch: %w", err)
		}

		for _, msg := range msgs {
			b.handleOne(ctx, msg, handler)
		}
	}
}

func (b *Bus) handleOne(ctx context.Context, msg *nats.Msg, handler CommandHandler) {
	var cmd StartAnalysisCommand

	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		b.logger.Error("bus: malformed command, terminating", "error", err)
		_ = msg.Term()

		return
	}

	if err := handler(ctx, cmd); err != nil {
		if resilience.IsTransient(err) {
			b.logger.Warn("bus: command handler failed transiently, will redeliver", "project_id", cmd.ProjectID, "error", err)
			_ = msg.Nak()

			return
		}

		b.logger.Error("bus: command handler failed permanently", "project_id", cmd.ProjectID, "error", err)
		_ = msg.Term()

		return
	}

	_ = msg.Ack()
}

// Close closes the underlying NATS connection without draining it.
func (b *Bus) Close() {
	b.nc.Close()
}
