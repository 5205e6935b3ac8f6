// Package progress fans out per-project progress updates over core NATS
// pub/sub (spec.md §4.13): the publisher never blocks, and a slow
// subscriber only ever sees the most recent update.
package progress

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Update is one progress event for a project's analysis run.
type Update struct {
	ProjectID      string  `json:"project_id"`
	Phase          string  `json:"phase"`
	Percent        float64 `json:"percent"`
	CurrentFile    string  `json:"current_file,omitempty"`
	FilesProcessed int     `json:"files_processed"`
	TotalFiles     int     `json:"total_files"`
	Message        string  `json:"message,omitempty"`
}

// Publisher publishes Updates to a per-project subject. Core NATS publish
// never blocks on a slow or absent subscriber, matching the backpressure
// semantics spec.md §4.13 requires.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewPublisher builds a Publisher over an existing NATS connection.
func NewPublisher(nc *nats.Conn, subjectPrefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{nc: nc, prefix: subjectPrefix, logger: logger}
}

// Publish sends one Update to `<prefix>.<project_id>`. Errors are logged,
// never returned: a progress update is best-effort and must not stall the
// job it describes.
func (p *Publisher) Publish(u Update) {
	data, err := json.Marshal(u)
	if err != nil {
		p.logger.Error("progress: marshal update", "error", err)
		return
	}

	if err := p.nc.Publish(p.subject(u.ProjectID), data); err != nil {
		p.logger.Warn("progress: publish failed", "project_id", u.ProjectID, "error", err)
	}
}

func (p *Publisher) subject(projectID string) string {
	return p.prefix + "." + projectID
}

// Subscriber receives Updates for one project, always holding only the
// most recently delivered one: ordering within a delivery is preserved by
// NATS, but a slow reader drops everything older than the latest.
type Subscriber struct {
	ch  chan Update
	sub *nats.Subscription
}

// Subscribe opens a core NATS subscription on `<prefix>.<project_id>`.
func Subscribe(nc *nats.Conn, subjectPrefix, projectID string) (*Subscriber, error) {
	ch := make(chan Update, 1)

	sub, err := nc.Subscribe(subjectPrefix+"."+projectID, func(msg *nats.Msg) {
		var u Update
		if err := json.Unmarshal(msg.Data, &u); err != nil {
			return
		}

		deliverDroppingStale(ch, u)
	})
	if err != nil {
		return nil, fmt.Errorf("progress: subscribe: %w", err)
	}

	return &Subscriber{ch: ch, sub: sub}, nil
}

// deliverDroppingStale sends u on ch, discarding any unread update
// already buffered so the channel only ever holds the latest one.
func deliverDroppingStale(ch chan Update, u Update) {
	select {
	case ch <- u:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}

	select {
	case ch <- u:
	default:
	}
}

// Updates returns the channel of delivered Updates.
func (s *Subscriber) Updates() <-chan Update {
	return s.ch
}

// Close unsubscribes.
func (s *Subscriber) Close() error {
	return s.sub.Unsubscribe()
}
