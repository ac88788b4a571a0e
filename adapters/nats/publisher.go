// Package natsadapter moves webhook notices over NATS: a direct publisher for
// internal notices and a go-job queue transport for confirmation jobs.
package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goliatone/go-pix-webhooks/core"
	"github.com/nats-io/nats.go"
)

const (
	DefaultNoticeSubject = "pix.webhooks.notices"
	DefaultJobSubject    = "pix.webhooks.jobs"
	DefaultJobGroup      = "pix-webhooks-workers"
)

// Connect dials the server. The client name shows up in server monitoring.
func Connect(url string, name string) (*nats.Conn, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("natsadapter: url is required")
	}
	opts := []nats.Option{}
	if name = strings.TrimSpace(name); name != "" {
		opts = append(opts, nats.Name(name))
	}
	return nats.Connect(url, opts...)
}

// Publisher is the part of *nats.Conn used to emit messages.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NoticePublisher publishes internal notices as JSON on
// <subject>.<event>, e.g. pix.webhooks.notices.transaction_paid.
type NoticePublisher struct {
	conn     Publisher
	subject  string
	observer core.Observer
}

func NewNoticePublisher(conn Publisher, subject string, logger core.Logger, metrics core.MetricsRecorder) (*NoticePublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("natsadapter: connection is required")
	}
	subject = strings.Trim(strings.TrimSpace(subject), ".")
	if subject == "" {
		subject = DefaultNoticeSubject
	}
	return &NoticePublisher{
		conn:     conn,
		subject:  subject,
		observer: core.NewObserver(logger, metrics),
	}, nil
}

func (p *NoticePublisher) NotifyInternal(ctx context.Context, notice core.Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	subject := p.Subject(notice.Event)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("natsadapter: publish %s: %w", subject, err)
	}
	p.observer.Debug(ctx, "internal notice published", map[string]any{
		"subject":        subject,
		"transaction_id": notice.TransactionID,
	})
	p.observer.Count(ctx, core.MetricNoticesPublished, 1, map[string]string{"event": string(notice.Event)})
	return nil
}

func (p *NoticePublisher) Subject(event core.EventType) string {
	suffix := strings.ToLower(strings.TrimSpace(string(event)))
	if suffix == "" {
		suffix = "unknown"
	}
	return p.subject + "." + suffix
}

var _ core.InternalNotifier = (*NoticePublisher)(nil)
