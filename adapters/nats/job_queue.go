package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/nats-io/nats.go"
)

// Conn is the part of *nats.Conn the job queue needs.
type Conn interface {
	Publisher
	ChanQueueSubscribe(subject, group string, ch chan *nats.Msg) (*nats.Subscription, error)
}

// JobQueue carries go-job execution messages over core NATS. Core NATS has
// no broker-side acks: Ack is a no-op, a requeue nack republishes after the
// nack delay and a dead-letter nack publishes to <subject>.dlq.
type JobQueue struct {
	conn    Conn
	subject string
	group   string

	mu     sync.Mutex
	msgs   chan *nats.Msg
	sub    *nats.Subscription
	timers []*time.Timer
}

func NewJobQueue(conn Conn, subject string, group string) (*JobQueue, error) {
	if conn == nil {
		return nil, fmt.Errorf("natsadapter: connection is required")
	}
	subject = strings.Trim(strings.TrimSpace(subject), ".")
	if subject == "" {
		subject = DefaultJobSubject
	}
	group = strings.TrimSpace(group)
	if group == "" {
		group = DefaultJobGroup
	}
	return &JobQueue{conn: conn, subject: subject, group: group}, nil
}

func (q *JobQueue) Subject() string {
	return q.subject
}

func (q *JobQueue) DeadLetterSubject() string {
	return q.subject + ".dlq"
}

func (q *JobQueue) Enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("natsadapter: execution message is required")
	}
	return q.publish(q.subject, msg)
}

// Dequeue subscribes lazily on first use and blocks until a message arrives
// or ctx is done.
func (q *JobQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	msgs, err := q.subscription()
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case raw, ok := <-msgs:
		if !ok {
			return nil, fmt.Errorf("natsadapter: subscription closed")
		}
		var msg job.ExecutionMessage
		if err := json.Unmarshal(raw.Data, &msg); err != nil {
			return &jobDelivery{queue: q, raw: raw.Data}, nil
		}
		return &jobDelivery{queue: q, msg: &msg, raw: raw.Data}, nil
	}
}

// Close drops the subscription and any pending delayed requeues.
func (q *JobQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, timer := range q.timers {
		timer.Stop()
	}
	q.timers = nil
	if q.sub != nil {
		err := q.sub.Unsubscribe()
		q.sub = nil
		return err
	}
	return nil
}

func (q *JobQueue) subscription() (chan *nats.Msg, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.msgs != nil {
		return q.msgs, nil
	}
	msgs := make(chan *nats.Msg, 64)
	sub, err := q.conn.ChanQueueSubscribe(q.subject, q.group, msgs)
	if err != nil {
		return nil, fmt.Errorf("natsadapter: subscribe %s: %w", q.subject, err)
	}
	q.msgs = msgs
	q.sub = sub
	return msgs, nil
}

func (q *JobQueue) publish(subject string, msg *job.ExecutionMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.publishRaw(subject, data)
}

func (q *JobQueue) publishRaw(subject string, data []byte) error {
	if err := q.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("natsadapter: publish %s: %w", subject, err)
	}
	return nil
}

func (q *JobQueue) requeueAfter(delay time.Duration, data []byte) {
	if delay <= 0 {
		_ = q.publishRaw(q.subject, data)
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.timers = append(q.timers, time.AfterFunc(delay, func() {
		_ = q.publishRaw(q.subject, data)
	}))
}

type jobDelivery struct {
	queue *JobQueue
	msg   *job.ExecutionMessage
	raw   []byte
}

func (d *jobDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *jobDelivery) Ack(context.Context) error {
	return nil
}

func (d *jobDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if opts.DeadLetter {
		return d.queue.publishRaw(d.queue.DeadLetterSubject(), d.raw)
	}
	if opts.Requeue {
		d.queue.requeueAfter(opts.Delay, d.raw)
	}
	return nil
}

var (
	_ queue.Enqueuer = (*JobQueue)(nil)
	_ queue.Dequeuer = (*JobQueue)(nil)
	_ queue.Delivery = (*jobDelivery)(nil)
	_ Conn           = (*nats.Conn)(nil)
)
