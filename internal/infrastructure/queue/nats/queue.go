package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/resilience"
)

type publisher interface {
	Publish(subject string, data []byte) error
}

// Queue carries finished run records from the API to the worker.
type Queue struct {
	conn     *nats.Conn
	pub      publisher
	subject  string
	group    string
	executor *resilience.Executor
	logger   *zap.Logger
}

type Options struct {
	Subject            string
	QueueGroup         string
	ConnectTimeout     time.Duration
	ReconnectWait      time.Duration
	MaxReconnects      int
	ResilienceExecutor *resilience.Executor
	Logger             *zap.Logger
}

func Connect(url string, options Options) (*Queue, error) {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}

	conn, err := nats.Connect(
		url,
		nats.Name("docqa-orchestrator"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	q := newQueue(conn, options, logger)
	q.conn = conn
	return q, nil
}

func newQueue(pub publisher, options Options, logger *zap.Logger) *Queue {
	subject := options.Subject
	if subject == "" {
		subject = "docqa.runs"
	}
	group := options.QueueGroup
	if group == "" {
		group = "docqa-run-recorders"
	}
	executor := options.ResilienceExecutor
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig(), logger)
	}
	return &Queue{pub: pub, subject: subject, group: group, executor: executor, logger: logger}
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishRun(ctx context.Context, record domain.RunRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}
	err = q.executor.Execute(ctx, "nats.publish", func(context.Context) error {
		if err := q.pub.Publish(q.subject, data); err != nil {
			return wrapTemporaryIfNeeded(fmt.Errorf("nats publish: %w", err))
		}
		return nil
	}, classifyNATSError)
	return wrapTemporaryIfNeeded(err)
}

// SubscribeRuns blocks until ctx is done, then drains the subscription.
func (q *Queue) SubscribeRuns(ctx context.Context, handler func(context.Context, domain.RunRecord) error) error {
	if q.conn == nil {
		return fmt.Errorf("nats subscribe: not connected")
	}
	sub, err := q.conn.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		q.deliver(ctx, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) deliver(ctx context.Context, msg *nats.Msg, handler func(context.Context, domain.RunRecord) error) {
	if ctx.Err() != nil {
		return
	}
	var record domain.RunRecord
	if err := json.Unmarshal(msg.Data, &record); err != nil {
		q.logger.Warn("run_record_decode_failed", zap.Error(err), zap.Int("bytes", len(msg.Data)))
		return
	}
	if err := handler(ctx, record); err != nil {
		q.logger.Error("run_record_handler_failed", zap.String("run_id", record.ID), zap.Error(err))
	}
}

var _ ports.RunQueue = (*Queue)(nil)
