// Package outbox gives the directory service transactional event publishing:
// schedule changes and their events commit together, and a poller drains the
// table to Kafka afterwards.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"github.com/clinicbook/clinicbook/libs/db"
	"github.com/clinicbook/clinicbook/libs/kafkax"
	otelx "github.com/clinicbook/clinicbook/libs/otel"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, aggregateID, eventType string, payload []byte) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ('doctor', $1, $2, $3, $4, $5)
	`, aggregateID, eventType, payload, traceparent, tracestate)
	return err
}

type record struct {
	id          int64
	eventID     string
	aggregateID string
	eventType   string
	payload     []byte
	traceparent string
	tracestate  string
}

// Publisher polls unpublished rows and writes them to Kafka, one topic per
// event type. SKIP LOCKED keeps concurrent instances from double-publishing.
type Publisher struct {
	pool      *db.Pool
	logger    *slog.Logger
	writer    *kafka.Writer
	pollEvery time.Duration
	batchSize int
}

func NewPublisher(pool *db.Pool, logger *slog.Logger, brokers string) *Publisher {
	p := &Publisher{
		pool:      pool,
		logger:    logger,
		pollEvery: 2 * time.Second,
		batchSize: 50,
	}
	if addrs := kafkax.SplitBrokers(brokers); len(addrs) > 0 {
		p.writer = &kafka.Writer{
			Addr:         kafka.TCP(addrs...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
	}
	return p
}

func (p *Publisher) Run(ctx context.Context) {
	if p.writer == nil {
		p.logger.Warn("outbox publisher disabled: no kafka brokers configured")
		return
	}
	defer func() { _ = p.writer.Close() }()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.drain(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("outbox publish batch failed", "err", err)
			}
		}
	}
}

func (p *Publisher) drain(ctx context.Context) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, event_id, aggregate_id, event_type, payload, traceparent, tracestate
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, p.batchSize)
	if err != nil {
		return err
	}
	var batch []record
	for rows.Next() {
		var rcd record
		if err := rows.Scan(&rcd.id, &rcd.eventID, &rcd.aggregateID, &rcd.eventType, &rcd.payload, &rcd.traceparent, &rcd.tracestate); err != nil {
			rows.Close()
			return err
		}
		batch = append(batch, rcd)
	}
	rows.Close()
	if rows.Err() != nil {
		return rows.Err()
	}
	if len(batch) == 0 {
		return tx.Commit(ctx)
	}

	var published []int64
	for _, rcd := range batch {
		msgCtx := otelx.ContextWithTraceContext(ctx, rcd.traceparent, rcd.tracestate)
		headers := []kafka.Header{
			{Key: "event_id", Value: []byte(rcd.eventID)},
			{Key: "event_type", Value: []byte(rcd.eventType)},
		}
		headers = kafkax.InjectTraceHeaders(msgCtx, headers)

		err := p.writer.WriteMessages(ctx, kafka.Message{
			Topic:   rcd.eventType,
			Key:     []byte(rcd.aggregateID),
			Value:   rcd.payload,
			Headers: headers,
		})
		if err != nil {
			p.logger.Error("kafka write failed", "err", err, "event_id", rcd.eventID, "event_type", rcd.eventType)
			break
		}
		published = append(published, rcd.id)
	}
	if len(published) > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE outbox_events
			SET published_at = now()
			WHERE id = ANY($1)
		`, published); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
