// Package relay streams committed audit entries to Kafka for downstream
// compliance consumers. The database row is the source of truth; the relay is
// an at-least-once tail reader over the global audit cursor, so a crash
// replays entries rather than losing them.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"payguard/internal/payroll/models"
	"payguard/internal/payroll/ports"
)

const defaultBatchSize = 100

// Publisher delivers one audit record to the stream.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
	Close()
}

// KafkaPublisher publishes audit records via franz-go.
type KafkaPublisher struct {
	client *kgo.Client
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client}, nil
}

// Publish blocks until the record is acknowledged. Keying by entity keeps one
// payment's trail ordered within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	record := &kgo.Record{Key: []byte(key), Value: value}
	return p.client.ProduceSync(ctx, record).FirstErr()
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}

// Relay tails the audit log and publishes new entries.
type Relay struct {
	audit     ports.AuditLog
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger

	cursor int64
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithBatchSize(n int) Option {
	return func(r *Relay) { r.batchSize = n }
}

func New(audit ports.AuditLog, publisher Publisher, interval time.Duration, opts ...Option) *Relay {
	r := &Relay{
		audit:     audit,
		publisher: publisher,
		interval:  interval,
		batchSize: defaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is cancelled. Publish failures stop the current batch
// without advancing the cursor past the failed entry, so the entry is retried
// on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Drain(ctx); err != nil {
				r.logger.WarnContext(ctx, "audit relay drain failed", "error", err.Error())
			}
		}
	}
}

// Drain publishes everything past the cursor. Exported so tests and shutdown
// paths can flush without waiting for a tick.
func (r *Relay) Drain(ctx context.Context) error {
	for {
		entries, err := r.audit.ListAfter(ctx, r.cursor, r.batchSize)
		if err != nil {
			return fmt.Errorf("list audit entries after %d: %w", r.cursor, err)
		}
		if len(entries) == 0 {
			return nil
		}
		for _, entry := range entries {
			payload, err := json.Marshal(wireEntry(entry))
			if err != nil {
				return fmt.Errorf("encode audit entry %d: %w", entry.ID, err)
			}
			if err := r.publisher.Publish(ctx, entry.EntityID.String(), payload); err != nil {
				return fmt.Errorf("publish audit entry %d: %w", entry.ID, err)
			}
			r.cursor = entry.ID
		}
	}
}

type auditRecord struct {
	ID        int64     `json:"id"`
	PaymentID string    `json:"payment_id"`
	Seq       int64     `json:"seq"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	SourceIP  string    `json:"source_ip,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func wireEntry(e *models.AuditEntry) auditRecord {
	return auditRecord{
		ID:        e.ID,
		PaymentID: e.EntityID.String(),
		Seq:       e.Seq,
		Actor:     string(e.Actor),
		Action:    string(e.Action),
		Status:    string(e.Status),
		Detail:    e.Detail,
		SourceIP:  e.SourceIP,
		Timestamp: e.Timestamp,
	}
}
