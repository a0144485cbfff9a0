package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// Producer publishes JSON notices: batch commits from ingestion and pair
// signals from analytics. The key picks the partition, so notices for one
// batch or one pair stay ordered.
type Producer interface {
	ProduceJSON(ctx context.Context, topic string, key []byte, v any) error
	Close()
}

// Consumer reads notices with manual commit.
type Consumer interface {
	Poll(ctx context.Context) (*Message, error)
	Commit(msg *Message) error
	Close()
}

// Message is a fetched notice. Commit needs Topic, Partition and Offset.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

const contentTypeJSON = "application/json"

// KafkaProducer lazily opens one writer per topic.
type KafkaProducer struct {
	cfg     KafkaConfig
	now     func() time.Time
	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewProducer(cfg KafkaConfig) *KafkaProducer {
	return &KafkaProducer{cfg: cfg, now: time.Now, writers: make(map[string]*kafka.Writer)}
}

func (k *KafkaProducer) ProduceJSON(ctx context.Context, topic string, key []byte, v any) error {
	msg, err := encodeNotice(key, v, k.now())
	if err != nil {
		return fmt.Errorf("encode %s notice: %w", topic, err)
	}
	return k.writerFor(topic).WriteMessages(ctx, msg)
}

func (k *KafkaProducer) writerFor(topic string) *kafka.Writer {
	k.mu.Lock()
	defer k.mu.Unlock()
	w, ok := k.writers[topic]
	if !ok {
		w = newWriter(k.cfg, topic)
		k.writers[topic] = w
	}
	return w
}

func (k *KafkaProducer) Close() {
	k.mu.Lock()
	open := k.writers
	k.writers = make(map[string]*kafka.Writer)
	k.mu.Unlock()
	for _, w := range open {
		_ = w.Close()
	}
}

func newWriter(cfg KafkaConfig, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.BrokerList()...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           requiredAcks(cfg.ProducerAcks),
		BatchTimeout:           time.Duration(max(cfg.LingerMS, 0)) * time.Millisecond,
		BatchBytes:             int64(max(cfg.BatchBytes, 1)),
		AllowAutoTopicCreation: true,
	}
}

// encodeNotice marshals v into a keyed, timestamped message.
func encodeNotice(key []byte, v any, at time.Time) (kafka.Message, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:     key,
		Value:   body,
		Time:    at.UTC(),
		Headers: []kafka.Header{{Key: "content-type", Value: []byte(contentTypeJSON)}},
	}, nil
}

// KafkaConsumer follows the commit topic as part of the analytics group.
// New groups start at the newest offset: a recompute reads the store, so
// older notices carry nothing extra.
type KafkaConsumer struct {
	r *kafka.Reader
}

func NewConsumer(cfg KafkaConfig, topics ...string) (*KafkaConsumer, error) {
	if len(topics) == 0 {
		return nil, errors.New("kafka consumer: no topics")
	}
	rc := kafka.ReaderConfig{
		Brokers:     cfg.BrokerList(),
		GroupID:     cfg.GroupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    1 << 20,
		MaxWait:     500 * time.Millisecond,
	}
	if len(topics) == 1 {
		rc.Topic = topics[0]
	} else {
		rc.GroupTopics = topics
	}
	return &KafkaConsumer{r: kafka.NewReader(rc)}, nil
}

func (k *KafkaConsumer) Poll(ctx context.Context) (*Message, error) {
	m, err := k.r.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	return fromKafka(m), nil
}

func (k *KafkaConsumer) Commit(msg *Message) error {
	if msg == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return k.r.CommitMessages(ctx, kafka.Message{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset})
}

func (k *KafkaConsumer) Close() { _ = k.r.Close() }

func fromKafka(m kafka.Message) *Message {
	return &Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
	}
}

// DecodeCommitted reads a BatchCommitted notice. Notices without a batch ID
// are rejected.
func DecodeCommitted(msg *Message) (BatchCommitted, error) {
	var bc BatchCommitted
	if msg == nil {
		return bc, errors.New("nil message")
	}
	if err := json.Unmarshal(msg.Value, &bc); err != nil {
		return bc, fmt.Errorf("decode commit notice at offset %d: %w", msg.Offset, err)
	}
	if bc.BatchID == "" {
		return bc, fmt.Errorf("commit notice at offset %d has no batch id", msg.Offset)
	}
	return bc, nil
}

func requiredAcks(raw string) kafka.RequiredAcks {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "all", "-1":
		return kafka.RequireAll
	case "none", "0":
		return kafka.RequireNone
	default:
		return kafka.RequireOne
	}
}
